package terminal

import (
	"errors"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// pump forwards PTY output as data events until EOF or a read error, then
// emits the session's exit. It never touches the registry; a dead session
// stays registered until the next Stop or colliding Start.
func (m *Manager) pump(sess *Session, reader io.ReadCloser, bufSize int) {
	defer reader.Close()

	// The decoder replaces invalid sequences with U+FFFD and holds back a
	// multi-byte rune split across reads.
	decoded := transform.NewReader(reader, unicode.UTF8.NewDecoder())
	buf := make([]byte, bufSize)

	for {
		n, err := decoded.Read(buf)
		// Output still buffered when a session is stopped or replaced is
		// drained but not emitted; its id may already belong to a new session.
		if n > 0 && !sess.ended.Load() {
			m.emitter.EmitData(DataEvent{SessionID: sess.ID, Data: string(buf[:n])})
		}
		if err != nil {
			if !isEndOfStream(err) {
				m.logger.Debug("pty read ended", zap.String("session_id", sess.ID), zap.Error(err))
			}
			break
		}
		if n == 0 {
			break
		}
	}

	m.finish(sess, sess.waitExit(reapTimeout), "exited")
}

// isEndOfStream reports errors that a PTY returns when the child side closes.
// Linux reports EIO rather than EOF once the last slave descriptor is gone.
func isEndOfStream(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, os.ErrClosed) || isPTYHangup(err)
}
