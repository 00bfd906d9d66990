package terminal

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

// Session is one live shell bound to a PTY. The writer, child and master are
// owned by the session; the output pump holds its own cloned reader.
type Session struct {
	ID        string
	Shell     string
	Cwd       string
	StartedAt time.Time

	master Master
	writer io.Writer
	child  Child

	// journalKey identifies this lifetime in the journal; ids may be reused.
	journalKey string

	mu   sync.Mutex
	cols uint16
	rows uint16

	exitOnce sync.Once
	// ended is set just before the exit event; the pump drops output after it.
	ended atomic.Bool
}

// SessionInfo is the public representation of a session.
type SessionInfo struct {
	SessionID string    `json:"session_id"`
	Shell     string    `json:"shell"`
	Cwd       string    `json:"cwd"`
	Cols      uint16    `json:"cols"`
	Rows      uint16    `json:"rows"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	s.mu.Lock()
	cols, rows := s.cols, s.rows
	s.mu.Unlock()

	return SessionInfo{
		SessionID: s.ID,
		Shell:     s.Shell,
		Cwd:       s.Cwd,
		Cols:      cols,
		Rows:      rows,
		PID:       s.child.Pid(),
		StartedAt: s.StartedAt,
	}
}

func (s *Session) write(data []byte) error {
	if _, err := s.writer.Write(data); err != nil {
		return err
	}
	if f, ok := s.writer.(interface{ Flush() error }); ok {
		return f.Flush()
	}
	return nil
}

func (s *Session) resize(rows, cols uint16) error {
	if err := s.master.Resize(rows, cols); err != nil {
		return err
	}
	s.mu.Lock()
	s.rows, s.cols = rows, cols
	s.mu.Unlock()
	return nil
}

// terminate kills the child and releases the master. Every step runs even
// when an earlier one fails; the joined error is for logging only.
func (s *Session) terminate(killTree func(pid int) error) error {
	var errs []error
	if killTree != nil {
		if pid := s.child.Pid(); pid > 0 {
			errs = append(errs, killTree(pid))
		}
	}
	errs = append(errs, s.child.Kill())
	errs = append(errs, s.master.Close())
	return errors.Join(errs...)
}

// waitExit returns the exit code once the child is reaped, or -1 after timeout.
func (s *Session) waitExit(timeout time.Duration) int {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-s.child.Done():
		return s.child.ExitCode()
	case <-timer.C:
		return -1
	}
}
