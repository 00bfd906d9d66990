package terminal

// Event names pushed to the UI layer.
const (
	EventData = "terminal:pty-data"
	EventExit = "terminal:pty-exit"
)

// DataEvent carries a chunk of PTY output decoded as text.
type DataEvent struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

// ExitEvent marks the end of a session. ExitCode is -1 when the shell was
// killed or its status is unknown.
type ExitEvent struct {
	SessionID string `json:"session_id"`
	ExitCode  int    `json:"exit_code"`
}

// Emitter delivers session events to the UI layer. Implementations must be
// safe for concurrent use; each output pump emits from its own goroutine.
type Emitter interface {
	EmitData(DataEvent)
	EmitExit(ExitEvent)
}

// Journal records session lifetimes. Errors are logged, never fatal.
type Journal interface {
	SessionStarted(key string, info SessionInfo) error
	SessionEnded(key string, exitCode int, reason string) error
}

type nopEmitter struct{}

func (nopEmitter) EmitData(DataEvent) {}
func (nopEmitter) EmitExit(ExitEvent) {}
