package terminal

import "errors"

var (
	// ErrInvalidSessionID is returned when a session id is empty or blank.
	ErrInvalidSessionID = errors.New("session id is required")

	// ErrSessionNotFound is returned for operations on an unknown session id.
	ErrSessionNotFound = errors.New("PTY session not found")

	// ErrSessionLimit is returned when the configured session limit is reached.
	ErrSessionLimit = errors.New("maximum sessions reached")

	// ErrShuttingDown is returned by Start once the manager is closed.
	ErrShuttingDown = errors.New("terminal host is shutting down")

	ErrPTYAllocation = errors.New("unable to allocate PTY")
	ErrSpawn         = errors.New("unable to spawn shell")
	ErrWrite         = errors.New("failed to write PTY input")
	ErrResize        = errors.New("failed to resize PTY")
)
