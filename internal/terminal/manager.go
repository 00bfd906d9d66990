package terminal

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/nebula/termhost/internal/process"
	"go.uber.org/zap"
)

const (
	defaultReadBufferSize = 8192
	reapTimeout           = 2 * time.Second
)

// Options tune session creation. They apply to sessions started after
// SetOptions; running sessions keep the values they were started with.
type Options struct {
	DefaultShell   string
	ReadBufferSize int
	MaxSessions    int
	Term           string
	KillTree       bool
}

// StartRequest is the input of Start.
type StartRequest struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd,omitempty"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

// StartResponse reports what Start actually used.
type StartResponse struct {
	SessionID string `json:"session_id"`
	Cwd       string `json:"cwd"`
	Shell     string `json:"shell"`
}

// StopResponse reports whether Stop found a session.
type StopResponse struct {
	Stopped bool `json:"stopped"`
}

// Manager creates, multiplexes and tears down PTY sessions.
type Manager struct {
	registry  *Registry
	allocator Allocator
	emitter   Emitter
	journal   Journal
	logger    *zap.Logger
	killTree  func(pid int) error

	optsMu sync.RWMutex
	opts   Options

	closed atomic.Bool
}

// Option configures a Manager.
type Option func(*Manager)

// WithAllocator replaces the native PTY allocator.
func WithAllocator(a Allocator) Option {
	return func(m *Manager) { m.allocator = a }
}

// WithJournal records session lifetimes to j.
func WithJournal(j Journal) Option {
	return func(m *Manager) { m.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithTreeKiller replaces the descendant killer used when KillTree is set.
func WithTreeKiller(fn func(pid int) error) Option {
	return func(m *Manager) { m.killTree = fn }
}

// NewManager creates a session manager that emits events to emitter.
func NewManager(emitter Emitter, opts Options, options ...Option) *Manager {
	if emitter == nil {
		emitter = nopEmitter{}
	}

	m := &Manager{
		registry:  NewRegistry(),
		allocator: NativeAllocator(),
		emitter:   emitter,
		logger:    zap.NewNop(),
		killTree: func(pid int) error {
			return process.KillDescendants(int32(pid))
		},
		opts: normalizeOptions(opts),
	}
	for _, o := range options {
		o(m)
	}
	return m
}

func normalizeOptions(opts Options) Options {
	if opts.ReadBufferSize <= 0 {
		opts.ReadBufferSize = defaultReadBufferSize
	}
	if opts.MaxSessions < 0 {
		opts.MaxSessions = 0
	}
	opts.DefaultShell = strings.TrimSpace(opts.DefaultShell)
	return opts
}

// SetOptions replaces the options used by subsequent starts.
func (m *Manager) SetOptions(opts Options) {
	m.optsMu.Lock()
	m.opts = normalizeOptions(opts)
	m.optsMu.Unlock()
}

func (m *Manager) options() Options {
	m.optsMu.RLock()
	defer m.optsMu.RUnlock()
	return m.opts
}

// Start launches a shell in a new PTY. A running session with the same id is
// terminated, and its exit emitted, before the new one is installed.
func (m *Manager) Start(req StartRequest) (StartResponse, error) {
	id := strings.TrimSpace(req.SessionID)
	if id == "" {
		return StartResponse{}, ErrInvalidSessionID
	}
	if m.closed.Load() {
		return StartResponse{}, ErrShuttingDown
	}

	if old := m.registry.Remove(id); old != nil {
		m.evict(old, "replaced")
	}

	opts := m.options()
	if opts.MaxSessions > 0 && m.registry.Len() >= opts.MaxSessions {
		return StartResponse{}, fmt.Errorf("%w (%d)", ErrSessionLimit, opts.MaxSessions)
	}

	cwd := ResolveCwd(req.Cwd)
	shell, args := ResolveShell()
	if opts.DefaultShell != "" {
		shell, args = opts.DefaultShell, nil
	}
	rows, cols := clampSize(req.Rows, req.Cols)

	master, slave, err := m.allocator.Open(rows, cols)
	if err != nil {
		return StartResponse{}, fmt.Errorf("%w: %w", ErrPTYAllocation, err)
	}

	child, err := slave.Spawn(SpawnSpec{
		Path: shell,
		Args: args,
		Dir:  cwd,
		Env:  childEnv(opts.Term),
	})
	slave.Close()
	if err != nil {
		master.Close()
		return StartResponse{}, fmt.Errorf("%w %s: %w", ErrSpawn, shell, err)
	}

	reader, err := master.CloneReader()
	if err != nil {
		child.Kill()
		master.Close()
		return StartResponse{}, fmt.Errorf("%w: clone reader: %w", ErrPTYAllocation, err)
	}

	writer, err := master.TakeWriter()
	if err != nil {
		reader.Close()
		child.Kill()
		master.Close()
		return StartResponse{}, fmt.Errorf("%w: open writer: %w", ErrPTYAllocation, err)
	}

	sess := &Session{
		ID:         id,
		Shell:      shell,
		Cwd:        cwd,
		StartedAt:  time.Now(),
		master:     master,
		writer:     writer,
		child:      child,
		journalKey: uuid.NewString(),
		cols:       cols,
		rows:       rows,
	}

	if m.journal != nil {
		if err := m.journal.SessionStarted(sess.journalKey, sess.Info()); err != nil {
			m.logger.Warn("journal start failed", zap.String("session_id", id), zap.Error(err))
		}
	}

	go m.pump(sess, reader, opts.ReadBufferSize)

	// A concurrent Start for the same id may have won the race since the
	// eviction above; keep at most one live shell per id.
	if displaced := m.registry.Insert(sess); displaced != nil {
		m.evict(displaced, "replaced")
	}

	// Close may have drained the registry while this shell was spawning.
	if m.closed.Load() {
		if m.registry.RemoveSession(sess) {
			m.evict(sess, "shutdown")
		}
		return StartResponse{}, ErrShuttingDown
	}

	m.logger.Info("terminal session started",
		zap.String("session_id", id),
		zap.String("shell", shell),
		zap.String("cwd", cwd),
		zap.Int("pid", child.Pid()),
		zap.Uint16("cols", cols),
		zap.Uint16("rows", rows),
	)

	return StartResponse{SessionID: id, Cwd: cwd, Shell: shell}, nil
}

func childEnv(term string) []string {
	env := os.Environ()
	if term != "" {
		env = append(env, "TERM="+term)
	}
	return env
}

// Write sends data to the session's shell.
func (m *Manager) Write(sessionID, data string) error {
	sessionID = strings.TrimSpace(sessionID)
	sess := m.registry.Get(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	if err := sess.write([]byte(data)); err != nil {
		return fmt.Errorf("%w: %w", ErrWrite, err)
	}
	return nil
}

// Resize changes the session's terminal geometry.
func (m *Manager) Resize(sessionID string, cols, rows uint16) error {
	sessionID = strings.TrimSpace(sessionID)
	sess := m.registry.Get(sessionID)
	if sess == nil {
		return ErrSessionNotFound
	}
	rows, cols = clampSize(rows, cols)
	if err := sess.resize(rows, cols); err != nil {
		return fmt.Errorf("%w: %w", ErrResize, err)
	}
	return nil
}

// Stop terminates the session if it exists. Unknown ids are not an error.
func (m *Manager) Stop(sessionID string) StopResponse {
	sessionID = strings.TrimSpace(sessionID)
	sess := m.registry.Remove(sessionID)
	if sess == nil {
		return StopResponse{Stopped: false}
	}
	m.evict(sess, "stopped")
	return StopResponse{Stopped: true}
}

// ShutdownAll terminates every session. It does not wait for output pumps.
func (m *Manager) ShutdownAll() int {
	sessions := m.registry.Drain()
	for _, sess := range sessions {
		m.evict(sess, "shutdown")
	}
	if len(sessions) > 0 {
		m.logger.Info("terminal sessions shut down", zap.Int("count", len(sessions)))
	}
	return len(sessions)
}

// Close refuses further starts and terminates every session. It returns the
// number of sessions terminated.
func (m *Manager) Close() int {
	m.closed.Store(true)
	return m.ShutdownAll()
}

// Get returns a snapshot of one session.
func (m *Manager) Get(sessionID string) (SessionInfo, error) {
	sessionID = strings.TrimSpace(sessionID)
	sess := m.registry.Get(sessionID)
	if sess == nil {
		return SessionInfo{}, ErrSessionNotFound
	}
	return sess.Info(), nil
}

// List returns snapshots of all sessions ordered by id.
func (m *Manager) List() []SessionInfo {
	sessions := m.registry.List()
	infos := make([]SessionInfo, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	return infos
}

// evict terminates a session already removed from the registry. Termination
// failures are logged and ignored.
func (m *Manager) evict(sess *Session, reason string) {
	var killTree func(int) error
	if m.options().KillTree {
		killTree = m.killTree
	}
	if err := sess.terminate(killTree); err != nil {
		m.logger.Warn("terminal session termination incomplete",
			zap.String("session_id", sess.ID),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}
	m.finish(sess, -1, reason)
}

// finish emits the exit event for sess exactly once, whichever of the
// explicit stop paths and the output pump gets there first.
func (m *Manager) finish(sess *Session, exitCode int, reason string) {
	sess.exitOnce.Do(func() {
		sess.ended.Store(true)
		m.emitter.EmitExit(ExitEvent{SessionID: sess.ID, ExitCode: exitCode})

		if m.journal != nil {
			if err := m.journal.SessionEnded(sess.journalKey, exitCode, reason); err != nil {
				m.logger.Warn("journal end failed", zap.String("session_id", sess.ID), zap.Error(err))
			}
		}

		m.logger.Info("terminal session ended",
			zap.String("session_id", sess.ID),
			zap.String("reason", reason),
			zap.Int("exit_code", exitCode),
		)
	})
}
