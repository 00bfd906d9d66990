package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/nebula/termhost/internal/config"
	"github.com/nebula/termhost/internal/storage"
	"github.com/nebula/termhost/internal/terminal"
	ws "github.com/nebula/termhost/internal/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// pipeAllocator opens in-memory PTYs whose shells run until killed.
type pipeAllocator struct {
	mu  sync.Mutex
	pid int
}

func (a *pipeAllocator) Open(rows, cols uint16) (terminal.Master, terminal.Slave, error) {
	r, w := io.Pipe()
	return &pipeMaster{r: r}, &pipeSlave{alloc: a, w: w}, nil
}

type pipeMaster struct {
	r     *io.PipeReader
	input bytes.Buffer
}

func (m *pipeMaster) Resize(rows, cols uint16) error      { return nil }
func (m *pipeMaster) CloneReader() (io.ReadCloser, error) { return m.r, nil }
func (m *pipeMaster) TakeWriter() (io.Writer, error)      { return &m.input, nil }
func (m *pipeMaster) Close() error                        { return nil }

type pipeSlave struct {
	alloc *pipeAllocator
	w     *io.PipeWriter
}

func (s *pipeSlave) Spawn(spec terminal.SpawnSpec) (terminal.Child, error) {
	s.alloc.mu.Lock()
	defer s.alloc.mu.Unlock()
	// Negative pids keep the detail handler away from real processes.
	s.alloc.pid--
	return &pipeChild{pid: s.alloc.pid, w: s.w, done: make(chan struct{})}, nil
}

func (s *pipeSlave) Close() error { return nil }

type pipeChild struct {
	pid  int
	w    *io.PipeWriter
	once sync.Once
	done chan struct{}
}

func (c *pipeChild) Pid() int { return c.pid }

func (c *pipeChild) Kill() error {
	c.once.Do(func() {
		close(c.done)
		c.w.Close()
	})
	return nil
}

func (c *pipeChild) Done() <-chan struct{} { return c.done }
func (c *pipeChild) ExitCode() int         { return -1 }

type testServer struct {
	router  *Router
	manager *terminal.Manager
	journal *storage.Journal
}

func newTestServer(t *testing.T, withStorage bool) *testServer {
	t.Helper()

	var store *storage.Storage
	var journal *storage.Journal
	if withStorage {
		var err error
		store, err = storage.New(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		journal = storage.NewJournal(store)
	}

	cfg, err := config.NewManager(filepath.Join(t.TempDir(), "absent.yaml"), store)
	require.NoError(t, err)

	hub := ws.NewHub(ws.Options{}, zap.NewNop())
	go hub.Run()
	t.Cleanup(hub.Stop)

	options := []terminal.Option{terminal.WithAllocator(&pipeAllocator{})}
	if journal != nil {
		options = append(options, terminal.WithJournal(journal))
	}
	manager := terminal.NewManager(hub, terminal.Options{}, options...)
	t.Cleanup(func() { manager.ShutdownAll() })

	return &testServer{
		router:  NewRouter(cfg, manager, hub, journal),
		manager: manager,
		journal: journal,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.Engine().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	return v
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, false)
	rec := s.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionLifecycle(t *testing.T) {
	s := newTestServer(t, true)
	dir := t.TempDir()

	rec := s.do(t, http.MethodPost, "/api/v1/terminal/sessions", terminal.StartRequest{
		SessionID: "s1", Cwd: dir, Cols: 80, Rows: 24,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	started := decode[terminal.StartResponse](t, rec)
	assert.Equal(t, "s1", started.SessionID)
	assert.Equal(t, dir, started.Cwd)
	assert.NotEmpty(t, started.Shell)

	rec = s.do(t, http.MethodPost, "/api/v1/terminal/sessions/s1/write", map[string]string{"data": "ls\n"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/terminal/sessions/s1/resize", map[string]int{"cols": 100, "rows": 30})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/terminal/sessions/s1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	detail := decode[terminal.SessionInfo](t, rec)
	assert.Equal(t, uint16(100), detail.Cols)
	assert.Equal(t, uint16(30), detail.Rows)

	rec = s.do(t, http.MethodGet, "/api/v1/terminal/sessions", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]terminal.SessionInfo](t, rec), 1)

	rec = s.do(t, http.MethodPost, "/api/v1/terminal/sessions/s1/stop", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[terminal.StopResponse](t, rec).Stopped)

	rec = s.do(t, http.MethodPost, "/api/v1/terminal/sessions/s1/stop", nil)
	assert.False(t, decode[terminal.StopResponse](t, rec).Stopped)

	rec = s.do(t, http.MethodGet, "/api/v1/terminal/journal", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	entries := decode[[]storage.TerminalSession](t, rec)
	require.Len(t, entries, 1)
	assert.Equal(t, "s1", entries[0].SessionID)
	assert.Equal(t, "stopped", entries[0].Reason)
}

func TestErrorStatuses(t *testing.T) {
	s := newTestServer(t, false)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"blank id", http.MethodPost, "/api/v1/terminal/sessions", map[string]string{"session_id": " "}, http.StatusBadRequest},
		{"malformed body", http.MethodPost, "/api/v1/terminal/sessions", "not an object", http.StatusBadRequest},
		{"write unknown", http.MethodPost, "/api/v1/terminal/sessions/nope/write", map[string]string{"data": "x"}, http.StatusNotFound},
		{"resize unknown", http.MethodPost, "/api/v1/terminal/sessions/nope/resize", map[string]int{"cols": 1, "rows": 1}, http.StatusNotFound},
		{"get unknown", http.MethodGet, "/api/v1/terminal/sessions/nope", nil, http.StatusNotFound},
		{"journal without storage", http.MethodGet, "/api/v1/terminal/journal", nil, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestSessionLimitStatus(t *testing.T) {
	s := newTestServer(t, false)
	s.manager.SetOptions(terminal.Options{MaxSessions: 1})

	rec := s.do(t, http.MethodPost, "/api/v1/terminal/sessions", map[string]string{"session_id": "a"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = s.do(t, http.MethodPost, "/api/v1/terminal/sessions", map[string]string{"session_id": "b"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestShellsAndConfig(t *testing.T) {
	s := newTestServer(t, false)

	rec := s.do(t, http.MethodGet, "/api/v1/terminal/shells", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	shells := decode[map[string]interface{}](t, rec)
	assert.NotEmpty(t, shells["default_shell"])

	rec = s.do(t, http.MethodGet, "/api/v1/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cfg := decode[config.Config](t, rec)
	assert.Equal(t, 8192, cfg.Terminal.ReadBufferSize)

	rec = s.do(t, http.MethodPost, "/api/v1/config/reload", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleCommand(t *testing.T) {
	s := newTestServer(t, false)
	h := s.router.terminalHandler

	msg := func(typ string, payload interface{}) ws.Message {
		raw, err := json.Marshal(payload)
		require.NoError(t, err)
		return ws.Message{Type: typ, ID: "1", Payload: raw}
	}

	result, err := h.HandleCommand(msg("start", terminal.StartRequest{SessionID: "s1"}))
	require.NoError(t, err)
	assert.Equal(t, "s1", result.(terminal.StartResponse).SessionID)

	_, err = h.HandleCommand(msg("write", writePayload{SessionID: "s1", Data: "pwd\n"}))
	assert.NoError(t, err)

	_, err = h.HandleCommand(msg("resize", resizePayload{SessionID: "s1", Cols: 90, Rows: 20}))
	assert.NoError(t, err)

	result, err = h.HandleCommand(ws.Message{Type: "list"})
	require.NoError(t, err)
	assert.Len(t, result.([]terminal.SessionInfo), 1)

	result, err = h.HandleCommand(msg("stop", stopPayload{SessionID: "s1"}))
	require.NoError(t, err)
	assert.True(t, result.(terminal.StopResponse).Stopped)

	_, err = h.HandleCommand(msg("write", writePayload{SessionID: "s1", Data: "x"}))
	assert.ErrorIs(t, err, terminal.ErrSessionNotFound)

	_, err = h.HandleCommand(ws.Message{Type: "start"})
	assert.ErrorContains(t, err, "payload required")

	_, err = h.HandleCommand(ws.Message{Type: "start", Payload: json.RawMessage(`[1]`)})
	assert.ErrorContains(t, err, "invalid payload")

	_, err = h.HandleCommand(ws.Message{Type: "reboot"})
	assert.ErrorContains(t, err, "unknown command")
}

func TestErrorStatusMapping(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, errorStatus(terminal.ErrInvalidSessionID))
	assert.Equal(t, http.StatusNotFound, errorStatus(terminal.ErrSessionNotFound))
	assert.Equal(t, http.StatusTooManyRequests, errorStatus(terminal.ErrSessionLimit))
	assert.Equal(t, http.StatusServiceUnavailable, errorStatus(terminal.ErrShuttingDown))
	assert.Equal(t, http.StatusInternalServerError, errorStatus(terminal.ErrSpawn))
}
