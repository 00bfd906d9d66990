package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/nebula/termhost/internal/process"
	"github.com/nebula/termhost/internal/storage"
	"github.com/nebula/termhost/internal/terminal"
	ws "github.com/nebula/termhost/internal/websocket"
)

// TerminalHandler handles terminal endpoints
type TerminalHandler struct {
	manager *terminal.Manager
	journal *storage.Journal
}

// NewTerminalHandler creates a new terminal handler. journal may be nil.
func NewTerminalHandler(manager *terminal.Manager, journal *storage.Journal) *TerminalHandler {
	return &TerminalHandler{
		manager: manager,
		journal: journal,
	}
}

type writeRequest struct {
	Data string `json:"data"`
}

type resizeRequest struct {
	Cols uint16 `json:"cols"`
	Rows uint16 `json:"rows"`
}

// sessionInfo is the detail view of one session.
type sessionInfo struct {
	terminal.SessionInfo
	Process *process.Info `json:"process,omitempty"`
}

// errorStatus maps terminal errors to HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, terminal.ErrInvalidSessionID):
		return http.StatusBadRequest
	case errors.Is(err, terminal.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, terminal.ErrSessionLimit):
		return http.StatusTooManyRequests
	case errors.Is(err, terminal.ErrShuttingDown):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

// Start godoc
// @Summary Start a terminal session
// @Description Spawns the default shell attached to a new PTY. An existing session with the same id is replaced.
// @Tags terminal
// @Accept json
// @Produce json
// @Param request body terminal.StartRequest true "Session parameters"
// @Success 200 {object} terminal.StartResponse
// @Failure 400 {object} map[string]string
// @Failure 429 {object} map[string]string
// @Failure 503 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/terminal/sessions [post]
func (h *TerminalHandler) Start(c *gin.Context) {
	var req terminal.StartRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	resp, err := h.manager.Start(req)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Write godoc
// @Summary Write to a terminal session
// @Description Sends raw input to the session's shell
// @Tags terminal
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body writeRequest true "Input"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/terminal/sessions/{id}/write [post]
func (h *TerminalHandler) Write(c *gin.Context) {
	var req writeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.manager.Write(c.Param("id"), req.Data); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Resize godoc
// @Summary Resize a terminal session
// @Description Changes the PTY geometry. Zero dimensions are raised to 1.
// @Tags terminal
// @Accept json
// @Produce json
// @Param id path string true "Session ID"
// @Param request body resizeRequest true "Dimensions"
// @Success 200 {object} map[string]bool
// @Failure 404 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/terminal/sessions/{id}/resize [post]
func (h *TerminalHandler) Resize(c *gin.Context) {
	var req resizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request: " + err.Error()})
		return
	}

	if err := h.manager.Resize(c.Param("id"), req.Cols, req.Rows); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Stop godoc
// @Summary Stop a terminal session
// @Description Kills the session's shell. Unknown ids report stopped=false.
// @Tags terminal
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} terminal.StopResponse
// @Router /api/v1/terminal/sessions/{id}/stop [post]
func (h *TerminalHandler) Stop(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.Stop(c.Param("id")))
}

// GetSessions godoc
// @Summary Get active sessions
// @Description Returns all registered terminal sessions
// @Tags terminal
// @Produce json
// @Success 200 {array} terminal.SessionInfo
// @Router /api/v1/terminal/sessions [get]
func (h *TerminalHandler) GetSessions(c *gin.Context) {
	c.JSON(http.StatusOK, h.manager.List())
}

// GetSession godoc
// @Summary Get a session
// @Description Returns one session with a snapshot of its shell process
// @Tags terminal
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} sessionInfo
// @Failure 404 {object} map[string]string
// @Router /api/v1/terminal/sessions/{id} [get]
func (h *TerminalHandler) GetSession(c *gin.Context) {
	info, err := h.manager.Get(c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}

	resp := sessionInfo{SessionInfo: info}
	if info.PID > 0 {
		if proc, err := process.Inspect(int32(info.PID)); err == nil {
			resp.Process = &proc
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GetShells godoc
// @Summary Get available shells
// @Description Returns shells found on PATH and the one new sessions use
// @Tags terminal
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /api/v1/terminal/shells [get]
func (h *TerminalHandler) GetShells(c *gin.Context) {
	shell, _ := terminal.ResolveShell()
	c.JSON(http.StatusOK, gin.H{
		"shells":        terminal.AvailableShells(),
		"default_shell": shell,
	})
}

// GetJournal godoc
// @Summary Get session journal
// @Description Returns recent session lifetimes, newest first
// @Tags terminal
// @Produce json
// @Param limit query int false "Maximum entries" default(50)
// @Success 200 {array} storage.TerminalSession
// @Failure 503 {object} map[string]string
// @Router /api/v1/terminal/journal [get]
func (h *TerminalHandler) GetJournal(c *gin.Context) {
	if h.journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "storage not available"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = n
	}

	entries, err := h.journal.Recent(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, entries)
}

// Websocket payloads carry the session id that HTTP takes from the path.
type writePayload struct {
	SessionID string `json:"session_id"`
	Data      string `json:"data"`
}

type resizePayload struct {
	SessionID string `json:"session_id"`
	Cols      uint16 `json:"cols"`
	Rows      uint16 `json:"rows"`
}

type stopPayload struct {
	SessionID string `json:"session_id"`
}

// HandleCommand answers terminal commands sent over the event websocket.
func (h *TerminalHandler) HandleCommand(msg ws.Message) (interface{}, error) {
	switch msg.Type {
	case "start":
		var req terminal.StartRequest
		if err := decodePayload(msg, &req); err != nil {
			return nil, err
		}
		return h.manager.Start(req)

	case "write":
		var req writePayload
		if err := decodePayload(msg, &req); err != nil {
			return nil, err
		}
		if err := h.manager.Write(req.SessionID, req.Data); err != nil {
			return nil, err
		}
		return gin.H{"ok": true}, nil

	case "resize":
		var req resizePayload
		if err := decodePayload(msg, &req); err != nil {
			return nil, err
		}
		if err := h.manager.Resize(req.SessionID, req.Cols, req.Rows); err != nil {
			return nil, err
		}
		return gin.H{"ok": true}, nil

	case "stop":
		var req stopPayload
		if err := decodePayload(msg, &req); err != nil {
			return nil, err
		}
		return h.manager.Stop(req.SessionID), nil

	case "list":
		return h.manager.List(), nil

	default:
		return nil, fmt.Errorf("unknown command: %s", msg.Type)
	}
}

func decodePayload(msg ws.Message, v interface{}) error {
	if len(msg.Payload) == 0 {
		return fmt.Errorf("%s: payload required", msg.Type)
	}
	if err := json.Unmarshal(msg.Payload, v); err != nil {
		return fmt.Errorf("%s: invalid payload: %w", msg.Type, err)
	}
	return nil
}
