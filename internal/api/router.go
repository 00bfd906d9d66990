package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebula/termhost/internal/config"
	"github.com/nebula/termhost/internal/storage"
	"github.com/nebula/termhost/internal/terminal"
	"github.com/nebula/termhost/internal/websocket"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// Router holds all route handlers and dependencies
type Router struct {
	engine          *gin.Engine
	config          *config.Manager
	terminalHandler *TerminalHandler
	systemHandler   *SystemHandler
	hub             *websocket.Hub
}

// NewRouter creates a new router. The hub receives terminal commands from
// websocket clients; journal may be nil.
func NewRouter(
	cfg *config.Manager,
	terminalManager *terminal.Manager,
	hub *websocket.Hub,
	journal *storage.Journal,
) *Router {
	if cfg.Get().Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())
	engine.Use(loggerMiddleware())

	r := &Router{
		engine:          engine,
		config:          cfg,
		hub:             hub,
		terminalHandler: NewTerminalHandler(terminalManager, journal),
		systemHandler:   NewSystemHandler(cfg),
	}
	hub.SetHandler(r.terminalHandler.HandleCommand)

	r.setupRoutes()
	return r
}

// setupRoutes configures all routes
func (r *Router) setupRoutes() {
	v1 := r.engine.Group("/api/v1")

	terminalGroup := v1.Group("/terminal")
	{
		terminalGroup.GET("/shells", r.terminalHandler.GetShells)
		terminalGroup.GET("/journal", r.terminalHandler.GetJournal)
		terminalGroup.GET("/sessions", r.terminalHandler.GetSessions)
		terminalGroup.POST("/sessions", r.terminalHandler.Start)
		terminalGroup.GET("/sessions/:id", r.terminalHandler.GetSession)
		terminalGroup.POST("/sessions/:id/write", r.terminalHandler.Write)
		terminalGroup.POST("/sessions/:id/resize", r.terminalHandler.Resize)
		terminalGroup.POST("/sessions/:id/stop", r.terminalHandler.Stop)
	}

	v1.GET("/config", r.systemHandler.GetConfig)
	v1.POST("/config/reload", r.systemHandler.ReloadConfig)

	r.engine.GET("/ws/events", r.handleEventsWebSocket)

	r.engine.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	r.engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}

// handleEventsWebSocket attaches a UI client to the session event stream
func (r *Router) handleEventsWebSocket(c *gin.Context) {
	r.hub.HandleWebSocket(c.Writer, c.Request, c.Query("client"))
}

// corsMiddleware returns CORS middleware
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// loggerMiddleware returns logging middleware
func loggerMiddleware() gin.HandlerFunc {
	return gin.Logger()
}

// Engine returns the Gin engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
