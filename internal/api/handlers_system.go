package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nebula/termhost/internal/config"
)

// SystemHandler handles system endpoints
type SystemHandler struct {
	configManager *config.Manager
}

// NewSystemHandler creates a new system handler
func NewSystemHandler(cfg *config.Manager) *SystemHandler {
	return &SystemHandler{configManager: cfg}
}

// GetConfig godoc
// @Summary Get current configuration
// @Description Returns the current host configuration
// @Tags system
// @Produce json
// @Success 200 {object} config.Config
// @Router /api/v1/config [get]
func (h *SystemHandler) GetConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.configManager.Get())
}

// ReloadConfig godoc
// @Summary Reload configuration
// @Description Reloads the configuration from file
// @Tags system
// @Produce json
// @Success 200 {object} map[string]string
// @Failure 500 {object} map[string]string
// @Router /api/v1/config/reload [post]
func (h *SystemHandler) ReloadConfig(c *gin.Context) {
	if err := h.configManager.Reload(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "configuration reloaded"})
}
