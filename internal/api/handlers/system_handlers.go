package handlers

import (
	"net/http"
	"time"

	"facewatch-go/internal/utils"
	"facewatch-go/internal/util/timezone"

	"github.com/gin-gonic/gin"
)

// SystemHandler liefert Status- und Systeminformationen
type SystemHandler struct {
	pool    utils.PoolStats
	session FrameSession
	started time.Time
}

// NewSystemHandler erstellt einen neuen System-Handler. pool darf nil sein.
func NewSystemHandler(pool utils.PoolStats, s FrameSession) *SystemHandler {
	return &SystemHandler{pool: pool, session: s, started: time.Now()}
}

// RegisterRoutes registriert die System-Routen
func (h *SystemHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/system", h.GetSystemStats)
	router.GET("/health", h.Health)
}

// GetSystemStats gibt CPU-, Speicher- und Worker-Pool-Statistiken zurück
func (h *SystemHandler) GetSystemStats(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"stats":  utils.GetSystemStats(h.pool),
		"uptime": time.Since(h.started).Round(time.Second).String(),
		"time":   timezone.ISO8601(timezone.Now()),
	})
}

// Health meldet, ob die Analysesitzung läuft
func (h *SystemHandler) Health(c *gin.Context) {
	snap := h.session.Snapshot()
	status := http.StatusOK
	if !snap.Running {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"running": snap.Running,
		"state":   snap.State,
	})
}
