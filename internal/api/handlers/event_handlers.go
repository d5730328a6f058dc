package handlers

import (
	"context"
	"net/http"
	"strconv"

	"facewatch-go/internal/api/middleware"
	"facewatch-go/internal/core/models"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// EventStore liefert den Erkennungsverlauf
type EventStore interface {
	GetEvents(ctx context.Context, limit, offset int) ([]models.RecognitionEvent, int64, error)
	GetStatistics(ctx context.Context) (models.Statistics, error)
}

// EventHandler behandelt Anfragen zum Erkennungsverlauf
type EventHandler struct {
	store EventStore
}

// NewEventHandler erstellt einen neuen Event-Handler
func NewEventHandler(store EventStore) *EventHandler {
	return &EventHandler{store: store}
}

// RegisterRoutes registriert die Event-Routen
func (h *EventHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/events", h.ListEvents)
	router.GET("/stats", h.GetStatistics)
}

type eventResponse struct {
	models.RecognitionEvent
	StateLabel  string `json:"state_label"`
	ReasonLabel string `json:"reason_label,omitempty"`
}

// ListEvents gibt die letzten Ereignisse seitenweise zurück, das neueste zuerst
func (h *EventHandler) ListEvents(c *gin.Context) {
	limit := queryInt(c, "limit", 50, 1, 500)
	offset := queryInt(c, "offset", 0, 0, 1<<30)

	events, total, err := h.store.GetEvents(c.Request.Context(), limit, offset)
	if err != nil {
		log.Errorf("Failed to load events: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load events"})
		return
	}

	items := make([]eventResponse, 0, len(events))
	for _, e := range events {
		item := eventResponse{
			RecognitionEvent: e,
			StateLabel:       middleware.T(c, "state."+e.State, nil),
		}
		if e.Reason != "" {
			item.ReasonLabel = middleware.T(c, "reason."+e.Reason, nil)
		}
		items = append(items, item)
	}

	c.JSON(http.StatusOK, gin.H{
		"total":  total,
		"limit":  limit,
		"offset": offset,
		"events": items,
	})
}

// GetStatistics gibt die Statistik von Galerie und Verlauf zurück
func (h *EventHandler) GetStatistics(c *gin.Context) {
	stats, err := h.store.GetStatistics(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to load statistics: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load statistics"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

// queryInt liest einen Ganzzahl-Parameter und begrenzt ihn auf [min, max]
func queryInt(c *gin.Context, key string, def, min, max int) int {
	v, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
