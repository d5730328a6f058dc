package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"facewatch-go/config"
	"facewatch-go/internal/api/middleware"
	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/processor"
	"facewatch-go/internal/core/session"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// FaceGallery ist die Galerie aus Sicht der API
type FaceGallery interface {
	GetAll(ctx context.Context) ([]gallery.FaceRecord, error)
	Remove(ctx context.Context, id int64) error
	Clear()
	Cached() int
}

// Enroller lernt ein gespeichertes Referenzbild ein
type Enroller interface {
	Enroll(ctx context.Context, name, imagePath string) (int64, error)
}

// FrameSession nimmt Frames entgegen und meldet ihren Zustand
type FrameSession interface {
	Submit(f session.Frame) bool
	Snapshot() session.Snapshot
}

// StillProcessor wertet Einzelbilder aus
type StillProcessor interface {
	ProcessImage(ctx context.Context, f session.Frame, options processor.ProcessingOptions) (*processor.ImageResult, error)
}

// APIHandler behandelt Galerie-, Frame- und Erkennungsanfragen
type APIHandler struct {
	cfg       *config.Config
	gallery   FaceGallery
	enroller  Enroller
	session   FrameSession
	processor StillProcessor
	limiter   *middleware.RateLimiter
}

// NewAPIHandler erstellt einen neuen API-Handler
func NewAPIHandler(cfg *config.Config, g FaceGallery, enroller Enroller, s FrameSession, p StillProcessor) *APIHandler {
	return &APIHandler{
		cfg:       cfg,
		gallery:   g,
		enroller:  enroller,
		session:   s,
		processor: p,
		limiter:   middleware.NewRateLimiter(cfg.API.FrameRateLimit, cfg.API.FrameBurst),
	}
}

// RegisterRoutes registriert alle API-Routen
func (h *APIHandler) RegisterRoutes(router *gin.RouterGroup) {
	// Galerie
	router.GET("/faces", h.ListFaces)
	router.POST("/faces", h.CreateFace)
	router.GET("/faces/:id/image", h.GetFaceImage)
	router.DELETE("/faces/:id", h.DeleteFace)
	router.POST("/faces/cache/clear", h.ClearCache)

	// Analyse
	router.POST("/frames", middleware.RateLimit(h.limiter), h.SubmitFrame)
	router.GET("/session", h.GetSession)
	router.POST("/recognize", h.Recognize)
}

type faceResponse struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	ImageURL string `json:"image_url"`
}

func toFaceResponse(r gallery.FaceRecord) faceResponse {
	return faceResponse{
		ID:       r.ID,
		Name:     r.Name,
		ImageURL: fmt.Sprintf("/api/faces/%d/image", r.ID),
	}
}

// ListFaces gibt alle gespeicherten Gesichter zurück
func (h *APIHandler) ListFaces(c *gin.Context) {
	records, err := h.gallery.GetAll(c.Request.Context())
	if err != nil {
		log.Errorf("Failed to list faces: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load faces"})
		return
	}

	faces := make([]faceResponse, 0, len(records))
	for _, r := range records {
		faces = append(faces, toFaceResponse(r))
	}
	c.JSON(http.StatusOK, gin.H{
		"count":  len(faces),
		"cached": h.gallery.Cached(),
		"faces":  faces,
	})
}

// CreateFace speichert ein hochgeladenes Referenzbild und lernt es ein
func (h *APIHandler) CreateFace(c *gin.Context) {
	data, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := strings.TrimSpace(c.PostForm("name"))
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name is required"})
		return
	}

	img, _, err := frame.Decode(data)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "unsupported or corrupt image"})
		return
	}

	path, err := frame.SaveReference(h.cfg.Server.ImageDir, img)
	if err != nil {
		log.Errorf("Failed to save reference image: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to save image"})
		return
	}

	id, err := h.enroller.Enroll(c.Request.Context(), name, path)
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			log.Warnf("Failed to remove unused reference image %s: %v", path, rmErr)
		}
		log.WithField("name", name).Errorf("Enrollment failed: %v", err)
		c.JSON(enrollStatus(err), gin.H{"error": err.Error()})
		return
	}

	log.WithFields(log.Fields{"id": id, "name": name}).Info("Face enrolled")
	c.JSON(http.StatusCreated, toFaceResponse(gallery.FaceRecord{ID: id, Name: name, ImagePath: path}))
}

func enrollStatus(err error) int {
	switch {
	case errors.Is(err, gallery.ErrInvalidName):
		return http.StatusBadRequest
	case errors.Is(err, gallery.ErrImageLoad):
		return http.StatusUnprocessableEntity
	case errors.Is(err, processor.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GetFaceImage liefert das Referenzbild eines Gesichts
func (h *APIHandler) GetFaceImage(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	records, err := h.gallery.GetAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load faces"})
		return
	}
	for _, r := range records {
		if r.ID == id {
			c.File(r.ImagePath)
			return
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "face not found"})
}

// DeleteFace entfernt ein Gesicht samt Referenzbild
func (h *APIHandler) DeleteFace(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	if err := h.gallery.Remove(c.Request.Context(), id); err != nil {
		log.Errorf("Failed to delete face %d: %v", id, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete face"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "face deleted", "id": id})
}

// ClearCache leert den Embedding-Cache der Galerie
func (h *APIHandler) ClearCache(c *gin.Context) {
	h.gallery.Clear()
	c.JSON(http.StatusOK, gin.H{"message": "cache cleared"})
}

// SubmitFrame reicht einen Frame an die Analysesitzung weiter. Ein verworfener
// Frame ist kein Fehler.
func (h *APIHandler) SubmitFrame(c *gin.Context) {
	data, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rotation := h.cfg.Camera.Rotation
	if r := c.Query("rotation"); r != "" {
		if rotation, err = strconv.Atoi(r); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid rotation"})
			return
		}
	}

	f, err := frame.NewEncoded(data, rotation)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	accepted := h.session.Submit(f)
	status := http.StatusOK
	if accepted {
		status = http.StatusAccepted
	}
	c.JSON(status, gin.H{
		"accepted": accepted,
		"session":  h.session.Snapshot().ID,
	})
}

// GetSession gibt den Zustand der Analysesitzung zurück
func (h *APIHandler) GetSession(c *gin.Context) {
	snap := h.session.Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"session":     snap,
		"state_label": middleware.T(c, "state."+snap.State.String(), nil),
	})
}

// Recognize wertet ein hochgeladenes Standbild ohne Sitzung aus
func (h *APIHandler) Recognize(c *gin.Context) {
	data, err := h.readUpload(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	f, err := frame.NewEncoded(data, 0)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	defer f.Close()

	opts := processor.ProcessingOptions{
		DetectFaces: c.DefaultQuery("detect", "true") != "false",
	}
	if m, err := strconv.Atoi(c.Query("max_faces")); err == nil && m > 0 {
		opts.MaxFaces = m
	}

	result, err := h.processor.ProcessImage(c.Request.Context(), f, opts)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, session.ErrDetection) {
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	reason := ""
	switch {
	case len(result.Faces) == 0:
		reason = session.ReasonNoFace
	case result.GallerySize == 0:
		reason = session.ReasonNoStoredFaces
	}
	response := gin.H{"result": result}
	if reason != "" {
		response["reason"] = reason
		response["reason_label"] = middleware.T(c, "reason."+reason, nil)
	}
	c.JSON(http.StatusOK, response)
}

// readUpload liest das Bild aus dem Formularfeld "file" oder dem Rohinhalt der Anfrage
func (h *APIHandler) readUpload(c *gin.Context) ([]byte, error) {
	maxBytes := int64(h.cfg.API.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 10 << 20
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)

	var r io.Reader = c.Request.Body
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, _, err := c.Request.FormFile("file")
		if err != nil {
			return nil, fmt.Errorf("no file uploaded or invalid form data")
		}
		defer file.Close()
		r = file
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("empty upload")
	}
	return data, nil
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}
