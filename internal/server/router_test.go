package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/api/middleware"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/models"
	"facewatch-go/internal/core/processor"
	"facewatch-go/internal/core/session"
	"facewatch-go/internal/integrations/opencv/debugview"
	"facewatch-go/internal/server/sse"

	"github.com/gin-gonic/gin"
)

type stubGallery struct{}

func (stubGallery) GetAll(ctx context.Context) ([]gallery.FaceRecord, error) { return nil, nil }
func (stubGallery) Remove(ctx context.Context, id int64) error             { return nil }
func (stubGallery) Clear()                                                  {}
func (stubGallery) Cached() int                                             { return 0 }

type stubEnroller struct{}

func (stubEnroller) Enroll(ctx context.Context, name, path string) (int64, error) { return 1, nil }

type stubSession struct{}

func (stubSession) Submit(f session.Frame) bool { f.Close(); return false }
func (stubSession) Snapshot() session.Snapshot {
	return session.Snapshot{ID: "door", State: session.Idle, Running: true}
}

type stubProcessor struct{}

func (stubProcessor) ProcessImage(ctx context.Context, f session.Frame, o processor.ProcessingOptions) (*processor.ImageResult, error) {
	return &processor.ImageResult{}, nil
}

type stubEvents struct{}

func (stubEvents) GetEvents(ctx context.Context, limit, offset int) ([]models.RecognitionEvent, int64, error) {
	return nil, 0, nil
}
func (stubEvents) GetStatistics(ctx context.Context) (models.Statistics, error) {
	return models.Statistics{}, nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tr, err := middleware.NewTranslator("en")
	if err != nil {
		t.Fatal(err)
	}
	cfg := &config.Config{}
	cfg.I18n.SessionSecret = "secret"
	return NewRouter(cfg, Deps{
		Gallery:    stubGallery{},
		Enroller:   stubEnroller{},
		Session:    stubSession{},
		Processor:  stubProcessor{},
		Events:     stubEvents{},
		Hub:        sse.NewHub(),
		Debug:      debugview.NewStore(5),
		Translator: tr,
	})
}

func TestRoutesRegistered(t *testing.T) {
	router := newTestRouter(t)

	paths := []string{"/api/faces", "/api/session", "/api/events", "/api/stats", "/api/health", "/api/debug/opencv"}
	for _, p := range paths {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, p, nil))
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d", p, w.Code)
		}
	}

	found := false
	for _, r := range router.Routes() {
		if r.Method == http.MethodGet && r.Path == "/events" {
			found = true
		}
	}
	if !found {
		t.Error("SSE route /events not registered")
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/faces", nil)
	req.Header.Set("Origin", "http://example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("preflight status = %d", w.Code)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
}

func TestServeShutsDown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Serve(ctx, "127.0.0.1:0", http.NotFoundHandler()) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve returned %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
