package debugview

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestStoreEvictsOldest(t *testing.T) {
	s := NewStore(3)
	var ids []string
	for i := 0; i < 5; i++ {
		ids = append(ids, s.Add([]byte{byte(i)}, i))
	}

	if s.Len() != 3 {
		t.Fatalf("Len = %d, want 3", s.Len())
	}
	if s.Get(ids[0]) != nil || s.Get(ids[1]) != nil {
		t.Error("oldest images should have been evicted")
	}

	latest := s.Latest(2)
	if len(latest) != 2 {
		t.Fatalf("Latest(2) returned %d images", len(latest))
	}
	if latest[0].ID != ids[4] || latest[1].ID != ids[3] {
		t.Errorf("Latest order = %s, %s; want newest first", latest[0].ID, latest[1].ID)
	}
	if got := len(s.Latest(0)); got != 3 {
		t.Errorf("Latest(0) returned %d images, want all 3", got)
	}
}

func TestRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewStore(5)
	id := s.Add([]byte{0xFF, 0xD8, 0xFF}, 2)

	router := gin.New()
	s.RegisterRoutes(router.Group("/api"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/debug/opencv?count=5", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var body struct {
		Count  int `json:"count"`
		Images []struct {
			ID    string `json:"id"`
			Faces int    `json:"faces"`
			URL   string `json:"url"`
		} `json:"images"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Images[0].ID != id || body.Images[0].Faces != 2 {
		t.Errorf("unexpected listing: %+v", body)
	}
	if body.Images[0].URL != "/api/debug/opencv/"+id {
		t.Errorf("URL = %q", body.Images[0].URL)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/debug/opencv/"+id, nil))
	if w.Code != http.StatusOK || w.Header().Get("Content-Type") != "image/jpeg" || w.Body.Len() != 3 {
		t.Errorf("image response: status %d, type %q, len %d", w.Code, w.Header().Get("Content-Type"), w.Body.Len())
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/debug/opencv/unknown", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown id status = %d, want 404", w.Code)
	}
}
