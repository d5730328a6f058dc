// Package debugview hält die zuletzt annotierten Erkennungsbilder im Speicher
// und stellt sie über die API bereit.
package debugview

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Image ist ein Debug-Bild mit eingezeichneten Gesichtern
type Image struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Faces     int       `json:"faces"`
	Data      []byte    `json:"-"`
}

// Store speichert die letzten Debug-Bilder
type Store struct {
	images    map[string]*Image
	order     []*Image // älteste zuerst
	maxImages int
	mutex     sync.RWMutex
}

// NewStore erstellt einen neuen Debug-Speicher
func NewStore(maxImages int) *Store {
	if maxImages <= 0 {
		maxImages = 20
	}
	return &Store{
		images:    make(map[string]*Image),
		order:     make([]*Image, 0, maxImages),
		maxImages: maxImages,
	}
}

// Add legt ein JPEG ab und gibt dessen ID zurück. Bei vollem Speicher fällt
// das älteste Bild heraus.
func (s *Store) Add(data []byte, faces int) string {
	img := &Image{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Faces:     faces,
		Data:      data,
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.images[img.ID] = img
	s.order = append(s.order, img)
	if len(s.order) > s.maxImages {
		oldest := s.order[0]
		delete(s.images, oldest.ID)
		s.order = s.order[1:]
	}

	log.Debugf("Debug image %s added with %d face(s)", img.ID, faces)
	return img.ID
}

// Latest gibt die neuesten count Bilder zurück, das neueste zuerst
func (s *Store) Latest(count int) []*Image {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if count <= 0 || count > len(s.order) {
		count = len(s.order)
	}
	result := make([]*Image, 0, count)
	for i := len(s.order) - 1; i >= len(s.order)-count; i-- {
		result = append(result, s.order[i])
	}
	return result
}

// Get gibt ein Bild anhand seiner ID zurück oder nil
func (s *Store) Get(id string) *Image {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.images[id]
}

// Len gibt die Anzahl gespeicherter Bilder zurück
func (s *Store) Len() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.order)
}

// RegisterRoutes registriert die Debug-Endpunkte unter group
func (s *Store) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/debug/opencv", s.handleLatest)
	group.GET("/debug/opencv/:id", s.handleImage)
}

func (s *Store) handleLatest(c *gin.Context) {
	count, err := strconv.Atoi(c.DefaultQuery("count", "10"))
	if err != nil {
		count = 10
	}

	type imageMetadata struct {
		*Image
		URL string `json:"url"`
	}

	images := s.Latest(count)
	metadata := make([]imageMetadata, len(images))
	for i, img := range images {
		metadata[i] = imageMetadata{Image: img, URL: c.Request.URL.Path + "/" + img.ID}
	}

	c.JSON(http.StatusOK, gin.H{
		"count":  len(metadata),
		"images": metadata,
	})
}

func (s *Store) handleImage(c *gin.Context) {
	img := s.Get(c.Param("id"))
	if img == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "debug image not found", "id": c.Param("id")})
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/jpeg", img.Data)
}
