package opencv

import (
	"fmt"
	"sync"

	"facewatch-go/config"
	"facewatch-go/internal/integrations/opencv/debugview"

	log "github.com/sirupsen/logrus"
)

// Service bündelt Detektor und Debug-Speicher der OpenCV-Integration
type Service struct {
	Detector *FaceDetector
	Debug    *debugview.Store
	mutex    sync.Mutex
}

// NewService erstellt einen neuen OpenCV-Service
func NewService(cfg config.OpenCVConfig) (*Service, error) {
	debug := debugview.NewStore(30) // speichere bis zu 30 Debug-Bilder

	detector, err := NewFaceDetector(cfg, debug)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OpenCV service: %w", err)
	}

	return &Service{Detector: detector, Debug: debug}, nil
}

// Close gibt die Ressourcen des OpenCV-Service frei
func (s *Service) Close() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.Detector == nil {
		return nil
	}
	if err := s.Detector.Close(); err != nil {
		return err
	}
	log.Info("OpenCV service closed")
	return nil
}
