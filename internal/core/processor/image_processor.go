package processor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"os"

	"facewatch-go/internal/core/frame"
	"facewatch-go/internal/core/session"

	log "github.com/sirupsen/logrus"
)

// ProcessingOptions enthält Optionen für die Bildverarbeitung
type ProcessingOptions struct {
	// DetectFaces sucht Gesichter mit dem Detektor; sonst gilt das ganze Bild als Gesicht
	DetectFaces bool
	// MaxFaces begrenzt die Anzahl ausgewerteter Gesichter (0 = alle)
	MaxFaces int
}

// FaceResult ist das Ergebnis für ein Gesicht in einem Standbild
type FaceResult struct {
	Region  image.Rectangle `json:"-"`
	Box     *session.Box    `json:"region"`
	Name    string          `json:"name,omitempty"`
	Score   float64         `json:"score"`
	Matched bool            `json:"matched"`
}

// ImageResult fasst die Auswertung eines Standbilds zusammen
type ImageResult struct {
	ContentHash string       `json:"content_hash,omitempty"`
	Faces       []FaceResult `json:"faces"`
	GallerySize int          `json:"gallery_size"`
}

// ImageProcessor erkennt Gesichter in Standbildern (Upload, CLI) ohne die
// Abklingzeit einer Analysesitzung
type ImageProcessor struct {
	detector   session.Detector
	recognizer session.Recognizer
}

// NewImageProcessor erstellt einen neuen Bildverarbeitungsprozessor.
// detector darf nil sein, dann wird immer das ganze Bild ausgewertet.
func NewImageProcessor(detector session.Detector, recognizer session.Recognizer) *ImageProcessor {
	return &ImageProcessor{
		detector:   detector,
		recognizer: recognizer,
	}
}

// ProcessFile lädt eine Bilddatei und wertet sie aus
func (p *ImageProcessor) ProcessFile(ctx context.Context, imagePath string, options ProcessingOptions) (*ImageResult, error) {
	data, err := os.ReadFile(imagePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read image: %w", err)
	}

	f, err := frame.NewEncoded(data, 0)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	result, err := p.ProcessImage(ctx, f, options)
	if err != nil {
		return nil, err
	}
	result.ContentHash = contentHash(data)
	return result, nil
}

// ProcessImage wertet alle (oder MaxFaces) Gesichter eines Frames aus.
// Der Frame wird nicht geschlossen.
func (p *ImageProcessor) ProcessImage(ctx context.Context, f session.Frame, options ProcessingOptions) (*ImageResult, error) {
	bounds := f.Bounds()
	regions := []image.Rectangle{bounds}

	if options.DetectFaces && p.detector != nil {
		detections, err := p.detector.Detect(ctx, f)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", session.ErrDetection, err)
		}
		regions = regions[:0]
		for _, d := range detections {
			regions = append(regions, session.ExpandRegion(d.Box, bounds))
		}
	}
	if options.MaxFaces > 0 && len(regions) > options.MaxFaces {
		regions = regions[:options.MaxFaces]
	}

	img, err := f.Image()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrConversion, err)
	}

	result := &ImageResult{Faces: make([]FaceResult, 0, len(regions))}
	for _, region := range regions {
		face, err := frame.Crop(img, region.Sub(bounds.Min).Add(img.Bounds().Min))
		if err != nil {
			log.Debugf("Skipping face region %v: %v", region, err)
			continue
		}

		rec, err := p.recognizer.Recognize(ctx, face)
		if err != nil {
			return nil, err
		}
		result.GallerySize = rec.GallerySize

		fr := FaceResult{Region: region, Box: session.BoxFrom(region), Matched: rec.Matched}
		if rec.Matched {
			fr.Name = rec.Match.Record.Name
			fr.Score = rec.Match.Score
		}
		result.Faces = append(result.Faces, fr)
	}

	log.Debugf("Processed still image: %d face(s), %d matched", len(result.Faces), result.matched())
	return result, nil
}

func (r *ImageResult) matched() int {
	n := 0
	for _, f := range r.Faces {
		if f.Matched {
			n++
		}
	}
	return n
}

// contentHash berechnet den SHA-256-Hash der Bilddaten
func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
