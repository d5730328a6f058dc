// Package matcher sucht zu einem Embedding das ähnlichste gespeicherte Gesicht.
package matcher

import (
	"context"
	"image"

	"facewatch-go/internal/core/embedding"
	"facewatch-go/internal/core/gallery"

	log "github.com/sirupsen/logrus"
)

// DefaultThreshold ist der Mindestwert, den eine Ähnlichkeit überschreiten muss
const DefaultThreshold = 0.6

// Match ist der beste Kandidat einer Suche
type Match struct {
	Record gallery.FaceRecord
	Score  float64
}

// Best gibt den Kandidaten mit der höchsten Ähnlichkeit zurück, sofern sie
// threshold übersteigt. Bei Gleichstand gewinnt der zuerst gelieferte Kandidat.
// Kandidaten mit ungültigem Embedding werden übersprungen.
func Best(query embedding.Embedding, candidates []gallery.FaceRecord, threshold float64) (Match, bool) {
	var best Match
	found := false

	for _, c := range candidates {
		score, err := embedding.Similarity(query, c.Embedding)
		if err != nil {
			log.Debugf("Skipping face %d (%s): %v", c.ID, c.Name, err)
			continue
		}
		if score <= threshold {
			continue
		}
		if !found || score > best.Score {
			best = Match{Record: c, Score: score}
			found = true
		}
	}

	return best, found
}

// Recognition ist das Ergebnis einer Erkennung
type Recognition struct {
	Match       Match
	Matched     bool
	GallerySize int
}

// Source liefert die aktuell gespeicherten Gesichter
type Source interface {
	GetAll(ctx context.Context) ([]gallery.FaceRecord, error)
}

// Recognizer verbindet Extraktion, Galerie und Suche
type Recognizer struct {
	source    Source
	threshold float64
}

// NewRecognizer erstellt einen Recognizer. Ein threshold <= 0 wählt DefaultThreshold.
func NewRecognizer(source Source, threshold float64) *Recognizer {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Recognizer{source: source, threshold: threshold}
}

// Threshold gibt die verwendete Schwelle zurück
func (r *Recognizer) Threshold() float64 {
	return r.threshold
}

// Recognize berechnet das Embedding des Gesichtsausschnitts und sucht den besten Treffer
func (r *Recognizer) Recognize(ctx context.Context, face image.Image) (Recognition, error) {
	query := embedding.Extract(face)

	records, err := r.source.GetAll(ctx)
	if err != nil {
		return Recognition{}, err
	}

	match, ok := Best(query, records, r.threshold)
	return Recognition{Match: match, Matched: ok, GallerySize: len(records)}, nil
}
