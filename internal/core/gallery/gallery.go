// Package gallery verwaltet die gespeicherten Referenzgesichter und hält ihre
// Embeddings in einem Cache vor dem dauerhaften Speicher.
package gallery

import (
	"context"
	"errors"
	"fmt"
	"image"
	"strings"
	"sync"

	"facewatch-go/internal/core/embedding"
	"facewatch-go/internal/core/frame"

	log "github.com/sirupsen/logrus"
)

var (
	// ErrStoreWrite tritt auf, wenn ein Eintrag nicht geschrieben oder gelöscht werden konnte
	ErrStoreWrite = errors.New("gallery store write failed")
	// ErrStoreRead tritt auf, wenn der Speicher nicht gelesen werden konnte
	ErrStoreRead = errors.New("gallery store read failed")
	// ErrImageLoad tritt auf, wenn das Referenzbild nicht geladen werden konnte
	ErrImageLoad = errors.New("reference image could not be loaded")
	// ErrInvalidName tritt bei leeren Namen auf
	ErrInvalidName = errors.New("face name must not be empty")
)

// FaceRecord ist ein gespeichertes Referenzgesicht
type FaceRecord struct {
	ID        int64               `json:"id"`
	Name      string              `json:"name"`
	ImagePath string              `json:"image_path"`
	Embedding embedding.Embedding `json:"-"`
}

// Equal vergleicht alle Felder einschließlich der Embedding-Bytes
func (r FaceRecord) Equal(other FaceRecord) bool {
	return r.ID == other.ID &&
		r.Name == other.Name &&
		r.ImagePath == other.ImagePath &&
		r.Embedding.Equal(other.Embedding)
}

// Store ist der dauerhafte Speicher hinter der Galerie
type Store interface {
	// Write legt einen neuen Eintrag an und gibt dessen ID zurück
	Write(ctx context.Context, name, imagePath string, emb embedding.Embedding) (int64, error)
	// ReadAll liefert alle Einträge aufsteigend nach Namen sortiert
	ReadAll(ctx context.Context) ([]FaceRecord, error)
	// ReadOne liefert nil, nil wenn die ID unbekannt ist
	ReadOne(ctx context.Context, id int64) (*FaceRecord, error)
	Delete(ctx context.Context, id int64) error
	DeleteAssociatedImage(ctx context.Context, imagePath string) error
}

// ImageLoader lädt ein Referenzbild von einem Pfad
type ImageLoader func(path string) (image.Image, error)

// Option konfiguriert eine Galerie
type Option func(*Gallery)

// WithImageLoader ersetzt den Standard-Loader (frame.LoadFile)
func WithImageLoader(load ImageLoader) Option {
	return func(g *Gallery) {
		g.load = load
	}
}

// Gallery kombiniert den Speicher mit einem Embedding-Cache.
// Alle Methoden sind nebenläufig nutzbar.
type Gallery struct {
	store Store
	load  ImageLoader

	mu    sync.RWMutex
	cache map[int64]embedding.Embedding
}

// New erstellt eine neue Galerie über dem angegebenen Speicher
func New(store Store, opts ...Option) *Gallery {
	g := &Gallery{
		store: store,
		load:  frame.LoadFile,
		cache: make(map[int64]embedding.Embedding),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Insert lädt das Referenzbild, berechnet das Embedding und speichert einen neuen Eintrag.
// Schlägt das Schreiben fehl, wird nichts gecacht.
func (g *Gallery) Insert(ctx context.Context, name, imagePath string) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, ErrInvalidName
	}

	img, err := g.load(imagePath)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrImageLoad, err)
	}

	emb := embedding.Extract(img)

	id, err := g.store.Write(ctx, name, imagePath, emb)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}

	g.mu.Lock()
	g.cache[id] = emb.Clone()
	g.mu.Unlock()

	log.WithFields(log.Fields{"id": id, "name": name}).Info("Face enrolled")
	return id, nil
}

// GetAll liefert alle Einträge nach Namen sortiert und aktualisiert dabei den Cache
func (g *Gallery) GetAll(ctx context.Context) ([]FaceRecord, error) {
	records, err := g.store.ReadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}

	g.mu.Lock()
	for i := range records {
		g.cache[records[i].ID] = records[i].Embedding.Clone()
	}
	g.mu.Unlock()

	return records, nil
}

// GetEmbedding sucht zuerst im Cache und fällt dann auf den Speicher zurück.
// Der zweite Rückgabewert ist false, wenn die ID unbekannt ist.
func (g *Gallery) GetEmbedding(ctx context.Context, id int64) (embedding.Embedding, bool, error) {
	g.mu.RLock()
	cached, ok := g.cache[id]
	g.mu.RUnlock()
	if ok {
		return cached.Clone(), true, nil
	}

	record, err := g.store.ReadOne(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	if record == nil {
		return nil, false, nil
	}

	g.mu.Lock()
	g.cache[id] = record.Embedding.Clone()
	g.mu.Unlock()

	return record.Embedding, true, nil
}

// Remove löscht einen Eintrag samt Cache und Referenzbild. Unbekannte IDs werden ignoriert.
func (g *Gallery) Remove(ctx context.Context, id int64) error {
	record, err := g.store.ReadOne(ctx, id)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStoreRead, err)
	}
	if record == nil {
		g.evict(id)
		return nil
	}

	if err := g.store.Delete(ctx, id); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreWrite, err)
	}
	g.evict(id)

	if record.ImagePath != "" {
		if err := g.store.DeleteAssociatedImage(ctx, record.ImagePath); err != nil {
			log.Warnf("Failed to delete reference image %s: %v", record.ImagePath, err)
		}
	}

	log.WithFields(log.Fields{"id": id, "name": record.Name}).Info("Face removed")
	return nil
}

// Size gibt die Anzahl gespeicherter Gesichter zurück
func (g *Gallery) Size(ctx context.Context) (int, error) {
	records, err := g.GetAll(ctx)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// Cached gibt die Anzahl der Embeddings im Cache zurück
func (g *Gallery) Cached() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.cache)
}

// Clear leert den Embedding-Cache
func (g *Gallery) Clear() {
	g.mu.Lock()
	g.cache = make(map[int64]embedding.Embedding)
	g.mu.Unlock()
	log.Debug("Embedding cache cleared")
}

func (g *Gallery) evict(id int64) {
	g.mu.Lock()
	delete(g.cache, id)
	g.mu.Unlock()
}
