package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"facewatch-go/internal/core/embedding"
	"facewatch-go/internal/core/gallery"
	"facewatch-go/internal/core/models"
	"facewatch-go/internal/core/session"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Repository definiert die Schnittstelle für die Datenbank-Operationen
type Repository interface {
	gallery.Store

	// Event-Methoden
	SaveEvent(ctx context.Context, event *models.RecognitionEvent) error
	GetEvents(ctx context.Context, limit, offset int) ([]models.RecognitionEvent, int64, error)
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Ausstehende Operationen
	SavePendingOperation(ctx context.Context, op *models.PendingOperation) error
	GetPendingOperations(ctx context.Context, limit int) ([]models.PendingOperation, error)

	// Referenzbilder aller gespeicherten Gesichter
	GetImagePaths(ctx context.Context) (map[string]struct{}, error)

	// Statistik-Methoden
	GetStatistics(ctx context.Context) (models.Statistics, error)
}

// SQLiteRepository implementiert die Repository-Schnittstelle für SQLite
type SQLiteRepository struct {
	db *gorm.DB
}

// NewSQLiteRepository erstellt eine neue SQLite-Repository-Instanz
func NewSQLiteRepository(db *gorm.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Face-Methoden (gallery.Store)

// Write speichert ein neues Gesicht und gibt dessen ID zurück
func (r *SQLiteRepository) Write(ctx context.Context, name, imagePath string, emb embedding.Embedding) (int64, error) {
	if !emb.Valid() {
		return 0, fmt.Errorf("%w: got %d bytes", embedding.ErrLengthMismatch, len(emb))
	}
	face := models.Face{
		Name:      name,
		ImagePath: imagePath,
		Embedding: []byte(emb.Clone()),
	}
	if err := r.db.WithContext(ctx).Create(&face).Error; err != nil {
		return 0, err
	}
	return face.ID, nil
}

// ReadAll holt alle Gesichter aufsteigend nach Namen sortiert
func (r *SQLiteRepository) ReadAll(ctx context.Context) ([]gallery.FaceRecord, error) {
	var faces []models.Face
	result := r.db.WithContext(ctx).Order("name ASC").Order("id ASC").Find(&faces)
	if result.Error != nil {
		return nil, result.Error
	}

	records := make([]gallery.FaceRecord, 0, len(faces))
	for _, f := range faces {
		rec, err := toRecord(f)
		if err != nil {
			log.Warnf("Skipping face %d (%s): %v", f.ID, f.Name, err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// ReadOne holt ein Gesicht anhand seiner ID
func (r *SQLiteRepository) ReadOne(ctx context.Context, id int64) (*gallery.FaceRecord, error) {
	var face models.Face
	result := r.db.WithContext(ctx).First(&face, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, result.Error
	}

	rec, err := toRecord(face)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Delete löscht ein Gesicht
func (r *SQLiteRepository) Delete(ctx context.Context, id int64) error {
	return r.db.WithContext(ctx).Delete(&models.Face{}, id).Error
}

// DeleteAssociatedImage löscht ein Referenzbild. Schlägt das fehl, wird die
// Löschung als ausstehende Operation für den Cleanup-Dienst vorgemerkt.
func (r *SQLiteRepository) DeleteAssociatedImage(ctx context.Context, imagePath string) error {
	err := os.Remove(imagePath)
	if err == nil || errors.Is(err, os.ErrNotExist) {
		return nil
	}

	op := &models.PendingOperation{
		OperationType: models.POTypeDeleteImage,
		ResourceType:  models.POResReferenceImage,
		ResourceName:  imagePath,
		LastAttempt:   time.Now(),
		Retries:       1,
		MaxRetries:    5,
		LastError:     err.Error(),
		Status:        models.POStatusPending,
	}
	if saveErr := r.SavePendingOperation(ctx, op); saveErr != nil {
		log.Errorf("Failed to queue deletion of %s: %v", imagePath, saveErr)
	}
	return err
}

// GetImagePaths gibt die Pfade aller noch referenzierten Bilder zurück
func (r *SQLiteRepository) GetImagePaths(ctx context.Context) (map[string]struct{}, error) {
	var paths []string
	if err := r.db.WithContext(ctx).Model(&models.Face{}).Pluck("image_path", &paths).Error; err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		set[p] = struct{}{}
	}
	return set, nil
}

func toRecord(f models.Face) (gallery.FaceRecord, error) {
	emb, err := embedding.FromBytes(f.Embedding)
	if err != nil {
		return gallery.FaceRecord{}, err
	}
	return gallery.FaceRecord{ID: f.ID, Name: f.Name, ImagePath: f.ImagePath, Embedding: emb}, nil
}

// Event-Methoden

// SaveEvent speichert ein Erkennungsereignis
func (r *SQLiteRepository) SaveEvent(ctx context.Context, event *models.RecognitionEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

// GetEvents holt Ereignisse mit Pagination, neueste zuerst
func (r *SQLiteRepository) GetEvents(ctx context.Context, limit, offset int) ([]models.RecognitionEvent, int64, error) {
	var events []models.RecognitionEvent
	var total int64

	if err := r.db.WithContext(ctx).Model(&models.RecognitionEvent{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	result := r.db.WithContext(ctx).Order("created_at DESC").Order("id DESC").Limit(limit).Offset(offset).Find(&events)
	if result.Error != nil {
		return nil, 0, result.Error
	}

	return events, total, nil
}

// DeleteEventsBefore löscht alle Ereignisse vor cutoff und gibt deren Anzahl zurück
func (r *SQLiteRepository) DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", cutoff).Delete(&models.RecognitionEvent{})
	return result.RowsAffected, result.Error
}

// Ausstehende Operationen

// SavePendingOperation speichert oder aktualisiert eine ausstehende Operation
func (r *SQLiteRepository) SavePendingOperation(ctx context.Context, op *models.PendingOperation) error {
	return r.db.WithContext(ctx).Save(op).Error
}

// GetPendingOperations holt die ältesten ausstehenden Operationen
func (r *SQLiteRepository) GetPendingOperations(ctx context.Context, limit int) ([]models.PendingOperation, error) {
	var ops []models.PendingOperation
	result := r.db.WithContext(ctx).
		Where("status = ?", models.POStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&ops)
	if result.Error != nil {
		return nil, result.Error
	}
	return ops, nil
}

// Statistik-Methoden

// GetStatistics erstellt eine Übersicht über Galerie und Verlauf
func (r *SQLiteRepository) GetStatistics(ctx context.Context) (models.Statistics, error) {
	var stats models.Statistics
	db := r.db.WithContext(ctx)

	if err := db.Model(&models.Face{}).Count(&stats.TotalFaces).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.Face{}).Distinct("name").Count(&stats.DistinctNames).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.RecognitionEvent{}).Count(&stats.TotalEvents).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.RecognitionEvent{}).Where("state = ?", session.Recognized.String()).Count(&stats.RecognizedEvents).Error; err != nil {
		return stats, err
	}
	if err := db.Model(&models.RecognitionEvent{}).Where("state = ?", session.Failed.String()).Count(&stats.FailedEvents).Error; err != nil {
		return stats, err
	}

	if err := db.Order("created_at DESC").Order("id DESC").Limit(5).Find(&stats.RecentEvents).Error; err != nil {
		return stats, err
	}
	if len(stats.RecentEvents) > 0 {
		latest := stats.RecentEvents[0].CreatedAt
		stats.LatestEvent = &latest
	}

	return stats, nil
}

// EventFromResult wandelt ein Sitzungsergebnis in ein Ereignis um
func EventFromResult(res session.Result) *models.RecognitionEvent {
	event := &models.RecognitionEvent{
		SessionID: res.SessionID,
		Seq:       res.Seq,
		State:     res.State.String(),
		Name:      res.Name,
		Score:     res.Score,
		Reason:    res.Reason,
		CreatedAt: res.At,
	}
	if res.Region != nil {
		if data, err := json.Marshal(res.Region); err == nil {
			event.Region = datatypes.JSON(data)
		}
	}
	return event
}

// EventRecorder speichert jedes Endergebnis einer Sitzung als Ereignis
type EventRecorder struct {
	repo    Repository
	timeout time.Duration
}

// NewEventRecorder erstellt einen Listener, der Ergebnisse in repo schreibt
func NewEventRecorder(repo Repository) *EventRecorder {
	return &EventRecorder{repo: repo, timeout: 5 * time.Second}
}

// OnResult implementiert session.Listener
func (e *EventRecorder) OnResult(res session.Result) {
	if !res.Final() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), e.timeout)
	defer cancel()

	if err := e.repo.SaveEvent(ctx, EventFromResult(res)); err != nil {
		log.Errorf("Failed to store recognition event: %v", err)
	}
}
