package cleanup

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"facewatch-go/config"
	"facewatch-go/internal/core/models"

	log "github.com/sirupsen/logrus"
)

const (
	// orphanGrace schützt Referenzbilder, deren Einlernen noch läuft
	orphanGrace = time.Hour
	// pendingBatch begrenzt die Zahl der Wiederholungen pro Durchlauf
	pendingBatch = 100
)

// Store ist der Teil des Repositories, den die Bereinigung braucht
type Store interface {
	DeleteEventsBefore(ctx context.Context, cutoff time.Time) (int64, error)
	GetPendingOperations(ctx context.Context, limit int) ([]models.PendingOperation, error)
	SavePendingOperation(ctx context.Context, op *models.PendingOperation) error
	GetImagePaths(ctx context.Context) (map[string]struct{}, error)
}

// Report fasst einen Bereinigungsdurchlauf zusammen
type Report struct {
	EventsDeleted       int64
	OperationsCompleted int
	OperationsFailed    int
	OrphansRemoved      int
}

// CleanupService entfernt alte Ereignisse, wiederholt fehlgeschlagene
// Löschungen und räumt verwaiste Referenzbilder auf
type CleanupService struct {
	store         Store
	config        config.CleanupConfig
	imageDir      string
	checkInterval time.Duration
	now           func() time.Time
}

// NewCleanupService erstellt einen neuen Cleanup-Service
func NewCleanupService(store Store, cfg config.CleanupConfig, imageDir string) *CleanupService {
	interval := time.Duration(cfg.IntervalHours) * time.Hour
	if interval <= 0 {
		interval = 24 * time.Hour // Standardmäßig einmal täglich
	}
	return &CleanupService{
		store:         store,
		config:        cfg,
		imageDir:      imageDir,
		checkInterval: interval,
		now:           time.Now,
	}
}

// Start führt sofort und danach periodisch eine Bereinigung durch, bis ctx endet
func (s *CleanupService) Start(ctx context.Context) {
	log.Infof("Cleanup service started (interval %s)", s.checkInterval)

	if _, err := s.RunCleanup(ctx); err != nil {
		log.Errorf("Initial cleanup failed: %v", err)
	}

	ticker := time.NewTicker(s.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			log.Info("Running scheduled cleanup")
			if _, err := s.RunCleanup(ctx); err != nil {
				log.Errorf("Scheduled cleanup failed: %v", err)
			}
		case <-ctx.Done():
			log.Info("Cleanup service stopped")
			return
		}
	}
}

// RunCleanup führt einen vollständigen Durchlauf aus. Fehler einzelner Schritte
// brechen die übrigen nicht ab, sie werden zusammengefasst zurückgegeben.
func (s *CleanupService) RunCleanup(ctx context.Context) (Report, error) {
	var report Report
	var errs []error

	if s.config.RetentionDays > 0 {
		cutoff := s.now().AddDate(0, 0, -s.config.RetentionDays)
		n, err := s.store.DeleteEventsBefore(ctx, cutoff)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to delete old events: %w", err))
		} else {
			report.EventsDeleted = n
			log.Infof("Deleted %d events older than %s", n, cutoff.Format("2006-01-02"))
		}
	} else {
		log.Debug("Event retention disabled (retention days <= 0)")
	}

	if err := s.retryPending(ctx, &report); err != nil {
		errs = append(errs, err)
	}
	if err := s.removeOrphans(ctx, &report); err != nil {
		errs = append(errs, err)
	}

	log.Infof("Cleanup completed: %d events, %d pending deletions done, %d given up, %d orphaned images",
		report.EventsDeleted, report.OperationsCompleted, report.OperationsFailed, report.OrphansRemoved)
	return report, errors.Join(errs...)
}

// retryPending wiederholt vorgemerkte Löschungen von Referenzbildern
func (s *CleanupService) retryPending(ctx context.Context, report *Report) error {
	ops, err := s.store.GetPendingOperations(ctx, pendingBatch)
	if err != nil {
		return fmt.Errorf("failed to load pending operations: %w", err)
	}

	for i := range ops {
		op := &ops[i]
		if op.OperationType != models.POTypeDeleteImage {
			log.Warnf("Skipping unknown pending operation %q (ID %d)", op.OperationType, op.ID)
			continue
		}

		op.LastAttempt = s.now()
		err := os.Remove(op.ResourceName)
		switch {
		case err == nil || errors.Is(err, os.ErrNotExist):
			op.Status = models.POStatusCompleted
			op.LastError = ""
			report.OperationsCompleted++
		default:
			op.Retries++
			op.LastError = err.Error()
			if op.Retries >= op.MaxRetries {
				op.Status = models.POStatusFailed
				report.OperationsFailed++
				log.Errorf("Giving up deleting %s after %d attempts: %v", op.ResourceName, op.Retries, err)
			}
		}

		if err := s.store.SavePendingOperation(ctx, op); err != nil {
			log.Errorf("Failed to update pending operation %d: %v", op.ID, err)
		}
	}
	return nil
}

// removeOrphans löscht Referenzbilder, auf die kein Gesicht mehr verweist
func (s *CleanupService) removeOrphans(ctx context.Context, report *Report) error {
	if s.imageDir == "" {
		return nil
	}

	entries, err := os.ReadDir(s.imageDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to read image directory: %w", err)
	}

	referenced, err := s.store.GetImagePaths(ctx)
	if err != nil {
		return fmt.Errorf("failed to load referenced images: %w", err)
	}
	known := make(map[string]struct{}, len(referenced))
	for p := range referenced {
		known[filepath.Clean(p)] = struct{}{}
	}

	now := s.now()
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, "face_") || !strings.HasSuffix(name, ".jpg") {
			continue
		}
		path := filepath.Clean(filepath.Join(s.imageDir, name))
		if _, ok := known[path]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil || now.Sub(info.ModTime()) < orphanGrace {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warnf("Failed to delete orphaned image %s: %v", path, err)
			continue
		}
		log.Debugf("Deleted orphaned image %s", path)
		report.OrphansRemoved++
	}
	return nil
}
