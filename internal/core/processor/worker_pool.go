package processor

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// ErrPoolClosed wird nach Shutdown zurückgegeben
var ErrPoolClosed = errors.New("worker pool is shut down")

// Enroller legt ein neues Referenzgesicht an
type Enroller interface {
	Insert(ctx context.Context, name, imagePath string) (int64, error)
}

// WorkerPool verwaltet einen Pool von Worker-Goroutinen für das Einlernen von Gesichtern
type WorkerPool struct {
	enroller        Enroller
	jobs            chan *EnrollJob
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
	shutdownOnce    sync.Once
	wg              sync.WaitGroup
}

// EnrollJob repräsentiert einen Einlern-Auftrag
type EnrollJob struct {
	ctx       context.Context
	Name      string
	ImagePath string
	resultCh  chan *EnrollResult // Individueller Ergebniskanal pro Job
}

// EnrollResult enthält das Ergebnis eines Einlern-Auftrags
type EnrollResult struct {
	Name      string
	ImagePath string
	ID        int64
	Err       error
}

// Request beschreibt ein einzulernendes Bild
type Request struct {
	Name      string
	ImagePath string
}

// NewWorkerPool erstellt einen neuen Worker-Pool. Bei workerCount <= 0 werden
// 75% der verfügbaren CPUs verwendet, mindestens 2.
func NewWorkerPool(enroller Enroller, workerCount int) *WorkerPool {
	if workerCount <= 0 {
		workerCount = max(2, (runtime.NumCPU()*3)/4)
	}

	log.Infof("Initializing enrollment worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		enroller:    enroller,
		jobs:        make(chan *EnrollJob, workerCount*2), // Puffer für Jobs
		workerCount: workerCount,
		shutdown:    make(chan struct{}),
	}

	pool.startWorkers()
	return pool
}

// startWorkers startet die Worker-Goroutinen
func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		p.wg.Add(1)
		go func(workerID int) {
			defer p.wg.Done()
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case job := <-p.jobs:
					p.run(workerID, job)
				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

func (p *WorkerPool) run(workerID int, job *EnrollJob) {
	p.activeJobsMutex.Lock()
	p.activeJobs++
	jobCount := p.activeJobs
	p.activeJobsMutex.Unlock()

	log.Debugf("Worker %d enrolling %s from %s (active jobs: %d)", workerID, job.Name, job.ImagePath, jobCount)
	startTime := time.Now()

	result := &EnrollResult{Name: job.Name, ImagePath: job.ImagePath}
	if err := job.ctx.Err(); err != nil {
		result.Err = err
	} else {
		result.ID, result.Err = p.enroller.Insert(job.ctx, job.Name, job.ImagePath)
	}

	p.activeJobsMutex.Lock()
	p.activeJobs--
	p.activeJobsMutex.Unlock()

	// resultCh ist gepuffert, der Versand blockiert nie
	job.resultCh <- result

	log.Debugf("Worker %d finished %s in %v", workerID, job.ImagePath, time.Since(startTime))
}

// Enroll lernt ein Bild über den Worker-Pool ein und wartet auf das Ergebnis
func (p *WorkerPool) Enroll(ctx context.Context, name, imagePath string) (int64, error) {
	resultCh := make(chan *EnrollResult, 1)

	job := &EnrollJob{
		ctx:       ctx,
		Name:      name,
		ImagePath: imagePath,
		resultCh:  resultCh,
	}

	select {
	case p.jobs <- job:
	case <-p.shutdown:
		return 0, ErrPoolClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case result := <-resultCh:
		return result.ID, result.Err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// EnrollAll lernt alle Anfragen parallel ein. Einzelne Fehler brechen die
// übrigen Aufträge nicht ab; sie stehen im jeweiligen Ergebnis. progress wird
// nach jedem abgeschlossenen Auftrag aufgerufen (nebenläufig, darf nil sein).
func (p *WorkerPool) EnrollAll(ctx context.Context, requests []Request, progress func(EnrollResult)) []EnrollResult {
	results := make([]EnrollResult, len(requests))

	var g errgroup.Group
	g.SetLimit(p.workerCount * 2)
	for i, req := range requests {
		i, req := i, req
		g.Go(func() error {
			id, err := p.Enroll(ctx, req.Name, req.ImagePath)
			results[i] = EnrollResult{Name: req.Name, ImagePath: req.ImagePath, ID: id, Err: err}
			if progress != nil {
				progress(results[i])
			}
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// ActiveJobCount gibt die Anzahl der aktuell aktiven Jobs zurück
func (p *WorkerPool) ActiveJobCount() int {
	p.activeJobsMutex.Lock()
	defer p.activeJobsMutex.Unlock()
	return p.activeJobs
}

// GetWorkerCount gibt die Anzahl der Worker im Pool zurück
func (p *WorkerPool) GetWorkerCount() int {
	return p.workerCount
}

// GetQueueCapacity gibt die Kapazität der Job-Queue zurück
func (p *WorkerPool) GetQueueCapacity() int {
	return cap(p.jobs)
}

// Shutdown fährt den Worker-Pool herunter und wartet auf laufende Jobs
func (p *WorkerPool) Shutdown() {
	p.shutdownOnce.Do(func() {
		close(p.shutdown)
	})
	p.wg.Wait()
}
