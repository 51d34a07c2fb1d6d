package processing

import (
	"context"
	"image"
	"runtime"
	"sync"
	"time"

	"liveness-gate-go/internal/core/vision"
	"liveness-gate-go/internal/util/timezone"

	log "github.com/sirupsen/logrus"
)

// WorkerPool begrenzt die Anzahl gleichzeitiger Analyse-Aufrufe an den
// Vision-Provider. Der Pool implementiert selbst liveness.Analyzer, so
// dass Orchestratoren ihre Frames direkt über den Pool schicken.
type WorkerPool struct {
	provider        vision.Provider
	jobs            chan *detectJob
	workerCount     int
	activeJobs      int
	activeJobsMutex sync.Mutex
	shutdown        chan struct{}
}

// detectJob repräsentiert eine einzelne Frame-Analyse
type detectJob struct {
	ctx      context.Context
	img      image.Image
	resultCh chan *detectResult // Individueller Ergebniskanal pro Job
}

// detectResult enthält das Ergebnis einer Frame-Analyse
type detectResult struct {
	Faces []vision.Face
	Err   error
}

// NewWorkerPool erstellt einen neuen Worker-Pool für die Frame-Analyse
func NewWorkerPool(provider vision.Provider) *WorkerPool {
	// Container-bewusste Konfiguration: Verwende 75% der verfügbaren CPUs, mindestens 2
	availableCPUs := runtime.NumCPU()
	workerCount := max(2, (availableCPUs*3)/4)

	log.Infof("Initializing face analysis worker pool with %d workers", workerCount)

	pool := &WorkerPool{
		provider:    provider,
		jobs:        make(chan *detectJob, workerCount*2), // Puffer für Jobs
		workerCount: workerCount,
		shutdown:    make(chan struct{}),
	}

	pool.startWorkers()

	return pool
}

// startWorkers startet die Worker-Goroutinen
func (p *WorkerPool) startWorkers() {
	for i := 0; i < p.workerCount; i++ {
		go func(workerID int) {
			log.Debugf("Worker %d started", workerID)

			for {
				select {
				case job, ok := <-p.jobs:
					if !ok {
						log.Debugf("Worker %d shutting down (job channel closed)", workerID)
						return
					}

					// Job-Zähler erhöhen
					p.activeJobsMutex.Lock()
					p.activeJobs++
					jobCount := p.activeJobs
					p.activeJobsMutex.Unlock()

					log.Debugf("Worker %d analyzing frame (active jobs: %d)", workerID, jobCount)

					startTime := timezone.Now()

					faces, err := p.provider.DetectFaces(job.ctx, job.img)

					// Job-Zähler reduzieren
					p.activeJobsMutex.Lock()
					p.activeJobs--
					p.activeJobsMutex.Unlock()

					result := &detectResult{
						Faces: faces,
						Err:   err,
					}

					// Direkt an die anfragende Goroutine senden
					select {
					case job.resultCh <- result:
						// Ergebnis erfolgreich gesendet
					default:
						log.Warnf("Worker %d: Could not send result, channel might be closed", workerID)
					}

					elapsed := time.Since(startTime)
					log.Debugf("Worker %d completed frame analysis in %v", workerID, elapsed)

				case <-p.shutdown:
					log.Debugf("Worker %d received shutdown signal", workerID)
					return
				}
			}
		}(i)
	}
}

// DetectFaces analysiert einen Frame über den Worker-Pool. Blockiert, bis
// ein Worker das Ergebnis liefert oder der Kontext abläuft.
func (p *WorkerPool) DetectFaces(ctx context.Context, img image.Image) ([]vision.Face, error) {
	// Ergebniskanal für diesen spezifischen Job
	resultCh := make(chan *detectResult, 1)

	job := &detectJob{
		ctx:      ctx,
		img:      img,
		resultCh: resultCh,
	}

	// Job an den Pool senden
	select {
	case p.jobs <- job:
		// Job angenommen
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Auf Ergebnis warten
	select {
	case result := <-resultCh:
		return result.Faces, result.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
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

// Shutdown fährt den Worker-Pool herunter
func (p *WorkerPool) Shutdown() {
	close(p.shutdown)
	close(p.jobs)
}

// Hilfsfunktion max
func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
