package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"backend/internal/models"

	"github.com/sirupsen/logrus"
)

// RatingArchiver persists one player's ratings
type RatingArchiver interface {
	UpsertRating(ctx context.Context, p *models.Player) error
}

// ArchiveTask represents a task to persist one player's ratings
type ArchiveTask struct {
	Player *models.Player
}

// Pool manages a pool of workers for asynchronous rating archiving.
// Snapshot serving never waits on the database: archive writes ride behind
// the in-memory swap and are dropped under backpressure.
type Pool struct {
	jobs        chan ArchiveTask
	workerCount int
	archiver    RatingArchiver
	wg          sync.WaitGroup
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *logrus.Logger
	metrics     *PoolMetrics
}

// PoolMetrics tracks worker pool performance
type PoolMetrics struct {
	mu              sync.RWMutex
	processed       int64
	failed          int64
	backpressure    int64
	totalProcessing time.Duration
}

// NewPool creates a new worker pool
func NewPool(workerCount, queueSize int, archiver RatingArchiver, logger *logrus.Logger) *Pool {
	ctx, cancel := context.WithCancel(context.Background())

	return &Pool{
		jobs:        make(chan ArchiveTask, queueSize),
		workerCount: workerCount,
		archiver:    archiver,
		ctx:         ctx,
		cancel:      cancel,
		logger:      logger,
		metrics:     &PoolMetrics{},
	}
}

// Start initializes and starts all worker goroutines
func (p *Pool) Start() {
	p.logger.WithFields(logrus.Fields{
		"workers":    p.workerCount,
		"queue_size": cap(p.jobs),
	}).Info("Starting archive worker pool")

	for i := 1; i <= p.workerCount; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// worker is the main worker loop that processes jobs
func (p *Pool) worker(id int) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			return

		case task, ok := <-p.jobs:
			if !ok {
				return
			}
			p.processTask(id, task)
		}
	}
}

// processTask handles a single archive task with panic recovery
func (p *Pool) processTask(workerID int, task ArchiveTask) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker":   workerID,
				"username": task.Player.Username,
				"panic":    r,
			}).Error("Worker panic recovered")
			p.metrics.incrementFailed()
		}
	}()

	startTime := time.Now()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := p.archiver.UpsertRating(ctx, task.Player)

	processingTime := time.Since(startTime)

	if err != nil {
		p.logger.WithFields(logrus.Fields{
			"worker":   workerID,
			"username": task.Player.Username,
			"took":     processingTime,
		}).WithError(err).Error("Failed to archive rating")
		p.metrics.incrementFailed()
		return
	}

	p.metrics.recordSuccess(processingTime)
}

// Submit attempts to add a task to the queue with backpressure handling
func (p *Pool) Submit(task ArchiveTask) error {
	select {
	case p.jobs <- task:
		return nil

	default:
		// Queue full: drop the archive write, the next refresh re-submits it
		p.logger.WithField("username", task.Player.Username).Warn("Archive queue full, dropping write")
		p.metrics.incrementBackpressure()
		return fmt.Errorf("worker pool queue full (backpressure)")
	}
}

// Shutdown gracefully stops the worker pool, flushing pending writes
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.logger.Info("Shutting down archive worker pool")

	close(p.jobs)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logMetrics()
		return nil

	case <-time.After(timeout):
		p.cancel()
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// GetMetrics returns a snapshot of the pool metrics
func (p *Pool) GetMetrics() map[string]interface{} {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	avgProcessing := time.Duration(0)
	if p.metrics.processed > 0 {
		avgProcessing = p.metrics.totalProcessing / time.Duration(p.metrics.processed)
	}

	return map[string]interface{}{
		"processed":           p.metrics.processed,
		"failed":              p.metrics.failed,
		"backpressure_events": p.metrics.backpressure,
		"avg_processing_time": avgProcessing.String(),
		"queue_utilization":   fmt.Sprintf("%d/%d", len(p.jobs), cap(p.jobs)),
	}
}

// logMetrics logs the final metrics
func (p *Pool) logMetrics() {
	p.logger.WithFields(logrus.Fields(p.GetMetrics())).Info("Archive worker pool metrics")
}

// Metrics helper methods
func (pm *PoolMetrics) recordSuccess(duration time.Duration) {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.processed++
	pm.totalProcessing += duration
}

func (pm *PoolMetrics) incrementFailed() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.failed++
}

func (pm *PoolMetrics) incrementBackpressure() {
	pm.mu.Lock()
	defer pm.mu.Unlock()
	pm.backpressure++
}
