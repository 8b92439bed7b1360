package jobs

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"backend/internal/service"

	"github.com/sirupsen/logrus"
)

// Refresher periodically regenerates the snapshot in the background,
// replacing the cron invocation of the one-shot generator.
type Refresher struct {
	service  *service.RankingService
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  atomic.Bool
	logger   *logrus.Logger

	refreshes atomic.Int64
	failures  atomic.Int64
}

// NewRefresher creates a refresher; interval must be positive
func NewRefresher(service *service.RankingService, interval time.Duration, logger *logrus.Logger) *Refresher {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Refresher{
		service:  service,
		interval: interval,
		stopCh:   make(chan struct{}),
		logger:   logger,
	}
}

// Start launches the background refresh loop. The caller is expected to have
// performed the initial load; the loop only handles subsequent intervals.
func (r *Refresher) Start(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return fmt.Errorf("refresher already running")
	}

	r.logger.WithField("interval", r.interval).Info("Starting background refresher")

	r.wg.Add(1)
	go r.loop(ctx)
	return nil
}

func (r *Refresher) loop(ctx context.Context) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := r.service.Refresh(ctx)
			if err != nil {
				// Periodic failures keep the last good snapshot in place
				r.failures.Add(1)
				r.logger.WithError(err).Error("Scheduled refresh failed")
				continue
			}
			r.refreshes.Add(1)
			r.logger.WithField("players", count).Info("Scheduled refresh complete")

		case <-r.stopCh:
			return

		case <-ctx.Done():
			return
		}
	}
}

// Stop halts the refresh loop and waits for it to exit
func (r *Refresher) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stopCh)
	r.wg.Wait()

	r.logger.WithFields(logrus.Fields{
		"refreshes": r.refreshes.Load(),
		"failures":  r.failures.Load(),
	}).Info("Background refresher stopped")
}
