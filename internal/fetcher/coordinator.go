package fetcher

import (
	"context"
	"sync"
	"time"

	"backend/internal/models"

	"github.com/sirupsen/logrus"
)

// FetchFunc performs a single fetch attempt for one username with the given
// timeout. A nil result is a rejection (invalid or unavailable profile),
// never an error.
type FetchFunc func(ctx context.Context, username string, timeout time.Duration) *models.Player

// Config tunes the two-phase fetch pipeline
type Config struct {
	MaxWorkers  int
	Attempts    int
	BaseTimeout time.Duration
	Backoff     time.Duration
}

// progressEvery controls how often progress is logged during a run
const progressEvery = 20

// Coordinator dispatches per-username fetches across a bounded worker pool,
// then reconciles the failures with a slower sequential pass. Concurrency
// here is an accuracy/latency trade-off, not a throughput requirement.
type Coordinator struct {
	fetch  FetchFunc
	cfg    Config
	logger *logrus.Logger
}

// New creates a coordinator, applying defaults for unset config fields
func New(fetch FetchFunc, cfg Config, logger *logrus.Logger) *Coordinator {
	if cfg.MaxWorkers <= 0 {
		cfg.MaxWorkers = 8
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 3
	}
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 8 * time.Second
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Second
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Coordinator{fetch: fetch, cfg: cfg, logger: logger}
}

// FetchAll fetches every username and returns the records that could be
// retrieved, in completion order. Usernames that exhaust every attempt in
// both phases are silently absent from the result.
func (c *Coordinator) FetchAll(ctx context.Context, usernames []string) []*models.Player {
	if len(usernames) == 0 {
		return nil
	}

	players, failed := c.concurrentPhase(ctx, usernames)

	if len(failed) > 0 {
		c.logger.WithField("failed", len(failed)).Info("Retrying failures sequentially")
		players = append(players, c.sequentialPhase(ctx, failed)...)
	}

	return players
}

// concurrentPhase dispatches one task per username across the worker pool.
// Each task retries internally; a task that never produced a record is
// reported in the failed list.
func (c *Coordinator) concurrentPhase(ctx context.Context, usernames []string) ([]*models.Player, []string) {
	workers := c.cfg.MaxWorkers
	if len(usernames) < workers {
		workers = len(usernames)
	}

	jobs := make(chan string)

	var (
		mu        sync.Mutex
		players   []*models.Player
		failed    []string
		completed int
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for username := range jobs {
				player := c.fetchWithRetries(ctx, username)

				mu.Lock()
				if player != nil {
					players = append(players, player)
				} else {
					failed = append(failed, username)
				}
				completed++
				if completed%progressEvery == 0 || completed == len(usernames) {
					c.logger.WithFields(logrus.Fields{
						"completed": completed,
						"total":     len(usernames),
						"valid":     len(players),
						"failed":    len(failed),
					}).Info("Fetch progress")
				}
				mu.Unlock()
			}
		}()
	}

	for _, username := range usernames {
		jobs <- username
	}
	close(jobs)
	wg.Wait()

	return players, failed
}

// fetchWithRetries runs one task's attempt cycle: growing timeout (capped at
// twice the base) and linear sleep backoff between attempts.
func (c *Coordinator) fetchWithRetries(ctx context.Context, username string) *models.Player {
	timeout := c.cfg.BaseTimeout
	for attempt := 1; attempt <= c.cfg.Attempts; attempt++ {
		if player := c.fetch(ctx, username, timeout); player != nil {
			return player
		}
		if attempt == c.cfg.Attempts {
			break
		}
		if !c.sleep(ctx, time.Duration(attempt)*c.cfg.Backoff) {
			return nil
		}
		timeout = timeout * 3 / 2
		if max := 2 * c.cfg.BaseTimeout; timeout > max {
			timeout = max
		}
	}
	return nil
}

// sequentialPhase retries phase-1 failures one at a time with a longer
// per-attempt timeout, trading latency for completeness.
func (c *Coordinator) sequentialPhase(ctx context.Context, usernames []string) []*models.Player {
	timeout := 2 * c.cfg.BaseTimeout

	var recovered []*models.Player
	for i, username := range usernames {
		for attempt := 1; attempt <= c.cfg.Attempts+1; attempt++ {
			if player := c.fetch(ctx, username, timeout); player != nil {
				recovered = append(recovered, player)
				break
			}
			if attempt > c.cfg.Attempts {
				break
			}
			if !c.sleep(ctx, time.Duration(attempt)*c.cfg.Backoff) {
				return recovered
			}
		}
		if (i+1)%progressEvery == 0 || i+1 == len(usernames) {
			c.logger.WithFields(logrus.Fields{
				"retried":   i + 1,
				"total":     len(usernames),
				"recovered": len(recovered),
			}).Info("Sequential retry progress")
		}
	}
	return recovered
}

// sleep waits for the backoff delay, returning false when the context was
// cancelled first.
func (c *Coordinator) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
