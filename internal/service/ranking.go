package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"backend/internal/config"
	"backend/internal/fetcher"
	"backend/internal/lichess"
	"backend/internal/models"
	"backend/internal/ranking"
	"backend/internal/repository"
	"backend/internal/snapshot"
	"backend/internal/worker"

	"github.com/sirupsen/logrus"
)

// RankingService orchestrates the pipeline: roster fetch, concurrent profile
// collection, ranking, snapshot swap and persistence. The Postgres archive,
// Redis cache and worker pool are optional; without them the service runs in
// file-only mode.
type RankingService struct {
	client       *lichess.Client
	coord        *fetcher.Coordinator
	holder       *snapshot.Holder
	postgresRepo *repository.PostgresRepository
	redisRepo    *repository.RedisRepository
	pool         *worker.Pool
	cfg          *config.Config
	logger       *logrus.Logger

	// Snapshot regeneration is a single-writer operation
	refreshMu sync.Mutex
}

// NewRankingService creates a new ranking service. postgresRepo, redisRepo
// and pool may be nil.
func NewRankingService(
	client *lichess.Client,
	coord *fetcher.Coordinator,
	holder *snapshot.Holder,
	postgresRepo *repository.PostgresRepository,
	redisRepo *repository.RedisRepository,
	pool *worker.Pool,
	cfg *config.Config,
	logger *logrus.Logger,
) *RankingService {
	return &RankingService{
		client:       client,
		coord:        coord,
		holder:       holder,
		postgresRepo: postgresRepo,
		redisRepo:    redisRepo,
		pool:         pool,
		cfg:          cfg,
		logger:       logger,
	}
}

// Refresh regenerates the snapshot end to end and returns the number of
// ranked players. A roster failure aborts the run; everything downstream of
// the in-memory swap (file, cache, archive) is best-effort.
func (s *RankingService) Refresh(ctx context.Context) (int, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	s.logger.WithField("team", s.cfg.Team.ID).Info("Loading team roster")

	members, err := s.client.ListTeamMembers(ctx, s.cfg.Team.ID)
	if err != nil {
		return 0, fmt.Errorf("list team members: %w", err)
	}

	s.logger.WithField("members", len(members)).Info("Collecting player profiles")

	players := s.coord.FetchAll(ctx, members)
	prev := s.previousSnapshot(ctx)

	snap := ranking.Rank(players, prev, time.Now(), s.cfg.ActivityWindow())
	s.holder.Swap(snap)

	if err := snapshot.Write(s.cfg.Snapshot.Path, snap); err != nil {
		s.logger.WithError(err).Warn("Failed to write snapshot file")
	}

	if s.redisRepo != nil {
		if err := s.redisRepo.SaveSnapshot(ctx, snap); err != nil {
			s.logger.WithError(err).Warn("Failed to cache snapshot in Redis")
		}
	}

	if s.pool != nil {
		for _, p := range snap.Players {
			// Submit already logs drops; refresh result is unaffected
			_ = s.pool.Submit(worker.ArchiveTask{Player: p})
		}
	}

	s.logger.WithField("players", snap.Count).Info("Snapshot generated")
	return snap.Count, nil
}

// previousSnapshot finds the best available delta baseline: the currently
// served snapshot, then the snapshot file, then the Redis cache, then a
// baseline synthesized from the Postgres archive. nil on a true first run.
func (s *RankingService) previousSnapshot(ctx context.Context) *models.Snapshot {
	if snap := s.holder.Get(); snap != nil {
		return snap
	}

	if snap, err := snapshot.Load(s.cfg.Snapshot.Path); err == nil {
		return snap
	}

	if s.redisRepo != nil {
		if snap, err := s.redisRepo.LoadSnapshot(ctx); err == nil && snap != nil {
			return snap
		}
	}

	if s.postgresRepo != nil {
		if snap := s.archivedSnapshot(ctx); snap != nil {
			return snap
		}
	}

	return nil
}

// archivedSnapshot rebuilds a baseline from the rating archive. Positions
// follow the archive's blitz ordering.
func (s *RankingService) archivedSnapshot(ctx context.Context) *models.Snapshot {
	ratings, err := s.postgresRepo.GetAllRatings(ctx)
	if err != nil || len(ratings) == 0 {
		return nil
	}

	players := make([]*models.Player, 0, len(ratings))
	for idx, r := range ratings {
		players = append(players, &models.Player{
			Username: r.Username,
			Name:     r.Name,
			Blitz:    r.Blitz,
			Bullet:   r.Bullet,
			Rapid:    r.Rapid,
			SeenAt:   r.SeenAt,
			Position: idx + 1,
		})
	}
	return &models.Snapshot{Players: players, Count: len(players)}
}

// Snapshot returns the currently served snapshot, nil before the first load
func (s *RankingService) Snapshot() *models.Snapshot {
	return s.holder.Get()
}

// SnapshotVersion returns the version consumed by WebSocket heartbeats.
// With Redis enabled the shared counter is used so every instance agrees.
func (s *RankingService) SnapshotVersion(ctx context.Context) (int64, error) {
	if s.redisRepo != nil {
		return s.redisRepo.GetVersion(ctx)
	}
	return s.holder.Version(), nil
}

// Search finds one player in the current snapshot by case-insensitive
// username.
func (s *RankingService) Search(username string) (*models.SearchResponse, error) {
	snap := s.holder.Get()
	if snap == nil {
		return nil, fmt.Errorf("data not loaded yet")
	}

	key := strings.ToLower(strings.TrimSpace(username))
	for _, p := range snap.Players {
		if p.Key() == key {
			return &models.SearchResponse{
				Position: p.Position,
				Username: p.Username,
				Name:     p.Name,
				Blitz:    p.Blitz,
				Bullet:   p.Bullet,
				Rapid:    p.Rapid,
				Profile:  p.Profile,
			}, nil
		}
	}
	return nil, fmt.Errorf("player %q not found", username)
}

// CountVisit bumps the visit counter when the cache is available
func (s *RankingService) CountVisit(ctx context.Context) {
	if s.redisRepo == nil {
		return
	}
	if _, err := s.redisRepo.IncrVisits(ctx); err != nil {
		s.logger.WithError(err).Debug("Failed to count visit")
	}
}

// Visits returns the visit counter, zero without a cache
func (s *RankingService) Visits(ctx context.Context) int64 {
	if s.redisRepo == nil {
		return 0
	}
	visits, err := s.redisRepo.GetVisits(ctx)
	if err != nil {
		return 0
	}
	return visits
}

// PoolMetrics exposes archive pool metrics for the stats endpoint
func (s *RankingService) PoolMetrics() map[string]interface{} {
	if s.pool == nil {
		return nil
	}
	return s.pool.GetMetrics()
}

// HealthCheck pings the configured dependencies
func (s *RankingService) HealthCheck(ctx context.Context) error {
	if s.redisRepo != nil {
		if err := s.redisRepo.Ping(ctx); err != nil {
			return fmt.Errorf("redis health check failed: %w", err)
		}
	}
	if s.postgresRepo != nil {
		if err := s.postgresRepo.Ping(ctx); err != nil {
			return fmt.Errorf("postgres health check failed: %w", err)
		}
	}
	return nil
}
