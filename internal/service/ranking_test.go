package service

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"backend/internal/config"
	"backend/internal/fetcher"
	"backend/internal/lichess"
	"backend/internal/models"
	"backend/internal/snapshot"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)
	return logger
}

// upstream fakes the Lichess API for a two-member team where bob's profile
// is permanently unavailable.
func upstream(t *testing.T, aliceBlitz int) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/team/testteam/users":
			w.Write([]byte("{\"id\":\"alice\"}\n{\"id\":\"bob\"}\n"))
		case "/api/user/alice":
			fmt.Fprintf(w, `{
				"perfs": {"blitz": {"rating": %d}, "bullet": {"rating": 1400}, "rapid": {"rating": 1300}},
				"seenAt": %d,
				"profile": {"realName": "Alice Silva"}
			}`, aliceBlitz, time.Now().UnixMilli())
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func newTestService(t *testing.T, serverURL, snapshotPath string) (*RankingService, *snapshot.Holder) {
	t.Helper()

	logger := quietLogger()
	cfg := &config.Config{
		Team: config.TeamConfig{
			ID:         "testteam",
			LichessURL: serverURL,
			UserAgent:  "ranking-test/1.0",
		},
		Fetch: config.FetchConfig{
			MaxWorkers:     2,
			ActiveDays:     30,
			RequestTimeout: 500 * time.Millisecond,
			RetryAttempts:  2,
			RetryBackoff:   time.Millisecond,
		},
		Snapshot: config.SnapshotConfig{Path: snapshotPath},
	}

	client := lichess.NewClient(serverURL, cfg.Team.UserAgent, logger)
	coord := fetcher.New(client.PlayerFetchFunc(false), fetcher.Config{
		MaxWorkers:  cfg.Fetch.MaxWorkers,
		Attempts:    cfg.Fetch.RetryAttempts,
		BaseTimeout: cfg.Fetch.RequestTimeout,
		Backoff:     cfg.Fetch.RetryBackoff,
	}, logger)

	holder := snapshot.NewHolder()
	return NewRankingService(client, coord, holder, nil, nil, nil, cfg, logger), holder
}

func TestRefreshEndToEndDropsUnavailablePlayer(t *testing.T) {
	server := upstream(t, 1500)
	path := filepath.Join(t.TempDir(), "players.json")
	svc, holder := newTestService(t, server.URL, path)

	loaded, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loaded)

	snap := holder.Get()
	require.NotNil(t, snap)
	assert.Equal(t, 1, snap.Count)
	require.Len(t, snap.Players, 1)

	alice := snap.Players[0]
	assert.Equal(t, "alice", alice.Username)
	assert.Equal(t, 1, alice.Position)
	assert.Equal(t, 1500, alice.Blitz)
	assert.Nil(t, alice.PositionChange, "first run has no previous rank")

	// The snapshot file was written alongside the swap
	fromDisk, err := snapshot.Load(path)
	require.NoError(t, err)
	assert.Equal(t, 1, fromDisk.Count)
}

func TestRefreshComputesDeltasAgainstSnapshotFile(t *testing.T) {
	server := upstream(t, 1500)
	path := filepath.Join(t.TempDir(), "players.json")

	prev := &models.Snapshot{
		GeneratedAt: time.Now().Add(-time.Hour).UnixMilli(),
		Count:       3,
		Players: []*models.Player{
			{Username: "xavier", Blitz: 1600, Position: 1},
			{Username: "yuri", Blitz: 1550, Position: 2},
			{Username: "alice", Blitz: 1480, Bullet: 1400, Rapid: 1300, Position: 3},
		},
	}
	require.NoError(t, snapshot.Write(path, prev))

	svc, holder := newTestService(t, server.URL, path)

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)

	alice := holder.Get().Players[0]
	assert.Equal(t, 20, alice.BlitzDiff)
	require.NotNil(t, alice.PositionChange)
	assert.Equal(t, 2, *alice.PositionChange)
}

func TestRefreshFailsFatallyWithoutRoster(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	svc, holder := newTestService(t, server.URL, filepath.Join(t.TempDir(), "players.json"))

	_, err := svc.Refresh(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, lichess.ErrRosterFetch)
	assert.Nil(t, holder.Get(), "no snapshot is installed on roster failure")
}

func TestSearchAndVersion(t *testing.T) {
	server := upstream(t, 1500)
	svc, holder := newTestService(t, server.URL, filepath.Join(t.TempDir(), "players.json"))

	_, err := svc.Search("alice")
	assert.Error(t, err, "search before load fails")

	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	result, err := svc.Search("ALICE")
	require.NoError(t, err)
	assert.Equal(t, 1, result.Position)
	assert.Equal(t, "Alice Silva", result.Name)

	_, err = svc.Search("bob")
	assert.Error(t, err, "dropped players are absent, not marked")

	version, err := svc.SnapshotVersion(context.Background())
	require.NoError(t, err)
	assert.Equal(t, holder.Version(), version)
	assert.Equal(t, int64(1), version)
}

func TestRefreshSecondRunUsesServedSnapshotAsBaseline(t *testing.T) {
	var blitz atomic.Int64
	blitz.Store(1480)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/team/testteam/users":
			w.Write([]byte("{\"id\":\"alice\"}\n"))
		case "/api/user/alice":
			fmt.Fprintf(w, `{"perfs":{"blitz":{"rating":%d}},"seenAt":%d}`,
				blitz.Load(), time.Now().UnixMilli())
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(server.Close)

	svc, holder := newTestService(t, server.URL, filepath.Join(t.TempDir(), "players.json"))

	_, err := svc.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, holder.Get().Players[0].BlitzDiff)

	blitz.Store(1520)
	_, err = svc.Refresh(context.Background())
	require.NoError(t, err)

	alice := holder.Get().Players[0]
	assert.Equal(t, 40, alice.BlitzDiff)
	assert.Equal(t, int64(2), holder.Version())
}
