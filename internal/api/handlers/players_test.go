package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"backend/internal/config"
	"backend/internal/models"
	"backend/internal/service"
	"backend/internal/snapshot"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fixtureSnapshot() *models.Snapshot {
	return &models.Snapshot{
		GeneratedAt: 1700000000000,
		Count:       3,
		Players: []*models.Player{
			{Username: "carol", Name: "Carol", Blitz: 1800, Bullet: 1500, Rapid: 1600, Position: 1},
			{Username: "Alice", Name: "Alice", Blitz: 1500, Bullet: 1700, Rapid: 1300, Position: 2},
			{Username: "bob", Name: "Bob", Blitz: 1200, Bullet: 1100, Rapid: 1900, Position: 3},
		},
	}
}

func testApp(t *testing.T, snap *models.Snapshot) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	holder := snapshot.NewHolder()
	if snap != nil {
		holder.Swap(snap)
	}

	cfg := &config.Config{}
	svc := service.NewRankingService(nil, nil, holder, nil, nil, nil, cfg, logger)
	handler := NewPlayerHandler(svc, logger)

	app := fiber.New()
	app.Get("/players.json", handler.PlayersJSON)
	app.Get("/api/players", handler.APIPlayers)
	app.Get("/api/players/:username", handler.SearchPlayer)
	app.Get("/api/health", handler.HealthCheck)
	app.Get("/api/stats", handler.Stats)
	app.Post("/admin/refresh", handler.AdminRefresh)
	return app
}

func decodeBody(t *testing.T, resp *http.Response, out interface{}) {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(body, out))
}

func TestPlayersJSONBeforeLoadReturns503(t *testing.T) {
	app := testApp(t, nil)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/players.json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)

	var errResp models.ErrorResponse
	decodeBody(t, resp, &errResp)
	assert.Equal(t, "data not loaded yet", errResp.Error)
}

func TestPlayersJSONServesFullSnapshot(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/players.json", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "application/json")

	var snap models.Snapshot
	decodeBody(t, resp, &snap)
	assert.Equal(t, int64(1700000000000), snap.GeneratedAt)
	assert.Equal(t, 3, snap.Count)
	require.Len(t, snap.Players, 3)
	assert.Equal(t, "carol", snap.Players[0].Username)
}

func TestAPIPlayersDefaults(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PerPage)
	assert.Equal(t, "blitz", page.Sort)
	assert.Equal(t, "desc", page.Order)
	assert.Equal(t, 3, page.Total)
	assert.Equal(t, int64(1700000000000), page.DataLoadedAt)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "carol", page.Items[0].Username)
}

func TestAPIPlayersInvalidParamsFallBackToDefaults(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	target := "/api/players?page=-3&per_page=zero&sort=hacker&order=sideways"
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, target, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	assert.Equal(t, 1, page.Page)
	assert.Equal(t, 20, page.PerPage)
	assert.Equal(t, "blitz", page.Sort)
	assert.Equal(t, "desc", page.Order)
}

func TestAPIPlayersSortByUsernameAscending(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players?sort=username&order=asc", nil))
	require.NoError(t, err)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	require.Len(t, page.Items, 3)
	// Case-insensitive username ordering
	assert.Equal(t, "Alice", page.Items[0].Username)
	assert.Equal(t, "bob", page.Items[1].Username)
	assert.Equal(t, "carol", page.Items[2].Username)
}

func TestAPIPlayersSortByBulletDescending(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players?sort=bullet", nil))
	require.NoError(t, err)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	require.Len(t, page.Items, 3)
	assert.Equal(t, "Alice", page.Items[0].Username)
	assert.Equal(t, 1700, page.Items[0].Bullet)
}

func TestAPIPlayersPagination(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players?page=2&per_page=2", nil))
	require.NoError(t, err)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	assert.Equal(t, 2, page.Page)
	assert.Equal(t, 3, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "bob", page.Items[0].Username)
}

func TestAPIPlayersPageBeyondRangeIsEmpty(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players?page=99", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var page models.PlayersPage
	decodeBody(t, resp, &page)
	assert.Empty(t, page.Items)
	assert.Equal(t, 3, page.Total)
}

func TestSearchPlayerCaseInsensitive(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players/ALICE", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)

	var result models.SearchResponse
	decodeBody(t, resp, &result)
	assert.Equal(t, 2, result.Position)
	assert.Equal(t, "Alice", result.Username)
}

func TestSearchPlayerNotFound(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/players/ghost", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestAdminRefreshForbiddenForNonLoopback(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/admin/refresh", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	var errResp models.ErrorResponse
	decodeBody(t, resp, &errResp)
	assert.Equal(t, "forbidden", errResp.Error)
}

func TestHealthCheckWithoutDependencies(t *testing.T) {
	app := testApp(t, fixtureSnapshot())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/health", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestIsLoopback(t *testing.T) {
	tests := []struct {
		ip   string
		want bool
	}{
		{"127.0.0.1", true},
		{"::1", true},
		{"127.0.0.2", true},
		{"192.168.1.10", false},
		{"8.8.8.8", false},
		{"0.0.0.0", false},
		{"not-an-ip", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, isLoopback(tt.ip), "ip %q", tt.ip)
	}
}
