package handlers

import (
	"net"
	"sort"
	"strconv"
	"strings"

	"backend/internal/models"
	"backend/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// Pagination defaults for /api/players
const (
	defaultPage    = 1
	defaultPerPage = 20
	defaultSort    = "blitz"
	defaultOrder   = "desc"
	maxPerPage     = 100
)

// sortKeys whitelists the accepted sort parameters; anything else silently
// falls back to the default.
var sortKeys = map[string]bool{
	"blitz":    true,
	"bullet":   true,
	"rapid":    true,
	"username": true,
	"position": true,
}

// PlayerHandler handles HTTP requests for the ranking
type PlayerHandler struct {
	service *service.RankingService
	logger  *logrus.Logger
}

// NewPlayerHandler creates a new player handler
func NewPlayerHandler(service *service.RankingService, logger *logrus.Logger) *PlayerHandler {
	return &PlayerHandler{
		service: service,
		logger:  logger,
	}
}

// PlayersJSON handles GET /players.json: the full unpaginated listing in the
// shape the static frontend expects.
func (h *PlayerHandler) PlayersJSON(c *fiber.Ctx) error {
	snap := h.service.Snapshot()
	if snap == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "data not loaded yet",
		})
	}

	h.service.CountVisit(c.Context())
	return c.JSON(snap)
}

// APIPlayers handles GET /api/players with pagination and sorting. Invalid
// parameters fall back to defaults rather than erroring.
func (h *PlayerHandler) APIPlayers(c *fiber.Ctx) error {
	snap := h.service.Snapshot()
	if snap == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "data not loaded yet",
		})
	}

	page, err := strconv.Atoi(c.Query("page", strconv.Itoa(defaultPage)))
	if err != nil || page < 1 {
		page = defaultPage
	}

	perPage, err := strconv.Atoi(c.Query("per_page", strconv.Itoa(defaultPerPage)))
	if err != nil || perPage < 1 {
		perPage = defaultPerPage
	}
	if perPage > maxPerPage {
		perPage = maxPerPage
	}

	sortKey := c.Query("sort", defaultSort)
	if !sortKeys[sortKey] {
		sortKey = defaultSort
	}

	order := c.Query("order", defaultOrder)
	if order != "asc" {
		order = defaultOrder
	}

	items := sortPlayers(snap.Players, sortKey, order == "desc")

	total := len(items)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	h.service.CountVisit(c.Context())

	return c.JSON(models.PlayersPage{
		Total:        total,
		Page:         page,
		PerPage:      perPage,
		Sort:         sortKey,
		Order:        order,
		DataLoadedAt: snap.GeneratedAt,
		Items:        items[start:end],
	})
}

// SearchPlayer handles GET /api/players/:username
func (h *PlayerHandler) SearchPlayer(c *fiber.Ctx) error {
	if h.service.Snapshot() == nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error: "data not loaded yet",
		})
	}

	username := c.Params("username")
	result, err := h.service.Search(username)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(models.ErrorResponse{
			Error:   "player not found",
			Message: err.Error(),
		})
	}
	return c.JSON(result)
}

// AdminRefresh handles POST /admin/refresh. Only loopback callers may
// trigger a regeneration.
func (h *PlayerHandler) AdminRefresh(c *fiber.Ctx) error {
	if !isLoopback(c.IP()) {
		return c.Status(fiber.StatusForbidden).JSON(models.ErrorResponse{
			Error: "forbidden",
		})
	}

	loaded, err := h.service.Refresh(c.Context())
	if err != nil {
		h.logger.WithError(err).Error("Manual refresh failed")
		return c.Status(fiber.StatusInternalServerError).JSON(models.ErrorResponse{
			Error:   "refresh failed",
			Message: err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "ok",
		"loaded": loaded,
	})
}

// Stats handles GET /api/stats
func (h *PlayerHandler) Stats(c *fiber.Ctx) error {
	version, err := h.service.SnapshotVersion(c.Context())
	if err != nil {
		version = 0
	}

	stats := fiber.Map{
		"visits":  h.service.Visits(c.Context()),
		"version": version,
	}
	if metrics := h.service.PoolMetrics(); metrics != nil {
		stats["archive_pool"] = metrics
	}
	return c.JSON(stats)
}

// HealthCheck handles GET /api/health
func (h *PlayerHandler) HealthCheck(c *fiber.Ctx) error {
	if err := h.service.HealthCheck(c.Context()); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(models.ErrorResponse{
			Error:   "health check failed",
			Message: err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"status": "healthy",
		"loaded": h.service.Snapshot() != nil,
	})
}

// sortPlayers returns a sorted copy; the served snapshot is never reordered
// in place.
func sortPlayers(players []*models.Player, key string, desc bool) []*models.Player {
	out := make([]*models.Player, len(players))
	copy(out, players)

	less := func(i, j int) bool {
		switch key {
		case "username":
			return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
		case "bullet":
			return out[i].Bullet < out[j].Bullet
		case "rapid":
			return out[i].Rapid < out[j].Rapid
		case "position":
			return out[i].Position < out[j].Position
		default:
			return out[i].Blitz < out[j].Blitz
		}
	}

	if desc {
		sort.SliceStable(out, func(i, j int) bool { return less(j, i) })
	} else {
		sort.SliceStable(out, less)
	}
	return out
}

// isLoopback reports whether the caller address is a loopback address
func isLoopback(ip string) bool {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil {
		return false
	}
	return parsed.IsLoopback()
}
