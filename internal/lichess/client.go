package lichess

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"backend/internal/models"

	"github.com/sirupsen/logrus"
)

// ErrRosterFetch marks a failure to retrieve the team roster. Without a
// roster there is nothing to rank, so callers must treat it as fatal.
var ErrRosterFetch = errors.New("roster fetch failed")

// maxLineSize bounds a single NDJSON roster line (profiles with long bios)
const maxLineSize = 1 << 20

// Client talks to the Lichess public API
type Client struct {
	httpClient *http.Client
	baseURL    string
	userAgent  string
	logger     *logrus.Logger
}

// NewClient creates a Lichess API client. The zero timeout on the underlying
// http.Client is intentional: per-call deadlines are set via context so the
// retry coordinator can grow them between attempts.
func NewClient(baseURL, userAgent string, logger *logrus.Logger) *Client {
	return &Client{
		httpClient: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        25,
				MaxIdleConnsPerHost: 25,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL:   strings.TrimRight(baseURL, "/"),
		userAgent: userAgent,
		logger:    logger,
	}
}

// memberLine is one record of the team roster NDJSON feed. The upstream
// schema has varied over time, so several alternative identifier fields
// are accepted.
type memberLine struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	User     struct {
		ID string `json:"id"`
	} `json:"user"`
}

// username resolves the member identifier from the alternative fields,
// first non-empty wins.
func (m memberLine) username() string {
	for _, candidate := range []string{m.ID, m.Username, m.User.ID} {
		if candidate != "" {
			return candidate
		}
	}
	return ""
}

// ListTeamMembers streams the team roster feed and returns the unique
// usernames in first-seen order. Any transport or status failure is fatal.
func (c *Client) ListTeamMembers(ctx context.Context, teamID string) ([]string, error) {
	endpoint := fmt.Sprintf("%s/api/team/%s/users", c.baseURL, url.PathEscape(teamID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterFetch, err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRosterFetch, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: unexpected status %d", ErrRosterFetch, resp.StatusCode)
	}

	var (
		users []string
		seen  = make(map[string]struct{})
	)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var member memberLine
		if err := json.Unmarshal([]byte(line), &member); err != nil {
			continue
		}
		username := member.username()
		if username == "" {
			continue
		}
		if _, ok := seen[username]; ok {
			continue
		}
		seen[username] = struct{}{}
		users = append(users, username)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: reading roster stream: %v", ErrRosterFetch, err)
	}

	return users, nil
}

// perf is one rating category in the user profile payload
type perf struct {
	Rating json.Number `json:"rating"`
}

// userResponse is the subset of the Lichess user profile payload we consume
type userResponse struct {
	Perfs   map[string]perf        `json:"perfs"`
	SeenAt  json.Number            `json:"seenAt"`
	Profile map[string]interface{} `json:"profile"`
	Name    string                 `json:"name"`
}

// nameFields are the profile fields checked for a display name, in
// preference order.
var nameFields = []string{"realName", "name", "fullName", "displayName"}

// FetchUserOnce issues a single profile request with the given timeout and
// returns the normalized player record, or nil when the response is missing,
// malformed, or lacks a positive blitz rating. It never returns an error:
// absence of a valid record is an expected outcome, and the caller decides
// whether to retry or drop.
func (c *Client) FetchUserOnce(ctx context.Context, username string, timeout time.Duration) *models.Player {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/user/%s", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var data userResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil
	}

	blitzPerf, ok := data.Perfs["blitz"]
	if !ok || blitzPerf.Rating == "" {
		return nil
	}
	blitz, ok := safeInt(blitzPerf.Rating)
	if !ok || blitz <= 0 {
		return nil
	}

	bullet, _ := safeInt(data.Perfs["bullet"].Rating)
	rapid, _ := safeInt(data.Perfs["rapid"].Rating)
	seenAt, _ := safeInt64(data.SeenAt)

	return &models.Player{
		Username: username,
		Name:     resolveName(data.Profile, data.Name),
		Blitz:    blitz,
		Bullet:   bullet,
		Rapid:    rapid,
		SeenAt:   seenAt,
		Profile:  fmt.Sprintf("%s/@/%s", c.baseURL, url.PathEscape(username)),
	}
}

// PlayerFetchFunc adapts the client into the single-attempt fetch function
// consumed by the retry coordinator. With history enabled a successful
// profile fetch also collects the recent rating movement used as the delta
// fallback for new entrants.
func (c *Client) PlayerFetchFunc(withHistory bool) func(ctx context.Context, username string, timeout time.Duration) *models.Player {
	return func(ctx context.Context, username string, timeout time.Duration) *models.Player {
		player := c.FetchUserOnce(ctx, username, timeout)
		if player == nil || !withHistory {
			return player
		}
		history := c.FetchRatingHistory(ctx, username, timeout)
		player.RecentBlitzDiff = history.Blitz
		player.RecentBulletDiff = history.Bullet
		player.RecentRapidDiff = history.Rapid
		return player
	}
}

// historyEntry is one rating category in the rating-history payload:
// {name, points: [[timestamp, rating], ...]}
type historyEntry struct {
	Name   string          `json:"name"`
	Points [][]json.Number `json:"points"`
}

// History carries the most recent rating movement per category; a nil
// entry means no usable history for that category.
type History struct {
	Blitz  *int
	Bullet *int
	Rapid  *int
}

// FetchRatingHistory returns the diff between the last two rating-history
// points per category. Like FetchUserOnce it never fails: anything
// unusable simply yields nil diffs.
func (c *Client) FetchRatingHistory(ctx context.Context, username string, timeout time.Duration) History {
	var out History

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	endpoint := fmt.Sprintf("%s/api/user/%s/rating-history", c.baseURL, url.PathEscape(username))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return out
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return out
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return out
	}

	var entries []historyEntry
	if err := json.NewDecoder(resp.Body).Decode(&entries); err != nil {
		return out
	}

	for _, entry := range entries {
		diff := recentDiff(entry.Points)
		switch strings.ToLower(entry.Name) {
		case "blitz":
			out.Blitz = diff
		case "bullet":
			out.Bullet = diff
		case "rapid":
			out.Rapid = diff
		}
	}

	return out
}

// recentDiff computes last minus previous rating from a points series,
// nil when fewer than two usable points exist.
func recentDiff(points [][]json.Number) *int {
	if len(points) < 2 {
		return nil
	}
	last := points[len(points)-1]
	prev := points[len(points)-2]
	if len(last) < 2 || len(prev) < 2 {
		return nil
	}
	lastRating, okLast := safeInt(last[1])
	prevRating, okPrev := safeInt(prev[1])
	if !okLast || !okPrev {
		return nil
	}
	diff := lastRating - prevRating
	return &diff
}

// resolveName picks the display name from the profile fields in preference
// order, composing first+last when no direct field matched. Falls back to
// the sentinel unknown-name value.
func resolveName(profile map[string]interface{}, topLevelName string) string {
	for _, field := range nameFields {
		if name := stringField(profile, field); name != "" {
			return name
		}
	}

	first := stringField(profile, "firstName")
	last := stringField(profile, "lastName")
	if first != "" && last != "" {
		return first + " " + last
	}
	if first != "" {
		return first
	}

	if name := strings.TrimSpace(topLevelName); name != "" {
		return name
	}

	return models.UnknownName
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if v, ok := m[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}

// safeInt coerces a JSON number to an integer, flooring floats. The second
// return reports whether coercion succeeded.
func safeInt(n json.Number) (int, bool) {
	v, ok := safeInt64(n)
	return int(v), ok
}

func safeInt64(n json.Number) (int64, bool) {
	if n == "" {
		return 0, false
	}
	if v, err := n.Int64(); err == nil {
		return v, true
	}
	if f, err := n.Float64(); err == nil {
		return int64(f), true
	}
	return 0, false
}
