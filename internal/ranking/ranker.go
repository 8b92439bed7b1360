package ranking

import (
	"sort"
	"strings"
	"time"

	"backend/internal/models"
)

// Position arrows rendered by the frontend table
const (
	arrowUp     = "▲"
	arrowDown   = "▼"
	arrowSteady = "→"
)

// Rank builds a fresh snapshot from the fetched records: deduplicates by
// username, drops inactive players, sorts by rating, assigns positions and
// computes deltas against the previous snapshot. Input records and the
// previous snapshot are never mutated.
func Rank(players []*models.Player, prev *models.Snapshot, now time.Time, window time.Duration) *models.Snapshot {
	deduped := dedupe(players)
	active := filterActive(deduped, now, window)

	sort.SliceStable(active, func(i, j int) bool {
		if active[i].Blitz != active[j].Blitz {
			return active[i].Blitz > active[j].Blitz
		}
		if active[i].Bullet != active[j].Bullet {
			return active[i].Bullet > active[j].Bullet
		}
		return active[i].Rapid > active[j].Rapid
	})

	prevPlayers, prevPositions := indexPrevious(prev)

	for idx, p := range active {
		if strings.TrimSpace(p.Name) == "" {
			p.Name = models.UnknownName
		}

		p.Position = idx + 1
		key := p.Key()

		if prevPlayer, ok := prevPlayers[key]; ok {
			p.BlitzDiff = p.Blitz - prevPlayer.Blitz
			p.BulletDiff = p.Bullet - prevPlayer.Bullet
			p.RapidDiff = p.Rapid - prevPlayer.Rapid
		} else {
			p.BlitzDiff = fallbackDiff(p.RecentBlitzDiff)
			p.BulletDiff = fallbackDiff(p.RecentBulletDiff)
			p.RapidDiff = fallbackDiff(p.RecentRapidDiff)
		}

		if prevPos, ok := prevPositions[key]; ok {
			change := prevPos - p.Position
			p.PositionChange = &change
			p.PositionArrow = arrowFor(change)
		} else {
			// New entrant: no previous position, distinct from "unchanged"
			p.PositionChange = nil
			p.PositionArrow = nil
		}
	}

	return &models.Snapshot{
		GeneratedAt: now.UnixMilli(),
		Count:       len(active),
		Players:     active,
	}
}

// dedupe groups records by canonical username. On collision the record with
// the higher combined rating wins; ties go to the more recently seen one.
// Output records are copies, safe to annotate.
func dedupe(players []*models.Player) []*models.Player {
	byUser := make(map[string]*models.Player, len(players))
	order := make([]string, 0, len(players))

	for _, p := range players {
		key := p.Key()
		if key == "" {
			continue
		}
		current, ok := byUser[key]
		if !ok {
			clone := *p
			byUser[key] = &clone
			order = append(order, key)
			continue
		}
		if betterDuplicate(p, current) {
			clone := *p
			byUser[key] = &clone
		}
	}

	out := make([]*models.Player, 0, len(order))
	for _, key := range order {
		out = append(out, byUser[key])
	}
	return out
}

func betterDuplicate(candidate, current *models.Player) bool {
	if candidate.RatingSum() != current.RatingSum() {
		return candidate.RatingSum() > current.RatingSum()
	}
	return candidate.SeenAt > current.SeenAt
}

// filterActive keeps players seen within the activity window. The boundary
// is inclusive; a zero SeenAt means "never seen" and is always dropped.
func filterActive(players []*models.Player, now time.Time, window time.Duration) []*models.Player {
	cutoff := now.UnixMilli() - window.Milliseconds()

	active := make([]*models.Player, 0, len(players))
	for _, p := range players {
		if p.SeenAt == 0 {
			continue
		}
		if p.SeenAt >= cutoff {
			active = append(active, p)
		}
	}
	return active
}

// indexPrevious maps canonical usernames of the previous snapshot to their
// records and 1-based positions.
func indexPrevious(prev *models.Snapshot) (map[string]*models.Player, map[string]int) {
	players := make(map[string]*models.Player)
	positions := make(map[string]int)
	if prev == nil {
		return players, positions
	}
	for idx, p := range prev.Players {
		key := p.Key()
		if key == "" {
			continue
		}
		players[key] = p
		if p.Position > 0 {
			positions[key] = p.Position
		} else {
			positions[key] = idx + 1
		}
	}
	return players, positions
}

// fallbackDiff uses the recent rating-history movement when the player was
// absent from the previous snapshot, else zero.
func fallbackDiff(recent *int) int {
	if recent != nil {
		return *recent
	}
	return 0
}

func arrowFor(change int) *string {
	arrow := arrowSteady
	switch {
	case change > 0:
		arrow = arrowUp
	case change < 0:
		arrow = arrowDown
	}
	return &arrow
}
