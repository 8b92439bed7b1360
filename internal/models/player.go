package models

import (
	"strings"
	"time"
)

// UnknownName is the sentinel display name used when a player's profile
// carries no usable real name.
const UnknownName = "Sem nome registrado"

// Player represents one team member in the ranking system
type Player struct {
	Username string `json:"username"`
	Name     string `json:"name"`
	Blitz    int    `json:"blitz"`
	Bullet   int    `json:"bullet"`
	Rapid    int    `json:"rapid"`
	SeenAt   int64  `json:"seenAt"`
	Profile  string `json:"profile"`

	// Derived fields, attached by the ranking phase only
	BlitzDiff      int     `json:"blitz_diff"`
	BulletDiff     int     `json:"bullet_diff"`
	RapidDiff      int     `json:"rapid_diff"`
	Position       int     `json:"position"`
	PositionChange *int    `json:"position_change"`
	PositionArrow  *string `json:"position_arrow"`

	// Recent rating-history diffs, used as delta fallback for players
	// missing from the previous snapshot. Never served.
	RecentBlitzDiff  *int `json:"-"`
	RecentBulletDiff *int `json:"-"`
	RecentRapidDiff  *int `json:"-"`
}

// RatingSum returns the combined rating across all categories,
// used to break deduplication collisions.
func (p *Player) RatingSum() int {
	return p.Blitz + p.Bullet + p.Rapid
}

// Key returns the canonical identity of the player for deduplication
// and snapshot comparison (usernames are case-insensitive).
func (p *Player) Key() string {
	return strings.ToLower(strings.TrimSpace(p.Username))
}

// Snapshot is one complete, timestamped, ranked output of the pipeline
type Snapshot struct {
	GeneratedAt int64     `json:"generated_at"`
	Count       int       `json:"count"`
	Players     []*Player `json:"players"`
}

// PlayerRating is the PostgreSQL archive row for a player's last known ratings
type PlayerRating struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	Username  string    `gorm:"uniqueIndex;not null" json:"username"`
	Name      string    `json:"name"`
	Blitz     int       `gorm:"not null;index" json:"blitz"`
	Bullet    int       `json:"bullet"`
	Rapid     int       `json:"rapid"`
	SeenAt    int64     `json:"seen_at"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName specifies the table name for GORM
func (PlayerRating) TableName() string {
	return "player_ratings"
}

// PlayersPage represents the paginated /api/players response
type PlayersPage struct {
	Total        int       `json:"total"`
	Page         int       `json:"page"`
	PerPage      int       `json:"per_page"`
	Sort         string    `json:"sort"`
	Order        string    `json:"order"`
	DataLoadedAt int64     `json:"data_loaded_at"`
	Items        []*Player `json:"items"`
}

// SearchResponse represents the response for a single-player lookup
type SearchResponse struct {
	Position int    `json:"position"`
	Username string `json:"username"`
	Name     string `json:"name"`
	Blitz    int    `json:"blitz"`
	Bullet   int    `json:"bullet"`
	Rapid    int    `json:"rapid"`
	Profile  string `json:"profile"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
