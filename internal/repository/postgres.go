package repository

import (
	"context"

	"backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PostgresRepository archives the last known ratings per player. The archive
// survives restarts, so it doubles as a previous-ratings source for delta
// computation when no snapshot file or cache exists.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new Postgres repository
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// UpsertRating creates or updates a player's archived ratings
// Uses ON CONFLICT to handle upserts efficiently
func (r *PostgresRepository) UpsertRating(ctx context.Context, p *models.Player) error {
	rating := models.PlayerRating{
		Username: p.Username,
		Name:     p.Name,
		Blitz:    p.Blitz,
		Bullet:   p.Bullet,
		Rapid:    p.Rapid,
		SeenAt:   p.SeenAt,
	}

	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "username"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "blitz", "bullet", "rapid", "seen_at", "updated_at"}),
	}).Create(&rating).Error
}

// GetAllRatings retrieves the full archive ordered by blitz rating
func (r *PostgresRepository) GetAllRatings(ctx context.Context) ([]models.PlayerRating, error) {
	var ratings []models.PlayerRating
	err := r.db.WithContext(ctx).Order("blitz DESC").Find(&ratings).Error
	return ratings, err
}

// GetTotalRatings returns the number of archived players
func (r *PostgresRepository) GetTotalRatings(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.PlayerRating{}).Count(&count).Error
	return count, err
}

// Ping checks if database is reachable
func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations
func (r *PostgresRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.PlayerRating{})
}
