package consumer

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stockflow/platform/pkg/common/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var ErrNotFound = errors.New("consumption log not found")

// Repository persists consumption logs and the dedup index. Redis, when
// configured, serves as a fast path in front of the processed_messages
// table; the table's unique constraint remains the source of truth.
type Repository struct {
	db       *gorm.DB
	redis    *redis.Client
	dedupTTL time.Duration
}

func NewRepository(db *gorm.DB, redisClient *redis.Client, dedupTTL time.Duration) *Repository {
	return &Repository{db: db, redis: redisClient, dedupTTL: dedupTTL}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&ConsumptionLog{}, &ProcessedMessage{})
}

// Save persists the log synchronously. Every state transition goes through
// here so a crash mid-pipeline always leaves an inspectable trail.
func (r *Repository) Save(ctx context.Context, log *ConsumptionLog) error {
	return r.db.WithContext(ctx).Save(log).Error
}

func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) (*ConsumptionLog, error) {
	var log ConsumptionLog
	result := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("consumed_at desc").
		First(&log)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &log, result.Error
}

// IsMessageAlreadyProcessed reports whether a delivery with this correlation
// id and hash has already completed successfully.
func (r *Repository) IsMessageAlreadyProcessed(ctx context.Context, correlationID, hash string) (bool, error) {
	if r.redis != nil {
		exists, err := r.redis.Exists(ctx, dedupKey(correlationID, hash)).Result()
		if err == nil && exists > 0 {
			return true, nil
		}
		if err != nil {
			logger.Log.WithError(err).Warn("Dedup cache lookup failed, falling back to database")
		}
	}

	var count int64
	err := r.db.WithContext(ctx).Model(&ProcessedMessage{}).
		Where("correlation_id = ? AND message_hash = ?", correlationID, hash).
		Count(&count).Error
	if err != nil {
		return false, err
	}

	if count > 0 && r.redis != nil {
		_ = r.redis.Set(ctx, dedupKey(correlationID, hash), "1", r.dedupTTL).Err()
	}
	return count > 0, nil
}

// MarkProcessed registers a successful processing atomically. The insert
// rides the composite primary key: a conflicting concurrent insert leaves
// RowsAffected at zero, which tells the caller it lost the race.
func (r *Repository) MarkProcessed(ctx context.Context, correlationID, hash string) (bool, error) {
	row := ProcessedMessage{
		CorrelationID: correlationID,
		MessageHash:   hash,
		ProcessedAt:   time.Now().UTC(),
	}
	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
	if result.Error != nil {
		return false, result.Error
	}

	if r.redis != nil {
		if err := r.redis.SetNX(ctx, dedupKey(correlationID, hash), "1", r.dedupTTL).Err(); err != nil {
			logger.Log.WithError(err).Warn("Failed to prime dedup cache")
		}
	}

	return result.RowsAffected > 0, nil
}

func dedupKey(correlationID, hash string) string {
	return "dedup:" + correlationID + ":" + hash
}
