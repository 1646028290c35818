package producer

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrNotFound = errors.New("publication record not found")

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&PublicationRecord{})
}

func (r *Repository) Create(ctx context.Context, rec *PublicationRecord) error {
	rec.CreatedAt = time.Now().UTC()
	rec.UpdatedAt = rec.CreatedAt
	return r.db.WithContext(ctx).Create(rec).Error
}

func (r *Repository) Update(ctx context.Context, rec *PublicationRecord) error {
	rec.UpdatedAt = time.Now().UTC()
	return r.db.WithContext(ctx).Save(rec).Error
}

func (r *Repository) Get(ctx context.Context, publicationID string) (*PublicationRecord, error) {
	var rec PublicationRecord
	result := r.db.WithContext(ctx).First(&rec, "publication_id = ?", publicationID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	return &rec, result.Error
}

func (r *Repository) FindByCorrelationID(ctx context.Context, correlationID string) ([]PublicationRecord, error) {
	var recs []PublicationRecord
	err := r.db.WithContext(ctx).
		Where("correlation_id = ?", correlationID).
		Order("sent_at asc").
		Find(&recs).Error
	return recs, err
}
