package syncengine

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LocalStore is the client-side persistence boundary. ReplaceProducts must be
// atomic: a reader mid-sync sees either the fully-old or fully-new set.
type LocalStore interface {
	Meta(ctx context.Context) (SyncMeta, bool, error)
	PutMeta(ctx context.Context, meta SyncMeta) error
	ReplaceProducts(ctx context.Context, products []LocalProduct, syncedAt time.Time) error
	CountProducts(ctx context.Context) (int64, error)
}

// GormStore implements LocalStore on the client SQLite database.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps a client database handle.
func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if db == nil {
		return nil, errors.New("syncengine: database handle is required")
	}
	return &GormStore{db: db}, nil
}

// Meta loads the sync metadata row; the second return reports presence.
func (s *GormStore) Meta(ctx context.Context) (SyncMeta, bool, error) {
	var meta SyncMeta
	err := s.db.WithContext(ctx).Where("meta_key = ?", syncMetaKey).Take(&meta).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return SyncMeta{}, false, nil
	}
	if err != nil {
		return SyncMeta{}, false, err
	}
	return meta, true, nil
}

// PutMeta upserts the single metadata row.
func (s *GormStore) PutMeta(ctx context.Context, meta SyncMeta) error {
	meta.Key = syncMetaKey
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "meta_key"}}, UpdateAll: true}).
		Create(&meta).Error
}

// ReplaceProducts clears the local table and bulk-inserts the new set in one
// transaction, stamping every row with the sync time.
func (s *GormStore) ReplaceProducts(ctx context.Context, products []LocalProduct, syncedAt time.Time) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("1 = 1").Delete(&LocalProduct{}).Error; err != nil {
			return err
		}
		for i := range products {
			products[i].SyncedAt = syncedAt
		}
		if len(products) == 0 {
			return nil
		}
		return tx.CreateInBatches(products, 200).Error
	})
}

// CountProducts returns the local row count.
func (s *GormStore) CountProducts(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&LocalProduct{}).Count(&count).Error
	return count, err
}
