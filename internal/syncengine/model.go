package syncengine

import (
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
)

// LocalProduct is the client's working copy of one catalog entry. The whole
// table is replaced atomically on every successful sync; rows are never
// merged individually.
type LocalProduct struct {
	ID          string                `gorm:"column:product_id;primaryKey;size:36;not null"`
	Category    string                `gorm:"column:category;size:32;not null"`
	PointValue  int64                 `gorm:"column:point_value;not null"`
	Name        catalog.LocalizedText `gorm:"column:name_i18n;type:text;serializer:json"`
	Description catalog.LocalizedText `gorm:"column:description_i18n;type:text;serializer:json"`
	Effects     catalog.LocalizedText `gorm:"column:effects_i18n;type:text;serializer:json"`
	SideEffects catalog.LocalizedText `gorm:"column:side_effects_i18n;type:text;serializer:json"`
	GoodFor     catalog.LocalizedText `gorm:"column:good_for_i18n;type:text;serializer:json"`
	Tags        []string              `gorm:"column:tags;type:text;serializer:json"`
	UpdatedAt   string                `gorm:"column:updated_at;size:64"`
	SyncedAt    time.Time             `gorm:"column:synced_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (LocalProduct) TableName() string {
	return "local_products"
}

// syncMetaKey is the primary key of the single sync-metadata row.
const syncMetaKey = "default"

// SyncMeta records the last successful sync per device. Created on first
// sync, updated after every applied (non-304) sync, removed only on wipe.
type SyncMeta struct {
	Key           string    `gorm:"column:meta_key;primaryKey;size:32;not null"`
	LastETag      string    `gorm:"column:last_etag;size:64;not null"`
	LastSyncAt    time.Time `gorm:"column:last_sync_at;not null"`
	SourceURL     string    `gorm:"column:source_url;size:512;not null"`
	SchemaVersion string    `gorm:"column:schema_version;size:64;not null"`
}

// TableName provides the explicit table binding for GORM.
func (SyncMeta) TableName() string {
	return "sync_meta"
}
