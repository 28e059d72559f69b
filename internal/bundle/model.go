package bundle

import (
	"encoding/json"
	"time"
)

// SchemaVersion identifies the payload shape; consumers reject any mismatch.
const SchemaVersion = "catalog-bundle/1"

// Product is the wire shape of one catalog entry inside a bundle.
type Product struct {
	ID          string            `json:"id"`
	Category    string            `json:"category"`
	PointValue  int64             `json:"pointValue"`
	Name        map[string]string `json:"name"`
	Description map[string]string `json:"description"`
	Effects     map[string]string `json:"effects"`
	SideEffects map[string]string `json:"sideEffects"`
	GoodFor     map[string]string `json:"goodFor"`
	Tags        []string          `json:"tags"`
	UpdatedAt   string            `json:"updatedAt"`
}

// Bundle is the immutable full-catalog snapshot distributed to clients.
type Bundle struct {
	SchemaVersion string            `json:"schemaVersion"`
	BuiltAt       string            `json:"builtAt"`
	Products      []Product         `json:"products"`
	PurchaseLog   []json.RawMessage `json:"purchaseLog"`
}

// Manifest is the single metadata row describing the latest artifact,
// keyed by its logical path and replaced wholesale on every build.
type Manifest struct {
	Path          string    `gorm:"column:path;primaryKey;size:255;not null"`
	ETag          string    `gorm:"column:etag;size:64;not null"`
	SchemaVersion string    `gorm:"column:schema_version;size:64;not null"`
	BuiltAt       time.Time `gorm:"column:built_at;not null"`
	SizeBytes     int64     `gorm:"column:size_bytes;not null"`
	UpdatedAt     time.Time `gorm:"column:updated_at"`
}

// TableName provides the explicit table binding for GORM.
func (Manifest) TableName() string {
	return "bundle_manifests"
}
