package database

import (
	"errors"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const migrationCoerceLegacyLanguageCodes = "2026-07-12_coerce_legacy_language_codes"

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func serverMigrations() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationCoerceLegacyLanguageCodes, apply: coerceLegacyLanguageCodes},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger, migrations []migrationDefinition) error {
	for _, migration := range migrations {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err := migration.apply(db); err != nil {
			return err
		}
		appliedAt := time.Now().UTC().Unix()
		if err := db.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error; err != nil {
			return err
		}
		if logger != nil {
			logger.Info("database migration applied", zap.String("migration", migration.name))
		}
	}
	return nil
}

// coerceLegacyLanguageCodes rewrites localized columns persisted under the
// pre-canonical language tuples (jp, kr, zh-CN, ...) onto the canonical set.
func coerceLegacyLanguageCodes(db *gorm.DB) error {
	var products []catalog.Product
	if err := db.Find(&products).Error; err != nil {
		return err
	}

	for i := range products {
		product := &products[i]
		changed := false

		for _, field := range []*catalog.LocalizedText{
			&product.Name,
			&product.Description,
			&product.Effects,
			&product.SideEffects,
			&product.GoodFor,
		} {
			coerced, fieldChanged := catalog.CoerceLocalized(*field)
			if fieldChanged {
				*field = coerced
				changed = true
			}
		}

		if !changed {
			continue
		}
		if err := db.Save(product).Error; err != nil {
			return err
		}
	}
	return nil
}
