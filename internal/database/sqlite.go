package database

import (
	"fmt"

	"github.com/CanopyCatalog/canopy/backend/internal/bundle"
	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	"github.com/CanopyCatalog/canopy/backend/internal/syncengine"
	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OpenServerStore establishes the authoritative catalog database and
// performs schema migrations.
func OpenServerStore(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&catalog.Product{}, &bundle.Manifest{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if err := applyMigrations(db, logger, serverMigrations()); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("server database initialized", zap.String("path", path))
	}

	return db, nil
}

// OpenClientStore establishes the client-local database holding the synced
// product copy and sync metadata.
func OpenClientStore(path string, logger *zap.Logger) (*gorm.DB, error) {
	db, err := open(path)
	if err != nil {
		return nil, err
	}

	if err := db.AutoMigrate(&syncengine.LocalProduct{}, &syncengine.SyncMeta{}, &migrationRecord{}); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("client database initialized", zap.String("path", path))
	}

	return db, nil
}

func open(path string) (*gorm.DB, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)

	return db, nil
}
