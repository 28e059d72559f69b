package database

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openMigrationDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "migrate.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.AutoMigrate(&catalog.Product{}, &migrationRecord{}); err != nil {
		t.Fatalf("migrating schema: %v", err)
	}
	return db
}

func TestCoerceLegacyLanguageCodesMigration(t *testing.T) {
	db := openMigrationDatabase(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	legacy := catalog.Product{
		ID:        "11111111-1111-7111-8111-111111111111",
		Category:  string(catalog.CategoryHealth),
		Name:      catalog.LocalizedText{"jp": "試供品", "en": "sample"},
		Effects:   catalog.LocalizedText{"kr": "효과"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := db.Create(&legacy).Error; err != nil {
		t.Fatalf("seeding legacy product: %v", err)
	}

	if err := applyMigrations(db, nil, serverMigrations()); err != nil {
		t.Fatalf("applying migrations: %v", err)
	}

	var migrated catalog.Product
	if err := db.Where("product_id = ?", legacy.ID).Take(&migrated).Error; err != nil {
		t.Fatalf("loading migrated product: %v", err)
	}
	if migrated.Name["ja"] != "試供品" {
		t.Fatalf("jp name not folded onto ja: %v", migrated.Name)
	}
	if _, ok := migrated.Name["jp"]; ok {
		t.Fatalf("legacy jp key survived migration: %v", migrated.Name)
	}
	if migrated.Effects["ko"] != "효과" {
		t.Fatalf("kr effects not folded onto ko: %v", migrated.Effects)
	}
	if !migrated.UpdatedAt.Equal(now) {
		t.Fatalf("migration moved updated_at: %v", migrated.UpdatedAt)
	}
}

func TestMigrationsRunOnce(t *testing.T) {
	db := openMigrationDatabase(t)

	if err := applyMigrations(db, nil, serverMigrations()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := applyMigrations(db, nil, serverMigrations()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	var count int64
	if err := db.Model(&migrationRecord{}).Count(&count).Error; err != nil {
		t.Fatalf("counting migration records: %v", err)
	}
	if count != int64(len(serverMigrations())) {
		t.Fatalf("migration records = %d, want %d", count, len(serverMigrations()))
	}
}

func TestOpenServerStoreMigratesSchema(t *testing.T) {
	db, err := OpenServerStore(filepath.Join(t.TempDir(), "server.db"), nil)
	if err != nil {
		t.Fatalf("opening server store: %v", err)
	}
	for _, table := range []string{"catalog_products", "bundle_manifests", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("table %q missing after open", table)
		}
	}
}

func TestOpenClientStoreMigratesSchema(t *testing.T) {
	db, err := OpenClientStore(filepath.Join(t.TempDir(), "client.db"), nil)
	if err != nil {
		t.Fatalf("opening client store: %v", err)
	}
	for _, table := range []string{"local_products", "sync_meta", "db_migrations"} {
		if !db.Migrator().HasTable(table) {
			t.Fatalf("table %q missing after open", table)
		}
	}
}

func TestOpenRejectsEmptyPath(t *testing.T) {
	if _, err := OpenServerStore("", nil); err == nil {
		t.Fatalf("empty path accepted")
	}
}
