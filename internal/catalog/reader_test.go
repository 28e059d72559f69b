package catalog

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

func openTestDatabase(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "catalog.db")), &gorm.Config{})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	if err := db.AutoMigrate(&Product{}); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func mustReader(t *testing.T, db *gorm.DB) *Reader {
	t.Helper()
	reader, err := NewReader(ReaderConfig{Database: db})
	if err != nil {
		t.Fatalf("constructing reader: %v", err)
	}
	return reader
}

func mustCreateProduct(t *testing.T, db *gorm.DB, product Product) {
	t.Helper()
	if err := db.Create(&product).Error; err != nil {
		t.Fatalf("seeding product %s: %v", product.ID, err)
	}
}

func testProduct(id string, createdAt, updatedAt time.Time) Product {
	return Product{
		ID:         id,
		Category:   string(CategoryHealth),
		PointValue: 10,
		Name:       LocalizedText{"ja": "試供品"},
		Tags:       []string{},
		CreatedAt:  createdAt,
		UpdatedAt:  updatedAt,
	}
}

func TestListOrdersNewestFirst(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mustCreateProduct(t, db, testProduct("11111111-1111-7111-8111-111111111111", base, base))
	mustCreateProduct(t, db, testProduct("22222222-2222-7222-8222-222222222222", base.Add(time.Minute), base.Add(time.Minute)))

	products, err := mustReader(t, db).List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(products) != 2 {
		t.Fatalf("list returned %d products, want 2", len(products))
	}
	if products[0].ID != "22222222-2222-7222-8222-222222222222" {
		t.Fatalf("newest product not first: %s", products[0].ID)
	}
}

func TestSnapshotFillsPlaceholders(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	product := testProduct("11111111-1111-7111-8111-111111111111", now, now)
	product.Name = LocalizedText{"ja": "試供品A"}
	mustCreateProduct(t, db, product)

	snapshot, err := mustReader(t, db).Snapshot(context.Background())
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("snapshot size = %d, want 1", len(snapshot))
	}
	for _, language := range Languages() {
		if snapshot[0].Name[language] != "試供品A" {
			t.Fatalf("language %q not back-filled: %v", language, snapshot[0].Name)
		}
	}
}

func TestDeltaRejectsInvalidCursor(t *testing.T) {
	db := openTestDatabase(t)
	_, err := mustReader(t, db).Delta(context.Background(), "yesterday", 10)
	if !errors.Is(err, ErrInvalidDeltaCursor) {
		t.Fatalf("expected ErrInvalidDeltaCursor, got %v", err)
	}
}

func TestDeltaReturnsOnlyNewerRows(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	mustCreateProduct(t, db, testProduct("11111111-1111-7111-8111-111111111111", base, base))
	mustCreateProduct(t, db, testProduct("22222222-2222-7222-8222-222222222222", base, base.Add(time.Hour)))

	cursor := base.Format(DeltaCursorLayout)
	page, err := mustReader(t, db).Delta(context.Background(), cursor, 10)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if len(page.Products) != 1 {
		t.Fatalf("delta returned %d rows, want 1", len(page.Products))
	}
	if page.Products[0].ID != "22222222-2222-7222-8222-222222222222" {
		t.Fatalf("unexpected delta row: %s", page.Products[0].ID)
	}
	if page.NextCursor != "" {
		t.Fatalf("short page should not carry a cursor: %q", page.NextCursor)
	}
}

// A cursor is strictly greater-than, so rows sharing the boundary timestamp
// must all ship in the same page or the next page would skip them.
func TestDeltaExtendsPageAcrossTimestampTies(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	shared := base.Add(time.Minute)

	ids := []string{
		"11111111-1111-7111-8111-111111111111",
		"22222222-2222-7222-8222-222222222222",
		"33333333-3333-7333-8333-333333333333",
	}
	for _, id := range ids {
		mustCreateProduct(t, db, testProduct(id, base, shared))
	}

	page, err := mustReader(t, db).Delta(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("delta: %v", err)
	}
	if len(page.Products) != 3 {
		t.Fatalf("tied page returned %d rows, want 3", len(page.Products))
	}
	if page.NextCursor == "" {
		t.Fatalf("full page missing next cursor")
	}

	next, err := mustReader(t, db).Delta(context.Background(), page.NextCursor, 2)
	if err != nil {
		t.Fatalf("delta from cursor: %v", err)
	}
	if len(next.Products) != 0 {
		t.Fatalf("cursor page returned %d rows, want 0", len(next.Products))
	}
}

func TestDeltaPaginatesWithoutGapsOrDuplicates(t *testing.T) {
	db := openTestDatabase(t)
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	ids := []string{
		"11111111-1111-7111-8111-111111111111",
		"22222222-2222-7222-8222-222222222222",
		"33333333-3333-7333-8333-333333333333",
		"44444444-4444-7444-8444-444444444444",
		"55555555-5555-7555-8555-555555555555",
	}
	for i, id := range ids {
		stamp := base.Add(time.Duration(i) * time.Second)
		mustCreateProduct(t, db, testProduct(id, stamp, stamp))
	}

	reader := mustReader(t, db)
	seen := map[string]int{}
	cursor := ""
	for page := 0; page < 10; page++ {
		result, err := reader.Delta(context.Background(), cursor, 2)
		if err != nil {
			t.Fatalf("delta page %d: %v", page, err)
		}
		for _, product := range result.Products {
			seen[product.ID]++
		}
		if result.NextCursor == "" {
			break
		}
		cursor = result.NextCursor
	}

	if len(seen) != len(ids) {
		t.Fatalf("saw %d distinct products, want %d", len(seen), len(ids))
	}
	for id, count := range seen {
		if count != 1 {
			t.Fatalf("product %s delivered %d times", id, count)
		}
	}
}
