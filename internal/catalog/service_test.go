package catalog

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type recordingRebuilder struct {
	calls int
}

func (r *recordingRebuilder) Rebuild(ctx context.Context) (RebuildResult, error) {
	r.calls++
	return RebuildResult{ETag: "etag", SizeBytes: 1}, nil
}

func mustService(t *testing.T, cfg ServiceConfig) *Service {
	t.Helper()
	service, err := NewService(cfg)
	if err != nil {
		t.Fatalf("constructing service: %v", err)
	}
	return service
}

func TestCreateProductSanitizesAndPersists(t *testing.T) {
	db := openTestDatabase(t)
	rebuilder := &recordingRebuilder{}
	service := mustService(t, ServiceConfig{Database: db, Rebuilder: rebuilder})

	product, rebuild, err := service.CreateProduct(context.Background(), ProductDraft{
		Category:   "health",
		PointValue: 50,
		Name:       map[string]string{"ja": "試供品A"},
		Effects:    map[string]string{"ja": "がんが治るサプリ", "jp": "ignored"},
		Tags:       []string{" herbal ", "herbal"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if product.ID == "" {
		t.Fatalf("product id not minted")
	}
	if rebuild.ETag != "etag" {
		t.Fatalf("rebuild result not propagated: %+v", rebuild)
	}
	if rebuilder.calls != 1 {
		t.Fatalf("rebuild called %d times, want 1", rebuilder.calls)
	}

	var stored Product
	if err := db.Where("product_id = ?", product.ID).Take(&stored).Error; err != nil {
		t.Fatalf("loading stored product: %v", err)
	}
	if strings.Contains(stored.Effects["ja"], "がん") || strings.Contains(stored.Effects["ja"], "治る") {
		t.Fatalf("regulated claim persisted: %q", stored.Effects["ja"])
	}
	if _, ok := stored.Effects["jp"]; ok {
		t.Fatalf("legacy language key persisted: %v", stored.Effects)
	}
	if len(stored.Tags) != 1 || stored.Tags[0] != "herbal" {
		t.Fatalf("tags not normalized: %v", stored.Tags)
	}
}

func TestCreateProductRequiresPrimaryName(t *testing.T) {
	db := openTestDatabase(t)
	service := mustService(t, ServiceConfig{Database: db})

	_, _, err := service.CreateProduct(context.Background(), ProductDraft{
		Name: map[string]string{"en": "english only"},
	})
	if !errors.Is(err, ErrMissingPrimaryName) {
		t.Fatalf("expected ErrMissingPrimaryName, got %v", err)
	}
}

func TestCreateProductRejectsSanitizedAwayName(t *testing.T) {
	db := openTestDatabase(t)
	service := mustService(t, ServiceConfig{Database: db})

	// The whole name is a regulated claim; after sanitization nothing remains.
	_, _, err := service.CreateProduct(context.Background(), ProductDraft{
		Name: map[string]string{"ja": "がん"},
	})
	if !errors.Is(err, ErrMissingPrimaryName) {
		t.Fatalf("expected ErrMissingPrimaryName, got %v", err)
	}
}

func TestUpdateProductMonotonicTimestamp(t *testing.T) {
	db := openTestDatabase(t)
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	service := mustService(t, ServiceConfig{Database: db, Clock: func() time.Time { return now }})

	created, _, err := service.CreateProduct(context.Background(), ProductDraft{
		Name: map[string]string{"ja": "試供品A"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// The clock has not advanced; the stamp must still move forward.
	updated, _, err := service.UpdateProduct(context.Background(), created.ID, ProductDraft{
		Name: map[string]string{"ja": "試供品B"},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.UpdatedAt.After(created.UpdatedAt) {
		t.Fatalf("updated_at did not advance: %v -> %v", created.UpdatedAt, updated.UpdatedAt)
	}
	if !updated.CreatedAt.Equal(created.CreatedAt) {
		t.Fatalf("created_at changed on update: %v -> %v", created.CreatedAt, updated.CreatedAt)
	}
	if updated.Name["ja"] != "試供品B" {
		t.Fatalf("name not updated: %v", updated.Name)
	}
}

func TestUpdateProductNotFound(t *testing.T) {
	db := openTestDatabase(t)
	service := mustService(t, ServiceConfig{Database: db})

	_, _, err := service.UpdateProduct(context.Background(), "11111111-1111-7111-8111-111111111111", ProductDraft{
		Name: map[string]string{"ja": "試供品"},
	})
	if !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
}

func TestDeleteProduct(t *testing.T) {
	db := openTestDatabase(t)
	rebuilder := &recordingRebuilder{}
	service := mustService(t, ServiceConfig{Database: db, Rebuilder: rebuilder})

	created, _, err := service.CreateProduct(context.Background(), ProductDraft{
		Name: map[string]string{"ja": "試供品"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := service.DeleteProduct(context.Background(), created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	var count int64
	if err := db.Model(&Product{}).Count(&count).Error; err != nil {
		t.Fatalf("counting products: %v", err)
	}
	if count != 0 {
		t.Fatalf("product survived delete")
	}

	if _, err := service.DeleteProduct(context.Background(), created.ID); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound on second delete, got %v", err)
	}
}

func TestBulkImportSingleTransactionSingleRebuild(t *testing.T) {
	db := openTestDatabase(t)
	rebuilder := &recordingRebuilder{}
	service := mustService(t, ServiceConfig{Database: db, Rebuilder: rebuilder})

	products, _, err := service.BulkImport(context.Background(), []ProductDraft{
		{Name: map[string]string{"ja": "試供品A"}},
		{Name: map[string]string{"ja": "試供品B"}},
		{Name: map[string]string{"ja": "試供品C"}},
	})
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if len(products) != 3 {
		t.Fatalf("imported %d products, want 3", len(products))
	}
	if rebuilder.calls != 1 {
		t.Fatalf("rebuild called %d times, want 1", rebuilder.calls)
	}
}

func TestBulkImportRejectsWholeBatchOnInvalidDraft(t *testing.T) {
	db := openTestDatabase(t)
	service := mustService(t, ServiceConfig{Database: db})

	_, _, err := service.BulkImport(context.Background(), []ProductDraft{
		{Name: map[string]string{"ja": "試供品A"}},
		{Name: map[string]string{"en": "no primary name"}},
	})
	if err == nil {
		t.Fatalf("invalid batch accepted")
	}

	var count int64
	if err := db.Model(&Product{}).Count(&count).Error; err != nil {
		t.Fatalf("counting products: %v", err)
	}
	if count != 0 {
		t.Fatalf("partial batch persisted: %d rows", count)
	}
}

func TestCreateProductInvalidPointValue(t *testing.T) {
	db := openTestDatabase(t)
	service := mustService(t, ServiceConfig{Database: db})

	_, _, err := service.CreateProduct(context.Background(), ProductDraft{
		PointValue: MaxPointValue + 1,
		Name:       map[string]string{"ja": "試供品"},
	})
	if !errors.Is(err, ErrInvalidPointValue) {
		t.Fatalf("expected ErrInvalidPointValue, got %v", err)
	}
}
