package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/sanitize"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew = "catalog.service.new"
	opCreate     = "catalog.create"
	opUpdate     = "catalog.update"
	opDelete     = "catalog.delete"
	opImport     = "catalog.import"

	reasonMissingDatabase = "missing_database"
	reasonValidateFailed  = "validate_failed"
	reasonWriteFailed     = "write_failed"
	reasonNotFound        = "not_found"
	reasonRebuildFailed   = "rebuild_failed"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	// ErrProductNotFound indicates the product id has no catalog row.
	ErrProductNotFound = errors.New("catalog: product not found")
)

// RebuildResult reports the bundle produced after a catalog mutation.
type RebuildResult struct {
	ETag      string
	SizeBytes int64
	Path      string
}

// Rebuilder regenerates the published bundle from the current catalog. Every
// successful catalog mutation triggers it synchronously.
type Rebuilder interface {
	Rebuild(ctx context.Context) (RebuildResult, error)
}

// ProductDraft is the write-side input shape. Language keys are raw and will
// be coerced onto the canonical set; every text value passes the sanitizer.
type ProductDraft struct {
	ID          string
	Category    string
	PointValue  int64
	Name        map[string]string
	Description map[string]string
	Effects     map[string]string
	SideEffects map[string]string
	GoodFor     map[string]string
	Tags        []string
}

// ServiceConfig describes the dependencies of the catalog write service.
type ServiceConfig struct {
	Database  *gorm.DB
	Rebuilder Rebuilder
	Clock     func() time.Time
	Logger    *zap.Logger
}

// Service owns catalog mutations: sanitize, validate, persist, rebuild.
type Service struct {
	db        *gorm.DB
	rebuilder Rebuilder
	clock     func() time.Time
	logger    *zap.Logger
}

// NewService constructs the catalog write service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, reasonMissingDatabase, errMissingDatabase)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:        cfg.Database,
		rebuilder: cfg.Rebuilder,
		clock:     clock,
		logger:    logger,
	}, nil
}

// CreateProduct sanitizes and persists a new product, then rebuilds the bundle.
func (s *Service) CreateProduct(ctx context.Context, draft ProductDraft) (Product, RebuildResult, error) {
	now := s.clock().UTC()
	product, err := s.materialize(draft, now, now)
	if err != nil {
		logError(s.logger, opCreate, reasonValidateFailed, err)
		return Product{}, RebuildResult{}, newServiceError(opCreate, reasonValidateFailed, err)
	}

	if err := s.db.WithContext(ctx).Create(&product).Error; err != nil {
		logError(s.logger, opCreate, reasonWriteFailed, err, zap.String("product_id", product.ID))
		return Product{}, RebuildResult{}, newServiceError(opCreate, reasonWriteFailed, err)
	}

	rebuild, err := s.rebuild(ctx, opCreate)
	if err != nil {
		return product, RebuildResult{}, err
	}
	return product, rebuild, nil
}

// UpdateProduct replaces the mutable fields of an existing product. The
// updated_at stamp never moves backwards for a product.
func (s *Service) UpdateProduct(ctx context.Context, id string, draft ProductDraft) (Product, RebuildResult, error) {
	var existing Product
	err := s.db.WithContext(ctx).Where("product_id = ?", id).Take(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Product{}, RebuildResult{}, newServiceError(opUpdate, reasonNotFound, ErrProductNotFound)
	}
	if err != nil {
		logError(s.logger, opUpdate, "select_failed", err, zap.String("product_id", id))
		return Product{}, RebuildResult{}, newServiceError(opUpdate, "select_failed", err)
	}

	updatedAt := s.clock().UTC()
	if !updatedAt.After(existing.UpdatedAt) {
		updatedAt = existing.UpdatedAt.Add(time.Millisecond)
	}

	draft.ID = existing.ID
	product, err := s.materialize(draft, existing.CreatedAt, updatedAt)
	if err != nil {
		logError(s.logger, opUpdate, reasonValidateFailed, err, zap.String("product_id", id))
		return Product{}, RebuildResult{}, newServiceError(opUpdate, reasonValidateFailed, err)
	}

	if err := s.db.WithContext(ctx).Save(&product).Error; err != nil {
		logError(s.logger, opUpdate, reasonWriteFailed, err, zap.String("product_id", id))
		return Product{}, RebuildResult{}, newServiceError(opUpdate, reasonWriteFailed, err)
	}

	rebuild, err := s.rebuild(ctx, opUpdate)
	if err != nil {
		return product, RebuildResult{}, err
	}
	return product, rebuild, nil
}

// DeleteProduct removes a product and rebuilds the bundle.
func (s *Service) DeleteProduct(ctx context.Context, id string) (RebuildResult, error) {
	result := s.db.WithContext(ctx).Where("product_id = ?", id).Delete(&Product{})
	if result.Error != nil {
		logError(s.logger, opDelete, reasonWriteFailed, result.Error, zap.String("product_id", id))
		return RebuildResult{}, newServiceError(opDelete, reasonWriteFailed, result.Error)
	}
	if result.RowsAffected == 0 {
		return RebuildResult{}, newServiceError(opDelete, reasonNotFound, ErrProductNotFound)
	}
	return s.rebuild(ctx, opDelete)
}

// BulkImport persists a batch of drafts in one transaction and rebuilds once.
func (s *Service) BulkImport(ctx context.Context, drafts []ProductDraft) ([]Product, RebuildResult, error) {
	now := s.clock().UTC()
	products := make([]Product, 0, len(drafts))
	for _, draft := range drafts {
		product, err := s.materialize(draft, now, now)
		if err != nil {
			logError(s.logger, opImport, reasonValidateFailed, err)
			return nil, RebuildResult{}, newServiceError(opImport, reasonValidateFailed, err)
		}
		products = append(products, product)
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i := range products {
			if err := tx.Create(&products[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if txErr != nil {
		logError(s.logger, opImport, reasonWriteFailed, txErr)
		return nil, RebuildResult{}, newServiceError(opImport, reasonWriteFailed, txErr)
	}

	rebuild, err := s.rebuild(ctx, opImport)
	if err != nil {
		return products, RebuildResult{}, err
	}
	return products, rebuild, nil
}

// materialize turns a draft into a persisted shape: ids, categories and
// point values validated, every localized field sanitized, tags normalized.
func (s *Service) materialize(draft ProductDraft, createdAt, updatedAt time.Time) (Product, error) {
	id, err := NewProductID(draft.ID)
	if err != nil {
		return Product{}, err
	}
	category, err := ParseCategory(draft.Category)
	if err != nil {
		return Product{}, err
	}
	pointValue, err := NewPointValue(draft.PointValue)
	if err != nil {
		return Product{}, err
	}

	name := sanitizeField(draft.Name)
	if name[PrimaryLanguage] == "" {
		return Product{}, ErrMissingPrimaryName
	}

	return Product{
		ID:          id,
		Category:    string(category),
		PointValue:  pointValue,
		Name:        name,
		Description: sanitizeField(draft.Description),
		Effects:     sanitizeField(draft.Effects),
		SideEffects: sanitizeField(draft.SideEffects),
		GoodFor:     sanitizeField(draft.GoodFor),
		Tags:        NormalizeTags(draft.Tags),
		CreatedAt:   createdAt,
		UpdatedAt:   updatedAt,
	}, nil
}

// sanitizeField coerces language keys onto the canonical set and sanitizes
// every value. Unsupported languages are dropped, not persisted verbatim.
func sanitizeField(raw map[string]string) LocalizedText {
	coerced, _ := CoerceLocalized(raw)
	return sanitize.SanitizeLocalized(coerced, Languages())
}

func (s *Service) rebuild(ctx context.Context, operation string) (RebuildResult, error) {
	if s.rebuilder == nil {
		return RebuildResult{}, nil
	}
	result, err := s.rebuilder.Rebuild(ctx)
	if err != nil {
		logError(s.logger, operation, reasonRebuildFailed, err)
		return RebuildResult{}, newServiceError(operation, reasonRebuildFailed, err)
	}
	return result, nil
}
