package catalog

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opReaderNew = "catalog.reader.new"
	opList      = "catalog.list"
	opSnapshot  = "catalog.snapshot"
	opDelta     = "catalog.delta"

	// DeltaCursorLayout is the wire format of delta cursors.
	DeltaCursorLayout = time.RFC3339Nano

	defaultDeltaLimit = 100
	maxDeltaLimit     = 500
)

var (
	errReaderMissingDatabase = errors.New("database handle is required")
	// ErrInvalidDeltaCursor indicates an unparseable since cursor.
	ErrInvalidDeltaCursor = errors.New("catalog: invalid delta cursor")
)

// ReaderConfig describes the dependencies of the catalog reader.
type ReaderConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Reader materializes read-only views of the authoritative catalog.
type Reader struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewReader constructs a Reader.
func NewReader(cfg ReaderConfig) (*Reader, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opReaderNew, "missing_database", errReaderMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reader{db: cfg.Database, logger: logger}, nil
}

// List returns every product, most recently created first. This is the
// catalog read order the bundle preserves.
func (r *Reader) List(ctx context.Context) ([]Product, error) {
	var products []Product
	if err := r.db.WithContext(ctx).
		Order("created_at DESC, product_id DESC").
		Find(&products).Error; err != nil {
		logError(r.logger, opList, "query_failed", err)
		return nil, newServiceError(opList, "query_failed", err)
	}
	return products, nil
}

// Snapshot materializes the full catalog with the placeholder-fill policy
// applied, so no localized field is empty in the output.
func (r *Reader) Snapshot(ctx context.Context) ([]Product, error) {
	products, err := r.List(ctx)
	if err != nil {
		return nil, newServiceError(opSnapshot, "list_failed", err)
	}
	snapshot := make([]Product, 0, len(products))
	for _, product := range products {
		product.Name = FillPlaceholders(product.Name)
		product.Description = FillPlaceholders(product.Description)
		product.Effects = FillPlaceholders(product.Effects)
		product.SideEffects = FillPlaceholders(product.SideEffects)
		product.GoodFor = FillPlaceholders(product.GoodFor)
		snapshot = append(snapshot, product)
	}
	return snapshot, nil
}

// DeltaPage is one page of the incremental feed.
type DeltaPage struct {
	Products   []Product
	NextCursor string
}

// Delta returns products updated strictly after the since cursor, ascending
// by updated_at. When rows share the boundary timestamp the page is extended
// past the requested limit so the strict-greater-than cursor cannot skip them.
func (r *Reader) Delta(ctx context.Context, since string, limit int) (DeltaPage, error) {
	if limit <= 0 {
		limit = defaultDeltaLimit
	}
	if limit > maxDeltaLimit {
		limit = maxDeltaLimit
	}

	query := r.db.WithContext(ctx).Order("updated_at ASC, product_id ASC").Limit(limit)
	if since != "" {
		cursor, err := time.Parse(DeltaCursorLayout, since)
		if err != nil {
			return DeltaPage{}, newServiceError(opDelta, "invalid_cursor", ErrInvalidDeltaCursor)
		}
		query = query.Where("updated_at > ?", cursor)
	}

	var page []Product
	if err := query.Find(&page).Error; err != nil {
		logError(r.logger, opDelta, "query_failed", err)
		return DeltaPage{}, newServiceError(opDelta, "query_failed", err)
	}
	if len(page) < limit {
		return DeltaPage{Products: page}, nil
	}

	boundary := page[len(page)-1].UpdatedAt
	boundaryIDs := make([]string, 0, 1)
	for _, product := range page {
		if product.UpdatedAt.Equal(boundary) {
			boundaryIDs = append(boundaryIDs, product.ID)
		}
	}

	var overflow []Product
	if err := r.db.WithContext(ctx).
		Where("updated_at = ? AND product_id NOT IN ?", boundary, boundaryIDs).
		Order("product_id ASC").
		Find(&overflow).Error; err != nil {
		logError(r.logger, opDelta, "overflow_query_failed", err)
		return DeltaPage{}, newServiceError(opDelta, "overflow_query_failed", err)
	}
	page = append(page, overflow...)

	return DeltaPage{
		Products:   page,
		NextCursor: boundary.UTC().Format(DeltaCursorLayout),
	}, nil
}
