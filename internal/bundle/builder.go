package bundle

import (
	"bytes"
	"compress/gzip"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/catalog"
	"github.com/CanopyCatalog/canopy/backend/internal/metrics"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	// ArtifactName is the fixed logical location of the latest bundle.
	ArtifactName = "catalog-latest.json.gz"

	opBuilderNew = "bundle.builder.new"
	opBuild      = "bundle.build"
	opLatest     = "bundle.latest"

	reasonMissingDatabase  = "missing_database"
	reasonMissingSource    = "missing_source"
	reasonSnapshotFailed   = "snapshot_failed"
	reasonEncodeFailed     = "encode_failed"
	reasonCompressFailed   = "compress_failed"
	reasonWriteFailed      = "artifact_write_failed"
	reasonManifestFailed   = "manifest_upsert_failed"
	reasonManifestNotFound = "manifest_not_found"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingSource   = errors.New("snapshot source is required")
	// ErrNoBundle indicates that no bundle has been built yet.
	ErrNoBundle = errors.New("bundle: not built yet")
)

// SnapshotSource materializes the full catalog for bundling.
type SnapshotSource interface {
	Snapshot(ctx context.Context) ([]catalog.Product, error)
}

// BuilderConfig describes the dependencies of the bundle builder.
type BuilderConfig struct {
	Database    *gorm.DB
	Source      SnapshotSource
	ArtifactDir string
	Metrics     *metrics.Metrics
	Clock       func() time.Time
	Logger      *zap.Logger
}

// Builder serializes the catalog into a compressed, content-addressed
// artifact and publishes it together with its manifest row.
type Builder struct {
	db          *gorm.DB
	source      SnapshotSource
	artifactDir string
	metrics     *metrics.Metrics
	clock       func() time.Time
	logger      *zap.Logger
}

// BuildResult identifies the artifact produced by one build.
type BuildResult struct {
	ETag      string
	SizeBytes int64
	Path      string
}

// NewBuilder constructs a Builder.
func NewBuilder(cfg BuilderConfig) (*Builder, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opBuilderNew, reasonMissingDatabase, errMissingDatabase)
	}
	if cfg.Source == nil {
		return nil, newServiceError(opBuilderNew, reasonMissingSource, errMissingSource)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	artifactDir := cfg.ArtifactDir
	if artifactDir == "" {
		artifactDir = "."
	}
	return &Builder{
		db:          cfg.Database,
		source:      cfg.Source,
		artifactDir: artifactDir,
		metrics:     cfg.Metrics,
		clock:       clock,
		logger:      logger,
	}, nil
}

// Build reads the whole catalog, serializes it deterministically, compresses
// it, hashes the compressed bytes into the ETag, writes the artifact and
// upserts the manifest. The manifest is only touched after the artifact write
// succeeds, so a failed build never points metadata at missing bytes.
func (b *Builder) Build(ctx context.Context) (BuildResult, error) {
	started := b.clock()
	result, err := b.build(ctx)
	if b.metrics != nil {
		b.metrics.ObserveBundleBuild(b.clock().Sub(started), err == nil)
	}
	return result, err
}

func (b *Builder) build(ctx context.Context) (BuildResult, error) {
	products, err := b.source.Snapshot(ctx)
	if err != nil {
		b.logError(opBuild, reasonSnapshotFailed, err)
		return BuildResult{}, newServiceError(opBuild, reasonSnapshotFailed, err)
	}

	payload := Bundle{
		SchemaVersion: SchemaVersion,
		BuiltAt:       builtAtStamp(products),
		Products:      toWireProducts(products),
		PurchaseLog:   []json.RawMessage{},
	}

	// encoding/json emits struct fields in declaration order and map keys
	// sorted, so identical logical content yields identical bytes.
	serialized, err := json.Marshal(payload)
	if err != nil {
		b.logError(opBuild, reasonEncodeFailed, err)
		return BuildResult{}, newServiceError(opBuild, reasonEncodeFailed, err)
	}

	compressed, err := compress(serialized)
	if err != nil {
		b.logError(opBuild, reasonCompressFailed, err)
		return BuildResult{}, newServiceError(opBuild, reasonCompressFailed, err)
	}

	sum := sha256.Sum256(compressed)
	etag := hex.EncodeToString(sum[:])
	path := filepath.Join(b.artifactDir, ArtifactName)

	if err := writeArtifact(path, compressed); err != nil {
		b.logError(opBuild, reasonWriteFailed, err, zap.String("path", path))
		return BuildResult{}, newServiceError(opBuild, reasonWriteFailed, err)
	}

	manifest := Manifest{
		Path:          path,
		ETag:          etag,
		SchemaVersion: SchemaVersion,
		BuiltAt:       b.clock().UTC(),
		SizeBytes:     int64(len(compressed)),
		UpdatedAt:     b.clock().UTC(),
	}
	if err := b.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "path"}}, UpdateAll: true}).
		Create(&manifest).Error; err != nil {
		b.logError(opBuild, reasonManifestFailed, err, zap.String("path", path))
		return BuildResult{}, newServiceError(opBuild, reasonManifestFailed, err)
	}

	b.logger.Info("bundle built",
		zap.String("etag", etag),
		zap.Int64("size_bytes", manifest.SizeBytes),
		zap.Int("products", len(products)))

	return BuildResult{ETag: etag, SizeBytes: manifest.SizeBytes, Path: path}, nil
}

// Rebuild satisfies catalog.Rebuilder.
func (b *Builder) Rebuild(ctx context.Context) (catalog.RebuildResult, error) {
	result, err := b.Build(ctx)
	if err != nil {
		return catalog.RebuildResult{}, err
	}
	return catalog.RebuildResult{ETag: result.ETag, SizeBytes: result.SizeBytes, Path: result.Path}, nil
}

// Latest resolves the current manifest row.
func (b *Builder) Latest(ctx context.Context) (Manifest, error) {
	var manifest Manifest
	err := b.db.WithContext(ctx).
		Where("path = ?", filepath.Join(b.artifactDir, ArtifactName)).
		Take(&manifest).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Manifest{}, newServiceError(opLatest, reasonManifestNotFound, ErrNoBundle)
	}
	if err != nil {
		b.logError(opLatest, "query_failed", err)
		return Manifest{}, newServiceError(opLatest, "query_failed", err)
	}
	return manifest, nil
}

// ReadArtifact returns the compressed bytes backing a manifest.
func (b *Builder) ReadArtifact(manifest Manifest) ([]byte, error) {
	return os.ReadFile(manifest.Path)
}

// builtAtStamp derives the snapshot timestamp from the newest product update
// instead of the wall clock, so an unchanged catalog always serializes to the
// same bytes and therefore the same ETag.
func builtAtStamp(products []catalog.Product) string {
	var newest time.Time
	for _, product := range products {
		if product.UpdatedAt.After(newest) {
			newest = product.UpdatedAt
		}
	}
	return newest.UTC().Format(time.RFC3339Nano)
}

func toWireProducts(products []catalog.Product) []Product {
	wire := make([]Product, 0, len(products))
	for _, product := range products {
		tags := product.Tags
		if tags == nil {
			tags = []string{}
		}
		wire = append(wire, Product{
			ID:          product.ID,
			Category:    product.Category,
			PointValue:  product.PointValue,
			Name:        product.Name,
			Description: product.Description,
			Effects:     product.Effects,
			SideEffects: product.SideEffects,
			GoodFor:     product.GoodFor,
			Tags:        tags,
			UpdatedAt:   product.UpdatedAt.UTC().Format(time.RFC3339Nano),
		})
	}
	return wire
}

// compress gzips with a zeroed header so the output, and therefore the ETag,
// is a pure function of the serialized payload.
func compress(serialized []byte) ([]byte, error) {
	var buffer bytes.Buffer
	writer := gzip.NewWriter(&buffer)
	if _, err := writer.Write(serialized); err != nil {
		return nil, err
	}
	if err := writer.Close(); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// writeArtifact replaces the artifact atomically via temp file and rename.
func writeArtifact(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	temp, err := os.CreateTemp(filepath.Dir(path), ".bundle-*")
	if err != nil {
		return err
	}
	tempName := temp.Name()
	if _, err := temp.Write(data); err != nil {
		temp.Close()
		os.Remove(tempName)
		return err
	}
	if err := temp.Close(); err != nil {
		os.Remove(tempName)
		return err
	}
	if err := os.Rename(tempName, path); err != nil {
		os.Remove(tempName)
		return err
	}
	return nil
}

// ServiceError carries an operation.reason code alongside the causing error.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (b *Builder) logError(operation, reason string, err error, fields ...zap.Field) {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}
	if err != nil {
		attrs = append(attrs, zap.Error(err))
	}
	attrs = append(attrs, fields...)
	b.logger.Error("bundle error", attrs...)
}
