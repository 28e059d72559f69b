// Package syncengine implements the offline client's bundle synchronization:
// conditional fetch, off-goroutine decode, atomic local replacement and sync
// metadata bookkeeping.
package syncengine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/CanopyCatalog/canopy/backend/internal/bundle"
	"github.com/CanopyCatalog/canopy/backend/internal/metrics"
	"go.uber.org/zap"
)

// Phase is the tagged sync state; at most one attempt owns it at a time.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseFetching Phase = "fetching"
	PhaseDecoding Phase = "decoding"
	PhaseApplying Phase = "applying"
)

var (
	// ErrSyncInProgress indicates a concurrent SyncNow was rejected.
	ErrSyncInProgress = errors.New("syncengine: sync already in progress")
	// ErrSourceUnconfigured indicates no remote source is configured.
	ErrSourceUnconfigured = errors.New("syncengine: remote source not configured")
	// ErrNetwork wraps transport-level fetch failures.
	ErrNetwork = errors.New("syncengine: network failure")
	// ErrApplyFailed wraps local-transaction failures.
	ErrApplyFailed = errors.New("syncengine: local apply failed")

	errMissingStore = errors.New("local store is required")
)

// Outcome is the structured result of one sync attempt. Errors never
// propagate as panics or rejected promises; they land here.
type Outcome struct {
	Success      bool
	Updated      bool
	ProductCount int
	ETag         string
	Err          error
}

// FailureCategory buckets an outcome error for user display.
func FailureCategory(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrSourceUnconfigured):
		return "source_unconfigured"
	case errors.Is(err, ErrSchemaVersion), errors.Is(err, ErrCorruptBundle):
		return "corrupt_bundle"
	case errors.Is(err, ErrApplyFailed):
		return "apply_failed"
	case errors.Is(err, ErrSyncInProgress):
		return "sync_in_progress"
	default:
		return "network_failure"
	}
}

// EngineConfig describes the dependencies of the sync engine.
type EngineConfig struct {
	Store       LocalStore
	Source      BundleSource
	Worker      *Worker
	Metrics     *metrics.Metrics
	Clock       func() time.Time
	Logger      *zap.Logger
	MinInterval time.Duration
}

// Engine coordinates sync attempts. Concurrent triggers are rejected
// deterministically rather than racing on a shared flag.
type Engine struct {
	store       LocalStore
	source      BundleSource
	worker      *Worker
	metrics     *metrics.Metrics
	clock       func() time.Time
	logger      *zap.Logger
	minInterval time.Duration

	mu      sync.Mutex
	running bool
	phase   Phase
}

// NewEngine constructs an Engine. A worker is created when none is supplied.
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, errMissingStore
	}
	worker := cfg.Worker
	if worker == nil {
		worker = NewWorker(1)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	minInterval := cfg.MinInterval
	if minInterval <= 0 {
		minInterval = time.Hour
	}
	return &Engine{
		store:       cfg.Store,
		source:      cfg.Source,
		worker:      worker,
		metrics:     cfg.Metrics,
		clock:       clock,
		logger:      logger,
		minInterval: minInterval,
		phase:       PhaseIdle,
	}, nil
}

// Phase reports the current sync phase.
func (e *Engine) Phase() Phase {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// ShouldSync reports whether the periodic trigger is due: at least the
// minimum interval since the last successful sync, or no sync recorded yet.
func (e *Engine) ShouldSync(ctx context.Context) bool {
	meta, ok, err := e.store.Meta(ctx)
	if err != nil || !ok {
		return true
	}
	return e.clock().Sub(meta.LastSyncAt) >= e.minInterval
}

// SyncNow runs one full sync attempt. It never panics; every failure is
// reported as an Outcome with Success=false and the local dataset untouched.
func (e *Engine) SyncNow(ctx context.Context) Outcome {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return e.fail(ErrSyncInProgress)
	}
	e.running = true
	e.mu.Unlock()

	outcome := e.sync(ctx)

	e.mu.Lock()
	e.running = false
	e.phase = PhaseIdle
	e.mu.Unlock()

	return outcome
}

func (e *Engine) sync(ctx context.Context) Outcome {
	if e.source == nil {
		return e.fail(ErrSourceUnconfigured)
	}

	meta, _, err := e.store.Meta(ctx)
	if err != nil {
		return e.fail(fmt.Errorf("%w: %v", ErrApplyFailed, err))
	}

	e.setPhase(PhaseFetching)
	fetched, err := e.source.Fetch(ctx, meta.LastETag)
	if err != nil {
		return e.fail(fmt.Errorf("%w: %v", ErrNetwork, err))
	}

	if fetched.NotModified {
		e.logger.Info("bundle unchanged", zap.String("etag", meta.LastETag))
		e.record("not_modified")
		return Outcome{Success: true, Updated: false, ETag: meta.LastETag}
	}

	e.setPhase(PhaseDecoding)
	products, err := e.worker.Decode(ctx, fetched.Body)
	if err != nil {
		return e.fail(err)
	}

	e.setPhase(PhaseApplying)
	syncedAt := e.clock().UTC()
	if err := e.store.ReplaceProducts(ctx, products, syncedAt); err != nil {
		return e.fail(fmt.Errorf("%w: %v", ErrApplyFailed, err))
	}

	// Meta is written strictly after the swap: a crash in between only
	// causes a redundant, idempotent re-apply on the next attempt.
	newMeta := SyncMeta{
		LastETag:      fetched.ETag,
		LastSyncAt:    syncedAt,
		SourceURL:     e.source.URL(),
		SchemaVersion: bundle.SchemaVersion,
	}
	if err := e.store.PutMeta(ctx, newMeta); err != nil {
		return e.fail(fmt.Errorf("%w: %v", ErrApplyFailed, err))
	}

	e.logger.Info("sync applied",
		zap.String("etag", fetched.ETag),
		zap.Int("products", len(products)))
	e.record("updated")

	return Outcome{
		Success:      true,
		Updated:      true,
		ProductCount: len(products),
		ETag:         fetched.ETag,
	}
}

func (e *Engine) setPhase(phase Phase) {
	e.mu.Lock()
	e.phase = phase
	e.mu.Unlock()
}

func (e *Engine) fail(err error) Outcome {
	e.logger.Warn("sync failed",
		zap.String("category", FailureCategory(err)),
		zap.Error(err))
	e.record("failed")
	return Outcome{Success: false, Err: err}
}

func (e *Engine) record(result string) {
	if e.metrics != nil {
		e.metrics.RecordSyncResult(result)
	}
}
