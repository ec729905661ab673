// Package hydration implements the Hydration Pipeline (§4.7): per-
// workspace document ingestion across pluggable source connectors,
// with checksum-gated versioning, chunking, indexing, and linking.
package hydration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/govplane/backplane/pkg/hydration/connectors"
	"github.com/govplane/backplane/pkg/lock"
	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/tracing"
)

// WorkspaceHydrationLockTTL bounds one workspace's hydration run,
// matching §5's "TTL ≈ 2 hours".
const WorkspaceHydrationLockTTL = 2 * time.Hour

// IndexingClient pushes chunks into the search index, namespaced by
// workspace (§4.7 step 8). Indexing internals are out of scope; this
// is the seam the actual index/vector store plugs into.
type IndexingClient interface {
	IndexChunks(ctx context.Context, workspaceID string, documentID, versionID int64, chunks []string) (chunkCount int, err error)
}

// NoopIndexing is the default when no index/vector store is configured:
// it reports every chunk indexed without pushing anywhere, leaving
// EmbeddingStatus/IndexStatus bookkeeping intact for callers that don't
// need real retrieval.
type NoopIndexing struct{}

func (NoopIndexing) IndexChunks(_ context.Context, _ string, _, _ int64, chunks []string) (int, error) {
	return len(chunks), nil
}

// ULEHook runs the Universal Linking Engine over one document's text
// (§4.7 step 9).
type ULEHook interface {
	Run(ctx context.Context, workspaceID string, documentID int64, documentName, text string) (entityCount int, err error)
}

// Locker is the subset of the Lock Manager the pipeline needs.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	Release(ctx context.Context, key, token string) error
}

// Options parameterizes one hydrate_workspace invocation.
type Options struct {
	Trigger       models.RunTrigger
	SourceIDs     []int64
	ForceFullScan bool
	MaxFiles      int
	DryRun        bool
}

// Pipeline orchestrates hydrate_workspace across a workspace's
// configured sources.
type Pipeline struct {
	sources    repository.WorkspaceSourceRepository
	states     repository.HydrationStateRepository
	documents  repository.DocumentRepository
	versions   repository.DocumentVersionRepository
	runs       repository.HydrationRunRepository
	alertsRepo repository.HydrationAlertRepository

	locker   Locker
	registry *connectors.Registry
	indexing IndexingClient
	uleHook  ULEHook
	notifier AlertNotifier
	extractor Extractor
	ocr      OCRExtractor

	ocrEnabled  bool
	maxChunkLen int
	itemConcurrency int
	log         *zap.Logger

	// countersMu guards run.Counters increments made from concurrent
	// processItem goroutines within one hydrateSource call.
	countersMu sync.Mutex
}

// DefaultItemConcurrency bounds how many items within a single source
// are processed concurrently when ItemConcurrency is left unset.
const DefaultItemConcurrency = 4

// Config bundles the pipeline's wiring so New's signature stays
// manageable.
type Config struct {
	Sources    repository.WorkspaceSourceRepository
	States     repository.HydrationStateRepository
	Documents  repository.DocumentRepository
	Versions   repository.DocumentVersionRepository
	Runs       repository.HydrationRunRepository
	Alerts     repository.HydrationAlertRepository
	Locker     Locker
	Registry   *connectors.Registry
	Indexing   IndexingClient
	ULEHook    ULEHook
	Notifier   AlertNotifier
	Extractor  Extractor
	OCR        OCRExtractor
	OCREnabled bool
	MaxChunkLength int
	ItemConcurrency int
	Log        *zap.Logger
}

func New(cfg Config) *Pipeline {
	if cfg.Notifier == nil {
		cfg.Notifier = NoopNotifier{}
	}
	if cfg.Extractor == nil {
		cfg.Extractor = DefaultExtractor{}
	}
	if cfg.OCR == nil {
		cfg.OCR = NoopOCR{}
	}
	if cfg.Indexing == nil {
		cfg.Indexing = NoopIndexing{}
	}
	if cfg.MaxChunkLength <= 0 {
		cfg.MaxChunkLength = DefaultMaxChunkLength
	}
	if cfg.ItemConcurrency <= 0 {
		cfg.ItemConcurrency = DefaultItemConcurrency
	}
	return &Pipeline{
		sources: cfg.Sources, states: cfg.States, documents: cfg.Documents, versions: cfg.Versions,
		runs: cfg.Runs, alertsRepo: cfg.Alerts, locker: cfg.Locker, registry: cfg.Registry,
		indexing: cfg.Indexing, uleHook: cfg.ULEHook, notifier: cfg.Notifier, extractor: cfg.Extractor,
		ocr: cfg.OCR, ocrEnabled: cfg.OCREnabled, maxChunkLen: cfg.MaxChunkLength,
		itemConcurrency: cfg.ItemConcurrency, log: cfg.Log,
	}
}

// HydrateWorkspace runs the full per-invocation algorithm of §4.7.
func (p *Pipeline) HydrateWorkspace(ctx context.Context, workspaceID string, opts Options) (*models.HydrationRun, error) {
	ctx, end := tracing.Start(ctx, "Hydration.HydrateWorkspace",
		attribute.String("workspace_id", workspaceID),
		attribute.String("trigger", string(opts.Trigger)),
	)
	var retErr error
	defer func() { end(retErr) }()

	start := time.Now()
	run := &models.HydrationRun{WorkspaceID: workspaceID, StartedAt: start, Trigger: opts.Trigger, Status: models.RunRunning}
	run, err := p.runs.Create(ctx, run)
	if err != nil {
		retErr = err
		return nil, err
	}

	lockKey := lock.WorkspaceHydrationKey(workspaceID)
	token, ok, err := p.locker.Acquire(ctx, lockKey, WorkspaceHydrationLockTTL)
	if err != nil || !ok {
		p.raiseAlert(ctx, run, models.AlertCategoryAuth, models.SeverityMedium, "workspace hydration already locked by another worker")
		p.finalizeRun(ctx, run, models.RunFailed, "workspace locked by another worker")
		return run, nil
	}
	defer func() { _ = p.locker.Release(ctx, lockKey, token) }()

	sources, err := p.sources.ListEnabled(ctx, workspaceID, opts.SourceIDs)
	if err != nil {
		p.finalizeRun(ctx, run, models.RunFailed, err.Error())
		retErr = err
		return run, err
	}
	run.Counters.Sources = len(sources)

	anyFailed, anySucceeded := false, false
	for _, source := range sources {
		if p.hydrateSource(ctx, run, source, opts) {
			anyFailed = true
		} else {
			anySucceeded = true
		}
	}

	status := models.RunSuccess
	switch {
	case anyFailed && (anySucceeded || run.Counters.Failed > 0):
		status = models.RunPartial
	case anyFailed:
		status = models.RunFailed
	}
	p.finalizeRun(ctx, run, status, "")
	metrics.RecordHydrationRun(string(run.Status), time.Since(start))
	return run, nil
}

func (p *Pipeline) finalizeRun(ctx context.Context, run *models.HydrationRun, status models.RunStatus, errSummary string) {
	now := time.Now()
	run.FinishedAt = &now
	run.Status = status
	if errSummary != "" {
		run.ErrorSummary = &errSummary
	}
	if err := p.runs.Update(ctx, run); err != nil {
		p.log.Error("failed to finalize hydration run", zap.Int64("run_id", run.ID), zap.Error(err))
	}
}

// hydrateSource processes one source end to end, returning true if the
// source-level operation failed (list_changes error or any item
// failure), matching "failed" bookkeeping in §4.7 step 4.
func (p *Pipeline) hydrateSource(ctx context.Context, run *models.HydrationRun, source models.WorkspaceSource, opts Options) (failed bool) {
	state, err := p.states.Get(ctx, source.ID)
	if err != nil || state == nil {
		state = &models.HydrationState{SourceID: source.ID, Status: models.HydrationIdle}
	}
	state.Status = models.HydrationRunning
	state.LastError = nil
	_ = p.states.Upsert(ctx, state)

	conn, err := p.registry.Build(source.SourceType, source.Config, source.SecretsRef)
	if err == nil {
		err = conn.ValidateConfig()
	}
	if err != nil {
		return p.failSource(ctx, state, source, err, "connector configuration invalid")
	}

	cursor := state.Cursor
	if opts.ForceFullScan {
		cursor = nil
	}
	items, newCursor, err := conn.ListChanges(ctx, cursor)
	if err != nil {
		return p.failSource(ctx, state, source, err, "list_changes failed")
	}

	if opts.MaxFiles > 0 && len(items) > opts.MaxFiles {
		items = items[:opts.MaxFiles]
	}

	var failedMu sync.Mutex
	itemFailed := false
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(p.itemConcurrency)
	for _, item := range items {
		item := item
		group.Go(func() error {
			p.countersMu.Lock()
			run.Counters.Seen++
			p.countersMu.Unlock()
			if err := p.processItem(gctx, run, conn, source, item, opts); err != nil {
				failedMu.Lock()
				itemFailed = true
				failedMu.Unlock()
				p.countersMu.Lock()
				run.Counters.Failed++
				p.countersMu.Unlock()
			}
			return nil
		})
	}
	_ = group.Wait()

	now := time.Now()
	state.Cursor = newCursor
	state.LastRunAt = &now
	if itemFailed {
		state.Status = models.HydrationFailed
		state.ConsecutiveFailures++
		msg := "one or more items failed during hydration"
		state.LastError = &msg
	} else {
		state.Status = models.HydrationSuccess
		state.ConsecutiveFailures = 0
	}
	_ = p.states.Upsert(ctx, state)
	return itemFailed
}

func (p *Pipeline) failSource(ctx context.Context, state *models.HydrationState, source models.WorkspaceSource, err error, message string) bool {
	now := time.Now()
	state.Status = models.HydrationFailed
	state.LastRunAt = &now
	state.ConsecutiveFailures++
	msg := fmt.Sprintf("%s: %v", message, err)
	state.LastError = &msg
	_ = p.states.Upsert(ctx, state)
	p.log.Error("hydration source failed", zap.Int64("source_id", source.ID), zap.String("source_type", source.SourceType), zap.Error(err))
	return true
}

func (p *Pipeline) raiseAlert(ctx context.Context, run *models.HydrationRun, category models.AlertCategory, severity models.PatternSeverity, message string) {
	p.persistAndNotify(ctx, models.HydrationAlert{
		WorkspaceID: run.WorkspaceID, Severity: severity, Category: category, Message: message,
		RunID: &run.ID, IsActive: true, CreatedAt: time.Now(),
	})
}

// RaiseAlert records and delivers a hydration alert that isn't scoped
// to a particular run — used by the scheduler when a PDP denial stops
// a scheduled hydration before a Run is even created.
func (p *Pipeline) RaiseAlert(ctx context.Context, workspaceID string, category models.AlertCategory, severity models.PatternSeverity, message string) {
	p.persistAndNotify(ctx, models.HydrationAlert{
		WorkspaceID: workspaceID, Severity: severity, Category: category, Message: message,
		IsActive: true, CreatedAt: time.Now(),
	})
}

func (p *Pipeline) persistAndNotify(ctx context.Context, alert models.HydrationAlert) {
	created, err := p.alertsRepo.Create(ctx, &alert)
	if err != nil {
		p.log.Error("failed to persist hydration alert", zap.Error(err))
		return
	}
	metrics.RecordHydrationAlert(string(alert.Category), string(alert.Severity))
	if err := p.notifier.Notify(ctx, *created); err != nil {
		p.log.Warn("failed to deliver hydration alert", zap.Error(err))
	}
}
