package ule

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/tracing"
)

// ProcessResult is process_document's return value: entities and
// links created or refreshed by the run.
type ProcessResult struct {
	Entities []models.Entity
	Links    []models.Link
}

// FindLinksRequest parameterizes find_links (§4.8). Sources are
// resolved by DocumentID only; QueryText and EntityType are carried on
// the request but FindLinks does not read them.
type FindLinksRequest struct {
	DocumentID   *int64
	QueryText    *string
	LinkType     *string
	EntityType   *string
	Threshold    float64
	Max          int
}

// FindLinksResult is find_links' return value.
type FindLinksResult struct {
	Links []models.Link
}

// EvidenceExplanation is get_evidence's human-readable rendering of a
// Link's evidence.
type EvidenceExplanation struct {
	Link        models.Link
	Explanation string
}

// Statistics is get_statistics' return value.
type Statistics struct {
	EntitiesByType map[string]int
	LinksByType    map[string]int
}

// Engine is the Universal Linking Engine: a pack registry plus the
// entity/link persistence it drives.
type Engine struct {
	mu    sync.RWMutex
	packs map[string]Pack

	entities  repository.EntityRepository
	links     repository.LinkRepository
	embedding *EmbeddingCache
	threshold float64
	log       *zap.Logger
}

// Config bundles Engine's wiring.
type Config struct {
	Entities  repository.EntityRepository
	Links     repository.LinkRepository
	Embedding *EmbeddingCache
	Threshold float64
	Log       *zap.Logger
}

func New(cfg Config) *Engine {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 0.6
	}
	return &Engine{
		packs: make(map[string]Pack), entities: cfg.Entities, links: cfg.Links,
		embedding: cfg.Embedding, threshold: cfg.Threshold, log: cfg.Log,
	}
}

// RegisterPack adds (or replaces) a pack by name.
func (e *Engine) RegisterPack(pack Pack) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.packs[pack.Name()] = pack
}

// UnregisterPack removes a pack by name; a no-op if absent.
func (e *Engine) UnregisterPack(name string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.packs, name)
}

// ListPacks returns the registered pack names.
func (e *Engine) ListPacks() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.packs))
	for name := range e.packs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// activePacks returns every registered pack whose entity_types
// intersect documentType, or every pack when documentType is empty or
// matches none (an unclassified or "general" document is a candidate
// for all packs — each pack's own extraction simply yields nothing if
// its patterns don't match).
func (e *Engine) activePacks(documentType string) []Pack {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var active []Pack
	for _, pack := range e.packs {
		if documentType == "" || intersects(pack.EntityTypes(), []string{documentType}) {
			active = append(active, pack)
		}
	}
	if len(active) == 0 {
		for _, pack := range e.packs {
			active = append(active, pack)
		}
	}
	return active
}

// ProcessDocument runs every pack whose entity_types intersect the
// document's, dedupes extracted entities by id, embeds new entities,
// finds links between new entities and the union of new + stored
// entities, and persists both (§4.8 process_document).
func (e *Engine) ProcessDocument(ctx context.Context, documentID int64, documentName, documentType, content string, metadata map[string]any) (result *ProcessResult, err error) {
	ctx, end := tracing.Start(ctx, "ULE.ProcessDocument",
		attribute.Int64("document_id", documentID),
		attribute.String("document_type", documentType),
	)
	defer func() { end(err) }()

	packs := e.activePacks(documentType)

	deduped := make(map[string]models.Entity)
	for _, pack := range packs {
		extracted, err := pack.ExtractEntities(content, fmt.Sprintf("%d", documentID), documentName, documentType, metadata)
		if err != nil {
			e.log.Warn("pack entity extraction failed", zap.String("pack", pack.Name()), zap.Error(err))
			continue
		}
		for _, ent := range extracted {
			deduped[ent.ID] = ent
			metrics.RecordULEEntity(pack.Name(), ent.Type)
		}
	}

	newEntities := make([]models.Entity, 0, len(deduped))
	for _, ent := range deduped {
		if err := e.entities.Upsert(ctx, &ent); err != nil {
			e.log.Error("failed to persist ule entity", zap.String("entity_id", ent.ID), zap.Error(err))
			continue
		}
		if e.embedding != nil {
			if err := e.embedding.EnsureEmbedding(ctx, ent.ID, ent.Text); err != nil {
				e.log.Warn("failed to embed entity", zap.String("entity_id", ent.ID), zap.Error(err))
			}
		}
		newEntities = append(newEntities, ent)
	}

	stored, err := e.storedEntitiesExcluding(ctx, newEntities)
	if err != nil {
		return nil, err
	}
	targets := append(append([]models.Entity{}, newEntities...), stored...)

	links, err := e.matchAndPersist(ctx, packs, newEntities, targets)
	if err != nil {
		return nil, err
	}
	return &ProcessResult{Entities: newEntities, Links: links}, nil
}

func (e *Engine) storedEntitiesExcluding(ctx context.Context, exclude []models.Entity) ([]models.Entity, error) {
	excluded := make(map[string]bool, len(exclude))
	for _, ent := range exclude {
		excluded[ent.ID] = true
	}
	var all []models.Entity
	seenTypes := map[string]bool{}
	for _, ent := range exclude {
		seenTypes[ent.Type] = true
	}
	for entityType := range seenTypes {
		byType, err := e.entities.ListByType(ctx, entityType)
		if err != nil {
			return nil, err
		}
		for _, ent := range byType {
			if !excluded[ent.ID] {
				all = append(all, ent)
				excluded[ent.ID] = true
			}
		}
	}
	return all, nil
}

func (e *Engine) matchAndPersist(ctx context.Context, packs []Pack, sources, targets []models.Entity) ([]models.Link, error) {
	lookup := EmbeddingLookup(func(string) ([]float64, bool) { return nil, false })
	if e.embedding != nil {
		lookup = e.embedding.Lookup
	}

	var created []models.Link
	for _, pack := range packs {
		candidates, err := pack.MatchEntities(sources, targets, lookup)
		if err != nil {
			e.log.Warn("pack matching failed", zap.String("pack", pack.Name()), zap.Error(err))
			continue
		}
		for _, c := range candidates {
			if c.Confidence < e.threshold {
				continue
			}
			link := models.Link{
				UUID: uuid.NewString(), SourceEntity: c.Source.ID, TargetEntity: c.Target.ID,
				LinkType: c.LinkType, Confidence: c.Confidence, Evidence: c.Evidence, PackName: pack.Name(),
			}
			if err := e.links.Create(ctx, &link); err != nil {
				e.log.Error("failed to persist ule link", zap.String("pack", pack.Name()), zap.Error(err))
				continue
			}
			metrics.RecordULELink(pack.Name(), c.LinkType)
			created = append(created, link)
		}
	}
	return created, nil
}

// FindLinks resolves source entities by document id, collects the
// stored links that touch any of them, keeps those matching LinkType
// (when set) and at or above Threshold, sorts by descending confidence,
// and truncates to Max (§4.8 find_links). It runs no pack matching and
// no semantic search over QueryText, does not filter by EntityType, and
// returns no links when DocumentID is nil. A link between two entities
// of the same document is listed once for each of them.
func (e *Engine) FindLinks(ctx context.Context, req FindLinksRequest) (*FindLinksResult, error) {
	var sources []models.Entity
	if req.DocumentID != nil {
		byDoc, err := e.entities.ListByDocument(ctx, *req.DocumentID)
		if err != nil {
			return nil, err
		}
		sources = append(sources, byDoc...)
	}

	var all []models.Link
	for _, source := range sources {
		linked, err := e.links.ListByEntity(ctx, source.ID)
		if err != nil {
			return nil, err
		}
		all = append(all, linked...)
	}

	filtered := all[:0]
	for _, link := range all {
		if req.LinkType != nil && link.LinkType != *req.LinkType {
			continue
		}
		if link.Confidence < req.Threshold {
			continue
		}
		filtered = append(filtered, link)
	}
	sort.Slice(filtered, func(i, j int) bool { return filtered[i].Confidence > filtered[j].Confidence })
	if req.Max > 0 && len(filtered) > req.Max {
		filtered = filtered[:req.Max]
	}
	return &FindLinksResult{Links: filtered}, nil
}

// GetEvidence returns the link with a human-readable explanation, or
// nil if the link id is unknown.
func (e *Engine) GetEvidence(ctx context.Context, linkID string) (*EvidenceExplanation, error) {
	link, err := e.links.Get(ctx, linkID)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, nil
	}
	return &EvidenceExplanation{Link: *link, Explanation: explain(*link)}, nil
}

func explain(link models.Link) string {
	explanation := fmt.Sprintf("%.0f%% confidence %s link", link.Confidence*100, link.LinkType)
	for _, ev := range link.Evidence {
		switch ev.Type {
		case models.EvidenceSemanticSimilar:
			explanation += fmt.Sprintf("; semantic similarity %s", ev.Value)
		case models.EvidenceKeywordMatch:
			explanation += fmt.Sprintf("; matched keywords: %s", ev.Value)
		case models.EvidenceCSICodeMatch:
			explanation += fmt.Sprintf("; matched CSI code %s", ev.Value)
		case models.EvidenceMaterialMatch:
			explanation += fmt.Sprintf("; matched material %s", ev.Value)
		case models.EvidenceDrawingReference:
			explanation += fmt.Sprintf("; matched drawing %s", ev.Value)
		case models.EvidenceCostCodeMatch:
			explanation += fmt.Sprintf("; matched cost code %s", ev.Value)
		case models.EvidenceDateProximity:
			explanation += fmt.Sprintf("; dates within %s", ev.Value)
		default:
			explanation += fmt.Sprintf("; %s: %s", ev.Type, ev.Value)
		}
	}
	return explanation
}

// GetStatistics returns entity and link counts by type.
func (e *Engine) GetStatistics(ctx context.Context) (*Statistics, error) {
	entityCounts, err := e.entities.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	linkCounts, err := e.links.CountByType(ctx)
	if err != nil {
		return nil, err
	}
	return &Statistics{EntitiesByType: entityCounts, LinksByType: linkCounts}, nil
}
