package hydration

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/hydration/connectors"
	"github.com/govplane/backplane/pkg/metrics"
	"github.com/govplane/backplane/pkg/models"
)

// processItem implements the per-item algorithm of §4.7: metadata,
// delete detection, checksum-gated versioning, dry-run short-circuit,
// download, extract, chunk, index, link.
func (p *Pipeline) processItem(ctx context.Context, run *models.HydrationRun, conn connectors.Connector, source models.WorkspaceSource, item connectors.Item, opts Options) error {
	meta, err := conn.GetMetadata(ctx, item)
	if err != nil {
		p.addRunItem(run, nil, models.ItemActionSkip, "metadata_error", nil)
		return err
	}

	if meta.Removed {
		existing, _ := p.documents.GetBySourceDocumentID(ctx, source.WorkspaceID, source.SourceType, meta.SourceDocumentID)
		var docID *int64
		if existing != nil {
			_ = p.documents.MarkDeleted(ctx, existing.ID)
			docID = &existing.ID
		}
		p.addRunItem(run, docID, models.ItemActionDelete, "success", nil)
		metrics.RecordHydrationFile(string(models.ItemActionDelete))
		return nil
	}

	checksum := meta.Checksum
	if checksum == "" {
		checksum = FallbackChecksum(meta.SourceDocumentID)
	}

	existing, err := p.documents.GetBySourceDocumentID(ctx, source.WorkspaceID, source.SourceType, meta.SourceDocumentID)
	if err != nil {
		return p.failItem(run, nil, models.ItemActionSkip, "lookup failed", err)
	}

	isNew := existing == nil
	doc := existing
	if doc == nil {
		doc = &models.Document{WorkspaceID: source.WorkspaceID, SourceType: source.SourceType, SourceDocumentID: meta.SourceDocumentID}
	}

	var latest *models.DocumentVersion
	if !isNew {
		latest, _ = p.versions.Latest(ctx, doc.ID)
		if latest != nil && latest.Checksum == checksum {
			p.addRunItem(run, &doc.ID, models.ItemActionSkip, "unchanged", map[string]any{"reason": "unchanged"})
			metrics.RecordHydrationFile(string(models.ItemActionSkip))
			return nil
		}
	}

	doc.SourcePath = meta.Path
	doc.Name = meta.Name
	doc.MIME = meta.MIME
	doc.Size = meta.Size
	doc.ModifiedTime = meta.ModifiedTime
	doc.Checksum = checksum
	doc.IngestionStatus = models.IngestionPending

	savedDoc, err := p.documents.Upsert(ctx, doc)
	if err != nil {
		return p.failItem(run, nil, models.ItemActionSkip, "upsert document failed", err)
	}

	action := models.ItemActionNew
	if !isNew {
		action = models.ItemActionUpdate
	}

	if opts.DryRun {
		p.addRunItem(run, &savedDoc.ID, action, "dry_run", map[string]any{"dry_run": true})
		return nil
	}

	versionNum := 1
	if latest != nil {
		versionNum = latest.VersionNum + 1
	}
	version := &models.DocumentVersion{DocumentID: savedDoc.ID, VersionNum: versionNum, ModifiedTime: meta.ModifiedTime, Checksum: checksum}

	downloadStart := time.Now()
	data, err := conn.Download(ctx, item)
	downloadMS := time.Since(downloadStart).Milliseconds()
	if err != nil {
		return p.failItemWithAlert(run, &savedDoc.ID, action, "download failed", err, models.AlertCategoryExtraction)
	}
	p.incrCounter(func() { run.Counters.Downloaded++ })

	text, structured, err := p.extractor.Extract(meta.Name, meta.MIME, data)
	if err != nil {
		return p.failItemWithAlert(run, &savedDoc.ID, action, "extraction failed", err, models.AlertCategoryExtraction)
	}
	if text == "" && p.ocrEnabled {
		text, _ = p.ocr.Extract(data)
	}

	savedDoc.DocType = ClassifyDocType(meta.Name, text)
	version.ExtractedText = &text
	version.ExtractedStructured = structured
	savedDoc.IngestionStatus = models.IngestionExtracted
	if _, err := p.documents.Upsert(ctx, savedDoc); err != nil {
		p.log.Warn("failed to persist document extraction status", zap.Int64("document_id", savedDoc.ID), zap.Error(err))
	}
	p.incrCounter(func() { run.Counters.Extracted++ })

	createdVersion, err := p.versions.Create(ctx, version)
	if err != nil {
		return p.failItemWithAlert(run, &savedDoc.ID, action, "version creation failed", err, models.AlertCategoryExtraction)
	}

	chunks := ChunkText(text, p.maxChunkLen)
	chunkCount, err := p.indexing.IndexChunks(ctx, source.WorkspaceID, savedDoc.ID, createdVersion.ID, chunks)
	if err != nil {
		return p.failItemWithAlert(run, &savedDoc.ID, action, "indexing failed", err, models.AlertCategoryIndexing)
	}
	createdVersion.ChunkCount = chunkCount
	createdVersion.EmbeddingStatus = "done"
	createdVersion.IndexStatus = "done"
	if err := p.versions.Update(ctx, createdVersion); err != nil {
		p.log.Warn("failed to persist index status", zap.Int64("version_id", createdVersion.ID), zap.Error(err))
	}
	savedDoc.IngestionStatus = models.IngestionIndexed
	if _, err := p.documents.Upsert(ctx, savedDoc); err != nil {
		p.log.Warn("failed to persist document index status", zap.Int64("document_id", savedDoc.ID), zap.Error(err))
	}
	p.incrCounter(func() { run.Counters.Indexed++ })

	entityCount, err := p.uleHook.Run(ctx, source.WorkspaceID, savedDoc.ID, savedDoc.Name, text)
	if err != nil {
		return p.failItemWithAlert(run, &savedDoc.ID, action, "linking failed", err, models.AlertCategoryULE)
	}
	createdVersion.LinkStatus = "done"
	if err := p.versions.Update(ctx, createdVersion); err != nil {
		p.log.Warn("failed to persist link status", zap.Int64("version_id", createdVersion.ID), zap.Error(err))
	}
	savedDoc.IngestionStatus = models.IngestionLinked
	if _, err := p.documents.Upsert(ctx, savedDoc); err != nil {
		p.log.Warn("failed to persist document link status", zap.Int64("document_id", savedDoc.ID), zap.Error(err))
	}
	p.incrCounter(func() {
		run.Counters.Linked++
		if action == models.ItemActionNew {
			run.Counters.New++
		} else {
			run.Counters.Updated++
		}
	})

	p.addRunItem(run, &savedDoc.ID, action, "success", map[string]any{
		"download_ms":  downloadMS,
		"chunk_count":  chunkCount,
		"entity_count": entityCount,
		"doc_type":     savedDoc.DocType,
	})
	metrics.RecordHydrationFile(string(action))
	return nil
}

// incrCounter serializes one run.Counters mutation against the
// concurrent processItem goroutines hydrateSource fans out.
func (p *Pipeline) incrCounter(mutate func()) {
	p.countersMu.Lock()
	mutate()
	p.countersMu.Unlock()
}

func (p *Pipeline) addRunItem(run *models.HydrationRun, documentID *int64, action models.ItemAction, status string, detail map[string]any) {
	item := &models.RunItem{RunID: run.ID, DocumentID: documentID, Action: action, Status: status, Detail: detail}
	if err := p.runs.AddItem(context.Background(), item); err != nil {
		p.log.Error("failed to record hydration run item", zap.Int64("run_id", run.ID), zap.Error(err))
	}
}

// failItem records a failed RunItem without raising an alert — used
// for bookkeeping-level failures (lookup/upsert) that precede the
// download/extract/index/link phases an alert category maps to.
func (p *Pipeline) failItem(run *models.HydrationRun, documentID *int64, action models.ItemAction, reason string, cause error) error {
	p.addRunItem(run, documentID, action, "failed", map[string]any{"reason": reason, "error": cause.Error()})
	return cause
}

// failItemWithAlert records the failed RunItem and raises a
// category-scoped alert, matching §4.7 step 10: "On any error the
// item is marked failed, Run goes to partial, an alert is raised in
// the appropriate category, and the pipeline continues."
func (p *Pipeline) failItemWithAlert(run *models.HydrationRun, documentID *int64, action models.ItemAction, reason string, cause error, category models.AlertCategory) error {
	p.addRunItem(run, documentID, action, "failed", map[string]any{"reason": reason, "error": cause.Error()})
	p.raiseAlert(context.Background(), run, category, models.SeverityMedium, reason+": "+cause.Error())
	return cause
}
