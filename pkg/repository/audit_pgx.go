package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	govplaneerrors "github.com/govplane/backplane/pkg/shared/errors"
)

// PgxAuditRepository is the append-only decision log. It batches writes
// through a bounded channel drained by a background flusher, using
// pgx's pool directly (bypassing sqlx's row scanning) since audit
// writes are the highest-throughput path in the whole system — every
// PDP evaluate() call writes exactly one record.
type PgxAuditRepository struct {
	pool      *pgxpool.Pool
	log       *zap.Logger
	buf       chan *models.AuditRecord
	batchSize int
	flushEvery time.Duration

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewPgxAuditRepository starts the background flusher; call Close to
// drain and stop it.
func NewPgxAuditRepository(pool *pgxpool.Pool, log *zap.Logger, bufferSize, batchSize int, flushEvery time.Duration) *PgxAuditRepository {
	r := &PgxAuditRepository{
		pool:       pool,
		log:        log,
		buf:        make(chan *models.AuditRecord, bufferSize),
		batchSize:  batchSize,
		flushEvery: flushEvery,
		done:       make(chan struct{}),
	}
	go r.flushLoop()
	return r
}

// Log enqueues r for asynchronous, non-blocking persistence. The PDP
// never waits on a database round trip to finish evaluate().
func (r *PgxAuditRepository) Log(ctx context.Context, rec *models.AuditRecord) error {
	select {
	case r.buf <- rec:
		return nil
	default:
		return govplaneerrors.FailedTo("enqueue audit record: buffer full", nil)
	}
}

func (r *PgxAuditRepository) flushLoop() {
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()
	batch := make([]*models.AuditRecord, 0, r.batchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := r.insertBatch(context.Background(), batch); err != nil {
			r.log.Error("failed to flush audit batch", zap.Error(err), zap.Int("count", len(batch)))
		}
		batch = batch[:0]
	}
	for {
		select {
		case rec, ok := <-r.buf:
			if !ok {
				flush()
				close(r.done)
				return
			}
			batch = append(batch, rec)
			if len(batch) >= r.batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (r *PgxAuditRepository) insertBatch(ctx context.Context, batch []*models.AuditRecord) error {
	rows := make([][]any, 0, len(batch))
	for _, rec := range batch {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return govplaneerrors.ParseError("audit metadata", "json", err)
		}
		rows = append(rows, []any{rec.PrincipalID, rec.Action, rec.ResourceType, rec.ResourceID, rec.Decision, meta, rec.IP, rec.Timestamp})
	}
	_, err := r.pool.CopyFrom(ctx,
		[]string{"audit_records"},
		[]string{"principal_id", "action", "resource_type", "resource_id", "decision", "metadata", "ip", "timestamp"},
		pgxRowSource(rows))
	if err != nil {
		return govplaneerrors.DatabaseError("copy audit batch", err)
	}
	return nil
}

// Close stops accepting new records and blocks until the final flush
// completes.
func (r *PgxAuditRepository) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.buf)
	r.mu.Unlock()
	<-r.done
}

func (r *PgxAuditRepository) Query(ctx context.Context, f AuditFilter) ([]models.AuditRecord, error) {
	var clauses []string
	var args []any
	idx := 1
	arg := func(v any) string {
		args = append(args, v)
		idx++
		return fmt.Sprintf("$%d", idx-1)
	}
	if f.PrincipalID != nil {
		clauses = append(clauses, "principal_id = "+arg(*f.PrincipalID))
	}
	if f.Action != "" {
		clauses = append(clauses, "action = "+arg(f.Action))
	}
	if f.ResourceType != "" {
		clauses = append(clauses, "resource_type = "+arg(f.ResourceType))
	}
	if f.Decision != "" {
		clauses = append(clauses, "decision = "+arg(string(f.Decision)))
	}
	if !f.From.IsZero() {
		clauses = append(clauses, "timestamp >= "+arg(f.From))
	}
	if !f.To.IsZero() {
		clauses = append(clauses, "timestamp <= "+arg(f.To))
	}
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	query := "SELECT id, principal_id, action, resource_type, resource_id, decision, metadata, ip, timestamp FROM audit_records"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY timestamp DESC, id DESC LIMIT " + arg(limit)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, govplaneerrors.DatabaseError("query audit records", err)
	}
	defer rows.Close()

	var out []models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.PrincipalID, &rec.Action, &rec.ResourceType, &rec.ResourceID, &rec.Decision, &meta, &rec.IP, &rec.Timestamp); err != nil {
			return nil, govplaneerrors.DatabaseError("scan audit record", err)
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, nil
}

func (r *PgxAuditRepository) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	tag, err := r.pool.Exec(ctx, `DELETE FROM audit_records WHERE timestamp < $1`, cutoff)
	if err != nil {
		return 0, govplaneerrors.DatabaseError("cleanup audit records", err)
	}
	return tag.RowsAffected(), nil
}

type sliceRowSource struct {
	rows []([]any)
	idx  int
}

func pgxRowSource(rows [][]any) *sliceRowSource {
	return &sliceRowSource{rows: rows, idx: -1}
}

func (s *sliceRowSource) Next() bool {
	s.idx++
	return s.idx < len(s.rows)
}

func (s *sliceRowSource) Values() ([]any, error) {
	return s.rows[s.idx], nil
}

func (s *sliceRowSource) Err() error {
	return nil
}
