// Package audit implements the append-only Audit Logger (§4.4): every
// PDP decision, plus aggregate statistics over the log and retention
// cleanup.
package audit

import (
	"context"
	"sort"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
)

// Logger records decisions and answers statistics queries over them.
type Logger struct {
	repo repository.AuditRepository
	log  *zap.Logger
}

func New(repo repository.AuditRepository, log *zap.Logger) *Logger {
	return &Logger{repo: repo, log: log}
}

// Log appends one record with a server-assigned timestamp.
func (l *Logger) Log(ctx context.Context, principalID *int, action string, resourceType, resourceID *string, decision models.Decision, metadata map[string]any, ip *string) error {
	return l.repo.Log(ctx, &models.AuditRecord{
		PrincipalID:  principalID,
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Decision:     decision,
		Metadata:     metadata,
		IP:           ip,
		Timestamp:    time.Now(),
	})
}

// Query returns matching records, timestamp descending with id as a
// tie-break — the repository implementation owns the exact ordering.
func (l *Logger) Query(ctx context.Context, f repository.AuditFilter) ([]models.AuditRecord, error) {
	return l.repo.Query(ctx, f)
}

// Stats summarizes a set of records: denial rate and the most frequent
// principals, actions, and resources.
type Stats struct {
	Total         int            `json:"total"`
	Denied        int            `json:"denied"`
	DenialRate    float64        `json:"denial_rate"`
	TopPrincipals []RankedCount  `json:"top_principals"`
	TopActions    []RankedCount  `json:"top_actions"`
	TopResources  []RankedCount  `json:"top_resources"`
}

// RankedCount is one entry of a frequency ranking.
type RankedCount struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Aggregate computes Stats over f's matching window.
func (l *Logger) Aggregate(ctx context.Context, f repository.AuditFilter) (Stats, error) {
	records, err := l.repo.Query(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	principalCounts := map[string]int{}
	actionCounts := map[string]int{}
	resourceCounts := map[string]int{}
	denied := 0

	for _, r := range records {
		if r.Decision != models.DecisionAllow {
			denied++
		}
		if r.PrincipalID != nil {
			principalCounts[strconv.Itoa(*r.PrincipalID)]++
		}
		actionCounts[r.Action]++
		if r.ResourceType != nil {
			key := *r.ResourceType
			if r.ResourceID != nil {
				key += ":" + *r.ResourceID
			}
			resourceCounts[key]++
		}
	}

	stats := Stats{
		Total:         len(records),
		Denied:        denied,
		TopPrincipals: topN(principalCounts, 10),
		TopActions:    topN(actionCounts, 10),
		TopResources:  topN(resourceCounts, 10),
	}
	if stats.Total > 0 {
		stats.DenialRate = float64(denied) / float64(stats.Total)
	}
	return stats, nil
}

// Cleanup deletes records older than olderThanDays, returning the
// number removed.
func (l *Logger) Cleanup(ctx context.Context, olderThanDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -olderThanDays)
	return l.repo.Cleanup(ctx, cutoff)
}

func topN(counts map[string]int, n int) []RankedCount {
	ranked := make([]RankedCount, 0, len(counts))
	for k, c := range counts {
		ranked = append(ranked, RankedCount{Key: k, Count: c})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Count != ranked[j].Count {
			return ranked[i].Count > ranked[j].Count
		}
		return ranked[i].Key < ranked[j].Key
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}
