// Package scanner implements the Content Scanner (§4.2): regex pattern
// categories plus heuristic checks, with an optional ML classifier
// backing severity escalation.
package scanner

import (
	"context"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/repository"
	"github.com/govplane/backplane/pkg/rules"
)

// Violation is a single matched pattern or heuristic hit.
type Violation struct {
	Type        string                `json:"type"`
	Severity    models.PatternSeverity `json:"severity"`
	Description string                `json:"description"`
}

// Result is the scanner's verdict for one piece of text.
type Result struct {
	Safe       bool                   `json:"safe"`
	Violations []Violation            `json:"violations"`
	Severity   models.PatternSeverity `json:"severity"`
	Sanitized  string                 `json:"sanitized,omitempty"`
	Details    map[string]any         `json:"details,omitempty"`
}

// Classifier optionally escalates severity using an ML backend. A
// failing or absent classifier degrades scanning to regex-only.
type Classifier interface {
	Classify(ctx context.Context, text string) (models.PatternSeverity, error)
}

var builtinPatterns = map[string][]*regexp.Regexp{
	"pii": {
		regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),                                   // SSN
		regexp.MustCompile(`\b\d{4}[- ]?\d{4}[- ]?\d{4}[- ]?\d{4}\b`),                  // card number
		regexp.MustCompile(`(?i)\b[a-z0-9._%+\-]+@[a-z0-9.\-]+\.[a-z]{2,}\b`),          // email
	},
	"sql_injection": {
		regexp.MustCompile(`(?i)(\bunion\b\s+\bselect\b)`),
		regexp.MustCompile(`(?i)(\bor\b\s+1\s*=\s*1\b)`),
		regexp.MustCompile(`(?i)(;\s*drop\s+table\b)`),
		regexp.MustCompile(`(?i)(--|#|/\*)`),
	},
	"xss": {
		regexp.MustCompile(`(?i)<script[^>]*>`),
		regexp.MustCompile(`(?i)on\w+\s*=\s*["']`),
		regexp.MustCompile(`(?i)javascript:`),
	},
	"command_injection": {
		regexp.MustCompile("(?:;|\\||&&)\\s*(rm|curl|wget|nc|bash|sh)\\s"),
		regexp.MustCompile("\\$\\([^)]+\\)"),
		regexp.MustCompile("`[^`]+`"),
	},
}

var (
	urlEncodedTriple = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	base64Run        = regexp.MustCompile(`[A-Za-z0-9+/]{80,}={0,2}`)
	specialChar      = regexp.MustCompile(`[^a-zA-Z0-9\s]`)
)

var categorySeverity = map[string]models.PatternSeverity{
	"pii":                models.SeverityMedium,
	"sql_injection":       models.SeverityHigh,
	"xss":                 models.SeverityHigh,
	"command_injection":   models.SeverityCritical,
	"malicious_heuristic": models.SeverityCritical,
}

// Scanner evaluates text against builtin, DB-sourced, and optional ML
// content rules.
type Scanner struct {
	repo       repository.PatternRepository
	classifier Classifier
	mlThreshold float64
	log        *zap.Logger

	mu       sync.RWMutex
	extra    map[string][]*regexp.Regexp
	loaded   bool
}

func New(repo repository.PatternRepository, classifier Classifier, mlThreshold float64, log *zap.Logger) *Scanner {
	return &Scanner{repo: repo, classifier: classifier, mlThreshold: mlThreshold, log: log}
}

// refresh loads enabled DB patterns, grouped by type, ignoring any row
// whose regex fails to compile rather than failing the whole scan.
func (s *Scanner) refresh(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded || s.repo == nil {
		return
	}
	s.loaded = true
	patterns, err := s.repo.ListEnabled(ctx)
	if err != nil {
		s.log.Warn("failed to load content scanner patterns, using builtin only", zap.Error(err))
		return
	}
	grouped := map[string][]*regexp.Regexp{}
	for _, p := range patterns {
		re, err := regexp.Compile(p.Regex)
		if err != nil {
			s.log.Warn("ignoring invalid prohibited pattern", zap.Int64("pattern_id", p.ID), zap.Error(err))
			continue
		}
		grouped[p.Type] = append(grouped[p.Type], re)
	}
	s.extra = grouped
}

// InvalidateCache forces the next Scan to reload DB-sourced patterns.
func (s *Scanner) InvalidateCache() {
	s.mu.Lock()
	s.loaded = false
	s.mu.Unlock()
}

func (s *Scanner) patternsFor(category string) []*regexp.Regexp {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := append([]*regexp.Regexp{}, builtinPatterns[category]...)
	all = append(all, s.extra[category]...)
	return all
}

// Scan checks text for prohibited content, returning a severity-ranked
// verdict and, when violations exist, a sanitized copy.
func (s *Scanner) Scan(ctx context.Context, text string) Result {
	s.refresh(ctx)

	var violations []Violation
	severity := models.SeverityLow

	for _, category := range []string{"pii", "sql_injection", "xss", "command_injection"} {
		for _, re := range s.patternsFor(category) {
			if re.MatchString(text) {
				violations = append(violations, Violation{Type: category, Severity: categorySeverity[category], Description: category + " pattern matched"})
				severity = models.MaxSeverity(severity, categorySeverity[category])
				break
			}
		}
	}

	if heuristic := detectHeuristics(text); heuristic != "" {
		violations = append(violations, Violation{Type: "malicious_heuristic", Severity: models.SeverityCritical, Description: heuristic})
		severity = models.MaxSeverity(severity, models.SeverityCritical)
	}

	if s.classifier != nil {
		if mlSeverity, err := s.classifier.Classify(ctx, text); err == nil {
			if mlSeverity == models.SeverityCritical || mlSeverity == models.SeverityHigh {
				violations = append(violations, Violation{Type: "ml_classifier", Severity: mlSeverity, Description: "flagged by ML classifier"})
				severity = models.MaxSeverity(severity, mlSeverity)
			}
		} else {
			s.log.Warn("ML classifier failed, continuing with regex-only result", zap.Error(err))
		}
	}

	result := Result{
		Safe:       len(violations) == 0,
		Violations: violations,
		Severity:   severity,
	}
	if len(violations) > 0 {
		result.Sanitized = Sanitize(text)
	}
	return result
}

// PDPAdapter narrows a Scanner to the rules.ContentScanResult shape the
// Policy Engine's content-prohibition rule consumes, so *Scanner's
// richer Result (violations, sanitized text, details) stays internal
// to callers that want it.
type PDPAdapter struct {
	*Scanner
}

// Scan satisfies pdp.ContentScanner.
func (a PDPAdapter) Scan(ctx context.Context, text string) rules.ContentScanResult {
	result := a.Scanner.Scan(ctx, text)
	return rules.ContentScanResult{Safe: result.Safe, Severity: result.Severity}
}

// detectHeuristics flags text that looks obfuscated or binary-laden
// rather than matching a specific injection grammar.
func detectHeuristics(text string) string {
	if strings.ContainsRune(text, '\x00') {
		return "null byte present"
	}
	if len(text) > 0 {
		specials := len(specialChar.FindAllString(text, -1))
		if float64(specials)/float64(len(text)) > 0.30 {
			return "special character ratio exceeds 30%"
		}
	}
	if len(urlEncodedTriple.FindAllString(text, -1)) >= 10 {
		return "excessive URL-encoded sequences"
	}
	if base64Run.MatchString(text) {
		return "long base64-like run detected"
	}
	return ""
}

var (
	scriptTag    = regexp.MustCompile(`(?i)<script[^>]*>.*?</script>`)
	eventHandler = regexp.MustCompile(`(?i)\s+on\w+\s*=\s*"[^"]*"|\s+on\w+\s*=\s*'[^']*'`)
	jsScheme     = regexp.MustCompile(`(?i)javascript:`)
	sqlComment   = regexp.MustCompile(`(--|#|/\*.*?\*/)`)
	embedTag     = regexp.MustCompile(`(?i)<(iframe|object|embed)[^>]*>.*?</(iframe|object|embed)>`)
)

// Sanitize returns a best-effort cleaned copy of text: it never
// guarantees safety, only removes the most common injection vectors.
func Sanitize(text string) string {
	out := scriptTag.ReplaceAllString(text, "")
	out = embedTag.ReplaceAllString(out, "")
	out = eventHandler.ReplaceAllString(out, "")
	out = jsScheme.ReplaceAllString(out, "")
	out = sqlComment.ReplaceAllString(out, "")
	out = strings.ReplaceAll(out, "\x00", "")
	return out
}
