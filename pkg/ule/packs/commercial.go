package packs

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/ule"
)

// amountPattern matches a dollar amount, e.g. "$12,450.00".
var amountPattern = regexp.MustCompile(`\$\s?[\d,]+(?:\.\d{2})?`)

// costCodePatterns match the cost-code conventions construction cost
// breakdowns carry: WBS (01.02.03), cost center (CC-12345), activity
// (ACT-12345), and budget line (BL-001) references.
var costCodePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\b\d{1,2}\.\d{2}\.\d{2}(?:\.\d{2})?\b`),
	regexp.MustCompile(`(?i)\bCC[-/]?\d{4,8}\b`),
	regexp.MustCompile(`(?i)\bACT[-/]?\d{4,8}\b`),
	regexp.MustCompile(`(?i)\bBL[-/]?\d{3,6}\b`),
}

// paymentCertPattern matches interim payment certificate references,
// e.g. "IPC No. 5" or "Payment Certificate #3".
var paymentCertPattern = regexp.MustCompile(`(?i)(?:IPC|Payment\s*Cert(?:ificate)?|PC)\s*(?:No\.?|#)\s*(\d+)`)

// commercialDatePattern matches an ISO or slash-separated date, e.g. "2024-05-12".
var commercialDatePattern = regexp.MustCompile(`\b(\d{4}[-/]\d{1,2}[-/]\d{1,2})\b`)

// commercialKeywords weights domain terms heavier than an incidental
// word match when scoring keyword overlap between two commercial
// documents.
var commercialKeywords = map[string]float64{
	"payment": 1.5, "invoice": 1.5, "variation": 1.5, "certificate": 1.5,
	"retention": 1.2, "advance": 1.2, "cost": 1.0, "budget": 1.0, "contract": 1.0,
}

// amountTolerancePercent is how far apart two amounts can be and still
// count as matching — a payment certificate's total rarely equals the
// cost item it settles down to the cent.
const amountTolerancePercent = 5.0

// dateProximityDays is how many days apart two commercial documents'
// dates can be and still count as temporally related.
const dateProximityDays = 30.0

// CommercialPack extracts cost line items and payment certificates —
// their cost codes, amounts, and dates — and links entities whose
// amounts agree within tolerance, whose cost codes align, or whose
// dates fall within dateProximityDays of each other.
type CommercialPack struct {
	ule.BasePack
}

func NewCommercialPack() *CommercialPack { return &CommercialPack{} }

func (p *CommercialPack) Name() string { return "commercial" }
func (p *CommercialPack) EntityTypes() []string {
	return []string{"invoice", "change_order", "contract", "cost", "budget", "payment", "certificate", "variation"}
}

func (p *CommercialPack) ExtractEntities(content, documentID, documentName, documentType string, metadata map[string]any) ([]models.Entity, error) {
	var entities []models.Entity
	entities = append(entities, p.extractCostItems(content, documentID, documentType)...)
	entities = append(entities, p.extractPaymentCerts(content, documentID, documentType)...)
	return entities, nil
}

func (p *CommercialPack) extractCostItems(content, documentID, documentType string) []models.Entity {
	raw := p.ExtractReferences(content, amountPattern)
	codes := p.extractCostCodes(content)
	date := firstMatch(commercialDatePattern, content)
	entities := make([]models.Entity, 0, len(raw))
	for _, r := range raw {
		amount, err := parseAmount(r)
		if err != nil {
			continue
		}
		id := stableEntityID("cost", documentID, amount.String())
		meta := map[string]any{"amount": amount.String(), "document_type": documentType}
		if len(codes) > 0 {
			meta["cost_codes"] = codes
		}
		if date != "" {
			meta["date"] = date
		}
		entities = append(entities, models.Entity{
			ID: id, Type: "cost_item", Text: r,
			DocumentID: parseDocID(documentID), Metadata: meta,
		})
	}
	return entities
}

// extractPaymentCerts finds certificate-number mentions and, for each
// one, carries a surrounding window of content as the entity's Text so
// later cross-document reference checks (see checkReferenceMatch) can
// see nearby certificate numbers the same way a reader would.
func (p *CommercialPack) extractPaymentCerts(content, documentID, documentType string) []models.Entity {
	locs := paymentCertPattern.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(locs))
	entities := make([]models.Entity, 0, len(locs))
	for _, loc := range locs {
		certNumber := content[loc[2]:loc[3]]
		if seen[certNumber] {
			continue
		}
		seen[certNumber] = true

		start := loc[0] - 100
		if start < 0 {
			start = 0
		}
		end := loc[1] + 400
		if end > len(content) {
			end = len(content)
		}
		context := content[start:end]

		codes := p.extractCostCodes(context)
		date := firstMatch(commercialDatePattern, context)
		amounts := p.ExtractReferences(context, amountPattern)

		id := stableEntityID("pc", documentID, certNumber)
		meta := map[string]any{"certificate_number": certNumber, "document_type": documentType}
		if len(codes) > 0 {
			meta["cost_codes"] = codes
		}
		if date != "" {
			meta["date"] = date
		}
		if len(amounts) > 0 {
			if amount, err := parseAmount(amounts[0]); err == nil {
				meta["amount"] = amount.String()
			}
		}
		entities = append(entities, models.Entity{
			ID: id, Type: "payment_cert", Text: context, Section: &certNumber,
			DocumentID: parseDocID(documentID), Metadata: meta,
		})
	}
	return entities
}

func (p *CommercialPack) extractCostCodes(content string) []string {
	seen := make(map[string]bool)
	var codes []string
	for _, pattern := range costCodePatterns {
		for _, m := range p.ExtractReferences(content, pattern) {
			if seen[m] {
				continue
			}
			seen[m] = true
			codes = append(codes, m)
		}
	}
	return codes
}

func (p *CommercialPack) MatchEntities(sources, targets []models.Entity, embeddings ule.EmbeddingLookup) ([]ule.Candidate, error) {
	var candidates []ule.Candidate
	for _, source := range sources {
		for _, target := range targets {
			if !p.ShouldLink(source, target) {
				continue
			}
			linkType, ok := commercialLinkType(source.Type, target.Type)
			if !ok {
				continue
			}
			evidence := p.collectEvidence(source, target)
			if len(evidence) == 0 {
				continue
			}
			candidates = append(candidates, ule.Candidate{
				Source: source, Target: target, LinkType: linkType,
				Confidence: p.CalculateConfidence(source, target, evidence), Evidence: evidence,
			})
		}
	}
	return candidates, nil
}

// commercialLinkType reports the link type for a (source, target)
// entity type pair, and whether commercial linking applies to it.
func commercialLinkType(source, target string) (string, bool) {
	switch {
	case source == "cost_item" && target == "cost_item":
		return "matching_amount", true
	case source == "cost_item" && target == "payment_cert":
		return "paid_by", true
	case source == "payment_cert" && target == "cost_item":
		return "pays_for", true
	case source == "payment_cert" && target == "payment_cert":
		return "references", true
	default:
		return "", false
	}
}

func (p *CommercialPack) collectEvidence(source, target models.Entity) []models.Evidence {
	var evidence []models.Evidence
	if e := p.checkCostCodeMatch(source, target); e != nil {
		evidence = append(evidence, *e)
	}
	if e := p.checkAmountMatch(source, target); e != nil {
		evidence = append(evidence, *e)
	}
	if e := p.checkDateProximity(source, target); e != nil {
		evidence = append(evidence, *e)
	}
	if e := p.checkReferenceMatch(source, target); e != nil {
		evidence = append(evidence, *e)
	}
	if score, matched := p.WeightedKeywordMatch(p.Tokenize(source.Text), p.Tokenize(target.Text), commercialKeywords); score > 0 && len(matched) > 0 {
		evidence = append(evidence, p.BuildEvidence(models.EvidenceKeywordMatch, formatFloat(score), score*0.3, "", ""))
	}
	return evidence
}

func (p *CommercialPack) checkCostCodeMatch(source, target models.Entity) *models.Evidence {
	sourceCodes := stringSliceMeta(source.Metadata, "cost_codes")
	targetCodes := stringSliceMeta(target.Metadata, "cost_codes")
	matched := intersectStrings(sourceCodes, targetCodes)
	if len(matched) == 0 {
		return nil
	}
	e := p.BuildEvidence(models.EvidenceCostCodeMatch, strings.Join(matched, ","), 1.0,
		strings.Join(sourceCodes, ","), strings.Join(targetCodes, ","))
	return &e
}

func (p *CommercialPack) checkAmountMatch(source, target models.Entity) *models.Evidence {
	sourceAmount, err := decimal.NewFromString(stringMeta(source.Metadata, "amount"))
	if err != nil {
		return nil
	}
	targetAmount, err := decimal.NewFromString(stringMeta(target.Metadata, "amount"))
	if err != nil {
		return nil
	}
	if sourceAmount.IsZero() || targetAmount.IsZero() {
		return nil
	}
	larger := sourceAmount
	if targetAmount.GreaterThan(larger) {
		larger = targetAmount
	}
	diffPercent := sourceAmount.Sub(targetAmount).Abs().Div(larger).Mul(decimal.NewFromInt(100))
	tolerance := decimal.NewFromFloat(amountTolerancePercent)
	if diffPercent.GreaterThan(tolerance) {
		return nil
	}
	score := 1.0 - diffPercent.Div(tolerance).InexactFloat64()*0.3
	e := p.BuildEvidence(models.EvidenceQuantityReference, sourceAmount.StringFixed(2), score, source.Text, target.Text)
	return &e
}

func (p *CommercialPack) checkDateProximity(source, target models.Entity) *models.Evidence {
	sourceDate, ok1 := parseCommercialDate(stringMeta(source.Metadata, "date"))
	targetDate, ok2 := parseCommercialDate(stringMeta(target.Metadata, "date"))
	if !ok1 || !ok2 {
		return nil
	}
	days := sourceDate.Sub(targetDate).Hours() / 24
	if days < 0 {
		days = -days
	}
	if days > dateProximityDays {
		return nil
	}
	score := 1.0 - (days/dateProximityDays)*0.5
	e := p.BuildEvidence(models.EvidenceDateProximity, fmt.Sprintf("%.0f days", days), score, "", "")
	return &e
}

func (p *CommercialPack) checkReferenceMatch(source, target models.Entity) *models.Evidence {
	sourceCert := stringMeta(source.Metadata, "certificate_number")
	targetCert := stringMeta(target.Metadata, "certificate_number")
	var matched []string
	if targetCert != "" && strings.Contains(source.Text, targetCert) {
		matched = append(matched, "PC-"+targetCert)
	}
	if sourceCert != "" && strings.Contains(target.Text, sourceCert) {
		matched = append(matched, "PC-"+sourceCert)
	}
	if len(matched) == 0 {
		return nil
	}
	e := p.BuildEvidence(models.EvidenceClauseReference, strings.Join(matched, ","), 1.0, "", "")
	return &e
}

func (p *CommercialPack) CalculateConfidence(source, target models.Entity, evidence []models.Evidence) float64 {
	var total float64
	for _, e := range evidence {
		total += e.Weight
	}
	if total > 1 {
		total = 1
	}
	return total
}

func parseAmount(raw string) (decimal.Decimal, error) {
	cleaned := make([]byte, 0, len(raw))
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		if c >= '0' && c <= '9' || c == '.' {
			cleaned = append(cleaned, c)
		}
	}
	return decimal.NewFromString(string(cleaned))
}

func parseCommercialDate(raw string) (time.Time, bool) {
	if raw == "" {
		return time.Time{}, false
	}
	normalized := strings.ReplaceAll(raw, "/", "-")
	t, err := time.Parse("2006-1-2", normalized)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func stringMeta(metadata map[string]any, key string) string {
	v, _ := metadata[key].(string)
	return v
}
