package packs

import (
	"regexp"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/ule"
)

// drawingNumberPattern matches common drawing numbering schemes, e.g.
// "A-101", "S2.03", "M-501A".
var drawingNumberPattern = regexp.MustCompile(`\b[A-Z]{1,2}-?\d{1,4}(?:\.\d{1,2})?[A-Z]?\b`)

// DrawingPack extracts drawing/sheet references from drawing sets and
// links them to RFIs, submittals, or other drawings that cite the same
// sheet number. Matching is by sheet number only, with semantic
// similarity added as evidence when both entities have embeddings; the
// pack does no keyword-overlap matching.
type DrawingPack struct {
	ule.BasePack
}

func NewDrawingPack() *DrawingPack { return &DrawingPack{} }

func (p *DrawingPack) Name() string          { return "drawing" }
func (p *DrawingPack) EntityTypes() []string { return []string{"drawing", "rfi", "change_order", "submittal"} }

func (p *DrawingPack) ExtractEntities(content, documentID, documentName, documentType string, metadata map[string]any) ([]models.Entity, error) {
	numbers := p.ExtractReferences(content, drawingNumberPattern)
	entities := make([]models.Entity, 0, len(numbers))
	for _, num := range numbers {
		id := stableEntityID("drw", documentID, num)
		entities = append(entities, models.Entity{
			ID: id, Type: "drawing", Text: num,
			DocumentID: parseDocID(documentID), Metadata: map[string]any{"number": num, "document_type": documentType},
		})
	}
	return entities, nil
}

func (p *DrawingPack) MatchEntities(sources, targets []models.Entity, embeddings ule.EmbeddingLookup) ([]ule.Candidate, error) {
	var candidates []ule.Candidate
	for _, source := range sources {
		if source.Type != "drawing" {
			continue
		}
		sourceNumber, _ := source.Metadata["number"].(string)
		for _, target := range targets {
			if !p.ShouldLink(source, target) {
				continue
			}
			targetNumber, _ := target.Metadata["number"].(string)
			if sourceNumber == "" || sourceNumber != targetNumber || target.Type != "drawing" {
				continue
			}
			evidence := []models.Evidence{p.BuildEvidence(models.EvidenceDrawingReference, sourceNumber, 0.85, source.Text, target.Text)}
			if vec, ok := embeddings(source.ID); ok {
				if tvec, ok2 := embeddings(target.ID); ok2 {
					sim := p.CosineSimilarity(vec, tvec)
					if sim > 0 {
						evidence = append(evidence, p.BuildEvidence(models.EvidenceSemanticSimilar, formatScore(sim), sim*0.3, "", ""))
					}
				}
			}
			candidates = append(candidates, ule.Candidate{
				Source: source, Target: target, LinkType: "references_drawing",
				Confidence: p.CalculateConfidence(source, target, evidence), Evidence: evidence,
			})
		}
	}
	return candidates, nil
}

func (p *DrawingPack) CalculateConfidence(source, target models.Entity, evidence []models.Evidence) float64 {
	var total float64
	for _, e := range evidence {
		total += e.Weight
	}
	if total > 1 {
		total = 1
	}
	return total
}

func formatScore(score float64) string {
	return formatFloat(score)
}
