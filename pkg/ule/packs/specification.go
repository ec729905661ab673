// Package packs provides the domain entity-extraction packs shipped
// with the Universal Linking Engine: specification sections (CSI
// MasterFormat codes), drawing references, and commercial line items.
package packs

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/govplane/backplane/pkg/models"
	"github.com/govplane/backplane/pkg/ule"
)

// csiCodePattern matches a MasterFormat-style section number, e.g.
// "03 30 00" or "033000".
var csiCodePattern = regexp.MustCompile(`\b\d{2}\s?\d{2}\s?\d{2}\b`)

// materialKeywords groups common construction materials by category;
// entities whose text mentions the same category get a material_match
// evidence item independent of whether their CSI codes align.
var materialKeywords = map[string][]string{
	"concrete":      {"concrete", "cement", "rebar", "precast"},
	"steel":         {"steel", "reinforcement", "structural steel", "galvanized"},
	"masonry":       {"brick", "block", "masonry", "mortar"},
	"timber":        {"timber", "plywood", "lumber", "hardwood"},
	"waterproofing": {"waterproofing", "membrane", "bitumen", "sealant"},
	"finishes":      {"paint", "plaster", "tiles", "flooring"},
}

// specificationKeywords weights division-level terms heavier than an
// incidental word match when scoring keyword overlap between a
// specification section and a submittal or drawing that cites it.
var specificationKeywords = map[string]float64{
	"concrete": 1.5, "structural": 1.3, "finishes": 1.2, "mechanical": 1.2,
	"electrical": 1.2, "submittal": 1.0, "specification": 1.0,
}

// SpecificationPack extracts CSI division references from
// specification and submittal text and links them to drawings or
// other specification sections that cite the same code.
type SpecificationPack struct {
	ule.BasePack
}

func NewSpecificationPack() *SpecificationPack { return &SpecificationPack{} }

func (p *SpecificationPack) Name() string          { return "specification" }
func (p *SpecificationPack) EntityTypes() []string { return []string{"spec_section", "submittal", "contract"} }

func (p *SpecificationPack) ExtractEntities(content, documentID, documentName, documentType string, metadata map[string]any) ([]models.Entity, error) {
	codes := p.ExtractReferences(content, csiCodePattern)
	materials := identifyMaterials(content)
	keywords := p.Tokenize(content)
	entities := make([]models.Entity, 0, len(codes))
	for _, code := range codes {
		normalized := strings.ReplaceAll(code, " ", "")
		id := stableEntityID("csi", documentID, normalized)
		meta := map[string]any{"code": normalized, "document_type": documentType, "keywords": keywords}
		if len(materials) > 0 {
			meta["materials"] = materials
		}
		entities = append(entities, models.Entity{
			ID: id, Type: "spec_section", Text: code,
			DocumentID: parseDocID(documentID), Metadata: meta,
		})
	}
	return entities, nil
}

func (p *SpecificationPack) MatchEntities(sources, targets []models.Entity, embeddings ule.EmbeddingLookup) ([]ule.Candidate, error) {
	var candidates []ule.Candidate
	for _, source := range sources {
		if source.Type != "spec_section" {
			continue
		}
		sourceCode, _ := source.Metadata["code"].(string)
		for _, target := range targets {
			if !p.ShouldLink(source, target) || target.Type != "spec_section" {
				continue
			}
			targetCode, _ := target.Metadata["code"].(string)
			if sourceCode == "" || sourceCode != targetCode {
				continue
			}
			evidence := []models.Evidence{p.BuildEvidence(models.EvidenceCSICodeMatch, sourceCode, 0.9, source.Text, target.Text)}
			if e := p.checkMaterialMatch(source, target); e != nil {
				evidence = append(evidence, *e)
			}
			if score, matched := p.WeightedKeywordMatch(stringSliceMeta(source.Metadata, "keywords"), stringSliceMeta(target.Metadata, "keywords"), specificationKeywords); score > 0 && len(matched) > 0 {
				evidence = append(evidence, p.BuildEvidence(models.EvidenceKeywordMatch, formatFloat(score), score*0.4, "", ""))
			}
			candidates = append(candidates, ule.Candidate{
				Source: source, Target: target, LinkType: "same_spec_section",
				Confidence: p.CalculateConfidence(source, target, evidence), Evidence: evidence,
			})
		}
	}
	return candidates, nil
}

func (p *SpecificationPack) checkMaterialMatch(source, target models.Entity) *models.Evidence {
	sourceMaterials := stringSliceMeta(source.Metadata, "materials")
	targetMaterials := stringSliceMeta(target.Metadata, "materials")
	matched := intersectStrings(sourceMaterials, targetMaterials)
	if len(matched) == 0 {
		return nil
	}
	union := len(sourceMaterials) + len(targetMaterials) - len(matched)
	score := float64(len(matched)) / float64(union)
	e := p.BuildEvidence(models.EvidenceMaterialMatch, strings.Join(matched, ","), score, "", "")
	return &e
}

// identifyMaterials returns the material categories mentioned in text.
func identifyMaterials(text string) []string {
	lower := strings.ToLower(text)
	var found []string
	for category, keywords := range materialKeywords {
		for _, kw := range keywords {
			if strings.Contains(lower, kw) {
				found = append(found, category)
				break
			}
		}
	}
	return found
}

func (p *SpecificationPack) CalculateConfidence(source, target models.Entity, evidence []models.Evidence) float64 {
	var total float64
	for _, e := range evidence {
		total += e.Weight
	}
	if total > 1 {
		total = 1
	}
	return total
}

func stableEntityID(prefix, documentID, value string) string {
	sum := sha256.Sum256([]byte(documentID + "|" + value))
	return fmt.Sprintf("%s:%s", prefix, hex.EncodeToString(sum[:8]))
}

func parseDocID(documentID string) *int64 {
	var id int64
	if _, err := fmt.Sscanf(documentID, "%d", &id); err != nil {
		return nil
	}
	return &id
}
