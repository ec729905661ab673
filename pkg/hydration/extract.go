package hydration

import (
	"crypto/sha256"
	"encoding/hex"
	"path/filepath"
	"strings"
)

// Extractor turns downloaded bytes into a text/structured pair. Parser
// internals (PDF layout, DOCX XML, etc.) are out of scope for this
// module; Extractor is the seam a real document-parsing library plugs
// into. DefaultExtractor handles plain-text formats directly and
// returns empty text for anything else, which is itself a meaningful
// result: it is what routes a file into the OCR fallback path.
type Extractor interface {
	Extract(name, mime string, data []byte) (text string, structured map[string]any, err error)
}

// OCRExtractor is attempted only when HYDRATION_OCR_ENABLED is set and
// text extraction yielded nothing (§4.7 step 6). OCR internals are out
// of scope; NoopOCR is the default when no provider is configured.
type OCRExtractor interface {
	Extract(data []byte) (text string, err error)
}

// NoopOCR never recovers text; configuring no real OCR provider simply
// means OCR-eligible files stay textless, same as if OCR were disabled.
type NoopOCR struct{}

func (NoopOCR) Extract([]byte) (string, error) { return "", nil }

// DefaultExtractor decodes text/plain-ish formats as UTF-8 and treats
// everything else as requiring a richer parser than this module ships.
type DefaultExtractor struct{}

var plainTextExtensions = map[string]bool{
	".txt": true, ".md": true, ".markdown": true, ".json": true, ".csv": true, ".yaml": true, ".yml": true,
}

func (DefaultExtractor) Extract(name, mime string, data []byte) (string, map[string]any, error) {
	ext := strings.ToLower(filepath.Ext(name))
	if plainTextExtensions[ext] || strings.HasPrefix(mime, "text/") {
		return string(data), nil, nil
	}
	return "", nil, nil
}

// docTypeKeywords maps a document classification to the name/text
// keywords that trigger it, checked in order (§4.7 step 6: "classify
// document type by keyword heuristics").
var docTypeKeywords = []struct {
	docType  string
	keywords []string
}{
	{"invoice", []string{"invoice", "amount due", "bill to"}},
	{"change_order", []string{"change order"}},
	{"contract", []string{"contract", "agreement", "terms and conditions"}},
	{"submittal", []string{"submittal", "shop drawing"}},
	{"drawing", []string{"drawing", "blueprint", "schematic", "elevation"}},
	{"rfi", []string{"request for information", "rfi"}},
}

// ClassifyDocType applies keyword heuristics over the document name
// and extracted text, falling back to "general".
func ClassifyDocType(name, text string) string {
	haystack := strings.ToLower(name + " " + text)
	for _, entry := range docTypeKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(haystack, kw) {
				return entry.docType
			}
		}
	}
	return "general"
}

// FallbackChecksum hashes the source document id when a connector
// cannot provide one (§4.7 step 3: "fallback hash of source_document_id").
func FallbackChecksum(sourceDocumentID string) string {
	sum := sha256.Sum256([]byte(sourceDocumentID))
	return hex.EncodeToString(sum[:])
}
