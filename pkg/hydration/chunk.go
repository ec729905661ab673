package hydration

import "strings"

// DefaultMaxChunkLength is the configured target chunk size (§4.7
// step 7): "max chunk length (default ~800 characters)".
const DefaultMaxChunkLength = 800

// ChunkText splits text into paragraph-accumulated chunks no longer
// than maxLen, emitting a chunk whenever the next paragraph would
// overflow it. A single paragraph longer than maxLen is not split: it
// is emitted whole as its own chunk. Empty text yields zero chunks.
func ChunkText(text string, maxLen int) []string {
	if maxLen <= 0 {
		maxLen = DefaultMaxChunkLength
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	paragraphs := strings.Split(text, "\n\n")
	var chunks []string
	var current strings.Builder

	flush := func() {
		if current.Len() > 0 {
			chunks = append(chunks, strings.TrimSpace(current.String()))
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len("\n\n")+len(p) > maxLen {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
		if current.Len() > maxLen {
			flush()
		}
	}
	flush()
	return chunks
}
