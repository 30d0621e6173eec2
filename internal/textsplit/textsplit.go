// Package textsplit chunks long source text at sentence boundaries so each
// refinement run operates on a bounded input, and merges the rewritten
// chunks back together.
package textsplit

// #region imports
import "strings"

// #endregion

// #region split

// boundaries are tried in order when looking for a clean break point.
var boundaries = []string{". ", ".\n", "! ", "? ", "\n\n"}

// Split cuts text into chunks of at most chunkSize characters, preferring a
// sentence boundary past the midpoint of the chunk. chunkSize <= 0 returns
// the text whole.
func Split(text string, chunkSize int) []string {
	if chunkSize <= 0 || len(text) <= chunkSize {
		return []string{text}
	}

	var chunks []string
	current := 0
	for current < len(text) {
		end := current + chunkSize
		if end >= len(text) {
			chunks = append(chunks, text[current:])
			break
		}
		window := text[current:end]
		cut := end
		for _, sep := range boundaries {
			if idx := strings.LastIndex(window, sep); idx > chunkSize/2 {
				cut = current + idx + len(sep)
				break
			}
		}
		chunks = append(chunks, text[current:cut])
		current = cut
	}
	return chunks
}

// #endregion

// #region merge

// Merge joins rewritten chunks with blank lines, skipping empties.
func Merge(chunks []string) string {
	var kept []string
	for _, c := range chunks {
		if s := strings.TrimSpace(c); s != "" {
			kept = append(kept, s)
		}
	}
	return strings.Join(kept, "\n\n")
}

// UnionKeywords merges keyword sets preserving first-seen order.
func UnionKeywords(sets ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, set := range sets {
		for _, k := range set {
			if k == "" || seen[k] {
				continue
			}
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

// #endregion
