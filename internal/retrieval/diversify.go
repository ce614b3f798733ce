package retrieval

import "github.com/stefanopiga/Chat-physio-APP-sub005/internal/vectorstore"

// diversify caps how many chunks from the same document can appear in the
// final result, except within the first preserveTopN positions, which are
// always kept regardless of the per-document count ("preserve wins").
func diversify(chunks []vectorstore.ScoredChunk, maxPerDocument, preserveTopN int) []vectorstore.ScoredChunk {
	if maxPerDocument <= 0 {
		return chunks
	}

	counts := make(map[string]int, len(chunks))
	out := make([]vectorstore.ScoredChunk, 0, len(chunks))

	for i, c := range chunks {
		key := c.DocumentID.String()
		if i < preserveTopN {
			out = append(out, c)
			counts[key]++
			continue
		}
		if counts[key] >= maxPerDocument {
			continue
		}
		out = append(out, c)
		counts[key]++
	}
	return out
}
