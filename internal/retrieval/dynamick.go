package retrieval

import "strings"

// queryType is the coarse intent bucket a query is classified into before
// picking how many chunks to fetch.
type queryType int

const (
	queryOther queryType = iota
	queryDefinitional
	queryProcedural
	queryComparative
)

var comparativeCues = []string{"confronta", " vs ", " vs.", "versus", "differenza tra", "rispetto a"}
var proceduralCues = []string{"passo per passo", "passi per", "come trattare", "come si tratta", "procedura", "protocollo"}
var definitionalCues = []string{"cos'è", "cos è", "cosa è", "che cos'è", "che cosa è", "cosa significa", "definizione di", "che cos e"}

// classifyQuery buckets a query into {definitional, procedural, comparative,
// other} using cheap lexical cues: comparison words, step/list phrasing, and
// "what is" interrogatives. Comparative and procedural cues are checked
// before definitional ones since a query can open with an interrogative
// ("come ... ?") while still being procedural in intent.
func classifyQuery(query string) queryType {
	q := strings.ToLower(query)
	for _, cue := range comparativeCues {
		if strings.Contains(q, cue) {
			return queryComparative
		}
	}
	for _, cue := range proceduralCues {
		if strings.Contains(q, cue) {
			return queryProcedural
		}
	}
	for _, cue := range definitionalCues {
		if strings.Contains(q, cue) {
			return queryDefinitional
		}
	}
	return queryOther
}

// dynamicMatchCount maps a query's classified type to a target chunk count,
// clamped to [min, max]: definitional queries need few, focused chunks;
// comparative queries need enough to cover both sides being compared.
func dynamicMatchCount(query string, defaultCount, min, max int) int {
	switch classifyQuery(query) {
	case queryDefinitional:
		return clamp(5, min, max)
	case queryProcedural:
		return clamp(10, min, max)
	case queryComparative:
		return clamp(12, min, max)
	default:
		return clamp(defaultCount, min, max)
	}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
