// Package chunker splits extracted document text into overlapping,
// sequence-numbered chunks, selecting among a recursive sliding-window split,
// a section-aware semantic split, and a tabular-aware split based on the
// document's classification tag.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

// Strategy names the chunking approach applied to a document.
type Strategy string

const (
	StrategyRecursive Strategy = "recursive"
	StrategySemantic  Strategy = "semantic"
	StrategyTabular   Strategy = "tabular"
)

// Chunk is one piece of a document awaiting embedding, ordered by
// SequenceNumber starting at 0.
type Chunk struct {
	SequenceNumber int
	Content        string
	StartChar      int
	EndChar        int
}

var sectionPattern = regexp.MustCompile(`(?i)(sezione|protocollo|fase|esercizio|valutazione|\d+\.)\s*[\d\w]*[^\n]*`)
var paragraphPattern = regexp.MustCompile(`\n\s*\n+`)
var tableRowPattern = regexp.MustCompile(`(?m)^.*(\||\t).*\|.*$|^.*\t.*\t.*$`)

// StrategyForClassification maps a document's classification tag to the
// chunking strategy the router should use, per the router's "select a
// chunking strategy from document classification" contract: protocol and
// manual-therapy documents are structured around named sections, so they get
// semantic splitting; clinical assessment documents tend to carry tabular
// scoring grids, so they get tabular-aware splitting; everything else falls
// back to the default recursive sliding window.
func StrategyForClassification(tag string) Strategy {
	switch tag {
	case "protocollo_riabilitativo", "terapia_manuale":
		return StrategySemantic
	case "valutazione_clinica":
		return StrategyTabular
	default:
		return StrategyRecursive
	}
}

// Tag renders the structured strategy tag persisted into the Document row
// and every chunk's metadata, e.g. "recursive::size=1000,overlap=200".
func Tag(strategy Strategy, chunkSize, overlap int) string {
	return fmt.Sprintf("%s::size=%d,overlap=%d", strategy, chunkSize, overlap)
}

// Split routes content to the given strategy and returns sequence-numbered
// chunks. An empty result is always an error: spec.md treats zero chunks
// from non-empty input as a chunking failure, never a silent no-op.
func Split(content string, strategy Strategy, chunkSize, overlap int) ([]Chunk, error) {
	if chunkSize <= 0 {
		return nil, apierr.NewChunkingError("chunk size must be positive")
	}
	if overlap < 0 || overlap >= chunkSize {
		return nil, apierr.NewChunkingError("overlap must be smaller than chunk size")
	}
	if strings.TrimSpace(content) == "" {
		return nil, apierr.NewChunkingError("document content is empty after extraction")
	}

	var raw []rawChunk
	switch strategy {
	case StrategySemantic:
		raw = semanticChunks(content, chunkSize)
	case StrategyTabular:
		raw = tabularChunks(content, chunkSize)
	}
	if len(raw) == 0 {
		raw = slidingWindowChunks(content, chunkSize, overlap)
	}
	if len(raw) == 0 {
		return nil, apierr.NewChunkingError("chunking produced zero chunks")
	}

	out := make([]Chunk, len(raw))
	for i, r := range raw {
		out[i] = Chunk{SequenceNumber: i, Content: r.content, StartChar: r.start, EndChar: r.end}
	}
	return out, nil
}

type rawChunk struct {
	content    string
	start, end int
}

// semanticChunks splits on recognized section headers, falling back to
// paragraph splitting within any section that still exceeds maxChunkSize.
func semanticChunks(content string, maxChunkSize int) []rawChunk {
	matches := sectionPattern.FindAllStringIndex(content, -1)
	if len(matches) == 0 {
		return nil
	}

	var chunks []rawChunk
	for i, match := range matches {
		start := match[0]
		end := len(content)
		if i < len(matches)-1 {
			end = matches[i+1][0]
		}
		section := content[start:end]
		if len(section) > maxChunkSize {
			chunks = append(chunks, splitByParagraphs(section, maxChunkSize, start)...)
		} else {
			chunks = append(chunks, rawChunk{content: section, start: start, end: end})
		}
	}
	return chunks
}

func splitByParagraphs(content string, maxSize, offset int) []rawChunk {
	paragraphs := paragraphPattern.Split(content, -1)
	var chunks []rawChunk
	current := ""
	currentStart := offset

	for i, para := range paragraphs {
		if len(current)+len(para) > maxSize && current != "" {
			chunks = append(chunks, rawChunk{content: current, start: currentStart, end: currentStart + len(current)})
			current = para
			currentStart = offset + strings.Index(content, para)
		} else {
			if current != "" && i > 0 {
				current += "\n\n"
			}
			current += para
		}
	}
	if current != "" {
		chunks = append(chunks, rawChunk{content: current, start: currentStart, end: currentStart + len(current)})
	}
	return chunks
}

// tabularChunks groups contiguous delimiter-separated rows (pipe or tab
// tables) into chunks up to maxChunkSize, keeping each row intact rather
// than cutting mid-row the way the sliding window would. Returns nil when
// the content has no recognizable tabular rows, so the caller falls back to
// the sliding window.
func tabularChunks(content string, maxChunkSize int) []rawChunk {
	if !tableRowPattern.MatchString(content) {
		return nil
	}

	lines := strings.Split(content, "\n")
	var chunks []rawChunk
	current := strings.Builder{}
	start := 0
	offset := 0

	flush := func(end int) {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, rawChunk{content: current.String(), start: start, end: end})
		current.Reset()
	}

	for _, line := range lines {
		lineEnd := offset + len(line)
		if current.Len() > 0 && current.Len()+len(line)+1 > maxChunkSize {
			flush(offset)
			start = offset
		}
		if current.Len() > 0 {
			current.WriteByte('\n')
		} else {
			start = offset
		}
		current.WriteString(line)
		offset = lineEnd + 1
	}
	flush(offset)
	return chunks
}

// slidingWindowChunks produces overlapping rune windows, pulling each
// boundary back to the last sentence end in the window when one falls within
// the back half of the window so chunks don't cut mid-sentence.
func slidingWindowChunks(content string, chunkSize, overlap int) []rawChunk {
	runes := []rune(content)
	var chunks []rawChunk
	step := chunkSize - overlap

	for i := 0; i < len(runes); i += step {
		end := i + chunkSize
		if end > len(runes) {
			end = len(runes)
		}
		text := string(runes[i:end])

		if end < len(runes) {
			if last := strings.LastIndex(text, "."); last >= 0 {
				if lastRune := utf8.RuneCountInString(text[:last]); lastRune > chunkSize/2 {
					end = i + lastRune + 1
					text = string(runes[i:end])
				}
			}
		}

		chunks = append(chunks, rawChunk{content: text, start: i, end: end})
		if end >= len(runes) {
			break
		}
	}
	return chunks
}
