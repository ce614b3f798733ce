package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefanopiga/Chat-physio-APP-sub005/internal/apierr"
)

func TestSplit_EmptyContentIsChunkingError(t *testing.T) {
	_, err := Split("   ", StrategyRecursive, 100, 10)
	require.Error(t, err)
	var apiErr *apierr.Error
	require.True(t, apierr.As(err, &apiErr))
	assert.Equal(t, apierr.KindTerminal, apiErr.Kind)
}

func TestSplit_InvalidOverlapRejected(t *testing.T) {
	_, err := Split("some content", StrategyRecursive, 100, 100)
	require.Error(t, err)
}

func TestSplit_SequenceNumbersAreContiguousFromZero(t *testing.T) {
	content := strings.Repeat("La valutazione del paziente richiede attenzione clinica. ", 50)
	chunks, err := Split(content, StrategyRecursive, 200, 40)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for i, c := range chunks {
		assert.Equal(t, i, c.SequenceNumber)
	}
}

func TestSplit_SemanticStrategyUsesSectionHeaders(t *testing.T) {
	content := "Sezione 1 Valutazione\nIl paziente presenta una lesione muscolare.\n\n" +
		"Sezione 2 Protocollo riabilitativo\nEsercizio di rinforzo articolare per la fisioterapia."
	chunks, err := Split(content, StrategySemantic, 500, 50)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 1)
	require.Len(t, chunks, 3)
	assert.True(t, strings.HasPrefix(chunks[0].Content, "Sezione 1"))
	assert.True(t, strings.HasPrefix(chunks[1].Content, "Sezione 2"))
}

func TestSplit_TabularStrategyKeepsRowsIntact(t *testing.T) {
	rows := []string{
		"test | score | note",
		"flessione | 3 | buona",
		"estensione | 2 | limitata",
		"rotazione | 4 | normale",
	}
	content := strings.Join(rows, "\n")
	chunks, err := Split(content, StrategyTabular, 40, 10)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 1)

	var rowsSeen []string
	for _, c := range chunks {
		rowsSeen = append(rowsSeen, strings.Split(c.Content, "\n")...)
	}
	assert.Equal(t, rows, rowsSeen)
}

func TestSplit_TabularStrategyFallsBackWithoutTableRows(t *testing.T) {
	content := strings.Repeat("La valutazione del paziente richiede attenzione clinica. ", 20)
	chunks, err := Split(content, StrategyTabular, 200, 40)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
}

func TestSplit_SlidingWindowOverlaps(t *testing.T) {
	content := strings.Repeat("abcdefghij", 30)
	chunks, err := Split(content, StrategyRecursive, 100, 20)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	assert.Less(t, chunks[1].StartChar, chunks[0].EndChar)
}

func TestStrategyForClassification(t *testing.T) {
	assert.Equal(t, StrategySemantic, StrategyForClassification("protocollo_riabilitativo"))
	assert.Equal(t, StrategySemantic, StrategyForClassification("terapia_manuale"))
	assert.Equal(t, StrategyTabular, StrategyForClassification("valutazione_clinica"))
	assert.Equal(t, StrategyRecursive, StrategyForClassification("anatomia_funzionale"))
	assert.Equal(t, StrategyRecursive, StrategyForClassification("tecnico_generico"))
}

func TestTag_FormatsStrategyAndParams(t *testing.T) {
	assert.Equal(t, "recursive::size=1000,overlap=200", Tag(StrategyRecursive, 1000, 200))
}
