package chunk

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/qanoon/internal/record"
)

func TestNewSplitter_ValidatesBounds(t *testing.T) {
	_, err := NewSplitter(0, 0)
	assert.Error(t, err)

	_, err = NewSplitter(100, 100)
	assert.Error(t, err)

	_, err = NewSplitter(100, -1)
	assert.Error(t, err)

	s, err := NewSplitter(100, 10)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Size())
	assert.Equal(t, 10, s.Overlap())
}

func TestChunk_ShortRecordYieldsSingleChunk(t *testing.T) {
	// Given: a short statute section
	s, err := NewSplitter(DefaultSize, DefaultOverlap)
	require.NoError(t, err)
	rec := record.Record{
		Text:   "Whoever commits theft shall be punished with imprisonment of either description for a term which may extend to three years, or with fine, or with both.",
		Title:  "PPC Section 379",
		Source: record.DefaultSource,
		Type:   record.DefaultType,
	}

	// When: chunking
	chunks := s.Chunk([]record.Record{rec})

	// Then: exactly one chunk carrying the record's metadata
	require.Len(t, chunks, 1)
	assert.Equal(t, rec.Text, chunks[0].Text)
	assert.Equal(t, "PPC Section 379", chunks[0].Title)
	assert.Equal(t, record.DefaultSource, chunks[0].Source)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Len(t, chunks[0].ID, 16)
}

func TestSplit_RespectsSizeBound(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		size    int
		overlap int
	}{
		{"words", wordText(500), 120, 20},
		{"paragraphs", paragraphText(40), 200, 30},
		{"no separators", strings.Repeat("x", 777), 50, 5},
		{"urdu runes", strings.Repeat("قانون ", 300), 64, 8},
		{"size one", "abc def", 1, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			require.NoError(t, err)

			pieces := s.Split(tt.text)

			require.NotEmpty(t, pieces)
			for _, p := range pieces {
				assert.LessOrEqual(t, utf8.RuneCountInString(p), tt.size)
				assert.NotEmpty(t, strings.TrimSpace(p))
			}
		})
	}
}

func TestSplit_IsDeterministic(t *testing.T) {
	s, err := NewSplitter(150, 25)
	require.NoError(t, err)
	text := paragraphText(30)

	first := s.Split(text)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, s.Split(text))
	}
}

func TestSplit_AdjacentChunksShareOverlap(t *testing.T) {
	// Given: word text split with overlap 20
	s, err := NewSplitter(100, 20)
	require.NoError(t, err)

	pieces := s.Split(wordText(300))
	require.Greater(t, len(pieces), 2)

	// Then: each chunk begins with a suffix of its predecessor, at most 20 runes long
	for i := 1; i < len(pieces); i++ {
		shared := sharedBoundary(pieces[i-1], pieces[i])
		assert.Greater(t, shared, 0, "chunk %d shares nothing with chunk %d", i, i-1)
		assert.LessOrEqual(t, shared, 20)
	}
}

func TestSplit_ZeroOverlapPartitionsWords(t *testing.T) {
	s, err := NewSplitter(60, 0)
	require.NoError(t, err)
	text := wordText(100)

	pieces := s.Split(text)

	assert.Equal(t, strings.Fields(text), strings.Fields(strings.Join(pieces, " ")))
}

func TestSplit_PrefersParagraphBoundaries(t *testing.T) {
	s, err := NewSplitter(60, 0)
	require.NoError(t, err)
	text := "Section 1. Short clause.\n\nSection 2. Another clause.\n\nSection 3. Final clause."

	pieces := s.Split(text)

	require.Len(t, pieces, 2)
	assert.True(t, strings.HasPrefix(pieces[0], "Section 1."))
	assert.True(t, strings.HasPrefix(pieces[1], "Section 3."))
}

func TestSplit_EmptyAndBlankInput(t *testing.T) {
	s, err := NewSplitter(10, 2)
	require.NoError(t, err)

	assert.Empty(t, s.Split(""))
	assert.Empty(t, s.Split("   \n\n  "))
}

func TestChunk_OrdinalsAndIDsPerRecord(t *testing.T) {
	s, err := NewSplitter(80, 10)
	require.NoError(t, err)
	records := []record.Record{
		{Title: "A", Text: wordText(60)},
		{Title: "B", Text: wordText(60)},
	}

	chunks := s.Chunk(records)

	ids := map[string]bool{}
	var lastTitle string
	next := 0
	for _, c := range chunks {
		if c.Title != lastTitle {
			lastTitle, next = c.Title, 0
		}
		assert.Equal(t, next, c.Ordinal)
		next++
		assert.False(t, ids[c.ID], "duplicate id %s", c.ID)
		ids[c.ID] = true
	}
	assert.Equal(t, "B", chunks[len(chunks)-1].Title)
}

func wordText(n int) string {
	words := make([]string, n)
	for i := range words {
		words[i] = fmt.Sprintf("w%d", i)
	}
	return strings.Join(words, " ")
}

func paragraphText(n int) string {
	paras := make([]string, n)
	for i := range paras {
		paras[i] = fmt.Sprintf("Clause %d. The offender shall be liable under this section. Proceedings may follow.", i)
	}
	return strings.Join(paras, "\n\n")
}

// sharedBoundary returns the length of the longest suffix of prev that is
// also a prefix of next.
func sharedBoundary(prev, next string) int {
	best := 0
	for k := 1; k <= len(prev) && k <= len(next); k++ {
		if prev[len(prev)-k:] == next[:k] {
			best = k
		}
	}
	return best
}
