package record

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize_FieldFallbacks(t *testing.T) {
	tests := []struct {
		name string
		raw  RawRecord
		want Record
		ok   bool
	}{
		{
			name: "content preferred over text",
			raw:  RawRecord{Content: "body", Text: "ignored", Title: "PPC Section 379"},
			want: Record{Text: "body", Title: "PPC Section 379", Source: DefaultSource, Type: DefaultType},
			ok:   true,
		},
		{
			name: "title falls back to section then source",
			raw:  RawRecord{Text: "body", Section: "Section 302", Source: "pakistan_code.csv"},
			want: Record{Text: "body", Title: "Section 302", Source: "pakistan_code.csv", Type: DefaultType},
			ok:   true,
		},
		{
			name: "default title",
			raw:  RawRecord{Text: "  body  ", Type: "Ordinance"},
			want: Record{Text: "body", Title: DefaultTitle, Source: DefaultSource, Type: "Ordinance"},
			ok:   true,
		},
		{
			name: "blank text dropped",
			raw:  RawRecord{Text: "   ", Title: "Empty"},
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.raw)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestNormalizeTitle(t *testing.T) {
	tests := map[string]string{
		"Penal Code.pdf":        "penal code",
		"  PENAL CODE.PDF  ":    "penal code",
		"penal code":            "penal code",
		"Qanun-e-Shahadat.json": "qanun-e-shahadat",
		"Act No. 5 of 2020":     "act no. 5 of 2020",
		"report.final.pdf":      "report.final",
		"archive.zip":           "archive.zip",
	}
	for in, want := range tests {
		assert.Equal(t, want, NormalizeTitle(in), in)
	}
}

func TestDifference_SkipsIndexedTitlesAndExactRepeats(t *testing.T) {
	indexed := map[string]struct{}{"penal code": {}}
	candidates := []Record{
		{Title: "Penal Code.pdf", Text: "a"},
		{Title: "Evidence Act", Text: "b"},
		{Title: "evidence act.PDF", Text: "c"},
		{Title: "Contract Act", Text: "d"},
		{Title: "contract act", Text: " d "},
	}

	got := Difference(candidates, indexed)

	// every page of a new document survives, exact repeats do not
	require.Len(t, got, 3)
	assert.Equal(t, "b", got[0].Text)
	assert.Equal(t, "c", got[1].Text)
	assert.Equal(t, "d", got[2].Text)
}

func TestLoadFile_NormalizesInOrder(t *testing.T) {
	// Given: a corpus file with 50 records, one blank
	var raws []RawRecord
	for i := 0; i < 50; i++ {
		raws = append(raws, RawRecord{Text: fmt.Sprintf("text %d", i), Title: fmt.Sprintf("Doc %d", i)})
	}
	raws[10].Text = ""
	path := writeJSON(t, raws)

	// When: loading with 4 workers
	records, err := LoadFile(context.Background(), path, 4)
	require.NoError(t, err)

	// Then: blank dropped, order preserved
	require.Len(t, records, 49)
	assert.Equal(t, "text 0", records[0].Text)
	assert.Equal(t, "text 9", records[9].Text)
	assert.Equal(t, "text 11", records[10].Text)
}

func TestLoadFile_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := LoadFile(context.Background(), path, 2)
	assert.ErrorContains(t, err, "parse records")
}

func TestNormalizeAll_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NormalizeAll(ctx, []RawRecord{{Text: "a"}, {Text: "b"}}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAppendFile_PreservesExistingEntries(t *testing.T) {
	// Given: an existing corpus with an extra field
	path := filepath.Join(t.TempDir(), "legal_data_final.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"title":"Old","text":"x","pages":3}]`), 0o644))

	// When: appending a new record
	require.NoError(t, AppendFile(path, []Record{{Title: "New", Text: "y", Source: DefaultSource, Type: DefaultType}}))

	// Then: both entries present, unknown field retained
	var got []map[string]any
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, float64(3), got[0]["pages"])
	assert.Equal(t, "New", got[1]["title"])
}

func writeJSON(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "records.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}
