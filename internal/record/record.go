// Package record defines the normalized legal-text Record consumed by the
// indexing pipeline, and the canonical title rule used for deduplication.
package record

import (
	"path/filepath"
	"strings"
)

// Default metadata applied when a raw record omits it.
const (
	DefaultTitle  = "Legal Document"
	DefaultSource = "Official PDF"
	DefaultType   = "Act"
)

// Record is an immutable normalized unit of legal text.
type Record struct {
	Text   string `json:"text"`
	Title  string `json:"title"`
	Source string `json:"source"`
	Type   string `json:"type"`
}

// RawRecord is the loosely-shaped JSON produced by upstream extraction.
// Different extractors use content/text and title/section interchangeably.
type RawRecord struct {
	Text    string `json:"text,omitempty"`
	Content string `json:"content,omitempty"`
	Title   string `json:"title,omitempty"`
	Section string `json:"section,omitempty"`
	Source  string `json:"source,omitempty"`
	Type    string `json:"type,omitempty"`
}

// Normalize converts a raw record into a Record. It reports false when the
// record carries no text.
func Normalize(raw RawRecord) (Record, bool) {
	text := strings.TrimSpace(firstNonEmpty(raw.Content, raw.Text))
	if text == "" {
		return Record{}, false
	}

	return Record{
		Text:   text,
		Title:  firstNonEmpty(raw.Title, raw.Section, raw.Source, DefaultTitle),
		Source: firstNonEmpty(raw.Source, DefaultSource),
		Type:   firstNonEmpty(raw.Type, DefaultType),
	}, true
}

// knownExtensions are stripped from titles derived from file names.
var knownExtensions = map[string]bool{
	".pdf":  true,
	".json": true,
	".csv":  true,
	".txt":  true,
	".docx": true,
}

// NormalizeTitle returns the canonical form of a document title: trimmed,
// lowercased, with one known file extension removed.
// "  Penal Code.PDF " and "penal code" normalize identically.
func NormalizeTitle(title string) string {
	t := strings.ToLower(strings.TrimSpace(title))
	if ext := filepath.Ext(t); knownExtensions[ext] {
		t = strings.TrimSuffix(t, ext)
	}
	return strings.TrimSpace(t)
}

// Difference returns the candidates whose normalized title is not in
// indexed. A document usually spans several records, so every record of a
// new title is kept; only exact repeats (same normalized title and text)
// are dropped. Order is preserved.
func Difference(candidates []Record, indexed map[string]struct{}) []Record {
	type key struct{ title, text string }
	seen := make(map[key]struct{}, len(candidates))
	var out []Record
	for _, r := range candidates {
		title := NormalizeTitle(r.Title)
		if _, ok := indexed[title]; ok {
			continue
		}
		k := key{title, strings.TrimSpace(r.Text)}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
