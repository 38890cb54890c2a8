package chunk

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/Aman-CERP/qanoon/internal/record"
)

// Splitter is a recursive boundary-aware text splitter. It is stateless and
// safe for concurrent use.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// NewSplitter creates a splitter producing chunks of at most size runes with
// up to overlap runes carried between neighbours.
func NewSplitter(size, overlap int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// Size returns the maximum chunk length in runes.
func (s *Splitter) Size() int { return s.size }

// Overlap returns the configured overlap in runes.
func (s *Splitter) Overlap() int { return s.overlap }

// Chunk splits every record and returns chunks in record order.
func (s *Splitter) Chunk(records []record.Record) []Chunk {
	var out []Chunk
	for _, r := range records {
		for i, text := range s.Split(r.Text) {
			out = append(out, Chunk{
				ID:      chunkID(r.Title, i, text),
				Text:    text,
				Title:   r.Title,
				Source:  r.Source,
				Type:    r.Type,
				Ordinal: i,
			})
		}
	}
	return out
}

// Split splits text into trimmed, non-empty pieces of at most Size runes.
func (s *Splitter) Split(text string) []string {
	return s.split(text, s.separators)
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := ""
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var out, small []string
	for _, piece := range splitOn(text, sep) {
		if runeLen(piece) < s.size {
			small = append(small, piece)
			continue
		}
		if len(small) > 0 {
			out = append(out, s.merge(small)...)
			small = nil
		}
		if len(rest) == 0 {
			// only reachable for sep == "", where pieces are single runes
			if strings.TrimSpace(piece) != "" {
				out = append(out, piece)
			}
			continue
		}
		out = append(out, s.split(piece, rest)...)
	}
	if len(small) > 0 {
		out = append(out, s.merge(small)...)
	}
	return out
}

// merge packs contiguous pieces greedily into chunks of at most size runes,
// seeding each new chunk with the trailing pieces of the previous one up to
// overlap runes.
func (s *Splitter) merge(pieces []string) []string {
	var out, window []string
	total := 0

	for _, p := range pieces {
		n := runeLen(p)
		if total+n > s.size && len(window) > 0 {
			if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
				out = append(out, doc)
			}
			for total > s.overlap || (total > 0 && total+n > s.size) {
				total -= runeLen(window[0])
				window = window[1:]
			}
		}
		total += n
		window = append(window, p)
	}

	if doc := strings.TrimSpace(strings.Join(window, "")); doc != "" {
		out = append(out, doc)
	}
	return out
}

// splitOn cuts text after each occurrence of sep, keeping the separator at the
// end of its piece so that concatenating the pieces restores text exactly.
func splitOn(text, sep string) []string {
	var parts []string
	if sep == "" {
		parts = make([]string, 0, len(text))
		for _, r := range text {
			parts = append(parts, string(r))
		}
	} else {
		parts = strings.SplitAfter(text, sep)
	}

	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
