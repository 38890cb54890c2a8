// Package chunk splits normalized legal records into bounded, overlapping
// text segments suitable for embedding.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// Chunk size defaults, in runes.
const (
	DefaultSize    = 1000
	DefaultOverlap = 100
)

// DefaultSeparators orders split boundaries from largest to smallest:
// paragraph, line, sentence, word, character.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is a retrievable unit of text. It inherits metadata from its
// parent record and is never re-merged.
type Chunk struct {
	ID      string // SHA256(title | ordinal | text)[:16]
	Text    string
	Title   string
	Source  string
	Type    string
	Ordinal int // position within the parent record
}

func chunkID(title string, ordinal int, text string) string {
	h := sha256.New()
	h.Write([]byte(title))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(ordinal)))
	h.Write([]byte{0})
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))[:16]
}
