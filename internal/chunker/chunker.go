// Package chunker splits documents into bounded, overlapping chunks.
// Splitting is a pure function of the text and settings: the same document
// always yields byte-identical chunks, which keeps re-ingestion idempotent.
package chunker

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/kailas-cloud/issuepilot/internal/domain"
)

// Default splitting settings, in characters.
const (
	DefaultMaxChunkSize = 1200
	DefaultOverlap      = 120
)

// Chunker splits document text on paragraph boundaries first, then sentences,
// then hard character cuts for pathological tokens. Sizes count runes.
type Chunker struct {
	maxSize int
	overlap int
}

// New validates settings and creates a Chunker. Overlap is the trailing
// context from one chunk carried into the start of the next.
func New(maxSize, overlap int) (*Chunker, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max chunk size must be positive, got %d", maxSize)
	}
	if overlap < 0 {
		return nil, fmt.Errorf("overlap must be non-negative, got %d", overlap)
	}
	if overlap >= maxSize {
		return nil, fmt.Errorf("overlap %d must be smaller than max chunk size %d", overlap, maxSize)
	}
	return &Chunker{maxSize: maxSize, overlap: overlap}, nil
}

// piece is a splittable unit and the separator that preceded it in the source.
type piece struct {
	sep  string
	text string
}

// Split chunks a document. A document that fits the size limit yields exactly
// one chunk; ordinals always start at zero and increase by one.
func (c *Chunker) Split(doc domain.Document) []domain.Chunk {
	text := doc.Text()
	if utf8.RuneCountInString(text) <= c.maxSize {
		chunk, err := domain.NewChunk(doc.ID(), text, 0)
		if err != nil {
			return nil
		}
		return []domain.Chunk{chunk}
	}

	// Pieces are pre-cut to maxSize-overlap so a chunk always has room for
	// its overlap seed plus at least one whole piece.
	budget := c.maxSize - c.overlap
	pieces := splitPieces(text, budget)

	var (
		chunks  []domain.Chunk
		cur     = make([]rune, 0, c.maxSize)
		ordinal int
		seeded  bool // cur holds only overlap context, no pieces yet
	)

	emit := func() {
		chunk, err := domain.NewChunk(doc.ID(), string(cur), ordinal)
		if err != nil {
			return
		}
		chunks = append(chunks, chunk)
		ordinal++
	}

	for _, p := range pieces {
		pc := []rune(p.text)
		sep := []rune(p.sep)

		need := len(pc)
		if len(cur) > 0 {
			need += len(sep)
		}

		if len(cur)+need > c.maxSize && !seeded {
			emit()
			cur = tail(cur, c.overlap)
			seeded = true
			// A long separator can still push seed+piece past the limit;
			// trim the seed, never the piece.
			if over := len(cur) + len(sep) + len(pc) - c.maxSize; over > 0 {
				cur = tail(cur, max(len(cur)-over, 0))
			}
		}

		if len(cur) > 0 {
			cur = append(cur, sep...)
		}
		cur = append(cur, pc...)
		seeded = false
	}

	if len(cur) > 0 && !seeded {
		emit()
	}

	return chunks
}

// splitPieces breaks text into paragraph pieces, splitting further only when
// a unit exceeds the budget.
func splitPieces(text string, budget int) []piece {
	var pieces []piece

	for p, para := range strings.Split(text, "\n\n") {
		if para == "" {
			continue
		}
		paraSep := "\n\n"
		if p == 0 {
			paraSep = ""
		}

		if utf8.RuneCountInString(para) <= budget {
			pieces = append(pieces, piece{sep: paraSep, text: para})
			continue
		}

		for s, sent := range splitSentences(para) {
			sentSep := " "
			if s == 0 {
				sentSep = paraSep
			}

			if utf8.RuneCountInString(sent) <= budget {
				pieces = append(pieces, piece{sep: sentSep, text: sent})
				continue
			}

			for h, cut := range hardCut(sent, budget) {
				cutSep := ""
				if h == 0 {
					cutSep = sentSep
				}
				pieces = append(pieces, piece{sep: cutSep, text: cut})
			}
		}
	}

	return pieces
}

var sentenceEndRe = regexp.MustCompile(`[.!?]+\s+`)

// splitSentences cuts after terminal punctuation followed by whitespace.
// The trailing whitespace is dropped; packing re-joins sentences with a
// single space.
func splitSentences(text string) []string {
	var out []string
	start := 0

	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		sent := strings.TrimRight(text[start:loc[1]], " \t\n")
		if sent != "" {
			out = append(out, sent)
		}
		start = loc[1]
	}
	if start < len(text) {
		out = append(out, text[start:])
	}

	return out
}

// hardCut slices text into rune groups of at most size. Last resort for
// sentence-free walls of text; never tears a multi-byte rune.
func hardCut(text string, size int) []string {
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+size-1)/size)

	for start := 0; start < len(runes); start += size {
		end := min(start+size, len(runes))
		out = append(out, string(runes[start:end]))
	}

	return out
}

func tail(runes []rune, n int) []rune {
	if n <= 0 {
		return nil
	}
	if len(runes) <= n {
		out := make([]rune, len(runes))
		copy(out, runes)
		return out
	}
	out := make([]rune, n)
	copy(out, runes[len(runes)-n:])
	return out
}
