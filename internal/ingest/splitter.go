package ingest

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/tmc/langchaingo/textsplitter"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators go from paragraph to sentence to word boundaries.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " "}

var _ textsplitter.TextSplitter = (*RecursiveSplitter)(nil)

// Span is a chunk of text with its rune offsets in the input.
type Span struct {
	Text  string
	Start int
	End   int
}

// RecursiveSplitter cuts text into chunks of at most ChunkSize runes where
// consecutive chunks share at most ChunkOverlap runes. It prefers the
// earliest separator in Separators and falls back to hard cuts.
// textsplitter.RecursiveCharacter is not wrapped because it trims chunk
// whitespace, which loses the offsets of each chunk in the input.
type RecursiveSplitter struct {
	ChunkSize    int
	ChunkOverlap int
	Separators   []string
}

func NewRecursiveSplitter(chunkSize, chunkOverlap int) (*RecursiveSplitter, error) {
	s := &RecursiveSplitter{
		ChunkSize:    chunkSize,
		ChunkOverlap: chunkOverlap,
		Separators:   DefaultSeparators,
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *RecursiveSplitter) validate() error {
	if s.ChunkSize <= 0 {
		return fmt.Errorf("chunk size must be positive, got %d", s.ChunkSize)
	}
	if s.ChunkOverlap < 0 || s.ChunkOverlap >= s.ChunkSize {
		return fmt.Errorf("chunk overlap must be in [0, %d), got %d", s.ChunkSize, s.ChunkOverlap)
	}
	return nil
}

// SplitText implements textsplitter.TextSplitter.
func (s *RecursiveSplitter) SplitText(text string) ([]string, error) {
	spans, err := s.Split(text)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(spans))
	for i, sp := range spans {
		out[i] = sp.Text
	}
	return out, nil
}

// piece is an atomic unit of the input: [start, end) in bytes, n runes long.
type piece struct {
	start, end int
	n          int
}

// Split returns the chunks of text together with their offsets.
func (s *RecursiveSplitter) Split(text string) ([]Span, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if text == "" {
		return nil, nil
	}

	seps := s.Separators
	if seps == nil {
		seps = DefaultSeparators
	}
	var pieces []piece
	s.cut(text, 0, seps, &pieces)

	var spans []Span
	runeAt := newRuneIndex(text)
	i := 0
	for i < len(pieces) {
		size, j := 0, i
		for j < len(pieces) && size+pieces[j].n <= s.ChunkSize {
			size += pieces[j].n
			j++
		}

		start, end := pieces[i].start, pieces[j-1].end
		spans = append(spans, Span{
			Text:  text[start:end],
			Start: runeAt(start),
			End:   runeAt(end),
		})
		if j == len(pieces) {
			break
		}

		// Back up over whole pieces while the shared tail stays within the
		// overlap and still leaves room for the next piece.
		next := j
		shared := 0
		for k := j - 1; k > i; k-- {
			shared += pieces[k].n
			if shared > s.ChunkOverlap || shared+pieces[j].n > s.ChunkSize {
				break
			}
			next = k
		}
		i = next
	}
	return spans, nil
}

// cut appends the pieces of text, offset by base bytes, to out.
func (s *RecursiveSplitter) cut(text string, base int, seps []string, out *[]piece) {
	n := utf8.RuneCountInString(text)
	if n <= s.ChunkSize {
		*out = append(*out, piece{start: base, end: base + len(text), n: n})
		return
	}
	if len(seps) == 0 || seps[0] == "" {
		s.hardCut(text, base, out)
		return
	}

	sep, rest := seps[0], seps[1:]
	for text != "" {
		part := text
		if idx := strings.Index(text, sep); idx >= 0 {
			part = text[:idx+len(sep)]
		}
		s.cut(part, base, rest, out)
		base += len(part)
		text = text[len(part):]
	}
}

// hardCut emits one piece per rune so the merge can back up by exactly
// ChunkOverlap runes.
func (s *RecursiveSplitter) hardCut(text string, base int, out *[]piece) {
	for pos, r := range text {
		*out = append(*out, piece{start: base + pos, end: base + pos + utf8.RuneLen(r), n: 1})
	}
}

// newRuneIndex converts increasing byte offsets of text into rune offsets.
func newRuneIndex(text string) func(int) int {
	lastByte, lastRune := 0, 0
	return func(b int) int {
		if b < lastByte {
			lastByte, lastRune = 0, 0
		}
		lastRune += utf8.RuneCountInString(text[lastByte:b])
		lastByte = b
		return lastRune
	}
}
