package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/textsplitter"

	"rag-chatbot/internal/models"
)

// spanSplitter is implemented by splitters that report chunk offsets.
type spanSplitter interface {
	Split(text string) ([]Span, error)
}

// Ingest loads every document of the loader and splits it into chunks.
// Chunk indexes run across all documents of the source. Whitespace-only
// chunks are dropped; Start and End stay offsets into the document text,
// so the kept chunks may leave gaps and do not rebuild it.
func Ingest(ctx context.Context, loader documentloaders.Loader, splitter textsplitter.TextSplitter) ([]models.Chunk, error) {
	docs, err := loader.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load source: %w", err)
	}

	var chunks []models.Chunk
	for _, doc := range docs {
		source, _ := doc.Metadata[models.MetaSource].(string)
		page, _ := doc.Metadata[models.MetaPage].(int)

		spans, err := splitSpans(splitter, doc.PageContent)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", source, err)
		}
		for _, sp := range spans {
			if strings.TrimSpace(sp.Text) == "" {
				continue
			}
			index := len(chunks)
			chunks = append(chunks, models.Chunk{
				ID:      ChunkID(source, index, sp.Text),
				Content: sp.Text,
				Source:  source,
				Index:   index,
				Page:    page,
				Start:   sp.Start,
				End:     sp.End,
			})
		}
	}

	if len(chunks) == 0 {
		return nil, ErrNoContent
	}
	log.Info().Int("documents", len(docs)).Int("chunks", len(chunks)).Msg("source ingested")
	return chunks, nil
}

func splitSpans(splitter textsplitter.TextSplitter, text string) ([]Span, error) {
	if s, ok := splitter.(spanSplitter); ok {
		return s.Split(text)
	}

	parts, err := splitter.SplitText(text)
	if err != nil {
		return nil, err
	}
	// Locate each part in the text to recover offsets. Parts that were
	// rewritten by the splitter keep the position of the previous one.
	spans := make([]Span, 0, len(parts))
	byteFrom, runeFrom := 0, 0
	for _, part := range parts {
		start := runeFrom
		if idx := strings.Index(text[byteFrom:], part); idx >= 0 {
			start = runeFrom + utf8.RuneCountInString(text[byteFrom:byteFrom+idx])
			runeFrom = start
			byteFrom += idx
		}
		spans = append(spans, Span{Text: part, Start: start, End: start + utf8.RuneCountInString(part)})
	}
	return spans, nil
}

// ChunkID is stable for the same source, position and content.
func ChunkID(source string, index int, content string) string {
	h := sha256.New()
	h.Write([]byte(source))
	h.Write([]byte{0})
	h.Write([]byte(strconv.Itoa(index)))
	h.Write([]byte{0})
	h.Write([]byte(content))
	return hex.EncodeToString(h.Sum(nil))[:32]
}
