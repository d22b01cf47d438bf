package ingest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/documentloaders"
	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/textsplitter"

	"rag-chatbot/internal/models"
	"rag-chatbot/internal/parser"
)

const userAgent = "rag-chatbot/1.0"

var (
	_ documentloaders.Loader = (*RemoteLoader)(nil)
	_ documentloaders.Loader = (*FileLoader)(nil)
)

// RemoteLoader fetches a web page and keeps the text of the selected regions.
type RemoteLoader struct {
	URL       string
	Selectors []string
	Client    *http.Client
}

func (l *RemoteLoader) Load(ctx context.Context) ([]schema.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", l.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("failed to fetch %s: unexpected status %s", l.URL, resp.Status)
	}

	text, err := parser.ExtractText(resp.Body, l.Selectors)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("url", l.URL).Int("chars", len([]rune(text))).Msg("fetched remote source")

	if text == "" {
		return nil, nil
	}
	return []schema.Document{{
		PageContent: text,
		Metadata:    map[string]any{models.MetaSource: l.URL},
	}}, nil
}

func (l *RemoteLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}

// FileLoader reads a local file, one document per page, slide or sheet.
type FileLoader struct {
	Path string
}

func (l *FileLoader) Load(_ context.Context) ([]schema.Document, error) {
	sections, err := parser.ParseFile(l.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", l.Path, err)
	}

	docs := make([]schema.Document, 0, len(sections))
	for _, section := range sections {
		docs = append(docs, schema.Document{
			PageContent: section.Content,
			Metadata: map[string]any{
				models.MetaSource: l.Path,
				models.MetaPage:   section.PageNumber,
			},
		})
	}
	log.Debug().Str("path", l.Path).Int("sections", len(docs)).Msg("parsed local source")
	return docs, nil
}

func (l *FileLoader) LoadAndSplit(ctx context.Context, splitter textsplitter.TextSplitter) ([]schema.Document, error) {
	docs, err := l.Load(ctx)
	if err != nil {
		return nil, err
	}
	return textsplitter.SplitDocuments(splitter, docs)
}
