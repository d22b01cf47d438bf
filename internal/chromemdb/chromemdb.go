package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/schollz/progressbar/v3"

	"rag-chatbot/internal/config"
	"rag-chatbot/internal/models"
)

const indexBatchSize = 32

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db            *chromem.DB
	collection    *chromem.Collection
	embed         chromem.EmbeddingFunc
	dbPath        string
	compress      bool
	encryptionKey string
	filePath      string
	progress      io.Writer
}

// NewVectorDBManager opens the persistent database under cfg.PersistDirectory
// and the configured collection. An empty directory gives an in-memory DB.
func NewVectorDBManager(cfg config.ChromaDBConfig, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if cfg.PersistDirectory == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(cfg.PersistDirectory, cfg.Compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	filePath := cfg.ExportFile
	if filePath == "" {
		filePath = filepath.Join(cfg.PersistDirectory, cfg.CollectionName+".chromem")
	}
	m := &VectorDBManager{
		db:            db,
		embed:         embed,
		dbPath:        cfg.PersistDirectory,
		compress:      cfg.Compress,
		encryptionKey: cfg.EncryptionKey,
		filePath:      filePath,
		progress:      os.Stderr,
	}
	if _, err := m.GetOrCreateCollection(cfg.CollectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// SetProgressOutput redirects the indexing progress bar. nil hides it.
func (m *VectorDBManager) SetProgressOutput(w io.Writer) {
	m.progress = w
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(collectionName, nil, m.embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Count() int {
	return m.collection.Count()
}

// IndexChunks embeds and stores the chunks not yet present in the
// collection. It returns how many were added.
func (m *VectorDBManager) IndexChunks(ctx context.Context, chunks []models.Chunk) (int, error) {
	var pending []chromem.Document
	for _, chunk := range chunks {
		if _, err := m.collection.GetByID(ctx, chunk.ID); err == nil {
			continue
		}
		pending = append(pending, toDocument(chunk))
	}
	log.Info().
		Int("chunks", len(chunks)).
		Int("new", len(pending)).
		Str("collection", m.collection.Name).
		Msg("indexing chunks")
	if len(pending) == 0 {
		return 0, nil
	}

	bar := m.newProgressBar(len(pending))
	for i := 0; i < len(pending); i += indexBatchSize {
		end := min(i+indexBatchSize, len(pending))
		if err := m.collection.AddDocuments(ctx, pending[i:end], runtime.NumCPU()); err != nil {
			return i, fmt.Errorf("failed to add documents: %w", err)
		}
		_ = bar.Add(end - i)
	}
	_ = bar.Finish()
	return len(pending), nil
}

func (m *VectorDBManager) newProgressBar(total int) *progressbar.ProgressBar {
	w := m.progress
	if w == nil {
		w = io.Discard
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowBytes(false),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowCount(),
		progressbar.OptionSetDescription("[cyan]Embedding[reset]"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprintln(w)
		}),
	)
}

// Search returns the k chunks most similar to query. k is clamped to the
// collection size and an empty collection yields no results.
func (m *VectorDBManager) Search(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	n := min(k, m.collection.Count())
	if n <= 0 {
		return nil, nil
	}
	results, err := m.SearchWithQueryOptions(ctx, chromem.QueryOptions{QueryText: query, NResults: n})
	if err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(results))
	for _, r := range results {
		chunks = append(chunks, fromResult(r))
	}
	return chunks, nil
}

// Read retrieves documents by ID or performs a similarity search
func (m *VectorDBManager) SearchWithQueryOptions(ctx context.Context, opts chromem.QueryOptions) ([]chromem.Result, error) {
	// exit if query or embedding is not provided
	if opts.QueryText == "" && opts.QueryEmbedding == nil {
		return nil, errors.New("either query or embedding must be provided")
	}

	results, err := m.collection.QueryWithOptions(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}
	return results, nil
}

// delete collection
func (m *VectorDBManager) DeleteCollection() error {
	name := m.collection.Name
	if err := m.db.DeleteCollection(name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

// export to file
func (m *VectorDBManager) Export(_ context.Context) error {
	if m.collection == nil {
		return errors.New("collection is required")
	}
	if m.filePath == "" {
		return errors.New("export file is required")
	}

	log.Debug().
		Str("collection", m.collection.Name).
		Str("file", m.filePath).
		Bool("compress", m.compress).
		Bool("encrypted", m.encryptionKey != "").
		Msg("exporting collection")
	if err := m.db.ExportToFile(m.filePath, m.compress, m.encryptionKey, m.collection.Name); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import from file
func (m *VectorDBManager) Import(_ context.Context) error {
	name := m.collection.Name
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, name); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.GetOrCreateCollection(name)
	return err
}

func toDocument(chunk models.Chunk) chromem.Document {
	meta := map[string]string{
		models.MetaSource: chunk.Source,
		models.MetaIndex:  strconv.Itoa(chunk.Index),
		models.MetaStart:  strconv.Itoa(chunk.Start),
		models.MetaEnd:    strconv.Itoa(chunk.End),
	}
	if chunk.Page > 0 {
		meta[models.MetaPage] = strconv.Itoa(chunk.Page)
	}
	return chromem.Document{
		ID:       chunk.ID,
		Content:  chunk.Content,
		Metadata: meta,
	}
}

func fromResult(r chromem.Result) models.Chunk {
	atoi := func(key string) int {
		n, _ := strconv.Atoi(r.Metadata[key])
		return n
	}
	return models.Chunk{
		ID:      r.ID,
		Content: r.Content,
		Source:  r.Metadata[models.MetaSource],
		Index:   atoi(models.MetaIndex),
		Page:    atoi(models.MetaPage),
		Start:   atoi(models.MetaStart),
		End:     atoi(models.MetaEnd),
		Score:   r.Similarity,
	}
}
