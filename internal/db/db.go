package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"rag-chatbot/internal/models"
)

const embedBatchSize = 64

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk"`
	Content       string          `bun:"content,notnull"`
	Source        string          `bun:"source,notnull"`
	ChunkIndex    int             `bun:"chunk_index,notnull"`
	Page          int             `bun:"page,notnull"`
	StartOffset   int             `bun:"start_offset,notnull"`
	EndOffset     int             `bun:"end_offset,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
	Distance      float64         `bun:"distance,scanonly"`
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

func ConnectDB(dsn string) *sql.DB {
	return sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
}

// Store keeps chunks and their vectors in a pgvector table.
type Store struct {
	db        *bun.DB
	embedder  embeddings.Embedder
	dimension int
}

func NewStore(db *bun.DB, embedder embeddings.Embedder, dimension int) *Store {
	return &Store{db: db, embedder: embedder, dimension: dimension}
}

// Init creates the vector extension and the documents table.
func (s *Store) Init(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createTableSQL(s.dimension)); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// IndexChunks embeds and inserts the chunks whose ID is not stored yet.
func (s *Store) IndexChunks(ctx context.Context, chunks []models.Chunk) (int, error) {
	if len(chunks) == 0 {
		return 0, nil
	}
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
	}

	var existing []string
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		Column("id").
		Where("id IN (?)", bun.In(ids)).
		Scan(ctx, &existing)
	if err != nil {
		return 0, fmt.Errorf("failed to list stored chunks: %w", err)
	}
	stored := make(map[string]struct{}, len(existing))
	for _, id := range existing {
		stored[id] = struct{}{}
	}

	var pending []models.Chunk
	for _, c := range chunks {
		if _, ok := stored[c.ID]; !ok {
			pending = append(pending, c)
		}
	}

	added := 0
	for i := 0; i < len(pending); i += embedBatchSize {
		batch := pending[i:min(i+embedBatchSize, len(pending))]
		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Content
		}
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return added, fmt.Errorf("failed to embed chunks: %w", err)
		}

		docs := make([]Document, len(batch))
		for j, c := range batch {
			docs[j] = toDocument(c, vecs[j])
		}
		if _, err := s.db.NewInsert().Model(&docs).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
			return added, fmt.Errorf("failed to store chunks: %w", err)
		}
		added += len(batch)
	}

	log.Info().Int("chunks", len(chunks)).Int("new", added).Msg("pgvector chunks indexed")
	return added, nil
}

// Search returns the k chunks closest to query by cosine distance.
func (s *Store) Search(ctx context.Context, query string, k int) ([]models.Chunk, error) {
	if k <= 0 {
		return nil, nil
	}
	vec, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	var docs []Document
	if err := s.searchQuery(&docs, pgvector.NewVector(vec), k).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	chunks := make([]models.Chunk, len(docs))
	for i, d := range docs {
		chunks[i] = fromDocument(d)
	}
	return chunks, nil
}

func (s *Store) searchQuery(dest *[]Document, vec pgvector.Vector, k int) *bun.SelectQuery {
	return s.db.NewSelect().
		Model(dest).
		Column("id", "content", "source", "chunk_index", "page", "start_offset", "end_offset").
		ColumnExpr("d.embedding <=> ? AS distance", vec).
		OrderExpr("d.embedding <=> ?", vec).
		OrderExpr("d.id").
		Limit(k)
}

// the vector width is only known after probing the embedding model
func createTableSQL(dimension int) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id text PRIMARY KEY,
	content text NOT NULL,
	source text NOT NULL,
	chunk_index integer NOT NULL,
	page integer NOT NULL,
	start_offset integer NOT NULL,
	end_offset integer NOT NULL,
	embedding vector(%d) NOT NULL
)`, dimension)
}

// drop table documents
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

func toDocument(c models.Chunk, embedding []float32) Document {
	return Document{
		ID:          c.ID,
		Content:     c.Content,
		Source:      c.Source,
		ChunkIndex:  c.Index,
		Page:        c.Page,
		StartOffset: c.Start,
		EndOffset:   c.End,
		Embedding:   pgvector.NewVector(embedding),
	}
}

func fromDocument(d Document) models.Chunk {
	return models.Chunk{
		ID:      d.ID,
		Content: d.Content,
		Source:  d.Source,
		Index:   d.ChunkIndex,
		Page:    d.Page,
		Start:   d.StartOffset,
		End:     d.EndOffset,
		Score:   float32(1 - d.Distance),
	}
}
