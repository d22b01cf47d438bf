package chromemdb

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rag-chatbot/internal/config"
	"rag-chatbot/internal/ingest"
	"rag-chatbot/internal/models"
)

// letterEmbed counts letters, plus a constant component so no vector is zero.
func letterEmbed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 27)
	vec[26] = 0.1
	for _, r := range strings.ToLower(text) {
		if r >= 'a' && r <= 'z' {
			vec[r-'a']++
		}
	}
	return vec, nil
}

func newManager(t *testing.T, dir string) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(config.ChromaDBConfig{
		PersistDirectory: dir,
		CollectionName:   "test_collection",
	}, letterEmbed)
	require.NoError(t, err)
	m.SetProgressOutput(nil)
	return m
}

func testChunks() []models.Chunk {
	contents := []string{
		"Elon Musk founded SpaceX and leads Tesla.",
		"The zebra grazes quietly in the savanna.",
		"Quantum computing uses qubits and entanglement.",
	}
	chunks := make([]models.Chunk, len(contents))
	for i, c := range contents {
		chunks[i] = models.Chunk{
			ID:      ingest.ChunkID("doc.txt", i, c),
			Content: c,
			Source:  "doc.txt",
			Index:   i,
			Page:    1,
			Start:   i * 50,
			End:     i*50 + len(c),
		}
	}
	return chunks
}

func TestSearch_EmptyCollection(t *testing.T) {
	m := newManager(t, t.TempDir())

	results, err := m.Search(context.Background(), "anything", 4)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())

	added, err := m.IndexChunks(ctx, testChunks())
	require.NoError(t, err)
	assert.Equal(t, 3, added)
	assert.Equal(t, 3, m.Count())

	// k larger than the collection is clamped
	results, err := m.Search(ctx, "zebra savanna", 10)
	require.NoError(t, err)
	require.Len(t, results, 3)

	want := testChunks()[1]
	got := results[0]
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, want.Content, got.Content)
	assert.Equal(t, want.Source, got.Source)
	assert.Equal(t, want.Index, got.Index)
	assert.Equal(t, want.Page, got.Page)
	assert.Equal(t, want.Start, got.Start)
	assert.Equal(t, want.End, got.End)
	assert.GreaterOrEqual(t, results[0].Score, results[1].Score)
	assert.GreaterOrEqual(t, results[1].Score, results[2].Score)
}

func TestSearch_Deterministic(t *testing.T) {
	ctx := context.Background()
	m := newManager(t, t.TempDir())
	_, err := m.IndexChunks(ctx, testChunks())
	require.NoError(t, err)

	first, err := m.Search(ctx, "Who is Elon Musk?", 2)
	require.NoError(t, err)
	require.Len(t, first, 2)
	for i := 0; i < 5; i++ {
		again, err := m.Search(ctx, "Who is Elon Musk?", 2)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestIndexChunks_ReloadKeyedByChunkID(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m := newManager(t, dir)
	_, err := m.IndexChunks(ctx, testChunks())
	require.NoError(t, err)

	added, err := m.IndexChunks(ctx, testChunks())
	require.NoError(t, err)
	assert.Zero(t, added)
	assert.Equal(t, 3, m.Count())

	reopened := newManager(t, dir)
	assert.Equal(t, 3, reopened.Count())
	added, err = reopened.IndexChunks(ctx, testChunks())
	require.NoError(t, err)
	assert.Zero(t, added)

	results, err := reopened.Search(ctx, "qubits", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, testChunks()[2].ID, results[0].ID)
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	m, err := NewVectorDBManager(config.ChromaDBConfig{
		CollectionName: "backup",
		ExportFile:     filepath.Join(dir, "backup.gob.enc"),
		EncryptionKey:  strings.Repeat("k", 32),
		Compress:       true,
	}, letterEmbed)
	require.NoError(t, err)
	m.SetProgressOutput(nil)

	_, err = m.IndexChunks(ctx, testChunks())
	require.NoError(t, err)
	require.NoError(t, m.Export(ctx))

	require.NoError(t, m.DeleteCollection())
	assert.Zero(t, m.Count())

	require.NoError(t, m.Import(ctx))
	assert.Equal(t, 3, m.Count())

	results, err := m.Search(ctx, "Tesla SpaceX", 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, testChunks()[0].ID, results[0].ID)
}
