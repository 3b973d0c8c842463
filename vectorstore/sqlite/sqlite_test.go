package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore/vectorstoretest"
)

func newStore(t *testing.T, dsn string) *Store {
	t.Helper()
	s, err := New(context.Background(), &Config{DSN: dsn, Embedding: &vectorstoretest.Embedder{}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStoreAndRetrieve(t *testing.T) {
	ctx := context.Background()
	s := newStore(t, ":memory:")

	ids, err := s.Store(ctx, []*schema.Document{
		{Content: "Tom likes clouds"},
		{ID: "bears", Content: "bears like honey", MetaData: map[string]any{"kind": "animal", "legs": 4}},
	})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, ids[0])

	docs, err := s.Retrieve(ctx, "honey bears", retriever.WithTopK(1))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "bears", docs[0].ID)
	assert.Equal(t, "bears like honey", docs[0].Content)
	assert.Equal(t, "animal", docs[0].MetaData["kind"])

	docs, err = s.Retrieve(ctx, "honey", retriever.WithFilter(map[string]any{"legs": 4}))
	require.NoError(t, err)
	require.Len(t, docs, 1)

	_, err = s.Store(ctx, []*schema.Document{{ID: "bears", Content: "bears like fish"}})
	require.NoError(t, err)
	docs, err = s.Retrieve(ctx, "fish")
	require.NoError(t, err)
	assert.Len(t, docs, 2)
	assert.Equal(t, "bears like fish", docs[0].Content)

	require.NoError(t, s.Delete(ctx, "", "bears"))
	docs, err = s.Retrieve(ctx, "fish")
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestPersistence(t *testing.T) {
	ctx := context.Background()
	dsn := filepath.Join(t.TempDir(), "nested", "docs.db")

	s := newStore(t, dsn)
	_, err := s.Store(ctx, []*schema.Document{{ID: "a", Content: "code example"}}, indexer.WithIndex("code"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened := newStore(t, dsn)
	docs, err := reopened.Retrieve(ctx, "code", retriever.WithIndex("code"))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)

	docs, err = reopened.Retrieve(ctx, "code")
	require.NoError(t, err)
	assert.Empty(t, docs)
}
