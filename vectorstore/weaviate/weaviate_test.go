package weaviate

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore/vectorstoretest"
)

func TestRetrieve(t *testing.T) {
	ctx := context.Background()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/graphql", r.URL.Path)
		b, _ := io.ReadAll(r.Body)
		var body map[string]string
		require.NoError(t, sonic.Unmarshal(b, &body))
		gotQuery = body["query"]

		_, _ = w.Write([]byte(`{"data":{"Get":{"CodeExample":[
			{"code":"fmt.Println()","lang":"go","_additional":{"id":"b","distance":0.4}},
			{"code":"print()","lang":"py","_additional":{"id":"a","distance":0.1}}
		]}}}`))
	}))
	defer srv.Close()

	r, err := NewRetriever(ctx, &Config{URL: srv.URL, Class: "CodeExample", ContentField: "code",
		Properties: []string{"lang"}, TopK: 1})
	require.NoError(t, err)

	docs, err := r.Retrieve(ctx, `say "hi"`)
	require.NoError(t, err)
	require.Len(t, docs, 2)
	assert.Equal(t, "a", docs[0].ID)
	assert.Equal(t, "print()", docs[0].Content)
	assert.Equal(t, "py", docs[0].MetaData["lang"])
	assert.InDelta(t, 0.9, docs[0].Score(), 1e-9)
	assert.InDelta(t, 0.1, docs[0].Distance(), 1e-9)

	assert.Equal(t, `{ Get { CodeExample(nearText: {concepts: ["say \"hi\""]}, limit: 1) { code lang _additional { id distance } } } }`,
		gotQuery)

	docs, err = r.Retrieve(ctx, "x", retriever.WithScoreThreshold(0.8))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a", docs[0].ID)
}

func TestRetrieveGraphQLError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"class not found"}]}`))
	}))
	defer srv.Close()

	r, err := NewRetriever(context.Background(), &Config{URL: srv.URL, Class: "Missing"})
	require.NoError(t, err)
	_, err = r.Retrieve(context.Background(), "q")
	assert.True(t, schema.IsTransportError(err))
	assert.Contains(t, err.Error(), "class not found")
}

func TestBuildQuery(t *testing.T) {
	r, err := NewRetriever(context.Background(), &Config{URL: "http://x", Class: "Doc"})
	require.NoError(t, err)

	q, err := r.buildQuery("Doc", "", []float64{1, 0.5}, 2, map[string]any{"lang": "go", "stars": 5})
	require.NoError(t, err)
	assert.Equal(t, `{ Get { Doc(nearVector: {vector: [1,0.5]}, limit: 2, where: {operator: And, operands: [`+
		`{path: ["lang"], operator: Equal, valueText: "go"}, {path: ["stars"], operator: Equal, valueInt: 5}]}) `+
		`{ content _additional { id distance } } } }`, q)

	_, err = r.buildQuery("Doc; drop", "q", nil, 1, nil)
	assert.Error(t, err)
	_, err = r.buildQuery("Doc", "q", nil, 1, map[string]any{"bad key": "x"})
	assert.Error(t, err)
}

func TestNearVectorWithEmbedding(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = sonic.Unmarshal(b, &body)
		gotQuery = body["query"]
		_, _ = w.Write([]byte(`{"data":{"Get":{"Doc":[]}}}`))
	}))
	defer srv.Close()

	emb := &vectorstoretest.Embedder{}
	r, err := NewRetriever(context.Background(), &Config{URL: srv.URL, Class: "Doc", Embedding: emb})
	require.NoError(t, err)
	docs, err := r.Retrieve(context.Background(), "abc")
	require.NoError(t, err)
	assert.Empty(t, docs)
	assert.Equal(t, 1, emb.Calls)
	assert.Contains(t, gotQuery, "nearVector: {vector: [1,1,1,0")
}
