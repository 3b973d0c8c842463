package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/compose"
	"github.com/favbox/eino-chains/internal/config"
	"github.com/favbox/eino-chains/pipelines"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore/vectorstoretest"
)

func testApp(t *testing.T) *app {
	t.Helper()
	ctx := context.Background()

	upper, err := compose.NewChain[map[string]any, string]().
		AppendLambda(compose.InvokableLambda(func(_ context.Context, in map[string]any) (string, error) {
			return strings.ToUpper(in["topic"].(string)), nil
		})).
		Compile(ctx)
	require.NoError(t, err)

	words, err := compose.NewChain[string, string]().
		AppendLambda(compose.StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
			return schema.StreamReaderFromArray(strings.SplitAfter(in, " ")), nil
		})).
		Compile(ctx)
	require.NoError(t, err)

	reg := pipelines.NewRegistry()
	require.NoError(t, pipelines.Register(ctx, reg, "upper", "upper-case the topic", upper))
	require.NoError(t, pipelines.Register(ctx, reg, "words", "split into words", words))
	return &app{registry: reg, logger: zap.NewNop()}
}

func TestRunPipeline(t *testing.T) {
	ctx := context.Background()
	a := testApp(t)

	t.Run("调用", func(t *testing.T) {
		var buf bytes.Buffer
		err := runPipeline(ctx, &buf, a, "upper", &runOptions{input: `{"topic":"bears"}`})
		require.NoError(t, err)
		assert.Equal(t, "BEARS\n", buf.String())
	})

	t.Run("流式", func(t *testing.T) {
		var buf bytes.Buffer
		err := runPipeline(ctx, &buf, a, "words", &runOptions{input: `"a b c"`, stream: true})
		require.NoError(t, err)
		assert.Equal(t, "a b c\n", buf.String())
	})

	t.Run("非法输入", func(t *testing.T) {
		err := runPipeline(ctx, &bytes.Buffer{}, a, "upper", &runOptions{input: `{topic`})
		assert.ErrorContains(t, err, "--input")
	})

	t.Run("输入类型不符", func(t *testing.T) {
		err := runPipeline(ctx, &bytes.Buffer{}, a, "upper", &runOptions{input: `[1,2]`})
		assert.True(t, schema.IsFormatError(err))
	})

	t.Run("未知流水线", func(t *testing.T) {
		err := runPipeline(ctx, &bytes.Buffer{}, a, "missing", &runOptions{})
		assert.ErrorIs(t, err, pipelines.ErrPipelineNotFound)
	})
}

func TestPrintValue(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printValue(&buf, "plain"))
	require.NoError(t, printValue(&buf, map[string]any{"name": "Tom Hanks"}))
	assert.Equal(t, "plain\n{\n  \"name\": \"Tom Hanks\"\n}\n", buf.String())
}

func TestReadLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "texts.txt")
	require.NoError(t, os.WriteFile(path, []byte("harrison worked at kensho\n\n  bears like to eat honey  \n"), 0o600))

	lines, err := readLines(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"harrison worked at kensho", "bears like to eat honey"}, lines)

	_, err = readLines(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestRootCommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"list", "run", "serve", "nats", "index"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}
	cmd, _, err := root.Find([]string{"nats", "call"})
	require.NoError(t, err)
	assert.Equal(t, "call", cmd.Name())
}

func TestNewCodeRetriever(t *testing.T) {
	ctx := context.Background()

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		var body map[string]string
		_ = sonic.Unmarshal(b, &body)
		gotQuery = body["query"]
		_, _ = w.Write([]byte(`{"data":{"Get":{"CodeExample":[
			{"code":"print('hi')","_additional":{"id":"a","distance":0.2}}
		]}}}`))
	}))
	defer srv.Close()

	wc := config.WeaviateConfig{URL: srv.URL, Class: "CodeExample", ContentField: "code", TopK: 1}

	t.Run("默认 nearText", func(t *testing.T) {
		emb := &vectorstoretest.Embedder{}
		r, err := newCodeRetriever(ctx, wc, emb)
		require.NoError(t, err)

		docs, err := r.Retrieve(ctx, "say hi")
		require.NoError(t, err)
		require.Len(t, docs, 1)
		assert.Equal(t, "print('hi')", docs[0].Content)
		assert.Equal(t, `{ Get { CodeExample(nearText: {concepts: ["say hi"]}, limit: 1) { code _additional { id distance } } } }`,
			gotQuery)
		assert.Zero(t, emb.Calls)
	})

	t.Run("显式开启本地向量", func(t *testing.T) {
		emb := &vectorstoretest.Embedder{}
		wc := wc
		wc.UseEmbedding = true
		r, err := newCodeRetriever(ctx, wc, emb)
		require.NoError(t, err)

		_, err = r.Retrieve(ctx, "say hi")
		require.NoError(t, err)
		assert.Equal(t, 1, emb.Calls)
		assert.Contains(t, gotQuery, "nearVector: {vector: [")
		assert.Contains(t, gotQuery, "limit: 1")
	})
}
