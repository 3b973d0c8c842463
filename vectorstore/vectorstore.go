// Package vectorstore 文档存储的公共部分：向量化、相似度、过滤与 ID 分配。
// 子包 memory、sqlite、pgvector 同时实现 indexer.Indexer 与 retriever.Retriever，
// weaviate 只实现 retriever.Retriever。
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"math"
	"reflect"

	"github.com/google/uuid"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/schema"
)

const (
	DefaultIndex = "default"
	DefaultTopK  = 4
)

var ErrNoEmbedding = errors.New("vectorstore: no embedder configured")

// CosineSimilarity 取值 [-1, 1]，长度不等或存在零向量时为 0。
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// EnsureIDs 为没有 ID 的文档分配 UUID，返回全部 ID。
func EnsureIDs(docs []*schema.Document) ([]string, error) {
	ids := make([]string, len(docs))
	for i, d := range docs {
		if d == nil {
			return nil, fmt.Errorf("document %d is nil", i)
		}
		if d.ID == "" {
			d.ID = uuid.NewString()
		}
		ids[i] = d.ID
	}
	return ids, nil
}

// EmbedDocuments 对文档内容批量向量化。已带向量的文档直接复用。
func EmbedDocuments(ctx context.Context, emb embedding.Embedder, docs []*schema.Document) ([][]float64, error) {
	vecs := make([][]float64, len(docs))
	var (
		texts []string
		pos   []int
	)
	for i, d := range docs {
		if v := d.DenseVector(); len(v) > 0 {
			vecs[i] = v
			continue
		}
		texts = append(texts, d.Content)
		pos = append(pos, i)
	}
	if len(texts) == 0 {
		return vecs, nil
	}
	if emb == nil {
		return nil, ErrNoEmbedding
	}

	out, err := emb.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed documents: %w", err)
	}
	if len(out) != len(texts) {
		return nil, fmt.Errorf("embed documents: expected %d vectors, got %d", len(texts), len(out))
	}
	for i, p := range pos {
		vecs[p] = out[i]
	}
	return vecs, nil
}

// EmbedQuery 查询文本向量化。
func EmbedQuery(ctx context.Context, emb embedding.Embedder, query string) ([]float64, error) {
	if emb == nil {
		return nil, ErrNoEmbedding
	}
	out, err := emb.EmbedStrings(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("embed query: expected 1 vector, got %d", len(out))
	}
	return out[0], nil
}

// MatchFilter 元数据逐键相等比较，filter 为空时总是匹配。
func MatchFilter(meta, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := meta[k]
		if !ok || !reflect.DeepEqual(normalizeNumber(got), normalizeNumber(want)) {
			return false
		}
	}
	return true
}

// normalizeNumber JSON 往返后整数会变成 float64。
func normalizeNumber(v any) any {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int32:
		return float64(n)
	case int64:
		return float64(n)
	case float32:
		return float64(n)
	}
	return v
}

// UserMeta 去掉以 "_" 开头的内部键（得分、向量等），用于持久化。
func UserMeta(meta map[string]any) map[string]any {
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		if len(k) > 0 && k[0] == '_' {
			continue
		}
		out[k] = v
	}
	return out
}
