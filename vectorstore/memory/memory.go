// Package memory 进程内文档存储，暴力余弦检索，适合开发与测试。
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore"
)

type Config struct {
	Embedding embedding.Embedder
	// TopK 默认 4。
	TopK int
}

type entry struct {
	doc    *schema.Document
	vector []float64
}

// Store 并发安全。按索引名分区，每个分区内以 ID 覆盖写入。
type Store struct {
	emb  embedding.Embedder
	topK int

	mu      sync.RWMutex
	indexes map[string]map[string]entry
}

var (
	_ indexer.Indexer     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)

func New(config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("memory store config is nil")
	}
	topK := config.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	return &Store{
		emb:     config.Embedding,
		topK:    topK,
		indexes: make(map[string]map[string]entry),
	}, nil
}

func (s *Store) GetType() string {
	return "Memory"
}

// Store 写入文档，返回的 ID 与 docs 一一对应。
func (s *Store) Store(ctx context.Context, docs []*schema.Document, opts ...indexer.Option) ([]string, error) {
	o := indexer.GetCommonOptions(&indexer.Options{Embedding: s.emb}, opts...)
	index := vectorstore.DefaultIndex
	if o.Index != nil {
		index = *o.Index
	}

	ids, err := vectorstore.EnsureIDs(docs)
	if err != nil {
		return nil, err
	}
	vecs, err := vectorstore.EmbedDocuments(ctx, o.Embedding, docs)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	part, ok := s.indexes[index]
	if !ok {
		part = make(map[string]entry)
		s.indexes[index] = part
	}
	for i, d := range docs {
		part[d.ID] = entry{
			doc:    &schema.Document{ID: d.ID, Content: d.Content, MetaData: vectorstore.UserMeta(d.MetaData)},
			vector: vecs[i],
		}
	}
	return ids, nil
}

// Retrieve 按余弦相似度降序返回至多 TopK 篇文档，得分写入 Document.Score()。
func (s *Store) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{Embedding: s.emb, TopK: &s.topK}, opts...)
	index := vectorstore.DefaultIndex
	if o.Index != nil {
		index = *o.Index
	}

	qv, err := vectorstore.EmbedQuery(ctx, o.Embedding, query)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	docs := make([]*schema.Document, 0, len(s.indexes[index]))
	for _, e := range s.indexes[index] {
		if !vectorstore.MatchFilter(e.doc.MetaData, o.Filter) {
			continue
		}
		score := vectorstore.CosineSimilarity(qv, e.vector)
		if o.ScoreThreshold != nil && score < *o.ScoreThreshold {
			continue
		}
		d := &schema.Document{ID: e.doc.ID, Content: e.doc.Content, MetaData: vectorstore.UserMeta(e.doc.MetaData)}
		docs = append(docs, d.WithScore(score))
	}
	s.mu.RUnlock()

	sort.SliceStable(docs, func(i, j int) bool {
		if docs[i].Score() != docs[j].Score() {
			return docs[i].Score() > docs[j].Score()
		}
		return docs[i].ID < docs[j].ID
	})
	if k := *o.TopK; k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

// Delete 删除默认索引或 index 中的文档。
func (s *Store) Delete(_ context.Context, index string, ids ...string) error {
	if index == "" {
		index = vectorstore.DefaultIndex
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.indexes[index], id)
	}
	return nil
}

func (s *Store) Len(index string) int {
	if index == "" {
		index = vectorstore.DefaultIndex
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.indexes[index])
}
