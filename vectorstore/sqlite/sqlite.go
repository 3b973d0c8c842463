// Package sqlite 基于 SQLite 的文档存储。向量以 JSON 存放，检索时在进程内计算余弦相似度，
// 适合数万篇以内的本地知识库。
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/bytedance/sonic"
	_ "modernc.org/sqlite"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore"
)

//go:embed migrations/001_init.sql
var initSQL string

type Config struct {
	// DSN 文件路径或 ":memory:"，默认 data/chains.db。
	DSN       string
	Embedding embedding.Embedder
	TopK      int
}

type Store struct {
	db   *sql.DB
	emb  embedding.Embedder
	topK int
}

var (
	_ indexer.Indexer     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)

func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("sqlite store config is nil")
	}
	dsn := config.DSN
	if dsn == "" {
		dsn = "data/chains.db"
	}
	if dsn != ":memory:" {
		if dir := filepath.Dir(dsn); dir != "" && dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("create data directory: %w", err)
			}
		}
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// :memory: 每个连接是独立的库
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, initSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	topK := config.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	return &Store{db: db, emb: config.Embedding, topK: topK}, nil
}

func (s *Store) GetType() string {
	return "SQLite"
}

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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, d := range docs {
		meta, err := sonic.MarshalString(vectorstore.UserMeta(d.MetaData))
		if err != nil {
			return nil, fmt.Errorf("marshal metadata of %s: %w", d.ID, err)
		}
		vec, err := sonic.MarshalString(vecs[i])
		if err != nil {
			return nil, fmt.Errorf("marshal embedding of %s: %w", d.ID, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO documents (idx, id, content, metadata, embedding)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (idx, id) DO UPDATE SET
				content = excluded.content,
				metadata = excluded.metadata,
				embedding = excluded.embedding`,
			index, d.ID, d.Content, meta, vec)
		if err != nil {
			return nil, fmt.Errorf("upsert document %s: %w", d.ID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return ids, nil
}

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

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, metadata, embedding FROM documents WHERE idx = ?`, index)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*schema.Document
	for rows.Next() {
		var (
			d             = &schema.Document{}
			meta, vecJSON string
			vec           []float64
		)
		if err = rows.Scan(&d.ID, &d.Content, &meta, &vecJSON); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if err = sonic.UnmarshalString(meta, &d.MetaData); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
		}
		if !vectorstore.MatchFilter(d.MetaData, o.Filter) {
			continue
		}
		if err = sonic.UnmarshalString(vecJSON, &vec); err != nil {
			return nil, fmt.Errorf("decode embedding of %s: %w", d.ID, err)
		}

		score := vectorstore.CosineSimilarity(qv, vec)
		if o.ScoreThreshold != nil && score < *o.ScoreThreshold {
			continue
		}
		docs = append(docs, d.WithScore(score))
	}
	if err = rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score() > docs[j].Score() })
	if k := *o.TopK; k > 0 && len(docs) > k {
		docs = docs[:k]
	}
	return docs, nil
}

func (s *Store) Delete(ctx context.Context, index string, ids ...string) error {
	if index == "" {
		index = vectorstore.DefaultIndex
	}
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE idx = ? AND id = ?`, index, id); err != nil {
			return fmt.Errorf("delete document %s: %w", id, err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
