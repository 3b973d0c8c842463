// Package pgvector 基于 PostgreSQL + pgvector 扩展的文档存储，使用 HNSW 余弦索引。
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/indexer"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore"
)

var tableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

type Config struct {
	DSN string
	// Dimension 向量维度，例如 text-embedding-3-small 为 1536。
	Dimension int
	// Table 默认 documents。
	Table     string
	Embedding embedding.Embedder
	TopK      int
}

type options struct {
	withVectors bool
}

// WithVectors 检索结果附带向量，可通过 Document.DenseVector() 读取。
func WithVectors() retriever.Option {
	return retriever.WrapImplSpecificOptFn(func(o *options) {
		o.withVectors = true
	})
}

type Store struct {
	pool  *pgxpool.Pool
	table string
	emb   embedding.Embedder
	topK  int
}

var (
	_ indexer.Indexer     = (*Store)(nil)
	_ retriever.Retriever = (*Store)(nil)
)

func New(ctx context.Context, config *Config) (*Store, error) {
	if config == nil {
		return nil, errors.New("pgvector store config is nil")
	}
	if config.Dimension <= 0 {
		return nil, errors.New("pgvector store: dimension must be positive")
	}
	table := config.Table
	if table == "" {
		table = "documents"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("pgvector store: invalid table name %q", table)
	}

	pool, err := pgxpool.New(ctx, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err = pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, &schema.TransportError{Op: "postgres.ping", Err: err}
	}

	topK := config.TopK
	if topK <= 0 {
		topK = vectorstore.DefaultTopK
	}
	s := &Store{pool: pool, table: table, emb: config.Embedding, topK: topK}
	if err = s.migrate(ctx, config.Dimension); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context, dim int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			idx        TEXT NOT NULL,
			id         TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   JSONB NOT NULL DEFAULT '{}',
			embedding  vector(%d),
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (idx, id)
		)`, s.table, dim),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_embedding_idx ON %s USING hnsw (embedding vector_cosine_ops)`,
			s.table, s.table),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) GetType() string {
	return "PgVector"
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

	batch := &pgx.Batch{}
	upsert := fmt.Sprintf(`
		INSERT INTO %s (idx, id, content, metadata, embedding)
		VALUES ($1, $2, $3, $4, $5::vector)
		ON CONFLICT (idx, id) DO UPDATE SET
			content = EXCLUDED.content,
			metadata = EXCLUDED.metadata,
			embedding = EXCLUDED.embedding`, s.table)
	for i, d := range docs {
		meta, err := sonic.MarshalString(vectorstore.UserMeta(d.MetaData))
		if err != nil {
			return nil, fmt.Errorf("marshal metadata of %s: %w", d.ID, err)
		}
		batch.Queue(upsert, index, d.ID, d.Content, meta, formatVector(vecs[i]))
	}

	if err = s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("upsert documents: %w", err)
	}
	return ids, nil
}

// Retrieve 得分为 1 - 余弦距离。Filter 以 JSONB 包含（@>）匹配。
func (s *Store) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{Embedding: s.emb, TopK: &s.topK}, opts...)
	implOpts := retriever.GetImplSpecificOptions(&options{}, opts...)
	index := vectorstore.DefaultIndex
	if o.Index != nil {
		index = *o.Index
	}

	qv, err := vectorstore.EmbedQuery(ctx, o.Embedding, query)
	if err != nil {
		return nil, err
	}

	sql, args, err := s.searchQuery(index, qv, *o.TopK, o.Filter, implOpts.withVectors)
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var docs []*schema.Document
	for rows.Next() {
		var (
			d     = &schema.Document{}
			meta  []byte
			score float64
			vec   string
		)
		dest := []any{&d.ID, &d.Content, &meta, &score}
		if implOpts.withVectors {
			dest = append(dest, &vec)
		}
		if err = rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		if len(meta) > 0 {
			if err = sonic.Unmarshal(meta, &d.MetaData); err != nil {
				return nil, fmt.Errorf("decode metadata of %s: %w", d.ID, err)
			}
		}
		if o.ScoreThreshold != nil && score < *o.ScoreThreshold {
			continue
		}
		if implOpts.withVectors {
			v, err := parseVector(vec)
			if err != nil {
				return nil, err
			}
			d.WithDenseVector(v)
		}
		docs = append(docs, d.WithScore(score))
	}
	return docs, rows.Err()
}

func (s *Store) searchQuery(index string, qv []float64, topK int, filter map[string]any, withVectors bool) (
	string, []any, error) {

	var sb strings.Builder
	args := []any{formatVector(qv), index}

	sb.WriteString("SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score")
	if withVectors {
		sb.WriteString(", embedding::text")
	}
	sb.WriteString(" FROM ")
	sb.WriteString(s.table)
	sb.WriteString(" WHERE idx = $2")
	if len(filter) > 0 {
		f, err := sonic.MarshalString(filter)
		if err != nil {
			return "", nil, fmt.Errorf("marshal filter: %w", err)
		}
		args = append(args, f)
		sb.WriteString(" AND metadata @> $" + strconv.Itoa(len(args)) + "::jsonb")
	}
	sb.WriteString(" ORDER BY embedding <=> $1::vector")
	if topK > 0 {
		args = append(args, topK)
		sb.WriteString(" LIMIT $" + strconv.Itoa(len(args)))
	}
	return sb.String(), args, nil
}

func (s *Store) Delete(ctx context.Context, index string, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	if index == "" {
		index = vectorstore.DefaultIndex
	}
	_, err := s.pool.Exec(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE idx = $1 AND id = ANY($2)`, s.table), index, ids)
	return err
}

func (s *Store) Close() {
	s.pool.Close()
}

// formatVector pgvector 的文本格式 "[0.1,0.2,0.3]"。
func formatVector(v []float64) string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i, x := range v {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
	}
	sb.WriteByte(']')
	return sb.String()
}

func parseVector(s string) ([]float64, error) {
	s = strings.TrimSuffix(strings.TrimPrefix(strings.TrimSpace(s), "["), "]")
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]float64, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return nil, fmt.Errorf("parse vector element %d: %w", i, err)
		}
		out[i] = f
	}
	return out, nil
}
