package indexer

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

// Indexer 写入文档，返回与 docs 一一对应的 ID。没有 ID 的文档由实现生成。
type Indexer interface {
	Store(ctx context.Context, docs []*schema.Document, opts ...Option) (ids []string, err error)
}
