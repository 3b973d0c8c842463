package retriever

import (
	"context"

	"github.com/favbox/eino-chains/schema"
)

//go:generate mockgen -destination ../../internal/mock/components/retriever/Retriever_mock.go --package retriever -source interface.go

// Retriever 按查询返回相关文档，按相关性降序排列。
type Retriever interface {
	Retrieve(ctx context.Context, query string, opts ...Option) ([]*schema.Document, error)
}
