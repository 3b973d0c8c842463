package embedding

import "context"

//go:generate mockgen -destination ../../internal/mock/components/embedding/Embedding_mock.go --package embedding -source interface.go

// Embedder 把文本转为稠密向量，返回值与 texts 一一对应。
type Embedder interface {
	EmbedStrings(ctx context.Context, texts []string, opts ...Option) ([][]float64, error)
}
