// Package openai OpenAI /embeddings 协议的向量化实现，兼容 Ollama 等同协议服务。
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components"
	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/internal/restclient"
	"github.com/favbox/eino-chains/schema"
)

const opEmbeddings = "embeddings"

type EmbeddingConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
	// Dimensions 仅 text-embedding-3 系列支持。
	Dimensions *int
	// BatchSize 单次请求的最大文本数，0 表示不拆分。
	BatchSize int
}

type Embedder struct {
	cli  *restclient.Client
	conf *EmbeddingConfig
}

var _ embedding.Embedder = (*Embedder)(nil)

func NewEmbedder(_ context.Context, config *EmbeddingConfig) (*Embedder, error) {
	if config == nil {
		return nil, errors.New("openai embedding config is nil")
	}
	if config.Model == "" {
		return nil, errors.New("openai embedding: model name is required")
	}
	return &Embedder{
		cli: restclient.New(restclient.Config{
			APIKey:     config.APIKey,
			BaseURL:    baseURL(config.BaseURL),
			Timeout:    config.Timeout,
			MaxRetries: config.MaxRetries,
			HTTPClient: config.HTTPClient,
		}),
		conf: config,
	}, nil
}

type embeddingRequest struct {
	Model          string   `json:"model"`
	Input          []string `json:"input"`
	Dimensions     *int     `json:"dimensions,omitempty"`
	EncodingFormat string   `json:"encoding_format"`
}

type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
	Usage struct {
		PromptTokens int `json:"prompt_tokens"`
		TotalTokens  int `json:"total_tokens"`
	} `json:"usage"`
}

func (e *Embedder) GetType() string {
	return "OpenAI"
}

func (e *Embedder) IsCallbacksEnabled() bool {
	return true
}

// EmbedStrings 返回的向量与 texts 按下标一一对应。
func (e *Embedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) (
	out [][]float64, err error) {

	ctx = callbacks.EnsureRunInfo(ctx, e.GetType(), components.ComponentOfEmbedding)

	o := embedding.GetCommonOptions(&embedding.Options{Model: &e.conf.Model}, opts...)
	conf := &embedding.Config{Model: *o.Model, EncodingFormat: "float"}

	ctx = callbacks.OnStart(ctx, &embedding.CallbackInput{Texts: texts, Config: conf})
	defer func() {
		if err != nil {
			callbacks.OnError(ctx, err)
		}
	}()

	if len(texts) == 0 {
		callbacks.OnEnd(ctx, &embedding.CallbackOutput{Config: conf})
		return [][]float64{}, nil
	}

	usage := &embedding.TokenUsage{}
	out = make([][]float64, 0, len(texts))
	for _, batch := range splitBatches(texts, e.conf.BatchSize) {
		vecs, u, bErr := e.embed(ctx, *o.Model, batch)
		if bErr != nil {
			return nil, bErr
		}
		out = append(out, vecs...)
		usage.PromptTokens += u.PromptTokens
		usage.TotalTokens += u.TotalTokens
	}

	callbacks.OnEnd(ctx, &embedding.CallbackOutput{Embeddings: out, Config: conf, TokenUsage: usage})
	return out, nil
}

func (e *Embedder) embed(ctx context.Context, modelName string, texts []string) ([][]float64, *embedding.TokenUsage, error) {
	var resp embeddingResponse
	err := e.cli.PostJSON(ctx, opEmbeddings, "/embeddings", &embeddingRequest{
		Model:          modelName,
		Input:          texts,
		Dimensions:     e.conf.Dimensions,
		EncodingFormat: "float",
	}, &resp)
	if err != nil {
		return nil, nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, nil, &schema.TransportError{Op: opEmbeddings, StatusCode: http.StatusOK,
			Err: fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))}
	}

	sort.Slice(resp.Data, func(i, j int) bool { return resp.Data[i].Index < resp.Data[j].Index })
	vecs := make([][]float64, len(resp.Data))
	for i, d := range resp.Data {
		vecs[i] = d.Embedding
	}
	return vecs, &embedding.TokenUsage{
		PromptTokens: resp.Usage.PromptTokens,
		TotalTokens:  resp.Usage.TotalTokens,
	}, nil
}

func splitBatches(texts []string, size int) [][]string {
	if size <= 0 || len(texts) <= size {
		return [][]string{texts}
	}
	var out [][]string
	for start := 0; start < len(texts); start += size {
		out = append(out, texts[start:min(start+size, len(texts))])
	}
	return out
}

func baseURL(u string) string {
	if u == "" {
		return "https://api.openai.com/v1"
	}
	return u
}
