// Package weaviate 通过 GraphQL Get 查询 Weaviate 的检索器。
// 未配置 Embedding 时使用 nearText，由 Weaviate 侧的向量化模块计算查询向量；
// 配置后在本地向量化并使用 nearVector。
package weaviate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/favbox/eino-chains/components/embedding"
	"github.com/favbox/eino-chains/components/retriever"
	"github.com/favbox/eino-chains/internal/restclient"
	"github.com/favbox/eino-chains/schema"
	"github.com/favbox/eino-chains/vectorstore"
)

const opGraphQL = "weaviate.graphql"

type Config struct {
	// URL 例如 http://localhost:8080。
	URL    string
	APIKey string
	// Class 集合名，例如 CodeExample。
	Class string
	// ContentField 作为 Document.Content 的属性，默认 content。
	ContentField string
	// Properties 额外读取并放入 MetaData 的属性。
	Properties []string
	// TopK 默认 4。
	TopK       int
	Embedding  embedding.Embedder
	Timeout    time.Duration
	MaxRetries int
	HTTPClient *http.Client
}

type Retriever struct {
	cli  *restclient.Client
	conf *Config
}

var _ retriever.Retriever = (*Retriever)(nil)

func NewRetriever(_ context.Context, config *Config) (*Retriever, error) {
	if config == nil {
		return nil, errors.New("weaviate config is nil")
	}
	if config.URL == "" || config.Class == "" {
		return nil, errors.New("weaviate: url and class are required")
	}
	conf := *config
	if conf.ContentField == "" {
		conf.ContentField = "content"
	}
	if conf.TopK <= 0 {
		conf.TopK = vectorstore.DefaultTopK
	}
	return &Retriever{
		cli: restclient.New(restclient.Config{
			APIKey:     conf.APIKey,
			BaseURL:    strings.TrimRight(conf.URL, "/") + "/v1",
			Timeout:    conf.Timeout,
			MaxRetries: conf.MaxRetries,
			HTTPClient: conf.HTTPClient,
		}),
		conf: &conf,
	}, nil
}

func (r *Retriever) GetType() string {
	return "Weaviate"
}

type graphQLResponse struct {
	Data struct {
		Get map[string][]map[string]any `json:"Get"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Retrieve 得分为 1 - distance，按得分降序。
func (r *Retriever) Retrieve(ctx context.Context, query string, opts ...retriever.Option) ([]*schema.Document, error) {
	o := retriever.GetCommonOptions(&retriever.Options{
		Index:     &r.conf.Class,
		TopK:      &r.conf.TopK,
		Embedding: r.conf.Embedding,
	}, opts...)

	var vec []float64
	if o.Embedding != nil {
		var err error
		if vec, err = vectorstore.EmbedQuery(ctx, o.Embedding, query); err != nil {
			return nil, err
		}
	}

	gql, err := r.buildQuery(*o.Index, query, vec, *o.TopK, o.Filter)
	if err != nil {
		return nil, err
	}

	var resp graphQLResponse
	if err = r.cli.PostJSON(ctx, opGraphQL, "/graphql", map[string]string{"query": gql}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Errors) > 0 {
		msgs := make([]string, len(resp.Errors))
		for i, e := range resp.Errors {
			msgs[i] = e.Message
		}
		return nil, &schema.TransportError{Op: opGraphQL, StatusCode: http.StatusOK,
			Err: errors.New(strings.Join(msgs, "; "))}
	}

	docs := make([]*schema.Document, 0, len(resp.Data.Get[*o.Index]))
	for _, obj := range resp.Data.Get[*o.Index] {
		d := r.toDocument(obj)
		if o.ScoreThreshold != nil && d.Score() < *o.ScoreThreshold {
			continue
		}
		docs = append(docs, d)
	}
	sort.SliceStable(docs, func(i, j int) bool { return docs[i].Score() > docs[j].Score() })
	return docs, nil
}

func (r *Retriever) toDocument(obj map[string]any) *schema.Document {
	d := &schema.Document{MetaData: map[string]any{}}
	if add, ok := obj["_additional"].(map[string]any); ok {
		d.ID, _ = add["id"].(string)
		if dist, ok := add["distance"].(float64); ok {
			d.WithDistance(dist).WithScore(1 - dist)
		}
	}
	for k, v := range obj {
		switch k {
		case "_additional":
		case r.conf.ContentField:
			d.Content = fmt.Sprint(v)
		default:
			d.MetaData[k] = v
		}
	}
	return d
}

// buildQuery 字符串值一律经 JSON 编码，避免注入 GraphQL。
func (r *Retriever) buildQuery(class, query string, vec []float64, topK int, filter map[string]any) (string, error) {
	if !validName(class) {
		return "", fmt.Errorf("weaviate: invalid class name %q", class)
	}

	var args []string
	if len(vec) > 0 {
		v, err := sonic.MarshalString(vec)
		if err != nil {
			return "", err
		}
		args = append(args, "nearVector: {vector: "+v+"}")
	} else {
		q, err := sonic.MarshalString(query)
		if err != nil {
			return "", err
		}
		args = append(args, "nearText: {concepts: ["+q+"]}")
	}
	if topK > 0 {
		args = append(args, fmt.Sprintf("limit: %d", topK))
	}
	if len(filter) > 0 {
		where, err := whereClause(filter)
		if err != nil {
			return "", err
		}
		args = append(args, "where: "+where)
	}

	fields := []string{r.conf.ContentField}
	for _, p := range r.conf.Properties {
		if !validName(p) {
			return "", fmt.Errorf("weaviate: invalid property name %q", p)
		}
		fields = append(fields, p)
	}

	return fmt.Sprintf("{ Get { %s(%s) { %s _additional { id distance } } } }",
		class, strings.Join(args, ", "), strings.Join(fields, " ")), nil
}

// whereClause 多个键以 And 组合，键按名称排序。
func whereClause(filter map[string]any) (string, error) {
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	operands := make([]string, 0, len(keys))
	for _, k := range keys {
		if !validName(k) {
			return "", fmt.Errorf("weaviate: invalid filter key %q", k)
		}
		value, err := sonic.MarshalString(filter[k])
		if err != nil {
			return "", err
		}
		var field string
		switch filter[k].(type) {
		case string:
			field = "valueText"
		case bool:
			field = "valueBoolean"
		case int, int32, int64:
			field = "valueInt"
		case float32, float64:
			field = "valueNumber"
		default:
			return "", fmt.Errorf("weaviate: unsupported filter value type %T for %s", filter[k], k)
		}
		operands = append(operands, fmt.Sprintf(`{path: ["%s"], operator: Equal, %s: %s}`, k, field, value))
	}
	if len(operands) == 1 {
		return operands[0], nil
	}
	return "{operator: And, operands: [" + strings.Join(operands, ", ") + "]}", nil
}

func validName(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		if c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (i > 0 && c >= '0' && c <= '9') {
			continue
		}
		return false
	}
	return true
}
