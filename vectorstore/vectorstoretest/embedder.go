// Package vectorstoretest 存储实现测试用的确定性向量化器。
package vectorstoretest

import (
	"context"
	"strings"
	"unicode"

	"github.com/favbox/eino-chains/components/embedding"
)

// Embedder 按 26 个字母的出现次数生成向量，相同字母构成的文本相似度高。
type Embedder struct {
	Calls int
}

func (e *Embedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.Calls++
	out := make([][]float64, len(texts))
	for i, t := range texts {
		v := make([]float64, 26)
		for _, r := range strings.ToLower(t) {
			if r < unicode.MaxASCII && r >= 'a' && r <= 'z' {
				v[r-'a']++
			}
		}
		out[i] = v
	}
	return out, nil
}
