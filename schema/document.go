package schema

import "strings"

const (
	docMetaDataKeyScore       = "_score"
	docMetaDataKeyDenseVector = "_dense_vector"
	docMetaDataKeyExtraInfo   = "_extra_info"
	docMetaDataKeyDistance    = "_distance"
)

// Document 文本片段及其元数据，检索器的输出单位。
type Document struct {
	ID       string         `json:"id"`
	Content  string         `json:"content"`
	MetaData map[string]any `json:"meta_data"`
}

// String 返回文档内容。
func (d *Document) String() string {
	return d.Content
}

func (d *Document) setMeta(key string, v any) *Document {
	if d.MetaData == nil {
		d.MetaData = make(map[string]any)
	}
	d.MetaData[key] = v
	return d
}

func metaOf[T any](d *Document, key string) T {
	var zero T
	if d.MetaData == nil {
		return zero
	}
	v, ok := d.MetaData[key].(T)
	if !ok {
		return zero
	}
	return v
}

// WithScore 设置相关性得分，越大越相关。
func (d *Document) WithScore(score float64) *Document {
	return d.setMeta(docMetaDataKeyScore, score)
}

func (d *Document) Score() float64 {
	return metaOf[float64](d, docMetaDataKeyScore)
}

// WithDistance 设置向量距离，越小越相近。部分向量库只返回距离。
func (d *Document) WithDistance(distance float64) *Document {
	return d.setMeta(docMetaDataKeyDistance, distance)
}

func (d *Document) Distance() float64 {
	return metaOf[float64](d, docMetaDataKeyDistance)
}

func (d *Document) WithDenseVector(vector []float64) *Document {
	return d.setMeta(docMetaDataKeyDenseVector, vector)
}

func (d *Document) DenseVector() []float64 {
	return metaOf[[]float64](d, docMetaDataKeyDenseVector)
}

func (d *Document) WithExtraInfo(extraInfo string) *Document {
	return d.setMeta(docMetaDataKeyExtraInfo, extraInfo)
}

func (d *Document) ExtraInfo() string {
	return metaOf[string](d, docMetaDataKeyExtraInfo)
}

// JoinDocuments 将文档内容按 sep 拼接，nil 文档被跳过。
func JoinDocuments(docs []*Document, sep string) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		if d == nil {
			continue
		}
		parts = append(parts, d.Content)
	}
	return strings.Join(parts, sep)
}
