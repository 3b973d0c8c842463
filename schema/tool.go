package schema

import (
	"sort"

	"github.com/eino-contrib/jsonschema"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// DataType 工具参数的数据类型，取值遵循 OpenAPI 3.0。
type DataType string

const (
	Object  DataType = "object"
	Number  DataType = "number"
	Integer DataType = "integer"
	String  DataType = "string"
	Array   DataType = "array"
	Null    DataType = "null"
	Boolean DataType = "boolean"
)

// ToolChoice 控制模型是否调用工具。
type ToolChoice string

const (
	// ToolChoiceForbidden 对应 OpenAI 的 "none"。
	ToolChoiceForbidden ToolChoice = "forbidden"
	// ToolChoiceAllowed 对应 OpenAI 的 "auto"。
	ToolChoiceAllowed ToolChoice = "allowed"
	// ToolChoiceForced 对应 OpenAI 的 "required"；配合 model.WithForcedTool 可指定具体函数。
	ToolChoiceForced ToolChoice = "forced"
)

// ToolInfo 提供给模型的函数描述。
type ToolInfo struct {
	Name string
	// Desc 告诉模型何时、如何调用该函数。
	Desc  string
	Extra map[string]any

	// 为 nil 表示无参数。
	*ParamsOneOf
}

// ParameterInfo 单个参数的描述。
type ParameterInfo struct {
	Type DataType
	// ElemInfo 仅用于数组。
	ElemInfo *ParameterInfo
	// SubParams 仅用于对象。
	SubParams map[string]*ParameterInfo
	Desc      string
	Enum      []string
	Required  bool
}

// ParamsOneOf 参数描述，二选一：ParameterInfo 映射或 JSON Schema。
type ParamsOneOf struct {
	params     map[string]*ParameterInfo
	jsonschema *jsonschema.Schema
}

func NewParamsOneOfByParams(params map[string]*ParameterInfo) *ParamsOneOf {
	return &ParamsOneOf{params: params}
}

func NewParamsOneOfByJSONSchema(s *jsonschema.Schema) *ParamsOneOf {
	return &ParamsOneOf{jsonschema: s}
}

// ToJSONSchema 统一转为 JSON Schema。属性与 required 按名称排序，保证输出稳定。
func (p *ParamsOneOf) ToJSONSchema() (*jsonschema.Schema, error) {
	if p == nil {
		return nil, nil
	}
	if p.params == nil {
		return p.jsonschema, nil
	}

	return objectSchema(p.params), nil
}

func objectSchema(params map[string]*ParameterInfo) *jsonschema.Schema {
	sc := &jsonschema.Schema{
		Type:       string(Object),
		Properties: orderedmap.New[string, *jsonschema.Schema](),
		Required:   make([]string, 0, len(params)),
	}

	names := make([]string, 0, len(params))
	for k := range params {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, k := range names {
		v := params[k]
		sc.Properties.Set(k, paramInfoToJSONSchema(v))
		if v.Required {
			sc.Required = append(sc.Required, k)
		}
	}
	return sc
}

func paramInfoToJSONSchema(info *ParameterInfo) *jsonschema.Schema {
	if len(info.SubParams) > 0 {
		js := objectSchema(info.SubParams)
		js.Description = info.Desc
		return js
	}

	js := &jsonschema.Schema{
		Type:        string(info.Type),
		Description: info.Desc,
	}
	for _, e := range info.Enum {
		js.Enum = append(js.Enum, e)
	}
	if info.ElemInfo != nil {
		js.Items = paramInfoToJSONSchema(info.ElemInfo)
	}
	return js
}
