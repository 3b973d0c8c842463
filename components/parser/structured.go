package parser

import (
	"context"
	"fmt"
	"reflect"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/eino-contrib/jsonschema"
	"github.com/go-playground/validator/v10"

	"github.com/favbox/eino-chains/schema"
)

const formatInstructionsTpl = "The output should be formatted as a JSON instance that conforms to the JSON schema below.\n\n" +
	"Here is the output schema:\n```\n%s\n```"

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// StructParser 把 JSON 输出解析为结构体 T，并按 validate 标签校验。
//
//	type Actor struct {
//		Name      string   `json:"name" jsonschema:"description=name of an actor" validate:"required"`
//		FilmNames []string `json:"film_names" jsonschema:"description=list of names of films they starred in" validate:"required,min=1"`
//	}
type StructParser[T any] struct {
	json         *JSONParser[T]
	instructions string
}

func NewStructParser[T any]() (*StructParser[T], error) {
	r := &jsonschema.Reflector{
		DoNotReference:            true,
		ExpandedStruct:            true,
		AllowAdditionalProperties: false,
	}
	s := r.Reflect(new(T))
	s.Version = ""

	b, err := sonic.ConfigStd.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal json schema of %T: %w", *new(T), err)
	}

	return &StructParser[T]{
		json:         NewJSONParser[T](nil),
		instructions: fmt.Sprintf(formatInstructionsTpl, b),
	}, nil
}

// FormatInstructions 返回描述输出格式的提示词片段，一般作为 format_instructions 默认变量。
func (p *StructParser[T]) FormatInstructions() string {
	return p.instructions
}

func (p *StructParser[T]) Parse(ctx context.Context, m *schema.Message) (T, error) {
	out, err := p.json.Parse(ctx, m)
	if err != nil {
		return out, err
	}

	if isStruct(reflect.TypeOf(out)) {
		if err = getValidator().Struct(out); err != nil {
			return out, &schema.ParseError{Parser: p.GetType(), Raw: m.Content, Err: err}
		}
	}
	return out, nil
}

func (p *StructParser[T]) GetType() string {
	return "StructParser"
}

func isStruct(t reflect.Type) bool {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t != nil && t.Kind() == reflect.Struct
}
