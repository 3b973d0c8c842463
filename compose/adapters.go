package compose

import (
	"context"
	"io"
	"runtime/debug"

	"github.com/favbox/eino-chains/internal/generic"
	"github.com/favbox/eino-chains/internal/gmap"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

// 结构适配：在阶段之间调整数据形状，不调用任何外部服务。

func newAdapter[I, O any](typ string, i Invoke[I, O, unreachableOption],
	t Transform[I, O, unreachableOption]) *Lambda {
	cr := runnableLambda(i, nil, nil, t, true)
	cr.meta = &executorMeta{component: ComponentOfAdapter, componentImplType: typ}
	return &Lambda{executor: cr}
}

type passthrough struct{}

// Passthrough 原样输出输入，流式输入的分块也原样转发。
func Passthrough() Stage {
	return passthrough{}
}

func (passthrough) toComposable() (*composableRunnable, error) {
	return &composableRunnable{
		i: func(_ context.Context, input any, _ ...any) (any, error) {
			return input, nil
		},
		s: func(_ context.Context, input any, _ ...any) (streamReader, error) {
			return packStreamReader(schema.StreamReaderFromArray([]any{input})), nil
		},
		c: func(_ context.Context, input streamReader, _ ...any) (any, error) {
			return concatStreamReader(input.toAnyStreamReader())
		},
		t: func(_ context.Context, input streamReader, _ ...any) (streamReader, error) {
			return input, nil
		},
		inputType:  anyType,
		outputType: anyType,
		meta:       &executorMeta{component: ComponentOfPassthrough},
	}, nil
}

// Projection map[string]any => input[key]。键不存在时返回 *schema.KeyError。
// 流式输入中只转发含 key 的分块。
func Projection(key string) Stage {
	i := func(_ context.Context, in map[string]any, _ ...unreachableOption) (any, error) {
		v, ok := in[key]
		if !ok {
			return nil, &schema.KeyError{Key: key}
		}
		return v, nil
	}
	t := func(_ context.Context, in *schema.StreamReader[map[string]any], _ ...unreachableOption) (
		*schema.StreamReader[any], error) {
		return projectStream(in, key, func(v any) (any, error) { return v, nil }), nil
	}
	return newAdapter("Projection", i, t)
}

// ProjectionOf 同 Projection，并要求值的类型为 T，否则返回包装了类型错误的 *schema.KeyError。
func ProjectionOf[T any](key string) Stage {
	typ := generic.TypeOf[T]()
	conv := func(v any) (T, error) {
		t, err := assertValue[T](v, typ)
		if err != nil {
			return t, &schema.KeyError{Key: key, Err: err}
		}
		return t, nil
	}
	i := func(_ context.Context, in map[string]any, _ ...unreachableOption) (T, error) {
		v, ok := in[key]
		if !ok {
			var zero T
			return zero, &schema.KeyError{Key: key}
		}
		return conv(v)
	}
	t := func(_ context.Context, in *schema.StreamReader[map[string]any], _ ...unreachableOption) (
		*schema.StreamReader[T], error) {
		return projectStream(in, key, conv), nil
	}
	return newAdapter("Projection", i, t)
}

func projectStream[O any](in *schema.StreamReader[map[string]any], key string,
	conv func(any) (O, error)) *schema.StreamReader[O] {
	found := false
	return convertMapStream(in, func(m map[string]any) (O, error) {
		v, ok := m[key]
		if !ok {
			var zero O
			return zero, schema.ErrNoValue
		}
		found = true
		return conv(v)
	}, func() error {
		if !found {
			return &schema.KeyError{Key: key}
		}
		return nil
	})
}

// ToMap v => {key: v}。入口为单个值的流水线用它转为提示模板需要的映射。
func ToMap(key string) Stage {
	i := func(_ context.Context, in any, _ ...unreachableOption) (map[string]any, error) {
		return map[string]any{key: in}, nil
	}
	t := func(_ context.Context, in *schema.StreamReader[any], _ ...unreachableOption) (
		*schema.StreamReader[map[string]any], error) {
		return schema.StreamReaderWithConvert(in, func(v any) (map[string]any, error) {
			return map[string]any{key: v}, nil
		}), nil
	}
	return newAdapter("ToMap", i, t)
}

// Pick 取出输入映射中 keys 组成的子映射。任一键不存在时返回 *schema.KeyError。
func Pick(keys ...string) Stage {
	i := func(_ context.Context, in map[string]any, _ ...unreachableOption) (map[string]any, error) {
		out := make(map[string]any, len(keys))
		for _, k := range keys {
			v, ok := in[k]
			if !ok {
				return nil, &schema.KeyError{Key: k}
			}
			out[k] = v
		}
		return out, nil
	}
	t := func(_ context.Context, in *schema.StreamReader[map[string]any], _ ...unreachableOption) (
		*schema.StreamReader[map[string]any], error) {
		seen := make(map[string]bool, len(keys))
		return convertMapStream(in, func(m map[string]any) (map[string]any, error) {
			out := make(map[string]any)
			for _, k := range keys {
				if v, ok := m[k]; ok {
					out[k] = v
					seen[k] = true
				}
			}
			if len(out) == 0 {
				return nil, schema.ErrNoValue
			}
			return out, nil
		}, func() error {
			for _, k := range keys {
				if !seen[k] {
					return &schema.KeyError{Key: k}
				}
			}
			return nil
		}), nil
	}
	return newAdapter("Pick", i, t)
}

// convertMapStream 逐块转换，convert 返回 ErrNoValue 时跳过该块。
// 输入读完后调用 finish，其错误作为最后一次 Recv 的结果。
func convertMapStream[O any](in *schema.StreamReader[map[string]any],
	convert func(map[string]any) (O, error), finish func() error) *schema.StreamReader[O] {
	out, w := schema.Pipe[O](1)

	go func() {
		var zero O
		defer func() {
			if p := recover(); p != nil {
				w.Send(zero, safe.NewPanicErr(p, debug.Stack()))
			}
			in.Close()
			w.Close()
		}()

		for {
			m, err := in.Recv()
			if err == io.EOF {
				if err = finish(); err != nil {
					w.Send(zero, err)
				}
				return
			}
			if err != nil {
				w.Send(zero, err)
				return
			}
			v, err := convert(m)
			if err == schema.ErrNoValue {
				continue
			}
			if err != nil {
				w.Send(zero, err)
				return
			}
			if closed := w.Send(v, nil); closed {
				return
			}
		}
	}()

	return out
}

type assign struct {
	p *Parallel
}

// Assign 在输入映射上追加并行映射的输出，输入中的同名键被覆盖。
//
//	// {"question": q} => {"question": q, "context": docs}
//	chain.AppendAssign(compose.NewParallel().AddStage("context", retrieveDocs))
func Assign(p *Parallel) Stage {
	return &assign{p: p}
}

func (a *assign) toComposable() (*composableRunnable, error) {
	pcr, err := a.p.toComposable()
	if err != nil {
		return nil, err
	}

	asMap := func(v any) (map[string]any, error) {
		m, err := assertValue[map[string]any](v, mapType)
		if err != nil {
			return nil, err
		}
		return m, nil
	}

	i := func(ctx context.Context, input any, opts ...any) (any, error) {
		in, err := asMap(input)
		if err != nil {
			return nil, err
		}
		out, err := pcr.i(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return gmap.Concat(in, out.(map[string]any)), nil
	}

	return &composableRunnable{
		i: i,
		s: func(ctx context.Context, input any, opts ...any) (streamReader, error) {
			in, err := asMap(input)
			if err != nil {
				return nil, err
			}
			sr, err := pcr.s(ctx, input, opts...)
			if err != nil {
				return nil, err
			}
			return packStreamReader(schema.MergeStreamReaders([]*schema.StreamReader[map[string]any]{
				schema.StreamReaderFromArray([]map[string]any{gmap.Clone(in)}),
				unpackStreamReader[map[string]any](sr),
			})), nil
		},
		c: func(ctx context.Context, input streamReader, opts ...any) (any, error) {
			in, err := concatStreamReader(unpackStreamReader[map[string]any](input))
			if err != nil {
				return nil, err
			}
			return i(ctx, in, opts...)
		},
		t: func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
			cps := input.copy(2)
			sr, err := pcr.t(ctx, cps[0], opts...)
			if err != nil {
				cps[1].close()
				return nil, err
			}
			return packStreamReader(schema.MergeStreamReaders([]*schema.StreamReader[map[string]any]{
				unpackStreamReader[map[string]any](cps[1]),
				unpackStreamReader[map[string]any](sr),
			})), nil
		},
		inputType:  mapType,
		outputType: mapType,
		optionType: optionType,
		meta:       &executorMeta{component: ComponentOfAdapter, componentImplType: "Assign"},
	}, nil
}
