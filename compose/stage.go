package compose

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/favbox/eino-chains/callbacks"
	icb "github.com/favbox/eino-chains/internal/callbacks"
	"github.com/favbox/eino-chains/schema"
)

// Stage 可被追加到链或并行映射中的执行单元。
//
// 实现者：*Lambda、*Parallel、*Chain、组件适配（ChatModel、ChatTemplate、Retriever、Embedding、Parser）、
// 结构适配（Passthrough、Projection、ToMap、Pick、Assign）以及 RunnableStage 包装的已编译流水线。
type Stage interface {
	toComposable() (*composableRunnable, error)
}

type stageOptions struct {
	name      string
	inputKey  string
	outputKey string
}

// StageOpt 追加阶段时的选项。
type StageOpt func(o *stageOptions)

// WithStageName 阶段名称，出现在错误、回调 RunInfo.Name 中，并可被 Option.DesignateStage 引用。
func WithStageName(name string) StageOpt {
	return func(o *stageOptions) {
		o.name = name
	}
}

// WithInputKey 阶段只取输入映射中 key 对应的值，键不存在时返回 *schema.KeyError。
func WithInputKey(key string) StageOpt {
	return func(o *stageOptions) {
		o.inputKey = key
	}
}

// WithOutputKey 阶段输出包装为 map[string]any{key: output}。
func WithOutputKey(key string) StageOpt {
	return func(o *stageOptions) {
		o.outputKey = key
	}
}

func getStageOptions(opts ...StageOpt) *stageOptions {
	o := &stageOptions{}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// stage 链或并行映射中已命名的阶段。负责：
//   - 为回调设置 RunInfo
//   - 按名称与类型筛选调用选项
//   - 将 panic 与错误统一为 ExecutionError
type stage struct {
	name string
	cr   *composableRunnable
}

func newStage(s Stage, defaultName string, opts ...StageOpt) (*stage, error) {
	if s == nil {
		return nil, errors.New("stage is nil")
	}
	cr, err := s.toComposable()
	if err != nil {
		return nil, err
	}

	o := getStageOptions(opts...)
	name := o.name
	if name == "" {
		name = defaultName
	}
	if o.inputKey != "" {
		cr = inputKeyedRunnable(o.inputKey, cr)
	}
	if o.outputKey != "" {
		cr = outputKeyedRunnable(o.outputKey, cr)
	}

	return &stage{name: name, cr: cr}, nil
}

// defaultStageName 未命名阶段的名称，如 "ChatModel_1"。
func defaultStageName(cr *composableRunnable, index int) string {
	kind := "Stage"
	if cr.meta != nil && cr.meta.component != "" {
		kind = string(cr.meta.component)
	}
	return fmt.Sprintf("%s_%d", kind, index)
}

func (s *stage) runInfo() *callbacks.RunInfo {
	ri := &callbacks.RunInfo{Name: s.name}
	if s.cr.meta != nil {
		ri.Component = s.cr.meta.component
		ri.Type = s.cr.meta.componentImplType
	}
	return ri
}

func (s *stage) isComposite() bool {
	return s.cr.optionType == optionType
}

// prepare 设置阶段的回调上下文，返回交给该阶段的选项。
//
// 组合阶段（链、并行映射）接收 Option 本身：未指定阶段的选项原样下传（其回调已在上层注入，需剔除），
// 指定到本阶段的选项去掉限定后下传，指定到其他名称的选项也原样下传，供内部同名阶段匹配。
// 普通阶段只接收类型匹配的组件选项。
func (s *stage) prepare(ctx context.Context, opts []any) (context.Context, []any) {
	var (
		handlers []callbacks.Handler
		pass     []any
	)
	composite := s.isComposite()

	for _, a := range opts {
		o, ok := a.(Option)
		if !ok {
			continue
		}

		mine := o.designates(s.name)
		if mine {
			handlers = append(handlers, o.handlers...)
		}

		switch {
		case composite && mine:
			o.stages, o.handlers = nil, nil
			pass = append(pass, o)
		case composite && !o.designated():
			o.handlers = nil
			pass = append(pass, o)
		case composite:
			pass = append(pass, o)
		case s.cr.optionType != nil && (mine || !o.designated()):
			for _, co := range o.options {
				pass = append(pass, co)
			}
		}
	}

	if len(handlers) == 0 {
		return icb.ReuseHandlers(ctx, s.runInfo()), pass
	}
	return icb.AppendHandlers(ctx, s.runInfo(), handlers...), pass
}

func (s *stage) invoke(ctx context.Context, input any, opts ...any) (output any, err error) {
	if err = ctx.Err(); err != nil {
		return nil, wrapStageError(s.name, err)
	}
	defer func() {
		err = wrapStageError(s.name, err)
	}()
	defer recoverAsError(&err)

	ctx, pass := s.prepare(ctx, opts)
	return s.cr.i(ctx, input, pass...)
}

func (s *stage) stream(ctx context.Context, input any, opts ...any) (output streamReader, err error) {
	if err = ctx.Err(); err != nil {
		return nil, wrapStageError(s.name, err)
	}
	defer func() {
		err = wrapStageError(s.name, err)
	}()
	defer recoverAsError(&err)

	ctx, pass := s.prepare(ctx, opts)
	out, err := s.cr.s(ctx, input, pass...)
	if err != nil {
		return nil, err
	}
	return s.wrapStreamErr(out), nil
}

func (s *stage) collect(ctx context.Context, input streamReader, opts ...any) (output any, err error) {
	if err = ctx.Err(); err != nil {
		input.close()
		return nil, wrapStageError(s.name, err)
	}
	defer func() {
		err = wrapStageError(s.name, err)
	}()
	defer recoverAsError(&err)

	ctx, pass := s.prepare(ctx, opts)
	return s.cr.c(ctx, input, pass...)
}

func (s *stage) transform(ctx context.Context, input streamReader, opts ...any) (output streamReader, err error) {
	if err = ctx.Err(); err != nil {
		input.close()
		return nil, wrapStageError(s.name, err)
	}
	defer func() {
		err = wrapStageError(s.name, err)
	}()
	defer recoverAsError(&err)

	ctx, pass := s.prepare(ctx, opts)
	out, err := s.cr.t(ctx, input, pass...)
	if err != nil {
		return nil, err
	}
	return s.wrapStreamErr(out), nil
}

func (s *stage) wrapStreamErr(sr streamReader) streamReader {
	return sr.withErrWrapper(func(err error) error {
		return wrapStageError(s.name, err)
	})
}

// inputKeyedRunnable 从输入映射中取出 key 对应的值再交给 cr。
// 流式输入中不含 key 的分块被跳过。
func inputKeyedRunnable(key string, cr *composableRunnable) *composableRunnable {
	pick := func(v any) (any, error) {
		m, ok := v.(map[string]any)
		if !ok {
			return nil, newUnexpectedInputTypeErr(mapType, reflect.TypeOf(v))
		}
		val, ok := m[key]
		if !ok {
			return nil, &schema.KeyError{Key: key}
		}
		return val, nil
	}
	pickStream := func(in streamReader) streamReader {
		return packStreamReader(schema.StreamReaderWithConvert(in.toAnyStreamReader(), func(v any) (any, error) {
			m, ok := v.(map[string]any)
			if !ok {
				return nil, newUnexpectedInputTypeErr(mapType, reflect.TypeOf(v))
			}
			val, ok := m[key]
			if !ok {
				return nil, schema.ErrNoValue
			}
			return val, nil
		}))
	}

	n := *cr
	n.inputType = mapType
	n.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		v, err := pick(input)
		if err != nil {
			return nil, err
		}
		return cr.i(ctx, v, opts...)
	}
	n.s = func(ctx context.Context, input any, opts ...any) (streamReader, error) {
		v, err := pick(input)
		if err != nil {
			return nil, err
		}
		return cr.s(ctx, v, opts...)
	}
	n.c = func(ctx context.Context, input streamReader, opts ...any) (any, error) {
		return cr.c(ctx, pickStream(input), opts...)
	}
	n.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		return cr.t(ctx, pickStream(input), opts...)
	}
	return &n
}

// outputKeyedRunnable 把 cr 的输出包装为 {key: output}。
func outputKeyedRunnable(key string, cr *composableRunnable) *composableRunnable {
	n := *cr
	n.outputType = mapType
	n.i = func(ctx context.Context, input any, opts ...any) (any, error) {
		out, err := cr.i(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: out}, nil
	}
	n.s = func(ctx context.Context, input any, opts ...any) (streamReader, error) {
		out, err := cr.s(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return out.withKey(key), nil
	}
	n.c = func(ctx context.Context, input streamReader, opts ...any) (any, error) {
		out, err := cr.c(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return map[string]any{key: out}, nil
	}
	n.t = func(ctx context.Context, input streamReader, opts ...any) (streamReader, error) {
		out, err := cr.t(ctx, input, opts...)
		if err != nil {
			return nil, err
		}
		return out.withKey(key), nil
	}
	return &n
}
