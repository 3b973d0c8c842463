package compose

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/callbacks"
	"github.com/favbox/eino-chains/components/model"
	"github.com/favbox/eino-chains/components/parser"
	"github.com/favbox/eino-chains/components/prompt"
	"github.com/favbox/eino-chains/internal/safe"
	"github.com/favbox/eino-chains/schema"
)

type chatModel struct {
	msgs []*schema.Message

	mu     sync.Mutex
	inputs [][]*schema.Message
	opts   [][]model.Option
}

func (c *chatModel) Generate(_ context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	c.record(input, opts)
	return c.msgs[0], nil
}

func (c *chatModel) Stream(_ context.Context, input []*schema.Message, opts ...model.Option) (
	*schema.StreamReader[*schema.Message], error) {
	c.record(input, opts)
	sr, sw := schema.Pipe[*schema.Message](len(c.msgs))
	go func() {
		defer sw.Close()
		for _, msg := range c.msgs {
			sw.Send(msg, nil)
		}
	}()
	return sr, nil
}

func (c *chatModel) record(input []*schema.Message, opts []model.Option) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inputs = append(c.inputs, input)
	c.opts = append(c.opts, opts)
}

// recorder 记录阶段的调用顺序与输入。
type recorder struct {
	mu    sync.Mutex
	calls []string
	input map[string][]any
}

func newRecorder() *recorder {
	return &recorder{input: make(map[string][]any)}
}

func (r *recorder) stub(name string, fn func(string) (string, error)) *Lambda {
	return InvokableLambda(func(_ context.Context, in string) (string, error) {
		r.mu.Lock()
		r.calls = append(r.calls, name)
		r.input[name] = append(r.input[name], in)
		r.mu.Unlock()
		return fn(in)
	})
}

func (r *recorder) count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.input[name])
}

func TestSequenceOrder(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()

	var stages []Stage
	for i := 1; i <= 4; i++ {
		name := fmt.Sprintf("s%d", i)
		stages = append(stages, rec.stub(name, func(in string) (string, error) {
			return in + "->" + name, nil
		}))
	}

	r, err := Sequence[string, string](stages...)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "x->s1->s2->s3->s4", out)
	assert.Equal(t, []string{"s1", "s2", "s3", "s4"}, rec.calls)

	// 每个阶段只收到上一阶段的输出
	assert.Equal(t, []any{"x"}, rec.input["s1"])
	assert.Equal(t, []any{"x->s1"}, rec.input["s2"])
	assert.Equal(t, []any{"x->s1->s2->s3"}, rec.input["s4"])
}

func TestSequenceFailFast(t *testing.T) {
	ctx := context.Background()
	rec := newRecorder()
	boom := errors.New("boom")

	r, err := NewChain[string, string]().
		AppendLambda(rec.stub("ok1", func(in string) (string, error) { return in, nil })).
		AppendLambda(rec.stub("fail", func(string) (string, error) { return "", boom }), WithStageName("fail")).
		AppendLambda(rec.stub("ok2", func(in string) (string, error) { return in, nil })).
		Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "x")
	assert.Empty(t, out)
	assert.ErrorIs(t, err, boom)

	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "fail", ee.Stage)
	assert.Equal(t, -1, ee.Index)

	assert.Equal(t, 1, rec.count("ok1"))
	assert.Equal(t, 1, rec.count("fail"))
	assert.Equal(t, 0, rec.count("ok2"))
}

func TestChainBuildErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("空链", func(t *testing.T) {
		_, err := NewChain[string, string]().Compile(ctx)
		assert.ErrorIs(t, err, ErrEmptyChain)
	})

	t.Run("类型不匹配", func(t *testing.T) {
		toInt := InvokableLambda(func(_ context.Context, in string) (int, error) { return len(in), nil })
		upper := InvokableLambda(func(_ context.Context, in string) (string, error) { return strings.ToUpper(in), nil })

		_, err := NewChain[string, string]().
			AppendLambda(toInt, WithStageName("len")).
			AppendLambda(upper, WithStageName("upper")).
			Compile(ctx)
		assert.ErrorIs(t, err, ErrChainTypeMismatch)
		assert.Contains(t, err.Error(), "len")
		assert.Contains(t, err.Error(), "upper")
	})

	t.Run("链输入类型不匹配", func(t *testing.T) {
		upper := InvokableLambda(func(_ context.Context, in string) (string, error) { return in, nil })
		_, err := NewChain[int, string]().AppendLambda(upper).Compile(ctx)
		assert.ErrorIs(t, err, ErrChainTypeMismatch)
	})

	t.Run("编译后追加", func(t *testing.T) {
		c := NewChain[string, string]().AppendPassthrough()
		_, err := c.Compile(ctx)
		require.NoError(t, err)

		c.AppendPassthrough()
		_, err = c.Compile(ctx)
		assert.ErrorIs(t, err, ErrChainCompiled)
	})

	t.Run("nil 组件", func(t *testing.T) {
		_, err := NewChain[[]*schema.Message, *schema.Message]().AppendChatModel(nil).Compile(ctx)
		assert.Error(t, err)
	})
}

func TestChainRuntimeTypeCheck(t *testing.T) {
	ctx := context.Background()

	// any 输出接到具体类型的输入，运行时检查
	r, err := NewChain[map[string]any, string]().
		AppendProjection("n").
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) { return in, nil })).
		Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, map[string]any{"n": "ok"})
	require.NoError(t, err)
	assert.Equal(t, "ok", out)

	_, err = r.Invoke(ctx, map[string]any{"n": 1})
	assert.True(t, schema.IsExecutionError(err))
	assert.Contains(t, err.Error(), "unexpected input type")
}

func TestJokeChain(t *testing.T) {
	ctx := context.Background()
	cm := &chatModel{msgs: []*schema.Message{
		schema.AssistantMessage("Why did the bear ", nil),
		schema.AssistantMessage("cross the road?", nil),
	}}

	r, err := Sequence[map[string]any, string](
		ChatTemplate(prompt.FromTemplate("Tell a joke about {topic}")),
		ChatModel(cm),
		Parser[string](parser.StrParser{}),
	)
	require.NoError(t, err)

	t.Run("invoke", func(t *testing.T) {
		out, err := r.Invoke(ctx, map[string]any{"topic": "bears"})
		require.NoError(t, err)
		assert.Equal(t, "Why did the bear ", out)
		last := cm.inputs[len(cm.inputs)-1]
		require.Len(t, last, 1)
		assert.Equal(t, "Tell a joke about bears", last[0].Content)
	})

	t.Run("stream", func(t *testing.T) {
		// 前面的阶段以 Invoke 执行，只有最后的解析器流式输出
		sr, err := r.Stream(ctx, map[string]any{"topic": "bears"})
		require.NoError(t, err)
		chunks, err := schema.ReadAll(sr)
		require.NoError(t, err)
		assert.Equal(t, []string{"Why did the bear "}, chunks)
	})

	t.Run("transform", func(t *testing.T) {
		// 模型的增量输出逐块流经解析器
		in := schema.StreamReaderFromArray([]map[string]any{{"topic": "bears"}})
		sr, err := r.Transform(ctx, in)
		require.NoError(t, err)
		chunks, err := schema.ReadAll(sr)
		require.NoError(t, err)
		assert.Equal(t, []string{"Why did the bear ", "cross the road?"}, chunks)
	})

	t.Run("缺失变量", func(t *testing.T) {
		_, err := r.Invoke(ctx, map[string]any{})
		assert.True(t, schema.IsFormatError(err))
		assert.True(t, schema.IsExecutionError(err))
	})
}

func TestChainCollect(t *testing.T) {
	ctx := context.Background()
	r, err := NewChain[string, int]().
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			return strings.TrimSpace(in), nil
		})).
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (int, error) {
			return len(in), nil
		})).
		Compile(ctx)
	require.NoError(t, err)

	n, err := r.Collect(ctx, schema.StreamReaderFromArray([]string{" ab", "cd "}))
	require.NoError(t, err)
	assert.Equal(t, 4, n)
}

func TestStreamError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("broken pipe")

	s := StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
		sr, sw := schema.Pipe[string](2)
		go func() {
			defer sw.Close()
			sw.Send("a", nil)
			sw.Send("", boom)
		}()
		return sr, nil
	})

	r, err := NewChain[string, string]().AppendLambda(s, WithStageName("gen")).Compile(ctx)
	require.NoError(t, err)

	sr, err := r.Stream(ctx, "x")
	require.NoError(t, err)
	defer sr.Close()

	chunk, err := sr.Recv()
	require.NoError(t, err)
	assert.Equal(t, "a", chunk)

	_, err = sr.Recv()
	assert.ErrorIs(t, err, boom)
	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "gen", ee.Stage)

	_, err = r.Invoke(ctx, "x")
	assert.ErrorIs(t, err, boom)
}

func TestPanicBecomesError(t *testing.T) {
	ctx := context.Background()
	r, err := NewChain[string, string]().
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			panic("bad state")
		}), WithStageName("p")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "x")
	require.Error(t, err)
	assert.True(t, safe.IsPanic(err))
	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "p", ee.Stage)
	assert.Contains(t, err.Error(), "bad state")
}

func TestCanceledContext(t *testing.T) {
	rec := newRecorder()
	r, err := Sequence[string, string](rec.stub("s", func(in string) (string, error) { return in, nil }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Invoke(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, rec.count("s"))
}

func TestNestedChain(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("inner failed")

	inner := NewChain[string, string](WithChainName("inner")).
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			if in == "bad" {
				return "", boom
			}
			return in + "!", nil
		}), WithStageName("exclaim"))

	r, err := NewChain[string, string]().
		AppendStage(inner).
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			return strings.ToUpper(in), nil
		})).
		Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "hi")
	require.NoError(t, err)
	assert.Equal(t, "HI!", out)

	// 失败阶段为最内层阶段
	_, err = r.Invoke(ctx, "bad")
	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "exclaim", ee.Stage)

	// 编译后的 Runnable 也可作为阶段
	compiled, err := Sequence[string, string](InvokableLambda(func(_ context.Context, in string) (string, error) {
		return "<" + in + ">", nil
	}))
	require.NoError(t, err)
	r2, err := Sequence[string, string](RunnableStage(compiled), RunnableStage(compiled))
	require.NoError(t, err)
	out, err = r2.Invoke(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "<<x>>", out)
}

func TestBatch(t *testing.T) {
	ctx := context.Background()

	var running, peak int32
	slowUpper := InvokableLambda(func(_ context.Context, in string) (string, error) {
		n := atomic.AddInt32(&running, 1)
		defer atomic.AddInt32(&running, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		if strings.HasPrefix(in, "bad") {
			return "", fmt.Errorf("cannot handle %s", in)
		}
		return strings.ToUpper(in), nil
	})

	r, err := NewChain[string, string](WithChainName("upper")).AppendLambda(slowUpper).Compile(ctx)
	require.NoError(t, err)

	t.Run("保持顺序", func(t *testing.T) {
		outs, err := r.Batch(ctx, []string{"a", "b", "c", "d"}, WithBatchConcurrency(2))
		require.NoError(t, err)
		assert.Equal(t, []string{"A", "B", "C", "D"}, outs)
		assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	})

	t.Run("返回下标最小的错误", func(t *testing.T) {
		outs, err := r.Batch(ctx, []string{"a", "bad1", "c", "bad3"})
		assert.Nil(t, outs)
		var ee *schema.ExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 1, ee.Index)
		assert.Contains(t, err.Error(), "bad1")
	})

	t.Run("空输入", func(t *testing.T) {
		outs, err := r.Batch(ctx, nil)
		require.NoError(t, err)
		assert.Empty(t, outs)
	})
}

func TestCallOptions(t *testing.T) {
	ctx := context.Background()
	cm1 := &chatModel{msgs: []*schema.Message{schema.AssistantMessage("one", nil)}}
	cm2 := &chatModel{msgs: []*schema.Message{schema.AssistantMessage("two", nil)}}

	toMsgs := InvokableLambda(func(_ context.Context, m *schema.Message) ([]*schema.Message, error) {
		return []*schema.Message{m}, nil
	})

	r, err := NewChain[[]*schema.Message, *schema.Message]().
		AppendChatModel(cm1, WithStageName("first")).
		AppendLambda(toMsgs).
		AppendChatModel(cm2, WithStageName("second")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, []*schema.Message{schema.UserMessage("hi")},
		WithChatModelOption(model.WithTemperature(0.1)),
		WithChatModelOption(model.WithModel("gpt-x")).DesignateStage("second"),
	)
	require.NoError(t, err)

	o1 := model.GetCommonOptions(nil, cm1.opts[0]...)
	o2 := model.GetCommonOptions(nil, cm2.opts[0]...)
	require.NotNil(t, o1.Temperature)
	assert.InDelta(t, 0.1, *o1.Temperature, 1e-6)
	assert.Nil(t, o1.Model)
	require.NotNil(t, o2.Model)
	assert.Equal(t, "gpt-x", *o2.Model)
	require.NotNil(t, o2.Temperature)
}

func TestChainCallbacks(t *testing.T) {
	ctx := context.Background()

	var (
		mu     sync.Mutex
		events []string
	)
	record := func(e string) {
		mu.Lock()
		events = append(events, e)
		mu.Unlock()
	}
	h := callbacks.NewHandlerBuilder().
		OnStartFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackInput) context.Context {
			record("start:" + info.Name)
			return ctx
		}).
		OnEndFn(func(ctx context.Context, info *callbacks.RunInfo, _ callbacks.CallbackOutput) context.Context {
			record("end:" + info.Name)
			return ctx
		}).
		OnErrorFn(func(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
			record("error:" + info.Name)
			return ctx
		}).
		Build()

	upper := InvokableLambda(func(_ context.Context, in string) (string, error) { return strings.ToUpper(in), nil })
	fail := InvokableLambda(func(_ context.Context, in string) (string, error) { return "", errors.New("x") })

	t.Run("全部阶段", func(t *testing.T) {
		events = nil
		r, err := NewChain[string, string](WithChainName("root")).
			AppendLambda(upper, WithStageName("upper")).
			Compile(ctx)
		require.NoError(t, err)

		_, err = r.Invoke(ctx, "a", WithCallbacks(h))
		require.NoError(t, err)
		assert.Equal(t, []string{"start:root", "start:upper", "end:upper", "end:root"}, events)
	})

	t.Run("指定阶段", func(t *testing.T) {
		events = nil
		r, err := NewChain[string, string](WithChainName("root")).
			AppendLambda(upper, WithStageName("a")).
			AppendLambda(upper, WithStageName("b")).
			Compile(ctx)
		require.NoError(t, err)

		_, err = r.Invoke(ctx, "a", WithCallbacks(h).DesignateStage("b"))
		require.NoError(t, err)
		assert.Equal(t, []string{"start:b", "end:b"}, events)
	})

	t.Run("错误回调", func(t *testing.T) {
		events = nil
		r, err := NewChain[string, string](WithChainName("root")).
			AppendLambda(fail, WithStageName("fail")).
			Compile(ctx)
		require.NoError(t, err)

		_, err = r.Invoke(ctx, "a", WithCallbacks(h))
		require.Error(t, err)
		assert.Equal(t, []string{"start:root", "start:fail", "error:fail", "error:root"}, events)
	})

	t.Run("流式输出回调", func(t *testing.T) {
		var got []string
		done := make(chan struct{})
		sh := callbacks.NewHandlerBuilder().
			OnEndWithStreamOutputFn(func(ctx context.Context, info *callbacks.RunInfo,
				output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
				if info.Name != "gen" {
					output.Close()
					return ctx
				}
				go func() {
					defer close(done)
					defer output.Close()
					for {
						chunk, err := output.Recv()
						if err == io.EOF {
							return
						}
						if err != nil {
							return
						}
						got = append(got, chunk.(string))
					}
				}()
				return ctx
			}).
			Build()

		gen := StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
			return schema.StreamReaderFromArray([]string{in, in}), nil
		})
		r, err := NewChain[string, string]().AppendLambda(gen, WithStageName("gen")).Compile(ctx)
		require.NoError(t, err)

		sr, err := r.Stream(ctx, "z", WithCallbacks(sh))
		require.NoError(t, err)
		out, err := concatStreamReader(sr)
		require.NoError(t, err)
		assert.Equal(t, "zz", out)
		<-done
		assert.Equal(t, []string{"z", "z"}, got)
	})
}

func TestDerivedModes(t *testing.T) {
	ctx := context.Background()

	t.Run("由 Stream 推导 Invoke", func(t *testing.T) {
		l := StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
			return schema.StreamReaderFromArray(strings.Split(in, "")), nil
		})
		r, err := Sequence[string, string](l)
		require.NoError(t, err)
		out, err := r.Invoke(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, "abc", out)
	})

	t.Run("由 Invoke 推导 Stream", func(t *testing.T) {
		r, err := Sequence[string, int](InvokableLambda(func(_ context.Context, in string) (int, error) {
			return len(in), nil
		}))
		require.NoError(t, err)
		sr, err := r.Stream(ctx, "abc")
		require.NoError(t, err)
		chunks, err := schema.ReadAll(sr)
		require.NoError(t, err)
		assert.Equal(t, []int{3}, chunks)
	})

	t.Run("由 Collect 推导 Transform", func(t *testing.T) {
		l := CollectableLambda(func(_ context.Context, in *schema.StreamReader[string]) (int, error) {
			chunks, err := schema.ReadAll(in)
			return len(chunks), err
		})
		r, err := Sequence[string, int](l)
		require.NoError(t, err)
		sr, err := r.Transform(ctx, schema.StreamReaderFromArray([]string{"a", "b"}))
		require.NoError(t, err)
		chunks, err := schema.ReadAll(sr)
		require.NoError(t, err)
		assert.Equal(t, []int{2}, chunks)
	})

	t.Run("结构体分块取最后一个非零值", func(t *testing.T) {
		type point struct{ X int }
		l := StreamableLambda(func(_ context.Context, _ string) (*schema.StreamReader[point], error) {
			return schema.StreamReaderFromArray([]point{{1}, {}, {2}}), nil
		})
		r, err := NewChain[string, point]().AppendLambda(l).Compile(ctx)
		require.NoError(t, err)

		out, err := r.Invoke(ctx, "x")
		require.NoError(t, err)
		assert.Equal(t, point{2}, out)

		out, err = r.Collect(ctx, schema.StreamReaderFromArray([]string{"x"}))
		require.NoError(t, err)
		assert.Equal(t, point{2}, out)
	})
}
