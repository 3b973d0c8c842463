package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/favbox/eino-chains/schema"
)

func TestParallelInvoke(t *testing.T) {
	ctx := context.Background()

	var (
		mu   sync.Mutex
		seen = map[string]any{}
	)
	branch := func(key string, fn func(string) string) *Lambda {
		return InvokableLambda(func(_ context.Context, in string) (string, error) {
			mu.Lock()
			seen[key] = in
			mu.Unlock()
			return fn(in), nil
		})
	}

	p := NewParallel().
		AddLambda("a", branch("a", strings.ToUpper)).
		AddLambda("b", branch("b", func(s string) string { return s + s }))

	r, err := NewChain[string, map[string]any]().AppendParallel(p).Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "X", "b": "xx"}, out)
	assert.Equal(t, map[string]any{"a": "x", "b": "x"}, seen)
}

func TestParallelConcurrent(t *testing.T) {
	ctx := context.Background()

	// 两个分支互相等待，只有并发执行才能完成
	var wg sync.WaitGroup
	wg.Add(2)
	wait := InvokableLambda(func(_ context.Context, in string) (string, error) {
		wg.Done()
		wg.Wait()
		return in, nil
	})

	r, err := NewChain[string, map[string]any]().
		AppendParallel(NewParallel().AddLambda("a", wait).AddLambda("b", wait)).
		Compile(ctx)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		out, err := r.Invoke(ctx, "x")
		assert.NoError(t, err)
		assert.Len(t, out, 2)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("branches did not run concurrently")
	}
}

func TestParallelFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	// bad 等 slow 开始执行后才失败，确保 slow 是被取消而不是未启动
	started := make(chan struct{})
	cancelled := make(chan struct{})
	slow := InvokableLambda(func(ctx context.Context, in string) (string, error) {
		close(started)
		<-ctx.Done()
		close(cancelled)
		return "", ctx.Err()
	})
	fail := InvokableLambda(func(_ context.Context, in string) (string, error) {
		<-started
		return "", boom
	})

	r, err := NewChain[string, map[string]any]().
		AppendParallel(NewParallel().AddLambda("slow", slow).AddLambda("bad", fail)).
		Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "x")
	assert.Nil(t, out)
	assert.ErrorIs(t, err, boom)

	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "bad", ee.Key)
	assert.Equal(t, "bad", ee.Stage)

	select {
	case <-cancelled:
	case <-time.After(5 * time.Second):
		t.Fatal("sibling branch was not cancelled")
	}
}

func TestNestedParallelFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	fail := InvokableLambda(func(_ context.Context, in string) (string, error) {
		return "", boom
	})
	inner := NewParallel().AddLambda("inner", fail).AddPassthrough("raw")

	r, err := NewChain[string, map[string]any]().
		AppendParallel(NewParallel().AddStage("outer", inner).AddPassthrough("input")).
		Compile(ctx)
	require.NoError(t, err)

	_, err = r.Invoke(ctx, "x")
	assert.ErrorIs(t, err, boom)
	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "outer.inner", ee.Key)
	assert.Equal(t, "inner", ee.Stage)
}

func TestWrapBranchError(t *testing.T) {
	boom := errors.New("boom")

	t.Run("普通错误", func(t *testing.T) {
		err := wrapBranchError("s", "k", boom)
		var ee *schema.ExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "k", ee.Key)
		assert.Equal(t, "s", ee.Stage)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("保留外层包装", func(t *testing.T) {
		inner := schema.NewExecutionError("model", boom)
		inner.Key = "b"
		wrapped := fmt.Errorf("retry exhausted: %w", inner)

		err := wrapBranchError("p", "a", wrapped)
		var ee *schema.ExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, "a.b", ee.Key)
		assert.Equal(t, "model", ee.Stage)
		assert.ErrorIs(t, err, wrapped)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, "b", inner.Key)
	})

	t.Run("批量下标", func(t *testing.T) {
		err := withBatchIndex("chain", 2, wrapBranchError("p", "a", boom))
		var ee *schema.ExecutionError
		require.ErrorAs(t, err, &ee)
		assert.Equal(t, 2, ee.Index)
		assert.Equal(t, "a", ee.Key)
	})
}

func TestParallelBuildErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("重复的键", func(t *testing.T) {
		p := NewParallel().AddPassthrough("a").AddPassthrough("a")
		_, err := NewChain[string, map[string]any]().AppendParallel(p).Compile(ctx)
		assert.ErrorIs(t, err, ErrDuplicateKey)
	})

	t.Run("没有分支", func(t *testing.T) {
		_, err := NewChain[string, map[string]any]().AppendParallel(NewParallel()).Compile(ctx)
		assert.ErrorIs(t, err, ErrEmptyParallel)
	})

	t.Run("分支输入类型", func(t *testing.T) {
		toLen := InvokableLambda(func(_ context.Context, in string) (int, error) { return len(in), nil })
		p := NewParallel().AddLambda("n", toLen).AddPassthrough("raw")
		_, err := NewChain[int, map[string]any]().AppendParallel(p).Compile(ctx)
		assert.ErrorIs(t, err, ErrChainTypeMismatch)
	})
}

func TestParallelStream(t *testing.T) {
	ctx := context.Background()

	words := StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
		return schema.StreamReaderFromArray(strings.Split(in, " ")), nil
	})
	upper := InvokableLambda(func(_ context.Context, in string) (string, error) {
		return strings.ToUpper(in), nil
	})

	p := NewParallel().AddLambda("words", words).AddLambda("upper", upper)
	r, err := NewChain[string, map[string]any]().AppendParallel(p).Compile(ctx)
	require.NoError(t, err)

	sr, err := r.Stream(ctx, "a b c")
	require.NoError(t, err)
	chunks, err := schema.ReadAll(sr)
	require.NoError(t, err)

	// 每个分块只含一个键
	for _, c := range chunks {
		assert.Len(t, c, 1)
	}

	merged, err := concatStreamReader(schema.StreamReaderFromArray(chunks))
	require.NoError(t, err)

	invoked, err := r.Invoke(ctx, "a b c")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"words": "abc", "upper": "A B C"}, merged)
	assert.Equal(t, invoked, merged)
}

func TestParallelStreamError(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("stream broke")

	broken := StreamableLambda(func(_ context.Context, in string) (*schema.StreamReader[string], error) {
		sr, sw := schema.Pipe[string](1)
		go func() {
			defer sw.Close()
			sw.Send("", boom)
		}()
		return sr, nil
	})

	p := NewParallel().AddLambda("broken", broken).AddPassthrough("raw")
	r, err := NewChain[string, map[string]any]().AppendParallel(p).Compile(ctx)
	require.NoError(t, err)

	sr, err := r.Stream(ctx, "x")
	require.NoError(t, err)
	_, err = schema.ReadAll(sr)
	assert.ErrorIs(t, err, boom)
	var ee *schema.ExecutionError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, "broken", ee.Key)
}

func TestParallelTransform(t *testing.T) {
	ctx := context.Background()

	count := CollectableLambda(func(_ context.Context, in *schema.StreamReader[string]) (int, error) {
		chunks, err := schema.ReadAll(in)
		return len(chunks), err
	})

	p := NewParallel().AddLambda("count", count).AddPassthrough("text")
	r, err := NewChain[string, map[string]any]().AppendParallel(p).Compile(ctx)
	require.NoError(t, err)

	out, err := r.Collect(ctx, schema.StreamReaderFromArray([]string{"a", "b", "c"}))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 3, "text": "abc"}, out)

	sr, err := r.Transform(ctx, schema.StreamReaderFromArray([]string{"a", "b"}))
	require.NoError(t, err)
	chunks, err := schema.ReadAll(sr)
	require.NoError(t, err)
	merged, err := concatStreamReader(schema.StreamReaderFromArray(chunks))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"count": 2, "text": "ab"}, merged)
}

func TestParallelNested(t *testing.T) {
	ctx := context.Background()

	pros := NewChain[string, string]().
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			return "pros of " + in, nil
		}))
	cons := NewChain[string, string]().
		AppendLambda(InvokableLambda(func(_ context.Context, in string) (string, error) {
			return "cons of " + in, nil
		}))

	r, err := NewChain[string, map[string]any]().
		AppendParallel(NewParallel().
			AddStage("pros", pros).
			AddStage("cons", cons).
			AddPassthrough("original")).
		Compile(ctx)
	require.NoError(t, err)

	out, err := r.Invoke(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"pros":     "pros of x",
		"cons":     "cons of x",
		"original": "x",
	}, out)
}
