package schema

import (
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipe(t *testing.T) {
	t.Run("按发送顺序读取并以 EOF 结束", func(t *testing.T) {
		sr, sw := Pipe[int](2)
		go func() {
			defer sw.Close()
			for i := 0; i < 5; i++ {
				sw.Send(i, nil)
			}
		}()

		got, err := ReadAll(sr)
		require.NoError(t, err)
		assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
	})

	t.Run("中途错误终止读取", func(t *testing.T) {
		boom := errors.New("boom")
		sr, sw := Pipe[string](2)
		go func() {
			defer sw.Close()
			sw.Send("a", nil)
			sw.Send("", boom)
		}()

		got, err := ReadAll(sr)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, []string{"a"}, got)
	})

	t.Run("读端关闭后发送端收到 closed", func(t *testing.T) {
		sr, sw := Pipe[int](0)
		sr.Close()
		assert.True(t, sw.Send(1, nil))
		sr.Close()
	})
}

func TestStreamReaderWithConvert(t *testing.T) {
	sr := StreamReaderFromArray([]int{1, 2, 3, 4})
	out := StreamReaderWithConvert(sr, func(i int) (string, error) {
		if i%2 == 0 {
			return "", ErrNoValue
		}
		return fmt.Sprintf("v%d", i), nil
	})

	got, err := ReadAll(out)
	require.NoError(t, err)
	assert.Equal(t, []string{"v1", "v3"}, got)

	failing := StreamReaderWithConvert(StreamReaderFromArray([]int{1}), func(int) (int, error) {
		return 0, errors.New("bad chunk")
	})
	_, err = failing.Recv()
	assert.EqualError(t, err, "bad chunk")
}

func TestCopy(t *testing.T) {
	t.Run("数组流复制", func(t *testing.T) {
		srs := StreamReaderFromArray([]string{"a", "b"}).Copy(3)
		require.Len(t, srs, 3)
		for _, sr := range srs {
			got, err := ReadAll(sr)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, got)
		}
	})

	t.Run("通道流复制后并发读取", func(t *testing.T) {
		sr, sw := Pipe[int](0)
		go func() {
			defer sw.Close()
			for i := 0; i < 50; i++ {
				sw.Send(i, nil)
			}
		}()

		srs := sr.Copy(2)
		results := make([][]int, 2)
		var wg sync.WaitGroup
		for i := range srs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i], _ = ReadAll(srs[i])
			}(i)
		}
		wg.Wait()

		assert.Len(t, results[0], 50)
		assert.Equal(t, results[0], results[1])
	})

	t.Run("子流关闭后再读返回错误", func(t *testing.T) {
		sr, sw := Pipe[int](1)
		sw.Send(1, nil)
		sw.Close()

		srs := sr.Copy(2)
		srs[0].Close()
		_, err := srs[0].Recv()
		assert.ErrorIs(t, err, ErrRecvAfterClosed)

		v, err := srs[1].Recv()
		require.NoError(t, err)
		assert.Equal(t, 1, v)
		srs[1].Close()
	})

	t.Run("n 小于 2 原样返回", func(t *testing.T) {
		sr := StreamReaderFromArray([]int{1})
		assert.Same(t, sr, sr.Copy(1)[0])
	})
}

func TestMergeStreamReaders(t *testing.T) {
	assert.Nil(t, MergeStreamReaders[int](nil))

	sr1, sw1 := Pipe[int](3)
	sr2 := StreamReaderFromArray([]int{10, 11})
	sr3 := StreamReaderWithConvert(StreamReaderFromArray([]int{20}), func(i int) (int, error) { return i, nil })
	go func() {
		defer sw1.Close()
		for i := 0; i < 3; i++ {
			sw1.Send(i, nil)
		}
	}()

	got, err := ReadAll(MergeStreamReaders([]*StreamReader[int]{sr1, sr2, sr3}))
	require.NoError(t, err)
	sort.Ints(got)
	assert.Equal(t, []int{0, 1, 2, 10, 11, 20}, got)

	arrOnly := MergeStreamReaders([]*StreamReader[int]{StreamReaderFromArray([]int{1}), StreamReaderFromArray([]int{2})})
	got, err = ReadAll(arrOnly)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, got)
}

func TestMergeNamedStreamReaders(t *testing.T) {
	merged := MergeNamedStreamReaders(map[string]*StreamReader[string]{
		"a": StreamReaderFromArray([]string{"x"}),
		"b": StreamReaderFromArray([]string{"y", "z"}),
	})
	defer merged.Close()

	var (
		chunks  []string
		sources []string
	)
	for {
		chunk, err := merged.Recv()
		if err == io.EOF {
			break
		}
		if name, ok := GetSourceName(err); ok {
			sources = append(sources, name)
			continue
		}
		require.NoError(t, err)
		chunks = append(chunks, chunk)
	}

	sort.Strings(chunks)
	sort.Strings(sources)
	assert.Equal(t, []string{"x", "y", "z"}, chunks)
	assert.Equal(t, []string{"a", "b"}, sources)
}

func TestConvertErrWrapper(t *testing.T) {
	boom := errors.New("boom")
	sr, sw := Pipe[int](3)
	go func() {
		defer sw.Close()
		sw.Send(1, nil)
		sw.Send(0, boom)
	}()

	wrapped := StreamReaderWithConvert(sr, func(i int) (int, error) {
		return i * 10, nil
	}, WithErrWrapper(func(err error) error {
		return fmt.Errorf("stage x: %w", err)
	}))
	defer wrapped.Close()

	v, err := wrapped.Recv()
	require.NoError(t, err)
	assert.Equal(t, 10, v)

	_, err = wrapped.Recv()
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "stage x")

	t.Run("返回 nil 时丢弃错误", func(t *testing.T) {
		sr := StreamReaderFromArray([]int{1})
		dropped := StreamReaderWithConvert(sr, func(i int) (int, error) { return i, nil },
			WithErrWrapper(func(error) error { return nil }))
		out, err := ReadAll(dropped)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, out)
	})
}
