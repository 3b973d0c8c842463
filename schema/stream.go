package schema

/*
 * stream.go - 流式数据原语
 *
 * 一个 StreamReader 只能被一个消费者读取一次；需要多个消费者时使用 Copy。
 * 读取结束返回 io.EOF；生产者在中途失败时，Recv 返回该错误，流随之终止。
 *
 * 读取器的几种形态：
 *   - stream：基于 channel，由 Pipe 创建
 *   - array：基于切片，由 StreamReaderFromArray 创建
 *   - merged：同时读取多个流（MergeStreamReaders / MergeNamedStreamReaders）
 *   - convert：读取时逐块转换（StreamReaderWithConvert）
 *   - child：Copy 出的子流，共享同一个上游
 */

import (
	"errors"
	"fmt"
	"io"
	"reflect"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/favbox/eino-chains/internal/safe"
)

// ErrNoValue 在 StreamReaderWithConvert 的转换函数中返回，表示跳过当前数据块。
// 请勿在其他场景使用。
var ErrNoValue = errors.New("no value")

// ErrRecvAfterClosed 子流关闭后又调用了 Recv，属于调用方用法错误。
var ErrRecvAfterClosed = errors.New("recv after stream closed")

// SourceEOF 命名合并流中某个源流读完时返回，其余源流仍可继续读取。
type SourceEOF struct {
	sourceName string
}

func (e *SourceEOF) Error() string {
	return fmt.Sprintf("EOF from source stream: %s", e.sourceName)
}

// GetSourceName 从 SourceEOF 中取出源流名称。
func GetSourceName(err error) (string, bool) {
	var sErr *SourceEOF
	if errors.As(err, &sErr) {
		return sErr.sourceName, true
	}
	return "", false
}

// Pipe 创建容量为 cap 的流，返回读端与写端。
//
//	sr, sw := schema.Pipe[string](3)
//	go func() {
//		defer sw.Close()
//		for _, s := range []string{"a", "b"} {
//			if closed := sw.Send(s, nil); closed {
//				return
//			}
//		}
//	}()
//	defer sr.Close()
func Pipe[T any](cap int) (*StreamReader[T], *StreamWriter[T]) {
	s := newStream[T](cap)
	return &StreamReader[T]{kind: kindStream, st: s}, &StreamWriter[T]{stm: s}
}

// StreamReaderFromArray 以流的方式读取切片。
func StreamReaderFromArray[T any](arr []T) *StreamReader[T] {
	return &StreamReader[T]{kind: kindArray, ar: &arrayReader[T]{arr: arr}}
}

// ConvertOption StreamReaderWithConvert 的可选项。
type ConvertOption func(*convertOptions)

type convertOptions struct {
	errWrapper func(error) error
}

// WithErrWrapper 包装上游返回的错误（io.EOF 除外），返回 nil 时该错误被丢弃。
func WithErrWrapper(wrapper func(error) error) ConvertOption {
	return func(o *convertOptions) {
		o.errWrapper = wrapper
	}
}

// StreamReaderWithConvert 将 T 流转换为 D 流。
// convert 返回 ErrNoValue 时跳过该数据块；返回其他错误时该错误作为一次 Recv 的结果交给消费者。
func StreamReaderWithConvert[T, D any](sr *StreamReader[T], convert func(T) (D, error),
	opts ...ConvertOption) *StreamReader[D] {
	o := &convertOptions{}
	for _, opt := range opts {
		opt(o)
	}

	return &StreamReader[D]{
		kind: kindConvert,
		cr: &convertReader[D]{
			recvAny:    func() (any, error) { return sr.Recv() },
			closeFn:    sr.Close,
			convert:    func(a any) (D, error) { return convert(a.(T)) },
			errWrapper: o.errWrapper,
		},
	}
}

// MergeStreamReaders 合并多个流，数据块按到达顺序交错输出。
func MergeStreamReaders[T any](srs []*StreamReader[T]) *StreamReader[T] {
	switch len(srs) {
	case 0:
		return nil
	case 1:
		return srs[0]
	}

	var (
		arr []T
		ss  []*stream[T]
	)
	for _, sr := range srs {
		switch sr.kind {
		case kindArray:
			arr = append(arr, sr.ar.arr[sr.ar.index:]...)
		case kindMerged:
			ss = append(ss, sr.mr.alive()...)
		default:
			ss = append(ss, sr.toStream())
		}
	}

	if len(ss) == 0 {
		return StreamReaderFromArray(arr)
	}
	if len(arr) > 0 {
		ss = append(ss, arrToStream(arr))
	}

	return &StreamReader[T]{kind: kindMerged, mr: newMergedReader(ss, nil)}
}

// MergeNamedStreamReaders 合并命名流。某个源流结束时 Recv 返回携带其名称的 SourceEOF，
// 全部结束后返回 io.EOF。
func MergeNamedStreamReaders[T any](srs map[string]*StreamReader[T]) *StreamReader[T] {
	if len(srs) == 0 {
		return nil
	}

	ss := make([]*stream[T], 0, len(srs))
	names := make([]string, 0, len(srs))
	for name, sr := range srs {
		ss = append(ss, sr.toStream())
		names = append(names, name)
	}

	return &StreamReader[T]{kind: kindMerged, mr: newMergedReader(ss, names)}
}

type readerKind uint8

const (
	kindStream readerKind = iota
	kindArray
	kindMerged
	kindConvert
	kindChild
)

// StreamReader 流的读端。读取完毕或放弃读取时必须调用 Close。
type StreamReader[T any] struct {
	kind readerKind

	st *stream[T]
	ar *arrayReader[T]
	mr *mergedReader[T]
	cr *convertReader[T]
	ch *childReader[T]
}

// StreamWriter 流的写端。
type StreamWriter[T any] struct {
	stm *stream[T]
}

// Recv 读取下一个数据块，流结束时返回 io.EOF。
func (sr *StreamReader[T]) Recv() (T, error) {
	switch sr.kind {
	case kindStream:
		return sr.st.recv()
	case kindArray:
		return sr.ar.recv()
	case kindMerged:
		return sr.mr.recv()
	case kindConvert:
		return sr.cr.recv()
	case kindChild:
		return sr.ch.recv()
	default:
		panic("unknown stream reader kind")
	}
}

// Close 关闭读端，通知生产者停止发送。只应调用一次。
func (sr *StreamReader[T]) Close() {
	switch sr.kind {
	case kindStream:
		sr.st.closeRecv()
	case kindArray:
	case kindMerged:
		sr.mr.close()
	case kindConvert:
		sr.cr.closeFn()
	case kindChild:
		sr.ch.close()
	}
}

// Copy 复制出 n 个独立读取的子流，复制后原读取器不可再用。
// 所有子流关闭后上游才会关闭。
func (sr *StreamReader[T]) Copy(n int) []*StreamReader[T] {
	if n < 2 {
		return []*StreamReader[T]{sr}
	}

	ret := make([]*StreamReader[T], n)
	if sr.kind == kindArray {
		for i := range ret {
			ret[i] = &StreamReader[T]{kind: kindArray, ar: &arrayReader[T]{arr: sr.ar.arr, index: sr.ar.index}}
		}
		return ret
	}

	p := &copyParent[T]{sr: sr, heads: make([]*copyElem[T], n)}
	tail := &copyElem[T]{}
	for i := range p.heads {
		p.heads[i] = tail
	}
	for i := range ret {
		ret[i] = &StreamReader[T]{kind: kindChild, ch: &childReader[T]{parent: p, index: i}}
	}
	return ret
}

func (sr *StreamReader[T]) toStream() *stream[T] {
	switch sr.kind {
	case kindStream:
		return sr.st
	case kindArray:
		return arrToStream(sr.ar.arr[sr.ar.index:])
	default:
		return pumpToStream[T](sr)
	}
}

// Send 发送数据块；返回 true 表示读端已关闭，生产者应停止。
func (sw *StreamWriter[T]) Send(chunk T, err error) (closed bool) {
	return sw.stm.send(chunk, err)
}

// Close 关闭写端，读端随后读到 io.EOF。
func (sw *StreamWriter[T]) Close() {
	sw.stm.closeSend()
}

// stream 单生产者单消费者的 channel 流。
type stream[T any] struct {
	items  chan streamItem[T]
	closed chan struct{}
	once   sync.Once
}

type streamItem[T any] struct {
	chunk T
	err   error
}

func newStream[T any](cap int) *stream[T] {
	return &stream[T]{
		items:  make(chan streamItem[T], cap),
		closed: make(chan struct{}),
	}
}

func (s *stream[T]) recv() (T, error) {
	item, ok := <-s.items
	if !ok {
		item.err = io.EOF
	}
	return item.chunk, item.err
}

func (s *stream[T]) send(chunk T, err error) bool {
	select {
	case <-s.closed:
		return true
	default:
	}

	select {
	case <-s.closed:
		return true
	case s.items <- streamItem[T]{chunk, err}:
		return false
	}
}

func (s *stream[T]) closeSend() {
	close(s.items)
}

func (s *stream[T]) closeRecv() {
	s.once.Do(func() { close(s.closed) })
}

type arrayReader[T any] struct {
	arr   []T
	index int
}

func (ar *arrayReader[T]) recv() (T, error) {
	if ar.index < len(ar.arr) {
		v := ar.arr[ar.index]
		ar.index++
		return v, nil
	}
	var t T
	return t, io.EOF
}

// mergedReader 用 reflect.Select 同时等待多个源流。
type mergedReader[T any] struct {
	sts   []*stream[T]
	cases []reflect.SelectCase
	// live 尚未结束的源流下标。
	live  []int
	names []string
}

func newMergedReader[T any](sts []*stream[T], names []string) *mergedReader[T] {
	cases := make([]reflect.SelectCase, len(sts))
	live := make([]int, len(sts))
	for i, st := range sts {
		cases[i] = reflect.SelectCase{Dir: reflect.SelectRecv, Chan: reflect.ValueOf(st.items)}
		live[i] = i
	}
	return &mergedReader[T]{sts: sts, cases: cases, live: live, names: names}
}

func (mr *mergedReader[T]) recv() (T, error) {
	for len(mr.live) > 0 {
		chosen, v, ok := reflect.Select(mr.cases)
		if ok {
			item := v.Interface().(streamItem[T])
			return item.chunk, item.err
		}

		// 已结束的源流置为零值 channel，reflect.Select 会忽略它
		mr.cases[chosen].Chan = reflect.Value{}
		for i, idx := range mr.live {
			if idx == chosen {
				mr.live = append(mr.live[:i], mr.live[i+1:]...)
				break
			}
		}

		if len(mr.names) > 0 {
			var t T
			return t, &SourceEOF{sourceName: mr.names[chosen]}
		}
	}

	var t T
	return t, io.EOF
}

func (mr *mergedReader[T]) alive() []*stream[T] {
	ret := make([]*stream[T], 0, len(mr.live))
	for _, idx := range mr.live {
		ret = append(ret, mr.sts[idx])
	}
	return ret
}

func (mr *mergedReader[T]) close() {
	for _, s := range mr.sts {
		s.closeRecv()
	}
}

type convertReader[T any] struct {
	recvAny    func() (any, error)
	closeFn    func()
	convert    func(any) (T, error)
	errWrapper func(error) error
}

func (cr *convertReader[T]) recv() (T, error) {
	for {
		v, err := cr.recvAny()
		if err != nil {
			if err != io.EOF && cr.errWrapper != nil {
				if err = cr.errWrapper(err); err == nil {
					continue
				}
			}
			var t T
			return t, err
		}

		out, err := cr.convert(v)
		if errors.Is(err, ErrNoValue) {
			continue
		}
		return out, err
	}
}

// copyParent 子流共享的上游。每个子流持有一个链表游标，
// 链表节点由第一个读到该位置的子流从上游填充。
type copyParent[T any] struct {
	sr      *StreamReader[T]
	heads   []*copyElem[T]
	closedN uint32
}

type copyElem[T any] struct {
	once sync.Once
	next *copyElem[T]
	item streamItem[T]
}

func (p *copyParent[T]) peek(idx int) (T, error) {
	elem := p.heads[idx]
	if elem == nil {
		var t T
		return t, ErrRecvAfterClosed
	}

	elem.once.Do(func() {
		t, err := p.sr.Recv()
		elem.item = streamItem[T]{chunk: t, err: err}
		if err != io.EOF {
			elem.next = &copyElem[T]{}
		}
	})

	if elem.item.err != io.EOF {
		p.heads[idx] = elem.next
	}
	return elem.item.chunk, elem.item.err
}

func (p *copyParent[T]) close(idx int) {
	if p.heads[idx] == nil {
		return
	}
	p.heads[idx] = nil

	if int(atomic.AddUint32(&p.closedN, 1)) == len(p.heads) {
		p.sr.Close()
	}
}

type childReader[T any] struct {
	parent *copyParent[T]
	index  int
}

func (c *childReader[T]) recv() (T, error) {
	return c.parent.peek(c.index)
}

func (c *childReader[T]) close() {
	c.parent.close(c.index)
}

// pumpToStream 启动协程把任意读取器搬运到 channel 流中，用于合并。
func pumpToStream[T any](sr *StreamReader[T]) *stream[T] {
	ret := newStream[T](5)

	go func() {
		defer func() {
			if p := recover(); p != nil {
				var t T
				_ = ret.send(t, safe.NewPanicErr(p, debug.Stack()))
			}
			ret.closeSend()
			sr.Close()
		}()

		for {
			out, err := sr.Recv()
			if err == io.EOF {
				return
			}
			if closed := ret.send(out, err); closed {
				return
			}
		}
	}()

	return ret
}

func arrToStream[T any](arr []T) *stream[T] {
	s := newStream[T](len(arr))
	for i := range arr {
		s.send(arr[i], nil)
	}
	s.closeSend()
	return s
}

// ReadAll 读完整个流并关闭它。遇到错误立即返回已读部分与该错误。
func ReadAll[T any](sr *StreamReader[T]) ([]T, error) {
	defer sr.Close()

	var out []T
	for {
		chunk, err := sr.Recv()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, err
		}
		out = append(out, chunk)
	}
}
