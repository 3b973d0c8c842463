package restclient

import (
	"bufio"
	"bytes"
	"io"

	"github.com/favbox/eino-chains/schema"
)

var (
	dataPrefix = []byte("data:")
	doneData   = []byte("[DONE]")
)

// EventReader 逐条读取 SSE 的 data 字段，遇到 [DONE] 或连接结束时返回 io.EOF。
type EventReader struct {
	op   string
	body io.ReadCloser
	r    *bufio.Reader
}

func NewEventReader(op string, body io.ReadCloser) *EventReader {
	return &EventReader{op: op, body: body, r: bufio.NewReader(body)}
}

// Next 返回下一条事件的 data，忽略注释、空行与其他字段。
func (e *EventReader) Next() ([]byte, error) {
	for {
		line, err := e.r.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 && bytes.HasPrefix(line, dataPrefix) {
			data := bytes.TrimSpace(line[len(dataPrefix):])
			if bytes.Equal(data, doneData) {
				return nil, io.EOF
			}
			if len(data) > 0 {
				return data, nil
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil, io.EOF
			}
			return nil, &schema.TransportError{Op: e.op, Err: err}
		}
	}
}

func (e *EventReader) Close() error {
	return e.body.Close()
}
