package server

import (
	"net/http"

	"github.com/favbox/eino-chains/pipelines"
)

// statusCodeClientClosed nginx 的约定：客户端先断开。
const statusCodeClientClosed = 499

func statusOf(kind string) int {
	switch kind {
	case pipelines.KindNotFound:
		return http.StatusNotFound
	case pipelines.KindFormat, pipelines.KindKey:
		return http.StatusBadRequest
	case pipelines.KindParse:
		return http.StatusUnprocessableEntity
	case pipelines.KindTransport:
		return http.StatusBadGateway
	case pipelines.KindTimeout:
		return http.StatusGatewayTimeout
	case pipelines.KindCanceled:
		return statusCodeClientClosed
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) (*pipelines.ErrorInfo, int) {
	info := pipelines.DescribeError(err)
	return info, statusOf(info.Kind)
}
