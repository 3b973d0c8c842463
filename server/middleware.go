package server

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/favbox/eino-chains/pipelines"
)

const (
	requestIDHeader = "X-Request-Id"
	ctxRequestID    = "request_id"
	ctxSubject      = "subject"
)

// RequestID 透传或生成请求 ID。
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// Recovery 捕获处理器中的 panic，记录堆栈后返回 500。
func Recovery(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if p := recover(); p != nil {
				logger.Error("panic recovered",
					zap.String("error", fmt.Sprint(p)),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString(ctxRequestID)))
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error": &pipelines.ErrorInfo{Kind: pipelines.KindPanic, Message: "internal error"},
				})
			}
		}()
		c.Next()
	}
}

// AccessLog 每个请求一条日志，5xx 为 Error 级别。
func AccessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", status),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
			zap.String("request_id", c.GetString(ctxRequestID)),
		}
		if sub := c.GetString(ctxSubject); sub != "" {
			fields = append(fields, zap.String("subject", sub))
		}
		if status >= http.StatusInternalServerError {
			logger.Error("request", fields...)
			return
		}
		logger.Info("request", fields...)
	}
}

var errMissingToken = errors.New("bearer token required")

// BearerAuth 校验 HS256 签名的 JWT，subject 存入上下文。
func BearerAuth(secret []byte) gin.HandlerFunc {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	keyFunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *gin.Context) {
		raw, err := bearerToken(c.GetHeader("Authorization"))
		if err == nil {
			var claims jwt.RegisteredClaims
			_, err = parser.ParseWithClaims(raw, &claims, keyFunc)
			if err == nil {
				c.Set(ctxSubject, claims.Subject)
				c.Next()
				return
			}
		}
		c.Header("WWW-Authenticate", `Bearer realm="chains"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": &pipelines.ErrorInfo{Kind: "unauthorized", Message: err.Error()},
		})
	}
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingToken
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", errors.New("invalid authorization header format")
	}
	return token, nil
}
