package trace

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"
)

type traceIDKey struct{}

const (
	// HeaderName 请求/响应中携带 trace ID 的 header
	HeaderName = "X-Trace-ID"
	// RequestIDHeader 兼容网关注入的 X-Request-ID
	RequestIDHeader = "X-Request-ID"
)

// GenerateTraceID 生成一个新的 trace ID
func GenerateTraceID() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// FromContext 从 context 中获取 trace_id
func FromContext(ctx context.Context) string {
	if traceID, ok := ctx.Value(traceIDKey{}).(string); ok {
		return traceID
	}
	return ""
}

// WithContext 将 trace_id 添加到 context 中
func WithContext(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey{}, traceID)
}

// FromRequest 从 HTTP header 中提取 trace_id（支持 X-Trace-ID 和 X-Request-ID），没有则生成
func FromRequest(r *http.Request) string {
	if id := r.Header.Get(HeaderName); id != "" {
		return id
	}
	if id := r.Header.Get(RequestIDHeader); id != "" {
		return id
	}
	return GenerateTraceID()
}
