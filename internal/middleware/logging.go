package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader はリクエストIDを受け渡すヘッダー。
const RequestIDHeader = "X-Request-ID"

// maxRequestIDLength を超える、または印字可能なASCII以外を含む受信IDは採用しない。
const maxRequestIDLength = 64

// statusRecorder はhttp.ResponseWriterをラップし、最初に書き込まれたステータスコードを記録する。
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// requestLog は内側の認証ミドルウェアがアクセスログに書き足す値。
type requestLog struct {
	userID     string
	authSource string
}

var (
	requestLogContextKey = contextKey("request_log")
	requestIDContextKey  = contextKey("request_id")
)

// recordIdentity は認証済みユーザーとトークンの取得元（cookie / bearer）を記録する。
// ロギングミドルウェアを通っていないリクエストでは何もしない。
func recordIdentity(ctx context.Context, userID, source string) {
	if l, ok := ctx.Value(requestLogContextKey).(*requestLog); ok {
		l.userID = userID
		l.authSource = source
	}
}

// RequestIDFromContext はロギングミドルウェアが割り当てたリクエストIDを返す。
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(requestIDContextKey).(string)
	return id
}

// NewLoggingMiddleware はリクエストごとにJSON構造化のアクセスログを1行出力するミドルウェアを返す。
//
// 出力項目はrequest_id、method、path、status、duration_ms、
// 認証済みの場合はuser_idとauth_source。
// ステータスが5xxならERROR、4xxならWARN、それ以外はINFOで出力する。
func NewLoggingMiddleware(logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := incomingRequestID(r)
			w.Header().Set(RequestIDHeader, requestID)

			rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			entry := &requestLog{}

			ctx := context.WithValue(r.Context(), requestLogContextKey, entry)
			ctx = context.WithValue(ctx, requestIDContextKey, requestID)
			next.ServeHTTP(rec, r.WithContext(ctx))

			args := []any{
				slog.String("request_id", requestID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", rec.statusCode),
				slog.Float64("duration_ms", float64(time.Since(start).Nanoseconds())/float64(time.Millisecond)),
			}
			if entry.userID != "" {
				args = append(args,
					slog.String("user_id", entry.userID),
					slog.String("auth_source", entry.authSource),
				)
			}

			logger.Log(r.Context(), levelForStatus(rec.statusCode), "http_request", args...)
		})
	}
}

func levelForStatus(status int) slog.Level {
	switch {
	case status >= 500:
		return slog.LevelError
	case status >= 400:
		return slog.LevelWarn
	default:
		return slog.LevelInfo
	}
}

// incomingRequestID は上流のプロキシが付けたIDを引き継ぐ。無いか不正な場合は新しく採番する。
func incomingRequestID(r *http.Request) string {
	id := r.Header.Get(RequestIDHeader)
	if id == "" || len(id) > maxRequestIDLength {
		return uuid.NewString()
	}
	for i := 0; i < len(id); i++ {
		if id[i] < 0x21 || id[i] > 0x7e {
			return uuid.NewString()
		}
	}
	return id
}
