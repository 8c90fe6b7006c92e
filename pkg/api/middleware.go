package api

import (
	"bytes"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	httperrors "github.com/husmancristian/TA_TESTMANAGER/errors"

	"github.com/go-chi/chi/v5/middleware"
)

// maxLoggedBody caps how much of an error response body is logged.
const maxLoggedBody = 1024

// responseWriterInterceptor captures the status code and the start of the response body.
type responseWriterInterceptor struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func newResponseWriterInterceptor(w http.ResponseWriter) *responseWriterInterceptor {
	return &responseWriterInterceptor{
		ResponseWriter: w,
		statusCode:     http.StatusOK, // Default to 200
		body:           new(bytes.Buffer),
	}
}

// WriteHeader captures the status code.
func (rwi *responseWriterInterceptor) WriteHeader(statusCode int) {
	rwi.statusCode = statusCode
	rwi.ResponseWriter.WriteHeader(statusCode)
}

// Write keeps up to maxLoggedBody bytes and calls the underlying Write.
func (rwi *responseWriterInterceptor) Write(b []byte) (int, error) {
	if room := maxLoggedBody - rwi.body.Len(); room > 0 {
		if len(b) < room {
			room = len(b)
		}
		rwi.body.Write(b[:room])
	}
	return rwi.ResponseWriter.Write(b)
}

// StructuredRequestLogger is a middleware that logs request details using slog.
// Bodies of error responses are included.
func StructuredRequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			rwi := newResponseWriterInterceptor(ww)

			t1 := time.Now()
			defer func() {
				scheme := "http"
				if r.TLS != nil {
					scheme = "https"
				}
				attrs := []slog.Attr{
					slog.String("request_id", middleware.GetReqID(r.Context())),
					slog.String("method", r.Method),
					slog.String("host", r.Host),
					slog.String("path", r.URL.Path),
					slog.String("proto", r.Proto),
					slog.String("scheme", scheme),
					slog.String("remote_addr", r.RemoteAddr),
					slog.String("user_agent", r.UserAgent()),
					slog.Int("status", rwi.statusCode),
					slog.Int("bytes_written", ww.BytesWritten()),
					slog.Duration("latency", time.Since(t1)),
				}
				if rwi.statusCode >= http.StatusBadRequest {
					attrs = append(attrs, slog.String("response_body", rwi.body.String()))
				}
				logger.LogAttrs(r.Context(), slog.LevelInfo, "http request", attrs...)
			}()

			next.ServeHTTP(rwi, r)
		})
	}
}

// TokenAuth requires "Authorization: Token <token>" on every request.
// An empty token disables the check.
func TokenAuth(token string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scheme, given, found := strings.Cut(r.Header.Get("Authorization"), " ")
			if !found || scheme != "Token" || subtle.ConstantTimeCompare([]byte(given), []byte(token)) != 1 {
				httperrors.Unauthorized(w, logger, "Missing or invalid API token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
