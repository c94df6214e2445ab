package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/54b3r/docqa-go/internal/logging"
)

// requestIDHeader carries the request id. A well-formed inbound value is
// kept so callers can correlate their own logs; it is always echoed back.
const requestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds an accepted inbound request id.
const maxRequestIDLen = 64

// accessLog collects the attributes handlers attach to the access log line
// of their request.
type accessLog struct {
	mu    sync.Mutex
	attrs []slog.Attr
}

type accessLogKey struct{}

// annotate adds attrs to the access log line of r, e.g. the top_k and
// question length of a query. Outside requestLogger it does nothing.
func annotate(r *http.Request, attrs ...slog.Attr) {
	al, ok := r.Context().Value(accessLogKey{}).(*accessLog)
	if !ok {
		return
	}
	al.mu.Lock()
	al.attrs = append(al.attrs, attrs...)
	al.mu.Unlock()
}

// requestLogger assigns every request an id, puts a logger carrying it in
// the request context, and writes one access log line when the handler
// returns. The line names the matched route pattern and any attributes the
// handler added with annotate. 5xx replies log at ERROR, 4xx at WARN.
func requestLogger(base *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get(requestIDHeader)
		if !validRequestID(reqID) {
			reqID = newRequestID()
		}
		w.Header().Set(requestIDHeader, reqID)

		log := base.With(
			slog.String("request_id", reqID),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
		)

		al := &accessLog{}
		ctx := context.WithValue(logging.WithLogger(r.Context(), log), accessLogKey{}, al)
		r = r.WithContext(ctx)

		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rw, r)

		attrs := []slog.Attr{
			// Pattern is filled in by the mux on this same request.
			slog.String("route", r.Pattern),
			slog.Int("status", rw.status),
			slog.Int("bytes", rw.written),
			slog.Duration("duration", time.Since(start)),
		}
		al.mu.Lock()
		attrs = append(attrs, al.attrs...)
		al.mu.Unlock()

		level := slog.LevelInfo
		switch {
		case rw.status >= 500:
			level = slog.LevelError
		case rw.status >= 400:
			level = slog.LevelWarn
		}
		log.LogAttrs(ctx, level, "request", attrs...)
	})
}

// responseWriter records the status code and body size a handler wrote.
type responseWriter struct {
	http.ResponseWriter
	// status is the HTTP status code sent to the client.
	status int
	// written is the number of body bytes sent.
	written int
}

// WriteHeader captures the status code before delegating to the underlying writer.
func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.written += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (rw *responseWriter) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// validRequestID accepts short ids made of letters, digits, '-', '_' and '.'.
func validRequestID(id string) bool {
	if id == "" || len(id) > maxRequestIDLen {
		return false
	}
	for _, c := range id {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '-' || c == '_' || c == '.':
		default:
			return false
		}
	}
	return true
}

// newRequestID returns 16 random hex characters.
func newRequestID() string {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "0000000000000000"
	}
	return hex.EncodeToString(b)
}
