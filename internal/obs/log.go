package obs

import (
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"
)

var (
	loggerOnce sync.Once
	logger     *slog.Logger
)

// Logger returns the shared structured logger used across the service.
func Logger() *slog.Logger {
	loggerOnce.Do(func() {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, nil))
	})
	return logger
}

// LogRequest emits one structured line per handled HTTP request.
func LogRequest(r *http.Request, status int, duration time.Duration) {
	Logger().LogAttrs(r.Context(), slog.LevelInfo, "http_request",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Int64("duration_ms", duration.Milliseconds()),
		slog.String("remote", r.RemoteAddr),
	)
}
