// CLAUDE:SUMMARY Per-request ID middleware: injects the ID into context, headers and a scoped logger.
package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/printpipe/idgen"
	"github.com/hazyhaar/printpipe/kit"
)

var requestIDs = idgen.NanoID(8)

// RequestID assigns each request a short random ID and injects it into
// the context, the X-Request-ID response header, and a per-request
// structured logger stored under LoggerKey.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := requestIDs()

		ctx := kit.WithRequestID(r.Context(), id)
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		w.Header().Set("X-Request-ID", id)

		logger := slog.Default().With(
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		ctx = context.WithValue(ctx, LoggerKey, logger)
		logger.Info("request")

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
