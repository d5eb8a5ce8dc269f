// CLAUDE:SUMMARY Request body size limit middleware.
package shield

import "net/http"

// MaxBody returns middleware that caps the request body size. The
// conversion endpoints accept whole HTML documents and multipart
// uploads, so the limit applies to every content type. Reads past the
// limit fail and net/http replies 413.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			}
			next.ServeHTTP(w, r)
		})
	}
}
