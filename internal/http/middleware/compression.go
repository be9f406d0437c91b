package middleware

import (
	"net/http"
	"strings"
)

// SkipCompressionForSSE routes requests around the given compression
// middleware when they target an event stream. Compressed SSE responses sit
// in the gzip buffer instead of reaching the client on each Flush, so
// streams must bypass compression entirely.
func SkipCompressionForSSE(compress func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		compressed := compress(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if wantsEventStream(r) {
				next.ServeHTTP(w, r)
				return
			}
			compressed.ServeHTTP(w, r)
		})
	}
}

func wantsEventStream(r *http.Request) bool {
	if strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		return true
	}
	// The progress stream endpoint is SSE regardless of Accept header.
	return strings.Contains(r.URL.Path, "/progress/") && strings.HasSuffix(r.URL.Path, "/events")
}
