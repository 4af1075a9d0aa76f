package web

import (
	"net/http"

	"github.com/JonMunkholm/catalog/internal/core"
)

// requestInfo attaches the client's IP and User-Agent to the request
// context for audit entries. RemoteAddr has already been rewritten by
// TrustedRealIP when the peer is a trusted proxy.
func requestInfo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := core.WithRequestInfo(r.Context(), core.RequestInfo{
			IPAddress: clientIP(r),
			UserAgent: r.Header.Get("User-Agent"),
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

