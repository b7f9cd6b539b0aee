package ovirttest

import (
	"net/http"
	"strings"
)

// AuthMiddleware checks for a valid, unrevoked Bearer token.
func (e *Engine) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			FaultResponse(w, "Unauthorized", "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		e.mu.Lock()
		valid := len(parts) == 2 && parts[0] == "Bearer" && e.tokens[parts[1]]
		if id := r.Header.Get("Correlation-Id"); id != "" {
			e.correlation[id]++
		}
		e.mu.Unlock()
		if !valid {
			FaultResponse(w, "Unauthorized", "Invalid or missing token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}
