package middleware

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/vanakhel/server/internal/auth"
	"github.com/vanakhel/server/internal/model"
	"github.com/vanakhel/server/internal/session"
)

type contextKey string

const sessionKey contextKey = "session_record"

// AuthMiddleware validates the gateway access token and loads the persisted
// session record it refers to. A token whose session was deleted (logout)
// is rejected even if the JWT itself is still valid.
func AuthMiddleware(jwtService *auth.JWTService, sessions session.Repo) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				respondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				respondWithError(w, http.StatusUnauthorized, "missing token")
				return
			}

			claims, err := jwtService.VerifyToken(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			rec, err := sessions.GetByUserID(r.Context(), claims.UserID)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "session not found")
				return
			}

			ctx := context.WithValue(r.Context(), sessionKey, &rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSession returns the session record attached by AuthMiddleware.
func GetSession(ctx context.Context) (*model.SessionRecord, bool) {
	rec, ok := ctx.Value(sessionKey).(*model.SessionRecord)
	return rec, ok
}

// respondWithError sends a JSON error response
func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	response := map[string]string{"error": message}
	_ = json.NewEncoder(w).Encode(response)
}
