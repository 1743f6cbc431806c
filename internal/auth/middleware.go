// Package auth extracts caller identity from an already-authenticated
// bearer token. Per spec §1, verifying the token (signature, issuer,
// expiry) is the edge's job; this package only decodes claims off a
// token the edge has already vetted, so handlers downstream of it can
// record who triggered a run or requested a cancel.
package auth

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"automationhub/internal/contextutil"
)

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

// Middleware decodes the Authorization bearer token's claims (without
// verifying its signature — see package doc) and stashes the resulting
// contextutil.Caller in the request context. When the header carries no
// bearer token, a ?token= query parameter is used instead (the WebSocket
// route's form). Requests with neither pass through with no caller set;
// handlers read it with contextutil.CallerFromSafe and treat a missing
// caller as anonymous.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := extractBearerToken(r.Header.Get("Authorization"))
		if token == "" {
			token = r.URL.Query().Get("token")
		}
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}

		var c claims
		if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
			next.ServeHTTP(w, r)
			return
		}

		ctx := contextutil.WithCaller(r.Context(), contextutil.Caller{
			Subject: c.Subject,
			Email:   c.Email,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return parts[1]
}
