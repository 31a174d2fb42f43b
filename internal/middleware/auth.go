package middleware

import (
	"context"
	"encoding/json"
	"net/http"

	"care-portal/internal/auth"
	"care-portal/internal/reconcile"
	"care-portal/internal/session"
	"care-portal/internal/token"
)

// unexported, collision-proof context key
type claimsContextKeyType struct{}

var claimsKey = claimsContextKeyType{}

// ClaimsFromContext extracts the verified access-token claims from context.
func ClaimsFromContext(ctx context.Context) (*token.AccessClaims, bool) {
	c, ok := ctx.Value(claimsKey).(*token.AccessClaims)
	return c, ok
}

type AuthMiddleware struct {
	Verifier reconcile.Verifier
	MinState auth.State
}

func NewAuthMiddleware(v reconcile.Verifier, minState auth.State) *AuthMiddleware {
	return &AuthMiddleware{Verifier: v, MinState: minState}
}

// RequireAccessToken admits requests carrying a valid access token whose
// authentication state is at least MinState. The token is taken from the
// Authorization header first, then the JWT cookie.
func (a *AuthMiddleware) RequireAccessToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tok := reconcile.BearerToken(r)
		if tok == "" {
			tok = session.ReadCookie(r, session.JWTCookieName)
		}
		if tok == "" {
			writeJSONError(w, http.StatusUnauthorized, "no_session")
			return
		}

		claims, err := a.Verifier.VerifyAccessToken(tok)
		if err != nil {
			writeJSONError(w, http.StatusUnauthorized, "invalid_token")
			return
		}

		if !claims.AuthenticationState.AtLeast(a.MinState) {
			writeJSONError(w, http.StatusForbidden, "insufficient_authentication")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSONError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": code})
}
