package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
)

const doctorIDKey contextKey = "doctor_id"

// AuthMiddleware validates the Bearer token minted by the identity service
// and puts the doctor id (subject claim) on the context. Token issuance and
// revocation live with the identity provider, not here.
func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	keyFunc := func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return []byte(secret), nil
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authz := r.Header.Get("Authorization")
			tokenStr, ok := strings.CutPrefix(authz, "Bearer ")
			if !ok || tokenStr == "" {
				writeError(w, http.StatusUnauthorized, "missing_token", "Authorization bearer token required")
				return
			}

			var claims jwt.RegisteredClaims
			token, err := jwt.ParseWithClaims(tokenStr, &claims, keyFunc)
			if err != nil || !token.Valid {
				writeError(w, http.StatusUnauthorized, "invalid_token", "token is invalid or expired")
				return
			}

			doctorID, err := uuid.Parse(claims.Subject)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "invalid_token", "token subject is not a doctor id")
				return
			}

			ctx := context.WithValue(r.Context(), doctorIDKey, doctorID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DoctorID returns the authenticated doctor from the request context.
func DoctorID(ctx context.Context) (uuid.UUID, bool) {
	id, ok := ctx.Value(doctorIDKey).(uuid.UUID)
	return id, ok
}
