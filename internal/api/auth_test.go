package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, secret string, subject string, expiresIn time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		IssuedAt:  jwt.NewNumericDate(time.Now()),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	const secret = "test-secret"
	doctorID := uuid.New()

	var gotDoctor uuid.UUID
	var gotOK bool
	handler := AuthMiddleware(secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotDoctor, gotOK = DoctorID(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	cases := []struct {
		name       string
		authz      string
		wantStatus int
	}{
		{"valid token", "Bearer " + mintToken(t, secret, doctorID.String(), time.Hour), http.StatusNoContent},
		{"missing header", "", http.StatusUnauthorized},
		{"not bearer", "Basic abc123", http.StatusUnauthorized},
		{"wrong secret", "Bearer " + mintToken(t, "other-secret", doctorID.String(), time.Hour), http.StatusUnauthorized},
		{"expired", "Bearer " + mintToken(t, secret, doctorID.String(), -time.Hour), http.StatusUnauthorized},
		{"subject not a uuid", "Bearer " + mintToken(t, secret, "doctor-42", time.Hour), http.StatusUnauthorized},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			gotDoctor, gotOK = uuid.Nil, false

			req := httptest.NewRequest(http.MethodGet, "/appointments", nil)
			if tc.authz != "" {
				req.Header.Set("Authorization", tc.authz)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			require.Equal(t, tc.wantStatus, rec.Code)
			if tc.wantStatus == http.StatusNoContent {
				require.True(t, gotOK)
				require.Equal(t, doctorID, gotDoctor)
			} else {
				require.False(t, gotOK)
			}
		})
	}
}

func TestInstagramVerifyHandler(t *testing.T) {
	handler := instagramVerifyHandler("token123")

	req := httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=token123&hub.challenge=abc", nil)
	rec := httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "abc", rec.Body.String())

	req = httptest.NewRequest(http.MethodGet,
		"/webhooks/instagram?hub.mode=subscribe&hub.verify_token=wrong&hub.challenge=abc", nil)
	rec = httptest.NewRecorder()
	handler(rec, req)

	require.Equal(t, http.StatusForbidden, rec.Code)
}
