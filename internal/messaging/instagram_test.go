package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func signBody(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	secret := "app_secret"
	body := []byte(`{"object":"instagram","entry":[]}`)

	header := http.Header{}
	header.Set(SignatureHeader, signBody(secret, body))
	require.True(t, VerifySignature(body, header, secret))

	// One altered byte must fail.
	tampered := append([]byte(nil), body...)
	tampered[0] = ' '
	require.False(t, VerifySignature(tampered, header, secret))

	header.Set(SignatureHeader, signBody("other_secret", body))
	require.False(t, VerifySignature(body, header, secret))

	header.Set(SignatureHeader, hex.EncodeToString([]byte("no prefix")))
	require.False(t, VerifySignature(body, header, secret))

	header.Del(SignatureHeader)
	require.False(t, VerifySignature(body, header, secret))
}

func TestVerifySubscription(t *testing.T) {
	q := url.Values{}
	q.Set("hub.mode", "subscribe")
	q.Set("hub.verify_token", "token123")
	q.Set("hub.challenge", "challenge-value")

	challenge, ok := VerifySubscription(q, "token123")
	require.True(t, ok)
	require.Equal(t, "challenge-value", challenge)

	_, ok = VerifySubscription(q, "other-token")
	require.False(t, ok)

	q.Set("hub.mode", "unsubscribe")
	_, ok = VerifySubscription(q, "token123")
	require.False(t, ok)
}

func dmBody(entries ...string) []byte {
	body := `{"object":"instagram","entry":[`
	for i, e := range entries {
		if i > 0 {
			body += ","
		}
		body += e
	}
	return []byte(body + `]}`)
}

func TestExtractBookingIntents(t *testing.T) {
	doctorID := uuid.New()
	startsAt := time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)
	payload := fmt.Sprintf("BOOK|%s|%s", doctorID, startsAt.Format(time.RFC3339))

	body := dmBody(fmt.Sprintf(`{
		"messaging": [
			{"sender": {"id": "sender-1"}, "message": {"mid": "m1", "quick_reply": {"payload": "%s"}}},
			{"sender": {"id": "sender-2"}, "message": {"mid": "m2", "text": "hello, do you have slots?"}}
		]
	}`, payload))

	intents, err := ExtractBookingIntents(body)
	require.NoError(t, err)
	require.Len(t, intents, 1)
	require.Equal(t, "sender-1", intents[0].SenderID)
	require.Equal(t, doctorID, intents[0].DoctorID)
	require.True(t, startsAt.Equal(intents[0].StartsAt))
}

func TestExtractBookingIntentsRejectsWrongObject(t *testing.T) {
	_, err := ExtractBookingIntents([]byte(`{"object":"page","entry":[]}`))
	require.Error(t, err)
}

func TestExtractBookingIntentsRejectsMalformedBody(t *testing.T) {
	_, err := ExtractBookingIntents([]byte(`not json`))
	require.Error(t, err)
}

func TestParseBookingPayload(t *testing.T) {
	doctorID := uuid.New()

	cases := []struct {
		payload string
		ok      bool
	}{
		{fmt.Sprintf("BOOK|%s|2026-09-14T10:00:00Z", doctorID), true},
		{fmt.Sprintf("BOOK|%s|2026-09-14T10:00:00+05:30", doctorID), true},
		{"", false},
		{"RESCHEDULE|" + doctorID.String() + "|2026-09-14T10:00:00Z", false},
		{"BOOK|not-a-uuid|2026-09-14T10:00:00Z", false},
		{fmt.Sprintf("BOOK|%s|tomorrow at ten", doctorID), false},
		{fmt.Sprintf("BOOK|%s", doctorID), false},
	}

	for _, tc := range cases {
		_, ok := parseBookingPayload(tc.payload)
		require.Equal(t, tc.ok, ok, "payload %q", tc.payload)
	}
}
