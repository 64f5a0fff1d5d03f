// Package messaging handles the Instagram webhook surface: authenticating
// deliveries from the platform and turning DM quick-reply payloads into
// booking attempts.
package messaging

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

const SignatureHeader = "X-Hub-Signature-256"

// VerifySignature authenticates a delivery against the app secret. The
// platform signs the exact raw bytes; the header carries
// "sha256=<hex digest>".
func VerifySignature(body []byte, header http.Header, appSecret string) bool {
	sig := header.Get(SignatureHeader)
	if !strings.HasPrefix(sig, "sha256=") {
		return false
	}

	mac := hmac.New(sha256.New, []byte(appSecret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig))
}

// VerifySubscription answers the platform's GET handshake. On success the
// caller must echo the returned challenge verbatim.
func VerifySubscription(query url.Values, verifyToken string) (string, bool) {
	if query.Get("hub.mode") != "subscribe" {
		return "", false
	}
	if query.Get("hub.verify_token") != verifyToken {
		return "", false
	}
	return query.Get("hub.challenge"), true
}

// Webhook payload shapes, trimmed to the fields this service reads.

type webhookBody struct {
	Object string `json:"object"`
	Entry  []struct {
		Messaging []messagingEvent `json:"messaging"`
	} `json:"entry"`
}

type messagingEvent struct {
	Sender struct {
		ID string `json:"id"`
	} `json:"sender"`
	Message struct {
		MID        string `json:"mid"`
		Text       string `json:"text"`
		QuickReply struct {
			Payload string `json:"payload"`
		} `json:"quick_reply"`
	} `json:"message"`
}

// BookingIntent is a structured booking request carried by a DM quick reply.
// The bot composes the payload as BOOK|<doctor id>|<RFC3339 start>.
type BookingIntent struct {
	SenderID string
	DoctorID uuid.UUID
	StartsAt time.Time
}

// ExtractBookingIntents parses a verified webhook body and returns the
// booking intents it carries. Plain-text messages and other event kinds are
// skipped; a malformed body returns an error so the dispatcher can reject.
func ExtractBookingIntents(body []byte) ([]BookingIntent, error) {
	var wb webhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("parse webhook body: %w", err)
	}
	if wb.Object != "instagram" {
		return nil, fmt.Errorf("unexpected webhook object %q", wb.Object)
	}

	var intents []BookingIntent
	for _, entry := range wb.Entry {
		for _, ev := range entry.Messaging {
			intent, ok := parseBookingPayload(ev.Message.QuickReply.Payload)
			if !ok {
				continue
			}
			intent.SenderID = ev.Sender.ID
			intents = append(intents, intent)
		}
	}

	return intents, nil
}

func parseBookingPayload(payload string) (BookingIntent, bool) {
	parts := strings.Split(payload, "|")
	if len(parts) != 3 || parts[0] != "BOOK" {
		return BookingIntent{}, false
	}

	doctorID, err := uuid.Parse(parts[1])
	if err != nil {
		return BookingIntent{}, false
	}

	startsAt, err := time.Parse(time.RFC3339, parts[2])
	if err != nil {
		return BookingIntent{}, false
	}

	return BookingIntent{DoctorID: doctorID, StartsAt: startsAt}, true
}
