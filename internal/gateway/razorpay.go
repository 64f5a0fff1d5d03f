package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const (
	razorpaySignatureHeader = "X-Razorpay-Signature"
	razorpayEventIDHeader   = "X-Razorpay-Event-Id"
)

// Razorpay is the domestic gateway. Amounts are minor units (paise).
// Webhook deliveries are authenticated by an HMAC-SHA256 of the raw body.
type Razorpay struct {
	baseURL       string
	keyID         string
	keySecret     string
	webhookSecret string
	client        *http.Client
}

func NewRazorpay(baseURL, keyID, keySecret, webhookSecret string, client *http.Client) *Razorpay {
	return &Razorpay{
		baseURL:       baseURL,
		keyID:         keyID,
		keySecret:     keySecret,
		webhookSecret: webhookSecret,
		client:        client,
	}
}

func (g *Razorpay) Name() string { return NameRazorpay }

type razorpayLinkRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	ReferenceID string            `json:"reference_id"`
	Description string            `json:"description,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
}

type razorpayLinkResponse struct {
	ID       string `json:"id"`
	ShortURL string `json:"short_url"`
}

func (g *Razorpay) CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	payload, err := json.Marshal(razorpayLinkRequest{
		Amount:      req.AmountMinor,
		Currency:    req.Currency,
		ReferenceID: req.ReferenceID,
		Description: req.Description,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal payment link request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/payment_links", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build payment link request: %w", err)
	}
	httpReq.SetBasicAuth(g.keyID, g.keySecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create razorpay payment link: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("razorpay payment link: status %d: %s", resp.StatusCode, body)
	}

	var link razorpayLinkResponse
	if err := json.NewDecoder(resp.Body).Decode(&link); err != nil {
		return nil, fmt.Errorf("decode razorpay payment link response: %w", err)
	}
	if link.ID == "" || link.ShortURL == "" {
		return nil, fmt.Errorf("razorpay payment link response missing id or url")
	}

	return &LinkResponse{URL: link.ShortURL, GatewayOrderRef: link.ID}, nil
}

// VerifyWebhook checks the HMAC over the exact transmitted bytes. A single
// altered byte changes the digest, so re-serialized bodies must never reach
// this method.
func (g *Razorpay) VerifyWebhook(_ context.Context, body []byte, header http.Header) (bool, error) {
	sig := header.Get(razorpaySignatureHeader)
	if sig == "" {
		return false, nil
	}

	mac := hmac.New(sha256.New, []byte(g.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(expected), []byte(sig)), nil
}

type razorpayWebhookBody struct {
	Event   string `json:"event"`
	Payload struct {
		PaymentLink struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment_link"`
		Payment struct {
			Entity struct {
				ID string `json:"id"`
			} `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

func (g *Razorpay) ParseEvent(body []byte, header http.Header) (*CanonicalEvent, error) {
	var wb razorpayWebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	eventID := header.Get(razorpayEventIDHeader)
	if eventID == "" {
		return nil, fmt.Errorf("%w: missing %s header", ErrMalformedEvent, razorpayEventIDHeader)
	}

	var outcome Outcome
	switch wb.Event {
	case "payment_link.paid":
		outcome = OutcomeSuccess
	case "payment_link.failed", "payment_link.expired":
		outcome = OutcomeFailure
	case "":
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, wb.Event)
	}

	orderRef := wb.Payload.PaymentLink.Entity.ID
	if orderRef == "" {
		return nil, fmt.Errorf("%w: missing payment_link entity id", ErrMalformedEvent)
	}

	return &CanonicalEvent{
		ProviderEventID:   eventID,
		GatewayOrderRef:   orderRef,
		Outcome:           outcome,
		GatewayPaymentRef: wb.Payload.Payment.Entity.ID,
	}, nil
}
