package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// PayPal is the international gateway. Amounts are minor units (cents).
// PayPal's scheme cannot be verified locally: authenticity is established by
// a provider-side verification call carrying the transmission headers.
type PayPal struct {
	baseURL      string
	clientID     string
	clientSecret string
	webhookID    string
	client       *http.Client
}

func NewPayPal(baseURL, clientID, clientSecret, webhookID string, client *http.Client) *PayPal {
	return &PayPal{
		baseURL:      baseURL,
		clientID:     clientID,
		clientSecret: clientSecret,
		webhookID:    webhookID,
		client:       client,
	}
}

func (g *PayPal) Name() string { return NamePayPal }

type paypalAmount struct {
	CurrencyCode string `json:"currency_code"`
	Value        string `json:"value"`
}

type paypalPurchaseUnit struct {
	ReferenceID string       `json:"reference_id"`
	Description string       `json:"description,omitempty"`
	Amount      paypalAmount `json:"amount"`
}

type paypalOrderRequest struct {
	Intent        string               `json:"intent"`
	PurchaseUnits []paypalPurchaseUnit `json:"purchase_units"`
}

type paypalOrderResponse struct {
	ID    string `json:"id"`
	Links []struct {
		Href string `json:"href"`
		Rel  string `json:"rel"`
	} `json:"links"`
}

func (g *PayPal) CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResponse, error) {
	payload, err := json.Marshal(paypalOrderRequest{
		Intent: "CAPTURE",
		PurchaseUnits: []paypalPurchaseUnit{{
			ReferenceID: req.ReferenceID,
			Description: req.Description,
			Amount: paypalAmount{
				CurrencyCode: req.Currency,
				Value:        minorToDecimal(req.AmountMinor),
			},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal checkout order request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v2/checkout/orders", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build checkout order request: %w", err)
	}
	httpReq.SetBasicAuth(g.clientID, g.clientSecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("create paypal order: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("paypal order: status %d: %s", resp.StatusCode, body)
	}

	var order paypalOrderResponse
	if err := json.NewDecoder(resp.Body).Decode(&order); err != nil {
		return nil, fmt.Errorf("decode paypal order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("paypal order response missing id")
	}

	approveURL := ""
	for _, l := range order.Links {
		if l.Rel == "approve" {
			approveURL = l.Href
			break
		}
	}
	if approveURL == "" {
		return nil, fmt.Errorf("paypal order response missing approve link")
	}

	return &LinkResponse{URL: approveURL, GatewayOrderRef: order.ID}, nil
}

type paypalVerifyRequest struct {
	AuthAlgo         string          `json:"auth_algo"`
	CertURL          string          `json:"cert_url"`
	TransmissionID   string          `json:"transmission_id"`
	TransmissionSig  string          `json:"transmission_sig"`
	TransmissionTime string          `json:"transmission_time"`
	WebhookID        string          `json:"webhook_id"`
	WebhookEvent     json.RawMessage `json:"webhook_event"`
}

type paypalVerifyResponse struct {
	VerificationStatus string `json:"verification_status"`
}

func (g *PayPal) VerifyWebhook(ctx context.Context, body []byte, header http.Header) (bool, error) {
	transmissionID := header.Get("Paypal-Transmission-Id")
	transmissionSig := header.Get("Paypal-Transmission-Sig")
	if transmissionID == "" || transmissionSig == "" {
		return false, nil
	}

	payload, err := json.Marshal(paypalVerifyRequest{
		AuthAlgo:         header.Get("Paypal-Auth-Algo"),
		CertURL:          header.Get("Paypal-Cert-Url"),
		TransmissionID:   transmissionID,
		TransmissionSig:  transmissionSig,
		TransmissionTime: header.Get("Paypal-Transmission-Time"),
		WebhookID:        g.webhookID,
		WebhookEvent:     json.RawMessage(body),
	})
	if err != nil {
		// The event is embedded verbatim; marshal only fails on invalid JSON,
		// which is a caller payload problem, not an infrastructure one.
		return false, nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/notifications/verify-webhook-signature", bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build verification request: %w", err)
	}
	httpReq.SetBasicAuth(g.clientID, g.clientSecret)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return false, fmt.Errorf("call paypal verification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("paypal verification: status %d", resp.StatusCode)
	}

	var verification paypalVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verification); err != nil {
		return false, fmt.Errorf("decode paypal verification response: %w", err)
	}

	return verification.VerificationStatus == "SUCCESS", nil
}

type paypalWebhookBody struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	Resource  struct {
		ID                string `json:"id"`
		SupplementaryData struct {
			RelatedIDs struct {
				OrderID string `json:"order_id"`
			} `json:"related_ids"`
		} `json:"supplementary_data"`
	} `json:"resource"`
}

func (g *PayPal) ParseEvent(body []byte, _ http.Header) (*CanonicalEvent, error) {
	var wb paypalWebhookBody
	if err := json.Unmarshal(body, &wb); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	if wb.ID == "" {
		return nil, fmt.Errorf("%w: missing event id", ErrMalformedEvent)
	}

	var outcome Outcome
	switch wb.EventType {
	case "PAYMENT.CAPTURE.COMPLETED":
		outcome = OutcomeSuccess
	case "PAYMENT.CAPTURE.DENIED", "PAYMENT.CAPTURE.DECLINED":
		outcome = OutcomeFailure
	case "":
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedEvent)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, wb.EventType)
	}

	orderRef := wb.Resource.SupplementaryData.RelatedIDs.OrderID
	if orderRef == "" {
		return nil, fmt.Errorf("%w: missing related order id", ErrMalformedEvent)
	}

	return &CanonicalEvent{
		ProviderEventID:   wb.ID,
		GatewayOrderRef:   orderRef,
		Outcome:           outcome,
		GatewayPaymentRef: wb.Resource.ID,
	}, nil
}

// minorToDecimal formats a minor-unit amount as the two-decimal string the
// checkout API expects.
func minorToDecimal(amount int64) string {
	return fmt.Sprintf("%d.%02d", amount/100, amount%100)
}
