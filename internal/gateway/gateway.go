// Package gateway wraps the external payment providers behind one adapter
// interface. Adding a provider means adding one implementation here plus a
// routing entry; the orchestrator never branches on provider names.
package gateway

import (
	"context"
	"errors"
	"net/http"
)

const (
	NameRazorpay = "razorpay"
	NamePayPal   = "paypal"
)

var (
	// ErrMalformedEvent means the payload shape is not what the provider
	// documents. Expected condition, maps to a 400 at the edge.
	ErrMalformedEvent = errors.New("malformed webhook payload")

	// ErrUnsupportedEvent means a well-formed event type this service does
	// not act on (refunds, disputes). Acknowledged without side effects.
	ErrUnsupportedEvent = errors.New("unsupported webhook event type")
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// CanonicalEvent is the provider-neutral form of a payment webhook.
type CanonicalEvent struct {
	ProviderEventID   string
	GatewayOrderRef   string
	Outcome           Outcome
	GatewayPaymentRef string
}

// LinkRequest describes the payment link to mint for one order.
type LinkRequest struct {
	ReferenceID string // our PaymentOrder id, echoed back by the provider
	AmountMinor int64  // smallest currency unit
	Currency    string
	Description string
}

// LinkResponse carries the provider's checkout URL and order reference.
type LinkResponse struct {
	URL             string
	GatewayOrderRef string
}

// Gateway is the capability set every payment provider adapter implements.
type Gateway interface {
	Name() string

	// CreatePaymentLink mints a checkout link. Callers bound the context;
	// on error the order stays unreferenced and the call is retryable.
	CreatePaymentLink(ctx context.Context, req LinkRequest) (*LinkResponse, error)

	// VerifyWebhook authenticates the exact raw bytes of a delivery.
	// false means reject with 401. A non-nil error is an infrastructure
	// failure (verification endpoint unreachable), not a bad signature.
	VerifyWebhook(ctx context.Context, body []byte, header http.Header) (bool, error)

	// ParseEvent normalizes a verified payload. Returns ErrMalformedEvent
	// or ErrUnsupportedEvent for expected provider-shaped failures.
	ParseEvent(body []byte, header http.Header) (*CanonicalEvent, error)
}
