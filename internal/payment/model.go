package payment

import (
	"time"

	"github.com/google/uuid"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
	OrderFailed  OrderStatus = "failed"
	OrderExpired OrderStatus = "expired"
)

// Order is the reconciliation record for one checkout attempt. Amount and
// currency are immutable after creation; only status and the gateway payment
// reference change, and only in response to a verified event. No cardholder
// data is ever stored.
type Order struct {
	ID                uuid.UUID
	AppointmentID     uuid.UUID
	Gateway           string
	GatewayOrderRef   *string
	GatewayPaymentRef *string
	AmountMinor       int64
	Currency          string
	Status            OrderStatus
	CreatedAt         time.Time
}

type LedgerStatus string

const (
	LedgerPending   LedgerStatus = "pending"
	LedgerProcessed LedgerStatus = "processed"
	LedgerFailed    LedgerStatus = "failed"
)

// LedgerRecord marks an external event as seen. The (provider, event id)
// pair is claimed at most once; failed records are kept for manual
// reconciliation and never retried automatically.
type LedgerRecord struct {
	Provider   string
	EventID    string
	Status     LedgerStatus
	ReceivedAt time.Time
}
