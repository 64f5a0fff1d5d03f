package payment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-api/internal/appointment"
)

var (
	ErrOrderNotFound = errors.New("payment order not found")

	// ErrDuplicateEvent means the (provider, event id) pair was already
	// claimed. Not a failure: the provider is told 200 so it stops retrying.
	ErrDuplicateEvent = errors.New("event already processed or processing")

	// ErrAppointmentAlreadyPaid means a paid order exists for the
	// appointment; no further link may be minted for it.
	ErrAppointmentAlreadyPaid = errors.New("appointment already has a paid order")

	// ErrActiveOrderExists means a concurrent mint won the active-order
	// slot first. Retryable by the caller.
	ErrActiveOrderExists = errors.New("another payment link is being created for this appointment")
)

// NewOrder carries the immutable fields of an order before insertion.
type NewOrder struct {
	AppointmentID uuid.UUID
	Gateway       string
	AmountMinor   int64
	Currency      string
}

// TxStore is the slice of the store visible inside one webhook-application
// transaction. Everything done through it commits or rolls back as a unit.
type TxStore interface {
	// GetOrderByGatewayRef locks the order row for the rest of the
	// transaction.
	GetOrderByGatewayRef(ctx context.Context, gatewayName, ref string) (*Order, error)
	MarkOrderPaid(ctx context.Context, id uuid.UUID, gatewayPaymentRef string) error
	MarkOrderFailed(ctx context.Context, id uuid.UUID) error

	// ConfirmAppointment moves pending -> confirmed inside the transaction.
	ConfirmAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error)
}

// Store is the persistence surface of the orchestrator.
type Store interface {
	// CreateOrder inserts a created order, superseding (expiring) any prior
	// created order for the same appointment so at most one checkout link is
	// live. Returns ErrAppointmentAlreadyPaid when a paid order exists, and
	// ErrActiveOrderExists when a concurrent mint claims the slot first.
	CreateOrder(ctx context.Context, o NewOrder) (*Order, error)
	SetOrderGatewayRef(ctx context.Context, id uuid.UUID, ref string) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error)

	// ApplyEvent claims the (provider, eventID) ledger entry and runs fn in
	// the same transaction. It returns ErrDuplicateEvent without calling fn
	// when the pair was already claimed. If fn fails, every change rolls
	// back and the ledger entry is re-written as failed for audit; if fn
	// succeeds, the entry commits as processed together with fn's changes.
	ApplyEvent(ctx context.Context, provider, eventID string, fn func(ctx context.Context, tx TxStore) error) error

	// ExpireStaleOrders marks created orders older than cutoff as expired.
	ExpireStaleOrders(ctx context.Context, cutoff time.Time) (int, error)
}
