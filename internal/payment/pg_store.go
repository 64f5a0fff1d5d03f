package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
)

type PgStore struct {
	pool *pgxpool.Pool
	log  *zap.Logger
}

func NewPgStore(pool *pgxpool.Pool, log *zap.Logger) *PgStore {
	return &PgStore{pool: pool, log: log}
}

const orderColumns = `id, appointment_id, gateway, gateway_order_ref, gateway_payment_ref, amount_minor, currency, status, created_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var orderRef, paymentRef *string

	err := row.Scan(
		&o.ID,
		&o.AppointmentID,
		&o.Gateway,
		&orderRef,
		&paymentRef,
		&o.AmountMinor,
		&o.Currency,
		&o.Status,
		&o.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	o.GatewayOrderRef = orderRef
	o.GatewayPaymentRef = paymentRef
	return &o, nil
}

func (s *PgStore) CreateOrder(ctx context.Context, o NewOrder) (*Order, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create-order tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var paid bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM payment_orders
			WHERE appointment_id = $1 AND status = 'paid'
		)
	`, o.AppointmentID).Scan(&paid)
	if err != nil {
		return nil, fmt.Errorf("check paid order: %w", err)
	}
	if paid {
		return nil, ErrAppointmentAlreadyPaid
	}

	// Supersede the prior link so at most one live checkout exists.
	_, err = tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'expired'
		WHERE appointment_id = $1
		  AND status = 'created'
	`, o.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("supersede created orders: %w", err)
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO payment_orders (id, appointment_id, gateway, amount_minor, currency, status, created_at)
		VALUES ($1, $2, $3, $4, $5, 'created', now())
		RETURNING `+orderColumns+`
	`, uuid.New(), o.AppointmentID, o.Gateway, o.AmountMinor, o.Currency)

	order, err := scanOrder(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, ErrActiveOrderExists
		}
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create-order tx: %w", err)
	}
	return order, nil
}

func (s *PgStore) SetOrderGatewayRef(ctx context.Context, id uuid.UUID, ref string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_orders
		SET gateway_order_ref = $2
		WHERE id = $1
		  AND gateway_order_ref IS NULL
	`, id, ref)
	if err != nil {
		return fmt.Errorf("set gateway order ref: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (s *PgStore) GetOrderByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE id = $1
	`, id)
	return scanOrder(row)
}

func (s *PgStore) ExpireStaleOrders(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'expired'
		WHERE status = 'created'
		  AND created_at < $1
	`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("expire stale orders: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ApplyEvent implements the at-most-once gate. The ledger insert rides the
// primary key: a concurrent duplicate blocks on the index until this
// transaction resolves, then sees the conflict and exits as a duplicate.
func (s *PgStore) ApplyEvent(ctx context.Context, provider, eventID string, fn func(ctx context.Context, tx TxStore) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin apply-event tx: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, status, received_at)
		VALUES ($1, $2, 'pending', now())
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("claim webhook event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDuplicateEvent
	}

	if err := fn(ctx, &pgTxStore{tx: tx}); err != nil {
		_ = tx.Rollback(ctx)
		s.recordFailedEvent(ctx, provider, eventID)
		return err
	}

	_, err = tx.Exec(ctx, `
		UPDATE webhook_events
		SET status = 'processed'
		WHERE provider = $1 AND event_id = $2
	`, provider, eventID)
	if err != nil {
		return fmt.Errorf("mark webhook event processed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit apply-event tx: %w", err)
	}
	return nil
}

// recordFailedEvent re-writes the ledger entry after a rolled-back
// application so the failure stays visible for manual reconciliation.
func (s *PgStore) recordFailedEvent(ctx context.Context, provider, eventID string) {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, status, received_at)
		VALUES ($1, $2, 'failed', now())
		ON CONFLICT (provider, event_id) DO UPDATE SET status = 'failed'
	`, provider, eventID)
	if err != nil {
		s.log.Error("failed to record failed webhook event",
			zap.String("provider", provider),
			zap.String("event_id", eventID),
			zap.Error(err))
	}
}

type pgTxStore struct {
	tx pgx.Tx
}

func (t *pgTxStore) GetOrderByGatewayRef(ctx context.Context, gatewayName, ref string) (*Order, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+orderColumns+`
		FROM payment_orders
		WHERE gateway = $1 AND gateway_order_ref = $2
		FOR UPDATE
	`, gatewayName, ref)
	return scanOrder(row)
}

func (t *pgTxStore) MarkOrderPaid(ctx context.Context, id uuid.UUID, gatewayPaymentRef string) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'paid',
		    gateway_payment_ref = $2
		WHERE id = $1
		  AND status <> 'paid'
	`, id, gatewayPaymentRef)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTxStore) MarkOrderFailed(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE payment_orders
		SET status = 'failed'
		WHERE id = $1
		  AND status <> 'paid'
	`, id)
	if err != nil {
		return fmt.Errorf("mark order failed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *pgTxStore) ConfirmAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	repo := appointment.NewPgRepository(t.tx)
	return repo.UpdateAppointmentStatus(ctx, appointmentID, appointment.StatusConfirmed, appointment.StatusPending)
}

func (t *pgTxStore) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	repo := appointment.NewPgRepository(t.tx)
	return repo.GetAppointmentByID(ctx, appointmentID)
}
