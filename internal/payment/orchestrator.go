package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/gateway"
	"github.com/clinicdesk/clinic-api/internal/notify"
)

var (
	// ErrAppointmentNotPayable means the appointment is missing its pending
	// status, so no link may be minted for it.
	ErrAppointmentNotPayable = errors.New("appointment is not payable")
)

// ResultCode classifies the outcome of one webhook delivery for the ingress
// dispatcher. Only internal failures surface as Go errors; everything here
// is an expected provider-shaped outcome.
type ResultCode string

const (
	ResultApplied         ResultCode = "applied"
	ResultDuplicate       ResultCode = "duplicate"
	ResultIgnored         ResultCode = "ignored"
	ResultUnauthorized    ResultCode = "unauthorized"
	ResultBadPayload      ResultCode = "bad_payload"
	ResultOrderNotFound   ResultCode = "order_not_found"
	ResultUnknownProvider ResultCode = "unknown_provider"
)

type ApplyResult struct {
	Code    ResultCode
	Outcome gateway.Outcome
}

// AppointmentDirectory is the read surface the orchestrator needs from the
// appointment store. Satisfied by appointment.Repository.
type AppointmentDirectory interface {
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*appointment.Doctor, error)
}

// Orchestrator routes checkout to the right gateway and applies verified
// payment events to order and appointment state exactly once.
type Orchestrator struct {
	store          Store
	appointments   AppointmentDirectory
	registry       Registry
	route          RoutingRule
	notifier       notify.Publisher
	log            *zap.Logger
	gatewayTimeout time.Duration
}

func NewOrchestrator(
	store Store,
	appointments AppointmentDirectory,
	registry Registry,
	route RoutingRule,
	notifier notify.Publisher,
	log *zap.Logger,
	gatewayTimeout time.Duration,
) *Orchestrator {
	return &Orchestrator{
		store:          store,
		appointments:   appointments,
		registry:       registry,
		route:          route,
		notifier:       notifier,
		log:            log,
		gatewayTimeout: gatewayTimeout,
	}
}

// Link is the result of minting a checkout link.
type Link struct {
	OrderID uuid.UUID
	URL     string
}

// CreatePaymentLink mints a checkout link for a pending appointment owned by
// the calling doctor. Region defaults to the doctor's country when empty.
// If the provider call fails the order stays in created with no reference
// and the whole operation is safely retryable.
func (o *Orchestrator) CreatePaymentLink(ctx context.Context, doctorID, appointmentID uuid.UUID, amountMinor int64, currency, region string) (*Link, error) {
	appt, err := o.appointments.GetAppointmentByID(ctx, appointmentID)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, appointment.ErrAppointmentNotFound
	}
	if appt.Status != appointment.StatusPending {
		return nil, ErrAppointmentNotPayable
	}

	if region == "" {
		doc, err := o.appointments.GetDoctorByID(ctx, appt.DoctorID)
		if err != nil {
			return nil, fmt.Errorf("load doctor for routing: %w", err)
		}
		region = doc.CountryCode
	}

	g, err := o.registry.Get(o.route(region))
	if err != nil {
		return nil, err
	}

	order, err := o.store.CreateOrder(ctx, NewOrder{
		AppointmentID: appointmentID,
		Gateway:       g.Name(),
		AmountMinor:   amountMinor,
		Currency:      currency,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment order: %w", err)
	}

	linkCtx, cancel := context.WithTimeout(ctx, o.gatewayTimeout)
	defer cancel()

	link, err := g.CreatePaymentLink(linkCtx, gateway.LinkRequest{
		ReferenceID: order.ID.String(),
		AmountMinor: amountMinor,
		Currency:    currency,
		Description: "Clinic appointment",
	})
	if err != nil {
		return nil, fmt.Errorf("mint payment link: %w", err)
	}

	if err := o.store.SetOrderGatewayRef(ctx, order.ID, link.GatewayOrderRef); err != nil {
		return nil, fmt.Errorf("persist gateway order ref: %w", err)
	}

	o.log.Info("payment link created",
		zap.String("order_id", order.ID.String()),
		zap.String("appointment_id", appointmentID.String()),
		zap.String("gateway", g.Name()))

	return &Link{OrderID: order.ID, URL: link.URL}, nil
}

// GetOrder returns the order only when the calling doctor owns its
// appointment; mismatch reads as not-found.
func (o *Orchestrator) GetOrder(ctx context.Context, doctorID, orderID uuid.UUID) (*Order, error) {
	order, err := o.store.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	appt, err := o.appointments.GetAppointmentByID(ctx, order.AppointmentID)
	if err != nil {
		return nil, fmt.Errorf("load order appointment: %w", err)
	}
	if appt.DoctorID != doctorID {
		return nil, ErrOrderNotFound
	}

	return order, nil
}

// ApplyPaymentEvent runs the full webhook pipeline: verify signature, parse
// the canonical event, claim the idempotency ledger, and apply order and
// appointment changes in one unit of work. A non-nil error means an internal
// failure; every expected outcome comes back in the ApplyResult.
func (o *Orchestrator) ApplyPaymentEvent(ctx context.Context, provider string, body []byte, header http.Header) (ApplyResult, error) {
	g, err := o.registry.Get(provider)
	if err != nil {
		return ApplyResult{Code: ResultUnknownProvider}, nil
	}

	ok, err := g.VerifyWebhook(ctx, body, header)
	if err != nil {
		return ApplyResult{}, fmt.Errorf("verify %s webhook: %w", provider, err)
	}
	if !ok {
		o.log.Warn("webhook signature rejected", zap.String("provider", provider))
		return ApplyResult{Code: ResultUnauthorized}, nil
	}

	ev, err := g.ParseEvent(body, header)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrUnsupportedEvent):
			return ApplyResult{Code: ResultIgnored}, nil
		case errors.Is(err, gateway.ErrMalformedEvent):
			o.log.Warn("webhook payload rejected", zap.String("provider", provider), zap.Error(err))
			return ApplyResult{Code: ResultBadPayload}, nil
		default:
			return ApplyResult{}, fmt.Errorf("parse %s webhook: %w", provider, err)
		}
	}

	var confirmed *appointment.Appointment

	applyErr := o.store.ApplyEvent(ctx, provider, ev.ProviderEventID, func(txCtx context.Context, tx TxStore) error {
		order, err := tx.GetOrderByGatewayRef(txCtx, g.Name(), ev.GatewayOrderRef)
		if err != nil {
			return err
		}

		switch ev.Outcome {
		case gateway.OutcomeSuccess:
			return o.applySuccess(txCtx, tx, order, ev, &confirmed)
		default:
			return o.applyFailure(txCtx, tx, order)
		}
	})

	switch {
	case applyErr == nil:
	case errors.Is(applyErr, ErrDuplicateEvent):
		return ApplyResult{Code: ResultDuplicate, Outcome: ev.Outcome}, nil
	case errors.Is(applyErr, ErrOrderNotFound):
		o.log.Warn("webhook for unknown order",
			zap.String("provider", provider),
			zap.String("gateway_order_ref", ev.GatewayOrderRef))
		return ApplyResult{Code: ResultOrderNotFound, Outcome: ev.Outcome}, nil
	default:
		return ApplyResult{}, fmt.Errorf("apply %s event %s: %w", provider, ev.ProviderEventID, applyErr)
	}

	if confirmed != nil {
		o.publishConfirmed(ctx, confirmed)
	}

	o.log.Info("payment event applied",
		zap.String("provider", provider),
		zap.String("event_id", ev.ProviderEventID),
		zap.String("outcome", string(ev.Outcome)))

	return ApplyResult{Code: ResultApplied, Outcome: ev.Outcome}, nil
}

func (o *Orchestrator) applySuccess(ctx context.Context, tx TxStore, order *Order, ev *gateway.CanonicalEvent, confirmed **appointment.Appointment) error {
	if order.Status == OrderPaid {
		// Already reconciled under a different event id. No-op.
		return nil
	}

	if err := tx.MarkOrderPaid(ctx, order.ID, ev.GatewayPaymentRef); err != nil {
		return err
	}

	appt, err := tx.ConfirmAppointment(ctx, order.AppointmentID)
	if err != nil {
		if !errors.Is(err, appointment.ErrAppointmentNotFound) {
			return fmt.Errorf("confirm appointment: %w", err)
		}
		// The pending guard did not match; find out where the appointment
		// went. confirmed is fine, anything else gets flagged for follow-up
		// but keeps the order paid: the money did arrive.
		current, readErr := tx.GetAppointment(ctx, order.AppointmentID)
		if readErr != nil {
			return fmt.Errorf("re-read appointment after confirm miss: %w", readErr)
		}
		if current.Status != appointment.StatusConfirmed {
			o.log.Warn("payment received for non-pending appointment",
				zap.String("appointment_id", current.ID.String()),
				zap.String("status", string(current.Status)),
				zap.String("order_id", order.ID.String()))
		}
		return nil
	}

	*confirmed = appt
	return nil
}

func (o *Orchestrator) applyFailure(ctx context.Context, tx TxStore, order *Order) error {
	if order.Status == OrderPaid {
		// A late failure never un-pays an order or regresses its
		// appointment; the latest applied success stays authoritative.
		return nil
	}
	if err := tx.MarkOrderFailed(ctx, order.ID); err != nil {
		return err
	}
	// The appointment stays pending: the doctor may re-issue a link.
	return nil
}

func (o *Orchestrator) publishConfirmed(ctx context.Context, appt *appointment.Appointment) {
	err := o.notifier.Publish(ctx, notify.EventAppointmentConfirmed, map[string]string{
		"appointment_id": appt.ID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"status":         string(appt.Status),
		"starts_at":      appt.StartsAt.Format(time.RFC3339),
	})
	if err != nil {
		o.log.Warn("confirmation event publish failed",
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
	}
}
