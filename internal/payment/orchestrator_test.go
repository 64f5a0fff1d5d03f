package payment

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/gateway"
	"github.com/clinicdesk/clinic-api/internal/notify"
)

// memStore keeps orders, the event ledger, and appointment state in maps so
// the orchestrator pipeline can run without Postgres.
type memStore struct {
	orders       map[uuid.UUID]*Order
	byRef        map[string]uuid.UUID
	ledger       map[string]LedgerStatus
	doctors      map[uuid.UUID]*appointment.Doctor
	appointments map[uuid.UUID]*appointment.Appointment
}

func newMemStore() *memStore {
	return &memStore{
		orders:       make(map[uuid.UUID]*Order),
		byRef:        make(map[string]uuid.UUID),
		ledger:       make(map[string]LedgerStatus),
		doctors:      make(map[uuid.UUID]*appointment.Doctor),
		appointments: make(map[uuid.UUID]*appointment.Appointment),
	}
}

func refKey(gatewayName, ref string) string { return gatewayName + "|" + ref }

func (s *memStore) CreateOrder(_ context.Context, o NewOrder) (*Order, error) {
	for _, prior := range s.orders {
		if prior.AppointmentID != o.AppointmentID {
			continue
		}
		if prior.Status == OrderPaid {
			return nil, ErrAppointmentAlreadyPaid
		}
		if prior.Status == OrderCreated {
			prior.Status = OrderExpired
		}
	}
	order := &Order{
		ID:            uuid.New(),
		AppointmentID: o.AppointmentID,
		Gateway:       o.Gateway,
		AmountMinor:   o.AmountMinor,
		Currency:      o.Currency,
		Status:        OrderCreated,
		CreatedAt:     time.Now().UTC(),
	}
	s.orders[order.ID] = order
	return order, nil
}

func (s *memStore) SetOrderGatewayRef(_ context.Context, id uuid.UUID, ref string) error {
	order, ok := s.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.GatewayOrderRef = &ref
	s.byRef[refKey(order.Gateway, ref)] = id
	return nil
}

func (s *memStore) GetOrderByID(_ context.Context, id uuid.UUID) (*Order, error) {
	order, ok := s.orders[id]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *order
	return &cp, nil
}

func (s *memStore) ApplyEvent(ctx context.Context, provider, eventID string, fn func(ctx context.Context, tx TxStore) error) error {
	key := provider + "|" + eventID
	if _, seen := s.ledger[key]; seen {
		return ErrDuplicateEvent
	}
	if err := fn(ctx, (*memTxStore)(s)); err != nil {
		s.ledger[key] = LedgerFailed
		return err
	}
	s.ledger[key] = LedgerProcessed
	return nil
}

func (s *memStore) ExpireStaleOrders(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for _, o := range s.orders {
		if o.Status == OrderCreated && o.CreatedAt.Before(cutoff) {
			o.Status = OrderExpired
			n++
		}
	}
	return n, nil
}

type memTxStore memStore

func (t *memTxStore) GetOrderByGatewayRef(_ context.Context, gatewayName, ref string) (*Order, error) {
	id, ok := t.byRef[refKey(gatewayName, ref)]
	if !ok {
		return nil, ErrOrderNotFound
	}
	cp := *t.orders[id]
	return &cp, nil
}

func (t *memTxStore) MarkOrderPaid(_ context.Context, id uuid.UUID, gatewayPaymentRef string) error {
	order, ok := t.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = OrderPaid
	order.GatewayPaymentRef = &gatewayPaymentRef
	return nil
}

func (t *memTxStore) MarkOrderFailed(_ context.Context, id uuid.UUID) error {
	order, ok := t.orders[id]
	if !ok {
		return ErrOrderNotFound
	}
	order.Status = OrderFailed
	return nil
}

func (t *memTxStore) ConfirmAppointment(_ context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, ok := t.appointments[appointmentID]
	if !ok || appt.Status != appointment.StatusPending {
		return nil, appointment.ErrAppointmentNotFound
	}
	appt.Status = appointment.StatusConfirmed
	cp := *appt
	return &cp, nil
}

func (t *memTxStore) GetAppointment(_ context.Context, appointmentID uuid.UUID) (*appointment.Appointment, error) {
	appt, ok := t.appointments[appointmentID]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

// memStore doubles as the appointment directory.
func (s *memStore) GetAppointmentByID(_ context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	appt, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrAppointmentNotFound
	}
	cp := *appt
	return &cp, nil
}

func (s *memStore) GetDoctorByID(_ context.Context, id uuid.UUID) (*appointment.Doctor, error) {
	d, ok := s.doctors[id]
	if !ok {
		return nil, appointment.ErrDoctorNotFound
	}
	return d, nil
}

type fakeGateway struct {
	name      string
	verifyOK  bool
	verifyErr error
	event     *gateway.CanonicalEvent
	parseErr  error
	link      gateway.LinkResponse
	linkErr   error
}

func (g *fakeGateway) Name() string { return g.name }

func (g *fakeGateway) CreatePaymentLink(context.Context, gateway.LinkRequest) (*gateway.LinkResponse, error) {
	if g.linkErr != nil {
		return nil, g.linkErr
	}
	cp := g.link
	return &cp, nil
}

func (g *fakeGateway) VerifyWebhook(context.Context, []byte, http.Header) (bool, error) {
	return g.verifyOK, g.verifyErr
}

func (g *fakeGateway) ParseEvent([]byte, http.Header) (*gateway.CanonicalEvent, error) {
	if g.parseErr != nil {
		return nil, g.parseErr
	}
	cp := *g.event
	return &cp, nil
}

type fixture struct {
	store    *memStore
	orch     *Orchestrator
	razorpay *fakeGateway
	paypal   *fakeGateway
	doctorID uuid.UUID
	apptID   uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	store := newMemStore()
	doctorID := uuid.New()
	store.doctors[doctorID] = &appointment.Doctor{
		ID: doctorID, Name: "Dr. Rao", CountryCode: "IN", Currency: "INR",
	}

	apptID := uuid.New()
	store.appointments[apptID] = &appointment.Appointment{
		ID:       apptID,
		DoctorID: doctorID,
		StartsAt: time.Now().UTC().Add(24 * time.Hour),
		EndsAt:   time.Now().UTC().Add(24*time.Hour + 30*time.Minute),
		Status:   appointment.StatusPending,
	}

	razorpay := &fakeGateway{
		name:     gateway.NameRazorpay,
		verifyOK: true,
		link:     gateway.LinkResponse{URL: "https://rzp.io/l/abc", GatewayOrderRef: "plink_1"},
	}
	paypal := &fakeGateway{
		name:     gateway.NamePayPal,
		verifyOK: true,
		link:     gateway.LinkResponse{URL: "https://paypal.com/checkout/xyz", GatewayOrderRef: "ORDER-1"},
	}

	orch := NewOrchestrator(
		store, store, NewRegistry(razorpay, paypal), DefaultRouting,
		notify.NopPublisher{}, zap.NewNop(), time.Second,
	)

	return &fixture{
		store: store, orch: orch,
		razorpay: razorpay, paypal: paypal,
		doctorID: doctorID, apptID: apptID,
	}
}

func (f *fixture) mintLink(t *testing.T) *Link {
	t.Helper()
	link, err := f.orch.CreatePaymentLink(context.Background(), f.doctorID, f.apptID, 50000, "INR", "")
	require.NoError(t, err)
	return link
}

func TestCreatePaymentLinkRoutesByDoctorCountry(t *testing.T) {
	f := newFixture(t)

	link := f.mintLink(t)
	require.Equal(t, "https://rzp.io/l/abc", link.URL)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, gateway.NameRazorpay, order.Gateway)
	require.Equal(t, OrderCreated, order.Status)
	require.NotNil(t, order.GatewayOrderRef)
	require.Equal(t, "plink_1", *order.GatewayOrderRef)
}

func TestCreatePaymentLinkRegionOverride(t *testing.T) {
	f := newFixture(t)

	link, err := f.orch.CreatePaymentLink(context.Background(), f.doctorID, f.apptID, 2500, "USD", "US")
	require.NoError(t, err)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, gateway.NamePayPal, order.Gateway)
}

func TestCreatePaymentLinkRejectsNonPending(t *testing.T) {
	f := newFixture(t)
	f.store.appointments[f.apptID].Status = appointment.StatusConfirmed

	_, err := f.orch.CreatePaymentLink(context.Background(), f.doctorID, f.apptID, 50000, "INR", "")
	require.ErrorIs(t, err, ErrAppointmentNotPayable)
}

func TestCreatePaymentLinkMasksOtherDoctors(t *testing.T) {
	f := newFixture(t)

	_, err := f.orch.CreatePaymentLink(context.Background(), uuid.New(), f.apptID, 50000, "INR", "")
	require.ErrorIs(t, err, appointment.ErrAppointmentNotFound)
}

func successEvent(eventID string) *gateway.CanonicalEvent {
	return &gateway.CanonicalEvent{
		ProviderEventID:   eventID,
		GatewayOrderRef:   "plink_1",
		Outcome:           gateway.OutcomeSuccess,
		GatewayPaymentRef: "pay_1",
	}
}

func TestApplySuccessConfirmsAndPays(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	f.razorpay.event = successEvent("evt_1")

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Code)
	require.Equal(t, gateway.OutcomeSuccess, res.Outcome)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderPaid, order.Status)
	require.NotNil(t, order.GatewayPaymentRef)
	require.Equal(t, "pay_1", *order.GatewayPaymentRef)

	require.Equal(t, appointment.StatusConfirmed, f.store.appointments[f.apptID].Status)
	require.Equal(t, LedgerProcessed, f.store.ledger["razorpay|evt_1"])
}

func TestRedeliveryAppliesExactlyOnce(t *testing.T) {
	f := newFixture(t)
	f.mintLink(t)

	f.razorpay.event = successEvent("evt_1")

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Code)

	// The provider redelivers the identical event; nothing changes twice.
	res, err = f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultDuplicate, res.Code)

	require.Len(t, f.store.ledger, 1)
	require.Equal(t, LedgerProcessed, f.store.ledger["razorpay|evt_1"])
}

func TestFailureKeepsAppointmentPending(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	f.razorpay.event = &gateway.CanonicalEvent{
		ProviderEventID: "evt_fail",
		GatewayOrderRef: "plink_1",
		Outcome:         gateway.OutcomeFailure,
	}

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Code)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderFailed, order.Status)

	// The slot stays held so the doctor can re-issue a link.
	require.Equal(t, appointment.StatusPending, f.store.appointments[f.apptID].Status)
}

func TestLateFailureNeverRegressesPaidOrder(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	f.razorpay.event = successEvent("evt_1")
	_, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)

	f.razorpay.event = &gateway.CanonicalEvent{
		ProviderEventID: "evt_2",
		GatewayOrderRef: "plink_1",
		Outcome:         gateway.OutcomeFailure,
	}
	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Code)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderPaid, order.Status)
	require.Equal(t, appointment.StatusConfirmed, f.store.appointments[f.apptID].Status)
}

func TestUnknownOrderRecordsFailedLedgerEntry(t *testing.T) {
	f := newFixture(t)

	f.razorpay.event = &gateway.CanonicalEvent{
		ProviderEventID: "evt_orphan",
		GatewayOrderRef: "plink_missing",
		Outcome:         gateway.OutcomeSuccess,
	}

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultOrderNotFound, res.Code)
	require.Equal(t, LedgerFailed, f.store.ledger["razorpay|evt_orphan"])
}

func TestRejectedSignatureNeverTouchesState(t *testing.T) {
	f := newFixture(t)
	f.mintLink(t)

	f.razorpay.verifyOK = false
	f.razorpay.event = successEvent("evt_1")

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultUnauthorized, res.Code)
	require.Empty(t, f.store.ledger)
	require.Equal(t, appointment.StatusPending, f.store.appointments[f.apptID].Status)
}

func TestVerificationInfrastructureFailureSurfaces(t *testing.T) {
	f := newFixture(t)

	f.paypal.verifyErr = fmt.Errorf("verification endpoint unreachable")

	_, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NamePayPal, []byte(`{}`), http.Header{})
	require.Error(t, err)
}

func TestUnknownProvider(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ApplyPaymentEvent(context.Background(), "stripe", []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultUnknownProvider, res.Code)
}

func TestUnsupportedEventIgnored(t *testing.T) {
	f := newFixture(t)

	f.razorpay.parseErr = fmt.Errorf("%w: payment_link.partially_paid", gateway.ErrUnsupportedEvent)

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultIgnored, res.Code)
	require.Empty(t, f.store.ledger)
}

func TestMalformedEventRejected(t *testing.T) {
	f := newFixture(t)

	f.razorpay.parseErr = fmt.Errorf("%w: missing event type", gateway.ErrMalformedEvent)

	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultBadPayload, res.Code)
}

func TestGetOrderMasksOtherDoctors(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	_, err := f.orch.GetOrder(context.Background(), uuid.New(), link.OrderID)
	require.ErrorIs(t, err, ErrOrderNotFound)

	order, err := f.orch.GetOrder(context.Background(), f.doctorID, link.OrderID)
	require.NoError(t, err)
	require.Equal(t, link.OrderID, order.ID)
}

func TestSecondLinkSupersedesUnpaidOrder(t *testing.T) {
	f := newFixture(t)
	first := f.mintLink(t)

	f.razorpay.link = gateway.LinkResponse{URL: "https://rzp.io/l/def", GatewayOrderRef: "plink_2"}
	second, err := f.orch.CreatePaymentLink(context.Background(), f.doctorID, f.apptID, 50000, "INR", "")
	require.NoError(t, err)
	require.NotEqual(t, first.OrderID, second.OrderID)

	// Only the newest link is live; the superseded order can no longer be
	// paid into a second charge.
	firstOrder, err := f.store.GetOrderByID(context.Background(), first.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderExpired, firstOrder.Status)

	secondOrder, err := f.store.GetOrderByID(context.Background(), second.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderCreated, secondOrder.Status)

	f.razorpay.event = &gateway.CanonicalEvent{
		ProviderEventID:   "evt_1",
		GatewayOrderRef:   "plink_2",
		Outcome:           gateway.OutcomeSuccess,
		GatewayPaymentRef: "pay_1",
	}
	res, err := f.orch.ApplyPaymentEvent(context.Background(), gateway.NameRazorpay, []byte(`{}`), http.Header{})
	require.NoError(t, err)
	require.Equal(t, ResultApplied, res.Code)
	require.Equal(t, appointment.StatusConfirmed, f.store.appointments[f.apptID].Status)
}

func TestCreatePaymentLinkRejectsWhenAlreadyPaid(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	// Payment landed but the appointment transition is still outstanding.
	require.NoError(t, (*memTxStore)(f.store).MarkOrderPaid(context.Background(), link.OrderID, "pay_1"))

	_, err := f.orch.CreatePaymentLink(context.Background(), f.doctorID, f.apptID, 50000, "INR", "")
	require.ErrorIs(t, err, ErrAppointmentAlreadyPaid)
}

func TestExpireStaleOrders(t *testing.T) {
	f := newFixture(t)
	link := f.mintLink(t)

	f.store.orders[link.OrderID].CreatedAt = time.Now().UTC().Add(-time.Hour)

	n, err := f.store.ExpireStaleOrders(context.Background(), time.Now().UTC().Add(-30*time.Minute))
	require.NoError(t, err)
	require.Equal(t, 1, n)

	order, err := f.store.GetOrderByID(context.Background(), link.OrderID)
	require.NoError(t, err)
	require.Equal(t, OrderExpired, order.Status)
}
