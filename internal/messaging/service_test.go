package messaging

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
)

type fakeBooker struct {
	requests []appointment.BookRequest
	err      error
}

func (b *fakeBooker) Book(_ context.Context, req appointment.BookRequest) (*appointment.Appointment, error) {
	b.requests = append(b.requests, req)
	if b.err != nil {
		return nil, b.err
	}
	return &appointment.Appointment{
		ID:       uuid.New(),
		DoctorID: req.DoctorID,
		StartsAt: req.StartsAt,
		Status:   appointment.StatusPending,
	}, nil
}

type fakePatients struct {
	bySender map[string]*appointment.Patient
}

func (p *fakePatients) GetPatientByInstagramSender(_ context.Context, senderID string) (*appointment.Patient, error) {
	patient, ok := p.bySender[senderID]
	if !ok {
		return nil, appointment.ErrPatientNotFound
	}
	return patient, nil
}

func TestProcessBooksForKnownSender(t *testing.T) {
	doctorID := uuid.New()
	patient := &appointment.Patient{ID: uuid.New(), Name: "Asha", Phone: "+911234567890"}

	booker := &fakeBooker{}
	svc := NewService(booker, &fakePatients{bySender: map[string]*appointment.Patient{"sender-1": patient}}, zap.NewNop())

	body := dmBody(fmt.Sprintf(`{
		"messaging": [{"sender": {"id": "sender-1"}, "message": {"quick_reply": {"payload": "BOOK|%s|2026-09-14T10:00:00Z"}}}]
	}`, doctorID))

	require.NoError(t, svc.Process(context.Background(), body))
	require.Len(t, booker.requests, 1)

	req := booker.requests[0]
	require.Equal(t, doctorID, req.DoctorID)
	require.NotNil(t, req.PatientID)
	require.Equal(t, patient.ID, *req.PatientID)
	require.Equal(t, "Asha", req.PatientName)
	require.True(t, req.StartsAt.Equal(time.Date(2026, 9, 14, 10, 0, 0, 0, time.UTC)))
}

func TestProcessSkipsUnknownSender(t *testing.T) {
	booker := &fakeBooker{}
	svc := NewService(booker, &fakePatients{bySender: map[string]*appointment.Patient{}}, zap.NewNop())

	body := dmBody(fmt.Sprintf(`{
		"messaging": [{"sender": {"id": "stranger"}, "message": {"quick_reply": {"payload": "BOOK|%s|2026-09-14T10:00:00Z"}}}]
	}`, uuid.New()))

	require.NoError(t, svc.Process(context.Background(), body))
	require.Empty(t, booker.requests)
}

func TestProcessSwallowsBookingRejections(t *testing.T) {
	patient := &appointment.Patient{ID: uuid.New(), Name: "Asha", Phone: "+911234567890"}
	booker := &fakeBooker{err: appointment.ErrSlotTaken}
	svc := NewService(booker, &fakePatients{bySender: map[string]*appointment.Patient{"sender-1": patient}}, zap.NewNop())

	body := dmBody(fmt.Sprintf(`{
		"messaging": [{"sender": {"id": "sender-1"}, "message": {"quick_reply": {"payload": "BOOK|%s|2026-09-14T10:00:00Z"}}}]
	}`, uuid.New()))

	// The platform still gets a 200; the bot relays the rejection.
	require.NoError(t, svc.Process(context.Background(), body))
	require.Len(t, booker.requests, 1)
}

func TestProcessRejectsMalformedBody(t *testing.T) {
	svc := NewService(&fakeBooker{}, &fakePatients{}, zap.NewNop())
	require.Error(t, svc.Process(context.Background(), []byte(`{"object":"page"}`)))
}
