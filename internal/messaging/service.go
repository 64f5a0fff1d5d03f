package messaging

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
)

// Booker is the slice of the appointment service the DM flow needs.
type Booker interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
}

// PatientDirectory resolves an Instagram sender to a known patient.
type PatientDirectory interface {
	GetPatientByInstagramSender(ctx context.Context, senderID string) (*appointment.Patient, error)
}

// Service turns verified DM webhook deliveries into bookings. Outcomes are
// reported back to the patient by the external bot, so every per-message
// failure here is logged and swallowed: the platform always gets a 200 once
// the delivery is authenticated, otherwise it retries the whole batch.
type Service struct {
	booker   Booker
	patients PatientDirectory
	log      *zap.Logger
}

func NewService(booker Booker, patients PatientDirectory, log *zap.Logger) *Service {
	return &Service{
		booker:   booker,
		patients: patients,
		log:      log,
	}
}

// Process books every intent in a verified webhook body.
func (s *Service) Process(ctx context.Context, body []byte) error {
	intents, err := ExtractBookingIntents(body)
	if err != nil {
		return err
	}

	for _, intent := range intents {
		s.bookOne(ctx, intent)
	}

	return nil
}

func (s *Service) bookOne(ctx context.Context, intent BookingIntent) {
	patient, err := s.patients.GetPatientByInstagramSender(ctx, intent.SenderID)
	if err != nil {
		if errors.Is(err, appointment.ErrPatientNotFound) {
			s.log.Info("dm booking from unknown sender",
				zap.String("doctor_id", intent.DoctorID.String()))
			return
		}
		s.log.Error("dm booking patient lookup failed", zap.Error(err))
		return
	}

	patientID := patient.ID
	appt, err := s.booker.Book(ctx, appointment.BookRequest{
		DoctorID:     intent.DoctorID,
		PatientID:    &patientID,
		PatientName:  patient.Name,
		PatientPhone: patient.Phone,
		StartsAt:     intent.StartsAt,
	})
	if err != nil {
		switch {
		case errors.Is(err, appointment.ErrSlotTaken),
			errors.Is(err, appointment.ErrSlotBeingBooked),
			errors.Is(err, appointment.ErrPastAppointment),
			errors.Is(err, appointment.ErrDoctorNotFound):
			s.log.Info("dm booking rejected",
				zap.String("doctor_id", intent.DoctorID.String()),
				zap.String("reason", err.Error()))
		default:
			s.log.Error("dm booking failed",
				zap.String("doctor_id", intent.DoctorID.String()),
				zap.Error(err))
		}
		return
	}

	s.log.Info("dm booking created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", appt.DoctorID.String()))
}
