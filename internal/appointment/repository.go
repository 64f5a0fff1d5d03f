package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrPatientNotFound     = errors.New("patient not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetPatientByInstagramSender(ctx context.Context, senderID string) (*Patient, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	ListAppointmentsByDoctor(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error)

	// For the double-booking check: active = status in (pending, confirmed)
	CountActiveOverlapping(ctx context.Context, doctorID uuid.UUID, start, end time.Time) (int, error)

	// Creation and updates
	CreatePendingAppointment(ctx context.Context, a NewAppointment) (*Appointment, error)
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, to Status, from ...Status) (*Appointment, error)

	// Expiry worker
	FindStalePending(ctx context.Context, cutoff time.Time) ([]Appointment, error)
}

// NewAppointment carries the fields of a booking before insertion.
type NewAppointment struct {
	DoctorID     uuid.UUID
	PatientID    *uuid.UUID
	PatientName  string
	PatientPhone string
	StartsAt     time.Time
	EndsAt       time.Time
	Notes        *string
}
