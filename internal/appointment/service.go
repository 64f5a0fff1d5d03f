package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/notify"
	redisclient "github.com/clinicdesk/clinic-api/internal/redis"
)

var (
	ErrSlotTaken               = errors.New("slot no longer available")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please retry")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrPastAppointment         = errors.New("appointment time is in the past")
)

// Service owns the appointment lifecycle. Only the payment orchestrator may
// move an appointment to confirmed; every other transition goes through here.
type Service struct {
	repo         Repository
	locker       redisclient.Locker
	notifier     notify.Publisher
	log          *zap.Logger
	slotDuration time.Duration
}

func NewService(repo Repository, locker redisclient.Locker, notifier notify.Publisher, log *zap.Logger, slotDuration time.Duration) *Service {
	return &Service{
		repo:         repo,
		locker:       locker,
		notifier:     notifier,
		log:          log,
		slotDuration: slotDuration,
	}
}

// BookRequest carries a booking attempt from the dashboard or the Instagram
// flow. PatientID is set when the caller already knows the patient row.
type BookRequest struct {
	DoctorID     uuid.UUID
	PatientID    *uuid.UUID
	PatientName  string
	PatientPhone string
	StartsAt     time.Time
	Notes        *string
}

// Book reserves a pending slot for a patient. The overlap check and the
// insert run under a per-doctor distributed lock so two concurrent requests
// for the same doctor cannot both see a free interval.
func (s *Service) Book(ctx context.Context, req BookRequest) (*Appointment, error) {
	if _, err := s.repo.GetDoctorByID(ctx, req.DoctorID); err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	start := req.StartsAt.UTC()
	if start.Before(time.Now().UTC()) {
		return nil, ErrPastAppointment
	}
	end := start.Add(s.slotDuration)

	var created *Appointment

	err := s.locker.WithDoctorLock(ctx, req.DoctorID, func(lockCtx context.Context) error {
		// Inside the critical section re-check for overlapping active bookings
		n, err := s.repo.CountActiveOverlapping(lockCtx, req.DoctorID, start, end)
		if err != nil {
			return fmt.Errorf("check overlapping appointments: %w", err)
		}
		if n > 0 {
			return ErrSlotTaken
		}

		appt, err := s.repo.CreatePendingAppointment(lockCtx, NewAppointment{
			DoctorID:     req.DoctorID,
			PatientID:    req.PatientID,
			PatientName:  req.PatientName,
			PatientPhone: req.PatientPhone,
			StartsAt:     start,
			EndsAt:       end,
			Notes:        req.Notes,
		})
		if err != nil {
			return fmt.Errorf("create pending appointment: %w", err)
		}

		created = appt
		return nil
	})

	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.publish(ctx, notify.EventAppointmentBooked, created)

	return created, nil
}

// Get returns the appointment only when the doctor owns it. Ownership
// mismatch reads as not-found so unauthorized callers learn nothing.
func (s *Service) Get(ctx context.Context, doctorID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if appt.DoctorID != doctorID {
		return nil, ErrAppointmentNotFound
	}
	return appt, nil
}

func (s *Service) List(ctx context.Context, doctorID uuid.UUID, limit, offset int) ([]Appointment, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := s.repo.ListAppointmentsByDoctor(ctx, doctorID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by doctor: %w", err)
	}
	return appointments, nil
}

// Cancel is idempotent: cancelling an already-cancelled appointment succeeds
// without a second state change.
func (s *Service) Cancel(ctx context.Context, doctorID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.Get(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}

	if appt.Status == StatusCancelled {
		return appt, nil
	}
	if !ValidTransition(appt.Status, StatusCancelled) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusCancelled, StatusPending, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			// Lost a race with another transition; re-read to see where it went.
			current, readErr := s.repo.GetAppointmentByID(ctx, appt.ID)
			if readErr == nil && current.Status == StatusCancelled {
				return current, nil
			}
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("cancel appointment: %w", err)
	}

	s.publish(ctx, notify.EventAppointmentCancelled, updated)

	return updated, nil
}

// Complete marks a held appointment as done. Only confirmed appointments
// complete; everything else is an illegal transition.
func (s *Service) Complete(ctx context.Context, doctorID, id uuid.UUID) (*Appointment, error) {
	appt, err := s.Get(ctx, doctorID, id)
	if err != nil {
		return nil, err
	}

	if !ValidTransition(appt.Status, StatusCompleted) {
		return nil, ErrInvalidStatusTransition
	}

	updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusCompleted, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrInvalidStatusTransition
		}
		return nil, fmt.Errorf("complete appointment: %w", err)
	}

	return updated, nil
}

// ReleaseUnpaid cancels pending appointments whose payment window has
// elapsed, freeing their slots. Called by the expiry worker.
func (s *Service) ReleaseUnpaid(ctx context.Context, window time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-window)
	stale, err := s.repo.FindStalePending(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("find stale pending appointments: %w", err)
	}

	released := 0
	for _, appt := range stale {
		updated, err := s.repo.UpdateAppointmentStatus(ctx, appt.ID, StatusCancelled, StatusPending)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				continue // confirmed or cancelled since the read
			}
			s.log.Warn("failed to release unpaid appointment",
				zap.String("appointment_id", appt.ID.String()),
				zap.Error(err))
			continue
		}
		released++
		s.publish(ctx, notify.EventAppointmentCancelled, updated)
	}

	return released, nil
}

type eventPayload struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	Status        string `json:"status"`
	StartsAt      string `json:"starts_at"`
}

func (s *Service) publish(ctx context.Context, event string, appt *Appointment) {
	// Identifiers only; patient name and phone stay out of the event bus.
	err := s.notifier.Publish(ctx, event, eventPayload{
		AppointmentID: appt.ID.String(),
		DoctorID:      appt.DoctorID.String(),
		Status:        string(appt.Status),
		StartsAt:      appt.StartsAt.Format(time.RFC3339),
	})
	if err != nil {
		s.log.Warn("lifecycle event publish failed",
			zap.String("event", event),
			zap.String("appointment_id", appt.ID.String()),
			zap.Error(err))
	}
}
