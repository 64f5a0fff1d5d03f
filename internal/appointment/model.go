package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// ValidTransition reports whether the state machine allows moving an
// appointment from one status to another. pending -> confirmed happens only
// through a verified payment event; cancelled and completed are terminal.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCancelled
	case StatusConfirmed:
		return to == StatusCancelled || to == StatusCompleted
	default:
		return false
	}
}

type Doctor struct {
	ID                 uuid.UUID
	Name               string
	CountryCode        string // ISO-3166 alpha-2, drives gateway routing
	Currency           string
	InstagramAccountID *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

type Patient struct {
	ID                uuid.UUID
	Name              string
	Phone             string
	InstagramSenderID *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Appointment struct {
	ID           uuid.UUID
	DoctorID     uuid.UUID
	PatientID    *uuid.UUID
	PatientName  string
	PatientPhone string
	StartsAt     time.Time
	EndsAt       time.Time
	Status       Status
	Notes        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
