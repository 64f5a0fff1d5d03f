package api

import (
	"time"

	"github.com/google/uuid"
)

type BookAppointmentRequest struct {
	PatientID    string `json:"patient_id" validate:"omitempty,uuid"`
	PatientName  string `json:"patient_name" validate:"required,max=120"`
	PatientPhone string `json:"patient_phone" validate:"required,min=7,max=20"`
	StartsAt     string `json:"starts_at" validate:"required"`
	Notes        string `json:"notes" validate:"omitempty,max=2000"`
}

type AppointmentResponse struct {
	ID           uuid.UUID  `json:"id"`
	DoctorID     uuid.UUID  `json:"doctor_id"`
	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	PatientName  string     `json:"patient_name"`
	PatientPhone string     `json:"patient_phone"`
	StartsAt     time.Time  `json:"starts_at"`
	EndsAt       time.Time  `json:"ends_at"`
	Status       string     `json:"status"`
	Notes        *string    `json:"notes,omitempty"`
}

type CreatePaymentLinkRequest struct {
	AppointmentID string `json:"appointment_id" validate:"required,uuid"`
	AmountMinor   int64  `json:"amount_minor" validate:"required,gt=0"`
	Currency      string `json:"currency" validate:"required,len=3"`
	DoctorRegion  string `json:"doctor_region" validate:"omitempty,len=2"`
}

type CreatePaymentLinkResponse struct {
	OrderID uuid.UUID `json:"order_id"`
	URL     string    `json:"url"`
}

type PaymentOrderResponse struct {
	ID                uuid.UUID `json:"id"`
	AppointmentID     uuid.UUID `json:"appointment_id"`
	Gateway           string    `json:"gateway"`
	GatewayOrderRef   *string   `json:"gateway_order_ref,omitempty"`
	GatewayPaymentRef *string   `json:"gateway_payment_ref,omitempty"`
	AmountMinor       int64     `json:"amount_minor"`
	Currency          string    `json:"currency"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
