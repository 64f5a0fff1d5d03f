package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/payment"
)

func createPaymentLinkHandler(orch *payment.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_session", "no authenticated doctor")
			return
		}

		var req CreatePaymentLinkRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		apptID, err := uuid.Parse(req.AppointmentID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_appointment_id", "appointment_id must be a valid UUID")
			return
		}

		link, err := orch.CreatePaymentLink(r.Context(), doctorID, apptID, req.AmountMinor, req.Currency, req.DoctorRegion)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, CreatePaymentLinkResponse{
			OrderID: link.OrderID,
			URL:     link.URL,
		})
	}
}

func getPaymentOrderHandler(orch *payment.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_session", "no authenticated doctor")
			return
		}

		orderID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_order_id", "id must be a valid UUID")
			return
		}

		order, err := orch.GetOrder(r.Context(), doctorID, orderID)
		if err != nil {
			handlePaymentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, PaymentOrderResponse{
			ID:                order.ID,
			AppointmentID:     order.AppointmentID,
			Gateway:           order.Gateway,
			GatewayOrderRef:   order.GatewayOrderRef,
			GatewayPaymentRef: order.GatewayPaymentRef,
			AmountMinor:       order.AmountMinor,
			Currency:          order.Currency,
			Status:            string(order.Status),
			CreatedAt:         order.CreatedAt,
		})
	}
}

func handlePaymentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, payment.ErrAppointmentNotPayable):
		writeError(w, http.StatusBadRequest, "appointment_not_payable", err.Error())
	case errors.Is(err, payment.ErrAppointmentAlreadyPaid):
		writeError(w, http.StatusConflict, "appointment_already_paid", err.Error())
	case errors.Is(err, payment.ErrActiveOrderExists):
		writeError(w, http.StatusConflict, "payment_link_in_progress", err.Error())
	case errors.Is(err, payment.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order_not_found", err.Error())
	case errors.Is(err, payment.ErrUnknownGateway):
		writeError(w, http.StatusBadRequest, "unknown_gateway", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
