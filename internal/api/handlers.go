package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	redisclient "github.com/clinicdesk/clinic-api/internal/redis"
)

var validate = validator.New()

func bookAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_session", "no authenticated doctor")
			return
		}

		var req BookAppointmentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		startsAt, err := time.Parse(time.RFC3339, req.StartsAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_starts_at", "starts_at must be RFC3339")
			return
		}

		bookReq := appointment.BookRequest{
			DoctorID:     doctorID,
			PatientName:  req.PatientName,
			PatientPhone: req.PatientPhone,
			StartsAt:     startsAt,
		}
		if req.PatientID != "" {
			pid, err := uuid.Parse(req.PatientID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "invalid_patient_id", "patient_id must be a valid UUID")
				return
			}
			bookReq.PatientID = &pid
		}
		if req.Notes != "" {
			notes := req.Notes
			bookReq.Notes = &notes
		}

		appt, err := svc.Book(r.Context(), bookReq)
		if err != nil {
			handleBookingError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, toAppointmentResponse(appt))
	}
}

func listAppointmentsHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := DoctorID(r.Context())
		if !ok {
			writeError(w, http.StatusUnauthorized, "missing_session", "no authenticated doctor")
			return
		}

		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

		appts, err := svc.List(r.Context(), doctorID, limit, offset)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}

		resp := make([]AppointmentResponse, 0, len(appts))
		for i := range appts {
			resp = append(resp, toAppointmentResponse(&appts[i]))
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func getAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, apptID, ok := doctorAndAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Get(r.Context(), doctorID, apptID)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func cancelAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, apptID, ok := doctorAndAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Cancel(r.Context(), doctorID, apptID)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func completeAppointmentHandler(svc *appointment.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, apptID, ok := doctorAndAppointmentID(w, r)
		if !ok {
			return
		}

		appt, err := svc.Complete(r.Context(), doctorID, apptID)
		if err != nil {
			handleAppointmentError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(appt))
	}
}

func doctorAndAppointmentID(w http.ResponseWriter, r *http.Request) (doctorID, apptID uuid.UUID, ok bool) {
	doctorID, ok = DoctorID(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing_session", "no authenticated doctor")
		return uuid.Nil, uuid.Nil, false
	}

	apptID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, uuid.Nil, false
	}

	return doctorID, apptID, true
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:           a.ID,
		DoctorID:     a.DoctorID,
		PatientID:    a.PatientID,
		PatientName:  a.PatientName,
		PatientPhone: a.PatientPhone,
		StartsAt:     a.StartsAt,
		EndsAt:       a.EndsAt,
		Status:       string(a.Status),
		Notes:        a.Notes,
	}
}

func handleBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, appointment.ErrPastAppointment):
		writeError(w, http.StatusBadRequest, "past_appointment", err.Error())
	case errors.Is(err, appointment.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", err.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked),
		errors.Is(err, redisclient.ErrLockNotAcquired):
		writeError(w, http.StatusConflict, "slot_being_booked", "slot is currently being booked, please retry shortly")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func handleAppointmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}
