package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/messaging"
	"github.com/clinicdesk/clinic-api/internal/payment"
)

// Provider payloads are small; anything larger is hostile.
const maxWebhookBody = 1 << 20

// paymentWebhookHandler is the ingress dispatcher for payment providers.
// The body must reach the verifier as the exact transmitted bytes, so it is
// read raw here and never re-serialized. Duplicates answer 200 so the
// provider stops retrying.
func paymentWebhookHandler(orch *payment.Orchestrator, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		provider := chi.URLParam(r, "provider")

		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_body", "could not read request body")
			return
		}

		res, err := orch.ApplyPaymentEvent(r.Context(), provider, body, r.Header)
		if err != nil {
			log.Error("webhook processing failed",
				zap.String("provider", provider),
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			webhookResults.WithLabelValues(provider, "internal_error").Inc()
			writeError(w, http.StatusInternalServerError, "internal_error", "event processing failed")
			return
		}

		webhookResults.WithLabelValues(provider, string(res.Code)).Inc()

		switch res.Code {
		case payment.ResultApplied, payment.ResultDuplicate, payment.ResultIgnored:
			writeJSON(w, http.StatusOK, map[string]string{"status": string(res.Code)})
		case payment.ResultUnauthorized:
			writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
		case payment.ResultBadPayload:
			writeError(w, http.StatusBadRequest, "invalid_payload", "webhook payload could not be parsed")
		case payment.ResultOrderNotFound:
			writeError(w, http.StatusNotFound, "order_not_found", "no payment order for this event")
		case payment.ResultUnknownProvider:
			writeError(w, http.StatusNotFound, "unknown_provider", "no such webhook provider")
		default:
			writeError(w, http.StatusInternalServerError, "internal_error", "unexpected result")
		}
	}
}

// instagramVerifyHandler answers the platform's subscription handshake.
func instagramVerifyHandler(verifyToken string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		challenge, ok := messaging.VerifySubscription(r.URL.Query(), verifyToken)
		if !ok {
			writeError(w, http.StatusForbidden, "verification_failed", "subscription verification failed")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
	}
}

// instagramWebhookHandler authenticates DM deliveries and hands them to the
// messaging service. Once the signature checks out the platform always gets
// a 200; per-message booking failures are the bot's problem to relay.
func instagramWebhookHandler(svc *messaging.Service, appSecret string, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
		if err != nil {
			writeError(w, http.StatusBadRequest, "unreadable_body", "could not read request body")
			return
		}

		if !messaging.VerifySignature(body, r.Header, appSecret) {
			webhookResults.WithLabelValues("instagram", "unauthorized").Inc()
			writeError(w, http.StatusUnauthorized, "invalid_signature", "webhook signature verification failed")
			return
		}

		if err := svc.Process(r.Context(), body); err != nil {
			log.Warn("instagram webhook rejected",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.Error(err))
			webhookResults.WithLabelValues("instagram", "bad_payload").Inc()
			writeError(w, http.StatusBadRequest, "invalid_payload", "webhook payload could not be parsed")
			return
		}

		webhookResults.WithLabelValues("instagram", "applied").Inc()
		writeJSON(w, http.StatusOK, map[string]string{"status": "received"})
	}
}
