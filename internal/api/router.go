package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/messaging"
	"github.com/clinicdesk/clinic-api/internal/payment"
)

type RouterConfig struct {
	Log          *zap.Logger
	Appointments *appointment.Service
	Orchestrator *payment.Orchestrator
	Messaging    *messaging.Service
	PgPool       *pgxpool.Pool
	Redis        *redis.Client
	AMQP         *amqp.Connection
	JWTSecret    string
	CORSOrigin   string
	Instagram    struct {
		AppSecret   string
		VerifyToken string
	}
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Apply middleware
	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware(cfg.Log))
	r.Use(MetricsMiddleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSOrigin},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.AMQP, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", promhttp.Handler())

	// Webhook ingress: no session auth, authenticity is signature-only.
	r.Group(func(r chi.Router) {
		r.Use(httprate.LimitByIP(300, time.Minute))
		r.Get("/webhooks/instagram", instagramVerifyHandler(cfg.Instagram.VerifyToken))
		r.Post("/webhooks/instagram", instagramWebhookHandler(cfg.Messaging, cfg.Instagram.AppSecret, cfg.Log))
		r.Post("/webhooks/{provider}", paymentWebhookHandler(cfg.Orchestrator, cfg.Log))
	})

	// Doctor-authenticated surface
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.JWTSecret))

		r.Post("/appointments", bookAppointmentHandler(cfg.Appointments))
		r.Get("/appointments", listAppointmentsHandler(cfg.Appointments))
		r.Get("/appointments/{id}", getAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/cancel", cancelAppointmentHandler(cfg.Appointments))
		r.Post("/appointments/{id}/complete", completeAppointmentHandler(cfg.Appointments))

		r.Post("/payments/create-link", createPaymentLinkHandler(cfg.Orchestrator))
		r.Get("/payments/{id}", getPaymentOrderHandler(cfg.Orchestrator))
	})

	return r
}
