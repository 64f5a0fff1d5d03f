package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/api"
	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/config"
	"github.com/clinicdesk/clinic-api/internal/db"
	"github.com/clinicdesk/clinic-api/internal/gateway"
	"github.com/clinicdesk/clinic-api/internal/logger"
	"github.com/clinicdesk/clinic-api/internal/messaging"
	"github.com/clinicdesk/clinic-api/internal/notify"
	"github.com/clinicdesk/clinic-api/internal/payment"
	redisclient "github.com/clinicdesk/clinic-api/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	zl, err := logger.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer zl.Sync()

	zl.Info("api-server starting up",
		zap.String("env", cfg.Env),
		zap.String("http_port", cfg.HTTPPort),
		zap.String("version", version))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		zl.Fatal("postgres connection error", zap.Error(err))
	}
	defer pgPool.Close()
	zl.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword, cfg.RedisPoolSize)
	if err != nil {
		zl.Fatal("redis connection error", zap.Error(err))
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			zl.Warn("error closing redis", zap.Error(err))
		}
	}()
	zl.Info("connected to Redis")

	// AMQP is optional: without it lifecycle notifications are disabled.
	var notifier notify.Publisher = notify.NopPublisher{}
	var amqpConn *amqp.Connection
	if cfg.AMQPURL != "" {
		amqpConn, err = amqp.Dial(cfg.AMQPURL)
		if err != nil {
			zl.Fatal("amqp connection error", zap.Error(err))
		}
		defer amqpConn.Close()

		notifier, err = notify.NewAMQPPublisher(amqpConn, zl)
		if err != nil {
			zl.Fatal("amqp publisher error", zap.Error(err))
		}
		zl.Info("connected to RabbitMQ")
	}

	httpClient := &http.Client{Timeout: cfg.GatewayTimeout}
	registry := payment.NewRegistry(
		gateway.NewRazorpay(cfg.Razorpay.BaseURL, cfg.Razorpay.KeyID, cfg.Razorpay.KeySecret, cfg.Razorpay.WebhookSecret, httpClient),
		gateway.NewPayPal(cfg.PayPal.BaseURL, cfg.PayPal.ClientID, cfg.PayPal.ClientSecret, cfg.PayPal.WebhookID, httpClient),
	)

	apptRepo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	apptSvc := appointment.NewService(apptRepo, locker, notifier, zl, cfg.SlotDuration)

	payStore := payment.NewPgStore(pgPool, zl)
	orch := payment.NewOrchestrator(payStore, apptRepo, registry, payment.DefaultRouting, notifier, zl, cfg.GatewayTimeout)

	msgSvc := messaging.NewService(apptSvc, apptRepo, zl)

	routerCfg := api.RouterConfig{
		Log:          zl,
		Appointments: apptSvc,
		Orchestrator: orch,
		Messaging:    msgSvc,
		PgPool:       pgPool,
		Redis:        rdb,
		AMQP:         amqpConn,
		JWTSecret:    cfg.JWTSecret,
		CORSOrigin:   cfg.CORSOrigin,
		Env:          cfg.Env,
		Version:      version,
	}
	routerCfg.Instagram.AppSecret = cfg.Instagram.AppSecret
	routerCfg.Instagram.VerifyToken = cfg.Instagram.VerifyToken

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.NewRouter(routerCfg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		zl.Info("listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zl.Fatal("http server error", zap.Error(err))
		}
	}()

	<-rootCtx.Done()

	zl.Info("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zl.Warn("http shutdown error", zap.Error(err))
	}
}
