package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clinicdesk/clinic-api/internal/appointment"
	"github.com/clinicdesk/clinic-api/internal/config"
	"github.com/clinicdesk/clinic-api/internal/db"
	"github.com/clinicdesk/clinic-api/internal/logger"
	"github.com/clinicdesk/clinic-api/internal/notify"
	"github.com/clinicdesk/clinic-api/internal/payment"
	redisclient "github.com/clinicdesk/clinic-api/internal/redis"
)

// The expiry worker releases pending appointments whose payment window has
// lapsed and expires the created orders that go with them, freeing the slots
// for rebooking.
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

	zl.Info("expiry-worker starting up",
		zap.String("env", cfg.Env),
		zap.Duration("interval", cfg.WorkerInterval),
		zap.Duration("payment_window", cfg.PaymentWindow))

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

	repo := appointment.NewPgRepository(pgPool)
	locker := redisclient.NewRedisDoctorLocker(rdb, cfg.LockTTL)
	svc := appointment.NewService(repo, locker, notify.NopPublisher{}, zl, cfg.SlotDuration)
	store := payment.NewPgStore(pgPool, zl)

	// Run once at startup
	runOnce(rootCtx, zl, svc, store, cfg.PaymentWindow)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			zl.Info("shutdown signal received, stopping expiry worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, zl, svc, store, cfg.PaymentWindow)
		}
	}
}

func runOnce(ctx context.Context, zl *zap.Logger, svc *appointment.Service, store payment.Store, window time.Duration) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()

	released, err := svc.ReleaseUnpaid(runCtx, window)
	if err != nil {
		zl.Error("release run error", zap.Error(err))
		return
	}

	expired, err := store.ExpireStaleOrders(runCtx, time.Now().Add(-window))
	if err != nil {
		zl.Error("order expiry run error", zap.Error(err))
		return
	}

	zl.Info("expiry run complete",
		zap.Int("appointments_released", released),
		zap.Int("orders_expired", expired),
		zap.Duration("took", time.Since(start)))
}
