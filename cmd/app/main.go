package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/roombooking/api"
	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/auth"
	"github.com/Domenick1991/roombooking/internal/bootstrap"
	"github.com/Domenick1991/roombooking/internal/cache"
	"github.com/Domenick1991/roombooking/internal/observability"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/Domenick1991/roombooking/internal/service/availability"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/Domenick1991/roombooking/internal/service/pricing"
	"github.com/Domenick1991/roombooking/internal/service/refund"
	"github.com/Domenick1991/roombooking/internal/service/rooms"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

func main() {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}

	cfg, err := config.LoadConfig(cfgPath)
	if err != nil {
		logrus.Fatalf("load config: %v", err)
	}
	logger := observability.NewLogger(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracer, err := observability.InitTracer(ctx, cfg.Tracing)
	if err != nil {
		logger.Fatalf("init tracer: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracer(flushCtx)
	}()

	pool, err := repository.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	redisCache := cache.NewRedisCache(cfg.Redis, cfg.Booking.RoomsCacheTTL, cfg.Weather.CacheTTL)
	defer redisCache.Close()

	producer, err := bootstrap.NewProducer(cfg, logger)
	if err != nil {
		logger.Fatalf("connect broker: %v", err)
	}
	defer producer.Close()

	roomRepo := repository.NewRoomRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	checker := availability.NewChecker(bookingRepo)
	engine := pricing.NewEngine(cfg.Pricing, bootstrap.NewOracle(cfg, redisCache, logger), repository.NewPricingRuleRepository(pool), logger)

	roomService := rooms.NewRoomService(roomRepo, redisCache, checker, logger)
	bookingService := booking.NewBookingService(
		bookingRepo,
		roomRepo,
		checker,
		engine,
		bootstrap.NewLocker(cfg.Booking, redisCache),
		producer,
		cfg.Booking,
		cfg.Messaging,
		logger,
	)
	refundService := refund.NewService(paymentRepo, producer, cfg.Messaging, logger)

	if cfg.Log.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := api.NewRouter(
		cfg.HTTP,
		logger,
		auth.NewJWTManager(cfg.Auth.JWTSecret, time.Hour),
		roomService,
		bookingService,
		refundService,
	)

	probes := map[string]bootstrap.Probe{
		"postgres": pool.Ping,
		"redis":    redisCache.Ping,
	}
	if kp, ok := producer.(interface{ CheckConnection(context.Context) error }); ok {
		probes["kafka"] = kp.CheckConnection
	}

	if err := bootstrap.Run(ctx, cfg, router, probes, logger); err != nil {
		logger.Fatalf("server error: %v", err)
	}
}
