package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Domenick1991/roombooking/config"
	"github.com/Domenick1991/roombooking/internal/bootstrap"
	"github.com/Domenick1991/roombooking/internal/cache"
	"github.com/Domenick1991/roombooking/internal/delivery"
	"github.com/Domenick1991/roombooking/internal/email"
	"github.com/Domenick1991/roombooking/internal/idgen"
	"github.com/Domenick1991/roombooking/internal/observability"
	"github.com/Domenick1991/roombooking/internal/repository"
	"github.com/Domenick1991/roombooking/internal/service/availability"
	"github.com/Domenick1991/roombooking/internal/service/booking"
	"github.com/Domenick1991/roombooking/internal/service/notification"
	"github.com/Domenick1991/roombooking/internal/service/payment"
	"github.com/Domenick1991/roombooking/internal/service/pricing"
	"github.com/Domenick1991/roombooking/internal/service/refund"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
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

	gw, err := bootstrap.NewGateway(cfg.Payment)
	if err != nil {
		logger.Fatalf("payment gateway: %v", err)
	}
	ids, err := idgen.NewSnowflake(cfg.Payment.SnowflakeNode)
	if err != nil {
		logger.Fatalf("id generator: %v", err)
	}

	mailer, err := email.NewChannel(cfg.Notification, logger)
	if err != nil {
		logger.Fatalf("email channel: %v", err)
	}

	locker := bootstrap.NewLocker(cfg.Booking, redisCache)
	roomRepo := repository.NewRoomRepository(pool)
	bookingRepo := repository.NewBookingRepository(pool)
	paymentRepo := repository.NewPaymentRepository(pool)

	checker := availability.NewChecker(bookingRepo)
	engine := pricing.NewEngine(cfg.Pricing, bootstrap.NewOracle(cfg, redisCache, logger), repository.NewPricingRuleRepository(pool), logger)
	bookingService := booking.NewBookingService(bookingRepo, roomRepo, checker, engine, locker, producer, cfg.Booking, cfg.Messaging, logger)

	payments := payment.NewWorker(bookingRepo, paymentRepo, gw, locker, producer, ids, cfg.Payment, cfg.Booking, cfg.Messaging, logger)
	refunds := refund.NewWorker(bookingRepo, paymentRepo, gw, locker, producer, ids, cfg.Payment, cfg.Booking, cfg.Messaging, logger)
	dispatcher := notification.NewDispatcher(
		bookingRepo,
		repository.NewNotificationRepository(pool),
		mailer,
		ids,
		cfg.Notification,
		logger,
	)

	handlers := map[string]delivery.Handler{
		cfg.Messaging.PaymentRequestTopic: payments.Handle,
		cfg.Messaging.RefundRequestTopic:  refunds.Handle,
		cfg.Messaging.BookingEventsTopic:  dispatcher.Handle,
	}

	g, gctx := errgroup.WithContext(ctx)

	for topic, handler := range handlers {
		for i := 0; i < max(cfg.Worker.Concurrency, 1); i++ {
			consumer := bootstrap.NewConsumer(cfg, topic, fmt.Sprintf("%s-%d", topic, i), logger)
			g.Go(func() error {
				defer consumer.Close()
				logger.WithField("topic", topic).Info("consumer started")
				if err := consumer.Consume(gctx, handler); err != nil {
					return fmt.Errorf("consume %s: %w", topic, err)
				}
				return nil
			})
		}
	}

	g.Go(func() error {
		every(gctx, cfg.Worker.ExpirationSweep, func(ctx context.Context) {
			if _, err := bookingService.ExpirePendingBookings(ctx); err != nil {
				logger.WithError(err).Error("expire bookings failed")
			}
		})
		return nil
	})

	g.Go(func() error {
		every(gctx, cfg.Worker.ReminderSweep, func(ctx context.Context) {
			if _, err := bookingService.SendReminders(ctx); err != nil {
				logger.WithError(err).Error("send reminders failed")
			}
		})
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("worker stopped")
		os.Exit(1)
	}
	logger.Info("worker stopped")
}

// every runs fn on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
