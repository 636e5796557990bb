package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docslot/docslot/libs/config"
	"github.com/docslot/docslot/libs/db"
	"github.com/docslot/docslot/libs/eventbus"
	"github.com/docslot/docslot/libs/httpx"
	"github.com/docslot/docslot/libs/kafkax"
	otelx "github.com/docslot/docslot/libs/otel"
	"github.com/docslot/docslot/libs/runtime"
	"github.com/docslot/docslot/services/booking-service/internal/handlers"
	"github.com/docslot/docslot/services/booking-service/internal/storage"
)

func parseReminderOffsets(raw string, logger *slog.Logger) []time.Duration {
	var offsets []time.Duration
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		mins, err := strconv.Atoi(part)
		if err != nil || mins <= 0 {
			logger.Warn("invalid reminder offset", "value", part)
			continue
		}
		offsets = append(offsets, time.Duration(mins)*time.Minute)
	}
	if len(offsets) == 0 {
		offsets = []time.Duration{24 * time.Hour}
	}
	return offsets
}

func main() {
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8081")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	repo := storage.NewAppointmentRepository(pool)
	windowRepo := storage.NewWindowRepository(pool)
	outbox := eventbus.NewOutbox(pool)
	inbox := eventbus.NewInbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	groupID := config.String("KAFKA_GROUP_ID", "booking-service")
	startConsumer := func(topic string, handler eventbus.Handler) {
		if strings.TrimSpace(brokers) == "" || strings.TrimSpace(topic) == "" {
			return
		}
		consumer := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go consumer.Run(ctx)
	}

	// Replicate the directory service's availability windows so slot
	// computation works from a local snapshot.
	startConsumer("directory.availability.window.created.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			WindowID    string `json:"window_id"`
			DoctorID    string `json:"doctor_id"`
			Weekday     int    `json:"weekday"`
			StartMinute int    `json:"start_minute"`
			EndMinute   int    `json:"end_minute"`
			SlotMinutes int    `json:"slot_minutes"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid window event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.WindowID == "" || payload.DoctorID == "" {
			logger.Error("missing required window event fields", "topic", msg.Topic)
			return nil
		}
		return windowRepo.Upsert(ctx, payload.WindowID, payload.DoctorID, payload.Weekday, payload.StartMinute, payload.EndMinute, payload.SlotMinutes)
	})
	startConsumer("directory.availability.window.deleted.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload struct {
			WindowID string `json:"window_id"`
		}
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid window event payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.WindowID == "" {
			return nil
		}
		return windowRepo.Delete(ctx, payload.WindowID)
	})

	offsets := parseReminderOffsets(config.String("REMINDER_OFFSETS_MINUTES", "1440,60"), logger)
	bookingHandler := handlers.NewBookingHandler(repo, windowRepo, outbox, logger, offsets)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	// The public endpoints are reachable straight from the app, so they get
	// their own rate limit. Redis-backed when configured, per-process otherwise.
	var publicLimit httpx.Middleware
	if redisAddr := config.String("REDIS_ADDR", ""); redisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := httpx.NewRedisRateLimiter(rdb, config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute, "booking")
		publicLimit = limiter.Middleware(logger, true)
	} else {
		limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 120), time.Minute)
		publicLimit = limiter.Middleware()
	}
	public := func(h http.HandlerFunc) http.Handler {
		return publicLimit(h)
	}

	mux.Handle("/api/v1/public/slots", public(bookingHandler.Slots))
	mux.Handle("/api/v1/public/book", public(bookingHandler.Create))
	mux.HandleFunc("/api/v1/appointments", bookingHandler.List)
	mux.HandleFunc("/api/v1/appointments/cancel", bookingHandler.Cancel)
	mux.HandleFunc("/api/v1/appointments/confirm", bookingHandler.Confirm)
	mux.HandleFunc("/api/v1/appointments/complete", bookingHandler.Complete)
	mux.HandleFunc("/api/v1/appointments/no-show", bookingHandler.NoShow)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Content-Type", "Idempotency-Key", "X-Patient-Id", "X-Doctor-Id"},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
