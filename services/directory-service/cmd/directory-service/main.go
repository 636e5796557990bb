package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docslot/docslot/libs/config"
	"github.com/docslot/docslot/libs/db"
	"github.com/docslot/docslot/libs/eventbus"
	"github.com/docslot/docslot/libs/httpx"
	"github.com/docslot/docslot/libs/kafkax"
	otelx "github.com/docslot/docslot/libs/otel"
	"github.com/docslot/docslot/libs/runtime"
	"github.com/docslot/docslot/services/directory-service/internal/handlers"
	"github.com/docslot/docslot/services/directory-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "directory-service")
	port, err := config.Port("PORT", "8082")
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

	repo := storage.NewRepository(pool)
	outbox := eventbus.NewOutbox(pool)
	inbox := eventbus.NewInbox(pool)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := eventbus.NewPublisher(pool, outbox, logger, eventbus.PublisherConfig{
		Brokers:   brokers,
		PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
		BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
	})
	go publisher.Run(ctx)

	// Completed appointments gate review creation.
	if strings.TrimSpace(brokers) != "" {
		consumer := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: config.String("KAFKA_GROUP_ID", "directory-service"),
			Topic:   "booking.appointment.completed.v1",
		}, func(ctx context.Context, msg kafka.Message) error {
			var payload struct {
				AppointmentID string `json:"appointment_id"`
				DoctorID      string `json:"doctor_id"`
				PatientID     string `json:"patient_id"`
			}
			if err := json.Unmarshal(msg.Value, &payload); err != nil {
				logger.Error("invalid appointment event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if payload.AppointmentID == "" || payload.DoctorID == "" || payload.PatientID == "" {
				logger.Error("missing required appointment event fields", "topic", msg.Topic)
				return nil
			}
			return repo.RecordCompletedAppointment(ctx, payload.AppointmentID, payload.DoctorID, payload.PatientID)
		})
		go consumer.Run(ctx)
	}

	handler := handlers.NewDirectoryHandler(repo, pool, outbox, logger)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)

	limiter := httpx.NewRateLimiter(config.Int("RATE_LIMIT_PER_MINUTE", 240), time.Minute)
	publicLimit := limiter.Middleware()
	public := func(h http.HandlerFunc) http.Handler {
		return publicLimit(h)
	}

	mux.Handle("/api/v1/public/doctors", public(handler.ListDoctors))
	mux.HandleFunc("/api/v1/profile", handler.Profile)
	mux.HandleFunc("/api/v1/availability", handler.Availability)
	mux.HandleFunc("/api/v1/reviews", handler.Reviews)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST", "PUT", "DELETE"},
			AllowedHeaders: []string{"Content-Type", "X-Patient-Id", "X-Doctor-Id"},
			MaxAge:         10 * time.Minute,
		}),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "directory")
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
