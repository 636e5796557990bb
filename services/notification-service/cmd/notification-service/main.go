package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
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
	"github.com/docslot/docslot/services/notification-service/internal/email"
	"github.com/docslot/docslot/services/notification-service/internal/jobs"
	"github.com/docslot/docslot/services/notification-service/internal/sms"
	"github.com/docslot/docslot/services/notification-service/internal/storage"
)

type appointmentPayload struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
}

type reminderPayload struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id"`
	RemindAt      string `json:"remind_at"`
	StartTime     string `json:"start_time"`
}

// deliverer sends one message over the configured channel and records the
// outcome.
type deliverer struct {
	channel       string
	email         email.Sender
	sms           sms.Sender
	notifications *storage.Repository
	logger        *slog.Logger
	emailDomain   string
	smsPrefix     string
}

// recipient derives the delivery address from the patient id. The platform
// keeps no patient contact table; the identity provider in front of the API
// maps these mailbox and phone aliases to real addresses.
func (d *deliverer) recipient(patientID string) string {
	if d.channel == "sms" {
		return d.smsPrefix + patientID
	}
	return patientID + "@" + d.emailDomain
}

func (d *deliverer) send(ctx context.Context, n storage.Notification, subject string) error {
	var sendErr error
	switch d.channel {
	case "sms":
		sendErr = d.sms.Send(ctx, n.Recipient, n.Body)
	default:
		sendErr = d.email.Send(email.Message{To: n.Recipient, Subject: subject, Body: n.Body})
	}

	n.Status = storage.StatusSent
	if sendErr != nil {
		n.Status = storage.StatusFailed
	}
	if err := d.notifications.Insert(ctx, n); err != nil {
		d.logger.Error("failed to persist notification", "err", err)
		return err
	}
	if sendErr != nil {
		return sendErr
	}
	d.logger.Info("notification sent",
		"appointment_id", n.AppointmentID,
		"kind", n.Kind,
		"channel", n.Channel,
	)
	return nil
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8083")
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

	inbox := eventbus.NewInbox(pool)
	notificationsRepo := storage.NewRepository(pool)
	jobsRepo := jobs.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@docslot.local"),
	)
	var smsSender sms.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	d := &deliverer{
		channel:       strings.ToLower(config.String("NOTIFY_CHANNEL", "email")),
		email:         emailSender,
		sms:           smsSender,
		notifications: notificationsRepo,
		logger:        logger,
		emailDomain:   config.String("PATIENT_EMAIL_DOMAIN", "patients.docslot.local"),
		smsPrefix:     config.String("PATIENT_SMS_PREFIX", "patient:"),
	}

	worker := jobs.NewWorker(pool, jobsRepo, jobs.DispatchFunc(func(ctx context.Context, job jobs.Job) error {
		return d.send(ctx, storage.Notification{
			AppointmentID: job.AppointmentID,
			DoctorID:      job.DoctorID,
			PatientID:     job.PatientID,
			Kind:          storage.KindReminder,
			Channel:       d.channel,
			Recipient:     d.recipient(job.PatientID),
			Body:          jobs.ReminderBody(job),
		}, "Appointment reminder")
	}), logger, jobs.WorkerConfig{
		Interval:  config.Duration("REMINDER_POLL_INTERVAL", 5*time.Second),
		BatchSize: config.Int("REMINDER_BATCH_SIZE", 50),
		Backoff:   config.Duration("REMINDER_RETRY_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")
	startConsumer := func(topic string, handler eventbus.Handler) {
		if strings.TrimSpace(brokers) == "" {
			return
		}
		consumer := eventbus.NewConsumer(logger, inbox, eventbus.ConsumerConfig{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, handler)
		go consumer.Run(ctx)
	}

	startConsumer("booking.appointment.booked.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload appointmentPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" || payload.PatientID == "" {
			logger.Error("missing appointment fields", "topic", msg.Topic)
			return nil
		}
		start, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time", "err", err, "topic", msg.Topic)
			return nil
		}
		return d.send(ctx, storage.Notification{
			AppointmentID: payload.AppointmentID,
			DoctorID:      payload.DoctorID,
			PatientID:     payload.PatientID,
			Kind:          storage.KindBookingConfirmed,
			Channel:       d.channel,
			Recipient:     d.recipient(payload.PatientID),
			Body:          fmt.Sprintf("Your appointment is booked for %s.", start.UTC().Format("Mon, 02 Jan 2006 at 15:04 MST")),
		}, "Appointment booked")
	})

	startConsumer("booking.reminder.requested.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload reminderPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid reminder payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" || payload.PatientID == "" {
			logger.Error("missing reminder fields", "topic", msg.Topic)
			return nil
		}
		remindAt, err := time.Parse(time.RFC3339, payload.RemindAt)
		if err != nil {
			logger.Error("invalid remind_at", "err", err, "topic", msg.Topic)
			return nil
		}
		start, err := time.Parse(time.RFC3339, payload.StartTime)
		if err != nil {
			logger.Error("invalid start_time", "err", err, "topic", msg.Topic)
			return nil
		}
		return jobsRepo.Insert(ctx, jobs.Job{
			IdempotencyKey: payload.AppointmentID + ":" + payload.RemindAt,
			AppointmentID:  payload.AppointmentID,
			DoctorID:       payload.DoctorID,
			PatientID:      payload.PatientID,
			RemindAt:       remindAt,
			StartTime:      start,
		})
	})

	startConsumer("booking.appointment.cancelled.v1", func(ctx context.Context, msg kafka.Message) error {
		var payload appointmentPayload
		if err := json.Unmarshal(msg.Value, &payload); err != nil {
			logger.Error("invalid appointment payload", "err", err, "topic", msg.Topic)
			return nil
		}
		if payload.AppointmentID == "" || payload.PatientID == "" {
			logger.Error("missing appointment fields", "topic", msg.Topic)
			return nil
		}
		dropped, err := jobsRepo.CancelPending(ctx, payload.AppointmentID)
		if err != nil {
			return err
		}
		if dropped > 0 {
			logger.Info("pending reminders cancelled", "appointment_id", payload.AppointmentID, "count", dropped)
		}
		body := "Your appointment has been cancelled."
		if start, err := time.Parse(time.RFC3339, payload.StartTime); err == nil {
			body = fmt.Sprintf("Your appointment on %s has been cancelled.", start.UTC().Format("Mon, 02 Jan 2006 at 15:04 MST"))
		}
		return d.send(ctx, storage.Notification{
			AppointmentID: payload.AppointmentID,
			DoctorID:      payload.DoctorID,
			PatientID:     payload.PatientID,
			Kind:          storage.KindCancelled,
			Channel:       d.channel,
			Recipient:     d.recipient(payload.PatientID),
			Body:          body,
		}, "Appointment cancelled")
	})

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
