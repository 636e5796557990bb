package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/docslot/docslot/libs/eventbus"
	"github.com/docslot/docslot/libs/httpx"
	"github.com/docslot/docslot/services/booking-service/internal/availability"
	"github.com/docslot/docslot/services/booking-service/internal/model"
	"github.com/docslot/docslot/services/booking-service/internal/storage"
)

const (
	TopicAppointmentBooked    = "booking.appointment.booked.v1"
	TopicAppointmentConfirmed = "booking.appointment.confirmed.v1"
	TopicAppointmentCancelled = "booking.appointment.cancelled.v1"
	TopicAppointmentCompleted = "booking.appointment.completed.v1"
	TopicAppointmentNoShow    = "booking.appointment.no_show.v1"
	TopicReminderRequested    = "booking.reminder.requested.v1"
)

// appointmentStore is the slice of the appointment repository the handlers
// use; *storage.AppointmentRepository satisfies it.
type appointmentStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	LockIdempotencyKey(ctx context.Context, tx pgx.Tx, patientID, key string) (storage.IdempotencyRecord, bool, error)
	FinalizeIdempotency(ctx context.Context, tx pgx.Tx, patientID, key, appointmentID string, statusCode int, response []byte) error
	Create(ctx context.Context, tx pgx.Tx, appt *model.Appointment) (string, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, appointmentID string) (model.Appointment, error)
	SetStatus(ctx context.Context, tx pgx.Tx, appointmentID string, status model.Status) error
	Cancel(ctx context.Context, tx pgx.Tx, appointmentID, reason string) (time.Time, error)
	ListBlockingIntervals(ctx context.Context, doctorID string, start, end time.Time) ([]model.Appointment, error)
	ListByDoctor(ctx context.Context, doctorID string, limit int) ([]model.Appointment, error)
	ListByPatient(ctx context.Context, patientID string, limit int) ([]model.Appointment, error)
}

type windowStore interface {
	ListForWeekday(ctx context.Context, doctorID string, weekday time.Weekday) ([]availability.Window, error)
}

type eventSink interface {
	Insert(ctx context.Context, tx pgx.Tx, evt eventbus.Event) error
}

type BookingHandler struct {
	repo            appointmentStore
	windows         windowStore
	outbox          eventSink
	logger          *slog.Logger
	reminderOffsets []time.Duration
	now             func() time.Time
}

func NewBookingHandler(repo appointmentStore, windows windowStore, outbox eventSink, logger *slog.Logger, reminderOffsets []time.Duration) *BookingHandler {
	return &BookingHandler{
		repo:            repo,
		windows:         windows,
		outbox:          outbox,
		logger:          logger,
		reminderOffsets: reminderOffsets,
		now:             func() time.Time { return time.Now().UTC() },
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Available bool   `json:"available"`
}

// Slots computes the bookable grid for one doctor and date: the doctor's
// recurring windows for that weekday, minus blocking appointments, minus
// slots whose start has already passed.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	dateStr := strings.TrimSpace(r.URL.Query().Get("date"))
	if doctorID == "" || dateStr == "" {
		httpx.Error(w, http.StatusBadRequest, "doctor_id and date are required")
		return
	}
	day, err := time.ParseInLocation("2006-01-02", dateStr, time.UTC)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid date, want YYYY-MM-DD")
		return
	}

	windows, err := h.windows.ListForWeekday(r.Context(), doctorID, day.Weekday())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}

	items := []slotItem{}
	if len(windows) > 0 {
		booked, err := h.repo.ListBlockingIntervals(r.Context(), doctorID, day, day.AddDate(0, 0, 1))
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to load booked slots")
			return
		}
		busy := make([]availability.Interval, 0, len(booked))
		for _, a := range booked {
			busy = append(busy, availability.Interval{Start: a.StartTime, End: a.EndTime})
		}

		for _, s := range availability.SlotsForDate(windows, day, busy, h.now()) {
			items = append(items, slotItem{
				StartTime: s.Start.Format(time.RFC3339),
				EndTime:   s.End.Format(time.RFC3339),
				Available: s.Available,
			})
		}
	}

	httpx.JSON(w, http.StatusOK, items)
}

type createBookingRequest struct {
	DoctorID  string `json:"doctor_id"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	patientID := strings.TrimSpace(r.Header.Get("X-Patient-Id"))
	if patientID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Patient-Id")
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.DoctorID = strings.TrimSpace(req.DoctorID)
	if req.DoctorID == "" {
		httpx.Error(w, http.StatusBadRequest, "doctor_id is required")
		return
	}

	startTime, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid start_time")
		return
	}
	endTime, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid end_time")
		return
	}
	startTime = startTime.UTC()
	endTime = endTime.UTC()
	if !endTime.After(startTime) {
		httpx.Error(w, http.StatusBadRequest, "end_time must be after start_time")
		return
	}

	appt := &model.Appointment{
		DoctorID:  req.DoctorID,
		PatientID: patientID,
		StartTime: startTime,
		EndTime:   endTime,
		Status:    model.StatusScheduled,
		Reason:    strings.TrimSpace(req.Reason),
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	idempotencyKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idempotencyKey != "" {
		rec, exists, err := h.repo.LockIdempotencyKey(ctx, tx, patientID, idempotencyKey)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to lock idempotency key")
			return
		}
		if exists && rec.StatusCode > 0 {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(rec.StatusCode)
			_, _ = w.Write(rec.ResponsePayload)
			return
		}
	}

	if startTime.Before(h.now()) {
		h.rejectBooking(ctx, tx, w, patientID, idempotencyKey, http.StatusUnprocessableEntity, "slot is already in the past")
		return
	}

	windows, err := h.windows.ListForWeekday(ctx, appt.DoctorID, startTime.Weekday())
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load availability")
		return
	}
	if !availability.FitsGrid(windows, startTime, endTime) {
		h.rejectBooking(ctx, tx, w, patientID, idempotencyKey, http.StatusUnprocessableEntity, "requested time is not a bookable slot")
		return
	}

	id, err := h.repo.Create(ctx, tx, appt)
	if err != nil {
		if storage.IsConflict(err) {
			// Lost the read-then-write race: another booking committed first.
			// The client should re-fetch slots and pick again.
			httpx.Error(w, http.StatusConflict, "time slot already booked")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to create appointment")
		return
	}
	appt.ID = id

	if err := h.insertAppointmentEvent(ctx, tx, TopicAppointmentBooked, appt, nil); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}
	h.enqueueReminders(ctx, tx, appt)

	respBody, err := json.Marshal(createBookingResponse{AppointmentID: id})
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to build response")
		return
	}
	if idempotencyKey != "" {
		if err := h.repo.FinalizeIdempotency(ctx, tx, patientID, idempotencyKey, id, http.StatusCreated, respBody); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to finalize idempotency key")
			return
		}
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_, _ = w.Write(respBody)
}

type cancelBookingRequest struct {
	AppointmentID string `json:"appointment_id"`
	Reason        string `json:"reason"`
}

// Cancel releases a blocking appointment. Either side can cancel: the
// patient who booked it or the doctor it is with.
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req cancelBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	req.Reason = strings.TrimSpace(req.Reason)
	if req.AppointmentID == "" {
		httpx.Error(w, http.StatusBadRequest, "appointment_id required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "appointment not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}

	patientID := strings.TrimSpace(r.Header.Get("X-Patient-Id"))
	doctorID := strings.TrimSpace(r.Header.Get("X-Doctor-Id"))
	if (patientID == "" || patientID != appt.PatientID) && (doctorID == "" || doctorID != appt.DoctorID) {
		httpx.Error(w, http.StatusForbidden, "not a party to this appointment")
		return
	}

	if appt.Status == model.StatusCancelled && appt.CancelledAt != nil {
		// Idempotent: repeating a cancel returns the original outcome.
		httpx.JSON(w, http.StatusOK, map[string]string{
			"appointment_id": appt.ID,
			"status":         string(model.StatusCancelled),
			"cancelled_at":   appt.CancelledAt.UTC().Format(time.RFC3339),
		})
		return
	}
	if !appt.Status.CanTransitionTo(model.StatusCancelled) {
		httpx.Error(w, http.StatusConflict, "appointment cannot be cancelled")
		return
	}

	cancelledAt, err := h.repo.Cancel(ctx, tx, appt.ID, req.Reason)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}

	extra := map[string]any{
		"cancelled_at": cancelledAt.UTC().Format(time.RFC3339),
		"reason":       req.Reason,
	}
	if err := h.insertAppointmentEvent(ctx, tx, TopicAppointmentCancelled, &appt, extra); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         string(model.StatusCancelled),
		"cancelled_at":   cancelledAt.UTC().Format(time.RFC3339),
	})
}

// Confirm, Complete and NoShow are the doctor-side status transitions.
func (h *BookingHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusConfirmed, TopicAppointmentConfirmed)
}

func (h *BookingHandler) Complete(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusCompleted, TopicAppointmentCompleted)
}

func (h *BookingHandler) NoShow(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, model.StatusNoShow, TopicAppointmentNoShow)
}

func (h *BookingHandler) transition(w http.ResponseWriter, r *http.Request, next model.Status, topic string) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	doctorID := strings.TrimSpace(r.Header.Get("X-Doctor-Id"))
	if doctorID == "" {
		httpx.Error(w, http.StatusBadRequest, "missing X-Doctor-Id")
		return
	}

	var req struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid json body")
		return
	}
	req.AppointmentID = strings.TrimSpace(req.AppointmentID)
	if req.AppointmentID == "" {
		httpx.Error(w, http.StatusBadRequest, "appointment_id required")
		return
	}

	ctx := r.Context()
	tx, err := h.repo.Begin(ctx)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "db error")
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	appt, err := h.repo.GetForUpdate(ctx, tx, req.AppointmentID)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.Error(w, http.StatusNotFound, "appointment not found")
			return
		}
		httpx.Error(w, http.StatusInternalServerError, "failed to load appointment")
		return
	}
	if appt.DoctorID != doctorID {
		httpx.Error(w, http.StatusForbidden, "appointment belongs to another doctor")
		return
	}

	if appt.Status == next {
		httpx.JSON(w, http.StatusOK, map[string]string{
			"appointment_id": appt.ID,
			"status":         string(next),
		})
		return
	}
	if !appt.Status.CanTransitionTo(next) {
		httpx.Error(w, http.StatusConflict, "invalid status transition")
		return
	}

	if err := h.repo.SetStatus(ctx, tx, appt.ID, next); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to update appointment")
		return
	}
	appt.Status = next

	if err := h.insertAppointmentEvent(ctx, tx, topic, &appt, nil); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to write outbox event")
		return
	}

	if err := tx.Commit(ctx); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to commit")
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{
		"appointment_id": appt.ID,
		"status":         string(next),
	})
}

type listAppointmentItem struct {
	AppointmentID string `json:"appointment_id"`
	DoctorID      string `json:"doctor_id"`
	PatientID     string `json:"patient_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Status        string `json:"status"`
	Reason        string `json:"reason,omitempty"`
	CancelledAt   string `json:"cancelled_at,omitempty"`
	CreatedAt     string `json:"created_at"`
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	var appts []model.Appointment
	var err error
	if patientID := strings.TrimSpace(r.Header.Get("X-Patient-Id")); patientID != "" {
		appts, err = h.repo.ListByPatient(r.Context(), patientID, limit)
	} else if doctorID := strings.TrimSpace(r.Header.Get("X-Doctor-Id")); doctorID != "" {
		appts, err = h.repo.ListByDoctor(r.Context(), doctorID, limit)
	} else {
		httpx.Error(w, http.StatusBadRequest, "missing X-Patient-Id or X-Doctor-Id")
		return
	}
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list appointments")
		return
	}

	items := make([]listAppointmentItem, 0, len(appts))
	for _, appt := range appts {
		item := listAppointmentItem{
			AppointmentID: appt.ID,
			DoctorID:      appt.DoctorID,
			PatientID:     appt.PatientID,
			StartTime:     appt.StartTime.UTC().Format(time.RFC3339),
			EndTime:       appt.EndTime.UTC().Format(time.RFC3339),
			Status:        string(appt.Status),
			Reason:        appt.Reason,
			CreatedAt:     appt.CreatedAt.UTC().Format(time.RFC3339),
		}
		if appt.CancelledAt != nil {
			item.CancelledAt = appt.CancelledAt.UTC().Format(time.RFC3339)
		}
		items = append(items, item)
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *BookingHandler) insertAppointmentEvent(ctx context.Context, tx pgx.Tx, topic string, appt *model.Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id": appt.ID,
		"doctor_id":      appt.DoctorID,
		"patient_id":     appt.PatientID,
		"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		"end_time":       appt.EndTime.UTC().Format(time.RFC3339),
		"status":         string(appt.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return h.outbox.Insert(ctx, tx, eventbus.Event{
		AggregateType: "appointment",
		AggregateID:   appt.ID,
		EventType:     topic,
		Payload:       body,
	})
}

func (h *BookingHandler) enqueueReminders(ctx context.Context, tx pgx.Tx, appt *model.Appointment) {
	now := h.now()
	for _, offset := range h.reminderOffsets {
		remindAt := appt.StartTime.Add(-offset)
		if remindAt.Before(now) {
			continue
		}
		payload, err := json.Marshal(map[string]any{
			"appointment_id": appt.ID,
			"doctor_id":      appt.DoctorID,
			"patient_id":     appt.PatientID,
			"remind_at":      remindAt.UTC().Format(time.RFC3339),
			"start_time":     appt.StartTime.UTC().Format(time.RFC3339),
		})
		if err != nil {
			h.logger.Error("failed to build reminder payload", "err", err)
			continue
		}
		if err := h.outbox.Insert(ctx, tx, eventbus.Event{
			AggregateType: "appointment",
			AggregateID:   appt.ID,
			EventType:     TopicReminderRequested,
			Payload:       payload,
		}); err != nil {
			h.logger.Error("failed to enqueue reminder", "err", err)
		}
	}
}

func (h *BookingHandler) rejectBooking(ctx context.Context, tx pgx.Tx, w http.ResponseWriter, patientID, idempotencyKey string, statusCode int, msg string) {
	if idempotencyKey != "" {
		body, err := json.Marshal(map[string]string{"error": msg})
		if err == nil {
			if err := h.repo.FinalizeIdempotency(ctx, tx, patientID, idempotencyKey, "", statusCode, body); err != nil {
				h.logger.Error("failed to finalize idempotency (reject)", "err", err)
			} else if err := tx.Commit(ctx); err != nil {
				h.logger.Error("failed to commit idempotency reject", "err", err)
			}
		}
	}
	httpx.Error(w, statusCode, msg)
}
