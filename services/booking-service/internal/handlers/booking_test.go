package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docslot/docslot/libs/eventbus"
	"github.com/docslot/docslot/services/booking-service/internal/availability"
	"github.com/docslot/docslot/services/booking-service/internal/model"
	"github.com/docslot/docslot/services/booking-service/internal/storage"
)

// stubTx satisfies pgx.Tx for the handler paths under test; only Commit and
// Rollback are ever called.
type stubTx struct {
	pgx.Tx
	committed bool
}

func (t *stubTx) Commit(context.Context) error   { t.committed = true; return nil }
func (t *stubTx) Rollback(context.Context) error { return nil }

type stubStore struct {
	tx         stubTx
	idemRecord storage.IdempotencyRecord
	idemExists bool
	createID   string
	createErr  error
	created    *model.Appointment
	appt       model.Appointment
	getErr     error
	cancelAt   time.Time
	finalized  []int
	busy       []model.Appointment
	listed     []model.Appointment
}

func (s *stubStore) Begin(context.Context) (pgx.Tx, error) { return &s.tx, nil }

func (s *stubStore) LockIdempotencyKey(_ context.Context, _ pgx.Tx, _, _ string) (storage.IdempotencyRecord, bool, error) {
	return s.idemRecord, s.idemExists, nil
}

func (s *stubStore) FinalizeIdempotency(_ context.Context, _ pgx.Tx, _, _, _ string, statusCode int, _ []byte) error {
	s.finalized = append(s.finalized, statusCode)
	return nil
}

func (s *stubStore) Create(_ context.Context, _ pgx.Tx, appt *model.Appointment) (string, error) {
	if s.createErr != nil {
		return "", s.createErr
	}
	s.created = appt
	return s.createID, nil
}

func (s *stubStore) GetForUpdate(_ context.Context, _ pgx.Tx, _ string) (model.Appointment, error) {
	return s.appt, s.getErr
}

func (s *stubStore) SetStatus(_ context.Context, _ pgx.Tx, _ string, _ model.Status) error {
	return nil
}

func (s *stubStore) Cancel(_ context.Context, _ pgx.Tx, _, _ string) (time.Time, error) {
	return s.cancelAt, nil
}

func (s *stubStore) ListBlockingIntervals(_ context.Context, _ string, _, _ time.Time) ([]model.Appointment, error) {
	return s.busy, nil
}

func (s *stubStore) ListByDoctor(_ context.Context, _ string, _ int) ([]model.Appointment, error) {
	return s.listed, nil
}

func (s *stubStore) ListByPatient(_ context.Context, _ string, _ int) ([]model.Appointment, error) {
	return s.listed, nil
}

type stubWindows struct {
	windows []availability.Window
}

func (s *stubWindows) ListForWeekday(_ context.Context, _ string, _ time.Weekday) ([]availability.Window, error) {
	return s.windows, nil
}

type stubOutbox struct {
	events []eventbus.Event
}

func (s *stubOutbox) Insert(_ context.Context, _ pgx.Tx, evt eventbus.Event) error {
	s.events = append(s.events, evt)
	return nil
}

// Monday 2026-02-02, doctor available 09:00-12:00 in 30-minute slots.
var (
	testNow   = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	testStart = time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)
)

func newTestHandler(store *stubStore, outbox *stubOutbox) *BookingHandler {
	windows := &stubWindows{windows: []availability.Window{{
		Weekday:     time.Monday,
		StartMinute: 9 * 60,
		EndMinute:   12 * 60,
		SlotMinutes: 30,
	}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := NewBookingHandler(store, windows, outbox, logger, []time.Duration{24 * time.Hour, time.Hour})
	h.now = func() time.Time { return testNow }
	return h
}

func postJSON(target string, body map[string]string) *http.Request {
	raw, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, target, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func bookingRequest(start, end time.Time) *http.Request {
	req := postJSON("/api/v1/public/book", map[string]string{
		"doctor_id":  "doc-1",
		"start_time": start.Format(time.RFC3339),
		"end_time":   end.Format(time.RFC3339),
		"reason":     "checkup",
	})
	req.Header.Set("X-Patient-Id", "patient-1")
	return req
}

func TestCreateRequiresPatientHeader(t *testing.T) {
	h := newTestHandler(&stubStore{}, &stubOutbox{})
	req := postJSON("/api/v1/public/book", map[string]string{"doctor_id": "doc-1"})
	rw := httptest.NewRecorder()
	h.Create(rw, req)
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}

func TestCreateRejectsPastStart(t *testing.T) {
	store := &stubStore{}
	h := newTestHandler(store, &stubOutbox{})

	req := bookingRequest(testNow.Add(-2*time.Hour), testNow.Add(-90*time.Minute))
	req.Header.Set("Idempotency-Key", "key-1")
	rw := httptest.NewRecorder()
	h.Create(rw, req)

	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rw.Code)
	}
	// The rejection is recorded against the idempotency key so a retry
	// replays the same answer.
	if len(store.finalized) != 1 || store.finalized[0] != http.StatusUnprocessableEntity {
		t.Fatalf("finalized = %v, want [422]", store.finalized)
	}
	if !store.tx.committed {
		t.Fatal("expected the idempotency record to be committed")
	}
}

func TestCreateRejectsOffGridStart(t *testing.T) {
	h := newTestHandler(&stubStore{}, &stubOutbox{})

	// 09:10 is inside the window but not on the 30-minute grid.
	rw := httptest.NewRecorder()
	h.Create(rw, bookingRequest(testStart.Add(10*time.Minute), testStart.Add(40*time.Minute)))
	if rw.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rw.Code)
	}
}

func TestCreateMapsExclusionViolationToConflict(t *testing.T) {
	store := &stubStore{createErr: &pgconn.PgError{Code: "23P01"}}
	h := newTestHandler(store, &stubOutbox{})

	rw := httptest.NewRecorder()
	h.Create(rw, bookingRequest(testStart, testStart.Add(30*time.Minute)))
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409 on exclusion violation, got %d", rw.Code)
	}
	if store.tx.committed {
		t.Fatal("conflicting booking must not commit")
	}
}

func TestCreateReplaysIdempotentResult(t *testing.T) {
	stored := []byte(`{"appointment_id":"appt-0"}`)
	store := &stubStore{
		idemExists: true,
		idemRecord: storage.IdempotencyRecord{StatusCode: http.StatusCreated, ResponsePayload: stored},
	}
	outbox := &stubOutbox{}
	h := newTestHandler(store, outbox)

	req := bookingRequest(testStart, testStart.Add(30*time.Minute))
	req.Header.Set("Idempotency-Key", "key-1")
	rw := httptest.NewRecorder()
	h.Create(rw, req)

	if rw.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", rw.Code)
	}
	if rw.Body.String() != string(stored) {
		t.Fatalf("body = %q, want the stored response", rw.Body.String())
	}
	if store.created != nil || len(outbox.events) != 0 {
		t.Fatal("a replay must not create a new appointment or emit events")
	}
}

func TestCreateBooksAndEmitsEvents(t *testing.T) {
	store := &stubStore{createID: "appt-1"}
	outbox := &stubOutbox{}
	h := newTestHandler(store, outbox)

	rw := httptest.NewRecorder()
	h.Create(rw, bookingRequest(testStart, testStart.Add(30*time.Minute)))

	if rw.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rw.Code, rw.Body.String())
	}
	var resp struct {
		AppointmentID string `json:"appointment_id"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if resp.AppointmentID != "appt-1" {
		t.Fatalf("appointment_id = %q", resp.AppointmentID)
	}
	if !store.tx.committed {
		t.Fatal("booking was not committed")
	}

	// One booked event plus a reminder per offset still in the future.
	var booked, reminders int
	for _, evt := range outbox.events {
		switch evt.EventType {
		case TopicAppointmentBooked:
			booked++
		case TopicReminderRequested:
			reminders++
		}
	}
	if booked != 1 || reminders != 2 {
		t.Fatalf("events = %d booked, %d reminders, want 1 and 2", booked, reminders)
	}
}

func TestCancelByOutsiderForbidden(t *testing.T) {
	store := &stubStore{appt: model.Appointment{
		ID:        "appt-1",
		DoctorID:  "doc-1",
		PatientID: "patient-1",
		Status:    model.StatusScheduled,
	}}
	h := newTestHandler(store, &stubOutbox{})

	req := postJSON("/api/v1/appointments/cancel", map[string]string{"appointment_id": "appt-1"})
	req.Header.Set("X-Patient-Id", "patient-2")
	rw := httptest.NewRecorder()
	h.Cancel(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}
}

func TestCancelMissingAppointment(t *testing.T) {
	store := &stubStore{getErr: pgx.ErrNoRows}
	h := newTestHandler(store, &stubOutbox{})

	req := postJSON("/api/v1/appointments/cancel", map[string]string{"appointment_id": "appt-404"})
	req.Header.Set("X-Patient-Id", "patient-1")
	rw := httptest.NewRecorder()
	h.Cancel(rw, req)
	if rw.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rw.Code)
	}
}

func TestTransitionRejectsOtherDoctor(t *testing.T) {
	store := &stubStore{appt: model.Appointment{
		ID:       "appt-1",
		DoctorID: "doc-1",
		Status:   model.StatusScheduled,
	}}
	h := newTestHandler(store, &stubOutbox{})

	req := postJSON("/api/v1/appointments/confirm", map[string]string{"appointment_id": "appt-1"})
	req.Header.Set("X-Doctor-Id", "doc-2")
	rw := httptest.NewRecorder()
	h.Confirm(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rw.Code)
	}
}

func TestTransitionRejectsInvalidStatusChange(t *testing.T) {
	store := &stubStore{appt: model.Appointment{
		ID:       "appt-1",
		DoctorID: "doc-1",
		Status:   model.StatusCompleted,
	}}
	h := newTestHandler(store, &stubOutbox{})

	req := postJSON("/api/v1/appointments/confirm", map[string]string{"appointment_id": "appt-1"})
	req.Header.Set("X-Doctor-Id", "doc-1")
	rw := httptest.NewRecorder()
	h.Confirm(rw, req)
	if rw.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rw.Code)
	}
}

func TestSlotsValidation(t *testing.T) {
	h := newTestHandler(&stubStore{}, &stubOutbox{})

	rw := httptest.NewRecorder()
	h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("missing date: expected 400, got %d", rw.Code)
	}

	rw = httptest.NewRecorder()
	h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=02-02-2026", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("bad date format: expected 400, got %d", rw.Code)
	}
}

func TestSlotsMarksBookedSlotUnavailable(t *testing.T) {
	store := &stubStore{busy: []model.Appointment{{
		StartTime: testStart,
		EndTime:   testStart.Add(30 * time.Minute),
	}}}
	h := newTestHandler(store, &stubOutbox{})

	rw := httptest.NewRecorder()
	h.Slots(rw, httptest.NewRequest(http.MethodGet, "/api/v1/public/slots?doctor_id=doc-1&date=2026-02-02", nil))
	if rw.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rw.Code)
	}

	var items []struct {
		StartTime string `json:"start_time"`
		Available bool   `json:"available"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &items); err != nil {
		t.Fatalf("invalid response body: %v", err)
	}
	if len(items) != 6 {
		t.Fatalf("expected 6 slots for a 3h window of 30m, got %d", len(items))
	}
	for _, item := range items {
		wantAvailable := item.StartTime != testStart.Format(time.RFC3339)
		if item.Available != wantAvailable {
			t.Errorf("slot %s available = %v, want %v", item.StartTime, item.Available, wantAvailable)
		}
	}
}

func TestListRequiresIdentity(t *testing.T) {
	h := newTestHandler(&stubStore{}, &stubOutbox{})
	rw := httptest.NewRecorder()
	h.List(rw, httptest.NewRequest(http.MethodGet, "/api/v1/appointments", nil))
	if rw.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rw.Code)
	}
}
