package handlers

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/docslot/docslot/libs/db"
	"github.com/docslot/docslot/libs/eventbus"
	"github.com/docslot/docslot/libs/httpx"
	"github.com/docslot/docslot/services/directory-service/internal/storage"
)

const (
	TopicWindowCreated = "directory.availability.window.created.v1"
	TopicWindowDeleted = "directory.availability.window.deleted.v1"
)

type DirectoryHandler struct {
	repo   *storage.Repository
	pool   *db.Pool
	outbox *eventbus.Outbox
	logger *slog.Logger
}

func NewDirectoryHandler(repo *storage.Repository, pool *db.Pool, outbox *eventbus.Outbox, logger *slog.Logger) *DirectoryHandler {
	return &DirectoryHandler{repo: repo, pool: pool, outbox: outbox, logger: logger}
}

type doctorItem struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Specialty   string  `json:"specialty"`
	Bio         string  `json:"bio"`
	Fee         string  `json:"fee"`
	RatingAvg   float64 `json:"rating_avg"`
	RatingCount int     `json:"rating_count"`
}

func toDoctorItem(d storage.Doctor) doctorItem {
	return doctorItem{
		ID:          d.ID,
		Name:        d.Name,
		Specialty:   d.Specialty,
		Bio:         d.Bio,
		Fee:         d.Fee,
		RatingAvg:   d.RatingAvg,
		RatingCount: d.RatingCount,
	}
}

// ListDoctors is the public directory listing, ordered by rating.
func (h *DirectoryHandler) ListDoctors(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 500 {
			httpx.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	doctors, err := h.repo.ListDoctors(r.Context(), strings.TrimSpace(r.URL.Query().Get("specialty")), limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list doctors")
		return
	}

	items := make([]doctorItem, 0, len(doctors))
	for _, d := range doctors {
		items = append(items, toDoctorItem(d))
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *DirectoryHandler) Profile(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.Header.Get("X-Doctor-Id"))
	if doctorID == "" {
		httpx.Error(w, http.StatusUnauthorized, "X-Doctor-Id header is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		d, err := h.repo.GetOrCreateDoctor(r.Context(), doctorID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to load profile")
			return
		}
		httpx.JSON(w, http.StatusOK, toDoctorItem(d))
	case http.MethodPut:
		var req struct {
			Name      string `json:"name"`
			Specialty string `json:"specialty"`
			Bio       string `json:"bio"`
			Fee       string `json:"fee"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.Name) == "" {
			httpx.Error(w, http.StatusUnprocessableEntity, "name is required")
			return
		}
		fee := strings.TrimSpace(req.Fee)
		if fee == "" {
			fee = "0"
		}
		if _, err := strconv.ParseFloat(fee, 64); err != nil {
			httpx.Error(w, http.StatusUnprocessableEntity, "fee must be a number")
			return
		}
		if err := h.repo.UpdateDoctor(r.Context(), doctorID, strings.TrimSpace(req.Name), strings.TrimSpace(req.Specialty), req.Bio, fee); err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to save profile")
			return
		}
		d, err := h.repo.GetOrCreateDoctor(r.Context(), doctorID)
		if err != nil {
			httpx.Error(w, http.StatusInternalServerError, "failed to load profile")
			return
		}
		httpx.JSON(w, http.StatusOK, toDoctorItem(d))
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

type windowItem struct {
	ID          string `json:"id"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	SlotMinutes int    `json:"slot_minutes"`
	CreatedAt   string `json:"created_at"`
}

type windowEventPayload struct {
	WindowID    string `json:"window_id"`
	DoctorID    string `json:"doctor_id"`
	Weekday     int    `json:"weekday"`
	StartMinute int    `json:"start_minute"`
	EndMinute   int    `json:"end_minute"`
	SlotMinutes int    `json:"slot_minutes"`
}

// validateWindow rejects windows that could never produce a slot or that
// fall outside a single day. Weekday 0 is Sunday.
func validateWindow(weekday, startMinute, endMinute, slotMinutes int) error {
	if weekday < 0 || weekday > 6 {
		return fmt.Errorf("weekday must be between 0 and 6")
	}
	if startMinute < 0 || endMinute > 24*60 {
		return fmt.Errorf("window must fall within a single day")
	}
	if startMinute >= endMinute {
		return fmt.Errorf("start_minute must be before end_minute")
	}
	if slotMinutes <= 0 {
		return fmt.Errorf("slot_minutes must be positive")
	}
	return nil
}

// Availability handles a doctor's recurring windows. Windows are immutable;
// changing one means deleting it and creating a replacement, which keeps the
// replication events trivially ordered per window.
func (h *DirectoryHandler) Availability(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.Header.Get("X-Doctor-Id"))
	if doctorID == "" {
		httpx.Error(w, http.StatusUnauthorized, "X-Doctor-Id header is required")
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.listWindows(w, r, doctorID)
	case http.MethodPost:
		h.createWindow(w, r, doctorID)
	case http.MethodDelete:
		h.deleteWindow(w, r, doctorID)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DirectoryHandler) listWindows(w http.ResponseWriter, r *http.Request, doctorID string) {
	windows, err := h.repo.ListWindows(r.Context(), doctorID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list availability")
		return
	}
	items := make([]windowItem, 0, len(windows))
	for _, win := range windows {
		items = append(items, windowItem{
			ID:          win.ID,
			Weekday:     win.Weekday,
			StartMinute: win.StartMinute,
			EndMinute:   win.EndMinute,
			SlotMinutes: win.SlotMinutes,
			CreatedAt:   win.CreatedAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *DirectoryHandler) createWindow(w http.ResponseWriter, r *http.Request, doctorID string) {
	var req struct {
		Weekday     int `json:"weekday"`
		StartMinute int `json:"start_minute"`
		EndMinute   int `json:"end_minute"`
		SlotMinutes int `json:"slot_minutes"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if err := validateWindow(req.Weekday, req.StartMinute, req.EndMinute, req.SlotMinutes); err != nil {
		httpx.Error(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	// Make sure the profile row exists before attaching windows to it.
	if _, err := h.repo.GetOrCreateDoctor(r.Context(), doctorID); err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to load profile")
		return
	}

	var windowID string
	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		id, err := h.repo.CreateWindow(r.Context(), tx, doctorID, req.Weekday, req.StartMinute, req.EndMinute, req.SlotMinutes)
		if err != nil {
			return err
		}
		windowID = id
		payload, err := json.Marshal(windowEventPayload{
			WindowID:    id,
			DoctorID:    doctorID,
			Weekday:     req.Weekday,
			StartMinute: req.StartMinute,
			EndMinute:   req.EndMinute,
			SlotMinutes: req.SlotMinutes,
		})
		if err != nil {
			return err
		}
		return h.outbox.Insert(r.Context(), tx, eventbus.Event{
			AggregateType: "availability_window",
			AggregateID:   id,
			EventType:     TopicWindowCreated,
			Payload:       payload,
		})
	})
	if err != nil {
		h.logger.Error("create window failed", "error", err, "doctor_id", doctorID)
		httpx.Error(w, http.StatusInternalServerError, "failed to create availability window")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]string{"window_id": windowID})
}

func (h *DirectoryHandler) deleteWindow(w http.ResponseWriter, r *http.Request, doctorID string) {
	windowID := strings.TrimSpace(r.URL.Query().Get("id"))
	if _, err := uuid.Parse(windowID); err != nil {
		httpx.Error(w, http.StatusBadRequest, "id must be a window UUID")
		return
	}

	err := h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		if err := h.repo.DeleteWindow(r.Context(), tx, doctorID, windowID); err != nil {
			return err
		}
		payload, err := json.Marshal(windowEventPayload{WindowID: windowID, DoctorID: doctorID})
		if err != nil {
			return err
		}
		return h.outbox.Insert(r.Context(), tx, eventbus.Event{
			AggregateType: "availability_window",
			AggregateID:   windowID,
			EventType:     TopicWindowDeleted,
			Payload:       payload,
		})
	})
	if storage.IsNotFound(err) {
		httpx.Error(w, http.StatusNotFound, "availability window not found")
		return
	}
	if err != nil {
		h.logger.Error("delete window failed", "error", err, "doctor_id", doctorID, "window_id", windowID)
		httpx.Error(w, http.StatusInternalServerError, "failed to delete availability window")
		return
	}

	httpx.JSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type reviewItem struct {
	ID        string `json:"id"`
	DoctorID  string `json:"doctor_id"`
	PatientID string `json:"patient_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
	CreatedAt string `json:"created_at"`
}

// Reviews lets a patient rate a doctor they actually saw, and anyone read a
// doctor's reviews.
func (h *DirectoryHandler) Reviews(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listReviews(w, r)
	case http.MethodPost:
		h.createReview(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *DirectoryHandler) listReviews(w http.ResponseWriter, r *http.Request) {
	doctorID := strings.TrimSpace(r.URL.Query().Get("doctor_id"))
	if doctorID == "" {
		httpx.Error(w, http.StatusBadRequest, "doctor_id is required")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httpx.Error(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	reviews, err := h.repo.ListReviews(r.Context(), doctorID, limit)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to list reviews")
		return
	}
	items := make([]reviewItem, 0, len(reviews))
	for _, rv := range reviews {
		items = append(items, reviewItem{
			ID:        rv.ID,
			DoctorID:  rv.DoctorID,
			PatientID: rv.PatientID,
			Rating:    rv.Rating,
			Comment:   rv.Comment,
			CreatedAt: rv.CreatedAt.Format(time.RFC3339),
		})
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *DirectoryHandler) createReview(w http.ResponseWriter, r *http.Request) {
	patientID := strings.TrimSpace(r.Header.Get("X-Patient-Id"))
	if patientID == "" {
		httpx.Error(w, http.StatusUnauthorized, "X-Patient-Id header is required")
		return
	}

	var req struct {
		DoctorID string `json:"doctor_id"`
		Rating   int    `json:"rating"`
		Comment  string `json:"comment"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.DoctorID) == "" {
		httpx.Error(w, http.StatusUnprocessableEntity, "doctor_id is required")
		return
	}
	if req.Rating < 1 || req.Rating > 5 {
		httpx.Error(w, http.StatusUnprocessableEntity, "rating must be between 1 and 5")
		return
	}

	seen, err := h.repo.HasCompletedAppointment(r.Context(), req.DoctorID, patientID)
	if err != nil {
		httpx.Error(w, http.StatusInternalServerError, "failed to check review eligibility")
		return
	}
	if !seen {
		httpx.Error(w, http.StatusForbidden, "reviews require a completed appointment with this doctor")
		return
	}

	var reviewID string
	err = h.pool.WithTx(r.Context(), func(tx pgx.Tx) error {
		id, err := h.repo.CreateReview(r.Context(), tx, req.DoctorID, patientID, req.Rating, req.Comment)
		if err != nil {
			return err
		}
		reviewID = id
		return nil
	})
	if storage.IsDuplicate(err) {
		httpx.Error(w, http.StatusConflict, "you have already reviewed this doctor")
		return
	}
	if err != nil {
		h.logger.Error("create review failed", "error", err, "doctor_id", req.DoctorID)
		httpx.Error(w, http.StatusInternalServerError, "failed to create review")
		return
	}

	httpx.JSON(w, http.StatusCreated, map[string]string{"review_id": reviewID})
}
