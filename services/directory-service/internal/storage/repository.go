package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/docslot/docslot/libs/db"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type Doctor struct {
	ID          string
	Name        string
	Specialty   string
	Bio         string
	Fee         string
	RatingAvg   float64
	RatingCount int
}

func (r *Repository) GetOrCreateDoctor(ctx context.Context, doctorID string) (Doctor, error) {
	// Create an empty profile if missing so a doctor can start from the app
	// without a separate signup step in this service.
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id)
		VALUES ($1)
		ON CONFLICT (id) DO NOTHING
	`, doctorID)
	if err != nil {
		return Doctor{}, err
	}

	var d Doctor
	err = r.pool.QueryRow(ctx, `
		SELECT id::text, name, specialty, bio, fee::text, rating_avg, rating_count
		FROM doctors
		WHERE id = $1
	`, doctorID).Scan(&d.ID, &d.Name, &d.Specialty, &d.Bio, &d.Fee, &d.RatingAvg, &d.RatingCount)
	return d, err
}

func (r *Repository) UpdateDoctor(ctx context.Context, doctorID, name, specialty, bio, fee string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO doctors (id, name, specialty, bio, fee)
		VALUES ($1, $2, $3, $4, $5::numeric)
		ON CONFLICT (id) DO UPDATE
		SET name = EXCLUDED.name,
			specialty = EXCLUDED.specialty,
			bio = EXCLUDED.bio,
			fee = EXCLUDED.fee,
			updated_at = now()
	`, doctorID, name, specialty, bio, fee)
	return err
}

func (r *Repository) ListDoctors(ctx context.Context, specialty string, limit int) ([]Doctor, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, name, specialty, bio, fee::text, rating_avg, rating_count
		FROM doctors
		WHERE ($1 = '' OR specialty = $1)
		ORDER BY rating_avg DESC, rating_count DESC
		LIMIT $2
	`, specialty, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.Name, &d.Specialty, &d.Bio, &d.Fee, &d.RatingAvg, &d.RatingCount); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// Window is a doctor's recurring weekly availability block. Windows are
// immutable: a doctor deletes and re-creates them to make changes.
type Window struct {
	ID          string
	DoctorID    string
	Weekday     int
	StartMinute int
	EndMinute   int
	SlotMinutes int
	CreatedAt   time.Time
}

func (r *Repository) CreateWindow(ctx context.Context, tx pgx.Tx, doctorID string, weekday, startMinute, endMinute, slotMinutes int) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO availability_windows (id, doctor_id, weekday, start_minute, end_minute, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, doctorID, weekday, startMinute, endMinute, slotMinutes)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListWindows(ctx context.Context, doctorID string) ([]Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, doctor_id::text, weekday, start_minute, end_minute, slot_minutes, created_at
		FROM availability_windows
		WHERE doctor_id = $1
		ORDER BY weekday ASC, start_minute ASC
	`, doctorID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Window
	for rows.Next() {
		var w Window
		if err := rows.Scan(&w.ID, &w.DoctorID, &w.Weekday, &w.StartMinute, &w.EndMinute, &w.SlotMinutes, &w.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) DeleteWindow(ctx context.Context, tx pgx.Tx, doctorID, windowID string) error {
	tag, err := tx.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1 AND doctor_id = $2
	`, windowID, doctorID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

type Review struct {
	ID        string
	DoctorID  string
	PatientID string
	Rating    int
	Comment   string
	CreatedAt time.Time
}

// CreateReview inserts the review and refreshes the doctor's rating
// aggregate in the same transaction, so the listing always shows a figure
// consistent with the stored reviews.
func (r *Repository) CreateReview(ctx context.Context, tx pgx.Tx, doctorID, patientID string, rating int, comment string) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO reviews (id, doctor_id, patient_id, rating, comment)
		VALUES ($1, $2, $3, $4, $5)
	`, id, doctorID, patientID, rating, comment)
	if err != nil {
		return "", err
	}

	_, err = tx.Exec(ctx, `
		UPDATE doctors d
		SET rating_avg = sub.avg_rating,
			rating_count = sub.cnt,
			updated_at = now()
		FROM (
			SELECT COALESCE(AVG(rating), 0) AS avg_rating, COUNT(*) AS cnt
			FROM reviews
			WHERE doctor_id = $1
		) sub
		WHERE d.id = $1
	`, doctorID)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListReviews(ctx context.Context, doctorID string, limit int) ([]Review, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, doctor_id::text, patient_id::text, rating, comment, created_at
		FROM reviews
		WHERE doctor_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, doctorID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Review
	for rows.Next() {
		var rv Review
		if err := rows.Scan(&rv.ID, &rv.DoctorID, &rv.PatientID, &rv.Rating, &rv.Comment, &rv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rv)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

// RecordCompletedAppointment tracks which patients finished an appointment
// with which doctor; fed by the booking service's completed events and
// consulted before accepting a review.
func (r *Repository) RecordCompletedAppointment(ctx context.Context, appointmentID, doctorID, patientID string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO completed_appointments (appointment_id, doctor_id, patient_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (appointment_id) DO NOTHING
	`, appointmentID, doctorID, patientID)
	return err
}

func (r *Repository) HasCompletedAppointment(ctx context.Context, doctorID, patientID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM completed_appointments
			WHERE doctor_id = $1 AND patient_id = $2
		)
	`, doctorID, patientID).Scan(&exists)
	return exists, err
}

func IsDuplicate(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
