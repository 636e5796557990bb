package storage

import (
	"context"
	"time"

	"github.com/docslot/docslot/libs/db"
	"github.com/docslot/docslot/services/booking-service/internal/availability"
)

// WindowRepository holds the local replica of the directory service's
// availability windows, kept current by the window created/deleted event
// consumers. Slot computation and grid validation read this snapshot so
// booking keeps working when the directory service is down.
type WindowRepository struct {
	pool *db.Pool
}

func NewWindowRepository(pool *db.Pool) *WindowRepository {
	return &WindowRepository{pool: pool}
}

func (r *WindowRepository) Upsert(ctx context.Context, windowID, doctorID string, weekday, startMinute, endMinute, slotMinutes int) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO availability_windows (id, doctor_id, weekday, start_minute, end_minute, slot_minutes)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE
		SET doctor_id = EXCLUDED.doctor_id,
			weekday = EXCLUDED.weekday,
			start_minute = EXCLUDED.start_minute,
			end_minute = EXCLUDED.end_minute,
			slot_minutes = EXCLUDED.slot_minutes,
			updated_at = now()
	`, windowID, doctorID, weekday, startMinute, endMinute, slotMinutes)
	return err
}

func (r *WindowRepository) Delete(ctx context.Context, windowID string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM availability_windows
		WHERE id = $1
	`, windowID)
	return err
}

// ListForWeekday returns a doctor's windows recurring on the given weekday.
func (r *WindowRepository) ListForWeekday(ctx context.Context, doctorID string, weekday time.Weekday) ([]availability.Window, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_minute, end_minute, slot_minutes
		FROM availability_windows
		WHERE doctor_id = $1 AND weekday = $2
		ORDER BY start_minute ASC
	`, doctorID, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var windows []availability.Window
	for rows.Next() {
		var wd int
		var w availability.Window
		if err := rows.Scan(&wd, &w.StartMinute, &w.EndMinute, &w.SlotMinutes); err != nil {
			return nil, err
		}
		w.Weekday = time.Weekday(wd)
		windows = append(windows, w)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return windows, nil
}
