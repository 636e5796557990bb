package storage

import (
	"context"

	"github.com/docslot/docslot/libs/db"
)

// Notification is the delivery record kept for every message the service
// attempted, whatever the outcome.
type Notification struct {
	AppointmentID string
	DoctorID      string
	PatientID     string
	Kind          string
	Channel       string
	Recipient     string
	Body          string
	Status        string
}

const (
	KindBookingConfirmed = "booking_confirmed"
	KindReminder         = "reminder"
	KindCancelled        = "cancelled"

	StatusSent   = "sent"
	StatusFailed = "failed"
)

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (appointment_id, doctor_id, patient_id, kind, channel, recipient, body, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, n.AppointmentID, n.DoctorID, n.PatientID, n.Kind, n.Channel, n.Recipient, n.Body, n.Status)
	return err
}
