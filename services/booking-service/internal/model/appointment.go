package model

import "time"

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
	StatusNoShow    Status = "no_show"
)

// Blocking reports whether an appointment in this status still holds its
// time slot. Cancelled and no-show appointments release the slot; completed
// ones are in the past.
func (s Status) Blocking() bool {
	return s == StatusScheduled || s == StatusConfirmed
}

// CanTransitionTo enforces the appointment lifecycle:
// scheduled -> confirmed | cancelled, confirmed -> completed | cancelled | no_show.
// Completed, cancelled and no_show are terminal.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusScheduled:
		return next == StatusConfirmed || next == StatusCancelled
	case StatusConfirmed:
		return next == StatusCompleted || next == StatusCancelled || next == StatusNoShow
	default:
		return false
	}
}

func ParseStatus(raw string) (Status, bool) {
	switch Status(raw) {
	case StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow:
		return Status(raw), true
	}
	return "", false
}

// Appointment is a committed reservation of one slot. Rows are never
// deleted; terminal statuses keep the historical record.
type Appointment struct {
	ID           string
	DoctorID     string
	PatientID    string
	StartTime    time.Time
	EndTime      time.Time
	Status       Status
	Reason       string
	CancelledAt  *time.Time
	CancelReason string
	CreatedAt    time.Time
}
