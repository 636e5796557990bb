package jobs

import (
	"strings"
	"testing"
	"time"
)

func TestReminderBody(t *testing.T) {
	body := ReminderBody(Job{
		StartTime: time.Date(2026, 2, 2, 9, 30, 0, 0, time.UTC),
	})
	if !strings.Contains(body, "Mon, 02 Feb 2026 at 09:30 UTC") {
		t.Errorf("body = %q, want the appointment start time spelled out", body)
	}
}
