package email

import (
	"strings"
	"testing"
)

func TestEncodeMessage(t *testing.T) {
	raw := string(encode("no-reply@docslot.local", Message{
		To:      "patient@example.com",
		Subject: "Appointment reminder",
		Body:    "See you tomorrow at 09:00.",
	}))

	for _, want := range []string{
		"From: no-reply@docslot.local\r\n",
		"To: patient@example.com\r\n",
		"Subject: Appointment reminder\r\n",
		"Content-Type: text/plain; charset=utf-8\r\n",
	} {
		if !strings.Contains(raw, want) {
			t.Errorf("message missing header %q", strings.TrimSpace(want))
		}
	}
	if !strings.HasSuffix(raw, "\r\n\r\nSee you tomorrow at 09:00.\r\n") {
		t.Errorf("body not separated from headers by a blank line: %q", raw)
	}
}

func TestNewSMTPSenderDefaultsFrom(t *testing.T) {
	s := NewSMTPSender("mailpit", "1025", "  ")
	if s.from != "no-reply@docslot.local" {
		t.Errorf("from = %q, want default sender", s.from)
	}
	if s.addr != "mailpit:1025" {
		t.Errorf("addr = %q", s.addr)
	}
}
