package model

import "testing"

func TestStatusTransitions(t *testing.T) {
	if !StatusScheduled.CanTransitionTo(StatusConfirmed) {
		t.Fatal("scheduled -> confirmed must be allowed")
	}
	if !StatusScheduled.CanTransitionTo(StatusCancelled) {
		t.Fatal("scheduled -> cancelled must be allowed")
	}
	if StatusScheduled.CanTransitionTo(StatusCompleted) {
		t.Fatal("scheduled -> completed must be rejected")
	}
	if StatusScheduled.CanTransitionTo(StatusNoShow) {
		t.Fatal("scheduled -> no_show must be rejected")
	}

	if !StatusConfirmed.CanTransitionTo(StatusCompleted) {
		t.Fatal("confirmed -> completed must be allowed")
	}
	if !StatusConfirmed.CanTransitionTo(StatusNoShow) {
		t.Fatal("confirmed -> no_show must be allowed")
	}
	if !StatusConfirmed.CanTransitionTo(StatusCancelled) {
		t.Fatal("confirmed -> cancelled must be allowed")
	}

	for _, terminal := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		for _, next := range []Status{StatusScheduled, StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow} {
			if terminal.CanTransitionTo(next) {
				t.Fatalf("%s is terminal, transition to %s must be rejected", terminal, next)
			}
		}
	}
}

func TestStatusBlocking(t *testing.T) {
	if !StatusScheduled.Blocking() || !StatusConfirmed.Blocking() {
		t.Fatal("scheduled and confirmed hold their slot")
	}
	for _, s := range []Status{StatusCompleted, StatusCancelled, StatusNoShow} {
		if s.Blocking() {
			t.Fatalf("%s must not hold its slot", s)
		}
	}
}

func TestParseStatus(t *testing.T) {
	if s, ok := ParseStatus("confirmed"); !ok || s != StatusConfirmed {
		t.Fatal("confirmed should parse")
	}
	if _, ok := ParseStatus("booked"); ok {
		t.Fatal("unknown status should not parse")
	}
}
