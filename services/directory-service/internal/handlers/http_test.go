package handlers

import "testing"

func TestValidateWindow(t *testing.T) {
	cases := []struct {
		name    string
		weekday int
		start   int
		end     int
		slot    int
		wantErr bool
	}{
		{name: "typical morning window", weekday: 1, start: 9 * 60, end: 12 * 60, slot: 30},
		{name: "full day", weekday: 0, start: 0, end: 24 * 60, slot: 60},
		{name: "weekday too high", weekday: 7, start: 9 * 60, end: 12 * 60, slot: 30, wantErr: true},
		{name: "negative weekday", weekday: -1, start: 9 * 60, end: 12 * 60, slot: 30, wantErr: true},
		{name: "start after end", weekday: 2, start: 12 * 60, end: 9 * 60, slot: 30, wantErr: true},
		{name: "zero length", weekday: 2, start: 9 * 60, end: 9 * 60, slot: 30, wantErr: true},
		{name: "negative start", weekday: 3, start: -30, end: 60, slot: 30, wantErr: true},
		{name: "past midnight", weekday: 3, start: 23 * 60, end: 25 * 60, slot: 30, wantErr: true},
		{name: "zero slot", weekday: 4, start: 9 * 60, end: 12 * 60, slot: 0, wantErr: true},
		{name: "negative slot", weekday: 4, start: 9 * 60, end: 12 * 60, slot: -15, wantErr: true},
		{name: "slot longer than window", weekday: 5, start: 9 * 60, end: 9*60 + 20, slot: 30},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateWindow(tc.weekday, tc.start, tc.end, tc.slot)
			if tc.wantErr && err == nil {
				t.Fatal("expected validation error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected validation error: %v", err)
			}
		})
	}
}
