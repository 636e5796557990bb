package kafkax

import (
	"reflect"
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestExtractEventMetaPrefersHeaders(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{
		Topic: "booking.appointment.booked.v1",
		Key:   []byte("appt-1"),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte("evt-1")},
			{Key: "event_type", Value: []byte("booking.appointment.booked.v1")},
		},
	})
	if meta.EventID != "evt-1" {
		t.Errorf("EventID = %q, want header value", meta.EventID)
	}
	if meta.EventType != "booking.appointment.booked.v1" {
		t.Errorf("EventType = %q", meta.EventType)
	}
}

func TestExtractEventMetaFallsBackToKeyAndTopic(t *testing.T) {
	meta := ExtractEventMeta(kafka.Message{
		Topic: "booking.reminder.requested.v1",
		Key:   []byte("appt-2"),
	})
	if meta.EventID != "appt-2" {
		t.Errorf("EventID = %q, want message key", meta.EventID)
	}
	if meta.EventType != "booking.reminder.requested.v1" {
		t.Errorf("EventType = %q, want topic", meta.EventType)
	}
}

func TestSplitBrokers(t *testing.T) {
	got := SplitBrokers(" kafka-1:9092, ,kafka-2:9092 ")
	want := []string{"kafka-1:9092", "kafka-2:9092"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SplitBrokers = %v, want %v", got, want)
	}
	if SplitBrokers("  ,  ") != nil {
		t.Error("blank value should yield nil")
	}
}
