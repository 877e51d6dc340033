package mq

import (
	"testing"

	"github.com/segmentio/kafka-go"
)

func TestNewWriter(t *testing.T) {
	t.Parallel()

	w := NewWriter([]string{"localhost:9092"}, "caseflow.emails")
	t.Cleanup(func() { w.Close() })

	if w.Topic != "caseflow.emails" {
		t.Errorf("Topic = %q, want caseflow.emails", w.Topic)
	}
	if w.RequiredAcks != kafka.RequireAll {
		t.Errorf("RequiredAcks = %v, want RequireAll", w.RequiredAcks)
	}
	if w.Addr.String() != "localhost:9092" {
		t.Errorf("Addr = %q, want localhost:9092", w.Addr.String())
	}

	var _ MessageWriter = w
}

func TestNewReader(t *testing.T) {
	t.Parallel()

	r := NewReader([]string{"localhost:9092"}, "caseflow.events", "caseflow-notification")
	t.Cleanup(func() { r.Close() })

	cfg := r.Config()
	if cfg.Topic != "caseflow.events" {
		t.Errorf("Topic = %q, want caseflow.events", cfg.Topic)
	}
	if cfg.GroupID != "caseflow-notification" {
		t.Errorf("GroupID = %q, want caseflow-notification", cfg.GroupID)
	}

	var _ MessageReader = r
}
