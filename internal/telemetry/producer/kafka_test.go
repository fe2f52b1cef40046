package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"infractl/client/internal/telemetry/domain"
)

type captureWriter struct {
	msgs   []kafka.Message
	err    error
	closed int
}

func (w *captureWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.msgs = append(w.msgs, msgs...)
	return w.err
}

func (w *captureWriter) Close() error {
	w.closed++
	return nil
}

func TestNewKafkaProducer_DisabledWithoutConfig(t *testing.T) {
	if p := NewKafkaProducer(nil, "topic"); p != nil {
		t.Error("NewKafkaProducer without brokers should return nil")
	}
	if p := NewKafkaProducer([]string{"localhost:9092"}, ""); p != nil {
		t.Error("NewKafkaProducer without topic should return nil")
	}
}

func TestKafkaProducer_NilSafe(t *testing.T) {
	var p *KafkaProducer
	if err := p.Emit(context.Background(), &domain.AuthEvent{}); err != nil {
		t.Errorf("nil Emit: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("nil Close: %v", err)
	}
}

func TestKafkaProducer_EmitKeysBySession(t *testing.T) {
	w := &captureWriter{}
	p := &KafkaProducer{writer: w, topic: "auth"}
	event := &domain.AuthEvent{EventType: domain.EventAuthStateChanged, SessionKey: "key-1", Authenticated: true}
	if err := p.Emit(context.Background(), event); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	if string(w.msgs[0].Key) != "key-1" {
		t.Errorf("Key = %q, want %q", w.msgs[0].Key, "key-1")
	}
	var got domain.AuthEvent
	if err := json.Unmarshal(w.msgs[0].Value, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if got.EventType != domain.EventAuthStateChanged || !got.Authenticated {
		t.Errorf("payload = %+v", got)
	}

	_ = p.Emit(context.Background(), &domain.AuthEvent{EventType: domain.EventAuthExpired, SessionID: "sess-1"})
	if string(w.msgs[1].Key) != "sess-1" {
		t.Errorf("expired event Key = %q, want session id", w.msgs[1].Key)
	}
}

func TestKafkaProducer_EmitError(t *testing.T) {
	w := &captureWriter{err: errors.New("broker down")}
	p := &KafkaProducer{writer: w, topic: "auth"}
	if err := p.Emit(context.Background(), &domain.AuthEvent{EventType: "x"}); err == nil {
		t.Error("Emit should surface writer error")
	}
	_ = p.Close()
	if w.closed != 1 {
		t.Errorf("Close called %d times, want 1", w.closed)
	}
}
