package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

type mockJSONProducer struct {
	ProduceJSONFunc func(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error
}

func (m *mockJSONProducer) ProduceJSON(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
	if m.ProduceJSONFunc != nil {
		return m.ProduceJSONFunc(ctx, topic, key, data, headers)
	}
	return nil
}

type mockDLQPublisher struct {
	messages []*DLQMessage
	err      error
}

func (m *mockDLQPublisher) PublishToDLQ(ctx context.Context, msg *DLQMessage) error {
	m.messages = append(m.messages, msg)
	return m.err
}

func TestKafkaDLQPublisher_PublishToDLQ(t *testing.T) {
	var gotTopic, gotKey string
	var gotHeaders map[string]string

	producer := &mockJSONProducer{
		ProduceJSONFunc: func(ctx context.Context, topic, key string, data interface{}, headers map[string]string) error {
			gotTopic, gotKey, gotHeaders = topic, key, headers
			return nil
		},
	}

	pub := NewKafkaDLQPublisher(producer, "notification-worker", "")
	err := pub.PublishToDLQ(context.Background(), &DLQMessage{
		OriginalTopic: "registration-events",
		OriginalKey:   "event-1",
		Error:         "smtp timeout",
		Attempts:      4,
	})
	if err != nil {
		t.Fatalf("PublishToDLQ: %v", err)
	}

	if gotTopic != "registration-events.dlq" {
		t.Errorf("topic = %s, want registration-events.dlq", gotTopic)
	}
	if gotKey != "event-1" {
		t.Errorf("key = %s, want event-1", gotKey)
	}
	if gotHeaders["attempts"] != "4" || gotHeaders["source"] != "notification-worker" {
		t.Errorf("unexpected headers: %v", gotHeaders)
	}
}

func TestKafkaDLQPublisher_NilMessage(t *testing.T) {
	pub := NewKafkaDLQPublisher(&mockJSONProducer{}, "svc", ".dead")
	if err := pub.PublishToDLQ(context.Background(), nil); err == nil {
		t.Error("expected error for nil message")
	}
	if got := pub.Topic("t"); got != "t.dead" {
		t.Errorf("Topic() = %s, want t.dead", got)
	}
}

func TestDLQHandler_ProcessWithDLQ(t *testing.T) {
	cfg := &Config{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond}

	t.Run("success does not dead-letter", func(t *testing.T) {
		pub := &mockDLQPublisher{}
		h := NewDLQHandler(pub, cfg, "svc", nil)

		err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error {
			return nil
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(pub.messages) != 0 {
			t.Errorf("dead-lettered %d messages, want 0", len(pub.messages))
		}
	})

	t.Run("exhausted retries dead-letter", func(t *testing.T) {
		pub := &mockDLQPublisher{}
		var callbackMsg *DLQMessage
		h := NewDLQHandler(pub, cfg, "svc", func(msg *DLQMessage) { callbackMsg = msg })

		err := h.ProcessWithDLQ(context.Background(), &MessageContext{ID: "m1", Topic: "t"}, func(ctx context.Context) error {
			return errors.New("mailer down")
		})
		if !errors.Is(err, ErrMaxRetriesExceeded) {
			t.Errorf("err = %v, want ErrMaxRetriesExceeded", err)
		}
		if len(pub.messages) != 1 {
			t.Fatalf("dead-lettered %d messages, want 1", len(pub.messages))
		}
		msg := pub.messages[0]
		if msg.Attempts != 3 || msg.Error != "mailer down" || msg.ID != "m1" {
			t.Errorf("unexpected DLQ message: %+v", msg)
		}
		if callbackMsg != msg {
			t.Error("onDLQ callback not invoked with the DLQ message")
		}
	})

	t.Run("dlq publish failure is reported", func(t *testing.T) {
		pub := &mockDLQPublisher{err: errors.New("broker down")}
		called := false
		h := NewDLQHandler(pub, cfg, "svc", func(msg *DLQMessage) { called = true })

		err := h.ProcessWithDLQ(context.Background(), &MessageContext{Topic: "t"}, func(ctx context.Context) error {
			return Permanent(errors.New("bad payload"))
		})
		if !errors.Is(err, ErrDLQPublishFailed) {
			t.Fatalf("err = %v, want ErrDLQPublishFailed", err)
		}
		if called {
			t.Error("onDLQ invoked for a message that was not dead-lettered")
		}
	})
}
