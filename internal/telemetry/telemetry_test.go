package telemetry

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/clawinfra/clawrouter/internal/router"
)

type fakeToken struct{}

func (fakeToken) Wait() bool                     { return true }
func (fakeToken) WaitTimeout(time.Duration) bool { return true }
func (fakeToken) Error() error                   { return nil }

func (fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type published struct {
	topic   string
	payload []byte
}

type fakeClient struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakeClient) Connect() mqtt.Token { return fakeToken{} }
func (f *fakeClient) Disconnect(uint)     {}
func (f *fakeClient) IsConnected() bool   { return true }

func (f *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, payload: payload.([]byte)})
	return fakeToken{}
}

func (f *fakeClient) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]published, len(f.msgs))
	copy(out, f.msgs)
	return out
}

func newTestPublisher() (*MQTTPublisher, *fakeClient) {
	fc := &fakeClient{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewWithClient(fc, "test", logger), fc
}

func TestPublishDecision(t *testing.T) {
	p, fc := newTestPublisher()

	p.PublishDecision(&router.RoutingDecision{
		ID:    "d1",
		Tier:  router.TierSimple,
		Model: "gemini-2.5-flash",
	})

	msgs := fc.published()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "test/decisions" {
		t.Errorf("topic = %q", msgs[0].topic)
	}
	var got router.RoutingDecision
	if err := json.Unmarshal(msgs[0].payload, &got); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if got.ID != "d1" || got.Model != "gemini-2.5-flash" {
		t.Errorf("decoded decision = %+v", got)
	}
}

func TestPublishFeedbackClassifiesError(t *testing.T) {
	p, fc := newTestPublisher()

	p.PublishFeedback("d2", router.Observed{
		Err:       errors.New("upstream: API error 429 Too Many Requests: slow down"),
		LatencyMs: 250,
	})

	msgs := fc.published()
	if len(msgs) != 1 {
		t.Fatalf("published %d messages, want 1", len(msgs))
	}
	if msgs[0].topic != "test/feedback" {
		t.Errorf("topic = %q", msgs[0].topic)
	}
	var ev feedbackEvent
	if err := json.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("payload not valid JSON: %v", err)
	}
	if ev.DecisionID != "d2" || ev.ErrorKind != router.ErrKindRateLimit {
		t.Errorf("event = %+v", ev)
	}
	if ev.LatencyMs != 250 {
		t.Errorf("latency = %d, want 250", ev.LatencyMs)
	}
}

func TestDisabledPublisher(t *testing.T) {
	var p Publisher = Disabled{}
	p.PublishDecision(&router.RoutingDecision{ID: "x"})
	p.PublishFeedback("x", router.Observed{Success: true})
	p.Close()
}
