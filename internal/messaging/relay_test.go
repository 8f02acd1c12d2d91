package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/auriance-health/auriance/internal/agent"
	"github.com/auriance-health/auriance/internal/metrics"
	"github.com/auriance-health/auriance/internal/models"
	"github.com/auriance-health/auriance/internal/store"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type fakeResponder struct {
	mu    sync.Mutex
	calls []models.UserID
	err   error
}

func (f *fakeResponder) HandleMessage(ctx context.Context, userID models.UserID, message string) (models.ChatReply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, userID)
	if f.err != nil {
		return models.ChatReply{}, f.err
	}
	return models.ChatReply{Answer: "echo: " + message, Type: models.ReplyTypeDemo}, nil
}

func waitSent(t *testing.T, svc *MockService) SentMessage {
	t.Helper()
	select {
	case msg := <-svc.SentCh():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a reply")
		return SentMessage{}
	}
}

func TestRelay_Handle(t *testing.T) {
	svc := NewMockService()
	responder := &fakeResponder{}
	m := metrics.NewMetrics("test", nil)
	relay := NewRelay(svc, responder, WithRelayMetrics(m))

	err := relay.Handle(context.Background(), models.InboundMessage{From: "+33612345678", Body: "bonjour"})
	if err != nil {
		t.Fatalf("Handle returned error: %v", err)
	}
	sent := svc.Sent()
	if len(sent) != 1 || sent[0].To != "33612345678" || sent[0].Body != "echo: bonjour" {
		t.Fatalf("unexpected sent messages: %+v", sent)
	}
	if len(responder.calls) != 1 || responder.calls[0] != "33612345678" {
		t.Errorf("expected canonical phone as user id, got %v", responder.calls)
	}
	if got := testutil.ToFloat64(m.ChatRequests.WithLabelValues("mock")); got != 1 {
		t.Errorf("expected 1 chat request counted, got %v", got)
	}
}

func TestRelay_HandleInvalidSender(t *testing.T) {
	svc := NewMockService()
	responder := &fakeResponder{}
	relay := NewRelay(svc, responder)

	if err := relay.Handle(context.Background(), models.InboundMessage{From: "abc", Body: "bonjour"}); err == nil {
		t.Fatal("expected error for invalid sender")
	}
	if len(responder.calls) != 0 || len(svc.Sent()) != 0 {
		t.Error("invalid sender must not reach the responder")
	}
}

func TestRelay_HandleProcessingError(t *testing.T) {
	svc := NewMockService()
	relay := NewRelay(svc, &fakeResponder{err: agent.ErrProcessing})

	err := relay.Handle(context.Background(), models.InboundMessage{From: "+33612345678", Body: "bonjour"})
	if !errors.Is(err, agent.ErrProcessing) {
		t.Fatalf("expected ErrProcessing, got %v", err)
	}
	sent := svc.Sent()
	if len(sent) != 1 || sent[0].Body != DefaultUnavailableMessage {
		t.Errorf("expected unavailable notice, got %+v", sent)
	}
}

func TestRelay_HandleEmptyMessageIgnored(t *testing.T) {
	svc := NewMockService()
	relay := NewRelay(svc, &fakeResponder{err: models.ErrEmptyMessage})

	if err := relay.Handle(context.Background(), models.InboundMessage{From: "+33612345678", Body: " "}); err != nil {
		t.Fatalf("expected empty message to be ignored, got %v", err)
	}
	if len(svc.Sent()) != 0 {
		t.Error("nothing should be sent for an empty message")
	}
}

func TestRelay_RunRoundTrip(t *testing.T) {
	st := store.NewInMemoryStore()
	a := agent.New(st)
	svc := NewMockService()
	relay := NewRelay(svc, a, WithConcurrency(4))

	done := make(chan error, 1)
	go func() { done <- relay.Run(context.Background()) }()

	svc.Deliver(models.InboundMessage{From: "+33612345678", Body: "j'ai du mal à m'endormir"})
	reply := waitSent(t, svc)
	if reply.To != "33612345678" || reply.Body == "" {
		t.Errorf("unexpected reply: %+v", reply)
	}

	history, err := st.GetHistory(context.Background(), "33612345678")
	if err != nil {
		t.Fatalf("GetHistory returned error: %v", err)
	}
	if len(history) != 2 || history[0].Role != models.RoleUser || history[1].Content != reply.Body {
		t.Errorf("unexpected history: %+v", history)
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop returned error: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestRelay_RunStopsOnCancel(t *testing.T) {
	svc := NewMockService()
	relay := NewRelay(svc, &fakeResponder{})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- relay.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
