package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/broadcast"
)

type fakePublisher struct {
	mu       sync.Mutex
	failures int
	got      []string
}

func (p *fakePublisher) Publish(ctx context.Context, event *broadcast.Event, data []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failures > 0 {
		p.failures--
		return errors.New("broker unavailable")
	}
	p.got = append(p.got, event.ID)
	return nil
}

func (p *fakePublisher) published() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.got...)
}

func newEvent(t *testing.T, typ broadcast.EventType) *broadcast.Event {
	t.Helper()
	e, err := broadcast.NewEvent(uuid.New(), typ, time.Now(), map[string]int{"n": 1})
	if err != nil {
		t.Fatalf("new event: %v", err)
	}
	return e
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestRelayPublishesInOrderWithRetry(t *testing.T) {
	pub := &fakePublisher{failures: 2}
	r := New(pub, Config{BufferSize: 8, MaxRetries: 3, RetryDelay: time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := r.Start(ctx); err == nil {
		t.Fatalf("expected second start to fail")
	}

	a, b := newEvent(t, broadcast.EventTimerUpdate), newEvent(t, broadcast.EventTimerEnded)
	r.Mirror(a)
	r.Mirror(b)

	waitFor(t, func() bool { return len(pub.published()) == 2 })
	got := pub.published()
	if got[0] != a.ID || got[1] != b.ID {
		t.Fatalf("expected events in mirror order, got %v", got)
	}
	if s := r.Stats(); s.Published != 2 || s.Failed != 0 {
		t.Fatalf("expected 2 published and no failures, got %+v", s)
	}
}

func TestRelayDropsWhenFull(t *testing.T) {
	r := New(&fakePublisher{}, Config{BufferSize: 1})

	r.Mirror(newEvent(t, broadcast.EventTimerUpdate))
	r.Mirror(newEvent(t, broadcast.EventTimerUpdate))
	if s := r.Stats(); s.Dropped != 1 || s.Queued != 1 {
		t.Fatalf("expected one queued and one dropped, got %+v", s)
	}
}

func TestRelayDrainsOnShutdown(t *testing.T) {
	pub := &fakePublisher{}
	r := New(pub, Config{BufferSize: 4})
	for i := 0; i < 3; i++ {
		r.Mirror(newEvent(t, broadcast.EventRescueUpdate))
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := r.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	r.Wait()
	if n := len(pub.published()); n != 3 {
		t.Fatalf("expected queued events flushed on shutdown, got %d", n)
	}
}

func TestSubject(t *testing.T) {
	if got := Subject("match.events", broadcast.EventTimerUpdate); got != "match.events.timer.update" {
		t.Fatalf("expected match.events.timer.update, got %s", got)
	}
}
