// Package timer implements the keyed countdown registry that backs match
// timers and rescue countdowns. Each key owns at most one repeating tick.
package timer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
)

// Clock is the interface we use for time operations.
// In production, use clockwork.NewRealClock(). In tests, a FakeClock.
type Clock interface {
	Now() time.Time
	NewTicker(d time.Duration) clockwork.Ticker
}

// Sink receives the output of the registry. OnTick and OnExpire are called
// from one writer goroutine per entry, in tick order. OnCheckpoint is called
// synchronously by Pause, Reset and SetRemaining.
type Sink interface {
	OnTick(ctx context.Context, key uuid.UUID, remaining int)
	OnExpire(ctx context.Context, key uuid.UUID)
	OnCheckpoint(ctx context.Context, key uuid.UUID, remaining int) error
}

// ErrClosed is returned by Start after Close.
var ErrClosed = errors.New("timer registry closed")

// Config holds registry tunables.
type Config struct {
	Name      string        // used in logs ("match", "rescue")
	Interval  time.Duration // tick period
	QueueSize int           // buffered ticks per entry before the ticker blocks
}

// DefaultConfig returns a one second tick.
func DefaultConfig(name string) Config {
	return Config{
		Name:      name,
		Interval:  time.Second,
		QueueSize: 64,
	}
}

type tick struct {
	remaining int
	expired   bool
}

type entry struct {
	remaining int
	running   bool

	// Owned by the current run. stop and ticking are nil while paused;
	// flushed survives until the next Start so writers never overlap.
	stop    chan struct{}
	ticking chan struct{}
	flushed chan struct{}
}

// Registry owns the live countdowns for one kind of key.
type Registry struct {
	cfg   Config
	clock Clock
	sink  Sink
	ctx   context.Context

	mu      sync.Mutex
	entries map[uuid.UUID]*entry
	closed  bool
}

// NewRegistry creates a registry. SetSink must be called before Start.
func NewRegistry(clock Clock, cfg Config) *Registry {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Registry{
		cfg:     cfg,
		clock:   clock,
		ctx:     context.Background(),
		entries: make(map[uuid.UUID]*entry),
	}
}

// SetSink binds the consumer of ticks.
func (r *Registry) SetSink(sink Sink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = sink
}

// Start begins counting down key. A paused entry resumes from its stored
// remaining time; a missing or exhausted entry is seeded with initialSeconds.
// It fails with apperr.ErrAlreadyRunning if key is already ticking.
func (r *Registry) Start(key uuid.UUID, initialSeconds int) (int, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, ErrClosed
	}
	if r.sink == nil {
		r.mu.Unlock()
		return 0, fmt.Errorf("timer registry %s has no sink", r.cfg.Name)
	}

	e, ok := r.entries[key]
	if ok && e.running {
		r.mu.Unlock()
		return 0, apperr.ErrAlreadyRunning
	}
	if !ok {
		e = &entry{}
	}
	if e.remaining <= 0 {
		if initialSeconds <= 0 {
			r.mu.Unlock()
			return 0, apperr.Validation("timer needs a positive duration, got %d", initialSeconds)
		}
		e.remaining = initialSeconds
	}
	r.entries[key] = e

	prev := e.flushed
	stop := make(chan struct{})
	ticking := make(chan struct{})
	flushed := make(chan struct{})
	queue := make(chan tick, r.cfg.QueueSize)

	e.running = true
	e.stop, e.ticking, e.flushed = stop, ticking, flushed
	remaining := e.remaining

	// Created under the lock so a fake clock has the ticker registered
	// before Start returns.
	ticker := r.clock.NewTicker(r.cfg.Interval)
	r.mu.Unlock()

	go r.write(key, queue, prev, flushed)
	go r.run(key, e, ticker, stop, ticking, queue)

	log.Debug().
		Str("timer", r.cfg.Name).
		Str("key", key.String()).
		Int("remaining", remaining).
		Msg("timer started")
	return remaining, nil
}

// Pause stops the tick for key and persists the remaining time. It fails
// with apperr.ErrTimerNotFound if the key has no entry.
func (r *Registry) Pause(ctx context.Context, key uuid.UUID) (int, error) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return 0, apperr.ErrTimerNotFound
	}
	stop, ticking, flushed := e.detach()
	remaining := e.remaining
	sink := r.sink
	r.mu.Unlock()

	halt(stop, ticking, flushed)

	log.Debug().
		Str("timer", r.cfg.Name).
		Str("key", key.String()).
		Int("remaining", remaining).
		Msg("timer paused")

	if err := sink.OnCheckpoint(ctx, key, remaining); err != nil {
		return remaining, fmt.Errorf("failed to persist paused timer: %w", err)
	}
	return remaining, nil
}

// Reset stops any tick for key and overwrites its remaining time with the
// default duration supplied by the caller. The entry is left paused.
func (r *Registry) Reset(ctx context.Context, key uuid.UUID, seconds int) error {
	return r.overwrite(ctx, key, seconds)
}

// SetRemaining is an operator override of the remaining time. The entry is
// left paused.
func (r *Registry) SetRemaining(ctx context.Context, key uuid.UUID, seconds int) error {
	return r.overwrite(ctx, key, seconds)
}

func (r *Registry) overwrite(ctx context.Context, key uuid.UUID, seconds int) error {
	if seconds < 0 {
		return apperr.Validation("remaining time cannot be negative, got %d", seconds)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}
	e, ok := r.entries[key]
	if !ok {
		e = &entry{}
		r.entries[key] = e
	}
	stop, ticking, flushed := e.detach()
	e.remaining = seconds
	sink := r.sink
	r.mu.Unlock()

	halt(stop, ticking, flushed)

	if sink == nil {
		return nil
	}
	if err := sink.OnCheckpoint(ctx, key, seconds); err != nil {
		return fmt.Errorf("failed to persist timer: %w", err)
	}
	return nil
}

// Stop cancels and forgets key. It reports the remaining time and whether
// an entry existed. Nothing is persisted.
func (r *Registry) Stop(key uuid.UUID) (int, bool) {
	r.mu.Lock()
	e, ok := r.entries[key]
	if !ok {
		r.mu.Unlock()
		return 0, false
	}
	delete(r.entries, key)
	stop, ticking, flushed := e.detach()
	remaining := e.remaining
	r.mu.Unlock()

	halt(stop, ticking, flushed)
	return remaining, true
}

// Snapshot reports the live state of key.
func (r *Registry) Snapshot(key uuid.UUID) (remaining int, running bool, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[key]
	if !ok {
		return 0, false, false
	}
	return e.remaining, e.running, true
}

// Running returns the number of ticking entries.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.running {
			n++
		}
	}
	return n
}

// Close stops every entry and rejects further starts.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	type handles struct{ stop, ticking, flushed chan struct{} }
	var all []handles
	for key, e := range r.entries {
		s, t, f := e.detach()
		all = append(all, handles{s, t, f})
		delete(r.entries, key)
	}
	r.mu.Unlock()

	for _, h := range all {
		halt(h.stop, h.ticking, h.flushed)
	}
	log.Info().Str("timer", r.cfg.Name).Int("stopped", len(all)).Msg("timer registry closed")
}

// detach marks e paused and hands its run handles to the caller, who must
// halt them outside the registry lock.
func (e *entry) detach() (stop, ticking, flushed chan struct{}) {
	stop, ticking, flushed = e.stop, e.ticking, e.flushed
	e.running = false
	e.stop, e.ticking = nil, nil
	return stop, ticking, flushed
}

// halt cancels a run and waits until its writer has delivered every queued
// tick, so nothing for that run reaches the sink afterwards.
func halt(stop, ticking, flushed chan struct{}) {
	if stop != nil {
		close(stop)
		<-ticking
	}
	if flushed != nil {
		<-flushed
	}
}

func (r *Registry) run(key uuid.UUID, e *entry, ticker clockwork.Ticker, stop, ticking chan struct{}, queue chan<- tick) {
	defer close(ticking)
	defer close(queue)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			r.mu.Lock()
			if e.stop != stop {
				// Cancelled between the tick firing and taking the lock.
				r.mu.Unlock()
				return
			}
			e.remaining--
			if e.remaining < 0 {
				e.remaining = 0
			}
			t := tick{remaining: e.remaining, expired: e.remaining == 0}
			if t.expired {
				e.running = false
				e.stop, e.ticking = nil, nil
			}
			r.mu.Unlock()

			queue <- t
			if t.expired {
				log.Debug().Str("timer", r.cfg.Name).Str("key", key.String()).Msg("timer expired")
				return
			}
		}
	}
}

func (r *Registry) write(key uuid.UUID, queue <-chan tick, prev <-chan struct{}, flushed chan struct{}) {
	defer close(flushed)
	if prev != nil {
		<-prev
	}

	r.mu.Lock()
	sink := r.sink
	r.mu.Unlock()

	for t := range queue {
		if t.expired {
			sink.OnExpire(r.ctx, key)
			continue
		}
		sink.OnTick(r.ctx, key, t.remaining)
	}
}
