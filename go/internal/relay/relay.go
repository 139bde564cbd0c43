// Package relay mirrors broadcast events to a message bus for downstream
// consumers. Publishing is asynchronous so a slow or absent broker never
// holds up the router.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/broadcast"
)

// Publisher delivers one encoded event.
type Publisher interface {
	Publish(ctx context.Context, event *broadcast.Event, data []byte) error
}

// Config tunes the worker.
type Config struct {
	BufferSize     int           `yaml:"buffer_size"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryDelay     time.Duration `yaml:"retry_delay"`
}

func DefaultConfig() Config {
	return Config{
		BufferSize:     1024,
		PublishTimeout: 5 * time.Second,
		MaxRetries:     3,
		RetryDelay:     200 * time.Millisecond,
	}
}

// Relay implements broadcast.Mirror on top of a Publisher.
type Relay struct {
	publisher Publisher
	config    Config
	queue     chan *broadcast.Event

	mu      sync.Mutex
	running bool
	wg      sync.WaitGroup

	statsMu   sync.Mutex
	published int
	failed    int
	dropped   int
}

func New(publisher Publisher, cfg Config) *Relay {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = def.PublishTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	return &Relay{
		publisher: publisher,
		config:    cfg,
		queue:     make(chan *broadcast.Event, cfg.BufferSize),
	}
}

// Mirror queues event for publishing. A full buffer drops the event.
func (r *Relay) Mirror(event *broadcast.Event) {
	select {
	case r.queue <- event:
	default:
		r.count(&r.dropped)
		log.Warn().
			Str("event_id", event.ID).
			Str("event_type", string(event.Type)).
			Msg("relay buffer full, dropping event")
	}
}

// Start launches the publishing worker. Queued events are flushed when ctx
// is cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return fmt.Errorf("relay already running")
	}
	r.running = true
	r.wg.Add(1)
	go r.run(ctx)
	log.Info().Int("buffer_size", r.config.BufferSize).Msg("relay worker started")
	return nil
}

// Wait blocks until the worker has exited.
func (r *Relay) Wait() {
	r.wg.Wait()
}

func (r *Relay) run(ctx context.Context) {
	defer r.wg.Done()
	for {
		select {
		case event := <-r.queue:
			r.publish(event)
		case <-ctx.Done():
			r.drain()
			log.Info().Msg("relay worker stopped")
			return
		}
	}
}

// drain publishes what is already queued.
func (r *Relay) drain() {
	for {
		select {
		case event := <-r.queue:
			r.publish(event)
		default:
			return
		}
	}
}

// publish is detached from the worker context so shutdown still flushes.
func (r *Relay) publish(event *broadcast.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		r.count(&r.failed)
		log.Error().Err(err).Str("event_id", event.ID).Msg("failed to marshal event for relay")
		return
	}

	for attempt := 0; ; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), r.config.PublishTimeout)
		err = r.publisher.Publish(ctx, event, data)
		cancel()
		if err == nil {
			r.count(&r.published)
			return
		}
		if attempt >= r.config.MaxRetries {
			break
		}
		time.Sleep(r.config.RetryDelay * time.Duration(attempt+1))
	}

	r.count(&r.failed)
	log.Error().
		Err(err).
		Str("event_id", event.ID).
		Str("event_type", string(event.Type)).
		Str("match_id", event.MatchID).
		Msg("failed to relay event")
}

func (r *Relay) count(n *int) {
	r.statsMu.Lock()
	*n++
	r.statsMu.Unlock()
}

// Stats reports worker counters.
type Stats struct {
	Published int `json:"published"`
	Failed    int `json:"failed"`
	Dropped   int `json:"dropped"`
	Queued    int `json:"queued"`
}

func (r *Relay) Stats() Stats {
	r.statsMu.Lock()
	defer r.statsMu.Unlock()
	return Stats{Published: r.published, Failed: r.failed, Dropped: r.dropped, Queued: len(r.queue)}
}
