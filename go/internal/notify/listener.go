// Package notify turns Postgres NOTIFY messages about matches edited outside
// this process into match:changed broadcasts.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
)

// Router receives parsed change notifications.
type Router interface {
	MatchChanged(matchID uuid.UUID, op string)
}

type ListenerConfig struct {
	DatabaseURL   string        `yaml:"-"`
	NotifyChannel string        `yaml:"channel"`
	PingInterval  time.Duration `yaml:"ping_interval"`
	MinReconnect  time.Duration `yaml:"min_reconnect"`
	MaxReconnect  time.Duration `yaml:"max_reconnect"`
}

func DefaultListenerConfig() ListenerConfig {
	return ListenerConfig{
		NotifyChannel: "match_changes",
		PingInterval:  90 * time.Second,
		MinReconnect:  10 * time.Second,
		MaxReconnect:  time.Minute,
	}
}

// Change is the NOTIFY payload written by the notify_match_change trigger.
type Change struct {
	MatchID uuid.UUID `json:"match_id"`
	Op      string    `json:"op"`
}

// ParseChange decodes a notification payload.
func ParseChange(extra string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(extra), &c); err != nil {
		return Change{}, fmt.Errorf("invalid change payload: %w", err)
	}
	if c.MatchID == uuid.Nil {
		return Change{}, fmt.Errorf("change payload has no match_id")
	}
	return c, nil
}

type Listener struct {
	listener *pq.Listener
	router   Router
	cfg      ListenerConfig
}

func NewListener(router Router, cfg ListenerConfig) (*Listener, error) {
	def := DefaultListenerConfig()
	if cfg.NotifyChannel == "" {
		cfg.NotifyChannel = def.NotifyChannel
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.MinReconnect <= 0 {
		cfg.MinReconnect = def.MinReconnect
	}
	if cfg.MaxReconnect <= 0 {
		cfg.MaxReconnect = def.MaxReconnect
	}

	l := pq.NewListener(
		cfg.DatabaseURL,
		cfg.MinReconnect,
		cfg.MaxReconnect,
		func(ev pq.ListenerEventType, err error) {
			if err != nil {
				log.Error().Err(err).Msg("listener event")
			}
		},
	)
	if err := l.Listen(cfg.NotifyChannel); err != nil {
		l.Close()
		return nil, fmt.Errorf("failed to listen to channel: %w", err)
	}

	return &Listener{listener: l, router: router, cfg: cfg}, nil
}

// Start blocks until ctx is cancelled.
func (l *Listener) Start(ctx context.Context) error {
	log.Info().
		Str("channel", l.cfg.NotifyChannel).
		Dur("ping_interval", l.cfg.PingInterval).
		Msg("match change listener started")

	pingTicker := time.NewTicker(l.cfg.PingInterval)
	defer pingTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("match change listener shutting down")
			return l.Stop()
		case note := <-l.listener.Notify:
			if note == nil {
				// connection was re-established; changes in the gap are lost
				log.Warn().Msg("match change listener reconnected")
				continue
			}
			l.handle(note.Extra)
		case <-pingTicker.C:
			if err := l.listener.Ping(); err != nil {
				log.Error().Err(err).Msg("failed to ping listener")
			}
		}
	}
}

func (l *Listener) Stop() error {
	return l.listener.Close()
}

func (l *Listener) handle(extra string) {
	dispatch(l.router, extra)
}

func dispatch(router Router, extra string) {
	c, err := ParseChange(extra)
	if err != nil {
		log.Error().Err(err).Str("payload", extra).Msg("dropping match change notification")
		return
	}
	log.Debug().Str("match_id", c.MatchID.String()).Str("op", c.Op).Msg("match changed externally")
	router.MatchChanged(c.MatchID, c.Op)
}
