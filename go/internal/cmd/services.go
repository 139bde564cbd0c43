package main

import (
	"context"
	"fmt"
	"os"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/auth"
	"github.com/mcdev12/olympia/go/internal/broadcast"
	"github.com/mcdev12/olympia/go/internal/cache"
	"github.com/mcdev12/olympia/go/internal/config"
	"github.com/mcdev12/olympia/go/internal/contestant"
	"github.com/mcdev12/olympia/go/internal/gateway"
	"github.com/mcdev12/olympia/go/internal/group"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/match"
	"github.com/mcdev12/olympia/go/internal/notify"
	"github.com/mcdev12/olympia/go/internal/relay"
	"github.com/mcdev12/olympia/go/internal/rescue"
	"github.com/mcdev12/olympia/go/internal/seed"
	"github.com/mcdev12/olympia/go/internal/store"
	"github.com/mcdev12/olympia/go/internal/store/memory"
	"github.com/mcdev12/olympia/go/internal/store/postgres"
	"github.com/mcdev12/olympia/go/internal/timer"
	"github.com/mcdev12/olympia/go/internal/users"
)

// Services holds everything main starts and stops.
type Services struct {
	Gateway  *gateway.Service
	Relay    *relay.Relay
	Listener *notify.Listener

	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		s.closers[i]()
	}
}

func (s *Services) onClose(fn func()) {
	s.closers = append(s.closers, fn)
}

func setupServices(ctx context.Context, cfg config.Config) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Registries → Apps → Router/Gateway
	svc := &Services{}
	ok := false
	defer func() {
		if !ok {
			svc.Close()
		}
	}()

	st, err := setupStore(ctx, cfg, svc)
	if err != nil {
		return nil, err
	}

	var mirror broadcast.Mirror
	if cfg.NATSEnabled {
		publisher, err := relay.NewJetStreamPublisher(ctx, cfg.Relay.JetStream)
		if err != nil {
			return nil, fmt.Errorf("failed to set up relay: %w", err)
		}
		svc.onClose(func() {
			if err := publisher.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close relay publisher")
			}
		})
		svc.Relay = relay.New(publisher, cfg.Relay.Config)
		mirror = svc.Relay
	}

	var checkpoints match.Checkpoints
	if cfg.Redis.Addr != "" {
		client, err := cache.Connect(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, err
		}
		svc.onClose(func() { client.Close() })
		checkpoints = cache.NewTimerCache(cache.NewRedisKV(client), cfg.Redis.TTL)
		log.Info().Str("addr", cfg.Redis.Addr).Msg("timer checkpoints cached in redis")
	}

	clock := clockwork.NewRealClock()
	hub := gateway.NewHub(cfg.Gateway)
	router := broadcast.NewRouter(hub, mirror, clock)
	locks := keylock.New()

	matchTimers := timer.NewRegistry(clock, timerConfig("match", cfg.Timer))
	rescueTimers := timer.NewRegistry(clock, timerConfig("rescue", cfg.Timer))
	svc.onClose(matchTimers.Close)
	svc.onClose(rescueTimers.Close)

	// Contestants
	contestants := contestant.NewApp(st, locks, router, clock)

	// Matches
	matches := match.NewApp(st, matchTimers, contestants, router, checkpoints, locks, match.Config{
		PersistEvery: cfg.Timer.PersistEvery,
	})
	matchTimers.SetSink(match.NewTimerSink(matches))

	// Rescues
	rescues := rescue.NewApp(st, rescueTimers, router, locks, clock, rescue.Config{
		DefaultSeconds:       cfg.Rescue.DefaultSeconds,
		ReinstateImmediately: cfg.Rescue.ReinstateImmediately,
	})
	rescueTimers.SetSink(rescue.NewTimerSink(rescues))

	// Groups
	groups := group.NewApp(st, users.NewApp(st), router, locks)

	svc.Gateway = gateway.NewService(hub, auth.NewIssuer(cfg.JWTSecret, cfg.TokenTTL), gateway.Deps{
		Matches:     matches,
		Contestants: contestants,
		Rescues:     rescues,
		Groups:      groups,
	})

	if cfg.Store == config.StorePostgres {
		svc.Listener, err = notify.NewListener(router, cfg.Notify)
		if err != nil {
			return nil, fmt.Errorf("failed to set up match change listener: %w", err)
		}
	}

	ok = true
	return svc, nil
}

func setupStore(ctx context.Context, cfg config.Config, svc *Services) (store.Store, error) {
	if cfg.Store == config.StorePostgres {
		database, err := setupDatabase(ctx, cfg.DB)
		if err != nil {
			return nil, err
		}
		svc.onClose(func() { database.Close() })
		return postgres.New(database), nil
	}

	st := memory.New()
	log.Warn().Msg("using in-memory store, state is lost on restart")
	if path := cfg.SeedFile; path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read seed file: %w", err)
		}
		demo, err := seed.Parse(data)
		if err != nil {
			return nil, err
		}
		if err := seed.Apply(ctx, st, demo); err != nil {
			return nil, fmt.Errorf("failed to seed memory store: %w", err)
		}
		log.Info().Str("match_id", demo.Match.ID.String()).Str("slug", demo.Match.Slug).Msg("seeded demo match")
	}
	return st, nil
}

func timerConfig(name string, cfg config.TimerConfig) timer.Config {
	tc := timer.DefaultConfig(name)
	if cfg.Interval > 0 {
		tc.Interval = cfg.Interval
	}
	return tc
}
