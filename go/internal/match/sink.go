package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// TimerSink persists and broadcasts match countdown ticks. It never takes
// the match lock: Pause and Stop wait for it to drain while holding that lock.
type TimerSink struct {
	app *App

	mu    sync.Mutex
	ticks map[uuid.UUID]int
}

// NewTimerSink binds a sink to app. Register it with the match registry's
// SetSink.
func NewTimerSink(app *App) *TimerSink {
	return &TimerSink{app: app, ticks: make(map[uuid.UUID]int)}
}

func (s *TimerSink) OnTick(ctx context.Context, matchID uuid.UUID, remaining int) {
	s.mu.Lock()
	s.ticks[matchID]++
	persist := s.ticks[matchID]%s.app.cfg.PersistEvery == 0
	s.mu.Unlock()

	if persist {
		if err := s.app.store.UpdateRemainingTime(ctx, matchID, remaining); err != nil {
			log.Error().Err(err).Str("match_id", matchID.String()).Int("remaining", remaining).Msg("failed to persist timer tick")
		}
	}
	s.checkpoint(ctx, matchID, remaining, true)
	s.app.router.TimerUpdate(matchID, remaining)
}

func (s *TimerSink) OnExpire(ctx context.Context, matchID uuid.UUID) {
	s.reset(matchID)
	if err := s.app.store.UpdateRemainingTime(ctx, matchID, 0); err != nil {
		log.Error().Err(err).Str("match_id", matchID.String()).Msg("failed to persist expired timer")
	}
	s.checkpoint(ctx, matchID, 0, false)
	log.Info().Str("match_id", matchID.String()).Msg("question timer ended")
	s.app.router.TimerEnded(matchID)
}

func (s *TimerSink) OnCheckpoint(ctx context.Context, matchID uuid.UUID, remaining int) error {
	s.reset(matchID)
	if err := s.app.store.UpdateRemainingTime(ctx, matchID, remaining); err != nil {
		return fmt.Errorf("failed to persist remaining time: %w", err)
	}
	s.checkpoint(ctx, matchID, remaining, false)
	return nil
}

func (s *TimerSink) reset(matchID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.ticks, matchID)
}

func (s *TimerSink) checkpoint(ctx context.Context, matchID uuid.UUID, remaining int, running bool) {
	if s.app.cache == nil {
		return
	}
	if err := s.app.cache.Save(ctx, matchID, remaining, running); err != nil {
		log.Warn().Err(err).Str("match_id", matchID.String()).Msg("failed to cache timer checkpoint")
	}
}
