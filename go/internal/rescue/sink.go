package rescue

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
)

// TimerSink persists rescue countdown ticks and applies a rescue when its
// countdown lapses.
type TimerSink struct {
	app *App
}

// NewTimerSink binds a sink to app. Register it with the rescue registry's
// SetSink.
func NewTimerSink(app *App) *TimerSink {
	return &TimerSink{app: app}
}

func (s *TimerSink) OnTick(ctx context.Context, rescueID uuid.UUID, remaining int) {
	r, err := s.save(ctx, rescueID, remaining)
	if err != nil {
		log.Error().Err(err).Str("rescue_id", rescueID.String()).Msg("failed to persist rescue tick")
		return
	}
	if r.Status == models.RescueStatusProposed {
		s.app.router.RescueUpdate(r)
	}
}

func (s *TimerSink) OnExpire(ctx context.Context, rescueID uuid.UUID) {
	r, err := s.save(ctx, rescueID, 0)
	if err != nil {
		log.Error().Err(err).Str("rescue_id", rescueID.String()).Msg("failed to persist lapsed rescue")
		return
	}
	if _, err := s.app.apply(ctx, r.MatchID, rescueID); err != nil && !errors.Is(err, apperr.ErrAlreadyProcessed) {
		log.Error().Err(err).Str("rescue_id", rescueID.String()).Msg("failed to apply lapsed rescue")
	}
	// Stop waits for this writer to return, so it cannot run inline.
	go s.app.timers.Stop(rescueID)
}

func (s *TimerSink) OnCheckpoint(ctx context.Context, rescueID uuid.UUID, remaining int) error {
	_, err := s.save(ctx, rescueID, remaining)
	return err
}

func (s *TimerSink) save(ctx context.Context, rescueID uuid.UUID, remaining int) (*models.Rescue, error) {
	release := s.app.rescueLocks.Lock(rescueID)
	defer release()

	r, err := s.app.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RescueStatusProposed {
		return r, nil
	}
	r.RemainingTime = remaining
	if err := s.app.store.UpdateRescue(ctx, r); err != nil {
		return nil, err
	}
	return r, nil
}
