package match

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
)

// PlayTimer starts or resumes the countdown of the current question. A
// fresh countdown is seeded from the lower positive of the persisted and
// cached remaining time, falling back to the question's default.
func (a *App) PlayTimer(ctx context.Context, matchID uuid.UUID) (int, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}
	if err := requireQuestion(m); err != nil {
		return 0, err
	}

	initial := m.RemainingTime
	if a.cache != nil {
		cached, ok, err := a.cache.Load(ctx, matchID)
		if err != nil {
			log.Warn().Err(err).Str("match_id", matchID.String()).Msg("failed to read timer checkpoint")
		} else if ok && cached > 0 && (initial <= 0 || cached < initial) {
			initial = cached
		}
	}
	if initial <= 0 {
		q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, m.CurrentQuestion)
		if err != nil {
			return 0, err
		}
		initial = q.DefaultTime
	}

	remaining, err := a.timers.Start(matchID, initial)
	if err != nil {
		return 0, err
	}
	a.router.TimerState(matchID, remaining, true)
	return remaining, nil
}

// PauseTimer stops the countdown and persists the remaining time.
func (a *App) PauseTimer(ctx context.Context, matchID uuid.UUID) (int, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return 0, err
	}
	remaining, err := a.timers.Pause(ctx, matchID)
	if err != nil {
		return 0, err
	}
	a.router.TimerState(matchID, remaining, false)
	return remaining, nil
}

// ResetTimer puts the countdown back to the current question's default
// duration, paused.
func (a *App) ResetTimer(ctx context.Context, matchID uuid.UUID) (int, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}
	if err := requireQuestion(m); err != nil {
		return 0, err
	}
	q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, m.CurrentQuestion)
	if err != nil {
		return 0, err
	}
	if err := a.timers.Reset(ctx, matchID, q.DefaultTime); err != nil {
		return 0, err
	}
	a.router.TimerState(matchID, q.DefaultTime, false)
	return q.DefaultTime, nil
}

// UpdateTimer overrides the remaining time. The countdown is left paused.
// Zero is rejected since a paused zero would resume from the default.
func (a *App) UpdateTimer(ctx context.Context, matchID uuid.UUID, seconds int) (int, error) {
	if seconds <= 0 {
		return 0, apperr.Validation("remaining time must be positive, got %d", seconds)
	}

	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return 0, err
	}
	if err := requireOngoing(m); err != nil {
		return 0, err
	}
	if err := a.timers.SetRemaining(ctx, matchID, seconds); err != nil {
		return 0, err
	}
	a.router.TimerState(matchID, seconds, false)
	return seconds, nil
}
