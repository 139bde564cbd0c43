// Package rescue runs the reprieve workflow that returns eliminated
// contestants to play, each rescue with its own countdown.
package rescue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

// Timers is the rescue countdown registry, keyed by rescue id.
type Timers interface {
	Start(key uuid.UUID, initialSeconds int) (int, error)
	Stop(key uuid.UUID) (int, bool)
}

// Router is the part of the broadcast router used by rescues.
type Router interface {
	RescueProposed(rescue *models.Rescue)
	RescueUpdate(rescue *models.Rescue)
	RescueResolved(rescue *models.Rescue, rescued []uuid.UUID)
	ContestantsUpdated(matchID uuid.UUID, questionOrder int, changes []events.ContestantChange)
}

// Config holds rescue tunables.
type Config struct {
	DefaultSeconds int
	// ReinstateImmediately puts rescued contestants straight back in play
	// instead of waiting for the next question.
	ReinstateImmediately bool
}

// App handles rescue business logic
type App struct {
	store       store.Store
	timers      Timers
	router      Router
	matchLocks  *keylock.Set
	rescueLocks *keylock.Set
	clock       clockwork.Clock
	cfg         Config
}

// NewApp creates a new rescue App. matchLocks must be shared with the match
// and contestant apps.
func NewApp(st store.Store, timers Timers, router Router, matchLocks *keylock.Set, clock clockwork.Clock, cfg Config) *App {
	if cfg.DefaultSeconds <= 0 {
		cfg.DefaultSeconds = 30
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{
		store:       st,
		timers:      timers,
		router:      router,
		matchLocks:  matchLocks,
		rescueLocks: keylock.New(),
		clock:       clock,
		cfg:         cfg,
	}
}

// ProposeRequest opens a rescue for the listed registration numbers. Only
// contestants currently eliminated are included.
type ProposeRequest struct {
	MatchID             uuid.UUID
	RegistrationNumbers []int
	Seconds             int
}

// Propose creates a proposed rescue at the current question and starts its
// countdown. A match has at most one proposed rescue at a time.
func (a *App) Propose(ctx context.Context, req ProposeRequest) (*models.Rescue, error) {
	if len(req.RegistrationNumbers) == 0 {
		return nil, apperr.Validation("at least one registration number is required")
	}
	if req.Seconds < 0 {
		return nil, apperr.Validation("rescue countdown cannot be negative, got %d", req.Seconds)
	}
	seconds := req.Seconds
	if seconds == 0 {
		seconds = a.cfg.DefaultSeconds
	}

	unlock := a.matchLocks.Lock(req.MatchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchStatusOngoing {
		return nil, apperr.InvalidTransition("match is %s, not ongoing", m.Status)
	}

	existing, err := a.store.ListRescues(ctx, req.MatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rescues: %w", err)
	}
	for _, r := range existing {
		if r.Status == models.RescueStatusProposed {
			return nil, apperr.Conflict("rescue_pending", "rescue %s is still pending", r.ID)
		}
	}

	cms, err := a.store.ListContestantMatches(ctx, req.MatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	wanted := make(map[int]bool, len(req.RegistrationNumbers))
	for _, n := range req.RegistrationNumbers {
		wanted[n] = true
	}
	var ids []uuid.UUID
	for _, cm := range cms {
		if wanted[cm.RegistrationNumber] && cm.Status == models.ContestantStatusEliminated {
			ids = append(ids, cm.ContestantID)
		}
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("none of the listed contestants is eliminated")
	}

	r := &models.Rescue{
		MatchID:       req.MatchID,
		QuestionOrder: m.CurrentQuestion,
		Status:        models.RescueStatusProposed,
		ContestantIDs: ids,
		RemainingTime: seconds,
	}
	if err := a.store.CreateRescue(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to create rescue: %w", err)
	}
	if _, err := a.timers.Start(r.ID, seconds); err != nil {
		return nil, fmt.Errorf("failed to start rescue countdown: %w", err)
	}

	log.Info().
		Str("match_id", req.MatchID.String()).
		Str("rescue_id", r.ID.String()).
		Int("contestants", len(ids)).
		Int("seconds", seconds).
		Msg("rescue proposed")

	a.router.RescueProposed(r)
	return r, nil
}

// Resolve applies a proposed rescue now. Resolving twice fails with
// apperr.ErrAlreadyProcessed.
func (a *App) Resolve(ctx context.Context, rescueID uuid.UUID) (*models.Rescue, error) {
	r, err := a.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	// Stop before taking the match lock; lapse handling takes it from the
	// timer's writer goroutine.
	a.timers.Stop(rescueID)
	return a.apply(ctx, r.MatchID, rescueID)
}

// Cancel withdraws a proposed rescue without reinstating anybody.
func (a *App) Cancel(ctx context.Context, rescueID uuid.UUID) (*models.Rescue, error) {
	r, err := a.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	a.timers.Stop(rescueID)

	unlock := a.matchLocks.Lock(r.MatchID)
	defer unlock()
	release := a.rescueLocks.Lock(rescueID)
	defer release()

	r, err = a.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RescueStatusProposed {
		return nil, apperr.ErrAlreadyProcessed
	}
	r.Status = models.RescueStatusNotUsed
	if err := a.store.UpdateRescue(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to cancel rescue: %w", err)
	}

	log.Info().Str("match_id", r.MatchID.String()).Str("rescue_id", r.ID.String()).Msg("rescue cancelled")
	a.router.RescueResolved(r, nil)
	return r, nil
}

// SubmitSupportAnswer records a contestant's answer in support of a pending
// rescue. Each contestant may support a rescue once.
func (a *App) SubmitSupportAnswer(ctx context.Context, rescueID, contestantID uuid.UUID, answer string) (*models.Rescue, error) {
	release := a.rescueLocks.Lock(rescueID)
	defer release()

	r, err := a.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RescueStatusProposed {
		return nil, apperr.InvalidTransition("rescue is %s, not accepting answers", r.Status)
	}
	if _, err := a.store.GetContestantMatch(ctx, r.MatchID, contestantID); err != nil {
		return nil, err
	}
	for _, s := range r.SupportAnswers {
		if s.ContestantID == contestantID {
			return nil, fmt.Errorf("support answer from %s: %w", contestantID, apperr.ErrDuplicate)
		}
	}

	r.SupportAnswers = append(r.SupportAnswers, models.SupportAnswer{
		ContestantID: contestantID,
		Answer:       answer,
		SubmittedAt:  a.clock.Now().UTC(),
	})
	if err := a.store.UpdateRescue(ctx, r); err != nil {
		return nil, fmt.Errorf("failed to record support answer: %w", err)
	}
	a.router.RescueUpdate(r)
	return r, nil
}

// List returns every rescue of a match, oldest first.
func (a *App) List(ctx context.Context, matchID uuid.UUID) ([]models.Rescue, error) {
	return a.store.ListRescues(ctx, matchID)
}

// apply marks a proposed rescue used and moves its eliminated contestants
// to rescued, or to in_progress when configured. A rescue whose match is no
// longer ongoing lapses to not_used. The countdown must already be stopped
// or be the caller.
func (a *App) apply(ctx context.Context, matchID, rescueID uuid.UUID) (*models.Rescue, error) {
	unlock := a.matchLocks.Lock(matchID)
	defer unlock()
	release := a.rescueLocks.Lock(rescueID)
	defer release()

	r, err := a.store.GetRescue(ctx, rescueID)
	if err != nil {
		return nil, err
	}
	if r.Status != models.RescueStatusProposed {
		return nil, apperr.ErrAlreadyProcessed
	}
	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	if m.Status != models.MatchStatusOngoing {
		r.Status = models.RescueStatusNotUsed
		if err := a.store.UpdateRescue(ctx, r); err != nil {
			return nil, fmt.Errorf("failed to close rescue: %w", err)
		}
		a.router.RescueResolved(r, nil)
		return r, nil
	}

	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	judges := make(map[uuid.UUID]*uuid.UUID, len(groups))
	for _, g := range groups {
		judges[g.ID] = g.JudgeUserID
	}

	target := models.ContestantStatusRescued
	if a.cfg.ReinstateImmediately {
		target = models.ContestantStatusInProgress
	}

	var rescued []uuid.UUID
	var changes []events.ContestantChange
	err = a.store.InTx(ctx, func(tx store.Store) error {
		rescued, changes = nil, nil
		order := m.CurrentQuestion
		for _, id := range r.ContestantIDs {
			cm, err := tx.GetContestantMatch(ctx, matchID, id)
			if err != nil {
				return err
			}
			if cm.Status != models.ContestantStatusEliminated {
				continue
			}
			updated, err := tx.UpdateContestantStatus(ctx, store.StatusUpdate{
				MatchID:      matchID,
				ContestantID: id,
				Status:       target,
				RescuedAt:    &order,
			})
			if err != nil {
				return err
			}
			var judgeID *uuid.UUID
			if updated.GroupID != nil {
				judgeID = judges[*updated.GroupID]
			}
			rescued = append(rescued, id)
			changes = append(changes, events.NewContestantChange(updated, judgeID))
		}
		r.Status = models.RescueStatusUsed
		return tx.UpdateRescue(ctx, r)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to apply rescue: %w", err)
	}

	log.Info().
		Str("match_id", matchID.String()).
		Str("rescue_id", rescueID.String()).
		Int("rescued", len(rescued)).
		Msg("rescue resolved")

	a.router.RescueResolved(r, rescued)
	a.router.ContestantsUpdated(matchID, m.CurrentQuestion, changes)
	return r, nil
}
