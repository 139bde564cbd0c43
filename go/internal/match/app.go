// Package match drives a match through upcoming, ongoing and finished and
// owns its question pointer and countdown.
package match

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

// Timers is the match countdown registry.
type Timers interface {
	Start(key uuid.UUID, initialSeconds int) (int, error)
	Pause(ctx context.Context, key uuid.UUID) (int, error)
	Reset(ctx context.Context, key uuid.UUID, seconds int) error
	SetRemaining(ctx context.Context, key uuid.UUID, seconds int) error
	Stop(key uuid.UUID) (int, bool)
	Snapshot(key uuid.UUID) (remaining int, running bool, ok bool)
}

// Progress is the contestant side of a question transition. ResolveQuestion
// and ConsumeRescues run under the match lock held by this package, and
// ConsumeRescues writes through the caller's transaction.
type Progress interface {
	ResolveQuestion(ctx context.Context, matchID uuid.UUID, order int) (int, error)
	ConsumeRescues(ctx context.Context, tx store.Store, matchID uuid.UUID) ([]events.ContestantChange, error)
	Stats(ctx context.Context, matchID uuid.UUID) (*events.MatchStats, error)
}

// Router is the part of the broadcast router used by match transitions.
type Router interface {
	MatchStarted(m *models.Match)
	QuestionSelected(m *models.Match, reinstated int)
	QuestionShown(m *models.Match, q *models.Question, remaining int)
	TimerUpdate(matchID uuid.UUID, remaining int)
	TimerEnded(matchID uuid.UUID)
	TimerState(matchID uuid.UUID, remaining int, running bool)
	ContestantsUpdated(matchID uuid.UUID, questionOrder int, changes []events.ContestantChange)
	MatchEnded(m *models.Match, stats *events.MatchStats)
}

// Checkpoints caches the live countdown outside the process.
type Checkpoints interface {
	Save(ctx context.Context, matchID uuid.UUID, remaining int, running bool) error
	Load(ctx context.Context, matchID uuid.UUID) (remaining int, ok bool, err error)
	Clear(ctx context.Context, matchID uuid.UUID) error
}

// Config holds match tunables.
type Config struct {
	// PersistEvery writes remainingTime to the store every N ticks. Expiry,
	// pause and overrides always persist.
	PersistEvery int
}

// App handles match lifecycle business logic
type App struct {
	store    store.Store
	timers   Timers
	progress Progress
	router   Router
	cache    Checkpoints
	locks    *keylock.Set
	cfg      Config

	mu       sync.Mutex
	revealed map[uuid.UUID]int
}

// NewApp creates a new match App. cache may be nil.
func NewApp(st store.Store, timers Timers, progress Progress, router Router, cache Checkpoints, locks *keylock.Set, cfg Config) *App {
	if cfg.PersistEvery <= 0 {
		cfg.PersistEvery = 1
	}
	return &App{
		store:    st,
		timers:   timers,
		progress: progress,
		router:   router,
		cache:    cache,
		locks:    locks,
		cfg:      cfg,
		revealed: make(map[uuid.UUID]int),
	}
}

var allowedTransitions = map[models.MatchStatus][]models.MatchStatus{
	models.MatchStatusUpcoming: {models.MatchStatusOngoing},
	models.MatchStatusOngoing:  {models.MatchStatusFinished},
	models.MatchStatusFinished: {},
}

func validateStatusTransition(from, to models.MatchStatus) error {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return nil
		}
	}
	return apperr.InvalidTransition("match cannot go from %s to %s", from, to)
}

func requireOngoing(m *models.Match) error {
	if m.Status != models.MatchStatusOngoing {
		return apperr.InvalidTransition("match is %s, not ongoing", m.Status)
	}
	return nil
}

func requireQuestion(m *models.Match) error {
	if err := requireOngoing(m); err != nil {
		return err
	}
	if m.CurrentQuestion <= 0 {
		return apperr.InvalidTransition("match has no current question")
	}
	return nil
}

// Start opens an upcoming match on question 1 without revealing it.
func (a *App) Start(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := validateStatusTransition(m.Status, models.MatchStatusOngoing); err != nil {
		return nil, err
	}

	m, err = a.store.UpdateMatchState(ctx, matchID, store.MatchStateUpdate{
		Status:          models.MatchStatusOngoing,
		CurrentQuestion: 1,
		RemainingTime:   0,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start match: %w", err)
	}
	a.setRevealed(matchID, 0)

	log.Info().Str("match_id", matchID.String()).Str("slug", m.Slug).Msg("match started")
	a.router.MatchStarted(m)
	return m, nil
}

// AdvanceToQuestion resolves the question being left, moves the pointer to
// order with a fresh paused countdown and reinstates rescued contestants.
func (a *App) AdvanceToQuestion(ctx context.Context, matchID uuid.UUID, order int) (*models.Match, error) {
	if order <= 0 {
		return nil, apperr.Validation("question order must be positive, got %d", order)
	}

	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := requireOngoing(m); err != nil {
		return nil, err
	}
	q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, order)
	if err != nil {
		return nil, err
	}

	if prev := m.CurrentQuestion; prev > 0 && prev != order {
		n, err := a.progress.ResolveQuestion(ctx, matchID, prev)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve question %d: %w", prev, err)
		}
		log.Debug().Str("match_id", matchID.String()).Int("question", prev).Int("results", n).Msg("question resolved")
	}

	a.timers.Stop(matchID)

	// The pointer moves only together with the reinstated rescues.
	var changes []events.ContestantChange
	err = a.store.InTx(ctx, func(tx store.Store) error {
		var err error
		m, err = tx.UpdateMatchState(ctx, matchID, store.MatchStateUpdate{
			Status:          models.MatchStatusOngoing,
			CurrentQuestion: order,
			RemainingTime:   q.DefaultTime,
		})
		if err != nil {
			return fmt.Errorf("failed to advance match: %w", err)
		}
		changes, err = a.progress.ConsumeRescues(ctx, tx, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := a.timers.Reset(ctx, matchID, q.DefaultTime); err != nil {
		return nil, err
	}
	a.setRevealed(matchID, 0)

	log.Info().
		Str("match_id", matchID.String()).
		Int("question", order).
		Int("reinstated", len(changes)).
		Msg("question selected")

	a.router.QuestionSelected(m, len(changes))
	a.router.ContestantsUpdated(matchID, order, changes)
	a.router.TimerState(matchID, q.DefaultTime, false)
	return m, nil
}

// ShowQuestion reveals the selected question to contestants. It may be
// called again to re-send it.
func (a *App) ShowQuestion(ctx context.Context, matchID uuid.UUID) (*events.QuestionView, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := requireQuestion(m); err != nil {
		return nil, err
	}
	q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, m.CurrentQuestion)
	if err != nil {
		return nil, err
	}

	remaining := m.RemainingTime
	if live, _, ok := a.timers.Snapshot(matchID); ok {
		remaining = live
	}
	a.setRevealed(matchID, m.CurrentQuestion)

	a.router.QuestionShown(m, q, remaining)
	return events.NewQuestionView(q, false), nil
}

// End finishes an ongoing match and publishes its statistics. The current
// question is resolved first so its results are counted.
func (a *App) End(ctx context.Context, matchID uuid.UUID) (*events.MatchStats, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if err := validateStatusTransition(m.Status, models.MatchStatusFinished); err != nil {
		return nil, err
	}

	remaining := m.RemainingTime
	if live, ok := a.timers.Stop(matchID); ok {
		remaining = live
	}

	if m.CurrentQuestion > 0 {
		if _, err := a.progress.ResolveQuestion(ctx, matchID, m.CurrentQuestion); err != nil {
			return nil, fmt.Errorf("failed to resolve question %d: %w", m.CurrentQuestion, err)
		}
	}

	m, err = a.store.UpdateMatchState(ctx, matchID, store.MatchStateUpdate{
		Status:          models.MatchStatusFinished,
		CurrentQuestion: m.CurrentQuestion,
		RemainingTime:   remaining,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to end match: %w", err)
	}
	a.forget(ctx, matchID)

	stats, err := a.progress.Stats(ctx, matchID)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("match_id", matchID.String()).
		Int("contestants", stats.TotalContestants).
		Int("answers", stats.TotalAnswers).
		Msg("match ended")

	a.router.MatchEnded(m, stats)
	return stats, nil
}

func (a *App) setRevealed(matchID uuid.UUID, order int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if order == 0 {
		delete(a.revealed, matchID)
		return
	}
	a.revealed[matchID] = order
}

func (a *App) revealedOrder(matchID uuid.UUID) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.revealed[matchID]
}

func (a *App) forget(ctx context.Context, matchID uuid.UUID) {
	a.setRevealed(matchID, 0)
	if a.cache == nil {
		return
	}
	if err := a.cache.Clear(ctx, matchID); err != nil {
		log.Warn().Err(err).Str("match_id", matchID.String()).Msg("failed to clear timer checkpoint")
	}
}
