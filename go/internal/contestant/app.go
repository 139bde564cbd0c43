// Package contestant implements the per-match contestant state machine:
// operator status changes, answer submission, question resolution and bans.
package contestant

import (
	"context"
	"errors"
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

// Broadcaster is the part of the router this package emits through.
type Broadcaster interface {
	ContestantsUpdated(matchID uuid.UUID, questionOrder int, changes []events.ContestantChange)
}

// App handles contestant progress business logic
type App struct {
	store  store.Store
	locks  *keylock.Set
	router Broadcaster
	clock  clockwork.Clock
}

// NewApp creates a new contestant App. locks must be the same set the match
// controller uses so both serialise on the match id.
func NewApp(st store.Store, locks *keylock.Set, router Broadcaster, clock clockwork.Clock) *App {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &App{store: st, locks: locks, router: router, clock: clock}
}

// UpdateStatusesRequest is a bulk operator status change. A nil JudgeID
// means an admin, who may touch any contestant.
type UpdateStatusesRequest struct {
	MatchID             uuid.UUID
	Status              models.ContestantStatus
	RegistrationNumbers []int
	JudgeID             *uuid.UUID
}

// Failure is one registration number that could not be updated.
type Failure struct {
	RegistrationNumber int    `json:"registration_number"`
	Reason             string `json:"reason"`
}

// BulkResult reports a partially successful bulk update.
type BulkResult struct {
	Updated   []events.ContestantChange `json:"updated"`
	Unchanged []int                     `json:"unchanged,omitempty"`
	Failed    []Failure                 `json:"failed,omitempty"`
}

// UpdateStatuses moves every listed contestant to req.Status. Numbers that
// are unknown, outside the judge's groups or not allowed to make the move
// are reported in the result instead of failing the whole call.
func (a *App) UpdateStatuses(ctx context.Context, req UpdateStatusesRequest) (*BulkResult, error) {
	if !req.Status.Valid() {
		return nil, apperr.Validation("unknown contestant status %q", req.Status)
	}
	if len(req.RegistrationNumbers) == 0 {
		return nil, apperr.Validation("at least one registration number is required")
	}

	unlock := a.locks.Lock(req.MatchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	judges, err := a.judgeIndex(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	cms, err := a.store.ListContestantMatches(ctx, req.MatchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	byNumber := make(map[int]models.ContestantMatch, len(cms))
	for _, cm := range cms {
		byNumber[cm.RegistrationNumber] = cm
	}

	res := &BulkResult{}
	seen := make(map[int]bool)
	for _, n := range req.RegistrationNumbers {
		if seen[n] {
			continue
		}
		seen[n] = true

		cm, ok := byNumber[n]
		if !ok {
			res.Failed = append(res.Failed, Failure{n, ReasonNotFound})
			continue
		}
		judgeID := judges.of(cm.GroupID)
		if req.JudgeID != nil && (judgeID == nil || *judgeID != *req.JudgeID) {
			res.Failed = append(res.Failed, Failure{n, ReasonNotInJudgeGroup})
			continue
		}
		if cm.Status == req.Status {
			res.Unchanged = append(res.Unchanged, n)
			continue
		}
		if !CanTransition(cm.Status, req.Status) {
			res.Failed = append(res.Failed, Failure{n, ReasonInvalidTransition})
			continue
		}

		update := store.StatusUpdate{
			MatchID:      req.MatchID,
			ContestantID: cm.ContestantID,
			Status:       req.Status,
		}
		order := m.CurrentQuestion
		switch req.Status {
		case models.ContestantStatusEliminated:
			update.EliminatedAt = &order
		case models.ContestantStatusRescued:
			update.RescuedAt = &order
		}
		updated, err := a.store.UpdateContestantStatus(ctx, update)
		if err != nil {
			return nil, fmt.Errorf("failed to update contestant %d: %w", n, err)
		}
		res.Updated = append(res.Updated, events.NewContestantChange(updated, judgeID))
	}

	log.Info().
		Str("match_id", req.MatchID.String()).
		Str("status", string(req.Status)).
		Int("updated", len(res.Updated)).
		Int("failed", len(res.Failed)).
		Msg("bulk contestant status update")

	a.router.ContestantsUpdated(req.MatchID, m.CurrentQuestion, res.Updated)
	return res, nil
}

// SubmitRequest is one contestant answer.
type SubmitRequest struct {
	MatchID       uuid.UUID
	ContestantID  uuid.UUID
	QuestionOrder int
	Answer        string
}

// SubmitResult is the graded outcome. Duplicate is set when the answer was
// already recorded and this call only replays it.
type SubmitResult struct {
	QuestionOrder int                     `json:"question_order"`
	IsCorrect     bool                    `json:"is_correct"`
	Duplicate     bool                    `json:"duplicate"`
	Status        models.ContestantStatus `json:"status"`
}

// Submit grades an answer at most once per contestant and question.
func (a *App) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	unlock := a.locks.Lock(req.MatchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	cm, err := a.store.GetContestantMatch(ctx, req.MatchID, req.ContestantID)
	if err != nil {
		return nil, err
	}

	if prior, err := a.store.GetResult(ctx, req.MatchID, req.ContestantID, req.QuestionOrder); err == nil {
		return replay(prior, cm.Status), nil
	} else if !errors.Is(err, apperr.ErrResultNotFound) {
		return nil, fmt.Errorf("failed to look up result: %w", err)
	}

	switch cm.Status {
	case models.ContestantStatusNotStarted:
		return nil, ErrNotStarted
	case models.ContestantStatusEliminated:
		return nil, ErrEliminated
	case models.ContestantStatusBanned:
		return nil, ErrBanned
	case models.ContestantStatusCompleted:
		return nil, ErrCompleted
	case models.ContestantStatusRescued:
		return nil, ErrRescued
	}
	if m.Status != models.MatchStatusOngoing || m.CurrentQuestion != req.QuestionOrder || req.QuestionOrder <= 0 {
		return nil, ErrQuestionClosed
	}

	q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, req.QuestionOrder)
	if err != nil {
		return nil, err
	}
	result := &models.Result{
		ContestantID:  req.ContestantID,
		MatchID:       req.MatchID,
		QuestionOrder: req.QuestionOrder,
		Answer:        req.Answer,
		IsCorrect:     Grade(q, req.Answer),
	}
	if err := a.store.CreateResult(ctx, result); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			prior, getErr := a.store.GetResult(ctx, req.MatchID, req.ContestantID, req.QuestionOrder)
			if getErr != nil {
				return nil, fmt.Errorf("failed to reload result: %w", getErr)
			}
			return replay(prior, cm.Status), nil
		}
		return nil, fmt.Errorf("failed to record result: %w", err)
	}

	out := &SubmitResult{
		QuestionOrder: req.QuestionOrder,
		IsCorrect:     result.IsCorrect,
		Status:        cm.Status,
	}
	if result.IsCorrect {
		return out, nil
	}

	order := req.QuestionOrder
	updated, err := a.store.UpdateContestantStatus(ctx, store.StatusUpdate{
		MatchID:      req.MatchID,
		ContestantID: req.ContestantID,
		Status:       models.ContestantStatusEliminated,
		EliminatedAt: &order,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to eliminate contestant: %w", err)
	}
	out.Status = updated.Status

	judges, err := a.judgeIndex(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	a.router.ContestantsUpdated(req.MatchID, order, []events.ContestantChange{
		events.NewContestantChange(updated, judges.of(updated.GroupID)),
	})
	return out, nil
}

func replay(r *models.Result, status models.ContestantStatus) *SubmitResult {
	return &SubmitResult{
		QuestionOrder: r.QuestionOrder,
		IsCorrect:     r.IsCorrect,
		Duplicate:     true,
		Status:        status,
	}
}

// ResolveQuestion records the authoritative outcome of a closing question:
// confirmed2 contestants score correct and those eliminated at order score
// incorrect. Existing results are kept. The caller holds the match lock.
func (a *App) ResolveQuestion(ctx context.Context, matchID uuid.UUID, order int) (int, error) {
	cms, err := a.store.ListContestantMatches(ctx, matchID)
	if err != nil {
		return 0, fmt.Errorf("failed to list contestants: %w", err)
	}

	created := 0
	for _, cm := range cms {
		var correct bool
		switch {
		case cm.Status == models.ContestantStatusConfirmed2:
			correct = true
		case cm.Status == models.ContestantStatusEliminated &&
			cm.EliminatedAtQuestionOrder != nil && *cm.EliminatedAtQuestionOrder == order:
			correct = false
		default:
			continue
		}
		err := a.store.CreateResult(ctx, &models.Result{
			ContestantID:  cm.ContestantID,
			MatchID:       matchID,
			QuestionOrder: order,
			IsCorrect:     correct,
		})
		if errors.Is(err, apperr.ErrDuplicate) {
			continue
		}
		if err != nil {
			return created, fmt.Errorf("failed to record result for %s: %w", cm.ContestantID, err)
		}
		created++
	}
	return created, nil
}

// ConsumeRescues returns every rescued contestant to in_progress through tx
// and reports the changes. The caller holds the match lock and broadcasts.
func (a *App) ConsumeRescues(ctx context.Context, tx store.Store, matchID uuid.UUID) ([]events.ContestantChange, error) {
	cms, err := tx.ListContestantMatches(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	var judges judgeIndex
	var changes []events.ContestantChange
	for _, cm := range cms {
		if cm.Status != models.ContestantStatusRescued {
			continue
		}
		if judges == nil {
			if judges, err = a.judgeIndex(ctx, matchID); err != nil {
				return nil, err
			}
		}
		updated, err := tx.UpdateContestantStatus(ctx, store.StatusUpdate{
			MatchID:      matchID,
			ContestantID: cm.ContestantID,
			Status:       models.ContestantStatusInProgress,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to reinstate %s: %w", cm.ContestantID, err)
		}
		changes = append(changes, events.NewContestantChange(updated, judges.of(updated.GroupID)))
	}
	return changes, nil
}

// BanRequest is a ban, either self-reported by the contestant's client or
// issued by staff.
type BanRequest struct {
	MatchID        uuid.UUID
	ContestantID   uuid.UUID
	Reason         string
	ViolationType  string
	ViolationCount int
}

// Ban moves the contestant to banned in the match and marks the contestant
// eliminated across the contest. Banning twice fails with
// apperr.ErrAlreadyProcessed.
func (a *App) Ban(ctx context.Context, req BanRequest) (*models.ContestantMatch, error) {
	unlock := a.locks.Lock(req.MatchID)
	defer unlock()

	m, err := a.store.GetMatch(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	cm, err := a.store.GetContestantMatch(ctx, req.MatchID, req.ContestantID)
	if err != nil {
		return nil, err
	}
	if cm.Status == models.ContestantStatusBanned {
		return nil, apperr.ErrAlreadyProcessed
	}
	if !CanTransition(cm.Status, models.ContestantStatusBanned) {
		return nil, apperr.InvalidTransition("cannot ban a contestant who is %s", cm.Status)
	}

	var updated *models.ContestantMatch
	err = a.store.InTx(ctx, func(tx store.Store) error {
		var err error
		updated, err = tx.UpdateContestantStatus(ctx, store.StatusUpdate{
			MatchID:      req.MatchID,
			ContestantID: req.ContestantID,
			Status:       models.ContestantStatusBanned,
			Ban: &models.BanDetails{
				Reason:         req.Reason,
				ViolationType:  req.ViolationType,
				ViolationCount: req.ViolationCount,
				BannedAt:       a.clock.Now().UTC(),
			},
		})
		if err != nil {
			return err
		}
		return tx.UpdateContestantState(ctx, req.ContestantID, models.ContestantStateEliminate)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to ban contestant: %w", err)
	}

	log.Warn().
		Str("match_id", req.MatchID.String()).
		Str("contestant_id", req.ContestantID.String()).
		Str("violation", req.ViolationType).
		Int("count", req.ViolationCount).
		Msg("contestant banned")

	judges, err := a.judgeIndex(ctx, req.MatchID)
	if err != nil {
		return nil, err
	}
	a.router.ContestantsUpdated(req.MatchID, m.CurrentQuestion, []events.ContestantChange{
		events.NewContestantChange(updated, judges.of(updated.GroupID)),
	})
	return updated, nil
}

// Results lists every recorded result of a match.
func (a *App) Results(ctx context.Context, matchID uuid.UUID) ([]models.Result, error) {
	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return a.store.ListResults(ctx, matchID)
}

// Stats aggregates answer counts per contestant.
func (a *App) Stats(ctx context.Context, matchID uuid.UUID) (*events.MatchStats, error) {
	cms, err := a.store.ListContestantMatches(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	results, err := a.store.ListResults(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	stats := &events.MatchStats{
		MatchID:          matchID.String(),
		TotalContestants: len(cms),
		ByStatus:         make(map[string]int),
		Contestants:      make([]events.ContestantStats, 0, len(cms)),
	}
	index := make(map[uuid.UUID]int, len(cms))
	for i, cm := range cms {
		index[cm.ContestantID] = i
		stats.ByStatus[string(cm.Status)]++
		stats.Contestants = append(stats.Contestants, events.ContestantStats{
			ContestantID:       cm.ContestantID.String(),
			RegistrationNumber: cm.RegistrationNumber,
			Status:             cm.Status,
		})
	}
	for _, r := range results {
		stats.TotalAnswers++
		if r.IsCorrect {
			stats.CorrectAnswers++
		}
		i, ok := index[r.ContestantID]
		if !ok {
			continue
		}
		c := &stats.Contestants[i]
		c.Answered++
		if r.IsCorrect {
			c.Correct++
		} else {
			c.Incorrect++
		}
	}
	return stats, nil
}

// judgeIndex maps group ids of a match to their judge.
type judgeIndex map[uuid.UUID]*uuid.UUID

func (a *App) judgeIndex(ctx context.Context, matchID uuid.UUID) (judgeIndex, error) {
	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	idx := make(judgeIndex, len(groups))
	for _, g := range groups {
		idx[g.ID] = g.JudgeUserID
	}
	return idx, nil
}

func (j judgeIndex) of(groupID *uuid.UUID) *uuid.UUID {
	if groupID == nil {
		return nil
	}
	return j[*groupID]
}
