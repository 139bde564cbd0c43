// Package group partitions a match's contestants into judge-owned groups and
// keeps their registration numbers contiguous.
package group

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

// JudgeDirectory vets judges before they are given a group.
type JudgeDirectory interface {
	ValidateJudge(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Router is the part of the broadcast router used by group mutations.
type Router interface {
	GroupsUpdated(matchID uuid.UUID, groups []events.GroupView)
	GroupConfirmed(g *models.Group, judgeID uuid.UUID)
}

// App handles group business logic
type App struct {
	store  store.Store
	judges JudgeDirectory
	router Router
	locks  *keylock.Set
	// judgeLocks serialise booking checks across matches. They are taken
	// after the match lock and in id order.
	judgeLocks *keylock.Set
}

// NewApp creates a new group App
func NewApp(st store.Store, judges JudgeDirectory, router Router, locks *keylock.Set) *App {
	return &App{store: st, judges: judges, router: router, locks: locks, judgeLocks: keylock.New()}
}

// lockJudges holds the judge locks of ids until the returned func runs.
func (a *App) lockJudges(ids ...uuid.UUID) func() {
	sorted := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			sorted = append(sorted, id)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return bytes.Compare(sorted[i][:], sorted[j][:]) < 0 })

	unlocks := make([]func(), len(sorted))
	for i, id := range sorted {
		unlocks[i] = a.judgeLocks.Lock(id)
	}
	return func() {
		for i := len(unlocks) - 1; i >= 0; i-- {
			unlocks[i]()
		}
	}
}

// Layout describes one group of a full division.
type Layout struct {
	Name          string      `json:"name"`
	JudgeID       *uuid.UUID  `json:"judge_id,omitempty"`
	ContestantIDs []uuid.UUID `json:"contestant_ids"`
}

// Assignment places a contestant in a group.
type Assignment struct {
	ContestantID uuid.UUID `json:"contestant_id"`
	GroupID      uuid.UUID `json:"group_id"`
}

// AssignFailure is an assignment that could not be applied.
type AssignFailure struct {
	ContestantID uuid.UUID `json:"contestant_id"`
	Reason       string    `json:"reason"`
}

// AssignResult reports a partially successful assignment.
type AssignResult struct {
	Assigned []uuid.UUID        `json:"assigned"`
	Failed   []AssignFailure    `json:"failed,omitempty"`
	Groups   []events.GroupView `json:"groups"`
}

// DeleteResult reports a partially successful deletion.
type DeleteResult struct {
	Deleted  []uuid.UUID `json:"deleted"`
	NotFound []uuid.UUID `json:"not_found"`
}

// DivideGroups replaces every group and participation row of a match with
// layouts, numbering contestants 1..N in group order. It runs in one
// transaction; any failure leaves the previous division intact.
func (a *App) DivideGroups(ctx context.Context, matchID uuid.UUID, layouts []Layout) ([]events.GroupView, error) {
	if len(layouts) == 0 {
		return nil, apperr.Validation("at least one group is required")
	}
	seenContestant := make(map[uuid.UUID]bool)
	seenJudge := make(map[uuid.UUID]string)
	for _, s := range layouts {
		if strings.TrimSpace(s.Name) == "" {
			return nil, apperr.Validation("group name is required")
		}
		for _, id := range s.ContestantIDs {
			if seenContestant[id] {
				return nil, apperr.Validation("contestant %s is listed in more than one group", id)
			}
			seenContestant[id] = true
		}
		if s.JudgeID == nil {
			continue
		}
		if other, dup := seenJudge[*s.JudgeID]; dup {
			return nil, apperr.Conflict("judge_conflict", "judge %s is assigned to both %q and %q", *s.JudgeID, other, s.Name)
		}
		seenJudge[*s.JudgeID] = s.Name
	}

	unlock := a.locks.Lock(matchID)
	defer unlock()

	judgeIDs := make([]uuid.UUID, 0, len(seenJudge))
	for id := range seenJudge {
		judgeIDs = append(judgeIDs, id)
	}
	unlockJudges := a.lockJudges(judgeIDs...)
	defer unlockJudges()

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	for _, s := range layouts {
		if s.JudgeID == nil {
			continue
		}
		if _, err := a.judges.ValidateJudge(ctx, *s.JudgeID); err != nil {
			return nil, err
		}
		if err := a.checkOverlap(ctx, m, *s.JudgeID); err != nil {
			return nil, err
		}
	}

	err = a.store.InTx(ctx, func(tx store.Store) error {
		if err := tx.DeleteMatchParticipation(ctx, matchID); err != nil {
			return err
		}
		number := 1
		for i, s := range layouts {
			g := &models.Group{
				MatchID:     matchID,
				Name:        strings.TrimSpace(s.Name),
				JudgeUserID: s.JudgeID,
				Position:    i + 1,
			}
			if err := tx.CreateGroup(ctx, g); err != nil {
				return fmt.Errorf("failed to create group %q: %w", s.Name, err)
			}
			for _, cid := range s.ContestantIDs {
				if _, err := tx.GetContestant(ctx, cid); err != nil {
					return err
				}
				groupID := g.ID
				err := tx.CreateContestantMatch(ctx, &models.ContestantMatch{
					ContestantID:       cid,
					MatchID:            matchID,
					GroupID:            &groupID,
					RegistrationNumber: number,
					Status:             models.ContestantStatusNotStarted,
				})
				if err != nil {
					return fmt.Errorf("failed to add contestant %s: %w", cid, err)
				}
				number++
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("match_id", matchID.String()).
		Int("groups", len(layouts)).
		Int("contestants", len(seenContestant)).
		Msg("groups divided")
	return a.publish(ctx, matchID)
}

// CreateGroup appends a group to a match. A judge, when given, must not
// already own a group in this match or in any match overlapping it in time.
func (a *App) CreateGroup(ctx context.Context, matchID uuid.UUID, name string, judgeID *uuid.UUID) (*models.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("group name is required")
	}

	unlock := a.locks.Lock(matchID)
	defer unlock()
	if judgeID != nil {
		unlockJudge := a.lockJudges(*judgeID)
		defer unlockJudge()
	}

	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if judgeID != nil {
		if err := a.checkJudge(ctx, m, groups, *judgeID, uuid.Nil); err != nil {
			return nil, err
		}
	}

	g := &models.Group{MatchID: matchID, Name: name, JudgeUserID: judgeID, Position: len(groups) + 1}
	if err := a.store.CreateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create group: %w", err)
	}
	log.Info().Str("match_id", matchID.String()).Str("group", name).Msg("group created")
	if _, err := a.publish(ctx, matchID); err != nil {
		return nil, err
	}
	return g, nil
}

// AssignJudge sets or clears the judge of a group, with the same conflict
// checks as CreateGroup.
func (a *App) AssignJudge(ctx context.Context, groupID uuid.UUID, judgeID *uuid.UUID) (*models.Group, error) {
	g, err := a.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(g.MatchID)
	defer unlock()
	if judgeID != nil {
		unlockJudge := a.lockJudges(*judgeID)
		defer unlockJudge()
	}

	// Reload under the lock so a concurrent reorder or rename is kept.
	if g, err = a.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	m, err := a.store.GetMatch(ctx, g.MatchID)
	if err != nil {
		return nil, err
	}
	if judgeID != nil {
		groups, err := a.store.ListGroups(ctx, g.MatchID)
		if err != nil {
			return nil, fmt.Errorf("failed to list groups: %w", err)
		}
		if err := a.checkJudge(ctx, m, groups, *judgeID, g.ID); err != nil {
			return nil, err
		}
	}

	g.JudgeUserID = judgeID
	if err := a.store.UpdateGroup(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to assign judge: %w", err)
	}
	if _, err := a.publish(ctx, g.MatchID); err != nil {
		return nil, err
	}
	return g, nil
}

// AssignContestantsToGroups moves contestants into groups of the match,
// registering those not yet in it, then renumbers.
func (a *App) AssignContestantsToGroups(ctx context.Context, matchID uuid.UUID, assignments []Assignment) (*AssignResult, error) {
	if len(assignments) == 0 {
		return nil, apperr.Validation("at least one assignment is required")
	}

	unlock := a.locks.Lock(matchID)
	defer unlock()

	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	inMatch := make(map[uuid.UUID]bool, len(groups))
	for _, g := range groups {
		inMatch[g.ID] = true
	}

	res := &AssignResult{}
	err = a.store.InTx(ctx, func(tx store.Store) error {
		res.Assigned, res.Failed = nil, nil
		cms, err := tx.ListContestantMatches(ctx, matchID)
		if err != nil {
			return err
		}
		registered := make(map[uuid.UUID]bool, len(cms))
		next := 1
		for _, cm := range cms {
			registered[cm.ContestantID] = true
			if cm.RegistrationNumber >= next {
				next = cm.RegistrationNumber + 1
			}
		}

		for _, as := range assignments {
			if !inMatch[as.GroupID] {
				res.Failed = append(res.Failed, AssignFailure{as.ContestantID, "group_not_found"})
				continue
			}
			groupID := as.GroupID
			if registered[as.ContestantID] {
				if err := tx.SetContestantGroup(ctx, matchID, as.ContestantID, &groupID); err != nil {
					return err
				}
				res.Assigned = append(res.Assigned, as.ContestantID)
				continue
			}
			if _, err := tx.GetContestant(ctx, as.ContestantID); err != nil {
				if errors.Is(err, apperr.ErrContestantNotFound) {
					res.Failed = append(res.Failed, AssignFailure{as.ContestantID, "contestant_not_found"})
					continue
				}
				return err
			}
			err := tx.CreateContestantMatch(ctx, &models.ContestantMatch{
				ContestantID:       as.ContestantID,
				MatchID:            matchID,
				GroupID:            &groupID,
				RegistrationNumber: next,
				Status:             models.ContestantStatusNotStarted,
			})
			if err != nil {
				return err
			}
			next++
			registered[as.ContestantID] = true
			res.Assigned = append(res.Assigned, as.ContestantID)
		}
		return renumber(ctx, tx, matchID)
	})
	if err != nil {
		return nil, err
	}

	res.Groups, err = a.publish(ctx, matchID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RemoveContestants drops contestants from the match and closes the gaps in
// registration numbers.
func (a *App) RemoveContestants(ctx context.Context, matchID uuid.UUID, contestantIDs []uuid.UUID) (*DeleteResult, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	err := a.store.InTx(ctx, func(tx store.Store) error {
		res.Deleted, res.NotFound = []uuid.UUID{}, []uuid.UUID{}
		for _, id := range contestantIDs {
			err := tx.DeleteContestantMatch(ctx, matchID, id)
			if errors.Is(err, apperr.ErrContestantNotFound) {
				res.NotFound = append(res.NotFound, id)
				continue
			}
			if err != nil {
				return err
			}
			res.Deleted = append(res.Deleted, id)
		}
		return renumber(ctx, tx, matchID)
	})
	if err != nil {
		return nil, err
	}
	if _, err := a.publish(ctx, matchID); err != nil {
		return nil, err
	}
	return res, nil
}

// DeleteGroups removes groups and their contestants, then closes the gaps
// in positions and registration numbers.
func (a *App) DeleteGroups(ctx context.Context, matchID uuid.UUID, groupIDs []uuid.UUID) (*DeleteResult, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}

	res := &DeleteResult{}
	err := a.store.InTx(ctx, func(tx store.Store) error {
		res.Deleted, res.NotFound = []uuid.UUID{}, []uuid.UUID{}
		cms, err := tx.ListContestantMatches(ctx, matchID)
		if err != nil {
			return err
		}
		for _, id := range groupIDs {
			g, err := tx.GetGroup(ctx, id)
			if errors.Is(err, apperr.ErrGroupNotFound) || (err == nil && g.MatchID != matchID) {
				res.NotFound = append(res.NotFound, id)
				continue
			}
			if err != nil {
				return err
			}
			for _, cm := range cms {
				if cm.GroupID != nil && *cm.GroupID == id {
					if err := tx.DeleteContestantMatch(ctx, matchID, cm.ContestantID); err != nil && !errors.Is(err, apperr.ErrContestantNotFound) {
						return err
					}
				}
			}
			if err := tx.DeleteGroup(ctx, id); err != nil {
				return err
			}
			res.Deleted = append(res.Deleted, id)
		}

		remaining, err := tx.ListGroups(ctx, matchID)
		if err != nil {
			return err
		}
		if err := reposition(ctx, tx, remaining); err != nil {
			return err
		}
		return renumber(ctx, tx, matchID)
	})
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("match_id", matchID.String()).
		Int("deleted", len(res.Deleted)).
		Int("not_found", len(res.NotFound)).
		Msg("groups deleted")
	if _, err := a.publish(ctx, matchID); err != nil {
		return nil, err
	}
	return res, nil
}

// Reorder sets group positions to the order of groupIDs, which must name
// every group of the match exactly once, then renumbers contestants.
func (a *App) Reorder(ctx context.Context, matchID uuid.UUID, groupIDs []uuid.UUID) ([]events.GroupView, error) {
	unlock := a.locks.Lock(matchID)
	defer unlock()

	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	if len(groupIDs) != len(groups) {
		return nil, apperr.Validation("expected %d group ids, got %d", len(groups), len(groupIDs))
	}
	byID := make(map[uuid.UUID]models.Group, len(groups))
	for _, g := range groups {
		byID[g.ID] = g
	}
	ordered := make([]models.Group, 0, len(groupIDs))
	for _, id := range groupIDs {
		g, ok := byID[id]
		if !ok {
			return nil, apperr.Validation("group %s is not part of this match or is repeated", id)
		}
		delete(byID, id)
		ordered = append(ordered, g)
	}

	err = a.store.InTx(ctx, func(tx store.Store) error {
		if err := reposition(ctx, tx, ordered); err != nil {
			return err
		}
		return renumber(ctx, tx, matchID)
	})
	if err != nil {
		return nil, err
	}
	return a.publish(ctx, matchID)
}

// ConfirmQuestion records that a judge's group finished marking order,
// which must be the match's current question.
func (a *App) ConfirmQuestion(ctx context.Context, groupID, judgeID uuid.UUID, order int) (*models.Group, error) {
	g, err := a.store.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}

	unlock := a.locks.Lock(g.MatchID)
	defer unlock()

	if g, err = a.store.GetGroup(ctx, groupID); err != nil {
		return nil, err
	}
	if g.JudgeUserID == nil || *g.JudgeUserID != judgeID {
		return nil, apperr.New(apperr.KindInvalidTransition, "not_group_judge", "group %s is not assigned to this judge", g.Name)
	}

	m, err := a.store.GetMatch(ctx, g.MatchID)
	if err != nil {
		return nil, err
	}
	if m.Status != models.MatchStatusOngoing || order <= 0 || order != m.CurrentQuestion {
		return nil, apperr.InvalidTransition("question %d is not the current question", order)
	}

	if err := a.store.SetGroupConfirmation(ctx, g.ID, order); err != nil {
		return nil, fmt.Errorf("failed to confirm question: %w", err)
	}
	g.ConfirmCurrentQuestion = order
	a.router.GroupConfirmed(g, judgeID)
	return g, nil
}

// ListGroups returns the groups of a match in position order.
func (a *App) ListGroups(ctx context.Context, matchID uuid.UUID) ([]events.GroupView, error) {
	if _, err := a.store.GetMatch(ctx, matchID); err != nil {
		return nil, err
	}
	return a.views(ctx, matchID)
}

// JudgeGroups returns the groups of a match owned by judgeID.
func (a *App) JudgeGroups(ctx context.Context, matchID, judgeID uuid.UUID) ([]events.GroupView, error) {
	all, err := a.ListGroups(ctx, matchID)
	if err != nil {
		return nil, err
	}
	owned := make([]events.GroupView, 0, len(all))
	want := judgeID.String()
	for _, v := range all {
		if v.JudgeUserID != nil && *v.JudgeUserID == want {
			owned = append(owned, v)
		}
	}
	return owned, nil
}

// checkJudge validates judgeID and rejects a judge who already owns another
// group of m (excluding self) or a group in an overlapping match.
func (a *App) checkJudge(ctx context.Context, m *models.Match, groups []models.Group, judgeID, self uuid.UUID) error {
	if _, err := a.judges.ValidateJudge(ctx, judgeID); err != nil {
		return err
	}
	for _, g := range groups {
		if g.ID != self && g.JudgeUserID != nil && *g.JudgeUserID == judgeID {
			return apperr.Conflict("judge_conflict", "judge already owns group %q in this match", g.Name)
		}
	}
	return a.checkOverlap(ctx, m, judgeID)
}

func (a *App) checkOverlap(ctx context.Context, m *models.Match, judgeID uuid.UUID) error {
	bookings, err := a.store.FindJudgeBookings(ctx, judgeID)
	if err != nil {
		return fmt.Errorf("failed to look up judge bookings: %w", err)
	}
	for _, b := range bookings {
		if b.Match.ID == m.ID {
			continue
		}
		if m.Overlaps(&b.Match) {
			return apperr.Conflict("judge_conflict", "judge is booked on overlapping match %q (group %q)", b.Match.Name, b.GroupName)
		}
	}
	return nil
}

// reposition writes positions 1..N in the given order.
func reposition(ctx context.Context, tx store.Store, ordered []models.Group) error {
	for i := range ordered {
		g := ordered[i]
		if g.Position == i+1 {
			continue
		}
		g.Position = i + 1
		if err := tx.UpdateGroup(ctx, &g); err != nil {
			return err
		}
	}
	return nil
}

// renumber makes registration numbers 1..N, ordered by group position and
// then by previous number. Ungrouped contestants come last.
func renumber(ctx context.Context, tx store.Store, matchID uuid.UUID) error {
	groups, err := tx.ListGroups(ctx, matchID)
	if err != nil {
		return err
	}
	position := make(map[uuid.UUID]int, len(groups))
	for _, g := range groups {
		position[g.ID] = g.Position
	}
	cms, err := tx.ListContestantMatches(ctx, matchID)
	if err != nil {
		return err
	}

	rank := func(cm models.ContestantMatch) int {
		if cm.GroupID == nil {
			return len(groups) + 1
		}
		if p, ok := position[*cm.GroupID]; ok {
			return p
		}
		return len(groups) + 1
	}
	sort.SliceStable(cms, func(i, j int) bool {
		ri, rj := rank(cms[i]), rank(cms[j])
		if ri != rj {
			return ri < rj
		}
		return cms[i].RegistrationNumber < cms[j].RegistrationNumber
	})

	changed := make(map[uuid.UUID]int)
	for i, cm := range cms {
		if cm.RegistrationNumber != i+1 {
			changed[cm.ContestantID] = i + 1
		}
	}
	if len(changed) == 0 {
		return nil
	}
	return tx.SetRegistrationNumbers(ctx, matchID, changed)
}

func (a *App) views(ctx context.Context, matchID uuid.UUID) ([]events.GroupView, error) {
	groups, err := a.store.ListGroups(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list groups: %w", err)
	}
	cms, err := a.store.ListContestantMatches(ctx, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contestants: %w", err)
	}
	counts := make(map[uuid.UUID]int)
	for _, cm := range cms {
		if cm.GroupID != nil {
			counts[*cm.GroupID]++
		}
	}
	out := make([]events.GroupView, 0, len(groups))
	for _, g := range groups {
		v := events.GroupView{
			ID:                     g.ID.String(),
			Name:                   g.Name,
			Position:               g.Position,
			ConfirmCurrentQuestion: g.ConfirmCurrentQuestion,
			Contestants:            counts[g.ID],
		}
		if g.JudgeUserID != nil {
			s := g.JudgeUserID.String()
			v.JudgeUserID = &s
		}
		out = append(out, v)
	}
	return out, nil
}

func (a *App) publish(ctx context.Context, matchID uuid.UUID) ([]events.GroupView, error) {
	views, err := a.views(ctx, matchID)
	if err != nil {
		return nil, err
	}
	a.router.GroupsUpdated(matchID, views)
	return views, nil
}
