// Package storetest seeds the in-memory store with a playable match for
// package tests.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
	"github.com/mcdev12/olympia/go/internal/store/memory"
)

// Options shapes the seeded match. Zero values take defaults.
type Options struct {
	Questions   int
	Contestants int
	DefaultTime int
	Status      models.MatchStatus
	Start       time.Time
}

// Fixture is a seeded match. Every question answers "A"; contestant i has
// registration number i.
type Fixture struct {
	Store       *memory.Store
	Match       *models.Match
	Questions   []*models.Question
	Contestants []uuid.UUID
}

// Seed creates a fresh store holding one match.
func Seed(t testing.TB, opts Options) *Fixture {
	t.Helper()
	return SeedInto(t, memory.New(), opts)
}

// SeedInto adds another match to st.
func SeedInto(t testing.TB, st *memory.Store, opts Options) *Fixture {
	t.Helper()
	if opts.Questions == 0 {
		opts.Questions = 5
	}
	if opts.Contestants == 0 {
		opts.Contestants = 3
	}
	if opts.DefaultTime == 0 {
		opts.DefaultTime = 30
	}
	if opts.Status == "" {
		opts.Status = models.MatchStatusUpcoming
	}
	if opts.Start.IsZero() {
		opts.Start = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	}

	ctx := context.Background()
	f := &Fixture{Store: st}
	pkg := uuid.New()
	for i := 1; i <= opts.Questions; i++ {
		q := &models.Question{
			PackageID:   pkg,
			Order:       i,
			Type:        models.QuestionTypeMultipleChoice,
			Content:     fmt.Sprintf("Question %d", i),
			Options:     []string{"A", "B", "C", "D"},
			Answer:      "A",
			DefaultTime: opts.DefaultTime,
			IsActive:    true,
		}
		if err := st.CreateQuestion(ctx, q); err != nil {
			t.Fatalf("failed to seed question: %v", err)
		}
		f.Questions = append(f.Questions, q)
	}

	f.Match = &models.Match{
		Slug:              "match-" + pkg.String()[:8],
		Name:              "Round",
		Status:            opts.Status,
		QuestionPackageID: pkg,
		StartTime:         opts.Start,
		EndTime:           opts.Start.Add(time.Hour),
	}
	if err := st.CreateMatch(ctx, f.Match); err != nil {
		t.Fatalf("failed to seed match: %v", err)
	}

	for i := 1; i <= opts.Contestants; i++ {
		c := &models.Contestant{FullName: fmt.Sprintf("Contestant %d", i), SchoolName: "School"}
		if err := st.CreateContestant(ctx, c); err != nil {
			t.Fatalf("failed to seed contestant: %v", err)
		}
		cm := &models.ContestantMatch{
			ContestantID:       c.ID,
			MatchID:            f.Match.ID,
			RegistrationNumber: i,
			Status:             models.ContestantStatusInProgress,
		}
		if err := st.CreateContestantMatch(ctx, cm); err != nil {
			t.Fatalf("failed to seed participation: %v", err)
		}
		f.Contestants = append(f.Contestants, c.ID)
	}
	return f
}

// ID returns the contestant with registration number n.
func (f *Fixture) ID(n int) uuid.UUID {
	return f.Contestants[n-1]
}

// Contestant reloads the participation of registration number n.
func (f *Fixture) Contestant(t testing.TB, n int) *models.ContestantMatch {
	t.Helper()
	cm, err := f.Store.GetContestantMatch(context.Background(), f.Match.ID, f.ID(n))
	if err != nil {
		t.Fatalf("failed to load contestant %d: %v", n, err)
	}
	return cm
}

// SetStatus forces the status of registration number n.
func (f *Fixture) SetStatus(t testing.TB, n int, status models.ContestantStatus) {
	t.Helper()
	_, err := f.Store.UpdateContestantStatus(context.Background(), store.StatusUpdate{
		MatchID:      f.Match.ID,
		ContestantID: f.ID(n),
		Status:       status,
	})
	if err != nil {
		t.Fatalf("failed to set status: %v", err)
	}
}

// Reload fetches the current match row.
func (f *Fixture) Reload(t testing.TB) *models.Match {
	t.Helper()
	m, err := f.Store.GetMatch(context.Background(), f.Match.ID)
	if err != nil {
		t.Fatalf("failed to reload match: %v", err)
	}
	return m
}

// AddJudge creates an active judge.
func (f *Fixture) AddJudge(t testing.TB, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", Role: models.UserRoleJudge, IsActive: true}
	if err := f.Store.CreateUser(context.Background(), u); err != nil {
		t.Fatalf("failed to seed judge: %v", err)
	}
	return u
}

// AddGroup creates a group owned by judgeID and moves the given
// registration numbers into it.
func (f *Fixture) AddGroup(t testing.TB, name string, judgeID *uuid.UUID, numbers ...int) *models.Group {
	t.Helper()
	ctx := context.Background()
	groups, _ := f.Store.ListGroups(ctx, f.Match.ID)
	g := &models.Group{MatchID: f.Match.ID, Name: name, JudgeUserID: judgeID, Position: len(groups) + 1}
	if err := f.Store.CreateGroup(ctx, g); err != nil {
		t.Fatalf("failed to seed group: %v", err)
	}
	for _, n := range numbers {
		if err := f.Store.SetContestantGroup(ctx, f.Match.ID, f.ID(n), &g.ID); err != nil {
			t.Fatalf("failed to assign contestant %d: %v", n, err)
		}
	}
	return g
}

// Eliminate marks registration number n eliminated at order.
func (f *Fixture) Eliminate(t testing.TB, n, order int) {
	t.Helper()
	_, err := f.Store.UpdateContestantStatus(context.Background(), store.StatusUpdate{
		MatchID:      f.Match.ID,
		ContestantID: f.ID(n),
		Status:       models.ContestantStatusEliminated,
		EliminatedAt: &order,
	})
	if err != nil {
		t.Fatalf("failed to eliminate contestant %d: %v", n, err)
	}
}

// Start puts the match on question order with the given remaining time.
func (f *Fixture) Start(t testing.TB, order int) {
	t.Helper()
	_, err := f.Store.UpdateMatchState(context.Background(), f.Match.ID, store.MatchStateUpdate{
		Status:          models.MatchStatusOngoing,
		CurrentQuestion: order,
		RemainingTime:   f.Questions[0].DefaultTime,
	})
	if err != nil {
		t.Fatalf("failed to start match: %v", err)
	}
}
