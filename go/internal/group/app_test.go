package group

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/broadcast"
	"github.com/mcdev12/olympia/go/internal/broadcast/broadcasttest"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
	"github.com/mcdev12/olympia/go/internal/store/memory"
	"github.com/mcdev12/olympia/go/internal/store/storetest"
	"github.com/mcdev12/olympia/go/internal/users"
)

func newTestApp(t *testing.T, contestants int) (*App, *storetest.Fixture, *broadcasttest.Recorder) {
	t.Helper()
	f := storetest.Seed(t, storetest.Options{Contestants: contestants})
	rec := broadcasttest.NewRecorder()
	router := broadcast.NewRouter(rec, nil, clockwork.NewFakeClock())
	return NewApp(f.Store, users.NewApp(f.Store), router, keylock.New()), f, rec
}

func expectNumbers(t *testing.T, f *storetest.Fixture, want map[uuid.UUID]int) {
	t.Helper()
	cms, err := f.Store.ListContestantMatches(context.Background(), f.Match.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(cms) != len(want) {
		t.Fatalf("expected %d contestants, got %d", len(want), len(cms))
	}
	for _, cm := range cms {
		n, ok := want[cm.ContestantID]
		if !ok {
			t.Fatalf("unexpected contestant %s", cm.ContestantID)
		}
		if cm.RegistrationNumber != n {
			t.Fatalf("contestant %s: expected number %d, got %d", cm.ContestantID, n, cm.RegistrationNumber)
		}
	}
}

func TestDivideGroupsNumbersInGroupOrder(t *testing.T) {
	ctx := context.Background()
	app, f, rec := newTestApp(t, 4)
	judgeA, judgeB := f.AddJudge(t, "ana"), f.AddJudge(t, "ben")

	views, err := app.DivideGroups(ctx, f.Match.ID, []Layout{
		{Name: "Room 1", JudgeID: &judgeA.ID, ContestantIDs: []uuid.UUID{f.ID(3), f.ID(1)}},
		{Name: "Room 2", JudgeID: &judgeB.ID, ContestantIDs: []uuid.UUID{f.ID(4)}},
	})
	if err != nil {
		t.Fatalf("divide failed: %v", err)
	}
	if len(views) != 2 || views[0].Contestants != 2 || views[1].Contestants != 1 {
		t.Fatalf("expected groups of 2 and 1, got %+v", views)
	}

	expectNumbers(t, f, map[uuid.UUID]int{f.ID(3): 1, f.ID(1): 2, f.ID(4): 3})
	cm, err := f.Store.GetContestantMatch(ctx, f.Match.ID, f.ID(3))
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if cm.Status != models.ContestantStatusNotStarted {
		t.Fatalf("expected not_started, got %s", cm.Status)
	}
	if n := len(rec.OfType(broadcast.EventGroupsUpdated)); n != 1 {
		t.Fatalf("expected one groups update, got %d", n)
	}
}

func TestDivideGroupsRejectsJudgeConflicts(t *testing.T) {
	ctx := context.Background()
	app, f, _ := newTestApp(t, 2)
	judge := f.AddJudge(t, "ana")

	_, err := app.DivideGroups(ctx, f.Match.ID, []Layout{
		{Name: "Room 1", JudgeID: &judge.ID, ContestantIDs: []uuid.UUID{f.ID(1)}},
		{Name: "Room 2", JudgeID: &judge.ID, ContestantIDs: []uuid.UUID{f.ID(2)}},
	})
	if apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for a judge on two groups, got %v", err)
	}

	// Same start time: the judge's booking on the other match overlaps.
	other := storetest.SeedInto(t, f.Store, storetest.Options{Contestants: 1})
	other.AddGroup(t, "Elsewhere", &judge.ID, 1)

	_, err = app.DivideGroups(ctx, f.Match.ID, []Layout{
		{Name: "Room 1", JudgeID: &judge.ID, ContestantIDs: []uuid.UUID{f.ID(1), f.ID(2)}},
	})
	if apperr.ReasonOf(err) != "judge_conflict" {
		t.Fatalf("expected judge_conflict for overlapping match, got %v", err)
	}
	expectNumbers(t, f, map[uuid.UUID]int{f.ID(1): 1, f.ID(2): 2})

	later := storetest.SeedInto(t, f.Store, storetest.Options{
		Contestants: 1,
		Start:       f.Match.EndTime,
	})
	if _, err := app.DivideGroups(ctx, later.Match.ID, []Layout{
		{Name: "Room 1", JudgeID: &judge.ID, ContestantIDs: []uuid.UUID{later.ID(1)}},
	}); err != nil {
		t.Fatalf("expected back-to-back match to be allowed, got %v", err)
	}
}

func TestDivideGroupsRejectsNonJudge(t *testing.T) {
	app, f, _ := newTestApp(t, 1)
	stranger := uuid.New()
	_, err := app.DivideGroups(context.Background(), f.Match.ID, []Layout{
		{Name: "Room 1", JudgeID: &stranger, ContestantIDs: []uuid.UUID{f.ID(1)}},
	})
	if apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("expected judge not found, got %v", err)
	}
}

func TestCreateGroupAndAssignJudge(t *testing.T) {
	ctx := context.Background()
	app, f, _ := newTestApp(t, 1)
	judge := f.AddJudge(t, "ana")

	first, err := app.CreateGroup(ctx, f.Match.ID, "Room 1", &judge.ID)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if _, err := app.CreateGroup(ctx, f.Match.ID, "Room 2", &judge.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict for second group of same judge, got %v", err)
	}

	second, err := app.CreateGroup(ctx, f.Match.ID, "Room 2", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if second.Position != 2 {
		t.Fatalf("expected position 2, got %d", second.Position)
	}
	if _, err := app.AssignJudge(ctx, second.ID, &judge.ID); apperr.KindOf(err) != apperr.KindConflict {
		t.Fatalf("expected conflict when moving judge onto second group, got %v", err)
	}
	if _, err := app.AssignJudge(ctx, first.ID, &judge.ID); err != nil {
		t.Fatalf("expected reassigning the same group to succeed, got %v", err)
	}

	owned, err := app.JudgeGroups(ctx, f.Match.ID, judge.ID)
	if err != nil {
		t.Fatalf("judge groups failed: %v", err)
	}
	if len(owned) != 1 || owned[0].ID != first.ID.String() {
		t.Fatalf("expected judge to own only the first group, got %+v", owned)
	}
}

func TestAssignAndRemoveReportPartialSuccess(t *testing.T) {
	ctx := context.Background()
	app, f, _ := newTestApp(t, 4)
	ga, err := app.CreateGroup(ctx, f.Match.ID, "A", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}
	gb, err := app.CreateGroup(ctx, f.Match.ID, "B", nil)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	unknown := uuid.New()
	res, err := app.AssignContestantsToGroups(ctx, f.Match.ID, []Assignment{
		{ContestantID: f.ID(4), GroupID: ga.ID},
		{ContestantID: f.ID(1), GroupID: gb.ID},
		{ContestantID: unknown, GroupID: ga.ID},
		{ContestantID: f.ID(2), GroupID: uuid.New()},
	})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if len(res.Assigned) != 2 || len(res.Failed) != 2 {
		t.Fatalf("expected 2 assigned and 2 failed, got %+v", res)
	}
	if res.Failed[0].Reason != "contestant_not_found" || res.Failed[1].Reason != "group_not_found" {
		t.Fatalf("unexpected failure reasons %+v", res.Failed)
	}
	// Grouped contestants first by group position, then the ungrouped.
	expectNumbers(t, f, map[uuid.UUID]int{f.ID(4): 1, f.ID(1): 2, f.ID(2): 3, f.ID(3): 4})

	removed, err := app.RemoveContestants(ctx, f.Match.ID, []uuid.UUID{f.ID(4), unknown})
	if err != nil {
		t.Fatalf("remove failed: %v", err)
	}
	if len(removed.Deleted) != 1 || len(removed.NotFound) != 1 || removed.NotFound[0] != unknown {
		t.Fatalf("expected one deleted and one not found, got %+v", removed)
	}
	expectNumbers(t, f, map[uuid.UUID]int{f.ID(1): 1, f.ID(2): 2, f.ID(3): 3})
}

func TestReorderAndDeleteGroupsRenumber(t *testing.T) {
	ctx := context.Background()
	app, f, _ := newTestApp(t, 4)
	views, err := app.DivideGroups(ctx, f.Match.ID, []Layout{
		{Name: "G1", ContestantIDs: []uuid.UUID{f.ID(1), f.ID(2)}},
		{Name: "G2", ContestantIDs: []uuid.UUID{f.ID(3)}},
		{Name: "G3", ContestantIDs: []uuid.UUID{f.ID(4)}},
	})
	if err != nil {
		t.Fatalf("divide failed: %v", err)
	}
	g1, g2, g3 := uuid.MustParse(views[0].ID), uuid.MustParse(views[1].ID), uuid.MustParse(views[2].ID)

	if _, err := app.Reorder(ctx, f.Match.ID, []uuid.UUID{g3, g1}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for partial order, got %v", err)
	}
	if _, err := app.Reorder(ctx, f.Match.ID, []uuid.UUID{g3, g1, g2}); err != nil {
		t.Fatalf("reorder failed: %v", err)
	}
	expectNumbers(t, f, map[uuid.UUID]int{f.ID(4): 1, f.ID(1): 2, f.ID(2): 3, f.ID(3): 4})

	missing := uuid.New()
	res, err := app.DeleteGroups(ctx, f.Match.ID, []uuid.UUID{g1, missing})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(res.Deleted) != 1 || len(res.NotFound) != 1 {
		t.Fatalf("expected one deleted and one not found, got %+v", res)
	}
	expectNumbers(t, f, map[uuid.UUID]int{f.ID(4): 1, f.ID(3): 2})

	left, err := app.ListGroups(ctx, f.Match.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(left) != 2 || left[0].ID != g3.String() || left[0].Position != 1 || left[1].Position != 2 {
		t.Fatalf("expected G3 then G2 at positions 1 and 2, got %+v", left)
	}
}

func TestConfirmQuestion(t *testing.T) {
	ctx := context.Background()
	app, f, rec := newTestApp(t, 2)
	judge := f.AddJudge(t, "ana")
	g := f.AddGroup(t, "Room 1", &judge.ID, 1, 2)

	if _, err := app.ConfirmQuestion(ctx, g.ID, uuid.New(), 1); apperr.ReasonOf(err) != "not_group_judge" {
		t.Fatalf("expected not_group_judge, got %v", err)
	}
	if _, err := app.ConfirmQuestion(ctx, g.ID, judge.ID, 1); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition before start, got %v", err)
	}

	f.Start(t, 2)
	if _, err := app.ConfirmQuestion(ctx, g.ID, judge.ID, 1); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition for a past question, got %v", err)
	}
	got, err := app.ConfirmQuestion(ctx, g.ID, judge.ID, 2)
	if err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	if got.ConfirmCurrentQuestion != 2 {
		t.Fatalf("expected confirmation of 2, got %d", got.ConfirmCurrentQuestion)
	}
	if n := len(rec.InRoom(broadcast.JudgeRoom(f.Match.ID, judge.ID))); n != 1 {
		t.Fatalf("expected one judge room emission, got %d", n)
	}
}

// slowStore widens the window between reading and writing groups.
type slowStore struct {
	*memory.Store
	delay time.Duration
}

func (s *slowStore) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	time.Sleep(s.delay)
	return s.Store.GetGroup(ctx, id)
}

func (s *slowStore) FindJudgeBookings(ctx context.Context, judgeID uuid.UUID) ([]store.JudgeBooking, error) {
	time.Sleep(s.delay)
	return s.Store.FindJudgeBookings(ctx, judgeID)
}

func newSlowApp(t *testing.T, f *storetest.Fixture) *App {
	t.Helper()
	router := broadcast.NewRouter(broadcasttest.NewRecorder(), nil, clockwork.NewFakeClock())
	return NewApp(&slowStore{Store: f.Store, delay: 5 * time.Millisecond}, users.NewApp(f.Store), router, keylock.New())
}

func TestCreateGroupSerialisesJudgeAcrossOverlappingMatches(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{Contestants: 1})
	other := storetest.SeedInto(t, f.Store, storetest.Options{Contestants: 1})
	judge := f.AddJudge(t, "ana")
	app := newSlowApp(t, f)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, matchID := range []uuid.UUID{f.Match.ID, other.Match.ID} {
		wg.Add(1)
		go func(i int, matchID uuid.UUID) {
			defer wg.Done()
			_, errs[i] = app.CreateGroup(ctx, matchID, "Room", &judge.ID)
		}(i, matchID)
	}
	wg.Wait()

	created, conflicts := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			created++
		case apperr.ReasonOf(err) == "judge_conflict":
			conflicts++
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if created != 1 || conflicts != 1 {
		t.Fatalf("expected one group and one judge_conflict, got %d and %d", created, conflicts)
	}
	bookings, err := f.Store.FindJudgeBookings(ctx, judge.ID)
	if err != nil {
		t.Fatalf("bookings failed: %v", err)
	}
	if len(bookings) != 1 {
		t.Fatalf("expected judge booked once, got %d", len(bookings))
	}
}

func TestConfirmQuestionKeepsConcurrentReorder(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{Contestants: 1})
	judge := f.AddJudge(t, "ana")
	a := f.AddGroup(t, "A", &judge.ID, 1)
	b := f.AddGroup(t, "B", nil)
	f.Start(t, 1)
	app := newSlowApp(t, f)

	var wg sync.WaitGroup
	var confirmErr, reorderErr error
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, confirmErr = app.ConfirmQuestion(ctx, a.ID, judge.ID, 1)
	}()
	go func() {
		defer wg.Done()
		_, reorderErr = app.Reorder(ctx, f.Match.ID, []uuid.UUID{b.ID, a.ID})
	}()
	wg.Wait()
	if confirmErr != nil || reorderErr != nil {
		t.Fatalf("expected both to succeed, got confirm %v and reorder %v", confirmErr, reorderErr)
	}

	got, err := f.Store.GetGroup(ctx, a.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Position != 2 {
		t.Fatalf("expected A at position 2, got %d", got.Position)
	}
	if got.ConfirmCurrentQuestion != 1 {
		t.Fatalf("expected A to confirm question 1, got %d", got.ConfirmCurrentQuestion)
	}
}

func TestAssignAfterDivideKeepsNumbersContiguous(t *testing.T) {
	ctx := context.Background()
	app, f, _ := newTestApp(t, 5)
	views, err := app.DivideGroups(ctx, f.Match.ID, []Layout{
		{Name: "G1", ContestantIDs: []uuid.UUID{f.ID(1), f.ID(2)}},
		{Name: "G2", ContestantIDs: []uuid.UUID{f.ID(3)}},
	})
	if err != nil {
		t.Fatalf("divide failed: %v", err)
	}
	g1, g2 := uuid.MustParse(views[0].ID), uuid.MustParse(views[1].ID)

	res, err := app.AssignContestantsToGroups(ctx, f.Match.ID, []Assignment{
		{ContestantID: f.ID(4), GroupID: g1},
		{ContestantID: f.ID(1), GroupID: g2},
		{ContestantID: f.ID(5), GroupID: g2},
	})
	if err != nil {
		t.Fatalf("assign failed: %v", err)
	}
	if len(res.Assigned) != 3 || len(res.Failed) != 0 {
		t.Fatalf("expected 3 assigned, got %+v", res)
	}

	cms, err := f.Store.ListContestantMatches(ctx, f.Match.ID)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(cms) != 5 {
		t.Fatalf("expected 5 contestants, got %d", len(cms))
	}
	seen := make(map[int]bool, len(cms))
	maxG1, minG2 := 0, len(cms)+1
	for _, cm := range cms {
		n := cm.RegistrationNumber
		if n < 1 || n > len(cms) || seen[n] {
			t.Fatalf("expected unique numbers 1..%d, got %d twice or out of range", len(cms), n)
		}
		seen[n] = true
		switch {
		case cm.GroupID != nil && *cm.GroupID == g1 && n > maxG1:
			maxG1 = n
		case cm.GroupID != nil && *cm.GroupID == g2 && n < minG2:
			minG2 = n
		}
	}
	if maxG1 != 2 || minG2 != 3 {
		t.Fatalf("expected G1 to hold 1-2 and G2 3-5, got G1 up to %d and G2 from %d", maxG1, minG2)
	}
}
