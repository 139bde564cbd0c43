package contestant

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/broadcast"
	"github.com/mcdev12/olympia/go/internal/broadcast/broadcasttest"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store/storetest"
)

func newTestApp(t *testing.T, f *storetest.Fixture) (*App, *broadcasttest.Recorder) {
	t.Helper()
	rec := broadcasttest.NewRecorder()
	clock := clockwork.NewFakeClock()
	router := broadcast.NewRouter(rec, nil, clock)
	return NewApp(f.Store, keylock.New(), router, clock), rec
}

func TestSubmitIsAtMostOnce(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{})
	f.Start(t, 1)
	app, _ := newTestApp(t, f)

	req := SubmitRequest{MatchID: f.Match.ID, ContestantID: f.ID(1), QuestionOrder: 1, Answer: "A"}
	first, err := app.Submit(ctx, req)
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !first.IsCorrect || first.Duplicate {
		t.Fatalf("expected fresh correct result, got %+v", first)
	}

	req.Answer = "B"
	second, err := app.Submit(ctx, req)
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if !second.Duplicate || !second.IsCorrect {
		t.Fatalf("expected replay of the first outcome, got %+v", second)
	}

	results, _ := app.Results(ctx, f.Match.ID)
	if len(results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(results))
	}
	if cm := f.Contestant(t, 1); cm.Status != models.ContestantStatusInProgress {
		t.Fatalf("expected contestant to stay in progress, got %s", cm.Status)
	}
}

func TestSubmitWrongAnswerEliminates(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{})
	f.Start(t, 2)
	app, rec := newTestApp(t, f)

	res, err := app.Submit(ctx, SubmitRequest{MatchID: f.Match.ID, ContestantID: f.ID(3), QuestionOrder: 2, Answer: "C"})
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if res.IsCorrect || res.Status != models.ContestantStatusEliminated {
		t.Fatalf("expected elimination, got %+v", res)
	}
	cm := f.Contestant(t, 3)
	if cm.EliminatedAtQuestionOrder == nil || *cm.EliminatedAtQuestionOrder != 2 {
		t.Fatalf("expected eliminated at 2, got %v", cm.EliminatedAtQuestionOrder)
	}
	if n := len(rec.OfType(broadcast.EventContestantsUpdated)); n == 0 {
		t.Fatal("expected a contestants update broadcast")
	}

	_, err = app.Submit(ctx, SubmitRequest{MatchID: f.Match.ID, ContestantID: f.ID(3), QuestionOrder: 3, Answer: "A"})
	if !errors.Is(err, ErrEliminated) {
		t.Fatalf("expected eliminated rejection, got %v", err)
	}
}

func TestSubmitRejections(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{Contestants: 4})
	f.Start(t, 1)
	f.SetStatus(t, 1, models.ContestantStatusNotStarted)
	f.SetStatus(t, 2, models.ContestantStatusBanned)
	app, _ := newTestApp(t, f)

	cases := []struct {
		number int
		order  int
		want   error
	}{
		{1, 1, ErrNotStarted},
		{2, 1, ErrBanned},
		{3, 2, ErrQuestionClosed},
	}
	for _, c := range cases {
		_, err := app.Submit(ctx, SubmitRequest{MatchID: f.Match.ID, ContestantID: f.ID(c.number), QuestionOrder: c.order, Answer: "A"})
		if !errors.Is(err, c.want) {
			t.Fatalf("contestant %d: expected %v, got %v", c.number, c.want, err)
		}
		if apperr.ReasonOf(err) != apperr.ReasonOf(c.want) {
			t.Fatalf("contestant %d: expected reason %s, got %s", c.number, apperr.ReasonOf(c.want), apperr.ReasonOf(err))
		}
	}
	results, _ := f.Store.ListResults(ctx, f.Match.ID)
	if len(results) != 0 {
		t.Fatalf("expected no results from rejected submissions, got %d", len(results))
	}
}

func TestUpdateStatusesPartialSuccessForJudge(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{Contestants: 4})
	f.Start(t, 1)
	judge := f.AddJudge(t, "judge-a")
	other := f.AddJudge(t, "judge-b")
	f.AddGroup(t, "A", &judge.ID, 1, 2)
	f.AddGroup(t, "B", &other.ID, 3)
	f.Eliminate(t, 2, 1)
	app, rec := newTestApp(t, f)

	res, err := app.UpdateStatuses(ctx, UpdateStatusesRequest{
		MatchID:             f.Match.ID,
		Status:              models.ContestantStatusConfirmed1,
		RegistrationNumbers: []int{1, 2, 3, 9},
		JudgeID:             &judge.ID,
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if len(res.Updated) != 1 || res.Updated[0].RegistrationNumber != 1 {
		t.Fatalf("expected only contestant 1 updated, got %+v", res.Updated)
	}
	reasons := map[int]string{}
	for _, fail := range res.Failed {
		reasons[fail.RegistrationNumber] = fail.Reason
	}
	if reasons[2] != ReasonInvalidTransition || reasons[3] != ReasonNotInJudgeGroup || reasons[9] != ReasonNotFound {
		t.Fatalf("unexpected failure reasons: %v", reasons)
	}

	emitted := rec.OfType(broadcast.EventContestantsUpdated)
	if len(emitted) < 2 {
		t.Fatalf("expected control and judge emissions, got %d", len(emitted))
	}
	if emitted[0].Room != broadcast.ControlRoom(f.Match.ID) {
		t.Fatalf("expected control room first, got %s", emitted[0].Room)
	}
	if emitted[1].Room != broadcast.JudgeRoom(f.Match.ID, judge.ID) {
		t.Fatalf("expected judge room second, got %s", emitted[1].Room)
	}
}

func TestUpdateStatusesRecordsQuestionOrders(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{})
	f.Start(t, 3)
	app, _ := newTestApp(t, f)

	if _, err := app.UpdateStatuses(ctx, UpdateStatusesRequest{
		MatchID: f.Match.ID, Status: models.ContestantStatusEliminated, RegistrationNumbers: []int{1},
	}); err != nil {
		t.Fatalf("eliminate failed: %v", err)
	}
	if _, err := app.UpdateStatuses(ctx, UpdateStatusesRequest{
		MatchID: f.Match.ID, Status: models.ContestantStatusRescued, RegistrationNumbers: []int{1},
	}); err != nil {
		t.Fatalf("rescue failed: %v", err)
	}
	cm := f.Contestant(t, 1)
	if cm.Status != models.ContestantStatusRescued {
		t.Fatalf("expected rescued, got %s", cm.Status)
	}
	if *cm.EliminatedAtQuestionOrder != 3 || *cm.RescuedAtQuestionOrder != 3 {
		t.Fatalf("expected both orders at 3, got %d and %d", *cm.EliminatedAtQuestionOrder, *cm.RescuedAtQuestionOrder)
	}
}

func TestResolveQuestionAndConsumeRescues(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{Contestants: 4})
	f.Start(t, 2)
	f.SetStatus(t, 1, models.ContestantStatusConfirmed2)
	f.Eliminate(t, 2, 2)
	f.Eliminate(t, 3, 1)
	f.SetStatus(t, 4, models.ContestantStatusRescued)
	app, _ := newTestApp(t, f)

	created, err := app.ResolveQuestion(ctx, f.Match.ID, 2)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if created != 2 {
		t.Fatalf("expected 2 results, got %d", created)
	}
	if again, _ := app.ResolveQuestion(ctx, f.Match.ID, 2); again != 0 {
		t.Fatalf("expected resolve to be create-once, got %d new results", again)
	}
	r1, _ := f.Store.GetResult(ctx, f.Match.ID, f.ID(1), 2)
	r2, _ := f.Store.GetResult(ctx, f.Match.ID, f.ID(2), 2)
	if r1 == nil || !r1.IsCorrect || r2 == nil || r2.IsCorrect {
		t.Fatalf("expected confirmed2 correct and eliminated incorrect, got %+v %+v", r1, r2)
	}

	changes, err := app.ConsumeRescues(ctx, f.Store, f.Match.ID)
	if err != nil {
		t.Fatalf("consume failed: %v", err)
	}
	if len(changes) != 1 || changes[0].RegistrationNumber != 4 {
		t.Fatalf("expected contestant 4 reinstated, got %+v", changes)
	}
	if cm := f.Contestant(t, 4); cm.Status != models.ContestantStatusInProgress {
		t.Fatalf("expected in progress, got %s", cm.Status)
	}
	if cm := f.Contestant(t, 3); cm.Status != models.ContestantStatusEliminated {
		t.Fatalf("expected eliminated contestant to stay eliminated, got %s", cm.Status)
	}
}

func TestBanIsProcessedOnce(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{})
	f.Start(t, 1)
	app, _ := newTestApp(t, f)

	req := BanRequest{MatchID: f.Match.ID, ContestantID: f.ID(2), Reason: "tab switch", ViolationType: "focus_lost", ViolationCount: 3}
	cm, err := app.Ban(ctx, req)
	if err != nil {
		t.Fatalf("ban failed: %v", err)
	}
	if cm.Status != models.ContestantStatusBanned || cm.Ban == nil || cm.Ban.ViolationCount != 3 {
		t.Fatalf("expected banned with details, got %+v", cm)
	}
	c, _ := f.Store.GetContestant(ctx, f.ID(2))
	if c.Status != models.ContestantStateEliminate {
		t.Fatalf("expected umbrella status eliminate, got %s", c.Status)
	}
	if _, err := app.Ban(ctx, req); !errors.Is(err, apperr.ErrAlreadyProcessed) {
		t.Fatalf("expected already processed, got %v", err)
	}
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	f := storetest.Seed(t, storetest.Options{})
	f.Start(t, 1)
	app, _ := newTestApp(t, f)

	for n, answer := range map[int]string{1: "A", 2: "A", 3: "D"} {
		if _, err := app.Submit(ctx, SubmitRequest{MatchID: f.Match.ID, ContestantID: f.ID(n), QuestionOrder: 1, Answer: answer}); err != nil {
			t.Fatalf("submit failed: %v", err)
		}
	}
	stats, err := app.Stats(ctx, f.Match.ID)
	if err != nil {
		t.Fatalf("stats failed: %v", err)
	}
	if stats.TotalAnswers != 3 || stats.CorrectAnswers != 2 {
		t.Fatalf("expected 3 answers with 2 correct, got %d/%d", stats.TotalAnswers, stats.CorrectAnswers)
	}
	if stats.ByStatus[string(models.ContestantStatusEliminated)] != 1 {
		t.Fatalf("expected one eliminated, got %v", stats.ByStatus)
	}
}
