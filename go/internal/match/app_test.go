package match

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/broadcast"
	"github.com/mcdev12/olympia/go/internal/broadcast/broadcasttest"
	"github.com/mcdev12/olympia/go/internal/contestant"
	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/keylock"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
	"github.com/mcdev12/olympia/go/internal/store/storetest"
	"github.com/mcdev12/olympia/go/internal/timer"
)

type harness struct {
	f           *storetest.Fixture
	app         *App
	contestants *contestant.App
	rec         *broadcasttest.Recorder
	clock       *clockwork.FakeClock
	cache       *fakeCache
}

type fakeCache struct {
	mu     sync.Mutex
	values map[uuid.UUID]int
}

func (c *fakeCache) Save(_ context.Context, id uuid.UUID, remaining int, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[id] = remaining
	return nil
}

func (c *fakeCache) Load(_ context.Context, id uuid.UUID) (int, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[id]
	return v, ok, nil
}

func (c *fakeCache) Clear(_ context.Context, id uuid.UUID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, id)
	return nil
}

func newHarness(t *testing.T, opts storetest.Options) *harness {
	t.Helper()
	f := storetest.Seed(t, opts)
	rec := broadcasttest.NewRecorder()
	clock := clockwork.NewFakeClock()
	router := broadcast.NewRouter(rec, nil, clock)
	locks := keylock.New()
	cache := &fakeCache{values: make(map[uuid.UUID]int)}

	registry := timer.NewRegistry(clock, timer.DefaultConfig("match"))
	t.Cleanup(registry.Close)

	progress := contestant.NewApp(f.Store, locks, router, clock)
	app := NewApp(f.Store, registry, progress, router, cache, locks, Config{PersistEvery: 1})
	registry.SetSink(NewTimerSink(app))

	return &harness{f: f, app: app, contestants: progress, rec: rec, clock: clock, cache: cache}
}

func (h *harness) controlCount(typ broadcast.EventType) int {
	n := 0
	for _, e := range h.rec.OfType(typ) {
		if e.Room == broadcast.ControlRoom(h.f.Match.ID) {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("condition not met before deadline")
}

func TestStartOnlyFromUpcoming(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{})

	m, err := h.app.Start(ctx, h.f.Match.ID)
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if m.Status != models.MatchStatusOngoing || m.CurrentQuestion != 1 || m.RemainingTime != 0 {
		t.Fatalf("unexpected started match %+v", m)
	}
	rooms := map[string]bool{}
	for _, e := range h.rec.Emissions() {
		rooms[e.Room] = true
	}
	if !rooms[broadcast.ControlRoom(m.ID)] || !rooms[broadcast.StudentRoom(m.ID)] || !rooms[broadcast.GlobalRoom] {
		t.Fatalf("expected control, student and global rooms, got %v", rooms)
	}

	before := len(h.rec.Emissions())
	if _, err := h.app.Start(ctx, m.ID); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if len(h.rec.Emissions()) != before {
		t.Fatal("expected failed start not to broadcast")
	}
	if _, err := h.app.Start(ctx, uuid.New()); !errors.Is(err, apperr.ErrMatchNotFound) {
		t.Fatalf("expected match not found, got %v", err)
	}
}

func TestAdvanceUnknownQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{Questions: 2})
	if _, err := h.app.AdvanceToQuestion(ctx, h.f.Match.ID, 1); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition before start, got %v", err)
	}
	if _, err := h.app.Start(ctx, h.f.Match.ID); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := h.app.AdvanceToQuestion(ctx, h.f.Match.ID, 3); !errors.Is(err, apperr.ErrQuestionNotFound) {
		t.Fatalf("expected question not found, got %v", err)
	}
	if m := h.f.Reload(t); m.CurrentQuestion != 1 {
		t.Fatalf("expected pointer to stay at 1, got %d", m.CurrentQuestion)
	}
}

func TestMatchScenario(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{Contestants: 3})
	id := h.f.Match.ID

	if _, err := h.app.Start(ctx, id); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	m, err := h.app.AdvanceToQuestion(ctx, id, 1)
	if err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if m.RemainingTime != 30 {
		t.Fatalf("expected remaining seeded to 30, got %d", m.RemainingTime)
	}

	for n, answer := range map[int]string{1: "A", 2: "A", 3: "B"} {
		_, err := h.contestants.Submit(ctx, contestant.SubmitRequest{
			MatchID: id, ContestantID: h.f.ID(n), QuestionOrder: 1, Answer: answer,
		})
		if err != nil {
			t.Fatalf("submit %d failed: %v", n, err)
		}
	}
	wrong := h.f.Contestant(t, 3)
	if wrong.Status != models.ContestantStatusEliminated || *wrong.EliminatedAtQuestionOrder != 1 {
		t.Fatalf("expected contestant 3 eliminated at 1, got %s %v", wrong.Status, wrong.EliminatedAtQuestionOrder)
	}

	// Contestant 2 is rescued by an operator before the next question.
	h.f.SetStatus(t, 2, models.ContestantStatusRescued)

	if _, err := h.app.AdvanceToQuestion(ctx, id, 2); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	if cm := h.f.Contestant(t, 3); cm.Status != models.ContestantStatusEliminated {
		t.Fatalf("expected eliminated contestant to stay eliminated, got %s", cm.Status)
	}
	if cm := h.f.Contestant(t, 2); cm.Status != models.ContestantStatusInProgress {
		t.Fatalf("expected rescued contestant back in progress, got %s", cm.Status)
	}

	selected := h.rec.OfType(broadcast.EventQuestionSelected)
	var payload struct {
		ReinstatedCount int `json:"reinstated_count"`
	}
	if err := broadcasttest.Decode(selected[len(selected)-1], &payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.ReinstatedCount != 1 {
		t.Fatalf("expected 1 reinstated, got %d", payload.ReinstatedCount)
	}

	stats, err := h.app.End(ctx, id)
	if err != nil {
		t.Fatalf("end failed: %v", err)
	}
	if stats.TotalAnswers != 3 || stats.CorrectAnswers != 2 {
		t.Fatalf("expected 3 answers, 2 correct, got %d/%d", stats.TotalAnswers, stats.CorrectAnswers)
	}
	if m := h.f.Reload(t); m.Status != models.MatchStatusFinished {
		t.Fatalf("expected finished, got %s", m.Status)
	}
	if _, err := h.app.End(ctx, id); apperr.KindOf(err) != apperr.KindInvalidTransition {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

// failingProgress reinstates rescues through the transaction, then fails.
type failingProgress struct {
	*contestant.App
}

func (p failingProgress) ConsumeRescues(ctx context.Context, tx store.Store, matchID uuid.UUID) ([]events.ContestantChange, error) {
	if _, err := p.App.ConsumeRescues(ctx, tx, matchID); err != nil {
		return nil, err
	}
	return nil, errors.New("rescue write failed")
}

func TestAdvanceRollsBackPointerWhenRescuesFail(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{Contestants: 2})
	id := h.f.Match.ID
	if _, err := h.app.Start(ctx, id); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	h.f.SetStatus(t, 2, models.ContestantStatusRescued)

	registry := timer.NewRegistry(h.clock, timer.DefaultConfig("match"))
	t.Cleanup(registry.Close)
	router := broadcast.NewRouter(h.rec, nil, h.clock)
	app := NewApp(h.f.Store, registry, failingProgress{h.contestants}, router, nil, keylock.New(), Config{})
	registry.SetSink(NewTimerSink(app))

	if _, err := app.AdvanceToQuestion(ctx, id, 2); err == nil {
		t.Fatal("expected advance to fail")
	}
	if m := h.f.Reload(t); m.CurrentQuestion != 1 {
		t.Fatalf("expected pointer to stay on 1, got %d", m.CurrentQuestion)
	}
	if cm := h.f.Contestant(t, 2); cm.Status != models.ContestantStatusRescued {
		t.Fatalf("expected contestant to stay rescued, got %s", cm.Status)
	}
	if n := len(h.rec.OfType(broadcast.EventQuestionSelected)); n != 0 {
		t.Fatalf("expected no question selected broadcast, got %d", n)
	}
}

func TestUpdateTimerRejectsZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{DefaultTime: 20})
	id := h.f.Match.ID
	if _, err := h.app.Start(ctx, id); err != nil {
		t.Fatalf("start failed: %v", err)
	}
	if _, err := h.app.UpdateTimer(ctx, id, 12); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if _, err := h.app.UpdateTimer(ctx, id, 0); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error for zero, got %v", err)
	}
	resumed, err := h.app.PlayTimer(ctx, id)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if resumed != 12 {
		t.Fatalf("expected the earlier override of 12 to stand, got %d", resumed)
	}
}

func TestAdvanceResolvesConfirmedContestants(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{Contestants: 2})
	id := h.f.Match.ID
	h.app.Start(ctx, id)
	h.app.AdvanceToQuestion(ctx, id, 1)
	h.f.SetStatus(t, 1, models.ContestantStatusConfirmed2)

	if _, err := h.app.AdvanceToQuestion(ctx, id, 2); err != nil {
		t.Fatalf("advance failed: %v", err)
	}
	r, err := h.f.Store.GetResult(ctx, id, h.f.ID(1), 1)
	if err != nil {
		t.Fatalf("expected result for confirmed contestant: %v", err)
	}
	if !r.IsCorrect {
		t.Fatal("expected confirmed2 to resolve as correct")
	}
	if _, err := h.f.Store.GetResult(ctx, id, h.f.ID(2), 1); !errors.Is(err, apperr.ErrResultNotFound) {
		t.Fatalf("expected no result for unconfirmed contestant, got %v", err)
	}
}

func TestTimerCountsDownAndPersistsZero(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{DefaultTime: 30})
	id := h.f.Match.ID
	h.app.Start(ctx, id)
	h.app.AdvanceToQuestion(ctx, id, 1)

	if _, err := h.app.PlayTimer(ctx, id); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if _, err := h.app.PlayTimer(ctx, id); !errors.Is(err, apperr.ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}

	for i := 1; i <= 30; i++ {
		h.clock.Advance(time.Second)
		waitFor(t, func() bool {
			return h.controlCount(broadcast.EventTimerUpdate)+h.controlCount(broadcast.EventTimerEnded) == i
		})
	}

	if n := h.controlCount(broadcast.EventTimerUpdate); n != 29 {
		t.Fatalf("expected 29 updates, got %d", n)
	}
	if n := h.controlCount(broadcast.EventTimerEnded); n != 1 {
		t.Fatalf("expected 1 ended, got %d", n)
	}
	if m := h.f.Reload(t); m.RemainingTime != 0 {
		t.Fatalf("expected persisted remaining 0, got %d", m.RemainingTime)
	}
}

func TestPauseResumeAndOverride(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{DefaultTime: 20})
	id := h.f.Match.ID
	h.app.Start(ctx, id)
	h.app.AdvanceToQuestion(ctx, id, 1)

	if _, err := h.app.PlayTimer(ctx, id); err != nil {
		t.Fatalf("play failed: %v", err)
	}
	for i := 1; i <= 3; i++ {
		h.clock.Advance(time.Second)
		waitFor(t, func() bool { return h.controlCount(broadcast.EventTimerUpdate) == i })
	}

	remaining, err := h.app.PauseTimer(ctx, id)
	if err != nil {
		t.Fatalf("pause failed: %v", err)
	}
	if remaining != 17 {
		t.Fatalf("expected 17 remaining, got %d", remaining)
	}
	if m := h.f.Reload(t); m.RemainingTime != 17 {
		t.Fatalf("expected 17 persisted, got %d", m.RemainingTime)
	}

	h.clock.Advance(5 * time.Second)
	if n := h.controlCount(broadcast.EventTimerUpdate); n != 3 {
		t.Fatalf("expected no ticks while paused, got %d updates", n)
	}

	if _, err := h.app.UpdateTimer(ctx, id, 45); err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if v, _, _ := h.cache.Load(ctx, id); v != 45 {
		t.Fatalf("expected cached 45, got %d", v)
	}
	resumed, err := h.app.PlayTimer(ctx, id)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed != 45 {
		t.Fatalf("expected resume from 45, got %d", resumed)
	}

	reset, err := h.app.ResetTimer(ctx, id)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	snap, err := h.app.Snapshot(ctx, id, AudienceStaff)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if reset != 20 || snap.RemainingTime != 20 || snap.Running {
		t.Fatalf("expected paused at 20, got %d running=%v", snap.RemainingTime, snap.Running)
	}
	if _, err := h.app.UpdateTimer(ctx, id, -1); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestPauseWithoutTimer(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{})
	h.app.Start(ctx, h.f.Match.ID)
	if _, err := h.app.PauseTimer(ctx, h.f.Match.ID); !errors.Is(err, apperr.ErrTimerNotFound) {
		t.Fatalf("expected timer not found, got %v", err)
	}
}

func TestPlayPrefersLowerCheckpoint(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{Status: models.MatchStatusOngoing})
	h.f.Start(t, 1)
	if err := h.f.Store.UpdateRemainingTime(ctx, h.f.Match.ID, 25); err != nil {
		t.Fatalf("seed remaining: %v", err)
	}
	h.cache.Save(ctx, h.f.Match.ID, 12, true)

	remaining, err := h.app.PlayTimer(ctx, h.f.Match.ID)
	if err != nil {
		t.Fatalf("play failed: %v", err)
	}
	if remaining != 12 {
		t.Fatalf("expected 12 from the checkpoint, got %d", remaining)
	}
}

func TestSnapshotHidesUnrevealedQuestion(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, storetest.Options{})
	id := h.f.Match.ID
	h.app.Start(ctx, id)
	h.app.AdvanceToQuestion(ctx, id, 2)

	snap, err := h.app.Snapshot(ctx, id, AudienceContestant)
	if err != nil {
		t.Fatalf("snapshot failed: %v", err)
	}
	if snap.Question != nil || snap.Revealed {
		t.Fatalf("expected hidden question, got %+v", snap.Question)
	}
	staff, _ := h.app.Snapshot(ctx, id, AudienceStaff)
	if staff.Question == nil || staff.Question.Answer != "A" {
		t.Fatalf("expected staff to see the answer, got %+v", staff.Question)
	}

	if _, err := h.app.ShowQuestion(ctx, id); err != nil {
		t.Fatalf("show failed: %v", err)
	}
	snap, _ = h.app.Snapshot(ctx, id, AudienceContestant)
	if snap.Question == nil || snap.Question.Order != 2 || snap.Question.Answer != "" {
		t.Fatalf("expected revealed question without answer, got %+v", snap.Question)
	}

	shown := h.rec.OfType(broadcast.EventQuestionShown)
	if len(shown) == 0 || shown[0].Room != broadcast.StudentRoom(id) {
		t.Fatalf("expected question shown to student room first, got %+v", shown)
	}
}
