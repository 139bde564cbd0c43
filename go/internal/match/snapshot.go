package match

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/events"
)

// Audience selects how much of the current question a snapshot exposes.
type Audience int

const (
	// AudiencePublic sees revealed content only.
	AudiencePublic Audience = iota
	// AudienceContestant sees revealed content only.
	AudienceContestant
	// AudienceStaff sees the selected question with its answer.
	AudienceStaff
)

// Snapshot is the state a reconnecting client needs, since rooms do not
// replay history.
type Snapshot struct {
	Match         events.MatchStatePayload `json:"match"`
	RemainingTime int                      `json:"remaining_time"`
	Running       bool                     `json:"running"`
	Revealed      bool                     `json:"revealed"`
	Question      *events.QuestionView     `json:"question,omitempty"`
}

// Snapshot returns the current state of a match. The live registry wins
// over the persisted remaining time.
func (a *App) Snapshot(ctx context.Context, matchID uuid.UUID, audience Audience) (*Snapshot, error) {
	m, err := a.store.GetMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}

	snap := &Snapshot{
		Match:         events.NewMatchState(m),
		RemainingTime: m.RemainingTime,
	}
	if live, running, ok := a.timers.Snapshot(matchID); ok {
		snap.RemainingTime = live
		snap.Running = running
	}
	snap.Match.RemainingTime = snap.RemainingTime
	snap.Revealed = m.CurrentQuestion > 0 && a.revealedOrder(matchID) == m.CurrentQuestion

	if m.CurrentQuestion <= 0 || (audience != AudienceStaff && !snap.Revealed) {
		return snap, nil
	}
	q, err := a.store.GetQuestionByOrder(ctx, m.QuestionPackageID, m.CurrentQuestion)
	if err != nil {
		return nil, err
	}
	snap.Question = events.NewQuestionView(q, audience == AudienceStaff)
	return snap, nil
}
