// Package broadcast fans persisted state changes out to rooms. Callers must
// only invoke the router after the corresponding store write succeeded.
package broadcast

import (
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/events"
	"github.com/mcdev12/olympia/go/internal/models"
)

// Emitter delivers an event to every connection in a room. Deliveries must
// preserve call order across rooms.
type Emitter interface {
	Emit(room string, event *Event)
}

// Mirror receives every event once, after local delivery.
type Mirror interface {
	Mirror(event *Event)
}

// Router maps domain changes to room emissions.
type Router struct {
	emitter Emitter
	mirror  Mirror
	clock   clockwork.Clock
}

// NewRouter creates a router. mirror may be nil.
func NewRouter(emitter Emitter, mirror Mirror, clock clockwork.Clock) *Router {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Router{emitter: emitter, mirror: mirror, clock: clock}
}

func (r *Router) publish(matchID uuid.UUID, typ EventType, payload any, rooms ...string) {
	event, err := NewEvent(matchID, typ, r.clock.Now(), payload)
	if err != nil {
		log.Error().Err(err).Str("match_id", matchID.String()).Msg("failed to build event")
		return
	}
	for _, room := range rooms {
		r.emitter.Emit(room, event)
	}
	if r.mirror != nil {
		r.mirror.Mirror(event)
	}
}

// MatchStarted notifies control, students and the global room. No question
// content is included.
func (r *Router) MatchStarted(m *models.Match) {
	payload := events.NewMatchState(m)
	r.publish(m.ID, EventMatchStarted, payload, ControlRoom(m.ID), StudentRoom(m.ID))
	r.publish(m.ID, EventMatchLive, payload, GlobalRoom)
}

// QuestionSelected announces the new current question pointer.
func (r *Router) QuestionSelected(m *models.Match, reinstated int) {
	r.publish(m.ID, EventQuestionSelected, events.QuestionSelectedPayload{
		MatchID:         m.ID.String(),
		QuestionOrder:   m.CurrentQuestion,
		RemainingTime:   m.RemainingTime,
		ReinstatedCount: reinstated,
	}, ControlRoom(m.ID), StudentRoom(m.ID))
}

// QuestionShown reveals q to contestants and to the control room screens.
func (r *Router) QuestionShown(m *models.Match, q *models.Question, remaining int) {
	r.publish(m.ID, EventQuestionShown, events.QuestionShownPayload{
		MatchID:       m.ID.String(),
		Question:      events.NewQuestionView(q, false),
		RemainingTime: remaining,
	}, StudentRoom(m.ID), ControlRoom(m.ID))
}

// TimerUpdate is emitted on every tick.
func (r *Router) TimerUpdate(matchID uuid.UUID, remaining int) {
	r.timer(matchID, EventTimerUpdate, remaining, true)
}

// TimerEnded is emitted instead of the final update.
func (r *Router) TimerEnded(matchID uuid.UUID) {
	r.timer(matchID, EventTimerEnded, 0, false)
}

// TimerState is emitted after play, pause, reset and manual updates.
func (r *Router) TimerState(matchID uuid.UUID, remaining int, running bool) {
	r.timer(matchID, EventTimerState, remaining, running)
}

func (r *Router) timer(matchID uuid.UUID, typ EventType, remaining int, running bool) {
	if remaining < 0 {
		remaining = 0
	}
	r.publish(matchID, typ, events.TimerPayload{
		MatchID:       matchID.String(),
		RemainingTime: remaining,
		Running:       running,
		TickedAt:      r.clock.Now().UTC(),
	}, ControlRoom(matchID), StudentRoom(matchID))
}

// ContestantsUpdated emits the aggregate change set to the control room,
// then each judge's subset to that judge's room, then the student room.
func (r *Router) ContestantsUpdated(matchID uuid.UUID, questionOrder int, changes []events.ContestantChange) {
	if len(changes) == 0 {
		return
	}
	aggregate := events.ContestantsUpdatedPayload{
		MatchID:  matchID.String(),
		Changes:  changes,
		Question: questionOrder,
	}
	r.publish(matchID, EventContestantsUpdated, aggregate, ControlRoom(matchID))

	var judges []uuid.UUID
	byJudge := make(map[uuid.UUID][]events.ContestantChange)
	for _, c := range changes {
		if c.JudgeID == nil {
			continue
		}
		if _, seen := byJudge[*c.JudgeID]; !seen {
			judges = append(judges, *c.JudgeID)
		}
		byJudge[*c.JudgeID] = append(byJudge[*c.JudgeID], c)
	}
	for _, judgeID := range judges {
		r.publish(matchID, EventContestantsUpdated, events.ContestantsUpdatedPayload{
			MatchID:  matchID.String(),
			Changes:  byJudge[judgeID],
			JudgeID:  judgeID.String(),
			Question: questionOrder,
		}, JudgeRoom(matchID, judgeID))
	}

	r.publish(matchID, EventContestantsUpdated, aggregate, StudentRoom(matchID))
}

// MatchEnded publishes final statistics.
func (r *Router) MatchEnded(m *models.Match, stats *events.MatchStats) {
	r.publish(m.ID, EventMatchEnded, events.MatchEndedPayload{
		Match: events.NewMatchState(m),
		Stats: stats,
	}, ControlRoom(m.ID), StudentRoom(m.ID), GlobalRoom)
}

// GroupsUpdated publishes the current group layout of a match.
func (r *Router) GroupsUpdated(matchID uuid.UUID, groups []events.GroupView) {
	r.publish(matchID, EventGroupsUpdated, events.GroupsUpdatedPayload{
		MatchID: matchID.String(),
		Groups:  groups,
	}, ControlRoom(matchID))
}

// GroupConfirmed tells the control room, then the judge, that a group has
// finished marking a question.
func (r *Router) GroupConfirmed(g *models.Group, judgeID uuid.UUID) {
	payload := events.GroupConfirmedPayload{
		MatchID:       g.MatchID.String(),
		GroupID:       g.ID.String(),
		JudgeID:       judgeID.String(),
		QuestionOrder: g.ConfirmCurrentQuestion,
	}
	r.publish(g.MatchID, EventGroupConfirmed, payload, ControlRoom(g.MatchID), JudgeRoom(g.MatchID, judgeID))
}

// RescueProposed announces a new rescue countdown.
func (r *Router) RescueProposed(rescue *models.Rescue) {
	r.publish(rescue.MatchID, EventRescueProposed, events.NewRescuePayload(rescue),
		ControlRoom(rescue.MatchID), StudentRoom(rescue.MatchID))
}

// RescueUpdate is emitted on every rescue countdown tick.
func (r *Router) RescueUpdate(rescue *models.Rescue) {
	r.publish(rescue.MatchID, EventRescueUpdate, events.NewRescuePayload(rescue), ControlRoom(rescue.MatchID))
}

// RescueResolved announces the outcome of a rescue.
func (r *Router) RescueResolved(rescue *models.Rescue, rescued []uuid.UUID) {
	payload := events.NewRescuePayload(rescue)
	for _, id := range rescued {
		payload.Rescued = append(payload.Rescued, id.String())
	}
	r.publish(rescue.MatchID, EventRescueResolved, payload,
		ControlRoom(rescue.MatchID), StudentRoom(rescue.MatchID))
}

// MatchChanged tells control screens to refetch after an external edit.
func (r *Router) MatchChanged(matchID uuid.UUID, op string) {
	r.publish(matchID, EventMatchChanged, events.MatchChangedPayload{
		MatchID: matchID.String(),
		Op:      op,
	}, ControlRoom(matchID))
}
