package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event is the envelope for everything pushed to clients and mirrored to
// the message bus.
type Event struct {
	ID        string          `json:"id"`
	MatchID   string          `json:"match_id"`
	Type      EventType       `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// EventType names an event.
type EventType string

const (
	EventMatchStarted       EventType = "match:started"
	EventMatchLive          EventType = "match:live"
	EventMatchEnded         EventType = "match:ended"
	EventMatchChanged       EventType = "match:changed"
	EventQuestionSelected   EventType = "question:selected"
	EventQuestionShown      EventType = "question:shown"
	EventTimerUpdate        EventType = "timer:update"
	EventTimerEnded         EventType = "timer:ended"
	EventTimerState         EventType = "timer:state"
	EventContestantsUpdated EventType = "contestants:updated"
	EventGroupsUpdated      EventType = "groups:updated"
	EventGroupConfirmed     EventType = "group:confirmed"
	EventRescueProposed     EventType = "rescue:proposed"
	EventRescueUpdate       EventType = "rescue:update"
	EventRescueResolved     EventType = "rescue:resolved"
)

// NewEvent marshals payload into an envelope.
func NewEvent(matchID uuid.UUID, typ EventType, at time.Time, payload any) (*Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", typ, err)
	}
	return &Event{
		ID:        uuid.New().String(),
		MatchID:   matchID.String(),
		Type:      typ,
		Timestamp: at.UTC(),
		Data:      data,
	}, nil
}

// GlobalRoom receives "match went live" notices for every browsing client.
const GlobalRoom = "global"

// ControlRoom is the per-match room for admins, judges and public screens.
func ControlRoom(matchID uuid.UUID) string {
	return "match-" + matchID.String()
}

// JudgeRoom is the per-(match, judge) room for judge-scoped contestant lists.
func JudgeRoom(matchID, judgeID uuid.UUID) string {
	return "match-" + matchID.String() + "-judge-" + judgeID.String()
}

// StudentRoom is the per-match room for contestants.
func StudentRoom(matchID uuid.UUID) string {
	return "match-" + matchID.String() + "-student"
}
