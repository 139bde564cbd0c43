package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/models"
)

// Event payload types shared by the router, the gateway and the relay.

// MatchStatePayload is carried by match lifecycle events.
type MatchStatePayload struct {
	MatchID         string             `json:"match_id"`
	Slug            string             `json:"slug"`
	Name            string             `json:"name"`
	Status          models.MatchStatus `json:"status"`
	CurrentQuestion int                `json:"current_question"`
	RemainingTime   int                `json:"remaining_time"`
}

// NewMatchState builds the payload for m.
func NewMatchState(m *models.Match) MatchStatePayload {
	return MatchStatePayload{
		MatchID:         m.ID.String(),
		Slug:            m.Slug,
		Name:            m.Name,
		Status:          m.Status,
		CurrentQuestion: m.CurrentQuestion,
		RemainingTime:   m.RemainingTime,
	}
}

// QuestionView is a question as shown to clients. Answer is only populated
// for staff views served through the snapshot query.
type QuestionView struct {
	Order       int                 `json:"order"`
	Type        models.QuestionType `json:"type"`
	Content     string              `json:"content"`
	Options     []string            `json:"options,omitempty"`
	DefaultTime int                 `json:"default_time"`
	Answer      string              `json:"answer,omitempty"`
}

// NewQuestionView converts q, optionally including its answer.
func NewQuestionView(q *models.Question, withAnswer bool) *QuestionView {
	if q == nil {
		return nil
	}
	v := &QuestionView{
		Order:       q.Order,
		Type:        q.Type,
		Content:     q.Content,
		Options:     q.Options,
		DefaultTime: q.DefaultTime,
	}
	if withAnswer {
		v.Answer = q.Answer
	}
	return v
}

// QuestionSelectedPayload announces a new current question. The content is
// withheld until the question is shown.
type QuestionSelectedPayload struct {
	MatchID         string `json:"match_id"`
	QuestionOrder   int    `json:"question_order"`
	RemainingTime   int    `json:"remaining_time"`
	ReinstatedCount int    `json:"reinstated_count"`
}

// QuestionShownPayload reveals the current question.
type QuestionShownPayload struct {
	MatchID       string        `json:"match_id"`
	Question      *QuestionView `json:"question"`
	RemainingTime int           `json:"remaining_time"`
}

// TimerPayload carries the live countdown.
type TimerPayload struct {
	MatchID       string    `json:"match_id"`
	RemainingTime int       `json:"remaining_time"`
	Running       bool      `json:"running"`
	TickedAt      time.Time `json:"ticked_at"`
}

// ContestantChange is one contestant's new status.
type ContestantChange struct {
	ContestantID              string                  `json:"contestant_id"`
	RegistrationNumber        int                     `json:"registration_number"`
	Status                    models.ContestantStatus `json:"status"`
	EliminatedAtQuestionOrder *int                    `json:"eliminated_at_question_order,omitempty"`
	RescuedAtQuestionOrder    *int                    `json:"rescued_at_question_order,omitempty"`

	// JudgeID routes the change to the judge owning the contestant's group.
	JudgeID *uuid.UUID `json:"-"`
}

// NewContestantChange converts cm. judgeID may be nil for ungrouped or
// unassigned contestants.
func NewContestantChange(cm *models.ContestantMatch, judgeID *uuid.UUID) ContestantChange {
	return ContestantChange{
		ContestantID:              cm.ContestantID.String(),
		RegistrationNumber:        cm.RegistrationNumber,
		Status:                    cm.Status,
		EliminatedAtQuestionOrder: cm.EliminatedAtQuestionOrder,
		RescuedAtQuestionOrder:    cm.RescuedAtQuestionOrder,
		JudgeID:                   judgeID,
	}
}

// ContestantsUpdatedPayload is the aggregate (or judge-scoped) status update.
type ContestantsUpdatedPayload struct {
	MatchID  string             `json:"match_id"`
	Changes  []ContestantChange `json:"changes"`
	JudgeID  string             `json:"judge_id,omitempty"`
	Question int                `json:"question_order"`
}

// ContestantStats aggregates one contestant's answers in a match.
type ContestantStats struct {
	ContestantID       string                  `json:"contestant_id"`
	RegistrationNumber int                     `json:"registration_number"`
	Status             models.ContestantStatus `json:"status"`
	Answered           int                     `json:"answered"`
	Correct            int                     `json:"correct"`
	Incorrect          int                     `json:"incorrect"`
}

// MatchStats aggregates a finished match.
type MatchStats struct {
	MatchID          string            `json:"match_id"`
	TotalContestants int               `json:"total_contestants"`
	TotalAnswers     int               `json:"total_answers"`
	CorrectAnswers   int               `json:"correct_answers"`
	ByStatus         map[string]int    `json:"by_status"`
	Contestants      []ContestantStats `json:"contestants"`
}

// MatchEndedPayload is emitted when a match finishes.
type MatchEndedPayload struct {
	Match MatchStatePayload `json:"match"`
	Stats *MatchStats       `json:"stats"`
}

// GroupView is a group as shown to the control room.
type GroupView struct {
	ID                     string  `json:"id"`
	Name                   string  `json:"name"`
	JudgeUserID            *string `json:"judge_user_id,omitempty"`
	Position               int     `json:"position"`
	ConfirmCurrentQuestion int     `json:"confirm_current_question"`
	Contestants            int     `json:"contestants"`
}

// GroupsUpdatedPayload is emitted after any group mutation.
type GroupsUpdatedPayload struct {
	MatchID string      `json:"match_id"`
	Groups  []GroupView `json:"groups"`
}

// GroupConfirmedPayload records that a judge finished a question.
type GroupConfirmedPayload struct {
	MatchID       string `json:"match_id"`
	GroupID       string `json:"group_id"`
	JudgeID       string `json:"judge_id"`
	QuestionOrder int    `json:"question_order"`
}

// RescuePayload carries rescue lifecycle changes.
type RescuePayload struct {
	MatchID       string              `json:"match_id"`
	RescueID      string              `json:"rescue_id"`
	Status        models.RescueStatus `json:"status"`
	QuestionOrder int                 `json:"question_order"`
	RemainingTime int                 `json:"remaining_time"`
	ContestantIDs []string            `json:"contestant_ids"`
	Rescued       []string            `json:"rescued,omitempty"`
}

// NewRescuePayload converts r.
func NewRescuePayload(r *models.Rescue) RescuePayload {
	ids := make([]string, 0, len(r.ContestantIDs))
	for _, id := range r.ContestantIDs {
		ids = append(ids, id.String())
	}
	return RescuePayload{
		MatchID:       r.MatchID.String(),
		RescueID:      r.ID.String(),
		Status:        r.Status,
		QuestionOrder: r.QuestionOrder,
		RemainingTime: r.RemainingTime,
		ContestantIDs: ids,
	}
}

// MatchChangedPayload relays an edit made outside this process.
type MatchChangedPayload struct {
	MatchID string `json:"match_id"`
	Op      string `json:"op"`
}
