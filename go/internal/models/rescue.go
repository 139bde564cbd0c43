package models

import (
	"time"

	"github.com/google/uuid"
)

// RescueStatus defines the status of a rescue.
type RescueStatus string

const (
	RescueStatusProposed RescueStatus = "proposed"
	RescueStatusUsed     RescueStatus = "used"
	RescueStatusNotUsed  RescueStatus = "not_used"
)

// SupportAnswer is an answer submitted in support of a pending rescue.
type SupportAnswer struct {
	ContestantID uuid.UUID `json:"contestant_id"`
	Answer       string    `json:"answer"`
	SubmittedAt  time.Time `json:"submitted_at"`
}

// Rescue is a reprieve that can return eliminated contestants to play.
type Rescue struct {
	ID             uuid.UUID       `json:"id"`
	MatchID        uuid.UUID       `json:"match_id"`
	QuestionOrder  int             `json:"question_order"`
	Status         RescueStatus    `json:"status"`
	ContestantIDs  []uuid.UUID     `json:"contestant_ids"`
	SupportAnswers []SupportAnswer `json:"support_answers"`
	RemainingTime  int             `json:"remaining_time"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
