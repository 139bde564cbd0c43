package models

import (
	"time"

	"github.com/google/uuid"
)

// Result is the graded outcome of one contestant's answer to one question.
// At most one exists per (ContestantID, MatchID, QuestionOrder).
type Result struct {
	ContestantID  uuid.UUID `json:"contestant_id"`
	MatchID       uuid.UUID `json:"match_id"`
	QuestionOrder int       `json:"question_order"`
	Answer        string    `json:"answer"`
	IsCorrect     bool      `json:"is_correct"`
	CreatedAt     time.Time `json:"created_at"`
}
