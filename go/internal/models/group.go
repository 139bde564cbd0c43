package models

import (
	"time"

	"github.com/google/uuid"
)

// Group is a judge-scoped subset of contestants within a match.
type Group struct {
	ID                     uuid.UUID  `json:"id"`
	MatchID                uuid.UUID  `json:"match_id"`
	Name                   string     `json:"name"`
	JudgeUserID            *uuid.UUID `json:"judge_user_id,omitempty"`
	Position               int        `json:"position"`
	ConfirmCurrentQuestion int        `json:"confirm_current_question"`
	CreatedAt              time.Time  `json:"created_at"`
}
