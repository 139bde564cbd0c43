package models

import "github.com/google/uuid"

// QuestionType defines how an answer is graded.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeFreeText       QuestionType = "free_text"
)

// Question is one entry of a question package, addressed by its order.
type Question struct {
	ID              uuid.UUID    `json:"id"`
	PackageID       uuid.UUID    `json:"package_id"`
	Order           int          `json:"order"`
	Type            QuestionType `json:"type"`
	Content         string       `json:"content"`
	Options         []string     `json:"options,omitempty"`
	Answer          string       `json:"answer"`
	AcceptedAnswers []string     `json:"accepted_answers,omitempty"`
	DefaultTime     int          `json:"default_time"`
	IsActive        bool         `json:"is_active"`
}
