package models

import (
	"time"

	"github.com/google/uuid"
)

// ContestantStatus is a contestant's progress within one match.
type ContestantStatus string

const (
	ContestantStatusNotStarted ContestantStatus = "not_started"
	ContestantStatusInProgress ContestantStatus = "in_progress"
	ContestantStatusConfirmed1 ContestantStatus = "confirmed1"
	ContestantStatusConfirmed2 ContestantStatus = "confirmed2"
	ContestantStatusEliminated ContestantStatus = "eliminated"
	ContestantStatusRescued    ContestantStatus = "rescued"
	ContestantStatusBanned     ContestantStatus = "banned"
	ContestantStatusCompleted  ContestantStatus = "completed"
)

// Valid reports whether s is a known status.
func (s ContestantStatus) Valid() bool {
	switch s {
	case ContestantStatusNotStarted, ContestantStatusInProgress, ContestantStatusConfirmed1,
		ContestantStatusConfirmed2, ContestantStatusEliminated, ContestantStatusRescued,
		ContestantStatusBanned, ContestantStatusCompleted:
		return true
	}
	return false
}

// ContestantState is the umbrella status of a contestant across matches.
type ContestantState string

const (
	ContestantStateActive    ContestantState = "active"
	ContestantStateEliminate ContestantState = "eliminate"
)

// Contestant is a student registered for the contest.
type Contestant struct {
	ID         uuid.UUID       `json:"id"`
	FullName   string          `json:"full_name"`
	SchoolName string          `json:"school_name"`
	Status     ContestantState `json:"status"`
}

// BanDetails records why a contestant was banned.
type BanDetails struct {
	Reason         string    `json:"reason"`
	ViolationType  string    `json:"violation_type"`
	ViolationCount int       `json:"violation_count"`
	BannedAt       time.Time `json:"banned_at"`
}

// ContestantMatch is a contestant's participation record within one match.
type ContestantMatch struct {
	ContestantID              uuid.UUID        `json:"contestant_id"`
	MatchID                   uuid.UUID        `json:"match_id"`
	GroupID                   *uuid.UUID       `json:"group_id,omitempty"`
	RegistrationNumber        int              `json:"registration_number"`
	Status                    ContestantStatus `json:"status"`
	EliminatedAtQuestionOrder *int             `json:"eliminated_at_question_order,omitempty"`
	RescuedAtQuestionOrder    *int             `json:"rescued_at_question_order,omitempty"`
	Ban                       *BanDetails      `json:"ban,omitempty"`
	UpdatedAt                 time.Time        `json:"updated_at"`
}
