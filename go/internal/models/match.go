package models

import (
	"time"

	"github.com/google/uuid"
)

// MatchStatus defines the lifecycle status of a match.
type MatchStatus string

const (
	MatchStatusUpcoming MatchStatus = "upcoming"
	MatchStatusOngoing  MatchStatus = "ongoing"
	MatchStatusFinished MatchStatus = "finished"
)

// Match represents one timed contest session drawing from a question package.
// RemainingTime is a checkpoint of the live timer, not authoritative while
// the timer is running.
type Match struct {
	ID                uuid.UUID   `json:"id"`
	Slug              string      `json:"slug"`
	Name              string      `json:"name"`
	Status            MatchStatus `json:"status"`
	CurrentQuestion   int         `json:"current_question"`
	RemainingTime     int         `json:"remaining_time"`
	QuestionPackageID uuid.UUID   `json:"question_package_id"`
	StartTime         time.Time   `json:"start_time"`
	EndTime           time.Time   `json:"end_time"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// Overlaps reports whether the [StartTime, EndTime) windows of two matches intersect.
func (m *Match) Overlaps(other *Match) bool {
	return m.StartTime.Before(other.EndTime) && other.StartTime.Before(m.EndTime)
}
