// Package store declares the persistence contract of the orchestration core.
// Implementations live in the postgres and memory subpackages.
package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/models"
)

// MatchStateUpdate overwrites the lifecycle fields of a match.
type MatchStateUpdate struct {
	Status          models.MatchStatus
	CurrentQuestion int
	RemainingTime   int
}

// StatusUpdate changes a contestant's status within a match. Nil pointers
// leave the corresponding column unchanged.
type StatusUpdate struct {
	MatchID      uuid.UUID
	ContestantID uuid.UUID
	Status       models.ContestantStatus
	EliminatedAt *int
	RescuedAt    *int
	Ban          *models.BanDetails
}

// JudgeBooking is a group owned by a judge together with its parent match.
type JudgeBooking struct {
	GroupID   uuid.UUID
	GroupName string
	Match     models.Match
}

// MatchStore persists matches.
type MatchStore interface {
	CreateMatch(ctx context.Context, m *models.Match) error
	GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error)
	UpdateMatchState(ctx context.Context, id uuid.UUID, req MatchStateUpdate) (*models.Match, error)
	UpdateRemainingTime(ctx context.Context, id uuid.UUID, seconds int) error
}

// QuestionStore reads question packages.
type QuestionStore interface {
	CreateQuestion(ctx context.Context, q *models.Question) error
	GetQuestionByOrder(ctx context.Context, packageID uuid.UUID, order int) (*models.Question, error)
}

// ContestantStore persists contestants and their match participation.
type ContestantStore interface {
	CreateContestant(ctx context.Context, c *models.Contestant) error
	GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error)
	UpdateContestantState(ctx context.Context, id uuid.UUID, state models.ContestantState) error

	CreateContestantMatch(ctx context.Context, cm *models.ContestantMatch) error
	GetContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) (*models.ContestantMatch, error)
	ListContestantMatches(ctx context.Context, matchID uuid.UUID) ([]models.ContestantMatch, error)
	UpdateContestantStatus(ctx context.Context, req StatusUpdate) (*models.ContestantMatch, error)
	SetContestantGroup(ctx context.Context, matchID, contestantID uuid.UUID, groupID *uuid.UUID) error
	SetRegistrationNumbers(ctx context.Context, matchID uuid.UUID, numbers map[uuid.UUID]int) error
	DeleteContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) error
}

// ResultStore persists graded answers.
type ResultStore interface {
	CreateResult(ctx context.Context, r *models.Result) error
	GetResult(ctx context.Context, matchID, contestantID uuid.UUID, order int) (*models.Result, error)
	ListResults(ctx context.Context, matchID uuid.UUID) ([]models.Result, error)
}

// GroupStore persists groups.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.Group) error
	GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error)
	ListGroups(ctx context.Context, matchID uuid.UUID) ([]models.Group, error)
	UpdateGroup(ctx context.Context, g *models.Group) error
	// SetGroupConfirmation writes confirm_current_question only.
	SetGroupConfirmation(ctx context.Context, id uuid.UUID, order int) error
	DeleteGroup(ctx context.Context, id uuid.UUID) error
	DeleteMatchParticipation(ctx context.Context, matchID uuid.UUID) error
	FindJudgeBookings(ctx context.Context, judgeID uuid.UUID) ([]JudgeBooking, error)
}

// RescueStore persists rescues.
type RescueStore interface {
	CreateRescue(ctx context.Context, r *models.Rescue) error
	GetRescue(ctx context.Context, id uuid.UUID) (*models.Rescue, error)
	UpdateRescue(ctx context.Context, r *models.Rescue) error
	ListRescues(ctx context.Context, matchID uuid.UUID) ([]models.Rescue, error)
}

// UserStore reads staff users.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// Store is the full persistence contract.
type Store interface {
	MatchStore
	QuestionStore
	ContestantStore
	ResultStore
	GroupStore
	RescueStore
	UserStore

	// InTx runs fn against a transactional view. If fn returns an error
	// every write made through that view is discarded.
	InTx(ctx context.Context, fn func(tx Store) error) error
}
