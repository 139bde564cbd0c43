// Package seed reads a demo match description and loads it into a store.
package seed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

// Demo mirrors the JSON layout of assets/demo_match.json.
type Demo struct {
	Match       DemoMatch        `json:"match"`
	Questions   []DemoQuestion   `json:"questions"`
	Contestants []DemoContestant `json:"contestants"`
	Judges      []DemoUser       `json:"judges"`
	Admins      []DemoUser       `json:"admins"`
}

type DemoMatch struct {
	ID        uuid.UUID `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	PackageID uuid.UUID `json:"package_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type DemoQuestion struct {
	ID              uuid.UUID           `json:"id"`
	Order           int                 `json:"order"`
	Type            models.QuestionType `json:"type"`
	Content         string              `json:"content"`
	Options         []string            `json:"options"`
	Answer          string              `json:"answer"`
	AcceptedAnswers []string            `json:"accepted_answers"`
	DefaultTime     int                 `json:"default_time"`
}

type DemoContestant struct {
	ID         uuid.UUID `json:"id"`
	FullName   string    `json:"full_name"`
	SchoolName string    `json:"school_name"`
}

type DemoUser struct {
	ID       uuid.UUID `json:"id"`
	Username string    `json:"username"`
	Email    string    `json:"email"`
}

// Parse decodes and validates a demo. Missing ids are generated so the
// result can be inserted as is.
func Parse(data []byte) (*Demo, error) {
	var d Demo
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse demo: %w", err)
	}
	if strings.TrimSpace(d.Match.Slug) == "" || strings.TrimSpace(d.Match.Name) == "" {
		return nil, fmt.Errorf("demo match needs a slug and a name")
	}
	if !d.Match.EndTime.After(d.Match.StartTime) {
		return nil, fmt.Errorf("demo match must end after it starts")
	}
	if len(d.Questions) == 0 {
		return nil, fmt.Errorf("demo has no questions")
	}

	fill(&d.Match.ID)
	fill(&d.Match.PackageID)
	seen := make(map[int]bool, len(d.Questions))
	for i := range d.Questions {
		q := &d.Questions[i]
		if q.Order < 1 || seen[q.Order] {
			return nil, fmt.Errorf("question %d has a missing or duplicate order", i+1)
		}
		seen[q.Order] = true
		if q.Type == "" {
			q.Type = models.QuestionTypeMultipleChoice
		}
		if q.Type != models.QuestionTypeMultipleChoice && q.Type != models.QuestionTypeFreeText {
			return nil, fmt.Errorf("question %d has unknown type %q", q.Order, q.Type)
		}
		if q.DefaultTime <= 0 {
			return nil, fmt.Errorf("question %d needs a positive default_time", q.Order)
		}
		fill(&q.ID)
	}
	for i := range d.Contestants {
		fill(&d.Contestants[i].ID)
	}
	for i := range d.Judges {
		fill(&d.Judges[i].ID)
	}
	for i := range d.Admins {
		fill(&d.Admins[i].ID)
	}
	return &d, nil
}

func fill(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

// MatchModel returns the match row of the demo.
func (d *Demo) MatchModel() *models.Match {
	return &models.Match{
		ID:                d.Match.ID,
		Slug:              d.Match.Slug,
		Name:              d.Match.Name,
		Status:            models.MatchStatusUpcoming,
		QuestionPackageID: d.Match.PackageID,
		StartTime:         d.Match.StartTime.UTC(),
		EndTime:           d.Match.EndTime.UTC(),
	}
}

// QuestionModels returns the question package of the demo.
func (d *Demo) QuestionModels() []*models.Question {
	out := make([]*models.Question, 0, len(d.Questions))
	for _, q := range d.Questions {
		out = append(out, &models.Question{
			ID:              q.ID,
			PackageID:       d.Match.PackageID,
			Order:           q.Order,
			Type:            q.Type,
			Content:         q.Content,
			Options:         q.Options,
			Answer:          q.Answer,
			AcceptedAnswers: q.AcceptedAnswers,
			DefaultTime:     q.DefaultTime,
			IsActive:        true,
		})
	}
	return out
}

// UserModels returns the staff accounts of the demo.
func (d *Demo) UserModels() []*models.User {
	var out []*models.User
	add := func(users []DemoUser, role models.UserRole) {
		for _, u := range users {
			out = append(out, &models.User{ID: u.ID, Username: u.Username, Email: u.Email, Role: role, IsActive: true})
		}
	}
	add(d.Admins, models.UserRoleAdmin)
	add(d.Judges, models.UserRoleJudge)
	return out
}

// Apply writes the demo through st in one transaction. Contestants are
// registered in file order and start as not_started.
func Apply(ctx context.Context, st store.Store, d *Demo) error {
	return st.InTx(ctx, func(tx store.Store) error {
		for _, u := range d.UserModels() {
			if err := tx.CreateUser(ctx, u); err != nil {
				return fmt.Errorf("failed to create user %s: %w", u.Username, err)
			}
		}
		for _, q := range d.QuestionModels() {
			if err := tx.CreateQuestion(ctx, q); err != nil {
				return fmt.Errorf("failed to create question %d: %w", q.Order, err)
			}
		}
		m := d.MatchModel()
		if err := tx.CreateMatch(ctx, m); err != nil {
			return fmt.Errorf("failed to create match: %w", err)
		}
		for i, c := range d.Contestants {
			contestant := &models.Contestant{ID: c.ID, FullName: c.FullName, SchoolName: c.SchoolName, Status: models.ContestantStateActive}
			if err := tx.CreateContestant(ctx, contestant); err != nil {
				return fmt.Errorf("failed to create contestant %s: %w", c.FullName, err)
			}
			cm := &models.ContestantMatch{
				ContestantID:       c.ID,
				MatchID:            m.ID,
				RegistrationNumber: i + 1,
				Status:             models.ContestantStatusNotStarted,
			}
			if err := tx.CreateContestantMatch(ctx, cm); err != nil {
				return fmt.Errorf("failed to register contestant %s: %w", c.FullName, err)
			}
		}
		return nil
	})
}
