package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/store"
)

const matchColumns = `id, slug, name, status, current_question, remaining_time,
	question_package_id, start_time, end_time, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	var m models.Match
	var status string
	err := row.Scan(&m.ID, &m.Slug, &m.Name, &status, &m.CurrentQuestion, &m.RemainingTime,
		&m.QuestionPackageID, &m.StartTime, &m.EndTime, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	m.Status = models.MatchStatus(status)
	return &m, nil
}

func (s *Store) CreateMatch(ctx context.Context, m *models.Match) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	if m.Status == "" {
		m.Status = models.MatchStatusUpcoming
	}
	now := time.Now().UTC()
	m.CreatedAt, m.UpdatedAt = now, now
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO matches (`+matchColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		m.ID, m.Slug, m.Name, string(m.Status), m.CurrentQuestion, m.RemainingTime,
		m.QuestionPackageID, m.StartTime, m.EndTime, m.CreatedAt, m.UpdatedAt)
	return mapErr(err, nil, "create match %s", m.Slug)
}

func (s *Store) GetMatch(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	m, err := scanMatch(s.q.QueryRowContext(ctx,
		`SELECT `+matchColumns+` FROM matches WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, apperr.ErrMatchNotFound, "match %s", id)
	}
	return m, nil
}

func (s *Store) UpdateMatchState(ctx context.Context, id uuid.UUID, req store.MatchStateUpdate) (*models.Match, error) {
	m, err := scanMatch(s.q.QueryRowContext(ctx, `
		UPDATE matches
		SET status = $2, current_question = $3, remaining_time = $4, updated_at = NOW()
		WHERE id = $1
		RETURNING `+matchColumns,
		id, string(req.Status), req.CurrentQuestion, req.RemainingTime))
	if err != nil {
		return nil, mapErr(err, apperr.ErrMatchNotFound, "update match %s", id)
	}
	return m, nil
}

func (s *Store) UpdateRemainingTime(ctx context.Context, id uuid.UUID, seconds int) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE matches SET remaining_time = $2, updated_at = NOW() WHERE id = $1`, id, seconds)
	if err != nil {
		return mapErr(err, nil, "update remaining time of match %s", id)
	}
	return requireRow(res, apperr.ErrMatchNotFound, "match %s", id)
}

func (s *Store) CreateQuestion(ctx context.Context, q *models.Question) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	options, err := toJSON(q.Options)
	if err != nil {
		return err
	}
	accepted, err := toJSON(q.AcceptedAnswers)
	if err != nil {
		return err
	}
	_, err = s.q.ExecContext(ctx, `
		INSERT INTO questions (id, package_id, question_order, question_type, content,
			options, answer, accepted_answers, default_time, is_active)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		q.ID, q.PackageID, q.Order, string(q.Type), q.Content,
		options, q.Answer, accepted, q.DefaultTime, q.IsActive)
	return mapErr(err, nil, "create question %d", q.Order)
}

func (s *Store) GetQuestionByOrder(ctx context.Context, packageID uuid.UUID, order int) (*models.Question, error) {
	var q models.Question
	var typ string
	var options, accepted pqtype.NullRawMessage
	err := s.q.QueryRowContext(ctx, `
		SELECT id, package_id, question_order, question_type, content, options,
			answer, accepted_answers, default_time, is_active
		FROM questions
		WHERE package_id = $1 AND question_order = $2 AND is_active`,
		packageID, order).Scan(&q.ID, &q.PackageID, &q.Order, &typ, &q.Content, &options,
		&q.Answer, &accepted, &q.DefaultTime, &q.IsActive)
	if err != nil {
		return nil, mapErr(err, apperr.ErrQuestionNotFound, "question %d", order)
	}
	q.Type = models.QuestionType(typ)
	if err := fromJSON(options, &q.Options); err != nil {
		return nil, err
	}
	if err := fromJSON(accepted, &q.AcceptedAnswers); err != nil {
		return nil, err
	}
	return &q, nil
}

func (s *Store) CreateUser(ctx context.Context, u *models.User) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO users (id, username, email, role, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, string(u.Role), u.IsActive, u.CreatedAt)
	return mapErr(err, nil, "create user %s", u.Username)
}

func (s *Store) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	var u models.User
	var role string
	err := s.q.QueryRowContext(ctx, `
		SELECT id, username, email, role, is_active, created_at FROM users WHERE id = $1`, id).
		Scan(&u.ID, &u.Username, &u.Email, &role, &u.IsActive, &u.CreatedAt)
	if err != nil {
		return nil, mapErr(err, apperr.ErrUserNotFound, "user %s", id)
	}
	u.Role = models.UserRole(role)
	return &u, nil
}
