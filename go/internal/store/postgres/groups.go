package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/sqlutil"
	"github.com/mcdev12/olympia/go/internal/store"
)

const groupColumns = `id, match_id, name, judge_user_id, position, confirm_current_question, created_at`

func scanGroup(row rowScanner) (*models.Group, error) {
	var g models.Group
	var judge uuid.NullUUID
	if err := row.Scan(&g.ID, &g.MatchID, &g.Name, &judge, &g.Position, &g.ConfirmCurrentQuestion, &g.CreatedAt); err != nil {
		return nil, err
	}
	g.JudgeUserID = sqlutil.FromNullUUID(judge)
	return &g, nil
}

func (s *Store) CreateGroup(ctx context.Context, g *models.Group) error {
	if g.ID == uuid.Nil {
		g.ID = uuid.New()
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now().UTC()
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO groups (`+groupColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		g.ID, g.MatchID, g.Name, sqlutil.ToNullUUID(g.JudgeUserID), g.Position, g.ConfirmCurrentQuestion, g.CreatedAt)
	return mapErr(err, nil, "create group %s", g.Name)
}

func (s *Store) GetGroup(ctx context.Context, id uuid.UUID) (*models.Group, error) {
	g, err := scanGroup(s.q.QueryRowContext(ctx, `SELECT `+groupColumns+` FROM groups WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, apperr.ErrGroupNotFound, "group %s", id)
	}
	return g, nil
}

func (s *Store) ListGroups(ctx context.Context, matchID uuid.UUID) ([]models.Group, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE match_id = $1 ORDER BY position, created_at`, matchID)
	if err != nil {
		return nil, mapErr(err, nil, "list groups of match %s", matchID)
	}
	defer rows.Close()

	var out []models.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan group: %w", err)
		}
		out = append(out, *g)
	}
	return out, rows.Err()
}

func (s *Store) UpdateGroup(ctx context.Context, g *models.Group) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE groups SET name = $2, judge_user_id = $3, position = $4, confirm_current_question = $5
		WHERE id = $1`,
		g.ID, g.Name, sqlutil.ToNullUUID(g.JudgeUserID), g.Position, g.ConfirmCurrentQuestion)
	if err != nil {
		return mapErr(err, nil, "update group %s", g.ID)
	}
	return requireRow(res, apperr.ErrGroupNotFound, "group %s", g.ID)
}

func (s *Store) SetGroupConfirmation(ctx context.Context, id uuid.UUID, order int) error {
	res, err := s.q.ExecContext(ctx, `UPDATE groups SET confirm_current_question = $2 WHERE id = $1`, id, order)
	if err != nil {
		return mapErr(err, nil, "confirm group %s", id)
	}
	return requireRow(res, apperr.ErrGroupNotFound, "group %s", id)
}

func (s *Store) DeleteGroup(ctx context.Context, id uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM groups WHERE id = $1`, id)
	if err != nil {
		return mapErr(err, nil, "delete group %s", id)
	}
	return requireRow(res, apperr.ErrGroupNotFound, "group %s", id)
}

func (s *Store) DeleteMatchParticipation(ctx context.Context, matchID uuid.UUID) error {
	if _, err := s.q.ExecContext(ctx, `DELETE FROM contestant_matches WHERE match_id = $1`, matchID); err != nil {
		return mapErr(err, nil, "clear contestants of match %s", matchID)
	}
	if _, err := s.q.ExecContext(ctx, `DELETE FROM groups WHERE match_id = $1`, matchID); err != nil {
		return mapErr(err, nil, "clear groups of match %s", matchID)
	}
	return nil
}

func (s *Store) FindJudgeBookings(ctx context.Context, judgeID uuid.UUID) ([]store.JudgeBooking, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT g.id, g.name, m.id, m.slug, m.name, m.status, m.current_question, m.remaining_time,
			m.question_package_id, m.start_time, m.end_time, m.created_at, m.updated_at
		FROM groups g
		JOIN matches m ON m.id = g.match_id
		WHERE g.judge_user_id = $1
		ORDER BY m.start_time`, judgeID)
	if err != nil {
		return nil, mapErr(err, nil, "list bookings of judge %s", judgeID)
	}
	defer rows.Close()

	var out []store.JudgeBooking
	for rows.Next() {
		var b store.JudgeBooking
		var status string
		m := &b.Match
		if err := rows.Scan(&b.GroupID, &b.GroupName, &m.ID, &m.Slug, &m.Name, &status,
			&m.CurrentQuestion, &m.RemainingTime, &m.QuestionPackageID, &m.StartTime, &m.EndTime,
			&m.CreatedAt, &m.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		m.Status = models.MatchStatus(status)
		out = append(out, b)
	}
	return out, rows.Err()
}
