package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
	"github.com/mcdev12/olympia/go/internal/sqlutil"
	"github.com/mcdev12/olympia/go/internal/store"
)

const contestantMatchColumns = `contestant_id, match_id, group_id, registration_number, status,
	eliminated_at_question_order, rescued_at_question_order, ban, updated_at`

func scanContestantMatch(row rowScanner) (*models.ContestantMatch, error) {
	var cm models.ContestantMatch
	var groupID uuid.NullUUID
	var status string
	var eliminatedAt, rescuedAt sql.NullInt32
	var ban pqtype.NullRawMessage
	err := row.Scan(&cm.ContestantID, &cm.MatchID, &groupID, &cm.RegistrationNumber, &status,
		&eliminatedAt, &rescuedAt, &ban, &cm.UpdatedAt)
	if err != nil {
		return nil, err
	}
	cm.GroupID = sqlutil.FromNullUUID(groupID)
	cm.Status = models.ContestantStatus(status)
	cm.EliminatedAtQuestionOrder = sqlutil.FromSqlInt32(eliminatedAt)
	cm.RescuedAtQuestionOrder = sqlutil.FromSqlInt32(rescuedAt)
	if ban.Valid {
		cm.Ban = &models.BanDetails{}
		if err := fromJSON(ban, cm.Ban); err != nil {
			return nil, fmt.Errorf("failed to decode ban details: %w", err)
		}
	}
	return &cm, nil
}

func (s *Store) CreateContestant(ctx context.Context, c *models.Contestant) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	if c.Status == "" {
		c.Status = models.ContestantStateActive
	}
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO contestants (id, full_name, school_name, status) VALUES ($1, $2, $3, $4)`,
		c.ID, c.FullName, c.SchoolName, string(c.Status))
	return mapErr(err, nil, "create contestant %s", c.FullName)
}

func (s *Store) GetContestant(ctx context.Context, id uuid.UUID) (*models.Contestant, error) {
	var c models.Contestant
	var status string
	err := s.q.QueryRowContext(ctx,
		`SELECT id, full_name, school_name, status FROM contestants WHERE id = $1`, id).
		Scan(&c.ID, &c.FullName, &c.SchoolName, &status)
	if err != nil {
		return nil, mapErr(err, apperr.ErrContestantNotFound, "contestant %s", id)
	}
	c.Status = models.ContestantState(status)
	return &c, nil
}

func (s *Store) UpdateContestantState(ctx context.Context, id uuid.UUID, state models.ContestantState) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE contestants SET status = $2 WHERE id = $1`, id, string(state))
	if err != nil {
		return mapErr(err, nil, "update contestant %s", id)
	}
	return requireRow(res, apperr.ErrContestantNotFound, "contestant %s", id)
}

func (s *Store) CreateContestantMatch(ctx context.Context, cm *models.ContestantMatch) error {
	if cm.Status == "" {
		cm.Status = models.ContestantStatusNotStarted
	}
	ban, err := toJSON(cm.Ban)
	if err != nil {
		return err
	}
	created, err := scanContestantMatch(s.q.QueryRowContext(ctx, `
		INSERT INTO contestant_matches (contestant_id, match_id, group_id, registration_number,
			status, eliminated_at_question_order, rescued_at_question_order, ban, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		RETURNING `+contestantMatchColumns,
		cm.ContestantID, cm.MatchID, sqlutil.ToNullUUID(cm.GroupID), cm.RegistrationNumber,
		string(cm.Status), sqlutil.ToSqlInt32(cm.EliminatedAtQuestionOrder),
		sqlutil.ToSqlInt32(cm.RescuedAtQuestionOrder), ban))
	if err != nil {
		return mapErr(err, nil, "add contestant %s to match %s", cm.ContestantID, cm.MatchID)
	}
	*cm = *created
	return nil
}

func (s *Store) GetContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) (*models.ContestantMatch, error) {
	cm, err := scanContestantMatch(s.q.QueryRowContext(ctx, `
		SELECT `+contestantMatchColumns+` FROM contestant_matches
		WHERE match_id = $1 AND contestant_id = $2`, matchID, contestantID))
	if err != nil {
		return nil, mapErr(err, apperr.ErrContestantNotFound, "contestant %s in match %s", contestantID, matchID)
	}
	return cm, nil
}

func (s *Store) ListContestantMatches(ctx context.Context, matchID uuid.UUID) ([]models.ContestantMatch, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+contestantMatchColumns+` FROM contestant_matches
		WHERE match_id = $1 ORDER BY registration_number`, matchID)
	if err != nil {
		return nil, mapErr(err, nil, "list contestants of match %s", matchID)
	}
	defer rows.Close()

	var out []models.ContestantMatch
	for rows.Next() {
		cm, err := scanContestantMatch(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contestant: %w", err)
		}
		out = append(out, *cm)
	}
	return out, rows.Err()
}

func (s *Store) UpdateContestantStatus(ctx context.Context, req store.StatusUpdate) (*models.ContestantMatch, error) {
	ban, err := toJSON(req.Ban)
	if err != nil {
		return nil, err
	}
	cm, err := scanContestantMatch(s.q.QueryRowContext(ctx, `
		UPDATE contestant_matches
		SET status = $3,
			eliminated_at_question_order = COALESCE($4, eliminated_at_question_order),
			rescued_at_question_order = COALESCE($5, rescued_at_question_order),
			ban = COALESCE($6, ban),
			updated_at = NOW()
		WHERE match_id = $1 AND contestant_id = $2
		RETURNING `+contestantMatchColumns,
		req.MatchID, req.ContestantID, string(req.Status),
		sqlutil.ToSqlInt32(req.EliminatedAt), sqlutil.ToSqlInt32(req.RescuedAt), ban))
	if err != nil {
		return nil, mapErr(err, apperr.ErrContestantNotFound, "contestant %s in match %s", req.ContestantID, req.MatchID)
	}
	return cm, nil
}

func (s *Store) SetContestantGroup(ctx context.Context, matchID, contestantID uuid.UUID, groupID *uuid.UUID) error {
	res, err := s.q.ExecContext(ctx, `
		UPDATE contestant_matches SET group_id = $3, updated_at = NOW()
		WHERE match_id = $1 AND contestant_id = $2`,
		matchID, contestantID, sqlutil.ToNullUUID(groupID))
	if err != nil {
		return mapErr(err, nil, "set group of contestant %s", contestantID)
	}
	return requireRow(res, apperr.ErrContestantNotFound, "contestant %s in match %s", contestantID, matchID)
}

// SetRegistrationNumbers relies on the deferred unique constraint when it
// runs inside InTx; numbers may collide until COMMIT.
func (s *Store) SetRegistrationNumbers(ctx context.Context, matchID uuid.UUID, numbers map[uuid.UUID]int) error {
	for contestantID, n := range numbers {
		res, err := s.q.ExecContext(ctx, `
			UPDATE contestant_matches SET registration_number = $3
			WHERE match_id = $1 AND contestant_id = $2`, matchID, contestantID, n)
		if err != nil {
			return mapErr(err, nil, "renumber contestant %s", contestantID)
		}
		if err := requireRow(res, apperr.ErrContestantNotFound, "contestant %s in match %s", contestantID, matchID); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) DeleteContestantMatch(ctx context.Context, matchID, contestantID uuid.UUID) error {
	res, err := s.q.ExecContext(ctx,
		`DELETE FROM contestant_matches WHERE match_id = $1 AND contestant_id = $2`, matchID, contestantID)
	if err != nil {
		return mapErr(err, nil, "remove contestant %s", contestantID)
	}
	return requireRow(res, apperr.ErrContestantNotFound, "contestant %s in match %s", contestantID, matchID)
}

func (s *Store) CreateResult(ctx context.Context, r *models.Result) error {
	err := s.q.QueryRowContext(ctx, `
		INSERT INTO results (contestant_id, match_id, question_order, answer, is_correct)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		r.ContestantID, r.MatchID, r.QuestionOrder, r.Answer, r.IsCorrect).Scan(&r.CreatedAt)
	return mapErr(err, nil, "record result for question %d", r.QuestionOrder)
}

func (s *Store) GetResult(ctx context.Context, matchID, contestantID uuid.UUID, order int) (*models.Result, error) {
	var r models.Result
	err := s.q.QueryRowContext(ctx, `
		SELECT contestant_id, match_id, question_order, answer, is_correct, created_at
		FROM results WHERE match_id = $1 AND contestant_id = $2 AND question_order = $3`,
		matchID, contestantID, order).
		Scan(&r.ContestantID, &r.MatchID, &r.QuestionOrder, &r.Answer, &r.IsCorrect, &r.CreatedAt)
	if err != nil {
		return nil, mapErr(err, apperr.ErrResultNotFound, "result for question %d", order)
	}
	return &r, nil
}

func (s *Store) ListResults(ctx context.Context, matchID uuid.UUID) ([]models.Result, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT contestant_id, match_id, question_order, answer, is_correct, created_at
		FROM results WHERE match_id = $1 ORDER BY question_order, created_at`, matchID)
	if err != nil {
		return nil, mapErr(err, nil, "list results of match %s", matchID)
	}
	defer rows.Close()

	var out []models.Result
	for rows.Next() {
		var r models.Result
		if err := rows.Scan(&r.ContestantID, &r.MatchID, &r.QuestionOrder, &r.Answer, &r.IsCorrect, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
