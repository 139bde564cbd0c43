package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sqlc-dev/pqtype"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
)

const rescueColumns = `id, match_id, question_order, status, contestant_ids, support_answers,
	remaining_time, created_at, updated_at`

func scanRescue(row rowScanner) (*models.Rescue, error) {
	var r models.Rescue
	var status string
	var ids, answers pqtype.NullRawMessage
	if err := row.Scan(&r.ID, &r.MatchID, &r.QuestionOrder, &status, &ids, &answers,
		&r.RemainingTime, &r.CreatedAt, &r.UpdatedAt); err != nil {
		return nil, err
	}
	r.Status = models.RescueStatus(status)
	if err := fromJSON(ids, &r.ContestantIDs); err != nil {
		return nil, fmt.Errorf("failed to decode rescue contestants: %w", err)
	}
	if err := fromJSON(answers, &r.SupportAnswers); err != nil {
		return nil, fmt.Errorf("failed to decode support answers: %w", err)
	}
	return &r, nil
}

func rescueJSON(r *models.Rescue) (pqtype.NullRawMessage, pqtype.NullRawMessage, error) {
	ids := r.ContestantIDs
	if ids == nil {
		ids = []uuid.UUID{}
	}
	answers := r.SupportAnswers
	if answers == nil {
		answers = []models.SupportAnswer{}
	}
	idsJSON, err := toJSON(ids)
	if err != nil {
		return pqtype.NullRawMessage{}, pqtype.NullRawMessage{}, err
	}
	answersJSON, err := toJSON(answers)
	if err != nil {
		return pqtype.NullRawMessage{}, pqtype.NullRawMessage{}, err
	}
	return idsJSON, answersJSON, nil
}

func (s *Store) CreateRescue(ctx context.Context, r *models.Rescue) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	ids, answers, err := rescueJSON(r)
	if err != nil {
		return err
	}
	err = s.q.QueryRowContext(ctx, `
		INSERT INTO rescues (id, match_id, question_order, status, contestant_ids, support_answers, remaining_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		r.ID, r.MatchID, r.QuestionOrder, string(r.Status), ids, answers, r.RemainingTime).
		Scan(&r.CreatedAt, &r.UpdatedAt)
	return mapErr(err, nil, "create rescue for match %s", r.MatchID)
}

func (s *Store) GetRescue(ctx context.Context, id uuid.UUID) (*models.Rescue, error) {
	r, err := scanRescue(s.q.QueryRowContext(ctx, `SELECT `+rescueColumns+` FROM rescues WHERE id = $1`, id))
	if err != nil {
		return nil, mapErr(err, apperr.ErrRescueNotFound, "rescue %s", id)
	}
	return r, nil
}

func (s *Store) UpdateRescue(ctx context.Context, r *models.Rescue) error {
	ids, answers, err := rescueJSON(r)
	if err != nil {
		return err
	}
	err = s.q.QueryRowContext(ctx, `
		UPDATE rescues
		SET status = $2, contestant_ids = $3, support_answers = $4, remaining_time = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING updated_at`,
		r.ID, string(r.Status), ids, answers, r.RemainingTime).Scan(&r.UpdatedAt)
	return mapErr(err, apperr.ErrRescueNotFound, "update rescue %s", r.ID)
}

func (s *Store) ListRescues(ctx context.Context, matchID uuid.UUID) ([]models.Rescue, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+rescueColumns+` FROM rescues WHERE match_id = $1 ORDER BY created_at`, matchID)
	if err != nil {
		return nil, mapErr(err, nil, "list rescues of match %s", matchID)
	}
	defer rows.Close()

	var out []models.Rescue
	for rows.Next() {
		r, err := scanRescue(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}
