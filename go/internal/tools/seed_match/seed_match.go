package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mcdev12/olympia/go/internal/dbconfig"
	"github.com/mcdev12/olympia/go/internal/seed"
)

func main() {
	path := "go/internal/assets/demo_match.json"
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	// 1) Load the JSON snapshot
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read JSON: %v\n", err)
		os.Exit(1)
	}
	demo, err := seed.Parse(data)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse demo: %v\n", err)
		os.Exit(1)
	}

	// 2) Connect using shared dbconfig
	ctx := context.Background()
	cfg := dbconfig.NewConfigFromEnv()
	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to connect: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// 3) Insert everything in one transaction; rerunning is a no-op
	counts, err := load(ctx, pool, demo)
	if err != nil {
		fmt.Fprintf(os.Stderr, "seed failed: %v\n", err)
		os.Exit(1)
	}

	// 4) Print summary
	fmt.Printf(
		"Demo seed complete for %s: %d users, %d questions, %d contestants inserted (%d rows skipped)\n",
		demo.Match.Slug, counts.users, counts.questions, counts.contestants, counts.skipped,
	)
}

type seedCounts struct {
	users       int
	questions   int
	contestants int
	skipped     int
}

func (c *seedCounts) track(tag int64, n *int) {
	if tag == 1 {
		*n++
	} else {
		c.skipped++
	}
}

func load(ctx context.Context, pool *pgxpool.Pool, demo *seed.Demo) (seedCounts, error) {
	var counts seedCounts
	err := pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
		for _, u := range demo.UserModels() {
			tag, err := tx.Exec(ctx, `
                INSERT INTO users (id, username, email, role, is_active)
                VALUES ($1, $2, $3, $4, $5)
                ON CONFLICT DO NOTHING
            `, u.ID, u.Username, u.Email, string(u.Role), u.IsActive)
			if err != nil {
				return fmt.Errorf("insert user %s: %w", u.Username, err)
			}
			counts.track(tag.RowsAffected(), &counts.users)
		}

		for _, q := range demo.QuestionModels() {
			options, err := jsonOrNil(q.Options)
			if err != nil {
				return err
			}
			accepted, err := jsonOrNil(q.AcceptedAnswers)
			if err != nil {
				return err
			}
			tag, err := tx.Exec(ctx, `
                INSERT INTO questions (
                  id, package_id, question_order, question_type, content,
                  options, answer, accepted_answers, default_time, is_active
                ) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
                ON CONFLICT (package_id, question_order) DO NOTHING
            `, q.ID, q.PackageID, q.Order, string(q.Type), q.Content,
				options, q.Answer, accepted, q.DefaultTime, q.IsActive)
			if err != nil {
				return fmt.Errorf("insert question %d: %w", q.Order, err)
			}
			counts.track(tag.RowsAffected(), &counts.questions)
		}

		m := demo.MatchModel()
		tag, err := tx.Exec(ctx, `
            INSERT INTO matches (id, slug, name, status, question_package_id, start_time, end_time)
            VALUES ($1, $2, $3, $4, $5, $6, $7)
            ON CONFLICT DO NOTHING
        `, m.ID, m.Slug, m.Name, string(m.Status), m.QuestionPackageID, m.StartTime, m.EndTime)
		if err != nil {
			return fmt.Errorf("insert match: %w", err)
		}
		if tag.RowsAffected() == 0 {
			// contestants without fixed ids would be registered twice
			counts.skipped += 1 + len(demo.Contestants)
			return nil
		}

		for i, c := range demo.Contestants {
			tag, err := tx.Exec(ctx, `
                INSERT INTO contestants (id, full_name, school_name)
                VALUES ($1, $2, $3)
                ON CONFLICT (id) DO NOTHING
            `, c.ID, c.FullName, c.SchoolName)
			if err != nil {
				return fmt.Errorf("insert contestant %s: %w", c.FullName, err)
			}
			counts.track(tag.RowsAffected(), &counts.contestants)

			if _, err := tx.Exec(ctx, `
                INSERT INTO contestant_matches (contestant_id, match_id, registration_number, status)
                VALUES ($1, $2, $3, 'not_started')
            `, c.ID, m.ID, i+1); err != nil {
				return fmt.Errorf("register contestant %s: %w", c.FullName, err)
			}
		}
		return nil
	})
	return counts, err
}

func jsonOrNil(values []string) ([]byte, error) {
	if len(values) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(values)
	if err != nil {
		return nil, fmt.Errorf("encode list: %w", err)
	}
	return data, nil
}
