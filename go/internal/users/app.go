package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/olympia/go/internal/apperr"
	"github.com/mcdev12/olympia/go/internal/models"
)

// UsersRepository defines what the app layer needs from the repository
type UsersRepository interface {
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// App is the staff directory used to vet judges before they are given groups.
type App struct {
	repo UsersRepository
}

// NewApp creates a new users App
func NewApp(repo UsersRepository) *App {
	return &App{
		repo: repo,
	}
}

// GetUser retrieves a user by ID
func (a *App) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := a.repo.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ValidateJudge returns the user if it exists, is active and has the judge
// role. Any other case is reported as apperr.ErrJudgeNotFound.
func (a *App) ValidateJudge(ctx context.Context, id uuid.UUID) (*models.User, error) {
	user, err := a.repo.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, apperr.ErrUserNotFound) {
			return nil, fmt.Errorf("judge %s: %w", id, apperr.ErrJudgeNotFound)
		}
		return nil, fmt.Errorf("failed to get judge: %w", err)
	}
	if !user.IsActive || user.Role != models.UserRoleJudge {
		log.Debug().
			Str("user_id", id.String()).
			Str("role", string(user.Role)).
			Bool("active", user.IsActive).
			Msg("rejected judge")
		return nil, fmt.Errorf("judge %s: %w", id, apperr.ErrJudgeNotFound)
	}
	return user, nil
}
