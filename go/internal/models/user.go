package models

import (
	"time"

	"github.com/google/uuid"
)

// UserRole defines what a staff user may do.
type UserRole string

const (
	UserRoleAdmin UserRole = "admin"
	UserRoleJudge UserRole = "judge"
)

// User represents a staff user in the system
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Role      UserRole  `json:"role"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}
