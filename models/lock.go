package models

import (
	"time"

	"github.com/google/uuid"
)

type LockStatus string

const (
	LockStatusReady      LockStatus = "ready"
	LockStatusInProgress LockStatus = "in_progress"
)

// Lock asserts that a user is bound to exactly one non-terminal match.
// The locks table carries a uniqueness constraint on user_id; the whole
// one-active-match-per-user invariant rests on that constraint, not on any
// in-process synchronization.
type Lock struct {
	UserID    int        `json:"user_id"`
	MatchID   uuid.UUID  `json:"match_id"`
	Status    LockStatus `json:"lock_status"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}
