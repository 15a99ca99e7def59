package models

import (
	"time"

	"github.com/google/uuid"
)

type MatchStatus string

const (
	MatchStatusPending    MatchStatus = "pending"
	MatchStatusReady      MatchStatus = "ready"
	MatchStatusLobby      MatchStatus = "lobby"
	MatchStatusInProgress MatchStatus = "in_progress"
	MatchStatusCompleted  MatchStatus = "completed"
	MatchStatusCancelled  MatchStatus = "cancelled"
	MatchStatusExpired    MatchStatus = "expired"
)

// ParseMatchStatus rejects anything outside the closed status set.
func ParseMatchStatus(raw string) (MatchStatus, bool) {
	switch MatchStatus(raw) {
	case MatchStatusPending, MatchStatusReady, MatchStatusLobby, MatchStatusInProgress,
		MatchStatusCompleted, MatchStatusCancelled, MatchStatusExpired:
		return MatchStatus(raw), true
	}
	return "", false
}

// IsTerminal reports whether no further transition is allowed from s.
func (s MatchStatus) IsTerminal() bool {
	switch s {
	case MatchStatusCompleted, MatchStatusCancelled, MatchStatusExpired:
		return true
	}
	return false
}

type GameType string

const (
	GameType301 GameType = "301"
	GameType501 GameType = "501"
)

func (g GameType) Valid() bool {
	return g == GameType301 || g == GameType501
}

// StartingScore returns the countdown start for the game type.
func (g GameType) StartingScore() int {
	if g == GameType301 {
		return 301
	}
	return 501
}

// Reasons recorded in ended_reason on a terminal transition.
const (
	EndReasonCompleted = "completed"
	EndReasonCancelled = "cancelled"
	EndReasonAborted   = "aborted"
	EndReasonExpired   = "expired"
)

// ValidMatchFormat reports whether n is an allowed best-of-N legs value.
func ValidMatchFormat(n int) bool {
	switch n {
	case 1, 3, 5, 7:
		return true
	}
	return false
}

// LegsToWin returns how many legs decide a best-of-format match.
func LegsToWin(format int) int {
	return format/2 + 1
}

type Match struct {
	ID                  uuid.UUID     `json:"id"`
	Status              MatchStatus   `json:"status"`
	ChallengerID        int           `json:"challenger_id"`
	ReceiverID          int           `json:"receiver_id"`
	GameType            GameType      `json:"game_type"`
	MatchFormat         int           `json:"match_format"`
	CurrentPlayerID     *int          `json:"current_player_id,omitempty"`
	LobbyJoinedID       *int          `json:"lobby_joined_id,omitempty"`
	ChallengerLegs      int           `json:"challenger_legs"`
	ReceiverLegs        int           `json:"receiver_legs"`
	ChallengeExpiresAt  *time.Time    `json:"challenge_expires_at,omitempty"`
	JoinWindowExpiresAt *time.Time    `json:"join_window_expires_at,omitempty"`
	LastVisit           *VisitPayload `json:"last_visit_payload,omitempty"`
	EndedAt             *time.Time    `json:"ended_at,omitempty"`
	EndedBy             *int          `json:"ended_by,omitempty"`
	EndedReason         *string       `json:"ended_reason,omitempty"`
	CreatedAt           time.Time     `json:"created_at"`
}

func (m *Match) IsParticipant(userID int) bool {
	return userID == m.ChallengerID || userID == m.ReceiverID
}

// Opponent returns the other participant. The caller must already be a
// participant.
func (m *Match) Opponent(userID int) int {
	if userID == m.ChallengerID {
		return m.ReceiverID
	}
	return m.ChallengerID
}

// LegsWonBy returns how many legs the given participant has taken so far.
func (m *Match) LegsWonBy(userID int) int {
	if userID == m.ChallengerID {
		return m.ChallengerLegs
	}
	return m.ReceiverLegs
}
