package models

import (
	"time"

	"github.com/google/uuid"
)

// VisitPayload is the most recent turn outcome, embedded in the match row as
// last_visit_payload. It is overwritten on every recorded turn; the opposing
// client uses it once for the throw reveal and then discards it.
type VisitPayload struct {
	PlayerID    int       `json:"player_id"`
	Darts       [3]int    `json:"darts"`
	ScoreBefore int       `json:"score_before"`
	ScoreAfter  int       `json:"score_after"`
	Bust        bool      `json:"bust"`
	ThrownAt    time.Time `json:"thrown_at"`
}

// Visit is the per-turn history row, kept for post-match review. It is not
// consulted by the match state machine.
type Visit struct {
	ID          int64     `json:"id"`
	MatchID     uuid.UUID `json:"match_id"`
	PlayerID    int       `json:"player_id"`
	TurnNumber  int       `json:"turn_number"`
	Darts       [3]int    `json:"darts"`
	ScoreBefore int       `json:"score_before"`
	ScoreAfter  int       `json:"score_after"`
	Bust        bool      `json:"bust"`
	CreatedAt   time.Time `json:"created_at"`
}
