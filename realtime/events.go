package realtime

import (
	"github.com/Dosada05/darts-duel/models"
)

const EventMatchUpdated = "MATCH_UPDATED"

// Event is the wire envelope broadcast over a match room.
type Event struct {
	Type    string      `json:"type"`
	MatchID string      `json:"match_id,omitempty"`
	Payload interface{} `json:"payload"`
}

// MatchRoom returns the room id for a match subscription.
func MatchRoom(matchID string) string {
	return "match_" + matchID
}

// MatchUpdated fans a full match snapshot out to both participants'
// subscriptions. Every successful row mutation goes through here, including
// the one triggered by the actor's own request.
func (h *Hub) MatchUpdated(match *models.Match) {
	if match == nil {
		return
	}
	h.BroadcastToRoom(MatchRoom(match.ID.String()), Event{
		Type:    EventMatchUpdated,
		MatchID: match.ID.String(),
		Payload: match,
	})
}
