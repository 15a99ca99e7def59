package realtime

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/Dosada05/darts-duel/models"
)

// Tolerant decoding for the consuming side of the realtime channel.
//
// Historically clients have seen match payloads in snake_case, camelCase and
// PascalCase depending on the producing path. Dropping an update because one
// field failed to parse is the worst possible outcome for turn-based play:
// the two clients silently disagree about whose turn it is. So decoding here
// never returns an error; unknown casings are normalized, and any
// sub-structure that cannot be parsed degrades to its zero value instead of
// poisoning the whole snapshot.

// MatchSnapshot is the canonical, always-usable view of a match row update.
type MatchSnapshot struct {
	ID                  string
	Status              models.MatchStatus // empty when missing or unknown
	ChallengerID        int
	ReceiverID          int
	CurrentPlayerID     *int
	ChallengerLegs      int
	ReceiverLegs        int
	ChallengeExpiresAt  *time.Time
	JoinWindowExpiresAt *time.Time
	LastVisit           VisitSnapshot
	HasLastVisit        bool
	EndedReason         string
}

type VisitSnapshot struct {
	PlayerID    int
	Darts       [3]int
	ScoreBefore int
	ScoreAfter  int
	Bust        bool
}

// DecodeEvent unwraps the hub envelope and decodes its payload. Payloads that
// arrive without an envelope are treated as a bare match snapshot.
func DecodeEvent(data []byte) (string, MatchSnapshot) {
	fields := normalizeObject(data)
	if fields == nil {
		return "", MatchSnapshot{}
	}

	eventType := getString(fields, "type")
	payload, ok := fields["payload"]
	if !ok {
		// No envelope: the whole message is the snapshot.
		return eventType, DecodeMatchSnapshot(data)
	}
	return eventType, DecodeMatchSnapshot(payload)
}

// DecodeMatchSnapshot defensively decodes a match row in any known casing.
// It always returns a usable snapshot, never an error.
func DecodeMatchSnapshot(data []byte) MatchSnapshot {
	fields := normalizeObject(data)
	if fields == nil {
		return MatchSnapshot{}
	}

	snap := MatchSnapshot{
		ID:             getString(fields, "id", "matchid"),
		ChallengerID:   getInt(fields, "challengerid"),
		ReceiverID:     getInt(fields, "receiverid"),
		ChallengerLegs: getInt(fields, "challengerlegs"),
		ReceiverLegs:   getInt(fields, "receiverlegs"),
		EndedReason:    getString(fields, "endedreason"),
	}

	// Статус только из закрытого множества; неизвестные значения не
	// пропускаются дальше.
	if status, ok := models.ParseMatchStatus(getString(fields, "status", "matchstatus")); ok {
		snap.Status = status
	}

	if v, ok := tryInt(fields, "currentplayerid"); ok {
		snap.CurrentPlayerID = &v
	}
	snap.ChallengeExpiresAt = getTime(fields, "challengeexpiresat")
	snap.JoinWindowExpiresAt = getTime(fields, "joinwindowexpiresat")

	if raw, ok := fields["lastvisitpayload"]; ok {
		snap.LastVisit, snap.HasLastVisit = decodeVisit(raw)
	} else if raw, ok := fields["lastvisit"]; ok {
		snap.LastVisit, snap.HasLastVisit = decodeVisit(raw)
	}
	return snap
}

func decodeVisit(data json.RawMessage) (VisitSnapshot, bool) {
	fields := normalizeObject(data)
	if fields == nil {
		// Частично битый вложенный объект: снапшот остаётся применимым,
		// визит просто отсутствует.
		return VisitSnapshot{}, false
	}

	visit := VisitSnapshot{
		PlayerID:    getInt(fields, "playerid"),
		ScoreBefore: getInt(fields, "scorebefore"),
		ScoreAfter:  getInt(fields, "scoreafter"),
		Bust:        getBool(fields, "bust"),
	}
	if raw, ok := fields["darts"]; ok {
		var darts []json.Number
		if err := json.Unmarshal(raw, &darts); err == nil {
			for i := 0; i < len(darts) && i < 3; i++ {
				if n, err := darts[i].Int64(); err == nil {
					visit.Darts[i] = int(n)
				}
			}
		}
	}
	return visit, true
}

// normalizeObject разбирает JSON-объект и приводит ключи к канонической
// форме: нижний регистр без подчёркиваний. Так "last_visit_payload",
// "lastVisitPayload" и "LastVisitPayload" сходятся в один ключ.
func normalizeObject(data []byte) map[string]json.RawMessage {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil
	}
	fields := make(map[string]json.RawMessage, len(raw))
	for key, value := range raw {
		fields[canonicalKey(key)] = value
	}
	return fields
}

func canonicalKey(key string) string {
	return strings.ToLower(strings.ReplaceAll(key, "_", ""))
}

func getString(fields map[string]json.RawMessage, keys ...string) string {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s
		}
	}
	return ""
}

func getInt(fields map[string]json.RawMessage, keys ...string) int {
	for _, key := range keys {
		if v, ok := tryInt(fields, key); ok {
			return v
		}
	}
	return 0
}

func tryInt(fields map[string]json.RawMessage, key string) (int, bool) {
	raw, ok := fields[key]
	if !ok {
		return 0, false
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		if v, err := n.Int64(); err == nil {
			return int(v), true
		}
	}
	// Легаси-продюсеры присылали числовые id строками.
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if v, err := strconv.Atoi(s); err == nil {
			return v, true
		}
	}
	return 0, false
}

func getBool(fields map[string]json.RawMessage, keys ...string) bool {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var b bool
		if err := json.Unmarshal(raw, &b); err == nil {
			return b
		}
	}
	return false
}

func getTime(fields map[string]json.RawMessage, keys ...string) *time.Time {
	for _, key := range keys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			continue
		}
		if t, err := time.Parse(time.RFC3339, s); err == nil {
			return &t
		}
	}
	return nil
}
