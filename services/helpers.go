package services

import (
	"github.com/Dosada05/darts-duel/models"
)

// matchTransitions - исчерпывающая таблица допустимых рёбер машины состояний.
// Терминальные статусы не имеют исходящих рёбер.
var matchTransitions = map[models.MatchStatus][]models.MatchStatus{
	models.MatchStatusPending:    {models.MatchStatusReady, models.MatchStatusCancelled, models.MatchStatusExpired},
	models.MatchStatusReady:      {models.MatchStatusLobby, models.MatchStatusCancelled, models.MatchStatusExpired},
	models.MatchStatusLobby:      {models.MatchStatusInProgress, models.MatchStatusCancelled, models.MatchStatusExpired},
	models.MatchStatusInProgress: {models.MatchStatusCompleted, models.MatchStatusCancelled, models.MatchStatusExpired},
	models.MatchStatusCompleted:  {},
	models.MatchStatusCancelled:  {},
	models.MatchStatusExpired:    {},
}

func isValidMatchTransition(current, next models.MatchStatus) bool {
	for _, allowed := range matchTransitions[current] {
		if next == allowed {
			return true
		}
	}
	return false
}

func statusIn(status models.MatchStatus, set []models.MatchStatus) bool {
	for _, s := range set {
		if status == s {
			return true
		}
	}
	return false
}
