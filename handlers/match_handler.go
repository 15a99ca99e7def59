package handlers

import (
	"net/http"

	"github.com/Dosada05/darts-duel/middleware"
	"github.com/Dosada05/darts-duel/services"
	"github.com/google/uuid"
)

type MatchHandler struct {
	matchService services.MatchService
}

func NewMatchHandler(matchService services.MatchService) *MatchHandler {
	return &MatchHandler{matchService: matchService}
}

func (h *MatchHandler) CreateChallenge(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}

	var input services.CreateChallengeInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	match, err := h.matchService.CreateChallenge(r.Context(), callerID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusCreated, match, "")
}

func (h *MatchHandler) GetMatch(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, err := h.matchService.GetMatch(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, match, "")
}

func (h *MatchHandler) ListMatches(w http.ResponseWriter, r *http.Request) {
	callerID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return
	}
	matches, err := h.matchService.ListUserMatches(r.Context(), callerID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, matches, "")
}

func (h *MatchHandler) AcceptChallenge(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, err := h.matchService.AcceptChallenge(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, match, "")
}

func (h *MatchHandler) JoinMatch(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, err := h.matchService.JoinMatch(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, match, "")
}

func (h *MatchHandler) CancelMatch(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, err := h.matchService.CancelMatch(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, match, "")
}

func (h *MatchHandler) AbortMatch(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, alreadyEnded, err := h.matchService.AbortMatch(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	message := ""
	if alreadyEnded {
		message = "match already " + string(match.Status)
	}
	successResponse(w, r, http.StatusOK, match, message)
}

func (h *MatchHandler) ExpireMatch(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	match, alreadyEnded, err := h.matchService.ExpireMatch(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	message := ""
	if alreadyEnded {
		message = "match already " + string(match.Status)
	}
	successResponse(w, r, http.StatusOK, match, message)
}

func (h *MatchHandler) SaveVisit(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}

	var input services.SaveVisitInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	result, err := h.matchService.SaveVisit(r.Context(), callerID, matchID, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, result, "")
}

func (h *MatchHandler) ListVisits(w http.ResponseWriter, r *http.Request) {
	callerID, matchID, ok := h.callerAndMatch(w, r)
	if !ok {
		return
	}
	visits, err := h.matchService.ListVisits(r.Context(), callerID, matchID)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	successResponse(w, r, http.StatusOK, visits, "")
}

func (h *MatchHandler) callerAndMatch(w http.ResponseWriter, r *http.Request) (int, uuid.UUID, bool) {
	callerID, err := middleware.GetUserIDFromContext(r.Context())
	if err != nil {
		unauthorizedResponse(w, r, err.Error())
		return 0, uuid.Nil, false
	}
	matchID, err := getMatchIDFromURL(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return 0, uuid.Nil, false
	}
	return callerID, matchID, true
}
