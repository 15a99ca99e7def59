package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/Dosada05/darts-duel/services"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// successEnvelope - единый конверт успешного ответа: {success, data, message}.
type successEnvelope struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

type errorEnvelope struct {
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

func readJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	maxBytes := 1_048_576 // 1MB
	r.Body = http.MaxBytesReader(w, r.Body, int64(maxBytes))

	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(dst)
	if err != nil {
		var syntaxError *json.SyntaxError
		var unmarshalTypeError *json.UnmarshalTypeError
		var invalidUnmarshalError *json.InvalidUnmarshalError

		switch {
		case errors.As(err, &syntaxError):
			return fmt.Errorf("body contains badly-formed JSON (at character %d)", syntaxError.Offset)
		case errors.Is(err, io.ErrUnexpectedEOF):
			return errors.New("body contains badly-formed JSON")
		case errors.As(err, &unmarshalTypeError):
			if unmarshalTypeError.Field != "" {
				return fmt.Errorf("body contains incorrect JSON type for field %q", unmarshalTypeError.Field)
			}
			return fmt.Errorf("body contains incorrect JSON type (at character %d)", unmarshalTypeError.Offset)
		case errors.Is(err, io.EOF):
			return errors.New("body must not be empty")
		case strings.HasPrefix(err.Error(), "json: unknown field "):
			fieldName := strings.TrimPrefix(err.Error(), "json: unknown field ")
			return fmt.Errorf("body contains unknown key %s", fieldName)
		case err.Error() == "http: request body too large":
			return fmt.Errorf("body must not be larger than %d bytes", maxBytes)
		case errors.As(err, &invalidUnmarshalError):
			panic(err) // Ошибка программиста: передан не указатель.
		default:
			return err
		}
	}

	err = dec.Decode(&struct{}{})
	if !errors.Is(err, io.EOF) {
		return errors.New("body must only contain a single JSON value")
	}

	return nil
}

func writeJSON(w http.ResponseWriter, status int, data interface{}, headers http.Header) error {
	js, err := json.Marshal(data)
	if err != nil {
		return err
	}
	js = append(js, '\n')

	for key, value := range headers {
		w.Header()[key] = value
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(js)
	return err
}

func successResponse(w http.ResponseWriter, r *http.Request, status int, data interface{}, message string) {
	env := successEnvelope{Success: true, Data: data, Message: message}
	if err := writeJSON(w, status, env, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

func errorResponse(w http.ResponseWriter, r *http.Request, status int, message string, details interface{}) {
	env := errorEnvelope{Error: message, Details: details}
	if err := writeJSON(w, status, env, nil); err != nil {
		log.Printf("Error writing error JSON response: %v", err)
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func serverErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	log.Printf("Internal server error: %v", err)
	errorResponse(w, r, http.StatusInternalServerError, "the server encountered a problem and could not process your request", nil)
}

func badRequestResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusBadRequest, err.Error(), nil)
}

func notFoundResponse(w http.ResponseWriter, r *http.Request, err error) {
	errorResponse(w, r, http.StatusNotFound, err.Error(), nil)
}

func conflictResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusConflict, message, nil)
}

func unauthorizedResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusUnauthorized, message, nil)
}

func forbiddenResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusForbidden, message, nil)
}

func goneResponse(w http.ResponseWriter, r *http.Request, message string) {
	errorResponse(w, r, http.StatusGone, message, nil)
}

func getMatchIDFromURL(r *http.Request) (uuid.UUID, error) {
	raw := chi.URLParam(r, "matchID")
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid match id %q", raw)
	}
	return id, nil
}

// mapServiceErrorToHTTP преобразует ошибки сервисного слоя в HTTP-ответы.
func mapServiceErrorToHTTP(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	// Не найдено
	case errors.Is(err, services.ErrMatchNotFound),
		errors.Is(err, services.ErrUserNotFound):
		notFoundResponse(w, r, err)

	// Конфликты
	case errors.Is(err, services.ErrActiveMatchExists),
		errors.Is(err, services.ErrLockConflict),
		errors.Is(err, services.ErrEmailTaken),
		errors.Is(err, services.ErrNicknameTaken):
		conflictResponse(w, r, err.Error())

	// Дедлайны
	case errors.Is(err, services.ErrChallengeExpired),
		errors.Is(err, services.ErrJoinWindowExpired):
		goneResponse(w, r, err.Error())

	// Невалидные данные / недопустимое состояние
	case errors.Is(err, services.ErrValidationFailed),
		errors.Is(err, services.ErrSelfChallenge),
		errors.Is(err, services.ErrInvalidGameType),
		errors.Is(err, services.ErrInvalidMatchFormat),
		errors.Is(err, services.ErrInvalidVisit),
		errors.Is(err, services.ErrInvalidMatchState):
		badRequestResponse(w, r, err)

	// Недоступная инфраструктура
	case errors.Is(err, services.ErrAvatarStorageUnavailable):
		errorResponse(w, r, http.StatusServiceUnavailable, err.Error(), nil)

	// Аутентификация и авторизация
	case errors.Is(err, services.ErrAuthInvalidCredentials):
		unauthorizedResponse(w, r, err.Error())
	case errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, services.ErrNotReceiver),
		errors.Is(err, services.ErrNotYourTurn):
		forbiddenResponse(w, r, err.Error())

	default:
		serverErrorResponse(w, r, err)
	}
}
