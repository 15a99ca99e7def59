package services

import "errors"

// Общие ошибки, используемые в сервисах и маппинге HTTP.
var (
	// Ресурсы
	ErrMatchNotFound = errors.New("match not found")
	ErrUserNotFound  = errors.New("user not found")

	// Валидация и бизнес-правила
	ErrValidationFailed   = errors.New("validation failed")
	ErrSelfChallenge      = errors.New("cannot challenge yourself")
	ErrInvalidGameType    = errors.New("game type must be 301 or 501")
	ErrInvalidMatchFormat = errors.New("match format must be best of 1, 3, 5 or 7 legs")
	ErrInvalidVisit       = errors.New("reported visit does not match the scoring rules")

	// Конфликты
	ErrActiveMatchExists = errors.New("user already has an active match")
	ErrLockConflict      = errors.New("a participant is already locked into another match")
	ErrEmailTaken        = errors.New("email is already taken")
	ErrNicknameTaken     = errors.New("nickname is already taken")

	// Инфраструктура
	ErrAvatarStorageUnavailable = errors.New("avatar storage is not configured")

	// Недопустимое состояние / дедлайны
	ErrInvalidMatchState = errors.New("action is not allowed from the current match status")
	ErrChallengeExpired  = errors.New("challenge has expired")
	ErrJoinWindowExpired = errors.New("join window has expired")

	// Аутентификация и авторизация
	ErrAuthInvalidCredentials = errors.New("invalid email or password")
	ErrNotParticipant         = errors.New("caller is not a participant of this match")
	ErrNotReceiver            = errors.New("only the challenged player can accept")
	ErrNotYourTurn            = errors.New("it is not the caller's turn")
)
