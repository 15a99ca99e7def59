package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Dosada05/darts-duel/models"
	"github.com/Dosada05/darts-duel/repositories"
	"github.com/Dosada05/darts-duel/scoring"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// MatchPublisher рассылает снапшот матча подписчикам обоих участников.
// Реализуется realtime-хабом.
type MatchPublisher interface {
	MatchUpdated(match *models.Match)
}

type CreateChallengeInput struct {
	ReceiverID  int    `json:"receiver_id"`
	GameType    string `json:"game_type"`
	MatchFormat int    `json:"match_format"`
}

type SaveVisitInput struct {
	Darts       [3]int `json:"darts"`
	ScoreBefore int    `json:"score_before"`
	ScoreAfter  int    `json:"score_after"`
}

type VisitResult struct {
	Match        *models.Match `json:"match"`
	NextPlayerID *int          `json:"next_player_id,omitempty"`
	MatchWon     bool          `json:"match_won"`
}

// MatchService - серверно-авторитетный координатор матча. Каждый метод -
// самостоятельная короткая единица работы; взаимное исключение выражено
// не процессными мьютексами, а условными записями в хранилище.
type MatchService interface {
	CreateChallenge(ctx context.Context, challengerID int, input CreateChallengeInput) (*models.Match, error)
	AcceptChallenge(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error)
	JoinMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error)
	// CancelMatch снимает ещё не начавшийся матч (pending/ready).
	CancelMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error)
	// AbortMatch разрывает принятый или идущий матч; повторный вызов на уже
	// завершённом матче - идемпотентный успех (alreadyEnded = true).
	AbortMatch(ctx context.Context, callerID int, matchID uuid.UUID) (match *models.Match, alreadyEnded bool, err error)
	// ExpireMatch вызывается клиентом, заметившим истёкший дедлайн.
	ExpireMatch(ctx context.Context, callerID int, matchID uuid.UUID) (match *models.Match, alreadyEnded bool, err error)
	SaveVisit(ctx context.Context, callerID int, matchID uuid.UUID, input SaveVisitInput) (*VisitResult, error)

	GetMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error)
	ListUserMatches(ctx context.Context, userID int) ([]*models.Match, error)
	ListVisits(ctx context.Context, callerID int, matchID uuid.UUID) ([]*models.Visit, error)

	// ExpireOverdue - массовое истечение дедлайнов для фонового свипа.
	ExpireOverdue(ctx context.Context) (int64, error)
}

type matchService struct {
	matchRepo    repositories.MatchRepository
	lockRepo     repositories.LockRepository
	userRepo     repositories.UserRepository
	visitRepo    repositories.VisitRepository
	engine       scoring.Engine
	publisher    MatchPublisher
	logger       *slog.Logger
	challengeTTL time.Duration
	joinWindow   time.Duration
}

func NewMatchService(
	matchRepo repositories.MatchRepository,
	lockRepo repositories.LockRepository,
	userRepo repositories.UserRepository,
	visitRepo repositories.VisitRepository,
	engine scoring.Engine,
	publisher MatchPublisher,
	logger *slog.Logger,
	challengeTTL time.Duration,
	joinWindow time.Duration,
) MatchService {
	return &matchService{
		matchRepo:    matchRepo,
		lockRepo:     lockRepo,
		userRepo:     userRepo,
		visitRepo:    visitRepo,
		engine:       engine,
		publisher:    publisher,
		logger:       logger,
		challengeTTL: challengeTTL,
		joinWindow:   joinWindow,
	}
}

func (s *matchService) CreateChallenge(ctx context.Context, challengerID int, input CreateChallengeInput) (*models.Match, error) {
	if input.ReceiverID == challengerID {
		return nil, ErrSelfChallenge
	}
	gameType := models.GameType(input.GameType)
	if !gameType.Valid() {
		return nil, ErrInvalidGameType
	}
	if !models.ValidMatchFormat(input.MatchFormat) {
		return nil, ErrInvalidMatchFormat
	}

	if _, err := s.userRepo.GetByID(ctx, input.ReceiverID); err != nil {
		if errors.Is(err, repositories.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to load receiver %d: %w", input.ReceiverID, err)
	}

	if err := s.ensureNoActiveLock(ctx, challengerID); err != nil {
		return nil, err
	}

	expiresAt := time.Now().Add(s.challengeTTL)
	match := &models.Match{
		ID:                 uuid.New(),
		Status:             models.MatchStatusPending,
		ChallengerID:       challengerID,
		ReceiverID:         input.ReceiverID,
		GameType:           gameType,
		MatchFormat:        input.MatchFormat,
		ChallengeExpiresAt: &expiresAt,
	}

	if err := s.matchRepo.Create(ctx, match); err != nil {
		// Гонка двух create-challenge одного пользователя: insert проигравшего
		// упирается в частичный уникальный индекс.
		if errors.Is(err, repositories.ErrMatchChallengerBusy) {
			return nil, ErrActiveMatchExists
		}
		if errors.Is(err, repositories.ErrMatchParticipantInvalid) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to create challenge: %w", err)
	}

	s.publish(match)
	return match, nil
}

func (s *matchService) AcceptChallenge(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if callerID != match.ReceiverID {
		return nil, ErrNotReceiver
	}
	if match.Status != models.MatchStatusPending {
		return nil, ErrInvalidMatchState
	}
	if match.ChallengeExpiresAt != nil && time.Now().After(*match.ChallengeExpiresAt) {
		s.expireBestEffort(ctx, match, callerID, []models.MatchStatus{models.MatchStatusPending})
		return nil, ErrChallengeExpired
	}

	// Обе блокировки ставятся до перехода pending->ready: если хотя бы один
	// участник уже связан другим матчем, строка матча остаётся нетронутой.
	for _, userID := range [2]int{match.ChallengerID, match.ReceiverID} {
		if err := s.ensureNoActiveLock(ctx, userID); err != nil {
			if errors.Is(err, ErrActiveMatchExists) {
				return nil, ErrLockConflict
			}
			return nil, err
		}
	}
	if err := s.lockRepo.AcquirePair(ctx, matchID, [2]int{match.ChallengerID, match.ReceiverID}, models.LockStatusReady); err != nil {
		if errors.Is(err, repositories.ErrLockConflict) {
			return nil, ErrLockConflict
		}
		return nil, fmt.Errorf("failed to acquire match locks: %w", err)
	}

	won, err := s.matchRepo.Accept(ctx, matchID, time.Now().Add(s.joinWindow))
	if err != nil {
		return nil, err
	}
	if !won {
		// Переход проигран (дубль accept или гонка с терминальным
		// переходом); наши блокировки ещё никому не нужны.
		s.releaseLocks(ctx, matchID)
		return nil, ErrInvalidMatchState
	}

	return s.reloadAndPublish(ctx, matchID)
}

func (s *matchService) JoinMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}

	switch match.Status {
	case models.MatchStatusReady:
		if s.joinWindowPassed(match) {
			s.expireBestEffort(ctx, match, callerID, []models.MatchStatus{models.MatchStatusReady, models.MatchStatusLobby})
			return nil, ErrJoinWindowExpired
		}
		won, err := s.matchRepo.JoinLobby(ctx, matchID, callerID)
		if err != nil {
			return nil, err
		}
		if won {
			return s.reloadAndPublish(ctx, matchID)
		}
		// Проигранная гонка: второй участник успел первым. Перечитываем и
		// продолжаем по фактическому статусу.
		current, err := s.getMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		switch current.Status {
		case models.MatchStatusLobby:
			return s.joinFromLobby(ctx, callerID, current)
		case models.MatchStatusInProgress:
			return current, nil
		default:
			return nil, ErrInvalidMatchState
		}

	case models.MatchStatusLobby:
		if s.joinWindowPassed(match) {
			s.expireBestEffort(ctx, match, callerID, []models.MatchStatus{models.MatchStatusReady, models.MatchStatusLobby})
			return nil, ErrJoinWindowExpired
		}
		return s.joinFromLobby(ctx, callerID, match)

	case models.MatchStatusInProgress:
		// Оба уже в матче; повторный join - идемпотентный успех.
		return match, nil

	default:
		return nil, ErrInvalidMatchState
	}
}

func (s *matchService) joinFromLobby(ctx context.Context, callerID int, match *models.Match) (*models.Match, error) {
	if match.LobbyJoinedID != nil && *match.LobbyJoinedID == callerID {
		// Повторный вход первого участника ничего не двигает.
		return match, nil
	}

	won, err := s.matchRepo.Start(ctx, match.ID, callerID)
	if err != nil {
		return nil, err
	}
	if !won {
		current, err := s.getMatch(ctx, match.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == models.MatchStatusInProgress {
			return current, nil
		}
		return nil, ErrInvalidMatchState
	}

	// Матч уже стартовал; неудача промоута блокировок не откатывает его.
	if err := s.lockRepo.PromoteByMatch(ctx, match.ID, models.LockStatusInProgress); err != nil {
		s.logger.Error("failed to promote locks after match start",
			slog.String("match_id", match.ID.String()), slog.Any("error", err))
	}

	return s.reloadAndPublish(ctx, match.ID)
}

func (s *matchService) CancelMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error) {
	from := []models.MatchStatus{models.MatchStatusPending, models.MatchStatusReady}
	match, _, err := s.terminate(ctx, callerID, matchID, from, models.EndReasonCancelled, false)
	return match, err
}

func (s *matchService) AbortMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, bool, error) {
	from := []models.MatchStatus{models.MatchStatusReady, models.MatchStatusLobby, models.MatchStatusInProgress}
	return s.terminate(ctx, callerID, matchID, from, models.EndReasonAborted, true)
}

func (s *matchService) ExpireMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, bool, error) {
	from := []models.MatchStatus{models.MatchStatusPending, models.MatchStatusReady, models.MatchStatusLobby, models.MatchStatusInProgress}
	return s.terminate(ctx, callerID, matchID, from, models.EndReasonExpired, true)
}

// terminate реализует общий протокол терминального перехода: guarded update
// по текущему статусу строки, затем, при нуле затронутых строк, перечтение и
// классификация - идемпотентный успех или настоящий конфликт.
func (s *matchService) terminate(ctx context.Context, callerID int, matchID uuid.UUID, from []models.MatchStatus, reason string, idempotent bool) (*models.Match, bool, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, false, err
	}
	if !match.IsParticipant(callerID) {
		return nil, false, ErrNotParticipant
	}
	if match.Status.IsTerminal() {
		if idempotent {
			return match, true, nil
		}
		return nil, false, ErrInvalidMatchState
	}
	if !statusIn(match.Status, from) {
		return nil, false, ErrInvalidMatchState
	}

	to := models.MatchStatusCancelled
	if reason == models.EndReasonExpired {
		to = models.MatchStatusExpired
	}

	won, err := s.matchRepo.Terminate(ctx, matchID, from, to, callerID, reason)
	if err != nil {
		return nil, false, err
	}
	if !won {
		current, err := s.getMatch(ctx, matchID)
		if err != nil {
			return nil, false, err
		}
		if current.Status.IsTerminal() && idempotent {
			// Конкурентный терминальный переход уже всё сделал.
			return current, true, nil
		}
		return nil, false, ErrInvalidMatchState
	}

	s.releaseLocks(ctx, matchID)
	updated, err := s.reloadAndPublish(ctx, matchID)
	if err != nil {
		// Переход уже зафиксирован; отдаём локальное представление.
		match.Status = to
		match.EndedBy = &callerID
		match.EndedReason = &reason
		return match, false, nil
	}
	return updated, false, nil
}

func (s *matchService) SaveVisit(ctx context.Context, callerID int, matchID uuid.UUID, input SaveVisitInput) (*VisitResult, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	if match.Status != models.MatchStatusInProgress {
		return nil, ErrInvalidMatchState
	}
	if match.CurrentPlayerID == nil || *match.CurrentPlayerID != callerID {
		return nil, ErrNotYourTurn
	}

	// Скоринговый движок - чистый коллаборатор: счёт и исход хода решает он,
	// координатор лишь сверяет заявленный клиентом результат.
	result, err := s.engine.Evaluate(input.ScoreBefore, input.Darts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidVisit, err)
	}
	if result.ScoreAfter != input.ScoreAfter {
		return nil, fmt.Errorf("%w: expected score %d, got %d", ErrInvalidVisit, result.ScoreAfter, input.ScoreAfter)
	}

	payload := &models.VisitPayload{
		PlayerID:    callerID,
		Darts:       input.Darts,
		ScoreBefore: input.ScoreBefore,
		ScoreAfter:  result.ScoreAfter,
		Bust:        result.Bust,
		ThrownAt:    time.Now().UTC(),
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal visit payload: %w", err)
	}

	challengerLegs, receiverLegs := match.ChallengerLegs, match.ReceiverLegs
	if result.LegWon {
		if callerID == match.ChallengerID {
			challengerLegs++
		} else {
			receiverLegs++
		}
	}
	callerLegs := challengerLegs
	if callerID == match.ReceiverID {
		callerLegs = receiverLegs
	}
	matchWon := callerLegs >= models.LegsToWin(match.MatchFormat)

	var won bool
	if matchWon {
		won, err = s.matchRepo.CompleteWithVisit(ctx, matchID, callerID, payloadJSON, challengerLegs, receiverLegs)
	} else {
		won, err = s.matchRepo.RecordVisit(ctx, matchID, callerID, match.Opponent(callerID), payloadJSON, challengerLegs, receiverLegs)
	}
	if err != nil {
		return nil, err
	}
	if !won {
		// Guarded update по current_player_id проиграл гонку: либо матч
		// успел завершиться, либо дубль запроса уже передал очередь.
		current, err := s.getMatch(ctx, matchID)
		if err != nil {
			return nil, err
		}
		if current.Status != models.MatchStatusInProgress {
			return nil, ErrInvalidMatchState
		}
		return nil, ErrNotYourTurn
	}

	s.appendHistory(ctx, match.ID, payload)

	if matchWon {
		s.releaseLocks(ctx, matchID)
	}

	updated, err := s.reloadAndPublish(ctx, matchID)
	if err != nil {
		return nil, err
	}

	visitResult := &VisitResult{Match: updated, MatchWon: matchWon}
	if !matchWon {
		next := match.Opponent(callerID)
		visitResult.NextPlayerID = &next
	}
	return visitResult, nil
}

func (s *matchService) GetMatch(ctx context.Context, callerID int, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	return match, nil
}

func (s *matchService) ListUserMatches(ctx context.Context, userID int) ([]*models.Match, error) {
	matches, err := s.matchRepo.ListByUser(ctx, userID, 50)
	if err != nil {
		return nil, fmt.Errorf("failed to list matches for user %d: %w", userID, err)
	}
	return matches, nil
}

func (s *matchService) ListVisits(ctx context.Context, callerID int, matchID uuid.UUID) ([]*models.Visit, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	if !match.IsParticipant(callerID) {
		return nil, ErrNotParticipant
	}
	return s.visitRepo.ListByMatch(ctx, matchID)
}

func (s *matchService) ExpireOverdue(ctx context.Context) (int64, error) {
	now := time.Now()
	var challenges, joins []*models.Match

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		challenges, err = s.matchRepo.ExpireOverdueChallenges(gCtx, now)
		return err
	})
	g.Go(func() error {
		var err error
		joins, err = s.matchRepo.ExpireOverdueJoinWindows(gCtx, now)
		return err
	})
	if err := g.Wait(); err != nil {
		return 0, fmt.Errorf("bulk expiry failed: %w", err)
	}

	expired := append(challenges, joins...)
	for _, match := range expired {
		s.releaseLocks(ctx, match.ID)
		if updated, err := s.getMatch(ctx, match.ID); err == nil {
			s.publish(updated)
		}
	}
	return int64(len(expired)), nil
}

// --- внутренние помощники ---

func (s *matchService) joinWindowPassed(match *models.Match) bool {
	return match.JoinWindowExpiresAt != nil && time.Now().After(*match.JoinWindowExpiresAt)
}

func (s *matchService) getMatch(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.matchRepo.GetByID(ctx, matchID)
	if err != nil {
		if errors.Is(err, repositories.ErrMatchNotFound) {
			return nil, ErrMatchNotFound
		}
		return nil, err
	}
	return match, nil
}

// ensureNoActiveLock проверяет блокировку пользователя и чинит осиротевшие
// строки: блокировка, ссылающаяся на терминальный или отсутствующий матч,
// удаляется вместо того, чтобы ей верить.
func (s *matchService) ensureNoActiveLock(ctx context.Context, userID int) error {
	lock, err := s.lockRepo.GetByUserID(ctx, userID)
	if errors.Is(err, repositories.ErrLockNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to check lock for user %d: %w", userID, err)
	}

	owning, err := s.matchRepo.GetByID(ctx, lock.MatchID)
	if err != nil && !errors.Is(err, repositories.ErrMatchNotFound) {
		return fmt.Errorf("failed to load match %s for lock check: %w", lock.MatchID, err)
	}
	if err == nil && !owning.Status.IsTerminal() {
		return ErrActiveMatchExists
	}

	if relErr := s.lockRepo.ReleaseByUserID(ctx, userID); relErr != nil && !errors.Is(relErr, repositories.ErrLockNotFound) {
		return fmt.Errorf("failed to release stale lock for user %d: %w", userID, relErr)
	}
	s.logger.Warn("released stale lock",
		slog.Int("user_id", userID), slog.String("match_id", lock.MatchID.String()))
	return nil
}

// releaseLocks снимает блокировки best-effort: матч уже в терминальном
// статусе, и сбой таблицы блокировок не должен его откатывать. Осиротевшую
// строку позже уберёт self-healing в ensureNoActiveLock.
func (s *matchService) releaseLocks(ctx context.Context, matchID uuid.UUID) {
	if _, err := s.lockRepo.ReleaseByMatch(ctx, matchID); err != nil {
		s.logger.Error("failed to release locks for terminal match",
			slog.String("match_id", matchID.String()), slog.Any("error", err))
	}
}

// expireBestEffort переводит матч в expired по замеченному дедлайну; неудача
// не меняет ответ вызывающему (он в любом случае получает Expired).
func (s *matchService) expireBestEffort(ctx context.Context, match *models.Match, callerID int, from []models.MatchStatus) {
	won, err := s.matchRepo.Terminate(ctx, match.ID, from, models.MatchStatusExpired, callerID, models.EndReasonExpired)
	if err != nil {
		s.logger.Error("failed to expire overdue match",
			slog.String("match_id", match.ID.String()), slog.Any("error", err))
		return
	}
	if won {
		s.releaseLocks(ctx, match.ID)
		if updated, err := s.getMatch(ctx, match.ID); err == nil {
			s.publish(updated)
		}
	}
}

func (s *matchService) appendHistory(ctx context.Context, matchID uuid.UUID, payload *models.VisitPayload) {
	visit := &models.Visit{
		MatchID:     matchID,
		PlayerID:    payload.PlayerID,
		Darts:       payload.Darts,
		ScoreBefore: payload.ScoreBefore,
		ScoreAfter:  payload.ScoreAfter,
		Bust:        payload.Bust,
	}
	// История не авторитетна; её сбой не должен ломать сам ход.
	if err := s.visitRepo.Create(ctx, visit); err != nil {
		s.logger.Error("failed to append visit history",
			slog.String("match_id", matchID.String()), slog.Any("error", err))
	}
}

func (s *matchService) reloadAndPublish(ctx context.Context, matchID uuid.UUID) (*models.Match, error) {
	match, err := s.getMatch(ctx, matchID)
	if err != nil {
		return nil, err
	}
	s.publish(match)
	return match, nil
}

func (s *matchService) publish(match *models.Match) {
	if s.publisher != nil {
		s.publisher.MatchUpdated(match)
	}
}
