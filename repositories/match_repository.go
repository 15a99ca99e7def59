package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/darts-duel/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrMatchNotFound           = errors.New("match not found")
	ErrMatchChallengerBusy     = errors.New("challenger already has an active match")
	ErrMatchParticipantInvalid = errors.New("match participant conflict or invalid")
)

// MatchRepository содержит все переходы состояния матча в виде guarded
// conditional update'ов: каждый UPDATE обусловлен текущим статусом строки,
// а не прочитанным ранее значением. Методы переходов возвращают bool -
// выиграл ли вызов гонку за строку; ноль затронутых строк - это не ошибка.
type MatchRepository interface {
	Create(ctx context.Context, match *models.Match) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error)
	ListByUser(ctx context.Context, userID int, limit int) ([]*models.Match, error)

	// Accept: pending -> ready, устанавливает join_window_expires_at.
	Accept(ctx context.Context, id uuid.UUID, joinDeadline time.Time) (bool, error)
	// JoinLobby: ready -> lobby, запоминает первого вошедшего.
	JoinLobby(ctx context.Context, id uuid.UUID, joinerID int) (bool, error)
	// Start: lobby -> in_progress, только если входит не первый вошедший.
	// Первым ходит челленджер.
	Start(ctx context.Context, id uuid.UUID, joinerID int) (bool, error)
	// RecordVisit записывает ход и передаёт очередь, пока матч in_progress
	// и очередь действительно у actingPlayerID.
	RecordVisit(ctx context.Context, id uuid.UUID, actingPlayerID, nextPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error)
	// CompleteWithVisit записывает решающий ход и завершает матч.
	CompleteWithVisit(ctx context.Context, id uuid.UUID, actingPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error)
	// Terminate переводит матч в терминальный статус из любого из from.
	Terminate(ctx context.Context, id uuid.UUID, from []models.MatchStatus, to models.MatchStatus, endedBy int, reason string) (bool, error)

	// Массовое истечение для фонового свипа; возвращает затронутые матчи
	// (id и участники), чтобы вызывающий снял блокировки и разослал события.
	ExpireOverdueChallenges(ctx context.Context, now time.Time) ([]*models.Match, error)
	ExpireOverdueJoinWindows(ctx context.Context, now time.Time) ([]*models.Match, error)
}

type postgresMatchRepository struct {
	db *sql.DB
}

func NewPostgresMatchRepository(db *sql.DB) MatchRepository {
	return &postgresMatchRepository{db: db}
}

const matchColumns = `
	id, status, challenger_id, receiver_id, game_type, match_format,
	current_player_id, lobby_joined_id, challenger_legs, receiver_legs,
	challenge_expires_at, join_window_expires_at, last_visit_payload,
	ended_at, ended_by, ended_reason, created_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMatch(row rowScanner) (*models.Match, error) {
	match := &models.Match{}
	var status string
	var payload []byte
	err := row.Scan(
		&match.ID,
		&status,
		&match.ChallengerID,
		&match.ReceiverID,
		&match.GameType,
		&match.MatchFormat,
		&match.CurrentPlayerID,
		&match.LobbyJoinedID,
		&match.ChallengerLegs,
		&match.ReceiverLegs,
		&match.ChallengeExpiresAt,
		&match.JoinWindowExpiresAt,
		&payload,
		&match.EndedAt,
		&match.EndedBy,
		&match.EndedReason,
		&match.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsed, ok := models.ParseMatchStatus(status)
	if !ok {
		return nil, fmt.Errorf("match %s has unknown status %q", match.ID, status)
	}
	match.Status = parsed

	if len(payload) > 0 {
		visit := &models.VisitPayload{}
		if err := json.Unmarshal(payload, visit); err != nil {
			return nil, fmt.Errorf("match %s has malformed last_visit_payload: %w", match.ID, err)
		}
		match.LastVisit = visit
	}
	return match, nil
}

func (r *postgresMatchRepository) Create(ctx context.Context, match *models.Match) error {
	query := `
		INSERT INTO matches
			(id, status, challenger_id, receiver_id, game_type, match_format, challenge_expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	err := r.db.QueryRowContext(ctx, query,
		match.ID,
		match.Status,
		match.ChallengerID,
		match.ReceiverID,
		match.GameType,
		match.MatchFormat,
		match.ChallengeExpiresAt,
	).Scan(&match.CreatedAt)

	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok {
			switch pqErr.Code {
			case "23505": // unique_violation
				// Частичный уникальный индекс по challenger_id для активных
				// статусов: из двух гонящихся create-challenge выигрывает один.
				if pqErr.Constraint == "matches_challenger_active_idx" {
					return ErrMatchChallengerBusy
				}
			case "23503": // foreign_key_violation
				if pqErr.Constraint == "matches_challenger_id_fkey" || pqErr.Constraint == "matches_receiver_id_fkey" {
					return ErrMatchParticipantInvalid
				}
			}
		}
		return err
	}
	return nil
}

func (r *postgresMatchRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Match, error) {
	query := `SELECT ` + matchColumns + ` FROM matches WHERE id = $1`

	match, err := scanMatch(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMatchNotFound
		}
		return nil, fmt.Errorf("failed to scan match %s: %w", id, err)
	}
	return match, nil
}

func (r *postgresMatchRepository) ListByUser(ctx context.Context, userID int, limit int) ([]*models.Match, error) {
	query := `
		SELECT ` + matchColumns + `
		FROM matches
		WHERE challenger_id = $1 OR receiver_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query matches for user %d: %w", userID, err)
	}
	defer rows.Close()

	matches := make([]*models.Match, 0)
	for rows.Next() {
		match, scanErr := scanMatch(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan match row: %w", scanErr)
		}
		matches = append(matches, match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during match rows iteration: %w", err)
	}
	return matches, nil
}

func (r *postgresMatchRepository) Accept(ctx context.Context, id uuid.UUID, joinDeadline time.Time) (bool, error) {
	query := `
		UPDATE matches
		SET status = $2, join_window_expires_at = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, id, models.MatchStatusReady, joinDeadline, models.MatchStatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to accept match %s: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) JoinLobby(ctx context.Context, id uuid.UUID, joinerID int) (bool, error) {
	query := `
		UPDATE matches
		SET status = $2, lobby_joined_id = $3
		WHERE id = $1 AND status = $4`

	result, err := r.db.ExecContext(ctx, query, id, models.MatchStatusLobby, joinerID, models.MatchStatusReady)
	if err != nil {
		return false, fmt.Errorf("failed to move match %s to lobby: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) Start(ctx context.Context, id uuid.UUID, joinerID int) (bool, error) {
	// Гард на lobby_joined_id <> joiner: повторный вход первого участника
	// не стартует матч.
	query := `
		UPDATE matches
		SET status = $2, current_player_id = challenger_id
		WHERE id = $1 AND status = $3 AND lobby_joined_id IS NOT NULL AND lobby_joined_id <> $4`

	result, err := r.db.ExecContext(ctx, query, id, models.MatchStatusInProgress, models.MatchStatusLobby, joinerID)
	if err != nil {
		return false, fmt.Errorf("failed to start match %s: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) RecordVisit(ctx context.Context, id uuid.UUID, actingPlayerID, nextPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error) {
	query := `
		UPDATE matches
		SET current_player_id = $2, last_visit_payload = $3,
		    challenger_legs = $4, receiver_legs = $5
		WHERE id = $1 AND status = $6 AND current_player_id = $7`

	result, err := r.db.ExecContext(ctx, query,
		id, nextPlayerID, payload, challengerLegs, receiverLegs,
		models.MatchStatusInProgress, actingPlayerID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to record visit for match %s: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) CompleteWithVisit(ctx context.Context, id uuid.UUID, actingPlayerID int, payload []byte, challengerLegs, receiverLegs int) (bool, error) {
	query := `
		UPDATE matches
		SET status = $2, last_visit_payload = $3,
		    challenger_legs = $4, receiver_legs = $5,
		    current_player_id = NULL,
		    ended_at = NOW(), ended_by = $6, ended_reason = $7
		WHERE id = $1 AND status = $8 AND current_player_id = $6`

	result, err := r.db.ExecContext(ctx, query,
		id, models.MatchStatusCompleted, payload, challengerLegs, receiverLegs,
		actingPlayerID, models.EndReasonCompleted, models.MatchStatusInProgress,
	)
	if err != nil {
		return false, fmt.Errorf("failed to complete match %s: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) Terminate(ctx context.Context, id uuid.UUID, from []models.MatchStatus, to models.MatchStatus, endedBy int, reason string) (bool, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	query := `
		UPDATE matches
		SET status = $2, ended_at = NOW(), ended_by = $3, ended_reason = $4
		WHERE id = $1 AND status = ANY($5)`

	result, err := r.db.ExecContext(ctx, query, id, to, endedBy, reason, pq.Array(fromStrings))
	if err != nil {
		return false, fmt.Errorf("failed to terminate match %s: %w", id, err)
	}
	return affected(result)
}

func (r *postgresMatchRepository) ExpireOverdueChallenges(ctx context.Context, now time.Time) ([]*models.Match, error) {
	query := `
		UPDATE matches
		SET status = $1, ended_at = NOW(), ended_reason = $2
		WHERE status = $3 AND challenge_expires_at IS NOT NULL AND challenge_expires_at <= $4
		RETURNING id, challenger_id, receiver_id`

	return r.collectExpired(ctx, query, models.MatchStatusExpired, models.EndReasonExpired, models.MatchStatusPending, now)
}

func (r *postgresMatchRepository) ExpireOverdueJoinWindows(ctx context.Context, now time.Time) ([]*models.Match, error) {
	query := `
		UPDATE matches
		SET status = $1, ended_at = NOW(), ended_reason = $2
		WHERE status = ANY($3) AND join_window_expires_at IS NOT NULL AND join_window_expires_at <= $4
		RETURNING id, challenger_id, receiver_id`

	joinable := pq.Array([]string{string(models.MatchStatusReady), string(models.MatchStatusLobby)})
	return r.collectExpired(ctx, query, models.MatchStatusExpired, models.EndReasonExpired, joinable, now)
}

func (r *postgresMatchRepository) collectExpired(ctx context.Context, query string, args ...interface{}) ([]*models.Match, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expire overdue matches: %w", err)
	}
	defer rows.Close()

	expired := make([]*models.Match, 0)
	for rows.Next() {
		match := &models.Match{Status: models.MatchStatusExpired}
		if scanErr := rows.Scan(&match.ID, &match.ChallengerID, &match.ReceiverID); scanErr != nil {
			return nil, fmt.Errorf("failed to scan expired match row: %w", scanErr)
		}
		expired = append(expired, match)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during expired match rows iteration: %w", err)
	}
	return expired, nil
}
