package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Dosada05/darts-duel/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

var (
	ErrLockNotFound = errors.New("lock not found")
	// ErrLockConflict: у одного из пользователей уже есть строка блокировки.
	// Это проигранная гонка за uniqueness constraint, а не сбой хранилища.
	ErrLockConflict    = errors.New("user already holds a match lock")
	ErrLockUserInvalid = errors.New("lock user conflict or invalid")
)

// LockRepository управляет таблицей locks - единственным разделяемым между
// матчами ресурсом. Уникальность user_id обеспечивается базой; репозиторий
// лишь переводит нарушение constraint'а в ErrLockConflict.
type LockRepository interface {
	// AcquirePair вставляет по одной блокировке на каждого участника в одной
	// транзакции: либо заблокированы оба, либо никто.
	AcquirePair(ctx context.Context, matchID uuid.UUID, userIDs [2]int, status models.LockStatus) error
	GetByUserID(ctx context.Context, userID int) (*models.Lock, error)
	// PromoteByMatch переводит обе блокировки матча в новый статус.
	PromoteByMatch(ctx context.Context, matchID uuid.UUID, status models.LockStatus) error
	// ReleaseByMatch снимает блокировки матча; ноль удалённых строк - не ошибка
	// (терминальный переход может повторяться идемпотентно).
	ReleaseByMatch(ctx context.Context, matchID uuid.UUID) (int64, error)
	// ReleaseByUserID удаляет устаревшую блокировку конкретного пользователя
	// (self-healing для блокировок, осиротевших после терминального перехода).
	ReleaseByUserID(ctx context.Context, userID int) error
}

type postgresLockRepository struct {
	db *sql.DB
}

func NewPostgresLockRepository(db *sql.DB) LockRepository {
	return &postgresLockRepository{db: db}
}

func (r *postgresLockRepository) AcquirePair(ctx context.Context, matchID uuid.UUID, userIDs [2]int, status models.LockStatus) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin lock transaction: %w", err)
	}
	defer tx.Rollback()

	for _, userID := range userIDs {
		if err := insertLock(ctx, tx, userID, matchID, status); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit lock transaction: %w", err)
	}
	return nil
}

func (r *postgresLockRepository) GetByUserID(ctx context.Context, userID int) (*models.Lock, error) {
	query := `
		SELECT user_id, match_id, lock_status, created_at, updated_at
		FROM locks
		WHERE user_id = $1`

	lock := &models.Lock{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(
		&lock.UserID,
		&lock.MatchID,
		&lock.Status,
		&lock.CreatedAt,
		&lock.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrLockNotFound
		}
		return nil, fmt.Errorf("failed to scan lock for user %d: %w", userID, err)
	}
	return lock, nil
}

func (r *postgresLockRepository) PromoteByMatch(ctx context.Context, matchID uuid.UUID, status models.LockStatus) error {
	query := `
		UPDATE locks
		SET lock_status = $2, updated_at = NOW()
		WHERE match_id = $1`

	result, err := r.db.ExecContext(ctx, query, matchID, status)
	if err != nil {
		return fmt.Errorf("failed to promote locks for match %s: %w", matchID, err)
	}
	return checkAffectedRows(result, ErrLockNotFound)
}

func (r *postgresLockRepository) ReleaseByMatch(ctx context.Context, matchID uuid.UUID) (int64, error) {
	query := `DELETE FROM locks WHERE match_id = $1`

	result, err := r.db.ExecContext(ctx, query, matchID)
	if err != nil {
		return 0, fmt.Errorf("failed to release locks for match %s: %w", matchID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check affected rows: %w", err)
	}
	return rowsAffected, nil
}

func (r *postgresLockRepository) ReleaseByUserID(ctx context.Context, userID int) error {
	query := `DELETE FROM locks WHERE user_id = $1`

	result, err := r.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("failed to release lock for user %d: %w", userID, err)
	}
	return checkAffectedRows(result, ErrLockNotFound)
}

func insertLock(ctx context.Context, exec SQLExecutor, userID int, matchID uuid.UUID, status models.LockStatus) error {
	query := `
		INSERT INTO locks (user_id, match_id, lock_status)
		VALUES ($1, $2, $3)`

	if _, err := exec.ExecContext(ctx, query, userID, matchID, status); err != nil {
		return handleLockError(err)
	}
	return nil
}

func handleLockError(err error) error {
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23505": // unique_violation
			if pqErr.Constraint == "locks_pkey" || pqErr.Constraint == "locks_user_id_key" {
				return ErrLockConflict
			}
		case "23503": // foreign_key_violation
			if pqErr.Constraint == "locks_user_id_fkey" {
				return ErrLockUserInvalid
			}
		}
	}
	return err
}
