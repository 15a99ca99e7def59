package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dosada05/darts-duel/models"
	"github.com/google/uuid"
)

// VisitRepository хранит историю ходов. История не участвует в машине
// состояний матча; запись ведётся best-effort.
type VisitRepository interface {
	Create(ctx context.Context, visit *models.Visit) error
	ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*models.Visit, error)
}

type postgresVisitRepository struct {
	db *sql.DB
}

func NewPostgresVisitRepository(db *sql.DB) VisitRepository {
	return &postgresVisitRepository{db: db}
}

func (r *postgresVisitRepository) Create(ctx context.Context, visit *models.Visit) error {
	query := `
		INSERT INTO visits
			(match_id, player_id, turn_number, dart1, dart2, dart3, score_before, score_after, bust)
		VALUES ($1, $2,
			(SELECT COALESCE(MAX(turn_number), 0) + 1 FROM visits WHERE match_id = $1),
			$3, $4, $5, $6, $7, $8)
		RETURNING id, turn_number, created_at`

	err := r.db.QueryRowContext(ctx, query,
		visit.MatchID,
		visit.PlayerID,
		visit.Darts[0],
		visit.Darts[1],
		visit.Darts[2],
		visit.ScoreBefore,
		visit.ScoreAfter,
		visit.Bust,
	).Scan(&visit.ID, &visit.TurnNumber, &visit.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to insert visit for match %s: %w", visit.MatchID, err)
	}
	return nil
}

func (r *postgresVisitRepository) ListByMatch(ctx context.Context, matchID uuid.UUID) ([]*models.Visit, error) {
	query := `
		SELECT id, match_id, player_id, turn_number, dart1, dart2, dart3,
		       score_before, score_after, bust, created_at
		FROM visits
		WHERE match_id = $1
		ORDER BY turn_number ASC`

	rows, err := r.db.QueryContext(ctx, query, matchID)
	if err != nil {
		return nil, fmt.Errorf("failed to query visits for match %s: %w", matchID, err)
	}
	defer rows.Close()

	visits := make([]*models.Visit, 0)
	for rows.Next() {
		visit := &models.Visit{}
		if scanErr := rows.Scan(
			&visit.ID,
			&visit.MatchID,
			&visit.PlayerID,
			&visit.TurnNumber,
			&visit.Darts[0],
			&visit.Darts[1],
			&visit.Darts[2],
			&visit.ScoreBefore,
			&visit.ScoreAfter,
			&visit.Bust,
			&visit.CreatedAt,
		); scanErr != nil {
			return nil, fmt.Errorf("failed to scan visit row: %w", scanErr)
		}
		visits = append(visits, visit)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during visit rows iteration: %w", err)
	}
	return visits, nil
}
