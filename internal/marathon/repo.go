package marathon

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"marathon/internal/apperr"
	"marathon/pkg/database"
	"marathon/pkg/models"
)

type Input struct {
	Name              string
	StartTime         *time.Time
	EndTime           *time.Time
	IsActive          bool
	Description       string
	TotalParticipants int
}

func (in Input) validate(op string) error {
	if strings.TrimSpace(in.Name) == "" {
		return apperr.Validation(op, "name is required")
	}
	if in.StartTime != nil && in.EndTime != nil && !in.EndTime.After(*in.StartTime) {
		return apperr.Validation(op, "end_time must be after start_time")
	}
	if in.TotalParticipants < 0 {
		return apperr.Validation(op, "total_participants must not be negative")
	}
	return nil
}

// participants falls back to the number of readers who have read anything
// when no expected participant count was configured.
const selectConfig = `SELECT id, name, start_time, end_time, is_active, description,
	CASE WHEN total_participants > 0 THEN total_participants
	     ELSE (SELECT COUNT(DISTINCT reader_id) FROM reading_progress WHERE is_read = 1) END
	FROM marathon_config`

func scanConfig(s interface{ Scan(...any) error }) (models.MarathonConfig, error) {
	var m models.MarathonConfig
	var start, end sql.NullTime
	if err := s.Scan(&m.ID, &m.Name, &start, &end, &m.IsActive, &m.Description, &m.TotalParticipants); err != nil {
		return models.MarathonConfig{}, err
	}
	if start.Valid {
		t := start.Time.UTC()
		m.StartTime = &t
	}
	if end.Valid {
		t := end.Time.UTC()
		m.EndTime = &t
	}
	return m, nil
}

// Active returns the running marathon, or nil when none is active.
func Active(ctx context.Context, db database.DBTX) (*models.MarathonConfig, error) {
	m, err := scanConfig(db.QueryRowContext(ctx, selectConfig+` WHERE is_active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active marathon: %w", err)
	}
	return &m, nil
}

func Get(ctx context.Context, db database.DBTX, id int64) (models.MarathonConfig, error) {
	m, err := scanConfig(db.QueryRowContext(ctx, selectConfig+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.MarathonConfig{}, apperr.NotFound("marathon.Get", "marathon %d not found", id)
	}
	if err != nil {
		return models.MarathonConfig{}, fmt.Errorf("get marathon %d: %w", id, err)
	}
	return m, nil
}

func List(ctx context.Context, db database.DBTX) ([]models.MarathonConfig, error) {
	rows, err := db.QueryContext(ctx, selectConfig+` ORDER BY id DESC`)
	if err != nil {
		return nil, fmt.Errorf("list marathons: %w", err)
	}
	defer rows.Close()

	res := []models.MarathonConfig{}
	for rows.Next() {
		m, err := scanConfig(rows)
		if err != nil {
			return nil, fmt.Errorf("scan marathon: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// Create inserts a marathon. When it is active, every other row is
// deactivated first, in the same transaction.
func Create(ctx context.Context, db *sql.DB, in Input) (models.MarathonConfig, error) {
	if err := in.validate("marathon.Create"); err != nil {
		return models.MarathonConfig{}, err
	}

	var id int64
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if in.IsActive {
			if err := deactivateAll(ctx, tx); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			INSERT INTO marathon_config (name, start_time, end_time, is_active, description, total_participants)
			VALUES (?, ?, ?, ?, ?, ?)`,
			strings.TrimSpace(in.Name), utc(in.StartTime), utc(in.EndTime), in.IsActive, in.Description, in.TotalParticipants)
		if err != nil {
			return fmt.Errorf("insert marathon: %w", err)
		}
		id, err = res.LastInsertId()
		return err
	})
	if err != nil {
		return models.MarathonConfig{}, err
	}
	return Get(ctx, db, id)
}

func Update(ctx context.Context, db *sql.DB, id int64, in Input) (models.MarathonConfig, error) {
	if err := in.validate("marathon.Update"); err != nil {
		return models.MarathonConfig{}, err
	}

	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if in.IsActive {
			if err := deactivateAll(ctx, tx); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE marathon_config
			SET name = ?, start_time = ?, end_time = ?, is_active = ?, description = ?, total_participants = ?
			WHERE id = ?`,
			strings.TrimSpace(in.Name), utc(in.StartTime), utc(in.EndTime), in.IsActive, in.Description, in.TotalParticipants, id)
		if err != nil {
			return fmt.Errorf("update marathon %d: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return apperr.NotFound("marathon.Update", "marathon %d not found", id)
		}
		return nil
	})
	if err != nil {
		return models.MarathonConfig{}, err
	}
	return Get(ctx, db, id)
}

// Activate makes id the only active marathon.
func Activate(ctx context.Context, db *sql.DB, id int64) (models.MarathonConfig, error) {
	err := database.WithTx(ctx, db, func(tx *sql.Tx) error {
		if _, err := Get(ctx, tx, id); err != nil {
			return err
		}
		if err := deactivateAll(ctx, tx); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE marathon_config SET is_active = 1 WHERE id = ?`, id); err != nil {
			return fmt.Errorf("activate marathon %d: %w", id, err)
		}
		return nil
	})
	if err != nil {
		return models.MarathonConfig{}, err
	}
	return Get(ctx, db, id)
}

func deactivateAll(ctx context.Context, tx *sql.Tx) error {
	if _, err := tx.ExecContext(ctx, `UPDATE marathon_config SET is_active = 0 WHERE is_active = 1`); err != nil {
		return fmt.Errorf("deactivate marathons: %w", err)
	}
	return nil
}

func utc(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
