package reader

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"

	"github.com/google/uuid"

	"marathon/internal/apperr"
	"marathon/pkg/database"
	"marathon/pkg/models"
)

var avatarPalette = []string{"#3B82F6", "#10B981", "#F59E0B", "#EF4444", "#8B5CF6", "#EC4899", "#14B8A6", "#F97316"}

const defaultReadingSpeed = 200

// Input carries the editable profile fields. Zero values mean "not provided":
// Create falls back to defaults, Update keeps the stored value.
type Input struct {
	Name            string
	Email           *string
	AvatarColor     string
	IsActive        *bool
	ReadingSpeedWPM int
}

const selectReader = `SELECT id, uuid, name, email, avatar_color, is_active, reading_speed_wpm,
	total_chapters_read, total_verses_read, created_at, updated_at FROM readers`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanReader(s rowScanner) (models.Reader, error) {
	var r models.Reader
	err := s.Scan(&r.ID, &r.UUID, &r.Name, &r.Email, &r.AvatarColor, &r.IsActive, &r.ReadingSpeedWPM,
		&r.TotalChaptersRead, &r.TotalVersesRead, &r.CreatedAt, &r.UpdatedAt)
	return r, err
}

func Create(ctx context.Context, db database.DBTX, in Input) (models.Reader, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return models.Reader{}, apperr.Validation("reader.Create", "name is required")
	}
	color := in.AvatarColor
	if color == "" {
		color = pickColor(name)
	}
	speed := in.ReadingSpeedWPM
	if speed <= 0 {
		speed = defaultReadingSpeed
	}
	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO readers (uuid, name, email, avatar_color, is_active, reading_speed_wpm)
		VALUES (?, ?, ?, ?, ?, ?)`, uuid.NewString(), name, in.Email, color, active, speed)
	if database.IsUniqueViolation(err) {
		return models.Reader{}, apperr.Conflict("reader.Create", err, "reader %q already exists", name)
	}
	if err != nil {
		return models.Reader{}, fmt.Errorf("insert reader: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Reader{}, fmt.Errorf("reader id: %w", err)
	}
	return Get(ctx, db, id)
}

func Update(ctx context.Context, db database.DBTX, id int64, in Input) (models.Reader, error) {
	res, err := db.ExecContext(ctx, `
		UPDATE readers SET
			name = COALESCE(NULLIF(?, ''), name),
			email = COALESCE(?, email),
			avatar_color = COALESCE(NULLIF(?, ''), avatar_color),
			is_active = COALESCE(?, is_active),
			reading_speed_wpm = CASE WHEN ? > 0 THEN ? ELSE reading_speed_wpm END,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		strings.TrimSpace(in.Name), in.Email, in.AvatarColor, in.IsActive, in.ReadingSpeedWPM, in.ReadingSpeedWPM, id)
	if database.IsUniqueViolation(err) {
		return models.Reader{}, apperr.Conflict("reader.Update", err, "reader %q already exists", in.Name)
	}
	if err != nil {
		return models.Reader{}, fmt.Errorf("update reader %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.Reader{}, apperr.NotFound("reader.Update", "reader %d not found", id)
	}
	return Get(ctx, db, id)
}

// Delete removes a reader; reading_progress rows go with it (ON DELETE CASCADE).
func Delete(ctx context.Context, db database.DBTX, id int64) error {
	res, err := db.ExecContext(ctx, `DELETE FROM readers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete reader %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.NotFound("reader.Delete", "reader %d not found", id)
	}
	return nil
}

func Get(ctx context.Context, db database.DBTX, id int64) (models.Reader, error) {
	r, err := scanReader(db.QueryRowContext(ctx, selectReader+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reader{}, apperr.NotFound("reader.Get", "reader %d not found", id)
	}
	if err != nil {
		return models.Reader{}, fmt.Errorf("get reader %d: %w", id, err)
	}
	return r, nil
}

// GetByName matches case-insensitively (the column is COLLATE NOCASE).
func GetByName(ctx context.Context, db database.DBTX, name string) (models.Reader, error) {
	name = strings.TrimSpace(name)
	r, err := scanReader(db.QueryRowContext(ctx, selectReader+` WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return models.Reader{}, apperr.NotFound("reader.GetByName", "reader %q not found", name)
	}
	if err != nil {
		return models.Reader{}, fmt.Errorf("get reader %q: %w", name, err)
	}
	return r, nil
}

// Resolve finds a reader by id when one is given, otherwise by display name.
// Write paths only ever see the resulting id.
func Resolve(ctx context.Context, db database.DBTX, id int64, name string) (models.Reader, error) {
	switch {
	case id > 0:
		return Get(ctx, db, id)
	case strings.TrimSpace(name) != "":
		return GetByName(ctx, db, name)
	default:
		return models.Reader{}, apperr.Validation("reader.Resolve", "reader_id or reader_name is required")
	}
}

func List(ctx context.Context, db database.DBTX) ([]models.Reader, error) {
	rows, err := db.QueryContext(ctx, selectReader+` ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list readers: %w", err)
	}
	defer rows.Close()

	res := []models.Reader{}
	for rows.Next() {
		r, err := scanReader(rows)
		if err != nil {
			return nil, fmt.Errorf("scan reader: %w", err)
		}
		res = append(res, r)
	}
	return res, rows.Err()
}

func pickColor(name string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(strings.ToLower(name)))
	return avatarPalette[h.Sum32()%uint32(len(avatarPalette))]
}
