package progress

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"marathon/pkg/database"
)

// Row is one flattened reading_progress entry with enough context for a
// client to recompute chapter-level completion on its own.
type Row struct {
	ID            int64      `json:"id"`
	ReaderID      int64      `json:"reader_id"`
	ReaderName    string     `json:"reader_name"`
	VerseID       int64      `json:"verse_id"`
	VerseNumber   int        `json:"verse_number"`
	ChapterID     int64      `json:"chapter_id"`
	ChapterNumber int        `json:"chapter_number"`
	TotalVerses   int        `json:"total_verses"`
	BookID        int64      `json:"book_id"`
	BookKey       string     `json:"book_key"`
	IsRead        bool       `json:"is_read"`
	ReadAt        *time.Time `json:"read_at"`
	Notes         *string    `json:"notes"`
}

type Filter struct {
	ReaderID int64
	BookKey  string
	OnlyRead bool
}

func ListAll(ctx context.Context, db database.DBTX, f Filter) ([]Row, error) {
	q := `SELECT rp.id, rp.reader_id, r.name, rp.verse_id, v.verse_number,
	             rp.chapter_id, c.chapter_number, c.total_verses, rp.book_id, b.key,
	             rp.is_read, rp.read_at, rp.notes
	      FROM reading_progress rp
	      JOIN readers r ON r.id = rp.reader_id
	      JOIN verses v ON v.id = rp.verse_id
	      JOIN chapters c ON c.id = rp.chapter_id
	      JOIN books b ON b.id = rp.book_id
	      WHERE 1=1`
	args := []any{}

	if f.ReaderID > 0 {
		q += " AND rp.reader_id = ?"
		args = append(args, f.ReaderID)
	}
	if f.BookKey != "" {
		q += " AND b.key = ?"
		args = append(args, f.BookKey)
	}
	if f.OnlyRead {
		q += " AND rp.is_read = 1"
	}
	q += " ORDER BY b.order_index, c.chapter_number, v.verse_number, r.name"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list progress: %w", err)
	}
	defer rows.Close()

	res := []Row{}
	for rows.Next() {
		var p Row
		var readAt sql.NullTime
		var notes sql.NullString
		if err := rows.Scan(&p.ID, &p.ReaderID, &p.ReaderName, &p.VerseID, &p.VerseNumber,
			&p.ChapterID, &p.ChapterNumber, &p.TotalVerses, &p.BookID, &p.BookKey,
			&p.IsRead, &readAt, &notes); err != nil {
			return nil, fmt.Errorf("scan progress: %w", err)
		}
		if readAt.Valid {
			t := readAt.Time.UTC()
			p.ReadAt = &t
		}
		if notes.Valid {
			p.Notes = &notes.String
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
