package bible

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marathon/internal/apperr"
	"marathon/pkg/database"
	"marathon/pkg/models"
)

// VerseRef locates a verse in the book/chapter hierarchy.
type VerseRef struct {
	VerseID     int64
	VerseNumber int
	ChapterID   int64
	BookID      int64
}

// ListBooks returns books in canonical order, optionally filtered by testament.
func ListBooks(ctx context.Context, db database.DBTX, testament string) ([]models.Book, error) {
	q := `SELECT id, key, name, testament, order_index, total_chapters FROM books WHERE 1=1`
	args := []any{}

	if testament != "" {
		if testament != models.TestamentOld && testament != models.TestamentNew {
			return nil, apperr.Validation("bible.ListBooks", "testament must be %q or %q", models.TestamentOld, models.TestamentNew)
		}
		q += " AND testament = ?"
		args = append(args, testament)
	}
	q += " ORDER BY order_index"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list books: %w", err)
	}
	defer rows.Close()

	res := []models.Book{}
	for rows.Next() {
		var b models.Book
		if err := rows.Scan(&b.ID, &b.Key, &b.Name, &b.Testament, &b.OrderIndex, &b.TotalChapters); err != nil {
			return nil, fmt.Errorf("scan book: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

func GetBookByKey(ctx context.Context, db database.DBTX, key string) (models.Book, error) {
	var b models.Book
	err := db.QueryRowContext(ctx, `SELECT id, key, name, testament, order_index, total_chapters FROM books WHERE key = ?`, key).
		Scan(&b.ID, &b.Key, &b.Name, &b.Testament, &b.OrderIndex, &b.TotalChapters)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Book{}, apperr.NotFound("bible.GetBookByKey", "book %q not found", key)
	}
	if err != nil {
		return models.Book{}, fmt.Errorf("get book %s: %w", key, err)
	}
	return b, nil
}

// GetChapter resolves a chapter by book key and number, without its verses.
func GetChapter(ctx context.Context, db database.DBTX, bookKey string, number int) (models.Book, models.Chapter, error) {
	b, err := GetBookByKey(ctx, db, bookKey)
	if err != nil {
		return models.Book{}, models.Chapter{}, err
	}

	var ch models.Chapter
	err = db.QueryRowContext(ctx, `
		SELECT id, book_id, chapter_number, total_verses, estimated_reading_time
		FROM chapters WHERE book_id = ? AND chapter_number = ?`, b.ID, number).
		Scan(&ch.ID, &ch.BookID, &ch.ChapterNumber, &ch.TotalVerses, &ch.EstimatedReadingTime)
	if errors.Is(err, sql.ErrNoRows) {
		return b, models.Chapter{}, apperr.NotFound("bible.GetChapter", "chapter %d of %q not found", number, bookKey)
	}
	if err != nil {
		return b, models.Chapter{}, fmt.Errorf("get chapter %s %d: %w", bookKey, number, err)
	}
	return b, ch, nil
}

// GetChapterWithVerses is GetChapter plus the ordered verse list.
func GetChapterWithVerses(ctx context.Context, db database.DBTX, bookKey string, number int) (models.Book, models.Chapter, error) {
	b, ch, err := GetChapter(ctx, db, bookKey, number)
	if err != nil {
		return b, ch, err
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, chapter_id, verse_number, text, word_count
		FROM verses WHERE chapter_id = ? ORDER BY verse_number`, ch.ID)
	if err != nil {
		return b, ch, fmt.Errorf("list verses: %w", err)
	}
	defer rows.Close()

	ch.Verses = []models.Verse{}
	for rows.Next() {
		var v models.Verse
		if err := rows.Scan(&v.ID, &v.ChapterID, &v.VerseNumber, &v.Text, &v.WordCount); err != nil {
			return b, ch, fmt.Errorf("scan verse: %w", err)
		}
		ch.Verses = append(ch.Verses, v)
	}
	return b, ch, rows.Err()
}

func GetVerse(ctx context.Context, db database.DBTX, verseID int64) (VerseRef, error) {
	var ref VerseRef
	err := db.QueryRowContext(ctx, `
		SELECT v.id, v.verse_number, c.id, c.book_id
		FROM verses v JOIN chapters c ON c.id = v.chapter_id
		WHERE v.id = ?`, verseID).
		Scan(&ref.VerseID, &ref.VerseNumber, &ref.ChapterID, &ref.BookID)
	if errors.Is(err, sql.ErrNoRows) {
		return VerseRef{}, apperr.NotFound("bible.GetVerse", "verse %d not found", verseID)
	}
	if err != nil {
		return VerseRef{}, fmt.Errorf("get verse %d: %w", verseID, err)
	}
	return ref, nil
}

// VerseIDs maps verse number to verse id for one chapter.
func VerseIDs(ctx context.Context, db database.DBTX, chapterID int64) (map[int]int64, error) {
	rows, err := db.QueryContext(ctx, `SELECT verse_number, id FROM verses WHERE chapter_id = ?`, chapterID)
	if err != nil {
		return nil, fmt.Errorf("list verse ids: %w", err)
	}
	defer rows.Close()

	ids := make(map[int]int64)
	for rows.Next() {
		var n int
		var id int64
		if err := rows.Scan(&n, &id); err != nil {
			return nil, fmt.Errorf("scan verse id: %w", err)
		}
		ids[n] = id
	}
	return ids, rows.Err()
}
