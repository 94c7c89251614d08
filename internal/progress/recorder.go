package progress

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"

	"marathon/internal/apperr"
	"marathon/internal/bible"
	"marathon/internal/clock"
	"marathon/internal/reader"
	"marathon/pkg/database"
	"marathon/pkg/models"
)

// Recorder owns every write to reading_progress. Each mutation recomputes the
// reader's cached counters in the same transaction and then publishes an event.
type Recorder struct {
	db     *sql.DB
	clock  clock.Clock
	events chan<- models.ProgressEvent
}

// New returns a Recorder. events may be nil when nobody listens.
func New(db *sql.DB, clk clock.Clock, events chan<- models.ProgressEvent) *Recorder {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Recorder{db: db, clock: clk, events: events}
}

type MarkVerseInput struct {
	ReaderID int64
	VerseID  int64
	IsRead   bool
	Notes    *string
}

type MarkVerseResult struct {
	Progress models.ReadingProgress `json:"progress"`
	Counts   reader.Counts          `json:"counts"`
}

// ChapterRef names one reader's slice of a chapter.
type ChapterRef struct {
	ReaderID      int64
	BookKey       string
	ChapterNumber int
}

type VerseError struct {
	VerseNumber int    `json:"verse_number"`
	Error       string `json:"error"`
}

type ChapterResult struct {
	ReaderID      int64         `json:"reader_id"`
	BookKey       string        `json:"book_key"`
	ChapterNumber int           `json:"chapter_number"`
	Total         int           `json:"total"`
	Succeeded     int           `json:"succeeded"`
	Failed        int           `json:"failed"`
	Errors        []VerseError  `json:"errors"`
	Counts        reader.Counts `json:"counts"`
}

const upsertProgress = `
	INSERT INTO reading_progress (reader_id, verse_id, chapter_id, book_id, is_read, read_at, notes)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(reader_id, verse_id)
	DO UPDATE SET is_read = excluded.is_read,
	              read_at = CASE
	                  WHEN excluded.is_read = 0 THEN NULL
	                  WHEN reading_progress.is_read = 1 THEN reading_progress.read_at
	                  ELSE excluded.read_at
	              END,
	              notes = COALESCE(excluded.notes, reading_progress.notes),
	              updated_at = CURRENT_TIMESTAMP`

// MarkVerse upserts one reader/verse row. read_at is stamped on the
// transition to read, kept on a repeated mark and cleared on unmark; notes
// are only replaced when new ones are given.
func (r *Recorder) MarkVerse(ctx context.Context, in MarkVerseInput) (MarkVerseResult, error) {
	var out MarkVerseResult
	var rd models.Reader
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if rd, err = reader.Get(ctx, tx, in.ReaderID); err != nil {
			return err
		}
		ref, err := bible.GetVerse(ctx, tx, in.VerseID)
		if err != nil {
			return err
		}
		if err := r.upsert(ctx, tx, rd.ID, ref, in.IsRead, in.Notes); err != nil {
			return err
		}
		if out.Progress, err = getRow(ctx, tx, rd.ID, ref.VerseID); err != nil {
			return err
		}
		out.Counts, err = reader.RecomputeCounters(ctx, tx, rd.ID)
		return err
	})
	if err != nil {
		return MarkVerseResult{}, err
	}

	r.publish(models.ProgressEvent{
		Type:       "verse_marked",
		ReaderID:   rd.ID,
		ReaderName: rd.Name,
		VerseID:    in.VerseID,
		IsRead:     in.IsRead,
		Count:      1,
	})
	return out, nil
}

// MarkChapter marks every verse 1..total_verses of a chapter as read for one
// reader. It runs in a single transaction with a savepoint per verse: a verse
// that fails is rolled back alone and reported, the rest still commit.
func (r *Recorder) MarkChapter(ctx context.Context, ref ChapterRef, notes *string) (ChapterResult, error) {
	if ref.ChapterNumber <= 0 {
		return ChapterResult{}, apperr.Validation("progress.MarkChapter", "chapter_number must be positive")
	}

	res := ChapterResult{ReaderID: ref.ReaderID, BookKey: ref.BookKey, ChapterNumber: ref.ChapterNumber, Errors: []VerseError{}}
	var rd models.Reader
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if rd, err = reader.Get(ctx, tx, ref.ReaderID); err != nil {
			return err
		}
		book, ch, err := bible.GetChapter(ctx, tx, ref.BookKey, ref.ChapterNumber)
		if err != nil {
			return err
		}
		ids, err := bible.VerseIDs(ctx, tx, ch.ID)
		if err != nil {
			return err
		}

		if notes == nil {
			generated := fmt.Sprintf("%s %d marked as a full chapter by %s", book.Name, ch.ChapterNumber, rd.Name)
			notes = &generated
		}

		res.Total = ch.TotalVerses
		for n := 1; n <= ch.TotalVerses; n++ {
			if err := r.markInSavepoint(ctx, tx, rd.ID, ch, ids, n, notes); err != nil {
				log.Printf("progress: mark %s %d:%d for reader %d: %v", book.Key, ch.ChapterNumber, n, rd.ID, err)
				res.Errors = append(res.Errors, VerseError{VerseNumber: n, Error: apperr.Message(err)})
				continue
			}
			res.Succeeded++
		}
		res.Failed = len(res.Errors)

		res.Counts, err = reader.RecomputeCounters(ctx, tx, rd.ID)
		return err
	})
	if err != nil {
		return ChapterResult{}, err
	}

	if res.Succeeded > 0 {
		r.publish(models.ProgressEvent{
			Type:          "chapter_marked",
			ReaderID:      rd.ID,
			ReaderName:    rd.Name,
			BookKey:       ref.BookKey,
			ChapterNumber: ref.ChapterNumber,
			IsRead:        true,
			Count:         res.Succeeded,
		})
	}
	return res, nil
}

func (r *Recorder) markInSavepoint(ctx context.Context, tx *sql.Tx, readerID int64, ch models.Chapter, ids map[int]int64, n int, notes *string) error {
	if _, err := tx.ExecContext(ctx, `SAVEPOINT mark_verse`); err != nil {
		return fmt.Errorf("savepoint: %w", err)
	}

	err := func() error {
		verseID, ok := ids[n]
		if !ok {
			return apperr.NotFound("progress.MarkChapter", "verse %d does not exist", n)
		}
		return r.upsert(ctx, tx, readerID, bible.VerseRef{VerseID: verseID, VerseNumber: n, ChapterID: ch.ID, BookID: ch.BookID}, true, notes)
	}()
	if err != nil {
		if _, rbErr := tx.ExecContext(ctx, `ROLLBACK TO mark_verse`); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to savepoint: %w", rbErr))
		}
	}
	if _, relErr := tx.ExecContext(ctx, `RELEASE mark_verse`); relErr != nil {
		return errors.Join(err, fmt.Errorf("release savepoint: %w", relErr))
	}
	return err
}

// UnmarkChapter flips one reader's read rows in a chapter back to unread.
// Other readers' rows on the same chapter are untouched. Returns the number
// of verses unmarked.
func (r *Recorder) UnmarkChapter(ctx context.Context, ref ChapterRef) (int, error) {
	if ref.ChapterNumber <= 0 {
		return 0, apperr.Validation("progress.UnmarkChapter", "chapter_number must be positive")
	}

	var n int64
	var rd models.Reader
	err := database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var err error
		if rd, err = reader.Get(ctx, tx, ref.ReaderID); err != nil {
			return err
		}
		_, ch, err := bible.GetChapter(ctx, tx, ref.BookKey, ref.ChapterNumber)
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			UPDATE reading_progress SET is_read = 0, read_at = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE reader_id = ? AND chapter_id = ? AND is_read = 1`, rd.ID, ch.ID)
		if err != nil {
			return fmt.Errorf("unmark chapter: %w", err)
		}
		n, _ = res.RowsAffected()
		_, err = reader.RecomputeCounters(ctx, tx, rd.ID)
		return err
	})
	if err != nil {
		return 0, err
	}

	r.publish(models.ProgressEvent{
		Type:          "chapter_unmarked",
		ReaderID:      rd.ID,
		ReaderName:    rd.Name,
		BookKey:       ref.BookKey,
		ChapterNumber: ref.ChapterNumber,
		IsRead:        false,
		Count:         int(n),
	})
	return int(n), nil
}

func (r *Recorder) upsert(ctx context.Context, tx *sql.Tx, readerID int64, ref bible.VerseRef, isRead bool, notes *string) error {
	var readAt any
	if isRead {
		readAt = r.clock.Now().UTC()
	}
	if _, err := tx.ExecContext(ctx, upsertProgress, readerID, ref.VerseID, ref.ChapterID, ref.BookID, isRead, readAt, notes); err != nil {
		return fmt.Errorf("upsert progress reader=%d verse=%d: %w", readerID, ref.VerseID, err)
	}
	return nil
}

func getRow(ctx context.Context, db database.DBTX, readerID, verseID int64) (models.ReadingProgress, error) {
	var p models.ReadingProgress
	var readAt sql.NullTime
	var notes sql.NullString
	err := db.QueryRowContext(ctx, `
		SELECT id, reader_id, verse_id, chapter_id, book_id, is_read, read_at, notes
		FROM reading_progress WHERE reader_id = ? AND verse_id = ?`, readerID, verseID).
		Scan(&p.ID, &p.ReaderID, &p.VerseID, &p.ChapterID, &p.BookID, &p.IsRead, &readAt, &notes)
	if err != nil {
		return models.ReadingProgress{}, fmt.Errorf("get progress reader=%d verse=%d: %w", readerID, verseID, err)
	}
	if readAt.Valid {
		t := readAt.Time.UTC()
		p.ReadAt = &t
	}
	if notes.Valid {
		p.Notes = &notes.String
	}
	return p, nil
}

func (r *Recorder) publish(evt models.ProgressEvent) {
	if r.events == nil {
		return
	}
	evt.Timestamp = r.clock.Now().Unix()

	// never block a write on a slow feed
	select {
	case r.events <- evt:
	default:
		log.Println("warn: progress event channel full, drop event")
	}
}
