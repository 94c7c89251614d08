package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// words per verse assumed when a seed file carries no verse text
const defaultWordsPerVerse = 25

const readingWPM = 200

type BibleSeed struct {
	Books []BookSeed `json:"books" yaml:"books"`
}

type BookSeed struct {
	Key       string `json:"key" yaml:"key"`
	Name      string `json:"name" yaml:"name"`
	Testament string `json:"testament" yaml:"testament"`
	Order     int    `json:"order" yaml:"order"`
	// Chapters lists the verse count of each chapter, in order.
	Chapters []int `json:"chapters" yaml:"chapters"`
	// Texts optionally maps a chapter number to its verse texts.
	Texts map[int][]string `json:"texts,omitempty" yaml:"texts,omitempty"`
}

// LoadBibleFromFile reads a seed file; .yaml/.yml is parsed as YAML, anything else as JSON.
func LoadBibleFromFile(path string) (BibleSeed, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return BibleSeed{}, fmt.Errorf("read bible seed: %w", err)
	}

	var seed BibleSeed
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(b, &seed); err != nil {
			return BibleSeed{}, fmt.Errorf("unmarshal bible yaml: %w", err)
		}
	default:
		if err := json.Unmarshal(b, &seed); err != nil {
			return BibleSeed{}, fmt.Errorf("unmarshal bible json: %w", err)
		}
	}

	for i, bk := range seed.Books {
		if bk.Key == "" || bk.Name == "" {
			return BibleSeed{}, fmt.Errorf("book #%d: key and name required", i+1)
		}
		if bk.Testament != "old" && bk.Testament != "new" {
			return BibleSeed{}, fmt.Errorf("book %s: testament must be old or new, got %q", bk.Key, bk.Testament)
		}
		if bk.Order == 0 {
			seed.Books[i].Order = i + 1
		}
	}
	return seed, nil
}

// SeedBible inserts books, chapters and verses that are not present yet.
// Returns the number of verses inserted.
func SeedBible(db *sql.DB, seed BibleSeed) (int, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	bookStmt, err := tx.Prepare(`
		INSERT INTO books (key, name, testament, order_index, total_chapters)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET name=excluded.name,
		                               testament=excluded.testament,
		                               order_index=excluded.order_index,
		                               total_chapters=excluded.total_chapters
		RETURNING id;
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert book: %w", err)
	}
	defer bookStmt.Close()

	chapterStmt, err := tx.Prepare(`
		INSERT INTO chapters (book_id, chapter_number, total_verses, estimated_reading_time)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(book_id, chapter_number) DO UPDATE SET total_verses=excluded.total_verses,
		                                                   estimated_reading_time=excluded.estimated_reading_time
		RETURNING id;
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert chapter: %w", err)
	}
	defer chapterStmt.Close()

	verseStmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO verses (chapter_id, verse_number, text, word_count)
		VALUES (?, ?, ?, ?);
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare insert verse: %w", err)
	}
	defer verseStmt.Close()

	inserted := 0
	for _, bk := range seed.Books {
		var bookID int64
		if err := bookStmt.QueryRow(bk.Key, bk.Name, bk.Testament, bk.Order, len(bk.Chapters)).Scan(&bookID); err != nil {
			return 0, fmt.Errorf("insert book %s: %w", bk.Key, err)
		}

		for i, verseCount := range bk.Chapters {
			number := i + 1
			texts := bk.Texts[number]

			words := 0
			for v := 1; v <= verseCount; v++ {
				words += wordCount(texts, v)
			}

			var chapterID int64
			if err := chapterStmt.QueryRow(bookID, number, verseCount, readingMinutes(words)).Scan(&chapterID); err != nil {
				return 0, fmt.Errorf("insert chapter %s %d: %w", bk.Key, number, err)
			}

			for v := 1; v <= verseCount; v++ {
				text := ""
				if v <= len(texts) {
					text = texts[v-1]
				}
				res, err := verseStmt.Exec(chapterID, v, text, wordCount(texts, v))
				if err != nil {
					return 0, fmt.Errorf("insert verse %s %d:%d: %w", bk.Key, number, v, err)
				}
				aff, _ := res.RowsAffected()
				if aff > 0 {
					inserted++
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit tx: %w", err)
	}
	return inserted, nil
}

func wordCount(texts []string, verse int) int {
	if verse <= len(texts) && strings.TrimSpace(texts[verse-1]) != "" {
		return len(strings.Fields(texts[verse-1]))
	}
	return defaultWordsPerVerse
}

func readingMinutes(words int) int {
	if words == 0 {
		return 0
	}
	return int(math.Ceil(float64(words) / readingWPM))
}
