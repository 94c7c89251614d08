package database

import (
	"database/sql"
	"fmt"
)

func Migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS books (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			testament TEXT NOT NULL CHECK (testament IN ('old', 'new')),
			order_index INTEGER NOT NULL,
			total_chapters INTEGER NOT NULL DEFAULT 0
		);`,
		`CREATE INDEX IF NOT EXISTS idx_books_order ON books(order_index);`,
		`CREATE TABLE IF NOT EXISTS chapters (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			book_id INTEGER NOT NULL,
			chapter_number INTEGER NOT NULL,
			total_verses INTEGER NOT NULL DEFAULT 0,
			estimated_reading_time INTEGER NOT NULL DEFAULT 0, -- minutes
			FOREIGN KEY (book_id) REFERENCES books(id) ON DELETE CASCADE,
			UNIQUE (book_id, chapter_number)
		);`,
		`CREATE TABLE IF NOT EXISTS verses (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chapter_id INTEGER NOT NULL,
			verse_number INTEGER NOT NULL,
			text TEXT NOT NULL DEFAULT '',
			word_count INTEGER NOT NULL DEFAULT 0,
			FOREIGN KEY (chapter_id) REFERENCES chapters(id) ON DELETE CASCADE,
			UNIQUE (chapter_id, verse_number)
		);`,
		`CREATE TABLE IF NOT EXISTS readers (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			uuid TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL UNIQUE COLLATE NOCASE,
			email TEXT,
			avatar_color TEXT NOT NULL DEFAULT '#3B82F6',
			is_active BOOLEAN NOT NULL DEFAULT 1,
			reading_speed_wpm INTEGER NOT NULL DEFAULT 200,
			total_chapters_read INTEGER NOT NULL DEFAULT 0,
			total_verses_read INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
		);`,
		`CREATE TABLE IF NOT EXISTS reading_progress (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			reader_id INTEGER NOT NULL,
			verse_id INTEGER NOT NULL,
			chapter_id INTEGER NOT NULL,
			book_id INTEGER NOT NULL,
			is_read BOOLEAN NOT NULL DEFAULT 0,
			read_at DATETIME,
			notes TEXT,
			created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (reader_id) REFERENCES readers(id) ON DELETE CASCADE,
			FOREIGN KEY (verse_id) REFERENCES verses(id) ON DELETE CASCADE,
			UNIQUE (reader_id, verse_id)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_chapter ON reading_progress(chapter_id, reader_id);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_book ON reading_progress(book_id);`,
		`CREATE INDEX IF NOT EXISTS idx_progress_read_at ON reading_progress(read_at) WHERE is_read = 1;`,
		`CREATE TABLE IF NOT EXISTS marathon_config (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			start_time DATETIME,
			end_time DATETIME,
			is_active BOOLEAN NOT NULL DEFAULT 0,
			description TEXT NOT NULL DEFAULT '',
			total_participants INTEGER NOT NULL DEFAULT 0
		);`,
		// at most one active marathon
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_marathon_single_active ON marathon_config(is_active) WHERE is_active = 1;`,
	}

	for i, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("migrate stmt %d: %w", i, err)
		}
	}
	return nil
}
