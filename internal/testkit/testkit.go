// Package testkit builds seeded SQLite databases for package tests.
package testkit

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"marathon/pkg/database"
)

// Fixture is the reference data every test database starts with:
//
//	genesis (old, order 1):  3 chapters x 5 verses
//	exodus  (old, order 2):  2 chapters x 4 verses
//	psalms  (old, order 19): 1 chapter  x 20 verses
//	john    (new, order 43): 2 chapters x 3 verses
var Fixture = database.BibleSeed{Books: []database.BookSeed{
	{Key: "john", Name: "John", Testament: "new", Order: 43, Chapters: []int{3, 3}},
	{Key: "genesis", Name: "Genesis", Testament: "old", Order: 1, Chapters: []int{5, 5, 5},
		Texts: map[int][]string{1: {"In the beginning God created the heaven and the earth."}}},
	{Key: "psalms", Name: "Psalms", Testament: "old", Order: 19, Chapters: []int{20}},
	{Key: "exodus", Name: "Exodus", Testament: "old", Order: 2, Chapters: []int{4, 4}},
}}

// FixtureVerses is the total verse count of Fixture.
const FixtureVerses = 15 + 8 + 20 + 6

// NewDB opens a migrated database under t.TempDir() seeded with Fixture.
func NewDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if err := database.Migrate(db); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if _, err := database.SeedBible(db, Fixture); err != nil {
		t.Fatalf("SeedBible: %v", err)
	}
	return db
}

// AddReader inserts a reader directly and returns its id.
func AddReader(t *testing.T, db *sql.DB, name string) int64 {
	t.Helper()
	res, err := db.Exec(`INSERT INTO readers (uuid, name) VALUES (?, ?)`, uuid.NewString(), name)
	if err != nil {
		t.Fatalf("insert reader %s: %v", name, err)
	}
	id, _ := res.LastInsertId()
	return id
}

// VerseID looks up a verse id by book key, chapter and verse number.
func VerseID(t *testing.T, db *sql.DB, bookKey string, chapter, verse int) int64 {
	t.Helper()
	var id int64
	err := db.QueryRow(`
		SELECT v.id FROM verses v
		JOIN chapters c ON c.id = v.chapter_id
		JOIN books b ON b.id = c.book_id
		WHERE b.key = ? AND c.chapter_number = ? AND v.verse_number = ?`, bookKey, chapter, verse).Scan(&id)
	if err != nil {
		t.Fatalf("verse %s %d:%d: %v", bookKey, chapter, verse, err)
	}
	return id
}

// SetReadAt rewrites read_at for a reader's read rows, for activity-window tests.
func SetReadAt(t *testing.T, db *sql.DB, readerID int64, at time.Time) {
	t.Helper()
	if _, err := db.Exec(`UPDATE reading_progress SET read_at = ? WHERE reader_id = ? AND is_read = 1`, at.UTC(), readerID); err != nil {
		t.Fatalf("set read_at: %v", err)
	}
}
