package models

import "time"

const (
	TestamentOld = "old"
	TestamentNew = "new"
)

// books table
type Book struct {
	ID            int64  `json:"id"`
	Key           string `json:"key"`
	Name          string `json:"name"`
	Testament     string `json:"testament"`
	OrderIndex    int    `json:"order_index"`
	TotalChapters int    `json:"total_chapters"`
}

// chapters table
type Chapter struct {
	ID                   int64   `json:"id"`
	BookID               int64   `json:"book_id"`
	ChapterNumber        int     `json:"chapter_number"`
	TotalVerses          int     `json:"total_verses"`
	EstimatedReadingTime int     `json:"estimated_reading_time"` // minutes
	Verses               []Verse `json:"verses,omitempty"`
}

// verses table
type Verse struct {
	ID          int64  `json:"id"`
	ChapterID   int64  `json:"chapter_id"`
	VerseNumber int    `json:"verse_number"`
	Text        string `json:"text"`
	WordCount   int    `json:"word_count"`
}

// readers table. TotalChaptersRead / TotalVersesRead are a cache kept by
// reader.RecomputeCounters; stats.Readers is the live source.
type Reader struct {
	ID                int64     `json:"id"`
	UUID              string    `json:"uuid"`
	Name              string    `json:"name"`
	Email             *string   `json:"email"`
	AvatarColor       string    `json:"avatar_color"`
	IsActive          bool      `json:"is_active"`
	ReadingSpeedWPM   int       `json:"reading_speed_wpm"`
	TotalChaptersRead int       `json:"total_chapters_read"`
	TotalVersesRead   int       `json:"total_verses_read"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// reading_progress table
type ReadingProgress struct {
	ID        int64      `json:"id"`
	ReaderID  int64      `json:"reader_id"`
	VerseID   int64      `json:"verse_id"`
	ChapterID int64      `json:"chapter_id"`
	BookID    int64      `json:"book_id"`
	IsRead    bool       `json:"is_read"`
	ReadAt    *time.Time `json:"read_at"`
	Notes     *string    `json:"notes"`
}

// marathon_config table
type MarathonConfig struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	IsActive          bool       `json:"is_active"`
	Description       string     `json:"description"`
	TotalParticipants int        `json:"total_participants"`
}

// ProgressEvent is pushed to live feed subscribers after every progress write.
type ProgressEvent struct {
	Type          string `json:"type"` // verse_marked, chapter_marked, chapter_unmarked
	ReaderID      int64  `json:"reader_id"`
	ReaderName    string `json:"reader_name,omitempty"`
	BookKey       string `json:"book_key,omitempty"`
	ChapterNumber int    `json:"chapter_number,omitempty"`
	VerseID       int64  `json:"verse_id,omitempty"`
	IsRead        bool   `json:"is_read"`
	Count         int    `json:"count"`
	Timestamp     int64  `json:"timestamp"`
}
