package main

import (
	"testing"
	"time"

	"marathon/pkg/models"
)

func TestFormatEvent(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).Unix()
	tests := []struct {
		evt  models.ProgressEvent
		want string
	}{
		{
			models.ProgressEvent{Type: "chapter_marked", ReaderName: "Juan", BookKey: "genesis", ChapterNumber: 1, Count: 31, Timestamp: ts},
			"2026-03-01T12:00:00Z  Juan read genesis 1 (31 verses)",
		},
		{
			models.ProgressEvent{Type: "verse_marked", ReaderName: "Ana", VerseID: 7, IsRead: false, Timestamp: ts},
			"2026-03-01T12:00:00Z  Ana marked verse 7 unread",
		},
		{
			models.ProgressEvent{Type: "chapter_unmarked", ReaderName: "Ana", BookKey: "ruth", ChapterNumber: 2, Count: 23, Timestamp: ts},
			"2026-03-01T12:00:00Z  Ana unmarked ruth 2 (23 verses)",
		},
	}
	for _, tt := range tests {
		if got := formatEvent(tt.evt); got != tt.want {
			t.Errorf("formatEvent(%s) = %q, want %q", tt.evt.Type, got, tt.want)
		}
	}
}
