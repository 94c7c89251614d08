// Package realtime answers "who is reading right now" and "how fast".
//
// One trailing window (default one hour) drives both the active-reader list
// and the pace: pace is the number of verses marked read inside the window
// divided by the window length in hours.
package realtime

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"
	"time"

	"marathon/internal/clock"
	"marathon/internal/marathon"
	"marathon/internal/stats"
	"marathon/pkg/database"
)

const DefaultWindow = time.Hour

type Tracker struct {
	db     database.DBTX
	clock  clock.Clock
	window time.Duration
}

func New(db database.DBTX, clk clock.Clock, window time.Duration) *Tracker {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if window <= 0 {
		window = DefaultWindow
	}
	return &Tracker{db: db, clock: clk, window: window}
}

func (t *Tracker) Window() time.Duration { return t.window }

type ActiveReader struct {
	ReaderID         int64     `json:"reader_id"`
	UUID             string    `json:"uuid"`
	Name             string    `json:"name"`
	AvatarColor      string    `json:"avatar_color"`
	RecentVersesRead int       `json:"recent_verses_read"`
	LastActivity     time.Time `json:"last_activity"`
}

type MarathonWindow struct {
	ID             int64      `json:"id"`
	Name           string     `json:"name"`
	StartTime      *time.Time `json:"start_time"`
	EndTime        *time.Time `json:"end_time"`
	ElapsedHours   *float64   `json:"elapsed_hours"`
	RemainingHours *float64   `json:"remaining_hours"`
	// RequiredPace is the verses/hour needed to finish by EndTime.
	RequiredPace *float64 `json:"required_pace_per_hour"`
	OnTrack      *bool    `json:"on_track"`
}

type Stats struct {
	WindowMinutes        int     `json:"window_minutes"`
	ActiveReaders        int     `json:"active_readers"`
	VersesReadInWindow   int     `json:"verses_read_in_window"`
	PacePerHour          float64 `json:"pace_per_hour"`
	TotalVerses          int     `json:"total_verses"`
	VersesRead           int     `json:"verses_read"`
	RemainingVerses      int     `json:"remaining_verses"`
	CompletionPercentage float64 `json:"completion_percentage"`
	// nil when the pace is zero: the finish is indeterminate
	EstimatedHoursRemaining *float64        `json:"estimated_hours_remaining"`
	EstimatedCompletionAt   *time.Time      `json:"estimated_completion_at"`
	Marathon                *MarathonWindow `json:"marathon"`
	GeneratedAt             time.Time       `json:"generated_at"`
}

// ActiveReaders lists readers with at least one verse read inside the
// window, most recently active first.
func (t *Tracker) ActiveReaders(ctx context.Context) ([]ActiveReader, error) {
	cutoff := t.clock.Now().Add(-t.window).UTC()

	rows, err := t.db.QueryContext(ctx, `
		SELECT r.id, r.uuid, r.name, r.avatar_color, COUNT(*), MAX(rp.read_at)
		FROM reading_progress rp
		JOIN readers r ON r.id = rp.reader_id
		WHERE rp.is_read = 1 AND rp.read_at >= ?
		GROUP BY r.id
		ORDER BY MAX(rp.read_at) DESC`, cutoff)
	if err != nil {
		return nil, fmt.Errorf("active readers: %w", err)
	}
	defer rows.Close()

	res := []ActiveReader{}
	for rows.Next() {
		var a ActiveReader
		var last sql.NullString
		if err := rows.Scan(&a.ReaderID, &a.UUID, &a.Name, &a.AvatarColor, &a.RecentVersesRead, &last); err != nil {
			return nil, fmt.Errorf("scan active reader: %w", err)
		}
		if last.Valid {
			if a.LastActivity, err = database.ParseTime(last.String); err != nil {
				return nil, fmt.Errorf("reader %d last activity: %w", a.ReaderID, err)
			}
		}
		res = append(res, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(res, func(i, j int) bool { return res[i].LastActivity.After(res[j].LastActivity) })
	return res, nil
}

// Stats combines the window activity with overall progress into a pace and
// a projected finish.
func (t *Tracker) Stats(ctx context.Context) (Stats, error) {
	now := t.clock.Now().UTC()
	cutoff := now.Add(-t.window)

	s := Stats{WindowMinutes: int(t.window / time.Minute), GeneratedAt: now}
	err := t.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COUNT(DISTINCT reader_id)
		FROM reading_progress
		WHERE is_read = 1 AND read_at >= ?`, cutoff).
		Scan(&s.VersesReadInWindow, &s.ActiveReaders)
	if err != nil {
		return Stats{}, fmt.Errorf("window activity: %w", err)
	}

	g, err := stats.GetGeneral(ctx, t.db)
	if err != nil {
		return Stats{}, err
	}
	s.TotalVerses = g.TotalVerses
	s.VersesRead = g.VersesRead
	s.RemainingVerses = max(g.TotalVerses-g.VersesRead, 0)
	s.CompletionPercentage = g.CompletionPercentage
	s.PacePerHour = Pace(s.VersesReadInWindow, t.window)

	if hours, ok := HoursRemaining(s.RemainingVerses, s.PacePerHour); ok {
		s.EstimatedHoursRemaining = &hours
		at := now.Add(time.Duration(hours * float64(time.Hour))).Truncate(time.Second)
		s.EstimatedCompletionAt = &at
	}

	m, err := marathon.Active(ctx, t.db)
	if err != nil {
		return Stats{}, err
	}
	if m != nil {
		mw := &MarathonWindow{ID: m.ID, Name: m.Name, StartTime: m.StartTime, EndTime: m.EndTime}
		if m.StartTime != nil && now.After(*m.StartTime) {
			elapsed := round2(now.Sub(*m.StartTime).Hours())
			mw.ElapsedHours = &elapsed
		}
		if m.EndTime != nil {
			left := round2(math.Max(m.EndTime.Sub(now).Hours(), 0))
			mw.RemainingHours = &left
			if left > 0 {
				required := round2(float64(s.RemainingVerses) / left)
				onTrack := s.PacePerHour >= required
				mw.RequiredPace = &required
				mw.OnTrack = &onTrack
			}
		}
		s.Marathon = mw
	}
	return s, nil
}

// Pace is verses per hour over window; never negative.
func Pace(verses int, window time.Duration) float64 {
	if verses <= 0 || window <= 0 {
		return 0
	}
	return round2(float64(verses) / window.Hours())
}

// HoursRemaining projects the time to read remaining verses at pace. ok is
// false when pace is zero and the finish cannot be projected.
func HoursRemaining(remaining int, pace float64) (hours float64, ok bool) {
	if remaining <= 0 {
		return 0, true
	}
	if pace <= 0 {
		return 0, false
	}
	return round2(float64(remaining) / pace), true
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
