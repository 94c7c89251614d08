package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	gorillaws "github.com/gorilla/websocket"

	"marathon/internal/progress"
	"marathon/internal/realtime"
	"marathon/internal/stats"
	"marathon/internal/testkit"
	"marathon/internal/websocket"
	"marathon/pkg/models"
)

type stepClock struct{ now time.Time }

func (c *stepClock) Now() time.Time { return c.now }

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	clock  *stepClock
}

func newTestServer(t *testing.T) (*testServer, *sql.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testkit.NewDB(t)
	clk := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	srv := New(db, progress.New(db, clk, nil), realtime.New(db, clk, time.Hour), nil)
	return &testServer{t: t, router: srv.Router(), clock: clk}, db
}

func (s *testServer) do(method, path string, body any) (int, envelope) {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			s.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		s.t.Fatalf("%s %s: decode %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

func (s *testServer) mustDo(method, path string, body any, want int, out any) envelope {
	s.t.Helper()
	code, env := s.do(method, path, body)
	if code != want {
		s.t.Fatalf("%s %s: status %d, want %d (message %q)", method, path, code, want, env.Message)
	}
	if out != nil {
		if err := json.Unmarshal(env.Data, out); err != nil {
			s.t.Fatalf("%s %s: decode data: %v", method, path, err)
		}
	}
	return env
}

func (s *testServer) createReader(name string) models.Reader {
	s.t.Helper()
	var rd models.Reader
	s.mustDo(http.MethodPost, "/readers", gin.H{"name": name}, http.StatusCreated, &rd)
	return rd
}

func (s *testServer) stats() statsPayload {
	s.t.Helper()
	var st statsPayload
	s.mustDo(http.MethodGet, "/stats", nil, http.StatusOK, &st)
	return st
}

func findBook(t *testing.T, books []stats.BookStats, key string) stats.BookStats {
	t.Helper()
	for _, b := range books {
		if b.Key == key {
			return b
		}
	}
	t.Fatalf("book %s missing from stats", key)
	return stats.BookStats{}
}

func findReader(t *testing.T, readers []stats.ReaderStats, name string) stats.ReaderStats {
	t.Helper()
	for _, r := range readers {
		if r.Name == name {
			return r
		}
	}
	t.Fatalf("reader %s missing from stats", name)
	return stats.ReaderStats{}
}

func TestMarkChapterUpdatesAggregates(t *testing.T) {
	s, _ := newTestServer(t)
	juan := s.createReader("Juan")

	var res progress.ChapterResult
	s.mustDo(http.MethodPost, "/progress/chapter",
		gin.H{"reader_name": "Juan", "book_key": "genesis", "chapter_number": 1},
		http.StatusOK, &res)
	if res.Succeeded != 5 || res.Failed != 0 || res.ReaderID != juan.ID {
		t.Fatalf("unexpected chapter result: %+v", res)
	}

	st := s.stats()
	if got := findBook(t, st.Books, "genesis").CompletionPercentage; got != 33.33 {
		t.Errorf("genesis completion = %v, want 33.33", got)
	}
	if st.General.VersesRead != 5 {
		t.Errorf("global verses read = %d, want 5", st.General.VersesRead)
	}
	if st.General.ChaptersCompleted != 1 {
		t.Errorf("chapters completed = %d, want 1", st.General.ChaptersCompleted)
	}

	var got struct {
		Reader models.Reader `json:"reader"`
	}
	s.mustDo(http.MethodGet, fmt.Sprintf("/readers/%d", juan.ID), nil, http.StatusOK, &got)
	if got.Reader.TotalVersesRead != 5 || got.Reader.TotalChaptersRead != 1 {
		t.Errorf("Juan counters = %d verses / %d chapters, want 5 / 1",
			got.Reader.TotalVersesRead, got.Reader.TotalChaptersRead)
	}
}

func TestMarkVerseTwiceIsIdempotent(t *testing.T) {
	s, db := newTestServer(t)
	ana := s.createReader("Ana")
	verse := testkit.VerseID(t, db, "john", 1, 2)

	body := gin.H{"reader_id": ana.ID, "verse_id": verse, "is_read": true}
	var first, second progress.MarkVerseResult
	s.mustDo(http.MethodPost, "/progress", body, http.StatusOK, &first)

	s.clock.now = s.clock.now.Add(10 * time.Minute)
	s.mustDo(http.MethodPost, "/progress", body, http.StatusOK, &second)

	if first.Counts != second.Counts || second.Counts.VersesRead != 1 {
		t.Errorf("counts changed on re-mark: %+v then %+v", first.Counts, second.Counts)
	}
	if first.Progress.ID != second.Progress.ID {
		t.Errorf("re-mark created a new row: %d then %d", first.Progress.ID, second.Progress.ID)
	}
	if second.Progress.ReadAt == nil || !second.Progress.ReadAt.Equal(*first.Progress.ReadAt) {
		t.Errorf("read_at moved on re-mark: %v then %v", first.Progress.ReadAt, second.Progress.ReadAt)
	}

	var rows []progress.Row
	s.mustDo(http.MethodGet, fmt.Sprintf("/progress/all?reader_id=%d", ana.ID), nil, http.StatusOK, &rows)
	if len(rows) != 1 {
		t.Errorf("expected 1 progress row, got %d", len(rows))
	}
}

func TestMarkVerseUnreadClearsReadAt(t *testing.T) {
	s, db := newTestServer(t)
	ana := s.createReader("Ana")
	verse := testkit.VerseID(t, db, "genesis", 2, 1)

	s.mustDo(http.MethodPost, "/progress", gin.H{"reader_id": ana.ID, "verse_id": verse, "notes": "first pass"}, http.StatusOK, nil)

	var res progress.MarkVerseResult
	s.mustDo(http.MethodPost, "/progress", gin.H{"reader_id": ana.ID, "verse_id": verse, "is_read": false}, http.StatusOK, &res)
	if res.Progress.IsRead || res.Progress.ReadAt != nil {
		t.Errorf("expected unread row without read_at, got %+v", res.Progress)
	}
	if res.Progress.Notes == nil || *res.Progress.Notes != "first pass" {
		t.Errorf("notes should survive an update without notes, got %v", res.Progress.Notes)
	}
	if res.Counts.VersesRead != 0 {
		t.Errorf("verses read = %d, want 0", res.Counts.VersesRead)
	}
}

func TestMarkChapterPartialFailure(t *testing.T) {
	s, db := newTestServer(t)
	s.createReader("Juan")

	missing := testkit.VerseID(t, db, "psalms", 1, 10)
	if _, err := db.Exec(`DELETE FROM verses WHERE id = ?`, missing); err != nil {
		t.Fatalf("delete verse: %v", err)
	}

	var res progress.ChapterResult
	s.mustDo(http.MethodPost, "/progress/chapter",
		gin.H{"reader_name": "juan", "book_key": "psalms", "chapter_number": 1},
		http.StatusMultiStatus, &res)

	if res.Total != 20 || res.Succeeded != 19 || res.Failed != 1 {
		t.Fatalf("unexpected result: %+v", res)
	}
	if len(res.Errors) != 1 || res.Errors[0].VerseNumber != 10 || res.Errors[0].Error != "verse 10 does not exist" {
		t.Errorf("unexpected errors: %+v", res.Errors)
	}
	if res.Counts.VersesRead != 19 {
		t.Errorf("verses read = %d, want 19", res.Counts.VersesRead)
	}

	var rows []progress.Row
	s.mustDo(http.MethodGet, "/progress/all?book_key=psalms&only_read=true", nil, http.StatusOK, &rows)
	seen := map[int]bool{}
	for _, r := range rows {
		seen[r.VerseNumber] = true
	}
	for n := 1; n <= 20; n++ {
		if n == 10 {
			continue
		}
		if !seen[n] {
			t.Errorf("verse %d was not kept", n)
		}
	}
}

func TestMarkChapterNothingMarked(t *testing.T) {
	s, db := newTestServer(t)
	s.createReader("Juan")

	if _, err := db.Exec(`
		DELETE FROM verses WHERE chapter_id = (
			SELECT c.id FROM chapters c JOIN books b ON b.id = c.book_id
			WHERE b.key = 'exodus' AND c.chapter_number = 1)`); err != nil {
		t.Fatalf("delete verses: %v", err)
	}

	var res progress.ChapterResult
	s.mustDo(http.MethodPost, "/progress/chapter",
		gin.H{"reader_name": "Juan", "book_key": "exodus", "chapter_number": 1},
		http.StatusUnprocessableEntity, &res)
	if res.Succeeded != 0 || res.Failed != 4 {
		t.Errorf("unexpected result: %+v", res)
	}
}

func TestUnmarkChapterLeavesOtherReaders(t *testing.T) {
	s, _ := newTestServer(t)
	ana := s.createReader("Ana")
	luis := s.createReader("Luis")

	for _, id := range []int64{ana.ID, luis.ID} {
		s.mustDo(http.MethodPost, "/progress/chapter",
			gin.H{"reader_id": id, "book_key": "john", "chapter_number": 1}, http.StatusOK, nil)
	}

	var unmarked struct {
		Unmarked int `json:"unmarked"`
	}
	s.mustDo(http.MethodDelete, "/progress/chapter",
		gin.H{"reader_name": "Ana", "book_key": "john", "chapter_number": 1}, http.StatusOK, &unmarked)
	if unmarked.Unmarked != 3 {
		t.Errorf("unmarked = %d, want 3", unmarked.Unmarked)
	}

	var rows []progress.Row
	s.mustDo(http.MethodGet, fmt.Sprintf("/progress/all?reader_id=%d&only_read=true", luis.ID), nil, http.StatusOK, &rows)
	if len(rows) != 3 {
		t.Fatalf("Luis has %d read rows, want 3", len(rows))
	}
	for _, r := range rows {
		if r.ReadAt == nil || r.Notes == nil {
			t.Errorf("Luis row %d was modified: %+v", r.VerseNumber, r)
		}
	}

	st := s.stats()
	if got := findReader(t, st.Readers, "Ana"); got.VersesRead != 0 || got.CachedVersesRead != 0 {
		t.Errorf("Ana still has progress: %+v", got)
	}
	if got := findReader(t, st.Readers, "Luis"); got.VersesRead != 3 || got.ChaptersCompleted != 1 {
		t.Errorf("Luis progress changed: %+v", got)
	}
}

func TestCountersMatchLiveAfterMixedOperations(t *testing.T) {
	s, db := newTestServer(t)
	ana := s.createReader("Ana")

	s.mustDo(http.MethodPost, "/progress/chapter", gin.H{"reader_id": ana.ID, "book_key": "genesis", "chapter_number": 1}, http.StatusOK, nil)
	s.mustDo(http.MethodPost, "/progress/chapter", gin.H{"reader_id": ana.ID, "book_key": "genesis", "chapter_number": 1}, http.StatusOK, nil)
	s.mustDo(http.MethodPost, "/progress/chapter", gin.H{"reader_id": ana.ID, "book_key": "genesis", "chapter_number": 2}, http.StatusOK, nil)
	s.mustDo(http.MethodDelete, "/progress/chapter", gin.H{"reader_id": ana.ID, "book_key": "genesis", "chapter_number": 1}, http.StatusOK, nil)
	s.mustDo(http.MethodPost, "/progress", gin.H{"reader_id": ana.ID, "verse_id": testkit.VerseID(t, db, "genesis", 1, 3)}, http.StatusOK, nil)

	var got struct {
		Cached struct {
			VersesRead   int `json:"verses_read"`
			ChaptersRead int `json:"chapters_read"`
		} `json:"cached_counts"`
		Live struct {
			VersesRead   int `json:"verses_read"`
			ChaptersRead int `json:"chapters_read"`
		} `json:"live_counts"`
	}
	s.mustDo(http.MethodGet, fmt.Sprintf("/readers/%d", ana.ID), nil, http.StatusOK, &got)
	if got.Cached != got.Live {
		t.Errorf("cached %+v drifted from live %+v", got.Cached, got.Live)
	}
	if got.Live.VersesRead != 6 || got.Live.ChaptersRead != 2 {
		t.Errorf("live counts = %+v, want 6 verses / 2 chapters", got.Live)
	}
}

func TestActiveReadersWindowBoundary(t *testing.T) {
	s, db := newTestServer(t)
	ana := s.createReader("Ana")
	luis := s.createReader("Luis")

	for _, id := range []int64{ana.ID, luis.ID} {
		s.mustDo(http.MethodPost, "/progress/chapter",
			gin.H{"reader_id": id, "book_key": "john", "chapter_number": 2}, http.StatusOK, nil)
	}
	testkit.SetReadAt(t, db, ana.ID, s.clock.now.Add(-59*time.Minute))
	testkit.SetReadAt(t, db, luis.ID, s.clock.now.Add(-61*time.Minute))

	var got struct {
		WindowMinutes int                     `json:"window_minutes"`
		Readers       []realtime.ActiveReader `json:"readers"`
	}
	s.mustDo(http.MethodGet, "/reports/realtime/active-readers", nil, http.StatusOK, &got)
	if got.WindowMinutes != 60 {
		t.Errorf("window = %d minutes, want 60", got.WindowMinutes)
	}
	if len(got.Readers) != 1 || got.Readers[0].Name != "Ana" {
		t.Fatalf("expected only Ana to be active, got %+v", got.Readers)
	}
	if got.Readers[0].RecentVersesRead != 3 {
		t.Errorf("recent verses = %d, want 3", got.Readers[0].RecentVersesRead)
	}
}

func TestRealtimeStats(t *testing.T) {
	s, _ := newTestServer(t)

	var idle realtime.Stats
	s.mustDo(http.MethodGet, "/reports/realtime/stats", nil, http.StatusOK, &idle)
	if idle.PacePerHour != 0 || idle.EstimatedHoursRemaining != nil {
		t.Errorf("idle stats should have no pace or estimate: %+v", idle)
	}
	if idle.TotalVerses != testkit.FixtureVerses {
		t.Errorf("total verses = %d, want %d", idle.TotalVerses, testkit.FixtureVerses)
	}

	ana := s.createReader("Ana")
	s.mustDo(http.MethodPost, "/progress/chapter",
		gin.H{"reader_id": ana.ID, "book_key": "genesis", "chapter_number": 3}, http.StatusOK, nil)

	var busy realtime.Stats
	s.mustDo(http.MethodGet, "/reports/realtime/stats", nil, http.StatusOK, &busy)
	if busy.VersesReadInWindow != 5 || busy.ActiveReaders != 1 || busy.PacePerHour != 5 {
		t.Errorf("unexpected window activity: %+v", busy)
	}
	want := float64(testkit.FixtureVerses-5) / 5
	if busy.EstimatedHoursRemaining == nil || *busy.EstimatedHoursRemaining != want {
		t.Errorf("estimated hours = %v, want %v", busy.EstimatedHoursRemaining, want)
	}
}

func TestReaderErrors(t *testing.T) {
	s, db := newTestServer(t)
	s.createReader("Ana")

	tests := []struct {
		name   string
		method string
		path   string
		body   any
		want   int
	}{
		{"duplicate name", http.MethodPost, "/readers", gin.H{"name": "ana"}, http.StatusConflict},
		{"missing name", http.MethodPost, "/readers", gin.H{}, http.StatusBadRequest},
		{"bad id", http.MethodGet, "/readers/abc", nil, http.StatusBadRequest},
		{"unknown reader", http.MethodGet, "/readers/999", nil, http.StatusNotFound},
		{"mark without reader", http.MethodPost, "/progress", gin.H{"verse_id": 1}, http.StatusBadRequest},
		{"mark unknown reader", http.MethodPost, "/progress", gin.H{"reader_id": 999, "verse_id": testkit.VerseID(t, db, "john", 1, 1)}, http.StatusNotFound},
		{"mark unknown verse", http.MethodPost, "/progress", gin.H{"reader_id": 1, "verse_id": 99999}, http.StatusNotFound},
		{"chapter without reader", http.MethodPost, "/progress/chapter", gin.H{"book_key": "john", "chapter_number": 1}, http.StatusBadRequest},
		{"chapter unknown name", http.MethodPost, "/progress/chapter", gin.H{"reader_name": "Nadie", "book_key": "john", "chapter_number": 1}, http.StatusNotFound},
		{"chapter unknown book", http.MethodPost, "/progress/chapter", gin.H{"reader_name": "Ana", "book_key": "tobit", "chapter_number": 1}, http.StatusNotFound},
		{"chapter zero", http.MethodPost, "/progress/chapter", gin.H{"reader_name": "Ana", "book_key": "john", "chapter_number": 0}, http.StatusBadRequest},
		{"bad testament", http.MethodGet, "/books?testament=apocrypha", nil, http.StatusBadRequest},
		{"unknown chapter stats", http.MethodGet, "/stats/books/tobit/chapters", nil, http.StatusNotFound},
		{"unknown route", http.MethodGet, "/nope", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, env := s.do(tt.method, tt.path, tt.body)
			if code != tt.want {
				t.Errorf("status %d, want %d (message %q)", code, tt.want, env.Message)
			}
			if env.Success {
				t.Error("error response reported success")
			}
		})
	}
}

func TestDeleteReaderCascades(t *testing.T) {
	s, _ := newTestServer(t)
	ana := s.createReader("Ana")
	s.mustDo(http.MethodPost, "/progress/chapter",
		gin.H{"reader_id": ana.ID, "book_key": "john", "chapter_number": 1}, http.StatusOK, nil)

	s.mustDo(http.MethodDelete, fmt.Sprintf("/readers/%d", ana.ID), nil, http.StatusOK, nil)

	var rows []progress.Row
	s.mustDo(http.MethodGet, "/progress/all", nil, http.StatusOK, &rows)
	if len(rows) != 0 {
		t.Errorf("expected progress rows to be deleted, got %d", len(rows))
	}
	if st := s.stats(); st.General.VersesRead != 0 || st.General.TotalReaders != 0 {
		t.Errorf("unexpected general stats after delete: %+v", st.General)
	}
}

func TestBooksAndChapter(t *testing.T) {
	s, _ := newTestServer(t)

	var books []models.Book
	s.mustDo(http.MethodGet, "/books?testament=old", nil, http.StatusOK, &books)
	if len(books) != 3 || books[0].Key != "genesis" || books[2].Key != "psalms" {
		t.Errorf("unexpected old testament books: %+v", books)
	}

	var got struct {
		Book    models.Book    `json:"book"`
		Chapter models.Chapter `json:"chapter"`
	}
	s.mustDo(http.MethodGet, "/books/genesis/chapters/1", nil, http.StatusOK, &got)
	if len(got.Chapter.Verses) != 5 || got.Chapter.Verses[0].Text == "" {
		t.Errorf("unexpected chapter: %+v", got.Chapter)
	}
}

func TestMarathonSingleActive(t *testing.T) {
	s, _ := newTestServer(t)

	env := s.mustDo(http.MethodGet, "/marathon", nil, http.StatusOK, nil)
	if string(env.Data) != "null" {
		t.Errorf("expected no active marathon, got %s", env.Data)
	}

	start := s.clock.now
	end := start.Add(72 * time.Hour)
	var first, second models.MarathonConfig
	s.mustDo(http.MethodPost, "/marathon", gin.H{"name": "Lent", "start_time": start, "end_time": end, "is_active": true}, http.StatusCreated, &first)
	s.mustDo(http.MethodPost, "/marathon", gin.H{"name": "Advent", "is_active": true}, http.StatusCreated, &second)

	var active models.MarathonConfig
	s.mustDo(http.MethodGet, "/marathon", nil, http.StatusOK, &active)
	if active.ID != second.ID {
		t.Errorf("active marathon = %d, want %d", active.ID, second.ID)
	}

	s.mustDo(http.MethodPost, fmt.Sprintf("/marathon/%d/activate", first.ID), nil, http.StatusOK, &active)
	var all []models.MarathonConfig
	s.mustDo(http.MethodGet, "/marathons", nil, http.StatusOK, &all)
	activeCount := 0
	for _, m := range all {
		if m.IsActive {
			activeCount++
			if m.ID != first.ID {
				t.Errorf("wrong marathon active: %d", m.ID)
			}
		}
	}
	if activeCount != 1 {
		t.Errorf("%d active marathons, want 1", activeCount)
	}

	var rt realtime.Stats
	s.mustDo(http.MethodGet, "/reports/realtime/stats", nil, http.StatusOK, &rt)
	if rt.Marathon == nil || rt.Marathon.RemainingHours == nil || *rt.Marathon.RemainingHours != 72 {
		t.Errorf("unexpected marathon window: %+v", rt.Marathon)
	}

	code, _ := s.do(http.MethodPost, "/marathon", gin.H{"name": "Bad", "start_time": end, "end_time": start})
	if code != http.StatusBadRequest {
		t.Errorf("inverted window: status %d, want 400", code)
	}
}

func TestProgressReachesWebSocketClients(t *testing.T) {
	gin.SetMode(gin.TestMode)
	db := testkit.NewDB(t)
	clk := &stepClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}

	events := make(chan models.ProgressEvent, 8)
	hub := websocket.NewHub(events)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	srv := httptest.NewServer(New(db, progress.New(db, clk, events), realtime.New(db, clk, time.Hour), hub).Router())
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})

	conn, _, err := gorillaws.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/progress", nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	id := testkit.AddReader(t, db, "Ana")
	body := strings.NewReader(fmt.Sprintf(`{"reader_id": %d, "verse_id": %d}`, id, testkit.VerseID(t, db, "john", 1, 1)))
	resp, err := http.Post(srv.URL+"/progress", "application/json", body)
	if err != nil {
		t.Fatalf("POST /progress: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST /progress: status %d", resp.StatusCode)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt models.ProgressEvent
	if err := conn.ReadJSON(&evt); err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if evt.Type != "verse_marked" || evt.ReaderID != id || evt.ReaderName != "Ana" || !evt.IsRead {
		t.Errorf("unexpected event: %+v", evt)
	}
}
