package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"marathon/internal/bible"
	"marathon/internal/marathon"
	"marathon/internal/reader"
	"marathon/internal/stats"
	"marathon/pkg/models"
)

func (s *Server) handleListBooks(c *gin.Context) {
	books, err := bible.ListBooks(c.Request.Context(), s.db, c.Query("testament"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, books)
}

func (s *Server) handleGetChapter(c *gin.Context) {
	number, err := strconv.Atoi(c.Param("number"))
	if err != nil || number <= 0 {
		respond(c, http.StatusBadRequest, "chapter number must be a positive integer", nil)
		return
	}

	book, ch, err := bible.GetChapterWithVerses(c.Request.Context(), s.db, c.Param("key"), number)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"book": book, "chapter": ch})
}

// --- readers ---

type createReaderRequest struct {
	Name            string  `json:"name" binding:"required,max=100"`
	Email           *string `json:"email" binding:"omitempty,email"`
	AvatarColor     string  `json:"avatar_color" binding:"omitempty,hexcolor"`
	IsActive        *bool   `json:"is_active"`
	ReadingSpeedWPM int     `json:"reading_speed_wpm" binding:"omitempty,min=50,max=1000"`
}

type updateReaderRequest struct {
	Name            string  `json:"name" binding:"omitempty,max=100"`
	Email           *string `json:"email" binding:"omitempty,email"`
	AvatarColor     string  `json:"avatar_color" binding:"omitempty,hexcolor"`
	IsActive        *bool   `json:"is_active"`
	ReadingSpeedWPM int     `json:"reading_speed_wpm" binding:"omitempty,min=50,max=1000"`
}

func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

func (s *Server) handleListReaders(c *gin.Context) {
	readers, err := reader.List(c.Request.Context(), s.db)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, readers)
}

// handleGetReader returns the reader with both the cached counters and a
// live recount, so callers can pick the one they need.
func (s *Server) handleGetReader(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	ctx := c.Request.Context()

	rd, err := reader.Get(ctx, s.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	live, err := reader.LiveCounts(ctx, s.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	cached := reader.Counts{VersesRead: rd.TotalVersesRead, ChaptersRead: rd.TotalChaptersRead}
	ok(c, gin.H{"reader": rd, "cached_counts": cached, "live_counts": live})
}

func (s *Server) handleCreateReader(c *gin.Context) {
	var req createReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rd, err := reader.Create(c.Request.Context(), s.db, reader.Input{
		Name:            req.Name,
		Email:           emptyToNil(req.Email),
		AvatarColor:     req.AvatarColor,
		IsActive:        req.IsActive,
		ReadingSpeedWPM: req.ReadingSpeedWPM,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "reader created", rd)
}

func (s *Server) handleUpdateReader(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req updateReaderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}

	rd, err := reader.Update(c.Request.Context(), s.db, id, reader.Input{
		Name:            req.Name,
		Email:           req.Email,
		AvatarColor:     req.AvatarColor,
		IsActive:        req.IsActive,
		ReadingSpeedWPM: req.ReadingSpeedWPM,
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "reader updated", rd)
}

func (s *Server) handleDeleteReader(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	if err := reader.Delete(c.Request.Context(), s.db, id); err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "reader deleted", gin.H{"id": id})
}

// --- stats ---

type statsPayload struct {
	General  stats.General          `json:"general"`
	Readers  []stats.ReaderStats    `json:"readers"`
	Books    []stats.BookStats      `json:"books"`
	Marathon *models.MarathonConfig `json:"marathon"`
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	var p statsPayload
	var err error

	if p.General, err = stats.GetGeneral(ctx, s.db); err != nil {
		fail(c, err)
		return
	}
	if p.Readers, err = stats.GetReaders(ctx, s.db); err != nil {
		fail(c, err)
		return
	}
	if p.Books, err = stats.GetBooks(ctx, s.db, c.Query("testament")); err != nil {
		fail(c, err)
		return
	}
	if p.Marathon, err = marathon.Active(ctx, s.db); err != nil {
		fail(c, err)
		return
	}
	ok(c, p)
}

func (s *Server) handleChapterStats(c *gin.Context) {
	chapters, err := stats.GetChapters(c.Request.Context(), s.db, c.Param("key"))
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, chapters)
}

func (s *Server) handleRealtimeStats(c *gin.Context) {
	st, err := s.tracker.Stats(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, st)
}

func (s *Server) handleActiveReaders(c *gin.Context) {
	active, err := s.tracker.ActiveReaders(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, gin.H{"window_minutes": int(s.tracker.Window() / time.Minute), "readers": active})
}

// --- marathon ---

type marathonRequest struct {
	Name              string     `json:"name" binding:"required,max=200"`
	StartTime         *time.Time `json:"start_time"`
	EndTime           *time.Time `json:"end_time"`
	IsActive          bool       `json:"is_active"`
	Description       string     `json:"description"`
	TotalParticipants int        `json:"total_participants" binding:"min=0"`
}

func (r marathonRequest) input() marathon.Input {
	return marathon.Input{
		Name:              r.Name,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		IsActive:          r.IsActive,
		Description:       r.Description,
		TotalParticipants: r.TotalParticipants,
	}
}

func (s *Server) handleGetMarathon(c *gin.Context) {
	m, err := marathon.Active(c.Request.Context(), s.db)
	if err != nil {
		fail(c, err)
		return
	}
	if m == nil {
		respond(c, http.StatusOK, "no active marathon", nil)
		return
	}
	ok(c, m)
}

func (s *Server) handleListMarathons(c *gin.Context) {
	list, err := marathon.List(c.Request.Context(), s.db)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, list)
}

func (s *Server) handleCreateMarathon(c *gin.Context) {
	var req marathonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := marathon.Create(c.Request.Context(), s.db, req.input())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, "marathon created", m)
}

func (s *Server) handleUpdateMarathon(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	var req marathonRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	m, err := marathon.Update(c.Request.Context(), s.db, id, req.input())
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "marathon updated", m)
}

func (s *Server) handleActivateMarathon(c *gin.Context) {
	id, valid := idParam(c, "id")
	if !valid {
		return
	}
	m, err := marathon.Activate(c.Request.Context(), s.db, id)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "marathon activated", m)
}
