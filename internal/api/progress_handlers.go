package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marathon/internal/progress"
	"marathon/internal/reader"
)

type markVerseRequest struct {
	ReaderID int64   `json:"reader_id" binding:"required,gt=0"`
	VerseID  int64   `json:"verse_id" binding:"required,gt=0"`
	IsRead   *bool   `json:"is_read"`
	Notes    *string `json:"notes"`
}

// chapterRequest identifies the reader by id or by name.
type chapterRequest struct {
	ReaderID      int64   `json:"reader_id" binding:"omitempty,gt=0"`
	ReaderName    string  `json:"reader_name"`
	BookKey       string  `json:"book_key" binding:"required"`
	ChapterNumber int     `json:"chapter_number" binding:"required,gt=0"`
	Notes         *string `json:"notes"`
}

func (s *Server) handleMarkVerse(c *gin.Context) {
	var req markVerseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	isRead := true
	if req.IsRead != nil {
		isRead = *req.IsRead
	}

	res, err := s.recorder.MarkVerse(c.Request.Context(), progress.MarkVerseInput{
		ReaderID: req.ReaderID,
		VerseID:  req.VerseID,
		IsRead:   isRead,
		Notes:    emptyToNil(req.Notes),
	})
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, "progress saved", res)
}

func (s *Server) resolveChapter(c *gin.Context) (progress.ChapterRef, *string, bool) {
	var req chapterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return progress.ChapterRef{}, nil, false
	}
	rd, err := reader.Resolve(c.Request.Context(), s.db, req.ReaderID, req.ReaderName)
	if err != nil {
		fail(c, err)
		return progress.ChapterRef{}, nil, false
	}
	ref := progress.ChapterRef{ReaderID: rd.ID, BookKey: req.BookKey, ChapterNumber: req.ChapterNumber}
	return ref, emptyToNil(req.Notes), true
}

func (s *Server) handleMarkChapter(c *gin.Context) {
	ref, notes, valid := s.resolveChapter(c)
	if !valid {
		return
	}

	res, err := s.recorder.MarkChapter(c.Request.Context(), ref, notes)
	if err != nil {
		fail(c, err)
		return
	}

	status, msg := http.StatusOK, fmt.Sprintf("%d verses marked as read", res.Succeeded)
	switch {
	case res.Succeeded == 0 && res.Total > 0:
		status, msg = http.StatusUnprocessableEntity, "no verses could be marked"
	case res.Failed > 0:
		status, msg = http.StatusMultiStatus, fmt.Sprintf("%d of %d verses marked, %d failed", res.Succeeded, res.Total, res.Failed)
	}
	respond(c, status, msg, res)
}

func (s *Server) handleUnmarkChapter(c *gin.Context) {
	ref, _, valid := s.resolveChapter(c)
	if !valid {
		return
	}

	n, err := s.recorder.UnmarkChapter(c.Request.Context(), ref)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, fmt.Sprintf("%d verses unmarked", n), gin.H{
		"reader_id":      ref.ReaderID,
		"book_key":       ref.BookKey,
		"chapter_number": ref.ChapterNumber,
		"unmarked":       n,
	})
}

func (s *Server) handleListProgress(c *gin.Context) {
	f := progress.Filter{BookKey: c.Query("book_key")}
	if raw := c.Query("reader_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			respond(c, http.StatusBadRequest, "reader_id must be a positive integer", nil)
			return
		}
		f.ReaderID = id
	}
	f.OnlyRead = c.Query("only_read") == "true"

	rows, err := progress.ListAll(c.Request.Context(), s.db, f)
	if err != nil {
		fail(c, err)
		return
	}
	ok(c, rows)
}
