package api

import (
	"database/sql"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"marathon/internal/progress"
	"marathon/internal/realtime"
	"marathon/internal/websocket"
)

// Server holds the dependencies shared by every handler.
type Server struct {
	db       *sql.DB
	recorder *progress.Recorder
	tracker  *realtime.Tracker
	hub      *websocket.Hub
}

// New wires a Server. hub may be nil, in which case /ws/progress is not mounted.
func New(db *sql.DB, recorder *progress.Recorder, tracker *realtime.Tracker, hub *websocket.Hub) *Server {
	return &Server{db: db, recorder: recorder, tracker: tracker, hub: hub}
}

func (s *Server) Router() *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) { ok(c, gin.H{"ok": true}) })

	// reference data
	r.GET("/books", s.handleListBooks)
	r.GET("/books/:key/chapters/:number", s.handleGetChapter)

	// readers (admin)
	r.GET("/readers", s.handleListReaders)
	r.GET("/readers/:id", s.handleGetReader)
	r.POST("/readers", s.handleCreateReader)
	r.PUT("/readers/:id", s.handleUpdateReader)
	r.DELETE("/readers/:id", s.handleDeleteReader)

	// progress
	r.POST("/progress", s.handleMarkVerse)
	r.POST("/progress/chapter", s.handleMarkChapter)
	r.DELETE("/progress/chapter", s.handleUnmarkChapter)
	r.GET("/progress/all", s.handleListProgress)

	// stats
	r.GET("/stats", s.handleStats)
	r.GET("/stats/books/:key/chapters", s.handleChapterStats)
	r.GET("/reports/realtime/stats", s.handleRealtimeStats)
	r.GET("/reports/realtime/active-readers", s.handleActiveReaders)

	// marathon
	r.GET("/marathon", s.handleGetMarathon)
	r.GET("/marathons", s.handleListMarathons)
	r.POST("/marathon", s.handleCreateMarathon)
	r.PUT("/marathon/:id", s.handleUpdateMarathon)
	r.POST("/marathon/:id/activate", s.handleActivateMarathon)

	if s.hub != nil {
		r.GET("/ws/progress", websocket.HandleWebSocket(s.hub))
	}

	r.NoRoute(func(c *gin.Context) {
		respond(c, http.StatusNotFound, "route not found", nil)
	})
	return r
}

// idParam parses a positive integer path parameter.
func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		respond(c, http.StatusBadRequest, name+" must be a positive integer", nil)
		return 0, false
	}
	return id, true
}
