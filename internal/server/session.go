package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/condr-at/globoox-preview/internal/navigation"
)

// sessionError answers a failed session call. Failures never end the
// session, so the current view goes back with the error.
func (s *Server) sessionError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, navigation.ErrNoBook) {
		status = http.StatusConflict
	}
	s.logger.WithError(err).WithField("path", c.Request.URL.Path).Warn("Session request failed")
	c.JSON(status, gin.H{"error": err.Error(), "view": s.reader.View()})
}

func (s *Server) handleSessionView(c *gin.Context) {
	c.JSON(http.StatusOK, s.reader.View())
}

func (s *Server) handleSessionOpen(c *gin.Context) {
	var body struct {
		BookID string `json:"book_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.reader.Open(c.Request.Context(), body.BookID)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionNavigate(c *gin.Context) {
	var body struct {
		Source navigation.Source `json:"source" binding:"required"`
		navigation.Target
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !body.Source.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown navigation source " + string(body.Source)})
		return
	}
	v, err := s.reader.Navigate(c.Request.Context(), body.Source, body.Target)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionJumpToPage(c *gin.Context) {
	var body struct {
		Page   int               `json:"page"`
		Source navigation.Source `json:"source"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if body.Source == "" {
		body.Source = navigation.SourceSlider
	}
	v, err := s.reader.JumpToPage(c.Request.Context(), body.Source, body.Page)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionTurn(c *gin.Context) {
	var body struct {
		Delta int `json:"delta" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.reader.TurnPage(c.Request.Context(), body.Delta)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionLanguage(c *gin.Context) {
	var body struct {
		Lang string `json:"lang" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.reader.SwitchLanguage(c.Request.Context(), body.Lang)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionViewport(c *gin.Context) {
	var body struct {
		PageHeight float64 `json:"page_height" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.reader.SetViewport(c.Request.Context(), body.PageHeight)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, v)
}

func (s *Server) handleSessionFontSize(c *gin.Context) {
	var body struct {
		FontSize int `json:"font_size" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	v, err := s.reader.SetFontSize(c.Request.Context(), body.FontSize)
	if err != nil {
		s.sessionError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}

// handleSessionHeights records measured block heights. Pass relayout to
// repaginate right away.
func (s *Server) handleSessionHeights(c *gin.Context) {
	var body struct {
		Heights  map[string]float64 `json:"heights" binding:"required"`
		Relayout bool               `json:"relayout"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.reader.ReportHeights(body.Heights)
	if body.Relayout {
		c.JSON(http.StatusOK, s.reader.Relayout(c.Request.Context()))
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"recorded": len(body.Heights)})
}

func (s *Server) handleSessionRelayout(c *gin.Context) {
	c.JSON(http.StatusOK, s.reader.Relayout(c.Request.Context()))
}

func (s *Server) handleSessionStats(c *gin.Context) {
	sched := s.reader.Scheduler()
	c.JSON(http.StatusOK, gin.H{
		"busy":     sched.Busy(),
		"stats":    sched.Stats(),
		"snapshot": sched.Snapshot(),
	})
}
