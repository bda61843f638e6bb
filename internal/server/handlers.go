package server

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/content"
	"github.com/condr-at/globoox-preview/internal/library"
	"github.com/condr-at/globoox-preview/internal/position"
	"github.com/condr-at/globoox-preview/internal/remote"
	"github.com/condr-at/globoox-preview/internal/translation"
)

const maxUploadSize = 50 * 1024 * 1024

// writeError maps library errors onto status codes. The body uses the
// "error" field the remote client reads.
func (s *Server) writeError(c *gin.Context, err error) {
	if ctxErr := c.Request.Context().Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		// Client went away; nothing useful to send.
		c.Abort()
		return
	}
	status := http.StatusInternalServerError
	if errors.Is(err, library.ErrBookNotFound) || errors.Is(err, library.ErrChapterNotFound) || errors.Is(err, os.ErrNotExist) {
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.logger.WithError(err).WithField("path", c.Request.URL.Path).Error("Request failed")
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

func (s *Server) handleListBooks(c *gin.Context) {
	books, err := s.library.FetchBooks(c.Request.Context())
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, books)
}

// handleUpload adds an EPUB to the library directory.
func (s *Server) handleUpload(c *gin.Context) {
	file, err := c.FormFile("epub")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No file uploaded"})
		return
	}
	if strings.ToLower(filepath.Ext(file.Filename)) != ".epub" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File must be an EPUB"})
		return
	}
	if file.Size > maxUploadSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File too large (max 50MB)"})
		return
	}

	name := sanitizeFilename(strings.TrimSuffix(file.Filename, filepath.Ext(file.Filename))) + ".epub"
	path := filepath.Join(s.library.Dir(), name)
	if err := os.MkdirAll(s.library.Dir(), 0755); err != nil {
		s.writeError(c, err)
		return
	}
	if err := c.SaveUploadedFile(file, path); err != nil {
		s.logger.Errorf("Failed to save uploaded file: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file"})
		return
	}

	book, err := s.library.AddFile(path)
	if err != nil {
		_ = os.Remove(path)
		s.logger.WithError(err).WithField("file", file.Filename).Warn("Rejected uploaded EPUB")
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid EPUB file"})
		return
	}

	s.logger.Infof("Added %s to the library (ID: %s, %d chapters)", file.Filename, book.ID, len(book.Chapters))
	described, err := s.library.FetchBook(c.Request.Context(), book.ID)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, described)
}

func (s *Server) handleGetBook(c *gin.Context) {
	book, err := s.library.FetchBook(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, book)
}

func (s *Server) handleDeleteBook(c *gin.Context) {
	if err := s.library.Remove(c.Param("id")); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Book deleted"})
}

func (s *Server) handleGetChapters(c *gin.Context) {
	chapters, err := s.library.FetchChapters(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, chapters)
}

func (s *Server) handleGetContent(c *gin.Context) {
	blocks, err := s.library.FetchContent(c.Request.Context(), c.Param("id"), c.Query("lang"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, blocks)
}

type translateRequest struct {
	Lang          string   `json:"lang" binding:"required"`
	BlockIDs      []string `json:"blockIds"`
	AnchorBlockID string   `json:"anchorBlockId"`
	Direction     string   `json:"direction"`
}

func wantsNDJSON(accept string) bool {
	return strings.Contains(accept, remote.ContentTypeNDJSON) || strings.Contains(accept, "ndjson")
}

// handleTranslate streams one NDJSON line per block as soon as it is
// translated. Clients that do not accept NDJSON get the whole batch as a
// JSON array of translated blocks.
func (s *Server) handleTranslate(c *gin.Context) {
	var body translateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req := translation.Request{
		ChapterID:     c.Param("id"),
		Lang:          body.Lang,
		BlockIDs:      body.BlockIDs,
		AnchorBlockID: body.AnchorBlockID,
		Direction:     body.Direction,
	}
	ctx := c.Request.Context()
	log := s.logger.WithFields(logrus.Fields{
		"chapter_id": req.ChapterID,
		"lang":       req.Lang,
		"blocks":     len(req.BlockIDs),
	})

	if wantsNDJSON(c.GetHeader("Accept")) {
		started := false
		err := s.library.Translate(ctx, req, func(r translation.Result) {
			if !started {
				c.Header("Content-Type", remote.ContentTypeNDJSON)
				c.Status(http.StatusOK)
				started = true
			}
			if err := translation.EncodeResult(c.Writer, r); err != nil {
				log.WithError(err).Debug("Failed to write translation line")
				return
			}
			c.Writer.Flush()
		})
		switch {
		case err != nil && !started:
			s.writeError(c, err)
		case err != nil:
			log.WithError(err).Warn("Translation stream ended early")
		case !started:
			c.Header("Content-Type", remote.ContentTypeNDJSON)
			c.Status(http.StatusOK)
		}
		return
	}

	source, err := s.library.FetchContent(ctx, req.ChapterID, "")
	if err != nil {
		s.writeError(c, err)
		return
	}
	translated := make([]content.Block, 0, len(req.BlockIDs))
	err = s.library.Translate(ctx, req, func(r translation.Result) {
		if r.Status != translation.StatusOK || r.TranslatedText == "" {
			return
		}
		i := content.Find(source, r.BlockID)
		if i < 0 {
			return
		}
		if b, ok := source[i].ApplyTranslation(r.TranslatedText); ok {
			translated = append(translated, b)
		}
	})
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, translated)
}

func (s *Server) handleGetPosition(c *gin.Context) {
	a, ok, err := s.library.FetchReadingPosition(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.writeError(c, err)
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "No reading position"})
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handlePutPosition(c *gin.Context) {
	var a position.Anchor
	if err := c.ShouldBindJSON(&a); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if a.ChapterID == "" || a.BlockID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "chapter_id and block_id are required"})
		return
	}
	if err := s.library.SavePosition(c.Request.Context(), c.Param("id"), a); err != nil {
		s.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, a)
}

func (s *Server) handleUpdateLanguage(c *gin.Context) {
	var body struct {
		SelectedLanguage string `json:"selected_language" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	bookID := c.Param("id")
	if _, err := s.library.FetchBook(c.Request.Context(), bookID); err != nil {
		s.writeError(c, err)
		return
	}
	if err := s.library.UpdateLanguage(c.Request.Context(), bookID, body.SelectedLanguage); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"selected_language": content.WireLang(body.SelectedLanguage)})
}

func (s *Server) handleAsset(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("name"), "/")
	data, contentType, err := s.library.ReadAsset(c.Param("id"), name)
	if err != nil {
		s.writeError(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=86400")
	c.Data(http.StatusOK, contentType, data)
}

func sanitizeFilename(filename string) string {
	var b strings.Builder
	for _, r := range filename {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_':
			b.WriteRune(r)
		case r == ' ':
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "book"
	}
	return b.String()
}
