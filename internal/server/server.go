// Package server exposes the reader over HTTP. Backend routes serve the
// in-process library in the same shape the remote book service uses;
// session routes drive the navigation controller; /ws streams session
// events.
package server

import (
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/condr-at/globoox-preview/internal/config"
	"github.com/condr-at/globoox-preview/internal/library"
	"github.com/condr-at/globoox-preview/internal/navigation"
)

// Deps are the components the server fronts. Either may be nil: a server
// with only a library is a pure dev backend, one with only a reader is a
// client of a remote backend.
type Deps struct {
	Library *library.Service
	Reader  *navigation.Controller
}

type Server struct {
	config  *config.Config
	logger  *logrus.Logger
	library *library.Service
	reader  *navigation.Controller
	router  *gin.Engine
	wsHub   *Hub
}

func New(cfg *config.Config, deps Deps, logger *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	wsHub := NewHub(logger)
	go wsHub.Run()

	if deps.Reader != nil {
		deps.Reader.SetObserver(wsHub)
		deps.Reader.Scheduler().SetBroadcaster(wsHub)
	}

	s := &Server{
		config:  cfg,
		logger:  logger,
		library: deps.Library,
		reader:  deps.Reader,
		wsHub:   wsHub,
	}
	s.setupRoutes()
	return s
}

func (s *Server) Handler() *gin.Engine {
	return s.router
}

// Hub is exposed so other components, such as the OpenAI translator, can
// publish to connected clients.
func (s *Server) Hub() *Hub {
	return s.wsHub
}

// Close stops the hub. The reader and library are owned by the caller.
func (s *Server) Close() {
	s.wsHub.Close()
}

func (s *Server) setupRoutes() {
	s.router = gin.New()

	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.corsMiddleware())
	s.router.Use(gin.Recovery())

	if s.library != nil {
		api := s.router.Group("/api")
		api.GET("/books", s.handleListBooks)
		api.POST("/books", s.handleUpload)
		api.GET("/books/:id", s.handleGetBook)
		api.DELETE("/books/:id", s.handleDeleteBook)
		api.GET("/books/:id/chapters", s.handleGetChapters)
		api.GET("/books/:id/reading-position", s.handleGetPosition)
		api.PUT("/books/:id/reading-position", s.handlePutPosition)
		api.PATCH("/books/:id/language", s.handleUpdateLanguage)
		api.GET("/books/:id/assets/*name", s.handleAsset)
		api.GET("/chapters/:id/content", s.handleGetContent)
		api.POST("/chapters/:id/translate", s.handleTranslate)
	}

	if s.reader != nil {
		session := s.router.Group("/session")
		session.GET("", s.handleSessionView)
		session.POST("/open", s.handleSessionOpen)
		session.POST("/navigate", s.handleSessionNavigate)
		session.POST("/page", s.handleSessionJumpToPage)
		session.POST("/turn", s.handleSessionTurn)
		session.POST("/language", s.handleSessionLanguage)
		session.POST("/viewport", s.handleSessionViewport)
		session.POST("/font-size", s.handleSessionFontSize)
		session.POST("/heights", s.handleSessionHeights)
		session.POST("/relayout", s.handleSessionRelayout)
		session.GET("/stats", s.handleSessionStats)
	}

	s.router.GET("/ws", s.HandleWebSocket)

	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "websocket_clients": s.wsHub.GetClientCount()})
	})
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return gin.LoggerWithFormatter(func(param gin.LogFormatterParams) string {
		s.logger.WithFields(logrus.Fields{
			"status":     param.StatusCode,
			"method":     param.Method,
			"path":       param.Path,
			"ip":         param.ClientIP,
			"user_agent": param.Request.UserAgent(),
			"latency":    param.Latency,
		}).Info("HTTP Request")
		return ""
	})
}

func (s *Server) corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
