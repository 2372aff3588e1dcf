// Package api exposes the admission engine over HTTP: the Go rendition
// of the original decision-to-order bridge. The driving loop posts
// decisions to /api/evaluate, confirms executions on /api/fills, and
// streams prices into /api/prices; dashboards read /api/state.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"risk-core/internal/risk"
	"risk-core/pkg/db"
)

// Server wires HTTP endpoints around the admission engine.
type Server struct {
	Router  *gin.Engine
	Engine  *risk.Engine
	Journal *db.Database
	Logger  zerolog.Logger
	Meta    SystemMeta
	Sinks   Sinks
}

// SystemMeta describes runtime status exposed on /api/system/status.
type SystemMeta struct {
	Version   string
	StatePath string
	Symbols   []string
}

// Sinks receive market/account readings reported by the driving loop,
// feeding the caches behind the engine's injected providers.
type Sinks struct {
	OnPrice  func(symbol string, price float64)
	OnEquity func(equity float64)
}

// NewServer builds the router with the standard middleware stack and
// registers all routes.
func NewServer(engine *risk.Engine, journal *db.Database, logger zerolog.Logger, meta SystemMeta, sinks Sinks) *Server {
	r := gin.New()

	// Middleware stack (order matters!)
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(RequestLogger(logger))
	r.Use(RateLimitMiddleware(logger))
	r.Use(TimeoutMiddleware(30*time.Second, logger))
	r.Use(CORSMiddleware())

	s := &Server{
		Router:  r,
		Engine:  engine,
		Journal: journal,
		Logger:  logger,
		Meta:    meta,
		Sinks:   sinks,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.GET("/health", s.health)

	api := s.Router.Group("/api")
	{
		api.GET("/system/status", s.getSystemStatus)
		api.GET("/state", s.getState)
		api.GET("/decisions", s.getDecisions)
		api.GET("/fills", s.getFills)

		api.POST("/evaluate", s.evaluate)
		api.POST("/fills", s.recordFill)
		api.POST("/prices", s.pushPrices)
		api.POST("/equity", s.reportEquity)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Start blocks serving on addr.
func (s *Server) Start(addr string) error {
	return s.Router.Run(addr)
}
