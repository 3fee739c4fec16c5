// Package server exposes the document-to-audio system over HTTP: uploads
// and ingestion, similarity recommendations, grounded insights, audio
// generation, and static serving of the library and generated audio.
package server

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/insights"
	"github.com/paperwave/paperwave/pkg/library"
	"github.com/paperwave/paperwave/pkg/mux"
	"github.com/paperwave/paperwave/pkg/pipeline"
	"github.com/paperwave/paperwave/pkg/retrieval"
)

// Service is the application surface the HTTP layer forwards to.
type Service interface {
	GenerateAudio(ctx context.Context, req pipeline.Request) (*mux.Artifact, error)
	Recommend(ctx context.Context, q retrieval.Query) ([]retrieval.Hit, error)
	Insights(ctx context.Context, req insights.Request) (*insights.Insights, error)
	CrossInsights(ctx context.Context, req insights.CrossRequest) (*insights.CrossInsights, error)
	SaveUpload(name string, r io.Reader) (library.Document, error)
	IndexLibraryFile(ctx context.Context, filename string) error
	IngestPaths(ctx context.Context, paths []string) (indexed, failures []string)
	Documents() []library.Document
}

type Server struct {
	e   *echo.Echo
	svc Service
}

func New(cfg *config.Config, svc Service) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: uuid.NewString,
	}))
	if len(cfg.Server.CORSOrigins) > 0 {
		e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
			AllowOrigins: cfg.Server.CORSOrigins,
		}))
	} else {
		e.Use(middleware.CORS())
	}
	e.Use(middleware.RequestLogger())
	e.Use(middleware.Recover())
	e.Use(middleware.ContextTimeout(time.Duration(cfg.RequestTimeoutSeconds()) * time.Second))

	s := &Server{e: e, svc: svc}
	e.HTTPErrorHandler = s.handleError

	group := e.Group("/api")

	group.POST("/upload", s.upload)
	group.POST("/ingest", s.ingest)
	group.GET("/documents", s.documents)

	group.POST("/recommendations", s.recommendations)
	group.POST("/insights", s.insights)
	group.POST("/cross-insights", s.crossInsights)

	group.POST("/generate-audio", s.generateAudio)

	// Health check endpoints
	group.GET("/ping", s.ping)
	e.GET("/health", s.ping)

	// Generated audio and uploaded documents are served as-is so clients
	// can stream artifacts and preview sources.
	e.Static("/audio", cfg.AudioDir)
	e.Static("/library", cfg.LibraryDir)

	return s
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := http.Server{
		Handler: s.e,
	}

	if err := srv.Serve(ln); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// Handler exposes the assembled routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.e
}
