// Package api exposes the inference engine over an OpenAI-style HTTP
// surface: /v1/completions, /v1/models, plus health and metrics endpoints.
package api

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/truelegion47/alpa/internal/inference"
	"github.com/truelegion47/alpa/internal/logger"
)

// Generator is the engine surface the server depends on.
type Generator interface {
	Generate(ctx context.Context, req inference.Request, stream inference.StreamFunc) (*inference.Result, error)
}

// Server holds the handlers for one loaded model.
type Server struct {
	engine Generator
	model  string
	log    logger.Logger
}

// NewServer builds a server around a generator. model names the single
// served model in /v1/models and response payloads.
func NewServer(engine Generator, model string, log logger.Logger) *Server {
	return &Server{engine: engine, model: model, log: log}
}

// Register attaches all routes to the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/completions", s.handleCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.GET("/healthz", s.handleHealth)
	e.GET("/metrics", func(c *echo.Context) error {
		promhttp.Handler().ServeHTTP(c.Response(), c.Request())
		return nil
	})
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	return c.JSON(http.StatusOK, ModelList{
		Object: "list",
		Data: []ModelInfo{{
			ID:      s.model,
			Object:  "model",
			OwnedBy: "alpa",
		}},
	})
}
