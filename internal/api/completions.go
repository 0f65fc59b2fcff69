package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/truelegion47/alpa/internal/inference"
)

func (s *Server) handleCompletions(c *echo.Context) error {
	var req CompletionRequest
	if err := c.Bind(&req); err != nil {
		return writeBadRequest(c, "malformed request body")
	}
	if req.Prompt == "" {
		return writeBadRequest(c, "prompt is required")
	}
	if req.Model != "" && req.Model != s.model {
		return writeNotFound(c, fmt.Sprintf("model %q is not loaded", req.Model))
	}

	genReq := inference.ResolveRequest(inference.RequestOptions{
		Prompt:        req.Prompt,
		MaxNewTokens:  req.MaxTokens,
		Seed:          req.Seed,
		Temperature:   req.Temperature,
		TopK:          req.TopK,
		TopP:          req.TopP,
		RepeatPenalty: req.RepeatPenalty,
		StopTokens:    req.Stop,
		EchoPrompt:    req.Echo,
	})

	id := "cmpl-" + uuid.NewString()
	created := time.Now().Unix()

	if req.Stream {
		return s.streamCompletion(c, id, created, genReq)
	}

	res, err := s.engine.Generate(c.Request().Context(), genReq, nil)
	if err != nil {
		// A canceled request context means the client went away; there is
		// nobody left to send a 500 to.
		if errors.Is(err, context.Canceled) {
			if s.log != nil {
				s.log.Debug("completion abandoned by client", "id", id)
			}
			return nil
		}
		if s.log != nil {
			s.log.Error("completion failed", "id", id, "err", err)
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	finish := "stop"
	if res.Stats.TokensGenerated >= genReq.MaxNewTokens {
		finish = "length"
	}
	return c.JSON(http.StatusOK, CompletionResponse{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   s.model,
		Choices: []CompletionChoice{{Text: res.Text, FinishReason: finish}},
		Usage: Usage{
			PromptTokens:     res.Stats.PromptTokens,
			CompletionTokens: res.Stats.TokensGenerated,
			TotalTokens:      res.Stats.PromptTokens + res.Stats.TokensGenerated,
		},
	})
}

// streamCompletion emits one SSE chunk per decoded fragment, then a final
// chunk with the finish reason and the [DONE] sentinel.
func (s *Server) streamCompletion(c *echo.Context, id string, created int64, genReq inference.Request) error {
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set("Cache-Control", "no-cache")
	res.Header().Set("Connection", "keep-alive")
	res.WriteHeader(http.StatusOK)

	flusher, _ := any(res).(interface{ Flush() })
	emit := func(chunk CompletionChunk) {
		payload, err := json.Marshal(chunk)
		if err != nil {
			return
		}
		_, _ = fmt.Fprintf(res, "data: %s\n\n", payload)
		if flusher != nil {
			flusher.Flush()
		}
	}

	result, err := s.engine.Generate(c.Request().Context(), genReq, func(text string) {
		emit(CompletionChunk{
			ID:      id,
			Object:  "text_completion",
			Created: created,
			Model:   s.model,
			Choices: []CompletionChoice{{Text: text}},
		})
	})
	finish := "stop"
	switch {
	case errors.Is(err, context.Canceled):
		// Client disconnect mid-stream; the trailing chunks go nowhere.
		if s.log != nil {
			s.log.Debug("stream abandoned by client", "id", id)
		}
		return nil
	case err != nil:
		finish = "error"
		if s.log != nil {
			s.log.Error("streaming completion failed", "id", id, "err", err)
		}
	case result.Stats.TokensGenerated >= genReq.MaxNewTokens:
		finish = "length"
	}
	emit(CompletionChunk{
		ID:      id,
		Object:  "text_completion",
		Created: created,
		Model:   s.model,
		Choices: []CompletionChoice{{FinishReason: finish}},
	})
	_, _ = io.WriteString(res, "data: [DONE]\n\n")
	if flusher != nil {
		flusher.Flush()
	}
	return nil
}
