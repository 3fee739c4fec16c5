package server

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paperwave/paperwave/pkg/embed"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/index"
	"github.com/paperwave/paperwave/pkg/ingest"
	"github.com/paperwave/paperwave/pkg/insights"
	"github.com/paperwave/paperwave/pkg/library"
	"github.com/paperwave/paperwave/pkg/pipeline"
	"github.com/paperwave/paperwave/pkg/script"
	"github.com/paperwave/paperwave/pkg/tts"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the response was written.
const statusClientClosedRequest = 499

// errorEnvelope is the JSON shape of every error response. Input names the
// offending value when one can be pinpointed.
type errorEnvelope struct {
	Code          string `json:"code"`
	Reason        string `json:"reason"`
	CorrelationID string `json:"correlation_id,omitempty"`
	Input         string `json:"input,omitempty"`
}

// handleError maps domain errors onto stable HTTP statuses and error codes
// so clients can branch on Code instead of parsing reasons.
func (s *Server) handleError(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status, env := classify(err)
	env.CorrelationID = c.Response().Header().Get(echo.HeaderXRequestID)

	if status >= http.StatusInternalServerError {
		slog.Error("Request failed",
			"method", c.Request().Method,
			"path", c.Request().URL.Path,
			"code", env.Code,
			"error", err)
	}

	if err := c.JSON(status, env); err != nil {
		slog.Error("Failed to write error response", "error", err)
	}
}

func classify(err error) (int, errorEnvelope) {
	var (
		httpErr        *echo.HTTPError
		badPipelineReq *pipeline.InvalidRequestError
		badInsightsReq *insights.InvalidRequestError
		rejected       *library.RejectedError
		invalidDoc     *ingest.InvalidDocumentError
		emptyDoc       *ingest.EmptyExtractionError
		dimMismatch    *index.DimensionMismatchError
		malformed      *script.MalformedScriptError
		exhausted      *tts.AllProvidersFailedError
		missingEnv     *environment.RequiredEnvError
	)

	switch {
	case errors.As(err, &httpErr):
		return httpErr.Code, errorEnvelope{
			Code:   codeForStatus(httpErr.Code),
			Reason: fmt.Sprintf("%v", httpErr.Message),
		}
	case errors.As(err, &badPipelineReq):
		return http.StatusBadRequest, errorEnvelope{Code: "invalid_request", Reason: badPipelineReq.Reason}
	case errors.As(err, &badInsightsReq):
		return http.StatusBadRequest, errorEnvelope{Code: "invalid_request", Reason: badInsightsReq.Reason}
	case errors.As(err, &rejected):
		return http.StatusBadRequest, errorEnvelope{Code: "invalid_document", Reason: err.Error(), Input: rejected.Filename}
	case errors.As(err, &invalidDoc):
		return http.StatusBadRequest, errorEnvelope{Code: "invalid_document", Reason: err.Error(), Input: invalidDoc.Path}
	case errors.As(err, &emptyDoc):
		return http.StatusBadRequest, errorEnvelope{Code: "empty_extraction", Reason: err.Error(), Input: emptyDoc.Path}
	case errors.As(err, &dimMismatch):
		return http.StatusInternalServerError, errorEnvelope{Code: "dimension_mismatch", Reason: err.Error()}
	case errors.Is(err, embed.ErrUnavailable):
		return http.StatusServiceUnavailable, errorEnvelope{Code: "embedder_unavailable", Reason: err.Error()}
	// Missing credentials hide inside synthesis failures; name them first so
	// the operator sees the actionable code.
	case errors.As(err, &missingEnv):
		return http.StatusServiceUnavailable, errorEnvelope{Code: "missing_credentials", Reason: err.Error()}
	case errors.As(err, &malformed), errors.Is(err, script.ErrSynthFailed):
		return http.StatusBadGateway, errorEnvelope{Code: "script_synth_failed", Reason: err.Error()}
	case errors.Is(err, insights.ErrGenerationFailed):
		return http.StatusBadGateway, errorEnvelope{Code: "insights_failed", Reason: err.Error()}
	case errors.As(err, &exhausted):
		return http.StatusBadGateway, errorEnvelope{Code: "all_providers_failed", Reason: err.Error()}
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, errorEnvelope{Code: "timeout", Reason: "request deadline exceeded"}
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest, errorEnvelope{Code: "canceled", Reason: "request canceled"}
	case errors.Is(err, fs.ErrNotExist):
		return http.StatusNotFound, errorEnvelope{Code: "not_found", Reason: err.Error()}
	default:
		return http.StatusInternalServerError, errorEnvelope{Code: "internal", Reason: err.Error()}
	}
}

func codeForStatus(status int) string {
	switch {
	case status == http.StatusNotFound:
		return "not_found"
	case status == http.StatusMethodNotAllowed:
		return "method_not_allowed"
	case status >= http.StatusInternalServerError:
		return "internal"
	default:
		return "invalid_request"
	}
}
