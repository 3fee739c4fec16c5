package server

import (
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/paperwave/paperwave/pkg/insights"
	"github.com/paperwave/paperwave/pkg/library"
	"github.com/paperwave/paperwave/pkg/pipeline"
	"github.com/paperwave/paperwave/pkg/retrieval"
)

type uploadResponse struct {
	Uploaded []library.Document `json:"uploaded"`
	Indexed  []string           `json:"indexed_filenames"`
	Errors   []string           `json:"errors,omitempty"`
}

// upload accepts one or more files under the multipart field "files". Each
// file is saved and indexed independently so one bad PDF does not sink the
// batch; per-file failures are reported alongside the successes.
func (s *Server) upload(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid multipart form: %v", err))
	}
	files := form.File["files"]
	if len(files) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no files provided under the \"files\" field")
	}

	ctx := c.Request().Context()
	resp := uploadResponse{
		Uploaded: []library.Document{},
		Indexed:  []string{},
	}
	for _, fh := range files {
		src, err := fh.Open()
		if err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		doc, err := s.svc.SaveUpload(fh.Filename, src)
		_ = src.Close()
		if err != nil {
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Uploaded = append(resp.Uploaded, doc)

		// Indexing trouble leaves the file in the library so a later
		// re-ingest can pick it up.
		if err := s.svc.IndexLibraryFile(ctx, doc.Filename); err != nil {
			resp.Errors = append(resp.Errors, fmt.Sprintf("%s: indexing failed: %v", doc.Filename, err))
			continue
		}
		resp.Indexed = append(resp.Indexed, doc.Filename)
	}

	return c.JSON(http.StatusOK, resp)
}

type ingestRequest struct {
	Paths []string `json:"paths"`
}

type ingestResponse struct {
	Indexed []string `json:"indexed_filenames"`
	Errors  []string `json:"errors,omitempty"`
}

func (s *Server) ingest(c echo.Context) error {
	var req ingestRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}
	if len(req.Paths) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no paths provided")
	}

	indexed, failures := s.svc.IngestPaths(c.Request().Context(), req.Paths)
	if indexed == nil {
		indexed = []string{}
	}
	return c.JSON(http.StatusOK, ingestResponse{Indexed: indexed, Errors: failures})
}

func (s *Server) documents(c echo.Context) error {
	docs := s.svc.Documents()
	if docs == nil {
		docs = []library.Document{}
	}
	return c.JSON(http.StatusOK, map[string][]library.Document{"documents": docs})
}

type recommendRequest struct {
	Text       string   `json:"text,omitempty"`
	Filename   string   `json:"filename,omitempty"`
	PageNumber int      `json:"page_number,omitempty"`
	K          int      `json:"k,omitempty"`
	FetchK     int      `json:"fetch_k,omitempty"`
	MinScore   *float64 `json:"min_score,omitempty"`
	// ExcludeSelf defaults to true: recommendations for a page should not
	// lead back to that page.
	ExcludeSelf *bool `json:"exclude_self,omitempty"`
}

func (s *Server) recommendations(c echo.Context) error {
	var req recommendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	hits, err := s.svc.Recommend(c.Request().Context(), retrieval.Query{
		Text:        req.Text,
		Filename:    req.Filename,
		PageNumber:  req.PageNumber,
		K:           req.K,
		FetchK:      req.FetchK,
		MinScore:    req.MinScore,
		ExcludeSelf: req.ExcludeSelf == nil || *req.ExcludeSelf,
	})
	if err != nil {
		return err
	}
	if hits == nil {
		hits = []retrieval.Hit{}
	}
	return c.JSON(http.StatusOK, map[string][]retrieval.Hit{"results": hits})
}

func (s *Server) insights(c echo.Context) error {
	var req insights.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	result, err := s.svc.Insights(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) crossInsights(c echo.Context) error {
	var req insights.CrossRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	result, err := s.svc.CrossInsights(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}

func (s *Server) generateAudio(c echo.Context) error {
	var req pipeline.Request
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
	}

	art, err := s.svc.GenerateAudio(c.Request().Context(), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, art)
}
