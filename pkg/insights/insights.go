// Package insights produces structured, citation-grounded analysis of
// indexed material: per-passage summaries and takeaways, and cross-document
// agreement/contradiction reports. Every generation asks the model for
// strict JSON and retries once before giving up.
package insights

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/paperwave/paperwave/pkg/index"
	"github.com/paperwave/paperwave/pkg/llm"
	"github.com/paperwave/paperwave/pkg/retrieval"
)

// ErrGenerationFailed marks a model failure or a response that stayed
// malformed after the re-ask.
var ErrGenerationFailed = errors.New("insights generation failed")

// InvalidRequestError rejects a request with missing or inconsistent inputs.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string {
	return e.Reason
}

// jsonReminder is appended to the prompt when the first response did not
// parse as JSON.
const jsonReminder = "\n\nReturn ONLY the JSON object. No prose, no code fences."

const (
	defaultWebK    = 3
	defaultPerDoc  = 3
	chunkRunes     = 500
	deepChunkRunes = 1000
	webQueryRunes  = 200
)

// Request asks for insights about free text or one page of an indexed
// document.
type Request struct {
	Text       string `json:"text,omitempty"`
	Filename   string `json:"filename,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	K          int    `json:"k,omitempty"`
	IncludeWeb bool   `json:"include_web,omitempty"`
	WebK       int    `json:"web_k,omitempty"`
}

// Insights is the structured result of one grounded analysis.
type Insights struct {
	Summary        string               `json:"summary"`
	Insights       []string             `json:"insights"`
	Facts          []string             `json:"facts"`
	Contradictions []string             `json:"contradictions"`
	Citations      []retrieval.Citation `json:"citations"`
}

// CrossRequest asks for agreements and contradictions across documents.
// Empty Filenames means every indexed document.
type CrossRequest struct {
	Filenames []string `json:"filenames,omitempty"`
	MaxPerDoc int      `json:"max_per_doc,omitempty"`
	Deep      bool     `json:"deep,omitempty"`
	Focus     string   `json:"focus,omitempty"`
}

// Claim is one cross-document statement with the files that back it.
type Claim struct {
	Claim   string   `json:"claim"`
	Sources []string `json:"sources"`
}

// CrossInsights partitions cross-document claims into agreements and
// contradictions.
type CrossInsights struct {
	Agreements     []Claim `json:"agreements"`
	Contradictions []Claim `json:"contradictions"`
}

// WebResult is one external search hit used to widen grounding.
type WebResult struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// WebSearcher augments insights with results from outside the library.
// The default build registers none.
type WebSearcher interface {
	Search(ctx context.Context, query string, k int) ([]WebResult, error)
}

// PageTexter resolves one page of a library document to its text.
type PageTexter interface {
	PageText(ctx context.Context, filename string, pageNumber int) (string, error)
}

// Service generates insights over the index through one LLM provider.
type Service struct {
	provider  llm.Provider
	retriever *retrieval.Retriever
	ix        *index.Index
	source    PageTexter
	web       WebSearcher
}

type Opt func(*Service)

// WithWebSearcher enables the include_web request flag.
func WithWebSearcher(ws WebSearcher) Opt {
	return func(s *Service) {
		s.web = ws
	}
}

func NewService(provider llm.Provider, retriever *retrieval.Retriever, ix *index.Index, source PageTexter, opts ...Opt) *Service {
	s := &Service{provider: provider, retriever: retriever, ix: ix, source: source}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Insights analyzes one passage: it retrieves related pages as citations,
// prompts for a strict-JSON analysis, and returns both together.
func (s *Service) Insights(ctx context.Context, req Request) (*Insights, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		if req.Filename == "" || req.PageNumber < 1 {
			return nil, &InvalidRequestError{Reason: "provide text, or filename and page_number"}
		}
		page, err := s.source.PageText(ctx, req.Filename, req.PageNumber)
		if err != nil {
			return nil, err
		}
		text = strings.TrimSpace(page)
		if text == "" {
			return nil, &InvalidRequestError{Reason: "no extractable text for the given page"}
		}
	}

	citations := s.retriever.Citations(ctx, text, req.K)
	web := s.searchWeb(ctx, req, text)

	result, err := generateAs[Insights](ctx, s.provider, insightsPrompt(text, citations, web))
	if err != nil {
		return nil, err
	}
	result.Citations = citations
	result.normalize()
	return result, nil
}

// CrossInsights samples the opening chunks of each document and prompts for
// claims the documents agree or conflict on, each attributed to the files
// that support it.
func (s *Service) CrossInsights(ctx context.Context, req CrossRequest) (*CrossInsights, error) {
	filenames := req.Filenames
	if len(filenames) == 0 {
		filenames = s.ix.Filenames()
	}

	perDoc := req.MaxPerDoc
	if perDoc <= 0 {
		perDoc = defaultPerDoc
	}
	limit := chunkRunes
	if req.Deep {
		perDoc *= 2
		limit = deepChunkRunes
	}

	var sections []docSection
	for _, filename := range filenames {
		chunks := s.ix.ChunksByFile(filename, perDoc)
		if len(chunks) == 0 {
			continue
		}
		sec := docSection{filename: filename}
		for _, chunk := range chunks {
			sec.excerpts = append(sec.excerpts, excerpt{
				page: chunk.PageNumber,
				text: truncateRunes(chunk.Text, limit),
			})
		}
		sections = append(sections, sec)
	}
	if len(sections) < 2 {
		return nil, &InvalidRequestError{Reason: "cross-document insights need at least two indexed documents"}
	}

	result, err := generateAs[CrossInsights](ctx, s.provider, crossPrompt(sections, req.Focus))
	if err != nil {
		return nil, err
	}
	result.normalize()
	return result, nil
}

// searchWeb runs the optional external search. Failures only cost the extra
// grounding, never the request.
func (s *Service) searchWeb(ctx context.Context, req Request, text string) []WebResult {
	if !req.IncludeWeb || s.web == nil {
		return nil
	}
	k := req.WebK
	if k <= 0 {
		k = defaultWebK
	}
	results, err := s.web.Search(ctx, truncateRunes(text, webQueryRunes), k)
	if err != nil {
		slog.Warn("Web search failed, continuing without it", "error", err)
		return nil
	}
	return results
}

type excerpt struct {
	page int
	text string
}

type docSection struct {
	filename string
	excerpts []excerpt
}

func insightsPrompt(text string, citations []retrieval.Citation, web []WebResult) string {
	var sb strings.Builder
	sb.WriteString("You are an assistant extracting structured insights from a document passage and optional retrieved references.\n")
	sb.WriteString("Return JSON with exactly these keys:\n")
	sb.WriteString("- \"summary\": short paragraph summarizing the context (60-120 words).\n")
	sb.WriteString("- \"insights\": array of 3-7 concise key takeaways.\n")
	sb.WriteString("- \"facts\": array of factual statements supported by the text.\n")
	sb.WriteString("- \"contradictions\": array of potential inconsistencies or conflicts (empty if none).\n")
	sb.WriteString("\nPrimary Context:\n")
	sb.WriteString(text)
	sb.WriteString("\n\nRetrieved References (optional):\n")
	if len(citations) == 0 && len(web) == 0 {
		sb.WriteString("None\n")
		return sb.String()
	}
	for i, c := range citations {
		fmt.Fprintf(&sb, "[CITATION %d] file=%s page=%d: %s\n", i+1, c.Filename, c.PageNumber, c.Snippet)
	}
	for i, w := range web {
		fmt.Fprintf(&sb, "[WEB %d] %s (%s): %s\n", i+1, w.Title, w.URL, w.Snippet)
	}
	return sb.String()
}

func crossPrompt(sections []docSection, focus string) string {
	var sb strings.Builder
	sb.WriteString("You are comparing excerpts from multiple documents.\n")
	sb.WriteString("Identify claims the documents agree on and claims where they conflict.\n")
	sb.WriteString("Return JSON with exactly these keys:\n")
	sb.WriteString("- \"agreements\": array of {\"claim\": string, \"sources\": array of file names}.\n")
	sb.WriteString("- \"contradictions\": array of {\"claim\": string, \"sources\": array of file names}.\n")
	sb.WriteString("Cite sources using the exact file names given below. Only report claims the excerpts support.\n")
	if focus != "" {
		fmt.Fprintf(&sb, "Focus the analysis on: %s\n", focus)
	}
	for _, sec := range sections {
		fmt.Fprintf(&sb, "\n=== %s ===\n", sec.filename)
		for _, ex := range sec.excerpts {
			fmt.Fprintf(&sb, "[page %d] %s\n", ex.page, ex.text)
		}
	}
	return sb.String()
}

// generateAs prompts for a JSON object and decodes it into T, re-asking
// once when the response does not parse.
func generateAs[T any](ctx context.Context, provider llm.Provider, prompt string) (*T, error) {
	raw, err := provider.Generate(ctx, prompt, llm.WithJSONOutput())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if out, ok := decode[T](raw); ok {
		return out, nil
	}

	slog.Warn("Model response was not valid JSON, re-asking", "model", provider.Model())
	raw, err = provider.Generate(ctx, prompt+jsonReminder, llm.WithJSONOutput())
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if out, ok := decode[T](raw); ok {
		return out, nil
	}
	return nil, fmt.Errorf("%w: model returned malformed JSON twice", ErrGenerationFailed)
}

// decode pulls the first {...} object out of a response that may be wrapped
// in prose or a markdown fence and unmarshals it.
func decode[T any](raw string) (*T, bool) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start == -1 || end <= start {
		return nil, false
	}
	var out T
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return nil, false
	}
	return &out, true
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func (in *Insights) normalize() {
	if in.Insights == nil {
		in.Insights = []string{}
	}
	if in.Facts == nil {
		in.Facts = []string{}
	}
	if in.Contradictions == nil {
		in.Contradictions = []string{}
	}
	if in.Citations == nil {
		in.Citations = []retrieval.Citation{}
	}
}

func (ci *CrossInsights) normalize() {
	if ci.Agreements == nil {
		ci.Agreements = []Claim{}
	}
	if ci.Contradictions == nil {
		ci.Contradictions = []Claim{}
	}
}
