package insights

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paperwave/paperwave/pkg/index"
	"github.com/paperwave/paperwave/pkg/ingest"
	"github.com/paperwave/paperwave/pkg/llm"
	"github.com/paperwave/paperwave/pkg/retrieval"
)

const validInsightsJSON = `{
	"summary": "A concise overview.",
	"insights": ["first takeaway", "second takeaway"],
	"facts": ["a supported fact"],
	"contradictions": []
}`

type fakeLLM struct {
	mu      sync.Mutex
	replies []string
	err     error
	prompts []string
}

func (f *fakeLLM) Generate(_ context.Context, prompt string, _ ...llm.Opt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return "", f.err
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

func (f *fakeLLM) Model() string { return "fake-model" }

func (f *fakeLLM) promptCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prompts)
}

func (f *fakeLLM) lastPrompt() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return ""
	}
	return f.prompts[len(f.prompts)-1]
}

type fakeEmbedder struct{ err error }

func (f *fakeEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, f.err
}

func (f *fakeEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 2 }
func (f *fakeEmbedder) Model() string   { return "fake" }

type fakePages struct {
	pages map[string]string
}

func (f *fakePages) PageText(_ context.Context, filename string, page int) (string, error) {
	if text, ok := f.pages[fmt.Sprintf("%s:%d", filename, page)]; ok {
		return text, nil
	}
	return "", fmt.Errorf("no page %d in %s", page, filename)
}

type fakeWeb struct {
	results []WebResult
	err     error
	queries []string
}

func (f *fakeWeb) Search(_ context.Context, query string, _ int) ([]WebResult, error) {
	f.queries = append(f.queries, query)
	return f.results, f.err
}

func vec(score float64) []float32 {
	return []float32{float32(score), float32(math.Sqrt(1 - score*score))}
}

func seed(t *testing.T, ix *index.Index, filename string, page int, score float64, text string) {
	t.Helper()
	require.NoError(t, ix.Add(
		[]ingest.Chunk{{Text: text, Filename: filename, PageNumber: page}},
		[][]float32{vec(score)},
	))
}

func newTestService(t *testing.T, fl *fakeLLM, opts ...Opt) (*Service, *index.Index) {
	t.Helper()
	ix := index.New(2)
	retr := retrieval.New(&fakeEmbedder{}, ix)
	pages := &fakePages{pages: map[string]string{"doc.pdf:2": "text of page two"}}
	return NewService(fl, retr, ix, pages, opts...), ix
}

func TestInsightsFromText(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validInsightsJSON}}
	svc, ix := newTestService(t, fl)
	seed(t, ix, "ref.pdf", 4, 0.9, "supporting passage")

	got, err := svc.Insights(t.Context(), Request{Text: "the passage under analysis"})
	require.NoError(t, err)

	assert.Equal(t, "A concise overview.", got.Summary)
	assert.Equal(t, []string{"first takeaway", "second takeaway"}, got.Insights)
	assert.Equal(t, []string{"a supported fact"}, got.Facts)
	assert.Empty(t, got.Contradictions)

	require.Len(t, got.Citations, 1)
	assert.Equal(t, "ref.pdf", got.Citations[0].Filename)
	assert.Equal(t, 4, got.Citations[0].PageNumber)

	prompt := fl.lastPrompt()
	assert.Contains(t, prompt, "the passage under analysis")
	assert.Contains(t, prompt, "[CITATION 1] file=ref.pdf page=4")
}

func TestInsightsFromPage(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validInsightsJSON}}
	svc, _ := newTestService(t, fl)

	_, err := svc.Insights(t.Context(), Request{Filename: "doc.pdf", PageNumber: 2})
	require.NoError(t, err)
	assert.Contains(t, fl.lastPrompt(), "text of page two")
}

func TestInsightsValidation(t *testing.T) {
	t.Parallel()

	svc, _ := newTestService(t, &fakeLLM{replies: []string{validInsightsJSON}})

	for _, req := range []Request{
		{},
		{Filename: "doc.pdf"},
		{PageNumber: 2},
	} {
		_, err := svc.Insights(t.Context(), req)
		var invalid *InvalidRequestError
		assert.ErrorAs(t, err, &invalid)
	}
}

func TestInsightsParsesFencedJSON(t *testing.T) {
	t.Parallel()

	fenced := "Here you go:\n```json\n" + validInsightsJSON + "\n```\nHope that helps."
	fl := &fakeLLM{replies: []string{fenced}}
	svc, _ := newTestService(t, fl)

	got, err := svc.Insights(t.Context(), Request{Text: "passage"})
	require.NoError(t, err)
	assert.Equal(t, "A concise overview.", got.Summary)
	assert.Equal(t, 1, fl.promptCount())
}

func TestInsightsRetriesMalformedJSONOnce(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{"sorry, no JSON today", validInsightsJSON}}
	svc, _ := newTestService(t, fl)

	got, err := svc.Insights(t.Context(), Request{Text: "passage"})
	require.NoError(t, err)
	assert.Equal(t, "A concise overview.", got.Summary)

	assert.Equal(t, 2, fl.promptCount())
	assert.Contains(t, fl.lastPrompt(), "Return ONLY the JSON object")
}

func TestInsightsFailsAfterTwoMalformedReplies(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{"no json", "still no json"}}
	svc, _ := newTestService(t, fl)

	_, err := svc.Insights(t.Context(), Request{Text: "passage"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 2, fl.promptCount())
}

func TestInsightsModelError(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{err: errors.New("model down")}
	svc, _ := newTestService(t, fl)

	_, err := svc.Insights(t.Context(), Request{Text: "passage"})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}

func TestInsightsNormalizesMissingArrays(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{`{"summary": "only a summary"}`}}
	svc, _ := newTestService(t, fl)

	got, err := svc.Insights(t.Context(), Request{Text: "passage"})
	require.NoError(t, err)

	assert.NotNil(t, got.Insights)
	assert.NotNil(t, got.Facts)
	assert.NotNil(t, got.Contradictions)
	assert.NotNil(t, got.Citations)
}

func TestInsightsWithWebSearch(t *testing.T) {
	t.Parallel()

	web := &fakeWeb{results: []WebResult{{Title: "Outside view", URL: "https://example.com", Snippet: "external context"}}}
	fl := &fakeLLM{replies: []string{validInsightsJSON}}
	svc, _ := newTestService(t, fl, WithWebSearcher(web))

	_, err := svc.Insights(t.Context(), Request{Text: "passage", IncludeWeb: true})
	require.NoError(t, err)

	assert.Contains(t, fl.lastPrompt(), "[WEB 1] Outside view (https://example.com): external context")
	require.Len(t, web.queries, 1)
}

func TestInsightsWebSearchFailureIsSwallowed(t *testing.T) {
	t.Parallel()

	web := &fakeWeb{err: errors.New("search down")}
	fl := &fakeLLM{replies: []string{validInsightsJSON}}
	svc, _ := newTestService(t, fl, WithWebSearcher(web))

	got, err := svc.Insights(t.Context(), Request{Text: "passage", IncludeWeb: true})
	require.NoError(t, err)
	assert.Equal(t, "A concise overview.", got.Summary)
	assert.NotContains(t, fl.lastPrompt(), "[WEB")
}

func TestInsightsIncludeWebWithoutSearcher(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validInsightsJSON}}
	svc, _ := newTestService(t, fl)

	_, err := svc.Insights(t.Context(), Request{Text: "passage", IncludeWeb: true})
	require.NoError(t, err)
	assert.NotContains(t, fl.lastPrompt(), "[WEB")
}

const validCrossJSON = `{
	"agreements": [{"claim": "both cover transformers", "sources": ["a.pdf", "b.pdf"]}],
	"contradictions": [{"claim": "training cost estimates differ", "sources": ["a.pdf", "b.pdf"]}]
}`

func TestCrossInsights(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	seed(t, ix, "a.pdf", 1, 0.9, "alpha doc chunk")
	seed(t, ix, "b.pdf", 1, 0.8, "beta doc chunk")

	got, err := svc.CrossInsights(t.Context(), CrossRequest{})
	require.NoError(t, err)

	require.Len(t, got.Agreements, 1)
	assert.Equal(t, "both cover transformers", got.Agreements[0].Claim)
	assert.Equal(t, []string{"a.pdf", "b.pdf"}, got.Agreements[0].Sources)
	require.Len(t, got.Contradictions, 1)

	prompt := fl.lastPrompt()
	assert.Contains(t, prompt, "=== a.pdf ===")
	assert.Contains(t, prompt, "=== b.pdf ===")
	assert.Contains(t, prompt, "alpha doc chunk")
}

func TestCrossInsightsExplicitFilenames(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	seed(t, ix, "a.pdf", 1, 0.9, "alpha")
	seed(t, ix, "b.pdf", 1, 0.8, "beta")
	seed(t, ix, "c.pdf", 1, 0.7, "gamma")

	_, err := svc.CrossInsights(t.Context(), CrossRequest{Filenames: []string{"a.pdf", "c.pdf"}})
	require.NoError(t, err)

	prompt := fl.lastPrompt()
	assert.Contains(t, prompt, "=== a.pdf ===")
	assert.NotContains(t, prompt, "=== b.pdf ===")
	assert.Contains(t, prompt, "=== c.pdf ===")
}

func TestCrossInsightsNeedsTwoDocuments(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	seed(t, ix, "only.pdf", 1, 0.9, "lonely")

	_, err := svc.CrossInsights(t.Context(), CrossRequest{})
	var invalid *InvalidRequestError
	assert.ErrorAs(t, err, &invalid)
}

func TestCrossInsightsSamplesPerDocument(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	for i := 1; i <= 5; i++ {
		seed(t, ix, "a.pdf", i, 0.9, fmt.Sprintf("a-chunk-%d", i))
	}
	seed(t, ix, "b.pdf", 1, 0.8, "b-chunk-1")

	_, err := svc.CrossInsights(t.Context(), CrossRequest{MaxPerDoc: 2})
	require.NoError(t, err)

	prompt := fl.lastPrompt()
	assert.Contains(t, prompt, "a-chunk-1")
	assert.Contains(t, prompt, "a-chunk-2")
	assert.NotContains(t, prompt, "a-chunk-3")
}

func TestCrossInsightsDeepDoublesSample(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	for i := 1; i <= 5; i++ {
		seed(t, ix, "a.pdf", i, 0.9, fmt.Sprintf("a-chunk-%d", i))
	}
	seed(t, ix, "b.pdf", 1, 0.8, "b-chunk-1")

	_, err := svc.CrossInsights(t.Context(), CrossRequest{MaxPerDoc: 2, Deep: true})
	require.NoError(t, err)

	prompt := fl.lastPrompt()
	assert.Contains(t, prompt, "a-chunk-4")
	assert.NotContains(t, prompt, "a-chunk-5")
}

func TestCrossInsightsFocus(t *testing.T) {
	t.Parallel()

	fl := &fakeLLM{replies: []string{validCrossJSON}}
	svc, ix := newTestService(t, fl)
	seed(t, ix, "a.pdf", 1, 0.9, "alpha")
	seed(t, ix, "b.pdf", 1, 0.8, "beta")

	_, err := svc.CrossInsights(t.Context(), CrossRequest{Focus: "evaluation methodology"})
	require.NoError(t, err)
	assert.Contains(t, fl.lastPrompt(), "Focus the analysis on: evaluation methodology")
}
