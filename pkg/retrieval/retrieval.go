// Package retrieval turns free text or a document location into ranked
// similarity hits against the vector index. It owns the query-text
// resolution and result shaping that sit between the HTTP surface and the
// raw index.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/paperwave/paperwave/pkg/embed"
	"github.com/paperwave/paperwave/pkg/index"
)

// DefaultK is the result count used when a query does not ask for one.
const DefaultK = 5

// queryTextRunes bounds aggregated document text used as a query. Explicit
// query text is never truncated.
const queryTextRunes = 2000

// snippetRunes bounds the text carried by a citation.
const snippetRunes = 500

// Query describes one similarity search. Either Text or Filename must be
// set; PageNumber narrows Filename to a single page.
type Query struct {
	Text        string
	Filename    string
	PageNumber  int
	K           int
	FetchK      int
	MinScore    *float64
	ExcludeSelf bool
}

// Hit is one shaped search result.
type Hit struct {
	Snippet    string  `json:"snippet"`
	Filename   string  `json:"filename,omitempty"`
	PageNumber int     `json:"page_number,omitempty"`
	Score      float64 `json:"score"`
	Distance   float64 `json:"distance"`
}

// Citation points at the page backing a generated statement.
type Citation struct {
	Filename   string `json:"filename,omitempty"`
	PageNumber int    `json:"page_number,omitempty"`
	Snippet    string `json:"snippet"`
}

// Retriever embeds queries and searches the index.
type Retriever struct {
	embedder embed.Embedder
	ix       *index.Index
}

func New(embedder embed.Embedder, ix *index.Index) *Retriever {
	return &Retriever{embedder: embedder, ix: ix}
}

// QueryText resolves what gets embedded for a query: explicit text wins,
// otherwise the chunks of the named page (or whole file) joined together and
// capped so a dense page does not blow up the embedding call.
func (r *Retriever) QueryText(q Query) string {
	if text := strings.TrimSpace(q.Text); text != "" {
		return text
	}
	if q.Filename == "" {
		return ""
	}
	var text string
	if q.PageNumber > 0 {
		text = r.ix.PageText(q.Filename, q.PageNumber)
	} else {
		text = r.ix.FileText(q.Filename)
	}
	if runes := []rune(text); len(runes) > queryTextRunes {
		return string(runes[:queryTextRunes])
	}
	return text
}

// Recommend returns up to q.K hits related to the query, at most one per
// (filename, page). With ExcludeSelf the queried page is removed from the
// results; if that leaves nothing, the best hit from the page itself is
// returned alone so the caller always has something to show.
func (r *Retriever) Recommend(ctx context.Context, q Query) ([]Hit, error) {
	text := r.QueryText(q)
	if text == "" {
		return nil, nil
	}

	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}

	k := q.K
	if k <= 0 {
		k = DefaultK
	}

	opts := index.SearchOptions{K: k, FetchK: q.FetchK, MinScore: q.MinScore}
	self := q.ExcludeSelf && q.Filename != "" && q.PageNumber > 0
	if self {
		opts.Exclude = func(filename string, pageNumber int) bool {
			return filename == q.Filename && pageNumber == q.PageNumber
		}
	}

	results, err := r.ix.Search(vec, opts)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 && self {
		return r.bestSelf(vec, q)
	}
	return toHits(results), nil
}

// bestSelf fetches the single best hit from the queried page, ignoring
// MinScore. Used only when exclusion filtered everything else out.
func (r *Retriever) bestSelf(vec []float32, q Query) ([]Hit, error) {
	results, err := r.ix.Search(vec, index.SearchOptions{
		K: 1,
		Exclude: func(filename string, pageNumber int) bool {
			return filename != q.Filename || pageNumber != q.PageNumber
		},
	})
	if err != nil {
		return nil, err
	}
	return toHits(results), nil
}

// Citations returns up to k page-level citations supporting the given text.
// Retrieval trouble yields an empty list, never an error: statements without
// citations beat no statements at all.
func (r *Retriever) Citations(ctx context.Context, text string, k int) []Citation {
	if k <= 0 {
		k = DefaultK
	}
	vec, err := r.embedder.EmbedQuery(ctx, text)
	if err != nil {
		return nil
	}
	results, err := r.ix.Search(vec, index.SearchOptions{K: k, FetchK: max(10, 2*k)})
	if err != nil {
		return nil
	}

	citations := make([]Citation, 0, len(results))
	for _, res := range results {
		snippet := res.Chunk.Text
		if runes := []rune(snippet); len(runes) > snippetRunes {
			snippet = string(runes[:snippetRunes])
		}
		citations = append(citations, Citation{
			Filename:   res.Chunk.Filename,
			PageNumber: res.Chunk.PageNumber,
			Snippet:    snippet,
		})
	}
	return citations
}

func toHits(results []index.Result) []Hit {
	hits := make([]Hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, Hit{
			Snippet:    res.Chunk.Text,
			Filename:   res.Chunk.Filename,
			PageNumber: res.Chunk.PageNumber,
			Score:      res.Score,
			Distance:   res.Distance,
		})
	}
	return hits
}
