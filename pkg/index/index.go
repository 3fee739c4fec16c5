package index

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/paperwave/paperwave/pkg/ingest"
)

// Entry is one (chunk, vector) pair, identified by its insertion index.
type Entry struct {
	Chunk  ingest.Chunk
	Vector []float32
}

// Result is a search hit: the chunk, its inner-product score in [-1, 1]
// (cosine for unit vectors), and the derived distance 1 - score.
type Result struct {
	Chunk    ingest.Chunk `json:"chunk"`
	Score    float64      `json:"score"`
	Distance float64      `json:"distance"`
}

type DimensionMismatchError struct {
	Want int
	Got  int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: index=%d, incoming=%d", e.Want, e.Got)
}

// SearchOptions tune a single search call.
type SearchOptions struct {
	K int
	// FetchK is the over-fetch before page dedup; zero means 3*K.
	FetchK int
	// MinScore drops results scoring below it when set.
	MinScore *float64
	// Exclude removes entries before ranking.
	Exclude func(filename string, pageNumber int) bool
}

// Index is an in-memory, append-only vector index. Many readers may search
// concurrently; writes are serialized against them.
type Index struct {
	mu      sync.RWMutex
	dims    int
	entries []Entry
	files   []string
	known   map[string]bool
}

func New(dims int) *Index {
	return &Index{
		dims:  dims,
		known: make(map[string]bool),
	}
}

// Add appends chunks with their vectors. Every vector must match the
// index's fixed dimension.
func (ix *Index) Add(chunks []ingest.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("chunk/vector count mismatch: %d != %d", len(chunks), len(vectors))
	}

	for _, v := range vectors {
		if len(v) != ix.dims {
			return &DimensionMismatchError{Want: ix.dims, Got: len(v)}
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for i, chunk := range chunks {
		ix.entries = append(ix.entries, Entry{Chunk: chunk, Vector: vectors[i]})
		if !ix.known[chunk.Filename] {
			ix.known[chunk.Filename] = true
			ix.files = append(ix.files, chunk.Filename)
		}
	}

	return nil
}

// Search ranks all entries by inner product against the query vector,
// keeps the top fetch_k, deduplicates to at most one result per
// (filename, page) keeping the best score, then truncates to k. Ordering
// is stable: ties resolve by ascending insertion order.
func (ix *Index) Search(query []float32, opts SearchOptions) ([]Result, error) {
	if len(query) != ix.dims {
		return nil, &DimensionMismatchError{Want: ix.dims, Got: len(query)}
	}

	k := opts.K
	if k <= 0 {
		k = 5
	}
	fetchK := opts.FetchK
	if fetchK <= 0 {
		fetchK = 3 * k
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	type scored struct {
		pos   int
		score float64
	}

	ranked := make([]scored, 0, len(ix.entries))
	for pos, entry := range ix.entries {
		if opts.Exclude != nil && opts.Exclude(entry.Chunk.Filename, entry.Chunk.PageNumber) {
			continue
		}
		ranked = append(ranked, scored{pos: pos, score: dot(query, entry.Vector)})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].score > ranked[j].score
	})

	if len(ranked) > fetchK {
		ranked = ranked[:fetchK]
	}

	type pageKey struct {
		filename string
		page     int
	}
	seen := make(map[pageKey]bool, len(ranked))

	results := make([]Result, 0, k)
	for _, s := range ranked {
		chunk := ix.entries[s.pos].Chunk

		key := pageKey{filename: chunk.Filename, page: chunk.PageNumber}
		if seen[key] {
			continue
		}
		seen[key] = true

		if opts.MinScore != nil && s.score < *opts.MinScore {
			continue
		}

		results = append(results, Result{
			Chunk:    chunk,
			Score:    s.score,
			Distance: 1 - s.score,
		})
		if len(results) >= k {
			break
		}
	}

	return results, nil
}

// PageText returns the concatenated chunk text for one page, in section
// order. Empty when the page is unknown.
func (ix *Index) PageText(filename string, pageNumber int) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var chunks []ingest.Chunk
	for _, entry := range ix.entries {
		if entry.Chunk.Filename == filename && entry.Chunk.PageNumber == pageNumber {
			chunks = append(chunks, entry.Chunk)
		}
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		return chunks[i].SectionIndex < chunks[j].SectionIndex
	})

	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Text)
	}

	return strings.Join(texts, "\n\n")
}

// FileText concatenates every chunk of a file in (page, section) order.
func (ix *Index) FileText(filename string) string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var chunks []ingest.Chunk
	for _, entry := range ix.entries {
		if entry.Chunk.Filename == filename {
			chunks = append(chunks, entry.Chunk)
		}
	}

	sort.SliceStable(chunks, func(i, j int) bool {
		if chunks[i].PageNumber != chunks[j].PageNumber {
			return chunks[i].PageNumber < chunks[j].PageNumber
		}
		return chunks[i].SectionIndex < chunks[j].SectionIndex
	})

	texts := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		texts = append(texts, chunk.Text)
	}

	return strings.Join(texts, "\n\n")
}

// ChunksByFile returns up to limit chunks of a file in insertion order.
func (ix *Index) ChunksByFile(filename string, limit int) []ingest.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var chunks []ingest.Chunk
	for _, entry := range ix.entries {
		if entry.Chunk.Filename != filename {
			continue
		}
		chunks = append(chunks, entry.Chunk)
		if limit > 0 && len(chunks) >= limit {
			break
		}
	}

	return chunks
}

// Filenames lists indexed files in first-seen order.
func (ix *Index) Filenames() []string {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return append([]string(nil), ix.files...)
}

// Has reports whether any chunk of the file is indexed. Used as the
// re-ingest pre-check.
func (ix *Index) Has(filename string) bool {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.known[filename]
}

func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return len(ix.entries)
}

func (ix *Index) Dimensions() int {
	return ix.dims
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
