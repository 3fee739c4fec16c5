// Package app assembles the document-to-audio service from its parts:
// library, ingestor, embedder, index, retrieval, script synthesis, speech
// dispatch, muxing, and insights. It is the single composition root shared
// by the HTTP server and the CLI.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/paperwave/paperwave/pkg/audio"
	"github.com/paperwave/paperwave/pkg/config"
	"github.com/paperwave/paperwave/pkg/embed"
	"github.com/paperwave/paperwave/pkg/environment"
	"github.com/paperwave/paperwave/pkg/index"
	"github.com/paperwave/paperwave/pkg/ingest"
	"github.com/paperwave/paperwave/pkg/insights"
	"github.com/paperwave/paperwave/pkg/library"
	"github.com/paperwave/paperwave/pkg/llm"
	"github.com/paperwave/paperwave/pkg/mux"
	"github.com/paperwave/paperwave/pkg/pipeline"
	"github.com/paperwave/paperwave/pkg/retrieval"
	"github.com/paperwave/paperwave/pkg/script"
	syncx "github.com/paperwave/paperwave/pkg/sync"
	"github.com/paperwave/paperwave/pkg/tts"
)

// App wires every component of the service together and adapts them to the
// surfaces that call in.
type App struct {
	cfg *config.Config

	library    *library.Library
	ingestor   *ingest.Ingestor
	embedder   embed.Embedder
	ix         *index.Index
	retriever  *retrieval.Retriever
	dispatcher *tts.Dispatcher
	pipeline   *pipeline.Pipeline
	insights   *insights.Service
}

type Opt func(*options)

type options struct {
	tracer       trace.Tracer
	toolchain    audio.Toolchain
	toolchainSet bool
	searcher     insights.WebSearcher
}

// WithTracer enables span emission around audio generations.
func WithTracer(tracer trace.Tracer) Opt {
	return func(o *options) {
		o.tracer = tracer
	}
}

// WithToolchain overrides the detected audio toolchain, mainly for tests.
// An explicit nil disables merging altogether.
func WithToolchain(tc audio.Toolchain) Opt {
	return func(o *options) {
		o.toolchain = tc
		o.toolchainSet = true
	}
}

// WithWebSearcher plugs a web search backend into the insights surface.
func WithWebSearcher(ws insights.WebSearcher) Opt {
	return func(o *options) {
		o.searcher = ws
	}
}

// New builds the application. The embedder is constructed eagerly because
// nothing works without it; the text model is deferred until the first
// script or insights call so that upload, ingest and search run without
// model credentials.
func New(ctx context.Context, cfg *config.Config, env environment.Provider, opts ...Opt) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	lib, err := library.New(cfg.LibraryDir,
		library.WithMaxFileSize(cfg.Ingest.MaxFileSize),
		library.WithAllowedExtensions(cfg.Ingest.AllowedExtensions))
	if err != nil {
		return nil, fmt.Errorf("opening document library: %w", err)
	}

	embedder, err := embed.New(ctx, cfg.Embedding, env)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		library:  lib,
		ingestor: ingest.New(ingest.WithChunkSize(cfg.Ingest.ChunkChars), ingest.WithChunkOverlap(cfg.Ingest.ChunkOverlap)),
		embedder: embedder,
		ix:       index.New(embedder.Dimensions()),
	}
	a.retriever = retrieval.New(embedder, a.ix)

	model := &lazyProvider{build: syncx.OnceErr(func() (llm.Provider, error) {
		return llm.New(ctx, cfg.LLM, env)
	})}

	toolchain := o.toolchain
	if !o.toolchainSet {
		toolchain = detectToolchain()
	}

	a.dispatcher = tts.NewDispatcher(tts.BuildProviders(cfg, env), cfg.AudioDir,
		tts.WithWorkers(cfg.TTS.Workers),
		tts.WithProviderTimeout(time.Duration(cfg.ProviderTimeoutSeconds())*time.Second),
		tts.WithToolchain(toolchain))

	voices := func(accent string, override map[string]string) tts.VoiceMap {
		return tts.ResolveVoices(cfg, accent, override)
	}

	pipelineOpts := []pipeline.Opt{
		pipeline.WithRequestTimeout(time.Duration(cfg.RequestTimeoutSeconds()) * time.Second),
	}
	if o.tracer != nil {
		pipelineOpts = append(pipelineOpts, pipeline.WithTracer(o.tracer))
	}
	a.pipeline = pipeline.New(script.NewSynthesizer(model), a.dispatcher, mux.New(toolchain, cfg.AudioDir),
		a, voices, cfg.AudioDir, pipelineOpts...)

	var insightOpts []insights.Opt
	if o.searcher != nil {
		insightOpts = append(insightOpts, insights.WithWebSearcher(o.searcher))
	}
	a.insights = insights.NewService(model, a.retriever, a.ix, a, insightOpts...)

	return a, nil
}

// detectToolchain looks for ffmpeg on PATH. Without it merged artifacts
// degrade to per-clip parts, which is still a usable result.
func detectToolchain() audio.Toolchain {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		slog.Warn("ffmpeg not found, merged audio disabled; artifacts will carry per-clip parts")
		return nil
	}
	return audio.NewFFmpeg()
}

// lazyProvider defers building the text model until the first call. The
// construction error, if any, repeats on every use; credentials do not
// change mid-process.
type lazyProvider struct {
	build func() (llm.Provider, error)
}

var _ llm.Provider = (*lazyProvider)(nil)

func (l *lazyProvider) Generate(ctx context.Context, prompt string, opts ...llm.Opt) (string, error) {
	p, err := l.build()
	if err != nil {
		return "", err
	}
	return p.Generate(ctx, prompt, opts...)
}

func (l *lazyProvider) Model() string {
	p, err := l.build()
	if err != nil {
		return ""
	}
	return p.Model()
}

// GenerateAudio runs or replays one audio generation.
func (a *App) GenerateAudio(ctx context.Context, req pipeline.Request) (*mux.Artifact, error) {
	return a.pipeline.GenerateAudio(ctx, req)
}

// Recommend returns similarity hits for a text or document location.
func (a *App) Recommend(ctx context.Context, q retrieval.Query) ([]retrieval.Hit, error) {
	return a.retriever.Recommend(ctx, q)
}

// Insights generates grounded insights. Config supplies the web search
// defaults; the request overrides them.
func (a *App) Insights(ctx context.Context, req insights.Request) (*insights.Insights, error) {
	if a.cfg.Insights.WebSearch && !req.IncludeWeb {
		req.IncludeWeb = true
	}
	if req.WebK <= 0 {
		req.WebK = a.cfg.Insights.WebK
	}
	return a.insights.Insights(ctx, req)
}

// CrossInsights compares indexed documents for agreements and contradictions.
func (a *App) CrossInsights(ctx context.Context, req insights.CrossRequest) (*insights.CrossInsights, error) {
	return a.insights.CrossInsights(ctx, req)
}

// SaveUpload stores one uploaded file in the library.
func (a *App) SaveUpload(name string, r io.Reader) (library.Document, error) {
	return a.library.Save(name, r)
}

// IndexLibraryFile ingests and indexes a file already saved in the library.
func (a *App) IndexLibraryFile(ctx context.Context, filename string) error {
	return a.indexFile(ctx, a.library.Path(filename))
}

// IngestPaths copies the given PDFs into the document library and indexes
// them, fanning out on the general worker pool. Paths already inside the
// library are catalogued in place instead of copied, and files already
// represented in the index are counted as indexed without re-reading them,
// so re-ingesting a library never grows it. Duplicate basenames within one
// call collapse onto the first occurrence.
func (a *App) IngestPaths(ctx context.Context, paths []string) (indexed, failures []string) {
	seen := make(map[string]bool, len(paths))
	var unique []string
	for _, path := range paths {
		if name := filepath.Base(path); !seen[name] {
			seen[name] = true
			unique = append(unique, path)
		}
	}

	errs := make([]error, len(unique))
	var eg errgroup.Group
	eg.SetLimit(a.cfg.Server.BGWorkers)
	for i, path := range unique {
		eg.Go(func() error {
			if a.ix.Has(filepath.Base(path)) {
				slog.Debug("Skipping already indexed file", "file", filepath.Base(path))
				return nil
			}
			doc, err := a.addToLibrary(path)
			if err != nil {
				errs[i] = fmt.Errorf("%s: %w", path, err)
				return nil
			}
			if err := a.indexFile(ctx, a.library.Path(doc.Filename)); err != nil {
				errs[i] = fmt.Errorf("%s: %w", path, err)
			}
			return nil
		})
	}
	_ = eg.Wait() // the closures record failures instead of returning them

	for i, path := range unique {
		if errs[i] != nil {
			failures = append(failures, errs[i].Error())
			continue
		}
		indexed = append(indexed, filepath.Base(path))
	}
	return indexed, failures
}

// Documents lists the library catalog.
func (a *App) Documents() []library.Document {
	return a.library.Documents()
}

// Index exposes the vector index for read-side callers.
func (a *App) Index() *index.Index {
	return a.ix
}

// addToLibrary brings one path under library management: a file that is
// already the library's copy is catalogued as-is, anything else is saved
// through the usual upload validation.
func (a *App) addToLibrary(path string) (library.Document, error) {
	filename := filepath.Base(path)
	if src, err := os.Stat(path); err == nil {
		if dst, err := os.Stat(a.library.Path(filename)); err == nil && os.SameFile(src, dst) {
			return a.library.Record(filename)
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return library.Document{}, err
	}
	defer f.Close()
	return a.library.Save(filename, f)
}

func (a *App) indexFile(ctx context.Context, path string) error {
	chunks, err := a.ingestor.Ingest(ctx, path)
	if err != nil {
		return err
	}

	texts := make([]string, len(chunks))
	for i, chunk := range chunks {
		texts[i] = chunk.Text
	}

	vectors, err := a.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding %s: %w", filepath.Base(path), err)
	}

	if err := a.ix.Add(chunks, vectors); err != nil {
		return err
	}

	slog.Info("Indexed document", "file", filepath.Base(path), "chunks", len(chunks))
	return nil
}

// PageText resolves a page's text from the index, falling back to direct
// extraction from the library file for documents not yet indexed.
func (a *App) PageText(ctx context.Context, filename string, pageNumber int) (string, error) {
	if text := a.ix.PageText(filename, pageNumber); text != "" {
		return text, nil
	}
	return a.ingestor.PageText(ctx, a.library.Path(filename), pageNumber)
}

// FileText resolves a document's full text the same way as PageText.
func (a *App) FileText(ctx context.Context, filename string) (string, error) {
	if text := a.ix.FileText(filename); text != "" {
		return text, nil
	}
	return a.ingestor.FileText(ctx, a.library.Path(filename))
}

/// Recover rebuilds the in-memory state from disk: the library catalog and
// index from document_library, the clip cache and finished artifacts from
// the audio directory. Per-file indexing trouble is logged, not fatal.
func (a *App) Recover(ctx context.Context) error {
	docs, err := a.library.Scan()
	if err != nil {
		return fmt.Errorf("scanning library: %w", err)
	}

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(a.cfg.Server.BGWorkers)
	for _, doc := range docs {
		if a.ix.Has(doc.Filename) {
			continue
		}
		eg.Go(func() error {
			if err := a.indexFile(ctx, a.library.Path(doc.Filename)); err != nil {
				slog.Warn("Recovery skipped a library file", "file", doc.Filename, "error", err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	clips := a.dispatcher.WarmCache()
	artifacts := a.pipeline.WarmArtifacts()

	slog.Info("Recovered state",
		"documents", len(docs),
		"indexed_chunks", a.ix.Len(),
		"cached_clips", clips,
		"artifacts", artifacts)
	return nil
}

// Watch follows the library directory and indexes files dropped into it
// outside the API, the way the upload endpoint would.
func (a *App) Watch(ctx context.Context) error {
	return a.library.Watch(ctx, func(filenames []string) {
		for _, filename := range filenames {
			if a.ix.Has(filename) {
				continue
			}
			if err := a.IndexLibraryFile(ctx, filename); err != nil {
				slog.Warn("Failed to index watched file", "file", filename, "error", err)
			}
		}
	})
}
