// Package library manages the on-disk document store behind ingestion: it
// validates and saves uploads under safe names, keeps an in-memory catalog,
// and watches the directory so files dropped in by other means still get
// indexed.
package library

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/natefinch/atomic"
)

// fallbackName stands in for uploads that arrive without a usable filename.
const fallbackName = "upload.bin"

// Document is one catalogued library file.
type Document struct {
	Filename string    `json:"filename"`
	Size     int64     `json:"size"`
	AddedAt  time.Time `json:"added_at"`
	URL      string    `json:"url"`
}

// RejectedError refuses a file before it touches the library.
type RejectedError struct {
	Filename string
	Reason   string
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("%s rejected: %s", e.Filename, e.Reason)
}

// Library is the document store rooted at one directory.
type Library struct {
	dir      string
	maxSize  int64
	patterns []string

	mu   sync.RWMutex
	docs map[string]Document
}

type Opt func(*Library)

// WithMaxFileSize caps accepted uploads in bytes.
func WithMaxFileSize(n int64) Opt {
	return func(l *Library) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// WithAllowedExtensions restricts accepted names. Entries are either plain
// extensions (".pdf") or glob patterns ("report-*.pdf"), matched
// case-insensitively against the leaf name.
func WithAllowedExtensions(exts []string) Opt {
	return func(l *Library) {
		l.patterns = l.patterns[:0]
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if strings.HasPrefix(ext, ".") {
				ext = "*" + ext
			}
			l.patterns = append(l.patterns, ext)
		}
	}
}

// New opens (creating if needed) the library directory.
func New(dir string, opts ...Opt) (*Library, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating library dir: %w", err)
	}
	l := &Library{
		dir:      dir,
		maxSize:  50 << 20,
		patterns: []string{"*.pdf"},
		docs:     make(map[string]Document),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Dir returns the library root.
func (l *Library) Dir() string {
	return l.dir
}

// Sanitize reduces an arriving filename to its leaf so uploads can never
// escape the library directory.
func Sanitize(name string) string {
	leaf := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if leaf == "." || leaf == ".." || leaf == string(filepath.Separator) || leaf == "" {
		return fallbackName
	}
	return leaf
}

// Save validates and writes one upload, then catalogs it. The returned
// Document carries the sanitized name the file was stored under.
func (l *Library) Save(name string, r io.Reader) (Document, error) {
	leaf := Sanitize(name)
	if !l.allowed(leaf) {
		return Document{}, &RejectedError{Filename: leaf, Reason: "extension not allowed"}
	}

	data, err := io.ReadAll(io.LimitReader(r, l.maxSize+1))
	if err != nil {
		return Document{}, fmt.Errorf("reading upload %s: %w", leaf, err)
	}
	if int64(len(data)) > l.maxSize {
		return Document{}, &RejectedError{Filename: leaf, Reason: fmt.Sprintf("larger than %d bytes", l.maxSize)}
	}

	path := filepath.Join(l.dir, leaf)
	if err := atomic.WriteFile(path, bytes.NewReader(data)); err != nil {
		return Document{}, fmt.Errorf("writing %s: %w", leaf, err)
	}

	doc := Document{
		Filename: leaf,
		Size:     int64(len(data)),
		AddedAt:  time.Now().UTC(),
		URL:      "/library/" + leaf,
	}
	l.mu.Lock()
	l.docs[leaf] = doc
	l.mu.Unlock()
	return doc, nil
}

// Record catalogs a file that already exists in the library directory.
func (l *Library) Record(filename string) (Document, error) {
	leaf := Sanitize(filename)
	info, err := os.Stat(filepath.Join(l.dir, leaf))
	if err != nil {
		return Document{}, err
	}
	doc := Document{
		Filename: leaf,
		Size:     info.Size(),
		AddedAt:  info.ModTime().UTC(),
		URL:      "/library/" + leaf,
	}
	l.mu.Lock()
	l.docs[leaf] = doc
	l.mu.Unlock()
	return doc, nil
}

// Forget drops a file from the catalog. The file itself is untouched.
func (l *Library) Forget(filename string) {
	l.mu.Lock()
	delete(l.docs, Sanitize(filename))
	l.mu.Unlock()
}

// Scan catalogs every allowed file already on disk and returns the result,
// sorted by name. Used at startup before re-ingesting.
func (l *Library) Scan() ([]Document, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("scanning library: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !l.allowed(entry.Name()) {
			continue
		}
		if _, err := l.Record(entry.Name()); err != nil {
			return nil, err
		}
	}
	return l.Documents(), nil
}

// Documents returns the catalog sorted by filename.
func (l *Library) Documents() []Document {
	l.mu.RLock()
	docs := make([]Document, 0, len(l.docs))
	for _, doc := range l.docs {
		docs = append(docs, doc)
	}
	l.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool {
		return docs[i].Filename < docs[j].Filename
	})
	return docs
}

// Path returns the absolute location of a library file, sanitizing the name
// first. The file may or may not exist.
func (l *Library) Path(filename string) string {
	return filepath.Join(l.dir, Sanitize(filename))
}

// Has reports whether the catalog holds the file.
func (l *Library) Has(filename string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.docs[Sanitize(filename)]
	return ok
}

func (l *Library) allowed(leaf string) bool {
	if len(l.patterns) == 0 {
		return true
	}
	lower := strings.ToLower(leaf)
	for _, pattern := range l.patterns {
		if ok, err := doublestar.Match(pattern, lower); err == nil && ok {
			return true
		}
	}
	return false
}
