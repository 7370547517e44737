package ingest

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/omnitech/omnidesk/internal/classify"
	"github.com/omnitech/omnidesk/internal/logging"
	"github.com/omnitech/omnidesk/internal/retrieval"
)

//go:embed corpus
var bundled embed.FS

// Index is the part of the retriever the loader writes to.
type Index interface {
	Index(ctx context.Context, docs []retrieval.Document) error
	Count(ctx context.Context) (int, error)
	Reset(ctx context.Context) error
	Identity(ctx context.Context) (string, error)
	IndexedIdentity(ctx context.Context) (string, error)
	SetIndexedIdentity(ctx context.Context, id string) error
}

// Options controls one corpus load.
type Options struct {
	Dir       string // extra knowledge directory; its files follow the bundled ones
	ChunkSize int
	Reload    bool // re-index even when documents already exist
}

// Stats summarizes a load.
type Stats struct {
	Files   int  `json:"files"`
	Chunks  int  `json:"chunks"`
	Skipped bool `json:"skipped"`
	Rebuilt bool `json:"rebuilt,omitempty"` // embedder changed since the last build
}

// Loader turns knowledge files into indexed document chunks. A file's
// category is its parent directory when that names a known category;
// otherwise the classifier picks one from the file's text.
type Loader struct {
	index      Index
	categories *classify.Table
	logger     *zap.Logger
}

func NewLoader(index Index, categories *classify.Table, logger *zap.Logger) *Loader {
	return &Loader{index: index, categories: categories, logger: logging.OrNop(logger)}
}

// Load indexes the bundled corpus plus opts.Dir. It is a no-op when the index
// already holds documents built by the same embedder, unless opts.Reload is
// set. An index built by a different embedder or vector width is rebuilt.
func (l *Loader) Load(ctx context.Context, opts Options) (Stats, error) {
	n, err := l.index.Count(ctx)
	if err != nil {
		return Stats{}, fmt.Errorf("counting documents: %w", err)
	}
	current, idErr := l.index.Identity(ctx)
	rebuilt := false
	if n > 0 && !opts.Reload {
		if idErr != nil {
			// Keep serving the existing index while the embedder is unreachable.
			l.logger.Warn("cannot verify knowledge index embedder", zap.Error(idErr))
			return Stats{Skipped: true}, nil
		}
		indexed, err := l.index.IndexedIdentity(ctx)
		if err != nil {
			return Stats{}, fmt.Errorf("reading index identity: %w", err)
		}
		if indexed == current {
			l.logger.Debug("corpus already indexed", zap.Int("documents", n), zap.String("embedder", current))
			return Stats{Skipped: true}, nil
		}
		l.logger.Warn("embedder changed, rebuilding knowledge index",
			zap.String("indexed", indexed), zap.String("current", current))
		rebuilt = true
	}
	if idErr != nil {
		return Stats{}, fmt.Errorf("probing embedder: %w", idErr)
	}
	if n > 0 {
		if err := l.index.Reset(ctx); err != nil {
			return Stats{}, fmt.Errorf("resetting index: %w", err)
		}
	}

	sub, err := fs.Sub(bundled, "corpus")
	if err != nil {
		return Stats{}, err
	}
	docs, files, err := l.collect(sub, "bundled")
	if err != nil {
		return Stats{}, err
	}

	if opts.Dir != "" {
		extra, extraFiles, err := l.collect(os.DirFS(opts.Dir), opts.Dir)
		if err != nil {
			return Stats{}, fmt.Errorf("reading corpus dir %s: %w", opts.Dir, err)
		}
		docs = append(docs, extra...)
		files += extraFiles
	}

	var chunks []retrieval.Document
	for _, d := range docs {
		for _, c := range Chunk(d.Text, opts.ChunkSize) {
			chunks = append(chunks, retrieval.Document{Source: d.Source, Category: d.Category, Text: c})
		}
	}

	if err := l.index.Index(ctx, chunks); err != nil {
		return Stats{}, err
	}
	if err := l.index.SetIndexedIdentity(ctx, current); err != nil {
		return Stats{}, fmt.Errorf("recording index identity: %w", err)
	}
	l.logger.Info("corpus indexed", zap.Int("files", files), zap.Int("chunks", len(chunks)))
	return Stats{Files: files, Chunks: len(chunks), Rebuilt: rebuilt}, nil
}

// collect reads every supported file under fsys in lexical path order.
func (l *Loader) collect(fsys fs.FS, origin string) ([]retrieval.Document, int, error) {
	var paths []string
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && supported(p) {
			paths = append(paths, p)
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(paths)

	var docs []retrieval.Document
	for _, p := range paths {
		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return nil, 0, fmt.Errorf("reading %s: %w", p, err)
		}
		text, err := extractText(p, data)
		if err != nil {
			// One unreadable PDF should not take the knowledge base down.
			l.logger.Warn("skipping knowledge file", zap.String("path", p), zap.Error(err))
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, retrieval.Document{
			Source:   p,
			Category: l.categoryFor(p, text),
			Text:     text,
		})
	}
	l.logger.Debug("collected knowledge files", zap.String("origin", origin), zap.Int("files", len(docs)))
	return docs, len(docs), nil
}

func (l *Loader) categoryFor(p, text string) string {
	if dir := path.Base(path.Dir(p)); dir != "." {
		if _, ok := l.categories.Get(dir); ok {
			return dir
		}
	}
	sample := text
	if r := []rune(sample); len(r) > 500 {
		sample = string(r[:500])
	}
	return l.categories.Classify(sample).Category
}
