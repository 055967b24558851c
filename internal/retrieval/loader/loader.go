// Package loader reads corpus documents for the grounding index from a
// directory, a YAML manifest, or remote pages.
package loader

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-shiori/go-readability"
	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/mohammad-safakhou/advisor/internal/retrieval"
)

// Loader reads documents. A nil Fetcher disables URL entries.
type Loader struct {
	Fetcher Fetcher
	Logger  *log.Logger
}

// New returns a loader with the given fetcher and logger.
func New(fetcher Fetcher, logger *log.Logger) *Loader {
	if logger == nil {
		logger = log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	}
	return &Loader{Fetcher: fetcher, Logger: logger}
}

// LoadDir reads every supported file under dir in lexical path order. A
// missing directory yields no documents and no error.
func (l *Loader) LoadDir(ctx context.Context, dir string) ([]retrieval.Document, error) {
	if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
		l.Logger.Printf("docs dir %s not found, corpus is empty", dir)
		return nil, nil
	}

	var paths []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if _, ok := kindOf(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(paths)

	docs := make([]retrieval.Document, 0, len(paths))
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		doc, err := l.LoadFile(path, filepath.Base(path))
		if err != nil {
			l.Logger.Printf("skip %s: %v", path, err)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

type fileKind int

const (
	kindText fileKind = iota
	kindHTML
)

func kindOf(path string) (fileKind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown":
		return kindText, true
	case ".html", ".htm":
		return kindHTML, true
	default:
		return 0, false
	}
}

// LoadFile reads one file and names the document name.
func (l *Loader) LoadFile(path, name string) (retrieval.Document, error) {
	kind, ok := kindOf(path)
	if !ok {
		return retrieval.Document{}, fmt.Errorf("unsupported file type %q", filepath.Ext(path))
	}
	f, err := os.Open(path)
	if err != nil {
		return retrieval.Document{}, err
	}
	defer f.Close()

	if kind == kindHTML {
		text, err := ExtractHTML(f, "file://"+filepath.ToSlash(path))
		if err != nil {
			return retrieval.Document{}, err
		}
		return retrieval.NewTextDocument(name, text), nil
	}
	b, err := io.ReadAll(f)
	if err != nil {
		return retrieval.Document{}, err
	}
	return retrieval.NewTextDocument(name, string(b)), nil
}

// ExtractHTML returns the readable article text of an HTML page.
func ExtractHTML(r io.Reader, pageURL string) (string, error) {
	u, err := url.Parse(pageURL)
	if err != nil {
		u = &url.URL{}
	}
	raw, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	article, err := readability.FromReader(bytes.NewReader(raw), u)
	if err != nil {
		return "", fmt.Errorf("readability: %w", err)
	}
	text := strings.TrimSpace(article.TextContent)
	if text == "" {
		text = stripMarkup(string(raw))
	}
	if title := strings.TrimSpace(article.Title); title != "" && !strings.HasPrefix(text, title) {
		text = title + "\n\n" + text
	}
	return text, nil
}

// Load reads the configured corpus: the manifest when one is set, otherwise
// the docs directory.
func (l *Loader) Load(ctx context.Context, cfg config.RetrievalConfig) ([]retrieval.Document, error) {
	if strings.TrimSpace(cfg.Manifest) != "" {
		return l.LoadManifest(ctx, cfg.Manifest)
	}
	return l.LoadDir(ctx, cfg.DocsDir)
}
