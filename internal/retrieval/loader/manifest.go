package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mohammad-safakhou/advisor/internal/retrieval"
	"gopkg.in/yaml.v3"
)

// Manifest lists corpus entries explicitly instead of scanning a directory.
//
//	documents:
//	  - name: claims-handbook.txt
//	    path: handbook/claims.txt
//	  - name: fraud-bulletin
//	    url: https://example.com/bulletin
type Manifest struct {
	Documents []ManifestEntry `yaml:"documents"`
}

// ManifestEntry is either a local path or a URL.
type ManifestEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path,omitempty"`
	URL  string `yaml:"url,omitempty"`
}

// ParseManifest decodes and validates a manifest.
func ParseManifest(b []byte) (Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(b, &m); err != nil {
		return Manifest{}, fmt.Errorf("parse manifest: %w", err)
	}
	for i, e := range m.Documents {
		hasPath := strings.TrimSpace(e.Path) != ""
		hasURL := strings.TrimSpace(e.URL) != ""
		if hasPath == hasURL {
			return Manifest{}, fmt.Errorf("manifest entry %d: exactly one of path or url is required", i)
		}
		if strings.TrimSpace(e.Name) == "" {
			if hasPath {
				m.Documents[i].Name = filepath.Base(e.Path)
			} else {
				m.Documents[i].Name = e.URL
			}
		}
	}
	return m, nil
}

// LoadManifest reads the manifest at path and loads each entry. Relative
// paths resolve against the manifest's directory. Entries that fail to load
// are logged and skipped.
func (l *Loader) LoadManifest(ctx context.Context, path string) ([]retrieval.Document, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	m, err := ParseManifest(b)
	if err != nil {
		return nil, err
	}
	base := filepath.Dir(path)

	docs := make([]retrieval.Document, 0, len(m.Documents))
	seen := make(map[string]bool)
	for _, e := range m.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if e.URL != "" {
			canonical, err := CanonicalURL(e.URL)
			if err != nil {
				l.Logger.Printf("skip manifest entry %s: %v", e.Name, err)
				continue
			}
			if seen[canonical] {
				l.Logger.Printf("skip manifest entry %s: duplicate of %s", e.Name, canonical)
				continue
			}
			seen[canonical] = true
		}
		var (
			doc  retrieval.Document
			lerr error
		)
		if e.URL != "" {
			doc, lerr = l.LoadURL(ctx, e.URL, e.Name)
		} else {
			p := e.Path
			if !filepath.IsAbs(p) {
				p = filepath.Join(base, p)
			}
			doc, lerr = l.LoadFile(p, e.Name)
		}
		if lerr != nil {
			l.Logger.Printf("skip manifest entry %s: %v", e.Name, lerr)
			continue
		}
		docs = append(docs, doc)
	}
	return docs, nil
}
