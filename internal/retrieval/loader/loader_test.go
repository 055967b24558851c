package loader

import (
	"context"
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const articleHTML = `<html><head><title>Flood Coverage Bulletin</title></head>
<body><nav>Home | About</nav><article>
<p>Flood coverage for commercial property is excluded from standard policies and must be purchased as a separate endorsement.</p>
<p>Underwriters should request elevation certificates for every location in a designated flood zone before quoting.</p>
<p>Claims adjusters must document water lines and moisture readings within forty-eight hours of first notice of loss.</p>
</article></body></html>`

type fakeFetcher struct {
	pages map[string]string
	calls []string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	f.calls = append(f.calls, url)
	html, ok := f.pages[url]
	if !ok {
		return "", errors.New("404")
	}
	return html, nil
}

func quietLoader(f Fetcher) *Loader {
	return New(f, log.New(io.Discard, "", 0))
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestLoadDirMissing(t *testing.T) {
	docs, err := quietLoader(nil).LoadDir(context.Background(), filepath.Join(t.TempDir(), "absent"))
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestLoadDirReadsSupportedFilesInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "b_claims.txt"), "page one\fpage two")
	writeFile(t, filepath.Join(dir, "a_notes.md"), "# Notes\nUse the triage checklist.")
	writeFile(t, filepath.Join(dir, "nested", "bulletin.html"), articleHTML)
	writeFile(t, filepath.Join(dir, "ignored.pdf"), "%PDF-1.4")

	docs, err := quietLoader(nil).LoadDir(context.Background(), dir)
	require.NoError(t, err)
	require.Len(t, docs, 3)

	assert.Equal(t, "a_notes.md", docs[0].Name)
	assert.Equal(t, "b_claims.txt", docs[1].Name)
	assert.Equal(t, []string{"page one", "page two"}, docs[1].Pages)
	assert.Equal(t, "bulletin.html", docs[2].Name)
	assert.Contains(t, docs[2].Pages[0], "elevation certificates")
	assert.NotContains(t, docs[2].Pages[0], "<p>")
}

func TestLoadFileUnsupported(t *testing.T) {
	_, err := quietLoader(nil).LoadFile("report.docx", "report")
	assert.Error(t, err)
}

func TestExtractHTMLPrependsTitle(t *testing.T) {
	text, err := ExtractHTML(strings.NewReader(articleHTML), "https://example.com/bulletin")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "Flood Coverage Bulletin"), text)
	assert.Contains(t, text, "moisture readings")
}

func TestParseManifest(t *testing.T) {
	m, err := ParseManifest([]byte(`
documents:
  - path: docs/claims.txt
  - name: bulletin
    url: https://example.com/bulletin
`))
	require.NoError(t, err)
	require.Len(t, m.Documents, 2)
	assert.Equal(t, "claims.txt", m.Documents[0].Name)
	assert.Equal(t, "bulletin", m.Documents[1].Name)
}

func TestParseManifestRejectsAmbiguousEntries(t *testing.T) {
	cases := map[string]string{
		"both":    "documents:\n  - path: a.txt\n    url: https://x\n",
		"neither": "documents:\n  - name: lonely\n",
		"syntax":  "documents: [",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseManifest([]byte(body))
			assert.Error(t, err)
		})
	}
}

func TestLoadManifestMixesFilesAndURLs(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "handbook", "claims.txt"), "Claims handbook text.")
	manifest := filepath.Join(dir, "corpus.yaml")
	writeFile(t, manifest, `
documents:
  - name: handbook
    path: handbook/claims.txt
  - name: bulletin
    url: https://example.com/bulletin
  - name: gone
    url: https://example.com/missing
  - path: handbook/absent.txt
`)
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/bulletin": articleHTML}}

	docs, err := quietLoader(fetcher).LoadManifest(context.Background(), manifest)
	require.NoError(t, err)
	require.Len(t, docs, 2, "failed entries are skipped")
	assert.Equal(t, "handbook", docs[0].Name)
	assert.Equal(t, []string{"Claims handbook text."}, docs[0].Pages)
	assert.Equal(t, "bulletin", docs[1].Name)
	assert.Contains(t, docs[1].Pages[0], "Flood coverage")
	assert.Equal(t, []string{"https://example.com/bulletin", "https://example.com/missing"}, fetcher.calls)
}

func TestLoadURLWithoutFetcher(t *testing.T) {
	_, err := quietLoader(nil).LoadURL(context.Background(), "https://example.com", "x")
	assert.ErrorIs(t, err, ErrNoFetcher)
}

func TestLoadPrefersManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "docs", "a.txt"), "from dir")
	writeFile(t, filepath.Join(dir, "only.txt"), "from manifest")
	manifest := filepath.Join(dir, "m.yaml")
	writeFile(t, manifest, "documents:\n  - path: only.txt\n")

	l := quietLoader(nil)
	docs, err := l.Load(context.Background(), config.RetrievalConfig{DocsDir: filepath.Join(dir, "docs"), Manifest: manifest})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "only.txt", docs[0].Name)

	docs, err = l.Load(context.Background(), config.RetrievalConfig{DocsDir: filepath.Join(dir, "docs")})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a.txt", docs[0].Name)
}
