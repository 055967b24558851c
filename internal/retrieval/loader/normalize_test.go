package loader

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/mohammad-safakhou/advisor/internal/retrieval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanonicalURL(t *testing.T) {
	cases := map[string]string{
		"HTTPS://Example.COM:443/a/../b/?utm_source=x&z=1&a=2#frag": "https://example.com/b/?a=2&z=1",
		"http://example.com:80":                                    "http://example.com/",
		"example.com/bulletin":                                     "https://example.com/bulletin",
		"https://example.com:8443/x?fbclid=abc":                    "https://example.com:8443/x",
	}
	for in, want := range cases {
		got, err := CanonicalURL(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, bad := range []string{"", "   ", "https://"} {
		_, err := CanonicalURL(bad)
		assert.Error(t, err, bad)
	}
}

func TestStripMarkup(t *testing.T) {
	got := stripMarkup("<div><script>alert(1)</script><p>Hail   damage</p>\n<p>claims</p></div>")
	assert.Equal(t, "Hail damage claims", got)
}

func TestFingerprint(t *testing.T) {
	a := []retrieval.Document{retrieval.NewTextDocument("claims.md", "Glass repairs go to partner shops.")}
	b := []retrieval.Document{retrieval.NewTextDocument("claims.md", "Glass  repairs go to\npartner shops.")}
	c := []retrieval.Document{retrieval.NewTextDocument("fraud.md", "Glass repairs go to partner shops.")}

	assert.Equal(t, Fingerprint(a), Fingerprint(b))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(c))
	assert.NotEqual(t, Fingerprint(a), Fingerprint(nil))
}

func TestLoadManifestSkipsDuplicateURLs(t *testing.T) {
	dir := t.TempDir()
	manifest := filepath.Join(dir, "corpus.yaml")
	writeFile(t, manifest, `
documents:
  - name: bulletin
    url: https://example.com/bulletin
  - name: bulletin-again
    url: https://EXAMPLE.com/bulletin?utm_source=newsletter
`)
	fetcher := &fakeFetcher{pages: map[string]string{"https://example.com/bulletin": articleHTML}}

	docs, err := quietLoader(fetcher).LoadManifest(context.Background(), manifest)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "bulletin", docs[0].Name)
	assert.Len(t, fetcher.calls, 1)
}
