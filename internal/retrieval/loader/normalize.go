package loader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	stdhtml "html"
	"net/url"
	"path"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mohammad-safakhou/advisor/internal/retrieval"
)

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
	"msclkid":      {},
}

// CanonicalURL normalises a manifest URL so the same page listed twice is
// fetched once. Scheme and host are lowercased, default ports, fragments and
// tracking parameters are dropped, and the query is sorted.
func CanonicalURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errors.New("empty url")
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", err
	}
	u.Scheme = strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return "", errors.New("url missing host")
	}
	if port := u.Port(); port != "" && !(u.Scheme == "http" && port == "80") && !(u.Scheme == "https" && port == "443") {
		host += ":" + port
	}
	u.Host = host

	p := path.Clean("/" + u.Path)
	if p != "/" && strings.HasSuffix(u.Path, "/") {
		p += "/"
	}
	u.Path = p
	u.RawPath = ""
	u.Fragment = ""

	q := u.Query()
	for key := range q {
		if _, drop := trackingParams[strings.ToLower(key)]; drop {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

// stripMarkup removes every tag, including script and style bodies. It backs
// ExtractHTML when readability finds no article.
func stripMarkup(html string) string {
	strictOnce.Do(func() { strictPolicy = bluemonday.StrictPolicy() })
	return strings.Join(strings.Fields(stdhtml.UnescapeString(strictPolicy.Sanitize(html))), " ")
}

// Fingerprint hashes the corpus with whitespace collapsed, so a refresh that
// loads identical content can skip re-indexing.
func Fingerprint(docs []retrieval.Document) string {
	h := sha256.New()
	for _, d := range docs {
		h.Write([]byte(d.Name))
		h.Write([]byte{0})
		for _, page := range d.Pages {
			h.Write([]byte(strings.Join(strings.Fields(page), " ")))
			h.Write([]byte{'\f'})
		}
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
