package core

import (
	"bytes"
	"encoding/json"
	"strings"
)

// unresolvedCitation labels a source the verifier named but that was never
// retrieved.
const unresolvedCitation = "?"

// SourceRef is a source entry as the verifier model returned it: either an
// object with a citation (and possibly a note) or a bare citation string.
// This is the only place where model-controlled shape variance is absorbed.
type SourceRef struct {
	Citation string
	Note     string
	Bare     bool
}

func (r *SourceRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	switch {
	case len(b) == 0 || bytes.Equal(b, []byte("null")):
		*r = SourceRef{}
	case b[0] == '"':
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = SourceRef{Citation: s, Bare: true}
	case b[0] == '{':
		var obj struct {
			Citation string `json:"citation"`
			Note     string `json:"note"`
		}
		if err := json.Unmarshal(b, &obj); err != nil {
			return err
		}
		*r = SourceRef{Citation: obj.Citation, Note: obj.Note}
	default:
		// numbers and other scalars are kept as their literal text
		*r = SourceRef{Citation: string(b), Bare: true}
	}
	return nil
}

// citationKey canonicalizes a label for lookup: surrounding whitespace and the
// brackets used in the research block are ignored.
func citationKey(c string) string {
	c = strings.TrimSpace(c)
	c = strings.TrimPrefix(c, "[")
	c = strings.TrimSuffix(c, "]")
	return strings.TrimSpace(c)
}

// normalizeSources resolves refs against the retrieved sources. Notes always
// come from the retrieved passage; a ref that does not resolve is emitted as
// {"?", ""}. Duplicate labels are collapsed. It returns the normalized list
// and the number of unresolved refs.
func normalizeSources(refs []SourceRef, retrieved []Source) ([]Source, int) {
	lookup := make(map[string]Source, len(retrieved))
	for _, s := range retrieved {
		key := citationKey(s.Citation)
		if _, ok := lookup[key]; !ok {
			lookup[key] = s
		}
	}
	out := make([]Source, 0, len(refs))
	seen := make(map[string]struct{}, len(refs))
	unresolved := 0
	for _, ref := range refs {
		src, ok := lookup[citationKey(ref.Citation)]
		if !ok || citationKey(ref.Citation) == "" {
			unresolved++
			src = Source{Citation: unresolvedCitation}
		}
		if _, dup := seen[src.Citation]; dup {
			continue
		}
		seen[src.Citation] = struct{}{}
		out = append(out, src)
	}
	return out, unresolved
}

// refsFromSources wraps retrieved sources as refs for the fallback path.
func refsFromSources(sources []Source) []SourceRef {
	refs := make([]SourceRef, 0, len(sources))
	for _, s := range sources {
		refs = append(refs, SourceRef{Citation: s.Citation, Note: s.Note})
	}
	return refs
}

// countMarkers counts unsupported-claim markers across narrative fields.
func countMarkers(d Deliverable) int {
	n := strings.Count(d.ExecutiveSummary, MarkerUnsupported) + strings.Count(d.ClientEmail, MarkerUnsupported)
	for _, item := range d.ActionItems {
		n += strings.Count(item.Task, MarkerUnsupported)
		n += strings.Count(item.Owner, MarkerUnsupported)
		n += strings.Count(item.DueDate, MarkerUnsupported)
	}
	return n
}
