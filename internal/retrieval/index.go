package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/blevesearch/bleve"
	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	"github.com/mohammad-safakhou/advisor/internal/agent/core"
	"golang.org/x/sync/errgroup"
)

const (
	embedBatchSize   = 64
	embedConcurrency = 4
	candidateFactor  = 3
)

// Embedder turns texts into vectors. core.OpenAIProvider implements it.
type Embedder interface {
	Embed(ctx context.Context, model string, inputs []string) ([][]float32, error)
}

// Index is the grounding index: BM25 over chunk text, optionally fused with
// embedding similarity. Searches hold a read lock for their duration so a
// concurrent Build never closes a snapshot in use.
type Index struct {
	embedder       Embedder
	embeddingModel string
	chunkSize      int
	chunkOverlap   int
	noteMaxChars   int
	logger         *log.Logger

	mu   sync.RWMutex
	snap *snapshot
}

// snapshot is one immutable build of the corpus.
type snapshot struct {
	bleve   bleve.Index
	chunks  map[string]Chunk
	order   []string
	vectors map[string][]float32
}

// Option configures an Index
type Option func(*Index)

// WithEmbedder enables hybrid search. Without one, ranking is BM25 only.
func WithEmbedder(e Embedder) Option {
	return func(ix *Index) { ix.embedder = e }
}

// WithLogger sets the index logger
func WithLogger(l *log.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// New returns an empty index configured from cfg.
func New(cfg config.RetrievalConfig, opts ...Option) *Index {
	ix := &Index{
		embeddingModel: cfg.EmbeddingModel,
		chunkSize:      cfg.ChunkSize,
		chunkOverlap:   cfg.ChunkOverlap,
		noteMaxChars:   cfg.NoteMaxChars,
		logger:         log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(ix)
	}
	return ix
}

// Build chunks and indexes docs, replacing any previous contents only when
// the new build succeeds.
func (ix *Index) Build(ctx context.Context, docs []Document) error {
	snap, err := ix.build(ctx, docs)
	if err != nil {
		return err
	}
	ix.mu.Lock()
	old := ix.snap
	ix.snap = snap
	ix.mu.Unlock()
	if old != nil {
		_ = old.bleve.Close()
	}
	ix.logger.Printf("indexed %d chunk(s) from %d document(s), vectors=%d", len(snap.order), len(docs), len(snap.vectors))
	return nil
}

func (ix *Index) build(ctx context.Context, docs []Document) (*snapshot, error) {
	bi, err := bleve.NewMemOnly(bleve.NewIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("bleve index: %w", err)
	}
	snap := &snapshot{
		bleve:   bi,
		chunks:  make(map[string]Chunk),
		vectors: make(map[string][]float32),
	}

	batch := bi.NewBatch()
	for _, doc := range docs {
		for _, c := range ChunkDocument(doc, ix.chunkSize, ix.chunkOverlap) {
			if _, dup := snap.chunks[c.ID]; dup {
				continue
			}
			snap.chunks[c.ID] = c
			snap.order = append(snap.order, c.ID)
			if err := batch.Index(c.ID, map[string]interface{}{"text": c.Text, "doc": c.Doc}); err != nil {
				_ = bi.Close()
				return nil, fmt.Errorf("index chunk %s: %w", c.ID, err)
			}
		}
	}
	if err := bi.Batch(batch); err != nil {
		_ = bi.Close()
		return nil, fmt.Errorf("bleve batch: %w", err)
	}

	if ix.embedder != nil && len(snap.order) > 0 {
		vectors, err := ix.embedAll(ctx, snap)
		if err != nil {
			if errors.Is(err, core.ErrMissingCredential) {
				ix.logger.Printf("embeddings disabled: %v", err)
			} else {
				ix.logger.Printf("embedding failed, falling back to BM25 only: %v", err)
			}
		} else {
			snap.vectors = vectors
		}
	}
	return snap, nil
}

func (ix *Index) embedAll(ctx context.Context, snap *snapshot) (map[string][]float32, error) {
	results := make([][]float32, len(snap.order))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)
	for start := 0; start < len(snap.order); start += embedBatchSize {
		start := start
		end := min(start+embedBatchSize, len(snap.order))
		g.Go(func() error {
			inputs := make([]string, 0, end-start)
			for _, id := range snap.order[start:end] {
				inputs = append(inputs, snap.chunks[id].Text)
			}
			vecs, err := ix.embedder.Embed(gctx, ix.embeddingModel, inputs)
			if err != nil {
				return err
			}
			copy(results[start:end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string][]float32, len(results))
	for i, id := range snap.order {
		if results[i] != nil {
			out[id] = results[i]
		}
	}
	return out, nil
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	if ix == nil {
		return 0
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	if ix.snap == nil {
		return 0
	}
	return len(ix.snap.order)
}

// Search returns up to k passages ranked by relevance to query. An empty
// index, blank query or non-positive k yields an empty slice.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]core.Source, error) {
	out := []core.Source{}
	if ix == nil || k <= 0 || strings.TrimSpace(query) == "" {
		return out, nil
	}
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	snap := ix.snap
	if snap == nil || len(snap.order) == 0 {
		return out, nil
	}

	lexical, err := snap.bm25(query, k*candidateFactor)
	if err != nil {
		return nil, fmt.Errorf("bm25 search: %w", err)
	}
	ranked := lexical
	if ix.embedder != nil && len(snap.vectors) > 0 {
		vecs, err := ix.embedder.Embed(ctx, ix.embeddingModel, []string{query})
		switch {
		case err != nil:
			ix.logger.Printf("query embedding failed, using BM25 only: %v", err)
		case len(vecs) == 1:
			semantic := rankByCosine(vecs[0], snap.order, snap.vectors, k*candidateFactor)
			ranked = fuseRRF(k, lexical, semantic)
		}
	}
	if len(ranked) > k {
		ranked = ranked[:k]
	}

	for _, h := range ranked {
		c, ok := snap.chunks[h.id]
		if !ok {
			continue
		}
		out = append(out, core.Source{Citation: c.Citation(), Note: clip(c.Text, ix.noteMaxChars)})
	}
	return out, nil
}

func (s *snapshot) bm25(query string, n int) ([]hit, error) {
	q := bleve.NewMatchQuery(query)
	q.SetField("text")
	req := bleve.NewSearchRequestOptions(q, n, 0, false)
	res, err := s.bleve.Search(req)
	if err != nil {
		return nil, err
	}
	out := make([]hit, 0, len(res.Hits))
	for i, h := range res.Hits {
		out = append(out, hit{id: h.ID, score: h.Score, rank: i + 1})
	}
	return out, nil
}

// Close releases the current build.
func (ix *Index) Close() error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if ix.snap == nil {
		return nil
	}
	err := ix.snap.bleve.Close()
	ix.snap = nil
	return err
}

func clip(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
