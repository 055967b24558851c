package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/mohammad-safakhou/advisor/internal/agent/config"
	core "github.com/mohammad-safakhou/advisor/internal/agent/core"
	"github.com/mohammad-safakhou/advisor/internal/agent/telemetry"
	"github.com/mohammad-safakhou/advisor/internal/retrieval"
	"github.com/mohammad-safakhou/advisor/internal/retrieval/loader"
	"github.com/mohammad-safakhou/advisor/internal/store"
)

const fetchTimeout = 30 * time.Second

// app is the composition root shared by the subcommands.
type app struct {
	cfg       *config.Config
	metrics   *telemetry.Provider
	telemetry *telemetry.Telemetry
	openai    *core.OpenAIProvider
	llm       core.CompletionClient
	index     *retrieval.Index
	loader    *loader.Loader

	corpusHash string
}

func newApp(cfgPath string) (*app, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}
	metrics, err := telemetry.Setup(context.Background(), cfg.Telemetry)
	if err != nil {
		return nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry, log.New(log.Writer(), "[TELEMETRY] ", log.LstdFlags))

	provider := core.NewOpenAIProvider(cfg.LLM)
	retrievalLogger := log.New(log.Writer(), "[RETRIEVAL] ", log.LstdFlags)
	var opts []retrieval.Option
	opts = append(opts, retrieval.WithLogger(retrievalLogger))
	if provider.Configured() == nil {
		opts = append(opts, retrieval.WithEmbedder(provider))
	} else {
		retrievalLogger.Printf("no api key: completions return empty text, ranking is BM25 only")
	}

	return &app{
		cfg:       cfg,
		metrics:   metrics,
		telemetry: tele,
		openai:    provider,
		llm:       core.NewCompletionClient(cfg.LLM),
		index:     retrieval.New(cfg.Retrieval, opts...),
		loader:    loader.New(loader.ChromeFetcher{Timeout: fetchTimeout}, retrievalLogger),
	}, nil
}

// loadCorpus rebuilds the index from the configured corpus unless the corpus
// is unchanged since the last build.
func (a *app) loadCorpus(ctx context.Context) error {
	docs, err := a.loader.Load(ctx, a.cfg.Retrieval)
	if err != nil {
		return fmt.Errorf("load corpus: %w", err)
	}
	hash := loader.Fingerprint(docs)
	if hash == a.corpusHash && a.corpusHash != "" {
		a.loader.Logger.Printf("corpus unchanged (%d documents), keeping index", len(docs))
		return nil
	}
	if err := a.index.Build(ctx, docs); err != nil {
		return err
	}
	a.corpusHash = hash
	return nil
}

func (a *app) pipeline(cfg *config.Config) (*core.Pipeline, error) {
	return core.NewPipeline(cfg, a.llm, a.index,
		core.WithLogger(log.New(log.Writer(), "[PIPELINE] ", log.LstdFlags)),
		core.WithTelemetry(a.telemetry),
	)
}

func (a *app) openStore(ctx context.Context) (store.RunStore, error) {
	return store.Open(ctx, a.cfg.Storage)
}

func (a *app) close() {
	a.telemetry.Shutdown()
	_ = a.index.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = a.metrics.Shutdown(ctx)
}
