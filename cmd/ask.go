package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/firebase/genkit/go/genkit"
	"github.com/firebase/genkit/go/plugins/googlegenai"

	"github.com/repoquery/repoquery/internal/answer"
	"github.com/repoquery/repoquery/internal/blob"
	"github.com/repoquery/repoquery/internal/catalog"
	"github.com/repoquery/repoquery/internal/config"
	"github.com/repoquery/repoquery/internal/embed"
)

// runAsk answers a single question against the local index artifacts.
// It skips the database and usage accounting entirely; this is a local
// tool, not the metered API surface.
func runAsk() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err = cfg.ValidateServe(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	askFlags := flag.NewFlagSet("ask", flag.ContinueOnError)
	askFlags.SetOutput(os.Stderr)
	tenant := askFlags.String("tenant", cfg.DefaultTenant, "Index partition to search")
	topK := askFlags.Int("k", cfg.DefaultTopK, "Number of repositories to retrieve")

	args := []string{}
	if len(os.Args) > 2 {
		args = os.Args[2:]
	}
	if err := askFlags.Parse(args); err != nil {
		return fmt.Errorf("parsing ask flags: %w", err)
	}

	question := strings.TrimSpace(strings.Join(askFlags.Args(), " "))
	if question == "" {
		return errors.New("usage: repoquery ask [--tenant name] [--k n] <question>")
	}

	ctx := context.Background()
	logger := slog.Default()

	g := genkit.Init(ctx, genkit.WithPlugins(&googlegenai.GoogleAI{}))
	if g == nil {
		return errors.New("initializing genkit")
	}

	embedder := googlegenai.GoogleAIEmbedder(g, cfg.EmbedderModel)
	if embedder == nil {
		return fmt.Errorf("embedder %q not found", cfg.EmbedderModel)
	}

	store := catalog.NewStore(blob.NewFSFetcher(cfg.IndexRoot), logger)
	client := embed.New(embedder, cfg.Dimension, logger)
	synth := answer.New(g, cfg.FullModelName(), cfg.Temperature, int32(cfg.MaxTokens), logger)

	ti, err := store.Load(ctx, *tenant)
	if err != nil {
		return fmt.Errorf("loading index for %q: %w", *tenant, err)
	}

	vec, err := client.Embed(ctx, question)
	if err != nil {
		return fmt.Errorf("embedding question: %w", err)
	}

	results, err := catalog.Search(ti.Index, ti.Records, vec, *topK)
	if err != nil {
		return fmt.Errorf("searching index: %w", err)
	}

	text, err := synth.Synthesize(ctx, question, results)
	if err != nil {
		return fmt.Errorf("synthesizing answer: %w", err)
	}

	fmt.Println(text)
	fmt.Println()
	fmt.Println("Sources:")
	for _, r := range results {
		name := r.Record["repository"]
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %-40s %.3f\n", name, r.Similarity)
	}

	return nil
}
