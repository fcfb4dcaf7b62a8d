// Package cmd provides CLI commands for repoquery.
//
// Commands:
//   - serve: HTTP API server (direct JSON endpoint and agent action endpoint)
//   - ask: one-shot retrieval-augmented query against a local index
//
// Signal handling and graceful shutdown are implemented via context
// cancellation.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/repoquery/repoquery/internal/log"
)

// Execute is the main entry point for the repoquery CLI.
func Execute() error {
	// Initialize logger once at entry point
	cfg := log.Config{Level: slog.LevelInfo}
	if os.Getenv("DEBUG") != "" {
		cfg.Level = slog.LevelDebug
	}
	slog.SetDefault(log.New(cfg))

	if len(os.Args) < 2 {
		runHelp()
		return nil
	}

	switch os.Args[1] {
	case "serve":
		return runServe()
	case "ask":
		return runAsk()
	case "version", "--version", "-v":
		runVersion()
		return nil
	case "help", "--help", "-h":
		runHelp()
		return nil
	default:
		return fmt.Errorf("unknown command: %s", os.Args[1])
	}
}

// runHelp displays the help message.
func runHelp() {
	fmt.Println("repoquery - retrieval-augmented repository search")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  repoquery serve [addr]        Start HTTP API server (default: 127.0.0.1:8080)")
	fmt.Println("  repoquery ask <question>      Answer a question against the local index")
	fmt.Println("  repoquery --version           Show version information")
	fmt.Println("  repoquery --help              Show this help")
	fmt.Println()
	fmt.Println("Environment Variables:")
	fmt.Println("  GEMINI_API_KEY        Required: Gemini API key")
	fmt.Println("  DATABASE_URL          Optional: PostgreSQL connection URL")
	fmt.Println("  REPOQUERY_INDEX_ROOT  Optional: index artifact directory")
	fmt.Println("  DEBUG                 Optional: Enable debug logging")
}
