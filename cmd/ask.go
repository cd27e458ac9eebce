package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/logsift/logsift/internal/rag"
)

const askUsage = "usage: logsift ask <question> [--k N]"

// parseAskArgs splits the arguments after "ask" into the question text
// and the retrieval options.
func parseAskArgs(args []string) (string, []rag.AskOption, error) {
	fs := flag.NewFlagSet("ask", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	topK := fs.Int("k", 0, "Number of events to retrieve (default: configured top-k)")

	var words []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		words = append(words, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", nil, fmt.Errorf("parsing ask flags: %w", err)
	}
	words = append(words, fs.Args()...)

	question := strings.TrimSpace(strings.Join(words, " "))
	if question == "" {
		return "", nil, errors.New(askUsage)
	}

	var opts []rag.AskOption
	if *topK > 0 {
		opts = append(opts, rag.WithTopK(*topK))
	}
	return question, opts, nil
}

// runAsk answers a one-shot question from the ingested logs.
func runAsk() error {
	question, opts, err := parseAskArgs(commandArgs())
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := initApp(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			slog.Warn("shutdown error", "error", closeErr)
		}
	}()

	answer, err := a.RAG.Ask(ctx, question, opts...)
	if err != nil {
		return err
	}

	fmt.Println(answer.Text)
	if len(answer.Sources) > 0 {
		fmt.Println("\nsources:")
		for _, src := range answer.Sources {
			fmt.Printf("  #%d [%.4f] %s\n", src.ID, src.Distance, src.Message)
		}
	}
	if answer.Degraded {
		fmt.Println("\n(model unavailable; raw matches shown instead of an answer)")
	}
	return nil
}
