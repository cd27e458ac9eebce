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
	"time"

	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/search"
)

const searchUsage = "usage: logsift search <query> [--k N] [--service NAME] [--level LEVEL] [--from RFC3339] [--to RFC3339]"

// parseSearchArgs splits the arguments after "search" into the query
// text and the search parameters. Query words may surround the flags.
func parseSearchArgs(args []string) (string, int, search.Filters, error) {
	fs := flag.NewFlagSet("search", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	topK := fs.Int("k", 10, "Number of results")
	service := fs.String("service", "", "Only events from this service")
	level := fs.String("level", "", "Only events at this log level")
	from := fs.String("from", "", "Only events at or after this RFC 3339 time")
	to := fs.String("to", "", "Only events before this RFC 3339 time")

	var words []string
	for len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		words = append(words, args[0])
		args = args[1:]
	}
	if err := fs.Parse(args); err != nil {
		return "", 0, search.Filters{}, fmt.Errorf("parsing search flags: %w", err)
	}
	words = append(words, fs.Args()...)

	query := strings.TrimSpace(strings.Join(words, " "))
	if query == "" {
		return "", 0, search.Filters{}, errors.New(searchUsage)
	}

	f := search.Filters{Service: *service, Level: *level}
	if *from != "" {
		t, err := time.Parse(time.RFC3339, *from)
		if err != nil {
			return "", 0, search.Filters{}, fmt.Errorf("invalid --from %q: %w", *from, err)
		}
		f.From = t
	}
	if *to != "" {
		t, err := time.Parse(time.RFC3339, *to)
		if err != nil {
			return "", 0, search.Filters{}, fmt.Errorf("invalid --to %q: %w", *to, err)
		}
		f.To = t
	}
	return query, *topK, f, nil
}

// runSearch embeds the query and prints the nearest events.
func runSearch() error {
	query, topK, filters, err := parseSearchArgs(commandArgs())
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

	results, err := a.Search.SearchText(ctx, query, topK, filters)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		fmt.Println("no matching events")
		return nil
	}

	for _, r := range results {
		fmt.Printf("%2d. [%.4f] %s\n", r.Rank, r.Distance, eventLine(r.Event))
	}
	return nil
}

// eventLine renders one event as a single terminal line.
func eventLine(ev logstore.Event) string {
	var b strings.Builder
	if ev.TS != nil {
		b.WriteString(ev.TS.Format(time.RFC3339))
		b.WriteByte(' ')
	}
	if ev.Level != "" {
		b.WriteString(ev.Level)
		b.WriteByte(' ')
	}
	if ev.Service != "" {
		b.WriteString(ev.Service)
		b.WriteByte(' ')
	}
	b.WriteString(ev.Message)
	return b.String()
}
