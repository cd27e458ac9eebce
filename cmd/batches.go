package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"

	"github.com/logsift/logsift/internal/app"
	"github.com/logsift/logsift/internal/logstore"
)

const batchesUsage = "usage: logsift batches [list [--status S] [--limit N] | show <id> | delete <id>]"

// runBatches dispatches the batches subcommands. A bare "logsift
// batches" lists recent batches.
func runBatches() error {
	args := commandArgs()
	sub := "list"
	if len(args) > 0 {
		sub = args[0]
		args = args[1:]
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

	switch sub {
	case "list":
		return runBatchesList(ctx, a, args)
	case "show":
		return runBatchesShow(ctx, a, args)
	case "delete":
		return runBatchesDelete(ctx, a, args)
	default:
		return fmt.Errorf("unknown batches subcommand %q\n%s", sub, batchesUsage)
	}
}

func runBatchesList(ctx context.Context, a *app.App, args []string) error {
	fs := flag.NewFlagSet("batches list", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)
	status := fs.String("status", "", "Only batches with this status")
	limit := fs.Int("limit", 0, "Maximum number of batches (default: server default)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing batches flags: %w", err)
	}

	batches, err := a.Store.ListBatches(ctx, logstore.Status(*status), *limit)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		fmt.Println("no batches")
		return nil
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSOURCE\tFORMAT\tLINES\tCREATED")
	for _, b := range batches {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			b.ID, b.Status, b.SourceName, b.Format, b.LineCount,
			b.CreatedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runBatchesShow(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: logsift batches show <id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", args[0], err)
	}

	batch, err := a.Store.GetBatch(ctx, id)
	if err != nil {
		return err
	}
	printBatch(batch)
	return nil
}

func runBatchesDelete(ctx context.Context, a *app.App, args []string) error {
	if len(args) != 1 {
		return errors.New("usage: logsift batches delete <id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", args[0], err)
	}

	if err := a.Store.DeleteBatch(ctx, id); err != nil {
		return err
	}
	fmt.Printf("batch %s deleted\n", id)
	return nil
}
