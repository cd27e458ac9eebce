package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/gofrs/flock"

	"github.com/logsift/logsift/internal/ingest"
	"github.com/logsift/logsift/internal/logstore"
)

const ingestUsage = "usage: logsift ingest <file> [--service NAME] [--env NAME] [--source-name NAME]"

// parseIngestArgs extracts the source path and batch metadata from the
// arguments after "ingest". The positional file path may come before
// or after the flags.
func parseIngestArgs(args []string) (string, ingest.Request, error) {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	service := fs.String("service", "", "Service name recorded on the batch")
	env := fs.String("env", "", "Deployment environment recorded on the batch")
	sourceName := fs.String("source-name", "", "Source name (default: file basename)")

	var path string
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		path = args[0]
		args = args[1:]
	}

	if err := fs.Parse(args); err != nil {
		return "", ingest.Request{}, fmt.Errorf("parsing ingest flags: %w", err)
	}
	if path == "" && fs.NArg() > 0 {
		path = fs.Arg(0)
	}
	if path == "" {
		return "", ingest.Request{}, errors.New(ingestUsage)
	}

	name := *sourceName
	if name == "" {
		name = filepath.Base(path)
	}

	return path, ingest.Request{
		SourceName:  name,
		SourceType:  logstore.SourceTypeFile,
		Service:     *service,
		Environment: *env,
	}, nil
}

// runIngest parses a log file into events and embeds them.
func runIngest() error {
	path, req, err := parseIngestArgs(commandArgs())
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

	// An advisory lock on the source keeps two ingest runs from
	// recording the same file twice.
	lock := flock.New(path)
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("%s is being ingested by another process", path)
	}
	defer func() {
		if unlockErr := lock.Unlock(); unlockErr != nil {
			slog.Warn("releasing source lock", "path", path, "error", unlockErr)
		}
	}()

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	batch, err := a.Ingest.Ingest(ctx, req, f)
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", path, err)
	}

	printBatch(batch)
	if batch.Status == logstore.StatusPartial {
		fmt.Printf("\nsome events are missing embeddings, repair with:\n  logsift backfill %s\n", batch.ID)
	}
	return nil
}

// printBatch writes a one-batch summary to stdout.
func printBatch(b *logstore.Batch) {
	fmt.Printf("batch %s %s\n", b.ID, b.Status)
	fmt.Printf("  source: %s (%s)\n", b.SourceName, b.SourceType)
	if b.Service != "" {
		fmt.Printf("  service: %s\n", b.Service)
	}
	if b.Environment != "" {
		fmt.Printf("  environment: %s\n", b.Environment)
	}
	fmt.Printf("  format: %s\n", b.Format)
	fmt.Printf("  lines: %d (%d bytes)\n", b.LineCount, b.ByteSize)
	if b.Error != "" {
		fmt.Printf("  note: %s\n", b.Error)
	}
}
