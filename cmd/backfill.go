package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
)

// runBackfill retries the embeddings of a partial batch.
func runBackfill() error {
	args := commandArgs()
	if len(args) != 1 {
		return errors.New("usage: logsift backfill <batch-id>")
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid batch id %q: %w", args[0], err)
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

	batch, err := a.Ingest.Backfill(ctx, id)
	if err != nil {
		return err
	}

	printBatch(batch)
	return nil
}
