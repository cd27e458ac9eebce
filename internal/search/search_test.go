package search

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/firebase/genkit/go/genkit"
	"github.com/google/go-cmp/cmp"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/logsift/logsift/internal/config"
	"github.com/logsift/logsift/internal/embed"
	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/postgres"
	"github.com/logsift/logsift/internal/testutil"
)

// stubQuerier records the statement it was handed and fails it, so unit
// tests can see what would have reached the database.
type stubQuerier struct {
	called bool
	sql    string
	args   []any
	err    error
}

func (q *stubQuerier) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	q.called = true
	q.sql = sql
	q.args = args
	if q.err == nil {
		q.err = errors.New("stub querier")
	}
	return nil, q.err
}

func newTestEngine(t *testing.T, db querier) (*Engine, *testutil.MockEmbedder) {
	t.Helper()

	g := genkit.Init(context.Background())
	mock := testutil.NewMockEmbedder(384)
	provider, err := embed.New(mock.RegisterEmbedder(g), embed.Config{Dim: 384}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("embed.New() error: %v", err)
	}

	eng, err := New(db, provider, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return eng, mock
}

func unitVec(axis int) []float32 {
	v := make([]float32, 384)
	v[axis] = 1
	return v
}

func TestNewValidation(t *testing.T) {
	g := genkit.Init(context.Background())
	provider, err := embed.New(testutil.NewMockEmbedder(384).RegisterEmbedder(g),
		embed.Config{Dim: 384}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("embed.New() error: %v", err)
	}

	if _, err := New(nil, provider, nil); err == nil {
		t.Error("expected error for nil db")
	}
	if _, err := New(&stubQuerier{}, nil, nil); err == nil {
		t.Error("expected error for nil embedder")
	}
}

func TestBuildQuery(t *testing.T) {
	vec := pgvector.NewVector(unitVec(0))
	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		f        Filters
		wantSQL  []string
		skipSQL  []string
		wantArgs []any // args after the query vector
	}{
		{
			name: "no filters",
			wantSQL: []string{
				"WHERE embedding IS NOT NULL",
				"ORDER BY embedding <=> $1, ts DESC NULLS LAST, id DESC",
				"LIMIT $2",
			},
			skipSQL:  []string{"AND service", "AND level", "AND ts"},
			wantArgs: []any{7},
		},
		{
			name:     "service only",
			f:        Filters{Service: "payments"},
			wantSQL:  []string{"AND service = $2", "LIMIT $3"},
			wantArgs: []any{"payments", 7},
		},
		{
			name:     "level normalized upper",
			f:        Filters{Level: "error"},
			wantSQL:  []string{"AND level = $2", "LIMIT $3"},
			wantArgs: []any{"ERROR", 7},
		},
		{
			name:     "from without to",
			f:        Filters{From: base},
			wantSQL:  []string{"AND ts >= $2", "LIMIT $3"},
			skipSQL:  []string{"AND ts <="},
			wantArgs: []any{base, 7},
		},
		{
			name: "all filters numbered in order",
			f:    Filters{Service: "payments", Level: "WARN", From: base, To: base.Add(time.Hour)},
			wantSQL: []string{
				"AND service = $2",
				"AND level = $3",
				"AND ts >= $4",
				"AND ts <= $5",
				"LIMIT $6",
			},
			wantArgs: []any{"payments", "WARN", base, base.Add(time.Hour), 7},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, args := buildQuery(vec, 7, tt.f)

			for _, want := range tt.wantSQL {
				if !strings.Contains(sql, want) {
					t.Errorf("SQL missing %q:\n%s", want, sql)
				}
			}
			for _, skip := range tt.skipSQL {
				if strings.Contains(sql, skip) {
					t.Errorf("SQL should not contain %q:\n%s", skip, sql)
				}
			}

			if len(args) == 0 {
				t.Fatal("args should start with the query vector")
			}
			if _, ok := args[0].(pgvector.Vector); !ok {
				t.Fatalf("args[0] = %T, want pgvector.Vector", args[0])
			}
			if diff := cmp.Diff(tt.wantArgs, args[1:]); diff != "" {
				t.Errorf("args mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSearchValidation(t *testing.T) {
	stub := &stubQuerier{}
	eng, _ := newTestEngine(t, stub)
	ctx := context.Background()

	if _, err := eng.Search(ctx, unitVec(0), 0, Filters{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("topK 0: err = %v, want ErrInvalidInput", err)
	}
	if _, err := eng.Search(ctx, unitVec(0), config.MaxTopK+1, Filters{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("topK over cap: err = %v, want ErrInvalidInput", err)
	}
	if _, err := eng.Search(ctx, make([]float32, 10), 5, Filters{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("short vector: err = %v, want ErrInvalidInput", err)
	}
	if stub.called {
		t.Error("invalid input should never reach the database")
	}

	_, err := eng.Search(ctx, unitVec(0), 5, Filters{Service: "payments"})
	if err == nil || !strings.Contains(err.Error(), "stub querier") {
		t.Errorf("err = %v, want wrapped stub failure", err)
	}
	if !stub.called {
		t.Fatal("valid input should reach the database")
	}
	if !strings.Contains(stub.sql, "embedding <=> $1") {
		t.Errorf("statement missing vector predicate:\n%s", stub.sql)
	}
}

func TestSearchTextValidation(t *testing.T) {
	eng, _ := newTestEngine(t, &stubQuerier{})
	ctx := context.Background()

	// top-k is checked before the embedding call.
	if _, err := eng.SearchText(ctx, "", 0, Filters{}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}

	// A blank query is the embedder's complaint.
	if _, err := eng.SearchText(ctx, "   ", 5, Filters{}); !errors.Is(err, embed.ErrInvalidInput) {
		t.Errorf("err = %v, want embed.ErrInvalidInput", err)
	}
}

func TestSearchIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	tdb, cleanup := testutil.SetupTestDB(t)
	defer cleanup()

	// ivfflat probes one list by default, which is approximate. Probing
	// every list keeps ranking exact for this small fixture; connections
	// opened below pick the setting up from the database.
	if _, err := tdb.Pool.Exec(ctx, "ALTER DATABASE logsift_test SET ivfflat.probes = 100"); err != nil {
		t.Fatalf("setting ivfflat.probes: %v", err)
	}

	db, err := postgres.New(ctx, postgres.Config{DSN: tdb.ConnStr}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("postgres.New() error: %v", err)
	}
	defer db.Close()

	store, err := logstore.New(db, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("logstore.New() error: %v", err)
	}

	g := genkit.Init(ctx)
	mock := testutil.NewMockEmbedder(384)
	provider, err := embed.New(mock.RegisterEmbedder(g), embed.Config{Dim: 384}, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("embed.New() error: %v", err)
	}

	eng, err := New(db, provider, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	ts := func(d time.Duration) *time.Time {
		t := base.Add(d)
		return &t
	}

	batch, err := store.CreateBatch(ctx, logstore.NewBatch{SourceName: "search-fixture.log"})
	if err != nil {
		t.Fatalf("CreateBatch() error: %v", err)
	}

	// Vectors with known cosine distances to unitVec(0): identical (0),
	// 45 degrees off (~0.2929), orthogonal (1), opposite (2).
	mixVec := make([]float32, 384)
	mixVec[0] = float32(1 / math.Sqrt2)
	mixVec[1] = float32(1 / math.Sqrt2)
	negVec := make([]float32, 384)
	negVec[0] = -1

	vecByMessage := map[string][]float32{
		"db connection refused": unitVec(0),
		"db connection timeout": mixVec,
		"cache miss storm":      unitVec(1),
		"cache heartbeat ok":    negVec,
		"order shipped":         unitVec(2),
		"order created":         unitVec(2),
		"order archived":        unitVec(2),
	}

	events := []logstore.NewEvent{
		{TS: ts(0), Level: "ERROR", Service: "payments", Message: "db connection refused",
			Metadata: map[string]any{"error_code": "ECONNREFUSED"}},
		{TS: ts(5 * time.Minute), Level: "WARN", Service: "payments", Message: "db connection timeout"},
		{TS: ts(10 * time.Minute), Level: "INFO", Service: "cache", Message: "cache miss storm"},
		{TS: nil, Level: "INFO", Service: "cache", Message: "cache heartbeat ok"},
		{TS: ts(30 * time.Minute), Level: "DEBUG", Service: "orders", Message: "order shipped"},
		{TS: ts(0), Level: "DEBUG", Service: "orders", Message: "order created"},
		{TS: nil, Level: "DEBUG", Service: "orders", Message: "order archived"},
		{TS: ts(15 * time.Minute), Level: "ERROR", Service: "payments", Message: "straggler without embedding"},
	}
	if _, err := store.InsertEvents(ctx, batch.ID, events); err != nil {
		t.Fatalf("InsertEvents() error: %v", err)
	}

	missing, err := store.EventsMissingEmbedding(ctx, batch.ID, 0, 20)
	if err != nil {
		t.Fatalf("EventsMissingEmbedding() error: %v", err)
	}
	var updates []logstore.EmbeddingUpdate
	for _, ev := range missing {
		if vec, ok := vecByMessage[ev.Message]; ok {
			updates = append(updates, logstore.EmbeddingUpdate{ID: ev.ID, Embedding: vec})
		}
	}
	if _, err := store.UpdateEventEmbeddings(ctx, updates); err != nil {
		t.Fatalf("UpdateEventEmbeddings() error: %v", err)
	}

	messages := func(results []Result) []string {
		out := make([]string, len(results))
		for i, r := range results {
			out[i] = r.Message
		}
		return out
	}

	t.Run("ranked by distance with recency tie break", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 10, Filters{})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}

		want := []string{
			"db connection refused", // distance 0
			"db connection timeout", // ~0.2929
			"order shipped",         // distance 1, newest ts wins the tie
			"cache miss storm",      // distance 1
			"order created",         // distance 1, oldest ts
			"order archived",        // distance 1, null ts sorts last
			"cache heartbeat ok",    // distance 2
		}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Fatalf("order mismatch (-want +got):\n%s", diff)
		}

		for i, r := range results {
			if r.Rank != i+1 {
				t.Errorf("results[%d].Rank = %d, want %d", i, r.Rank, i+1)
			}
		}
		if d := results[0].Distance; d > 1e-3 {
			t.Errorf("nearest distance = %f, want ~0", d)
		}
		if d := results[1].Distance; math.Abs(d-0.2929) > 1e-3 {
			t.Errorf("second distance = %f, want ~0.2929", d)
		}
		if d := results[6].Distance; math.Abs(d-2) > 1e-3 {
			t.Errorf("opposite distance = %f, want ~2", d)
		}

		got := results[0]
		if got.BatchID != batch.ID {
			t.Errorf("BatchID = %s, want %s", got.BatchID, batch.ID)
		}
		if got.TS == nil || !got.TS.Equal(base) {
			t.Errorf("TS = %v, want %v", got.TS, base)
		}
		if got.Metadata["error_code"] != "ECONNREFUSED" {
			t.Errorf("Metadata = %v, want error_code preserved", got.Metadata)
		}
	})

	t.Run("top k caps results", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 2, Filters{})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		want := []string{"db connection refused", "db connection timeout"}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("service filter", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 10, Filters{Service: "cache"})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		want := []string{"cache miss storm", "cache heartbeat ok"}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("level filter is case insensitive", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 10, Filters{Level: "error"})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		// The straggler is also ERROR but carries no embedding.
		want := []string{"db connection refused"}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("time window", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 10, Filters{
			From: base.Add(time.Minute),
			To:   base.Add(10 * time.Minute),
		})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		// Events without a timestamp never match a window.
		want := []string{"db connection timeout", "cache miss storm"}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})

	t.Run("zero matches", func(t *testing.T) {
		results, err := eng.Search(ctx, unitVec(0), 10, Filters{Service: "no-such-service"})
		if err != nil {
			t.Fatalf("Search() error: %v", err)
		}
		if results == nil || len(results) != 0 {
			t.Errorf("results = %v, want empty slice", results)
		}
	})

	t.Run("search text", func(t *testing.T) {
		const query = "why is the database refusing connections"
		mock.SetVector(query, unitVec(0))

		results, err := eng.SearchText(ctx, query, 3, Filters{Service: "payments"})
		if err != nil {
			t.Fatalf("SearchText() error: %v", err)
		}
		want := []string{"db connection refused", "db connection timeout"}
		if diff := cmp.Diff(want, messages(results)); diff != "" {
			t.Errorf("order mismatch (-want +got):\n%s", diff)
		}
	})
}
