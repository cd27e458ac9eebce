package cmd

import (
	"strings"
	"testing"
	"time"

	"github.com/logsift/logsift/internal/search"
)

func TestParseSearchArgs(t *testing.T) {
	t.Parallel()

	from := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name        string
		args        []string
		wantQuery   string
		wantTopK    int
		wantFilters search.Filters
		wantErr     string
	}{
		{
			name:      "bare query",
			args:      []string{"connection", "refused"},
			wantQuery: "connection refused",
			wantTopK:  10,
		},
		{
			name:        "query after flags",
			args:        []string{"--k", "5", "--service", "payments", "card", "declined"},
			wantQuery:   "card declined",
			wantTopK:    5,
			wantFilters: search.Filters{Service: "payments"},
		},
		{
			name:        "query before flags",
			args:        []string{"timeout", "--level", "ERROR"},
			wantQuery:   "timeout",
			wantTopK:    10,
			wantFilters: search.Filters{Level: "ERROR"},
		},
		{
			name:        "time window",
			args:        []string{"deploy", "--from", "2026-03-14T00:00:00Z", "--to", "2026-03-15T00:00:00Z"},
			wantQuery:   "deploy",
			wantTopK:    10,
			wantFilters: search.Filters{From: from, To: to},
		},
		{
			name:    "empty query",
			args:    nil,
			wantErr: "usage:",
		},
		{
			name:    "bad from timestamp",
			args:    []string{"deploy", "--from", "yesterday"},
			wantErr: "invalid --from",
		},
		{
			name:    "bad to timestamp",
			args:    []string{"deploy", "--to", "2026-03-15"},
			wantErr: "invalid --to",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			query, topK, f, err := parseSearchArgs(tt.args)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("parseSearchArgs(%v) err = %v, want containing %q", tt.args, err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseSearchArgs(%v) = %v", tt.args, err)
			}
			if query != tt.wantQuery {
				t.Errorf("query = %q, want %q", query, tt.wantQuery)
			}
			if topK != tt.wantTopK {
				t.Errorf("topK = %d, want %d", topK, tt.wantTopK)
			}
			if f.Service != tt.wantFilters.Service || f.Level != tt.wantFilters.Level {
				t.Errorf("filters = %+v, want %+v", f, tt.wantFilters)
			}
			if !f.From.Equal(tt.wantFilters.From) || !f.To.Equal(tt.wantFilters.To) {
				t.Errorf("time window = [%v, %v), want [%v, %v)", f.From, f.To, tt.wantFilters.From, tt.wantFilters.To)
			}
		})
	}
}
