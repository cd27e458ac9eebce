package ingest

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/logsift/logsift/internal/logstore"
	"github.com/logsift/logsift/internal/testutil"
)

func ts(t time.Time) *time.Time {
	return &t
}

func TestParsePlaintextPatterns(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		line string
		want Entry
	}{
		{
			name: "spring boot layout",
			line: `2026-03-14 12:00:01.123  ERROR 3504 --- [http-nio-8080-exec-7] c.shop.payments.ChargeService : charge failed for order ord-17`,
			want: Entry{
				Line:    1,
				Pattern: "springboot",
				TS:      ts(time.Date(2026, 3, 14, 12, 0, 1, 123000000, time.UTC)),
				Level:   "ERROR",
				Logger:  "c.shop.payments.ChargeService",
				Thread:  "http-nio-8080-exec-7",
				Message: "charge failed for order ord-17",
			},
		},
		{
			name: "spring boot pads short thread names",
			line: `2026-03-14 12:00:01.500  INFO 3504 --- [           main] c.shop.Application : started in 3.2 seconds`,
			want: Entry{
				Line:    1,
				Pattern: "springboot",
				TS:      ts(time.Date(2026, 3, 14, 12, 0, 1, 500000000, time.UTC)),
				Level:   "INFO",
				Logger:  "c.shop.Application",
				Thread:  "main",
				Message: "started in 3.2 seconds",
			},
		},
		{
			name: "log4j layout with comma millis",
			line: `2026-03-14 12:00:02,456 [worker-3] WARN com.shop.cache.Evictor - cache nearly full`,
			want: Entry{
				Line:    1,
				Pattern: "log4j",
				TS:      ts(time.Date(2026, 3, 14, 12, 0, 2, 456000000, time.UTC)),
				Level:   "WARN",
				Logger:  "com.shop.cache.Evictor",
				Thread:  "worker-3",
				Message: "cache nearly full",
			},
		},
		{
			name: "leveled line with zoned timestamp",
			line: `2026-03-14T12:00:03Z ERROR connection refused to payments-db:5432`,
			want: Entry{
				Line:    1,
				Pattern: "leveled",
				TS:      ts(time.Date(2026, 3, 14, 12, 0, 3, 0, time.UTC)),
				Level:   "ERROR",
				Message: "connection refused to payments-db:5432",
			},
		},
		{
			name: "warning alias normalized",
			line: `2026-03-14 12:00:04 WARNING low disk space on /var`,
			want: Entry{
				Line:    1,
				Pattern: "leveled",
				TS:      ts(time.Date(2026, 3, 14, 12, 0, 4, 0, time.UTC)),
				Level:   "WARN",
				Message: "low disk space on /var",
			},
		},
		{
			name: "unmatched line falls back to raw",
			line: `starting warmup cycle`,
			want: Entry{
				Line:    1,
				Pattern: "raw",
				Message: "starting warmup cycle",
			},
		},
	}

	p := NewParser(testutil.DiscardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := p.Parse(strings.NewReader(tt.line))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if len(res.Entries) != 1 {
				t.Fatalf("got %d entries, want 1", len(res.Entries))
			}
			tt.want.RawLine = tt.line
			if diff := cmp.Diff(tt.want, res.Entries[0]); diff != "" {
				t.Errorf("entry mismatch (-want +got):\n%s", diff)
			}
			if res.Format != logstore.FormatText {
				t.Errorf("format = %q, want text", res.Format)
			}
		})
	}
}

func TestParseJSONLine(t *testing.T) {
	t.Parallel()

	line := `{"timestamp":"2026-03-14T12:00:05Z","level":"error","logger":"shop.payments","thread":"grpc-4","service":"payments","message":"charge declined","trace_id":"abc123","span_id":"def456","order_id":"ord-17","attempt":2}`

	p := NewParser(testutil.DiscardLogger())
	res, err := p.Parse(strings.NewReader(line))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(res.Entries))
	}

	want := Entry{
		Line:    1,
		Pattern: "json",
		TS:      ts(time.Date(2026, 3, 14, 12, 0, 5, 0, time.UTC)),
		Level:   "ERROR",
		Logger:  "shop.payments",
		Thread:  "grpc-4",
		Service: "payments",
		Message: "charge declined",
		RawLine: line,
		TraceID: "abc123",
		SpanID:  "def456",
		Metadata: map[string]any{
			"order_id": "ord-17",
			"attempt":  float64(2),
		},
	}
	if diff := cmp.Diff(want, res.Entries[0]); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
	if res.Format != logstore.FormatJSON {
		t.Errorf("format = %q, want json", res.Format)
	}
}

func TestParseJSONVariants(t *testing.T) {
	t.Parallel()

	p := NewParser(testutil.DiscardLogger())

	t.Run("message falls back to raw line", func(t *testing.T) {
		t.Parallel()

		line := `{"level":"INFO","component":"scheduler"}`
		res, err := p.Parse(strings.NewReader(line))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		got := res.Entries[0]
		if got.Message != line {
			t.Errorf("message = %q, want the raw line", got.Message)
		}
		if got.Metadata["component"] != "scheduler" {
			t.Errorf("metadata component = %v, want scheduler", got.Metadata["component"])
		}
	})

	t.Run("epoch timestamps", func(t *testing.T) {
		t.Parallel()

		input := `{"ts":1773489600,"msg":"epoch seconds"}` + "\n" +
			`{"ts":1773489600500,"msg":"epoch millis"}`
		res, err := p.Parse(strings.NewReader(input))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if len(res.Entries) != 2 {
			t.Fatalf("got %d entries, want 2", len(res.Entries))
		}

		base := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
		if got := res.Entries[0].TS; got == nil || !got.Equal(base) {
			t.Errorf("seconds ts = %v, want %v", got, base)
		}
		if got := res.Entries[1].TS; got == nil || !got.Equal(base.Add(500*time.Millisecond)) {
			t.Errorf("millis ts = %v, want %v", got, base.Add(500*time.Millisecond))
		}
	})

	t.Run("unparseable timestamp stays in metadata", func(t *testing.T) {
		t.Parallel()

		res, err := p.Parse(strings.NewReader(`{"timestamp":"yesterday-ish","message":"vague"}`))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		got := res.Entries[0]
		if got.TS != nil {
			t.Errorf("ts = %v, want nil", got.TS)
		}
		if got.Metadata["timestamp"] != "yesterday-ish" {
			t.Errorf("metadata timestamp = %v, want the unparsed value", got.Metadata["timestamp"])
		}
	})

	t.Run("json array is not a log object", func(t *testing.T) {
		t.Parallel()

		res, err := p.Parse(strings.NewReader(`["a","b"]`))
		if err != nil {
			t.Fatalf("Parse() error: %v", err)
		}
		if got := res.Entries[0].Pattern; got != "raw" {
			t.Errorf("pattern = %q, want raw", got)
		}
	})
}

func TestParseStackTraceFolding(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`2026-03-14 12:00:06.000  ERROR 3504 --- [exec-1] c.shop.OrderWorkflow : workflow step failed`,
		`com.shop.PaymentException: card declined`,
		`	at com.shop.PaymentClient.charge(PaymentClient.java:42)`,
		`	at com.shop.OrderWorkflow.run(OrderWorkflow.java:101)`,
		`Caused by: java.net.SocketTimeoutException: read timed out`,
		`	at com.shop.http.Client.call(Client.java:77)`,
		`	... 12 more`,
		`2026-03-14 12:00:07.000  INFO 3504 --- [exec-1] c.shop.OrderWorkflow : retrying step`,
	}, "\n")

	p := NewParser(testutil.DiscardLogger())
	res, err := p.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(res.Entries))
	}

	head := res.Entries[0]
	if head.Message != "workflow step failed" {
		t.Errorf("message = %q, continuation lines should not leak into it", head.Message)
	}
	if head.ExceptionType != "com.shop.PaymentException" {
		t.Errorf("exception type = %q, want com.shop.PaymentException", head.ExceptionType)
	}
	if head.ExceptionMessage != "card declined" {
		t.Errorf("exception message = %q, want card declined", head.ExceptionMessage)
	}

	wantStack := strings.Join(strings.Split(input, "\n")[1:7], "\n")
	if head.StackTrace != wantStack {
		t.Errorf("stack trace mismatch:\ngot:\n%s\nwant:\n%s", head.StackTrace, wantStack)
	}
	if !strings.HasSuffix(head.RawLine, wantStack) {
		t.Error("raw block should include the folded lines")
	}
	if !strings.Contains(head.StackTrace, "... 12 more") {
		t.Error("frame ellipsis line should fold into the stack trace")
	}

	next := res.Entries[1]
	if next.Message != "retrying step" {
		t.Errorf("second entry message = %q, want retrying step", next.Message)
	}
	if next.Line != 8 {
		t.Errorf("second entry line = %d, want 8", next.Line)
	}
	if res.LineCount != 8 {
		t.Errorf("line count = %d, want 8", res.LineCount)
	}
}

func TestParseCausedByHeader(t *testing.T) {
	t.Parallel()

	input := strings.Join([]string{
		`2026-03-14 12:00:08 ERROR retry budget exhausted`,
		`Caused by: java.lang.IllegalStateException: breaker open`,
		`	at com.shop.Breaker.check(Breaker.java:9)`,
	}, "\n")

	p := NewParser(testutil.DiscardLogger())
	res, err := p.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if len(res.Entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(res.Entries))
	}
	got := res.Entries[0]
	if got.ExceptionType != "java.lang.IllegalStateException" {
		t.Errorf("exception type = %q, want java.lang.IllegalStateException", got.ExceptionType)
	}
	if got.ExceptionMessage != "breaker open" {
		t.Errorf("exception message = %q, want breaker open", got.ExceptionMessage)
	}
}

func TestParseFormatInference(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name: "json majority",
			input: `{"message":"a"}` + "\n" +
				`{"message":"b"}` + "\n" +
				`plain trailer`,
			want: logstore.FormatJSON,
		},
		{
			name: "text majority",
			input: `plain one` + "\n" +
				`{"message":"b"}` + "\n" +
				`plain two`,
			want: logstore.FormatText,
		},
		{
			name:  "empty input",
			input: "",
			want:  logstore.FormatUnknown,
		},
		{
			name:  "blank lines only",
			input: "\n \n\t\n",
			want:  logstore.FormatUnknown,
		},
	}

	p := NewParser(testutil.DiscardLogger())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res, err := p.Parse(strings.NewReader(tt.input))
			if err != nil {
				t.Fatalf("Parse() error: %v", err)
			}
			if res.Format != tt.want {
				t.Errorf("format = %q, want %q", res.Format, tt.want)
			}
		})
	}
}

func TestParseCountsBlankLines(t *testing.T) {
	t.Parallel()

	input := "first line\n\nsecond line\n"
	p := NewParser(testutil.DiscardLogger())
	res, err := p.Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	if res.LineCount != 3 {
		t.Errorf("line count = %d, want 3", res.LineCount)
	}
	if len(res.Entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(res.Entries))
	}
	if res.Entries[0].Line != 1 || res.Entries[1].Line != 3 {
		t.Errorf("entry lines = %d, %d; want 1, 3", res.Entries[0].Line, res.Entries[1].Line)
	}
}

func TestParseTimestampForms(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want *time.Time
	}{
		{
			name: "rfc3339",
			in:   "2026-03-14T12:00:00Z",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "rfc3339 with offset",
			in:   "2026-03-14T20:00:00+08:00",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "space separated with comma millis",
			in:   "2026-03-14 12:00:00,250",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 250000000, time.UTC)),
		},
		{
			name: "naive seconds",
			in:   "2026-03-14 12:00:00",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "epoch seconds",
			in:   "1773489600",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "epoch milliseconds",
			in:   "1773489600500",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 500000000, time.UTC)),
		},
		{
			name: "compact date via fallback",
			in:   "20260314",
			want: ts(time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)),
		},
		{
			name: "slash date via fallback",
			in:   "03/14/2026 12:00:00",
			want: ts(time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)),
		},
		{
			name: "prose",
			in:   "last tuesday",
			want: nil,
		},
		{
			name: "blank",
			in:   "   ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got := parseTimestamp(tt.in)
			switch {
			case tt.want == nil && got != nil:
				t.Errorf("parseTimestamp(%q) = %v, want nil", tt.in, got)
			case tt.want != nil && (got == nil || !got.Equal(*tt.want)):
				t.Errorf("parseTimestamp(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want string
	}{
		{"error", "ERROR"},
		{" warn ", "WARN"},
		{"WARNING", "WARN"},
		{"critical", "FATAL"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeLevel(tt.in); got != tt.want {
			t.Errorf("normalizeLevel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
