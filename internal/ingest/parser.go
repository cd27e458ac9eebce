package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/araddon/dateparse"

	"github.com/logsift/logsift/internal/logstore"
)

// maxLineBytes caps a single input line. Lines past this fail the scan
// instead of being silently truncated.
const maxLineBytes = 1 << 20

// Entry is one parsed log record. RawLine holds the full raw block,
// including any continuation lines folded into StackTrace.
type Entry struct {
	Line             int // 1-based number of the block's first line
	Pattern          string
	TS               *time.Time
	Level            string
	Logger           string
	Thread           string
	Service          string
	Message          string
	RawLine          string
	ExceptionType    string
	ExceptionMessage string
	StackTrace       string
	TraceID          string
	SpanID           string
	Metadata         map[string]any
}

// ParseResult is the outcome of parsing one source.
type ParseResult struct {
	Entries   []Entry
	LineCount int    // raw lines scanned, blank and folded lines included
	Format    string // logstore.FormatJSON, FormatText or FormatUnknown
}

// linePattern describes one recognized line shape. Patterns are tried
// in order; named capture groups (ts, level, thread, logger, message)
// map matches onto Entry fields. cont, when set, marks the lines that
// belong to the preceding entry rather than starting a new one.
type linePattern struct {
	name   string
	isJSON bool
	re     *regexp.Regexp
	cont   *regexp.Regexp
}

// stackContinuation matches Java-style exception block lines: frames,
// causes, suppressed entries, frame ellipses, and the exception header
// itself.
var stackContinuation = regexp.MustCompile(
	`^(?:\s+at\s+\S|Caused by:\s|\s*\.\.\.\s*\d+\s+(?:more|common frames omitted)|\s+Suppressed:\s|(?:[A-Za-z_$][\w$]*\.)+[A-Za-z_$][\w$]*(?:Exception|Error)(?::\s|$))`)

// exceptionHead extracts the type and message from an exception header
// line such as "com.shop.PaymentException: card declined".
var exceptionHead = regexp.MustCompile(
	`^((?:[A-Za-z_$][\w$]*\.)+[A-Za-z_$][\w$]*(?:Exception|Error))(?::\s*(.*))?$`)

var patterns = []*linePattern{
	{name: "json", isJSON: true},
	{
		// Spring Boot default console layout:
		// 2025-06-01 12:00:01.123  ERROR 3504 --- [exec-1] c.shop.OrderService : charge failed
		name: "springboot",
		re: regexp.MustCompile(
			`^(?P<ts>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[.,]\d+)\s+(?P<level>TRACE|DEBUG|INFO|WARN|ERROR|FATAL)\s+\d+\s+---\s+\[\s*(?P<thread>[^\]]*)\]\s+(?P<logger>\S+)\s*:\s?(?P<message>.*)$`),
		cont: stackContinuation,
	},
	{
		// Classic log4j/logback layout with the thread up front:
		// 2025-06-01 12:00:01,123 [main] ERROR com.shop.OrderService - charge failed
		name: "log4j",
		re: regexp.MustCompile(
			`^(?P<ts>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}[.,]\d+)\s+\[(?P<thread>[^\]]*)\]\s+(?P<level>TRACE|DEBUG|INFO|WARN|ERROR|FATAL)\s+(?P<logger>\S+)\s*[-:]?\s(?P<message>.*)$`),
		cont: stackContinuation,
	},
	{
		// Minimal timestamp-then-level lines, ISO or space separated.
		name: "leveled",
		re: regexp.MustCompile(
			`^(?P<ts>\d{4}-\d{2}-\d{2}[T ]\d{2}:\d{2}:\d{2}(?:[.,]\d+)?(?:Z|[+-]\d{2}:?\d{2})?)\s+(?P<level>TRACE|DEBUG|INFO|WARN|WARNING|ERROR|FATAL|CRITICAL)\b\s*(?P<message>.*)$`),
		cont: stackContinuation,
	},
	// Catch-all so no non-blank line is dropped.
	{name: "raw", cont: stackContinuation},
}

// Parser turns raw log text into entries using the built-in line
// patterns. The zero value is not usable; construct with NewParser.
//
// Parser is safe for concurrent use by multiple goroutines.
type Parser struct {
	logger *slog.Logger
}

// NewParser creates a Parser. A nil logger falls back to slog.Default().
func NewParser(logger *slog.Logger) *Parser {
	if logger == nil {
		logger = slog.Default()
	}
	return &Parser{logger: logger}
}

// Parse reads r line by line and returns the parsed entries. Lines
// matching a pattern's continuation expression are folded into the
// preceding entry's stack trace instead of forming entries of their
// own. Blank lines are skipped but still counted.
func (p *Parser) Parse(r io.Reader) (*ParseResult, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	res := &ParseResult{}
	jsonCount := 0

	var pending string
	hasPending := false
	for {
		var line string
		switch {
		case hasPending:
			line, hasPending = pending, false
		case sc.Scan():
			line = sc.Text()
		default:
			if err := sc.Err(); err != nil {
				return nil, fmt.Errorf("scanning log input: %w", err)
			}
			res.Format = inferFormat(jsonCount, len(res.Entries))
			p.logger.Debug("log input parsed",
				"lines", res.LineCount, "events", len(res.Entries), "format", res.Format)
			return res, nil
		}
		res.LineCount++

		if strings.TrimSpace(line) == "" {
			continue
		}

		pat, entry := matchLine(line)
		entry.Line = res.LineCount

		if pat.cont != nil {
			var folded []string
			for sc.Scan() {
				next := sc.Text()
				if !pat.cont.MatchString(next) {
					pending, hasPending = next, true
					break
				}
				res.LineCount++
				folded = append(folded, next)
			}
			foldContinuations(&entry, folded)
		}

		if pat.isJSON {
			jsonCount++
		}
		res.Entries = append(res.Entries, entry)
	}
}

// inferFormat labels the source by majority: a batch is json when more
// entries parsed as JSON objects than as text lines.
func inferFormat(jsonCount, total int) string {
	switch {
	case total == 0:
		return logstore.FormatUnknown
	case jsonCount > total-jsonCount:
		return logstore.FormatJSON
	default:
		return logstore.FormatText
	}
}

// matchLine finds the first pattern matching a non-blank line. The
// trailing catch-all guarantees a match.
func matchLine(line string) (*linePattern, Entry) {
	for _, pat := range patterns {
		switch {
		case pat.isJSON:
			fields, ok := parseJSONLine(line)
			if !ok {
				continue
			}
			return pat, entryFromJSON(pat.name, fields, line)
		case pat.re != nil:
			m := pat.re.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			return pat, entryFromMatch(pat, m, line)
		default:
			return pat, Entry{
				Pattern: pat.name,
				Message: strings.TrimSpace(line),
				RawLine: line,
			}
		}
	}
	// Unreachable: the catch-all always matches.
	return patterns[len(patterns)-1], Entry{Message: line, RawLine: line}
}

func parseJSONLine(line string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(trimmed), &fields); err != nil || fields == nil {
		return nil, false
	}
	return fields, true
}

// entryFromJSON maps well-known keys onto Entry fields and keeps
// everything left over in Metadata.
func entryFromJSON(name string, fields map[string]any, raw string) Entry {
	e := Entry{
		Pattern:          name,
		TS:               takeTimestamp(fields),
		Level:            normalizeLevel(takeString(fields, "level", "severity")),
		Logger:           takeString(fields, "logger", "logger_name"),
		Thread:           takeString(fields, "thread", "thread_name"),
		Service:          takeString(fields, "service_name", "service"),
		Message:          takeString(fields, "message", "msg"),
		RawLine:          raw,
		ExceptionType:    takeString(fields, "exception_type", "exception"),
		ExceptionMessage: takeString(fields, "exception_message", "exception_msg"),
		StackTrace:       takeString(fields, "stack_trace", "stacktrace"),
		TraceID:          takeString(fields, "trace_id"),
		SpanID:           takeString(fields, "span_id"),
	}
	if e.Message == "" {
		e.Message = raw
	}
	if len(fields) > 0 {
		e.Metadata = fields
	}
	return e
}

func entryFromMatch(pat *linePattern, match []string, raw string) Entry {
	e := Entry{
		Pattern: pat.name,
		Level:   normalizeLevel(group(pat.re, match, "level")),
		Logger:  group(pat.re, match, "logger"),
		Thread:  strings.TrimSpace(group(pat.re, match, "thread")),
		Message: group(pat.re, match, "message"),
		RawLine: raw,
	}
	if ts := group(pat.re, match, "ts"); ts != "" {
		e.TS = parseTimestamp(ts)
	}
	if e.Message == "" {
		e.Message = raw
	}
	return e
}

func group(re *regexp.Regexp, match []string, name string) string {
	idx := re.SubexpIndex(name)
	if idx < 0 || idx >= len(match) {
		return ""
	}
	return match[idx]
}

// foldContinuations appends an exception block to the owning entry:
// the block joins the raw text and the stack trace, and the first
// header line supplies the exception type and message.
func foldContinuations(e *Entry, lines []string) {
	if len(lines) == 0 {
		return
	}
	joined := strings.Join(lines, "\n")
	e.RawLine += "\n" + joined
	if e.StackTrace == "" {
		e.StackTrace = joined
	} else {
		e.StackTrace += "\n" + joined
	}

	if e.ExceptionType != "" {
		return
	}
	for _, l := range lines {
		h := strings.TrimPrefix(l, "Caused by: ")
		if m := exceptionHead.FindStringSubmatch(h); m != nil {
			e.ExceptionType = m[1]
			e.ExceptionMessage = m[2]
			return
		}
	}
}

// normalizeLevel uppercases a severity and folds aliases so stored
// levels line up with search filters across source formats.
func normalizeLevel(s string) string {
	switch l := strings.ToUpper(strings.TrimSpace(s)); l {
	case "WARNING":
		return "WARN"
	case "CRITICAL":
		return "FATAL"
	default:
		return l
	}
}

// tsLayouts are tried in order. Comma fractional separators are
// normalized to dots before matching, so one set covers both styles.
var tsLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999-0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-0700",
	"2006-01-02 15:04:05.999999999",
}

// parseTimestamp converts a timestamp string to UTC. Digit-only values
// of plausible width are read as unix epochs. Returns nil when no form
// matches; the event is still stored, just without a timestamp.
func parseTimestamp(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}

	if len(s) >= 10 && len(s) <= 13 && isDigits(s) {
		n, err := strconv.ParseInt(s, 10, 64)
		if err == nil {
			t := epochTime(float64(n))
			return &t
		}
	}

	normalized := strings.ReplaceAll(s, ",", ".")
	for _, layout := range tsLayouts {
		if t, err := time.Parse(layout, normalized); err == nil {
			t = t.UTC()
			return &t
		}
	}

	// Fallback for timestamp shapes outside the fixed layouts, such as
	// RFC 822 or slash dates from older logging setups.
	if t, err := dateparse.ParseAny(normalized); err == nil {
		t = t.UTC()
		return &t
	}
	return nil
}

// epochTime converts a unix timestamp to UTC. Values past 1e12 are
// taken as milliseconds.
func epochTime(v float64) time.Time {
	if v > 1e12 {
		v /= 1000
	}
	sec, frac := math.Modf(v)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// takeString removes the first of keys holding a non-empty string from
// m and returns it. Keys with other value types stay for Metadata.
func takeString(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			delete(m, k)
			return s
		}
	}
	return ""
}

// takeTimestamp removes and parses the first usable timestamp key,
// accepting strings and epoch numbers. Unparseable values stay in
// Metadata untouched.
func takeTimestamp(m map[string]any) *time.Time {
	for _, k := range []string{"timestamp", "ts", "time", "@timestamp"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		var t *time.Time
		switch x := v.(type) {
		case string:
			t = parseTimestamp(x)
		case float64:
			tt := epochTime(x)
			t = &tt
		}
		if t != nil {
			delete(m, k)
			return t
		}
	}
	return nil
}
