package rag

import (
	"fmt"
	"strings"
	"time"

	"github.com/logsift/logsift/internal/search"
)

// systemPrompt grounds the model in the retrieved events and pins the
// outcome vocabulary the CLI and dashboards key on.
const systemPrompt = `You are an SRE assistant analyzing application logs.
Use the provided context to answer the question concisely.
You may infer standard failure semantics commonly associated with the observed exceptions,
but do not invent events not implied by the logs.

Classify outcomes as:
- TRANSIENT (error occurred but recovered)
- TERMINAL (workflow failed)
- NONE (no failure)`

// emptyContextMarker stands in for the context block when retrieval
// returns nothing, so the model states that instead of hallucinating.
const emptyContextMarker = "No matching log events found."

// contextLine renders one retrieved event. Fields the parser could not
// extract render as "-" to keep the line shape stable.
func contextLine(r search.Result) string {
	service := r.Service
	if service == "" {
		service = "-"
	}
	level := r.Level
	if level == "" {
		level = "-"
	}
	ts := "-"
	if r.TS != nil {
		ts = r.TS.UTC().Format(time.RFC3339)
	}
	return fmt.Sprintf("[%d] %s %s %s dist=%.4f: %s", r.ID, service, level, ts, r.Distance, r.Message)
}

// buildContext renders ranked results into the context block, dropping
// the lowest-ranked candidates once the character budget is spent. The
// returned slice holds exactly the events that made it into the block;
// those are the only ones the answer may cite. The best candidate is
// always kept, even when its line alone exceeds the budget.
func buildContext(results []search.Result, budget int) (string, []search.Result) {
	if len(results) == 0 {
		return emptyContextMarker, nil
	}

	var b strings.Builder
	kept := make([]search.Result, 0, len(results))
	for _, r := range results {
		line := contextLine(r)
		need := len(line)
		if b.Len() > 0 {
			need++ // joining newline
		}
		if len(kept) > 0 && b.Len()+need > budget {
			break
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		kept = append(kept, r)
	}
	return b.String(), kept
}

// buildPrompt is the user-role message: context first, then the question.
func buildPrompt(question, contextBlock string) string {
	return fmt.Sprintf("Context:\n%s\n\nQuestion: %s\nAnswer:", contextBlock, question)
}
