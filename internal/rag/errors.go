package rag

import "errors"

// ErrGeneration indicates the language model call failed after the retry
// budget was spent. Ask absorbs it into a degraded Answer; it only
// reaches callers through errors.Is on lower-level paths:
//
//	if errors.Is(err, rag.ErrGeneration) {
//	    // model-side failure, retrieval already succeeded
//	}
var ErrGeneration = errors.New("answer generation failed")
