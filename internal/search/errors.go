package search

import "errors"

// ErrInvalidInput indicates a caller mistake: an out-of-range top-k or a
// query vector whose width does not match the embedding schema. Detect it
// with errors.Is:
//
//	if errors.Is(err, search.ErrInvalidInput) {
//	    // reject the request, do not retry
//	}
var ErrInvalidInput = errors.New("invalid search input")
