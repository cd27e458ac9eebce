package embed

import "errors"

// Sentinel errors for embedding operations, checked with errors.Is().
var (
	// ErrInvalidInput indicates blank or otherwise unusable input text.
	ErrInvalidInput = errors.New("invalid embedding input")

	// ErrDimensionMismatch indicates a vector whose width differs from
	// the configured dimension, either in a provider response or in
	// the database schema.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
