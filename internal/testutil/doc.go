// Package testutil provides deterministic helpers for tests: sequential
// instruction IDs and recorders for streams.
package testutil
