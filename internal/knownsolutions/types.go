// Package knownsolutions implements the Pattern-Tier Fast Path (§4.9): a
// pinned-solution lookup that bypasses the Hybrid Search Service entirely
// when a user has already validated a fix for a given problem.
package knownsolutions

import "time"

// KnownSolution pins one memory item as the validated answer for a
// problem hash. SuccessCount increments every time the pin is confirmed
// again (recordKnownSolution called with the same hash).
type KnownSolution struct {
	UserID       string
	ProblemHash  string
	MemoryID     string
	SuccessCount int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
