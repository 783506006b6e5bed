// Package docregistry implements the Document Registry (§4.8): URL/content
// dedup by hash, a sequential fetch-parse-chunk-summarise worker, and a
// Redis fast path so a re-encountered URL never triggers a second fetch or
// LLM call.
package docregistry

import "time"

// Status is the lifecycle state of a registry entry.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusComplete   Status = "complete"
	StatusFailed     Status = "failed"
)

// Entry is one registered document.
type Entry struct {
	ID              string
	UserID          string
	URL             string
	URLHash         string
	ContentHash     string
	DuplicateOfID   string // set when ContentHash matched an existing entry
	Status          Status
	Title           string
	Summary         BilingualSummary
	MemoryIDs       []string // chunk memory ids stored at tier books
	Error           string
	ProcessingTimeMs int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// BilingualSummary is the LLM-generated document summary, produced in both
// English and Hebrew per §4.8.
type BilingualSummary struct {
	TitleEN     string
	TitleHE     string
	SummaryEN   string
	SummaryHE   string
	KeyPointsEN []string
	KeyPointsHE []string
}

// QueueRequest is the input to QueueUrl.
type QueueRequest struct {
	UserID string
	URL    string
	Source string
}
