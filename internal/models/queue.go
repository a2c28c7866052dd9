package models

import "time"

// Operation is the kind of mutation recorded in the upload queue.
type Operation string

const (
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// QueueItem is a local mutation the server has not acknowledged yet.
// Seq is assigned by the store on enqueue and defines processing order.
// Payload is the entry snapshot at enqueue time; nil for deletes.
type QueueItem struct {
	Seq        uint64    `json:"seq"`
	Operation  Operation `json:"operation"`
	TargetID   string    `json:"targetId"`
	Payload    *Entry    `json:"payload,omitempty"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

// Conflict records local content that lost a merge against the server,
// so it can be recovered by hand.
type Conflict struct {
	EntryID      string    `json:"entryId"`
	Date         string    `json:"date"`
	LocalContent string    `json:"localContent"`
	Patch        string    `json:"patch"`
	DetectedAt   time.Time `json:"detectedAt"`
}
