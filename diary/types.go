package diary

import (
	"fmt"
	"net/http"
	"time"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/alexjbarnes/diary-sync/internal/models"
)

// ServerEntry is an entry as returned by GET /entries. It carries the
// server-assigned id and any server-owned fields.
type ServerEntry struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	models.Body
	models.ServerFields
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// toEntry converts a server entry into its local form.
func (se ServerEntry) toEntry() models.Entry {
	return models.Entry{
		ID:               se.ID,
		Date:             se.Date,
		Body:             se.Body,
		ServerFields:     se.ServerFields,
		SyncedWithServer: true,
		CreatedAt:        se.CreatedAt,
		UpdatedAt:        se.UpdatedAt,
	}
}

// EntryPayload is the body of POST /entries and PUT /entries/{id}. It
// carries only client-owned fields; the id travels in the URL.
type EntryPayload struct {
	Date string `json:"date"`
	models.Body
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func payloadFor(e models.Entry) EntryPayload {
	return EntryPayload{
		Date:      e.Date,
		Body:      e.Body,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
	}
}

type entriesResponse struct {
	Entries []ServerEntry `json:"entries"`
}

type createResponse struct {
	ID string `json:"id"`
}

type pushTokenRequest struct {
	Token  string `json:"token"`
	Device string `json:"device"`
}

// APIError is a non-2xx answer from the backend. It matches
// ErrServerRejected, and ErrEntryNotFound for 404s, under errors.Is.
type APIError struct {
	Method     string
	Endpoint   string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API %s %s (%d): %s", e.Method, e.Endpoint, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API %s %s returned status %d", e.Method, e.Endpoint, e.StatusCode)
}

func (e *APIError) Unwrap() []error {
	if e.StatusCode == http.StatusNotFound {
		return []error{syncerr.ErrServerRejected, syncerr.ErrEntryNotFound}
	}
	return []error{syncerr.ErrServerRejected}
}

// QueueResult reports one drain of the upload queue.
type QueueResult struct {
	// Skipped is set, with Err ErrSyncInProgress, when another drain or
	// sync held the guard. Nothing was read or written.
	Skipped bool

	Sent      int
	Discarded int
	Remaining int

	// Err is the error that halted or skipped the drain, if any.
	Err error
}

// Result reports one reconciliation pass.
type Result struct {
	Success bool
	Skipped bool
	Err     error

	Drained   int
	Fetched   int
	Inserted  int
	Updated   int
	Removed   int
	Requeued  int
	Conflicts int

	// CommentIDs lists entries that gained a new or changed AI comment.
	CommentIDs []string
}

// Draft is a user edit. An empty ID creates a new entry.
type Draft struct {
	ID   string
	Date string
	models.Body
}
