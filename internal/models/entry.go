// Package models defines the diary entry and upload queue types shared
// across packages.
package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TempIDPrefix marks identifiers generated on the device for entries the
// server has not confirmed yet. Such ids never leave the device.
const TempIDPrefix = "local-"

// DateLayout is the day-granularity format of Entry.Date.
const DateLayout = "2006-01-02"

// NewTempID returns a fresh temporary entry identifier.
func NewTempID() string {
	return TempIDPrefix + uuid.NewString()
}

// IsTempID reports whether id was generated locally.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

// Body holds the fields the user authors. The client owns them until the
// server has confirmed a copy.
type Body struct {
	Content  string  `json:"content"`
	Mood     *string `json:"mood,omitempty"`
	MoodTag  *string `json:"moodTag,omitempty"`
	Weather  *string `json:"weather,omitempty"`
	ImageURI *string `json:"imageUri,omitempty"`
}

// ServerFields are populated exclusively by the server. The client never
// originates them and never clears a comment once it has one.
type ServerFields struct {
	AIComment *string `json:"aiComment,omitempty"`
	StampType *string `json:"stampType,omitempty"`
}

// Entry is a single diary entry as kept in the local store.
type Entry struct {
	ID   string `json:"id"`
	Date string `json:"date"`
	Body
	ServerFields
	SyncedWithServer bool      `json:"syncedWithServer"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Validate checks the fields every stored entry must carry.
func (e Entry) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("entry id is empty")
	}

	if _, err := time.Parse(DateLayout, e.Date); err != nil {
		return fmt.Errorf("entry date %q is not YYYY-MM-DD", e.Date)
	}

	return nil
}

// HasComment reports whether the server has attached an AI comment.
func (e Entry) HasComment() bool {
	return e.AIComment != nil && *e.AIComment != ""
}

// String returns a pointer to s, for optional fields.
func String(s string) *string {
	return &s
}

// Deref returns the pointed-to string or "" for nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}

	return *s
}
