package diary

import (
	"time"

	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/sergi/go-diff/diffmatchpatch"
	"golang.org/x/text/unicode/norm"
)

// mergeDecision is the outcome of merging one local entry with the
// server's copy of it.
type mergeDecision struct {
	merged models.Entry

	// localWins is set when the local body was newer. The server needs
	// an update unless one is already queued.
	localWins bool

	// lostLocal is set when the server body replaced a different, unsynced
	// local body.
	lostLocal bool

	// commentChanged is set when the server supplied a new or different
	// AI comment.
	commentChanged bool
}

// mergeEntry merges a server entry into its local counterpart.
//
// Server-owned fields come from the server, but a value the device
// already has is never cleared by a response that lacks it. Body fields
// come from the side with the newer UpdatedAt, with the server winning a
// tie. CreatedAt keeps the earliest known value.
func mergeEntry(local models.Entry, server ServerEntry, queued bool) mergeDecision {
	m := local
	var d mergeDecision

	if server.AIComment != nil {
		if models.Deref(local.AIComment) != *server.AIComment && *server.AIComment != "" {
			d.commentChanged = true
		}
		if *server.AIComment != "" || local.AIComment == nil {
			m.AIComment = server.AIComment
		}
	}
	if server.StampType != nil {
		m.StampType = server.StampType
	}

	m.CreatedAt = earliest(local.CreatedAt, server.CreatedAt)

	if local.UpdatedAt.After(server.UpdatedAt) {
		if sameBody(local.Body, server.Body) && local.Date == server.Date {
			// Already on the server, only the timestamp drifted.
			if !queued {
				m.SyncedWithServer = true
			}
			d.merged = m
			return d
		}
		d.localWins = true
		if !queued {
			m.SyncedWithServer = false
		}
		d.merged = m
		return d
	}

	if !local.SyncedWithServer && !sameBody(local.Body, server.Body) {
		d.lostLocal = true
	}

	m.Body = server.Body
	if server.Date != "" {
		m.Date = server.Date
	}
	m.UpdatedAt = server.UpdatedAt
	if !queued {
		m.SyncedWithServer = true
	}

	d.merged = m
	return d
}

// sameBody compares client-owned fields, normalizing content to NFC so
// that differently composed but identical text does not count as an edit.
func sameBody(a, b models.Body) bool {
	return norm.NFC.String(a.Content) == norm.NFC.String(b.Content) &&
		models.Deref(a.Mood) == models.Deref(b.Mood) &&
		models.Deref(a.MoodTag) == models.Deref(b.MoodTag) &&
		models.Deref(a.Weather) == models.Deref(b.Weather) &&
		models.Deref(a.ImageURI) == models.Deref(b.ImageURI)
}

// sameEntry reports whether writing b over a would change anything.
func sameEntry(a, b models.Entry) bool {
	return a.ID == b.ID &&
		a.Date == b.Date &&
		a.Body.Content == b.Body.Content &&
		sameBody(a.Body, b.Body) &&
		models.Deref(a.AIComment) == models.Deref(b.AIComment) &&
		(a.AIComment == nil) == (b.AIComment == nil) &&
		models.Deref(a.StampType) == models.Deref(b.StampType) &&
		(a.StampType == nil) == (b.StampType == nil) &&
		a.SyncedWithServer == b.SyncedWithServer &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt)
}

func earliest(a, b time.Time) time.Time {
	switch {
	case a.IsZero():
		return b
	case b.IsZero():
		return a
	case b.Before(a):
		return b
	default:
		return a
	}
}

// conflictFor records the local content that lost to the server as a
// patch turning the server text back into the local text.
func conflictFor(local models.Entry, server ServerEntry, at time.Time) models.Conflict {
	dmp := diffmatchpatch.New()
	serverText := norm.NFC.String(server.Content)
	localText := norm.NFC.String(local.Content)

	diffs := dmp.DiffMain(serverText, localText, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	patches := dmp.PatchMake(serverText, diffs)

	return models.Conflict{
		EntryID:      server.ID,
		Date:         local.Date,
		LocalContent: local.Content,
		Patch:        dmp.PatchToText(patches),
		DetectedAt:   at,
	}
}
