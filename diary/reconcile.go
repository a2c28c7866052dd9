package diary

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/alexjbarnes/diary-sync/internal/state"
)

// cursorOverlap is subtracted from the stored cursor on incremental
// fetches. Re-fetched entries merge as no-ops.
const cursorOverlap = 5 * time.Minute

// SyncWithServer drains the upload queue, fetches the server's entries and
// merges them into the local store. On any failure the store is left as
// the drain left it and Success is false. Expected failures are reported
// in the Result, never panicked or returned separately.
//
// Fetches are incremental from the last successful sync unless the
// syncer was configured for full syncs or has never synced. Only a full
// fetch can remove local entries, since an incremental response does not
// list unchanged ones.
//
// The cursor is this device's clock at fetch start, while the server
// filters on its own timestamps. Incremental fetches reach back
// cursorOverlap before the cursor, so the two clocks are assumed to agree
// within that window. A device further ahead than that can miss server
// changes until the next full sync.
func (s *Syncer) SyncWithServer(ctx context.Context) Result {
	if !s.guard.TryLock() {
		s.logger.Debug("sync skipped, already in progress")
		return Result{Skipped: true, Err: syncerr.ErrSyncInProgress}
	}
	defer s.guard.Unlock()

	qr := s.drain(ctx)
	res := Result{Drained: qr.Sent + qr.Discarded}
	if qr.Err != nil {
		res.Err = fmt.Errorf("draining queue: %w", qr.Err)
		s.logger.Info("sync aborted", slog.String("error", res.Err.Error()))
		return res
	}

	started := s.now()
	since := s.state.LastSyncAt()
	full := s.fullSync || since.IsZero()
	if full {
		since = time.Time{}
	} else {
		since = since.Add(-cursorOverlap)
	}

	serverEntries, err := s.backend.FetchEntries(ctx, since)
	if err != nil {
		res.Err = err
		s.logger.Info("sync aborted", slog.String("error", err.Error()))
		return res
	}
	res.Fetched = len(serverEntries)

	err = s.state.Batch(func(tx *state.Tx) error {
		if err := s.merge(tx, serverEntries, full, started, &res); err != nil {
			return err
		}
		return tx.SetLastSyncAt(started)
	})
	if err != nil {
		// Rolled back; clear counters describing writes that never landed.
		res = Result{Drained: res.Drained, Fetched: res.Fetched}
		res.Err = fmt.Errorf("persisting merge: %w", err)
		s.logger.Error("sync merge failed", slog.String("error", err.Error()))
		return res
	}

	res.Success = true

	s.logger.Info("sync complete",
		slog.Bool("full", full),
		slog.Int("drained", res.Drained),
		slog.Int("fetched", res.Fetched),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated),
		slog.Int("removed", res.Removed),
		slog.Int("requeued", res.Requeued),
		slog.Int("conflicts", res.Conflicts),
		slog.Int("comments", len(res.CommentIDs)),
	)

	s.publish(events.DiaryUpdated)
	if len(res.CommentIDs) > 0 {
		s.publish(events.AICommentReceived, res.CommentIDs...)
	}

	return res
}

// merge applies the server's entries to the store inside tx. It re-reads
// local state from tx so edits made while the fetch was in flight are
// respected.
func (s *Syncer) merge(tx *state.Tx, serverEntries []ServerEntry, full bool, at time.Time, res *Result) error {
	local := tx.Entries()
	queued := tx.QueuedTargets()
	seen := make(map[string]bool, len(serverEntries))

	for _, se := range serverEntries {
		if se.ID == "" || models.IsTempID(se.ID) {
			s.logger.Warn("ignoring server entry with invalid id", slog.String("id", se.ID))
			continue
		}
		// A local copy of a malformed record is kept, not pruned.
		seen[se.ID] = true

		e := se.toEntry()
		if err := e.Validate(); err != nil {
			s.logger.Warn("skipping invalid server entry",
				slog.String("id", se.ID),
				slog.String("error", err.Error()),
			)
			continue
		}

		le, ok := local[se.ID]
		if !ok {
			if queued[se.ID] == models.OpDelete {
				continue
			}

			if err := tx.PutEntry(e); err != nil {
				return fmt.Errorf("inserting server entry %s: %w", se.ID, err)
			}
			res.Inserted++
			if e.HasComment() {
				res.CommentIDs = append(res.CommentIDs, e.ID)
			}
			continue
		}

		_, hasQueued := queued[se.ID]
		d := mergeEntry(le, se, hasQueued)

		if d.lostLocal {
			if err := tx.AddConflict(conflictFor(le, se, at)); err != nil {
				return fmt.Errorf("recording conflict for %s: %w", se.ID, err)
			}
			res.Conflicts++
			s.logger.Warn("local edit superseded by server",
				slog.String("id", se.ID),
				slog.String("date", le.Date),
			)
		}

		if d.localWins && !hasQueued {
			snapshot := d.merged
			if _, err := tx.Enqueue(models.QueueItem{
				Operation:  models.OpUpdate,
				TargetID:   se.ID,
				Payload:    &snapshot,
				EnqueuedAt: at,
			}); err != nil {
				return fmt.Errorf("queueing update for %s: %w", se.ID, err)
			}
			res.Requeued++
		}

		if d.commentChanged {
			res.CommentIDs = append(res.CommentIDs, se.ID)
		}

		if sameEntry(le, d.merged) {
			continue
		}
		if err := tx.PutEntry(d.merged); err != nil {
			return fmt.Errorf("writing merged entry %s: %w", se.ID, err)
		}
		res.Updated++
	}

	for id, le := range local {
		if seen[id] {
			continue
		}
		_, hasQueued := queued[id]

		if !le.SyncedWithServer {
			if hasQueued {
				continue
			}
			snapshot := le
			if _, err := tx.Enqueue(models.QueueItem{
				Operation:  models.OpCreate,
				TargetID:   id,
				Payload:    &snapshot,
				EnqueuedAt: at,
			}); err != nil {
				return fmt.Errorf("queueing create for %s: %w", id, err)
			}
			res.Requeued++
			s.logger.Warn("re-queued unsynced entry with no pending operation", slog.String("id", id))
			continue
		}

		if full && !hasQueued {
			if err := tx.DeleteEntry(id); err != nil {
				return fmt.Errorf("removing %s: %w", id, err)
			}
			res.Removed++
		}
	}

	return nil
}
