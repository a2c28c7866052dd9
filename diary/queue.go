package diary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/alexjbarnes/diary-sync/internal/network"
	"github.com/alexjbarnes/diary-sync/internal/state"
)

// sendOutcome is the result of sending one queue item.
type sendOutcome struct {
	// newID is the server-assigned id of a created entry.
	newID string

	// discard names why the item can never succeed. The item is dropped
	// instead of retried.
	discard string
}

// ProcessQueue sends queued operations to the server in enqueue order,
// stopping at the first network or server failure. If a drain or sync is
// already running it returns immediately with Skipped set.
func (s *Syncer) ProcessQueue(ctx context.Context) QueueResult {
	if !s.guard.TryLock() {
		s.logger.Debug("queue drain skipped, sync in progress")
		return QueueResult{Skipped: true, Err: syncerr.ErrSyncInProgress}
	}
	defer s.guard.Unlock()

	return s.drain(ctx)
}

// drain is ProcessQueue without the guard. Callers must hold it.
func (s *Syncer) drain(ctx context.Context) QueueResult {
	var res QueueResult

	for {
		if err := ctx.Err(); err != nil {
			res.Err = fmt.Errorf("%w: %w", syncerr.ErrNetworkUnreachable, err)
			break
		}

		var (
			item   *models.QueueItem
			target *models.Entry
		)
		err := s.state.Batch(func(tx *state.Tx) error {
			item = tx.QueueFront()
			if item != nil {
				target = tx.Entry(item.TargetID)
			}
			return nil
		})
		if err != nil {
			res.Err = fmt.Errorf("reading queue: %w", err)
			break
		}
		if item == nil {
			break
		}

		out, err := s.send(ctx, *item, target)
		if err != nil {
			s.logDrainHalt(*item, err)
			res.Err = err
			break
		}

		if out.discard != "" {
			s.logger.Warn("discarding queued operation",
				slog.String("op", string(item.Operation)),
				slog.String("target", item.TargetID),
				slog.String("reason", out.discard),
			)
			if err := s.state.Batch(func(tx *state.Tx) error {
				return tx.RemoveQueueItem(item.Seq)
			}); err != nil {
				res.Err = fmt.Errorf("discarding queue item: %w", err)
				break
			}
			res.Discarded++
			continue
		}

		if err := s.complete(*item, out.newID); err != nil {
			res.Err = fmt.Errorf("completing %s for %s: %w", item.Operation, item.TargetID, err)
			break
		}
		res.Sent++

		s.logger.Debug("queued operation sent",
			slog.String("op", string(item.Operation)),
			slog.String("target", item.TargetID),
			slog.String("server_id", out.newID),
		)
	}

	res.Remaining = len(s.state.QueueItems())

	return res
}

// send performs the HTTP call for one item. A nil error with an empty
// discard means the server accepted it.
func (s *Syncer) send(ctx context.Context, item models.QueueItem, target *models.Entry) (sendOutcome, error) {
	switch item.Operation {
	case models.OpCreate, models.OpUpdate:
		if target == nil {
			return sendOutcome{discard: "entry no longer exists locally"}, nil
		}

		src := target
		if item.Payload != nil {
			src = item.Payload
		}
		payload := payloadFor(*src)

		// Temporary ids never reach the server.
		if item.Operation == models.OpCreate || models.IsTempID(item.TargetID) {
			id, err := s.backend.CreateEntry(ctx, payload)
			if err != nil {
				return sendOutcome{}, err
			}
			return sendOutcome{newID: id}, nil
		}

		err := s.backend.UpdateEntry(ctx, item.TargetID, payload)
		if errors.Is(err, syncerr.ErrEntryNotFound) {
			return sendOutcome{discard: "server no longer has entry"}, nil
		}
		return sendOutcome{}, err

	case models.OpDelete:
		if models.IsTempID(item.TargetID) {
			return sendOutcome{discard: "entry never reached the server"}, nil
		}

		err := s.backend.DeleteEntry(ctx, item.TargetID)
		if errors.Is(err, syncerr.ErrEntryNotFound) {
			return sendOutcome{}, nil
		}
		return sendOutcome{}, err

	default:
		return sendOutcome{discard: fmt.Sprintf("unknown operation %q", item.Operation)}, nil
	}
}

// complete applies an accepted operation to the store as one unit: the
// item is removed, a created entry takes its server id everywhere, and the
// entry is marked synced once nothing else is queued for it.
func (s *Syncer) complete(item models.QueueItem, newID string) error {
	return s.state.Batch(func(tx *state.Tx) error {
		if err := tx.RemoveQueueItem(item.Seq); err != nil {
			return err
		}

		id := item.TargetID
		if newID != "" && newID != id {
			if tx.Entry(id) == nil {
				// Deleted locally while the create was in flight.
				_, err := tx.Enqueue(models.QueueItem{
					Operation: models.OpDelete,
					TargetID:  newID,
				})
				return err
			}
			if err := tx.ReplaceEntryID(id, newID); err != nil {
				return err
			}
			id = newID
		}

		e := tx.Entry(id)
		if e == nil || e.SyncedWithServer {
			return nil
		}
		for _, other := range tx.QueueItems() {
			if other.TargetID == id {
				return nil
			}
		}

		e.SyncedWithServer = true
		return tx.PutEntry(*e)
	})
}

func (s *Syncer) logDrainHalt(item models.QueueItem, err error) {
	attrs := []any{
		slog.String("op", string(item.Operation)),
		slog.String("target", item.TargetID),
		slog.String("error", err.Error()),
	}

	var apiErr *APIError
	switch {
	case errors.As(err, &apiErr):
		attrs = append(attrs, slog.Int("status", apiErr.StatusCode))
		s.logger.Warn("server rejected queued operation, halting drain", attrs...)
	case errors.Is(err, syncerr.ErrNetworkUnreachable):
		s.logger.Info("network unreachable, halting drain", attrs...)
	default:
		s.logger.Warn("queued operation failed, halting drain", attrs...)
	}
}

// StartWatching subscribes to the network monitor and drains the queue
// once on every transition to online. Calling it again while a
// subscription is active does nothing.
func (s *Syncer) StartWatching(ctx context.Context) {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.unwatch != nil || s.monitor == nil {
		return
	}

	var (
		mu        sync.Mutex
		wasOnline bool
	)
	watchCtx, cancel := context.WithCancel(ctx)

	unsub := s.monitor.Subscribe(func(st network.Status) {
		mu.Lock()
		online := st.Online()
		trigger := online && !wasOnline
		wasOnline = online
		mu.Unlock()

		if !trigger || watchCtx.Err() != nil {
			return
		}

		go func() {
			res := s.ProcessQueue(watchCtx)
			if res.Skipped {
				return
			}
			s.logger.Info("queue drained after reconnect",
				slog.Int("sent", res.Sent),
				slog.Int("discarded", res.Discarded),
				slog.Int("remaining", res.Remaining),
			)
		}()
	})

	s.unwatch = func() {
		cancel()
		unsub()
	}
	s.logger.Debug("watching network for queue drains")
}

// StopWatching releases the network subscription made by StartWatching.
func (s *Syncer) StopWatching() {
	s.watchMu.Lock()
	defer s.watchMu.Unlock()

	if s.unwatch != nil {
		s.unwatch()
		s.unwatch = nil
	}
}
