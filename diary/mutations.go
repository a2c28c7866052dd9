package diary

import (
	"fmt"
	"log/slog"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/alexjbarnes/diary-sync/internal/events"
	"github.com/alexjbarnes/diary-sync/internal/models"
	"github.com/alexjbarnes/diary-sync/internal/state"
)

// SaveEntry writes a user edit to the local store and queues it for
// upload in the same transaction. A draft without an id becomes a new
// entry with a temporary id. The stored entry is returned.
func (s *Syncer) SaveEntry(d Draft) (models.Entry, error) {
	now := s.now()

	var saved models.Entry
	err := s.state.Batch(func(tx *state.Tx) error {
		var (
			e  models.Entry
			op models.Operation
		)

		if d.ID == "" {
			e = models.Entry{
				ID:        models.NewTempID(),
				CreatedAt: now,
			}
			op = models.OpCreate
		} else {
			existing := tx.Entry(d.ID)
			if existing == nil {
				return fmt.Errorf("%w: %s", syncerr.ErrEntryMissing, d.ID)
			}
			e = *existing
			op = models.OpUpdate
		}

		if d.Date != "" {
			e.Date = d.Date
		}
		e.Body = d.Body
		e.UpdatedAt = now
		e.SyncedWithServer = false

		if err := tx.PutEntry(e); err != nil {
			return err
		}

		snapshot := e
		if _, err := tx.Enqueue(models.QueueItem{
			Operation:  op,
			TargetID:   e.ID,
			Payload:    &snapshot,
			EnqueuedAt: now,
		}); err != nil {
			return fmt.Errorf("queueing %s: %w", op, err)
		}

		saved = e
		return nil
	})
	if err != nil {
		return models.Entry{}, fmt.Errorf("saving entry: %w", err)
	}

	s.logger.Debug("entry saved",
		slog.String("id", saved.ID),
		slog.String("date", saved.Date),
	)
	s.publish(events.DiaryUpdated, saved.ID)

	return saved, nil
}

// DeleteEntry removes an entry locally and queues the server delete. An
// entry that only ever existed on this device has its queued operations
// dropped instead, since the server never saw it.
func (s *Syncer) DeleteEntry(id string) error {
	now := s.now()

	err := s.state.Batch(func(tx *state.Tx) error {
		if tx.Entry(id) == nil {
			return fmt.Errorf("%w: %s", syncerr.ErrEntryMissing, id)
		}

		if err := tx.DeleteEntry(id); err != nil {
			return err
		}

		if models.IsTempID(id) {
			_, err := tx.RemoveQueueItemsFor(id)
			return err
		}

		_, err := tx.Enqueue(models.QueueItem{
			Operation:  models.OpDelete,
			TargetID:   id,
			EnqueuedAt: now,
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting entry: %w", err)
	}

	s.logger.Debug("entry deleted", slog.String("id", id))
	s.publish(events.DiaryUpdated, id)

	return nil
}
