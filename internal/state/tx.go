package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	syncerr "github.com/alexjbarnes/diary-sync/internal/errors"
	"github.com/alexjbarnes/diary-sync/internal/models"
	bolt "go.etcd.io/bbolt"
)

// Tx exposes the entry store and the upload queue inside one bbolt
// transaction. Write methods fail on a read-only Tx.
type Tx struct {
	tx     *bolt.Tx
	logger *slog.Logger
}

// --- entries ---

// Entry returns the entry with the given id, or nil if it is absent or
// its record cannot be decoded.
func (t *Tx) Entry(id string) *models.Entry {
	v := t.tx.Bucket(entriesBucket).Get([]byte(id))
	if v == nil {
		return nil
	}

	var e models.Entry
	if err := json.Unmarshal(v, &e); err != nil {
		t.logger.Warn("dropping corrupt entry record",
			slog.String("id", id),
			slog.String("error", err.Error()),
		)

		return nil
	}

	return &e
}

// Entries returns every decodable entry keyed by id. Corrupt records are
// skipped and logged.
func (t *Tx) Entries() map[string]models.Entry {
	result := make(map[string]models.Entry)

	_ = t.tx.Bucket(entriesBucket).ForEach(func(k, v []byte) error {
		var e models.Entry
		if err := json.Unmarshal(v, &e); err != nil {
			t.logger.Warn("dropping corrupt entry record",
				slog.String("id", string(k)),
				slog.String("error", err.Error()),
			)

			return nil
		}

		result[string(k)] = e

		return nil
	})

	return result
}

// PutEntry writes or replaces an entry by id. It never enqueues anything.
func (t *Tx) PutEntry(e models.Entry) error {
	if err := e.Validate(); err != nil {
		return fmt.Errorf("%w: %w", syncerr.ErrInvalidEntry, err)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}

	return t.tx.Bucket(entriesBucket).Put([]byte(e.ID), data)
}

// DeleteEntry removes an entry by id. Deleting an absent id is a no-op.
func (t *Tx) DeleteEntry(id string) error {
	return t.tx.Bucket(entriesBucket).Delete([]byte(id))
}

// ReplaceEntryID renames an entry, keeping every other field, and points
// all queued operations that targeted oldID at newID.
func (t *Tx) ReplaceEntryID(oldID, newID string) error {
	if oldID == newID {
		return nil
	}

	e := t.Entry(oldID)
	if e == nil {
		return fmt.Errorf("%w: %s", syncerr.ErrEntryMissing, oldID)
	}

	e.ID = newID
	if err := t.PutEntry(*e); err != nil {
		return err
	}

	if err := t.DeleteEntry(oldID); err != nil {
		return err
	}

	return t.RetargetQueue(oldID, newID)
}

// --- queue ---

// Enqueue appends an operation to the upload queue and returns it with
// its assigned sequence number.
func (t *Tx) Enqueue(item models.QueueItem) (models.QueueItem, error) {
	b := t.tx.Bucket(queueBucket)

	seq, err := b.NextSequence()
	if err != nil {
		return item, fmt.Errorf("allocating queue sequence: %w", err)
	}

	item.Seq = seq
	if item.EnqueuedAt.IsZero() {
		item.EnqueuedAt = time.Now().UTC()
	}

	data, err := json.Marshal(item)
	if err != nil {
		return item, err
	}

	return item, b.Put(itob(seq), data)
}

// QueueFront returns the oldest queued operation, or nil when the queue
// is empty. Undecodable items are skipped; on a writable Tx they are also
// removed since they can never be sent.
func (t *Tx) QueueFront() *models.QueueItem {
	var (
		front   *models.QueueItem
		corrupt [][]byte
	)

	c := t.tx.Bucket(queueBucket).Cursor()
	for k, v := c.First(); k != nil; k, v = c.Next() {
		var item models.QueueItem
		if err := json.Unmarshal(v, &item); err != nil {
			t.logger.Warn("discarding corrupt queue item", slog.String("error", err.Error()))
			corrupt = append(corrupt, append([]byte(nil), k...))

			continue
		}

		front = &item

		break
	}

	if t.tx.Writable() {
		for _, k := range corrupt {
			_ = t.tx.Bucket(queueBucket).Delete(k)
		}
	}

	return front
}

// QueueItem returns the queued operation with the given sequence number,
// or nil if it is no longer queued.
func (t *Tx) QueueItem(seq uint64) *models.QueueItem {
	v := t.tx.Bucket(queueBucket).Get(itob(seq))
	if v == nil {
		return nil
	}

	var item models.QueueItem
	if err := json.Unmarshal(v, &item); err != nil {
		return nil
	}

	return &item
}

// QueueItems returns all decodable queued operations in enqueue order.
func (t *Tx) QueueItems() []models.QueueItem {
	var items []models.QueueItem

	_ = t.tx.Bucket(queueBucket).ForEach(func(k, v []byte) error {
		var item models.QueueItem
		if err := json.Unmarshal(v, &item); err != nil {
			return nil
		}

		items = append(items, item)

		return nil
	})

	return items
}

// QueuedTargets maps every target id with pending work to the operation
// most recently queued for it.
func (t *Tx) QueuedTargets() map[string]models.Operation {
	targets := make(map[string]models.Operation)
	for _, item := range t.QueueItems() {
		targets[item.TargetID] = item.Operation
	}

	return targets
}

// RemoveQueueItem deletes a queued operation by sequence number.
func (t *Tx) RemoveQueueItem(seq uint64) error {
	return t.tx.Bucket(queueBucket).Delete(itob(seq))
}

// RemoveQueueItemsFor deletes every queued operation targeting id and
// returns how many were removed.
func (t *Tx) RemoveQueueItemsFor(id string) (int, error) {
	var removed int

	for _, item := range t.QueueItems() {
		if item.TargetID != id {
			continue
		}

		if err := t.RemoveQueueItem(item.Seq); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

// RetargetQueue points every queued operation for oldID at newID,
// including the id inside its payload snapshot.
func (t *Tx) RetargetQueue(oldID, newID string) error {
	b := t.tx.Bucket(queueBucket)

	for _, item := range t.QueueItems() {
		if item.TargetID != oldID {
			continue
		}

		item.TargetID = newID
		if item.Payload != nil {
			item.Payload.ID = newID
		}

		data, err := json.Marshal(item)
		if err != nil {
			return err
		}

		if err := b.Put(itob(item.Seq), data); err != nil {
			return err
		}
	}

	return nil
}

// --- meta ---

// LastSyncAt returns the fetch cursor of the last successful sync.
func (t *Tx) LastSyncAt() time.Time {
	v := t.tx.Bucket(metaBucket).Get(lastSyncKey)
	if v == nil {
		return time.Time{}
	}

	var ts time.Time
	if err := ts.UnmarshalText(v); err != nil {
		return time.Time{}
	}

	return ts
}

// SetLastSyncAt stores the fetch cursor for the next incremental sync.
func (t *Tx) SetLastSyncAt(ts time.Time) error {
	data, err := ts.UTC().MarshalText()
	if err != nil {
		return err
	}

	return t.tx.Bucket(metaBucket).Put(lastSyncKey, data)
}

// --- conflicts ---

// AddConflict records local content that lost a merge.
func (t *Tx) AddConflict(c models.Conflict) error {
	b := t.tx.Bucket(conflictsBucket)

	seq, err := b.NextSequence()
	if err != nil {
		return err
	}

	data, err := json.Marshal(c)
	if err != nil {
		return err
	}

	return b.Put(itob(seq), data)
}

// Conflicts returns every recorded conflict, oldest first.
func (t *Tx) Conflicts() []models.Conflict {
	var out []models.Conflict

	_ = t.tx.Bucket(conflictsBucket).ForEach(func(k, v []byte) error {
		var c models.Conflict
		if err := json.Unmarshal(v, &c); err != nil {
			return nil
		}

		out = append(out, c)

		return nil
	})

	return out
}
