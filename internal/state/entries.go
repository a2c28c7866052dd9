package state

import (
	"log/slog"
	"sort"

	"github.com/alexjbarnes/diary-sync/internal/models"
)

// AllEntries returns every locally known entry, synced or not, ordered by
// date and then id. It never fails: storage errors and corrupt records
// degrade to fewer (or no) entries and are logged.
func (s *State) AllEntries() []models.Entry {
	var entries []models.Entry

	err := s.View(func(tx *Tx) error {
		for _, e := range tx.Entries() {
			entries = append(entries, e)
		}

		return nil
	})
	if err != nil {
		s.logger.Warn("reading entries", slog.String("error", err.Error()))
		return []models.Entry{}
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Date != entries[j].Date {
			return entries[i].Date < entries[j].Date
		}

		return entries[i].ID < entries[j].ID
	})

	if entries == nil {
		entries = []models.Entry{}
	}

	return entries
}

// GetEntry returns the entry with the given id, or nil if not found.
func (s *State) GetEntry(id string) *models.Entry {
	var e *models.Entry

	_ = s.View(func(tx *Tx) error {
		e = tx.Entry(id)
		return nil
	})

	return e
}

// EntryByDate returns the first entry for a calendar date, or nil.
func (s *State) EntryByDate(date string) *models.Entry {
	for _, e := range s.AllEntries() {
		if e.Date == date {
			return &e
		}
	}

	return nil
}

// PutEntry writes or replaces an entry by id.
func (s *State) PutEntry(e models.Entry) error {
	return s.Batch(func(tx *Tx) error {
		return tx.PutEntry(e)
	})
}

// DeleteEntry removes an entry by id.
func (s *State) DeleteEntry(id string) error {
	return s.Batch(func(tx *Tx) error {
		return tx.DeleteEntry(id)
	})
}

// ReplaceEntryID atomically renames an entry and every queued operation
// that references it.
func (s *State) ReplaceEntryID(oldID, newID string) error {
	return s.Batch(func(tx *Tx) error {
		return tx.ReplaceEntryID(oldID, newID)
	})
}

// Conflicts returns every recorded merge conflict, oldest first.
func (s *State) Conflicts() []models.Conflict {
	var out []models.Conflict

	_ = s.View(func(tx *Tx) error {
		out = tx.Conflicts()
		return nil
	})

	return out
}

// QueueItems returns the pending upload queue in processing order.
func (s *State) QueueItems() []models.QueueItem {
	var items []models.QueueItem

	_ = s.View(func(tx *Tx) error {
		items = tx.QueueItems()
		return nil
	})

	return items
}

// Enqueue appends a queue item and returns it with its sequence number.
func (s *State) Enqueue(item models.QueueItem) (models.QueueItem, error) {
	var stored models.QueueItem

	err := s.Batch(func(tx *Tx) error {
		var err error
		stored, err = tx.Enqueue(item)
		return err
	})

	return stored, err
}
