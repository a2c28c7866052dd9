package state

import (
	"encoding/binary"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.diary-sync/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

// Bucket names are versioned. Fields may be added to the stored records
// but never renamed, so there is no migration step.
var (
	entriesBucket   = []byte("entries:v1")
	queueBucket     = []byte("queue:v1")
	metaBucket      = []byte("meta:v1")
	conflictsBucket = []byte("conflicts:v1")

	lastSyncKey  = []byte("last_sync_at")
	pushTokenKey = []byte("push_token")
)

var allBuckets = [][]byte{entriesBucket, queueBucket, metaBucket, conflictsBucket}

// State wraps a bbolt database holding the local diary entries, the
// upload queue and sync metadata.
type State struct {
	db     *bolt.DB
	logger *slog.Logger
}

// LoadAt opens a state database at the given path, creating it and its
// buckets if they do not exist. A nil logger discards storage warnings.
func LoadAt(path string, logger *slog.Logger) (*State, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return &State{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// Batch runs fn inside a single read-write transaction. Either every
// write fn makes is committed or none is.
func (s *State) Batch(fn func(tx *Tx) error) error {
	return s.db.Update(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, logger: s.logger})
	})
}

// View runs fn inside a read-only transaction.
func (s *State) View(fn func(tx *Tx) error) error {
	return s.db.View(func(btx *bolt.Tx) error {
		return fn(&Tx{tx: btx, logger: s.logger})
	})
}

// LastSyncAt returns the fetch cursor of the last successful sync, or the
// zero time if the device has never synced.
func (s *State) LastSyncAt() time.Time {
	var t time.Time

	_ = s.View(func(tx *Tx) error {
		t = tx.LastSyncAt()
		return nil
	})

	return t
}

// PushToken returns the last push token registered with the backend.
func (s *State) PushToken() string {
	var token string

	_ = s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(metaBucket).Get(pushTokenKey)
		if v != nil {
			token = string(v)
		}

		return nil
	})

	return token
}

// SetPushToken records the push token the backend accepted.
func (s *State) SetPushToken(token string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(metaBucket).Put(pushTokenKey, []byte(token))
	})
}

// Snapshot returns a raw copy of every bucket, keyed by bucket then key.
// Used to verify that a failed operation left the store untouched.
func (s *State) Snapshot() (map[string]map[string][]byte, error) {
	out := make(map[string]map[string][]byte, len(allBuckets))

	err := s.db.View(func(tx *bolt.Tx) error {
		for _, name := range allBuckets {
			contents := make(map[string][]byte)

			err := tx.Bucket(name).ForEach(func(k, v []byte) error {
				contents[string(k)] = append([]byte(nil), v...)
				return nil
			})
			if err != nil {
				return err
			}

			out[string(name)] = contents
		}

		return nil
	})

	return out, err
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)

	return b
}
