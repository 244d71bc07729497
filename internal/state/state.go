package state

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/alexjbarnes/delivery-sync/internal/models"
	bolt "go.etcd.io/bbolt"
)

const (
	// stateDirPerm is the permission mode for the state directory.
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second
)

var (
	snapshotKey  = []byte("snapshot")
	fetchedAtKey = []byte("fetched_at")
)

func rootMetaBucket(rootID string) []byte {
	return []byte("root:" + rootID + ":meta")
}

func rootTombstoneBucket(rootID string) []byte {
	return []byte("root:" + rootID + ":tombstones")
}

func rootDownloadBucket(rootID string) []byte {
	return []byte("root:" + rootID + ":downloads")
}

// Snapshot is the last authoritative folder tree seen for a root.
type Snapshot struct {
	Folders   []models.Folder
	FetchedAt time.Time
}

// State wraps a bbolt database for all persistent application state.
type State struct {
	db *bolt.DB
}

// LoadAt opens a state database at the given path, creating it and its
// parent directory if they do not exist.
func LoadAt(path string) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	db, err := bolt.Open(path, stateFilePerm, &bolt.Options{Timeout: stateOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return &State{db: db}, nil
}

// Close closes the database.
func (s *State) Close() error {
	return s.db.Close()
}

// InitRootBuckets ensures the buckets for a delivery root exist. Call
// this once before reading or writing root state.
func (s *State) InitRootBuckets(rootID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{
			rootMetaBucket(rootID),
			rootTombstoneBucket(rootID),
			rootDownloadBucket(rootID),
		} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}

		return nil
	})
}

// SaveSnapshot replaces the cached folder tree for a root.
func (s *State) SaveSnapshot(rootID string, folders []models.Folder) error {
	data, err := json.Marshal(folders)
	if err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}

	stamp, err := time.Now().UTC().MarshalText()
	if err != nil {
		return err
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootMetaBucket(rootID))
		if b == nil {
			return fmt.Errorf("meta bucket not initialized for root %s", rootID)
		}

		if err := b.Put(snapshotKey, data); err != nil {
			return err
		}

		return b.Put(fetchedAtKey, stamp)
	})
}

// LoadSnapshot returns the cached folder tree for a root, or nil if
// none has been saved.
func (s *State) LoadSnapshot(rootID string) (*Snapshot, error) {
	var snap *Snapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootMetaBucket(rootID))
		if b == nil {
			return nil
		}

		v := b.Get(snapshotKey)
		if v == nil {
			return nil
		}

		snap = &Snapshot{}
		if err := json.Unmarshal(v, &snap.Folders); err != nil {
			return err
		}

		if ts := b.Get(fetchedAtKey); ts != nil {
			return snap.FetchedAt.UnmarshalText(ts)
		}

		return nil
	})

	return snap, err
}

// SetPendingDeletes replaces the persisted tombstone set for a root.
// Tombstones must survive restarts: a stale snapshot fetched right after
// startup would otherwise resurrect files whose deletion is still
// unconfirmed.
func (s *State) SetPendingDeletes(rootID string, ids []string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		name := rootTombstoneBucket(rootID)
		if tx.Bucket(name) != nil {
			if err := tx.DeleteBucket(name); err != nil {
				return err
			}
		}

		b, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}

		for _, id := range ids {
			if err := b.Put([]byte(id), []byte{1}); err != nil {
				return err
			}
		}

		return nil
	})
}

// PendingDeletes returns the persisted tombstone ids for a root, sorted.
func (s *State) PendingDeletes(rootID string) ([]string, error) {
	var ids []string

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootTombstoneBucket(rootID))
		if b == nil {
			return nil
		}

		return b.ForEach(func(k, _ []byte) error {
			ids = append(ids, string(k))
			return nil
		})
	})

	return ids, err
}

// AddDownload appends a finished download to the root's history.
func (s *State) AddDownload(rec models.DownloadRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding download record: %w", err)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(rootDownloadBucket(rec.RootID))
		if err != nil {
			return err
		}

		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)

		return b.Put(key, data)
	})
}

// Downloads returns the root's download history, newest first. A
// positive limit caps the number of records returned.
func (s *State) Downloads(rootID string, limit int) ([]models.DownloadRecord, error) {
	var recs []models.DownloadRecord

	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(rootDownloadBucket(rootID))
		if b == nil {
			return nil
		}

		c := b.Cursor()
		for k, v := c.Last(); k != nil; k, v = c.Prev() {
			var rec models.DownloadRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}

			recs = append(recs, rec)

			if limit > 0 && len(recs) >= limit {
				break
			}
		}

		return nil
	})

	return recs, err
}
