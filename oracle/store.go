package oracle

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var (
	bucketCheckpoint = []byte("checkpoint")
	bucketHistory    = []byte("history")

	keyLast = []byte("last")
)

// Store persists accepted observations in a BoltDB file: the last good
// quote under a fixed key and a bounded append-only history keyed by
// bucket sequence.
type Store struct {
	db         *bolt.DB
	historyCap int
}

// NewStore opens (and migrates) the BoltDB-backed checkpoint store.
// historyCap bounds the retained observation history; non-positive
// values select the default of 1024.
func NewStore(path string, historyCap int) (*Store, error) {
	if historyCap <= 0 {
		historyCap = 1024
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketCheckpoint, bucketHistory} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, historyCap: historyCap}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// SaveLast overwrites the stored baseline observation.
func (s *Store) SaveLast(q Quote) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("checkpoint store not configured")
	}
	encoded, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketCheckpoint).Put(keyLast, encoded)
	})
}

// LoadLast fetches the stored baseline observation, if present.
func (s *Store) LoadLast() (Quote, bool, error) {
	if s == nil || s.db == nil {
		return Quote{}, false, fmt.Errorf("checkpoint store not configured")
	}
	var quote Quote
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketCheckpoint).Get(keyLast)
		if raw == nil {
			return nil
		}
		if err := json.Unmarshal(raw, &quote); err != nil {
			return err
		}
		found = true
		return nil
	})
	if err != nil {
		return Quote{}, false, err
	}
	return quote, found, nil
}

// AppendHistory records an observation and prunes entries beyond the
// configured cap, oldest first.
func (s *Store) AppendHistory(q Quote) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("checkpoint store not configured")
	}
	encoded, err := json.Marshal(q)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(bucketHistory)
		seq, err := bucket.NextSequence()
		if err != nil {
			return err
		}
		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := bucket.Put(key, encoded); err != nil {
			return err
		}
		total := 0
		counter := bucket.Cursor()
		for k, _ := counter.First(); k != nil; k, _ = counter.Next() {
			total++
		}
		return pruneOldest(bucket, total-s.historyCap)
	})
}

// pruneOldest removes excess entries from the front of the history.
// Victim keys are collected before deleting so the walk never mutates
// under a live cursor.
func pruneOldest(bucket *bolt.Bucket, excess int) error {
	if excess <= 0 {
		return nil
	}
	victims := make([][]byte, 0, excess)
	cursor := bucket.Cursor()
	for k, _ := cursor.First(); k != nil && len(victims) < excess; k, _ = cursor.Next() {
		key := make([]byte, len(k))
		copy(key, k)
		victims = append(victims, key)
	}
	for _, key := range victims {
		if err := bucket.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// RecentHistory returns up to n stored observations, newest first.
func (s *Store) RecentHistory(n int) ([]Quote, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("checkpoint store not configured")
	}
	if n <= 0 {
		return nil, nil
	}
	out := make([]Quote, 0, n)
	err := s.db.View(func(tx *bolt.Tx) error {
		cursor := tx.Bucket(bucketHistory).Cursor()
		for k, v := cursor.Last(); k != nil && len(out) < n; k, v = cursor.Prev() {
			var quote Quote
			if err := json.Unmarshal(v, &quote); err != nil {
				return err
			}
			out = append(out, quote)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
