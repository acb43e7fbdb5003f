package store

import (
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

// ErrSnapshotNotFound is returned by Load when a market has no snapshot.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotStore keeps the latest engine snapshot of each market in Pebble.
type SnapshotStore struct {
	db *pebble.DB
}

// OpenSnapshotStore opens (or creates) a Pebble database in dir.
func OpenSnapshotStore(dir string) (*SnapshotStore, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble: %w", err)
	}
	return &SnapshotStore{db: db}, nil
}

// Close closes the database.
func (s *SnapshotStore) Close() error { return s.db.Close() }

// keys: s:<market_id>
var snapshotPrefix = []byte("s:")

func snapshotKey(marketID string) []byte {
	return append(append([]byte(nil), snapshotPrefix...), marketID...)
}

// keyUpperBound returns the smallest key greater than every key starting
// with prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

// Save overwrites the snapshot of a market.
func (s *SnapshotStore) Save(marketID string, data []byte) error {
	if err := s.db.Set(snapshotKey(marketID), data, pebble.Sync); err != nil {
		return fmt.Errorf("save snapshot %s: %w", marketID, err)
	}
	return nil
}

// Load returns the snapshot of a market.
func (s *SnapshotStore) Load(marketID string) ([]byte, error) {
	val, closer, err := s.db.Get(snapshotKey(marketID))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("load snapshot %s: %w", marketID, err)
	}
	defer closer.Close()
	return append([]byte(nil), val...), nil
}

// LoadAll returns every stored snapshot keyed by market ID.
func (s *SnapshotStore) LoadAll() (map[string][]byte, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: snapshotPrefix,
		UpperBound: keyUpperBound(snapshotPrefix),
	})
	if err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	defer iter.Close()

	out := make(map[string][]byte)
	for iter.First(); iter.Valid(); iter.Next() {
		id := string(iter.Key()[len(snapshotPrefix):])
		out[id] = append([]byte(nil), iter.Value()...)
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate snapshots: %w", err)
	}
	return out, nil
}

// Delete removes the snapshot of a market.
func (s *SnapshotStore) Delete(marketID string) error {
	if err := s.db.Delete(snapshotKey(marketID), pebble.Sync); err != nil {
		return fmt.Errorf("delete snapshot %s: %w", marketID, err)
	}
	return nil
}
