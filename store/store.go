// Package store persists the last successful retrieval of each fetcher so that
// stale but valid data survives restarts.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/syndtr/goleveldb/leveldb"

	"github.com/gaborage/go-retrieval/retrieval"
)

const keyPrefix = "snapshot/"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("store: closed")

// Snapshot is the persisted form of a successful retrieval.
type Snapshot struct {
	RetrievedAt time.Time          `json:"retrievedAt"`
	Outcome     *retrieval.Outcome `json:"outcome"`
}

// LevelDB stores snapshots in a LevelDB database keyed by fetcher ID.
type LevelDB struct {
	db *leveldb.DB
}

// Open opens or creates the database at path.
func Open(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store at %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Save replaces the snapshot stored for id.
func (s *LevelDB) Save(ctx context.Context, id string, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snapshot.Outcome == nil {
		return fmt.Errorf("store: snapshot for %s has no outcome", id)
	}
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot for %s: %w", id, err)
	}
	if err := s.db.Put(key(id), data, nil); err != nil {
		return translate(err)
	}
	return nil
}

// Load returns the snapshot stored for id. The boolean is false if none exists.
func (s *LevelDB) Load(ctx context.Context, id string) (Snapshot, bool, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, false, err
	}
	data, err := s.db.Get(key(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, translate(err)
	}
	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to decode snapshot for %s: %w", id, err)
	}
	return snapshot, true, nil
}

// Delete removes the snapshot stored for id, if any.
func (s *LevelDB) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return translate(s.db.Delete(key(id), nil))
}

// Close releases the database.
func (s *LevelDB) Close() error {
	return translate(s.db.Close())
}

func key(id string) []byte {
	return []byte(keyPrefix + id)
}

func translate(err error) error {
	if errors.Is(err, leveldb.ErrClosed) {
		return ErrClosed
	}
	return err
}
