// Package pending persists submitted but unrecorded mints on local disk so
// a restarted check-in client resumes them instead of minting again.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"presence-backend/checkin"
)

const keyPrefix = "pending/"

// Store is a checkin.PendingStore backed by an embedded BadgerDB
type Store struct {
	db *badger.DB
}

// Open opens (creating if needed) the store in dir. Only one process can
// hold dir at a time.
func Open(dir string, logger *slog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("state directory is required")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory %s: %w", dir, err)
	}
	opts := badger.DefaultOptions(dir).WithSyncWrites(true).WithNumVersionsToKeep(1)
	return open(opts, logger)
}

// OpenInMemory opens a store that keeps nothing on disk
func OpenInMemory() (*Store, error) {
	return open(badger.DefaultOptions("").WithInMemory(true), nil)
}

func open(opts badger.Options, logger *slog.Logger) (*Store, error) {
	if logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: logger})
	} else {
		opts = opts.WithLogger(nil)
	}
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open pending store: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func key(userID, eventID string) []byte {
	return []byte(keyPrefix + userID + "|" + eventID)
}

func (s *Store) LoadPending(_ context.Context, userID, eventID string) (*checkin.PendingMint, error) {
	var p *checkin.PendingMint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(userID, eventID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		data, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		p = &checkin.PendingMint{}
		return json.Unmarshal(data, p)
	})
	if err != nil {
		return nil, fmt.Errorf("load pending mint: %w", err)
	}
	return p, nil
}

func (s *Store) SavePending(_ context.Context, p checkin.PendingMint) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(p.UserID, p.EventID), data)
	})
	if err != nil {
		return fmt.Errorf("save pending mint: %w", err)
	}
	return nil
}

func (s *Store) DeletePending(_ context.Context, userID, eventID string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(key(userID, eventID))
	})
	if err != nil {
		return fmt.Errorf("delete pending mint: %w", err)
	}
	return nil
}

// List returns every pending mint, in key order
func (s *Store) List(_ context.Context) ([]checkin.PendingMint, error) {
	var out []checkin.PendingMint
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var p checkin.PendingMint
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &p)
			})
			if err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list pending mints: %w", err)
	}
	return out, nil
}

type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}
