package vm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	badger "github.com/dgraph-io/badger/v4"
)

const machinePrefix = "machine:"

// BadgerStore is a Store backed by an embedded Badger database. Each record
// is a JSON value under "machine:<id>"; every upsert is one transaction.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore opens (or creates) a database at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(path))
	opts.Logger = nil
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func machineKey(id string) []byte {
	return []byte(machinePrefix + id)
}

// List iterates over every machine key.
func (s *BadgerStore) List(ctx context.Context, includeStopped bool) ([]Machine, error) {
	var machines []Machine
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(machinePrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var m Machine
			if err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			}); err != nil {
				return fmt.Errorf("parse machine %s: %w", it.Item().Key(), err)
			}
			machines = append(machines, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sortMachines(machines, includeStopped), nil
}

// Get returns the record for id.
func (s *BadgerStore) Get(ctx context.Context, id string) (Machine, error) {
	var m Machine
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(machineKey(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &NotFoundError{ID: id}
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &m)
		})
	})
	if err != nil {
		return Machine{}, err
	}
	return m, nil
}

// Upsert writes m in a single transaction.
func (s *BadgerStore) Upsert(ctx context.Context, m Machine) error {
	if !ValidID(m.ID) {
		return &ValidationError{Field: "id", Message: fmt.Sprintf("%q is not a valid machine id", m.ID)}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("marshal machine %s: %w", m.ID, err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(machineKey(m.ID), data)
	})
}

// Delete removes the record for id.
func (s *BadgerStore) Delete(ctx context.Context, id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(machineKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return &NotFoundError{ID: id}
			}
			return err
		}
		return txn.Delete(machineKey(id))
	})
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
