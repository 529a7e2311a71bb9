package share

import (
	"context"
	"encoding/json"
	"fmt"

	badger "github.com/dgraph-io/badger/v4"
)

// keyPrefix namespaces share records inside the database.
var keyPrefix = []byte("share:")

func recordKey(token string) []byte {
	return append(append([]byte{}, keyPrefix...), token...)
}

// BadgerStore persists share records in an embedded BadgerDB database so
// links survive server restarts.
type BadgerStore struct {
	db *badger.DB
}

// OpenBadger opens (or creates) a BadgerDB-backed store at dir.
func OpenBadger(dir string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(dir)
	opts.Logger = nil // badger's own logger is too chatty for a sidecar store
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open share store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Put(_ context.Context, rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal share record: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(recordKey(rec.Token), data)
	})
	if err != nil {
		return fmt.Errorf("store share record: %w", err)
	}
	return nil
}

func (s *BadgerStore) Get(_ context.Context, token string) (Record, bool, error) {
	var rec Record
	found := false
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(recordKey(token))
		if err == badger.ErrKeyNotFound {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return Record{}, false, fmt.Errorf("read share record: %w", err)
	}
	return rec, found, nil
}

func (s *BadgerStore) Delete(_ context.Context, token string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(recordKey(token))
	})
	if err != nil {
		return fmt.Errorf("delete share record: %w", err)
	}
	return nil
}

func (s *BadgerStore) List(_ context.Context) ([]Record, error) {
	var out []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = keyPrefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(keyPrefix); it.ValidForPrefix(keyPrefix); it.Next() {
			var rec Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list share records: %w", err)
	}
	return out, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}
