package worker

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/jamesainslie/immutable/pkg/immutable/logging"
)

// Schema versions:
// 1 - CBOR entries (g:) and zstd content-addressed bodies (b:)
const CurrentSchemaVersion = 1

const schemaKey = "m:schema"

// ErrSchemaTooNew is returned when a store was written by a newer release.
var ErrSchemaTooNew = errors.New("cache store schema is newer than supported")

// Schema records the layout a store was written with.
type Schema struct {
	Version   int   `cbor:"version"`
	UpdatedAt int64 `cbor:"updated_at"`
}

// Schema returns the recorded schema, or nil for a store without one.
func (s *Store) Schema() (*Schema, error) {
	var schema *Schema
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(schemaKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			schema = &Schema{}
			return decMode.Unmarshal(val, schema)
		})
	})
	return schema, err
}

func (s *Store) setSchema(version int) error {
	data, err := encMode.Marshal(Schema{Version: version, UpdatedAt: time.Now().Unix()})
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(schemaKey), data)
	})
}

// checkSchema stamps a fresh store and resets one written with an older
// layout. Cached generations can always be fetched again.
func (s *Store) checkSchema() error {
	schema, err := s.Schema()
	if err != nil {
		return fmt.Errorf("read schema: %w", err)
	}

	switch {
	case schema == nil && !s.hasAnyKeys():
	case schema == nil, schema.Version < CurrentSchemaVersion:
		from := 0
		if schema != nil {
			from = schema.Version
		}
		logging.Get("worker").Warn("resetting cache store", "schema", from, "current", CurrentSchemaVersion)
		if err := s.db.DropAll(); err != nil {
			return fmt.Errorf("reset store: %w", err)
		}
	case schema.Version == CurrentSchemaVersion:
		return nil
	default:
		return fmt.Errorf("%w: %d > %d", ErrSchemaTooNew, schema.Version, CurrentSchemaVersion)
	}
	return s.setSchema(CurrentSchemaVersion)
}

func (s *Store) hasAnyKeys() bool {
	var found bool
	_ = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		it.Rewind()
		found = it.Valid()
		return nil
	})
	return found
}
