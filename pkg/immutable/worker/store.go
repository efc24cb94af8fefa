package worker

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"github.com/jamesainslie/immutable/pkg/immutable/digest"
)

// Key prefixes
const (
	prefixGeneration = "g:" // g:<version>\x00<path> -> Entry
	prefixBody       = "b:" // b:<cid> -> zstd body
	// m:schema -> Schema
)

const keySep = "\x00"

// Entry is one cached artifact of a generation.
type Entry struct {
	Path        string `cbor:"path"`
	Digest      string `cbor:"digest"`
	CID         string `cbor:"cid"`
	ContentType string `cbor:"content_type"`
	Size        int64  `cbor:"size"`
	StoredAt    int64  `cbor:"stored_at"`
}

// GenerationInfo summarizes one stored generation.
type GenerationInfo struct {
	Version string `json:"version" yaml:"version"`
	Entries int    `json:"entries" yaml:"entries"`
	Bytes   int64  `json:"bytes" yaml:"bytes"`
}

var (
	encMode    cbor.EncMode
	decMode    cbor.DecMode
	zstdWriter *zstd.Encoder
	zstdReader *zstd.Decoder
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("worker: cbor encoder: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("worker: cbor decoder: " + err.Error())
	}
	zstdWriter, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("worker: zstd encoder: " + err.Error())
	}
	zstdReader, err = zstd.NewReader(nil)
	if err != nil {
		panic("worker: zstd decoder: " + err.Error())
	}
}

// Store is the badger-backed cache storage shared by all generations.
// Bodies are content addressed, so identical files in two generations are
// stored once.
type Store struct {
	db *badger.DB

	// mu serializes writers so garbage collection never races a put.
	mu sync.Mutex
}

// Open opens or creates a store at path.
func Open(path string) (*Store, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	return open(opts)
}

// OpenInMemory opens a store that lives only as long as the process.
func OpenInMemory() (*Store, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	return open(opts)
}

func open(opts badger.Options) (*Store, error) {
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	s := &Store{db: db}
	if err := s.checkSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

func entryKey(version, path string) []byte {
	return []byte(prefixGeneration + version + keySep + path)
}

func generationPrefix(version string) []byte {
	return []byte(prefixGeneration + version + keySep)
}

func bodyKey(c string) []byte {
	return []byte(prefixBody + c)
}

// Put stores body as path in the generation version.
func (s *Store) Put(version, path, manifestDigest, contentType string, body []byte) (*Entry, error) {
	c, err := digest.CID(body)
	if err != nil {
		return nil, err
	}
	entry := &Entry{
		Path:        path,
		Digest:      manifestDigest,
		CID:         c.String(),
		ContentType: contentType,
		Size:        int64(len(body)),
		StoredAt:    time.Now().Unix(),
	}
	data, err := encMode.Marshal(entry)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.db.Update(func(txn *badger.Txn) error {
		bk := bodyKey(entry.CID)
		if _, err := txn.Get(bk); errors.Is(err, badger.ErrKeyNotFound) {
			if err := txn.Set(bk, zstdWriter.EncodeAll(body, nil)); err != nil {
				return err
			}
		} else if err != nil {
			return err
		}
		return txn.Set(entryKey(version, path), data)
	})
	if err != nil {
		return nil, fmt.Errorf("store %s: %w", path, err)
	}
	return entry, nil
}

// Get returns the entry and body cached for path in version. The entry is
// nil when the path is not cached.
func (s *Store) Get(version, path string) (*Entry, []byte, error) {
	var (
		entry Entry
		body  []byte
	)
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(entryKey(version, path))
		if err != nil {
			return err
		}
		if err := item.Value(func(val []byte) error {
			return decMode.Unmarshal(val, &entry)
		}); err != nil {
			return err
		}

		item, err = txn.Get(bodyKey(entry.CID))
		if err != nil {
			return fmt.Errorf("body %s of %s: %w", entry.CID, path, err)
		}
		return item.Value(func(val []byte) error {
			body, err = zstdReader.DecodeAll(val, make([]byte, 0, entry.Size))
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}
	return &entry, body, nil
}

// Entries lists the entries of a generation ordered by path.
func (s *Store) Entries(version string) ([]Entry, error) {
	var out []Entry
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := generationPrefix(version)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return decMode.Unmarshal(val, &e)
			}); err != nil {
				return err
			}
			out = append(out, e)
		}
		return nil
	})
	return out, err
}

// Generations summarizes every stored generation.
func (s *Store) Generations() ([]GenerationInfo, error) {
	byVersion := make(map[string]*GenerationInfo)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixGeneration)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			version, _, ok := bytes.Cut(it.Item().Key()[len(prefix):], []byte(keySep))
			if !ok {
				continue
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return decMode.Unmarshal(val, &e)
			}); err != nil {
				return err
			}

			info := byVersion[string(version)]
			if info == nil {
				info = &GenerationInfo{Version: string(version)}
				byVersion[string(version)] = info
			}
			info.Entries++
			info.Bytes += e.Size
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]GenerationInfo, 0, len(byVersion))
	for _, info := range byVersion {
		out = append(out, *info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}

// Evict removes the entries of every generation except keep, then the
// bodies no remaining entry references. It returns the number of entries
// removed.
func (s *Store) Evict(keep string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int
	err := s.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)

		var stale [][]byte
		prefix := []byte(prefixGeneration)
		keepPrefix := generationPrefix(keep)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if keep != "" && bytes.HasPrefix(key, keepPrefix) {
				continue
			}
			stale = append(stale, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, key := range stale {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		removed = len(stale)
		return nil
	})
	if err != nil {
		return 0, err
	}

	if _, err := s.collect(); err != nil {
		return removed, fmt.Errorf("collect bodies: %w", err)
	}
	return removed, nil
}

// collect deletes bodies no entry references. Callers hold mu.
func (s *Store) collect() (int, error) {
	var deleted int
	err := s.db.Update(func(txn *badger.Txn) error {
		live := make(map[string]bool)

		it := txn.NewIterator(badger.DefaultIteratorOptions)
		prefix := []byte(prefixGeneration)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return decMode.Unmarshal(val, &e)
			}); err != nil {
				it.Close()
				return err
			}
			live[e.CID] = true
		}
		it.Close()

		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it = txn.NewIterator(opts)
		var dead [][]byte
		prefix = []byte(prefixBody)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			if !live[strings.TrimPrefix(string(key), prefixBody)] {
				dead = append(dead, it.Item().KeyCopy(nil))
			}
		}
		it.Close()

		for _, key := range dead {
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		deleted = len(dead)
		return nil
	})
	return deleted, err
}

// Bodies returns the number of stored bodies.
func (s *Store) Bodies() (int, error) {
	var n int
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixBody)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}
