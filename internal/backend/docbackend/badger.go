// Package docbackend implements the document-backed adapter from spec.md
// section 4.7 using Badger as the embedded key-value engine, the same way
// the teacher's examples/disk_eject demo used Badger as an on-disk L2 behind
// an in-process cache. Each sub-store is a key prefix; ordinals are encoded
// big-endian so Badger's native key ordering doubles as the insertion-order
// index, resolving spec.md section 9's Open Question (i) with a companion
// order key equal to the ordinal itself rather than a separate field.
//
// © msm-tis authors.
package docbackend

import (
	"encoding/binary"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/jhprinz/msm-tis/internal/backend"
)

const (
	uuidWidth  = 36
	version    = "1.0.0"
	collPrefix = "__collections__\x00"
)

// Backend is the Badger-backed document adapter.
type Backend struct {
	db *badger.DB
}

// Open opens (creating if absent) a Badger database at dir. mode is accepted
// for interface symmetry with the file backend; Badger itself has no
// distinct create/append/read modes.
func Open(dir string, mode string) (*Backend, error) {
	db, err := badger.Open(badger.DefaultOptions(dir).WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("docbackend: open %s: %w", dir, err)
	}
	return &Backend{db: db}, nil
}

func dataKey(collection string, ordinal int64) []byte {
	var ord [8]byte
	binary.BigEndian.PutUint64(ord[:], uint64(ordinal))
	return append([]byte(collection+"\x00d\x00"), ord[:]...)
}

func dataPrefix(collection string) []byte {
	return []byte(collection + "\x00d\x00")
}

func uuidKey(collection, uuid string) []byte {
	return []byte(collection + "\x00u\x00" + uuid)
}

func countKey(collection string) []byte {
	return []byte(collection + "\x00n")
}

func encodeValue(uuid string, payload []byte) []byte {
	var b [uuidWidth]byte
	copy(b[:], uuid)
	out := make([]byte, 0, uuidWidth+len(payload))
	out = append(out, b[:]...)
	out = append(out, payload...)
	return out
}

func decodeValue(v []byte) (string, []byte) {
	uuid := strings.TrimRight(string(v[:uuidWidth]), "\x00")
	payload := make([]byte, len(v)-uuidWidth)
	copy(payload, v[uuidWidth:])
	return uuid, payload
}

func (b *Backend) CreateCollection(name string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(collPrefix + name)); err == nil {
			return nil
		}
		if err := txn.Set([]byte(collPrefix+name), nil); err != nil {
			return err
		}
		if _, err := txn.Get(countKey(name)); err == badger.ErrKeyNotFound {
			var zero [8]byte
			return txn.Set(countKey(name), zero[:])
		}
		return nil
	})
}

func (b *Backend) ListCollections() ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(collPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			name := strings.TrimPrefix(string(it.Item().Key()), collPrefix)
			out = append(out, name)
		}
		return nil
	})
	return out, err
}

func (b *Backend) count(txn *badger.Txn, collection string) (int64, error) {
	item, err := txn.Get(countKey(collection))
	if err == badger.ErrKeyNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var n int64
	err = item.Value(func(v []byte) error {
		n = int64(binary.BigEndian.Uint64(v))
		return nil
	})
	return n, err
}

func (b *Backend) Put(collection string, ordinal int64, uuid string, payload []byte) error {
	return b.db.Update(func(txn *badger.Txn) error {
		n, err := b.count(txn, collection)
		if err != nil {
			return err
		}
		if ordinal > n {
			return fmt.Errorf("docbackend: out-of-order write: collection %s expects ordinal <= %d, got %d", collection, n, ordinal)
		}
		if err := txn.Set(dataKey(collection, ordinal), encodeValue(uuid, payload)); err != nil {
			return err
		}
		var ord [8]byte
		binary.BigEndian.PutUint64(ord[:], uint64(ordinal))
		if err := txn.Set(uuidKey(collection, uuid), ord[:]); err != nil {
			return err
		}
		if ordinal == n {
			var next [8]byte
			binary.BigEndian.PutUint64(next[:], uint64(ordinal+1))
			if err := txn.Set(countKey(collection), next[:]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Backend) Get(collection string, ordinal int64) (string, []byte, error) {
	var uuid string
	var payload []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(dataKey(collection, ordinal))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			uuid, payload = decodeValue(v)
			return nil
		})
	})
	return uuid, payload, err
}

func (b *Backend) GetByUUID(collection string, uuid string) (int64, []byte, error) {
	var ordinal int64
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(uuidKey(collection, uuid))
		if err == badger.ErrKeyNotFound {
			return backend.ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(v []byte) error {
			ordinal = int64(binary.BigEndian.Uint64(v))
			return nil
		})
	})
	if err != nil {
		return 0, nil, err
	}
	_, payload, err := b.Get(collection, ordinal)
	return ordinal, payload, err
}

func (b *Backend) DistinctUUIDs(collection string) ([]string, error) {
	var out []string
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := dataPrefix(collection)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(v []byte) error {
				uuid, _ := decodeValue(v)
				out = append(out, uuid)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (b *Backend) Count(collection string) (int, error) {
	var n int64
	err := b.db.View(func(txn *badger.Txn) error {
		var err error
		n, err = b.count(txn, collection)
		return err
	})
	return int(n), err
}

func (b *Backend) Sync() error { return b.db.Sync() }

func (b *Backend) Close() error { return b.db.Close() }

func (b *Backend) FormatVersion() string { return version }
