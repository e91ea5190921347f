// Package filebackend implements the array-backed file adapter from spec.md
// section 4.7 and 6: one segment file per sub-store, holding a fixed-width
// UUID column followed by a length-prefixed JSON column. New ordinals are
// appended, so insertion order is preserved by construction; an existing
// ordinal may be rewritten in place. In the spirit of the
// teacher's internal/arena package ("a thin wrapper... no surprises"), the
// on-disk layout here is a flat sequence of records with no indirection
// beyond an in-memory offset table rebuilt at Open time.
//
// Record layout, per entry:
//
//	[36]byte  canonical UUID string (ASCII, ---- delimited)
//	uint32    big-endian payload length
//	[]byte    payload (simplified JSON document)
//
// © msm-tis authors.
package filebackend

import (
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jhprinz/msm-tis/internal/backend"
)

const (
	uuidWidth  = 36
	headerSize = uuidWidth + 4
	segmentExt = ".seg"
	version    = "1.0.0"
)

type collection struct {
	mu      sync.Mutex
	f       *os.File
	offsets []int64
	uuids   []string
	byUUID  map[string]int64 // uuid -> ordinal
}

// Backend is the array-backed file adapter. It is safe for concurrent use;
// each collection carries its own lock so unrelated sub-stores never
// contend.
type Backend struct {
	mu          sync.RWMutex
	dir         string
	collections map[string]*collection
}

// Open opens (or creates) a directory of segment files. mode is accepted for
// interface symmetry with the document backend; the file backend always
// opens existing segments read/write and creates missing ones on first use.
func Open(dir string, mode string) (*Backend, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("filebackend: create dir: %w", err)
	}
	b := &Backend{dir: dir, collections: make(map[string]*collection)}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("filebackend: read dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), segmentExt) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), segmentExt)
		if _, err := b.open(name); err != nil {
			return nil, err
		}
	}
	return b, nil
}

func (b *Backend) path(name string) string {
	return filepath.Join(b.dir, name+segmentExt)
}

// open loads (creating if absent) the segment for name and rebuilds its
// offset table by scanning the file once.
func (b *Backend) open(name string) (*collection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.collections[name]; ok {
		return c, nil
	}
	f, err := os.OpenFile(b.path(name), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("filebackend: open %s: %w", name, err)
	}
	c := &collection{f: f, byUUID: make(map[string]int64)}
	if err := c.rebuildIndex(); err != nil {
		f.Close()
		return nil, err
	}
	b.collections[name] = c
	return c, nil
}

func (c *collection) rebuildIndex() error {
	var offset int64
	header := make([]byte, headerSize)
	for {
		if _, err := c.f.ReadAt(header, offset); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return fmt.Errorf("filebackend: scan header at %d: %w", offset, err)
		}
		uuid := strings.TrimRight(string(header[:uuidWidth]), "\x00")
		length := binary.BigEndian.Uint32(header[uuidWidth:headerSize])
		ordinal := int64(len(c.offsets))
		c.offsets = append(c.offsets, offset)
		c.uuids = append(c.uuids, uuid)
		c.byUUID[uuid] = ordinal
		offset += int64(headerSize) + int64(length)
	}
	return nil
}

func (b *Backend) CreateCollection(name string) error {
	_, err := b.open(name)
	return err
}

func (b *Backend) ListCollections() ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.collections))
	for name := range b.collections {
		out = append(out, name)
	}
	return out, nil
}

func (b *Backend) Put(name string, ordinal int64, uuid string, payload []byte) error {
	c, err := b.open(name)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(uuid) > uuidWidth {
		return fmt.Errorf("filebackend: uuid %q exceeds column width", uuid)
	}
	n := int64(len(c.offsets))
	switch {
	case ordinal == n:
		// Ordinary append.
		offset, err := c.f.Seek(0, io.SeekEnd)
		if err != nil {
			return fmt.Errorf("filebackend: seek end: %w", err)
		}
		if err := c.writeRecordLocked(offset, uuid, payload); err != nil {
			return err
		}
		c.offsets = append(c.offsets, offset)
		c.uuids = append(c.uuids, uuid)
		c.byUUID[uuid] = ordinal
		return nil
	case ordinal < n:
		// In-place update, used only for the single-record meta collection.
		oldUUID := c.uuids[ordinal]
		if err := c.writeRecordLocked(c.offsets[ordinal], uuid, payload); err != nil {
			return err
		}
		delete(c.byUUID, oldUUID)
		c.uuids[ordinal] = uuid
		c.byUUID[uuid] = ordinal
		return nil
	default:
		return fmt.Errorf("filebackend: out-of-order write: collection %s expects ordinal <= %d, got %d", name, n, ordinal)
	}
}

// writeRecordLocked requires c.mu to already be held.
func (c *collection) writeRecordLocked(offset int64, uuid string, payload []byte) error {
	var header [headerSize]byte
	copy(header[:uuidWidth], uuid)
	binary.BigEndian.PutUint32(header[uuidWidth:], uint32(len(payload)))
	if _, err := c.f.WriteAt(header[:], offset); err != nil {
		return fmt.Errorf("filebackend: write header: %w", err)
	}
	if _, err := c.f.WriteAt(payload, offset+int64(headerSize)); err != nil {
		return fmt.Errorf("filebackend: write payload: %w", err)
	}
	return nil
}

func (b *Backend) Get(name string, ordinal int64) (string, []byte, error) {
	c, err := b.open(name)
	if err != nil {
		return "", nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ordinal < 0 || int(ordinal) >= len(c.offsets) {
		return "", nil, backend.ErrNotFound
	}
	return c.readLocked(ordinal)
}

// readLocked requires c.mu to already be held.
func (c *collection) readLocked(ordinal int64) (string, []byte, error) {
	var header [headerSize]byte
	if _, err := c.f.ReadAt(header[:], c.offsets[ordinal]); err != nil {
		return "", nil, fmt.Errorf("filebackend: read header: %w", err)
	}
	length := binary.BigEndian.Uint32(header[uuidWidth:])
	payload := make([]byte, length)
	if _, err := c.f.ReadAt(payload, c.offsets[ordinal]+int64(headerSize)); err != nil {
		return "", nil, fmt.Errorf("filebackend: read payload: %w", err)
	}
	return c.uuids[ordinal], payload, nil
}

func (b *Backend) GetByUUID(name string, uuid string) (int64, []byte, error) {
	c, err := b.open(name)
	if err != nil {
		return 0, nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	ordinal, ok := c.byUUID[uuid]
	if !ok {
		return 0, nil, backend.ErrNotFound
	}
	_, payload, err := c.readLocked(ordinal)
	return ordinal, payload, err
}

func (b *Backend) DistinctUUIDs(name string) ([]string, error) {
	c, err := b.open(name)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.uuids))
	copy(out, c.uuids)
	return out, nil
}

func (b *Backend) Count(name string) (int, error) {
	c, err := b.open(name)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.offsets), nil
}

func (b *Backend) Sync() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for name, c := range b.collections {
		c.mu.Lock()
		err := c.f.Sync()
		c.mu.Unlock()
		if err != nil {
			return fmt.Errorf("filebackend: sync %s: %w", name, err)
		}
	}
	return nil
}

func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, c := range b.collections {
		c.mu.Lock()
		err := c.f.Close()
		c.mu.Unlock()
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (b *Backend) FormatVersion() string { return version }
