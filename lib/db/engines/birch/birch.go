package birch

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ValentinKolb/dORM/lib/db"
	"github.com/google/btree"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	magicNum      = "BIRCHDB\x00" // File format identifier
	birchVersion  = 1             // Database version
	defaultDegree = 32            // Default B-tree degree
)

// --------------------------------------------------------------------------
// Core Birch database structure
// --------------------------------------------------------------------------

// item is a single entry of the tree, ordered by key
type item struct {
	key   string
	value []byte
}

func less(a, b item) bool {
	return a.key < b.key
}

// birchImpl implements an ordered in-memory database on a B-tree.
// All writes are serialized by a single lock, reads share it.
type birchImpl struct {
	mu        sync.RWMutex
	tree      *btree.BTreeG[item]
	degree    int
	sizeBytes int
	writeIdx  uint64
}

// DBOptions configures the birchImpl behavior during initialization
type DBOptions struct {
	Degree int // Degree of the B-tree (0 = use default)
}

// DefaultOptions returns the default birchImpl options
func DefaultOptions() *DBOptions {
	return &DBOptions{
		Degree: defaultDegree,
	}
}

// NewBirchDB creates a new BirchDB instance with the specified options (optional)
func NewBirchDB(opts *DBOptions) db.KVDB {
	if opts == nil {
		opts = DefaultOptions()
	}
	if opts.Degree < 2 {
		opts.Degree = defaultDegree
	}
	return &birchImpl{
		tree:   btree.NewG[item](opts.Degree, less),
		degree: opts.Degree,
	}
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Write Operations
// --------------------------------------------------------------------------

// Apply executes all operations of the batch atomically.
// Asserts are checked first against the current state, only then the mutations are applied in order.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *birchImpl) Apply(ops []db.Op, writeIndex uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	// check all asserts before touching anything
	for _, op := range ops {
		switch op.Type {
		case db.OpAssert:
			current, ok := b.tree.Get(item{key: op.Key})
			if !ok || !bytes.Equal(current.value, op.Value) {
				return fmt.Errorf("%w: key=%s", db.ErrAssertionFailed, op.Key)
			}
		case db.OpAssertAbsent:
			if _, ok := b.tree.Get(item{key: op.Key}); ok {
				return fmt.Errorf("%w: key=%s exists", db.ErrAssertionFailed, op.Key)
			}
		case db.OpSet, db.OpDelete:
		default:
			return fmt.Errorf("unknown operation %d for key %s", op.Type, op.Key)
		}
	}

	for _, op := range ops {
		switch op.Type {
		case db.OpSet:
			// Copy value to prevent memory corruption
			valueCopy := make([]byte, len(op.Value))
			copy(valueCopy, op.Value)

			if old, replaced := b.tree.ReplaceOrInsert(item{key: op.Key, value: valueCopy}); replaced {
				b.sizeBytes -= len(old.key) + len(old.value)
			}
			b.sizeBytes += len(op.Key) + len(valueCopy)
		case db.OpDelete:
			if old, removed := b.tree.Delete(item{key: op.Key}); removed {
				b.sizeBytes -= len(old.key) + len(old.value)
			}
		}
	}

	if writeIndex > b.writeIdx {
		b.writeIdx = writeIndex
	}
	return nil
}

// --------------------------------------------------------------------------
// KVDB Interface Methods - Read Operations
// --------------------------------------------------------------------------

// Get retrieves a value for a key.
// The returned value is a copy of the stored data and therefore safe to use and modify.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *birchImpl) Get(key string) ([]byte, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	it, ok := b.tree.Get(item{key: key})
	if !ok {
		return nil, false
	}
	data := make([]byte, len(it.value))
	copy(data, it.value)
	return data, true
}

// Scan returns up to limit entries with the given prefix whose key is greater than after.
//
// Thread-safety: This method is thread-safe and can be called concurrently.
func (b *birchImpl) Scan(prefix, after string, limit int, keysOnly bool) []db.Entry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	start := prefix
	if after > start {
		start = after
	}

	var entries []db.Entry
	b.tree.AscendGreaterOrEqual(item{key: start}, func(it item) bool {
		if !strings.HasPrefix(it.key, prefix) {
			return false
		}
		// after is exclusive
		if it.key == after {
			return true
		}
		e := db.Entry{Key: it.key}
		if !keysOnly {
			e.Value = make([]byte, len(it.value))
			copy(e.Value, it.value)
		}
		entries = append(entries, e)
		return limit <= 0 || len(entries) < limit
	})
	return entries
}

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save persists the database to the writer.
// A copy-on-write clone of the tree is taken, so writers are only blocked for the clone itself.
func (b *birchImpl) Save(w io.Writer) error {
	b.mu.RLock()
	snapshot := b.tree.Clone()
	writeIdx := b.writeIdx
	b.mu.RUnlock()

	// Use a buffered writer for better performance
	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer

	// Write file header
	if _, err := bw.WriteString(magicNum); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint8(birchVersion)); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, writeIdx); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.LittleEndian, uint64(snapshot.Len())); err != nil {
		return err
	}

	// Write entries in key order
	var writeErr error
	snapshot.Ascend(func(it item) bool {
		if writeErr = writeBytes(bw, []byte(it.key)); writeErr != nil {
			return false
		}
		writeErr = writeBytes(bw, it.value)
		return writeErr == nil
	})
	if writeErr != nil {
		return writeErr
	}

	return bw.Flush()
}

// Load restores a database from the reader, the current content is replaced.
func (b *birchImpl) Load(r io.Reader) error {
	br := bufio.NewReaderSize(r, 1024*1024) // 1 MB buffer

	// Read and verify magic number
	magicBytes := make([]byte, len(magicNum))
	if _, err := io.ReadFull(br, magicBytes); err != nil {
		return err
	}
	if string(magicBytes) != magicNum {
		return fmt.Errorf("invalid file format: magic number mismatch")
	}

	var version uint8
	if err := binary.Read(br, binary.LittleEndian, &version); err != nil {
		return err
	}
	if int(version) != birchVersion {
		return fmt.Errorf("unsupported version: %d (expected %d)", version, birchVersion)
	}

	var writeIdx, count uint64
	if err := binary.Read(br, binary.LittleEndian, &writeIdx); err != nil {
		return err
	}
	if err := binary.Read(br, binary.LittleEndian, &count); err != nil {
		return err
	}

	tree := btree.NewG[item](b.degree, less)
	size := 0
	for i := uint64(0); i < count; i++ {
		key, err := readBytes(br)
		if err != nil {
			return err
		}
		value, err := readBytes(br)
		if err != nil {
			return err
		}
		tree.ReplaceOrInsert(item{key: string(key), value: value})
		size += len(key) + len(value)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree = tree
	b.sizeBytes = size
	b.writeIdx = writeIdx
	return nil
}

// writeBytes writes a length prefixed byte slice
func writeBytes(w io.Writer, data []byte) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readBytes reads a length prefixed byte slice
func readBytes(r io.Reader) ([]byte, error) {
	var l uint32
	if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
		return nil, err
	}
	data := make([]byte, l)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// --------------------------------------------------------------------------
// KVDB Interface Implementation - Metadata
// --------------------------------------------------------------------------

// GetInfo returns statistics about the database
func (b *birchImpl) GetInfo() db.DatabaseInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	meta := &struct {
		CurrentWriteIndex uint64 `json:"current_write_index"`
		Degree            int    `json:"degree"`
	}{
		CurrentWriteIndex: b.writeIdx,
		Degree:            b.degree,
	}

	return db.DatabaseInfo{
		SizeBytes: b.sizeBytes,
		Entries:   b.tree.Len(),
		DbType:    db.ImplBirch,
		Metadata:  meta,
	}
}

func (b *birchImpl) WriteIdx() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.writeIdx
}

func (b *birchImpl) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tree.Clear(false)
	b.sizeBytes = 0
	return nil
}
