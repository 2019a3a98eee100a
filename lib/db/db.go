package db

import (
	"errors"
	"io"
	"time"
)

// --------------------------------------------------------------------------
// Helper Types
// --------------------------------------------------------------------------

type Implementation string

const (
	ImplBirch  Implementation = "birch"
	ImplMaple  Implementation = "maple"
	ImplBadger Implementation = "badger"
)

// ErrAssertionFailed is returned by KVDB.Apply if one of the assert operations of a batch does not hold.
// No operation of the batch is applied in that case.
var ErrAssertionFailed = errors.New("assertion failed")

// OpType defines the kind of a single operation inside a batch.
type OpType uint8

const (
	OpSet          OpType = iota // Insert or update an entry.
	OpDelete                     // Delete an entry (no-op if missing).
	OpAssert                     // Require the entry to hold exactly Value.
	OpAssertAbsent               // Require the entry to be missing.
)

func (o OpType) String() string {
	switch o {
	case OpSet:
		return "Set"
	case OpDelete:
		return "Delete"
	case OpAssert:
		return "Assert"
	case OpAssertAbsent:
		return "AssertAbsent"
	default:
		return "Unknown"
	}
}

// Op is a single operation of an atomic batch.
type Op struct {
	Type  OpType
	Key   string
	Value []byte
}

// Entry is a key-value pair returned by scans.
type Entry struct {
	Key   string
	Value []byte
}

type DatabaseInfo struct {
	SizeBytes int            `json:"size_bytes"`
	Entries   int            `json:"entries"`
	DbType    Implementation `json:"db_type"`
	Metadata  interface{}    `json:"metadata"`
}

// --------------------------------------------------------------------------
// Ordered Database Interface
// --------------------------------------------------------------------------

// KVDB defines an interface for ordered key-value database implementations.
// Keys are kept in lexicographic byte order so that prefix scans are possible.
// Any implementation of this interface must be safe for concurrent use.
type KVDB interface {

	// --------------------------------------------------------------------------
	// Write Operations
	// --------------------------------------------------------------------------

	// Apply executes all operations of the batch atomically.
	// Assert operations are evaluated against the state before the batch, if one of them fails
	// no operation is applied and ErrAssertionFailed is returned.
	// The writeIndex parameter is used as a logical timestamp for the batch.
	Apply(ops []Op, writeIndex uint64) (err error)

	// --------------------------------------------------------------------------
	// Query Operations
	// --------------------------------------------------------------------------

	// Get retrieves the value for an exact key.
	// The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool)

	// Scan returns up to limit entries whose key starts with prefix and is strictly greater than after.
	// An empty after starts at the beginning of the prefix range, a limit <= 0 means no limit.
	// If keysOnly is set, the returned entries carry no values.
	Scan(prefix, after string, limit int, keysOnly bool) (entries []Entry)

	// --------------------------------------------------------------------------
	// Persistence Operations
	// --------------------------------------------------------------------------

	// Save persists the current state of the database to the provided io.Writer.
	Save(w io.Writer) (err error)

	// Load restores the database state data provided by an io.Reader.
	Load(r io.Reader) (err error)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// WriteIdx returns the write index of the last applied batch.
	WriteIdx() (index uint64)

	// Close closes the database.
	Close() (err error)
}

// --------------------------------------------------------------------------
// TTL Database Interface
// --------------------------------------------------------------------------

// TTLKVDB defines an interface for volatile key-value database implementations.
// Every entry may carry a time to live, expired entries are never returned.
type TTLKVDB interface {
	// Set inserts or updates an entry. A ttl <= 0 means the entry never expires.
	Set(key string, value []byte, ttl time.Duration)

	// Add inserts the entry only if the key is missing (or expired) and reports whether it did so.
	Add(key string, value []byte, ttl time.Duration) (added bool)

	// Get returns a copy of the value of a live entry.
	Get(key string) (value []byte, loaded bool)

	// Delete removes an entry. Deleting a missing key is not an error.
	Delete(key string)

	// Incr adds delta to the decimal integer stored at key and returns the new value.
	// A missing key is created with the value delta and without expiry.
	// If the stored value is not a decimal integer an error is returned.
	Incr(key string, delta int64) (value int64, err error)

	// GetInfo returns information about the database.
	GetInfo() (info DatabaseInfo)

	// Close closes the database and stops background work.
	Close() (err error)
}
