package store

import (
	"context"
	"fmt"
	"time"

	"github.com/ValentinKolb/dORM/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new ordered db used by a persistent store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() db.KVDB

// TTLDBFactory is a function type that creates a new volatile db used by a volatile store.
type TTLDBFactory func() db.TTLKVDB

// IPersistentStore is the interface of the durable key–value store.
// All methods return a *Error on failure (nil on success). Every call is a
// suspension point: a cancelled context is reported before any side effect.
type IPersistentStore interface {
	// Get returns the value for a key or an error with code RetCNotFound.
	Get(ctx context.Context, key string) (value []byte, err error)
	// GetMulti returns the values for all keys in the same order.
	// It fails atomically on the first missing key, the error carries that key.
	GetMulti(ctx context.Context, keys []string) (values [][]byte, err error)
	// PrefixEntries returns a lazy iterator over all entries whose key starts with prefix.
	// The iteration is not a snapshot, concurrent writes may or may not be observed.
	PrefixEntries(ctx context.Context, prefix string) EntryIterator
	// Prefix returns a lazy iterator over all keys starting with prefix. Values are not loaded.
	Prefix(ctx context.Context, prefix string) EntryIterator
	// Set inserts or updates a single key.
	Set(ctx context.Context, key string, value []byte) (err error)
	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (err error)
	// Begin returns a new, empty transaction. Nothing is sent to the store until Apply.
	Begin() *Transaction
	// Apply executes all operations of the transaction atomically.
	// If an assert of the transaction does not hold the error code is RetCRaceCondition.
	Apply(ctx context.Context, txn *Transaction) (err error)
}

// IVolatileStore is the interface of the cache store.
// Values are opaque bytes; a ttl <= 0 means the entry does not expire.
type IVolatileStore interface {
	// Get returns the value for a key. The boolean indicates whether the key was found.
	Get(ctx context.Context, key string) (value []byte, loaded bool, err error)
	// Set inserts or updates a key with the given ttl.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) (err error)
	// Add inserts a key only if it is missing and reports whether it was inserted.
	Add(ctx context.Context, key string, value []byte, ttl time.Duration) (added bool, err error)
	// Delete removes a key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) (err error)
	// Incr adds delta to the integer stored at key (a missing key starts at 0) and returns the result.
	Incr(ctx context.Context, key string, delta int64) (value int64, err error)
}

// IDBInfoProvider is implemented by stores that can report information about their underlying database.
type IDBInfoProvider interface {
	GetDBInfo(ctx context.Context) (info db.DatabaseInfo, err error)
}

// IPageScanner is implemented by persistent stores that can read a single page of a prefix range.
// A page holds at most limit entries with keys greater than after, in key order.
// It is used to serve scans statelessly over the network.
type IPageScanner interface {
	ScanPage(ctx context.Context, prefix, after string, limit int, keysOnly bool) (page []db.Entry, err error)
}

// EntryIterator is a cursor over store entries.
//
// Usage:
//
//	it := s.PrefixEntries(ctx, "ovs_data_disk_")
//	defer it.Close()
//	for it.Next() {
//		key, value := it.Key(), it.Value()
//	}
//	if err := it.Err(); err != nil { ... }
type EntryIterator interface {
	// Next advances the cursor and reports whether an entry is available.
	Next() bool
	// Key returns the key of the current entry.
	Key() string
	// Value returns the value of the current entry (nil for key-only iterators).
	Value() []byte
	// Err returns the first error that stopped the iteration.
	Err() error
	// Close releases the iterator. It is safe to call Close more than once.
	Close()
}

// --------------------------------------------------------------------------
// Transaction
// --------------------------------------------------------------------------

// Transaction collects operations that are applied atomically by IPersistentStore.Apply.
// A transaction is a plain value: building it has no side effects and dropping it discards it.
type Transaction struct {
	Ops []db.Op
}

// NewTransaction returns an empty transaction.
func NewTransaction() *Transaction {
	return &Transaction{}
}

// Set enlists a write of key.
func (t *Transaction) Set(key string, value []byte) *Transaction {
	t.Ops = append(t.Ops, db.Op{Type: db.OpSet, Key: key, Value: value})
	return t
}

// Delete enlists the removal of key.
func (t *Transaction) Delete(key string) *Transaction {
	t.Ops = append(t.Ops, db.Op{Type: db.OpDelete, Key: key})
	return t
}

// Assert makes the transaction conditional on key currently holding exactly value.
func (t *Transaction) Assert(key string, value []byte) *Transaction {
	t.Ops = append(t.Ops, db.Op{Type: db.OpAssert, Key: key, Value: value})
	return t
}

// AssertAbsent makes the transaction conditional on key being missing.
func (t *Transaction) AssertAbsent(key string) *Transaction {
	t.Ops = append(t.Ops, db.Op{Type: db.OpAssertAbsent, Key: key})
	return t
}

// Len returns the number of enlisted operations.
func (t *Transaction) Len() int {
	return len(t.Ops)
}

// Empty reports whether the transaction has no mutating operations.
func (t *Transaction) Empty() bool {
	for _, op := range t.Ops {
		if op.Type == db.OpSet || op.Type == db.OpDelete {
			return false
		}
	}
	return true
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode),
// the affected key (if any) and an error message.
type Error struct {
	Code RetCode // The return code
	Key  string  // The key the error refers to (may be empty)
	Msg  string  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("KVStoreError (code %s, key %s): %s", e.Code, e.Key, e.Msg)
	}
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

// Is makes errors.Is(err, store.ErrNotFound) match every *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code && t.Key == "" && t.Msg == ""
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// NewKeyError creates a new KVStoreError referring to a key.
func NewKeyError(code RetCode, key, msg string) *Error {
	return &Error{
		Code: code,
		Key:  key,
		Msg:  msg,
	}
}

// FromContext converts a context error into a store error (nil if the context is still valid).
func FromContext(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return NewError(RetCUnavailable, err.Error())
	}
	return nil
}

// Sentinel errors for errors.Is comparisons. They only carry a code.
var (
	ErrNotFound      = &Error{Code: RetCNotFound}
	ErrRaceCondition = &Error{Code: RetCRaceCondition}
	ErrUnavailable   = &Error{Code: RetCUnavailable}
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
	RetCNotFound                            // 4: The key does not exist.
	RetCRaceCondition                       // 5: An assert of a transaction did not hold.
	RetCUnavailable                         // 6: The store could not be reached (timeout, cancellation, transport).
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCNotFound:
		return "NotFound"
	case RetCRaceCondition:
		return "RaceCondition"
	case RetCUnavailable:
		return "Unavailable"
	default:
		return "Unknown"
	}
}
