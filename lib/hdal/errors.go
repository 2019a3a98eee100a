package hdal

import (
	"fmt"
	"strings"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
)

// Error kinds of the data access layer. Returned errors carry more context, always
// compare with errors.Is of github.com/cockroachdb/errors:
//
//	if errors.Is(err, hdal.ErrNotFound) { ... }
var (
	// ErrNotFound is returned if an object key is missing when it is strictly required
	ErrNotFound = errors.New("object not found")
	// ErrConcurrency is returned if a save could not resolve a conflict (see ConcurrencyError)
	ErrConcurrency = errors.New("concurrent modification")
	// ErrRaceCondition is returned if objects kept vanishing while a list was loaded
	ErrRaceCondition = errors.New("race condition")
	// ErrInvalidRelation is returned for relations of the wrong type or missing mandatory relations
	ErrInvalidRelation = errors.New("invalid relation")
	// ErrInvalidStore is returned if a store is not configured
	ErrInvalidStore = errors.New("invalid store")
	// ErrVolatile is returned for operations that need a persisted object
	ErrVolatile = errors.New("object is not persisted")
	// ErrLinkedObject is returned if a delete is refused because of dependents (see LinkedObjectError)
	ErrLinkedObject = errors.New("object has dependents")
	// ErrUnavailable is returned if a store could not be reached
	ErrUnavailable = errors.New("store unavailable")
	// ErrUnknownType is returned for type names or type ids that are not registered
	ErrUnknownType = errors.New("unknown type")
	// ErrUnknownField is returned for field names or field paths that do not exist
	ErrUnknownField = errors.New("unknown field")
	// ErrInvalidValue is returned if a value does not match the kind of its property
	ErrInvalidValue = errors.New("invalid value")
	// ErrReadOnly is returned if a dynamic tries to modify the object it is evaluated on
	ErrReadOnly = errors.New("object is read only")
)

// ConcurrencyError lists the fields that were changed by the caller and the store at the same time.
// It is marked with ErrConcurrency.
type ConcurrencyError struct {
	Type   string
	Guid   string
	Fields []string
}

func (e *ConcurrencyError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("%s %s: save kept racing with other writers", e.Type, e.Guid)
	}
	return fmt.Sprintf("%s %s: conflicting fields %s", e.Type, e.Guid, strings.Join(e.Fields, ", "))
}

func newConcurrencyError(typeName, guid string, fields []string) error {
	return errors.Mark(&ConcurrencyError{Type: typeName, Guid: guid, Fields: fields}, ErrConcurrency)
}

// LinkedObjectError lists the backrefs through which other objects still point to the object.
// It is marked with ErrLinkedObject.
type LinkedObjectError struct {
	Type     string
	Guid     string
	Backrefs []string
}

func (e *LinkedObjectError) Error() string {
	return fmt.Sprintf("%s %s is still referenced by %s", e.Type, e.Guid, strings.Join(e.Backrefs, ", "))
}

// fromStore wraps an error of a store and marks it with the matching kind.
// Store errors without a kind of their own are returned wrapped but unmarked.
func fromStore(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	wrapped := errors.Wrapf(err, format, args...)

	var storeErr *store.Error
	if !errors.As(err, &storeErr) {
		return wrapped
	}
	switch storeErr.Code {
	case store.RetCNotFound:
		return errors.Mark(wrapped, ErrNotFound)
	case store.RetCRaceCondition:
		return errors.Mark(wrapped, ErrRaceCondition)
	case store.RetCUnavailable:
		return errors.Mark(wrapped, ErrUnavailable)
	default:
		return wrapped
	}
}

// isStoreCode reports whether err is a store error with the given code
func isStoreCode(err error, code store.RetCode) bool {
	var storeErr *store.Error
	return errors.As(err, &storeErr) && storeErr.Code == code
}

func isNotFound(err error) bool {
	return isStoreCode(err, store.RetCNotFound)
}
