package store

import (
	"context"

	"github.com/ValentinKolb/dORM/lib/db"
)

// DefaultPageSize is the number of entries fetched per round trip by paged iterators.
const DefaultPageSize = 256

// PageFunc fetches the next page of entries whose key is greater than after.
// An empty page ends the iteration.
type PageFunc func(ctx context.Context, after string) ([]db.Entry, error)

// pagedIterator implements EntryIterator on top of a PageFunc.
// Each page is fetched lazily, so entries written between pages may be observed.
type pagedIterator struct {
	ctx     context.Context
	fetch   PageFunc
	page    []db.Entry
	pos     int
	after   string
	current db.Entry
	err     error
	done    bool
}

// NewPagedIterator creates a lazy EntryIterator that fetches pages with fetch.
func NewPagedIterator(ctx context.Context, fetch PageFunc) EntryIterator {
	return &pagedIterator{
		ctx:   ctx,
		fetch: fetch,
		pos:   -1,
	}
}

func (it *pagedIterator) Next() bool {
	if it.done {
		return false
	}

	it.pos++
	if it.pos >= len(it.page) {
		// check for cancellation at every round trip
		if err := FromContext(it.ctx); err != nil {
			it.err = err
			it.done = true
			return false
		}

		page, err := it.fetch(it.ctx, it.after)
		if err != nil {
			it.err = err
			it.done = true
			return false
		}
		if len(page) == 0 {
			it.done = true
			return false
		}
		it.page = page
		it.pos = 0
		it.after = page[len(page)-1].Key
	}

	it.current = it.page[it.pos]
	return true
}

func (it *pagedIterator) Key() string {
	return it.current.Key
}

func (it *pagedIterator) Value() []byte {
	return it.current.Value
}

func (it *pagedIterator) Err() error {
	return it.err
}

func (it *pagedIterator) Close() {
	it.done = true
	it.page = nil
}

// errIterator is an iterator that immediately fails
type errIterator struct {
	err error
}

// NewErrIterator returns an EntryIterator that yields nothing and reports err.
func NewErrIterator(err error) EntryIterator {
	return &errIterator{err: err}
}

func (e *errIterator) Next() bool    { return false }
func (e *errIterator) Key() string   { return "" }
func (e *errIterator) Value() []byte { return nil }
func (e *errIterator) Err() error    { return e.err }
func (e *errIterator) Close()        {}

// Collect drains an iterator into a slice of entries and closes it.
func Collect(it EntryIterator) ([]db.Entry, error) {
	defer it.Close()
	var entries []db.Entry
	for it.Next() {
		entries = append(entries, db.Entry{Key: it.Key(), Value: it.Value()})
	}
	return entries, it.Err()
}

// CollectKeys drains an iterator into a slice of keys and closes it.
func CollectKeys(it EntryIterator) ([]string, error) {
	defer it.Close()
	var keys []string
	for it.Next() {
		keys = append(keys, it.Key())
	}
	return keys, it.Err()
}

// ScanPage reads one page of a prefix range from s. Stores implementing IPageScanner
// answer directly, for all others the prefix iterator is advanced past after.
func ScanPage(ctx context.Context, s IPersistentStore, prefix, after string, limit int, keysOnly bool) ([]db.Entry, error) {
	if limit <= 0 {
		limit = DefaultPageSize
	}
	if scanner, ok := s.(IPageScanner); ok {
		return scanner.ScanPage(ctx, prefix, after, limit, keysOnly)
	}

	var it EntryIterator
	if keysOnly {
		it = s.Prefix(ctx, prefix)
	} else {
		it = s.PrefixEntries(ctx, prefix)
	}
	defer it.Close()

	var page []db.Entry
	for len(page) < limit && it.Next() {
		if after != "" && it.Key() <= after {
			continue
		}
		page = append(page, db.Entry{Key: it.Key(), Value: it.Value()})
	}
	return page, it.Err()
}
