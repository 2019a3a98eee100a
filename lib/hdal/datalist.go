package hdal

import (
	"context"
	"slices"
	"sort"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
)

// DataList is an ordered list of guids of one type, the result of a query or a backref.
// Objects are loaded on access. A DataList must not be used by multiple goroutines at once.
type DataList struct {
	dal       *DAL
	spec      *TypeSpec
	guids     []string
	cacheKey  string
	fromCache bool
	objects   map[string]*DataObject
}

func newDataList(d *DAL, spec *TypeSpec, guids []string, cacheKey string, fromCache bool) *DataList {
	return &DataList{
		dal:       d,
		spec:      spec,
		guids:     guids,
		cacheKey:  cacheKey,
		fromCache: fromCache,
		objects:   map[string]*DataObject{},
	}
}

// Type returns the type name of the objects in the list
func (l *DataList) Type() string {
	return l.spec.Name
}

// Len returns the number of guids
func (l *DataList) Len() int {
	return len(l.guids)
}

// Guids returns a copy of the guids
func (l *DataList) Guids() []string {
	return slices.Clone(l.guids)
}

// FromCache reports whether the guids came from a cached query result
func (l *DataList) FromCache() bool {
	return l.fromCache
}

// CacheKey returns the volatile key of the query result ("" if the result is not cacheable)
func (l *DataList) CacheKey() string {
	return l.cacheKey
}

// Index returns the position of a guid (-1 if it is not in the list)
func (l *DataList) Index(guid string) int {
	return slices.Index(l.guids, guid)
}

// Get loads the object at position i
func (l *DataList) Get(ctx context.Context, i int) (*DataObject, error) {
	if i < 0 || i >= len(l.guids) {
		return nil, errors.Newf("index %d out of range [0, %d)", i, len(l.guids))
	}
	guid := l.guids[i]
	if o, ok := l.objects[guid]; ok {
		return o, nil
	}
	o, err := l.dal.Load(ctx, l.spec.Name, guid)
	if err != nil {
		return nil, err
	}
	l.objects[guid] = o
	return o, nil
}

// Slice returns a new list with the guids in [i, j)
func (l *DataList) Slice(i, j int) *DataList {
	i = max(0, min(i, len(l.guids)))
	j = max(i, min(j, len(l.guids)))
	sub := newDataList(l.dal, l.spec, slices.Clone(l.guids[i:j]), "", false)
	for _, guid := range sub.guids {
		if o, ok := l.objects[guid]; ok {
			sub.objects[guid] = o
		}
	}
	return sub
}

// Reverse reverses the order of the list in place
func (l *DataList) Reverse() {
	slices.Reverse(l.guids)
}

// Update adds the guids of other that are not in the list yet
func (l *DataList) Update(other *DataList) error {
	if other.spec != l.spec {
		return errors.Wrapf(ErrUnknownType, "cannot merge a list of %s into a list of %s", other.spec.Name, l.spec.Name)
	}
	seen := make(map[string]bool, len(l.guids))
	for _, guid := range l.guids {
		seen[guid] = true
	}
	for _, guid := range other.guids {
		if !seen[guid] {
			seen[guid] = true
			l.guids = append(l.guids, guid)
			if o, ok := other.objects[guid]; ok {
				l.objects[guid] = o
			}
		}
	}
	l.cacheKey = ""
	l.fromCache = false
	return nil
}

// Objects loads all objects of the list with one GetMulti. Guids of objects that were
// deleted in the meantime are dropped from the list. If objects keep vanishing the
// load fails with ErrRaceCondition after ReadRetries retries.
func (l *DataList) Objects(ctx context.Context) ([]*DataObject, error) {
	for attempt := 0; ; attempt++ {
		var missing []string
		for _, guid := range l.guids {
			if _, ok := l.objects[guid]; !ok {
				missing = append(missing, guid)
			}
		}
		if len(missing) == 0 {
			break
		}

		keys := make([]string, len(missing))
		for i, guid := range missing {
			keys[i] = objectKey(l.spec.Name, guid)
		}
		values, err := l.dal.persistent.GetMulti(ctx, keys)
		if err == nil {
			for i, guid := range missing {
				o, err := l.dal.objectFromBytes(l.spec, guid, values[i])
				if err != nil {
					return nil, err
				}
				l.objects[guid] = o
			}
			break
		}

		var storeErr *store.Error
		if !errors.As(err, &storeErr) || storeErr.Code != store.RetCNotFound || storeErr.Key == "" {
			return nil, fromStore(err, "load list of %s", l.spec.Name)
		}
		if attempt >= l.dal.config.ReadRetries {
			return nil, errors.Wrapf(ErrRaceCondition, "objects of %s kept vanishing while loading a list", l.spec.Name)
		}
		vanished := storeErr.Key
		l.guids = slices.DeleteFunc(l.guids, func(guid string) bool {
			return objectKey(l.spec.Name, guid) == vanished
		})
		log.Debugf("dropped vanished %s from a list (%d/%d)", vanished, attempt+1, l.dal.config.ReadRetries)
	}

	objects := make([]*DataObject, len(l.guids))
	for i, guid := range l.guids {
		objects[i] = l.objects[guid]
	}
	return objects, nil
}

// Sort loads all objects and orders the list by the key function.
// Keys that cannot be compared with each other keep their relative order, nil keys sort
// first in both directions.
func (l *DataList) Sort(ctx context.Context, key func(*DataObject) any, reverse bool) error {
	objects, err := l.Objects(ctx)
	if err != nil {
		return err
	}
	keys := make(map[string]any, len(objects))
	for _, o := range objects {
		keys[o.guid] = key(o)
	}
	sort.SliceStable(l.guids, func(i, j int) bool {
		a, b := keys[l.guids[i]], keys[l.guids[j]]
		if a == nil || b == nil {
			return a == nil && b != nil
		}
		if reverse {
			a, b = b, a
		}
		c, ok := compareValues(a, b, false)
		return ok && c < 0
	})
	return nil
}

// Iterator returns a cursor over the objects of the list. A safe cursor skips objects
// that were deleted after the list was built, an unsafe one stops with ErrNotFound.
func (l *DataList) Iterator(ctx context.Context, safe bool) *Cursor {
	return &Cursor{ctx: ctx, list: l, safe: safe, pos: -1}
}

// Cursor iterates the objects of a DataList
//
// Usage:
//
//	cur := list.Iterator(ctx, true)
//	defer cur.Close()
//	for cur.Next() {
//		o := cur.Object()
//	}
//	if err := cur.Err(); err != nil { ... }
type Cursor struct {
	ctx     context.Context
	list    *DataList
	safe    bool
	pos     int
	current *DataObject
	err     error
	closed  bool
}

// Next advances to the next object. It returns false at the end or after an error.
func (c *Cursor) Next() bool {
	if c.closed || c.err != nil {
		return false
	}
	for {
		c.pos++
		if c.pos >= len(c.list.guids) {
			c.current = nil
			return false
		}
		guid := c.list.guids[c.pos]
		o, err := c.list.dal.Load(c.ctx, c.list.spec.Name, guid)
		if err == nil {
			c.current = o
			return true
		}
		if c.safe && errors.Is(err, ErrNotFound) {
			log.Debugf("skipping vanished %s %s", c.list.spec.Name, guid)
			continue
		}
		c.current = nil
		c.err = err
		return false
	}
}

// Object returns the current object
func (c *Cursor) Object() *DataObject {
	return c.current
}

// Err returns the error that stopped the iteration
func (c *Cursor) Err() error {
	return c.err
}

// Close stops the iteration
func (c *Cursor) Close() {
	c.closed = true
	c.current = nil
}
