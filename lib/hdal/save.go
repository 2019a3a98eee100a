package hdal

import (
	"context"
	"maps"
	"sort"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
)

// SaveOption configures a single save
type SaveOption func(*saveOptions)

type saveOptions struct {
	recursive bool
}

// SaveRecursive saves the owners set or loaded in memory depth first before the object itself
func SaveRecursive() SaveOption {
	return func(o *saveOptions) {
		o.recursive = true
	}
}

// DeleteOption configures a single delete
type DeleteOption func(*deleteOptions)

type deleteOptions struct {
	checkLinks bool
}

// CheckLinks refuses the delete with a LinkedObjectError while other objects point to the object
func CheckLinks() DeleteOption {
	return func(o *deleteOptions) {
		o.checkLinks = true
	}
}

// Save persists the object. Fields changed concurrently by other writers are merged:
// a field that was only changed in the store keeps the store value, a field that was
// changed on both sides is resolved by the conflict policy of the object.
//
// The write is an optimistic transaction asserting the bytes the merge was based on.
// If another writer wins the race the save starts over, after SaveRetries retries it
// fails with ErrConcurrency.
func (o *DataObject) Save(ctx context.Context, opts ...SaveOption) error {
	options := saveOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	if options.recursive {
		return o.saveRecursive(ctx, map[*DataObject]bool{}, true)
	}
	return o.save(ctx)
}

func (o *DataObject) saveRecursive(ctx context.Context, visited map[*DataObject]bool, root bool) error {
	if visited[o] {
		return nil
	}
	visited[o] = true

	for _, rel := range o.spec.Relations {
		owner, ok := o.related[rel.Name]
		if !ok || owner.guid != o.state.rels[rel.Name] {
			continue
		}
		if err := owner.saveRecursive(ctx, visited, false); err != nil {
			return err
		}
	}
	// owners without changes are not written again
	if !root && !o.Dirty() {
		return nil
	}
	return o.save(ctx)
}

func (o *DataObject) save(ctx context.Context) error {
	if o.readOnly.Load() > 0 {
		return errors.Wrapf(ErrReadOnly, "save %s %s", o.spec.Name, o.guid)
	}
	for _, rel := range o.spec.Relations {
		if rel.Mandatory && o.state.rels[rel.Name] == "" {
			return errors.Wrapf(ErrInvalidRelation, "%s.%s is mandatory", o.spec.Name, rel.Name)
		}
	}

	d := o.dal
	key := objectKey(o.spec.Name, o.guid)

	for attempt := 0; ; attempt++ {
		current, err := d.persistent.Get(ctx, key)
		var remote *objectState
		switch {
		case err == nil:
			if remote, err = d.decodeState(o.spec, current); err != nil {
				return errors.Wrapf(err, "%s %s", o.spec.Name, o.guid)
			}
		case isStoreCode(err, store.RetCNotFound):
			if o.persisted {
				return errors.Wrapf(fromStore(err, "save"), "%s %s was deleted", o.spec.Name, o.guid)
			}
		default:
			return fromStore(err, "save %s %s", o.spec.Name, o.guid)
		}

		merged, conflicts := o.merge(remote)
		if len(conflicts) > 0 {
			return newConcurrencyError(o.spec.Name, o.guid, conflicts)
		}
		if remote != nil {
			merged.version = remote.version + 1
		} else {
			merged.version = 1
		}
		value, err := encodeState(merged)
		if err != nil {
			return errors.Wrapf(err, "%s %s", o.spec.Name, o.guid)
		}

		txn := d.persistent.Begin()
		if remote != nil {
			txn.Assert(key, current)
		} else {
			txn.AssertAbsent(key)
		}
		txn.Set(key, value)
		if err := o.writeReverseIndex(txn, remote, merged); err != nil {
			return err
		}

		fields := changedFieldSet(o.spec, remote, merged)
		links, err := d.collectLinks(ctx, o.spec.Name, fields)
		if err != nil {
			return err
		}
		for _, l := range links {
			txn.Delete(l.key)
		}

		err = d.persistent.Apply(ctx, txn)
		if isStoreCode(err, store.RetCRaceCondition) {
			if attempt >= d.config.SaveRetries {
				return errors.Wrapf(newConcurrencyError(o.spec.Name, o.guid, nil), "after %d retries", attempt)
			}
			saveRetryCounter(o.spec.Name).Inc()
			log.Debugf("save of %s %s lost a race, retrying (%d/%d)", o.spec.Name, o.guid, attempt+1, d.config.SaveRetries)
			continue
		}
		if err != nil {
			return fromStore(err, "save %s %s", o.spec.Name, o.guid)
		}

		o.state = merged
		o.original = maps.Clone(merged.fields)
		o.persisted = true
		o.fromCache = false
		saveCounter(o.spec.Name).Inc()

		return d.afterWrite(ctx, o.spec, o.guid, links, fields)
	}
}

// merge computes the state to write from the caller state, the state it was based on
// (original) and the current store state (remote, nil if the object does not exist)
func (o *DataObject) merge(remote *objectState) (*objectState, []string) {
	merged := o.state.clone()
	if remote != nil {
		merged.extra = maps.Clone(remote.extra)
	}

	var conflicts []string
	for _, name := range o.spec.fields() {
		mine := o.state.fields[name]
		orig, hasOrig := o.original[name]
		var theirs string
		hasTheirs := false
		if remote != nil {
			theirs, hasTheirs = remote.fields[name]
		}

		switch {
		case hasOrig && mine == orig:
			// unchanged by the caller
			if hasTheirs {
				takeField(merged, remote, name)
			}
		case hasOrig == hasTheirs && orig == theirs:
			// unchanged in the store
		case hasTheirs && mine == theirs:
			// both sides made the same change
		default:
			switch o.policy {
			case DatastoreWins:
				takeField(merged, remote, name)
			case Strict:
				conflicts = append(conflicts, name)
			}
		}
	}
	sort.Strings(conflicts)
	return merged, conflicts
}

// takeField copies a field from src to dst
func takeField(dst, src *objectState, name string) {
	dst.fields[name] = src.fields[name]
	if guid, ok := src.rels[name]; ok {
		dst.rels[name] = guid
		return
	}
	dst.props[name] = deepCopy(src.props[name])
}

// writeReverseIndex adds the reverse index changes between the stored and the new state to txn
func (o *DataObject) writeReverseIndex(txn *store.Transaction, before, after *objectState) error {
	for _, rel := range o.spec.Relations {
		prev := ""
		if before != nil {
			prev = before.rels[rel.Name]
		}
		next := ""
		if after != nil {
			next = after.rels[rel.Name]
		}
		if prev == next {
			continue
		}
		if prev != "" {
			txn.Delete(reverseKey(rel.Target, prev, rel.Backref, o.guid))
		}
		if next != "" {
			txn.Set(reverseKey(rel.Target, next, rel.Backref, o.guid), []byte{})
		}
	}
	return nil
}

// Delete removes the object and its outgoing reverse index edges.
// Deleting an object that is already gone is not an error.
func (o *DataObject) Delete(ctx context.Context, opts ...DeleteOption) error {
	if o.readOnly.Load() > 0 {
		return errors.Wrapf(ErrReadOnly, "delete %s %s", o.spec.Name, o.guid)
	}
	if !o.persisted {
		return errors.Wrapf(ErrVolatile, "delete %s %s", o.spec.Name, o.guid)
	}
	options := deleteOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	d := o.dal
	key := objectKey(o.spec.Name, o.guid)

	for attempt := 0; ; attempt++ {
		current, err := d.persistent.Get(ctx, key)
		if isStoreCode(err, store.RetCNotFound) {
			o.persisted = false
			if err := d.volatile.Delete(ctx, key); err != nil {
				return fromStore(err, "drop cached %s %s", o.spec.Name, o.guid)
			}
			return nil
		}
		if err != nil {
			return fromStore(err, "delete %s %s", o.spec.Name, o.guid)
		}
		remote, err := d.decodeState(o.spec, current)
		if err != nil {
			return errors.Wrapf(err, "%s %s", o.spec.Name, o.guid)
		}

		if options.checkLinks {
			if err := o.checkDependents(ctx); err != nil {
				return err
			}
		}

		txn := d.persistent.Begin().Assert(key, current).Delete(key)
		if err := o.writeReverseIndex(txn, remote, nil); err != nil {
			return err
		}
		links, err := d.collectLinks(ctx, o.spec.Name, nil)
		if err != nil {
			return err
		}
		for _, l := range links {
			txn.Delete(l.key)
		}

		err = d.persistent.Apply(ctx, txn)
		if isStoreCode(err, store.RetCRaceCondition) {
			if attempt >= d.config.SaveRetries {
				return errors.Wrapf(newConcurrencyError(o.spec.Name, o.guid, nil), "delete after %d retries", attempt)
			}
			saveRetryCounter(o.spec.Name).Inc()
			log.Debugf("delete of %s %s lost a race, retrying (%d/%d)", o.spec.Name, o.guid, attempt+1, d.config.SaveRetries)
			continue
		}
		if err != nil {
			return fromStore(err, "delete %s %s", o.spec.Name, o.guid)
		}

		o.persisted = false
		o.original = nil
		deleteCounter(o.spec.Name).Inc()
		return d.afterWrite(ctx, o.spec, o.guid, links, nil)
	}
}

// checkDependents fails with a LinkedObjectError if any reverse index edge points to the object
func (o *DataObject) checkDependents(ctx context.Context) error {
	keys, err := store.CollectKeys(o.dal.persistent.Prefix(ctx, reverseOwnerPrefix(o.spec.Name, o.guid)))
	if err != nil {
		return fromStore(err, "check dependents of %s %s", o.spec.Name, o.guid)
	}
	seen := map[string]bool{}
	var backrefs []string
	for _, key := range keys {
		_, backref, _, ok := parseReverseKey(o.spec.Name, key)
		if ok && !seen[backref] {
			seen[backref] = true
			backrefs = append(backrefs, backref)
		}
	}
	if len(backrefs) == 0 {
		return nil
	}
	sort.Strings(backrefs)
	return errors.Mark(&LinkedObjectError{Type: o.spec.Name, Guid: o.guid, Backrefs: backrefs}, ErrLinkedObject)
}
