package hdal

import (
	"context"

	"github.com/ValentinKolb/dORM/lib/store"
)

// Cache coherence of query results.
//
// A cached result (volatile key ovs_list_...) depends on a set of (type, field) pairs.
// For each pair an invalidation link ovs_listcache_<type>|<cache key>|<field> is kept
// in the persistent store. A writer deletes the links of all fields it changes in the
// same transaction as the object, and drops the cached results behind them afterward.
// A reader registers the links before it scans and checks them again after it stored
// the result, so a result never outlives a write that happened during the scan.

// linkRef is a (type, field) pair a query result depends on
type linkRef struct {
	typeName string
	field    string
}

// cachedLink is an invalidation link found in the persistent store
type cachedLink struct {
	key      string
	cacheKey string
}

var linkValue = []byte("0")

// registerLinks writes the invalidation links of a cached result
func (d *DAL) registerLinks(ctx context.Context, cacheKey string, links []linkRef) error {
	txn := d.persistent.Begin()
	for _, l := range links {
		txn.Set(linkKey(l.typeName, cacheKey, l.field), linkValue)
	}
	if err := d.persistent.Apply(ctx, txn); err != nil {
		return fromStore(err, "register invalidation links of %s", cacheKey)
	}
	return nil
}

// linksPresent reports whether all invalidation links of a cached result still exist
func (d *DAL) linksPresent(ctx context.Context, cacheKey string, links []linkRef) (bool, error) {
	keys := make([]string, len(links))
	for i, l := range links {
		keys[i] = linkKey(l.typeName, cacheKey, l.field)
	}
	_, err := d.persistent.GetMulti(ctx, keys)
	if isStoreCode(err, store.RetCNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fromStore(err, "check invalidation links of %s", cacheKey)
	}
	return true, nil
}

// collectLinks returns the invalidation links of a type for the given fields (nil = all fields)
func (d *DAL) collectLinks(ctx context.Context, typeName string, fields map[string]bool) ([]cachedLink, error) {
	it := d.persistent.Prefix(ctx, linkTypePrefix(typeName))
	defer it.Close()

	var links []cachedLink
	for it.Next() {
		cacheKey, field, ok := parseLinkKey(typeName, it.Key())
		if !ok {
			continue
		}
		if fields == nil || fields[field] {
			links = append(links, cachedLink{key: it.Key(), cacheKey: cacheKey})
		}
	}
	if err := it.Err(); err != nil {
		return nil, fromStore(err, "collect invalidation links of %s", typeName)
	}
	return links, nil
}

// dropLists removes the cached results behind the given links from the volatile store
func (d *DAL) dropLists(ctx context.Context, typeName string, links []cachedLink) error {
	dropped := map[string]bool{}
	for _, l := range links {
		if dropped[l.cacheKey] {
			continue
		}
		dropped[l.cacheKey] = true
		if err := d.volatile.Delete(ctx, l.cacheKey); err != nil {
			return fromStore(err, "drop cached list %s", l.cacheKey)
		}
	}
	if len(dropped) > 0 {
		listCacheCounter(typeName, "invalidated").Add(len(dropped))
	}
	return nil
}

// afterWrite runs after a write of an object was applied: the volatile copy and the
// cached results whose links were deleted are dropped, then links that were registered
// by readers in the meantime are swept once more.
func (d *DAL) afterWrite(ctx context.Context, spec *TypeSpec, guid string, links []cachedLink, fields map[string]bool) error {
	if err := d.volatile.Delete(ctx, objectKey(spec.Name, guid)); err != nil {
		return fromStore(err, "drop cached %s %s", spec.Name, guid)
	}
	if err := d.dropLists(ctx, spec.Name, links); err != nil {
		return err
	}

	late, err := d.collectLinks(ctx, spec.Name, fields)
	if err != nil || len(late) == 0 {
		return err
	}
	txn := d.persistent.Begin()
	for _, l := range late {
		txn.Delete(l.key)
	}
	if err := d.persistent.Apply(ctx, txn); err != nil {
		return fromStore(err, "sweep invalidation links of %s", spec.Name)
	}
	return d.dropLists(ctx, spec.Name, late)
}

// changedFieldSet returns the fields that differ between two states as a link field set.
// An insert or delete (before or after is nil) changes every field and __all.
func changedFieldSet(spec *TypeSpec, before, after *objectState) map[string]bool {
	changed := map[string]bool{}
	if before == nil || after == nil {
		for _, name := range spec.fields() {
			changed[name] = true
		}
		changed[allField] = true
		return changed
	}
	for _, name := range spec.fields() {
		if before.fields[name] != after.fields[name] {
			changed[name] = true
		}
	}
	return changed
}
