package hdal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// QueryType combines the items of a query
type QueryType string

const (
	AND QueryType = "AND"
	OR  QueryType = "OR"
)

// Operator compares the value of a field path with the value of a filter
type Operator string

const (
	EQ Operator = "EQ"
	NE Operator = "NE"
	LT Operator = "LT"
	GT Operator = "GT"
	// IN tests membership: the field in a list value, a value in a list field,
	// or a substring for two strings
	IN Operator = "IN"
)

// Item is a Filter or a nested Query
type Item interface {
	item()
}

// Filter compares a field path with a value.
//
// A path is a dot separated list of segments starting at the queried type:
// properties, relations (followed into the owner), <relation>_guid, backrefs
// (followed into the dependents, optionally with an index), dynamics and guid.
type Filter struct {
	Field      string   `json:"field"`
	Op         Operator `json:"op"`
	Value      any      `json:"value"`
	IgnoreCase bool     `json:"ignore_case,omitempty"`
}

// Query combines filters and nested queries with AND or OR. An empty AND query matches everything.
type Query struct {
	Type  QueryType `json:"type"`
	Items []Item    `json:"items"`
}

func (Filter) item() {}
func (Query) item()  {}

// And combines items with AND
func And(items ...Item) Query {
	return Query{Type: AND, Items: items}
}

// Or combines items with OR
func Or(items ...Item) Query {
	return Query{Type: OR, Items: items}
}

// Eq matches if the path equals value
func Eq(field string, value any) Filter {
	return Filter{Field: field, Op: EQ, Value: value}
}

// Ne matches if the path differs from value
func Ne(field string, value any) Filter {
	return Filter{Field: field, Op: NE, Value: value}
}

// Lt matches if the path is less than value
func Lt(field string, value any) Filter {
	return Filter{Field: field, Op: LT, Value: value}
}

// Gt matches if the path is greater than value
func Gt(field string, value any) Filter {
	return Filter{Field: field, Op: GT, Value: value}
}

// In matches by membership (see IN)
func In(field string, value any) Filter {
	return Filter{Field: field, Op: IN, Value: value}
}

// Fold returns a copy of the filter that compares strings case-insensitively
func (f Filter) Fold() Filter {
	f.IgnoreCase = true
	return f
}

// QueryOption configures a query execution
type QueryOption func(*queryOptions)

type queryOptions struct {
	name string
}

// Named caches the result under ovs_list_<name> instead of a key derived from the query
func Named(name string) QueryOption {
	return func(o *queryOptions) {
		o.name = name
	}
}

// --------------------------------------------------------------------------
// Compilation
// --------------------------------------------------------------------------

type compiledFilter struct {
	path  []string
	op    Operator
	value any
	fold  bool
}

type compiledQuery struct {
	and     bool
	filters []*compiledFilter
	queries []*compiledQuery
}

// compiler validates a query against the registry and collects the (type, field)
// pairs the result depends on
type compiler struct {
	ctx       context.Context
	dal       *DAL
	links     map[linkRef]bool
	cacheable bool
}

func (c *compiler) query(spec *TypeSpec, q Query) (*compiledQuery, error) {
	cq := &compiledQuery{}
	switch q.Type {
	case AND, "":
		cq.and = true
	case OR:
	default:
		return nil, errors.Wrapf(ErrInvalidValue, "invalid query type %q", q.Type)
	}
	for _, item := range q.Items {
		switch it := item.(type) {
		case Filter:
			cf, err := c.filter(spec, it)
			if err != nil {
				return nil, err
			}
			cq.filters = append(cq.filters, cf)
		case *Filter:
			cf, err := c.filter(spec, *it)
			if err != nil {
				return nil, err
			}
			cq.filters = append(cq.filters, cf)
		case Query:
			sub, err := c.query(spec, it)
			if err != nil {
				return nil, err
			}
			cq.queries = append(cq.queries, sub)
		case *Query:
			sub, err := c.query(spec, *it)
			if err != nil {
				return nil, err
			}
			cq.queries = append(cq.queries, sub)
		default:
			return nil, errors.Wrapf(ErrInvalidValue, "invalid query item %T", item)
		}
	}
	return cq, nil
}

func (c *compiler) filter(spec *TypeSpec, f Filter) (*compiledFilter, error) {
	switch f.Op {
	case EQ, NE, LT, GT, IN:
	default:
		return nil, errors.Wrapf(ErrInvalidValue, "%s: invalid operator %q", f.Field, f.Op)
	}
	if f.Field == "" {
		return nil, errors.Wrap(ErrUnknownField, "empty field path")
	}
	path := strings.Split(f.Field, ".")
	if err := c.walk(spec, path); err != nil {
		return nil, errors.Wrapf(err, "%s.%s", spec.Name, f.Field)
	}

	value := f.Value
	if o, ok := value.(*DataObject); ok {
		value = o.guid
	}
	value, err := normalizeGeneric(value)
	if err != nil {
		return nil, errors.Wrapf(err, "%s.%s", spec.Name, f.Field)
	}
	return &compiledFilter{path: path, op: f.Op, value: value, fold: f.IgnoreCase}, nil
}

// walk follows a field path through the registry. Every field that is read on the way
// is a dependency of the result, a dynamic makes the result uncacheable.
func (c *compiler) walk(spec *TypeSpec, path []string) error {
	cur := spec
	for i := 0; i < len(path); i++ {
		seg := path[i]
		last := i == len(path)-1

		if seg == "guid" {
			if !last {
				return errors.Wrap(ErrUnknownField, "guid has no fields")
			}
			return nil
		}
		if _, ok := cur.property(seg); ok {
			c.links[linkRef{cur.Name, seg}] = true
			if !last {
				return errors.Wrapf(ErrUnknownField, "property %s has no fields", seg)
			}
			return nil
		}
		if rel, ok := cur.relation(seg); ok {
			c.links[linkRef{cur.Name, seg}] = true
			target, err := c.dal.registry.Type(rel.Target)
			if err != nil {
				return err
			}
			cur = target
			continue
		}
		if name, ok := strings.CutSuffix(seg, "_guid"); ok {
			if _, isRel := cur.relation(name); isRel {
				c.links[linkRef{cur.Name, name}] = true
				if !last {
					return errors.Wrapf(ErrUnknownField, "%s has no fields", seg)
				}
				return nil
			}
		}
		if _, ok := cur.dynamic(seg); ok {
			c.cacheable = false
			if !last {
				return errors.Wrapf(ErrUnknownField, "dynamic %s has no fields", seg)
			}
			return nil
		}

		mapping, err := c.dal.ForeignRelations(c.ctx, cur.Name)
		if err != nil {
			return err
		}
		fr, ok := mapping[seg]
		if !ok {
			return errors.Wrapf(ErrUnknownField, "%s has no field %q", cur.Name, seg)
		}
		dependent, err := c.dal.registry.TypeByID(fr.Type.TypeID)
		if err != nil {
			return err
		}
		c.links[linkRef{dependent.Name, fr.Relation}] = true
		cur = dependent
		if i+1 < len(path) {
			if _, err := strconv.Atoi(path[i+1]); err == nil {
				i++
			}
		}
	}
	return nil
}

// canonical returns a json encodable form of a compiled query. Filter values are
// normalized, so equal queries have equal encodings.
func (cq *compiledQuery) canonical() map[string]any {
	filters := make([]map[string]any, len(cq.filters))
	for i, f := range cq.filters {
		filters[i] = map[string]any{"path": f.path, "op": f.op, "value": f.value, "fold": f.fold}
	}
	queries := make([]map[string]any, len(cq.queries))
	for i, sub := range cq.queries {
		queries[i] = sub.canonical()
	}
	return map[string]any{"and": cq.and, "filters": filters, "queries": queries}
}

// cacheKeyOf derives the volatile key of a query result from the type and the query
func cacheKeyOf(typeName string, cq *compiledQuery) (string, error) {
	raw, err := json.Marshal(cq.canonical())
	if err != nil {
		return "", errors.Wrapf(ErrInvalidValue, "query: %v", err)
	}
	sum := sha256.Sum256(append([]byte(typeName+":"), raw...))
	return listPrefix + hex.EncodeToString(sum[:]), nil
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// Query returns the guids of all objects of a type matching q. Results are cached in the
// volatile store until a write changes a field the query depends on, or the cache
// entry expires.
func (d *DAL) Query(ctx context.Context, typeName string, q Query, opts ...QueryOption) (*DataList, error) {
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return nil, err
	}
	options := queryOptions{}
	for _, opt := range opts {
		opt(&options)
	}

	c := &compiler{ctx: ctx, dal: d, links: map[linkRef]bool{{spec.Name, allField}: true}, cacheable: true}
	cq, err := c.query(spec, q)
	if err != nil {
		return nil, err
	}

	var cacheKey string
	if options.name != "" {
		if strings.Contains(options.name, keySep) {
			return nil, errors.Wrapf(ErrInvalidValue, "list name %q must not contain %q", options.name, keySep)
		}
		cacheKey = listPrefix + options.name
	} else if cacheKey, err = cacheKeyOf(typeName, cq); err != nil {
		return nil, err
	}

	if !c.cacheable {
		listCacheCounter(typeName, "uncacheable").Inc()
		guids, _, err := d.scan(ctx, spec, cq)
		if err != nil {
			return nil, err
		}
		return newDataList(d, spec, guids, "", false), nil
	}

	raw, ok, err := d.volatile.Get(ctx, cacheKey)
	if err != nil {
		return nil, fromStore(err, "load cached list %s", cacheKey)
	}
	if ok {
		var guids []string
		if json.Unmarshal(raw, &guids) == nil {
			listCacheCounter(typeName, "hit").Inc()
			return newDataList(d, spec, guids, cacheKey, true), nil
		}
		log.Warningf("dropping corrupt cached list %s", cacheKey)
	}

	listCacheCounter(typeName, "miss").Inc()
	links := make([]linkRef, 0, len(c.links))
	for l := range c.links {
		links = append(links, l)
	}
	v, err := d.shared(ctx, cacheKey, func(ctx context.Context) (any, error) {
		return d.fill(ctx, spec, cq, cacheKey, links)
	})
	if err != nil {
		return nil, err
	}
	guids := append([]string(nil), v.([]string)...)
	return newDataList(d, spec, guids, cacheKey, false), nil
}

// fill computes a query result and caches it if no write interfered
func (d *DAL) fill(ctx context.Context, spec *TypeSpec, cq *compiledQuery, cacheKey string, links []linkRef) ([]string, error) {
	if err := d.registerLinks(ctx, cacheKey, links); err != nil {
		return nil, err
	}
	guids, scanned, err := d.scan(ctx, spec, cq)
	if err != nil {
		return nil, err
	}
	if scanned == 0 {
		return guids, nil
	}

	value, _ := json.Marshal(guids)
	if err := d.volatile.Set(ctx, cacheKey, value, d.listTTL()); err != nil {
		return nil, fromStore(err, "cache list %s", cacheKey)
	}
	present, err := d.linksPresent(ctx, cacheKey, links)
	if err != nil {
		return nil, err
	}
	if !present {
		// a writer changed a dependency during the scan
		if err := d.volatile.Delete(ctx, cacheKey); err != nil {
			return nil, fromStore(err, "drop cached list %s", cacheKey)
		}
	}
	return guids, nil
}

// scan evaluates the query on every object of the type. Objects that vanish during
// the scan are skipped.
func (d *DAL) scan(ctx context.Context, spec *TypeSpec, cq *compiledQuery) (guids []string, scanned int, err error) {
	defer observeScan(spec.Name, time.Now())

	ev := &evaluator{ctx: ctx, dal: d, records: map[string]*record{}}
	prefix := objectPrefix(spec.Name)
	it := d.persistent.PrefixEntries(ctx, prefix)
	defer it.Close()

	guids = []string{}
	for it.Next() {
		scanned++
		guid := strings.TrimPrefix(it.Key(), prefix)
		state, err := d.decodeState(spec, it.Value())
		if err != nil {
			return nil, scanned, errors.Wrapf(err, "%s %s", spec.Name, guid)
		}
		rec := &record{spec: spec, guid: guid, state: state}
		ev.records[objectKey(spec.Name, guid)] = rec

		ok, err := ev.match(rec, cq)
		if errors.Is(err, ErrNotFound) {
			log.Debugf("skipping %s %s: %v", spec.Name, guid, err)
			continue
		}
		if err != nil {
			return nil, scanned, err
		}
		if ok {
			guids = append(guids, guid)
		}
	}
	if err := it.Err(); err != nil {
		return nil, scanned, fromStore(err, "scan %s", spec.Name)
	}
	return guids, scanned, nil
}

// All returns all objects of a type
func (d *DAL) All(ctx context.Context, typeName string) (*DataList, error) {
	return d.Query(ctx, typeName, And())
}

// RelationSet returns the dependents of an owner via a backref. It reads the reverse
// index and does not scan.
func (d *DAL) RelationSet(ctx context.Context, ownerType, backref, ownerGuid string) (*DataList, error) {
	if _, err := d.registry.Type(ownerType); err != nil {
		return nil, err
	}
	_, dependent, err := d.foreignRelation(ctx, ownerType, backref)
	if err != nil {
		return nil, err
	}
	guids, err := d.dependentGuids(ctx, ownerType, ownerGuid, backref)
	if err != nil {
		return nil, err
	}
	return newDataList(d, dependent, guids, "", false), nil
}

// dependentGuids reads the guids of the dependents of an owner from the reverse index
func (d *DAL) dependentGuids(ctx context.Context, ownerType, ownerGuid, backref string) ([]string, error) {
	it := d.persistent.Prefix(ctx, reverseBackrefPrefix(ownerType, ownerGuid, backref))
	defer it.Close()

	guids := []string{}
	for it.Next() {
		if _, _, dep, ok := parseReverseKey(ownerType, it.Key()); ok {
			guids = append(guids, dep)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fromStore(err, "load %s of %s %s", backref, ownerType, ownerGuid)
	}
	return guids, nil
}
