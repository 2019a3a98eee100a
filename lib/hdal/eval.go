package hdal

import (
	"context"
	"maps"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// record is an object as seen by the query evaluator
type record struct {
	spec  *TypeSpec
	guid  string
	state *objectState
}

// evaluator evaluates compiled queries. Objects reached via relations and backrefs
// are read from the persistent store once per query.
type evaluator struct {
	ctx     context.Context
	dal     *DAL
	records map[string]*record
}

func (ev *evaluator) match(rec *record, cq *compiledQuery) (bool, error) {
	if cq.and {
		for _, f := range cq.filters {
			ok, err := ev.matchFilter(rec, f)
			if err != nil || !ok {
				return false, err
			}
		}
		for _, sub := range cq.queries {
			ok, err := ev.match(rec, sub)
			if err != nil || !ok {
				return false, err
			}
		}
		return true, nil
	}

	for _, f := range cq.filters {
		ok, err := ev.matchFilter(rec, f)
		if err != nil || ok {
			return ok, err
		}
	}
	for _, sub := range cq.queries {
		ok, err := ev.match(rec, sub)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

func (ev *evaluator) matchFilter(rec *record, f *compiledFilter) (bool, error) {
	v, err := ev.resolve(rec, f.path)
	if err != nil {
		return false, err
	}
	return applyOperator(f.op, v, f.value, f.fold), nil
}

func applyOperator(op Operator, left, right any, fold bool) bool {
	switch op {
	case EQ:
		return equalValues(left, right, fold)
	case NE:
		return !equalValues(left, right, fold)
	case LT:
		c, ok := compareValues(left, right, fold)
		return ok && c < 0
	case GT:
		c, ok := compareValues(left, right, fold)
		return ok && c > 0
	case IN:
		if list, ok := right.([]any); ok {
			if values, ok := left.([]any); ok {
				for _, v := range values {
					if containsValue(list, v, fold) {
						return true
					}
				}
				return false
			}
			return containsValue(list, left, fold)
		}
		if values, ok := left.([]any); ok {
			return containsValue(values, right, fold)
		}
		ls, lok := left.(string)
		rs, rok := right.(string)
		if lok && rok {
			if fold {
				ls, rs = strings.ToLower(ls), strings.ToLower(rs)
			}
			return strings.Contains(rs, ls)
		}
	}
	return false
}

// resolve returns the value of a field path on rec
func (ev *evaluator) resolve(rec *record, path []string) (any, error) {
	seg, rest := path[0], path[1:]

	if seg == "guid" {
		return rec.guid, nil
	}
	if _, ok := rec.spec.property(seg); ok {
		return rec.state.props[seg], nil
	}
	if rel, ok := rec.spec.relation(seg); ok {
		guid := rec.state.rels[seg]
		if guid == "" {
			return nil, nil
		}
		if len(rest) == 0 || (len(rest) == 1 && rest[0] == "guid") {
			return guid, nil
		}
		owner, err := ev.load(rel.Target, guid)
		if err != nil {
			return nil, err
		}
		return ev.resolve(owner, rest)
	}
	if name, ok := strings.CutSuffix(seg, "_guid"); ok {
		if _, isRel := rec.spec.relation(name); isRel {
			if guid := rec.state.rels[name]; guid != "" {
				return guid, nil
			}
			return nil, nil
		}
	}
	if _, ok := rec.spec.dynamic(seg); ok {
		return ev.object(rec).Dynamic(ev.ctx, seg)
	}

	_, dependent, err := ev.dal.foreignRelation(ev.ctx, rec.spec.Name, seg)
	if err != nil {
		return nil, err
	}
	guids, err := ev.dal.dependentGuids(ev.ctx, rec.spec.Name, rec.guid, seg)
	if err != nil {
		return nil, err
	}

	if len(rest) > 0 {
		if idx, err := strconv.Atoi(rest[0]); err == nil {
			rest = rest[1:]
			if idx < 0 || idx >= len(guids) {
				return nil, nil
			}
			guids = guids[idx : idx+1]
			if len(rest) == 0 {
				return guids[0], nil
			}
			dep, err := ev.load(dependent.Name, guids[0])
			if err != nil {
				return nil, err
			}
			return ev.resolve(dep, rest)
		}
	}

	values := make([]any, 0, len(guids))
	for _, guid := range guids {
		if len(rest) == 0 || (len(rest) == 1 && rest[0] == "guid") {
			values = append(values, guid)
			continue
		}
		dep, err := ev.load(dependent.Name, guid)
		if errors.Is(err, ErrNotFound) {
			// deleted after the reverse index was read
			continue
		}
		if err != nil {
			return nil, err
		}
		v, err := ev.resolve(dep, rest)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// load reads an object from the persistent store, once per query
func (ev *evaluator) load(typeName, guid string) (*record, error) {
	key := objectKey(typeName, guid)
	if rec, ok := ev.records[key]; ok {
		return rec, nil
	}
	spec, err := ev.dal.registry.Type(typeName)
	if err != nil {
		return nil, err
	}
	raw, err := ev.dal.persistent.Get(ev.ctx, key)
	if err != nil {
		return nil, fromStore(err, "load %s %s", typeName, guid)
	}
	state, err := ev.dal.decodeState(spec, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", typeName, guid)
	}
	rec := &record{spec: spec, guid: guid, state: state}
	ev.records[key] = rec
	return rec, nil
}

// object turns a record into a DataObject to evaluate a dynamic on it
func (ev *evaluator) object(rec *record) *DataObject {
	state := rec.state.clone()
	return &DataObject{
		dal:       ev.dal,
		spec:      rec.spec,
		guid:      rec.guid,
		state:     state,
		original:  maps.Clone(state.fields),
		related:   map[string]*DataObject{},
		persisted: true,
	}
}
