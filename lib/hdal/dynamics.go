package hdal

import (
	"context"
	"strconv"

	"github.com/cockroachdb/errors"
)

// Dynamic returns the value of a dynamic property. The value is cached in the volatile
// store under <object key>_<name> for the TTL of the dynamic. While the function runs
// the object is read only.
func (o *DataObject) Dynamic(ctx context.Context, name string) (any, error) {
	dyn, ok := o.spec.dynamic(name)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownField, "%s has no dynamic %q", o.spec.Name, name)
	}
	d := o.dal
	key := dynamicKey(o.spec.Name, o.guid, name)
	kind := dyn.Kind
	if kind == KindEnum {
		kind = KindString
	}

	if dyn.TTL > 0 {
		raw, ok, err := d.volatile.Get(ctx, key)
		if err != nil {
			return nil, fromStore(err, "load dynamic %s.%s", o.spec.Name, name)
		}
		if ok {
			if v, err := decodeGeneric(raw); err == nil {
				if v, err = normalize(kind, nil, v); err == nil {
					if err := o.countDynamic(ctx, name, "hit"); err != nil {
						return nil, err
					}
					return v, nil
				}
			}
			log.Warningf("dropping corrupt cached dynamic %s", key)
		}
	}

	o.readOnly.Add(1)
	v, err := dyn.Func(ctx, o)
	o.readOnly.Add(-1)
	if err != nil {
		return nil, errors.Wrapf(err, "dynamic %s.%s", o.spec.Name, name)
	}
	if v, err = normalize(kind, nil, v); err != nil {
		return nil, errors.Wrapf(err, "dynamic %s.%s", o.spec.Name, name)
	}
	if err := o.countDynamic(ctx, name, "miss"); err != nil {
		return nil, err
	}

	if dyn.TTL > 0 {
		encoded, err := encodeValue(v)
		if err != nil {
			return nil, errors.Wrapf(err, "dynamic %s.%s", o.spec.Name, name)
		}
		if err := d.volatile.Set(ctx, key, []byte(encoded), dyn.TTL); err != nil {
			return nil, fromStore(err, "cache dynamic %s.%s", o.spec.Name, name)
		}
	}
	return v, nil
}

// countDynamic counts a hit or miss in process and in the volatile store
func (o *DataObject) countDynamic(ctx context.Context, name, result string) error {
	dynamicCacheCounter(o.spec.Name, result).Inc()
	if _, err := o.dal.volatile.Incr(ctx, dynamicStatsKey(o.spec.Name, name, result), 1); err != nil {
		return fromStore(err, "count dynamic %s.%s", o.spec.Name, name)
	}
	return nil
}

// DynamicStats returns the hits and misses of a dynamic counted by all processes
func (d *DAL) DynamicStats(ctx context.Context, typeName, name string) (hits, misses int64, err error) {
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return 0, 0, err
	}
	if _, ok := spec.dynamic(name); !ok {
		return 0, 0, errors.Wrapf(ErrUnknownField, "%s has no dynamic %q", typeName, name)
	}

	read := func(result string) (int64, error) {
		raw, ok, err := d.volatile.Get(ctx, dynamicStatsKey(typeName, name, result))
		if err != nil || !ok {
			return 0, fromStore(err, "load dynamic stats of %s.%s", typeName, name)
		}
		return strconv.ParseInt(string(raw), 10, 64)
	}
	if hits, err = read("hit"); err != nil {
		return 0, 0, err
	}
	if misses, err = read("miss"); err != nil {
		return 0, 0, err
	}
	return hits, misses, nil
}
