package hdal

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
)

// ForeignRelation describes a relation of another type that points to a type.
// The owner sees it under the backref name of the relation.
type ForeignRelation struct {
	// Type is the dependent type that holds the relation
	Type Descriptor `json:"type"`
	// Relation is the name of the relation on the dependent type
	Relation string `json:"relation"`
	// IsList is false for one-to-one relations
	IsList bool `json:"list"`
}

// ForeignRelations returns all relations pointing to the given type, keyed by backref.
// The mapping is derived from the registry once and cached in process and in the
// volatile store (ovs_relations_<type>).
func (d *DAL) ForeignRelations(ctx context.Context, typeName string) (map[string]ForeignRelation, error) {
	if mapping, ok := d.relations.Load(typeName); ok {
		return mapping, nil
	}
	if _, err := d.registry.Type(typeName); err != nil {
		return nil, err
	}

	v, err := d.shared(ctx, relationsKey(typeName), func(ctx context.Context) (any, error) {
		return d.loadForeignRelations(ctx, typeName)
	})
	if err != nil {
		return nil, err
	}
	mapping := v.(map[string]ForeignRelation)
	d.relations.Store(typeName, mapping)
	return mapping, nil
}

// foreignRelation returns the relation behind one backref of a type
func (d *DAL) foreignRelation(ctx context.Context, typeName, backref string) (ForeignRelation, *TypeSpec, error) {
	mapping, err := d.ForeignRelations(ctx, typeName)
	if err != nil {
		return ForeignRelation{}, nil, err
	}
	fr, ok := mapping[backref]
	if !ok {
		return ForeignRelation{}, nil, errors.Wrapf(ErrUnknownField, "%s has no backref %q", typeName, backref)
	}
	spec, err := d.registry.TypeByID(fr.Type.TypeID)
	if err != nil {
		return ForeignRelation{}, nil, err
	}
	return fr, spec, nil
}

func (d *DAL) loadForeignRelations(ctx context.Context, typeName string) (map[string]ForeignRelation, error) {
	key := relationsKey(typeName)
	mapping := d.buildForeignRelations(typeName)

	raw, ok, err := d.volatile.Get(ctx, key)
	if err != nil {
		return nil, fromStore(err, "load relations of %s", typeName)
	}
	if ok {
		var cached map[string]ForeignRelation
		if json.Unmarshal(raw, &cached) == nil && sameRelations(cached, mapping) {
			return mapping, nil
		}
		// written by a process with a different registry
		log.Warningf("cached relations of %s do not match the registry, replacing them", typeName)
		value, _ := json.Marshal(mapping)
		if err := d.volatile.Set(ctx, key, value, d.config.RelationCacheTTL); err != nil {
			return nil, fromStore(err, "cache relations of %s", typeName)
		}
		return mapping, nil
	}

	value, _ := json.Marshal(mapping)
	if _, err := d.volatile.Add(ctx, key, value, d.config.RelationCacheTTL); err != nil {
		return nil, fromStore(err, "cache relations of %s", typeName)
	}
	return mapping, nil
}

// buildForeignRelations scans all registered types for relations targeting typeName
func (d *DAL) buildForeignRelations(typeName string) map[string]ForeignRelation {
	mapping := map[string]ForeignRelation{}
	for _, spec := range d.registry.Types() {
		for _, rel := range spec.Relations {
			if rel.Target != typeName {
				continue
			}
			mapping[rel.Backref] = ForeignRelation{
				Type:     DescriptorOf(spec),
				Relation: rel.Name,
				IsList:   !rel.OneToOne,
			}
		}
	}
	return mapping
}

func sameRelations(a, b map[string]ForeignRelation) bool {
	if len(a) != len(b) {
		return false
	}
	for name, fr := range a {
		if other, ok := b[name]; !ok || other != fr {
			return false
		}
	}
	return true
}
