package hdal

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
)

// EdgeProblem describes an inconsistency between the relations of objects and the reverse index
type EdgeProblem struct {
	// Key is the reverse index key that is missing or stale
	Key           string `json:"key"`
	OwnerType     string `json:"owner_type"`
	OwnerGuid     string `json:"owner_guid"`
	Backref       string `json:"backref"`
	DependentType string `json:"dependent_type"`
	DependentGuid string `json:"dependent_guid"`
	Reason        string `json:"reason"`
}

// Reasons reported by CheckRelations
const (
	ReasonMissingEdge    = "missing reverse edge"
	ReasonStaleEdge      = "relation points elsewhere"
	ReasonUnknownBackref = "unknown backref"
	ReasonOwnerMissing   = "owner missing"
	ReasonDependentGone  = "dependent missing"
)

// CheckRelations verifies the reverse index of a type in both directions: every relation
// of its objects must have an edge at the owner, and every edge pointing to an object of
// the type must be backed by the relation of an existing dependent.
// The check reads a live store, writes during the check may show up as problems.
func (d *DAL) CheckRelations(ctx context.Context, typeName string) ([]EdgeProblem, error) {
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return nil, err
	}
	problems := []EdgeProblem{}

	// outgoing: relations of the objects of the type
	prefix := objectPrefix(spec.Name)
	it := d.persistent.PrefixEntries(ctx, prefix)
	for it.Next() {
		guid := strings.TrimPrefix(it.Key(), prefix)
		state, err := d.decodeState(spec, it.Value())
		if err != nil {
			it.Close()
			return nil, errors.Wrapf(err, "%s %s", spec.Name, guid)
		}
		for _, rel := range spec.Relations {
			owner := state.rels[rel.Name]
			if owner == "" {
				continue
			}
			key := reverseKey(rel.Target, owner, rel.Backref, guid)
			exists, err := d.exists(ctx, key)
			if err != nil {
				it.Close()
				return nil, err
			}
			if !exists {
				problems = append(problems, EdgeProblem{
					Key: key, OwnerType: rel.Target, OwnerGuid: owner, Backref: rel.Backref,
					DependentType: spec.Name, DependentGuid: guid, Reason: ReasonMissingEdge,
				})
			}
		}
	}
	err = it.Err()
	it.Close()
	if err != nil {
		return nil, fromStore(err, "scan %s", spec.Name)
	}

	// incoming: reverse index edges at the objects of the type
	mapping, err := d.ForeignRelations(ctx, spec.Name)
	if err != nil {
		return nil, err
	}
	it = d.persistent.Prefix(ctx, reversePrefix+spec.Name+"_")
	defer it.Close()
	for it.Next() {
		owner, backref, dep, ok := parseReverseKey(spec.Name, it.Key())
		if !ok {
			continue
		}
		problem := EdgeProblem{Key: it.Key(), OwnerType: spec.Name, OwnerGuid: owner, Backref: backref, DependentGuid: dep}

		fr, known := mapping[backref]
		if !known {
			problem.Reason = ReasonUnknownBackref
			problems = append(problems, problem)
			continue
		}
		problem.DependentType = fr.Type.Name

		exists, err := d.exists(ctx, objectKey(spec.Name, owner))
		if err != nil {
			return nil, err
		}
		if !exists {
			problem.Reason = ReasonOwnerMissing
			problems = append(problems, problem)
			continue
		}

		raw, err := d.persistent.Get(ctx, objectKey(fr.Type.Name, dep))
		if isNotFound(err) {
			problem.Reason = ReasonDependentGone
			problems = append(problems, problem)
			continue
		}
		if err != nil {
			return nil, fromStore(err, "load %s %s", fr.Type.Name, dep)
		}
		depSpec, err := d.registry.TypeByID(fr.Type.TypeID)
		if err != nil {
			return nil, err
		}
		state, err := d.decodeState(depSpec, raw)
		if err != nil {
			return nil, errors.Wrapf(err, "%s %s", depSpec.Name, dep)
		}
		if state.rels[fr.Relation] != owner {
			problem.Reason = ReasonStaleEdge
			problems = append(problems, problem)
		}
	}
	if err := it.Err(); err != nil {
		return nil, fromStore(err, "scan reverse index of %s", spec.Name)
	}
	return problems, nil
}

// RepairRelations fixes the problems found by CheckRelations: missing edges are written,
// all other edges are deleted
func (d *DAL) RepairRelations(ctx context.Context, problems []EdgeProblem) error {
	if len(problems) == 0 {
		return nil
	}
	txn := d.persistent.Begin()
	for _, p := range problems {
		if p.Reason == ReasonMissingEdge {
			txn.Set(p.Key, []byte{})
		} else {
			txn.Delete(p.Key)
		}
	}
	if err := d.persistent.Apply(ctx, txn); err != nil {
		return fromStore(err, "repair reverse index")
	}
	log.Infof("repaired %d reverse index edges", len(problems))
	return nil
}

// exists reports whether a key is present in the persistent store
func (d *DAL) exists(ctx context.Context, key string) (bool, error) {
	_, err := d.persistent.Get(ctx, key)
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fromStore(err, "load %s", key)
	}
	return true, nil
}
