package hdal

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/ValentinKolb/dORM/lib/store"
	"github.com/cockroachdb/errors"
)

// Descriptor is a self describing reference to a registered type. It is the only
// form in which a type is referenced inside persisted bytes.
type Descriptor struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	TypeID string `json:"type_id"`
}

// DescriptorOf returns the descriptor of a type. The type id only depends on the
// name and the source, so independent registries agree on it.
func DescriptorOf(spec *TypeSpec) Descriptor {
	source := spec.Source
	if source == "" {
		source = "dorm"
	}
	sum := sha256.Sum256([]byte(source + ":" + spec.Name))
	return Descriptor{
		Name:   spec.Name,
		Source: source,
		TypeID: hex.EncodeToString(sum[:16]),
	}
}

// relationRef is the persisted value of a relation: {"type_id": ..., "guid": ...}
type relationRef struct {
	TypeID string `json:"type_id"`
	Guid   string `json:"guid"`
}

// encodeRelation returns the canonical encoding of a relation to the given owner ("null" without owner)
func encodeRelation(target *TypeSpec, guid string) string {
	if guid == "" {
		return "null"
	}
	raw, _ := json.Marshal(relationRef{TypeID: target.typeID, Guid: guid})
	return string(raw)
}

// decodeRelation resolves a persisted relation value of relation rel
func (d *DAL) decodeRelation(spec *TypeSpec, rel *Relation, raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	var ref relationRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return "", errors.Wrapf(ErrInvalidRelation, "%s.%s: %v", spec.Name, rel.Name, err)
	}
	target, err := d.registry.TypeByID(ref.TypeID)
	if err != nil {
		return "", errors.Wrapf(err, "%s.%s", spec.Name, rel.Name)
	}
	if target.Name != rel.Target {
		return "", errors.Wrapf(ErrInvalidRelation, "%s.%s points to %s instead of %s", spec.Name, rel.Name, target.Name, rel.Target)
	}
	return ref.Guid, nil
}

// Descriptor returns the descriptor of a registered type. Descriptors are memoized in
// process and in the volatile store (ovs_descriptor_<type>).
func (d *DAL) Descriptor(ctx context.Context, typeName string) (Descriptor, error) {
	if desc, ok := d.descriptors.Load(typeName); ok {
		return desc, nil
	}
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return Descriptor{}, err
	}
	desc := DescriptorOf(spec)

	key := descriptorKey(typeName)
	raw, ok, err := d.volatile.Get(ctx, key)
	if err != nil {
		return Descriptor{}, fromStore(err, "load descriptor of %s", typeName)
	}
	if ok {
		var cached Descriptor
		if json.Unmarshal(raw, &cached) == nil && cached == desc {
			d.descriptors.Store(typeName, desc)
			return desc, nil
		}
		log.Warningf("cached descriptor of %s does not match the registry, replacing it", typeName)
		if err := d.volatile.Delete(ctx, key); err != nil {
			return Descriptor{}, fromStore(err, "replace descriptor of %s", typeName)
		}
	}

	value, _ := json.Marshal(desc)
	if _, err := d.volatile.Add(ctx, key, value, d.config.RelationCacheTTL); err != nil {
		return Descriptor{}, fromStore(err, "cache descriptor of %s", typeName)
	}
	d.descriptors.Store(typeName, desc)
	return desc, nil
}

// PublishDescriptors writes the descriptor of every registered type to the persistent store.
// Existing descriptors are kept, a descriptor with a different type id is reported as error.
func (d *DAL) PublishDescriptors(ctx context.Context) error {
	for _, spec := range d.registry.Types() {
		desc, err := d.Descriptor(ctx, spec.Name)
		if err != nil {
			return err
		}
		value, _ := json.Marshal(desc)
		key := descriptorKey(spec.Name)

		err = d.persistent.Apply(ctx, d.persistent.Begin().AssertAbsent(key).Set(key, value))
		if err == nil {
			log.Infof("published descriptor of %s (%s)", spec.Name, desc.TypeID)
			continue
		}
		if !isStoreCode(err, store.RetCRaceCondition) {
			return fromStore(err, "publish descriptor of %s", spec.Name)
		}

		// already published, it must describe the same type
		existing, err := d.persistent.Get(ctx, key)
		if err != nil {
			return fromStore(err, "load descriptor of %s", spec.Name)
		}
		var published Descriptor
		if err := json.Unmarshal(existing, &published); err != nil {
			return errors.Wrapf(ErrUnknownType, "descriptor of %s: %v", spec.Name, err)
		}
		if published.TypeID != desc.TypeID {
			return errors.Wrapf(ErrUnknownType, "descriptor of %s has type id %s, the registry has %s", spec.Name, published.TypeID, desc.TypeID)
		}
	}
	return nil
}

// LoadDescriptor reads a published descriptor from the persistent store
func (d *DAL) LoadDescriptor(ctx context.Context, typeName string) (Descriptor, error) {
	var desc Descriptor
	raw, err := d.persistent.Get(ctx, descriptorKey(typeName))
	if err != nil {
		return desc, fromStore(err, "load descriptor of %s", typeName)
	}
	if err := json.Unmarshal(raw, &desc); err != nil {
		return desc, errors.Wrapf(ErrUnknownType, "descriptor of %s: %v", typeName, err)
	}
	return desc, nil
}
