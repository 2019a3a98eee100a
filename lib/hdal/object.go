package hdal

import (
	"bytes"
	"context"
	"encoding/json"
	"maps"
	"sync/atomic"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// ConflictPolicy decides how a save resolves a field that was changed by the caller
// and concurrently by another writer
type ConflictPolicy uint8

const (
	// CallerWins keeps the value of the caller (default)
	CallerWins ConflictPolicy = iota
	// DatastoreWins keeps the value of the store
	DatastoreWins
	// Strict fails the save with a ConcurrencyError
	Strict
)

func (p ConflictPolicy) String() string {
	switch p {
	case CallerWins:
		return "caller-wins"
	case DatastoreWins:
		return "datastore-wins"
	case Strict:
		return "strict"
	default:
		return "unknown"
	}
}

// ObjectOption configures a DataObject
type ObjectOption func(*DataObject)

// WithConflictPolicy sets the conflict policy used by Save
func WithConflictPolicy(policy ConflictPolicy) ObjectOption {
	return func(o *DataObject) {
		o.policy = policy
	}
}

// objectState is the decoded form of the persisted bytes of an object
type objectState struct {
	props map[string]any
	// guid of the owner per relation, "" if unset
	rels map[string]string
	// canonical json encoding per persisted field, the unit of the three way merge
	fields map[string]string
	// fields in the store that are unknown to the registry, kept as they are
	extra   map[string]json.RawMessage
	version int64
}

func (s *objectState) clone() *objectState {
	c := &objectState{
		props:   make(map[string]any, len(s.props)),
		rels:    maps.Clone(s.rels),
		fields:  maps.Clone(s.fields),
		extra:   maps.Clone(s.extra),
		version: s.version,
	}
	for k, v := range s.props {
		// values are immutable after normalization except lists and mappings
		c.props[k] = deepCopy(v)
	}
	return c
}

// deepCopy copies lists and mappings of a normalized value
func deepCopy(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = deepCopy(t[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k := range t {
			out[k] = deepCopy(t[k])
		}
		return out
	default:
		return v
	}
}

// newState returns the state of a new object: all defaults, no relations
func (d *DAL) newState(spec *TypeSpec) *objectState {
	s := &objectState{
		props:  map[string]any{},
		rels:   map[string]string{},
		fields: map[string]string{},
		extra:  map[string]json.RawMessage{},
	}
	for _, p := range spec.Properties {
		s.props[p.Name] = deepCopy(p.Default)
		s.fields[p.Name], _ = encodeValue(p.Default)
	}
	for _, r := range spec.Relations {
		s.rels[r.Name] = ""
		s.fields[r.Name] = "null"
	}
	return s
}

// decodeState decodes the persisted bytes of an object. Missing properties take their default.
func (d *DAL) decodeState(spec *TypeSpec, raw []byte) (*objectState, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "%s: corrupt object: %v", spec.Name, err)
	}

	s := d.newState(spec)
	for name, value := range doc {
		if name == "_version" {
			if err := json.Unmarshal(value, &s.version); err != nil {
				return nil, errors.Wrapf(ErrInvalidValue, "%s: corrupt version: %v", spec.Name, err)
			}
			continue
		}
		if p, ok := spec.property(name); ok {
			generic, err := decodeGeneric(value)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", spec.Name, name)
			}
			v, err := normalize(p.Kind, p.Enum, generic)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", spec.Name, name)
			}
			s.props[name] = v
			s.fields[name], _ = encodeValue(v)
			continue
		}
		if r, ok := spec.relation(name); ok {
			guid, err := d.decodeRelation(spec, r, value)
			if err != nil {
				return nil, err
			}
			target, _ := d.registry.Type(r.Target)
			s.rels[name] = guid
			s.fields[name] = encodeRelation(target, guid)
			continue
		}
		s.extra[name] = value
	}
	return s, nil
}

// encodeState returns the persisted bytes of a state
func encodeState(s *objectState) ([]byte, error) {
	doc := make(map[string]json.RawMessage, len(s.fields)+len(s.extra)+1)
	for name, value := range s.extra {
		doc[name] = value
	}
	for name, value := range s.fields {
		doc[name] = json.RawMessage(value)
	}
	doc["_version"], _ = json.Marshal(s.version)

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(doc); err != nil {
		return nil, errors.Wrapf(ErrInvalidValue, "%v", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// --------------------------------------------------------------------------
// DataObject
// --------------------------------------------------------------------------

// DataObject is an in-memory copy of one persisted object. Changes only reach the
// store on Save. A DataObject must not be used by multiple goroutines at once.
type DataObject struct {
	dal    *DAL
	spec   *TypeSpec
	guid   string
	policy ConflictPolicy

	state *objectState
	// field encodings as last seen in the store, nil for new objects
	original map[string]string
	// owners set or loaded in memory, saved first by a recursive save
	related map[string]*DataObject

	persisted bool
	fromCache bool
	// > 0 while a dynamic property is evaluated on the object
	readOnly atomic.Int32
}

// New creates an unsaved object of the given type with a fresh guid
func (d *DAL) New(typeName string, opts ...ObjectOption) (*DataObject, error) {
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return nil, err
	}
	o := &DataObject{
		dal:     d,
		spec:    spec,
		guid:    uuid.NewString(),
		state:   d.newState(spec),
		related: map[string]*DataObject{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Load loads an object. The volatile copy is used if present, otherwise the object is
// read from the persistent store and copied to the volatile store.
func (d *DAL) Load(ctx context.Context, typeName, guid string, opts ...ObjectOption) (*DataObject, error) {
	spec, err := d.registry.Type(typeName)
	if err != nil {
		return nil, err
	}
	if _, err := uuid.Parse(guid); err != nil {
		return nil, errors.Wrapf(ErrNotFound, "%s %q: invalid guid", typeName, guid)
	}

	raw, fromCache, err := d.loadBytes(ctx, spec, guid)
	if err != nil {
		return nil, err
	}
	o, err := d.objectFromBytes(spec, guid, raw)
	if err != nil {
		return nil, err
	}
	o.fromCache = fromCache
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// objectFromBytes builds a persisted object from its stored bytes
func (d *DAL) objectFromBytes(spec *TypeSpec, guid string, raw []byte) (*DataObject, error) {
	state, err := d.decodeState(spec, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", spec.Name, guid)
	}
	return &DataObject{
		dal:       d,
		spec:      spec,
		guid:      guid,
		state:     state,
		original:  maps.Clone(state.fields),
		related:   map[string]*DataObject{},
		persisted: true,
	}, nil
}

// loadBytes reads an object from the volatile store, falling back to the persistent store
func (d *DAL) loadBytes(ctx context.Context, spec *TypeSpec, guid string) ([]byte, bool, error) {
	key := objectKey(spec.Name, guid)
	if d.config.ObjectCacheTTL > 0 {
		raw, ok, err := d.volatile.Get(ctx, key)
		if err != nil {
			return nil, false, fromStore(err, "load %s %s", spec.Name, guid)
		}
		if ok {
			return raw, true, nil
		}
	}

	raw, err := d.persistent.Get(ctx, key)
	if err != nil {
		return nil, false, fromStore(err, "load %s %s", spec.Name, guid)
	}
	if d.config.ObjectCacheTTL > 0 {
		if err := d.cacheObject(ctx, key, raw); err != nil {
			return nil, false, fromStore(err, "cache %s %s", spec.Name, guid)
		}
	}
	return raw, false, nil
}

// cacheObject stores a copy of persisted bytes in the volatile store and verifies
// it afterwards. A writer drops the copy only after its transaction applied, so a
// save or delete that raced the read shows up in the second read and the copy is
// dropped again.
func (d *DAL) cacheObject(ctx context.Context, key string, raw []byte) error {
	if err := d.volatile.Set(ctx, key, raw, d.config.ObjectCacheTTL); err != nil {
		return err
	}
	current, err := d.persistent.Get(ctx, key)
	switch {
	case isNotFound(err):
	case err != nil:
		return err
	case bytes.Equal(current, raw):
		return nil
	}
	log.Debugf("dropping object copy of %s, it changed while loading", key)
	return d.volatile.Delete(ctx, key)
}

// Guid returns the guid of the object
func (o *DataObject) Guid() string {
	return o.guid
}

// Type returns the type name of the object
func (o *DataObject) Type() string {
	return o.spec.Name
}

// Version returns the version of the object as of the last load or save (0 if never saved)
func (o *DataObject) Version() int64 {
	return o.state.version
}

// Persisted reports whether the object exists in the store (as far as this copy knows)
func (o *DataObject) Persisted() bool {
	return o.persisted
}

// FromCache reports whether the object was loaded from the volatile store
func (o *DataObject) FromCache() bool {
	return o.fromCache
}

// Dirty reports whether the object has changes that are not saved
func (o *DataObject) Dirty() bool {
	return !o.persisted || len(o.changedFields()) > 0
}

// changedFields returns the fields that differ from the last loaded or saved state
func (o *DataObject) changedFields() []string {
	var changed []string
	for _, name := range o.spec.fields() {
		if orig, ok := o.original[name]; !ok || orig != o.state.fields[name] {
			changed = append(changed, name)
		}
	}
	return changed
}

// Get returns the value of a property. "guid" returns the guid, a relation returns the
// guid of its owner (nil if unset).
func (o *DataObject) Get(name string) (any, error) {
	if name == "guid" {
		return o.guid, nil
	}
	if _, ok := o.spec.property(name); ok {
		return deepCopy(o.state.props[name]), nil
	}
	if _, ok := o.spec.relation(name); ok {
		if guid := o.state.rels[name]; guid != "" {
			return guid, nil
		}
		return nil, nil
	}
	return nil, errors.Wrapf(ErrUnknownField, "%s has no property %q", o.spec.Name, name)
}

// Values returns a copy of all properties
func (o *DataObject) Values() map[string]any {
	values := make(map[string]any, len(o.state.props))
	for name, v := range o.state.props {
		values[name] = deepCopy(v)
	}
	return values
}

// Set changes a property in memory
func (o *DataObject) Set(name string, value any) error {
	if o.readOnly.Load() > 0 {
		return errors.Wrapf(ErrReadOnly, "set %s.%s", o.spec.Name, name)
	}
	p, ok := o.spec.property(name)
	if !ok {
		if _, isRel := o.spec.relation(name); isRel {
			return errors.Wrapf(ErrUnknownField, "%s.%s is a relation, use SetRelation", o.spec.Name, name)
		}
		return errors.Wrapf(ErrUnknownField, "%s has no property %q", o.spec.Name, name)
	}
	v, err := normalize(p.Kind, p.Enum, value)
	if err != nil {
		return errors.Wrapf(err, "%s.%s", o.spec.Name, name)
	}
	encoded, err := encodeValue(v)
	if err != nil {
		return errors.Wrapf(err, "%s.%s", o.spec.Name, name)
	}
	o.state.props[name] = v
	o.state.fields[name] = encoded
	return nil
}

// SetRelation points a relation to owner (nil clears it). The owner is remembered and
// saved first by a recursive save.
func (o *DataObject) SetRelation(name string, owner *DataObject) error {
	if owner == nil {
		return o.SetRelationGuid(name, "")
	}
	rel, target, err := o.relationTarget(name)
	if err != nil {
		return err
	}
	if owner.spec != target {
		return errors.Wrapf(ErrInvalidRelation, "%s.%s expects %s, got %s", o.spec.Name, name, rel.Target, owner.spec.Name)
	}
	o.state.rels[name] = owner.guid
	o.state.fields[name] = encodeRelation(target, owner.guid)
	o.related[name] = owner
	return nil
}

// SetRelationGuid points a relation to the owner with the given guid ("" clears it)
// without loading the owner
func (o *DataObject) SetRelationGuid(name, guid string) error {
	_, target, err := o.relationTarget(name)
	if err != nil {
		return err
	}
	if guid != "" {
		if _, err := uuid.Parse(guid); err != nil {
			return errors.Wrapf(ErrInvalidRelation, "%s.%s: invalid guid %q", o.spec.Name, name, guid)
		}
	}
	o.state.rels[name] = guid
	o.state.fields[name] = encodeRelation(target, guid)
	delete(o.related, name)
	return nil
}

func (o *DataObject) relationTarget(name string) (*Relation, *TypeSpec, error) {
	if o.readOnly.Load() > 0 {
		return nil, nil, errors.Wrapf(ErrReadOnly, "set %s.%s", o.spec.Name, name)
	}
	rel, ok := o.spec.relation(name)
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownField, "%s has no relation %q", o.spec.Name, name)
	}
	target, err := o.dal.registry.Type(rel.Target)
	if err != nil {
		return nil, nil, err
	}
	return rel, target, nil
}

// RelationGuid returns the guid of the owner of a relation ("" if unset)
func (o *DataObject) RelationGuid(name string) (string, error) {
	if _, ok := o.spec.relation(name); !ok {
		return "", errors.Wrapf(ErrUnknownField, "%s has no relation %q", o.spec.Name, name)
	}
	return o.state.rels[name], nil
}

// Relation returns the owner of a relation, loading it on first access (nil if unset)
func (o *DataObject) Relation(ctx context.Context, name string) (*DataObject, error) {
	guid, err := o.RelationGuid(name)
	if err != nil || guid == "" {
		return nil, err
	}
	if owner, ok := o.related[name]; ok && owner.guid == guid {
		return owner, nil
	}
	rel, _ := o.spec.relation(name)
	owner, err := o.dal.Load(ctx, rel.Target, guid)
	if err != nil {
		return nil, err
	}
	o.related[name] = owner
	return owner, nil
}

// Backref returns the dependents pointing to this object via a backref
func (o *DataObject) Backref(ctx context.Context, name string) (*DataList, error) {
	if !o.persisted {
		return nil, errors.Wrapf(ErrVolatile, "%s %s", o.spec.Name, o.guid)
	}
	return o.dal.RelationSet(ctx, o.spec.Name, name, o.guid)
}

// BackrefOne returns the single dependent of a one-to-one backref (nil if there is none)
func (o *DataObject) BackrefOne(ctx context.Context, name string) (*DataObject, error) {
	fr, _, err := o.dal.foreignRelation(ctx, o.spec.Name, name)
	if err != nil {
		return nil, err
	}
	if fr.IsList {
		return nil, errors.Wrapf(ErrInvalidRelation, "%s.%s is a set", o.spec.Name, name)
	}
	list, err := o.Backref(ctx, name)
	if err != nil {
		return nil, err
	}
	if list.Len() == 0 {
		return nil, nil
	}
	return list.Get(ctx, 0)
}

// Discard drops all unsaved changes. A persisted object is reloaded from the persistent store.
func (o *DataObject) Discard(ctx context.Context) error {
	if o.readOnly.Load() > 0 {
		return errors.Wrapf(ErrReadOnly, "discard %s %s", o.spec.Name, o.guid)
	}
	o.related = map[string]*DataObject{}
	if !o.persisted {
		o.state = o.dal.newState(o.spec)
		return nil
	}

	raw, err := o.dal.persistent.Get(ctx, objectKey(o.spec.Name, o.guid))
	if err != nil {
		return fromStore(err, "reload %s %s", o.spec.Name, o.guid)
	}
	state, err := o.dal.decodeState(o.spec, raw)
	if err != nil {
		return err
	}
	o.state = state
	o.original = maps.Clone(state.fields)
	o.fromCache = false
	return nil
}

// String returns a short description of the object
func (o *DataObject) String() string {
	return o.spec.Name + " " + o.guid
}
