package hdal

import (
	"context"
	"regexp"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// --------------------------------------------------------------------------
// Kinds
// --------------------------------------------------------------------------

// Kind is the base kind of a property or the return kind of a dynamic
type Kind uint8

const (
	KindInteger Kind = iota + 1
	KindFloat
	KindString
	KindBoolean
	KindList
	KindMapping
	KindEnum
)

var kindNames = map[Kind]string{
	KindInteger: "integer",
	KindFloat:   "float",
	KindString:  "string",
	KindBoolean: "boolean",
	KindList:    "list",
	KindMapping: "mapping",
	KindEnum:    "enum",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// ParseKind converts the name of a kind (integer, float, string, boolean, list, mapping, enum)
func ParseKind(name string) (Kind, error) {
	for kind, n := range kindNames {
		if n == name {
			return kind, nil
		}
	}
	return 0, errors.Wrapf(ErrInvalidValue, "unknown kind %q", name)
}

// --------------------------------------------------------------------------
// Type specification
// --------------------------------------------------------------------------

// Property is a named scalar field of a type
type Property struct {
	Name    string
	Kind    Kind
	Default any
	// Enum lists the allowed values of a KindEnum property
	Enum []string
}

// Relation links a type (the dependent) to another registered type (the owner).
// The owner exposes the dependents under the Backref name.
type Relation struct {
	Name    string
	Target  string
	Backref string
	// OneToOne makes the backref a single object instead of a set
	OneToOne bool
	// Mandatory relations must be set when the object is saved
	Mandatory bool
}

// DynamicFunc computes a dynamic property. The object must not be modified.
type DynamicFunc func(ctx context.Context, o *DataObject) (any, error)

// Dynamic is a computed attribute whose value is cached in the volatile store for TTL
type Dynamic struct {
	Name string
	Kind Kind
	// TTL of the cached value, values <= 0 are computed on every access
	TTL  time.Duration
	Func DynamicFunc
}

// TypeSpec describes a registered object type
//
// Usage:
//
//	disk := hdal.NewType("disk").
//		WithProperty("name", hdal.KindString, nil).
//		WithProperty("size", hdal.KindInteger, 0).
//		WithRelation(hdal.Relation{Name: "machine", Target: "machine", Backref: "disks"})
type TypeSpec struct {
	Name string
	// Source identifies where the type is defined, it is part of the type id
	Source     string
	Properties []Property
	Relations  []Relation
	Dynamics   []Dynamic

	properties map[string]*Property
	relations  map[string]*Relation
	dynamics   map[string]*Dynamic
	typeID     string
}

// NewType creates an empty type specification
func NewType(name string) *TypeSpec {
	return &TypeSpec{Name: name}
}

// WithSource sets the source of the type
func (t *TypeSpec) WithSource(source string) *TypeSpec {
	t.Source = source
	return t
}

// WithProperty adds a property
func (t *TypeSpec) WithProperty(name string, kind Kind, def any) *TypeSpec {
	t.Properties = append(t.Properties, Property{Name: name, Kind: kind, Default: def})
	return t
}

// WithEnum adds an enumeration property
func (t *TypeSpec) WithEnum(name string, values []string, def any) *TypeSpec {
	t.Properties = append(t.Properties, Property{Name: name, Kind: KindEnum, Default: def, Enum: values})
	return t
}

// WithRelation adds a relation
func (t *TypeSpec) WithRelation(r Relation) *TypeSpec {
	t.Relations = append(t.Relations, r)
	return t
}

// WithDynamic adds a dynamic property
func (t *TypeSpec) WithDynamic(name string, kind Kind, ttl time.Duration, fn DynamicFunc) *TypeSpec {
	t.Dynamics = append(t.Dynamics, Dynamic{Name: name, Kind: kind, TTL: ttl, Func: fn})
	return t
}

// TypeID returns the stable identifier of the type (valid after registration)
func (t *TypeSpec) TypeID() string {
	return t.typeID
}

func (t *TypeSpec) property(name string) (*Property, bool) {
	p, ok := t.properties[name]
	return p, ok
}

func (t *TypeSpec) relation(name string) (*Relation, bool) {
	r, ok := t.relations[name]
	return r, ok
}

func (t *TypeSpec) dynamic(name string) (*Dynamic, bool) {
	d, ok := t.dynamics[name]
	return d, ok
}

// fields returns the names of all persisted fields (properties, then relations)
func (t *TypeSpec) fields() []string {
	names := make([]string, 0, len(t.Properties)+len(t.Relations))
	for _, p := range t.Properties {
		names = append(names, p.Name)
	}
	for _, r := range t.Relations {
		names = append(names, r.Name)
	}
	return names
}

var (
	typeNamePattern  = regexp.MustCompile(`^[a-z][a-z0-9]*$`)
	fieldNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)
	reservedFields   = map[string]bool{"guid": true, "_version": true, allField: true}
)

// index validates the fields of the type and builds the lookup maps
func (t *TypeSpec) index() error {
	if !typeNamePattern.MatchString(t.Name) {
		// underscores would make the object key prefixes of two types overlap
		return errors.Wrapf(ErrUnknownType, "invalid type name %q (lower case letters and digits only)", t.Name)
	}
	if t.Source == "" {
		t.Source = "dorm"
	}

	t.properties = map[string]*Property{}
	t.relations = map[string]*Relation{}
	t.dynamics = map[string]*Dynamic{}
	seen := map[string]bool{}

	checkName := func(name string) error {
		if !fieldNamePattern.MatchString(name) || reservedFields[name] {
			return errors.Wrapf(ErrUnknownField, "%s: invalid field name %q", t.Name, name)
		}
		if seen[name] {
			return errors.Wrapf(ErrUnknownField, "%s: duplicate field %q", t.Name, name)
		}
		seen[name] = true
		return nil
	}

	for i := range t.Properties {
		p := &t.Properties[i]
		if err := checkName(p.Name); err != nil {
			return err
		}
		if _, ok := kindNames[p.Kind]; !ok {
			return errors.Wrapf(ErrInvalidValue, "%s.%s: invalid kind %d", t.Name, p.Name, p.Kind)
		}
		if p.Kind == KindEnum && len(p.Enum) == 0 {
			return errors.Wrapf(ErrInvalidValue, "%s.%s: enum without values", t.Name, p.Name)
		}
		def, err := normalize(p.Kind, p.Enum, p.Default)
		if err != nil {
			return errors.Wrapf(err, "%s.%s: default", t.Name, p.Name)
		}
		p.Default = def
		t.properties[p.Name] = p
	}
	for i := range t.Relations {
		r := &t.Relations[i]
		if err := checkName(r.Name); err != nil {
			return err
		}
		if !fieldNamePattern.MatchString(r.Backref) || reservedFields[r.Backref] {
			return errors.Wrapf(ErrInvalidRelation, "%s.%s: invalid backref %q", t.Name, r.Name, r.Backref)
		}
		t.relations[r.Name] = r
	}
	for i := range t.Dynamics {
		d := &t.Dynamics[i]
		if err := checkName(d.Name); err != nil {
			return err
		}
		if d.Func == nil {
			return errors.Wrapf(ErrInvalidValue, "%s.%s: dynamic without function", t.Name, d.Name)
		}
		t.dynamics[d.Name] = d
	}
	// <relation>_guid is a shortcut in field paths
	for name := range t.relations {
		if seen[name+"_guid"] {
			return errors.Wrapf(ErrUnknownField, "%s: field %s_guid shadows the guid of relation %s", t.Name, name, name)
		}
	}

	t.typeID = DescriptorOf(t).TypeID
	return nil
}

// --------------------------------------------------------------------------
// Registry
// --------------------------------------------------------------------------

// Registry holds all known types. It is filled at startup and must not change
// after it was passed to New.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]*TypeSpec
	byID   map[string]*TypeSpec
	order  []string
	sealed bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		types: map[string]*TypeSpec{},
		byID:  map[string]*TypeSpec{},
	}
}

// Register adds types to the registry. Relation targets may be registered later,
// they are checked when the registry is used by a DAL.
func (r *Registry) Register(specs ...*TypeSpec) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return errors.New("registry is in use and cannot be changed")
	}

	for _, spec := range specs {
		if err := spec.index(); err != nil {
			return err
		}
		if _, ok := r.types[spec.Name]; ok {
			return errors.Newf("type %q is already registered", spec.Name)
		}
		r.types[spec.Name] = spec
		r.byID[spec.typeID] = spec
		r.order = append(r.order, spec.Name)
	}
	return nil
}

// Type returns the specification of a registered type
func (r *Registry) Type(name string) (*TypeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.types[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "%q", name)
	}
	return spec, nil
}

// TypeByID returns the type with the given type id
func (r *Registry) TypeByID(typeID string) (*TypeSpec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	spec, ok := r.byID[typeID]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownType, "type id %q", typeID)
	}
	return spec, nil
}

// Types returns all types in registration order
func (r *Registry) Types() []*TypeSpec {
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]*TypeSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.types[name])
	}
	return specs
}

// seal checks all relations and freezes the registry
func (r *Registry) seal() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return nil
	}

	// backref names share the namespace of the fields of the target
	backrefs := map[string]map[string]string{}
	for _, name := range r.order {
		spec := r.types[name]
		for _, rel := range spec.Relations {
			target, ok := r.types[rel.Target]
			if !ok {
				return errors.Wrapf(ErrInvalidRelation, "%s.%s: unknown target type %q", spec.Name, rel.Name, rel.Target)
			}
			if _, ok := target.property(rel.Backref); ok {
				return errors.Wrapf(ErrInvalidRelation, "%s.%s: backref %q collides with a property of %s", spec.Name, rel.Name, rel.Backref, target.Name)
			}
			if _, ok := target.relation(rel.Backref); ok {
				return errors.Wrapf(ErrInvalidRelation, "%s.%s: backref %q collides with a relation of %s", spec.Name, rel.Name, rel.Backref, target.Name)
			}
			if _, ok := target.dynamic(rel.Backref); ok {
				return errors.Wrapf(ErrInvalidRelation, "%s.%s: backref %q collides with a dynamic of %s", spec.Name, rel.Name, rel.Backref, target.Name)
			}
			if backrefs[target.Name] == nil {
				backrefs[target.Name] = map[string]string{}
			}
			if other, ok := backrefs[target.Name][rel.Backref]; ok {
				return errors.Wrapf(ErrInvalidRelation, "%s.%s: backref %q of %s is already used by %s", spec.Name, rel.Name, rel.Backref, target.Name, other)
			}
			backrefs[target.Name][rel.Backref] = spec.Name + "." + rel.Name
		}
	}

	r.sealed = true
	return nil
}
