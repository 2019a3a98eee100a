package schema

import (
	"bytes"
	"io"
	"os"

	"github.com/ValentinKolb/dORM/lib/hdal"
	"github.com/cockroachdb/errors"
	"github.com/lni/dragonboat/v4/logger"
	"gopkg.in/yaml.v3"
)

var log = logger.GetLogger("schema")

// --------------------------------------------------------------------------
// File format
// --------------------------------------------------------------------------

// File is the root of a schema document
type File struct {
	Types []Type `yaml:"types"`
}

// Type describes one object type
type Type struct {
	Name       string     `yaml:"name"`
	Source     string     `yaml:"source,omitempty"`
	Properties []Property `yaml:"properties,omitempty"`
	Relations  []Relation `yaml:"relations,omitempty"`
}

// Property describes a property of a type. Values is required for kind enum.
type Property struct {
	Name    string   `yaml:"name"`
	Kind    string   `yaml:"kind"`
	Default any      `yaml:"default,omitempty"`
	Values  []string `yaml:"values,omitempty"`
}

// Relation describes a relation to another type of the same document or registry
type Relation struct {
	Name      string `yaml:"name"`
	Target    string `yaml:"target"`
	Backref   string `yaml:"backref"`
	OneToOne  bool   `yaml:"one_to_one,omitempty"`
	Mandatory bool   `yaml:"mandatory,omitempty"`
}

// --------------------------------------------------------------------------
// Loading
// --------------------------------------------------------------------------

// Parse decodes a schema document and converts it to type specifications.
// Unknown keys are rejected.
func Parse(data []byte) ([]*hdal.TypeSpec, error) {
	return Load(bytes.NewReader(data))
}

// Load reads a schema document from r
func Load(r io.Reader) ([]*hdal.TypeSpec, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("empty schema document")
		}
		return nil, errors.Wrap(err, "decode schema")
	}
	return file.Specs()
}

// LoadFile reads a schema document from a file
func LoadFile(path string) ([]*hdal.TypeSpec, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open schema %s", path)
	}
	defer f.Close()

	specs, err := Load(f)
	if err != nil {
		return nil, errors.Wrapf(err, "schema %s", path)
	}
	log.Infof("loaded %d types from %s", len(specs), path)
	return specs, nil
}

// Specs converts the document to type specifications
func (f *File) Specs() ([]*hdal.TypeSpec, error) {
	if len(f.Types) == 0 {
		return nil, errors.New("schema defines no types")
	}

	specs := make([]*hdal.TypeSpec, 0, len(f.Types))
	for _, t := range f.Types {
		spec := hdal.NewType(t.Name).WithSource(t.Source)
		for _, p := range t.Properties {
			kind, err := hdal.ParseKind(p.Kind)
			if err != nil {
				return nil, errors.Wrapf(err, "%s.%s", t.Name, p.Name)
			}
			if kind == hdal.KindEnum {
				spec.WithEnum(p.Name, p.Values, p.Default)
				continue
			}
			if len(p.Values) > 0 {
				return nil, errors.Wrapf(hdal.ErrInvalidValue, "%s.%s: values are only allowed for enums", t.Name, p.Name)
			}
			spec.WithProperty(p.Name, kind, p.Default)
		}
		for _, r := range t.Relations {
			spec.WithRelation(hdal.Relation{
				Name:      r.Name,
				Target:    r.Target,
				Backref:   r.Backref,
				OneToOne:  r.OneToOne,
				Mandatory: r.Mandatory,
			})
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// NewRegistry registers the types of the given schema files in a new registry.
// Hooks run on every type before registration, they are used to attach dynamics
// which cannot be expressed in a schema document.
func NewRegistry(paths []string, hooks ...func(*hdal.TypeSpec)) (*hdal.Registry, error) {
	registry := hdal.NewRegistry()
	for _, path := range paths {
		specs, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		for _, spec := range specs {
			for _, hook := range hooks {
				hook(spec)
			}
		}
		if err := registry.Register(specs...); err != nil {
			return nil, errors.Wrapf(err, "schema %s", path)
		}
	}
	return registry, nil
}
