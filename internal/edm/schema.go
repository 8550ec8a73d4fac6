// Package edm builds the Entity Data Model from the persistence metamodel.
//
// Schema elements are built on first access and cached for the lifetime of
// the Schema, so repeated lookups of the same qualified name return the same
// instance. Navigation properties are validated lazily; inconsistent ones are
// left out of the published model unless strict navigation is enabled.
package edm

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/nlstn/go-odata-persist/internal/metadata"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// Config controls schema construction.
type Config struct {
	// ContainerName names the default entity container. Defaults to the
	// namespace followed by "Container".
	ContainerName string
	// StrictNavigation fails entity type lookups when any navigation
	// candidate is inconsistent instead of dropping the candidate.
	StrictNavigation bool
	// DistinctEmptyContainerKey caches the empty container name separately
	// from the default container.
	DistinctEmptyContainerKey bool
	// FunctionImports are added to the default container.
	FunctionImports []FunctionImportDefinition
	Logger          *slog.Logger
}

const (
	defaultContainerKey = "\x00default"
	emptyContainerKey   = "\x00empty"
)

// Schema is the memoizing EDM builder.
type Schema struct {
	provider  metadata.Provider
	namespace string
	cfg       Config
	logger    atomic.Pointer[slog.Logger]

	entityTypes  memo[*EntityType]
	complexTypes memo[*ComplexType]
	associations memo[*Association]
	containers   memo[*EntityContainer]

	assocOnce  sync.Once
	assocIndex map[string]associationRef
}

type associationRef struct {
	source     string
	navigation string
}

// NewSchema creates a schema over provider.
func NewSchema(provider metadata.Provider, cfg Config) *Schema {
	if cfg.ContainerName == "" {
		cfg.ContainerName = provider.Namespace() + "Container"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Schema{
		provider:  provider,
		namespace: provider.Namespace(),
		cfg:       cfg,
	}
	s.logger.Store(logger)
	return s
}

// SetLogger replaces the logger used for elements built from now on. A nil
// logger selects slog.Default().
func (s *Schema) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	s.logger.Store(logger)
}

// Namespace returns the schema namespace.
func (s *Schema) Namespace() string {
	return s.namespace
}

// ContainerName returns the name of the default container.
func (s *Schema) ContainerName() string {
	return s.cfg.ContainerName
}

// EntityType returns the entity type with the given qualified name.
func (s *Schema) EntityType(namespace, name string) (*EntityType, error) {
	if namespace != s.namespace {
		return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, QualifiedName{namespace, name}.String())
	}
	t, err := s.entityType(name)
	if err != nil {
		return nil, err
	}
	if s.cfg.StrictNavigation {
		for _, c := range t.NavigationCandidates() {
			if !c.Consistent() {
				return nil, odataerr.Semantic(odataerr.KeyInconsistentNavigation, t.Name.String(), c.Name).WithCause(c.Err)
			}
		}
	}
	return t, nil
}

// ComplexType returns the complex type with the given qualified name.
func (s *Schema) ComplexType(namespace, name string) (*ComplexType, error) {
	if namespace != s.namespace {
		return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, QualifiedName{namespace, name}.String())
	}
	return s.complexType(name)
}

// Association returns the association with the given qualified name.
func (s *Schema) Association(namespace, name string) (*Association, error) {
	if namespace != s.namespace {
		return nil, odataerr.Semantic(odataerr.KeyAssociationNotFound, QualifiedName{namespace, name}.String())
	}
	return s.association(name)
}

// DefaultEntityContainer returns the container used when a request names none.
func (s *Schema) DefaultEntityContainer() (*EntityContainer, error) {
	return s.containers.get(defaultContainerKey, func() (*EntityContainer, error) {
		return s.buildContainer(true)
	})
}

// EntityContainer returns the container with the given name. The empty name
// selects the default container.
func (s *Schema) EntityContainer(name string) (*EntityContainer, error) {
	switch {
	case name == "" && s.cfg.DistinctEmptyContainerKey:
		return s.containers.get(emptyContainerKey, func() (*EntityContainer, error) {
			return s.buildContainer(true)
		})
	case name == "" || name == s.cfg.ContainerName:
		return s.DefaultEntityContainer()
	default:
		return nil, odataerr.Semantic(odataerr.KeyContainerNotFound, name)
	}
}

// EntityTypes returns every entity type in registration order.
func (s *Schema) EntityTypes() ([]*EntityType, error) {
	var out []*EntityType
	for _, name := range s.provider.CandidateTypes() {
		t, err := s.EntityType(s.namespace, name)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// ComplexTypes returns every complex type in discovery order.
func (s *Schema) ComplexTypes() ([]*ComplexType, error) {
	var out []*ComplexType
	for _, name := range s.provider.ComplexCandidates() {
		c, err := s.complexType(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// entityType returns the structural part of an entity type. Navigation is
// resolved separately so that mutually related types can be built.
func (s *Schema) entityType(name string) (*EntityType, error) {
	return s.entityTypes.get(name, func() (*EntityType, error) {
		return s.buildEntityType(name)
	})
}

func (s *Schema) complexType(name string) (*ComplexType, error) {
	return s.complexTypes.get(name, func() (*ComplexType, error) {
		return s.buildComplexType(name)
	})
}

func (s *Schema) association(name string) (*Association, error) {
	return s.associations.get(name, func() (*Association, error) {
		s.assocOnce.Do(s.indexAssociations)
		ref, ok := s.assocIndex[name]
		if !ok {
			return nil, odataerr.Semantic(odataerr.KeyAssociationNotFound, QualifiedName{s.namespace, name}.String())
		}
		return s.buildAssociation(name, ref)
	})
}

func (s *Schema) buildEntityType(name string) (*EntityType, error) {
	desc, err := s.provider.Describe(name)
	if err != nil {
		return nil, err
	}

	t := &EntityType{
		Name:          QualifiedName{s.namespace, name},
		EntitySetName: desc.EntitySet,
		Table:         desc.Table,
		GoType:        desc.Type,
		schema:        s,
		description:   desc,
	}
	for _, f := range desc.Fields {
		p, err := s.property(t.Name, f)
		if err != nil {
			return nil, err
		}
		t.Properties = append(t.Properties, p)
		if p.Key {
			t.Keys = append(t.Keys, p)
		}
	}
	for _, cf := range desc.Complex {
		cp, err := s.complexProperty(cf)
		if err != nil {
			return nil, err
		}
		t.ComplexProperties = append(t.ComplexProperties, cp)
	}

	s.logger.Load().Debug("Built entity type", "type", t.Name.String(), "properties", len(t.Properties))
	return t, nil
}

func (s *Schema) buildComplexType(name string) (*ComplexType, error) {
	desc, err := s.provider.DescribeComplex(name)
	if err != nil {
		return nil, err
	}
	c := &ComplexType{Name: QualifiedName{s.namespace, name}, GoType: desc.Type}
	for _, f := range desc.Fields {
		p, err := s.property(c.Name, f)
		if err != nil {
			return nil, err
		}
		c.Properties = append(c.Properties, p)
	}
	for _, cf := range desc.Complex {
		cp, err := s.complexProperty(cf)
		if err != nil {
			return nil, err
		}
		c.ComplexProperties = append(c.ComplexProperties, cp)
	}
	return c, nil
}

func (s *Schema) property(owner QualifiedName, f metadata.FieldDescription) (*Property, error) {
	kind, ok := kindFor(f.ScalarType)
	if !ok {
		return nil, odataerr.Semantic(odataerr.KeyUnmappedType, owner.Name, f.Name, f.Type.String())
	}
	return &Property{
		Name:      f.Name,
		Kind:      kind,
		Column:    f.Column,
		Index:     f.Index,
		GoType:    f.Type,
		Nullable:  f.Nullable,
		Key:       f.Key,
		MaxLength: f.MaxLength,
		Precision: f.Precision,
		Scale:     f.Scale,
	}, nil
}

func (s *Schema) complexProperty(cf metadata.ComplexFieldDescription) (*ComplexProperty, error) {
	ct, err := s.complexType(cf.TypeName)
	if err != nil {
		return nil, err
	}
	return &ComplexProperty{
		Name:       cf.Name,
		Type:       ct,
		Index:      cf.Index,
		Prefix:     cf.Prefix,
		Serialized: cf.Serialized,
		Column:     cf.Column,
		Collection: cf.Collection,
		Nullable:   cf.Nullable,
	}, nil
}

func (s *Schema) buildContainer(isDefault bool) (*EntityContainer, error) {
	c := &EntityContainer{Name: s.cfg.ContainerName, Default: isDefault}

	for _, name := range s.provider.CandidateTypes() {
		t, err := s.EntityType(s.namespace, name)
		if err != nil {
			return nil, err
		}
		c.EntitySets = append(c.EntitySets, &EntitySet{Name: t.EntitySetName, Type: t})
	}

	for _, set := range c.EntitySets {
		for _, nav := range set.Type.ConsistentNavigationProperties() {
			target := c.EntitySetFor(nav.Target)
			if target == nil {
				continue
			}
			c.AssociationSets = append(c.AssociationSets, &AssociationSet{
				Name:        nav.Association.Name.Name + "Set",
				Association: nav.Association,
				Ends: [2]AssociationSetEnd{
					{Role: nav.FromRole, EntitySet: set},
					{Role: nav.ToRole, EntitySet: target},
				},
			})
		}
	}

	for _, def := range s.cfg.FunctionImports {
		fi, err := s.functionImport(c, def)
		if err != nil {
			return nil, err
		}
		c.FunctionImports = append(c.FunctionImports, fi)
	}

	s.logger.Load().Info("Built entity container", "container", c.Name, "entitySets", len(c.EntitySets))
	return c, nil
}

func (s *Schema) functionImport(c *EntityContainer, def FunctionImportDefinition) (*FunctionImport, error) {
	fi := &FunctionImport{
		Name:       def.Name,
		Return:     def.Return,
		Parameters: def.Parameters,
		HTTPMethod: def.HTTPMethod,
	}
	if fi.HTTPMethod == "" {
		fi.HTTPMethod = "GET"
	}

	switch def.Return {
	case ReturnEntity, ReturnEntityCollection:
		for _, set := range c.EntitySets {
			if set.Type.Name.Name == def.ReturnType {
				fi.EntitySet = set
			}
		}
		if fi.EntitySet == nil {
			return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, QualifiedName{s.namespace, def.ReturnType}.String())
		}
	case ReturnComplex, ReturnComplexCollection:
		ct, err := s.complexType(def.ReturnType)
		if err != nil {
			return nil, err
		}
		fi.ComplexType = ct
	case ReturnSimple, ReturnSimpleCollection:
		kind, ok := ParseSimpleKind(def.ReturnType)
		if !ok {
			return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, def.ReturnType)
		}
		fi.SimpleKind = kind
	default:
		return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, def.ReturnType)
	}
	return fi, nil
}
