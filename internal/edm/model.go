package edm

import (
	"reflect"
	"sync"

	"github.com/nlstn/go-odata-persist/internal/metadata"
)

// Property is a primitive-valued property.
type Property struct {
	Name   string
	Kind   SimpleKind
	Column string
	// Index is the reflect field index path inside the owning struct.
	Index     []int
	GoType    reflect.Type
	Nullable  bool
	Key       bool
	MaxLength int
	Precision int
	Scale     int
}

// ComplexProperty is a property whose value is a complex type instance, or a
// collection of them.
type ComplexProperty struct {
	Name  string
	Type  *ComplexType
	Index []int
	// Prefix is prepended to the columns of the nested properties.
	Prefix string
	// Serialized properties are stored as one column and cannot be filtered on.
	Serialized bool
	Column     string
	Collection bool
	Nullable   bool
}

// ComplexType is a structured type without identity.
type ComplexType struct {
	Name              QualifiedName
	GoType            reflect.Type
	Properties        []*Property
	ComplexProperties []*ComplexProperty
}

// Property returns the primitive property with the given name, or nil.
func (c *ComplexType) Property(name string) *Property {
	return findProperty(c.Properties, name)
}

// ComplexProperty returns the complex property with the given name, or nil.
func (c *ComplexType) ComplexProperty(name string) *ComplexProperty {
	return findComplex(c.ComplexProperties, name)
}

// EntityType is a keyed structured type backed by a table.
type EntityType struct {
	Name              QualifiedName
	EntitySetName     string
	Table             string
	GoType            reflect.Type
	Keys              []*Property
	Properties        []*Property
	ComplexProperties []*ComplexProperty

	schema      *Schema
	description *metadata.EntityDescription

	navOnce    sync.Once
	candidates []NavigationCandidate
}

// Property returns the primitive property with the given name, or nil.
func (t *EntityType) Property(name string) *Property {
	return findProperty(t.Properties, name)
}

// ComplexProperty returns the complex property with the given name, or nil.
func (t *EntityType) ComplexProperty(name string) *ComplexProperty {
	return findComplex(t.ComplexProperties, name)
}

// NavigationCandidates returns every relationship of the type as a
// navigation candidate, consistent or not, in declaration order.
func (t *EntityType) NavigationCandidates() []NavigationCandidate {
	t.navOnce.Do(t.resolveNavigation)
	return t.candidates
}

// ConsistentNavigationProperties returns the navigation properties whose
// association and target type validated.
func (t *EntityType) ConsistentNavigationProperties() []*NavigationProperty {
	var out []*NavigationProperty
	for _, c := range t.NavigationCandidates() {
		if c.Consistent() {
			out = append(out, c.Property)
		}
	}
	return out
}

// NavigationProperty returns the consistent navigation property with the given name, or nil.
func (t *EntityType) NavigationProperty(name string) *NavigationProperty {
	for _, n := range t.ConsistentNavigationProperties() {
		if n.Name == name {
			return n
		}
	}
	return nil
}

// NavigationProperty links an entity type to a related entity type.
type NavigationProperty struct {
	Name         string
	Source       *EntityType
	Target       *EntityType
	Association  *Association
	FromRole     string
	ToRole       string
	Multiplicity Multiplicity
	Index        []int
}

// ToMany reports whether the navigation yields a collection.
func (n *NavigationProperty) ToMany() bool {
	return n.Multiplicity == MultiplicityMany
}

// NavigationCandidate is the validation result for one relationship.
type NavigationCandidate struct {
	Name     string
	Property *NavigationProperty
	Err      error
}

// Consistent reports whether the candidate validated.
func (c NavigationCandidate) Consistent() bool {
	return c.Err == nil && c.Property != nil
}

// AssociationEnd is one end of an association.
type AssociationEnd struct {
	Role         string
	Type         QualifiedName
	Multiplicity Multiplicity
}

// Association describes the relationship behind a navigation property.
type Association struct {
	Name        QualifiedName
	Ends        [2]AssociationEnd
	Cardinality metadata.Cardinality
	// Join carries the columns needed to join both ends.
	Join metadata.RelationshipDescription
}

// EntitySet exposes the instances of one entity type.
type EntitySet struct {
	Name string
	Type *EntityType
}

// AssociationSetEnd binds an association role to an entity set.
type AssociationSetEnd struct {
	Role      string
	EntitySet *EntitySet
}

// AssociationSet binds an association to entity sets.
type AssociationSet struct {
	Name        string
	Association *Association
	Ends        [2]AssociationSetEnd
}

// ReturnKind classifies the result of a function import.
type ReturnKind int

const (
	ReturnEntity ReturnKind = iota + 1
	ReturnEntityCollection
	ReturnComplex
	ReturnComplexCollection
	ReturnSimple
	ReturnSimpleCollection
)

func (r ReturnKind) String() string {
	switch r {
	case ReturnEntity:
		return "entity"
	case ReturnEntityCollection:
		return "entity collection"
	case ReturnComplex:
		return "complex"
	case ReturnComplexCollection:
		return "complex collection"
	case ReturnSimple:
		return "simple"
	case ReturnSimpleCollection:
		return "simple collection"
	default:
		return "unknown"
	}
}

// Collection reports whether the function returns a collection.
func (r ReturnKind) Collection() bool {
	return r == ReturnEntityCollection || r == ReturnComplexCollection || r == ReturnSimpleCollection
}

// FunctionParameter is a typed function import parameter.
type FunctionParameter struct {
	Name     string
	Kind     SimpleKind
	Nullable bool
}

// FunctionImportDefinition declares a function import before the schema is built.
type FunctionImportDefinition struct {
	Name string
	// Return and ReturnType select the result type. ReturnType names an entity
	// type, a complex type or a primitive kind depending on Return.
	Return     ReturnKind
	ReturnType string
	Parameters []FunctionParameter
	HTTPMethod string
}

// FunctionImport is a service operation bound into a container.
type FunctionImport struct {
	Name        string
	Return      ReturnKind
	EntitySet   *EntitySet
	ComplexType *ComplexType
	SimpleKind  SimpleKind
	Parameters  []FunctionParameter
	HTTPMethod  string
}

// Parameter returns the parameter with the given name.
func (f *FunctionImport) Parameter(name string) (FunctionParameter, bool) {
	for _, p := range f.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return FunctionParameter{}, false
}

// EntityContainer groups entity sets, association sets and function imports.
type EntityContainer struct {
	Name            string
	Default         bool
	EntitySets      []*EntitySet
	AssociationSets []*AssociationSet
	FunctionImports []*FunctionImport
}

// EntitySet returns the entity set with the given name, or nil.
func (c *EntityContainer) EntitySet(name string) *EntitySet {
	for _, s := range c.EntitySets {
		if s.Name == name {
			return s
		}
	}
	return nil
}

// EntitySetFor returns the entity set exposing t, or nil.
func (c *EntityContainer) EntitySetFor(t *EntityType) *EntitySet {
	for _, s := range c.EntitySets {
		if s.Type == t {
			return s
		}
	}
	return nil
}

// FunctionImport returns the function import with the given name, or nil.
func (c *EntityContainer) FunctionImport(name string) *FunctionImport {
	for _, f := range c.FunctionImports {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func findProperty(props []*Property, name string) *Property {
	for _, p := range props {
		if p.Name == name {
			return p
		}
	}
	return nil
}

func findComplex(props []*ComplexProperty, name string) *ComplexProperty {
	for _, p := range props {
		if p.Name == name {
			return p
		}
	}
	return nil
}
