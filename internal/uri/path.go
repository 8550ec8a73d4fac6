package uri

import (
	"strings"

	"github.com/nlstn/go-odata-persist/internal/edm"
)

// KeyPredicate binds a key property to a value from the path.
type KeyPredicate struct {
	Property *edm.Property
	Value    any
	Literal  Literal
}

// NavigationSegment is a navigation step of the path.
type NavigationSegment struct {
	Property  *edm.NavigationProperty
	EntitySet *edm.EntitySet
	Keys      []KeyPredicate
}

// PropertySegment addresses a property of the current target. Exactly one
// of Property and Complex is set.
type PropertySegment struct {
	Property *edm.Property
	Complex  *edm.ComplexProperty
}

// Name returns the property name.
func (s PropertySegment) Name() string {
	if s.Complex != nil {
		return s.Complex.Name
	}
	return s.Property.Name
}

// ResourcePath is a resolved request path.
type ResourcePath struct {
	Kind      ResourceKind
	Container *edm.EntityContainer

	// EntitySet is the entity set addressed by the first segment.
	EntitySet *edm.EntitySet
	// Keys is the key predicate on EntitySet, if any.
	Keys       []KeyPredicate
	Navigation []NavigationSegment
	Properties []PropertySegment

	FunctionImport *edm.FunctionImport
	Parameters     map[string]any

	Count    bool
	Value    bool
	Links    bool
	Metadata bool
	Batch    bool
}

// TargetEntitySet returns the entity set of the addressed entities.
func (p *ResourcePath) TargetEntitySet() *edm.EntitySet {
	if n := len(p.Navigation); n > 0 {
		return p.Navigation[n-1].EntitySet
	}
	if p.EntitySet == nil && p.FunctionImport != nil {
		return p.FunctionImport.EntitySet
	}
	return p.EntitySet
}

// TargetType returns the entity type of the addressed entities, or nil.
func (p *ResourcePath) TargetType() *edm.EntityType {
	if set := p.TargetEntitySet(); set != nil {
		return set.Type
	}
	return nil
}

// TargetKeys returns the key predicate of the last addressed entity segment.
func (p *ResourcePath) TargetKeys() []KeyPredicate {
	if n := len(p.Navigation); n > 0 {
		return p.Navigation[n-1].Keys
	}
	return p.Keys
}

// TargetIsCollection reports whether the entity part of the path addresses
// more than one entity.
func (p *ResourcePath) TargetIsCollection() bool {
	if n := len(p.Navigation); n > 0 {
		last := p.Navigation[n-1]
		return last.Property.ToMany() && len(last.Keys) == 0
	}
	return p.EntitySet != nil && len(p.Keys) == 0
}

// String renders the path in URI syntax.
func (p *ResourcePath) String() string {
	switch {
	case p.Metadata:
		return "$metadata"
	case p.Batch:
		return "$batch"
	case p.FunctionImport != nil:
		return p.FunctionImport.Name
	case p.EntitySet == nil:
		return ""
	}

	var parts []string
	parts = append(parts, p.EntitySet.Name+FormatKey(p.Keys))
	for i, n := range p.Navigation {
		if p.Links && i == len(p.Navigation)-1 {
			parts = append(parts, "$links")
		}
		parts = append(parts, n.Property.Name+FormatKey(n.Keys))
	}
	for _, prop := range p.Properties {
		parts = append(parts, prop.Name())
	}
	if p.Count {
		parts = append(parts, "$count")
	}
	if p.Value {
		parts = append(parts, "$value")
	}
	return strings.Join(parts, "/")
}

// FormatKey renders a key predicate, for example ('1') or (ID=1,Code='x').
func FormatKey(keys []KeyPredicate) string {
	switch len(keys) {
	case 0:
		return ""
	case 1:
		return "(" + FormatLiteral(keys[0].Property.Kind, keys[0].Value) + ")"
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k.Property.Name + "=" + FormatLiteral(k.Property.Kind, k.Value)
	}
	return "(" + strings.Join(parts, ",") + ")"
}
