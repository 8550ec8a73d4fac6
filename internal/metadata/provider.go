// Package metadata describes registered GORM models in persistence terms:
// tables, columns, keys, complex values and relationships. The EDM schema is
// derived from these descriptions.
package metadata

import (
	"fmt"
	"reflect"
	"sync"

	"gorm.io/gorm/schema"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// Provider supplies the persistence metamodel.
type Provider interface {
	// Namespace is the schema namespace the types are published under.
	Namespace() string
	// CandidateTypes lists the entity type names in registration order.
	CandidateTypes() []string
	// Describe returns the description of an entity type.
	Describe(name string) (*EntityDescription, error)
	// ComplexCandidates lists the complex type names in discovery order.
	ComplexCandidates() []string
	// DescribeComplex returns the description of a complex type.
	DescribeComplex(name string) (*ComplexDescription, error)
}

// GormProvider implements Provider over GORM models.
type GormProvider struct {
	namespace string
	namer     schema.Namer
	cache     *sync.Map

	mu           sync.RWMutex
	order        []string
	models       map[string]reflect.Type
	complexOrder []string
	complexTypes map[string]reflect.Type
}

// NewGormProvider creates a provider. A nil namer uses GORM's default naming strategy.
func NewGormProvider(namespace string, namer schema.Namer) *GormProvider {
	if namer == nil {
		namer = schema.NamingStrategy{}
	}
	return &GormProvider{
		namespace:    namespace,
		namer:        namer,
		cache:        &sync.Map{},
		models:       make(map[string]reflect.Type),
		complexTypes: make(map[string]reflect.Type),
	}
}

// Namespace implements Provider.
func (p *GormProvider) Namespace() string {
	return p.namespace
}

// Register adds a model struct (or pointer to one) as an entity type candidate.
// Complex types reachable from the model are discovered at the same time.
func (p *GormProvider) Register(model any) error {
	t, err := structTypeOf(model)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	name := t.Name()
	if existing, ok := p.models[name]; ok {
		if existing == t {
			return nil
		}
		return odataerr.Semantic(odataerr.KeyDuplicateName, "entity type", name)
	}
	if err := p.discoverComplex(t); err != nil {
		return err
	}
	p.models[name] = t
	p.order = append(p.order, name)
	return nil
}

// RegisterComplex adds a struct as a complex type even when no model embeds it.
func (p *GormProvider) RegisterComplex(value any) error {
	t, err := structTypeOf(value)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addComplex(t)
}

// CandidateTypes implements Provider.
func (p *GormProvider) CandidateTypes() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.order...)
}

// ComplexCandidates implements Provider.
func (p *GormProvider) ComplexCandidates() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]string(nil), p.complexOrder...)
}

// Describe implements Provider.
func (p *GormProvider) Describe(name string) (*EntityDescription, error) {
	p.mu.RLock()
	t, ok := p.models[name]
	p.mu.RUnlock()
	if !ok {
		return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, p.qualify(name))
	}

	if err := checkMappable(name, t); err != nil {
		return nil, err
	}
	sch, err := schema.Parse(reflect.New(t).Interface(), p.cache, p.namer)
	if err != nil {
		return nil, odataerr.Semantic(odataerr.KeyInvalidModel, name).WithCause(err)
	}

	desc := &EntityDescription{
		Name:      name,
		EntitySet: getEntitySetName(t),
		Table:     sch.Table,
		Type:      t,
	}
	if err := p.describeEntityFields(desc, sch, t, nil); err != nil {
		return nil, err
	}
	if len(desc.Keys()) == 0 {
		return nil, odataerr.Semantic(odataerr.KeyMissingKey, p.qualify(name))
	}
	return desc, nil
}

// DescribeComplex implements Provider.
func (p *GormProvider) DescribeComplex(name string) (*ComplexDescription, error) {
	p.mu.RLock()
	t, ok := p.complexTypes[name]
	p.mu.RUnlock()
	if !ok {
		return nil, odataerr.Semantic(odataerr.KeyTypeNotFound, p.qualify(name))
	}

	desc := &ComplexDescription{Name: name, Type: t}
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tags := parseTags(field)
		if tags.ignored() {
			continue
		}

		if tags.embedded() || tags.serialized() {
			cf, err := p.complexField(name, field, tags, field.Index, "")
			if err != nil {
				return nil, err
			}
			desc.Complex = append(desc.Complex, cf)
			continue
		}

		column := tags.column()
		if column == "" {
			column = p.namer.ColumnName("", field.Name)
		}
		f, err := p.scalarField(name, field, tags, field.Index, column)
		if err != nil {
			return nil, err
		}
		desc.Fields = append(desc.Fields, f)
	}
	return desc, nil
}

// describeEntityFields walks the struct fields of t. Anonymous struct fields
// are flattened into the owner, the way GORM treats them.
func (p *GormProvider) describeEntityFields(desc *EntityDescription, sch *schema.Schema, t reflect.Type, index []int) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tags := parseTags(field)
		if tags.ignored() {
			continue
		}
		idx := joinIndex(index, field.Index)

		if rel, ok := sch.Relationships.Relations[field.Name]; ok {
			r, err := describeRelationship(desc.Name, field, idx, rel)
			if err != nil {
				return err
			}
			desc.Relationships = append(desc.Relationships, r)
			continue
		}

		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			if _, _, ok := scalarType(field.Type); !ok {
				if err := p.describeEntityFields(desc, sch, field.Type, idx); err != nil {
					return err
				}
				continue
			}
		}

		if tags.embedded() || tags.serialized() {
			column := ""
			if gf := sch.LookUpField(field.Name); gf != nil {
				column = gf.DBName
			}
			cf, err := p.complexField(desc.Name, field, tags, idx, column)
			if err != nil {
				return err
			}
			desc.Complex = append(desc.Complex, cf)
			continue
		}

		column := tags.column()
		primary := false
		if gf := sch.LookUpField(field.Name); gf != nil {
			column = gf.DBName
			primary = gf.PrimaryKey
		}
		if column == "" {
			column = p.namer.ColumnName(sch.Table, field.Name)
		}
		f, err := p.scalarField(desc.Name, field, tags, idx, column)
		if err != nil {
			return err
		}
		if primary {
			f.Key = true
			f.Nullable = false
		}
		desc.Fields = append(desc.Fields, f)
	}
	return nil
}

func (p *GormProvider) scalarField(owner string, field reflect.StructField, tags fieldTags, index []int, column string) (FieldDescription, error) {
	st, nullable, ok := scalarType(field.Type)
	if !ok {
		return FieldDescription{}, odataerr.Semantic(odataerr.KeyUnmappedType, owner, field.Name, field.Type.String())
	}
	f := FieldDescription{
		Name:       field.Name,
		Column:     column,
		Index:      index,
		Type:       field.Type,
		ScalarType: st,
		Nullable:   nullable,
	}
	tags.applyFacets(&f)
	return f, nil
}

func (p *GormProvider) complexField(owner string, field reflect.StructField, tags fieldTags, index []int, column string) (ComplexFieldDescription, error) {
	target, collection, nullable := complexTarget(field.Type)
	if target == nil {
		return ComplexFieldDescription{}, odataerr.Semantic(odataerr.KeyUnmappedType, owner, field.Name, field.Type.String())
	}
	cf := ComplexFieldDescription{
		Name:       field.Name,
		Index:      index,
		TypeName:   target.Name(),
		Collection: collection,
		Nullable:   nullable,
	}
	if tags.serialized() {
		cf.Serialized = true
		cf.Column = column
		if cf.Column == "" {
			cf.Column = p.namer.ColumnName("", field.Name)
		}
		return cf, nil
	}
	if collection {
		// Embedded fields map onto columns of the owning row; a slice cannot.
		return ComplexFieldDescription{}, odataerr.Semantic(odataerr.KeyUnmappedType, owner, field.Name, field.Type.String())
	}
	cf.Prefix = tags.embeddedPrefix()
	return cf, nil
}

// discoverComplex records every complex type reachable from t. Callers hold p.mu.
func (p *GormProvider) discoverComplex(t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tags := parseTags(field)
		if tags.ignored() {
			continue
		}
		if field.Anonymous && field.Type.Kind() == reflect.Struct && !tags.embedded() {
			if _, _, ok := scalarType(field.Type); !ok {
				if err := p.discoverComplex(field.Type); err != nil {
					return err
				}
			}
			continue
		}
		if !tags.embedded() && !tags.serialized() {
			continue
		}
		if target, _, _ := complexTarget(field.Type); target != nil {
			if err := p.addComplex(target); err != nil {
				return err
			}
		}
	}
	return nil
}

// addComplex registers t and its nested complex types. Callers hold p.mu.
func (p *GormProvider) addComplex(t reflect.Type) error {
	name := t.Name()
	if existing, ok := p.complexTypes[name]; ok {
		if existing == t {
			return nil
		}
		return odataerr.Semantic(odataerr.KeyDuplicateName, "complex type", name)
	}
	p.complexTypes[name] = t
	p.complexOrder = append(p.complexOrder, name)
	return p.discoverComplex(t)
}

func (p *GormProvider) qualify(name string) string {
	return p.namespace + "." + name
}

func describeRelationship(owner string, field reflect.StructField, index []int, rel *schema.Relationship) (RelationshipDescription, error) {
	r := RelationshipDescription{
		Name:  field.Name,
		Index: index,
	}
	if rel.Polymorphic != nil || rel.FieldSchema == nil {
		return r, odataerr.Semantic(odataerr.KeyUnsupportedRelation, owner, field.Name)
	}
	r.Target = rel.FieldSchema.Name
	r.TargetType = rel.FieldSchema.ModelType

	switch rel.Type {
	case schema.HasOne:
		r.Cardinality = OneToOne
	case schema.HasMany:
		r.Cardinality = OneToMany
	case schema.BelongsTo:
		r.Cardinality = ManyToOne
	case schema.Many2Many:
		r.Cardinality = ManyToMany
	default:
		return r, odataerr.Semantic(odataerr.KeyUnsupportedRelation, owner, field.Name)
	}

	for _, ref := range rel.References {
		if ref.PrimaryKey == nil || ref.ForeignKey == nil {
			continue
		}
		switch r.Cardinality {
		case ManyToOne:
			r.Columns = append(r.Columns, JoinColumn{Owner: ref.ForeignKey.DBName, Other: ref.PrimaryKey.DBName})
			if ref.ForeignKey.FieldType.Kind() == reflect.Ptr {
				r.Optional = true
			}
		case OneToOne, OneToMany:
			r.Columns = append(r.Columns, JoinColumn{Owner: ref.PrimaryKey.DBName, Other: ref.ForeignKey.DBName})
		case ManyToMany:
			if ref.OwnPrimaryKey {
				r.OwnerJoin = append(r.OwnerJoin, JoinColumn{Owner: ref.PrimaryKey.DBName, Other: ref.ForeignKey.DBName})
			} else {
				r.TargetJoin = append(r.TargetJoin, JoinColumn{Owner: ref.ForeignKey.DBName, Other: ref.PrimaryKey.DBName})
			}
		}
	}
	if r.Cardinality == ManyToMany && rel.JoinTable != nil {
		r.JoinTable = rel.JoinTable.Table
	}
	return r, nil
}

// checkMappable rejects field types GORM cannot store and EDM cannot describe.
func checkMappable(owner string, t reflect.Type) error {
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if !field.IsExported() {
			continue
		}
		tags := parseTags(field)
		if tags.ignored() || tags.serialized() {
			continue
		}
		ft := dereferenceType(field.Type)
		switch ft.Kind() {
		case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128,
			reflect.UnsafePointer, reflect.Map, reflect.Interface:
			return odataerr.Semantic(odataerr.KeyUnmappedType, owner, field.Name, field.Type.String())
		case reflect.Struct:
			if field.Anonymous {
				if err := checkMappable(owner, ft); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func structTypeOf(model any) (reflect.Type, error) {
	if model == nil {
		return nil, fmt.Errorf("metadata: model must not be nil")
	}
	t := dereferenceType(reflect.TypeOf(model))
	if t.Kind() != reflect.Struct {
		return nil, fmt.Errorf("metadata: model must be a struct, got %s", t.Kind())
	}
	return t, nil
}
