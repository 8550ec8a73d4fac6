package metadata

import "reflect"

// Cardinality describes a relationship between two persistent types.
type Cardinality int

const (
	OneToOne Cardinality = iota + 1
	OneToMany
	ManyToOne
	ManyToMany
)

func (c Cardinality) String() string {
	switch c {
	case OneToOne:
		return "one-to-one"
	case OneToMany:
		return "one-to-many"
	case ManyToOne:
		return "many-to-one"
	case ManyToMany:
		return "many-to-many"
	default:
		return "unknown"
	}
}

// EntityDescription is the persistence-level view of a registered model.
type EntityDescription struct {
	// Name is the Go type name and becomes the entity type name.
	Name string
	// EntitySet is the name of the entity set exposing this type.
	EntitySet string
	// Table is the database table backing the type.
	Table string
	// Type is the struct type of the model.
	Type reflect.Type

	// Fields holds the scalar persistent fields in declaration order.
	Fields []FieldDescription
	// Complex holds fields whose values are complex types.
	Complex []ComplexFieldDescription
	// Relationships holds the declared relationships in declaration order.
	Relationships []RelationshipDescription
}

// Keys returns the key fields in declaration order.
func (d *EntityDescription) Keys() []FieldDescription {
	var keys []FieldDescription
	for _, f := range d.Fields {
		if f.Key {
			keys = append(keys, f)
		}
	}
	return keys
}

// Relationship looks up a relationship by field name.
func (d *EntityDescription) Relationship(name string) (RelationshipDescription, bool) {
	for _, r := range d.Relationships {
		if r.Name == name {
			return r, true
		}
	}
	return RelationshipDescription{}, false
}

// FieldDescription describes a scalar persistent field.
type FieldDescription struct {
	Name   string
	Column string
	// Index is the reflect field index path from the owning struct.
	Index []int
	// Type is the declared Go type.
	Type reflect.Type
	// ScalarType is the underlying value type with pointers and sql.Null wrappers removed.
	ScalarType reflect.Type
	Key        bool
	Nullable   bool

	MaxLength int
	Precision int
	Scale     int
}

// ComplexDescription describes a struct type used as a structured value.
type ComplexDescription struct {
	Name    string
	Type    reflect.Type
	Fields  []FieldDescription
	Complex []ComplexFieldDescription
}

// ComplexFieldDescription describes a field holding a complex type value.
type ComplexFieldDescription struct {
	Name  string
	Index []int
	// TypeName is the name of the complex type.
	TypeName string
	// Prefix is prepended to the columns of embedded complex values.
	Prefix string
	// Serialized is set when the value is stored in a single column.
	Serialized bool
	// Column is the storage column when Serialized is set.
	Column     string
	Collection bool
	Nullable   bool
}

// JoinColumn equates a column on the owning side of a join with a column on
// the other side.
type JoinColumn struct {
	Owner string
	Other string
}

// RelationshipDescription describes a relationship field.
type RelationshipDescription struct {
	Name  string
	Index []int
	// Target is the Go type name of the related model.
	Target      string
	TargetType  reflect.Type
	Cardinality Cardinality
	// Optional is set when a many-to-one foreign key may be null.
	Optional bool

	// Columns joins owner and target directly (one-to-one, one-to-many, many-to-one).
	Columns []JoinColumn
	// JoinTable names the link table of a many-to-many relationship.
	JoinTable string
	// OwnerJoin joins owner columns (Owner) to link table columns (Other).
	OwnerJoin []JoinColumn
	// TargetJoin joins link table columns (Owner) to target columns (Other).
	TargetJoin []JoinColumn
}
