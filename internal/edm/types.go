package edm

import (
	"reflect"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// QualifiedName is a namespace-qualified schema element name.
type QualifiedName struct {
	Namespace string
	Name      string
}

func (q QualifiedName) String() string {
	if q.Namespace == "" {
		return q.Name
	}
	return q.Namespace + "." + q.Name
}

// SimpleKind is a primitive EDM type.
type SimpleKind string

const (
	KindString         SimpleKind = "Edm.String"
	KindBoolean        SimpleKind = "Edm.Boolean"
	KindByte           SimpleKind = "Edm.Byte"
	KindSByte          SimpleKind = "Edm.SByte"
	KindInt16          SimpleKind = "Edm.Int16"
	KindInt32          SimpleKind = "Edm.Int32"
	KindInt64          SimpleKind = "Edm.Int64"
	KindSingle         SimpleKind = "Edm.Single"
	KindDouble         SimpleKind = "Edm.Double"
	KindDecimal        SimpleKind = "Edm.Decimal"
	KindDateTime       SimpleKind = "Edm.DateTime"
	KindDateTimeOffset SimpleKind = "Edm.DateTimeOffset"
	KindTime           SimpleKind = "Edm.Time"
	KindGuid           SimpleKind = "Edm.Guid"
	KindBinary         SimpleKind = "Edm.Binary"
	// KindNull is the kind of the null literal; no property has it.
	KindNull SimpleKind = "Null"
)

// IsNumeric reports whether values of k take part in arithmetic.
func (k SimpleKind) IsNumeric() bool {
	switch k {
	case KindByte, KindSByte, KindInt16, KindInt32, KindInt64, KindSingle, KindDouble, KindDecimal:
		return true
	}
	return false
}

// IsIntegral reports whether k is an integer kind.
func (k SimpleKind) IsIntegral() bool {
	switch k {
	case KindByte, KindSByte, KindInt16, KindInt32, KindInt64:
		return true
	}
	return false
}

// IsTemporal reports whether k carries a point in time.
func (k SimpleKind) IsTemporal() bool {
	return k == KindDateTime || k == KindDateTimeOffset
}

// ParseSimpleKind accepts both "Edm.Int32" and "Int32".
func ParseSimpleKind(s string) (SimpleKind, bool) {
	for _, k := range []SimpleKind{
		KindString, KindBoolean, KindByte, KindSByte, KindInt16, KindInt32, KindInt64,
		KindSingle, KindDouble, KindDecimal, KindDateTime, KindDateTimeOffset, KindTime,
		KindGuid, KindBinary,
	} {
		if string(k) == s || string(k) == "Edm."+s {
			return k, true
		}
	}
	return "", false
}

var (
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	bytesType   = reflect.TypeOf([]byte(nil))
)

// kindFor maps a scalar storage type to its EDM kind.
func kindFor(t reflect.Type) (SimpleKind, bool) {
	switch t {
	case timeType:
		return KindDateTime, true
	case decimalType:
		return KindDecimal, true
	case uuidType:
		return KindGuid, true
	case bytesType:
		return KindBinary, true
	}
	switch t.Kind() {
	case reflect.String:
		return KindString, true
	case reflect.Bool:
		return KindBoolean, true
	case reflect.Int8:
		return KindSByte, true
	case reflect.Uint8:
		return KindByte, true
	case reflect.Int16:
		return KindInt16, true
	case reflect.Int32, reflect.Uint16:
		return KindInt32, true
	case reflect.Int, reflect.Int64, reflect.Uint, reflect.Uint32, reflect.Uint64:
		return KindInt64, true
	case reflect.Float32:
		return KindSingle, true
	case reflect.Float64:
		return KindDouble, true
	}
	return "", false
}

// Multiplicity is the multiplicity of an association end.
type Multiplicity string

const (
	MultiplicityZeroOrOne Multiplicity = "0..1"
	MultiplicityOne       Multiplicity = "1"
	MultiplicityMany      Multiplicity = "*"
)
