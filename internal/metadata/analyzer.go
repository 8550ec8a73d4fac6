package metadata

import (
	"database/sql"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"
)

var (
	timeType      = reflect.TypeOf(time.Time{})
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	bytesType     = reflect.TypeOf([]byte(nil))
	deletedAtType = reflect.TypeOf(gorm.DeletedAt{})
)

// nullWrappers maps database/sql null types to the scalar type they carry.
var nullWrappers = map[reflect.Type]reflect.Type{
	reflect.TypeOf(sql.NullString{}):  reflect.TypeOf(""),
	reflect.TypeOf(sql.NullBool{}):    reflect.TypeOf(false),
	reflect.TypeOf(sql.NullByte{}):    reflect.TypeOf(byte(0)),
	reflect.TypeOf(sql.NullInt16{}):   reflect.TypeOf(int16(0)),
	reflect.TypeOf(sql.NullInt32{}):   reflect.TypeOf(int32(0)),
	reflect.TypeOf(sql.NullInt64{}):   reflect.TypeOf(int64(0)),
	reflect.TypeOf(sql.NullFloat64{}): reflect.TypeOf(float64(0)),
	reflect.TypeOf(sql.NullTime{}):    timeType,
	deletedAtType:                     timeType,
}

// scalarType reports the storage type of t when it maps to a primitive EDM
// type. The second result reports whether the Go type itself can hold null.
func scalarType(t reflect.Type) (reflect.Type, bool, bool) {
	nullable := false
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
		nullable = true
	}
	if inner, ok := nullWrappers[t]; ok {
		return inner, true, true
	}
	switch t {
	case timeType, decimalType, uuidType, bytesType:
		return t, nullable || t == bytesType, true
	}
	switch t.Kind() {
	case reflect.String, reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return t, nullable, true
	}
	return nil, false, false
}

// complexTarget returns the struct type behind a complex field along with
// whether the field holds a collection and whether it can be nil.
func complexTarget(t reflect.Type) (reflect.Type, bool, bool) {
	collection := false
	nullable := false
	if t.Kind() == reflect.Slice {
		collection = true
		nullable = true
		t = t.Elem()
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
		nullable = true
	}
	if t.Kind() != reflect.Struct {
		return nil, false, false
	}
	return t, collection, nullable
}

// fieldTags holds the parsed gorm and odata tags of a struct field.
type fieldTags struct {
	gorm  map[string]string
	odata []string
}

func parseTags(field reflect.StructField) fieldTags {
	tags := fieldTags{gorm: schema.ParseTagSetting(field.Tag.Get("gorm"), ";")}
	if odataTag := field.Tag.Get("odata"); odataTag != "" {
		for _, part := range strings.Split(odataTag, ",") {
			if part = strings.TrimSpace(part); part != "" {
				tags.odata = append(tags.odata, part)
			}
		}
	}
	return tags
}

func (t fieldTags) ignored() bool {
	_, ok := t.gorm["-"]
	return ok || t.hasOData("-")
}

func (t fieldTags) embedded() bool {
	_, ok := t.gorm["EMBEDDED"]
	return ok || t.hasOData("embedded")
}

func (t fieldTags) serialized() bool {
	_, ok := t.gorm["SERIALIZER"]
	return ok
}

func (t fieldTags) hasOData(flag string) bool {
	for _, part := range t.odata {
		if part == flag {
			return true
		}
	}
	return false
}

// odataValue returns the value of a key=value part of the odata tag.
func (t fieldTags) odataValue(key string) (string, bool) {
	for _, part := range t.odata {
		if k, v, ok := strings.Cut(part, "="); ok && k == key {
			return v, true
		}
	}
	return "", false
}

// embeddedPrefix prefers the odata tag over the gorm tag.
func (t fieldTags) embeddedPrefix() string {
	if v, ok := t.odataValue("embeddedPrefix"); ok {
		return v
	}
	return t.gorm["EMBEDDEDPREFIX"]
}

// column returns an explicit column name from the tags, if any.
func (t fieldTags) column() string {
	if v, ok := t.odataValue("column"); ok {
		return v
	}
	return t.gorm["COLUMN"]
}

// applyFacets copies key, nullability and length facets from the tags onto f.
func (t fieldTags) applyFacets(f *FieldDescription) {
	if t.hasOData("key") {
		f.Key = true
	}
	processIntFacet(t.gorm["SIZE"], &f.MaxLength)
	processIntFacet(t.gorm["PRECISION"], &f.Precision)
	processIntFacet(t.gorm["SCALE"], &f.Scale)
	if v, ok := t.odataValue("maxlength"); ok {
		processIntFacet(v, &f.MaxLength)
	}
	if v, ok := t.odataValue("precision"); ok {
		processIntFacet(v, &f.Precision)
	}
	if v, ok := t.odataValue("scale"); ok {
		processIntFacet(v, &f.Scale)
	}

	if _, notNull := t.gorm["NOT NULL"]; notNull {
		f.Nullable = false
	}
	if t.hasOData("nullable") {
		f.Nullable = true
	}
	if v, ok := t.odataValue("nullable"); ok {
		f.Nullable = v != "false"
	}
	if f.Key {
		f.Nullable = false
	}
}

// processIntFacet parses an integer facet, leaving target untouched on failure.
func processIntFacet(val string, target *int) {
	if val == "" {
		return
	}
	if parsed, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
		*target = parsed
	}
}

// pluralize creates a simple pluralized form of the entity name
func pluralize(word string) string {
	if word == "" {
		return word
	}

	switch {
	case strings.HasSuffix(word, "y") && len(word) > 1 && !isVowel(rune(word[len(word)-2])):
		return word[:len(word)-1] + "ies"
	case strings.HasSuffix(word, "s") || strings.HasSuffix(word, "x") || strings.HasSuffix(word, "z") ||
		strings.HasSuffix(word, "ch") || strings.HasSuffix(word, "sh"):
		return word + "es"
	default:
		return word + "s"
	}
}

func isVowel(r rune) bool {
	switch r {
	case 'a', 'e', 'i', 'o', 'u', 'A', 'E', 'I', 'O', 'U':
		return true
	default:
		return false
	}
}

// getEntitySetName determines the entity set name for an entity type.
// It first checks if the entity implements an EntitySetName() method,
// similar to how GORM's TableName() works. If not, it falls back to
// pluralizing the entity name.
func getEntitySetName(entityType reflect.Type) string {
	instance := reflect.New(entityType).Interface()
	if named, ok := instance.(interface{ EntitySetName() string }); ok {
		if name := named.EntitySetName(); name != "" {
			return name
		}
	}
	return pluralize(entityType.Name())
}

func dereferenceType(t reflect.Type) reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func joinIndex(prefix []int, index []int) []int {
	out := make([]int, 0, len(prefix)+len(index))
	out = append(out, prefix...)
	return append(out, index...)
}
