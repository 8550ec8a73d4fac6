package projector

import (
	"database/sql/driver"
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-persist/internal/edm"
)

// Convert returns v as the Go representation of kind:
//
//	Edm.String          string
//	Edm.Boolean         bool
//	Edm.Byte            uint8
//	Edm.SByte           int8
//	Edm.Int16           int16
//	Edm.Int32           int32
//	Edm.Int64           int64
//	Edm.Single          float32
//	Edm.Double          float64
//	Edm.Decimal         decimal.Decimal
//	Edm.DateTime        time.Time in UTC
//	Edm.DateTimeOffset  time.Time
//	Edm.Time            time.Duration
//	Edm.Guid            uuid.UUID
//	Edm.Binary          []byte
//
// Pointers and driver.Valuer wrappers such as sql.NullString are unwrapped
// first; a nil value converts to nil.
func Convert(v any, kind edm.SimpleKind) (any, error) {
	v, err := unwrap(v)
	if err != nil || v == nil {
		return nil, err
	}

	switch kind {
	case edm.KindString:
		switch x := v.(type) {
		case string:
			return x, nil
		case []byte:
			return string(x), nil
		case fmt.Stringer:
			return x.String(), nil
		}
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.String {
			return rv.String(), nil
		}
	case edm.KindBoolean:
		if rv := reflect.ValueOf(v); rv.Kind() == reflect.Bool {
			return rv.Bool(), nil
		}
	case edm.KindByte, edm.KindSByte, edm.KindInt16, edm.KindInt32, edm.KindInt64:
		return convertIntegral(v, kind)
	case edm.KindSingle, edm.KindDouble:
		f, ok := toFloat(v)
		if !ok {
			break
		}
		if kind == edm.KindSingle {
			return float32(f), nil
		}
		return f, nil
	case edm.KindDecimal:
		switch x := v.(type) {
		case decimal.Decimal:
			return x, nil
		case string:
			return decimal.NewFromString(x)
		case []byte:
			return decimal.NewFromString(string(x))
		}
		if n, ok := toInt(v); ok {
			return decimal.NewFromInt(n), nil
		}
		if f, ok := toFloat(v); ok {
			return decimal.NewFromFloat(f), nil
		}
	case edm.KindDateTime, edm.KindDateTimeOffset:
		t, ok := toTime(v)
		if !ok {
			break
		}
		if kind == edm.KindDateTime {
			return t.UTC(), nil
		}
		return t, nil
	case edm.KindTime:
		switch x := v.(type) {
		case time.Duration:
			return x, nil
		case time.Time:
			return x.Sub(time.Date(x.Year(), x.Month(), x.Day(), 0, 0, 0, 0, x.Location())), nil
		}
		if n, ok := toInt(v); ok {
			return time.Duration(n), nil
		}
	case edm.KindGuid:
		switch x := v.(type) {
		case uuid.UUID:
			return x, nil
		case [16]byte:
			return uuid.UUID(x), nil
		case string:
			return uuid.Parse(x)
		case []byte:
			if len(x) == 16 {
				return uuid.FromBytes(x)
			}
			return uuid.ParseBytes(x)
		}
	case edm.KindBinary:
		switch x := v.(type) {
		case []byte:
			return x, nil
		case string:
			return base64.StdEncoding.DecodeString(x)
		}
	}
	return nil, fmt.Errorf("cannot convert %T to %s", v, kind)
}

var valuerType = reflect.TypeOf((*driver.Valuer)(nil)).Elem()

// unwrap removes pointers and driver.Valuer wrappers. Values of types with a
// direct EDM mapping are returned unchanged even when they implement Valuer.
func unwrap(v any) (any, error) {
	for v != nil {
		switch v.(type) {
		case time.Time, decimal.Decimal, uuid.UUID, []byte:
			return v, nil
		}
		rv := reflect.ValueOf(v)
		if rv.Kind() == reflect.Ptr {
			if rv.IsNil() {
				return nil, nil
			}
			v = rv.Elem().Interface()
			continue
		}
		if rv.Type().Implements(valuerType) && rv.Kind() == reflect.Struct {
			inner, err := v.(driver.Valuer).Value()
			if err != nil {
				return nil, err
			}
			v = inner
			continue
		}
		return v, nil
	}
	return nil, nil
}

func convertIntegral(v any, kind edm.SimpleKind) (any, error) {
	n, ok := toInt(v)
	if !ok {
		if s, isString := v.(string); isString {
			parsed, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, err
			}
			n = parsed
		} else {
			return nil, fmt.Errorf("cannot convert %T to %s", v, kind)
		}
	}

	switch kind {
	case edm.KindByte:
		if n < 0 || n > math.MaxUint8 {
			return nil, fmt.Errorf("%d overflows %s", n, kind)
		}
		return uint8(n), nil
	case edm.KindSByte:
		if n < math.MinInt8 || n > math.MaxInt8 {
			return nil, fmt.Errorf("%d overflows %s", n, kind)
		}
		return int8(n), nil
	case edm.KindInt16:
		if n < math.MinInt16 || n > math.MaxInt16 {
			return nil, fmt.Errorf("%d overflows %s", n, kind)
		}
		return int16(n), nil
	case edm.KindInt32:
		if n < math.MinInt32 || n > math.MaxInt32 {
			return nil, fmt.Errorf("%d overflows %s", n, kind)
		}
		return int32(n), nil
	}
	return n, nil
}

func toInt(v any) (int64, bool) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, false
		}
		return int64(u), true
	}
	return 0, false
}

func toFloat(v any) (float64, bool) {
	if d, ok := v.(decimal.Decimal); ok {
		f, _ := d.Float64()
		return f, true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	}
	if n, ok := toInt(v); ok {
		return float64(n), true
	}
	if s, ok := v.(string); ok {
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return 0, false
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

func toTime(v any) (time.Time, bool) {
	switch x := v.(type) {
	case time.Time:
		return x, true
	case string:
		for _, layout := range timeLayouts {
			if t, err := time.Parse(layout, x); err == nil {
				return t, true
			}
		}
	}
	return time.Time{}, false
}
