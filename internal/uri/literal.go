package uri

import (
	"encoding/base64"
	"encoding/hex"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// Literal is a typed constant from a key predicate, expression or parameter.
//
// Value holds string, bool, int64, float64, decimal.Decimal, time.Time,
// time.Duration, uuid.UUID, []byte or nil for the null literal.
type Literal struct {
	Kind  edm.SimpleKind
	Value any
	Text  string
}

var dateTimeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05.9999999",
}

// ParseLiteral parses an OData V2 URI literal.
func ParseLiteral(text string) (Literal, error) {
	lit := Literal{Text: text}
	invalid := func(kind string) (Literal, error) {
		return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, kind)
	}

	switch text {
	case "":
		return invalid("literal")
	case "null":
		lit.Kind = edm.KindNull
		return lit, nil
	case "true", "false":
		lit.Kind = edm.KindBoolean
		lit.Value = text == "true"
		return lit, nil
	}

	if text[0] == '\'' {
		s, ok := unquote(text)
		if !ok {
			return invalid(string(edm.KindString))
		}
		lit.Kind = edm.KindString
		lit.Value = s
		return lit, nil
	}

	if prefix, body, ok := splitTyped(text); ok {
		switch strings.ToLower(prefix) {
		case "datetime":
			for _, layout := range dateTimeLayouts {
				if t, err := time.ParseInLocation(layout, body, time.UTC); err == nil {
					lit.Kind = edm.KindDateTime
					lit.Value = t
					return lit, nil
				}
			}
			return invalid(string(edm.KindDateTime))
		case "datetimeoffset":
			t, err := time.Parse(time.RFC3339Nano, body)
			if err != nil {
				return invalid(string(edm.KindDateTimeOffset))
			}
			lit.Kind = edm.KindDateTimeOffset
			lit.Value = t
			return lit, nil
		case "time":
			d, err := parseDuration(body)
			if err != nil {
				return invalid(string(edm.KindTime))
			}
			lit.Kind = edm.KindTime
			lit.Value = d
			return lit, nil
		case "guid":
			id, err := uuid.Parse(body)
			if err != nil {
				return invalid(string(edm.KindGuid))
			}
			lit.Kind = edm.KindGuid
			lit.Value = id
			return lit, nil
		case "x":
			b, err := hex.DecodeString(body)
			if err != nil {
				return invalid(string(edm.KindBinary))
			}
			lit.Kind = edm.KindBinary
			lit.Value = b
			return lit, nil
		case "binary":
			b, err := hex.DecodeString(body)
			if err != nil {
				if b, err = base64.StdEncoding.DecodeString(body); err != nil {
					return invalid(string(edm.KindBinary))
				}
			}
			lit.Kind = edm.KindBinary
			lit.Value = b
			return lit, nil
		}
		return invalid("literal")
	}

	return parseNumber(text)
}

func parseNumber(text string) (Literal, error) {
	lit := Literal{Text: text}
	body := text
	suffix := byte(0)
	switch last := text[len(text)-1]; last {
	case 'L', 'l', 'M', 'm', 'D', 'd', 'F', 'f':
		suffix = last | 0x20
		body = text[:len(text)-1]
	}
	if !isNumeric(body) {
		return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, "literal")
	}

	switch suffix {
	case 'l':
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, string(edm.KindInt64))
		}
		lit.Kind, lit.Value = edm.KindInt64, n
	case 'm':
		d, err := decimal.NewFromString(body)
		if err != nil {
			return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, string(edm.KindDecimal))
		}
		lit.Kind, lit.Value = edm.KindDecimal, d
	case 'd', 'f':
		f, err := strconv.ParseFloat(body, 64)
		if err != nil {
			return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, string(edm.KindDouble))
		}
		lit.Kind, lit.Value = edm.KindDouble, f
		if suffix == 'f' {
			lit.Kind = edm.KindSingle
		}
	default:
		if strings.ContainsAny(body, ".eE") {
			f, err := strconv.ParseFloat(body, 64)
			if err != nil {
				return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, string(edm.KindDouble))
			}
			lit.Kind, lit.Value = edm.KindDouble, f
			return lit, nil
		}
		n, err := strconv.ParseInt(body, 10, 64)
		if err != nil {
			return Literal{}, odataerr.Syntax(odataerr.KeyInvalidLiteral, text, string(edm.KindInt64))
		}
		lit.Kind, lit.Value = edm.KindInt32, n
		if n > math.MaxInt32 || n < math.MinInt32 {
			lit.Kind = edm.KindInt64
		}
	}
	return lit, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	digits := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= '0' && c <= '9':
			digits++
		case c == '-' || c == '+':
			if i != 0 && s[i-1] != 'e' && s[i-1] != 'E' {
				return false
			}
		case c == '.' || c == 'e' || c == 'E':
		default:
			return false
		}
	}
	return digits > 0
}

// unquote strips single quotes and collapses doubled quotes.
func unquote(text string) (string, bool) {
	if len(text) < 2 || text[0] != '\'' || text[len(text)-1] != '\'' {
		return "", false
	}
	inner := text[1 : len(text)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		if inner[i] == '\'' {
			if i+1 >= len(inner) || inner[i+1] != '\'' {
				return "", false
			}
			i++
		}
		b.WriteByte(inner[i])
	}
	return b.String(), true
}

// splitTyped splits prefix'body' literals such as datetime'2020-01-01T00:00'.
func splitTyped(text string) (string, string, bool) {
	i := strings.IndexByte(text, '\'')
	if i <= 0 || !strings.HasSuffix(text, "'") || len(text) < i+2 {
		return "", "", false
	}
	body, ok := unquote(text[i:])
	if !ok {
		return "", "", false
	}
	return text[:i], body, true
}

// parseDuration parses the xs:duration subset used by Edm.Time (PnDTnHnMnS).
func parseDuration(s string) (time.Duration, error) {
	invalid := odataerr.Syntax(odataerr.KeyInvalidLiteral, s, string(edm.KindTime))
	if !strings.HasPrefix(s, "P") {
		return 0, invalid
	}
	s = s[1:]
	var total time.Duration
	inTime := false
	num := ""
	for _, r := range s {
		switch {
		case r == 'T':
			inTime = true
		case (r >= '0' && r <= '9') || r == '.':
			num += string(r)
		default:
			if num == "" {
				return 0, invalid
			}
			v, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return 0, invalid
			}
			num = ""
			var unit time.Duration
			switch {
			case r == 'D' && !inTime:
				unit = 24 * time.Hour
			case r == 'H' && inTime:
				unit = time.Hour
			case r == 'M' && inTime:
				unit = time.Minute
			case r == 'S' && inTime:
				unit = time.Second
			default:
				return 0, invalid
			}
			total += time.Duration(v * float64(unit))
		}
	}
	if num != "" {
		return 0, invalid
	}
	return total, nil
}

// Coerce converts the literal to a value of kind. A null literal converts to nil.
func (l Literal) Coerce(kind edm.SimpleKind) (any, error) {
	if l.Kind == edm.KindNull {
		return nil, nil
	}
	mismatch := odataerr.Syntax(odataerr.KeyInvalidLiteral, l.Text, string(kind))

	switch {
	case kind == l.Kind && !kind.IsIntegral():
		return l.Value, nil
	case kind.IsIntegral():
		n, ok := l.Value.(int64)
		if !ok || !l.Kind.IsIntegral() || !fitsIntegral(kind, n) {
			return nil, mismatch
		}
		return n, nil
	case kind == edm.KindDouble || kind == edm.KindSingle:
		switch v := l.Value.(type) {
		case int64:
			return float64(v), nil
		case float64:
			return v, nil
		case decimal.Decimal:
			f, _ := v.Float64()
			return f, nil
		}
	case kind == edm.KindDecimal:
		switch v := l.Value.(type) {
		case int64:
			return decimal.NewFromInt(v), nil
		case float64:
			return decimal.NewFromFloat(v), nil
		}
	case kind == edm.KindDateTime && l.Kind == edm.KindDateTimeOffset:
		return l.Value.(time.Time).UTC(), nil
	case kind == edm.KindDateTimeOffset && l.Kind == edm.KindDateTime:
		return l.Value, nil
	case kind == edm.KindGuid && l.Kind == edm.KindString:
		if id, err := uuid.Parse(l.Value.(string)); err == nil {
			return id, nil
		}
	}
	return nil, mismatch
}

func fitsIntegral(kind edm.SimpleKind, n int64) bool {
	switch kind {
	case edm.KindByte:
		return n >= 0 && n <= math.MaxUint8
	case edm.KindSByte:
		return n >= math.MinInt8 && n <= math.MaxInt8
	case edm.KindInt16:
		return n >= math.MinInt16 && n <= math.MaxInt16
	case edm.KindInt32:
		return n >= math.MinInt32 && n <= math.MaxInt32
	}
	return true
}

// FormatLiteral renders v as a URI literal of kind, the inverse of ParseLiteral.
func FormatLiteral(kind edm.SimpleKind, v any) string {
	if v == nil {
		return "null"
	}
	switch kind {
	case edm.KindString:
		return "'" + strings.ReplaceAll(toString(v), "'", "''") + "'"
	case edm.KindInt64:
		return toString(v) + "L"
	case edm.KindDecimal:
		return toString(v) + "M"
	case edm.KindDouble:
		return toString(v) + "d"
	case edm.KindSingle:
		return toString(v) + "f"
	case edm.KindGuid:
		return "guid'" + toString(v) + "'"
	case edm.KindDateTime:
		if t, ok := v.(time.Time); ok {
			return "datetime'" + t.UTC().Format("2006-01-02T15:04:05.9999999") + "'"
		}
	case edm.KindDateTimeOffset:
		if t, ok := v.(time.Time); ok {
			return "datetimeoffset'" + t.Format(time.RFC3339Nano) + "'"
		}
	case edm.KindBinary:
		if b, ok := v.([]byte); ok {
			return "X'" + strings.ToUpper(hex.EncodeToString(b)) + "'"
		}
	}
	return toString(v)
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case int64:
		return strconv.FormatInt(x, 10)
	case int32:
		return strconv.FormatInt(int64(x), 10)
	case int16:
		return strconv.FormatInt(int64(x), 10)
	case int8:
		return strconv.FormatInt(int64(x), 10)
	case uint8:
		return strconv.FormatUint(uint64(x), 10)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(x)
	case interface{ String() string }:
		return x.String()
	}
	return ""
}
