package uri

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
)

// SystemOption names a $-prefixed system query option.
type SystemOption string

const (
	OptionFilter      SystemOption = "$filter"
	OptionExpand      SystemOption = "$expand"
	OptionSelect      SystemOption = "$select"
	OptionOrderBy     SystemOption = "$orderby"
	OptionSkip        SystemOption = "$skip"
	OptionTop         SystemOption = "$top"
	OptionSkipToken   SystemOption = "$skiptoken"
	OptionInlineCount SystemOption = "$inlinecount"
	OptionFormat      SystemOption = "$format"
)

var systemOptions = map[SystemOption]bool{
	OptionFilter: true, OptionExpand: true, OptionSelect: true, OptionOrderBy: true,
	OptionSkip: true, OptionTop: true, OptionSkipToken: true, OptionInlineCount: true,
	OptionFormat: true,
}

// InlineCount is the value of $inlinecount.
type InlineCount int

const (
	InlineCountNone InlineCount = iota
	InlineCountAllPages
)

// QueryOptions holds the parsed query string of a request.
type QueryOptions struct {
	Filter      *Expression
	OrderBy     []OrderByItem
	Expand      [][]string
	Select      []SelectItem
	Skip        *int
	Top         *int
	SkipToken   string
	InlineCount InlineCount
	Format      string
	// Custom holds every option without a $ prefix, unmodified.
	Custom map[string]string

	present map[SystemOption]bool
}

// Has reports whether opt was present in the query string.
func (o *QueryOptions) Has(opt SystemOption) bool {
	return o.present[opt]
}

// Present returns the system options of the query string in sorted order.
func (o *QueryOptions) Present() []SystemOption {
	out := make([]SystemOption, 0, len(o.present))
	for opt := range o.present {
		out = append(out, opt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseQueryOptions parses system and custom query options. Malformed,
// duplicate or unknown system options are syntax errors.
func ParseQueryOptions(values url.Values) (*QueryOptions, error) {
	opts := &QueryOptions{
		Custom:  make(map[string]string),
		present: make(map[SystemOption]bool),
	}

	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		vals := values[name]
		if !strings.HasPrefix(name, "$") {
			if len(vals) > 0 {
				opts.Custom[name] = vals[0]
			} else {
				opts.Custom[name] = ""
			}
			continue
		}

		opt := SystemOption(name)
		if !systemOptions[opt] {
			return nil, odataerr.Syntax(odataerr.KeyUnknownSystemOption, name)
		}
		if len(vals) > 1 {
			return nil, odataerr.Syntax(odataerr.KeyDuplicateOption, name)
		}
		value := ""
		if len(vals) == 1 {
			value = vals[0]
		}
		if err := opts.set(opt, value); err != nil {
			return nil, err
		}
		opts.present[opt] = true
	}
	return opts, nil
}

func (o *QueryOptions) set(opt SystemOption, value string) error {
	invalid := func() error {
		return odataerr.Syntax(odataerr.KeyInvalidOptionValue, value, string(opt))
	}
	if strings.TrimSpace(value) == "" {
		return invalid()
	}

	var err error
	switch opt {
	case OptionFilter:
		o.Filter, err = ParseExpression(value)
	case OptionOrderBy:
		o.OrderBy, err = ParseOrderBy(value)
	case OptionExpand:
		o.Expand, err = ParseExpand(value)
	case OptionSelect:
		o.Select, err = ParseSelect(value)
	case OptionSkip, OptionTop:
		n, convErr := strconv.Atoi(value)
		if convErr != nil || n < 0 {
			return invalid()
		}
		if opt == OptionSkip {
			o.Skip = &n
		} else {
			o.Top = &n
		}
	case OptionSkipToken:
		o.SkipToken = value
	case OptionInlineCount:
		switch value {
		case "allpages":
			o.InlineCount = InlineCountAllPages
		case "none":
			o.InlineCount = InlineCountNone
		default:
			return invalid()
		}
	case OptionFormat:
		o.Format = value
	}
	return err
}
