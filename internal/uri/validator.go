package uri

import "github.com/nlstn/go-odata-persist/internal/odataerr"

type optionSet map[SystemOption]bool

func options(opts ...SystemOption) optionSet {
	set := make(optionSet, len(opts))
	for _, o := range opts {
		set[o] = true
	}
	return set
}

var allOptions = options(OptionFilter, OptionExpand, OptionSelect, OptionOrderBy,
	OptionSkip, OptionTop, OptionSkipToken, OptionInlineCount, OptionFormat)

// compatibility lists the system options each resource kind accepts.
var compatibility = map[ResourceKind]optionSet{
	KindServiceDocument:                 options(OptionFormat),
	KindEntitySet:                       allOptions,
	KindEntity:                          options(OptionFormat, OptionFilter, OptionExpand, OptionSelect),
	KindEntityCount:                     options(OptionFilter, OptionOrderBy, OptionSkip, OptionTop, OptionExpand),
	KindSingleEntityCount:               options(OptionFilter, OptionExpand),
	KindComplexProperty:                 options(OptionFormat),
	KindSimpleProperty:                  options(OptionFormat),
	KindSimplePropertyValue:             options(),
	KindNavigationToOne:                 options(OptionFormat, OptionFilter, OptionExpand, OptionSelect),
	KindNavigationToMany:                allOptions,
	KindLink:                            options(OptionFormat),
	KindLinks:                           options(OptionFormat, OptionFilter, OptionOrderBy, OptionSkip, OptionTop, OptionSkipToken, OptionInlineCount),
	KindLinksCount:                      options(OptionFilter, OptionOrderBy, OptionSkip, OptionTop),
	KindMetadata:                        options(),
	KindBatch:                           options(),
	KindFunctionImportEntity:            options(OptionFormat),
	KindFunctionImportEntities:          options(OptionFormat),
	KindFunctionImportComplex:           options(OptionFormat),
	KindFunctionImportComplexCollection: options(OptionFormat),
	KindFunctionImportSimple:            options(OptionFormat),
	KindFunctionImportSimpleCollection:  options(OptionFormat),
}

// Allowed reports whether opt may be used with kind.
func Allowed(kind ResourceKind, opt SystemOption) bool {
	return compatibility[kind][opt]
}

// Validate rejects system options that are not allowed for kind. Custom
// options are never checked.
func Validate(kind ResourceKind, opts *QueryOptions) error {
	if opts == nil {
		return nil
	}
	for _, opt := range opts.Present() {
		if !Allowed(kind, opt) {
			return odataerr.Syntax(odataerr.KeyIncompatibleOption, string(opt), kind.String())
		}
	}
	return nil
}
