package uri

import "github.com/nlstn/go-odata-persist/internal/edm"

// ResourceKind classifies a resolved resource path. The set is closed.
type ResourceKind int

const (
	KindServiceDocument ResourceKind = iota
	KindEntitySet
	KindEntity
	KindEntityCount
	KindSingleEntityCount
	KindComplexProperty
	KindSimpleProperty
	KindSimplePropertyValue
	KindNavigationToOne
	KindNavigationToMany
	KindLink
	KindLinks
	KindLinksCount
	KindMetadata
	KindBatch
	KindFunctionImportEntity
	KindFunctionImportEntities
	KindFunctionImportComplex
	KindFunctionImportComplexCollection
	KindFunctionImportSimple
	KindFunctionImportSimpleCollection
)

var kindNames = map[ResourceKind]string{
	KindServiceDocument:                 "service document",
	KindEntitySet:                       "entity set",
	KindEntity:                          "entity",
	KindEntityCount:                     "entity count",
	KindSingleEntityCount:               "single entity count",
	KindComplexProperty:                 "complex property",
	KindSimpleProperty:                  "simple property",
	KindSimplePropertyValue:             "simple property value",
	KindNavigationToOne:                 "navigation to one",
	KindNavigationToMany:                "navigation to many",
	KindLink:                            "entity link",
	KindLinks:                           "entity links",
	KindLinksCount:                      "entity links count",
	KindMetadata:                        "metadata",
	KindBatch:                           "batch",
	KindFunctionImportEntity:            "function import entity",
	KindFunctionImportEntities:          "function import entities",
	KindFunctionImportComplex:           "function import complex",
	KindFunctionImportComplexCollection: "function import complex collection",
	KindFunctionImportSimple:            "function import simple",
	KindFunctionImportSimpleCollection:  "function import simple collection",
}

func (k ResourceKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Classify derives the resource kind from the structure of the path alone.
func Classify(p *ResourcePath) ResourceKind {
	switch {
	case p.Metadata:
		return KindMetadata
	case p.Batch:
		return KindBatch
	case p.FunctionImport != nil:
		switch p.FunctionImport.Return {
		case edm.ReturnEntity:
			return KindFunctionImportEntity
		case edm.ReturnEntityCollection:
			return KindFunctionImportEntities
		case edm.ReturnComplex:
			return KindFunctionImportComplex
		case edm.ReturnComplexCollection:
			return KindFunctionImportComplexCollection
		case edm.ReturnSimpleCollection:
			return KindFunctionImportSimpleCollection
		default:
			return KindFunctionImportSimple
		}
	case p.EntitySet == nil:
		return KindServiceDocument
	case p.Links:
		switch {
		case p.Count:
			return KindLinksCount
		case p.TargetIsCollection():
			return KindLinks
		default:
			return KindLink
		}
	case len(p.Properties) > 0:
		last := p.Properties[len(p.Properties)-1]
		switch {
		case last.Complex != nil:
			return KindComplexProperty
		case p.Value:
			return KindSimplePropertyValue
		default:
			return KindSimpleProperty
		}
	case p.Count:
		if p.TargetIsCollection() {
			return KindEntityCount
		}
		return KindSingleEntityCount
	case len(p.Navigation) > 0:
		if p.TargetIsCollection() {
			return KindNavigationToMany
		}
		return KindNavigationToOne
	case len(p.Keys) > 0:
		return KindEntity
	default:
		return KindEntitySet
	}
}
