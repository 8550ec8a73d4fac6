package odata

import (
	"context"
	"fmt"
	"reflect"

	"github.com/nlstn/go-odata-persist/internal/edm"
	"github.com/nlstn/go-odata-persist/internal/executor"
	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/projector"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// ReturnKind classifies the result of a function import.
type ReturnKind = edm.ReturnKind

const (
	ReturnEntity            = edm.ReturnEntity
	ReturnEntityCollection  = edm.ReturnEntityCollection
	ReturnComplex           = edm.ReturnComplex
	ReturnComplexCollection = edm.ReturnComplexCollection
	ReturnSimple            = edm.ReturnSimple
	ReturnSimpleCollection  = edm.ReturnSimpleCollection
)

// EdmKind names a primitive EDM type.
type EdmKind = edm.SimpleKind

// Primitive EDM types
const (
	EdmString         = edm.KindString
	EdmBoolean        = edm.KindBoolean
	EdmByte           = edm.KindByte
	EdmSByte          = edm.KindSByte
	EdmInt16          = edm.KindInt16
	EdmInt32          = edm.KindInt32
	EdmInt64          = edm.KindInt64
	EdmSingle         = edm.KindSingle
	EdmDouble         = edm.KindDouble
	EdmDecimal        = edm.KindDecimal
	EdmDateTime       = edm.KindDateTime
	EdmDateTimeOffset = edm.KindDateTimeOffset
	EdmTime           = edm.KindTime
	EdmGuid           = edm.KindGuid
	EdmBinary         = edm.KindBinary
)

// FunctionParameter is a typed function import parameter. Parameters are
// passed as custom query options and converted to Kind before the handler runs.
type FunctionParameter = edm.FunctionParameter

// FunctionHandler computes the result of a function import. params holds the
// converted parameter values by name.
//
// The returned value must match the declared return kind: an entity (*T or T)
// or a slice of them for entity results, a struct or a slice of structs for
// complex results, and a primitive value or a slice of them otherwise.
// Returning nil for ReturnEntity produces a not-found result.
type FunctionHandler func(ctx context.Context, params map[string]any, opts *QueryOptions) (any, error)

// FunctionImport declares a service operation.
type FunctionImport struct {
	Name string
	// Return and ReturnType select the result type. ReturnType names an
	// entity type or a complex type of the service namespace, or a primitive
	// EDM type such as "Edm.Int32", depending on Return.
	Return     ReturnKind
	ReturnType string
	Parameters []FunctionParameter
	// HTTPMethod defaults to GET.
	HTTPMethod string
	Handler    FunctionHandler
}

func (f FunctionImport) definition() edm.FunctionImportDefinition {
	return edm.FunctionImportDefinition{
		Name:       f.Name,
		Return:     f.Return,
		ReturnType: f.ReturnType,
		Parameters: f.Parameters,
		HTTPMethod: f.HTTPMethod,
	}
}

// RegisterFunctionImport adds a function import to the default container.
// Function imports must be registered before the schema is first used.
//
// # Example
//
//	err := service.RegisterFunctionImport(odata.FunctionImport{
//	    Name:       "OldestEmployees",
//	    Return:     odata.ReturnEntityCollection,
//	    ReturnType: "Employee",
//	    Parameters: []odata.FunctionParameter{{Name: "count", Kind: odata.EdmInt32}},
//	    Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
//	        db, _ := odata.SessionFromContext(ctx)
//	        var out []Employee
//	        err := db.Order("age desc").Limit(int(params["count"].(int64))).Find(&out).Error
//	        return out, err
//	    },
//	})
func (s *Service) RegisterFunctionImport(f FunctionImport) error {
	if f.Name == "" {
		return fmt.Errorf("function import name cannot be empty")
	}
	if f.Handler == nil {
		return fmt.Errorf("function import %s requires a handler", f.Name)
	}
	if f.Return < ReturnEntity || f.Return > ReturnSimpleCollection {
		return fmt.Errorf("function import %s has an invalid return kind", f.Name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.schema != nil {
		return odataerr.Semantic(odataerr.KeySchemaSealed, "function import "+f.Name)
	}
	if _, exists := s.handlers[f.Name]; exists {
		return odataerr.Semantic(odataerr.KeyDuplicateName, "function import", f.Name)
	}
	s.functions = append(s.functions, f)
	s.handlers[f.Name] = f.Handler
	return nil
}

func (s *Service) functionHandler(name string) (FunctionHandler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[name]
	return h, ok
}

// callFunction runs the handler of the addressed function import and
// projects its result according to the declared return kind.
func (s *Service) callFunction(ctx context.Context, path *uri.ResourcePath, opts *uri.QueryOptions, result *Result) error {
	fi := path.FunctionImport
	handler, ok := s.functionHandler(fi.Name)
	if !ok {
		return odataerr.Semantic(odataerr.KeyUnsupportedQuery, "function import "+fi.Name)
	}

	value, err := handler(ctx, path.Parameters, opts)
	if err != nil {
		if e, ok := odataerr.As(err); ok {
			return e
		}
		return odataerr.Runtime(err, odataerr.KeyFunctionFailed, fi.Name)
	}

	switch fi.Return {
	case ReturnEntity:
		if isNil(value) {
			result.NotFound = true
			return nil
		}
		entry, err := projector.ProjectRow(ctx, &executor.Row{Entity: value}, fi.EntitySet, path.Container, opts.Select)
		if err != nil {
			return err
		}
		result.Entry = entry
	case ReturnEntityCollection:
		entities, err := entitySlice(orEmpty(value), fi.EntitySet.Type.Name.String())
		if err != nil {
			return err
		}
		rows := make([]*executor.Row, len(entities))
		for i, e := range entities {
			rows[i] = &executor.Row{Entity: e}
		}
		result.Entries, err = projectRows(ctx, rows, fi.EntitySet, path.Container, opts.Select)
		return err
	case ReturnComplex:
		if isNil(value) {
			return nil
		}
		m, err := projector.ProjectComplex(value, fi.ComplexType)
		if err != nil {
			return err
		}
		result.Value = m
	case ReturnComplexCollection:
		items, err := entitySlice(orEmpty(value), fi.ComplexType.Name.String())
		if err != nil {
			return err
		}
		out := make([]PropertyValueMap, len(items))
		for i, item := range items {
			if out[i], err = projector.ProjectComplex(item, fi.ComplexType); err != nil {
				return err
			}
		}
		result.Value = out
	case ReturnSimple:
		v, err := projector.Convert(value, fi.SimpleKind)
		if err != nil {
			return odataerr.Runtime(err, odataerr.KeyConversionFailed, fi.Name, string(fi.SimpleKind))
		}
		result.Value = v
	case ReturnSimpleCollection:
		rv := reflect.ValueOf(orEmpty(value))
		if rv.Kind() != reflect.Slice {
			return odataerr.Runtime(nil, odataerr.KeyConversionFailed, fi.Name, string(fi.SimpleKind))
		}
		out := make([]any, rv.Len())
		for i := range out {
			v, err := projector.Convert(rv.Index(i).Interface(), fi.SimpleKind)
			if err != nil {
				return odataerr.Runtime(err, odataerr.KeyConversionFailed, fi.Name, string(fi.SimpleKind))
			}
			out[i] = v
		}
		result.Value = out
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Slice, reflect.Map, reflect.Interface:
		return rv.IsNil()
	}
	return false
}

// orEmpty turns a nil result into an empty collection.
func orEmpty(v any) any {
	if v == nil {
		return []any{}
	}
	return v
}
