// Package hooks discovers and invokes the optional read hooks of entity types.
//
// Hooks are plain methods found by reflection; there is no interface to
// implement. Before hooks contribute extra query scopes, after hooks may
// replace the rows that were read.
//
//	func (Employee) ODataBeforeReadCollection(ctx context.Context, opts *uri.QueryOptions) ([]scope.QueryScope, error)
//	func (Employee) ODataBeforeReadEntity(ctx context.Context, opts *uri.QueryOptions) ([]scope.QueryScope, error)
//	func (Employee) ODataAfterReadCollection(ctx context.Context, opts *uri.QueryOptions, results any) (any, error)
//	func (Employee) ODataAfterReadEntity(ctx context.Context, opts *uri.QueryOptions, entity any) (any, error)
package hooks

import (
	"context"
	"reflect"
	"sync"

	"github.com/nlstn/go-odata-persist/internal/odataerr"
	"github.com/nlstn/go-odata-persist/internal/scope"
	"github.com/nlstn/go-odata-persist/internal/uri"
)

// Hook method names.
const (
	BeforeReadCollection = "ODataBeforeReadCollection"
	BeforeReadEntity     = "ODataBeforeReadEntity"
	AfterReadCollection  = "ODataAfterReadCollection"
	AfterReadEntity      = "ODataAfterReadEntity"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	optionsType = reflect.TypeOf((*uri.QueryOptions)(nil))
	scopesType  = reflect.TypeOf([]scope.QueryScope(nil))
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	anyType     = reflect.TypeOf((*any)(nil)).Elem()
)

// Set records which hooks a Go type declares.
type Set struct {
	Type                    reflect.Type
	HasBeforeReadCollection bool
	HasBeforeReadEntity     bool
	HasAfterReadCollection  bool
	HasAfterReadEntity      bool
}

var discovered sync.Map // reflect.Type -> Set

// Discover inspects t, a struct type, for hook methods with the expected
// signatures. Methods with other signatures are ignored.
func Discover(t reflect.Type) Set {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := discovered.Load(t); ok {
		return cached.(Set)
	}
	s := Set{
		Type:                    t,
		HasBeforeReadCollection: hasMethod(t, BeforeReadCollection, beforeSignature),
		HasBeforeReadEntity:     hasMethod(t, BeforeReadEntity, beforeSignature),
		HasAfterReadCollection:  hasMethod(t, AfterReadCollection, afterSignature),
		HasAfterReadEntity:      hasMethod(t, AfterReadEntity, afterSignature),
	}
	discovered.Store(t, s)
	return s
}

func hasMethod(t reflect.Type, name string, check func(reflect.Type) bool) bool {
	if m, ok := reflect.PointerTo(t).MethodByName(name); ok {
		// Method types of the method set include the receiver.
		return check(m.Type)
	}
	return false
}

func beforeSignature(m reflect.Type) bool {
	return m.NumIn() == 3 && m.In(1) == contextType && m.In(2) == optionsType &&
		m.NumOut() == 2 && m.Out(0) == scopesType && m.Out(1) == errorType
}

func afterSignature(m reflect.Type) bool {
	return m.NumIn() == 4 && m.In(1) == contextType && m.In(2) == optionsType && m.In(3) == anyType &&
		m.NumOut() == 2 && m.Out(0) == anyType && m.Out(1) == errorType
}

// BeforeRead calls the before hook for a collection or a single entity and
// returns the scopes it contributes.
func (s Set) BeforeRead(ctx context.Context, single bool, opts *uri.QueryOptions) ([]scope.QueryScope, error) {
	name := BeforeReadCollection
	if single {
		if !s.HasBeforeReadEntity {
			return nil, nil
		}
		name = BeforeReadEntity
	} else if !s.HasBeforeReadCollection {
		return nil, nil
	}

	results := s.invoke(name, ctx, opts)
	if err := hookError(s, name, results[1]); err != nil {
		return nil, err
	}
	scopes, _ := results[0].Interface().([]scope.QueryScope)
	return scopes, nil
}

// AfterRead calls the after hook. It returns the replacement value and
// whether the hook provided one.
func (s Set) AfterRead(ctx context.Context, single bool, opts *uri.QueryOptions, value any) (any, bool, error) {
	name := AfterReadCollection
	if single {
		if !s.HasAfterReadEntity {
			return nil, false, nil
		}
		name = AfterReadEntity
	} else if !s.HasAfterReadCollection {
		return nil, false, nil
	}

	results := s.invoke(name, ctx, opts, value)
	if err := hookError(s, name, results[1]); err != nil {
		return nil, false, err
	}
	// A nil interface means no override.
	if first := results[0]; first.IsNil() {
		return nil, false, nil
	}
	return results[0].Interface(), true, nil
}

// invoke instantiates a zero entity and calls the named method on it.
func (s Set) invoke(name string, args ...any) []reflect.Value {
	method := reflect.New(s.Type).MethodByName(name)
	callArgs := make([]reflect.Value, len(args))
	for i, arg := range args {
		if arg == nil || (reflect.ValueOf(arg).Kind() == reflect.Ptr && reflect.ValueOf(arg).IsNil()) {
			callArgs[i] = reflect.Zero(method.Type().In(i))
			continue
		}
		callArgs[i] = reflect.ValueOf(arg)
	}
	return method.Call(callArgs)
}

func hookError(s Set, name string, v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	err, _ := v.Interface().(error)
	if e, ok := odataerr.As(err); ok {
		return e
	}
	return odataerr.Runtime(err, odataerr.KeyHookFailed, name, s.Type.Name())
}
