package odata_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"

	odata "github.com/nlstn/go-odata-persist"
	"github.com/nlstn/go-odata-persist/internal/testmodel"
)

func registerFunctions(t *testing.T, service *odata.Service) {
	t.Helper()
	functions := []odata.FunctionImport{
		{
			Name:       "OldestEmployees",
			Return:     odata.ReturnEntityCollection,
			ReturnType: "Employee",
			Parameters: []odata.FunctionParameter{{Name: "count", Kind: odata.EdmInt32}},
			Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
				db, ok := odata.SessionFromContext(ctx)
				if !ok {
					return nil, errors.New("no session")
				}
				var out []testmodel.Employee
				err := db.Order("age desc").Limit(int(params["count"].(int64))).Find(&out).Error
				return out, err
			},
		},
		{
			Name:       "Headcount",
			Return:     odata.ReturnSimple,
			ReturnType: "Edm.Int64",
			Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
				db, _ := odata.SessionFromContext(ctx)
				var n int64
				err := db.Model(&testmodel.Employee{}).Count(&n).Error
				return n, err
			},
		},
		{
			Name:       "Locations",
			Return:     odata.ReturnComplexCollection,
			ReturnType: "Address",
			Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
				return []testmodel.Address{
					{Street: "Main Street 1", City: "Berlin", Country: "DE"},
					{Street: "Harbour 2", City: "Hamburg", Country: "DE"},
				}, nil
			},
		},
		{
			Name:       "Manager",
			Return:     odata.ReturnEntity,
			ReturnType: "Employee",
			Parameters: []odata.FunctionParameter{{Name: "id", Kind: odata.EdmString}},
			Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
				if params["id"] != "1" {
					return nil, nil
				}
				return &testmodel.Employee{ID: "2", Name: "Employee 02"}, nil
			},
		},
		{
			Name:       "Broken",
			Return:     odata.ReturnSimpleCollection,
			ReturnType: "Edm.String",
			Handler: func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
				return nil, fmt.Errorf("backend unavailable")
			},
		},
	}
	for _, f := range functions {
		if err := service.RegisterFunctionImport(f); err != nil {
			t.Fatalf("RegisterFunctionImport(%s) error: %v", f.Name, err)
		}
	}
}

func TestFunctionImports(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	registerFunctions(t, service)

	result := process(t, service, "OldestEmployees", "count=3")
	if result.Kind != odata.ResourceFunctionImportEntities {
		t.Errorf("kind = %v", result.Kind)
	}
	if got, want := ids(result.Entries), []string{"25", "24", "23"}; !reflect.DeepEqual(got, want) {
		t.Errorf("OldestEmployees = %v, want %v", got, want)
	}

	result = process(t, service, "Headcount", "")
	if result.Value != int64(testmodel.EmployeeCount) {
		t.Errorf("Headcount = %#v", result.Value)
	}

	result = process(t, service, "Locations", "")
	locations, ok := result.Value.([]odata.PropertyValueMap)
	if !ok || len(locations) != 2 || locations[1]["City"] != "Hamburg" {
		t.Errorf("Locations = %#v", result.Value)
	}

	result = process(t, service, "Manager", "id='1'")
	if result.Entry == nil || result.Entry.Properties["ID"] != "2" {
		t.Errorf("Manager = %+v", result.Entry)
	}
	result = process(t, service, "Manager", "id='9'")
	if !result.NotFound {
		t.Errorf("Manager of 9 = %+v, want not found", result.Entry)
	}
}

func TestFunctionImportErrors(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	registerFunctions(t, service)

	tests := []struct {
		name  string
		path  string
		query string
		kind  string
	}{
		{"missing parameter", "OldestEmployees", "", "syntax"},
		{"parameter of wrong kind", "OldestEmployees", "count='x'", "syntax"},
		{"handler failure", "Broken", "", "runtime"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.ProcessPath(context.Background(), tt.path, tt.query)
			if got := odata.ErrorKind(err); got != tt.kind {
				t.Errorf("ErrorKind() = %s, want %s (%v)", got, tt.kind, err)
			}
		})
	}
}

func TestRegisterFunctionImport(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	noop := func(ctx context.Context, params map[string]any, opts *odata.QueryOptions) (any, error) {
		return nil, nil
	}

	tests := []struct {
		name string
		f    odata.FunctionImport
	}{
		{"empty name", odata.FunctionImport{Return: odata.ReturnSimple, ReturnType: "Edm.Int32", Handler: noop}},
		{"missing handler", odata.FunctionImport{Name: "F", Return: odata.ReturnSimple, ReturnType: "Edm.Int32"}},
		{"invalid return", odata.FunctionImport{Name: "F", Return: odata.ReturnKind(99), Handler: noop}},
	}
	for _, tt := range tests {
		if err := service.RegisterFunctionImport(tt.f); err == nil {
			t.Errorf("%s: RegisterFunctionImport() succeeded", tt.name)
		}
	}

	f := odata.FunctionImport{Name: "Ping", Return: odata.ReturnSimple, ReturnType: "Edm.Boolean", Handler: noop}
	if err := service.RegisterFunctionImport(f); err != nil {
		t.Fatalf("RegisterFunctionImport() error: %v", err)
	}
	if err := service.RegisterFunctionImport(f); !odata.IsSemanticError(err) {
		t.Errorf("duplicate registration = %v, want semantic error", err)
	}

	_ = service.Schema()
	f.Name = "Pong"
	if err := service.RegisterFunctionImport(f); !odata.IsSemanticError(err) {
		t.Errorf("registration after build = %v, want semantic error", err)
	}
}
