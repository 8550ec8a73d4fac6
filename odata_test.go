package odata_test

import (
	"bytes"
	"context"
	"log/slog"
	"net/url"
	"reflect"
	"sort"
	"strings"
	"sync"
	"testing"

	odata "github.com/nlstn/go-odata-persist"
	"github.com/nlstn/go-odata-persist/internal/testmodel"
)

func newService(t *testing.T, cfg odata.ServiceConfig) *odata.Service {
	t.Helper()
	db := testmodel.OpenSeeded(t)
	if cfg.Namespace == "" {
		cfg.Namespace = testmodel.Namespace
	}
	service, err := odata.NewServiceWithConfig(db, cfg)
	if err != nil {
		t.Fatalf("NewServiceWithConfig() error: %v", err)
	}
	for _, m := range testmodel.Models() {
		if err := service.RegisterEntity(m); err != nil {
			t.Fatalf("RegisterEntity(%T) error: %v", m, err)
		}
	}
	return service
}

func process(t *testing.T, service *odata.Service, path, query string) *odata.Result {
	t.Helper()
	result, err := service.ProcessPath(context.Background(), path, query)
	if err != nil {
		t.Fatalf("ProcessPath(%s?%s) error: %v", path, query, err)
	}
	return result
}

func ids(entries []*odata.Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Properties["ID"].(string)
	}
	return out
}

func TestNewServiceRequiresDatabase(t *testing.T) {
	_, err := odata.NewService(nil)
	if err == nil {
		t.Fatal("NewService(nil) succeeded")
	}
	if !odata.IsRuntimeError(err) {
		t.Errorf("NewService(nil) error kind = %s, want runtime", odata.ErrorKind(err))
	}
	tests := []struct {
		locale string
		want   string
	}{
		{"", "a database handle is required"},
		{"de-DE", "ein Datenbank-Handle ist erforderlich"},
	}
	for _, tt := range tests {
		if got := odata.LocalizedMessage(err, tt.locale); got != tt.want {
			t.Errorf("LocalizedMessage(%q) = %q, want %q", tt.locale, got, tt.want)
		}
	}
}

func TestProcessEntitySet(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"filter and order", "$filter=Age gt 40&$orderby=Age desc", []string{"25", "24", "23", "22", "21"}},
		{"top and skip", "$orderby=Age&$top=2&$skip=4", []string{"5", "6"}},
		{"navigation filter", "$filter=Room/Name eq 'Borealis' and Age lt 27&$orderby=ID", []string{"2", "4", "6"}},
		{"complex filter", "$filter=Address/City eq 'Hamburg' and Age ge 42&$orderby=Age", []string{"22", "24"}},
		{"string function", "$filter=endswith(Name,'19')", []string{"19"}},
		{"wildcards match literally", "$filter=substringof('%25',Name) or startswith(Name,'Employee _1')", []string{}},
		{"negated member", "$filter=-Age lt -43&$orderby=ID", []string{"24", "25"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := process(t, service, "Employees", tt.query)
			if result.Kind != odata.ResourceEntitySet || result.EntitySet != "Employees" {
				t.Errorf("kind = %v, entity set = %q", result.Kind, result.EntitySet)
			}
			if got := ids(result.Entries); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("IDs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProcessEmployeesWithoutOptions(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	result := process(t, service, "Employees", "")
	if len(result.Entries) != testmodel.EmployeeCount {
		t.Fatalf("got %d entries, want %d", len(result.Entries), testmodel.EmployeeCount)
	}
	for _, e := range result.Entries {
		for _, name := range []string{"ID", "Name", "Age", "Salary", "HiredAt", "Address", "RoomID"} {
			if _, ok := e.Properties[name]; !ok {
				t.Fatalf("entry %s is missing %s", e.Metadata.URI, name)
			}
		}
		if _, ok := e.Properties["Room"]; ok {
			t.Fatalf("entry %s carries navigation property Room", e.Metadata.URI)
		}
	}

	result = process(t, service, "Employees", "$orderby=ID&$top=5&$skip=10&$inlinecount=allpages")
	if len(result.Entries) != 5 {
		t.Errorf("got %d entries, want 5", len(result.Entries))
	}
	if result.InlineCount == nil || *result.InlineCount != testmodel.EmployeeCount {
		t.Errorf("inline count = %v, want %d", result.InlineCount, testmodel.EmployeeCount)
	}
}

func TestProcessInlineCountAndPaging(t *testing.T) {
	service := newService(t, odata.ServiceConfig{PageSize: 10})

	result := process(t, service, "Employees", "$orderby=Age&$inlinecount=allpages")
	if len(result.Entries) != 10 || result.NextSkipToken != "10" {
		t.Fatalf("page 1: %d entries, token %q", len(result.Entries), result.NextSkipToken)
	}
	if result.InlineCount == nil || *result.InlineCount != testmodel.EmployeeCount {
		t.Errorf("inline count = %v, want %d", result.InlineCount, testmodel.EmployeeCount)
	}

	result = process(t, service, "Employees", "$orderby=Age&$skiptoken=20")
	if got, want := ids(result.Entries), []string{"21", "22", "23", "24", "25"}; !reflect.DeepEqual(got, want) {
		t.Errorf("last page = %v, want %v", got, want)
	}
	if result.NextSkipToken != "" {
		t.Errorf("last page token = %q, want none", result.NextSkipToken)
	}
}

func TestProcessEntityAndNotFound(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	ctx := context.Background()

	result, err := service.Process(ctx, odata.Request{
		Segments: []string{"Employees('3')", "Room"},
		Query:    url.Values{"$expand": {"Building"}},
		BaseURI:  "http://localhost/svc",
	})
	if err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	if result.Kind != odata.ResourceNavigationToOne || result.Entry == nil {
		t.Fatalf("kind = %v, entry = %v", result.Kind, result.Entry)
	}
	if result.Entry.Metadata.URI != "http://localhost/svc/Rooms('R1')" || result.Entry.Metadata.Type != "Demo.Room" {
		t.Errorf("metadata = %+v", result.Entry.Metadata)
	}
	buildings := result.Entry.Expanded["Building"]
	if len(buildings) != 1 || buildings[0].Properties["Name"] != "Headquarters" {
		t.Errorf("expanded building = %+v", buildings)
	}

	result = process(t, service, "Employees('999')", "")
	if !result.NotFound || result.Entry != nil {
		t.Errorf("Employees('999') = %+v, want not found", result)
	}

	result = process(t, service, "Employees(%2725%27)/Room", "")
	if !result.NotFound {
		t.Errorf("room of employee 25 = %+v, want not found", result.Entry)
	}
}

func TestProcessSelect(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	result := process(t, service, "Employees('2')", "$select=Name,Address&$expand=Room")
	props := result.Entry.Properties
	if len(props) != 2 || props["Name"] != "Employee 02" {
		t.Errorf("properties = %v", props)
	}
	address, ok := props["Address"].(odata.PropertyValueMap)
	if !ok || address["City"] != "Hamburg" {
		t.Errorf("address = %#v", props["Address"])
	}
	if rooms := result.Entry.Expanded["Room"]; len(rooms) != 1 || rooms[0].Properties["ID"] != "R2" {
		t.Errorf("expanded room = %+v", rooms)
	}
}

func TestProcessCountsAndProperties(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	tests := []struct {
		path  string
		query string
		count int64
	}{
		{"Employees/$count", "", 25},
		{"Employees/$count", "$filter=Age le 30", 10},
		{"Rooms('R2')/Employees/$count", "", 12},
		{"Employees('4')/$count", "", 1},
		{"Employees('404')/$count", "", 0},
		{"Teams(1L)/$links/Members/$count", "", 3},
	}
	for _, tt := range tests {
		result := process(t, service, tt.path, tt.query)
		if result.Count == nil || *result.Count != tt.count {
			t.Errorf("%s?%s count = %v, want %d", tt.path, tt.query, result.Count, tt.count)
		}
	}

	result := process(t, service, "Employees('1')/Address/City", "")
	if result.Kind != odata.ResourceSimpleProperty || result.Value != "Berlin" {
		t.Errorf("Address/City = %v (%v)", result.Value, result.Kind)
	}

	result = process(t, service, "Employees('1')/Age/$value", "")
	if !result.Raw || result.Value != int64(21) {
		t.Errorf("Age/$value = %#v raw=%v", result.Value, result.Raw)
	}

	result = process(t, service, "Employees('2')/Address", "")
	if m, ok := result.Value.(odata.PropertyValueMap); !ok || m["Street"] != "Main Street 2" {
		t.Errorf("Address = %#v", result.Value)
	}
}

func TestProcessLinks(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	result := process(t, service, "Teams(2L)/$links/Members", "")
	sort.Strings(result.Links)
	if want := []string{"Employees('3')", "Employees('4')"}; !reflect.DeepEqual(result.Links, want) {
		t.Errorf("links = %v, want %v", result.Links, want)
	}

	result = process(t, service, "Employees('1')/$links/Room", "")
	if !reflect.DeepEqual(result.Links, []string{"Rooms('R1')"}) {
		t.Errorf("link = %v", result.Links)
	}
}

func TestProcessDocuments(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	result := process(t, service, "", "")
	if result.Kind != odata.ResourceServiceDocument || result.Container == nil || len(result.Container.EntitySets) != 4 {
		t.Errorf("service document = %+v", result)
	}

	result = process(t, service, "$metadata", "")
	if result.Kind != odata.ResourceMetadata || result.Schema == nil || result.Container.Name != "DemoContainer" {
		t.Errorf("metadata document = %+v", result)
	}
}

func TestProcessPassesThroughFormatAndCustomOptions(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	result := process(t, service, "Rooms", "$format=json&tenant=acme")
	if result.Format != "json" || result.CustomOptions["tenant"] != "acme" {
		t.Errorf("format = %q, custom = %v", result.Format, result.CustomOptions)
	}
}

func TestProcessErrors(t *testing.T) {
	service := newService(t, odata.ServiceConfig{MaxExpandDepth: 1})

	tests := []struct {
		name  string
		path  string
		query string
		kind  string
	}{
		{"unknown entity set", "Desks", "", "syntax"},
		{"unknown option", "Employees", "$search=x", "syntax"},
		{"option not allowed for kind", "$metadata", "$filter=Age eq 1", "syntax"},
		{"unknown property", "Employees", "$filter=Desk eq 1", "semantic"},
		{"expand too deep", "Employees", "$expand=Room/Building", "semantic"},
		{"batch", "$batch", "", "semantic"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := service.ProcessPath(context.Background(), tt.path, tt.query)
			if err == nil {
				t.Fatalf("ProcessPath() = %+v, want error", result)
			}
			if got := odata.ErrorKind(err); got != tt.kind {
				t.Errorf("ErrorKind() = %s, want %s (%v)", got, tt.kind, err)
			}
		})
	}

	_, err := service.ProcessPath(context.Background(), "Desks", "")
	if !odata.IsSyntaxError(err) || odata.IsSemanticError(err) || odata.IsRuntimeError(err) {
		t.Errorf("kind predicates disagree for %v", err)
	}
	if msg := odata.LocalizedMessage(err, "de-DE,de;q=0.9"); !strings.HasPrefix(msg, "Ressourcensegment") {
		t.Errorf("German message = %q", msg)
	}
	if msg := odata.LocalizedMessage(err, ""); !strings.HasPrefix(msg, "resource segment") {
		t.Errorf("English message = %q", msg)
	}
}

func TestRegistrationAfterSchemaBuild(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	if err := service.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	type Late struct {
		ID int64 `gorm:"primaryKey"`
	}
	if err := service.RegisterEntity(&Late{}); !odata.IsSemanticError(err) {
		t.Errorf("RegisterEntity after build = %v, want semantic error", err)
	}
}

func TestSetLoggerAfterSchemaBuild(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	_ = service.Schema()

	var buf bytes.Buffer
	if err := service.SetLogger(slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))); err != nil {
		t.Fatalf("SetLogger() error: %v", err)
	}
	process(t, service, "Employees", "$top=1")
	if _, err := service.ProcessPath(context.Background(), "Desks", ""); err == nil {
		t.Fatal("ProcessPath(Desks) succeeded")
	}

	for _, msg := range []string{"Built entity type", "Request failed"} {
		if !strings.Contains(buf.String(), msg) {
			t.Errorf("log output is missing %q:\n%s", msg, buf.String())
		}
	}
}

func TestSetLoggerWhileProcessing(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	if err := service.Validate(); err != nil {
		t.Fatalf("Validate() error: %v", err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := service.ProcessPath(context.Background(), "Employees", "$filter=Age gt 30&$top=3"); err != nil {
				t.Errorf("ProcessPath() error: %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if err := service.SetLogger(slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))); err != nil {
				t.Errorf("SetLogger() error: %v", err)
			}
		}()
	}
	wg.Wait()
}

func TestProject(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})

	props, err := service.Project(context.Background(), &testmodel.Building{ID: "B9", Name: "Annex", City: "Bonn"}, "Buildings")
	if err != nil {
		t.Fatalf("Project() error: %v", err)
	}
	if want := (odata.PropertyValueMap{"ID": "B9", "Name": "Annex", "City": "Bonn"}); !reflect.DeepEqual(props, want) {
		t.Errorf("Project() = %v, want %v", props, want)
	}
	if _, err := service.Project(context.Background(), &testmodel.Building{}, "Desks"); err == nil {
		t.Error("Project() on unknown set succeeded")
	}
}

func TestServerTiming(t *testing.T) {
	service := newService(t, odata.ServiceConfig{})
	if err := service.SetObservability(odata.ObservabilityConfig{EnableServerTiming: true}); err != nil {
		t.Fatalf("SetObservability() error: %v", err)
	}

	ctx, header := odata.WithServerTiming(context.Background())
	if _, err := service.Process(ctx, odata.Request{Segments: []string{"Employees"}}); err != nil {
		t.Fatalf("Process() error: %v", err)
	}
	value := header.String()
	for _, stage := range []string{"resolve", "hooks", "build", "execute", "project", "db"} {
		if !strings.Contains(value, stage) {
			t.Errorf("Server-Timing %q is missing %s", value, stage)
		}
	}
}

func TestLoadServiceConfig(t *testing.T) {
	t.Setenv("TEST_ODATA_PAGE_SIZE", "5")
	t.Setenv("TEST_ODATA_STRICT_NAVIGATION", "true")

	cfg, err := odata.LoadServiceConfig("TEST_ODATA_")
	if err != nil {
		t.Fatalf("LoadServiceConfig() error: %v", err)
	}
	want := odata.ServiceConfig{
		Namespace:        odata.DefaultNamespace,
		PageSize:         5,
		StrictNavigation: true,
		MaxExpandDepth:   odata.DefaultMaxExpandDepth,
	}
	if cfg != want {
		t.Errorf("LoadServiceConfig() = %+v, want %+v", cfg, want)
	}

	t.Setenv("TEST_ODATA_MAX_TOP", "lots")
	if _, err := odata.LoadServiceConfig("TEST_ODATA_"); err == nil {
		t.Error("LoadServiceConfig() accepted a malformed integer")
	}
}
