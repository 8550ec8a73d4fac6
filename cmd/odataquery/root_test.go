package main

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
)

func execute(t *testing.T, args ...string) (map[string]any, string, error) {
	t.Helper()
	dsn := "file:" + strings.ReplaceAll(t.Name(), "/", "_") + "?mode=memory&cache=shared"

	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(append([]string{"--demo", "--dsn", dsn}, args...))

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		return nil, stderr.String(), err
	}
	var out map[string]any
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, stdout.String())
	}
	return out, stderr.String(), nil
}

func TestRunCollection(t *testing.T) {
	out, _, err := execute(t, "--base-uri", "http://localhost/svc", "Employees?$filter=Age gt 43&$orderby=Age desc")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out["kind"] != "entity set" || out["entitySet"] != "Employees" {
		t.Errorf("kind = %v, entity set = %v", out["kind"], out["entitySet"])
	}
	results, _ := out["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
	first := results[0].(map[string]any)
	if uri := first["Metadata"].(map[string]any)["URI"]; uri != "http://localhost/svc/Employees('25')" {
		t.Errorf("URI = %v", uri)
	}
}

func TestRunCountAndTiming(t *testing.T) {
	out, stderr, err := execute(t, "--timing", "Rooms('R2')/Employees/$count")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	if out["count"] != float64(12) {
		t.Errorf("count = %v, want 12", out["count"])
	}
	if !strings.Contains(stderr, "Server-Timing:") || !strings.Contains(stderr, "execute") {
		t.Errorf("stderr = %q, want Server-Timing header", stderr)
	}
}

func TestRunServiceDocument(t *testing.T) {
	out, _, err := execute(t, "/")
	if err != nil {
		t.Fatalf("Execute() error: %v", err)
	}
	sets, _ := out["entitySets"].([]any)
	if len(sets) != 4 || out["container"] != "ODataServiceContainer" {
		t.Errorf("container = %v, entity sets = %v", out["container"], sets)
	}
}

func TestRunErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown set", []string{"Desks"}, "syntax error"},
		{"localized", []string{"--locale", "de", "Desks"}, "Ressourcensegment"},
		{"bad dialect", []string{"--dialect", "oracle", "Employees"}, "unsupported database dialect"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Execute() error = %v, want %q", err, tt.want)
			}
		})
	}
}
