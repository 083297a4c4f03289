package main

import (
	"encoding/json"
	"strings"
	"testing"
)

// ============ Backends Tests ============

func TestBackends_JSON(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{extraBackend: true})

	out, err := executeCommand(t, "backends", "--config", cfgPath, "--output", "json")
	if err != nil {
		t.Fatalf("backends error = %v\n%s", err, out)
	}

	var got backendTable
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("backends output is not JSON: %v\n%s", err, out)
	}
	if got.Active != "primary" {
		t.Errorf("active = %q, want primary", got.Active)
	}
	if len(got.Backends) != 2 {
		t.Fatalf("listed %d backends, want 2", len(got.Backends))
	}
	if got.Backends[0].ID != "primary" || got.Backends[1].ID != "secondary" {
		t.Errorf("order = %s, %s; want primary, secondary", got.Backends[0].ID, got.Backends[1].ID)
	}
	if got.Backends[1].AuthScheme != "bearer" {
		t.Errorf("secondary auth scheme = %q, want bearer", got.Backends[1].AuthScheme)
	}
	if strings.Contains(out, "upstream-secret") || strings.Contains(out, "secondary-secret") {
		t.Errorf("backends output leaks API keys:\n%s", out)
	}
}

func TestBackends_Table(t *testing.T) {
	cfgPath := writeTestConfig(t, testConfigOptions{extraBackend: true})

	out, err := executeCommand(t, "backends", "--config", cfgPath)
	if err != nil {
		t.Fatalf("backends error = %v", err)
	}
	for _, want := range []string{"primary", "secondary", "https://primary.example.com", "*"} {
		if !strings.Contains(out, want) {
			t.Errorf("backends table missing %q:\n%s", want, out)
		}
	}
}
