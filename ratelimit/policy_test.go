package ratelimit

import (
	"errors"
	"strings"
	"testing"
)

func TestLoadPolicyTable(t *testing.T) {
	doc := `
default: {requests: 100, window: 60, burst: 20}
policies:
  /api/run: {requests: 60, window: 60, burst: 10, degrade: true}
  /api/run/batch: {requests: 5, window: 60}
`
	table, err := LoadPolicyTable(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("LoadPolicyTable failed: %v", err)
	}

	route, policy := table.Lookup("/api/run/batch/42")
	if route != "/api/run/batch" || policy.Requests != 5 {
		t.Fatalf("expected most specific match, got %s %+v", route, policy)
	}

	route, policy = table.Lookup("/api/run")
	if route != "/api/run" || !policy.Degrade {
		t.Fatalf("expected exact match with degrade, got %s %+v", route, policy)
	}

	route, policy = table.Lookup("/api/runner")
	if route != DefaultRoute || policy.Requests != 100 {
		t.Fatalf("expected sibling path to fall back to default, got %s %+v", route, policy)
	}
}

func TestLoadPolicyTableRejectsUnknownFields(t *testing.T) {
	doc := `
default: {requests: 100, window: 60, rate: 5}
`
	if _, err := LoadPolicyTable(strings.NewReader(doc)); err == nil {
		t.Fatal("expected unknown field to be rejected")
	}
}

func TestNewPolicyTableValidation(t *testing.T) {
	good := Policy{Requests: 1, WindowSeconds: 1}

	tests := []struct {
		name     string
		fallback Policy
		routes   map[string]Policy
	}{
		{name: "zero default", fallback: Policy{}},
		{name: "zero window", fallback: good, routes: map[string]Policy{"/a": {Requests: 1}}},
		{name: "negative burst", fallback: good, routes: map[string]Policy{"/a": {Requests: 1, WindowSeconds: 1, Burst: -1}}},
		{name: "relative pattern", fallback: good, routes: map[string]Policy{"api": good}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewPolicyTable(tt.fallback, tt.routes)
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Fatalf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestDefaultPolicyTable(t *testing.T) {
	table := DefaultPolicyTable()

	route, policy := table.Lookup("/api/auth/login")
	if route != "/api/auth/login" || policy.Requests != 5 || policy.WindowSeconds != 300 {
		t.Fatalf("unexpected login policy %s %+v", route, policy)
	}
	if _, policy := table.Lookup("/api/gpt-test"); !policy.Degrade {
		t.Fatal("expected /api/gpt-test to be degrade eligible")
	}
	if _, policy := table.Lookup("/dashboard"); policy.Requests != 100 {
		t.Fatalf("expected general default, got %+v", policy)
	}
}
