package wasm

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

// addModule exports add(i32, i32) -> i32.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestModuleCall(t *testing.T) {
	ctx := context.Background()
	m, err := Load(ctx, "math", addModule, nil)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	defer m.Close(ctx)

	if got := m.Functions(); !reflect.DeepEqual(got, []string{"add"}) {
		t.Errorf("Expected [add], got %v", got)
	}
	if !m.Has("add") || m.Has("sub") {
		t.Error("Unexpected Has results")
	}

	tests := []struct {
		name string
		args []any
		want any
	}{
		{"ints", []any{2, 3}, int64(5)},
		{"int64", []any{int64(40), int64(2)}, int64(42)},
		{"negative", []any{-1, 0}, int64(-1)},
		{"integral float", []any{1.0, 2.0}, int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := m.Call(ctx, "add", tt.args...)
			if err != nil {
				t.Fatalf("Failed to call add: %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v (%T)", tt.want, got, got)
			}
		})
	}
}

func TestModuleCallErrors(t *testing.T) {
	ctx := context.Background()
	m, err := Load(ctx, "math", addModule, &Config{})
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	defer m.Close(ctx)

	if _, err := m.Call(ctx, "sub", 1, 2); err == nil {
		t.Error("Expected error for unknown function")
	}
	if _, err := m.Call(ctx, "add", 1); err == nil {
		t.Error("Expected error for wrong argument count")
	}
	if _, err := m.Call(ctx, "add", "one", 2); err == nil {
		t.Error("Expected error for non-numeric argument")
	}
	if _, err := m.Call(ctx, "malloc", 1); err == nil {
		t.Error("Expected reserved export to be refused")
	}
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "calc.wasm")
	if err := os.WriteFile(path, addModule, 0644); err != nil {
		t.Fatalf("Failed to write module: %v", err)
	}

	m, err := LoadFile(ctx, path, nil)
	if err != nil {
		t.Fatalf("Failed to load file: %v", err)
	}
	defer m.Close(ctx)
	if m.Name() != "calc" {
		t.Errorf("Expected name calc, got %s", m.Name())
	}

	if _, err := Load(ctx, "bad", []byte("not wasm"), nil); err == nil {
		t.Error("Expected compile error for invalid bytes")
	}
}
