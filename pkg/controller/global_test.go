package controller

import (
	"context"
	"testing"

	"github.com/openfroyo/modhost/pkg/providers/wasm"
	"github.com/openfroyo/modhost/pkg/runmode"
	"github.com/openfroyo/modhost/pkg/script"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

// addModule exports add(i32, i32) i32.
var addModule = []byte{
	0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00,
	0x01, 0x07, 0x01, 0x60, 0x02, 0x7f, 0x7f, 0x01, 0x7f,
	0x03, 0x02, 0x01, 0x00,
	0x07, 0x07, 0x01, 0x03, 0x61, 0x64, 0x64, 0x00, 0x00,
	0x0a, 0x09, 0x01, 0x07, 0x00, 0x20, 0x00, 0x20, 0x01, 0x6a, 0x0b,
}

func TestWasmHelper(t *testing.T) {
	f := newFixture(t, runmode.Live, nil)
	impl, _ := f.registry.Register("Calc", t.TempDir())
	ctx := context.Background()

	m, err := wasm.Load(ctx, "math", addModule, nil)
	if err != nil {
		t.Fatalf("Failed to load module: %v", err)
	}
	defer m.Close(ctx)

	if err := impl.RegisterHelper(m, "", ""); err != nil {
		t.Fatalf("Failed to register helper: %v", err)
	}
	if err := impl.RegisterHelper(m, "add", "plus"); err != nil {
		t.Fatalf("Failed to register helper: %v", err)
	}

	for _, name := range []string{"add", "plus"} {
		got, err := f.registry.Dispatch(ctx, "Calc", name, 2, 3)
		if err != nil {
			t.Fatalf("Failed to dispatch %s: %v", name, err)
		}
		if got != int64(5) {
			t.Errorf("Expected %s to return 5, got %v (%T)", name, got, got)
		}
	}

	names := f.registry.Capabilities("Calc")
	found := false
	for _, n := range names {
		if n == "plus" {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected plus among capabilities, got %v", names)
	}
}

func TestMakeGlobal(t *testing.T) {
	f := newFixture(t, runmode.Live, nil)
	root := t.TempDir()
	f.registry.Register("Acme", root, MakeGlobal())
	ctx := context.Background()

	src := `
prefix = Acme.prefix()
js = Acme.dir("js")

def shout(s):
    return s.upper()

Acme.register_helper(shout, "shout", "yell")
loud = Acme.yell("hi")

helpers = struct(twice = lambda n: n * 2)
Acme.register_helper(helpers)
four = Acme.twice(2)

missing = Acme.nothing_here()
`
	globals, err := f.registry.Runtime().Exec(ctx, "main.star", src)
	if err != nil {
		t.Fatalf("Failed to exec script: %v", err)
	}

	tests := []struct {
		name string
		want any
	}{
		{"prefix", "Acme_"},
		{"js", root + "/js"},
		{"loud", "HI"},
		{"four", int64(4)},
		{"missing", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := script.FromValue(globals[tt.name])
			if err != nil {
				t.Fatalf("Failed to convert %s: %v", tt.name, err)
			}
			if got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}

	if n := f.tel.Diagnostics.Count(telemetry.DiagnosticUnresolvedCapability); n != 1 {
		t.Errorf("Expected 1 unresolved diagnostic, got %d", n)
	}

	v, ok := f.registry.Runtime().Global("Acme")
	if !ok || v.Type() != "controller" || v.String() != "<controller Acme>" {
		t.Errorf("Unexpected global: %v", v)
	}
}

func TestGlobalRejectsKeywords(t *testing.T) {
	f := newFixture(t, runmode.Live, nil)
	f.registry.Register("Acme", t.TempDir(), MakeGlobal())

	_, err := f.registry.Runtime().Exec(context.Background(), "kw.star", `x = Acme.dir(path = "js")`)
	if err == nil {
		t.Error("Expected keyword arguments to be rejected")
	}
}
