package commands

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"
)

func TestParseArgs(t *testing.T) {
	tests := []struct {
		name string
		raw  []string
		want []any
	}{
		{name: "none", raw: nil, want: []any{}},
		{name: "scalars", raw: []string{"3", "true", "hello", "1.5"}, want: []any{int64(3), true, "hello", 1.5}},
		{name: "mapping", raw: []string{"{title: Home, n: 2}"}, want: []any{map[string]any{"title": "Home", "n": int64(2)}}},
		{name: "sequence", raw: []string{"[1, two]"}, want: []any{[]any{int64(1), "two"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseArgs(tt.raw)
			if err != nil {
				t.Fatalf("Failed to parse args: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Expected %#v, got %#v", tt.want, got)
			}
		})
	}
}

func TestParseArgsInvalid(t *testing.T) {
	if _, err := parseArgs([]string{"{unclosed"}); err == nil {
		t.Error("Expected error for invalid argument")
	}
}

func TestValidateCommand(t *testing.T) {
	t.Setenv("MODHOST_RUNMODE", "")
	t.Setenv("MODHOST_DEBUG", "")

	dir := t.TempDir()
	path := filepath.Join(dir, "modhost.yaml")

	root := newRootCommand("test", "none", "today")

	t.Run("valid", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("controllers:\n  - identity: Acme\n    root: acme\n"), 0o644); err != nil {
			t.Fatalf("Failed to write project file: %v", err)
		}
		root.SetArgs([]string{"validate", "-c", path})
		if err := root.ExecuteContext(context.Background()); err != nil {
			t.Errorf("Expected valid project, got %v", err)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		if err := os.WriteFile(path, []byte("controllers:\n  - identity: acme-theme\n    root: acme\n"), 0o644); err != nil {
			t.Fatalf("Failed to write project file: %v", err)
		}
		root.SetArgs([]string{"validate", "-c", path})
		if err := root.ExecuteContext(context.Background()); err == nil {
			t.Error("Expected validation error")
		}
	})
}

func TestShort(t *testing.T) {
	if got := short("0123456789abcdef"); got != "0123456789ab" {
		t.Errorf("Expected 0123456789ab, got %s", got)
	}
	if got := short("abc"); got != "abc" {
		t.Errorf("Expected abc, got %s", got)
	}
}
