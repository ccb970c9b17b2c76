package autoload

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/openfroyo/modhost/pkg/host"
	"github.com/openfroyo/modhost/pkg/lifecycle"
)

// writeFiles creates files under dir and returns the resolved dir.
func writeFiles(t *testing.T, dir string, files map[string]string) string {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", name, err)
		}
	}
	resolved, err := filepath.EvalSymlinks(dir)
	if err != nil {
		t.Fatalf("Failed to resolve dir: %v", err)
	}
	return resolved
}

type symbolSet map[string]bool

func (s symbolSet) Defined(name string) bool { return s[name] }

// recordingLoader records loads and optionally runs a hook during each one.
type recordingLoader struct {
	loads  []string
	during func(ctx context.Context, path string) error
}

func (r *recordingLoader) LoadFile(ctx context.Context, path string) error {
	r.loads = append(r.loads, path)
	if r.during != nil {
		return r.during(ctx, path)
	}
	return nil
}

func TestIndexScenario(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, filepath.Join(root, "mods"), map[string]string{
		"class-foo.star":      "Foo = 1\n",
		"bar.on-load.star":    "print('bar')\n",
		"README.md":           "not a module",
		"nested/class-x.star": "X = 1\n",
	})

	ix := NewIndex(root, WithPrefix("Acme_"))
	if err := ix.RegisterDir(mods, ""); err != nil {
		t.Fatalf("Failed to register dir: %v", err)
	}

	if got := len(ix.Dirs()); got != 1 {
		t.Fatalf("Expected 1 queued dir before indexing, got %d", got)
	}
	if n, _ := ix.Len(); n != 0 {
		t.Errorf("Expected no entries before indexing, got %d", n)
	}

	ix.IndexNow()

	want := []Entry{{Key: "acme_foo", Name: "Acme_foo", Path: filepath.Join(mods, "class-foo.star")}}
	if got := ix.Entries(); !reflect.DeepEqual(got, want) {
		t.Errorf("Expected entries %v, got %v", want, got)
	}
	wantFrags := []string{filepath.Join(mods, "bar.on-load.star")}
	if got := ix.Fragments(); !reflect.DeepEqual(got, wantFrags) {
		t.Errorf("Expected fragments %v, got %v", wantFrags, got)
	}
	if len(ix.Dirs()) != 0 {
		t.Error("Expected queue to be cleared after indexing")
	}
	if ix.IndexNow() != 0 {
		t.Error("Expected a second pass with nothing queued to be a no-op")
	}
	if e, ok := ix.Lookup("ACME_FOO"); !ok || e.Name != "Acme_foo" {
		t.Errorf("Expected case-insensitive lookup, got %v %v", e, ok)
	}
}

func TestIndexRegisterTwiceIsIdempotent(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{
		"class-a.star":     "",
		"class-b-c.star":   "",
		"one.on-load.star": "",
	})

	once := NewIndex(root)
	_ = once.RegisterDir(mods, "P_")
	once.IndexNow()

	twice := NewIndex(root)
	_ = twice.RegisterDir(mods, "P_")
	_ = twice.RegisterDir(mods, "P_")
	if got := len(twice.Dirs()); got != 1 {
		t.Errorf("Expected duplicate registration to queue once, got %d", got)
	}
	twice.IndexNow()
	_ = twice.RegisterDir(mods, "P_")
	twice.IndexNow()

	if !reflect.DeepEqual(once.Entries(), twice.Entries()) {
		t.Errorf("Expected same entries, got %v and %v", once.Entries(), twice.Entries())
	}
	if !reflect.DeepEqual(once.Fragments(), twice.Fragments()) {
		t.Errorf("Expected same fragments, got %v and %v", once.Fragments(), twice.Fragments())
	}
}

func TestIndexSkipsDefinedNames(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{
		"class-taken.star": "",
		"class-free.star":  "",
	})

	ix := NewIndex(root, WithSymbols(symbolSet{"p_taken": true}))
	_ = ix.RegisterDir(mods, "P_")
	ix.IndexNow()

	if _, ok := ix.Lookup("p_taken"); ok {
		t.Error("Expected already defined name to be skipped")
	}
	if _, ok := ix.Lookup("p_free"); !ok {
		t.Error("Expected free name to be indexed")
	}
}

func TestIndexReadyGate(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{"class-late.star": ""})

	gate := lifecycle.NewGate()
	ix := NewIndex(root, WithGate(gate))

	_ = ix.RegisterDir(mods, "")
	if _, ok := ix.Lookup("late"); ok {
		t.Fatal("Expected deferred indexing before ready")
	}
	ix.IndexNow()

	gate.MarkReady()
	other := writeFiles(t, filepath.Join(root, "other"), map[string]string{"class-now.star": ""})
	_ = ix.RegisterDir(other, "")
	if _, ok := ix.Lookup("now"); !ok {
		t.Error("Expected immediate indexing after ready")
	}
	if len(ix.Dirs()) != 0 {
		t.Error("Expected nothing left queued after immediate indexing")
	}
}

func TestIndexUnreadableDirIsSkipped(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{"class-ok.star": ""})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "missing"), "")
	_ = ix.RegisterDir(mods, "")
	ix.IndexNow()

	if _, ok := ix.Lookup("ok"); !ok {
		t.Error("Expected readable dir to be indexed despite a missing one")
	}
	if err := ix.RegisterDir("", ""); err == nil {
		t.Error("Expected error for empty path")
	}
}

func TestIndexIgnoresBundleFile(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		BundleFileName:   Header,
		"class-top.star": "",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(root, "")
	ix.IndexNow()

	if _, ok := ix.Lookup("on_load"); ok {
		t.Error("Expected generated bundle not to be indexed as a module")
	}
	if _, ok := ix.Lookup("top"); !ok {
		t.Error("Expected top to be indexed")
	}
}

func TestRegisterClasses(t *testing.T) {
	ix := NewIndex(t.TempDir())
	ix.RegisterClass("Acme_Widget", "/x/widget.star")
	ix.RegisterClasses(map[string]string{"B": "/x/b.star", "a": "/x/a.star"})

	e, ok := ix.Lookup("acme_widget")
	if !ok || e.Path != "/x/widget.star" || e.Name != "Acme_Widget" {
		t.Errorf("Unexpected entry %v %v", e, ok)
	}
	if n, _ := ix.Len(); n != 3 {
		t.Errorf("Expected 3 entries, got %d", n)
	}
}

func TestAttachDiscoverEvent(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{"class-a.star": ""})

	hooks := host.NewHooks()
	ix := NewIndex(root, WithOwner("Acme"))
	ix.Attach(hooks)
	_ = ix.RegisterDir(mods, "")

	hooks.Fire(context.Background(), EventDiscover, "Other")
	if _, ok := ix.Lookup("a"); ok {
		t.Fatal("Expected discovery for another identity to be ignored")
	}

	hooks.Fire(context.Background(), EventDiscover, "Acme")
	if _, ok := ix.Lookup("a"); !ok {
		t.Error("Expected discovery for owner to index")
	}

	_ = ix.RegisterDir(mods, "B_")
	hooks.Fire(context.Background(), host.EventInit)
	if _, ok := ix.Lookup("b_a"); !ok {
		t.Error("Expected init to run the batch pass")
	}
}

func TestLoaderAtMostOnce(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{"class-foo.star": ""})

	ix := NewIndex(root)
	_ = ix.RegisterDir(mods, "Acme_")
	ix.IndexNow()

	files := &recordingLoader{}
	loader := NewLoader(ix, files)
	chain := host.NewResolverChain()
	loader.Install(chain)

	handled, err := chain.Resolve(context.Background(), "Acme_Foo")
	if err != nil || !handled {
		t.Fatalf("Expected first resolve to load, got handled=%v err=%v", handled, err)
	}
	handled, err = chain.Resolve(context.Background(), "acme_foo")
	if err != nil || handled {
		t.Errorf("Expected second resolve to be a no-op, got handled=%v err=%v", handled, err)
	}
	if len(files.loads) != 1 {
		t.Errorf("Expected exactly one load, got %v", files.loads)
	}

	handled, _ = loader.Resolve(context.Background(), "unknown")
	if handled {
		t.Error("Expected unknown name to be left to other resolvers")
	}
}

func TestLoaderReentrant(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{
		"class-a.star": "",
		"class-b.star": "",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(mods, "")
	ix.IndexNow()

	chain := host.NewResolverChain()
	files := &recordingLoader{}
	files.during = func(ctx context.Context, path string) error {
		// a needs b, b needs a: the cycle must terminate.
		if filepath.Base(path) == "class-a.star" {
			_, err := chain.Resolve(ctx, "b")
			return err
		}
		_, err := chain.Resolve(ctx, "a")
		return err
	}
	NewLoader(ix, files).Install(chain)

	if _, err := chain.Resolve(context.Background(), "a"); err != nil {
		t.Fatalf("Failed to resolve: %v", err)
	}
	if len(files.loads) != 2 {
		t.Errorf("Expected two loads, got %v", files.loads)
	}
}

func TestLoaderError(t *testing.T) {
	root := t.TempDir()
	mods := writeFiles(t, root, map[string]string{"class-bad.star": ""})

	ix := NewIndex(root, WithOwner("Acme"))
	_ = ix.RegisterDir(mods, "")
	ix.IndexNow()

	cause := errors.New("syntax error")
	loader := NewLoader(ix, FileLoaderFunc(func(ctx context.Context, path string) error { return cause }))

	handled, err := loader.Resolve(context.Background(), "bad")
	if !handled {
		t.Error("Expected failed load to still count as handled")
	}
	if !engine.IsLoadFailed(err) || !errors.Is(err, cause) {
		t.Errorf("Expected load error wrapping cause, got %v", err)
	}
}
