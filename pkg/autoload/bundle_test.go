package autoload

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestStripPrologue(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "x = 1\n", "x = 1"},
		{"leading blank lines", "\n\n  x = 1", "x = 1"},
		{"shebang", "#!/usr/bin/env starlark\nx = 1\n\n", "x = 1"},
		{"shebang then blank", "  #!modhost\n\n\nx = 1", "x = 1"},
		{"shebang only", "#!modhost", ""},
		{"comment kept", "# note\nx = 1", "# note\nx = 1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripPrologue(tt.in); got != tt.want {
				t.Errorf("Expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestGenerate(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		"mods/a.on-load.star": "#!modhost\nA = 1\n",
		"mods/b.on-load.star": "\nB = A + 1\n",
		"mods/class-c.star":   "C = 3\n",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "mods"), "")
	ix.IndexNow()

	b := NewBundler(ix, quietLogger())
	got, err := b.Generate()
	if err != nil {
		t.Fatalf("Failed to generate bundle: %v", err)
	}

	want := Header +
		"\n#\n# File: /mods/a.on-load.star\n#\n" + "A = 1\n" +
		"\n#\n# File: /mods/b.on-load.star\n#\n" + "B = A + 1\n"
	if string(got) != want {
		t.Errorf("Expected bundle:\n%s\ngot:\n%s", want, got)
	}

	again, _ := b.Generate()
	if string(again) != string(got) {
		t.Error("Expected byte-identical output on second generate")
	}
}

func TestSyncToDisk(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		"mods/a.on-load.star": "A = 1\n",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "mods"), "")
	ix.IndexNow()
	b := NewBundler(ix, quietLogger())

	first, err := b.SyncToDisk("")
	if err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}
	if !first.Written {
		t.Error("Expected first sync to write")
	}
	if first.Path != filepath.Join(root, BundleFileName) {
		t.Errorf("Expected default path under root, got %s", first.Path)
	}

	past := time.Now().Add(-time.Hour).Truncate(time.Second)
	if err := os.Chtimes(first.Path, past, past); err != nil {
		t.Fatalf("Failed to set mtime: %v", err)
	}

	second, err := b.SyncToDisk("")
	if err != nil {
		t.Fatalf("Failed to sync: %v", err)
	}
	if second.Written {
		t.Error("Expected second sync to perform no write")
	}
	if second.Checksum != first.Checksum {
		t.Error("Expected stable checksum")
	}
	info, _ := os.Stat(first.Path)
	if !info.ModTime().Equal(past) {
		t.Errorf("Expected mtime to be preserved, got %v", info.ModTime())
	}

	data, _ := os.ReadFile(first.Path)
	if Checksum(data) != first.Checksum {
		t.Error("Expected checksum to match file content")
	}

	// A changed fragment is picked up.
	if err := os.WriteFile(filepath.Join(root, "mods", "a.on-load.star"), []byte("A = 2\n"), 0644); err != nil {
		t.Fatalf("Failed to rewrite fragment: %v", err)
	}
	third, _ := b.SyncToDisk("")
	if !third.Written {
		t.Error("Expected changed fragment to trigger a write")
	}
	data, _ = os.ReadFile(first.Path)
	if !strings.Contains(string(data), "A = 2") {
		t.Errorf("Expected new content, got %s", data)
	}
}

func TestWatcherRegenerate(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		"mods/a.on-load.star": "A = 1\n",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "mods"), "")
	ix.IndexNow()

	var synced []SyncResult
	w := NewWatcher(ix, NewBundler(ix, quietLogger()), quietLogger(), func(r SyncResult) {
		synced = append(synced, r)
	})

	writeFiles(t, filepath.Join(root, "mods"), map[string]string{"b.on-load.star": "B = 2\n"})
	if err := os.Remove(filepath.Join(root, "mods", "a.on-load.star")); err != nil {
		t.Fatalf("Failed to remove fragment: %v", err)
	}

	result, err := w.Regenerate()
	if err != nil {
		t.Fatalf("Failed to regenerate: %v", err)
	}
	if result.Fragments != 1 || len(synced) != 1 {
		t.Errorf("Expected one fragment and one sync callback, got %d and %d", result.Fragments, len(synced))
	}
	frags := ix.Fragments()
	if len(frags) != 1 || filepath.Base(frags[0]) != "b.on-load.star" {
		t.Errorf("Expected only b fragment after rescan, got %v", frags)
	}
	if err := w.Stop(); err != nil {
		t.Errorf("Expected stop without watch to succeed, got %v", err)
	}
}

func TestWatcherConcurrentRegenerate(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		"mods/a.on-load.star": "A = 1\n",
		"mods/b.on-load.star": "B = 2\n",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "mods"), "")
	ix.IndexNow()

	var writes atomic.Int32
	w := NewWatcher(ix, NewBundler(ix, quietLogger()), quietLogger(), func(r SyncResult) {
		if r.Written {
			writes.Add(1)
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := w.Regenerate(); err != nil {
				t.Errorf("Failed to regenerate: %v", err)
			}
		}()
	}
	wg.Wait()

	if n := writes.Load(); n != 1 {
		t.Errorf("Expected exactly one bundle write, got %d", n)
	}
}

func TestWatcherStopDropsPendingRegeneration(t *testing.T) {
	root := writeFiles(t, t.TempDir(), map[string]string{
		"mods/a.on-load.star": "A = 1\n",
	})

	ix := NewIndex(root)
	_ = ix.RegisterDir(filepath.Join(root, "mods"), "")
	ix.IndexNow()

	var syncs atomic.Int32
	w := NewWatcher(ix, NewBundler(ix, quietLogger()), quietLogger(), func(SyncResult) {
		syncs.Add(1)
	})
	w.SetDebounce(300 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := w.Watch(ctx); err != nil {
		t.Fatalf("Failed to watch: %v", err)
	}

	writeFiles(t, filepath.Join(root, "mods"), map[string]string{"b.on-load.star": "B = 2\n"})
	time.Sleep(100 * time.Millisecond)

	if err := w.Stop(); err != nil {
		t.Fatalf("Failed to stop: %v", err)
	}
	time.Sleep(500 * time.Millisecond)

	if n := syncs.Load(); n != 0 {
		t.Errorf("Expected no regeneration after stop, got %d", n)
	}
	if _, err := os.Stat(filepath.Join(root, BundleFileName)); !os.IsNotExist(err) {
		t.Errorf("Expected no bundle to be written, got %v", err)
	}
}
