package autoload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/openfroyo/modhost/pkg/host"
	"github.com/openfroyo/modhost/pkg/telemetry"
)

const (
	// EventDiscover is broadcast on the host hooks with the owning identity as its only
	// argument. The index owned by that identity runs an indexing pass.
	EventDiscover = "autoload.discover"

	// InitPriority runs the batch indexing pass just ahead of default-priority init work.
	InitPriority = 9
)

// SymbolTable reports names already defined in the running process.
type SymbolTable interface {
	Defined(name string) bool
}

// ReadyChecker reports whether the host has finished booting.
type ReadyChecker interface {
	IsReady() bool
}

// Entry maps a logical name to the module file that defines it.
type Entry struct {
	// Key is the lower-cased lookup name.
	Key string `json:"key"`

	// Name is the name as derived, with original case.
	Name string `json:"name"`

	// Path is the absolute path of the module file.
	Path string `json:"path"`
}

// Dir is a directory registered for indexing.
type Dir struct {
	Path   string `json:"path"`
	Prefix string `json:"prefix"`
}

// Index scans registered directories for module files and bundle fragments.
// It is owned by exactly one controller.
type Index struct {
	owner   string
	ext     string
	root    string
	symbols SymbolTable
	gate    ReadyChecker
	logger  zerolog.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	prefix      string
	queue       []Dir
	queued      map[string]int
	known       []Dir
	knownSet    map[string]int
	entries     map[string]Entry
	fragments   []string
	fragmentSet map[string]struct{}
	ignore      map[string]struct{}
}

// IndexOption configures an Index.
type IndexOption func(*Index)

// WithExtension sets the module file extension (default ".star").
func WithExtension(ext string) IndexOption {
	return func(ix *Index) {
		if ext != "" {
			ix.ext = ext
		}
	}
}

// WithPrefix sets the prefix prepended to derived names when RegisterDir gets none.
func WithPrefix(prefix string) IndexOption {
	return func(ix *Index) { ix.prefix = prefix }
}

// WithSymbols sets the symbol table consulted to skip names that are already defined.
func WithSymbols(symbols SymbolTable) IndexOption {
	return func(ix *Index) { ix.symbols = symbols }
}

// WithGate sets the readiness check. Before ready, RegisterDir only queues.
func WithGate(gate ReadyChecker) IndexOption {
	return func(ix *Index) { ix.gate = gate }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) IndexOption {
	return func(ix *Index) { ix.logger = logger }
}

// WithOwner sets the identity of the owning controller.
func WithOwner(identity string) IndexOption {
	return func(ix *Index) { ix.owner = identity }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) IndexOption {
	return func(ix *Index) { ix.metrics = m }
}

// NewIndex creates an index rooted at root. The root is where the generated bundle
// lives and the base for the relative paths written into it.
func NewIndex(root string, opts ...IndexOption) *Index {
	ix := &Index{
		ext:         DefaultExtension,
		root:        resolvePath(root),
		logger:      zerolog.Nop(),
		queued:      make(map[string]int),
		knownSet:    make(map[string]int),
		entries:     make(map[string]Entry),
		fragmentSet: make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.ignore = map[string]struct{}{
		filepath.Join(ix.root, BundleFileName): {},
	}
	ix.logger = ix.logger.With().Str("component", "autoload").Str("controller", ix.owner).Logger()
	return ix
}

// resolvePath makes path absolute and resolves symlinks. A path that cannot be resolved
// is returned cleaned so the later directory read reports the problem.
func resolvePath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Owner returns the identity of the owning controller.
func (ix *Index) Owner() string { return ix.owner }

// Root returns the resolved root directory.
func (ix *Index) Root() string { return ix.root }

// Extension returns the module file extension.
func (ix *Index) Extension() string { return ix.ext }

// Prefix returns the default name prefix.
func (ix *Index) Prefix() string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.prefix
}

// SetPrefix changes the default name prefix for directories registered afterwards.
func (ix *Index) SetPrefix(prefix string) {
	ix.mu.Lock()
	ix.prefix = prefix
	ix.mu.Unlock()
}

// RegisterDir queues a directory for indexing, or indexes it at once when the host is
// ready. An empty prefix uses the index prefix. Registering the same directory again
// replaces its prefix and re-scans it on the next pass.
func (ix *Index) RegisterDir(path, prefix string) error {
	if path == "" {
		return fmt.Errorf("directory path is required")
	}
	dir := resolvePath(path)

	ix.mu.Lock()
	if prefix == "" {
		prefix = ix.prefix
	}
	if i, ok := ix.queued[dir]; ok {
		ix.queue[i].Prefix = prefix
	} else {
		ix.queued[dir] = len(ix.queue)
		ix.queue = append(ix.queue, Dir{Path: dir, Prefix: prefix})
	}
	if i, ok := ix.knownSet[dir]; ok {
		ix.known[i].Prefix = prefix
	} else {
		ix.knownSet[dir] = len(ix.known)
		ix.known = append(ix.known, Dir{Path: dir, Prefix: prefix})
	}
	ix.mu.Unlock()

	ix.logger.Debug().Str("dir", dir).Str("prefix", prefix).Msg("Registered autoload directory")

	if ix.gate != nil && ix.gate.IsReady() {
		ix.IndexNow()
	}
	return nil
}

// IndexNow scans every queued directory and clears the queue. It returns the number of
// entries added. Unreadable directories are logged and skipped.
func (ix *Index) IndexNow() int {
	ix.mu.Lock()
	dirs := ix.queue
	ix.queue = nil
	ix.queued = make(map[string]int)
	ix.mu.Unlock()

	if len(dirs) == 0 {
		return 0
	}

	added := 0
	for _, d := range dirs {
		files, err := ix.scanDir(d.Path)
		if err != nil {
			ix.logger.Warn().Err(err).Str("dir", d.Path).Msg("Failed to read autoload directory")
			continue
		}

		for _, file := range files {
			if IsFragment(file, ix.ext) {
				ix.addFragment(file)
				continue
			}

			name := DeriveName(file, d.Prefix, ix.ext)
			// Symbols are checked outside the lock; the table may call back into us.
			if ix.symbols != nil && ix.symbols.Defined(name.Key) {
				ix.logger.Debug().Str("name", name.Display).Msg("Skipping already defined name")
				continue
			}

			ix.mu.Lock()
			ix.entries[name.Key] = Entry{Key: name.Key, Name: name.Display, Path: file}
			ix.mu.Unlock()
			added++
		}
	}

	entries, fragments := ix.Len()
	ix.metrics.SetIndexSize(ix.owner, entries, fragments)
	ix.logger.Debug().
		Int("dirs", len(dirs)).
		Int("added", added).
		Int("entries", entries).
		Int("fragments", fragments).
		Msg("Indexed autoload directories")

	return added
}

// scanDir lists the regular module files of dir in sorted order.
func (ix *Index) scanDir(dir string) ([]string, error) {
	des, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(des))
	for _, de := range des {
		if de.IsDir() || filepath.Ext(de.Name()) != ix.ext {
			continue
		}
		full := filepath.Join(dir, de.Name())
		if !de.Type().IsRegular() {
			info, err := os.Stat(full)
			if err != nil || !info.Mode().IsRegular() {
				continue
			}
		}
		if _, skip := ix.ignore[full]; skip {
			continue
		}
		files = append(files, full)
	}
	sort.Strings(files)
	return files, nil
}

func (ix *Index) addFragment(path string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if _, ok := ix.fragmentSet[path]; ok {
		return
	}
	ix.fragmentSet[path] = struct{}{}
	ix.fragments = append(ix.fragments, path)
}

// RegisterClass adds an explicit entry for name.
func (ix *Index) RegisterClass(name, path string) {
	key := NormalizeName(name)
	ix.mu.Lock()
	ix.entries[key] = Entry{Key: key, Name: name, Path: path}
	ix.mu.Unlock()
}

// RegisterClasses adds an explicit entry for every name in classes.
func (ix *Index) RegisterClasses(classes map[string]string) {
	names := make([]string, 0, len(classes))
	for name := range classes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ix.RegisterClass(name, classes[name])
	}
}

// Dirs returns the directories still queued for indexing.
func (ix *Index) Dirs() []Dir {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Dir, len(ix.queue))
	copy(out, ix.queue)
	return out
}

// Registered returns every directory ever registered, in registration order.
func (ix *Index) Registered() []Dir {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]Dir, len(ix.known))
	copy(out, ix.known)
	return out
}

// Rescan queues every registered directory again and indexes them. Fragments that
// no longer exist are dropped; entries already loaded stay loaded.
func (ix *Index) Rescan() int {
	ix.mu.Lock()
	for _, d := range ix.known {
		if _, ok := ix.queued[d.Path]; !ok {
			ix.queued[d.Path] = len(ix.queue)
			ix.queue = append(ix.queue, d)
		}
	}
	kept := ix.fragments[:0]
	for _, f := range ix.fragments {
		if _, err := os.Stat(f); err == nil {
			kept = append(kept, f)
		} else {
			delete(ix.fragmentSet, f)
		}
	}
	ix.fragments = kept
	ix.mu.Unlock()

	return ix.IndexNow()
}

// Entries returns the pending entries sorted by key.
func (ix *Index) Entries() []Entry {
	ix.mu.Lock()
	out := make([]Entry, 0, len(ix.entries))
	for _, e := range ix.entries {
		out = append(out, e)
	}
	ix.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// Fragments returns the bundle fragment paths in discovery order.
func (ix *Index) Fragments() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, len(ix.fragments))
	copy(out, ix.fragments)
	return out
}

// Lookup returns the pending entry for name, matched case-insensitively.
func (ix *Index) Lookup(name string) (Entry, bool) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	e, ok := ix.entries[NormalizeName(name)]
	return e, ok
}

// Take removes and returns the entry for name. Only one caller ever gets a given entry.
func (ix *Index) Take(name string) (Entry, bool) {
	key := NormalizeName(name)
	ix.mu.Lock()
	e, ok := ix.entries[key]
	if ok {
		delete(ix.entries, key)
	}
	n, f := len(ix.entries), len(ix.fragments)
	ix.mu.Unlock()

	if ok {
		ix.metrics.SetIndexSize(ix.owner, n, f)
	}
	return e, ok
}

// Len returns the number of pending entries and known fragments.
func (ix *Index) Len() (entries, fragments int) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return len(ix.entries), len(ix.fragments)
}

// Attach subscribes the index to the host: a batch pass on init and a pass whenever
// EventDiscover names the owner.
func (ix *Index) Attach(hooks *host.Hooks) {
	hooks.On(host.EventInit, InitPriority, func(ctx context.Context, args ...any) {
		ix.IndexNow()
	})
	hooks.On(EventDiscover, host.DefaultPriority, func(ctx context.Context, args ...any) {
		if len(args) == 0 {
			return
		}
		if identity, ok := args[0].(string); ok && identity == ix.owner {
			ix.IndexNow()
		}
	})
}
