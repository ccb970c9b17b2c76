package telemetry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Diagnostic is a developer-facing report raised while composing or dispatching.
type Diagnostic struct {
	// ID is the unique identifier for this diagnostic.
	ID string `json:"id"`

	// Timestamp is when the diagnostic was raised.
	Timestamp time.Time `json:"timestamp"`

	// Type is the diagnostic type.
	Type string `json:"type"`

	// Controller is the identity of the controller involved, if any.
	Controller string `json:"controller,omitempty"`

	// Method is the capability name involved, if any.
	Method string `json:"method,omitempty"`

	// Message is a human-readable message.
	Message string `json:"message"`

	// Level is the severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional diagnostic-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// Diagnostic types.
const (
	DiagnosticUnresolvedCapability = "capability.unresolved"
	DiagnosticInvalidRunMode       = "runmode.invalid"
	DiagnosticStaleBundle          = "bundle.stale"
	DiagnosticLoadFailed           = "module.load_failed"
)

// Diagnostic levels.
const (
	LevelInfo    = "info"
	LevelWarning = "warning"
	LevelError   = "error"
)

// DiagnosticSubscriber handles a reported diagnostic.
type DiagnosticSubscriber func(d Diagnostic)

// DiagnosticFilter determines if a diagnostic should be delivered to a subscriber.
type DiagnosticFilter func(d Diagnostic) bool

type subscriberEntry struct {
	subscriber DiagnosticSubscriber
	filter     DiagnosticFilter
}

// Diagnostics records diagnostics in memory and delivers them synchronously to
// subscribers. Subscribers run without the recorder lock held and may report
// further diagnostics.
type Diagnostics struct {
	mu          sync.RWMutex
	capacity    int
	recent      []Diagnostic
	subscribers []subscriberEntry
	metrics     *Metrics
}

// NewDiagnostics creates a recorder that keeps at most capacity diagnostics (zero keeps all).
func NewDiagnostics(cfg DiagnosticsConfig, metrics *Metrics) *Diagnostics {
	return &Diagnostics{
		capacity: cfg.Capacity,
		metrics:  metrics,
	}
}

// Report records d, filling in its ID and timestamp, and delivers it to subscribers.
// It is safe on a nil recorder.
func (r *Diagnostics) Report(d Diagnostic) Diagnostic {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now().UTC()
	}
	if d.Level == "" {
		d.Level = LevelWarning
	}
	if r == nil {
		return d
	}

	r.mu.Lock()
	r.recent = append(r.recent, d)
	if r.capacity > 0 && len(r.recent) > r.capacity {
		r.recent = r.recent[len(r.recent)-r.capacity:]
	}
	subs := make([]subscriberEntry, len(r.subscribers))
	copy(subs, r.subscribers)
	r.mu.Unlock()

	r.metrics.RecordDiagnostic(d.Type)

	for _, s := range subs {
		if s.filter == nil || s.filter(d) {
			s.subscriber(d)
		}
	}
	return d
}

// ReportUnresolved reports a dispatch that no provider tier could serve. A non-empty
// traceID links the diagnostic to the dispatch span.
func (r *Diagnostics) ReportUnresolved(identity, method, message, traceID string) Diagnostic {
	d := Diagnostic{
		Type:       DiagnosticUnresolvedCapability,
		Controller: identity,
		Method:     method,
		Message:    message,
		Level:      LevelWarning,
	}
	if traceID != "" {
		d.Data = map[string]interface{}{"trace_id": traceID}
	}
	return r.Report(d)
}

// ReportInvalidRunMode reports a rejected run mode value.
func (r *Diagnostics) ReportInvalidRunMode(value, message string) Diagnostic {
	return r.Report(Diagnostic{
		Type:    DiagnosticInvalidRunMode,
		Message: message,
		Level:   LevelWarning,
		Data:    map[string]interface{}{"value": value},
	})
}

// ReportStaleBundle reports a missing or mismatched generated bundle.
func (r *Diagnostics) ReportStaleBundle(identity, path, message string) Diagnostic {
	return r.Report(Diagnostic{
		Type:       DiagnosticStaleBundle,
		Controller: identity,
		Message:    message,
		Level:      LevelError,
		Data:       map[string]interface{}{"path": path},
	})
}

// ReportLoadFailed reports a module file that failed to load.
func (r *Diagnostics) ReportLoadFailed(identity, path, message string) Diagnostic {
	return r.Report(Diagnostic{
		Type:       DiagnosticLoadFailed,
		Controller: identity,
		Message:    message,
		Level:      LevelError,
		Data:       map[string]interface{}{"path": path},
	})
}

// Subscribe adds a subscriber. A nil filter receives every diagnostic.
func (r *Diagnostics) Subscribe(subscriber DiagnosticSubscriber, filter DiagnosticFilter) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subscribers = append(r.subscribers, subscriberEntry{subscriber: subscriber, filter: filter})
}

// Recent returns the retained diagnostics, oldest first.
func (r *Diagnostics) Recent() []Diagnostic {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Diagnostic, len(r.recent))
	copy(out, r.recent)
	return out
}

// Count returns how many retained diagnostics have the given type.
func (r *Diagnostics) Count(diagType string) int {
	n := 0
	for _, d := range r.Recent() {
		if d.Type == diagType {
			n++
		}
	}
	return n
}

// FilterByLevel creates a filter that only allows diagnostics of a level or higher.
func FilterByLevel(minLevel string) DiagnosticFilter {
	levels := map[string]int{LevelInfo: 0, LevelWarning: 1, LevelError: 2}
	min := levels[minLevel]
	return func(d Diagnostic) bool {
		return levels[d.Level] >= min
	}
}

// FilterByType creates a filter that only allows the given diagnostic types.
func FilterByType(types ...string) DiagnosticFilter {
	allowed := make(map[string]bool, len(types))
	for _, t := range types {
		allowed[t] = true
	}
	return func(d Diagnostic) bool {
		return allowed[d.Type]
	}
}

// FilterByController creates a filter that only allows diagnostics for one controller.
func FilterByController(identity string) DiagnosticFilter {
	return func(d Diagnostic) bool {
		return d.Controller == identity
	}
}
