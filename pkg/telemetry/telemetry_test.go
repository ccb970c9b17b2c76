package telemetry

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"missing service", func(c *Config) { c.ServiceName = "" }, true},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"bad exporter", func(c *Config) { c.Tracing.Enabled = true; c.Tracing.Exporter = "jaeger" }, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"metrics without address", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.ListenAddress = "" }, true},
		{"negative capacity", func(c *Config) { c.Diagnostics.Capacity = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Expected error=%v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.RecordModuleLoad("Acme", time.Millisecond, nil)
	m.RecordDispatch("Acme", "helper", time.Millisecond)
	m.RecordUnresolved("Acme")
	m.RecordBundleSync("Acme", true)
	m.SetIndexSize("Acme", 1, 1)
	m.RecordDiagnostic("x")
	if m.Registry() != nil {
		t.Error("Expected nil registry for nil metrics")
	}

	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	if err != nil {
		t.Fatalf("Failed to create disabled metrics: %v", err)
	}
	disabled.RecordUnresolved("Acme")
	if disabled.Registry() != nil {
		t.Error("Expected nil registry when disabled")
	}
}

func TestMetricsRecord(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = true
	m, err := NewMetrics(cfg)
	if err != nil {
		t.Fatalf("Failed to create metrics: %v", err)
	}

	m.RecordUnresolved("Acme")
	m.RecordUnresolved("Acme")
	m.RecordBundleSync("Acme", false)
	m.RecordDispatch("Acme", "helper", time.Millisecond)

	if got := counterValue(t, m, "modhost_dispatch_unresolved_total", "Acme"); got != 2 {
		t.Errorf("Expected 2 unresolved, got %v", got)
	}
	if got := counterValue(t, m, "modhost_bundle_syncs_total", "unchanged"); got != 1 {
		t.Errorf("Expected 1 unchanged sync, got %v", got)
	}
	if got := counterValue(t, m, "modhost_dispatch_total", "helper"); got != 1 {
		t.Errorf("Expected 1 helper dispatch, got %v", got)
	}
}

// counterValue sums the counter samples of family name that carry a label equal to labelValue.
func counterValue(t *testing.T, m *Metrics, name, labelValue string) float64 {
	t.Helper()
	families, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}
	var total float64
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetValue() == labelValue {
					total += metric.GetCounter().GetValue()
					break
				}
			}
		}
	}
	return total
}

func TestDiagnosticsRecorder(t *testing.T) {
	d := NewDiagnostics(DiagnosticsConfig{Capacity: 2}, nil)

	var delivered []string
	d.Subscribe(func(diag Diagnostic) {
		delivered = append(delivered, diag.Method)
		// Subscribers may report again without deadlocking.
		if diag.Method == "first" {
			d.Report(Diagnostic{Type: "nested", Level: LevelInfo})
		}
	}, FilterByType(DiagnosticUnresolvedCapability))

	first := d.ReportUnresolved("Acme", "first", "msg", "")
	if first.ID == "" || first.Timestamp.IsZero() {
		t.Error("Expected ID and timestamp to be filled in")
	}
	d.ReportUnresolved("Acme", "second", "msg", "")

	if len(delivered) != 2 {
		t.Errorf("Expected 2 deliveries, got %v", delivered)
	}

	recent := d.Recent()
	if len(recent) != 2 {
		t.Fatalf("Expected capacity to bound retained diagnostics, got %d", len(recent))
	}
	if recent[1].Method != "second" {
		t.Errorf("Expected newest diagnostic last, got %q", recent[1].Method)
	}
	if d.Count(DiagnosticUnresolvedCapability) != 1 {
		t.Errorf("Expected 1 retained unresolved diagnostic, got %d", d.Count(DiagnosticUnresolvedCapability))
	}
}

func TestFilters(t *testing.T) {
	warn := Diagnostic{Type: DiagnosticInvalidRunMode, Level: LevelWarning, Controller: "A"}
	if !FilterByLevel(LevelWarning)(warn) {
		t.Error("Expected warning to pass warning filter")
	}
	if FilterByLevel(LevelError)(warn) {
		t.Error("Expected warning to fail error filter")
	}
	if !FilterByController("A")(warn) || FilterByController("B")(warn) {
		t.Error("Expected controller filter to match only A")
	}
}

func TestLoggerWithWriter(t *testing.T) {
	var buf bytes.Buffer
	l := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)
	l.NewComponentLogger("controller").WithController("Acme").WithMethod("frob").Warn("unresolved")

	out := buf.String()
	for _, want := range []string{`"component":"controller"`, `"controller":"Acme"`, `"method":"frob"`, `"level":"warn"`} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected log to contain %s, got %s", want, out)
		}
	}
}

func TestStartOperationWithoutTelemetry(t *testing.T) {
	ic := StartOperation(context.Background(), "noop")
	if ic.Logger == nil || ic.Timer == nil {
		t.Fatal("Expected logger and timer")
	}
	ic.End(nil)

	if _, ok := FromContext(context.Background()); ok {
		t.Error("Expected no logger in an empty context")
	}

	tel := Nop()
	ctx := tel.WithContext(context.Background())
	if FromTelemetryContext(ctx) != tel {
		t.Error("Expected telemetry to round-trip through context")
	}
	if l, ok := FromContext(ctx); !ok || l != tel.Logger {
		t.Error("Expected logger to round-trip through context")
	}
	ic = StartOperation(ctx, "op")
	ic.End(nil)
}
