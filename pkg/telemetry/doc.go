// Package telemetry provides observability for modhost.
//
// It combines structured logging (zerolog), tracing (OpenTelemetry), metrics
// (Prometheus) and a synchronous diagnostics recorder.
//
// # Usage
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Components take a zerolog.Logger directly:
//
//	logger := tel.Logger.NewComponentLogger("autoload").Zerolog()
//
// # Diagnostics
//
// Unresolved dispatches, rejected run modes and stale bundles are reported as
// diagnostics. They are retained in memory and delivered to subscribers, which is
// how the bundle ledger persists them:
//
//	tel.Diagnostics.Subscribe(func(d telemetry.Diagnostic) {
//	    _ = store.AppendDiagnostic(ctx, d)
//	}, telemetry.FilterByLevel(telemetry.LevelWarning))
//
// # Metrics
//
// Metrics live in a private Prometheus registry and are served at Path on
// ListenAddress when enabled. Every Record method is a no-op when metrics are
// disabled or the *Metrics is nil.
package telemetry
