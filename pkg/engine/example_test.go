package engine_test

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/modhost/pkg/engine"
)

func ExampleCapabilityFunc() {
	var provider engine.CapabilityProvider = engine.CapabilityFunc(func(name string) (engine.Method, bool) {
		if name != "greet" {
			return nil, false
		}
		return func(_ context.Context, args ...any) (any, error) {
			return fmt.Sprintf("hello, %v", args[0]), nil
		}, true
	})

	if m, ok := provider.Capability("greet"); ok {
		out, _ := m(context.Background(), "world")
		fmt.Println(out)
	}
	_, ok := provider.Capability("shout")
	fmt.Println(ok)
	// Output:
	// hello, world
	// false
}

func ExampleIsStaleBundle() {
	err := fmt.Errorf("boot: %w", engine.NewStaleBundleError("bundle file is missing", "/srv/theme/acme/on-load.star", nil).
		WithIdentity("Acme").
		WithCode(engine.ErrCodeBundleMissing))

	var e *engine.Error
	if engine.IsStaleBundle(err) && errors.As(err, &e) {
		fmt.Println(e.Identity, e.Code)
	}
	// Output: Acme BUNDLE_MISSING
}
