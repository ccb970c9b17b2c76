// Package runmode holds the process-wide deployment tier.
//
// The mode is set during bootstrap and read thereafter. It defaults to live, the safest
// value. In strict (debug) mode unknown values are rejected with a warning and the prior
// value is kept; in non-strict mode any value is lower-cased and accepted verbatim. The
// asymmetry is intentional and leaves production an escape hatch.
package runmode

import (
	"os"
	"strings"
	"sync"

	"github.com/openfroyo/modhost/pkg/engine"
	"github.com/rs/zerolog"
)

// Mode is a deployment tier.
type Mode string

const (
	Dev   Mode = "dev"
	Test  Mode = "test"
	Stage Mode = "stage"
	Live  Mode = "live"
)

// EnvRunMode is read by FromEnv during bootstrap.
const EnvRunMode = "MODHOST_RUNMODE"

// Valid reports whether m is one of the four known tiers.
func (m Mode) Valid() bool {
	switch m {
	case Dev, Test, Stage, Live:
		return true
	}
	return false
}

// Settings is the run mode holder. Create one per process and share it.
type Settings struct {
	mu       sync.RWMutex
	mode     Mode
	strict   func() bool
	logger   zerolog.Logger
	onReject func(error)
}

// Option configures Settings.
type Option func(*Settings)

// WithStrict sets the function consulted on every Set to decide whether validation applies.
func WithStrict(strict func() bool) Option {
	return func(s *Settings) { s.strict = strict }
}

// WithLogger sets the logger used for rejected values.
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Settings) { s.logger = logger.With().Str("component", "runmode").Logger() }
}

// OnReject registers a callback invoked with the error for every rejected value.
func OnReject(fn func(error)) Option {
	return func(s *Settings) { s.onReject = fn }
}

// New creates Settings in live mode.
func New(opts ...Option) *Settings {
	s := &Settings{
		mode:   Live,
		strict: func() bool { return false },
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current mode.
func (s *Settings) Get() Mode {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mode
}

// Set changes the mode. In strict mode an unknown value is rejected: the previous mode is
// kept, a warning is logged and an invalid run mode error is returned. Outside strict mode
// the value is lower-cased and stored without validation.
func (s *Settings) Set(value string) error {
	if !s.strict() {
		s.mu.Lock()
		s.mode = Mode(strings.ToLower(value))
		s.mu.Unlock()
		return nil
	}

	mode := Mode(value)
	if !mode.Valid() {
		err := engine.NewInvalidRunModeError(value)
		s.logger.Warn().Str("runmode", value).Str("current", string(s.Get())).Msg("Rejected invalid run mode")
		if s.onReject != nil {
			s.onReject(err)
		}
		return err
	}

	s.mu.Lock()
	s.mode = mode
	s.mu.Unlock()
	return nil
}

// FromEnv applies EnvRunMode when it is set. It returns whether the variable was present.
func (s *Settings) FromEnv() (bool, error) {
	value, ok := os.LookupEnv(EnvRunMode)
	if !ok {
		return false, nil
	}
	return true, s.Set(value)
}

// IsDev returns true in a development deployment.
func (s *Settings) IsDev() bool { return s.Get() == Dev }

// IsTest returns true in a testing deployment.
func (s *Settings) IsTest() bool { return s.Get() == Test }

// IsStage returns true in a staging deployment.
func (s *Settings) IsStage() bool { return s.Get() == Stage }

// IsLive returns true in a live deployment, i.e. production.
func (s *Settings) IsLive() bool { return s.Get() == Live }
