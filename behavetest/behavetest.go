// Package behavetest adapts behave assertions to the testing package.
//
// Semantic failures (the model answered FAIL) are reported with t.Errorf so a
// test can collect several of them. Everything else, from bad configuration
// to an unreachable provider, stops the test with t.Fatalf.
//
//	func TestGreeting(t *testing.T) {
//	    behavetest.RequireProvider(t)
//	    a := behavetest.New(t, behave.Options{})
//	    behavetest.AssertMatch(t, a, greet("Ada"), "a friendly greeting that uses the name Ada")
//	}
package behavetest

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	behave "github.com/ahrav/go-behave"
	"github.com/ahrav/go-behave/infrastructure/configsource"
	"github.com/ahrav/go-behave/internal/application"
)

// TB is the subset of testing.TB used by this package.
type TB interface {
	Helper()
	Context() context.Context
	Errorf(format string, args ...any)
	Fatalf(format string, args ...any)
	Skipf(format string, args ...any)
	Logf(format string, args ...any)
}

// logWriter forwards slog output to t.Logf, one record per call.
type logWriter struct{ t TB }

func (w logWriter) Write(p []byte) (int, error) {
	w.t.Logf("%s", strings.TrimSuffix(string(p), "\n"))
	return len(p), nil
}

// New builds an asserter or fails the test. Unless opts carries a logger,
// the asserter logs to the test output.
func New(t TB, opts behave.Options) *behave.Asserter {
	t.Helper()
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(logWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	a, err := behave.New(opts)
	if err != nil {
		t.Fatalf("behave: %v", err)
		return nil
	}
	return a
}

// AssertMatch asserts that actual behaves as expected describes and reports
// whether it did. A FAIL verdict is reported with Errorf; any other error is
// fatal.
func AssertMatch(t TB, a *behave.Asserter, actual, expected any) bool {
	t.Helper()
	err := a.AssertBehavioralMatch(t.Context(), actual, expected)
	if err == nil {
		return true
	}
	var failed *behave.BehavioralAssertionError
	if errors.As(err, &failed) {
		t.Errorf("behavior mismatch\nexpected: %v\nactual:   %v\nreason:   %s", expected, actual, failed.Reason)
		return false
	}
	t.Fatalf("behave: %v", err)
	return false
}

// RequireProvider skips the test unless the configured provider's API key is
// set in the environment or the .env file.
func RequireProvider(t TB) {
	t.Helper()
	src := configsource.Default(nil)
	provider, _ := src.Lookup(application.KeyProvider)
	spec := application.SpecFor(provider)
	if provider == "" {
		spec = application.SpecFor(application.DefaultProvider.String())
	}
	if key, ok := src.Lookup(spec.EnvVar); !ok || key == "" {
		t.Skipf("behave: %s is not set", spec.EnvVar)
	}
}
