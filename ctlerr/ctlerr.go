// Package ctlerr defines the typed error hierarchy the controller uses to
// classify failures as retryable, fatal, or a refusal to start.
package ctlerr

import (
	"errors"
	"fmt"
)

// InputMissing means the controller lacked price data or fresh telemetry
// for the current tick.
type InputMissing struct {
	Field string
	Age   string // human-readable staleness, empty if simply absent
}

func (e *InputMissing) Error() string {
	if e.Age != "" {
		return fmt.Sprintf("input missing: %s is stale (%s)", e.Field, e.Age)
	}
	return fmt.Sprintf("input missing: %s", e.Field)
}

// TransientAdapterError wraps a price-provider or inverter failure the
// caller should retry (timeouts, network errors, HTTP 5xx).
type TransientAdapterError struct {
	Err error
}

func (e *TransientAdapterError) Error() string { return fmt.Sprintf("transient adapter error: %v", e.Err) }
func (e *TransientAdapterError) Unwrap() error  { return e.Err }

// FatalAdapterError wraps an adapter failure that will not succeed on
// retry (HTTP 4xx, misauthorization).
type FatalAdapterError struct {
	Err error
}

func (e *FatalAdapterError) Error() string { return fmt.Sprintf("fatal adapter error: %v", e.Err) }
func (e *FatalAdapterError) Unwrap() error  { return e.Err }

// InvariantViolation means the caller attempted something the data model
// forbids: a misaligned interval, a duplicate (system, interval_start)
// write, or an unknown action value.
type InvariantViolation struct {
	Reason string
}

func (e *InvariantViolation) Error() string { return fmt.Sprintf("invariant violation: %s", e.Reason) }

// ConfigurationError means the loaded configuration is unusable; the
// process must refuse to start rather than run with nonsensical limits.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("configuration error: %s", e.Reason) }

// IsRetryable reports whether err (or something it wraps) is a
// TransientAdapterError.
func IsRetryable(err error) bool {
	var t *TransientAdapterError
	return errors.As(err, &t)
}
