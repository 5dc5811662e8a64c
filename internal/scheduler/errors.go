package scheduler

import "fmt"

// ConfigError refuses a run before any adapter call is made.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "invalid configuration: " + e.Reason
}

// ModelExecutionError wraps a failure inside an adapter call. The run is
// aborted; autoregressive state is not safely replayable, so there is
// no retry.
type ModelExecutionError struct {
	Owner string
	Scale int
	Err   error
}

func (e *ModelExecutionError) Error() string {
	return fmt.Sprintf("%s failed at scale %d: %v", e.Owner, e.Scale, e.Err)
}

func (e *ModelExecutionError) Unwrap() error { return e.Err }

// RebuildError wraps a failed cache rebuild at the switch point. Fatal;
// no partial output is emitted.
type RebuildError struct {
	PrefixScales int
	Err          error
}

func (e *RebuildError) Error() string {
	return fmt.Sprintf("cache rebuild over %d-scale prefix failed: %v", e.PrefixScales, e.Err)
}

func (e *RebuildError) Unwrap() error { return e.Err }
