package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrNotCompiled is returned when a filter is evaluated before the
	// ruleset was compiled.
	ErrNotCompiled = errors.New("filters must be compiled before matching")
)

// ConfigError reports a structurally invalid filter definition. It is fatal
// at load time; no message is ever processed against a partially valid
// ruleset.
type ConfigError struct {
	Filter string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Filter == "" {
		return fmt.Sprintf("invalid filter definition: %s", e.Reason)
	}
	return fmt.Sprintf("invalid filter %q: %s", e.Filter, e.Reason)
}

// PatternError reports a regular expression that failed to compile,
// identified by filter name, field selector and the offending pattern. It is
// fatal at load time.
type PatternError struct {
	Filter  string
	Field   string
	Pattern string
	Err     error
}

func (e *PatternError) Error() string {
	return fmt.Sprintf("filter %q: field %q: invalid pattern %q: %v",
		e.Filter, e.Field, e.Pattern, e.Err)
}

func (e *PatternError) Unwrap() error { return e.Err }

// ResolveError reports a field resolution failure during evaluation, for
// example an unreadable message file. It is recoverable: the affected filter
// counts as a non-match and processing continues.
type ResolveError struct {
	Filter   string
	Selector string
	Err      error
}

func (e *ResolveError) Error() string {
	return fmt.Sprintf("filter %q: resolving %q: %v", e.Filter, e.Selector, e.Err)
}

func (e *ResolveError) Unwrap() error { return e.Err }

// RunError reports an external command that could not be spawned or exited
// non-zero. It is recoverable: tag mutations already applied for the filter
// stand, and subsequent filters still run.
type RunError struct {
	Filter string
	Argv   []string
	Err    error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("filter %q: command %v: %v", e.Filter, e.Argv, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
