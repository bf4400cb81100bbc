// Package config holds the bounded configuration surface for a coding
// agent invocation: iteration limits, retry budget, the tool server's
// bind address, and the import allowlist code must respect.
package config

import (
	"fmt"

	"github.com/basinlabs/codeagent/runtime/coding/allowlist"
	"github.com/basinlabs/codeagent/runtime/coding/ipc"
)

const (
	// DefaultMaxIterations bounds the ReAct loop when the caller does not
	// override it.
	DefaultMaxIterations = 10
	// DefaultErrorRetryAttempts bounds consecutive execution-error retries.
	DefaultErrorRetryAttempts = 2
	// DefaultToolServerPort is the port the tool IPC server binds to when
	// the caller does not override it.
	DefaultToolServerPort = 8765

	minIterations = 1
	maxIterations = 100
	minRetries    = 0
	maxRetries    = 10
	minPort       = 1024
	maxPort       = 65535
)

// Config is the bounded, immutable configuration for one coding agent.
// Build one with New; it is safe to share across concurrent invocations.
type Config struct {
	MaxIterations      int
	ErrorRetryAttempts int
	ToolServerHost     string
	ToolServerPort     int
	Stateful           bool
	AuthorizedImports  allowlist.Set
}

// Option configures a Config under construction.
type Option func(*Config)

// WithMaxIterations overrides the ReAct loop iteration cap.
func WithMaxIterations(n int) Option {
	return func(c *Config) { c.MaxIterations = n }
}

// WithErrorRetryAttempts overrides the consecutive execution-error retry
// budget.
func WithErrorRetryAttempts(n int) Option {
	return func(c *Config) { c.ErrorRetryAttempts = n }
}

// WithToolServerHost pins the tool IPC server's advertised host instead of
// relying on Docker-host address autodetection.
func WithToolServerHost(host string) Option {
	return func(c *Config) { c.ToolServerHost = host }
}

// WithToolServerPort overrides the tool IPC server's bind port.
func WithToolServerPort(port int) Option {
	return func(c *Config) { c.ToolServerPort = port }
}

// WithStateful enables re-executing prior successful steps before each new
// step, so module-level state the sandbox interpreter accumulated survives
// across calls.
func WithStateful(stateful bool) Option {
	return func(c *Config) { c.Stateful = stateful }
}

// WithAuthorizedImports replaces the default safe-import allowlist.
func WithAuthorizedImports(set allowlist.Set) Option {
	return func(c *Config) { c.AuthorizedImports = set }
}

// WithAdditionalImports extends whatever allowlist is already set (the
// default, unless WithAuthorizedImports ran first) with extra patterns.
func WithAdditionalImports(patterns ...string) Option {
	return func(c *Config) { c.AuthorizedImports = c.AuthorizedImports.With(patterns...) }
}

// New builds a Config from defaults plus the given options, then validates
// bounds. An out-of-range value is a construction error, not a panic, since
// these values typically come from caller-supplied configuration.
func New(opts ...Option) (*Config, error) {
	c := &Config{
		MaxIterations:      DefaultMaxIterations,
		ErrorRetryAttempts: DefaultErrorRetryAttempts,
		ToolServerPort:     DefaultToolServerPort,
		AuthorizedImports:  allowlist.DefaultSet(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) validate() error {
	if c.MaxIterations < minIterations || c.MaxIterations > maxIterations {
		return fmt.Errorf("config: max_iterations must be in [%d, %d], got %d", minIterations, maxIterations, c.MaxIterations)
	}
	if c.ErrorRetryAttempts < minRetries || c.ErrorRetryAttempts > maxRetries {
		return fmt.Errorf("config: error_retry_attempts must be in [%d, %d], got %d", minRetries, maxRetries, c.ErrorRetryAttempts)
	}
	if c.ToolServerPort < minPort || c.ToolServerPort > maxPort {
		return fmt.Errorf("config: tool_server_port must be in [%d, %d], got %d", minPort, maxPort, c.ToolServerPort)
	}
	if c.AuthorizedImports == nil {
		return fmt.Errorf("config: authorized_imports must not be nil")
	}
	return nil
}

// State is the mutable per-invocation progress tracked across ReAct loop
// iterations: how many iterations have run, the current consecutive error
// streak, and the execution history used for stateful replay. It matches
// spec.md §6's persisted-state record byte-for-byte once marshaled.
type State struct {
	IterationCount int            `json:"iteration_count"`
	ErrorCount     int            `json:"error_count"`
	History        []HistoryEntry `json:"execution_history"`
}

// HistoryEntry records one completed ReAct loop iteration for persistence
// and for stateful replay bookkeeping.
type HistoryEntry struct {
	Iteration      int         `json:"iteration"`
	Code           string      `json:"code"`
	Stdout         string      `json:"stdout"`
	Stderr         string      `json:"stderr"`
	ToolTraces     []ipc.Trace `json:"tool_traces"`
	HasFinalAnswer bool        `json:"has_final_answer"`
}

// NewState returns a zero-valued State ready for the first iteration.
func NewState() *State {
	return &State{}
}
