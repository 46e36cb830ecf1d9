// Package vboxmanage runs the VBoxManage command line tool and turns its
// output into typed results and errors.
//
// Every request goes through Executor.Execute, which never fails: a process
// that exits non-zero is folded into the returned Result so that callers
// uniformly inspect stderr. Client builds one method per subcommand on top
// of it and applies the subcommand's error rules.
package vboxmanage

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/jbweber/vboxdriver/internal/logger"
	"github.com/jbweber/vboxdriver/internal/metrics"
)

const (
	// DefaultBinary is looked up in PATH.
	DefaultBinary = "VBoxManage"
	// DefaultRetryCount is the number of attempts for a transient failure.
	DefaultRetryCount = 3
	// DefaultRetryInterval is the pause between attempts.
	DefaultRetryInterval = time.Second
)

// Config controls how VBoxManage is invoked.
type Config struct {
	Binary        string
	RetryCount    int
	RetryInterval time.Duration
}

// DefaultConfig returns the default invocation settings.
func DefaultConfig() Config {
	return Config{
		Binary:        DefaultBinary,
		RetryCount:    DefaultRetryCount,
		RetryInterval: DefaultRetryInterval,
	}
}

func (c Config) withDefaults() Config {
	if c.Binary == "" {
		c.Binary = DefaultBinary
	}
	if c.RetryCount < 1 {
		c.RetryCount = 1
	}
	if c.RetryInterval < 0 {
		c.RetryInterval = 0
	}
	return c
}

// Result is the captured output of one invocation.
type Result struct {
	Stdout string
	Stderr string
}

// Runner starts a process and captures its output.
//
// In production, this is satisfied by an os/exec based runner.
// In tests, this is satisfied by scripted fakes.
type Runner interface {
	Run(ctx context.Context, binary string, args ...string) (stdout, stderr string, err error)
}

type execRunner struct{}

func (execRunner) Run(ctx context.Context, binary string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// Executor runs VBoxManage with bounded retry on transient failures.
type Executor struct {
	cfg     Config
	runner  Runner
	sleep   func(ctx context.Context, d time.Duration)
	metrics *metrics.Collector
}

// Option customizes an Executor.
type Option func(*Executor)

// WithRunner replaces the process runner.
func WithRunner(r Runner) Option {
	return func(e *Executor) { e.runner = r }
}

// WithSleep replaces the function used to wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration)) Option {
	return func(e *Executor) { e.sleep = fn }
}

// WithMetrics records invocations on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Executor) { e.metrics = c }
}

// NewExecutor creates an Executor.
func NewExecutor(cfg Config, opts ...Option) *Executor {
	e := &Executor{
		cfg:    cfg.withDefaults(),
		runner: execRunner{},
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// Config returns the executor's effective configuration.
func (e *Executor) Config() Config {
	return e.cfg
}

// Execute runs "VBoxManage --nologo <command> <args...>". A transient failure
// is retried up to the configured attempt count; the last result is returned
// either way.
func (e *Executor) Execute(ctx context.Context, command string, args ...string) Result {
	command = strings.ToLower(command)
	argv := append([]string{"--nologo", command}, args...)
	log := logger.Get()

	var result Result
	for attempt := 1; attempt <= e.cfg.RetryCount; attempt++ {
		log.Debugf("Execute: %s %s", e.cfg.Binary, strings.Join(argv, " "))
		e.metrics.ObserveInvocation(command)

		result = e.run(ctx, argv)
		if !IsTransient(result.Stderr) {
			return result
		}

		if attempt == e.cfg.RetryCount || ctx.Err() != nil {
			break
		}
		log.Warnf("Transient VBoxManage %s failure, trying again", command)
		e.metrics.ObserveRetry(command)
		e.sleep(ctx, e.cfg.RetryInterval)
	}

	log.Warnf("Failed to process command %s after %d attempt(s)", command, e.cfg.RetryCount)
	return result
}

func (e *Executor) run(ctx context.Context, argv []string) Result {
	stdout, stderr, err := e.runner.Run(ctx, e.cfg.Binary, argv...)
	if err != nil && strings.TrimSpace(stderr) == "" {
		// Failed without diagnostics, e.g. the binary is missing.
		stderr = err.Error()
	}
	return Result{Stdout: stdout, Stderr: stderr}
}
