// Package vboxtest provides a scripted VBoxManage for tests.
//
// A Runner answers each invocation with the first matching response: queued
// responses for the subcommand are consumed in order, then the subcommand's
// handler is called, and anything else succeeds with empty output.
package vboxtest

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jbweber/vboxdriver/internal/vboxmanage"
)

// Response is the scripted outcome of one invocation.
type Response struct {
	Stdout string
	Stderr string
	Err    error
}

// HandlerFunc answers an invocation. args excludes "--nologo" and the
// subcommand.
type HandlerFunc func(args []string) Response

// Runner is a scripted vboxmanage.Runner. It is safe for concurrent use.
type Runner struct {
	mu       sync.Mutex
	handlers map[string]HandlerFunc
	queued   map[string][]Response
	calls    [][]string
}

// New returns an empty Runner.
func New() *Runner {
	return &Runner{
		handlers: make(map[string]HandlerFunc),
		queued:   make(map[string][]Response),
	}
}

// Handle sets the handler for subcommand.
func (r *Runner) Handle(subcommand string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[subcommand] = fn
}

// Respond answers every invocation of subcommand with resp.
func (r *Runner) Respond(subcommand string, resp Response) {
	r.Handle(subcommand, func([]string) Response { return resp })
}

// Queue appends one-shot responses for subcommand.
func (r *Runner) Queue(subcommand string, resps ...Response) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queued[subcommand] = append(r.queued[subcommand], resps...)
}

// Run implements vboxmanage.Runner.
func (r *Runner) Run(_ context.Context, _ string, args ...string) (string, string, error) {
	if len(args) > 0 && args[0] == "--nologo" {
		args = args[1:]
	}
	if len(args) == 0 {
		return "", "", fmt.Errorf("vboxtest: no subcommand")
	}

	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	sub, rest := args[0], args[1:]

	if q := r.queued[sub]; len(q) > 0 {
		r.queued[sub] = q[1:]
		r.mu.Unlock()
		return q[0].Stdout, q[0].Stderr, q[0].Err
	}
	fn := r.handlers[sub]
	r.mu.Unlock()

	if fn == nil {
		return "", "", nil
	}
	resp := fn(rest)
	return resp.Stdout, resp.Stderr, resp.Err
}

// Calls returns the arguments of every invocation of subcommand, excluding
// the subcommand itself.
func (r *Runner) Calls(subcommand string) [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out [][]string
	for _, c := range r.calls {
		if c[0] == subcommand {
			out = append(out, c[1:])
		}
	}
	return out
}

// AllCalls returns every invocation, subcommand first.
func (r *Runner) AllCalls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

// CallCount returns the number of invocations of subcommand.
func (r *Runner) CallCount(subcommand string) int {
	return len(r.Calls(subcommand))
}

// HasCall reports whether subcommand was invoked with args starting with prefix.
func (r *Runner) HasCall(subcommand string, prefix ...string) bool {
	for _, c := range r.Calls(subcommand) {
		if hasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

func hasPrefix(args, prefix []string) bool {
	if len(prefix) > len(args) {
		return false
	}
	for i := range prefix {
		if args[i] != prefix[i] {
			return false
		}
	}
	return true
}

// NewClient returns a client backed by r that never sleeps between retries.
func NewClient(r *Runner) *vboxmanage.Client {
	return vboxmanage.NewClient(vboxmanage.Config{
		Binary:        "VBoxManage",
		RetryCount:    3,
		RetryInterval: time.Millisecond,
	},
		vboxmanage.WithRunner(r),
		vboxmanage.WithSleep(func(context.Context, time.Duration) {}),
	)
}

// VMInfo renders values in the "showvminfo --machinereadable" format. Keys
// are sorted; an empty value is printed as "none".
func VMInfo(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v := values[k]
		if v == "" {
			v = "none"
		}
		fmt.Fprintf(&b, "\"%s\"=\"%s\"\n", k, v)
	}
	return b.String()
}

// VMList renders `"name" {uuid}` lines for "list vms".
func VMList(nameToUUID map[string]string) string {
	names := make([]string, 0, len(nameToUUID))
	for n := range nameToUUID {
		names = append(names, n)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, n := range names {
		fmt.Fprintf(&b, "%q {%s}\n", n, nameToUUID[n])
	}
	return b.String()
}

// ArgValue returns the argument following flag, or "".
func ArgValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}
