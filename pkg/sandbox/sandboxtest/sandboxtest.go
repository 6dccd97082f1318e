// Package sandboxtest provides an in-memory sandbox.Runtime for tests.
package sandboxtest

import (
	"context"
	"sync"

	"github.com/jxucoder/bashnotes/pkg/sandbox"
)

// ExecFunc answers a command. hostDir is the directory mounted into the
// container by the last Start.
type ExecFunc func(hostDir string, opts sandbox.ExecOptions) (sandbox.ExecOutput, error)

// Runtime records calls and returns canned results.
type Runtime struct {
	BuildErr    error
	StartErr    error
	ContainerID string // returned by Start, defaults to "fake-container"
	KillErr     error
	RemoveErr   error
	Exited      bool // IsRunning reports false, as for a container that died
	OnExec      ExecFunc

	mu          sync.Mutex
	builds      int
	starts      int
	kills       int
	removes     int
	hostDir     string
	commands    []sandbox.ExecOptions
	inflight    int
	maxInflight int
}

// Build counts the call and returns BuildErr.
func (r *Runtime) Build(_ context.Context, _ sandbox.BuildOptions) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
	return r.BuildErr
}

// Start counts the call and returns ContainerID or StartErr.
func (r *Runtime) Start(_ context.Context, opts sandbox.StartOptions) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts++
	if r.StartErr != nil {
		return "", r.StartErr
	}
	r.hostDir = opts.HostDir
	if r.ContainerID == "" {
		return "fake-container", nil
	}
	return r.ContainerID, nil
}

// Exec records the command and delegates to OnExec, if set.
func (r *Runtime) Exec(_ context.Context, _ string, opts sandbox.ExecOptions) (sandbox.ExecOutput, error) {
	r.mu.Lock()
	r.commands = append(r.commands, opts)
	r.inflight++
	if r.inflight > r.maxInflight {
		r.maxInflight = r.inflight
	}
	dir := r.hostDir
	fn := r.OnExec
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.inflight--
		r.mu.Unlock()
	}()

	if fn == nil {
		return sandbox.ExecOutput{}, nil
	}
	return fn(dir, opts)
}

// Kill counts the call and returns KillErr.
func (r *Runtime) Kill(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.kills++
	return r.KillErr
}

// Remove counts the call and returns RemoveErr.
func (r *Runtime) Remove(_ context.Context, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removes++
	return r.RemoveErr
}

// IsRunning reports true once a container was started and not removed,
// unless Exited is set.
func (r *Runtime) IsRunning(_ context.Context, _ string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.Exited && r.starts > r.removes
}

// Builds returns the number of Build calls.
func (r *Runtime) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

// Starts returns the number of Start calls.
func (r *Runtime) Starts() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.starts
}

// Kills returns the number of Kill calls.
func (r *Runtime) Kills() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.kills
}

// Removes returns the number of Remove calls.
func (r *Runtime) Removes() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removes
}

// Commands returns the commands run so far, in order.
func (r *Runtime) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.commands))
	for i, c := range r.commands {
		out[i] = c.Command
	}
	return out
}

// ExecCalls returns the full options of every Exec call.
func (r *Runtime) ExecCalls() []sandbox.ExecOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sandbox.ExecOptions(nil), r.commands...)
}

// MaxInflight returns the highest number of concurrent Exec calls observed.
func (r *Runtime) MaxInflight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxInflight
}
