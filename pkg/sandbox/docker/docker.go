// Package docker implements sandbox.Runtime using the docker CLI.
package docker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"

	"github.com/jxucoder/bashnotes/pkg/sandbox"
)

// maxOutputTail caps how much build output is quoted in an error.
const maxOutputTail = 4096

// Runtime implements sandbox.Runtime using Docker.
type Runtime struct {
	dockerBin string
}

// New creates a new Docker sandbox runtime.
func New() *Runtime {
	return &Runtime{
		dockerBin: findDocker(),
	}
}

// NewWithBinary creates a runtime that invokes the given docker-compatible
// binary, e.g. podman.
func NewWithBinary(bin string) *Runtime {
	return &Runtime{dockerBin: bin}
}

// findDocker locates the docker binary, checking PATH first and then
// well-known install locations (Docker Desktop on macOS, Homebrew, etc.).
func findDocker() string {
	if p, err := exec.LookPath("docker"); err == nil {
		return p
	}
	candidates := []string{
		"/Applications/Docker.app/Contents/Resources/bin/docker",
		"/usr/local/bin/docker",
		"/opt/homebrew/bin/docker",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	return "docker"
}

func (r *Runtime) docker(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.dockerBin, args...)
}

// Build builds opts.Image from the Dockerfile in opts.ContextDir. Some docker
// versions exit 0 on a failed build, so success is decided by the marker the
// builder prints after tagging, not by the exit code.
func (r *Runtime) Build(ctx context.Context, opts sandbox.BuildOptions) error {
	args := []string{"build"}
	if opts.Network != "" {
		args = append(args, "--network="+opts.Network)
	}
	args = append(args, "-t", opts.Image, ".")

	cmd := r.docker(ctx, args...)
	cmd.Dir = opts.ContextDir
	output, err := cmd.CombinedOutput()
	if BuildSucceeded(string(output), opts.Image) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: %v\noutput: %s", sandbox.ErrBuildFailed, err, tail(output))
	}
	return fmt.Errorf("%w: no success marker in build output\noutput: %s", sandbox.ErrBuildFailed, tail(output))
}

// BuildSucceeded reports whether build output contains a success marker for
// image: the legacy builder's "Successfully tagged", podman's localhost
// variant, or BuildKit's "naming to".
func BuildSucceeded(output, image string) bool {
	markers := []string{
		"Successfully tagged " + image + ":latest",
		"Successfully tagged localhost/" + image + ":latest",
		"naming to docker.io/library/" + image + ":latest",
	}
	for _, m := range markers {
		if strings.Contains(output, m) {
			return true
		}
	}
	return false
}

// Start runs a detached, kept-alive container with the notebook directory
// bind-mounted. Anything written to stderr counts as a failed start.
func (r *Runtime) Start(ctx context.Context, opts sandbox.StartOptions) (string, error) {
	args := []string{"run", "-i", "-d"}

	if opts.Name != "" {
		args = append(args, "--name", opts.Name)
	}

	keys := make([]string, 0, len(opts.Labels))
	for k := range opts.Labels {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+opts.Labels[k])
	}

	mount := opts.MountPoint
	if mount == "" {
		mount = sandbox.DefaultMountPoint
	}
	args = append(args, "-v", opts.HostDir+":"+mount)

	if opts.Network != "" {
		args = append(args, "--network", opts.Network)
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, opts.Image)

	var stdout, stderr bytes.Buffer
	cmd := r.docker(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	containerID := strings.TrimSpace(stdout.String())
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		if containerID != "" {
			_ = r.docker(context.WithoutCancel(ctx), "rm", "-f", containerID).Run()
		}
		return "", fmt.Errorf("%w: %s", sandbox.ErrStartFailed, msg)
	}
	if runErr != nil {
		return "", fmt.Errorf("%w: %v", sandbox.ErrStartFailed, runErr)
	}
	return containerID, nil
}

// Exec runs opts.Command through bash -c inside the container and captures
// stdout and stderr separately. A non-zero exit is reported in ExitCode.
func (r *Runtime) Exec(ctx context.Context, containerID string, opts sandbox.ExecOptions) (sandbox.ExecOutput, error) {
	args := []string{"exec"}
	if opts.WorkDir != "" {
		args = append(args, "-w", opts.WorkDir)
	}
	for _, e := range opts.Env {
		args = append(args, "-e", e)
	}
	args = append(args, containerID, "bash", "-c", opts.Command)

	var stdout, stderr bytes.Buffer
	cmd := r.docker(ctx, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()

	out := sandbox.ExecOutput{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		out.ExitCode = exitErr.ExitCode()
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("running exec: %w", err)
	}
	return out, nil
}

// Kill sends SIGKILL to a container.
func (r *Runtime) Kill(ctx context.Context, containerID string) error {
	if output, err := r.docker(ctx, "kill", containerID).CombinedOutput(); err != nil {
		return fmt.Errorf("killing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// Remove force-removes a container.
func (r *Runtime) Remove(ctx context.Context, containerID string) error {
	if output, err := r.docker(ctx, "rm", "-f", containerID).CombinedOutput(); err != nil {
		return fmt.Errorf("removing container: %w\noutput: %s", err, string(output))
	}
	return nil
}

// IsRunning checks if a container is still running.
func (r *Runtime) IsRunning(ctx context.Context, containerID string) bool {
	cmd := r.docker(ctx, "inspect", "-f", "{{.State.Running}}", containerID)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return false
	}
	return strings.TrimSpace(string(output)) == "true"
}

// EnsureNetwork creates the Docker network if it doesn't exist. The built-in
// networks are left alone.
func (r *Runtime) EnsureNetwork(ctx context.Context, name string) error {
	switch name {
	case "", "host", "bridge", "none":
		return nil
	}

	check := r.docker(ctx, "network", "inspect", name)
	if check.Run() == nil {
		return nil
	}

	cmd := r.docker(ctx, "network", "create", name)
	if output, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("creating network %q: %w\noutput: %s", name, err, string(output))
	}
	return nil
}

func tail(b []byte) string {
	if len(b) > maxOutputTail {
		b = b[len(b)-maxOutputTail:]
	}
	return string(b)
}
