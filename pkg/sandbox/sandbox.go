// Package sandbox defines the Runtime interface used to run notebook blocks in
// an isolated container, and the Environment that owns one such container for
// the lifetime of a render session.
package sandbox

import (
	"context"
	"errors"
)

// DefaultMountPoint is where the notebook directory appears inside the container.
const DefaultMountPoint = "/home"

// DefaultDockerfile is written to a notebook directory that has none.
const DefaultDockerfile = "FROM ubuntu:latest\n"

var (
	// ErrBuildFailed is returned when an image build does not report success.
	ErrBuildFailed = errors.New("image build failed")

	// ErrStartFailed is returned when a container does not start cleanly.
	ErrStartFailed = errors.New("container start failed")

	// ErrNotRunning is returned when a command is sent to an environment
	// that is not running.
	ErrNotRunning = errors.New("environment is not running")
)

// BuildOptions configures an image build.
type BuildOptions struct {
	Image      string // tag to build, without ":latest"
	ContextDir string // directory holding the Dockerfile
	Network    string // build network, e.g. "host"
}

// StartOptions configures a new container.
type StartOptions struct {
	Image      string
	Name       string            // container name
	HostDir    string            // directory bind-mounted into the container
	MountPoint string            // mount target inside the container
	Network    string            // Docker network name
	Labels     map[string]string // container labels
	Env        []string          // additional environment variables
}

// ExecOptions configures a single command run inside a container.
type ExecOptions struct {
	Command string   // passed verbatim to bash -c
	WorkDir string   // working directory inside the container
	Env     []string // extra environment variables, KEY=VALUE
}

// ExecOutput is the captured result of a command.
type ExecOutput struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// Runtime manages images and containers. Implementations must treat a
// non-zero command exit as a normal ExecOutput, not an error.
type Runtime interface {
	Build(ctx context.Context, opts BuildOptions) error
	Start(ctx context.Context, opts StartOptions) (containerID string, err error)
	Exec(ctx context.Context, containerID string, opts ExecOptions) (ExecOutput, error)
	Kill(ctx context.Context, containerID string) error
	Remove(ctx context.Context, containerID string) error
	IsRunning(ctx context.Context, containerID string) bool
}
