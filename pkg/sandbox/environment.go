package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// State is a step in an Environment's lifecycle.
type State int

const (
	StateUninitialized State = iota
	StateImageBuilding
	StateImageReady
	StateStarting
	StateRunning
	StateExecuting
	StateStopped
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateImageBuilding:
		return "image-building"
	case StateImageReady:
		return "image-ready"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateExecuting:
		return "executing"
	case StateStopped:
		return "stopped"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// teardownTimeout bounds kill + remove, which run even after the caller's
// context is cancelled.
const teardownTimeout = 30 * time.Second

// Config describes the environment for one notebook directory.
type Config struct {
	Image      string // image tag, see ImageName
	Dir        string // absolute notebook directory on the host
	MountPoint string // defaults to DefaultMountPoint
	Network    string
	SessionID  string
	Env        []string
}

// Environment owns a single container bound to a notebook directory. It is
// used through a pointer and is safe for concurrent use; commands are run one
// at a time.
type Environment struct {
	rt  Runtime
	cfg Config

	execMu sync.Mutex // held for the duration of Exec and Stop

	mu          sync.Mutex
	state       State
	containerID string
	err         error
	execs       int
}

// NewEnvironment creates an uninitialized environment.
func NewEnvironment(rt Runtime, cfg Config) *Environment {
	if cfg.MountPoint == "" {
		cfg.MountPoint = DefaultMountPoint
	}
	return &Environment{rt: rt, cfg: cfg}
}

// ImageName derives a per-directory image tag from prefix.
func ImageName(prefix, dir string) string {
	sum := sha256.Sum256([]byte(dir))
	return prefix + "-" + hex.EncodeToString(sum[:])[:12]
}

// EnsureBuildContext writes a default Dockerfile into dir if it has none.
// It reports whether a file was created.
func EnsureBuildContext(dir string) (bool, error) {
	path := filepath.Join(dir, "Dockerfile")
	if _, err := os.Stat(path); err == nil {
		return false, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return false, err
	}
	if err := os.WriteFile(path, []byte(DefaultDockerfile), 0o644); err != nil {
		return false, fmt.Errorf("writing default Dockerfile: %w", err)
	}
	return true, nil
}

// Dir returns the host directory bound into the container.
func (e *Environment) Dir() string { return e.cfg.Dir }

// Image returns the image tag the environment builds.
func (e *Environment) Image() string { return e.cfg.Image }

// State returns the current lifecycle state.
func (e *Environment) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// ContainerID returns the running container's id, or "" if there is none.
func (e *Environment) ContainerID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.containerID
}

// Err returns the error that moved the environment to StateFailed.
func (e *Environment) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.err
}

// Execs returns the number of commands dispatched so far.
func (e *Environment) Execs() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.execs
}

// Provision builds the image and starts the container. A failed build never
// attempts a start.
func (e *Environment) Provision(ctx context.Context) error {
	if !e.transition(StateUninitialized, StateImageBuilding) {
		return fmt.Errorf("provisioning environment in state %s", e.State())
	}

	created, err := EnsureBuildContext(e.cfg.Dir)
	if err != nil {
		return e.fail(fmt.Errorf("preparing build context: %w", err))
	}
	if created {
		log.Printf("No Dockerfile in %s, created default", e.cfg.Dir)
	}

	log.Printf("Building image %s from %s", e.cfg.Image, e.cfg.Dir)
	if err := e.rt.Build(ctx, BuildOptions{
		Image:      e.cfg.Image,
		ContextDir: e.cfg.Dir,
		Network:    e.cfg.Network,
	}); err != nil {
		return e.fail(fmt.Errorf("building image %s: %w", e.cfg.Image, err))
	}
	if !e.transition(StateImageBuilding, StateImageReady) ||
		!e.transition(StateImageReady, StateStarting) {
		return fmt.Errorf("%w: stopped during build", ErrNotRunning)
	}

	id, err := e.rt.Start(ctx, StartOptions{
		Image:      e.cfg.Image,
		Name:       "bashnotes-" + e.cfg.SessionID,
		HostDir:    e.cfg.Dir,
		MountPoint: e.cfg.MountPoint,
		Network:    e.cfg.Network,
		Labels:     map[string]string{"bashnotes.session": e.cfg.SessionID},
		Env:        e.cfg.Env,
	})
	if err == nil && id == "" {
		err = fmt.Errorf("%w: runtime returned no container id", ErrStartFailed)
	}
	if err != nil {
		return e.fail(fmt.Errorf("starting container: %w", err))
	}

	e.mu.Lock()
	if e.state != StateStarting {
		e.mu.Unlock()
		e.teardown(ctx, id)
		return fmt.Errorf("%w: stopped during start", ErrNotRunning)
	}
	e.containerID = id
	e.state = StateRunning
	e.mu.Unlock()

	log.Printf("Container %s started for %s", shortID(id), e.cfg.Dir)
	return nil
}

// Exec runs command in the container's mount point and waits for it to
// finish. code is exported to the command as $CODE. Failures of the command
// itself, or of the runtime while running it, are reported in the output's
// Stderr; the only error is an environment that is not running.
func (e *Environment) Exec(ctx context.Context, command, code string) (ExecOutput, error) {
	e.execMu.Lock()
	defer e.execMu.Unlock()

	e.mu.Lock()
	if e.state != StateRunning {
		st := e.state
		e.mu.Unlock()
		return ExecOutput{}, fmt.Errorf("%w (state %s)", ErrNotRunning, st)
	}
	e.state = StateExecuting
	e.execs++
	id := e.containerID
	e.mu.Unlock()

	if !e.rt.IsRunning(ctx, id) {
		return e.exited(ctx, id), nil
	}

	out, err := e.rt.Exec(ctx, id, ExecOptions{
		Command: command,
		WorkDir: e.cfg.MountPoint,
		Env:     []string{"CODE=" + code},
	})

	e.transition(StateExecuting, StateRunning)

	if err != nil {
		log.Printf("Exec of %q in %s failed: %v", command, shortID(id), err)
		if out.Stderr != "" && out.Stderr[len(out.Stderr)-1] != '\n' {
			out.Stderr += "\n"
		}
		out.Stderr += err.Error()
		if out.ExitCode == 0 {
			out.ExitCode = -1
		}
	}
	return out, nil
}

// exited handles a container that died between commands: the environment
// fails, the container is removed, and the command is answered with the
// reason on stderr.
func (e *Environment) exited(ctx context.Context, id string) ExecOutput {
	err := fmt.Errorf("%w: container %s exited", ErrNotRunning, shortID(id))

	e.mu.Lock()
	if e.state == StateExecuting {
		e.state = StateFailed
		e.err = err
		e.containerID = ""
	}
	e.mu.Unlock()

	log.Printf("Environment for %s failed: %v", e.cfg.Dir, err)
	e.teardown(ctx, id)
	return ExecOutput{Stderr: err.Error() + "\n", ExitCode: -1}
}

// Stop tears the container down. It waits for a command in flight to finish,
// never returns an error, and may be called more than once.
func (e *Environment) Stop(ctx context.Context) {
	e.execMu.Lock()
	defer e.execMu.Unlock()
	e.Terminate(ctx)
}

// Terminate tears the container down without waiting for a command in
// flight; the command ends when its container is killed. A provision in
// progress stops at its next step.
func (e *Environment) Terminate(ctx context.Context) {
	e.mu.Lock()
	if e.state == StateStopped || e.state == StateFailed {
		e.mu.Unlock()
		return
	}
	id := e.containerID
	e.containerID = ""
	e.state = StateStopped
	e.mu.Unlock()

	if id != "" {
		e.teardown(ctx, id)
	}
}

func (e *Environment) teardown(ctx context.Context, id string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), teardownTimeout)
	defer cancel()

	log.Printf("Stopping container %s", shortID(id))
	if err := e.rt.Kill(ctx, id); err != nil {
		log.Printf("Warning: failed to kill container %s: %v", shortID(id), err)
	}
	if err := e.rt.Remove(ctx, id); err != nil {
		log.Printf("Warning: failed to remove container %s: %v", shortID(id), err)
	}
}

// transition moves from one state to another, reporting false if the
// environment was not in the expected state.
func (e *Environment) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

func (e *Environment) fail(err error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != StateStopped {
		e.state = StateFailed
		e.err = err
	}
	log.Printf("Environment for %s failed: %v", e.cfg.Dir, err)
	return err
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
