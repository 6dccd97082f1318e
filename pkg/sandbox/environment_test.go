package sandbox_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/bashnotes/pkg/sandbox"
	"github.com/jxucoder/bashnotes/pkg/sandbox/sandboxtest"
)

func newEnv(t *testing.T, rt *sandboxtest.Runtime) (*sandbox.Environment, string) {
	t.Helper()
	dir := t.TempDir()
	env := sandbox.NewEnvironment(rt, sandbox.Config{
		Image:     sandbox.ImageName("bashnotes-test", dir),
		Dir:       dir,
		SessionID: "s1",
	})
	return env, dir
}

// ---------------------------------------------------------------------------
// Provision
// ---------------------------------------------------------------------------

func TestProvision_HappyPath(t *testing.T) {
	rt := &sandboxtest.Runtime{ContainerID: "abc"}
	env, dir := newEnv(t, rt)

	require.Equal(t, sandbox.StateUninitialized, env.State())
	require.NoError(t, env.Provision(context.Background()))

	assert.Equal(t, sandbox.StateRunning, env.State())
	assert.Equal(t, "abc", env.ContainerID())
	assert.Equal(t, 1, rt.Builds())
	assert.Equal(t, 1, rt.Starts())

	data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, sandbox.DefaultDockerfile, string(data))
}

func TestProvision_KeepsExistingDockerfile(t *testing.T) {
	rt := &sandboxtest.Runtime{}
	env, dir := newEnv(t, rt)
	custom := "FROM python:3.12\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "Dockerfile"), []byte(custom), 0o644))

	require.NoError(t, env.Provision(context.Background()))

	data, err := os.ReadFile(filepath.Join(dir, "Dockerfile"))
	require.NoError(t, err)
	assert.Equal(t, custom, string(data))
}

func TestProvision_BuildFailureSkipsStart(t *testing.T) {
	rt := &sandboxtest.Runtime{BuildErr: sandbox.ErrBuildFailed}
	env, _ := newEnv(t, rt)

	err := env.Provision(context.Background())
	require.ErrorIs(t, err, sandbox.ErrBuildFailed)

	assert.Equal(t, sandbox.StateFailed, env.State())
	assert.ErrorIs(t, env.Err(), sandbox.ErrBuildFailed)
	assert.Equal(t, 0, rt.Starts())
	assert.Empty(t, env.ContainerID())
}

func TestProvision_StartFailureRegistersNoContainer(t *testing.T) {
	rt := &sandboxtest.Runtime{StartErr: errors.New("bind failed")}
	env, _ := newEnv(t, rt)

	require.Error(t, env.Provision(context.Background()))
	assert.Equal(t, sandbox.StateFailed, env.State())
	assert.Empty(t, env.ContainerID())

	env.Stop(context.Background())
	assert.Equal(t, 0, rt.Kills(), "nothing to tear down")
}

func TestProvision_OnlyOnce(t *testing.T) {
	env, _ := newEnv(t, &sandboxtest.Runtime{})
	require.NoError(t, env.Provision(context.Background()))
	assert.Error(t, env.Provision(context.Background()))
}

// ---------------------------------------------------------------------------
// Exec
// ---------------------------------------------------------------------------

func TestExec_RequiresRunning(t *testing.T) {
	env, _ := newEnv(t, &sandboxtest.Runtime{})
	_, err := env.Exec(context.Background(), "ls", "")
	assert.ErrorIs(t, err, sandbox.ErrNotRunning)
}

func TestExec_PassesWorkDirAndCode(t *testing.T) {
	rt := &sandboxtest.Runtime{
		OnExec: func(_ string, opts sandbox.ExecOptions) (sandbox.ExecOutput, error) {
			return sandbox.ExecOutput{Stdout: "ran " + opts.Command}, nil
		},
	}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	out, err := env.Exec(context.Background(), "echo $CODE", "print(1)\n")
	require.NoError(t, err)
	assert.Equal(t, "ran echo $CODE", out.Stdout)

	calls := rt.ExecCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, sandbox.DefaultMountPoint, calls[0].WorkDir)
	assert.Equal(t, []string{"CODE=print(1)\n"}, calls[0].Env)
	assert.Equal(t, sandbox.StateRunning, env.State())
	assert.Equal(t, 1, env.Execs())
}

func TestExec_RuntimeErrorBecomesStderr(t *testing.T) {
	rt := &sandboxtest.Runtime{
		OnExec: func(string, sandbox.ExecOptions) (sandbox.ExecOutput, error) {
			return sandbox.ExecOutput{Stderr: "partial"}, errors.New("daemon gone")
		},
	}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	out, err := env.Exec(context.Background(), "ls", "")
	require.NoError(t, err)
	assert.Equal(t, "partial\ndaemon gone", out.Stderr)
	assert.Equal(t, -1, out.ExitCode)
	assert.Equal(t, sandbox.StateRunning, env.State())
}

func TestExec_NeverConcurrent(t *testing.T) {
	rt := &sandboxtest.Runtime{
		OnExec: func(string, sandbox.ExecOptions) (sandbox.ExecOutput, error) {
			time.Sleep(10 * time.Millisecond)
			return sandbox.ExecOutput{}, nil
		},
	}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = env.Exec(context.Background(), "sleep", "")
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, env.Execs())
	assert.Equal(t, 1, rt.MaxInflight())
}

func TestExec_ExitedContainerFailsEnvironment(t *testing.T) {
	rt := &sandboxtest.Runtime{ContainerID: "abc"}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	rt.Exited = true
	out, err := env.Exec(context.Background(), "ls", "")
	require.NoError(t, err)
	assert.Contains(t, out.Stderr, "container abc exited")
	assert.Equal(t, -1, out.ExitCode)
	assert.Empty(t, rt.Commands(), "no command is dispatched to a dead container")

	assert.Equal(t, sandbox.StateFailed, env.State())
	assert.ErrorIs(t, env.Err(), sandbox.ErrNotRunning)
	assert.Empty(t, env.ContainerID())
	assert.Equal(t, 1, rt.Removes())

	_, err = env.Exec(context.Background(), "ls", "")
	assert.ErrorIs(t, err, sandbox.ErrNotRunning)

	// Already torn down.
	env.Stop(context.Background())
	assert.Equal(t, 1, rt.Removes())
}

// ---------------------------------------------------------------------------
// Stop
// ---------------------------------------------------------------------------

func TestTerminate_DoesNotWaitForCommand(t *testing.T) {
	rt := &sandboxtest.Runtime{}
	started := make(chan struct{})
	rt.OnExec = func(string, sandbox.ExecOptions) (sandbox.ExecOutput, error) {
		close(started)
		// The command ends once its container is killed.
		for rt.Kills() == 0 {
			time.Sleep(5 * time.Millisecond)
		}
		return sandbox.ExecOutput{Stderr: "killed", ExitCode: 137}, nil
	}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	done := make(chan sandbox.ExecOutput)
	go func() {
		out, _ := env.Exec(context.Background(), "sleep 600", "")
		done <- out
	}()
	<-started

	env.Terminate(context.Background())
	assert.Equal(t, 1, rt.Kills())
	assert.Equal(t, 1, rt.Removes())

	select {
	case out := <-done:
		assert.Equal(t, 137, out.ExitCode)
	case <-time.After(time.Second):
		t.Fatal("command still running after terminate")
	}
	assert.Equal(t, sandbox.StateStopped, env.State())

	env.Stop(context.Background())
	assert.Equal(t, 1, rt.Removes())
}

func TestStop_TeardownIsBestEffortAndIdempotent(t *testing.T) {
	rt := &sandboxtest.Runtime{KillErr: errors.New("no such container"), RemoveErr: errors.New("gone")}
	env, _ := newEnv(t, rt)
	require.NoError(t, env.Provision(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	env.Stop(ctx)
	env.Stop(ctx)

	assert.Equal(t, sandbox.StateStopped, env.State())
	assert.Equal(t, 1, rt.Kills())
	assert.Equal(t, 1, rt.Removes())

	_, err := env.Exec(context.Background(), "ls", "")
	assert.ErrorIs(t, err, sandbox.ErrNotRunning)
}

func TestStop_BeforeProvision(t *testing.T) {
	rt := &sandboxtest.Runtime{}
	env, _ := newEnv(t, rt)

	env.Stop(context.Background())
	assert.Equal(t, sandbox.StateStopped, env.State())
	assert.Error(t, env.Provision(context.Background()))
	assert.Equal(t, 0, rt.Builds())
}

func TestImageName(t *testing.T) {
	a := sandbox.ImageName("p", "/notes/a")
	b := sandbox.ImageName("p", "/notes/b")
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, sandbox.ImageName("p", "/notes/a"))
	assert.Len(t, a, len("p-")+12)
}
