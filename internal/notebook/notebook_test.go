package notebook

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jxucoder/bashnotes/pkg/model"
	"github.com/jxucoder/bashnotes/pkg/sandbox"
	"github.com/jxucoder/bashnotes/pkg/sandbox/sandboxtest"
	"github.com/jxucoder/bashnotes/pkg/store/sqlite"
)

const plainDoc = `# Notes

Some *text*.

~~~python
print("hi")
~~~
`

const catDoc = `# Cat

~~~text
{"name": "a.txt", "cmd": "cat a.txt"}
hello world
~~~
`

const threeDoc = `# Three

~~~sh
{"cmd": "echo one"}
~~~

Between.

~~~sh
{"cmd": "echo two", "hide": true}
~~~

~~~sh
{"cmd": "echo three"}
~~~
`

// shellish answers "cat <file>" from the mounted directory and "echo <words>"
// with the words.
func shellish(hostDir string, opts sandbox.ExecOptions) (sandbox.ExecOutput, error) {
	if name, ok := strings.CutPrefix(opts.Command, "cat "); ok {
		data, err := os.ReadFile(filepath.Join(hostDir, name))
		if err != nil {
			return sandbox.ExecOutput{Stderr: err.Error(), ExitCode: 1}, nil
		}
		return sandbox.ExecOutput{Stdout: string(data)}, nil
	}
	if words, ok := strings.CutPrefix(opts.Command, "echo "); ok {
		return sandbox.ExecOutput{Stdout: words + "\n"}, nil
	}
	return sandbox.ExecOutput{Stderr: "unknown command", ExitCode: 127}, nil
}

func newRenderer(t *testing.T, rt sandbox.Runtime) (*Renderer, string) {
	t.Helper()
	root := t.TempDir()
	r, err := NewRenderer(rt, nil, Config{Root: root, ImagePrefix: "bashnotes-test", CacheSize: 4})
	require.NoError(t, err)
	return r, root
}

func writeDoc(t *testing.T, root, name, content string) {
	t.Helper()
	path := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func drain(ch <-chan Outcome) []Outcome {
	var out []Outcome
	for o := range ch {
		out = append(out, o)
	}
	return out
}

// ---------------------------------------------------------------------------
// Open / Execute
// ---------------------------------------------------------------------------

func TestOpen_NoDirectedBlocksNeverProvisions(t *testing.T) {
	rt := &sandboxtest.Runtime{}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "plain.md", plainDoc)

	s, err := r.Open(context.Background(), "plain.md")
	require.NoError(t, err)
	assert.True(t, s.Finished())

	res, err := s.Execute(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, res)
	assert.Empty(t, drain(s.Stream(context.Background())))

	assert.Equal(t, 0, rt.Builds())
	assert.Equal(t, 0, rt.Starts())
	_, err = os.Stat(filepath.Join(root, "Dockerfile"))
	assert.True(t, os.IsNotExist(err), "no build context for a document without commands")

	html := s.HTML()
	assert.Contains(t, html, `id="block-0"`)
	assert.Contains(t, html, `print(&quot;hi&quot;)`)
}

func TestNamedBlockIsMaterializedBeforeExecution(t *testing.T) {
	rt := &sandboxtest.Runtime{OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "cat.md", catDoc)

	s, err := r.Open(context.Background(), "cat.md")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello world\n", string(data))

	outcomes := drain(s.Stream(context.Background()))
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, 0, outcomes[0].Result.Block)
	assert.Equal(t, "hello world\n", outcomes[0].Result.Stdout)
	assert.Empty(t, outcomes[0].Result.Stderr)

	assert.Equal(t, []string{"cat a.txt"}, rt.Commands())
	assert.Equal(t, []string{"CODE=hello world\n"}, rt.ExecCalls()[0].Env)
}

func TestBuildFailureProducesOneErrorAndNoStart(t *testing.T) {
	rt := &sandboxtest.Runtime{BuildErr: sandbox.ErrBuildFailed, OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)

	outcomes := drain(s.Stream(context.Background()))
	require.Len(t, outcomes, 1)
	assert.Nil(t, outcomes[0].Result)

	var perr *ProvisionError
	require.True(t, errors.As(outcomes[0].Err, &perr))
	assert.Equal(t, []int{0, 1, 2}, perr.Blocks)
	assert.ErrorIs(t, outcomes[0].Err, sandbox.ErrBuildFailed)

	assert.Equal(t, 1, rt.Builds())
	assert.Equal(t, 0, rt.Starts())
	assert.Empty(t, rt.Commands())
	assert.True(t, s.Finished())
	assert.Equal(t, 1, strings.Count(s.HTML(), "uk-alert-danger"))
}

func TestStreamDeliversInDocumentOrder(t *testing.T) {
	rt := &sandboxtest.Runtime{OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)

	outcomes := drain(s.Stream(context.Background()))
	require.Len(t, outcomes, 3)
	for i, o := range outcomes {
		require.NoError(t, o.Err)
		assert.Equal(t, i, o.Result.Block)
	}
	assert.Equal(t, "two\n", outcomes[1].Result.Stdout)
	assert.Equal(t, 1, rt.MaxInflight())

	// The environment is stopped once the stream ends.
	assert.Equal(t, sandbox.StateStopped, s.Environment().State())
	assert.Equal(t, 1, rt.Kills())
	assert.Equal(t, 1, rt.Removes())

	html := s.HTML()
	one := strings.Index(html, "one\n")
	two := strings.Index(html, "two\n")
	three := strings.Index(html, "three\n")
	require.True(t, one >= 0 && two > one && three > two, "outputs out of order")
	// The hidden block has no Input section but still shows its output.
	assert.Equal(t, 2, strings.Count(html, ">Input<"))
	assert.Equal(t, 1, strings.Count(html, "<li hidden>"))
	assert.Equal(t, 3, strings.Count(html, ">Output<"))
}

func TestStreamStopsOnCancel(t *testing.T) {
	rt := &sandboxtest.Runtime{OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Empty(t, drain(s.Stream(ctx)))
	assert.Equal(t, 0, rt.Builds())
	assert.Equal(t, sandbox.StateStopped, s.Environment().State())
}

func TestRenderIsDeterministic(t *testing.T) {
	r, root := newRenderer(t, &sandboxtest.Runtime{})
	writeDoc(t, root, "three.md", threeDoc)

	first, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)
	second, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)

	assert.Equal(t, first.HTML(), second.HTML())
	require.Len(t, second.Blocks(), 3)
	for i, b := range second.Blocks() {
		assert.Equal(t, i, b.Index)
		assert.Equal(t, first.Blocks()[i].StartIndex, b.StartIndex)
	}
	assert.Equal(t, 1, r.cache.Len(), "unchanged content is parsed once")
}

func TestRender_ExecuteAll(t *testing.T) {
	rt := &sandboxtest.Runtime{OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "notes/cat.md", catDoc)

	html, err := r.Render(context.Background(), "notes/cat.md", true)
	require.NoError(t, err)
	assert.Contains(t, html, "hello world")
	assert.Contains(t, html, ">Output<")

	// Named files land next to the document.
	_, err = os.Stat(filepath.Join(root, "notes", "a.txt"))
	assert.NoError(t, err)
	assert.Equal(t, 1, rt.Removes())
}

func TestShutdown_TearsDownOpenSessions(t *testing.T) {
	rt := &sandboxtest.Runtime{OnExec: shellish}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)
	_, err = s.Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, r.Live())

	r.Shutdown(context.Background())
	assert.Equal(t, 1, rt.Kills())
	assert.Equal(t, 1, rt.Removes())

	_, err = r.Open(context.Background(), "three.md")
	assert.ErrorIs(t, err, ErrShuttingDown)

	// The rest of the session cannot run, and closing it tears nothing down twice.
	_, err = s.Execute(context.Background())
	assert.ErrorIs(t, err, sandbox.ErrNotRunning)
	s.Close(context.Background())
	assert.Equal(t, 1, rt.Removes())
	assert.Zero(t, r.Live())
}

func TestRender_ProvisionFailureIsANotice(t *testing.T) {
	rt := &sandboxtest.Runtime{StartErr: errors.New("port in use")}
	r, root := newRenderer(t, rt)
	writeDoc(t, root, "cat.md", catDoc)

	html, err := r.Render(context.Background(), "cat.md", true)
	require.NoError(t, err)
	assert.Contains(t, html, "port in use")
	assert.NotContains(t, html, ">Output<")
}

// ---------------------------------------------------------------------------
// Paths
// ---------------------------------------------------------------------------

func TestResolve(t *testing.T) {
	r, root := newRenderer(t, &sandboxtest.Runtime{})

	got, err := r.Resolve("sub/a.md")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "sub", "a.md"), got)

	got, err = r.Resolve(filepath.Join(root, "b.md"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "b.md"), got)

	for _, p := range []string{"../x.md", "/etc/passwd", "sub/../../x.md", ""} {
		_, err := r.Resolve(p)
		assert.Error(t, err, p)
	}
	_, err = r.Resolve("../x.md")
	assert.ErrorIs(t, err, ErrOutsideRoot)
}

func TestMaterialize_RejectsEscapingNames(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"../x.txt", "/tmp/x.txt", "a/../../x.txt", "."} {
		err := materialize(dir, []*model.CodeBlock{{Options: model.BlockOptions{Name: name}}})
		assert.ErrorIs(t, err, ErrInvalidName, name)
	}
}

func TestMaterialize_CreatesParentDirs(t *testing.T) {
	dir := t.TempDir()
	blocks := []*model.CodeBlock{
		{Index: 0, Code: "x\n", Options: model.BlockOptions{Name: "src/main.py"}},
		{Index: 1, Code: "ignored"},
	}
	require.NoError(t, materialize(dir, blocks))

	data, err := os.ReadFile(filepath.Join(dir, "src", "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "x\n", string(data))
}

func TestBuildTree(t *testing.T) {
	root := t.TempDir()
	writeDoc(t, root, "b.md", "")
	writeDoc(t, root, "a.md", "")
	writeDoc(t, root, "notes/c.md", "")
	writeDoc(t, root, ".git/HEAD", "")
	writeDoc(t, root, ".env", "")

	tree, err := BuildTree(root)
	require.NoError(t, err)

	var names []string
	for _, n := range tree {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{".env", "a.md", "b.md", "notes"}, names)

	notes := tree[3]
	assert.True(t, notes.Dir)
	require.Len(t, notes.Children, 1)
	assert.Equal(t, "notes/c.md", notes.Children[0].Path)
	assert.False(t, notes.Children[0].Dir)
}

// ---------------------------------------------------------------------------
// History
// ---------------------------------------------------------------------------

func TestHistoryRecordsRunAndOutputs(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	rt := &sandboxtest.Runtime{OnExec: shellish, ContainerID: "cid-1"}
	r, err := NewRenderer(rt, st, Config{Root: root, ImagePrefix: "p"})
	require.NoError(t, err)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)
	drain(s.Stream(context.Background()))

	run, err := st.GetRun(s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunComplete, run.Status)
	assert.Equal(t, "three.md", run.Path)
	assert.Equal(t, 3, run.Directed)
	assert.Equal(t, "cid-1", run.ContainerID)

	outs, err := st.GetOutputs(s.ID)
	require.NoError(t, err)
	require.Len(t, outs, 3)
	assert.Equal(t, "echo three", outs[2].Cmd)
}

func TestHistoryMarksUnfinishedRunCancelled(t *testing.T) {
	st, err := sqlite.New(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	root := t.TempDir()
	r, err := NewRenderer(&sandboxtest.Runtime{OnExec: shellish}, st, Config{Root: root, ImagePrefix: "p"})
	require.NoError(t, err)
	writeDoc(t, root, "three.md", threeDoc)

	s, err := r.Open(context.Background(), "three.md")
	require.NoError(t, err)
	_, err = s.Execute(context.Background())
	require.NoError(t, err)
	s.Close(context.Background())
	s.Close(context.Background())

	run, err := st.GetRun(s.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RunCancelled, run.Status)
}
