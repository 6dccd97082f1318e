package notebook

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jxucoder/bashnotes/pkg/markdown"
	"github.com/jxucoder/bashnotes/pkg/model"
	"github.com/jxucoder/bashnotes/pkg/sandbox"
	"github.com/jxucoder/bashnotes/pkg/store"
)

// ProvisionError reports that the environment could not be built or
// started. It covers every directed block that had not run yet.
type ProvisionError struct {
	Blocks []int
	Err    error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("preparing environment for blocks %v: %v", e.Blocks, e.Err)
}

func (e *ProvisionError) Unwrap() error { return e.Err }

// Outcome is one step of a streamed execution: a result, or the error that
// ended the stream.
type Outcome struct {
	Result *model.ExecutionResult
	Err    error
}

// Session is one opened document and the environment its blocks run in.
// HTML may be called from any goroutine; Execute calls are serialized.
type Session struct {
	ID   string
	Path string // absolute document path

	events   []markdown.Event
	blocks   []*model.CodeBlock
	directed []*model.CodeBlock
	env      *sandbox.Environment
	store    store.RunStore

	execMu sync.Mutex

	mu          sync.Mutex
	cursor      int // next entry of directed
	provisioned bool
	results     map[int]*model.ExecutionResult
	notice      string
	aborted     bool
	run         *model.Run
	closeOnce   sync.Once
	release     func() // drops the session from its renderer
}

func newSession(id, path string, events []markdown.Event, blocks []*model.CodeBlock,
	env *sandbox.Environment, st store.RunStore) *Session {
	var directed []*model.CodeBlock
	for _, b := range blocks {
		if b.Directed() {
			directed = append(directed, b)
		}
	}
	return &Session{
		ID:       id,
		Path:     path,
		events:   events,
		blocks:   blocks,
		directed: directed,
		env:      env,
		store:    st,
		results:  make(map[int]*model.ExecutionResult),
	}
}

// Blocks returns the document's code blocks in order.
func (s *Session) Blocks() []*model.CodeBlock { return s.blocks }

// Environment returns the session's environment.
func (s *Session) Environment() *sandbox.Environment { return s.env }

// HTML renders the document with every result recorded so far.
func (s *Session) HTML() string {
	s.mu.Lock()
	var ins []markdown.Insertion
	if s.notice != "" {
		ins = append(ins, markdown.Insertion{Index: 0, Event: markdown.HTMLEvent(markdown.Notice(s.notice))})
	}
	for _, b := range s.blocks {
		var extra []string
		if res := s.results[b.Index]; res != nil {
			stdout, stderr := markdown.ResultSections(res)
			extra = []string{stdout, stderr}
		}
		ins = append(ins, markdown.Wrap(b, extra...)...)
	}
	s.mu.Unlock()

	return markdown.RenderHTML(markdown.Splice(s.events, ins))
}

// Finished reports whether every directed block has been dealt with.
func (s *Session) Finished() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor >= len(s.directed)
}

// Execute runs the next directed block and returns its result. The first call
// provisions the environment. It returns nil, nil once the session is
// finished. A provisioning failure is returned once, as a *ProvisionError,
// and finishes the session.
func (s *Session) Execute(ctx context.Context) (*model.ExecutionResult, error) {
	s.execMu.Lock()
	defer s.execMu.Unlock()

	s.mu.Lock()
	if s.cursor >= len(s.directed) {
		s.mu.Unlock()
		return nil, nil
	}
	needProvision := !s.provisioned
	s.provisioned = true
	s.mu.Unlock()

	if needProvision {
		if err := s.env.Provision(ctx); err != nil {
			return nil, s.failProvision(err)
		}
		s.updateRun(model.RunRunning, "")
	}

	s.mu.Lock()
	b := s.directed[s.cursor]
	s.mu.Unlock()

	log.Printf("Session %s running block %d: %s", s.ID, b.Index, b.Options.Cmd)
	start := time.Now()
	// A dispatched command always runs to completion.
	out, err := s.env.Exec(context.WithoutCancel(ctx), b.Options.Cmd, b.Code)
	if err != nil {
		s.mu.Lock()
		s.cursor = len(s.directed)
		s.aborted = true
		s.mu.Unlock()
		return nil, err
	}

	res := &model.ExecutionResult{
		Block:    b.Index,
		Cmd:      b.Options.Cmd,
		Stdout:   out.Stdout,
		Stderr:   out.Stderr,
		ExitCode: out.ExitCode,
		Duration: time.Since(start),
	}

	s.mu.Lock()
	s.results[b.Index] = res
	s.cursor++
	s.mu.Unlock()

	s.recordOutput(res)
	return res, nil
}

// Stream executes the remaining directed blocks in a goroutine and delivers
// their outcomes in document order. The channel is closed when the session is
// finished, after a failure, or when ctx is done; the environment is stopped
// before it closes.
func (s *Session) Stream(ctx context.Context) <-chan Outcome {
	ch := make(chan Outcome)
	go func() {
		defer close(ch)
		defer s.Close(ctx)

		for !s.Finished() {
			if ctx.Err() != nil {
				return
			}
			res, err := s.Execute(ctx)
			if res == nil && err == nil {
				return
			}
			select {
			case ch <- Outcome{Result: res, Err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return ch
}

// Close stops the environment and finalizes the history record. It is safe
// to call more than once.
func (s *Session) Close(ctx context.Context) {
	s.closeOnce.Do(func() {
		s.env.Stop(ctx)
		if s.release != nil {
			defer s.release()
		}

		s.mu.Lock()
		failed := s.notice != ""
		unfinished := s.aborted || s.cursor < len(s.directed)
		s.mu.Unlock()

		if failed {
			return
		}
		status := model.RunComplete
		if unfinished {
			status = model.RunCancelled
		}
		s.updateRun(status, "")
	})
}

func (s *Session) failProvision(err error) error {
	s.mu.Lock()
	pending := make([]int, 0, len(s.directed)-s.cursor)
	for _, b := range s.directed[s.cursor:] {
		pending = append(pending, b.Index)
	}
	s.cursor = len(s.directed)
	s.notice = fmt.Sprintf("Internal error: %v", err)
	s.mu.Unlock()

	s.updateRun(model.RunError, err.Error())
	return &ProvisionError{Blocks: pending, Err: err}
}

// --- History ---

func (s *Session) createRun(path string) {
	if s.store == nil {
		return
	}
	now := time.Now().UTC()
	run := &model.Run{
		ID:        s.ID,
		Path:      path,
		Dir:       s.env.Dir(),
		Blocks:    len(s.blocks),
		Directed:  len(s.directed),
		Image:     s.env.Image(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.CreateRun(run); err != nil {
		log.Printf("Warning: failed to record run %s: %v", s.ID, err)
		return
	}
	s.run = run
}

func (s *Session) updateRun(status model.RunStatus, errMsg string) {
	if s.store == nil || s.run == nil {
		return
	}
	s.mu.Lock()
	s.run.Status = status
	if errMsg != "" {
		s.run.Error = errMsg
	}
	if id := s.env.ContainerID(); id != "" {
		s.run.ContainerID = id
	}
	run := *s.run
	s.mu.Unlock()

	if err := s.store.UpdateRun(&run); err != nil {
		log.Printf("Warning: failed to update run %s: %v", s.ID, err)
	}
}

func (s *Session) recordOutput(res *model.ExecutionResult) {
	if s.store == nil || s.run == nil {
		return
	}
	out := &model.Output{
		RunID:      s.ID,
		Block:      res.Block,
		Cmd:        res.Cmd,
		Stdout:     res.Stdout,
		Stderr:     res.Stderr,
		ExitCode:   res.ExitCode,
		DurationMS: res.Duration.Milliseconds(),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.AddOutput(out); err != nil {
		log.Printf("Warning: failed to record output of block %d: %v", res.Block, err)
	}
}
