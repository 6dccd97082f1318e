// Package notebook turns markdown documents into annotated HTML and runs their
// directed code blocks, one at a time, in a container bound to the
// document's directory.
package notebook

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jxucoder/bashnotes/pkg/markdown"
	"github.com/jxucoder/bashnotes/pkg/model"
	"github.com/jxucoder/bashnotes/pkg/sandbox"
	"github.com/jxucoder/bashnotes/pkg/store"
)

var (
	// ErrOutsideRoot is returned for a document path that resolves outside
	// the notebook root.
	ErrOutsideRoot = errors.New("path is outside the notebook root")

	// ErrInvalidName is returned for a block name that is absolute or
	// escapes the document's directory.
	ErrInvalidName = errors.New("invalid block name")

	// ErrShuttingDown is returned by Open once Shutdown has been called.
	ErrShuttingDown = errors.New("renderer is shutting down")
)

// Config configures a Renderer.
type Config struct {
	Root        string   // absolute directory documents are resolved against
	ImagePrefix string   // see sandbox.ImageName
	Network     string   // Docker network for build and run
	MountPoint  string   // where the document directory appears in the container
	CacheSize   int      // parsed documents kept in memory
	Env         []string // extra container environment, KEY=VALUE
}

// Renderer opens documents into Sessions. It is safe for concurrent use.
type Renderer struct {
	rt     sandbox.Runtime
	store  store.RunStore // nil disables history
	cfg    Config
	parser *markdown.Parser
	cache  *lru.Cache[string, []markdown.Event]

	mu     sync.Mutex
	live   map[*Session]struct{}
	closed bool
}

// NewRenderer creates a Renderer. st may be nil.
func NewRenderer(rt sandbox.Runtime, st store.RunStore, cfg Config) (*Renderer, error) {
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 128
	}
	if cfg.MountPoint == "" {
		cfg.MountPoint = sandbox.DefaultMountPoint
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	cfg.Root = root

	cache, err := lru.New[string, []markdown.Event](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating parse cache: %w", err)
	}
	return &Renderer{
		rt:     rt,
		store:  st,
		cfg:    cfg,
		parser: markdown.NewParser(),
		cache:  cache,
		live:   make(map[*Session]struct{}),
	}, nil
}

// Root returns the directory documents are resolved against.
func (r *Renderer) Root() string { return r.cfg.Root }

// Resolve turns a client supplied path into an absolute path under the root.
func (r *Renderer) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("empty document path")
	}
	abs := path
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(r.cfg.Root, abs)
	}
	abs = filepath.Clean(abs)
	if !within(r.cfg.Root, abs) {
		return "", fmt.Errorf("%w: %s", ErrOutsideRoot, path)
	}
	return abs, nil
}

// Open reads and parses the document at path, writes its named blocks to
// disk, and returns a Session ready to execute its directed blocks.
func (r *Renderer) Open(ctx context.Context, path string) (*Session, error) {
	abs, err := r.Resolve(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	events, err := r.parse(abs, src)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	events, blocks, err := markdown.Extract(events)
	if err != nil {
		return nil, fmt.Errorf("extracting blocks from %s: %w", path, err)
	}

	dir := filepath.Dir(abs)
	if err := materialize(dir, blocks); err != nil {
		return nil, err
	}

	id := uuid.New().String()[:8]
	env := sandbox.NewEnvironment(r.rt, sandbox.Config{
		Image:      sandbox.ImageName(r.cfg.ImagePrefix, dir),
		Dir:        dir,
		MountPoint: r.cfg.MountPoint,
		Network:    r.cfg.Network,
		SessionID:  id,
		Env:        r.cfg.Env,
	})

	s := newSession(id, abs, events, blocks, env, r.store)
	if !r.track(s) {
		return nil, ErrShuttingDown
	}
	s.createRun(r.rel(abs))
	log.Printf("Opened %s (%d blocks, %d directed, session %s)", r.rel(abs), len(blocks), len(s.directed), id)
	return s, nil
}

// Render opens path and returns its HTML. With execute set, every directed
// block runs first and its output is included.
func (r *Renderer) Render(ctx context.Context, path string, execute bool) (string, error) {
	s, err := r.Open(ctx, path)
	if err != nil {
		return "", err
	}
	defer s.Close(ctx)

	if execute {
		for !s.Finished() {
			if _, err := s.Execute(ctx); err != nil {
				var perr *ProvisionError
				if errors.As(err, &perr) {
					break
				}
				return "", err
			}
		}
	}
	return s.HTML(), nil
}

// Shutdown refuses further Opens and tears down the environment of every
// open session without waiting for commands in flight.
func (r *Renderer) Shutdown(ctx context.Context) {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.live))
	for s := range r.live {
		sessions = append(sessions, s)
	}
	r.mu.Unlock()

	if len(sessions) > 0 {
		log.Printf("Stopping %d open sessions", len(sessions))
	}
	for _, s := range sessions {
		s.env.Terminate(ctx)
	}
}

// Live returns the number of sessions that have not been closed.
func (r *Renderer) Live() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.live)
}

func (r *Renderer) track(s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.live[s] = struct{}{}
	s.release = func() {
		r.mu.Lock()
		delete(r.live, s)
		r.mu.Unlock()
	}
	return true
}

// Tree lists the notebook root.
func (r *Renderer) Tree() ([]model.FileTree, error) {
	return BuildTree(r.cfg.Root)
}

// parse returns a private copy of the events for src, using the cache when
// the same content at the same path was parsed before.
func (r *Renderer) parse(path string, src []byte) ([]markdown.Event, error) {
	sum := sha256.Sum256(src)
	key := path + "@" + hex.EncodeToString(sum[:])
	if events, ok := r.cache.Get(key); ok {
		return markdown.Clone(events), nil
	}

	start := time.Now()
	events, err := r.parser.Parse(src)
	if err != nil {
		return nil, err
	}
	r.cache.Add(key, events)
	log.Printf("Parsed %s in %s", r.rel(path), time.Since(start).Round(time.Microsecond))
	return markdown.Clone(events), nil
}

func (r *Renderer) rel(abs string) string {
	rel, err := filepath.Rel(r.cfg.Root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}

// materialize writes the code of every named block to its file under dir.
func materialize(dir string, blocks []*model.CodeBlock) error {
	for _, b := range blocks {
		name := b.Options.Name
		if name == "" {
			continue
		}
		if filepath.IsAbs(name) {
			return fmt.Errorf("%w: %q is absolute", ErrInvalidName, name)
		}
		path := filepath.Join(dir, name)
		if !within(dir, path) || path == dir {
			return fmt.Errorf("%w: %q escapes the document directory", ErrInvalidName, name)
		}
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("creating directory for %s: %w", name, err)
		}
		if err := os.WriteFile(path, []byte(b.Code), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", name, err)
		}
		log.Printf("Saved block %d to %s", b.Index, path)
	}
	return nil
}

// within reports whether path is root or inside it. Both must be clean.
func within(root, path string) bool {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}
