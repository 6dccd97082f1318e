package server

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jxucoder/bashnotes/internal/notebook"
	"github.com/jxucoder/bashnotes/pkg/markdown"
	"github.com/jxucoder/bashnotes/pkg/model"
)

const (
	wsWriteWait  = 10 * time.Second
	wsSendBuffer = 32
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// outbound is a queued message. Messages of a replaced render session are
// dropped by the writer; gen 0 is never stale.
type outbound struct {
	gen uint64
	msg *model.Message
}

// conn is one websocket client. The read loop owns inbound frames, a single
// writer goroutine owns data frames, and every render runs in its own
// goroutine.
type conn struct {
	srv  *Server
	ws   *websocket.Conn
	send chan outbound
	live *liveness

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	mu            sync.Mutex
	gen           uint64
	sessionCancel context.CancelFunc
	watchPath     string
	watch         chan *model.FileEvent
}

func newConn(srv *Server, ws *websocket.Conn) *conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &conn{
		srv:    srv,
		ws:     ws,
		send:   make(chan outbound, wsSendBuffer),
		ctx:    ctx,
		cancel: cancel,
	}
	c.live = newLiveness(srv.config.PingInterval, srv.config.ExpireAfter, c.ping, c.expire)
	return c
}

// serve runs the connection until the client goes away, the connection
// expires, or a transport error occurs.
func (c *conn) serve() {
	defer c.close()

	go c.writeLoop()

	c.ws.SetPingHandler(func(data string) error {
		c.live.touch()
		err := c.ws.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(wsWriteWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	c.ws.SetPongHandler(func(string) error {
		c.live.touch()
		return nil
	})
	c.live.start()

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Printf("WebSocket read error: %v", err)
			}
			return
		}
		c.live.touch()
		c.handle(data)
	}
}

func (c *conn) handle(data []byte) {
	req, err := parseRequest(data)
	if err != nil {
		log.Printf("Unable to parse message %q: %v", truncate(string(data), 80), err)
		c.sendError(0, err, nil)
		return
	}

	switch req.Kind {
	case requestGetTree:
		go c.sendTree()
	case requestOpenFile:
		c.openFile(req.Path)
	}
}

func (c *conn) sendTree() {
	tree, err := c.srv.renderer.Tree()
	if err != nil {
		c.sendError(0, err, nil)
		return
	}
	c.enqueue(0, &model.Message{ID: model.MessageFileTree, Data: tree})
}

// openFile replaces the current render session with one for path, and
// follows change notices for it.
func (c *conn) openFile(path string) {
	abs, err := c.srv.renderer.Resolve(path)
	if err != nil {
		c.sendError(0, err, nil)
		return
	}
	c.follow(abs, path)
	c.startSession(path)
}

func (c *conn) startSession(path string) {
	if c.ctx.Err() != nil {
		return
	}
	ctx, cancel := context.WithCancel(c.ctx)

	c.mu.Lock()
	if c.sessionCancel != nil {
		c.sessionCancel()
	}
	c.sessionCancel = cancel
	c.gen++
	gen := c.gen
	c.mu.Unlock()

	c.srv.goRender(func() { c.render(ctx, gen, path) })
}

// render opens path, sends the document, then streams block outputs.
func (c *conn) render(ctx context.Context, gen uint64, path string) {
	s, err := c.srv.renderer.Open(ctx, path)
	if err != nil {
		c.sendError(gen, err, nil)
		return
	}

	c.enqueue(gen, &model.Message{
		ID:   model.MessageDocument,
		Data: model.DocumentData{Path: path, HTML: s.HTML()},
	})

	for o := range s.Stream(ctx) {
		if o.Err != nil {
			var perr *notebook.ProvisionError
			if errors.As(o.Err, &perr) {
				c.sendError(gen, perr, perr.Blocks)
			} else {
				c.sendError(gen, o.Err, nil)
			}
			continue
		}
		stdout, stderr := markdown.ResultSections(o.Result)
		c.enqueue(gen, &model.Message{
			ID:   strconv.Itoa(o.Result.Block),
			Data: model.OutputData{Stdout: stdout, Stderr: stderr, ExitCode: o.Result.ExitCode},
		})
	}
}

// follow subscribes to change notices for abs, replacing any previous
// subscription. A notice is forwarded and the document is rendered again.
func (c *conn) follow(abs, path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.watchPath == abs {
		return
	}
	c.unfollowLocked()

	ch := c.srv.bus.Subscribe(abs)
	c.watchPath = abs
	c.watch = ch

	go func() {
		for ev := range ch {
			log.Printf("Document %s changed, rendering again", path)
			c.enqueue(0, &model.Message{
				ID:   model.MessageFileChanged,
				Data: model.FileEvent{Path: path, At: ev.At},
			})
			c.startSession(path)
		}
	}()
}

// unfollowLocked must be called with mu held.
func (c *conn) unfollowLocked() {
	if c.watch == nil {
		return
	}
	c.srv.bus.Unsubscribe(c.watchPath, c.watch)
	c.watch = nil
	c.watchPath = ""
}

func (c *conn) sendError(gen uint64, err error, blocks []int) {
	c.enqueue(gen, &model.Message{
		ID:   model.MessageError,
		Data: model.ErrorData{Error: err.Error(), Blocks: blocks},
	})
}

// enqueue hands msg to the writer. It blocks while the queue is full and
// gives up once the connection is closed.
func (c *conn) enqueue(gen uint64, msg *model.Message) {
	select {
	case c.send <- outbound{gen: gen, msg: msg}:
	case <-c.ctx.Done():
	}
}

func (c *conn) current(gen uint64) bool {
	if gen == 0 {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return gen == c.gen
}

func (c *conn) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case out := <-c.send:
			if !c.current(out.gen) {
				continue
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
				c.close()
				return
			}
			if err := c.ws.WriteJSON(out.msg); err != nil {
				log.Printf("WebSocket write error: %v", err)
				c.close()
				return
			}
		}
	}
}

func (c *conn) ping() error {
	payload := []byte(strconv.FormatInt(time.Now().UnixNano(), 10))
	return c.ws.WriteControl(websocket.PingMessage, payload, time.Now().Add(wsWriteWait))
}

func (c *conn) expire() {
	log.Printf("WebSocket %s inactive, closing", c.ws.RemoteAddr())
	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "inactive")
	_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
	c.close()
}

// close shuts the connection down: the current render stops before its next
// block, the timers stop and the socket closes.
func (c *conn) close() {
	c.closeOnce.Do(func() {
		c.cancel()
		c.live.stop()

		c.mu.Lock()
		if c.sessionCancel != nil {
			c.sessionCancel()
		}
		c.unfollowLocked()
		c.mu.Unlock()

		c.ws.Close()
		c.srv.forget(c)
	})
}
