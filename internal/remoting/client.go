// Package remoting is the head-unit session client. One Client wraps one
// connection; when the connection drops the Client is finished and a new one
// must be dialled.
package remoting

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sync"
	"time"

	"github.com/example/carmenu/internal/codec"
	"github.com/example/carmenu/internal/ipc"
	"github.com/example/carmenu/internal/logging"
	"github.com/example/carmenu/internal/menu"
	"github.com/example/carmenu/internal/protocol"
)

// ErrClosed is returned for calls on a session whose connection is gone.
var ErrClosed = errors.New("head unit session closed")

const writeTimeout = 10 * time.Second

// CallError is returned when the head unit answers a call with a failure.
type CallError struct {
	Action  string
	Message string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("head unit rejected %q: %s", e.Action, e.Message)
}

// EventHandler receives selection events. It runs on its own goroutine so it
// may issue further calls on the same Client, and it may block without
// stalling replies to those calls.
type EventHandler func(ev menu.Event)

// Client is a head-unit session. It implements menu.Session.
type Client struct {
	conn    net.Conn
	token   string
	onEvent EventHandler

	writeMu sync.Mutex
	enc     *codec.Encoder

	mu      sync.Mutex
	seq     uint64
	pending map[uint64]chan protocol.Frame
	err     error

	// queued holds events the handler has not consumed yet. The read loop
	// appends and signals wake; it never waits for the handler.
	queueMu sync.Mutex
	queued  []menu.Event
	wake    chan struct{}

	done      chan struct{}
	closeOnce sync.Once
}

var _ menu.Session = (*Client)(nil)

// Dial connects to the head unit at endpoint.
func Dial(ctx context.Context, endpoint ipc.Endpoint, token string, onEvent EventHandler) (*Client, error) {
	conn, err := endpoint.DialContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial head unit %s: %w", endpoint, err)
	}
	logging.Debugf("connected to head unit %s", endpoint)
	return NewClient(conn, token, onEvent), nil
}

// NewClient wraps an established connection.
func NewClient(conn net.Conn, token string, onEvent EventHandler) *Client {
	c := &Client{
		conn:    conn,
		token:   token,
		onEvent: onEvent,
		enc:     codec.NewEncoder(conn),
		pending: make(map[uint64]chan protocol.Frame),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	go c.dispatchLoop()
	return c
}

// Done is closed once the connection is gone.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended, or nil while it is open.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Close terminates the connection.
func (c *Client) Close() error {
	c.fail(ErrClosed)
	return nil
}

// CreateRoot allocates an application-menu root.
func (c *Client) CreateRoot(ctx context.Context, flags []byte) (menu.Handle, error) {
	resp, err := c.call(ctx, protocol.Frame{Action: protocol.ActionCreate, Flags: flags})
	if err != nil {
		return 0, err
	}
	return menu.Handle(resp.Handle), nil
}

// AddEventListener subscribes ident to selection events on root.
func (c *Client) AddEventListener(ctx context.Context, root menu.Handle, ident string) error {
	_, err := c.call(ctx, protocol.Frame{Action: protocol.ActionAddListener, Handle: int(root), Ident: ident})
	return err
}

// RemoveEventListener cancels a subscription made with AddEventListener.
func (c *Client) RemoveEventListener(ctx context.Context, root menu.Handle, ident string) error {
	_, err := c.call(ctx, protocol.Frame{Action: protocol.ActionRemoveListener, Handle: int(root), Ident: ident})
	return err
}

// RegisterEntry registers or replaces one entry under root.
func (c *Client) RegisterEntry(ctx context.Context, root menu.Handle, entryID string, record menu.Record) error {
	_, err := c.call(ctx, protocol.Frame{Action: protocol.ActionRegister, Handle: int(root), EntryID: entryID, Record: record})
	return err
}

// Dispose releases root.
func (c *Client) Dispose(ctx context.Context, root menu.Handle) error {
	_, err := c.call(ctx, protocol.Frame{Action: protocol.ActionDispose, Handle: int(root)})
	return err
}

func (c *Client) call(ctx context.Context, req protocol.Frame) (protocol.Frame, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return protocol.Frame{}, fmt.Errorf("%s: %w", req.Action, closedError(err))
	}
	c.seq++
	req.Kind = protocol.KindRequest
	req.Seq = c.seq
	req.Token = c.token
	reply := make(chan protocol.Frame, 1)
	c.pending[req.Seq] = reply
	c.mu.Unlock()

	logging.LogCall(req.Action, req.Fields())

	if err := c.write(ctx, req); err != nil {
		c.forget(req.Seq)
		c.fail(err)
		return protocol.Frame{}, fmt.Errorf("%s: write request: %w", req.Action, err)
	}

	select {
	case resp := <-reply:
		if !resp.OK {
			return resp, &CallError{Action: req.Action, Message: resp.Error}
		}
		return resp, nil
	case <-ctx.Done():
		c.forget(req.Seq)
		return protocol.Frame{}, fmt.Errorf("%s: %w", req.Action, ctx.Err())
	case <-c.done:
		select {
		case resp := <-reply:
			if !resp.OK {
				return resp, &CallError{Action: req.Action, Message: resp.Error}
			}
			return resp, nil
		default:
		}
		return protocol.Frame{}, fmt.Errorf("%s: %w", req.Action, closedError(c.Err()))
	}
}

func (c *Client) write(ctx context.Context, frame protocol.Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	deadline := time.Now().Add(writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.conn.SetWriteDeadline(deadline)
	return c.enc.Encode(frame)
}

func (c *Client) forget(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) readLoop() {
	dec := codec.NewDecoder(c.conn)
	for {
		var frame protocol.Frame
		if err := dec.Decode(&frame); err != nil {
			c.fail(err)
			return
		}

		switch frame.Kind {
		case protocol.KindResponse:
			c.mu.Lock()
			reply, ok := c.pending[frame.Seq]
			delete(c.pending, frame.Seq)
			c.mu.Unlock()
			if !ok {
				logging.Debugf("discarding response for unknown call %d", frame.Seq)
				continue
			}
			reply <- frame
		case protocol.KindEvent:
			ev := menu.Event{
				Handle:  menu.Handle(frame.Handle),
				Ident:   frame.Ident,
				EntryID: frame.EntryID,
			}
			if frame.Event != nil {
				ev.Type = frame.Event.Type
			}
			c.enqueue(ev)
		default:
			logging.Debugf("ignoring head unit frame of kind %q", frame.Kind)
		}
	}
}

func (c *Client) enqueue(ev menu.Event) {
	c.queueMu.Lock()
	c.queued = append(c.queued, ev)
	c.queueMu.Unlock()
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Client) dequeue() []menu.Event {
	c.queueMu.Lock()
	defer c.queueMu.Unlock()
	batch := c.queued
	c.queued = nil
	return batch
}

func (c *Client) dispatchLoop() {
	for {
		select {
		case <-c.wake:
		case <-c.done:
			return
		}
		for _, ev := range c.dequeue() {
			if c.onEvent != nil {
				c.onEvent(ev)
			}
		}
	}
}

func (c *Client) fail(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.err = err
		c.mu.Unlock()
		_ = c.conn.Close()
		close(c.done)
		if !errors.Is(err, ErrClosed) {
			log.Printf("head unit session lost: %v", err)
		}
	})
}

// closedError maps connection teardown causes onto ErrClosed so callers can
// test for it with errors.Is.
func closedError(err error) error {
	if err == nil || errors.Is(err, ErrClosed) {
		return ErrClosed
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}
