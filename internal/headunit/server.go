// Package headunit implements an in-process head unit that speaks the
// application-menu protocol. It backs the `carmenu headunit` command and the
// integration tests.
package headunit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"sort"
	"sync"

	"github.com/example/carmenu/internal/codec"
	"github.com/example/carmenu/internal/ipc"
	"github.com/example/carmenu/internal/logging"
	"github.com/example/carmenu/internal/menu"
	"github.com/example/carmenu/internal/protocol"
	"github.com/example/carmenu/internal/security"
)

var (
	// ErrUnknownHandle is reported for calls naming a root this session does
	// not own.
	ErrUnknownHandle = errors.New("unknown menu root")
	// ErrUnauthorized is reported when the session token does not match.
	ErrUnauthorized = errors.New("unauthorized")
)

const rootFlagsLen = 8

// Stats counts the calls the head unit has served.
type Stats struct {
	Creates         int
	ListenersAdded  int
	ListenersGone   int
	Registrations   int
	Disposals       int
	RejectedFrames  int
	ActiveSessions  int
	EventsDelivered int
}

// RegisteredEntry is one entry as the head unit displays it.
type RegisteredEntry struct {
	ID     string
	Name   string
	Record map[int]any
}

// Root is a snapshot of one live application-menu root.
type Root struct {
	Handle    int
	Flags     []byte
	Listeners []string
	Entries   []RegisteredEntry
}

type root struct {
	handle    int
	flags     []byte
	owner     *session
	listeners map[string]struct{}
	entries   map[string]map[int]any
	order     []string
}

type session struct {
	conn    net.Conn
	writeMu sync.Mutex
	enc     *codec.Encoder
}

func (s *session) send(frame protocol.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.enc.Encode(frame)
}

// Server is a simulated head unit.
type Server struct {
	endpoint ipc.Endpoint
	token    string

	mu         sync.Mutex
	listener   net.Listener
	nextHandle int
	roots      map[int]*root
	sessions   map[*session]struct{}
	stats      Stats

	ready chan struct{}
	wg    sync.WaitGroup
}

// New creates a head unit bound to endpoint. An empty token accepts every
// session.
func New(endpoint ipc.Endpoint, token string) *Server {
	return &Server{
		endpoint: endpoint,
		token:    token,
		roots:    make(map[int]*root),
		sessions: make(map[*session]struct{}),
		ready:    make(chan struct{}),
	}
}

// Ready is closed once the server is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address. It is only valid after Ready.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Endpoint returns an endpoint clients can dial. It is only valid after Ready.
func (s *Server) Endpoint() ipc.Endpoint {
	addr := s.Addr()
	if addr == nil {
		return s.endpoint
	}
	return ipc.Endpoint{Network: addr.Network(), Address: addr.String()}
}

// Serve listens on the configured endpoint until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := s.endpoint.Listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.endpoint, err)
	}
	return s.ServeListener(ctx, ln)
}

// ServeListener accepts sessions on ln until ctx is canceled.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)
	log.Printf("head unit listening on %s", ln.Addr())

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		s.mu.Lock()
		for sess := range s.sessions {
			_ = sess.conn.Close()
		}
		s.mu.Unlock()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.wg.Wait()
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.serveConn(ctx, conn)
		}()
	}
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	sess := &session{conn: conn, enc: codec.NewEncoder(conn)}
	s.mu.Lock()
	s.sessions[sess] = struct{}{}
	s.stats.ActiveSessions++
	s.mu.Unlock()
	if ctx.Err() != nil {
		_ = conn.Close()
	}
	logging.Debugf("head unit session opened from %s", conn.RemoteAddr())

	defer func() {
		_ = conn.Close()
		s.dropSession(sess)
		logging.Debugf("head unit session closed from %s", conn.RemoteAddr())
	}()

	dec := codec.NewDecoder(conn)
	for {
		var req protocol.Frame
		if err := dec.Decode(&req); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				logging.Debugf("head unit read failed: %v", err)
			}
			return
		}
		if req.Kind != protocol.KindRequest {
			s.reject()
			continue
		}
		resp := s.dispatch(sess, req)
		if err := sess.send(resp); err != nil {
			logging.Debugf("head unit write failed: %v", err)
			return
		}
	}
}

// dropSession forgets every root the session owned. Remote state never
// outlives the session that created it.
func (s *Server) dropSession(sess *session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sess)
	s.stats.ActiveSessions--
	for handle, r := range s.roots {
		if r.owner == sess {
			delete(s.roots, handle)
		}
	}
}

func (s *Server) reject() {
	s.mu.Lock()
	s.stats.RejectedFrames++
	s.mu.Unlock()
}

func (s *Server) dispatch(sess *session, req protocol.Frame) protocol.Frame {
	resp := protocol.Frame{Kind: protocol.KindResponse, Seq: req.Seq}
	logging.LogCall("headunit "+req.Action, req.Fields())

	if s.token != "" && !security.Authorize(req.Token, s.token) {
		s.reject()
		resp.Error = ErrUnauthorized.Error()
		return resp
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	switch req.Action {
	case protocol.ActionCreate:
		if len(req.Flags) != rootFlagsLen {
			err = fmt.Errorf("root flags must be %d bytes, got %d", rootFlagsLen, len(req.Flags))
			break
		}
		s.nextHandle++
		r := &root{
			handle:    s.nextHandle,
			flags:     append([]byte(nil), req.Flags...),
			owner:     sess,
			listeners: make(map[string]struct{}),
			entries:   make(map[string]map[int]any),
		}
		s.roots[r.handle] = r
		s.stats.Creates++
		resp.Handle = r.handle
	case protocol.ActionAddListener:
		var r *root
		if r, err = s.lookup(sess, req.Handle); err == nil {
			if req.Ident == "" {
				err = errors.New("listener ident is required")
				break
			}
			r.listeners[req.Ident] = struct{}{}
			s.stats.ListenersAdded++
		}
	case protocol.ActionRemoveListener:
		var r *root
		if r, err = s.lookup(sess, req.Handle); err == nil {
			if _, ok := r.listeners[req.Ident]; !ok {
				err = fmt.Errorf("%q is not listening on root %d", req.Ident, req.Handle)
				break
			}
			delete(r.listeners, req.Ident)
			s.stats.ListenersGone++
		}
	case protocol.ActionRegister:
		var r *root
		if r, err = s.lookup(sess, req.Handle); err == nil {
			if req.EntryID == "" {
				err = errors.New("entry id is required")
				break
			}
			if _, exists := r.entries[req.EntryID]; !exists {
				r.order = append(r.order, req.EntryID)
			}
			r.entries[req.EntryID] = req.Record
			s.stats.Registrations++
		}
	case protocol.ActionDispose:
		if _, err = s.lookup(sess, req.Handle); err == nil {
			delete(s.roots, req.Handle)
			s.stats.Disposals++
		}
	default:
		err = fmt.Errorf("unsupported action %q", req.Action)
	}

	if err != nil {
		s.stats.RejectedFrames++
		resp.Error = err.Error()
		return resp
	}
	resp.OK = true
	return resp
}

func (s *Server) lookup(sess *session, handle int) (*root, error) {
	r, ok := s.roots[handle]
	if !ok || r.owner != sess {
		return nil, fmt.Errorf("%w %d", ErrUnknownHandle, handle)
	}
	return r, nil
}

// Select simulates the user picking entryID. Every listener of every live
// root that shows the entry receives an event. It returns the number of
// events sent.
func (s *Server) Select(entryID string) int {
	type delivery struct {
		sess  *session
		frame protocol.Frame
	}

	s.mu.Lock()
	var out []delivery
	for _, r := range s.roots {
		if _, ok := r.entries[entryID]; !ok {
			continue
		}
		for ident := range r.listeners {
			out = append(out, delivery{sess: r.owner, frame: protocol.Frame{
				Kind:    protocol.KindEvent,
				Handle:  r.handle,
				Ident:   ident,
				EntryID: entryID,
				Event:   &protocol.EventPayload{Type: protocol.EventSelected},
			}})
		}
	}
	s.mu.Unlock()

	sent := 0
	for _, d := range out {
		if err := d.sess.send(d.frame); err != nil {
			logging.Debugf("deliver event for %s failed: %v", entryID, err)
			continue
		}
		sent++
	}
	s.mu.Lock()
	s.stats.EventsDelivered += sent
	s.mu.Unlock()
	return sent
}

// SelectName selects the first displayed entry whose name matches.
func (s *Server) SelectName(name string) (int, bool) {
	for _, r := range s.Snapshot() {
		for _, e := range r.Entries {
			if e.Name == name {
				return s.Select(e.ID), true
			}
		}
	}
	return 0, false
}

// Snapshot returns the live roots ordered by handle, with entries in
// registration order.
func (s *Server) Snapshot() []Root {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Root, 0, len(s.roots))
	for _, r := range s.roots {
		snap := Root{
			Handle: r.handle,
			Flags:  append([]byte(nil), r.flags...),
		}
		for ident := range r.listeners {
			snap.Listeners = append(snap.Listeners, ident)
		}
		sort.Strings(snap.Listeners)
		for _, id := range r.order {
			record := r.entries[id]
			name, _ := record[menu.KeyName].(string)
			snap.Entries = append(snap.Entries, RegisteredEntry{ID: id, Name: name, Record: record})
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out
}

// Stats returns a copy of the call counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
