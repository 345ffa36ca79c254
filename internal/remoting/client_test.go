package remoting_test

import (
	"context"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/example/carmenu/internal/codec"
	"github.com/example/carmenu/internal/headunit"
	"github.com/example/carmenu/internal/ipc"
	"github.com/example/carmenu/internal/menu"
	"github.com/example/carmenu/internal/protocol"
	"github.com/example/carmenu/internal/remoting"
	"github.com/example/carmenu/internal/testutil"
)

const testToken = "secret-token"

func startHeadUnit(t *testing.T, token string) *headunit.Server {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := headunit.New(ipc.Endpoint{Network: "tcp", Address: ln.Addr().String()}, token)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := server.ServeListener(ctx, ln); err != nil {
			t.Errorf("serve: %v", err)
		}
	}()
	t.Cleanup(func() {
		cancel()
		testutil.RequireClosed(t, done, 2*time.Second, "head unit shutdown")
	})
	testutil.RequireClosed(t, server.Ready(), 2*time.Second, "head unit ready")
	return server
}

func dial(t *testing.T, server *headunit.Server, token string, onEvent remoting.EventHandler) *remoting.Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	client, err := remoting.Dial(ctx, server.Endpoint(), token, onEvent)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestClientRoundTrip(t *testing.T) {
	server := startHeadUnit(t, testToken)
	client := dial(t, server, testToken, nil)
	ctx := context.Background()

	root, err := client.CreateRoot(ctx, menu.RootFlags())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if root == 0 {
		t.Fatal("expected a non-zero root handle")
	}
	if err := client.AddEventListener(ctx, root, "carmenu.menu"); err != nil {
		t.Fatalf("AddEventListener: %v", err)
	}
	record := menu.Record{menu.KeyName: "Radio", menu.KeyIcon: []byte{1, 2, 3}, menu.KeyWeight: 100}
	if err := client.RegisterEntry(ctx, root, "carmenu.radio", record); err != nil {
		t.Fatalf("RegisterEntry: %v", err)
	}

	roots := server.Snapshot()
	if len(roots) != 1 {
		t.Fatalf("expected one root, got %d", len(roots))
	}
	got := roots[0]
	if got.Handle != int(root) {
		t.Fatalf("expected handle %d, got %d", root, got.Handle)
	}
	if len(got.Listeners) != 1 || got.Listeners[0] != "carmenu.menu" {
		t.Fatalf("unexpected listeners %v", got.Listeners)
	}
	if len(got.Entries) != 1 || got.Entries[0].Name != "Radio" {
		t.Fatalf("unexpected entries %+v", got.Entries)
	}
	if weight, ok := got.Entries[0].Record[menu.KeyWeight].(int64); !ok || weight != 100 {
		t.Fatalf("expected weight 100 on the wire, got %#v", got.Entries[0].Record[menu.KeyWeight])
	}

	if err := client.RemoveEventListener(ctx, root, "carmenu.menu"); err != nil {
		t.Fatalf("RemoveEventListener: %v", err)
	}
	if err := client.Dispose(ctx, root); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	if roots := server.Snapshot(); len(roots) != 0 {
		t.Fatalf("expected no roots after dispose, got %d", len(roots))
	}
}

func TestClientReportsRejectedCalls(t *testing.T) {
	server := startHeadUnit(t, testToken)
	client := dial(t, server, testToken, nil)

	err := client.Dispose(context.Background(), 42)
	var callErr *remoting.CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected CallError, got %v", err)
	}
	if callErr.Action != "am.dispose" {
		t.Fatalf("unexpected action %q", callErr.Action)
	}
}

func TestClientRejectsBadToken(t *testing.T) {
	server := startHeadUnit(t, testToken)
	client := dial(t, server, "wrong", nil)

	_, err := client.CreateRoot(context.Background(), menu.RootFlags())
	var callErr *remoting.CallError
	if !errors.As(err, &callErr) || callErr.Message != headunit.ErrUnauthorized.Error() {
		t.Fatalf("expected unauthorized CallError, got %v", err)
	}
	if stats := server.Stats(); stats.Creates != 0 {
		t.Fatalf("expected no roots created, got %d", stats.Creates)
	}
}

func TestClientDeliversEvents(t *testing.T) {
	server := startHeadUnit(t, "")
	events := make(chan menu.Event, 1)
	client := dial(t, server, "", func(ev menu.Event) { events <- ev })
	ctx := context.Background()

	root, err := client.CreateRoot(ctx, menu.RootFlags())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := client.AddEventListener(ctx, root, "carmenu.menu"); err != nil {
		t.Fatalf("AddEventListener: %v", err)
	}
	if err := client.RegisterEntry(ctx, root, "carmenu.nav", menu.Record{menu.KeyName: "Maps"}); err != nil {
		t.Fatalf("RegisterEntry: %v", err)
	}

	if sent := server.Select("carmenu.nav"); sent != 1 {
		t.Fatalf("expected one event sent, got %d", sent)
	}
	ev := testutil.RequireReceive(t, events, 2*time.Second, "waiting for selection event")
	if ev.Handle != root || ev.Ident != "carmenu.menu" || ev.EntryID != "carmenu.nav" || ev.Type != "selected" {
		t.Fatalf("unexpected event %+v", ev)
	}
}

func TestEventHandlerMayCallBack(t *testing.T) {
	server := startHeadUnit(t, "")
	done := make(chan error, 1)
	var client *remoting.Client
	var root menu.Handle
	client = dial(t, server, "", func(ev menu.Event) {
		done <- client.RegisterEntry(context.Background(), root, ev.EntryID, menu.Record{menu.KeyName: "Again"})
	})
	ctx := context.Background()

	var err error
	root, err = client.CreateRoot(ctx, menu.RootFlags())
	if err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := client.AddEventListener(ctx, root, "carmenu.menu"); err != nil {
		t.Fatalf("AddEventListener: %v", err)
	}
	if err := client.RegisterEntry(ctx, root, "carmenu.phone", menu.Record{menu.KeyName: "Phone"}); err != nil {
		t.Fatalf("RegisterEntry: %v", err)
	}
	server.Select("carmenu.phone")

	if err := testutil.RequireReceive(t, done, 2*time.Second, "waiting for redraw from handler"); err != nil {
		t.Fatalf("redraw from handler: %v", err)
	}
	if name := server.Snapshot()[0].Entries[0].Name; name != "Again" {
		t.Fatalf("expected redrawn name, got %q", name)
	}
}

func TestClientClose(t *testing.T) {
	server := startHeadUnit(t, "")
	client := dial(t, server, "", nil)

	if _, err := client.CreateRoot(context.Background(), menu.RootFlags()); err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	testutil.RequireClosed(t, client.Done(), time.Second, "client done")

	_, err := client.CreateRoot(context.Background(), menu.RootFlags())
	if !errors.Is(err, remoting.ErrClosed) {
		t.Fatalf("expected ErrClosed after Close, got %v", err)
	}
}

func TestClientNoticesServerShutdown(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	server := headunit.New(ipc.Endpoint{}, "")
	served := make(chan struct{})
	go func() {
		defer close(served)
		_ = server.ServeListener(ctx, ln)
	}()
	testutil.RequireClosed(t, server.Ready(), 2*time.Second, "head unit ready")

	client := dial(t, server, "", nil)
	if _, err := client.CreateRoot(context.Background(), menu.RootFlags()); err != nil {
		t.Fatalf("CreateRoot: %v", err)
	}

	cancel()
	testutil.RequireClosed(t, served, 2*time.Second, "head unit shutdown")
	testutil.RequireClosed(t, client.Done(), 2*time.Second, "client notices disconnect")
	if err := client.Err(); err == nil {
		t.Fatal("expected a disconnect cause")
	}
	if _, err := client.CreateRoot(context.Background(), menu.RootFlags()); !errors.Is(err, remoting.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

// A handler stuck behind the caller's lock must not keep the reply to that
// caller from being read, however many events arrive first.
func TestEventBurstDoesNotStallPendingCall(t *testing.T) {
	const burst = 40
	serverSide, clientSide := net.Pipe()
	t.Cleanup(func() { _ = serverSide.Close() })

	go func() {
		dec := codec.NewDecoder(serverSide)
		enc := codec.NewEncoder(serverSide)
		var req protocol.Frame
		if err := dec.Decode(&req); err != nil {
			return
		}
		for i := 0; i < burst; i++ {
			ev := protocol.Frame{
				Kind:    protocol.KindEvent,
				Handle:  1,
				Ident:   "carmenu.menu",
				EntryID: "carmenu.radio",
				Event:   &protocol.EventPayload{Type: protocol.EventSelected},
			}
			if err := enc.Encode(ev); err != nil {
				return
			}
		}
		_ = enc.Encode(protocol.Frame{Kind: protocol.KindResponse, Seq: req.Seq, OK: true})
	}()

	var menuLock sync.Mutex
	events := make(chan menu.Event, burst)
	client := remoting.NewClient(clientSide, "", func(ev menu.Event) {
		menuLock.Lock()
		menuLock.Unlock()
		events <- ev
	})
	t.Cleanup(func() { _ = client.Close() })

	menuLock.Lock()
	result := make(chan error, 1)
	go func() {
		result <- client.RegisterEntry(context.Background(), 1, "carmenu.radio", menu.Record{menu.KeyName: "Radio"})
	}()
	if err := testutil.RequireReceive(t, result, 3*time.Second, "register reply behind an event burst"); err != nil {
		t.Fatalf("RegisterEntry: %v", err)
	}
	menuLock.Unlock()

	for i := 0; i < burst; i++ {
		ev := testutil.RequireReceive(t, events, 3*time.Second, "event %d of %d", i+1, burst)
		if ev.EntryID != "carmenu.radio" {
			t.Fatalf("unexpected event %+v", ev)
		}
	}
}
