package gateway

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

// wsPair returns the two halves of a live WebSocket connection.
func wsPair(t *testing.T) (client, server *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	client, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	server = <-serverConns
	t.Cleanup(func() { server.Close() })
	return client, server
}

func testSession(t *testing.T, deviceID string, role Role) *Session {
	t.Helper()

	_, serverConn := wsPair(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := newSession(serverConn, deviceID, role, "", logger)
	t.Cleanup(func() { s.Close(websocket.CloseNormalClosure, "") })
	return s
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	s := testSession(t, "phone-1", RoleDevice)

	if displaced := r.Register(s); displaced != nil {
		t.Errorf("first Register() displaced %v, want nil", displaced)
	}
	got, ok := r.Lookup("phone-1")
	if !ok || got.ID != s.ID {
		t.Error("Lookup() should return the registered session")
	}
	if _, ok := r.Lookup("phone-2"); ok {
		t.Error("Lookup() of an unknown device should miss")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistryRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	s := testSession(t, "phone-1", RoleDevice)

	r.Register(s)
	r.Unregister(s)
	if r.Len() != 0 {
		t.Errorf("Len() after register;unregister = %d, want 0", r.Len())
	}
}

func TestRegistryDisplacement(t *testing.T) {
	r := NewRegistry()
	old := testSession(t, "phone-1", RoleDevice)
	fresh := testSession(t, "phone-1", RoleDevice)

	r.Register(old)
	displaced := r.Register(fresh)
	if displaced == nil || displaced.ID != old.ID {
		t.Fatalf("Register() displaced = %v, want the old session", displaced)
	}

	// The displaced session is closed; the slot holds the new one.
	select {
	case <-old.Done():
	default:
		t.Error("displaced session should be closed")
	}
	got, _ := r.Lookup("phone-1")
	if got.ID != fresh.ID {
		t.Error("registry should point at the new session after displacement")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}

	// A stale unregister from the displaced session's teardown path is
	// a no-op.
	r.Unregister(old)
	if _, ok := r.Lookup("phone-1"); !ok {
		t.Error("stale Unregister() must not evict the new session")
	}
}

func TestRegistryBroadcastTargets(t *testing.T) {
	r := NewRegistry()
	desk := testSession(t, "desk-1", RoleDesktop)
	p1 := testSession(t, "phone-1", RoleDevice)
	p2 := testSession(t, "phone-2", RoleDevice)
	r.Register(desk)
	r.Register(p1)
	r.Register(p2)

	targets := r.BroadcastTargets(p1.ID)
	if len(targets) != 2 {
		t.Fatalf("BroadcastTargets() returned %d sessions, want 2", len(targets))
	}
	for _, s := range targets {
		if s.ID == p1.ID {
			t.Error("BroadcastTargets() must exclude the sender")
		}
	}

	if len(r.All()) != 3 {
		t.Errorf("All() returned %d sessions, want 3", len(r.All()))
	}
}

func TestRegistryDesktopLookup(t *testing.T) {
	r := NewRegistry()
	if _, ok := r.Desktop(); ok {
		t.Error("empty registry should have no desktop")
	}

	p1 := testSession(t, "phone-1", RoleDevice)
	r.Register(p1)
	if _, ok := r.Desktop(); ok {
		t.Error("registry without a desktop session should report none")
	}

	desk := testSession(t, "desk-1", RoleDesktop)
	r.Register(desk)
	got, ok := r.Desktop()
	if !ok || got.ID != desk.ID {
		t.Error("Desktop() should return the desktop session")
	}
}
