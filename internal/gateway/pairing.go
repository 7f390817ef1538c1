package gateway

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michelhabib/privatehomebox/internal/audit"
	"github.com/michelhabib/privatehomebox/internal/keys"
)

// pairingTable tracks unattested sockets waiting for a desktop pairing
// decision, keyed by their transient device id.
type pairingTable struct {
	mu      sync.Mutex
	waiters map[string]chan []byte
}

func newPairingTable() *pairingTable {
	return &pairingTable{waiters: make(map[string]chan []byte)}
}

func (p *pairingTable) add(deviceID string) (chan []byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.waiters[deviceID]; exists {
		return nil, fmt.Errorf("pairing already in progress for %s", deviceID)
	}
	ch := make(chan []byte, 1)
	p.waiters[deviceID] = ch
	return ch, nil
}

func (p *pairingTable) remove(deviceID string) {
	p.mu.Lock()
	delete(p.waiters, deviceID)
	p.mu.Unlock()
}

// deliver hands a frame to the waiter for deviceID, if one exists.
func (p *pairingTable) deliver(deviceID string, frame []byte) bool {
	p.mu.Lock()
	ch, ok := p.waiters[deviceID]
	if ok {
		delete(p.waiters, deviceID)
	}
	p.mu.Unlock()
	if !ok {
		return false
	}
	ch <- frame
	return true
}

// handlePairing runs the pairing sub-protocol on a socket whose first
// frame was a pairing_request. The gateway is a conduit: it forwards
// the request to the desktop untouched (it never inspects pairing
// codes), waits for the desktop's decision, relays it back, and closes
// the socket. The device reconnects with its attestation afterwards.
func (g *Server) handlePairing(conn *websocket.Conn, deviceID string, nonceBytes []byte, raw []byte, frame *handshakeFrame) {
	// The requester still proves possession of the key it wants paired.
	if frame.DevicePublicKey == "" || !keys.Verify(frame.DevicePublicKey, nonceBytes, frame.NonceSignature) {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return
	}

	desktop, ok := g.registry.Desktop()
	if !ok {
		g.log.Info("pairing rejected, no desktop connected", "device_id", deviceID)
		g.auditEvent(audit.ActionPairingRejected, deviceID, "", "desktop_offline")
		writeFrame(conn, newPairingRejection("desktop_offline"))
		closeConn(conn, websocket.CloseNormalClosure, "")
		return
	}

	ch, err := g.pairing.add(deviceID)
	if err != nil {
		g.log.Info("pairing rejected, duplicate request", "device_id", deviceID)
		g.auditEvent(audit.ActionPairingRejected, deviceID, "", "pairing_in_progress")
		writeFrame(conn, newPairingRejection("pairing_in_progress"))
		closeConn(conn, websocket.CloseNormalClosure, "")
		return
	}
	defer g.pairing.remove(deviceID)

	// Forward the request bytes untouched, wrapped like any relay frame.
	out, err := outboundFrame{SenderDeviceID: deviceID, Payload: raw}.encode()
	if err != nil {
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return
	}
	desktop.Send(out)
	g.log.Info("pairing request forwarded", "device_id", deviceID, "desktop", desktop.DeviceID)
	g.auditEvent(audit.ActionPairingRequested, deviceID, "", "forwarded to "+desktop.DeviceID)

	select {
	case response := <-ch:
		writeFrame(conn, response)
	case <-time.After(g.cfg.PairingTimeout):
		g.log.Info("pairing timed out", "device_id", deviceID)
		g.auditEvent(audit.ActionPairingRejected, deviceID, "", "pairing_timeout")
		writeFrame(conn, newPairingRejection("pairing_timeout"))
	case <-desktop.Done():
		g.log.Info("pairing aborted, desktop disconnected", "device_id", deviceID)
		g.auditEvent(audit.ActionPairingRejected, deviceID, "", "desktop_offline")
		writeFrame(conn, newPairingRejection("desktop_offline"))
	}
	closeConn(conn, websocket.CloseNormalClosure, "")
}

// writeFrame writes one text frame on a socket that has no session
// writer; the pairing goroutine is the sole writer for such sockets.
func writeFrame(conn *websocket.Conn, data []byte) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	conn.WriteMessage(websocket.TextMessage, data)
}
