package gateway

import (
	"encoding/json"
	"errors"
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michelhabib/privatehomebox/internal/audit"
	"github.com/michelhabib/privatehomebox/internal/keys"
	"github.com/michelhabib/privatehomebox/internal/state"
)

// authenticate drives a freshly accepted socket from the challenge to
// either an authenticated session or a closed connection. It returns
// nil when the socket was closed (auth failure, timeout, or pairing
// path); in that case the connection has already been torn down.
func (g *Server) authenticate(conn *websocket.Conn, deviceID string) *Session {
	nonce, err := keys.NewNonce()
	if err != nil {
		g.log.Error("nonce generation failed", "error", err)
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}

	challenge := AuthChallenge{
		Type:             TypeAuthChallenge,
		Nonce:            nonce,
		GatewayPublicKey: g.state.Identity().PublicBase64(),
		Claimed:          g.state.IsClaimed(),
	}
	data, err := json.Marshal(challenge)
	if err != nil {
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		conn.Close()
		return nil
	}

	// The client gets one shot at the challenge, bounded by the
	// handshake timeout.
	conn.SetReadDeadline(time.Now().Add(g.cfg.HandshakeTimeout))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			g.authFailure(conn, deviceID, CloseAuthFailed, "auth_timeout")
		} else {
			conn.Close()
		}
		return nil
	}
	conn.SetReadDeadline(time.Time{})

	var frame handshakeFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return nil
	}

	nonceBytes, err := keys.DecodeNonce(nonce)
	if err != nil {
		closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		return nil
	}

	switch frame.Type {
	case TypeAuthResponse:
		return g.dispatchAuth(conn, deviceID, nonceBytes, &frame)
	case TypePairingRequest:
		g.handlePairing(conn, deviceID, nonceBytes, raw, &frame)
		return nil
	default:
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return nil
	}
}

// dispatchAuth routes an auth_response by auth_mode and, on success,
// registers the session and confirms with auth_ok.
func (g *Server) dispatchAuth(conn *websocket.Conn, deviceID string, nonceBytes []byte, frame *handshakeFrame) *Session {
	var (
		role      Role
		devicePub string
		ok        bool
	)

	switch frame.AuthMode {
	case ModeDesktopClaim:
		ok = g.authDesktopClaim(conn, deviceID, nonceBytes, frame)
		role = RoleDesktop
	case ModeDesktop:
		ok = g.authDesktop(conn, deviceID, nonceBytes, frame)
		role = RoleDesktop
	case ModeDevice:
		devicePub, ok = g.authDevice(conn, deviceID, nonceBytes, frame)
		role = RoleDevice
	default:
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return nil
	}
	if !ok {
		return nil
	}

	sess := newSession(conn, deviceID, role, devicePub, g.log)
	if displaced := g.registry.Register(sess); displaced != nil {
		g.log.Info("session displaced",
			"device_id", deviceID,
			"old_session", displaced.ID,
			"new_session", sess.ID,
		)
		g.auditEvent(audit.ActionSessionDisplaced, deviceID, string(role), "superseded by "+sess.ID)
	}

	okFrame, err := json.Marshal(AuthOK{Type: TypeAuthOK, Role: role, DeviceID: deviceID})
	if err != nil {
		g.registry.Unregister(sess)
		sess.Close(websocket.CloseInternalServerErr, "internal error")
		return nil
	}
	sess.Send(okFrame)

	g.log.Info("session authenticated", "device_id", deviceID, "role", role, "session", sess.ID)
	g.auditEvent(audit.ActionAuthOK, deviceID, string(role), "")
	return sess
}

// authDesktopClaim handles the one-time claim of an unclaimed gateway.
func (g *Server) authDesktopClaim(conn *websocket.Conn, deviceID string, nonceBytes []byte, frame *handshakeFrame) bool {
	if g.state.IsClaimed() {
		g.authFailure(conn, deviceID, CloseAlreadyClaimed, "already_claimed")
		return false
	}
	if frame.DevicePublicKey == "" || !keys.Verify(frame.DevicePublicKey, nonceBytes, frame.NonceSignature) {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return false
	}
	if err := g.state.BindDesktop(frame.DevicePublicKey); err != nil {
		// A concurrent claim can win the race between IsClaimed and
		// BindDesktop; the store is the arbiter.
		if errors.Is(err, state.ErrAlreadyClaimed) {
			g.authFailure(conn, deviceID, CloseAlreadyClaimed, "already_claimed")
		} else {
			g.log.Error("desktop binding failed", "error", err)
			closeConn(conn, websocket.CloseInternalServerErr, "internal error")
		}
		return false
	}

	g.log.Info("gateway claimed", "device_id", deviceID)
	g.auditEvent(audit.ActionGatewayClaimed, deviceID, string(RoleDesktop), "")
	return true
}

// authDesktop verifies a returning desktop against the bound key.
func (g *Server) authDesktop(conn *websocket.Conn, deviceID string, nonceBytes []byte, frame *handshakeFrame) bool {
	deskPub, claimed := g.state.DesktopPublicKey()
	if !claimed || !keys.Verify(deskPub, nonceBytes, frame.NonceSignature) {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return false
	}
	return true
}

// authDevice verifies a device attestation chain: desktop signature
// over the exact blob bytes, embedded device id, expiry, then the
// device's own nonce signature. Returns the device public key on
// success.
func (g *Server) authDevice(conn *websocket.Conn, deviceID string, nonceBytes []byte, frame *handshakeFrame) (string, bool) {
	deskPub, claimed := g.state.DesktopPublicKey()
	if !claimed || frame.Attestation == nil {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return "", false
	}
	att := frame.Attestation

	// The blob arrives as a JSON string; its bytes are exactly what the
	// desktop signed. Verify over them as-is.
	blobBytes := []byte(att.Blob)

	var blob attestationBlob
	if err := json.Unmarshal(blobBytes, &blob); err != nil {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return "", false
	}
	if !keys.Verify(deskPub, blobBytes, att.DesktopSignature) {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return "", false
	}
	if blob.DeviceID != deviceID {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return "", false
	}
	if blob.ExpiresAt != "" {
		expires, err := time.Parse(time.RFC3339, blob.ExpiresAt)
		if err != nil {
			g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
			return "", false
		}
		if !time.Now().UTC().Before(expires) {
			g.authFailure(conn, deviceID, CloseAuthFailed, "attestation_expired")
			return "", false
		}
	}
	if !keys.Verify(blob.DevicePublicKey, nonceBytes, frame.NonceSignature) {
		g.authFailure(conn, deviceID, CloseAuthFailed, "auth_failed")
		return "", false
	}
	return blob.DevicePublicKey, true
}

// authFailure closes an unauthenticated socket with the given code and
// records the failure.
func (g *Server) authFailure(conn *websocket.Conn, deviceID string, code int, reason string) {
	g.log.Warn("authentication failed", "device_id", deviceID, "code", code, "reason", reason)
	g.auditEvent(audit.ActionAuthFailed, deviceID, "", reason)
	closeConn(conn, code, reason)
}

// closeConn writes a close frame on a socket that never reached
// AUTHENTICATED, then closes it.
func closeConn(conn *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	conn.Close()
}
