package gateway

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/michelhabib/privatehomebox/internal/audit"
)

// readLoop consumes frames from an authenticated session and relays
// them until the socket closes. A bad frame is dropped, not fatal: one
// malformed message should not cost a client its session.
func (g *Server) readLoop(sess *Session) {
	defer func() {
		g.registry.Unregister(sess)
		sess.Close(websocket.CloseNormalClosure, "")
		g.log.Info("session closed", "device_id", sess.DeviceID, "session", sess.ID)
		g.auditEvent(audit.ActionSessionClosed, sess.DeviceID, string(sess.Role), "")
	}()

	if g.cfg.IdleTimeout > 0 {
		// Pings refresh the idle deadline; the pong reply is a control
		// frame and may be written concurrently with the session writer.
		conn := sess.conn
		conn.SetPingHandler(func(appData string) error {
			conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
			return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeTimeout))
		})
	}

	for {
		if g.cfg.IdleTimeout > 0 {
			sess.conn.SetReadDeadline(time.Now().Add(g.cfg.IdleTimeout))
		}
		_, data, err := sess.conn.ReadMessage()
		if err != nil {
			return
		}
		g.relay(sess, data)
	}
}

// relay dispatches one inbound frame: unicast when target_device_id is
// present, broadcast to every other session otherwise. The outbound
// envelope carries the sender's authenticated device id; whatever the
// client put there is discarded.
func (g *Server) relay(sess *Session, data []byte) {
	var in inboundFrame
	if err := json.Unmarshal(data, &in); err != nil {
		g.log.Info("dropping malformed frame", "from", sess.DeviceID, "error", err)
		return
	}

	out, err := outboundFrame{
		SenderDeviceID: sess.DeviceID,
		Payload:        in.Payload,
	}.encode()
	if err != nil {
		g.log.Info("dropping unencodable frame", "from", sess.DeviceID, "error", err)
		return
	}

	if in.TargetDeviceID != "" {
		if target, ok := g.registry.Lookup(in.TargetDeviceID); ok {
			target.Send(out)
			return
		}
		// A socket parked in the pairing exchange can be addressed by
		// its transient device id.
		if g.pairing.deliver(in.TargetDeviceID, out) {
			return
		}
		g.log.Info("dropping frame for unknown target", "from", sess.DeviceID, "target", in.TargetDeviceID)
		return
	}

	for _, peer := range g.registry.BroadcastTargets(sess.ID) {
		peer.Send(out)
	}
}
