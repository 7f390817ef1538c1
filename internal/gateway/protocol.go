// Wire protocol types and framing for the relay gateway.
//
// Every frame is one UTF-8 JSON object in a WebSocket text frame. Keys
// and signatures travel as standard base64, nonces as lowercase hex.
package gateway

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Close codes used during the handshake and session lifecycle.
const (
	CloseMissingDeviceID = 4400 // no device_id query parameter
	CloseAuthFailed      = 4401 // signature/attestation failure or timeout
	CloseAlreadyClaimed  = 4403 // desktop_claim on a claimed gateway
	CloseSuperseded      = 4409 // displaced by a newer session
)

// Role of an authenticated principal.
type Role string

const (
	RoleDesktop Role = "desktop"
	RoleDevice  Role = "device"
)

// Frame type discriminators.
const (
	TypeAuthChallenge   = "auth_challenge"
	TypeAuthResponse    = "auth_response"
	TypeAuthOK          = "auth_ok"
	TypePairingRequest  = "pairing_request"
	TypePairingResponse = "pairing_response"
)

// Auth modes accepted in an AuthResponse.
const (
	ModeDesktopClaim = "desktop_claim"
	ModeDesktop      = "desktop"
	ModeDevice       = "device"
)

// AuthChallenge is sent by the gateway immediately after accept.
type AuthChallenge struct {
	Type             string `json:"type"`
	Nonce            string `json:"nonce"`
	GatewayPublicKey string `json:"gateway_public_key"`
	Claimed          bool   `json:"claimed"`
}

// Attestation carries the desktop-signed device grant. Blob is the
// exact JSON string the desktop signed; the gateway verifies over those
// bytes and never re-encodes them.
type Attestation struct {
	Blob             string `json:"blob"`
	DesktopSignature string `json:"desktop_signature"`
}

// handshakeFrame is the first client frame on a socket: either an
// auth_response or a pairing_request, discriminated by Type.
type handshakeFrame struct {
	Type           string       `json:"type"`
	AuthMode       string       `json:"auth_mode,omitempty"`
	NonceSignature string       `json:"nonce_signature,omitempty"`
	Attestation    *Attestation `json:"attestation,omitempty"`

	// desktop_claim and pairing_request both carry the client's key.
	DevicePublicKey string `json:"device_public_key,omitempty"`

	// pairing_request only.
	PairingCode string `json:"pairing_code,omitempty"`
	DeviceID    string `json:"device_id,omitempty"`
}

// attestationBlob is the decoded form of Attestation.Blob.
type attestationBlob struct {
	DeviceID        string `json:"device_id"`
	DevicePublicKey string `json:"device_public_key"`
	ExpiresAt       string `json:"expires_at,omitempty"`
}

// AuthOK confirms a successful authentication.
type AuthOK struct {
	Type     string `json:"type"`
	Role     Role   `json:"role"`
	DeviceID string `json:"device_id"`
}

// inboundFrame is a relay frame from an authenticated client. Payload
// is kept raw so it passes through byte-for-byte. A client-supplied
// sender_device_id is ignored.
type inboundFrame struct {
	TargetDeviceID string          `json:"target_device_id,omitempty"`
	Payload        json.RawMessage `json:"payload"`
}

// outboundFrame is what peers receive. SenderDeviceID always comes from
// the authenticated session, never from client input.
type outboundFrame struct {
	SenderDeviceID string          `json:"sender_device_id"`
	Payload        json.RawMessage `json:"payload"`
}

// encode renders the frame with Payload copied byte-for-byte.
// json.Marshal would compact the raw payload, so the envelope is
// assembled by hand. An absent payload is written as null.
func (f outboundFrame) encode() ([]byte, error) {
	sender, err := json.Marshal(f.SenderDeviceID)
	if err != nil {
		return nil, err
	}
	payload := []byte(f.Payload)
	if len(payload) == 0 {
		payload = []byte("null")
	}
	out := append([]byte(`{"sender_device_id":`), sender...)
	out = append(out, `,"payload":`...)
	out = append(append(out, payload...), '}')
	return out, nil
}

// pairingRejection is emitted by the gateway itself when it cannot
// forward a pairing request.
type pairingRejection struct {
	Type   string `json:"type"`
	Status string `json:"status"`
	Reason string `json:"reason"`
}

func newPairingRejection(reason string) []byte {
	data, _ := json.Marshal(pairingRejection{
		Type:   TypePairingResponse,
		Status: "rejected",
		Reason: reason,
	})
	return data
}

// generateID creates a unique ID with the given prefix.
func generateID(prefix string) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%s_%s", prefix, hex.EncodeToString(b))
}
