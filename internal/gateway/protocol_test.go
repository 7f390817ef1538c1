package gateway

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestInboundFrameParsing(t *testing.T) {
	var in inboundFrame
	err := json.Unmarshal([]byte(`{"target_device_id":"desk-1","payload":{"a":1}}`), &in)
	if err != nil {
		t.Fatalf("unmarshal error = %v", err)
	}
	if in.TargetDeviceID != "desk-1" {
		t.Errorf("target = %s, want desk-1", in.TargetDeviceID)
	}
	if string(in.Payload) != `{"a":1}` {
		t.Errorf("payload = %s, want {\"a\":1}", in.Payload)
	}

	// Non-object frames are rejected by the decoder, which is what the
	// relay relies on to drop them.
	for _, bad := range []string{`5`, `"str"`, `[1,2]`, `not json`} {
		if err := json.Unmarshal([]byte(bad), &in); err == nil {
			t.Errorf("unmarshal(%q) should fail", bad)
		}
	}
}

func TestOutboundFramePreservesPayloadBytes(t *testing.T) {
	payload := `{"spaced" :   [1,  2]}`
	out, err := outboundFrame{
		SenderDeviceID: "phone-1",
		Payload:        json.RawMessage(payload),
	}.encode()
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(out), payload) {
		t.Errorf("outbound frame should embed the payload verbatim: %s", out)
	}
}

func TestNewPairingRejection(t *testing.T) {
	var resp pairingRejection
	if err := json.Unmarshal(newPairingRejection("desktop_offline"), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Type != TypePairingResponse || resp.Status != "rejected" || resp.Reason != "desktop_offline" {
		t.Errorf("rejection = %+v", resp)
	}
}

func TestGenerateID(t *testing.T) {
	a := generateID("sess")
	b := generateID("sess")
	if !strings.HasPrefix(a, "sess_") {
		t.Errorf("id %q should carry the prefix", a)
	}
	if a == b {
		t.Error("ids should not collide")
	}
}
