package audit

import (
	"path/filepath"
	"testing"
	"time"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()

	l, err := Open(filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func TestRecordAndQuery(t *testing.T) {
	l := setupTestLog(t)

	events := []Event{
		{Action: ActionGatewayClaimed, DeviceID: "desk-1", Role: "desktop"},
		{Action: ActionAuthOK, DeviceID: "phone-1", Role: "device"},
		{Action: ActionAuthFailed, DeviceID: "phone-2", Detail: "attestation_expired"},
	}
	for i, e := range events {
		e.Timestamp = time.Date(2026, 1, 1, 0, 0, i, 0, time.UTC)
		if err := l.Record(e); err != nil {
			t.Fatalf("Record() error = %v", err)
		}
	}

	got, err := l.RecentEvents(10, "")
	if err != nil {
		t.Fatalf("RecentEvents() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("RecentEvents() returned %d events, want 3", len(got))
	}
	// Newest first.
	if got[0].Action != ActionAuthFailed {
		t.Errorf("first event action = %s, want %s", got[0].Action, ActionAuthFailed)
	}
	if got[0].Detail != "attestation_expired" {
		t.Errorf("first event detail = %s, want attestation_expired", got[0].Detail)
	}
	if got[0].ID == "" {
		t.Error("Record() should assign an event ID")
	}
}

func TestRecentEventsFilterByDevice(t *testing.T) {
	l := setupTestLog(t)

	if err := l.Record(Event{Action: ActionAuthOK, DeviceID: "phone-1", Role: "device"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(Event{Action: ActionAuthOK, DeviceID: "desk-1", Role: "desktop"}); err != nil {
		t.Fatal(err)
	}
	if err := l.Record(Event{Action: ActionSessionDisplaced, DeviceID: "phone-1", Role: "device"}); err != nil {
		t.Fatal(err)
	}

	got, err := l.RecentEvents(10, "phone-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("RecentEvents(phone-1) returned %d events, want 2", len(got))
	}
	for _, e := range got {
		if e.DeviceID != "phone-1" {
			t.Errorf("event device = %s, want phone-1", e.DeviceID)
		}
	}
}

func TestRecentEventsLimit(t *testing.T) {
	l := setupTestLog(t)

	for i := 0; i < 5; i++ {
		if err := l.Record(Event{Action: ActionAuthOK, DeviceID: "phone-1"}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := l.RecentEvents(2, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("RecentEvents(limit=2) returned %d events, want 2", len(got))
	}
}
