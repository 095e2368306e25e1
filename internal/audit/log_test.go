package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"asklepios.org/internal/identity"
	"asklepios.org/internal/obs"
)

func TestLogEvent(t *testing.T) {
	logger := obs.Logger()
	original := logger.Writer()
	logger.SetFlags(0)
	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(original)

	ctx := context.Background()
	ctx = WithRequestID(ctx, "req-123")
	ctx = identity.ContextWithPrincipal(ctx, identity.Principal{
		Login:       "nurse.shift",
		FacilityID:  7,
		Authorities: []string{identity.RoleUser},
	})

	if err := LogEvent(ctx, "authn.success", map[string]any{"remember_me": true}); err != nil {
		t.Fatalf("LogEvent failed: %v", err)
	}

	line := buf.String()
	if line == "" {
		t.Fatal("expected log output")
	}

	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log not valid JSON: %v", err)
	}
	if entry["type"] != "audit" {
		t.Fatalf("unexpected type: %v", entry["type"])
	}
	if entry["event"] != "authn.success" {
		t.Fatalf("unexpected event: %v", entry["event"])
	}
	if entry["request_id"] != "req-123" {
		t.Fatalf("unexpected request id: %v", entry["request_id"])
	}
	if entry["login"] != "nurse.shift" {
		t.Fatalf("unexpected login: %v", entry["login"])
	}
	if entry["facility_id"] != float64(7) {
		t.Fatalf("unexpected facility id: %v", entry["facility_id"])
	}
	fields, ok := entry["fields"].(map[string]any)
	if !ok || fields["remember_me"] != true {
		t.Fatalf("unexpected fields: %v", entry["fields"])
	}
}

func TestLogEventRequiresName(t *testing.T) {
	if err := LogEvent(context.Background(), "  ", nil); err == nil {
		t.Fatal("expected error for empty event name")
	}
}
