package ws

import (
	"encoding/json"
	"testing"
)

func TestUnmarshalRequestFrame(t *testing.T) {
	raw := []byte(`{"type":"req","id":"req-1","method":"respond","params":{"id":"01J","response":{"type":"accept"}}}`)

	got, err := UnmarshalFrame(raw)
	if err != nil {
		t.Fatalf("UnmarshalFrame: %v", err)
	}
	if got.Type != FrameTypeRequest {
		t.Fatalf("expected type %q, got %q", FrameTypeRequest, got.Type)
	}
	if got.Method != string(MethodRespond) {
		t.Fatalf("expected method %q, got %q", MethodRespond, got.Method)
	}

	var p struct {
		ID       string `json:"id"`
		Response struct {
			Type string `json:"type"`
		} `json:"response"`
	}
	if err := json.Unmarshal(got.Params, &p); err != nil {
		t.Fatalf("unmarshal params: %v", err)
	}
	if p.ID != "01J" || p.Response.Type != "accept" {
		t.Fatalf("unexpected params: %+v", p)
	}
}

func TestNewEventFrame(t *testing.T) {
	f, err := NewEventFrame("task.needs_review", "01JTASK", map[string]string{"question": "Allow?"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}
	if f.Type != FrameTypeEvent {
		t.Fatalf("expected type %q, got %q", FrameTypeEvent, f.Type)
	}
	if f.TaskID != "01JTASK" {
		t.Fatalf("expected task_id %q, got %q", "01JTASK", f.TaskID)
	}

	data, err := MarshalFrame(f)
	if err != nil {
		t.Fatalf("MarshalFrame: %v", err)
	}
	var wire map[string]any
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal wire: %v", err)
	}
	if wire["event"] != "task.needs_review" {
		t.Fatalf("expected event on the wire, got %v", wire["event"])
	}
	if _, ok := wire["ok"]; ok {
		t.Fatal("event frames must not carry ok")
	}
}

func TestNewResponseFrame_OK(t *testing.T) {
	f, err := NewResponseFrame("req-5", true, map[string]string{"status": "NEW"}, "")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.ID != "req-5" {
		t.Fatalf("expected id %q, got %q", "req-5", f.ID)
	}
	if f.OK == nil || !*f.OK {
		t.Fatal("expected ok=true")
	}

	var p map[string]string
	if err := json.Unmarshal(f.Payload, &p); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if p["status"] != "NEW" {
		t.Fatalf("expected payload.status %q, got %q", "NEW", p["status"])
	}
}

func TestNewResponseFrame_Error(t *testing.T) {
	f, err := NewResponseFrame("req-6", false, nil, "task not found")
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}
	if f.OK == nil || *f.OK {
		t.Fatal("expected ok=false")
	}
	if f.Error != "task not found" {
		t.Fatalf("expected error %q, got %q", "task not found", f.Error)
	}
	if f.Payload != nil {
		t.Fatalf("expected nil payload, got %s", string(f.Payload))
	}
}
