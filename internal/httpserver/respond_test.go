package httpserver

import (
	"encoding/json"
	"net/http/httptest"
	"testing"
)

func TestRespondWritesStatusAndBody(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 201, map[string]string{"id": "abc"})

	if w.Code != 201 {
		t.Errorf("status = %d, want 201", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body["id"] != "abc" {
		t.Errorf("body[id] = %q, want abc", body["id"])
	}
}

func TestRespondNilDataWritesNoBody(t *testing.T) {
	w := httptest.NewRecorder()
	Respond(w, 204, nil)
	if w.Body.Len() != 0 {
		t.Errorf("expected an empty body, got %q", w.Body.String())
	}
}

func TestRespondError(t *testing.T) {
	w := httptest.NewRecorder()
	RespondError(w, 400, "validation", "media_ref is required")

	var body ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding body: %v", err)
	}
	if body.Error != "validation" || body.Message != "media_ref is required" {
		t.Errorf("body = %+v, want error=validation message=%q", body, "media_ref is required")
	}
}
