package host

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
)

func TestDispatchUnknownAction(t *testing.T) {
	s := &Server{}
	body, status := s.dispatch(context.Background(), "browser_teleport", json.RawMessage(`{}`))
	if status != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown action, got %d", status)
	}
	m, ok := body.(map[string]any)
	if !ok || m["reason_code"] != "invalid_input" {
		t.Errorf("expected invalid_input reason code, got %v", body)
	}
}

func TestActionBrowserActRejectsLegacySelector(t *testing.T) {
	s := &Server{}
	params := `{"session_id":"s1","ref_id":"t0-f0-e1","kind":"click","selector":".btn"}`
	body, status := s.actionBrowserAct(context.Background(), json.RawMessage(params))
	if status != http.StatusOK {
		t.Errorf("expected 200 (structured rejection, not transport error), got %d", status)
	}
	m, ok := body.(map[string]any)
	if !ok || m["reason_code"] != "legacy_selector_forbidden" {
		t.Errorf("expected legacy_selector_forbidden, got %v", body)
	}
}
