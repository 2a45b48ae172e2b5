package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"stellar-hq/hermes/pkg/config"
)

// ============================================================================
// Sanitizer Tests
// ============================================================================

func TestSanitizer_SensitiveKeys(t *testing.T) {
	s := NewSanitizer()

	sensitive := []string{
		"password", "Password", "client_secret", "api_key", "X-Api-Key",
		"auth_token", "Authorization", "private_key", "credential",
		"SECRET_VALUE", "session_key",
	}
	for _, key := range sensitive {
		if !s.IsSensitiveKey(key) {
			t.Errorf("expected %q to be sensitive", key)
		}
	}

	benign := []string{"path", "method", "tenant_id", "name", "timeout"}
	for _, key := range benign {
		if s.IsSensitiveKey(key) {
			t.Errorf("expected %q to be benign", key)
		}
	}
}

func TestSanitizer_SanitizeMap_Nested(t *testing.T) {
	s := NewSanitizer()

	params := map[string]any{
		"path": "/etc/hosts",
		"arguments": map[string]any{
			"password": "hunter2",
			"nested": map[string]any{
				"api_key": "mcp_abc123",
				"mode":    "read",
			},
		},
		"headers": []any{
			map[string]any{"authorization": "Bearer xyz"},
			"plain",
		},
	}

	out := s.SanitizeMap(params)

	if out["path"] != "/etc/hosts" {
		t.Errorf("benign value altered: %v", out["path"])
	}

	args := out["arguments"].(map[string]any)
	if args["password"] != Redacted {
		t.Errorf("password not redacted: %v", args["password"])
	}

	nested := args["nested"].(map[string]any)
	if nested["api_key"] != Redacted {
		t.Errorf("nested api_key not redacted: %v", nested["api_key"])
	}
	if nested["mode"] != "read" {
		t.Errorf("nested benign value altered: %v", nested["mode"])
	}

	headers := out["headers"].([]any)
	hdr := headers[0].(map[string]any)
	if hdr["authorization"] != Redacted {
		t.Errorf("authorization not redacted: %v", hdr["authorization"])
	}

	// Original must be untouched.
	orig := params["arguments"].(map[string]any)
	if orig["password"] != "hunter2" {
		t.Error("input map was mutated")
	}
}

func TestSanitizer_SanitizeMap_Nil(t *testing.T) {
	s := NewSanitizer()
	if s.SanitizeMap(nil) != nil {
		t.Error("expected nil for nil input")
	}
}

// ============================================================================
// Logger Tests
// ============================================================================

func TestLogger_RedactsSensitiveAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Redact: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("request authenticated",
		"user_id", "u1",
		"api_key", "mcp_secretvalue",
	)

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("log output is not JSON: %v", err)
	}
	if record["user_id"] != "u1" {
		t.Errorf("benign attr altered: %v", record["user_id"])
	}
	if record["api_key"] != Redacted {
		t.Errorf("api_key not redacted: %v", record["api_key"])
	}
	if strings.Contains(buf.String(), "mcp_secretvalue") {
		t.Error("secret value leaked into log output")
	}
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&config.LoggingConfig{Level: "warn", Format: "json"}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.Info("should be dropped")
	if buf.Len() != 0 {
		t.Errorf("info record emitted at warn level: %s", buf.String())
	}

	logger.Warn("should be emitted")
	if buf.Len() == 0 {
		t.Error("warn record not emitted")
	}
}

func TestLogger_UnknownFormat(t *testing.T) {
	_, err := New(&config.LoggingConfig{Level: "info", Format: "xml"}, &bytes.Buffer{})
	if err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestLogger_WithAttrsRedaction(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&config.LoggingConfig{Level: "info", Format: "json", Redact: true}, &buf)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	logger.With("client_secret", "verysecret").Info("configured")

	if strings.Contains(buf.String(), "verysecret") {
		t.Error("pre-bound secret attr leaked into log output")
	}
}
