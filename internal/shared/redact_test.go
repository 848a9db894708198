package shared_test

import (
	"strings"
	"testing"

	"github.com/basket/crewctl/internal/shared"
)

func TestRedactBearerToken(t *testing.T) {
	in := "request failed: Authorization: Bearer abcd1234efgh5678"
	out := shared.Redact(in)
	if strings.Contains(out, "abcd1234efgh5678") {
		t.Fatalf("token leaked through redaction: %q", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("expected [REDACTED] marker, got %q", out)
	}
}

func TestRedactQueryToken(t *testing.T) {
	out := shared.Redact("GET /api/board?token=supersecretvalue123")
	if strings.Contains(out, "supersecretvalue123") {
		t.Fatalf("query token leaked: %q", out)
	}
}

func TestRedactLeavesPlainTextAlone(t *testing.T) {
	in := "claimed task #4 for alice"
	if got := shared.Redact(in); got != in {
		t.Fatalf("plain text altered: %q", got)
	}
}

func TestSensitiveKey(t *testing.T) {
	cases := map[string]bool{
		"auth_token":    true,
		"Authorization": true,
		"api_key":       true,
		"subject":       false,
		"owner":         false,
		"":              false,
	}
	for key, want := range cases {
		if got := shared.SensitiveKey(key); got != want {
			t.Errorf("SensitiveKey(%q) = %v, want %v", key, got, want)
		}
	}
}
