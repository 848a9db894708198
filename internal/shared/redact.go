// Package shared holds small helpers used across crewctl packages.
package shared

import (
	"regexp"
	"strings"
)

var secretPatterns = []*regexp.Regexp{
	// Bearer tokens and Authorization headers.
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]{8,}`),
	// token=... in URLs or key=value text.
	regexp.MustCompile(`(?i)token=[A-Za-z0-9._~+/=-]{8,}`),
	// Generic hex/base64 secrets labelled as such.
	regexp.MustCompile(`(?i)(secret|api_key|apikey|password)["':\s=]+[^\s"']{8,}`),
}

// Redact replaces token-like substrings with [REDACTED]. It is applied to
// log attributes and audit entries before they leave the process.
func Redact(v string) string {
	if v == "" {
		return v
	}
	out := v
	for _, re := range secretPatterns {
		out = re.ReplaceAllString(out, "[REDACTED]")
	}
	return out
}

// SensitiveKey reports whether a log attribute key looks like it carries a
// credential and should be redacted wholesale.
func SensitiveKey(key string) bool {
	lower := strings.ToLower(strings.TrimSpace(key))
	if lower == "" {
		return false
	}
	for _, token := range []string{"token", "secret", "password", "authorization", "api_key", "apikey", "bearer"} {
		if strings.Contains(lower, token) {
			return true
		}
	}
	return false
}
