// Package redact masks credentials and tokens in free text before it
// reaches logs or external callers.
package redact

import (
	"regexp"
	"strings"
)

const maxLen = 4000

type rule struct {
	pattern *regexp.Regexp
	repl    string
}

var rules = []rule{
	// Authorization headers and bare tokens.
	{regexp.MustCompile(`(?i)\bAuthorization\s*:\s*Bearer\s+[A-Za-z0-9\-._=]+`), "Authorization: Bearer ***REDACTED***"},
	{regexp.MustCompile(`(?i)\bAuthorization\s*:\s*Basic\s+[A-Za-z0-9+/=]+`), "Authorization: Basic ***REDACTED***"},
	{regexp.MustCompile(`(?i)\bBearer\s+[A-Za-z0-9\-._=]+`), "Bearer ***REDACTED***"},

	// API key headers and fields.
	{regexp.MustCompile(`(?i)\b(x-api-key|api-key|apikey)\s*[:=]\s*[^\s;,&]+`), "$1: ***REDACTED***"},

	// Query or body parameters.
	{regexp.MustCompile(`(?i)([?&])(?:access_)?token=[^&#\s]+`), "${1}token=***REDACTED***"},
	{regexp.MustCompile(`(?i)([?&])sig=[^&#\s]+`), "${1}sig=***REDACTED***"},
	{regexp.MustCompile(`(?i)([?&])key=[^&#\s]+`), "${1}key=***REDACTED***"},

	// ODBC / ADO.NET style connection strings.
	{regexp.MustCompile(`(?i)\b(PWD|Password)\s*=\s*[^;]+`), "$1=***REDACTED***"},

	// Plain JSON fields.
	{regexp.MustCompile(`(?i)("?(?:password|pwd|secret|token|api[_-]?key)"?\s*:\s*)"[^"]+"`), "$1\"***REDACTED***\""},
}

var squeeze = regexp.MustCompile(`[ \t]{3,}`)

// Redact masks sensitive content in text and caps the result length.
func Redact(text string) string {
	out := text
	for _, r := range rules {
		out = r.pattern.ReplaceAllString(out, r.repl)
	}
	out = squeeze.ReplaceAllString(out, "  ")
	if len(out) > maxLen {
		out = out[:maxLen-1] + "…"
	}
	return out
}

// Error redacts an error's message; nil-safe.
func Error(err error) string {
	if err == nil {
		return ""
	}
	return Redact(err.Error())
}

// Headers returns a copy of the header map with sensitive entries masked.
func Headers(headers map[string]string) map[string]string {
	if len(headers) == 0 {
		return map[string]string{}
	}
	safe := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "authorization", "proxy-authorization", "x-api-key":
			safe[k] = "***REDACTED***"
		default:
			safe[k] = v
		}
	}
	return safe
}
