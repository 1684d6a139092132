package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"regexp"
)

// writeJSON writes a JSON response with the given status code and data.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			// Headers are already sent, so the error can only be logged.
			slog.Default().Error("failed to encode JSON response",
				slog.Int("status_code", code),
				slog.Any("error", err))
		}
	}
}

// writeError writes a JSON error response. The message is sanitized first:
// upstream provider errors routinely embed API keys and webhook URLs, and
// those must never reach a response body or a log line.
func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": SanitizeError(err)})
}

var (
	// More specific key patterns apply first so a partially masked string is
	// not re-matched by a broader pattern.
	anthropicKeyPattern = regexp.MustCompile(`sk-ant-[a-zA-Z0-9-_]+`)
	openaiKeyPattern    = regexp.MustCompile(`sk-[a-zA-Z0-9]{10,}`)
	bearerTokenPattern  = regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]{8,}`)
	slackWebhookPattern = regexp.MustCompile(`hooks\.slack\.com/services/[a-zA-Z0-9/_-]+`)
	urlCredsPattern     = regexp.MustCompile(`://([^:/@\s]+):([^@\s]+)@`)
)

// SanitizeError returns err's message with credentials masked: provider API
// keys, bearer tokens, Slack webhook paths, and userinfo embedded in URLs.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	msg = anthropicKeyPattern.ReplaceAllString(msg, "sk-ant-****")
	msg = openaiKeyPattern.ReplaceAllString(msg, "sk-****")
	msg = bearerTokenPattern.ReplaceAllString(msg, "Bearer ****")
	msg = slackWebhookPattern.ReplaceAllString(msg, "hooks.slack.com/services/****")
	msg = urlCredsPattern.ReplaceAllString(msg, "://$1:****@")
	return msg
}
