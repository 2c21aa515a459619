// Package codec formats backend error payloads for clients and logs.
package codec

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// maxPreview bounds how much of an unparsed body is echoed back.
const maxPreview = 280

// FormatUpstreamError formats an error from the upstream response.
func FormatUpstreamError(statusCode int, rawBody []byte) string {
	status := fmt.Sprintf("%d", statusCode)
	if text := http.StatusText(statusCode); text != "" {
		status = fmt.Sprintf("%d %s", statusCode, text)
	}
	if msg := ExtractUpstreamErrorMessage(rawBody); msg != "" {
		return fmt.Sprintf("Upstream returned HTTP %s: %s", status, msg)
	}
	if preview := compactBodyPreview(rawBody, maxPreview); preview != "" {
		return fmt.Sprintf("Upstream returned HTTP %s with unparsed body: %s", status, preview)
	}
	return fmt.Sprintf("Upstream returned HTTP %s with empty error body", status)
}

// ExtractUpstreamErrorMessage finds the human-readable message in an
// upstream error body, looking through nested error objects and lists.
func ExtractUpstreamErrorMessage(rawBody []byte) string {
	trimmed := strings.TrimSpace(string(rawBody))
	if trimmed == "" || !gjson.Valid(trimmed) {
		return ""
	}
	return messageFrom(gjson.Parse(trimmed))
}

func messageFrom(v gjson.Result) string {
	if !v.IsObject() {
		return ""
	}
	for _, key := range []string{"message", "detail", "error_description", "title", "reason"} {
		if s := v.Get(key); s.Type == gjson.String && strings.TrimSpace(s.Str) != "" {
			return strings.TrimSpace(s.Str)
		}
	}
	switch nested := v.Get("error"); {
	case nested.IsObject():
		if msg := messageFrom(nested); msg != "" {
			return msg
		}
	case nested.Type == gjson.String && strings.TrimSpace(nested.Str) != "":
		return strings.TrimSpace(nested.Str)
	}
	for _, item := range v.Get("errors").Array() {
		if item.Type == gjson.String && strings.TrimSpace(item.Str) != "" {
			return strings.TrimSpace(item.Str)
		}
		if msg := messageFrom(item); msg != "" {
			return msg
		}
	}
	return ""
}

func compactBodyPreview(rawBody []byte, maxLen int) string {
	clean := strings.Join(strings.Fields(string(rawBody)), " ")
	if len(clean) <= maxLen {
		return clean
	}
	return clean[:maxLen] + "..."
}
