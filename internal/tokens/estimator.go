// Package tokens estimates the prompt size of a Messages API request with
// the cl100k_base byte-pair encoding.
package tokens

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tiktoken-go/tokenizer"
)

// Estimator counts tokens across messages, system prompt and tool
// definitions. The codec is loaded once and the Estimator is safe for
// concurrent use.
type Estimator struct {
	codec tokenizer.Codec
}

// NewEstimator loads the cl100k_base encoding.
func NewEstimator() (*Estimator, error) {
	codec, err := tokenizer.Get(tokenizer.Cl100kBase)
	if err != nil {
		return nil, fmt.Errorf("tokens: load cl100k_base: %w", err)
	}
	return &Estimator{codec: codec}, nil
}

// EstimateBody estimates a raw Messages API request body.
func (e *Estimator) EstimateBody(body []byte) int {
	root := gjson.ParseBytes(body)
	return e.Estimate(root.Get("messages"), root.Get("system"), root.Get("tools"))
}

// Estimate sums token counts of message text, tool inputs and results,
// system text segments, tool name+description and tool input schemas.
// Missing or malformed fields contribute nothing.
func (e *Estimator) Estimate(messages, system, tools gjson.Result) int {
	total := 0

	if messages.IsArray() {
		for _, msg := range messages.Array() {
			content := msg.Get("content")
			if content.Type == gjson.String {
				total += e.count(content.String())
				continue
			}
			if !content.IsArray() {
				continue
			}
			for _, part := range content.Array() {
				switch part.Get("type").String() {
				case "text":
					total += e.count(part.Get("text").String())
				case "tool_use":
					total += e.count(CanonicalJSON(part.Get("input")))
				case "tool_result":
					total += e.count(StringOrJSON(part.Get("content")))
				}
			}
		}
	}

	switch {
	case system.Type == gjson.String:
		total += e.count(system.String())
	case system.IsArray():
		for _, item := range system.Array() {
			if item.Get("type").String() != "text" {
				continue
			}
			text := item.Get("text")
			if text.IsArray() {
				for _, seg := range text.Array() {
					total += e.count(seg.String())
				}
				continue
			}
			total += e.count(text.String())
		}
	}

	if tools.IsArray() {
		for _, tool := range tools.Array() {
			if desc := tool.Get("description").String(); desc != "" {
				total += e.count(tool.Get("name").String() + desc)
			}
			total += e.count(CanonicalJSON(tool.Get("input_schema")))
		}
	}

	return total
}

func (e *Estimator) count(s string) int {
	if s == "" {
		return 0
	}
	n, err := e.codec.Count(s)
	if err != nil {
		return 0
	}
	return n
}

// CanonicalJSON re-encodes v with sorted object keys and no insignificant
// whitespace. Numbers keep their literal digits and HTML characters are not
// escaped. Missing values yield "".
func CanonicalJSON(v gjson.Result) string {
	if !v.Exists() {
		return ""
	}
	dec := json.NewDecoder(strings.NewReader(v.Raw))
	dec.UseNumber()
	var decoded any
	if err := dec.Decode(&decoded); err != nil {
		return v.Raw
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(decoded); err != nil {
		return v.Raw
	}
	return strings.TrimSuffix(buf.String(), "\n")
}

// StringOrJSON returns string values verbatim and canonical JSON otherwise.
func StringOrJSON(v gjson.Result) string {
	if v.Type == gjson.String {
		return v.String()
	}
	return CanonicalJSON(v)
}
