package stream

import "github.com/tidwall/gjson"

// Usage is the token accounting reported by the backend.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
}

// ExtractUsage reads usage from a backend response object. Returns nil if no
// usage is present.
func ExtractUsage(resp gjson.Result) *Usage {
	usage := resp.Get("usage")
	if !usage.IsObject() {
		return nil
	}
	return &Usage{
		InputTokens:  usage.Get("input_tokens").Int(),
		OutputTokens: usage.Get("output_tokens").Int(),
	}
}
