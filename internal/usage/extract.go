package usage

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Tokens is a harvested usage snapshot.
type Tokens struct {
	Input  int64
	Output int64
	Seen   bool
}

// ExtractUnary reads the usage object from a completed JSON response body.
func ExtractUnary(body []byte) Tokens {
	usage := gjson.GetBytes(body, "usage")
	if !usage.IsObject() {
		return Tokens{}
	}
	var out Tokens
	applyUsage(&out, usage)
	return out
}

// StreamTap observes SSE chunks flowing to the caller without buffering the
// stream. Providers may emit usage on every delta with only the terminal
// chunk authoritative, so the last seen value wins.
type StreamTap struct {
	tokens Tokens
	// carry holds a partial line split across chunk boundaries.
	carry string
}

// Observe inspects one chunk of the response stream. The chunk itself is
// forwarded by the caller untouched.
func (t *StreamTap) Observe(chunk []byte) {
	data := t.carry + string(chunk)
	lines := strings.Split(data, "\n")
	t.carry = lines[len(lines)-1]
	for _, line := range lines[:len(lines)-1] {
		t.observeLine(line)
	}
}

// Tokens returns the final harvested counts. Call after the stream ends.
func (t *StreamTap) Tokens() Tokens {
	if t.carry != "" {
		t.observeLine(t.carry)
		t.carry = ""
	}
	return t.tokens
}

func (t *StreamTap) observeLine(line string) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "data:") {
		return
	}
	payload := strings.TrimSpace(strings.TrimPrefix(trimmed, "data:"))
	if payload == "" || payload == "[DONE]" {
		return
	}
	parsed := gjson.Parse(payload)
	if !parsed.IsObject() {
		return
	}
	if usage := parsed.Get("usage"); usage.IsObject() {
		applyUsage(&t.tokens, usage)
	}
	// Messages streams carry usage inside the message_start envelope.
	if usage := parsed.Get("message.usage"); usage.IsObject() {
		applyUsage(&t.tokens, usage)
	}
}

// applyUsage updates counters per field so partial usage objects (as in
// Messages message_delta events) never zero the other counter.
func applyUsage(tokens *Tokens, usage gjson.Result) {
	if v := usage.Get("prompt_tokens"); v.Exists() {
		tokens.Input = v.Int()
		tokens.Seen = true
	} else if v := usage.Get("input_tokens"); v.Exists() {
		tokens.Input = v.Int()
		tokens.Seen = true
	}
	if v := usage.Get("completion_tokens"); v.Exists() {
		tokens.Output = v.Int()
		tokens.Seen = true
	} else if v := usage.Get("output_tokens"); v.Exists() {
		tokens.Output = v.Int()
		tokens.Seen = true
	}
}
