package bridge

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// doneSentinel terminates an OpenAI SSE stream.
const doneSentinel = "[DONE]"

// StreamTranslator rewrites an OpenAI Chat Completions SSE stream into the
// Messages event stream. One translator serves exactly one stream and must
// only be driven by a single writer.
type StreamTranslator struct {
	messageID string
	model     string

	started          bool
	textBlockOpen    bool
	contentIndex     int
	toolStarted      map[int]bool
	lastFinishReason string

	inputTokens  int64
	outputTokens int64
	usageSeen    bool

	done bool
}

// NewStreamTranslator constructs a translator for one stream.
func NewStreamTranslator(model string) *StreamTranslator {
	return &StreamTranslator{
		model:       model,
		toolStarted: map[int]bool{},
	}
}

// Feed consumes one line of the upstream SSE stream and returns the
// translated Messages frames to forward, if any. Lines without a data
// prefix and lines that fail to parse are skipped.
func (t *StreamTranslator) Feed(line []byte) []byte {
	if t.done {
		return nil
	}
	payload, ok := dataPayload(line)
	if !ok {
		return nil
	}
	if payload == doneSentinel {
		return t.terminate()
	}

	chunk := gjson.Parse(payload)
	if !chunk.IsObject() {
		return nil
	}

	var out bytes.Buffer

	if !t.started {
		t.started = true
		if id := chunk.Get("id").String(); id != "" {
			t.messageID = id
		} else {
			t.messageID = synthesizeMessageID()
		}
		writeEvent(&out, "message_start", map[string]any{
			"type": "message_start",
			"message": map[string]any{
				"id":            t.messageID,
				"type":          "message",
				"role":          "assistant",
				"model":         t.model,
				"content":       []any{},
				"stop_reason":   nil,
				"stop_sequence": nil,
				"usage":         map[string]any{"input_tokens": 0, "output_tokens": 0},
			},
		})
	}

	if usage := chunk.Get("usage"); usage.IsObject() {
		// Providers may emit usage on every chunk; the last one wins.
		t.inputTokens = usage.Get("prompt_tokens").Int()
		t.outputTokens = usage.Get("completion_tokens").Int()
		t.usageSeen = true
	}

	delta := chunk.Get("choices.0.delta")

	if text := delta.Get("content"); text.Type == gjson.String && text.String() != "" {
		if !t.textBlockOpen {
			t.textBlockOpen = true
			writeEvent(&out, "content_block_start", map[string]any{
				"type":          "content_block_start",
				"index":         t.contentIndex,
				"content_block": map[string]any{"type": "text", "text": ""},
			})
		}
		writeEvent(&out, "content_block_delta", map[string]any{
			"type":  "content_block_delta",
			"index": t.contentIndex,
			"delta": map[string]any{"type": "text_delta", "text": text.String()},
		})
	}

	delta.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		toolIndex := int(call.Get("index").Int())
		blockIndex := t.contentIndex + 1 + toolIndex

		if id := call.Get("id").String(); id != "" && !t.toolStarted[toolIndex] {
			t.toolStarted[toolIndex] = true
			if t.textBlockOpen {
				t.textBlockOpen = false
				writeEvent(&out, "content_block_stop", map[string]any{
					"type":  "content_block_stop",
					"index": t.contentIndex,
				})
			}
			writeEvent(&out, "content_block_start", map[string]any{
				"type":  "content_block_start",
				"index": blockIndex,
				"content_block": map[string]any{
					"type":  "tool_use",
					"id":    id,
					"name":  call.Get("function.name").String(),
					"input": map[string]any{},
				},
			})
		}
		if args := call.Get("function.arguments").String(); args != "" && t.toolStarted[toolIndex] {
			writeEvent(&out, "content_block_delta", map[string]any{
				"type":  "content_block_delta",
				"index": blockIndex,
				"delta": map[string]any{"type": "input_json_delta", "partial_json": args},
			})
		}
		return true
	})

	if finish := chunk.Get("choices.0.finish_reason"); finish.Type == gjson.String && finish.String() != "" {
		t.lastFinishReason = finish.String()
	}

	return out.Bytes()
}

// Finish emits the closing event sequence when the upstream ended without a
// [DONE] sentinel, so Messages clients never hang on EOF.
func (t *StreamTranslator) Finish() []byte {
	if t.done || !t.started {
		return nil
	}
	return t.terminate()
}

// terminate closes open blocks and emits message_delta and message_stop.
func (t *StreamTranslator) terminate() []byte {
	t.done = true

	var out bytes.Buffer
	if t.textBlockOpen {
		t.textBlockOpen = false
		writeEvent(&out, "content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": t.contentIndex,
		})
	}
	toolIndexes := make([]int, 0, len(t.toolStarted))
	for toolIndex := range t.toolStarted {
		toolIndexes = append(toolIndexes, toolIndex)
	}
	sort.Ints(toolIndexes)
	for _, toolIndex := range toolIndexes {
		writeEvent(&out, "content_block_stop", map[string]any{
			"type":  "content_block_stop",
			"index": t.contentIndex + 1 + toolIndex,
		})
	}

	usage := map[string]any{"output_tokens": t.outputTokens}
	if t.usageSeen {
		usage["input_tokens"] = t.inputTokens
	}
	writeEvent(&out, "message_delta", map[string]any{
		"type": "message_delta",
		"delta": map[string]any{
			"stop_reason":   MapStopReason(t.lastFinishReason),
			"stop_sequence": nil,
		},
		"usage": usage,
	})
	writeEvent(&out, "message_stop", map[string]any{"type": "message_stop"})
	return out.Bytes()
}

// dataPayload strips the SSE data prefix from a line.
func dataPayload(line []byte) (string, bool) {
	trimmed := strings.TrimSpace(string(line))
	if !strings.HasPrefix(trimmed, "data:") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "data:")), true
}

// writeEvent appends one SSE frame.
func writeEvent(out *bytes.Buffer, name string, payload any) {
	encoded, errMarshal := json.Marshal(payload)
	if errMarshal != nil {
		return
	}
	out.WriteString("event: ")
	out.WriteString(name)
	out.WriteString("\ndata: ")
	out.Write(encoded)
	out.WriteString("\n\n")
}
