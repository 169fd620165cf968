package bridge

import (
	"strings"
	"testing"

	"github.com/tidwall/gjson"
)

func TestTranslateResponseToolCalls(t *testing.T) {
	body := `{
		"id":"chatcmpl-1","model":"gpt-x",
		"choices":[{"message":{"role":"assistant","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"NYC\"}"}}
		]},"finish_reason":"tool_calls"}],
		"usage":{"prompt_tokens":12,"completion_tokens":7}
	}`
	out, errTranslate := TranslateChatCompletionResponse("openrouter", 200, []byte(body))
	if errTranslate != nil {
		t.Fatalf("translate response: %v", errTranslate)
	}
	parsed := gjson.ParseBytes(out)

	block := parsed.Get("content.0")
	if block.Get("type").String() != "tool_use" || block.Get("id").String() != "c1" {
		t.Fatalf("unexpected content block: %s", block.Raw)
	}
	if block.Get("name").String() != "get_weather" {
		t.Fatalf("unexpected tool name %q", block.Get("name").String())
	}
	if block.Get("input.city").String() != "NYC" {
		t.Fatalf("arguments must parse into input, got %s", block.Get("input").Raw)
	}
	if got := parsed.Get("stop_reason").String(); got != "tool_use" {
		t.Fatalf("expected stop_reason tool_use, got %q", got)
	}
	if parsed.Get("usage.input_tokens").Int() != 12 || parsed.Get("usage.output_tokens").Int() != 7 {
		t.Fatalf("usage mapping broken: %s", parsed.Get("usage").Raw)
	}
}

func TestTranslateResponseMalformedArguments(t *testing.T) {
	body := `{
		"choices":[{"message":{"tool_calls":[
			{"id":"c1","function":{"name":"f","arguments":"not json"}}
		]},"finish_reason":"tool_calls"}]
	}`
	out, errTranslate := TranslateChatCompletionResponse("p", 200, []byte(body))
	if errTranslate != nil {
		t.Fatalf("translate response: %v", errTranslate)
	}
	if raw := gjson.GetBytes(out, "content.0.input").Raw; raw != "{}" {
		t.Fatalf("bad arguments must fall back to empty input, got %s", raw)
	}
}

func TestTranslateResponseTextAndDefaults(t *testing.T) {
	body := `{
		"id":"chatcmpl-2","model":"gpt-x",
		"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}],
		"usage":{"prompt_tokens":3,"completion_tokens":2}
	}`
	out, errTranslate := TranslateChatCompletionResponse("p", 200, []byte(body))
	if errTranslate != nil {
		t.Fatalf("translate response: %v", errTranslate)
	}
	parsed := gjson.ParseBytes(out)
	if parsed.Get("type").String() != "message" || parsed.Get("role").String() != "assistant" {
		t.Fatalf("unexpected envelope: %s", parsed.Raw)
	}
	if parsed.Get("content.0.type").String() != "text" || parsed.Get("content.0.text").String() != "hello" {
		t.Fatalf("unexpected text block: %s", parsed.Get("content").Raw)
	}
	if parsed.Get("stop_reason").String() != "end_turn" {
		t.Fatalf("stop must map to end_turn, got %q", parsed.Get("stop_reason").String())
	}
}

func TestTranslateResponseEmptyContent(t *testing.T) {
	out, errTranslate := TranslateChatCompletionResponse("p", 200, []byte(`{"choices":[{"message":{}}]}`))
	if errTranslate != nil {
		t.Fatalf("translate response: %v", errTranslate)
	}
	parsed := gjson.ParseBytes(out)
	if parsed.Get("content.#").Int() != 1 || parsed.Get("content.0.type").String() != "text" {
		t.Fatalf("expected a single empty text block, got %s", parsed.Get("content").Raw)
	}
	if parsed.Get("content.0.text").String() != "" {
		t.Fatalf("expected empty text, got %q", parsed.Get("content.0.text").String())
	}
}

func TestTranslateResponseSynthesizesID(t *testing.T) {
	out, errTranslate := TranslateChatCompletionResponse("p", 200, []byte(`{"choices":[{"message":{"content":"x"}}]}`))
	if errTranslate != nil {
		t.Fatalf("translate response: %v", errTranslate)
	}
	if id := gjson.GetBytes(out, "id").String(); !strings.HasPrefix(id, "msg_") {
		t.Fatalf("expected synthesized msg_ id, got %q", id)
	}
}

func TestMapStopReasonTable(t *testing.T) {
	cases := map[string]string{
		"stop":           "end_turn",
		"content_filter": "end_turn",
		"length":         "max_tokens",
		"tool_calls":     "tool_use",
		"function_call":  "tool_use",
		"":               "end_turn",
		"weird":          "end_turn",
	}
	for in, want := range cases {
		if got := MapStopReason(in); got != want {
			t.Fatalf("MapStopReason(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestTranslateResponseUpstreamError(t *testing.T) {
	body := `{"error":{"message":"model overloaded","type":"overloaded_error","code":"overloaded"}}`
	out, errTranslate := TranslateChatCompletionResponse("openrouter", 529, []byte(body))
	if errTranslate != nil {
		t.Fatalf("translate error: %v", errTranslate)
	}
	parsed := gjson.ParseBytes(out)
	if parsed.Get("error.message").String() != "model overloaded" {
		t.Fatalf("unexpected error message: %s", parsed.Raw)
	}
	if parsed.Get("provider").String() != "openrouter" {
		t.Fatalf("provider must surface, got %s", parsed.Raw)
	}

	out, errTranslate = TranslateChatCompletionResponse("p", 500, []byte(`plain text`))
	if errTranslate != nil {
		t.Fatalf("translate opaque error: %v", errTranslate)
	}
	parsed = gjson.ParseBytes(out)
	if parsed.Get("error.type").String() != "api_error" {
		t.Fatalf("missing default error type: %s", parsed.Raw)
	}
	if !strings.Contains(parsed.Get("error.message").String(), "500") {
		t.Fatalf("default message should carry the status: %s", parsed.Raw)
	}
}
