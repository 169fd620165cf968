package bridge

import (
	"encoding/json"
	"testing"

	"github.com/tidwall/gjson"
)

func translate(t *testing.T, body string) gjson.Result {
	t.Helper()
	out, errTranslate := TranslateMessagesRequest([]byte(body))
	if errTranslate != nil {
		t.Fatalf("translate request: %v", errTranslate)
	}
	if !json.Valid(out) {
		t.Fatalf("translated request is not valid JSON: %s", out)
	}
	return gjson.ParseBytes(out)
}

func TestTranslateRequestSystemString(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":64,
		"system":"You are terse.",
		"messages":[{"role":"user","content":"hi"}]
	}`)
	if got := out.Get("messages.0.role").String(); got != "system" {
		t.Fatalf("expected leading system message, got role %q", got)
	}
	if got := out.Get("messages.0.content").String(); got != "You are terse." {
		t.Fatalf("unexpected system content %q", got)
	}
	if got := out.Get("messages.1.content").String(); got != "hi" {
		t.Fatalf("string content should pass through, got %q", got)
	}
	if got := out.Get("max_tokens").Int(); got != 64 {
		t.Fatalf("max_tokens must carry over, got %d", got)
	}
}

func TestTranslateRequestSystemBlocks(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"system":[{"type":"text","text":"a"},{"type":"text","text":"b"}],
		"messages":[]
	}`)
	if got := out.Get("messages.0.content").String(); got != "a\nb" {
		t.Fatalf("expected joined system blocks, got %q", got)
	}
}

func TestTranslateRequestSingleTextBlockSimplifies(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":[{"type":"text","text":"only"}]}]
	}`)
	content := out.Get("messages.0.content")
	if content.Type != gjson.String || content.String() != "only" {
		t.Fatalf("single text block should simplify to a string, got %s", content.Raw)
	}
}

func TestTranslateRequestImageBlocks(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":[
			{"type":"text","text":"see"},
			{"type":"image","source":{"type":"base64","media_type":"image/png","data":"AAAA"}},
			{"type":"image","source":{"type":"url","url":"https://img.example/x.png"}}
		]}]
	}`)
	if got := out.Get("messages.0.content.1.image_url.url").String(); got != "data:image/png;base64,AAAA" {
		t.Fatalf("unexpected data URI %q", got)
	}
	if got := out.Get("messages.0.content.2.image_url.url").String(); got != "https://img.example/x.png" {
		t.Fatalf("unexpected image URL %q", got)
	}
}

func TestTranslateRequestToolUseAndResult(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"messages":[
			{"role":"assistant","content":[
				{"type":"tool_use","id":"c1","name":"get_weather","input":{"city":"NYC"}}
			]},
			{"role":"user","content":[
				{"type":"tool_result","tool_use_id":"c1","content":"sunny"}
			]}
		]
	}`)

	call := out.Get("messages.0.tool_calls.0")
	if call.Get("id").String() != "c1" || call.Get("type").String() != "function" {
		t.Fatalf("unexpected tool call: %s", call.Raw)
	}
	if call.Get("function.name").String() != "get_weather" {
		t.Fatalf("unexpected function name %q", call.Get("function.name").String())
	}
	var args map[string]any
	if errArgs := json.Unmarshal([]byte(call.Get("function.arguments").String()), &args); errArgs != nil {
		t.Fatalf("arguments must be stringified JSON: %v", errArgs)
	}
	if args["city"] != "NYC" {
		t.Fatalf("unexpected arguments %v", args)
	}

	// A message with tool calls and no text carries empty string content.
	if content := out.Get("messages.0.content"); content.Type != gjson.String || content.String() != "" {
		t.Fatalf("expected empty string content, got %s", content.Raw)
	}

	toolMsg := out.Get("messages.1")
	if toolMsg.Get("role").String() != "tool" {
		t.Fatalf("tool_result must become a separate tool message, got %s", toolMsg.Raw)
	}
	if toolMsg.Get("tool_call_id").String() != "c1" {
		t.Fatalf("unexpected tool_call_id %q", toolMsg.Get("tool_call_id").String())
	}
	if toolMsg.Get("content").String() != "sunny" {
		t.Fatalf("unexpected tool content %q", toolMsg.Get("content").String())
	}
}

func TestTranslateRequestDocumentBlocks(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":[
			{"type":"text","text":"read"},
			{"type":"document","source":{"type":"url","url":"https://doc.example/a.pdf","media_type":"application/pdf"}},
			{"type":"document","source":{"type":"base64","data":"QkJC","media_type":"application/pdf"}}
		]}]
	}`)
	if got := out.Get("messages.0.content.1.file.file_url").String(); got != "https://doc.example/a.pdf" {
		t.Fatalf("unexpected file_url %q", got)
	}
	if got := out.Get("messages.0.content.2.file.file_data").String(); got != "QkJC" {
		t.Fatalf("unexpected file_data %q", got)
	}
	if got := out.Get("messages.0.content.2.file.mime_type").String(); got != "application/pdf" {
		t.Fatalf("unexpected mime_type %q", got)
	}
}

func TestTranslateRequestUnknownBlocksDrop(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,
		"messages":[{"role":"user","content":[
			{"type":"thinking","thinking":"..."},
			{"type":"text","text":"kept"}
		]}]
	}`)
	content := out.Get("messages.0.content")
	if content.Type != gjson.String || content.String() != "kept" {
		t.Fatalf("unknown blocks must drop silently, got %s", content.Raw)
	}
}

func TestTranslateRequestTools(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,"messages":[],
		"tools":[
			{"name":"lookup","description":"d","input_schema":{"type":"object","properties":{"q":{"type":"string"}}}},
			{"type":"web_search_20250305","name":"web_search"}
		],
		"tool_choice":{"type":"any"}
	}`)
	if got := out.Get("tools.0.function.name").String(); got != "lookup" {
		t.Fatalf("unexpected tool name %q", got)
	}
	if got := out.Get("tools.0.function.parameters.type").String(); got != "object" {
		t.Fatalf("input_schema must map to parameters, got %s", out.Get("tools.0.function.parameters").Raw)
	}
	if got := out.Get("tools.1.function.name").String(); got != "web_search" {
		t.Fatalf("builtin tool should use its name, got %q", got)
	}
	if raw := out.Get("tools.1.function.parameters").Raw; raw != "{}" {
		t.Fatalf("builtin tool must get an empty schema, got %s", raw)
	}
	if got := out.Get("tool_choice").String(); got != "required" {
		t.Fatalf("tool_choice any must map to required, got %q", got)
	}
}

func TestTranslateRequestToolChoiceVariants(t *testing.T) {
	out := translate(t, `{"model":"m","max_tokens":1,"messages":[],"tool_choice":{"type":"auto"}}`)
	if got := out.Get("tool_choice").String(); got != "auto" {
		t.Fatalf("expected auto, got %q", got)
	}

	out = translate(t, `{"model":"m","max_tokens":1,"messages":[],"tool_choice":{"type":"tool","name":"lookup"}}`)
	if got := out.Get("tool_choice.function.name").String(); got != "lookup" {
		t.Fatalf("expected forced function lookup, got %s", out.Get("tool_choice").Raw)
	}
}

func TestTranslateRequestStopAndUser(t *testing.T) {
	out := translate(t, `{
		"model":"m","max_tokens":1,"messages":[],
		"stop_sequences":["END","STOP"],
		"metadata":{"user_id":"u-9"}
	}`)
	if got := out.Get("stop.1").String(); got != "STOP" {
		t.Fatalf("stop_sequences must map to stop, got %s", out.Get("stop").Raw)
	}
	if got := out.Get("user").String(); got != "u-9" {
		t.Fatalf("metadata.user_id must map to user, got %q", got)
	}
}
