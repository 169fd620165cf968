package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/gjson"
)

// anthropicResponse is the unary Messages response shape.
type anthropicResponse struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	Role         string          `json:"role"`
	Model        string          `json:"model"`
	Content      []responseBlock `json:"content"`
	StopReason   string          `json:"stop_reason"`
	StopSequence *string         `json:"stop_sequence"`
	Usage        anthropicUsage  `json:"usage"`
}

type responseBlock struct {
	Type string  `json:"type"`
	Text *string `json:"text,omitempty"`
	ID   string  `json:"id,omitempty"`
	Name string  `json:"name,omitempty"`
	// Input holds a map for tool_use blocks, encoded even when empty ({}),
	// and stays nil (omitted) for text blocks.
	Input any `json:"input,omitempty"`
}

type anthropicUsage struct {
	InputTokens              int64  `json:"input_tokens"`
	OutputTokens             int64  `json:"output_tokens"`
	CacheReadInputTokens     *int64 `json:"cache_read_input_tokens,omitempty"`
	CacheCreationInputTokens *int64 `json:"cache_creation_input_tokens,omitempty"`
}

// TranslateChatCompletionResponse converts an OpenAI Chat Completions
// response body into the Messages shape. Non-2xx upstream responses are
// re-wrapped as provider errors.
func TranslateChatCompletionResponse(provider string, status int, body []byte) ([]byte, error) {
	if status < 200 || status >= 300 {
		return translateErrorResponse(provider, status, body)
	}

	parsed := gjson.ParseBytes(body)
	choiceMessage := parsed.Get("choices.0.message")

	var content []responseBlock
	if text := choiceMessage.Get("content"); text.Type == gjson.String && text.String() != "" {
		value := text.String()
		content = append(content, responseBlock{Type: "text", Text: &value})
	}
	choiceMessage.Get("tool_calls").ForEach(func(_, call gjson.Result) bool {
		input := map[string]any{}
		if args := call.Get("function.arguments").String(); args != "" {
			if errUnmarshal := json.Unmarshal([]byte(args), &input); errUnmarshal != nil {
				input = map[string]any{}
			}
		}
		content = append(content, responseBlock{
			Type:  "tool_use",
			ID:    call.Get("id").String(),
			Name:  call.Get("function.name").String(),
			Input: input,
		})
		return true
	})
	if len(content) == 0 {
		empty := ""
		content = append(content, responseBlock{Type: "text", Text: &empty})
	}

	id := parsed.Get("id").String()
	if id == "" {
		id = synthesizeMessageID()
	}

	out := anthropicResponse{
		ID:         id,
		Type:       "message",
		Role:       "assistant",
		Model:      parsed.Get("model").String(),
		Content:    content,
		StopReason: MapStopReason(parsed.Get("choices.0.finish_reason").String()),
		Usage:      translateUsage(parsed.Get("usage")),
	}

	encoded, errMarshal := json.Marshal(out)
	if errMarshal != nil {
		return nil, fmt.Errorf("bridge: encode messages response: %w", errMarshal)
	}
	return encoded, nil
}

// translateErrorResponse wraps an upstream error body into the Messages
// error envelope, filling sensible defaults for missing fields.
func translateErrorResponse(provider string, status int, body []byte) ([]byte, error) {
	parsed := gjson.ParseBytes(body)

	message := parsed.Get("error.message").String()
	if message == "" {
		message = fmt.Sprintf("Upstream provider returned status %d", status)
	}
	errType := parsed.Get("error.type").String()
	if errType == "" {
		errType = "api_error"
	}

	envelope := map[string]any{
		"error": map[string]any{
			"message": message,
			"type":    errType,
			"param":   nullableString(parsed.Get("error.param")),
			"code":    nullableString(parsed.Get("error.code")),
		},
		"provider": provider,
	}
	encoded, errMarshal := json.Marshal(envelope)
	if errMarshal != nil {
		return nil, fmt.Errorf("bridge: encode error response: %w", errMarshal)
	}
	return encoded, nil
}

// translateUsage maps OpenAI usage counters onto Messages usage counters.
func translateUsage(usage gjson.Result) anthropicUsage {
	out := anthropicUsage{
		InputTokens:  usage.Get("prompt_tokens").Int(),
		OutputTokens: usage.Get("completion_tokens").Int(),
	}
	if cached := usage.Get("prompt_tokens_details.cached_tokens"); cached.Exists() {
		value := cached.Int()
		out.CacheReadInputTokens = &value
	} else if cached := usage.Get("cache_read_input_tokens"); cached.Exists() {
		value := cached.Int()
		out.CacheReadInputTokens = &value
	}
	if created := usage.Get("cache_creation_input_tokens"); created.Exists() {
		value := created.Int()
		out.CacheCreationInputTokens = &value
	}
	return out
}

// MapStopReason maps an OpenAI finish_reason onto a Messages stop_reason.
func MapStopReason(finishReason string) string {
	switch finishReason {
	case "stop", "content_filter":
		return "end_turn"
	case "length":
		return "max_tokens"
	case "tool_calls", "function_call":
		return "tool_use"
	default:
		return "end_turn"
	}
}

func nullableString(value gjson.Result) any {
	if value.Type == gjson.String {
		return value.String()
	}
	return nil
}

// synthesizeMessageID builds a message id when the upstream omits one.
func synthesizeMessageID() string {
	return fmt.Sprintf("msg_%d", time.Now().UnixMilli())
}
