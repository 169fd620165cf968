// Package bridge translates between the Anthropic Messages and OpenAI Chat
// Completions dialects, for unary bodies and for SSE streams.
package bridge

import (
	"encoding/json"
	"fmt"
	"strings"
)

// messagesRequest is the subset of the Messages request the bridge rewrites.
type messagesRequest struct {
	Model         string          `json:"model"`
	System        json.RawMessage `json:"system,omitempty"`
	Messages      []message       `json:"messages"`
	MaxTokens     int             `json:"max_tokens"`
	Temperature   *float64        `json:"temperature,omitempty"`
	TopP          *float64        `json:"top_p,omitempty"`
	TopK          *int            `json:"top_k,omitempty"`
	Stream        bool            `json:"stream,omitempty"`
	StopSequences []string        `json:"stop_sequences,omitempty"`
	Tools         []anthropicTool `json:"tools,omitempty"`
	ToolChoice    json.RawMessage `json:"tool_choice,omitempty"`
	Metadata      *struct {
		UserID string `json:"user_id"`
	} `json:"metadata,omitempty"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// contentBlock is the discriminated union of Messages content blocks.
// Unknown types are silently dropped on the request path.
type contentBlock struct {
	Type string `json:"type"`

	Text string `json:"text,omitempty"`

	Source *blockSource `json:"source,omitempty"`

	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
}

type blockSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
	FileID    string `json:"file_id,omitempty"`
}

type anthropicTool struct {
	Type        string          `json:"type,omitempty"`
	Name        string          `json:"name,omitempty"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"input_schema,omitempty"`
}

// chatRequest is the OpenAI Chat Completions request the bridge emits.
type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature *float64      `json:"temperature,omitempty"`
	TopP        *float64      `json:"top_p,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
	Stop        []string      `json:"stop,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  any           `json:"tool_choice,omitempty"`
	User        string        `json:"user,omitempty"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    any            `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
	File     *chatFile     `json:"file,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatFile struct {
	FileURL  string `json:"file_url,omitempty"`
	FileData string `json:"file_data,omitempty"`
	MimeType string `json:"mime_type,omitempty"`
}

type chatToolCall struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Function chatFunctionCall `json:"function"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// TranslateMessagesRequest rewrites an Anthropic Messages request body into
// an OpenAI Chat Completions request body.
func TranslateMessagesRequest(body []byte) ([]byte, error) {
	var req messagesRequest
	if errUnmarshal := json.Unmarshal(body, &req); errUnmarshal != nil {
		return nil, fmt.Errorf("bridge: parse messages request: %w", errUnmarshal)
	}

	out := chatRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		Stream:      req.Stream,
		Stop:        req.StopSequences,
	}
	if req.Metadata != nil {
		out.User = req.Metadata.UserID
	}

	if system := systemText(req.System); system != "" {
		out.Messages = append(out.Messages, chatMessage{Role: "system", Content: system})
	}

	for _, msg := range req.Messages {
		translated, errMsg := translateMessage(msg)
		if errMsg != nil {
			return nil, errMsg
		}
		out.Messages = append(out.Messages, translated...)
	}

	out.Tools = translateTools(req.Tools)
	out.ToolChoice = translateToolChoice(req.ToolChoice)

	encoded, errMarshal := json.Marshal(out)
	if errMarshal != nil {
		return nil, fmt.Errorf("bridge: encode chat request: %w", errMarshal)
	}
	return encoded, nil
}

// systemText flattens the system field, which may be a string or an array of
// text blocks.
func systemText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if errString := json.Unmarshal(raw, &asString); errString == nil {
		return asString
	}
	var blocks []contentBlock
	if errBlocks := json.Unmarshal(raw, &blocks); errBlocks != nil {
		return ""
	}
	parts := make([]string, 0, len(blocks))
	for _, block := range blocks {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// translateMessage converts one Messages entry into one or more Chat
// Completions messages: tool results split off as role "tool" messages.
func translateMessage(msg message) ([]chatMessage, error) {
	var asString string
	if errString := json.Unmarshal(msg.Content, &asString); errString == nil {
		return []chatMessage{{Role: msg.Role, Content: asString}}, nil
	}

	var blocks []contentBlock
	if errBlocks := json.Unmarshal(msg.Content, &blocks); errBlocks != nil {
		return nil, fmt.Errorf("bridge: message content for role %q is neither string nor block array", msg.Role)
	}

	var parts []chatPart
	var toolCalls []chatToolCall
	var toolResults []chatMessage

	for _, block := range blocks {
		switch block.Type {
		case "text":
			parts = append(parts, chatPart{Type: "text", Text: block.Text})
		case "image":
			if block.Source == nil {
				continue
			}
			parts = append(parts, chatPart{Type: "image_url", ImageURL: &chatImageURL{URL: sourceURL(block.Source)}})
		case "tool_use":
			args := "{}"
			if len(block.Input) > 0 {
				args = string(block.Input)
			}
			toolCalls = append(toolCalls, chatToolCall{
				ID:   block.ID,
				Type: "function",
				Function: chatFunctionCall{
					Name:      block.Name,
					Arguments: args,
				},
			})
		case "tool_result":
			toolResults = append(toolResults, chatMessage{
				Role:       "tool",
				ToolCallID: block.ToolUseID,
				Content:    flattenToolResult(block.Content),
			})
		case "document":
			if block.Source == nil {
				continue
			}
			file := &chatFile{MimeType: block.Source.MediaType}
			if block.Source.Type == "url" {
				file.FileURL = block.Source.URL
			} else {
				file.FileData = block.Source.Data
			}
			parts = append(parts, chatPart{Type: "file", File: file})
		default:
			// Unknown block types drop silently.
		}
	}

	out := chatMessage{Role: msg.Role, ToolCalls: toolCalls}
	switch {
	case len(parts) == 1 && parts[0].Type == "text":
		out.Content = parts[0].Text
	case len(parts) == 0:
		out.Content = ""
	default:
		out.Content = parts
	}

	result := make([]chatMessage, 0, 1+len(toolResults))
	if len(parts) > 0 || len(toolCalls) > 0 {
		result = append(result, out)
	}
	return append(result, toolResults...), nil
}

// sourceURL renders an image source as a URL or data URI.
func sourceURL(source *blockSource) string {
	if source.Type == "url" {
		return source.URL
	}
	return fmt.Sprintf("data:%s;base64,%s", source.MediaType, source.Data)
}

// flattenToolResult stringifies a tool_result content value.
func flattenToolResult(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var asString string
	if errString := json.Unmarshal(raw, &asString); errString == nil {
		return asString
	}
	var blocks []contentBlock
	if errBlocks := json.Unmarshal(raw, &blocks); errBlocks == nil {
		parts := make([]string, 0, len(blocks))
		for _, block := range blocks {
			if block.Type == "text" {
				parts = append(parts, block.Text)
			}
		}
		if len(parts) > 0 {
			return strings.Join(parts, "\n")
		}
	}
	return string(raw)
}

// translateTools maps Messages tools onto Chat Completions functions.
// Built-in tools (a type but no input schema) become functions named by
// name or type with an empty-object schema.
func translateTools(tools []anthropicTool) []chatTool {
	if len(tools) == 0 {
		return nil
	}
	out := make([]chatTool, 0, len(tools))
	for _, tool := range tools {
		fn := chatFunction{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  tool.InputSchema,
		}
		if len(tool.InputSchema) == 0 {
			if fn.Name == "" {
				fn.Name = tool.Type
			}
			fn.Parameters = json.RawMessage(`{}`)
		}
		out = append(out, chatTool{Type: "function", Function: fn})
	}
	return out
}

// translateToolChoice maps the Messages tool_choice onto the Chat
// Completions form.
func translateToolChoice(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var choice struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if errUnmarshal := json.Unmarshal(raw, &choice); errUnmarshal != nil {
		return nil
	}
	switch choice.Type {
	case "auto":
		return "auto"
	case "any":
		return "required"
	case "tool":
		return map[string]any{
			"type":     "function",
			"function": map[string]any{"name": choice.Name},
		}
	default:
		return nil
	}
}
