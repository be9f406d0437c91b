package llm

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Content part types for multimodal messages.
const (
	PartTypeText     = "text"
	PartTypeImageURL = "image_url"
)

// Message is a single chat message. Content carries plain text; Parts
// carries multimodal content and takes precedence when non-empty.
type Message struct {
	Role    string
	Content string
	Parts   []ContentPart
}

// ContentPart is one element of a multimodal message.
type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ImageURL carries an image reference, usually a base64 data URL.
type ImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MarshalJSON emits content as a plain string for text-only messages and as
// a part array for multimodal ones, matching the chat completions wire shape.
func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Parts) > 0 {
		return json.Marshal(struct {
			Role    string        `json:"role"`
			Content []ContentPart `json:"content"`
		}{Role: m.Role, Content: m.Parts})
	}
	return json.Marshal(struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}{Role: m.Role, Content: m.Content})
}

// TextMessage builds a plain text message.
func TextMessage(role, text string) Message {
	return Message{Role: role, Content: text}
}

// VisionMessage builds a user message carrying a text prompt and one JPEG
// image attached as a base64 data URL.
func VisionMessage(text string, jpeg []byte) Message {
	return Message{
		Role: RoleUser,
		Parts: []ContentPart{
			{Type: PartTypeText, Text: text},
			{Type: PartTypeImageURL, ImageURL: &ImageURL{URL: DataURL(jpeg)}},
		},
	}
}

// DataURL encodes JPEG bytes as a data URL.
func DataURL(jpeg []byte) string {
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(jpeg)
}

// ChatRequest describes one chat completion call. A negative Temperature
// omits the parameter so the endpoint default applies.
type ChatRequest struct {
	Model       string
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// chatCompletionRequest is the wire form of a request. Exactly one of
// MaxTokens and MaxCompletionTokens is set, per the model's parameter name.
type chatCompletionRequest struct {
	Model               string    `json:"model"`
	Messages            []Message `json:"messages"`
	Temperature         *float64  `json:"temperature,omitempty"`
	MaxTokens           int       `json:"max_tokens,omitempty"`
	MaxCompletionTokens int       `json:"max_completion_tokens,omitempty"`
}

// maxCompletionTokensPrefixes lists the model families that accept only the
// max_completion_tokens parameter. Everything else gets legacy max_tokens.
var maxCompletionTokensPrefixes = []string{"gpt-5", "o1", "o3", "o4"}

// usesMaxCompletionTokens reports which token-budget parameter the model
// expects.
func usesMaxCompletionTokens(model string) bool {
	for _, prefix := range maxCompletionTokensPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// buildWireRequest maps a ChatRequest onto the wire form, selecting the
// token-budget parameter by model family.
func buildWireRequest(req ChatRequest) chatCompletionRequest {
	wire := chatCompletionRequest{
		Model:    req.Model,
		Messages: req.Messages,
	}
	if req.Temperature >= 0 {
		t := req.Temperature
		wire.Temperature = &t
	}
	if req.MaxTokens > 0 {
		if usesMaxCompletionTokens(req.Model) {
			wire.MaxCompletionTokens = req.MaxTokens
		} else {
			wire.MaxTokens = req.MaxTokens
		}
	}
	return wire
}

// ChatResponse is a chat completion response.
type ChatResponse struct {
	ID      string   `json:"id"`
	Model   string   `json:"model"`
	Choices []Choice `json:"choices"`
	Usage   Usage    `json:"usage"`
}

// Choice is one completion choice.
type Choice struct {
	Index        int              `json:"index"`
	Message      AssistantMessage `json:"message"`
	FinishReason string           `json:"finish_reason"`
}

// AssistantMessage is the model's reply.
type AssistantMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token consumption.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Content returns the first choice's content with surrounding whitespace
// trimmed, or the empty string when the response carries no choices.
func (r *ChatResponse) Content() string {
	if r == nil || len(r.Choices) == 0 {
		return ""
	}
	return strings.TrimSpace(r.Choices[0].Message.Content)
}

// errorEnvelope is the error body shape used by OpenAI-compatible servers.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// APIError is a non-2xx response from the model endpoint.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("model endpoint returned %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("model endpoint returned %d", e.StatusCode)
}
