package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/jmylchreest/digwatch/internal/llm"
	"github.com/jmylchreest/digwatch/internal/models"
)

// DefaultNarrative is returned for text requests when the test does not set
// its own.
const DefaultNarrative = "The operator completed the recorded cycles at a steady pace, " +
	"with short swings and no extended idle periods."

// VisionServer is an OpenAI-compatible chat completions endpoint with
// scripted answers. Image-bearing requests consume the label script in
// order; text-only requests get the narrative. It lets integration tests
// drive the real HTTP client and wire format without a live model.
type VisionServer struct {
	Server *httptest.Server

	// Narrative is the reply for text-only requests.
	Narrative string

	mu          sync.Mutex
	script      []models.ActivityLabel
	next        int
	visionCalls int
	textCalls   int
}

// NewVisionServer starts a scripted endpoint. The server shuts down when
// the test finishes. An exhausted script answers idle.
func NewVisionServer(t testing.TB, script ...models.ActivityLabel) *VisionServer {
	t.Helper()

	v := &VisionServer{Narrative: DefaultNarrative, script: script}
	v.Server = httptest.NewServer(http.HandlerFunc(v.handle))
	t.Cleanup(v.Server.Close)
	return v
}

// URL returns the base URL for config.LLMConfig.BaseURL.
func (v *VisionServer) URL() string { return v.Server.URL }

// VisionCalls reports how many image-bearing requests were served.
func (v *VisionServer) VisionCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.visionCalls
}

// TextCalls reports how many text-only requests were served.
func (v *VisionServer) TextCalls() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.textCalls
}

// wireMessage decodes content loosely so plain strings and part arrays can
// be told apart.
type wireMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type wireRequest struct {
	Model    string        `json:"model"`
	Messages []wireMessage `json:"messages"`
}

func (v *VisionServer) handle(w http.ResponseWriter, r *http.Request) {
	var req wireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var content string
	if hasImagePart(req) {
		label := v.nextLabel()
		content = fmt.Sprintf(`{"label": %q, "confidence": 0.92, "note": ""}`, label)
	} else {
		v.mu.Lock()
		v.textCalls++
		content = v.Narrative
		v.mu.Unlock()
	}

	resp := llm.ChatResponse{
		ID:    "chatcmpl-test",
		Model: req.Model,
		Choices: []llm.Choice{{
			Message:      llm.AssistantMessage{Role: llm.RoleAssistant, Content: content},
			FinishReason: "stop",
		}},
		Usage: llm.Usage{PromptTokens: 48, CompletionTokens: 12, TotalTokens: 60},
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// nextLabel pops the script, answering idle once it runs out.
func (v *VisionServer) nextLabel() models.ActivityLabel {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.visionCalls++
	if v.next >= len(v.script) {
		return models.LabelIdle
	}
	label := v.script[v.next]
	v.next++
	return label
}

// hasImagePart reports whether any message carries multimodal content,
// which is how vision requests are encoded.
func hasImagePart(req wireRequest) bool {
	for _, m := range req.Messages {
		if len(m.Content) > 0 && m.Content[0] == '[' {
			return true
		}
	}
	return false
}
