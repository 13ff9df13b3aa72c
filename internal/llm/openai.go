package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/aininja-pro/cora-voice/internal/command"
)

// OpenAIClient extracts a structured create_task function call from a typed
// or dictated command. Used by the /api/voice/process-command endpoint; the
// realtime bridge receives function calls directly from the provider instead.
type OpenAIClient struct {
	HTTPClient *http.Client
	APIKey     string
	Model      string
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type functionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

type chatCompletionsRequest struct {
	Model        string         `json:"model"`
	Messages     []chatMessage  `json:"messages"`
	Functions    []functionDef  `json:"functions,omitempty"`
	FunctionCall map[string]any `json:"function_call,omitempty"`
	Temperature  float32        `json:"temperature"`
}

type chatFunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatChoice struct {
	Index        int    `json:"index"`
	FinishReason string `json:"finish_reason"`
	Message      struct {
		Role         string            `json:"role"`
		Content      string            `json:"content"`
		FunctionCall *chatFunctionCall `json:"function_call"`
	} `json:"message"`
}

type chatCompletionsResponse struct {
	ID      string       `json:"id"`
	Choices []chatChoice `json:"choices"`
}

const systemPrompt = `You are a real estate assistant AI that helps agents manage their tasks.
Parse voice commands and extract task information.
Be smart about understanding context:
- "Call back" means return a phone call (callback)
- "Schedule a showing" means set up a property viewing
- "Remind me" means create a reminder
- If someone says "urgent" or "ASAP" or "right away", mark as urgent
- Extract names, phone numbers, addresses, and times when mentioned
- Create clear, actionable task titles`

var createTaskSchema = json.RawMessage(`{
  "type": "object",
  "properties": {
    "task_type": {"type": "string", "enum": ["callback", "call", "showing", "follow_up", "reminder", "email", "text", "meeting", "contract", "listing", "other"]},
    "title": {"type": "string", "description": "A short, clear title for the task (max 50 chars)"},
    "description": {"type": "string", "description": "Full description of what needs to be done"},
    "contact": {"type": "string", "description": "Name of person or company involved (if any)"},
    "phone": {"type": "string"},
    "location": {"type": "string", "description": "Address or location if mentioned"},
    "time": {"type": "string", "description": "Time or deadline if mentioned"},
    "priority": {"type": "string", "enum": ["urgent", "high", "normal", "low"]}
  },
  "required": ["task_type", "title", "description", "priority"]
}`)

func NewOpenAIClient(apiKey, model string) *OpenAIClient {
	if model == "" {
		model = "gpt-4-turbo-preview"
	}
	return &OpenAIClient{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		Model:      model,
	}
}

// ParseCommand asks the model for a create_task function call. Callers fall
// back to free-text classification when this errors.
func (c *OpenAIClient) ParseCommand(ctx context.Context, text string) (*command.FunctionCall, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("openai api key missing")
	}
	endpoint := "https://api.openai.com/v1/chat/completions"

	reqBody, _ := json.Marshal(chatCompletionsRequest{
		Model: c.Model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Functions:    []functionDef{{Name: "create_task", Description: "Create a task from a voice command", Parameters: createTaskSchema}},
		FunctionCall: map[string]any{"name": "create_task"},
		Temperature:  0.3,
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("openai error: status=%d body=%s", resp.StatusCode, string(b))
	}
	var cr chatCompletionsResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, err
	}
	if len(cr.Choices) == 0 {
		return nil, fmt.Errorf("openai: empty choices")
	}
	fc := cr.Choices[0].Message.FunctionCall
	if fc == nil {
		return nil, fmt.Errorf("openai: no function call in response")
	}
	return &command.FunctionCall{Name: fc.Name, Arguments: fc.Arguments}, nil
}
