package nlu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	log "log/slog"
	"net/http"
	"strings"

	openai "github.com/openai/openai-go/v3"

	"mizon/pkg/phrase"
)

// DefaultSystemPrompt asks the model to phrase answers with the marker words
// the extractor looks for.
const DefaultSystemPrompt = `
You are Mizon, a friendly voice assistant inside a personal finance app.
Answer in one or two short spoken sentences. No markdown, no lists.

The app sections are Health, Banking, Family Notes and Bills.
When the user wants a section, answer starting with "Opening" and the section name,
for example "Opening Banking section". In Arabic start with "جاري فتح".
When the user wants groceries on the shopping list, say "I've added" followed by the items.
In Arabic say "أضفت" followed by the items.
When the user asks for a reminder, say "I'll remind you" and repeat what to remember.
When the user wants a bill handled, say "Processing your bill".
`

type Prompt struct {
	System   string
	Context  []string // recent final utterances, oldest first
	UserText string
	Language phrase.Language
}

// Model is the language model producing the spoken reply.
type Model interface {
	Reply(ctx context.Context, p Prompt) (string, error)
}

type ModelError struct {
	Backend string
	Status  int
	Err     error
}

func (e *ModelError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("nlu: %s: status %d", e.Backend, e.Status)
	}
	return fmt.Sprintf("nlu: %s: %v", e.Backend, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

func languageInstruction(lang phrase.Language) string {
	switch lang {
	case phrase.Arabic:
		return "Always answer in Arabic."
	case phrase.English:
		return "Always answer in English."
	default:
		return "Answer in the language the user speaks (English or Arabic)."
	}
}

// OpenAI talks to the chat completions API.
type OpenAI struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAI(client openai.Client, model string) *OpenAI {
	m := openai.ChatModel(model)
	if model == "" {
		m = openai.ChatModelGPT5Nano
	}
	return &OpenAI{client: client, model: m}
}

func (o *OpenAI) Reply(ctx context.Context, p Prompt) (string, error) {
	system := p.System
	if system == "" {
		system = DefaultSystemPrompt
	}

	msgs := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage(system + "\n" + languageInstruction(p.Language)),
	}
	for _, c := range p.Context {
		msgs = append(msgs, openai.UserMessage(c))
	}
	msgs = append(msgs, openai.UserMessage(p.UserText))

	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: msgs,
		Model:    o.model,
	})
	if err != nil {
		return "", &ModelError{Backend: "openai", Err: fmt.Errorf("chat completion: %w", err)}
	}
	if len(resp.Choices) == 0 {
		return "", &ModelError{Backend: "openai", Err: fmt.Errorf("no choices in response")}
	}

	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", &ModelError{Backend: "openai", Err: fmt.Errorf("empty message content")}
	}

	log.Debug("Model replied", "model", o.model, "chars", len(content))
	return content, nil
}

func (o *OpenAI) Probe(ctx context.Context) error {
	if _, err := o.client.Models.List(ctx); err != nil {
		return &ModelError{Backend: "openai", Err: err}
	}
	return nil
}

// HTTPModel posts {systemPrompt, context, userText} and expects {reply}.
type HTTPModel struct {
	URL    string
	Client *http.Client
}

type httpPrompt struct {
	SystemPrompt string   `json:"systemPrompt"`
	Context      []string `json:"context"`
	UserText     string   `json:"userText"`
	Language     string   `json:"language,omitempty"`
}

type httpReply struct {
	Reply string `json:"reply"`
}

func NewHTTPModel(url string, client *http.Client) *HTTPModel {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPModel{URL: url, Client: client}
}

func (m *HTTPModel) Reply(ctx context.Context, p Prompt) (string, error) {
	system := p.System
	if system == "" {
		system = DefaultSystemPrompt
	}
	ctxLines := p.Context
	if ctxLines == nil {
		ctxLines = []string{}
	}
	body, err := json.Marshal(httpPrompt{
		SystemPrompt: system + "\n" + languageInstruction(p.Language),
		Context:      ctxLines,
		UserText:     p.UserText,
		Language:     p.Language.Hint(),
	})
	if err != nil {
		return "", &ModelError{Backend: "http", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.URL, bytes.NewReader(body))
	if err != nil {
		return "", &ModelError{Backend: "http", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := m.Client.Do(req)
	if err != nil {
		return "", &ModelError{Backend: "http", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return "", &ModelError{Backend: "http", Status: resp.StatusCode}
	}

	var out httpReply
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &ModelError{Backend: "http", Err: fmt.Errorf("decode reply: %w", err)}
	}
	reply := strings.TrimSpace(out.Reply)
	if reply == "" {
		return "", &ModelError{Backend: "http", Err: fmt.Errorf("empty reply")}
	}
	return reply, nil
}

func (m *HTTPModel) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.URL, nil)
	if err != nil {
		return err
	}
	resp, err := m.Client.Do(req)
	if err != nil {
		return &ModelError{Backend: "http", Err: err}
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return &ModelError{Backend: "http", Status: resp.StatusCode}
	}
	return nil
}
