package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postflow/internal/domain"
)

const systemPrompt = `You are an assistant that writes X/Twitter posts.
Keep posts within 280 characters, high-signal, and aligned to the account voice.
Return JSON keyed by 'posts' -> list of {text, topic, notes}.`

// LLM generates posts through an OpenAI-compatible chat-completions endpoint.
type LLM struct {
	endpoint string
	apiKey   string
	model    string
	client   *http.Client
}

func NewLLM(endpoint, apiKey, model string) *LLM {
	return &LLM{
		endpoint: endpoint,
		apiKey:   apiKey,
		model:    model,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

// Configured reports whether the generator has everything it needs to make
// a real request. Generate returns ErrUnavailable when this is false.
func (g *LLM) Configured() bool {
	return g.endpoint != "" && g.apiKey != "" && g.model != ""
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

type postsPayload struct {
	Posts []struct {
		Text  string  `json:"text"`
		Topic *string `json:"topic"`
		Notes *string `json:"notes"`
	} `json:"posts"`
}

func (g *LLM) Generate(ctx context.Context, topics []string, count int) ([]domain.GeneratedPost, error) {
	if !g.Configured() {
		return nil, ErrUnavailable
	}

	topicBlock := "- General updates"
	if len(topics) > 0 {
		topicBlock = "- " + strings.Join(topics, "\n- ")
	}
	prompt := fmt.Sprintf("Please craft %d distinct X posts for these topics:\n%s", count, topicBlock)

	req := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: prompt},
		},
	}
	req.ResponseFormat.Type = "json_object"

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read llm response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("llm HTTP %d: %s", resp.StatusCode, string(respBody))
	}

	var chat chatResponse
	if err := json.Unmarshal(respBody, &chat); err != nil {
		return nil, fmt.Errorf("decode llm response: %w", err)
	}
	if len(chat.Choices) == 0 {
		return nil, fmt.Errorf("llm returned no choices")
	}

	var payload postsPayload
	if err := json.Unmarshal([]byte(chat.Choices[0].Message.Content), &payload); err != nil {
		return nil, fmt.Errorf("decode llm post payload: %w", err)
	}

	posts := make([]domain.GeneratedPost, 0, len(payload.Posts))
	for _, p := range payload.Posts {
		text := strings.TrimSpace(p.Text)
		if text == "" {
			continue
		}
		posts = append(posts, domain.GeneratedPost{Text: text, Topic: p.Topic, Notes: p.Notes})
	}
	if len(posts) == 0 {
		return nil, fmt.Errorf("llm returned no usable posts")
	}
	return posts, nil
}
