package generator_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"postflow/internal/generator"
)

func TestTemplateGeneratesRequestedCount(t *testing.T) {
	gen := generator.NewTemplateSeeded(1)
	posts, err := gen.Generate(context.Background(), nil, 4)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(posts) != 4 {
		t.Fatalf("want 4 posts, got %d", len(posts))
	}
	for i, post := range posts {
		if strings.TrimSpace(post.Text) == "" {
			t.Errorf("post[%d] has empty text", i)
		}
		if post.Topic != nil {
			t.Errorf("post[%d] should have no topic, got %v", i, *post.Topic)
		}
	}
}

func TestTemplateCyclesTopicsAndAppendsHashtag(t *testing.T) {
	gen := generator.NewTemplateSeeded(7)
	posts, err := gen.Generate(context.Background(), []string{"deep work", "growth"}, 3)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	wantTopics := []string{"deep work", "growth", "deep work"}
	for i, post := range posts {
		if post.Topic == nil || *post.Topic != wantTopics[i] {
			t.Errorf("post[%d] topic: want %q, got %v", i, wantTopics[i], post.Topic)
		}
	}
	if !strings.HasSuffix(posts[0].Text, "#deepwork") {
		t.Errorf("hashtag suffix missing: %q", posts[0].Text)
	}
}

func TestLLMUnconfiguredReturnsUnavailable(t *testing.T) {
	gen := generator.NewLLM("https://example.invalid/v1/chat/completions", "", "gpt-4o-mini")
	_, err := gen.Generate(context.Background(), nil, 3)
	if !errors.Is(err, generator.ErrUnavailable) {
		t.Fatalf("want ErrUnavailable, got %v", err)
	}
	if gen.Configured() {
		t.Errorf("Configured must be false without an api key")
	}
}

func TestLLMParsesPostsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("authorization header: %q", got)
		}
		inner, _ := json.Marshal(map[string]any{
			"posts": []map[string]any{
				{"text": "ship it", "topic": "launch"},
				{"text": "  ", "topic": "skipped"},
				{"text": "measure twice"},
			},
		})
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"content": string(inner)}},
			},
		}
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	gen := generator.NewLLM(srv.URL, "sk-test", "gpt-4o-mini")
	posts, err := gen.Generate(context.Background(), []string{"launch"}, 2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	// Blank texts are dropped.
	if len(posts) != 2 {
		t.Fatalf("want 2 posts, got %d", len(posts))
	}
	if posts[0].Text != "ship it" || posts[0].Topic == nil || *posts[0].Topic != "launch" {
		t.Errorf("post[0]: %+v", posts[0])
	}
	if posts[1].Text != "measure twice" {
		t.Errorf("post[1]: %+v", posts[1])
	}
}

func TestLLMHTTPErrorPropagates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	gen := generator.NewLLM(srv.URL, "sk-test", "gpt-4o-mini")
	_, err := gen.Generate(context.Background(), nil, 1)
	if err == nil {
		t.Fatal("want error on HTTP 429")
	}
	if errors.Is(err, generator.ErrUnavailable) {
		t.Errorf("transport failure must not masquerade as the capability signal")
	}
}
