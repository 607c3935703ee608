// Package generator produces candidate posts. The LLM generator signals
// ErrUnavailable when it is not configured; the caller decides explicitly
// whether to fall back to the template generator.
package generator

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"postflow/internal/domain"
)

// ErrUnavailable means LLM generation cannot be attempted (no endpoint or
// API key configured). It is a capability signal, not a transport failure.
var ErrUnavailable = errors.New("llm generation unavailable")

type Generator interface {
	Generate(ctx context.Context, topics []string, count int) ([]domain.GeneratedPost, error)
}

var fallbackTemplates = []string{
	"%[1]s %[2]s %[4]s",
	"%[1]s\n\n%[2]s\n\n%[4]s",
	"%[2]s %[3]s %[4]s",
}

var fallbackHooks = []string{
	"New lesson from building my brand:",
	"I used to think X was about Y. Not anymore.",
	"Most people forget this:",
}

var fallbackInsights = []string{
	"Consistency beats inspiration.",
	"Deep work compounds when you make it public.",
	"Every ambitious move starts with a tiny uncomfortable test.",
}

var fallbackProof = []string{
	"Shipping threads weekly unlocked two dream partnerships.",
	"Audience growth climbed 40% after leaning into video snippets.",
	"Every viral post mapped to audience research I almost skipped.",
}

var fallbackCTA = []string{
	"Try it this week and tell me how it lands.",
	"More experiments coming. Stay tuned.",
	"Share this with someone chasing the same goal.",
}

// Template assembles posts from canned fragments. It needs no credentials
// and always succeeds, which makes it the designated fallback.
type Template struct {
	rng *rand.Rand
}

func NewTemplate() *Template {
	return &Template{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

// NewTemplateSeeded returns a Template with a fixed seed for reproducible output.
func NewTemplateSeeded(seed int64) *Template {
	return &Template{rng: rand.New(rand.NewSource(seed))}
}

func (t *Template) Generate(_ context.Context, topics []string, count int) ([]domain.GeneratedPost, error) {
	posts := make([]domain.GeneratedPost, 0, count)
	for i := 0; i < count; i++ {
		var topic *string
		if len(topics) > 0 {
			v := topics[i%len(topics)]
			topic = &v
		}
		text := t.compose()
		if topic != nil {
			text += "\n\n#" + strings.ReplaceAll(*topic, " ", "")
		}
		posts = append(posts, domain.GeneratedPost{Text: strings.TrimSpace(text), Topic: topic})
	}
	return posts, nil
}

func (t *Template) compose() string {
	return fmt.Sprintf(t.pick(fallbackTemplates),
		t.pick(fallbackHooks),
		t.pick(fallbackInsights),
		t.pick(fallbackProof),
		t.pick(fallbackCTA))
}

func (t *Template) pick(options []string) string {
	return options[t.rng.Intn(len(options))]
}
