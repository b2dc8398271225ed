package suggest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sjawhar/clipcoach/internal/llm"
)

var ErrEmptyLabel = errors.New("suggest: empty combined label")

const coachPersona = "Assume yourself as a professional communication coach and reply to the question in accordance to the context."

// questions maps a lowercase sentiment to the coaching question asked about
// the clip. Sentiments not listed get defaultQuestion.
var questions = map[string]string{
	"joy":      "Praise me in 100 words relating to the context that I'm doing good in that professional conversation.",
	"surprise": "Just give me 3 general suggestions in 100 words to retain the interest of the speaker created with reference to the professional context.",
	"fear":     "Just give me 3 suggestions in 100 words relating to the context to ease the situation of the speaker in a professional context.",
	"anger":    "Just give me 3 suggestions in 100 words relating to the context to defuse the situation in a professional context.",
	"disgust":  "Just give me 3 suggestions in 100 words relating to the context to improve the mood of the speaker in a professional context.",
	"sadness":  "Just give me 3 suggestions in 100 words relating to the context to improve the mood of the speaker in a professional context.",
}

const defaultQuestion = "Just give me 3 suggestions in 100 words to improve the situation in the conversation within the context in a professional context."

// SentimentOf extracts the lowercase sentiment from the trailing
// parenthesised part of a combined label such as "hello (Joy).".
func SentimentOf(label string) string {
	open := strings.LastIndex(label, "(")
	if open < 0 {
		return ""
	}
	rest := label[open+1:]
	end := strings.Index(rest, ")")
	if end < 0 {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(rest[:end]))
}

// Prompt builds the coaching request for a combined label.
func Prompt(label string) string {
	question, ok := questions[SentimentOf(label)]
	if !ok {
		question = defaultQuestion
	}
	return fmt.Sprintf("Context: %s\nQuestion: %s\nAnswer:", label, question)
}

type Generator struct {
	client  llm.Client
	sleep   func(context.Context, time.Duration) error
	backoff []time.Duration
}

// sleepContext waits for d or until ctx is done, whichever comes first.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func NewGenerator(client llm.Client) *Generator {
	return &Generator{
		client:  client,
		sleep:   sleepContext,
		backoff: []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second},
	}
}

// Generate returns a plain-text coaching suggestion for the combined label.
func (g *Generator) Generate(ctx context.Context, label string) (string, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return "", ErrEmptyLabel
	}

	messages := []llm.Message{
		llm.System(coachPersona),
		llm.User(Prompt(label)),
	}

	var lastErr error
	for attempt := range g.backoff {
		result, err := g.client.Complete(ctx, messages)
		if err == nil {
			return PlainText(result), nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(g.backoff)-1 {
			if err := g.sleep(ctx, g.backoff[attempt]); err != nil {
				lastErr = err
				break
			}
		}
	}
	return "", fmt.Errorf("generate suggestion failed after retries: %w", lastErr)
}
