package suggest

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/clipcoach/internal/llm"
)

type scriptedClient struct {
	responses []string
	errs      []error
	calls     int
	messages  []llm.Message
}

func (c *scriptedClient) Complete(_ context.Context, messages []llm.Message) (string, error) {
	i := c.calls
	c.calls++
	c.messages = messages
	var err error
	if i < len(c.errs) {
		err = c.errs[i]
	}
	if err != nil {
		return "", err
	}
	if i < len(c.responses) {
		return c.responses[i], nil
	}
	return "", nil
}

func newTestGenerator(client llm.Client) (*Generator, *[]time.Duration) {
	var slept []time.Duration
	g := NewGenerator(client)
	g.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return g, &slept
}

func TestSentimentOf(t *testing.T) {
	tests := map[string]string{
		"hello there (Joy).":               "joy",
		"I (really) mean it (Anger).":      "anger",
		"no sentiment here.":               "",
		"broken (Fear":                     "",
		"(Surprise)":                       "surprise",
		"that was fine ( Neutral ).":       "neutral",
		"the deploy failed (unspecified).": "unspecified",
	}
	for in, want := range tests {
		if got := SentimentOf(in); got != want {
			t.Errorf("SentimentOf(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestPromptPicksQuestionBySentiment(t *testing.T) {
	tests := []struct {
		label string
		want  string
	}{
		{label: "we closed the deal (Joy).", want: "Praise me"},
		{label: "wait, really? (Surprise).", want: "retain the interest"},
		{label: "I'm not sure we can (Fear).", want: "ease the situation"},
		{label: "this is unacceptable (Anger).", want: "defuse the situation"},
		{label: "that's gross (Disgust).", want: "improve the mood"},
		{label: "we lost the client (Sadness).", want: "improve the mood"},
		{label: "okay (Neutral).", want: "improve the situation"},
		{label: "no label", want: "improve the situation"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			p := Prompt(tt.label)
			if !strings.Contains(p, tt.want) {
				t.Fatalf("expected %q in prompt %q", tt.want, p)
			}
			if !strings.Contains(p, "Context: "+tt.label) {
				t.Fatalf("expected label as context in prompt %q", p)
			}
		})
	}
}

func TestGenerateReturnsPlainText(t *testing.T) {
	client := &scriptedClient{responses: []string{"## Great work\n\n**Keep** the pace steady."}}
	g, slept := newTestGenerator(client)

	got, err := g.Generate(context.Background(), "we shipped on time (Joy).")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Great work\nKeep the pace steady." {
		t.Fatalf("unexpected suggestion %q", got)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no retries, slept %v", *slept)
	}
	if len(client.messages) != 2 {
		t.Fatalf("expected system and user messages, got %+v", client.messages)
	}
	if client.messages[0].Role != llm.RoleSystem {
		t.Fatalf("expected system persona first, got %q", client.messages[0].Role)
	}
	if !strings.Contains(client.messages[1].Content, "Praise me") {
		t.Fatalf("expected joy question, got %q", client.messages[1].Content)
	}
}

func TestGenerateRetries(t *testing.T) {
	boom := errors.New("503 overloaded")
	client := &scriptedClient{errs: []error{boom, boom}, responses: []string{"", "", "Pause before answering."}}
	g, slept := newTestGenerator(client)

	got, err := g.Generate(context.Background(), "hmm (Fear).")
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if got != "Pause before answering." {
		t.Fatalf("unexpected suggestion %q", got)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
	if want := []time.Duration{1 * time.Second, 4 * time.Second}; !slices.Equal(*slept, want) {
		t.Fatalf("expected backoff %v, got %v", want, *slept)
	}
}

func TestGenerateGivesUpAfterRetries(t *testing.T) {
	boom := errors.New("503 overloaded")
	client := &scriptedClient{errs: []error{boom, boom, boom}}
	g, slept := newTestGenerator(client)

	_, err := g.Generate(context.Background(), "hmm (Fear).")
	if !errors.Is(err, boom) {
		t.Fatalf("expected last provider error, got %v", err)
	}
	if client.calls != 3 {
		t.Fatalf("expected 3 calls, got %d", client.calls)
	}
	if len(*slept) != 2 {
		t.Fatalf("expected 2 waits, got %v", *slept)
	}
}

func TestGenerateStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	client := &scriptedClient{errs: []error{context.Canceled}}
	g, slept := newTestGenerator(client)

	_, err := g.Generate(ctx, "hmm (Fear).")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 call, got %d", client.calls)
	}
	if len(*slept) != 0 {
		t.Fatalf("expected no waits, got %v", *slept)
	}
}

func TestGenerateCancelInterruptsBackoff(t *testing.T) {
	boom := errors.New("503 overloaded")
	client := &scriptedClient{errs: []error{boom, boom, boom}}
	g := NewGenerator(client)
	g.backoff = []time.Duration{time.Minute, time.Minute, time.Minute}

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	start := time.Now()
	_, err := g.Generate(ctx, "hmm (Fear).")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("backoff ignored cancellation, took %s", elapsed)
	}
	if client.calls != 1 {
		t.Fatalf("expected no retry after cancel, got %d calls", client.calls)
	}
}

func TestSleepContext(t *testing.T) {
	if err := sleepContext(context.Background(), time.Millisecond); err != nil {
		t.Fatalf("expected timer to fire, got %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := sleepContext(ctx, time.Hour); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateRejectsEmptyLabel(t *testing.T) {
	client := &scriptedClient{}
	g, _ := newTestGenerator(client)
	_, err := g.Generate(context.Background(), "   ")
	if !errors.Is(err, ErrEmptyLabel) {
		t.Fatalf("expected ErrEmptyLabel, got %v", err)
	}
	if client.calls != 0 {
		t.Fatalf("expected no provider calls, got %d", client.calls)
	}
}
