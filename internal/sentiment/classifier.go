package sentiment

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/sjawhar/clipcoach/internal/llm"
)

type Label string

const (
	Anger    Label = "Anger"
	Disgust  Label = "Disgust"
	Fear     Label = "Fear"
	Joy      Label = "Joy"
	Neutral  Label = "Neutral"
	Sadness  Label = "Sadness"
	Surprise Label = "Surprise"
)

// Labels is the closed label set, in the order it is offered to the model.
var Labels = []Label{Anger, Disgust, Fear, Joy, Neutral, Sadness, Surprise}

// Parse matches s against the label set, ignoring case, surrounding
// whitespace, quotes and trailing punctuation.
func Parse(s string) (Label, bool) {
	s = strings.Trim(strings.TrimSpace(s), `"'.!*`)
	for _, l := range Labels {
		if strings.EqualFold(s, string(l)) {
			return l, true
		}
	}
	return "", false
}

// SampleTranscript keeps the start, middle and end of a long transcript so the
// prompt stays bounded.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

// Classifier asks a chat model for one label. Anything outside the label set,
// including a failed call, becomes Neutral.
type Classifier struct {
	client llm.Client
}

func NewClassifier(client llm.Client) *Classifier {
	return &Classifier{client: client}
}

func (c *Classifier) Classify(ctx context.Context, transcript string) Label {
	if strings.TrimSpace(transcript) == "" {
		return Neutral
	}

	names := make([]string, len(Labels))
	for i, l := range Labels {
		names[i] = string(l)
	}

	prompt := fmt.Sprintf(`Classify the dominant emotion of the speaker in this excerpt of a professional conversation.

Excerpt:
%s

Labels: %s
Reply with ONLY the label, nothing else.`, SampleTranscript(transcript, 300, 200, 200), strings.Join(names, ", "))

	result, err := c.client.Complete(ctx, []llm.Message{
		llm.System("You label the emotion expressed in short speech transcripts."),
		llm.User(prompt),
	})
	if err != nil {
		slog.Warn("sentiment: falling back to neutral", "reason", "llm complete failed", "error", err)
		return Neutral
	}

	label, ok := Parse(result)
	if !ok {
		slog.Warn("sentiment: falling back to neutral", "reason", "label not in set", "chosen", result)
		return Neutral
	}
	return label
}
