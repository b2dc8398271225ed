package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/sjawhar/clipcoach/internal/media"
)

var (
	// ErrUnavailable means the stage could not be reached (transport error,
	// timeout, cancellation).
	ErrUnavailable = errors.New("inference unavailable")
	// ErrRejected means the stage answered with a non-2xx status or a body
	// that does not match its contract.
	ErrRejected = errors.New("inference rejected")
)

const SentimentUnspecified = "unspecified"

type Stage int

const (
	StageTranscribe Stage = iota + 1
	StageSuggest
)

func (s Stage) String() string {
	switch s {
	case StageTranscribe:
		return "stage1"
	case StageSuggest:
		return "stage2"
	default:
		return fmt.Sprintf("stage%d", int(s))
	}
}

type Outcome int

const (
	Started Outcome = iota
	Succeeded
	Failed
)

// Progress is reported once per stage transition.
type Progress struct {
	Stage   Stage
	Outcome Outcome
	Err     error
}

type Observer func(Progress)

type Result struct {
	Transcript string
	Sentiment  string
	// Suggestion is nil when the suggestion stage failed.
	Suggestion *string
}

// CombinedLabel is the text handed to the suggestion stage and stored with
// the record: "{transcript} ({sentiment}).".
func (r Result) CombinedLabel() string {
	return CombinedLabel(r.Transcript, r.Sentiment)
}

func CombinedLabel(transcript, sentiment string) string {
	return fmt.Sprintf("%s (%s).", transcript, sentiment)
}

type Pipeline struct {
	client        *resty.Client
	transcribeURL string
	suggestURL    string
}

// New builds a pipeline against the two stage endpoints. timeout bounds each
// request; zero leaves requests bounded only by the caller's context.
func New(transcribeURL, suggestURL string, timeout time.Duration) *Pipeline {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	}
	return NewWithClient(client, transcribeURL, suggestURL)
}

func NewWithClient(client *resty.Client, transcribeURL, suggestURL string) *Pipeline {
	return &Pipeline{client: client, transcribeURL: transcribeURL, suggestURL: suggestURL}
}

// Run sends clip through both stages. A stage-1 failure returns an error and
// no result. A stage-2 failure still returns the result, without a
// suggestion; the failure is only visible through observe.
func (p *Pipeline) Run(ctx context.Context, clip media.Clip, observe Observer) (Result, error) {
	if observe == nil {
		observe = func(Progress) {}
	}

	observe(Progress{Stage: StageTranscribe, Outcome: Started})
	transcript, sentiment, err := p.transcribe(ctx, clip)
	if err != nil {
		observe(Progress{Stage: StageTranscribe, Outcome: Failed, Err: err})
		return Result{}, err
	}
	observe(Progress{Stage: StageTranscribe, Outcome: Succeeded})

	result := Result{Transcript: transcript, Sentiment: sentiment}

	observe(Progress{Stage: StageSuggest, Outcome: Started})
	suggestion, err := p.suggest(ctx, result.CombinedLabel())
	if err != nil {
		observe(Progress{Stage: StageSuggest, Outcome: Failed, Err: err})
		return result, nil
	}
	observe(Progress{Stage: StageSuggest, Outcome: Succeeded})

	result.Suggestion = &suggestion
	return result, nil
}

type transcribeResponse struct {
	Transcription *string `json:"transcription"`
	Sentiment     string  `json:"sentiment"`
}

func (p *Pipeline) transcribe(ctx context.Context, clip media.Clip) (string, string, error) {
	if len(clip.Data) == 0 {
		return "", "", fmt.Errorf("transcribe: empty clip: %w", ErrRejected)
	}

	mimeType := clip.MimeType
	if mimeType == "" {
		mimeType = media.DefaultMimeType
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetMultipartField("file", "video."+media.Extension(mimeType), mimeType, bytes.NewReader(clip.Data)).
		Post(p.transcribeURL)
	if err != nil {
		return "", "", fmt.Errorf("transcribe: %w: %v", ErrUnavailable, err)
	}
	if !resp.IsSuccess() {
		return "", "", fmt.Errorf("transcribe: %w: status %d", ErrRejected, resp.StatusCode())
	}

	var body transcribeResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", "", fmt.Errorf("transcribe: %w: decode body: %v", ErrRejected, err)
	}
	if body.Transcription == nil {
		return "", "", fmt.Errorf("transcribe: %w: response has no transcription", ErrRejected)
	}

	sentiment := strings.TrimSpace(body.Sentiment)
	if sentiment == "" {
		sentiment = SentimentUnspecified
	}
	return strings.TrimSpace(*body.Transcription), sentiment, nil
}

type suggestResponse struct {
	Message *string `json:"message"`
}

func (p *Pipeline) suggest(ctx context.Context, label string) (string, error) {
	payload, err := json.Marshal(label)
	if err != nil {
		return "", fmt.Errorf("suggest: encode label: %w", err)
	}

	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(p.suggestURL)
	if err != nil {
		return "", fmt.Errorf("suggest: %w: %v", ErrUnavailable, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("suggest: %w: status %d", ErrRejected, resp.StatusCode())
	}

	var body suggestResponse
	if err := json.Unmarshal(resp.Body(), &body); err != nil {
		return "", fmt.Errorf("suggest: %w: decode body: %v", ErrRejected, err)
	}
	if body.Message == nil {
		return "", fmt.Errorf("suggest: %w: response has no message", ErrRejected)
	}
	return strings.TrimSpace(*body.Message), nil
}
