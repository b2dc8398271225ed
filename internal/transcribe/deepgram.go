package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

const DefaultModel = "nova-2"

// ErrNoAlternatives is returned when Deepgram answers without any channel
// alternative to read a transcript from.
var ErrNoAlternatives = errors.New("transcribe: response has no alternatives")

// streamFunc sends one prerecorded request. The response is only ever
// re-encoded as JSON, so its concrete SDK type is not needed here.
type streamFunc func(ctx context.Context, src io.Reader, opts *interfaces.PreRecordedTranscriptionOptions) (any, error)

type Options struct {
	Model    string
	Language string
	// Host overrides the Deepgram API host, mostly for self-hosted deployments.
	Host string
}

// Deepgram transcribes whole clips with the prerecorded API.
type Deepgram struct {
	send streamFunc
	opts Options
}

func NewDeepgram(apiKey string, opts Options) *Deepgram {
	client.Init(client.InitLib{LogLevel: client.LogLevelDefault})

	c := client.NewREST(apiKey, &interfaces.ClientOptions{Host: opts.Host})
	dg := api.New(c)
	return newDeepgram(func(ctx context.Context, src io.Reader, o *interfaces.PreRecordedTranscriptionOptions) (any, error) {
		res, err := dg.FromStream(ctx, src, o)
		if err != nil {
			return nil, err
		}
		return res, nil
	}, opts)
}

func newDeepgram(send streamFunc, opts Options) *Deepgram {
	if strings.TrimSpace(opts.Model) == "" {
		opts.Model = DefaultModel
	}
	return &Deepgram{send: send, opts: opts}
}

// Transcribe returns the first alternative of the first channel. Silence
// yields an empty transcript, not an error.
func (d *Deepgram) Transcribe(ctx context.Context, src io.Reader) (string, error) {
	res, err := d.send(ctx, src, &interfaces.PreRecordedTranscriptionOptions{
		Model:       d.opts.Model,
		Language:    d.opts.Language,
		Punctuate:   true,
		SmartFormat: true,
	})
	if err != nil {
		return "", fmt.Errorf("deepgram prerecorded request: %w", err)
	}
	return transcriptFromResponse(res)
}

type prerecordedResponse struct {
	Results struct {
		Channels []struct {
			Alternatives []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

func transcriptFromResponse(res any) (string, error) {
	raw, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode deepgram response: %w", err)
	}

	var parsed prerecordedResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("decode deepgram response: %w", err)
	}
	if len(parsed.Results.Channels) == 0 || len(parsed.Results.Channels[0].Alternatives) == 0 {
		return "", ErrNoAlternatives
	}
	return strings.TrimSpace(parsed.Results.Channels[0].Alternatives[0].Transcript), nil
}
