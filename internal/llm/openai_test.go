package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type openaiRequest struct {
	Model       string  `json:"model"`
	MaxTokens   int     `json:"max_tokens"`
	Temperature float32 `json:"temperature"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// openaiServer answers chat completions with the given choices and records
// the decoded request and auth header.
func openaiServer(t *testing.T, choices []string, got *openaiRequest, auth *string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		*auth = r.Header.Get("Authorization")
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}

		out := make([]map[string]any, 0, len(choices))
		for i, c := range choices {
			out = append(out, map[string]any{
				"index":         i,
				"message":       map[string]any{"role": "assistant", "content": c},
				"finish_reason": "stop",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-1",
			"object":  "chat.completion",
			"created": 123,
			"model":   got.Model,
			"choices": out,
		})
	}))
}

func TestOpenAIComplete(t *testing.T) {
	var req openaiRequest
	var auth string
	server := openaiServer(t, []string{"  Joy  "}, &req, &auth)
	defer server.Close()

	client, err := FromModel("openai/gpt-4o-mini", Keys{OpenAI: "test-key"},
		WithBaseURL(server.URL+"/v1"), WithMaxTokens(16), WithTemperature(0.5))
	if err != nil {
		t.Fatalf("FromModel failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{System("classify the sentiment"), User("what a great demo")})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "Joy" {
		t.Fatalf("expected trimmed label, got %q", got)
	}
	if !strings.Contains(auth, "test-key") {
		t.Fatalf("expected auth header to carry the key, got %q", auth)
	}
	if req.Model != "gpt-4o-mini" || req.MaxTokens != 16 || req.Temperature != 0.5 {
		t.Fatalf("unexpected request parameters %+v", req)
	}
	if len(req.Messages) != 2 || req.Messages[0].Role != RoleSystem || req.Messages[1].Role != RoleUser {
		t.Fatalf("unexpected messages %+v", req.Messages)
	}
}

func TestOpenAICompleteErrors(t *testing.T) {
	tests := []struct {
		name    string
		choices []string
		want    string
	}{
		{name: "no choices", choices: nil, want: "no choices"},
		{name: "blank content", choices: []string{"   "}, want: "empty response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req openaiRequest
			var auth string
			server := openaiServer(t, tt.choices, &req, &auth)
			defer server.Close()

			client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
			if err != nil {
				t.Fatalf("newOpenAIClient failed: %v", err)
			}
			_, err = client.Complete(context.Background(), []Message{User("hello")})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
