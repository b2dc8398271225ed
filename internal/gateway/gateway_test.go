package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
	"github.com/sjawhar/clipcoach/internal/sentiment"
	"github.com/sjawhar/clipcoach/internal/suggest"
)

type fakeTranscriber struct {
	text string
	err  error
	got  []byte
}

func (f *fakeTranscriber) Transcribe(_ context.Context, src io.Reader) (string, error) {
	b, err := io.ReadAll(src)
	if err != nil {
		return "", err
	}
	f.got = b
	return f.text, f.err
}

type fakeClassifier struct {
	label sentiment.Label
	got   string
}

func (f *fakeClassifier) Classify(_ context.Context, transcript string) sentiment.Label {
	f.got = transcript
	return f.label
}

type fakeSuggester struct {
	message string
	err     error
	got     string
}

func (f *fakeSuggester) Generate(_ context.Context, label string) (string, error) {
	f.got = label
	if f.err != nil {
		return "", f.err
	}
	if strings.TrimSpace(label) == "" {
		return "", suggest.ErrEmptyLabel
	}
	return f.message, nil
}

func multipartBody(t *testing.T, field string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "video.webm")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func TestPredict(t *testing.T) {
	tr := &fakeTranscriber{text: "We beat the quarter."}
	cl := &fakeClassifier{label: sentiment.Joy}
	g := New(tr, cl, &fakeSuggester{}, 0)

	body, contentType := multipartBody(t, "file", []byte("webm-bytes"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["transcription"] != "We beat the quarter." || got["sentiment"] != "Joy" || len(got) != 2 {
		t.Fatalf("unexpected response %v", got)
	}
	if string(tr.got) != "webm-bytes" {
		t.Fatalf("expected upload bytes to reach transcriber, got %q", tr.got)
	}
	if cl.got != "We beat the quarter." {
		t.Fatalf("expected transcript to reach classifier, got %q", cl.got)
	}
}

func TestPredictMissingFile(t *testing.T) {
	g := New(&fakeTranscriber{}, &fakeClassifier{label: sentiment.Neutral}, &fakeSuggester{}, 0)

	body, contentType := multipartBody(t, "video", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestPredictUploadLimit(t *testing.T) {
	tr := &fakeTranscriber{text: "never"}
	g := New(tr, &fakeClassifier{label: sentiment.Neutral}, &fakeSuggester{}, 64)

	body, contentType := multipartBody(t, "file", bytes.Repeat([]byte("x"), 1024))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if tr.got != nil {
		t.Fatal("oversized upload reached the transcriber")
	}
}

func TestPredictTranscriptionFailure(t *testing.T) {
	g := New(&fakeTranscriber{err: errors.New("deepgram 401")}, &fakeClassifier{label: sentiment.Neutral}, &fakeSuggester{}, 0)

	body, contentType := multipartBody(t, "file", []byte("x"))
	req := httptest.NewRequest(http.MethodPost, "/predict", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "transcription failed") {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestGenerate(t *testing.T) {
	sg := &fakeSuggester{message: "Ask a follow-up question."}
	g := New(&fakeTranscriber{}, &fakeClassifier{}, sg, 0)

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`"really? (Surprise)."`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if got["message"] != "Ask a follow-up question." || len(got) != 1 {
		t.Fatalf("unexpected response %v", got)
	}
	if sg.got != "really? (Surprise)." {
		t.Fatalf("expected label to reach suggester, got %q", sg.got)
	}
}

func TestGenerateErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		err  error
		want int
	}{
		{name: "not a string", body: `{"label":"x"}`, want: http.StatusBadRequest},
		{name: "empty label", body: `"  "`, want: http.StatusBadRequest},
		{name: "model failure", body: `"ok (Neutral)."`, err: errors.New("quota"), want: http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New(&fakeTranscriber{}, &fakeClassifier{}, &fakeSuggester{err: tt.err}, 0)
			req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(tt.body))
			rec := httptest.NewRecorder()
			g.Handler().ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, rec.Code)
			}
		})
	}
}

// The client pipeline and the gateway agree on both stage contracts.
func TestPipelineAgainstGateway(t *testing.T) {
	tr := &fakeTranscriber{text: "Thanks everyone"}
	sg := &fakeSuggester{message: "Great energy, keep it up."}
	g := New(tr, &fakeClassifier{label: sentiment.Joy}, sg, 0)
	srv := httptest.NewServer(g.Handler())
	defer srv.Close()

	p := inference.New(srv.URL+"/predict", srv.URL+"/generate", 0)
	clip := media.Clip{Data: []byte("clip-bytes"), MimeType: "video/webm"}

	result, err := p.Run(context.Background(), clip, nil)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if result.Transcript != "Thanks everyone" || result.Sentiment != "Joy" {
		t.Fatalf("unexpected result %+v", result)
	}
	if result.Suggestion == nil || *result.Suggestion != "Great energy, keep it up." {
		t.Fatalf("unexpected suggestion %v", result.Suggestion)
	}
	if sg.got != "Thanks everyone (Joy)." {
		t.Fatalf("unexpected combined label %q", sg.got)
	}
	if string(tr.got) != "clip-bytes" {
		t.Fatalf("expected clip bytes at gateway, got %q", tr.got)
	}
}

func TestHealthz(t *testing.T) {
	g := New(&fakeTranscriber{}, &fakeClassifier{}, &fakeSuggester{}, 0)
	rec := httptest.NewRecorder()
	g.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}
