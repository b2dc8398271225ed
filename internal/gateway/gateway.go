package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sjawhar/clipcoach/internal/sentiment"
	"github.com/sjawhar/clipcoach/internal/suggest"
)

const DefaultMaxUploadBytes = 32 << 20

type Transcriber interface {
	Transcribe(ctx context.Context, src io.Reader) (string, error)
}

type Classifier interface {
	Classify(ctx context.Context, transcript string) sentiment.Label
}

type Suggester interface {
	Generate(ctx context.Context, label string) (string, error)
}

type predictResponse struct {
	Transcription string `json:"transcription"`
	Sentiment     string `json:"sentiment"`
}

type generateResponse struct {
	Message string `json:"message"`
}

// Gateway serves the two inference stages a clip goes through.
type Gateway struct {
	transcriber    Transcriber
	classifier     Classifier
	suggester      Suggester
	maxUploadBytes int64
}

func New(transcriber Transcriber, classifier Classifier, suggester Suggester, maxUploadBytes int64) *Gateway {
	if maxUploadBytes <= 0 {
		maxUploadBytes = DefaultMaxUploadBytes
	}
	return &Gateway{
		transcriber:    transcriber,
		classifier:     classifier,
		suggester:      suggester,
		maxUploadBytes: maxUploadBytes,
	}
}

func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("POST /predict", g.handlePredict)
	mux.HandleFunc("POST /generate", g.handleGenerate)
	return mux
}

func NewHTTPServer(addr string, g *Gateway) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (g *Gateway) handlePredict(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > g.maxUploadBytes {
		writeJSONError(w, http.StatusRequestEntityTooLarge, "clip exceeds upload limit")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, g.maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "clip exceeds upload limit")
			return
		}
		writeJSONError(w, http.StatusBadRequest, "multipart field \"file\" is required")
		return
	}
	defer func() { _ = file.Close() }()

	transcript, err := g.transcriber.Transcribe(r.Context(), file)
	if err != nil {
		slog.Warn("predict: transcription failed", "file", header.Filename, "size", header.Size, "error", err)
		writeJSONError(w, http.StatusBadGateway, "transcription failed")
		return
	}

	label := g.classifier.Classify(r.Context(), transcript)
	slog.Info("predict", "file", header.Filename, "size", header.Size, "sentiment", label)

	writeJSON(w, http.StatusOK, predictResponse{Transcription: transcript, Sentiment: string(label)})
}

func (g *Gateway) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var label string
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&label); err != nil {
		writeJSONError(w, http.StatusBadRequest, "body must be a JSON string")
		return
	}

	message, err := g.suggester.Generate(r.Context(), label)
	if err != nil {
		if errors.Is(err, suggest.ErrEmptyLabel) {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}
		slog.Warn("generate: suggestion failed", "error", err)
		writeJSONError(w, http.StatusBadGateway, "suggestion failed")
		return
	}

	writeJSON(w, http.StatusOK, generateResponse{Message: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
