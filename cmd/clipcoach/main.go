package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sjawhar/clipcoach/internal/archive"
	"github.com/sjawhar/clipcoach/internal/audio"
	"github.com/sjawhar/clipcoach/internal/capture"
	"github.com/sjawhar/clipcoach/internal/config"
	"github.com/sjawhar/clipcoach/internal/gdrive"
	"github.com/sjawhar/clipcoach/internal/inference"
	"github.com/sjawhar/clipcoach/internal/media"
	"github.com/sjawhar/clipcoach/internal/server"
	"github.com/sjawhar/clipcoach/internal/session"
	"github.com/sjawhar/clipcoach/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, warnings, err := config.Load(config.Path())
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, logCloser := cfg.NewLogger()
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(logger)

	for _, w := range warnings {
		slog.Warn("config", "warning", w)
	}
	slog.Info("clipcoach: starting", "owner", cfg.OwnerID, "blob_backend", cfg.BlobBackend)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer func() { _ = store.Close() }()

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		log.Fatalf("blob store init failed: %v", err)
	}
	archiver := archive.New(blobs, store)

	var audioDevice capture.Device
	switch cfg.Capture.AudioBackend {
	case "node":
		audioDevice, err = capture.NewALSADevice(cfg.Capture.AudioDevice, cfg.Capture.AudioNode)
		if err != nil {
			log.Fatalf("audio device init failed: %v", err)
		}
	default:
		audioDevice = audio.NewPortAudioDevice(cfg.Capture.AudioFormat, cfg.Capture.AudioDevice)
	}
	videoDevice := capture.NewNodeDevice(capture.KindVideo, cfg.Capture.VideoDevice, cfg.Capture.VideoFormat, cfg.Capture.VideoDevice)
	captureSession := capture.NewSession(audioDevice, videoDevice)

	encoder := media.NewFFmpegEncoder(cfg.Capture.FFmpegPath, cfg.Capture.MimeType)
	recorder := media.NewRecorder(encoder, cfg.ParsedFlushTimeout())
	pipeline := inference.New(cfg.TranscribeURL, cfg.SuggestURL, cfg.ParsedRequestTimeout())

	hub := server.NewHub()
	manager := session.NewManager(captureSession, recorder, pipeline, archiver, hub, cfg.OwnerID)
	cycler := session.NewCycler(manager, cfg.ParsedClipLength(), cfg.ParsedInterval())

	httpServer := server.NewHTTPServer(cfg.ListenAddr, hub, server.Deps{
		Controller: manager,
		Records:    archiver,
		Auto:       cycler,
		OwnerID:    cfg.OwnerID,
	})
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("http server error", "error", err)
		}
	}()
	slog.Info("clipcoach: control API listening", "addr", cfg.ListenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("clipcoach: shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	cycler.Stop()
	if err := manager.Close(shutdownCtx); err != nil {
		slog.Warn("session close failed", "error", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown failed", "error", err)
	}
}

func newBlobStore(ctx context.Context, cfg config.Config) (archive.BlobStore, error) {
	if cfg.BlobBackend == config.BlobBackendGDrive {
		return gdrive.NewBlobStore(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
	}

	baseURL := cfg.PublicBaseURL
	if baseURL == "" {
		baseURL = "http://" + cfg.ListenAddr + "/api/clips"
	}
	return storage.NewFileBlobStore(cfg.ClipDir, baseURL), nil
}
