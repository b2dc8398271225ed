package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all clipcoach environment variables.
const EnvPrefix = "CLIPCOACH_"

const DefaultPath = "clipcoach.yaml"

const (
	BlobBackendLocal  = "local"
	BlobBackendGDrive = "gdrive"
)

type Capture struct {
	FFmpegPath   string `yaml:"ffmpeg_path"`
	VideoDevice  string `yaml:"video_device" validate:"required"`
	VideoFormat  string `yaml:"video_format"`
	AudioBackend string `yaml:"audio_backend" validate:"oneof=portaudio node"`
	AudioDevice  string `yaml:"audio_device"`
	// AudioNode is the /dev/snd PCM node the node backend opens to check
	// access. Empty derives it from an hw: AudioDevice.
	AudioNode   string `yaml:"audio_node" validate:"omitempty,startswith=/"`
	AudioFormat string `yaml:"audio_format"`
	MimeType    string `yaml:"mime_type"`
}

type Auto struct {
	ClipLength string `yaml:"clip_length"`
	Interval   string `yaml:"interval"`
}

type Gateway struct {
	ListenAddr      string `yaml:"listen_addr" validate:"required"`
	DeepgramModel   string `yaml:"deepgram_model"`
	Language        string `yaml:"language"`
	SentimentModel  string `yaml:"sentiment_model"`
	SuggestionModel string `yaml:"suggestion_model"`
	MaxUploadMB     int    `yaml:"max_upload_mb" validate:"gt=0"`
}

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	OwnerID               string `yaml:"owner_id" validate:"required"`
	ListenAddr            string `yaml:"listen_addr" validate:"required"`
	DBPath                string `yaml:"db_path" validate:"required"`
	BlobBackend           string `yaml:"blob_backend" validate:"oneof=local gdrive"`
	ClipDir               string `yaml:"clip_dir"`
	PublicBaseURL         string `yaml:"public_base_url" validate:"omitempty,url"`
	GDriveFolderID        string `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string `yaml:"google_credentials_file"`
	TranscribeURL         string `yaml:"transcribe_url" validate:"required,url"`
	SuggestURL            string `yaml:"suggest_url" validate:"required,url"`
	RequestTimeout        string `yaml:"request_timeout"`
	FlushTimeout          string `yaml:"flush_timeout"`

	Capture Capture `yaml:"capture"`
	Auto    Auto    `yaml:"auto"`
	Gateway Gateway `yaml:"gateway"`

	LogLevel      string `yaml:"log_level" validate:"oneof=debug info warn error"`
	LogFormat     string `yaml:"log_format" validate:"oneof=text json"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb" validate:"gte=0"`
	LogMaxBackups int    `yaml:"log_max_backups" validate:"gte=0"`

	// Secrets come from env vars only and are never serialized to YAML.
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

func defaults() Config {
	return Config{
		OwnerID:               "local",
		ListenAddr:            "127.0.0.1:8080",
		DBPath:                "data/clipcoach.db",
		BlobBackend:           BlobBackendLocal,
		ClipDir:               "data/clips",
		GoogleCredentialsFile: "./service-account.json",
		TranscribeURL:         "http://127.0.0.1:8090/predict",
		SuggestURL:            "http://127.0.0.1:8090/generate",
		RequestTimeout:        "60s",
		FlushTimeout:          "5s",
		Capture: Capture{
			FFmpegPath:   "ffmpeg",
			VideoDevice:  "/dev/video0",
			VideoFormat:  "v4l2",
			AudioBackend: "portaudio",
			AudioDevice:  "default",
			AudioFormat:  "pulse",
			MimeType:     `video/webm; codecs="opus,vp8"`,
		},
		Auto: Auto{
			ClipLength: "2.8s",
			Interval:   "5s",
		},
		Gateway: Gateway{
			ListenAddr:      "127.0.0.1:8090",
			DeepgramModel:   "nova-2",
			Language:        "en",
			SentimentModel:  "openai/gpt-4o-mini",
			SuggestionModel: "gemini/gemini-2.0-flash",
			MaxUploadMB:     32,
		},
		LogLevel:      "info",
		LogFormat:     "text",
		LogMaxSizeMB:  50,
		LogMaxBackups: 3,
	}
}

// Path returns the config file path from the environment, or DefaultPath.
func Path() string {
	if v := os.Getenv(EnvPrefix + "CONFIG"); v != "" {
		return v
	}
	return DefaultPath
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) ParsedRequestTimeout() time.Duration {
	return parseDuration(c.RequestTimeout, 60*time.Second)
}

func (c *Config) ParsedFlushTimeout() time.Duration {
	return parseDuration(c.FlushTimeout, 5*time.Second)
}

func (c *Config) ParsedClipLength() time.Duration {
	return parseDuration(c.Auto.ClipLength, 2800*time.Millisecond)
}

func (c *Config) ParsedInterval() time.Duration {
	return parseDuration(c.Auto.Interval, 5*time.Second)
}

func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Gateway.MaxUploadMB) << 20
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	strs := map[string]*string{
		"OWNER_ID":                 &cfg.OwnerID,
		"LISTEN_ADDR":              &cfg.ListenAddr,
		"DB_PATH":                  &cfg.DBPath,
		"BLOB_BACKEND":             &cfg.BlobBackend,
		"CLIP_DIR":                 &cfg.ClipDir,
		"PUBLIC_BASE_URL":          &cfg.PublicBaseURL,
		"GDRIVE_FOLDER_ID":         &cfg.GDriveFolderID,
		"GOOGLE_CREDENTIALS_FILE":  &cfg.GoogleCredentialsFile,
		"TRANSCRIBE_URL":           &cfg.TranscribeURL,
		"SUGGEST_URL":              &cfg.SuggestURL,
		"REQUEST_TIMEOUT":          &cfg.RequestTimeout,
		"FLUSH_TIMEOUT":            &cfg.FlushTimeout,
		"FFMPEG_PATH":              &cfg.Capture.FFmpegPath,
		"VIDEO_DEVICE":             &cfg.Capture.VideoDevice,
		"VIDEO_FORMAT":             &cfg.Capture.VideoFormat,
		"AUDIO_BACKEND":            &cfg.Capture.AudioBackend,
		"AUDIO_DEVICE":             &cfg.Capture.AudioDevice,
		"AUDIO_NODE":               &cfg.Capture.AudioNode,
		"AUDIO_FORMAT":             &cfg.Capture.AudioFormat,
		"MIME_TYPE":                &cfg.Capture.MimeType,
		"AUTO_CLIP_LENGTH":         &cfg.Auto.ClipLength,
		"AUTO_INTERVAL":            &cfg.Auto.Interval,
		"GATEWAY_LISTEN_ADDR":      &cfg.Gateway.ListenAddr,
		"GATEWAY_DEEPGRAM_MODEL":   &cfg.Gateway.DeepgramModel,
		"GATEWAY_LANGUAGE":         &cfg.Gateway.Language,
		"GATEWAY_SENTIMENT_MODEL":  &cfg.Gateway.SentimentModel,
		"GATEWAY_SUGGESTION_MODEL": &cfg.Gateway.SuggestionModel,
		"LOG_LEVEL":                &cfg.LogLevel,
		"LOG_FORMAT":               &cfg.LogFormat,
		"LOG_FILE":                 &cfg.LogFile,
	}
	for key, dst := range strs {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GATEWAY_MAX_UPLOAD_MB": &cfg.Gateway.MaxUploadMB,
		"LOG_MAX_SIZE_MB":       &cfg.LogMaxSizeMB,
		"LOG_MAX_BACKUPS":       &cfg.LogMaxBackups,
	}
	for key, dst := range ints {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				*dst = n
			}
		}
	}
}

func loadSecrets(cfg *Config) {
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

var structValidator = validator.New()

func validate(cfg *Config) []string {
	var warnings []string

	if err := structValidator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			for _, fe := range fieldErrs {
				warnings = append(warnings, fmt.Sprintf("Invalid %s %q (rule %s).", fe.Namespace(), fmt.Sprint(fe.Value()), fe.Tag()))
			}
		} else {
			warnings = append(warnings, fmt.Sprintf("Config validation failed: %v", err))
		}
	}

	durations := []struct {
		name, value, fallback string
	}{
		{"request_timeout", cfg.RequestTimeout, "60s"},
		{"flush_timeout", cfg.FlushTimeout, "5s"},
		{"auto.clip_length", cfg.Auto.ClipLength, "2.8s"},
		{"auto.interval", cfg.Auto.Interval, "5s"},
	}
	for _, d := range durations {
		if v, err := time.ParseDuration(d.value); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q, using default %s.", d.name, d.value, d.fallback))
		}
	}
	if cfg.ParsedClipLength() >= cfg.ParsedInterval() {
		warnings = append(warnings, "auto.clip_length must be shorter than auto.interval; clips will be shortened to half the interval.")
	}

	if cfg.Capture.AudioBackend == "node" && cfg.Capture.AudioNode == "" && !strings.Contains(cfg.Capture.AudioDevice, "hw:") {
		warnings = append(warnings, "audio_backend node needs an hw: audio_device or an explicit audio_node.")
	}

	if cfg.BlobBackend == BlobBackendGDrive && cfg.GDriveFolderID == "" {
		warnings = append(warnings, "gdrive blob backend without gdrive_folder_id, clips go to the service account's root folder.")
	}

	return warnings
}

// GatewayWarnings reports missing secrets for the inference gateway. A
// model whose provider key is missing stops the gateway at startup.
func (c *Config) GatewayWarnings() []string {
	var warnings []string
	if c.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured, /predict cannot transcribe. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	models := []struct{ name, model string }{
		{"gateway.sentiment_model", c.Gateway.SentimentModel},
		{"gateway.suggestion_model", c.Gateway.SuggestionModel},
	}
	for _, m := range models {
		provider, _, _ := strings.Cut(m.model, "/")
		env, key := c.providerKey(provider)
		if env != "" && key == "" {
			warnings = append(warnings, fmt.Sprintf("%s %q has no API key, the gateway will exit at startup. Set %s.", m.name, m.model, EnvPrefix+env))
		}
	}
	return warnings
}

func (c *Config) providerKey(provider string) (env, key string) {
	switch provider {
	case "openai":
		return "OPENAI_API_KEY", c.OpenAIAPIKey
	case "anthropic":
		return "ANTHROPIC_API_KEY", c.AnthropicAPIKey
	case "gemini":
		return "GEMINI_API_KEY", c.GeminiAPIKey
	default:
		return "", ""
	}
}
