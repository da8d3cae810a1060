package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string        `env:"HTTP_ADDR" envDefault:":8080"`
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"30s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"120s"`

	AuthToken string `env:"AUTH_TOKEN"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	// Orchestrator
	Workers        int           `env:"WORKERS" envDefault:"4"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"1000"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"4"`
	RetryBaseDelay time.Duration `env:"RETRY_BASE_DELAY" envDefault:"2s"`
	RetryMaxDelay  time.Duration `env:"RETRY_MAX_DELAY" envDefault:"1m"`
	StageTimeout   time.Duration `env:"STAGE_TIMEOUT" envDefault:"10m"`

	// Segment duration policy
	MinSegmentMs int64 `env:"MIN_SEGMENT_MS" envDefault:"2000"`
	MaxSegmentMs int64 `env:"MAX_SEGMENT_MS" envDefault:"30000"`

	WorkDir   string `env:"WORK_DIR" envDefault:"./work"`
	OutputDir string `env:"OUTPUT_DIR" envDefault:"./output"`

	// Providers
	YtDlpPath    string   `env:"YTDLP_PATH" envDefault:"yt-dlp"`
	FFmpegPath   string   `env:"FFMPEG_PATH" envDefault:"ffmpeg"`
	SampleRate   int      `env:"SAMPLE_RATE" envDefault:"16000"`
	MaxAudioMB   int64    `env:"MAX_AUDIO_MB" envDefault:"250"`
	CaptionLangs []string `env:"CAPTION_LANGS" envDefault:"en" envSeparator:","`

	WhisperURL     string        `env:"WHISPER_URL"`
	WhisperAPIKey  string        `env:"WHISPER_API_KEY"`
	WhisperModel   string        `env:"WHISPER_MODEL" envDefault:"whisper-large-v3-turbo"`
	WhisperTimeout time.Duration `env:"WHISPER_TIMEOUT" envDefault:"5m"`

	// Persistence: DATABASE_URL wins, then EMBEDDED_POSTGRES, then STATE_FILE.
	DatabaseURL      string `env:"DATABASE_URL"`
	EmbeddedPostgres bool   `env:"EMBEDDED_POSTGRES" envDefault:"false"`
	EmbeddedPGDir    string `env:"EMBEDDED_POSTGRES_DIR" envDefault:"./pgdata"`
	EmbeddedPGPort   uint32 `env:"EMBEDDED_POSTGRES_PORT" envDefault:"5433"`
	StateFile        string `env:"STATE_FILE" envDefault:"./state/jobs.json"`

	S3 S3Config `envPrefix:"S3_"`

	// Job events over MQTT; submissions on MQTTSubmitTopic.
	MQTTBrokerURL    string `env:"MQTT_BROKER_URL"`
	MQTTClientID     string `env:"MQTT_CLIENT_ID" envDefault:"clip-engine"`
	MQTTUsername     string `env:"MQTT_USERNAME"`
	MQTTPassword     string `env:"MQTT_PASSWORD"`
	MQTTEventPrefix  string `env:"MQTT_EVENT_PREFIX" envDefault:"clip-engine/events"`
	MQTTSubmitTopic  string `env:"MQTT_SUBMIT_TOPIC" envDefault:"clip-engine/submit"`
	MQTTEmbeddedAddr string `env:"MQTT_EMBEDDED_ADDR"`

	AMQPURL   string `env:"AMQP_URL"`
	AMQPQueue string `env:"AMQP_QUEUE" envDefault:"clip-engine.jobs"`

	InboxDir string `env:"INBOX_DIR"`
}

// S3Config configures the export store. Empty Bucket means local only.
type S3Config struct {
	Bucket         string        `env:"BUCKET"`
	Endpoint       string        `env:"ENDPOINT"`
	Region         string        `env:"REGION" envDefault:"us-east-1"`
	AccessKey      string        `env:"ACCESS_KEY"`
	SecretKey      string        `env:"SECRET_KEY"`
	Prefix         string        `env:"PREFIX"`
	PresignExpiry  time.Duration `env:"PRESIGN_EXPIRY" envDefault:"1h"`
	LocalCache     bool          `env:"LOCAL_CACHE" envDefault:"true"`
	CacheRetention time.Duration `env:"CACHE_RETENTION" envDefault:"0s"`
	CacheMaxGB     int           `env:"CACHE_MAX_GB" envDefault:"0"`
	UploadWorkers  int           `env:"UPLOAD_WORKERS" envDefault:"2"`
}

// Enabled reports whether S3 export is configured.
func (c S3Config) Enabled() bool { return c.Bucket != "" }

// Overrides holds CLI flag values that take priority over env vars.
type Overrides struct {
	EnvFile     string
	HTTPAddr    string
	LogLevel    string
	DatabaseURL string
	OutputDir   string
	Workers     int
}

// Load reads configuration from .env file, environment variables, and CLI overrides.
// Priority: CLI flags > environment variables > .env file > struct defaults.
func Load(overrides Overrides) (*Config, error) {
	// Load .env file (silent if missing)
	envFile := overrides.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		_ = godotenv.Load(envFile)
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	// Apply CLI overrides (non-empty values win)
	if overrides.HTTPAddr != "" {
		cfg.HTTPAddr = overrides.HTTPAddr
	}
	if overrides.LogLevel != "" {
		cfg.LogLevel = overrides.LogLevel
	}
	if overrides.DatabaseURL != "" {
		cfg.DatabaseURL = overrides.DatabaseURL
	}
	if overrides.OutputDir != "" {
		cfg.OutputDir = overrides.OutputDir
	}
	if overrides.Workers > 0 {
		cfg.Workers = overrides.Workers
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c *Config) Validate() error {
	var problems []string
	if c.WriteTimeout <= 0 {
		problems = append(problems, "HTTP_WRITE_TIMEOUT must be positive")
	}
	if c.Workers < 1 {
		problems = append(problems, "WORKERS must be at least 1")
	}
	if c.QueueSize < 1 {
		problems = append(problems, "QUEUE_SIZE must be at least 1")
	}
	if c.MaxAttempts < 1 {
		problems = append(problems, "MAX_ATTEMPTS must be at least 1")
	}
	if c.MinSegmentMs <= 0 {
		problems = append(problems, "MIN_SEGMENT_MS must be positive")
	}
	if c.MaxSegmentMs < 2*c.MinSegmentMs {
		problems = append(problems, "MAX_SEGMENT_MS must be at least twice MIN_SEGMENT_MS")
	}
	if c.SampleRate <= 0 {
		problems = append(problems, "SAMPLE_RATE must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// MaxAudioBytes returns MAX_AUDIO_MB in bytes.
func (c *Config) MaxAudioBytes() int64 { return c.MaxAudioMB * 1024 * 1024 }
