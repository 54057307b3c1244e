package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all intake environment variables.
const EnvPrefix = "INTAKE_"

const (
	BackendGateway = "gateway"
	BackendDirect  = "direct"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath                string        `yaml:"db_path"`
	ExportDir             string        `yaml:"export_dir"`
	Locale                string        `yaml:"locale"`
	GDriveFolderID        string        `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string        `yaml:"google_credentials_file"`
	Gateway               Gateway       `yaml:"gateway"`
	Registry              Registry      `yaml:"registry"`
	Recording             Recording     `yaml:"recording"`
	Live                  Live          `yaml:"live"`
	Summarization         Summarization `yaml:"summarization"`
	Server                Server        `yaml:"server"`
	Logging               Logging       `yaml:"logging"`

	// Secrets, env vars only.
	GatewayAPIKey   string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GeminiAPIKey    string `yaml:"-"`
}

// Gateway describes the remote file gateway. Endpoint URLs are built as
// {base_url}/{branch}/{endpoint}.
type Gateway struct {
	BaseURL           string    `yaml:"base_url"`
	Branch            string    `yaml:"branch"`
	Endpoints         Endpoints `yaml:"endpoints"`
	Timeout           string    `yaml:"timeout"`
	TranscribeTimeout string    `yaml:"transcribe_timeout"`
	InferenceTimeout  string    `yaml:"inference_timeout"`
	MetadataTimeout   string    `yaml:"metadata_timeout"`
	RequestsPerSecond float64   `yaml:"requests_per_second"`
	Burst             int       `yaml:"burst"`
	MaxUploadSize     string    `yaml:"max_upload_size"`
}

type Endpoints struct {
	Files      string `yaml:"files"`
	Upload     string `yaml:"upload"`
	Delete     string `yaml:"delete"`
	Transcribe string `yaml:"transcribe"`
	Inference  string `yaml:"inference"`
}

// Registry locates the allowed-identifier registry. URL is used by clients,
// Path and Addr by the registry server itself.
type Registry struct {
	URL  string `yaml:"url"`
	Path string `yaml:"path"`
	Addr string `yaml:"addr"`
}

type Recording struct {
	Dir             string `yaml:"dir"`
	Format          string `yaml:"format"`
	MicSampleRate   int    `yaml:"mic_sample_rate"`
	MicSampleRates  []int  `yaml:"mic_sample_rates"`
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
}

// Live configures draft captions while recording. They are enabled only when
// a Deepgram key is present.
type Live struct {
	Model    string `yaml:"model"`
	Language string `yaml:"language"`
}

type Summarization struct {
	Backend   string            `yaml:"backend"`
	Model     string            `yaml:"model"`
	MaxTokens int               `yaml:"max_tokens"`
	Presets   map[string]Preset `yaml:"presets"`
}

// Preset is a named prompt recipe. UserTemplate understands {{transcripts}},
// {{patient}} and {{date}}.
type Preset struct {
	Description  string `yaml:"description"`
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
	Model        string `yaml:"model"`
	MaxTokens    int    `yaml:"max_tokens"`
}

type Server struct {
	Addr string `yaml:"addr"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

const defaultSystemPrompt = "You are a clinical intake assistant. Summarize the attached intake documents and " +
	"consultation transcripts for the treating physician. Include presenting complaint, relevant history, " +
	"findings, and open questions. Do not invent facts that are not present in the material."

func defaults() Config {
	return Config{
		DBPath:                "data/intake.db",
		ExportDir:             "data/exports",
		Locale:                "he",
		GoogleCredentialsFile: "./service-account.json",
		Gateway: Gateway{
			Branch: "testing",
			Endpoints: Endpoints{
				Files:      "files",
				Upload:     "upload",
				Delete:     "delete",
				Transcribe: "transcribe",
				Inference:  "bedrock",
			},
			Timeout:           "30s",
			TranscribeTimeout: "15m",
			InferenceTimeout:  "3m",
			MetadataTimeout:   "5s",
			RequestsPerSecond: 5,
			Burst:             10,
			MaxUploadSize:     "100MB",
		},
		Registry: Registry{
			URL:  "http://127.0.0.1:3001",
			Path: "data/settings.json",
			Addr: "127.0.0.1:3001",
		},
		Recording: Recording{
			Dir:             "data/recordings",
			Format:          "mp4",
			MicSampleRate:   16000,
			MicSampleRates:  []int{48000, 44100, 32000, 24000},
			FramesPerBuffer: 1024,
		},
		Live: Live{
			Model:    "nova-2",
			Language: "he",
		},
		Summarization: Summarization{
			Backend:   BackendGateway,
			Model:     "anthropic/claude-3-5-sonnet-20240620",
			MaxTokens: 1000,
			Presets: map[string]Preset{
				"default": {
					Description:  "general intake summary",
					SystemPrompt: defaultSystemPrompt,
					UserTemplate: "Patient {{patient}}, {{date}}.\n\n{{transcripts}}",
				},
			},
		},
		Server:  Server{Addr: "127.0.0.1:8080"},
		Logging: Logging{Level: "info", Format: "text"},
	}
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

// RequestTimeout bounds every gateway call except transcription.
func (c *Config) RequestTimeout() time.Duration {
	return parseDuration(c.Gateway.Timeout, 30*time.Second)
}

// TranscribeTimeout bounds the long-running transcription call.
func (c *Config) TranscribeTimeout() time.Duration {
	return parseDuration(c.Gateway.TranscribeTimeout, 15*time.Minute)
}

// InferenceTimeout bounds a single summarization request.
func (c *Config) InferenceTimeout() time.Duration {
	return parseDuration(c.Gateway.InferenceTimeout, 3*time.Minute)
}

// MetadataTimeout bounds best-effort metadata enrichment (durations, page counts).
func (c *Config) MetadataTimeout() time.Duration {
	return parseDuration(c.Gateway.MetadataTimeout, 5*time.Second)
}

// MaxUploadBytes returns the upload limit, falling back to 100MB if the
// configured value does not parse.
func (c *Config) MaxUploadBytes() int64 {
	size, err := units.FromHumanSize(c.Gateway.MaxUploadSize)
	if err != nil || size <= 0 {
		return 100 * units.MB
	}
	return size
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.Recording.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.Recording.MicSampleRate)
	combined = append(combined, c.Recording.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

// ProviderAPIKey returns the secret for a direct LLM provider.
func (c *Config) ProviderAPIKey(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv(EnvPrefix + "DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(EnvPrefix + "EXPORT_DIR"); v != "" {
		cfg.ExportDir = v
	}
	if v := os.Getenv(EnvPrefix + "LOCALE"); v != "" {
		cfg.Locale = v
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_URL"); v != "" {
		cfg.Gateway.BaseURL = v
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_BRANCH"); v != "" {
		cfg.Gateway.Branch = v
	}
	if v := os.Getenv(EnvPrefix + "GATEWAY_TIMEOUT"); v != "" {
		cfg.Gateway.Timeout = v
	}
	if v := os.Getenv(EnvPrefix + "MAX_UPLOAD_SIZE"); v != "" {
		cfg.Gateway.MaxUploadSize = v
	}
	if v := os.Getenv(EnvPrefix + "REGISTRY_URL"); v != "" {
		cfg.Registry.URL = v
	}
	if v := os.Getenv(EnvPrefix + "REGISTRY_PATH"); v != "" {
		cfg.Registry.Path = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_DIR"); v != "" {
		cfg.Recording.Dir = v
	}
	if v := os.Getenv(EnvPrefix + "RECORDING_FORMAT"); v != "" {
		cfg.Recording.Format = v
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATE"); v != "" {
		if rate, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && rate > 0 {
			cfg.Recording.MicSampleRate = rate
		}
	}
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.Recording.MicSampleRates = parseSampleRates(v)
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_BACKEND"); v != "" {
		cfg.Summarization.Backend = v
	}
	if v := os.Getenv(EnvPrefix + "SUMMARY_MODEL"); v != "" {
		cfg.Summarization.Model = v
	}
	if v := os.Getenv(EnvPrefix + "SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv(EnvPrefix + "LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv(EnvPrefix + "GDRIVE_FOLDER_ID"); v != "" {
		cfg.GDriveFolderID = v
	}
	if v := os.Getenv(EnvPrefix + "GOOGLE_CREDENTIALS_FILE"); v != "" {
		cfg.GoogleCredentialsFile = v
	}
}

func loadSecrets(cfg *Config) {
	cfg.GatewayAPIKey = os.Getenv(EnvPrefix + "GATEWAY_API_KEY")
	cfg.DeepgramAPIKey = os.Getenv(EnvPrefix + "DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv(EnvPrefix + "OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv(EnvPrefix + "ANTHROPIC_API_KEY")
	cfg.GeminiAPIKey = os.Getenv(EnvPrefix + "GEMINI_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if strings.TrimSpace(cfg.Gateway.BaseURL) == "" {
		warnings = append(warnings, "Gateway URL not configured. Set gateway.base_url or "+EnvPrefix+"GATEWAY_URL.")
	}
	if cfg.GatewayAPIKey == "" {
		warnings = append(warnings, "Gateway API key not configured. Remote calls will be rejected. Set "+EnvPrefix+"GATEWAY_API_KEY.")
	}
	if cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured. Live captions are disabled. Set "+EnvPrefix+"DEEPGRAM_API_KEY.")
	}
	if _, err := time.ParseDuration(cfg.Gateway.Timeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid gateway.timeout %q, using default 30s.", cfg.Gateway.Timeout))
	}
	if _, err := time.ParseDuration(cfg.Gateway.TranscribeTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid gateway.transcribe_timeout %q, using default 15m.", cfg.Gateway.TranscribeTimeout))
	}
	if _, err := time.ParseDuration(cfg.Gateway.InferenceTimeout); err != nil {
		warnings = append(warnings, fmt.Sprintf("Invalid gateway.inference_timeout %q, using default 3m.", cfg.Gateway.InferenceTimeout))
	}
	if size, err := units.FromHumanSize(cfg.Gateway.MaxUploadSize); err != nil || size <= 0 {
		warnings = append(warnings, fmt.Sprintf("Invalid gateway.max_upload_size %q, using default 100MB.", cfg.Gateway.MaxUploadSize))
	}
	switch cfg.Recording.Format {
	case "mp4", "mp3":
	default:
		warnings = append(warnings, fmt.Sprintf("Unsupported recording.format %q. Recording will be unavailable.", cfg.Recording.Format))
	}
	switch cfg.Locale {
	case "he", "en":
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown locale %q, status messages fall back to English.", cfg.Locale))
	}

	switch cfg.Summarization.Backend {
	case BackendGateway:
	case BackendDirect:
		provider, _, ok := strings.Cut(cfg.Summarization.Model, "/")
		if !ok {
			warnings = append(warnings, fmt.Sprintf("Invalid summarization.model %q, expected provider/model.", cfg.Summarization.Model))
		} else if cfg.ProviderAPIKey(provider) == "" {
			warnings = append(warnings, fmt.Sprintf("No API key for provider %q. Summaries are disabled.", provider))
		}
	default:
		warnings = append(warnings, fmt.Sprintf("Unknown summarization.backend %q, using %s.", cfg.Summarization.Backend, BackendGateway))
		cfg.Summarization.Backend = BackendGateway
	}
	if len(cfg.Summarization.Presets) == 0 {
		warnings = append(warnings, "No summarization presets configured, using the built-in default.")
		cfg.Summarization.Presets = defaults().Summarization.Presets
	}

	return warnings
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
