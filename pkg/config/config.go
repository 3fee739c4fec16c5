package config

import (
	"cmp"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/paperwave/paperwave/pkg/paths"
)

// KnownProviders is the set of speech adapters the dispatcher can build.
var KnownProviders = []string{"gemini", "google", "edge", "hf", "offline"}

// Config holds every tunable of the service. All fields have working
// defaults so the config file is optional.
type Config struct {
	LibraryDir string `yaml:"library_dir,omitempty"`
	AudioDir   string `yaml:"audio_dir,omitempty"`

	Ingest    Ingest    `yaml:"ingest,omitempty"`
	Embedding Embedding `yaml:"embedding,omitempty"`
	LLM       LLM       `yaml:"llm,omitempty"`
	TTS       TTS       `yaml:"tts,omitempty"`
	Server    Server    `yaml:"server,omitempty"`
	Insights  Insights  `yaml:"insights,omitempty"`
}

type Ingest struct {
	// MaxFileSize is the upload size cap in bytes.
	MaxFileSize       int64    `yaml:"max_file_size,omitempty"`
	AllowedExtensions []string `yaml:"allowed_extensions,omitempty"`
	ChunkChars        int      `yaml:"chunk_chars,omitempty"`
	ChunkOverlap      int      `yaml:"chunk_overlap,omitempty"`
}

type Embedding struct {
	Provider   string `yaml:"provider,omitempty"`
	Model      string `yaml:"model,omitempty"`
	Dimensions int    `yaml:"dimensions,omitempty"`
}

type LLM struct {
	Provider    string  `yaml:"provider,omitempty"`
	Model       string  `yaml:"model,omitempty"`
	Temperature float64 `yaml:"temperature,omitempty"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// Voice maps the two canonical speaker slots onto provider-specific voice
// identifiers. Accent is only meaningful for providers that localize by
// region rather than by named voice.
type Voice struct {
	Speaker1 string `yaml:"speaker1,omitempty"`
	Speaker2 string `yaml:"speaker2,omitempty"`
	Accent   string `yaml:"accent,omitempty"`
}

type TTS struct {
	// Provider, when set, forces a single adapter and disables fallback.
	Provider         string           `yaml:"provider,omitempty"`
	Order            []string         `yaml:"order,omitempty"`
	Workers          int              `yaml:"workers,omitempty"`
	ProviderTimeoutS int              `yaml:"provider_timeout_s,omitempty"`
	Voices           map[string]Voice `yaml:"voices,omitempty"`
}

type Server struct {
	Addr            string   `yaml:"addr,omitempty"`
	RequestTimeoutS int      `yaml:"request_timeout_s,omitempty"`
	BGWorkers       int      `yaml:"bg_workers,omitempty"`
	CORSOrigins     []string `yaml:"cors_origins,omitempty"`
}

type Insights struct {
	WebSearch bool `yaml:"web_search,omitempty"`
	WebK      int  `yaml:"web_k,omitempty"`
}

// Default returns a fully populated configuration.
func Default() *Config {
	return &Config{
		LibraryDir: paths.GetLibraryDir(),
		AudioDir:   paths.GetAudioDir(),
		Ingest: Ingest{
			MaxFileSize:       50 << 20,
			AllowedExtensions: []string{".pdf"},
			ChunkChars:        800,
			ChunkOverlap:      100,
		},
		Embedding: Embedding{
			Provider:   "gemini",
			Dimensions: 768,
		},
		LLM: LLM{
			Provider:    "gemini",
			Model:       "gemini-2.5-flash",
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		TTS: TTS{
			Order:            []string{"gemini", "google", "edge", "hf", "offline"},
			Workers:          2,
			ProviderTimeoutS: 60,
			Voices: map[string]Voice{
				"gemini": {Speaker1: "Kore", Speaker2: "Puck"},
				"edge":   {Speaker1: "en-US-AriaNeural", Speaker2: "en-US-GuyNeural"},
				"google": {Accent: "com"},
				"hf":     {Speaker1: "nari-labs/Dia-1.6B"},
			},
		},
		Server: Server{
			Addr:            ":8000",
			RequestTimeoutS: 300,
			BGWorkers:       4,
			CORSOrigins:     []string{"*"},
		},
		Insights: Insights{
			WebK: 3,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(paths.GetDataDir(), "config.yaml")
}

// Load reads the YAML config at path, falling back to defaults for every
// field left unset. An empty path means DefaultPath; a missing file is not
// an error. Environment overrides are applied last.
func Load(path string) (*Config, error) {
	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultPath()
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s\n%s", path, yaml.FormatError(err, true, true))
		}
	case os.IsNotExist(err) && !explicit:
		// Optional default file; keep defaults.
	default:
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	applyEnvOverrides(cfg, os.Getenv)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// applyEnvOverrides applies the recognized environment variables on top of
// the file-loaded values. Unparseable numeric values are ignored in favor
// of the configured ones.
func applyEnvOverrides(cfg *Config, getenv func(string) string) {
	if v := getenv("TTS_PROVIDER"); v != "" {
		cfg.TTS.Provider = strings.ToLower(strings.TrimSpace(v))
	}

	setVoice := func(provider string, set func(*Voice, string), value string) {
		if value == "" {
			return
		}
		voice := cfg.TTS.Voices[provider]
		set(&voice, value)
		if cfg.TTS.Voices == nil {
			cfg.TTS.Voices = make(map[string]Voice)
		}
		cfg.TTS.Voices[provider] = voice
	}
	setVoice("gemini", func(v *Voice, s string) { v.Speaker1 = s }, getenv("GEMINI_VOICE_A"))
	setVoice("gemini", func(v *Voice, s string) { v.Speaker2 = s }, getenv("GEMINI_VOICE_B"))
	setVoice("edge", func(v *Voice, s string) { v.Speaker1 = s }, getenv("EDGE_VOICE_A"))
	setVoice("edge", func(v *Voice, s string) { v.Speaker2 = s }, getenv("EDGE_VOICE_B"))

	setInt := func(name string, dst *int) {
		if v := getenv(name); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setInt("EMBEDDING_DIM", &cfg.Embedding.Dimensions)
	setInt("TTS_WORKERS", &cfg.TTS.Workers)
	setInt("BG_WORKERS", &cfg.Server.BGWorkers)
	setInt("REQUEST_TIMEOUT_S", &cfg.Server.RequestTimeoutS)
	setInt("PROVIDER_TIMEOUT_S", &cfg.TTS.ProviderTimeoutS)

	if v := getenv("MAX_FILE_SIZE"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Ingest.MaxFileSize = n
		}
	}
	if v := getenv("ALLOWED_EXTENSIONS"); v != "" {
		var exts []string
		for ext := range strings.SplitSeq(v, ",") {
			ext = strings.TrimSpace(ext)
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			exts = append(exts, strings.ToLower(ext))
		}
		if len(exts) > 0 {
			cfg.Ingest.AllowedExtensions = exts
		}
	}
}

func (c *Config) validate() error {
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	if c.Ingest.ChunkChars <= 0 {
		return fmt.Errorf("chunk_chars must be positive, got %d", c.Ingest.ChunkChars)
	}
	if c.Ingest.ChunkOverlap < 0 || c.Ingest.ChunkOverlap >= c.Ingest.ChunkChars {
		return fmt.Errorf("chunk_overlap must be in [0, chunk_chars), got %d", c.Ingest.ChunkOverlap)
	}
	if c.TTS.Workers <= 0 {
		return fmt.Errorf("tts workers must be positive, got %d", c.TTS.Workers)
	}
	if c.Server.BGWorkers <= 0 {
		return fmt.Errorf("bg_workers must be positive, got %d", c.Server.BGWorkers)
	}
	if c.TTS.Provider != "" && !slices.Contains(KnownProviders, c.TTS.Provider) {
		return fmt.Errorf("unknown tts provider: %s", c.TTS.Provider)
	}
	for _, name := range c.TTS.Order {
		if !slices.Contains(KnownProviders, name) {
			return fmt.Errorf("unknown tts provider in order: %s", name)
		}
	}
	return nil
}

// ProviderOrder returns the effective fallback chain. A forced provider
// collapses the chain to that single adapter.
func (c *Config) ProviderOrder() []string {
	if c.TTS.Provider != "" {
		return []string{c.TTS.Provider}
	}
	order := c.TTS.Order
	if len(order) == 0 {
		order = Default().TTS.Order
	}
	return order
}

// VoiceFor returns the configured voice slots for a provider.
func (c *Config) VoiceFor(provider string) Voice {
	return c.TTS.Voices[provider]
}

// RequestTimeout and ProviderTimeout are expressed in seconds in the file;
// zero falls back to the defaults.
func (c *Config) RequestTimeoutSeconds() int {
	return cmp.Or(c.Server.RequestTimeoutS, 300)
}

func (c *Config) ProviderTimeoutSeconds() int {
	return cmp.Or(c.TTS.ProviderTimeoutS, 60)
}
