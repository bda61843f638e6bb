package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/condr-at/globoox-preview/internal/navigation"
	"github.com/condr-at/globoox-preview/internal/remote"
	"github.com/condr-at/globoox-preview/internal/translation"
)

// Duration is a time.Duration written as a string ("1.5s") in JSON and YAML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

type ServerConfig struct {
	Port         int      `json:"port" yaml:"port"`
	ReadTimeout  Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `json:"write_timeout" yaml:"write_timeout"`
}

// BackendConfig points the reader at a remote book service. An empty URL
// means the built-in library serves books in-process.
type BackendConfig struct {
	URL     string   `json:"url" yaml:"url"`
	Token   string   `json:"token" yaml:"token"`
	Timeout Duration `json:"timeout" yaml:"timeout"`
}

type OpenAIConfig struct {
	APIKey      string   `json:"api_key" yaml:"api_key"`
	BaseURL     string   `json:"base_url" yaml:"base_url"`
	Model       string   `json:"model" yaml:"model"`
	MaxTokens   int      `json:"max_tokens" yaml:"max_tokens"`
	Temperature float32  `json:"temperature" yaml:"temperature"`
	Timeout     Duration `json:"timeout" yaml:"timeout"`
}

type TranslationConfig struct {
	BatchSize      int      `json:"batch_size" yaml:"batch_size"`
	MaxRetries     int      `json:"max_retries" yaml:"max_retries"`
	RetryDelay     Duration `json:"retry_delay" yaml:"retry_delay"`
	HighDebounce   Duration `json:"high_debounce" yaml:"high_debounce"`
	LowDebounce    Duration `json:"low_debounce" yaml:"low_debounce"`
	PrefetchPages  int      `json:"prefetch_pages" yaml:"prefetch_pages"`
	SupportedLangs []string `json:"supported_languages" yaml:"supported_languages"`
}

type ReaderConfig struct {
	PageHeight float64 `json:"page_height" yaml:"page_height"`
	FontSize   int     `json:"font_size" yaml:"font_size"`
}

type PositionConfig struct {
	ThrottleInterval Duration `json:"throttle_interval" yaml:"throttle_interval"`
}

type AppConfig struct {
	LibraryDir   string `json:"library_dir" yaml:"library_dir"`
	DataDir      string `json:"data_dir" yaml:"data_dir"`
	DatabasePath string `json:"database_path" yaml:"database_path"`
	// StateFile keeps reader state in a JSON or YAML file instead of the
	// database, so it can be edited by hand.
	StateFile string `json:"state_file,omitempty" yaml:"state_file,omitempty"`
}

type Config struct {
	Server      ServerConfig      `json:"server" yaml:"server"`
	Backend     BackendConfig     `json:"backend" yaml:"backend"`
	OpenAI      OpenAIConfig      `json:"openai" yaml:"openai"`
	Translation TranslationConfig `json:"translation" yaml:"translation"`
	Reader      ReaderConfig      `json:"reader" yaml:"reader"`
	Position    PositionConfig    `json:"position" yaml:"position"`
	App         AppConfig         `json:"app" yaml:"app"`
}

func New() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         8080,
			ReadTimeout:  Duration{30 * time.Second},
			WriteTimeout: Duration{5 * time.Minute},
		},
		Backend: BackendConfig{
			Timeout: Duration{30 * time.Second},
		},
		OpenAI: OpenAIConfig{
			Model:       "gpt-4o",
			MaxTokens:   2048,
			Temperature: 0.4,
			Timeout:     Duration{60 * time.Second},
		},
		Translation: TranslationConfig{
			BatchSize:     translation.DefaultMaxBatchSize,
			MaxRetries:    3,
			RetryDelay:    Duration{2 * time.Second},
			HighDebounce:  Duration{0},
			LowDebounce:   Duration{400 * time.Millisecond},
			PrefetchPages: 2,
			SupportedLangs: []string{
				"en", "es", "fr", "de", "it", "pt", "ru", "ja", "ko", "zh",
				"ar", "fa", "he", "hi", "tr", "pl", "nl", "sv", "da", "no",
			},
		},
		Reader: ReaderConfig{
			PageHeight: 720,
			FontSize:   18,
		},
		Position: PositionConfig{
			ThrottleInterval: Duration{time.Second},
		},
		App: AppConfig{
			LibraryDir: "library",
			DataDir:    "data",
		},
	}
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func (c *Config) LoadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if isYAML(path) {
		return yaml.Unmarshal(data, c)
	}
	return json.Unmarshal(data, c)
}

func (c *Config) SaveToFile(path string) error {
	var data []byte
	var err error
	if isYAML(path) {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (c *Config) LoadFromEnv() {
	if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" {
		c.OpenAI.APIKey = apiKey
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.OpenAI.Model = model
	}
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		c.OpenAI.BaseURL = baseURL
	}
	if url := os.Getenv("GLOBOOX_BACKEND_URL"); url != "" {
		c.Backend.URL = url
	}
	if token := os.Getenv("GLOBOOX_TOKEN"); token != "" {
		c.Backend.Token = token
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil && p > 0 {
			c.Server.Port = p
		}
	}
	if dir := os.Getenv("LIBRARY_DIR"); dir != "" {
		c.App.LibraryDir = dir
	}
	if dir := os.Getenv("DATA_DIR"); dir != "" {
		c.App.DataDir = dir
	}
}

// Validate rejects settings the reader cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Translation.BatchSize <= 0 {
		return fmt.Errorf("translation batch size must be positive, got %d", c.Translation.BatchSize)
	}
	if c.Translation.PrefetchPages < 0 {
		return fmt.Errorf("prefetch pages must not be negative, got %d", c.Translation.PrefetchPages)
	}
	if c.Reader.PageHeight <= 0 {
		return fmt.Errorf("page height must be positive, got %v", c.Reader.PageHeight)
	}
	if c.Backend.URL != "" && !strings.HasPrefix(c.Backend.URL, "http://") && !strings.HasPrefix(c.Backend.URL, "https://") {
		return fmt.Errorf("backend url %q must be http or https", c.Backend.URL)
	}
	return nil
}

// DatabasePath is where the SQLite database lives, under DataDir unless set
// explicitly.
func (c *Config) DatabasePath() string {
	if c.App.DatabasePath != "" {
		return c.App.DatabasePath
	}
	return filepath.Join(c.App.DataDir, "globoox.db")
}

func (c *Config) Scheduler() translation.Config {
	return translation.Config{
		MaxBatchSize: c.Translation.BatchSize,
		HighDebounce: c.Translation.HighDebounce.Duration,
		LowDebounce:  c.Translation.LowDebounce.Duration,
		Direction:    translation.DirectionDown,
	}
}

func (c *Config) Navigation() navigation.Config {
	return navigation.Config{
		PageHeight:    c.Reader.PageHeight,
		FontSize:      c.Reader.FontSize,
		PrefetchPages: c.Translation.PrefetchPages,
		Scheduler:     c.Scheduler(),
	}
}

func (c *Config) Translator() translation.OpenAIConfig {
	return translation.OpenAIConfig{
		APIKey:      c.OpenAI.APIKey,
		BaseURL:     c.OpenAI.BaseURL,
		Model:       c.OpenAI.Model,
		MaxTokens:   c.OpenAI.MaxTokens,
		Temperature: c.OpenAI.Temperature,
		MaxRetries:  c.Translation.MaxRetries,
		RetryDelay:  c.Translation.RetryDelay.Duration,
		Timeout:     c.OpenAI.Timeout.Duration,
	}
}

func (c *Config) Remote() remote.Options {
	return remote.Options{
		BaseURL: c.Backend.URL,
		Token:   c.Backend.Token,
		Timeout: c.Backend.Timeout.Duration,
	}
}

// Load loads configuration with the following priority:
// 1. Command line flags (handled in main.go)
// 2. Environment variables
// 3. Configuration file (JSON, or YAML by extension)
// 4. Default values
//
// A missing file is created from the example next to it, or from defaults.
func Load(configPath string) (*Config, error) {
	cfg := New()

	if err := ensureConfigFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to ensure config file: %w", err)
	}
	if err := cfg.LoadFromFile(configPath); err != nil {
		return nil, fmt.Errorf("failed to load config from file: %w", err)
	}

	cfg.LoadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// ensureConfigFile creates configPath from config.example.<ext> when it does
// not exist yet.
func ensureConfigFile(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return nil
	}

	exampleName := "config.example" + filepath.Ext(configPath)
	examplePath := filepath.Join(filepath.Dir(configPath), exampleName)

	// Fall back to the example shipped next to the executable.
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		if execPath, execErr := os.Executable(); execErr == nil {
			examplePath = filepath.Join(filepath.Dir(execPath), exampleName)
		}
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return err
	}
	if _, err := os.Stat(examplePath); os.IsNotExist(err) {
		return New().SaveToFile(configPath)
	}
	return copyFile(examplePath, configPath)
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = sourceFile.Close() }()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = destFile.Close() }()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return err
	}
	return destFile.Sync()
}

// GetConfigPath returns config.json next to the executable, falling back to
// the working directory.
func GetConfigPath() string {
	if execPath, err := os.Executable(); err == nil {
		return filepath.Join(filepath.Dir(execPath), "config.json")
	}
	if pwd, err := os.Getwd(); err == nil {
		return filepath.Join(pwd, "config.json")
	}
	return "config.json"
}
