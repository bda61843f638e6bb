package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFormats(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
	}{
		{
			name: "json",
			file: "config.json",
			body: `{"server":{"port":9090},"translation":{"batch_size":5,"low_debounce":"250ms","prefetch_pages":1},"position":{"throttle_interval":"2s"}}`,
		},
		{
			name: "yaml",
			file: "config.yaml",
			body: "server:\n  port: 9090\ntranslation:\n  batch_size: 5\n  low_debounce: 250ms\n  prefetch_pages: 1\nposition:\n  throttle_interval: 2s\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), tt.file)
			if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if cfg.Server.Port != 9090 || cfg.Translation.BatchSize != 5 {
				t.Errorf("File values not applied: %+v", cfg)
			}
			if cfg.Translation.LowDebounce.Duration != 250*time.Millisecond || cfg.Position.ThrottleInterval.Duration != 2*time.Second {
				t.Errorf("Unexpected durations %v %v", cfg.Translation.LowDebounce, cfg.Position.ThrottleInterval)
			}
			// Unset values keep their defaults.
			if cfg.OpenAI.Model != "gpt-4o" || cfg.Reader.PageHeight != 720 {
				t.Errorf("Expected defaults kept, got %+v", cfg)
			}

			nav := cfg.Navigation()
			if nav.PrefetchPages != 1 || nav.Scheduler.MaxBatchSize != 5 || nav.Scheduler.LowDebounce != 250*time.Millisecond {
				t.Errorf("Unexpected navigation config %+v", nav)
			}
		})
	}
}

func TestLoadCreatesMissingFile(t *testing.T) {
	for _, name := range []string{"config.json", "config.yml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", name)
			if _, err := Load(path); err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			again := &Config{}
			if err := again.LoadFromFile(path); err != nil {
				t.Fatalf("Expected a readable config file, got %v", err)
			}
			if again.Translation.LowDebounce.Duration != 400*time.Millisecond || again.Server.Port != 8080 {
				t.Errorf("Expected defaults written, got %+v", again.Translation)
			}
		})
	}
}

func TestLoadCopiesExample(t *testing.T) {
	dir := t.TempDir()
	example := filepath.Join(dir, "config.example.json")
	if err := os.WriteFile(example, []byte(`{"backend":{"url":"https://books.example.com"}}`), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(filepath.Join(dir, "config.json"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Remote().BaseURL != "https://books.example.com" {
		t.Errorf("Expected example copied, got %q", cfg.Backend.URL)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("GLOBOOX_BACKEND_URL", "http://localhost:3000")
	t.Setenv("GLOBOOX_TOKEN", "secret")
	t.Setenv("PORT", "7070")
	t.Setenv("DATA_DIR", "/var/lib/globoox")

	cfg := New()
	cfg.LoadFromEnv()

	if cfg.Translator().APIKey != "sk-test" || cfg.Server.Port != 7070 {
		t.Errorf("Env not applied: %+v", cfg)
	}
	if opts := cfg.Remote(); opts.BaseURL != "http://localhost:3000" || opts.Token != "secret" {
		t.Errorf("Unexpected remote options %+v", opts)
	}
	if cfg.DatabasePath() != filepath.Join("/var/lib/globoox", "globoox.db") {
		t.Errorf("Unexpected database path %q", cfg.DatabasePath())
	}

	t.Setenv("PORT", "eighty")
	cfg.LoadFromEnv()
	if cfg.Server.Port != 7070 {
		t.Errorf("Expected invalid PORT ignored, got %d", cfg.Server.Port)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port", func(c *Config) { c.Server.Port = 0 }},
		{"batch size", func(c *Config) { c.Translation.BatchSize = 0 }},
		{"prefetch", func(c *Config) { c.Translation.PrefetchPages = -1 }},
		{"page height", func(c *Config) { c.Reader.PageHeight = 0 }},
		{"backend scheme", func(c *Config) { c.Backend.URL = "ftp://books" }},
	}

	if err := New().Validate(); err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := New()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}
