package main

import (
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestConfigUnmarshalYAML(t *testing.T) {
	raw := `
port: "8080"
logLevel: debug
requestTimeout: 2m
model:
  model: small
  maxTokens: 512
  temperature: 0.5
  stream: true
  useRAG: true
ui:
  title: Playground
  theme: dark
  quickButtons:
    - "What can you do?"
backend:
  provider: playground
  baseURL: http://localhost:8000
  token: secret
`

	var cfg config
	if err := yaml.Unmarshal([]byte(raw), &cfg); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want %q", cfg.Port, "8080")
	}
	if cfg.RequestTimeout != 2*time.Minute {
		t.Errorf("RequestTimeout = %v, want %v", cfg.RequestTimeout, 2*time.Minute)
	}
	if cfg.SystemPrompt != defaultSystemPrompt {
		t.Errorf("SystemPrompt = %q, want the default applied", cfg.SystemPrompt)
	}
	if cfg.Model.Model != "small" || cfg.Model.MaxTokens != 512 || !cfg.Model.Stream || !cfg.Model.UseRAG {
		t.Errorf("Model = %+v, want the configured parameters", cfg.Model)
	}
	if cfg.UI.Theme != "dark" || len(cfg.UI.QuickButtons) != 1 {
		t.Errorf("UI = %+v, want the configured presentation settings", cfg.UI)
	}

	pg, ok := cfg.Backend.(*playgroundConfig)
	if !ok {
		t.Fatalf("Backend = %T, want *playgroundConfig", cfg.Backend)
	}
	if pg.BaseURL != "http://localhost:8000" || pg.Token != "secret" {
		t.Errorf("Backend = %+v, want the playground settings", pg)
	}
}

func TestConfigUnmarshalYAMLProviders(t *testing.T) {
	tests := []struct {
		name     string
		backend  string
		wantType any
		wantErr  bool
	}{
		{name: "OpenAI", backend: "provider: openai\n  apiKey: key", wantType: &openAIConfig{}},
		{name: "Ollama", backend: "provider: ollama\n  host: http://localhost:11434", wantType: &ollamaConfig{}},
		{name: "Unknown provider", backend: "provider: carrier-pigeon", wantErr: true},
		{name: "Missing provider", backend: "baseURL: http://localhost", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := "port: \"8080\"\nbackend:\n  " + tt.backend + "\n"

			var cfg config
			err := yaml.Unmarshal([]byte(raw), &cfg)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Unmarshal() error = nil, want failure")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unmarshal() error = %v", err)
			}
			if got, want := typeName(cfg.Backend), typeName(tt.wantType); got != want {
				t.Errorf("Backend type = %s, want %s", got, want)
			}
		})
	}
}

func typeName(v any) string {
	switch v.(type) {
	case *playgroundConfig:
		return "playground"
	case *openAIConfig:
		return "openai"
	case *ollamaConfig:
		return "ollama"
	default:
		return "unknown"
	}
}
