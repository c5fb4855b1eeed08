package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/stonegrind/rag-web-ui/internal/handlers"
	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/stonegrind/rag-web-ui/internal/services"
	"gopkg.in/yaml.v3"
)

// defaultSystemPrompt is the preamble injected as the first message of every
// outbound request.
const defaultSystemPrompt = "You are a helpful AI assistant."

type backendConfig interface {
	llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error)
	registry(systemPrompt string, logger *slog.Logger) (handlers.ModelRegistry, error)
}

// BaseBackendConfig contains the common fields for all backend configurations.
type BaseBackendConfig struct {
	Provider string `yaml:"provider"`
}

type config struct {
	Port           string             `yaml:"port"`
	LogLevel       string             `yaml:"logLevel"`
	SystemPrompt   string             `yaml:"systemPrompt"`
	RequestTimeout time.Duration      `yaml:"requestTimeout"`
	Model          models.ModelConfig `yaml:"model"`
	UI             uiConfig           `yaml:"ui"`
	Backend        backendConfig      `yaml:"backend"`
}

type uiConfig struct {
	Title        string   `yaml:"title"`
	Theme        string   `yaml:"theme"`
	QuickButtons []string `yaml:"quickButtons"`
}

type playgroundConfig struct {
	BaseBackendConfig `yaml:",inline"`
	BaseURL           string `yaml:"baseURL"`
	Token             string `yaml:"token"`
}

type openAIConfig struct {
	BaseBackendConfig `yaml:",inline"`
	APIKey            string `yaml:"apiKey"`
}

type ollamaConfig struct {
	BaseBackendConfig `yaml:",inline"`
	Host              string `yaml:"host"`
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port           string             `yaml:"port"`
		LogLevel       string             `yaml:"logLevel"`
		SystemPrompt   string             `yaml:"systemPrompt"`
		RequestTimeout string             `yaml:"requestTimeout"`
		Model          models.ModelConfig `yaml:"model"`
		UI             uiConfig           `yaml:"ui"`
		Backend        map[string]any     `yaml:"backend"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	c.Port = rawConfig.Port
	c.LogLevel = rawConfig.LogLevel
	c.SystemPrompt = rawConfig.SystemPrompt
	c.Model = rawConfig.Model
	c.UI = rawConfig.UI

	if rawConfig.RequestTimeout != "" {
		d, err := time.ParseDuration(rawConfig.RequestTimeout)
		if err != nil {
			return fmt.Errorf("invalid requestTimeout: %w", err)
		}
		c.RequestTimeout = d
	}

	if c.SystemPrompt == "" {
		c.SystemPrompt = defaultSystemPrompt
	}

	provider, ok := rawConfig.Backend["provider"].(string)
	if !ok {
		return fmt.Errorf("backend provider is required")
	}

	backendRawYAML, err := yaml.Marshal(rawConfig.Backend)
	if err != nil {
		return err
	}

	var backend backendConfig
	switch provider {
	case "playground":
		backend = &playgroundConfig{}
	case "openai":
		backend = &openAIConfig{}
	case "ollama":
		backend = &ollamaConfig{}
	default:
		return fmt.Errorf("unknown backend provider: %s", provider)
	}

	if err := yaml.Unmarshal(backendRawYAML, backend); err != nil {
		return err
	}

	c.Backend = backend

	return nil
}

func (p playgroundConfig) newPlayground(systemPrompt string, logger *slog.Logger) (services.Playground, error) {
	if p.BaseURL == "" {
		return services.Playground{}, fmt.Errorf("baseURL is required")
	}

	token := p.Token
	if token == "" {
		token = os.Getenv("PLAYGROUND_API_TOKEN")
	}
	return services.NewPlayground(p.BaseURL, token, systemPrompt, logger), nil
}

func (p playgroundConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return p.newPlayground(systemPrompt, logger)
}

func (p playgroundConfig) registry(systemPrompt string, logger *slog.Logger) (handlers.ModelRegistry, error) {
	return p.newPlayground(systemPrompt, logger)
}

func (o openAIConfig) newOpenAI(systemPrompt string, logger *slog.Logger) (services.OpenAI, error) {
	apiKey := o.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return services.OpenAI{}, fmt.Errorf("apiKey is required")
	}
	return services.NewOpenAI(apiKey, systemPrompt, logger), nil
}

func (o openAIConfig) llm(systemPrompt string, logger *slog.Logger) (handlers.LLM, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (o openAIConfig) registry(systemPrompt string, logger *slog.Logger) (handlers.ModelRegistry, error) {
	return o.newOpenAI(systemPrompt, logger)
}

func (o ollamaConfig) newOllama(systemPrompt string) (services.Ollama, error) {
	host := o.Host
	if host == "" {
		host = os.Getenv("OLLAMA_HOST")
	}
	if host == "" {
		host = "http://localhost:11434"
	}
	return services.NewOllama(host, systemPrompt), nil
}

func (o ollamaConfig) llm(systemPrompt string, _ *slog.Logger) (handlers.LLM, error) {
	return o.newOllama(systemPrompt)
}

func (o ollamaConfig) registry(systemPrompt string, _ *slog.Logger) (handlers.ModelRegistry, error) {
	return o.newOllama(systemPrompt)
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
