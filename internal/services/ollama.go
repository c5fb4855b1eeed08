package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"

	"github.com/ollama/ollama/api"
	"github.com/stonegrind/rag-web-ui/internal/models"
)

// Ollama provides an implementation of the LLM interface backed by a local
// Ollama server. It is useful for running the playground fully offline.
type Ollama struct {
	host         string
	systemPrompt string

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL and
// system prompt. If the provided host URL is invalid, the function will panic.
func NewOllama(host, systemPrompt string) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}
}

// Chat implements the LLM interface by streaming responses from the Ollama
// model. The response is streamed incrementally as delta events; Ollama never
// reports cache hits or related questions.
func (o Ollama) Chat(
	ctx context.Context,
	messages []models.Message,
	cfg models.ModelConfig,
) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		msgs := make([]api.Message, 0, len(messages)+1)
		for _, msg := range messages {
			if msg.Role == models.RoleSystem {
				continue
			}
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    string(models.RoleSystem),
			Content: o.systemPrompt,
		})

		req := api.ChatRequest{
			Model:    cfg.Model,
			Messages: msgs,
			Stream:   &cfg.Stream,
			Options: map[string]any{
				"temperature": cfg.Temperature,
				"num_predict": cfg.MaxTokens,
			},
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if res.Message.Content == "" {
				return nil
			}
			if !yield(models.StreamEvent{
				Type:  models.EventTypeDelta,
				Delta: res.Message.Content,
			}, nil) {
				cancel()
			}
			return nil
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.StreamEvent{}, fmt.Errorf("error sending request: %w", err))
		}
	}
}

// Models lists the models installed on the Ollama server.
func (o Ollama) Models(ctx context.Context) ([]models.ModelInfo, error) {
	list, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	infos := make([]models.ModelInfo, len(list.Models))
	for i, m := range list.Models {
		infos[i] = models.ModelInfo{ID: m.Name}
	}
	return infos, nil
}
