package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"slices"

	"github.com/stonegrind/rag-web-ui/internal/models"
	goopenai "github.com/sashabaranov/go-openai"
)

// OpenAI provides an implementation of the LLM interface that talks directly
// to OpenAI's API instead of the playground backend. Caching and retrieval
// augmentation flags are not part of OpenAI's API and are ignored.
type OpenAI struct {
	systemPrompt string

	client *goopenai.Client

	logger *slog.Logger
}

// NewOpenAI creates a new OpenAI instance with the specified API key and
// system prompt.
func NewOpenAI(apiKey, systemPrompt string, logger *slog.Logger) OpenAI {
	return OpenAI{
		systemPrompt: systemPrompt,
		client:       goopenai.NewClient(apiKey),
		logger:       logger.With(slog.String("module", "openai")),
	}
}

func (o OpenAI) chatRequest(messages []models.Message, cfg models.ModelConfig) goopenai.ChatCompletionRequest {
	msgs := make([]goopenai.ChatCompletionMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		msgs = append(msgs, goopenai.ChatCompletionMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	msgs = slices.Insert(msgs, 0, goopenai.ChatCompletionMessage{
		Role:    goopenai.ChatMessageRoleSystem,
		Content: o.systemPrompt,
	})

	return goopenai.ChatCompletionRequest{
		Model:       cfg.Model,
		Messages:    msgs,
		MaxTokens:   cfg.MaxTokens,
		Temperature: float32(cfg.Temperature),
		Stream:      cfg.Stream,
	}
}

// Chat is a wrapper around the OpenAI chat completion API, yielding content
// deltas in arrival order. OpenAI never reports cache hits or related
// questions, so only delta events are produced.
func (o OpenAI) Chat(
	ctx context.Context,
	messages []models.Message,
	cfg models.ModelConfig,
) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		req := o.chatRequest(messages, cfg)

		if !cfg.Stream {
			resp, err := o.client.CreateChatCompletion(ctx, req)
			if err != nil {
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.StreamEvent{}, fmt.Errorf("error sending request: %w", err))
				return
			}
			content := noResponseFallback
			if len(resp.Choices) > 0 {
				content = resp.Choices[0].Message.Content
			}
			yield(models.StreamEvent{
				Type:  models.EventTypeDelta,
				Delta: content,
			}, nil)
			return
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		stream, err := o.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.StreamEvent{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer stream.Close()

		for {
			response, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					return
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				yield(models.StreamEvent{}, fmt.Errorf("error receiving response: %w", err))
				return
			}

			if len(response.Choices) == 0 {
				continue
			}

			if delta := response.Choices[0].Delta.Content; delta != "" {
				if !yield(models.StreamEvent{
					Type:  models.EventTypeDelta,
					Delta: delta,
				}, nil) {
					return
				}
			}
		}
	}
}

// Models lists the models available to the configured API key.
func (o OpenAI) Models(ctx context.Context) ([]models.ModelInfo, error) {
	list, err := o.client.ListModels(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	infos := make([]models.ModelInfo, len(list.Models))
	for i, m := range list.Models {
		infos[i] = models.ModelInfo{
			ID:      m.ID,
			OwnedBy: m.OwnedBy,
		}
	}
	return infos, nil
}
