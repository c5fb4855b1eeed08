package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"mime"
	"net/http"
	"slices"
	"strings"

	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// Playground is a client for the playground inference backend. The backend
// exposes an OpenAI-style chat completion endpoint extended with response
// caching and retrieval augmentation, and may silently downgrade a streaming
// request to a single JSON document when the answer is cache-served.
type Playground struct {
	baseURL      string
	token        string
	systemPrompt string

	client *http.Client

	logger *slog.Logger
}

type playgroundChatRequest struct {
	Model          string              `json:"model"`
	Messages       []playgroundMessage `json:"messages"`
	MaxTokens      int                 `json:"max_tokens"`
	Temperature    float64             `json:"temperature"`
	Stream         bool                `json:"stream"`
	CacheThreshold float64             `json:"cache_threshold"`
	IsCached       bool                `json:"is_cached"`
	UseRAG         bool                `json:"use_rag"`
}

type playgroundMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// playgroundStreamChunk covers both frame shapes the backend emits on the
// event stream: delta-content frames and related-questions frames.
type playgroundStreamChunk struct {
	Choices          []playgroundStreamChoice `json:"choices"`
	RelatedQuestions []string                 `json:"related_questions"`
}

type playgroundStreamChoice struct {
	Delta playgroundMessage `json:"delta"`
}

type playgroundResponse struct {
	Choices          []playgroundChoice `json:"choices"`
	Cached           bool               `json:"cached"`
	CacheHit         bool               `json:"cache_hit"`
	CacheType        string             `json:"cache_type"`
	RelatedQuestions []string           `json:"related_questions"`
}

type playgroundChoice struct {
	Message playgroundMessage `json:"message"`
}

type playgroundModelList struct {
	Data []models.ModelInfo `json:"data"`
}

type playgroundError struct {
	Error string `json:"error"`
}

// noResponseFallback is substituted when a non-streaming response carries no
// choices at all.
const noResponseFallback = "No response received."

// NewPlayground creates a new Playground instance with the specified base URL,
// bearer token, and system prompt.
func NewPlayground(baseURL, token, systemPrompt string, logger *slog.Logger) Playground {
	return Playground{
		baseURL:      strings.TrimSuffix(baseURL, "/"),
		token:        token,
		systemPrompt: systemPrompt,
		client:       &http.Client{},
		logger:       logger.With(slog.String("module", "playground")),
	}
}

// Chat streams a response from the playground backend for a given sequence of
// messages. It returns an iterator that yields stream events and potential
// errors: content deltas in arrival order, then, once the content is complete,
// any cache-hit and related-questions signals. The context can be used to
// cancel the in-flight request; cancellation ends the iteration without
// yielding an error.
func (p Playground) Chat(
	ctx context.Context,
	messages []models.Message,
	cfg models.ModelConfig,
) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		resp, err := p.doRequest(ctx, messages, cfg)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.StreamEvent{}, fmt.Errorf("error sending request: %w", err))
			return
		}
		defer resp.Body.Close()

		// The backend answers a stream=true request with a plain JSON
		// document when the answer was cache-served. Branch purely on the
		// response content type, never on content inspection.
		if cfg.Stream && isEventStream(resp) {
			p.streamEvents(resp.Body, yield)
			return
		}
		p.documentEvents(resp.Body, yield)
	}
}

// Models lists the selectable models reported by the backend's registry
// endpoint.
func (p Playground) Models(ctx context.Context) ([]models.ModelInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/v1/models", nil)
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		return nil, apiError(resp, body)
	}

	var list playgroundModelList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("error decoding response: %w", err)
	}
	return list.Data, nil
}

func (p Playground) doRequest(
	ctx context.Context,
	messages []models.Message,
	cfg models.ModelConfig,
) (*http.Response, error) {
	msgs := make([]playgroundMessage, 0, len(messages)+1)
	for _, msg := range messages {
		if msg.Role == models.RoleSystem {
			continue
		}
		msgs = append(msgs, playgroundMessage{
			Role:    string(msg.Role),
			Content: msg.Content,
		})
	}
	msgs = slices.Insert(msgs, 0, playgroundMessage{
		Role:    string(models.RoleSystem),
		Content: p.systemPrompt,
	})

	reqBody := playgroundChatRequest{
		Model:          cfg.Model,
		Messages:       msgs,
		MaxTokens:      cfg.MaxTokens,
		Temperature:    cfg.Temperature,
		Stream:         cfg.Stream,
		CacheThreshold: cfg.CacheThreshold,
		IsCached:       cfg.IsCached,
		UseRAG:         cfg.UseRAG,
	}

	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	p.logger.Debug("Request Body", slog.String("body", string(jsonBody)))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, apiError(resp, body)
	}

	return resp, nil
}

// streamEvents decodes an event-stream response frame by frame. The go-sse
// reader carries partial lines and split multi-byte sequences across reads, so
// frames arrive whole and in order regardless of chunk boundaries.
func (p Playground) streamEvents(body io.Reader, yield func(models.StreamEvent, error) bool) {
	var questions []string

	for ev, err := range sse.Read(body, nil) {
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield(models.StreamEvent{}, fmt.Errorf("error reading response: %w", err))
			return
		}

		p.logger.Debug("Received event", slog.String("event", ev.Data))

		if ev.Data == "[DONE]" {
			break
		}

		var chunk playgroundStreamChunk
		if err := json.Unmarshal([]byte(ev.Data), &chunk); err != nil {
			// A single bad frame must not fail the stream.
			p.logger.Warn("Discarding malformed frame",
				slog.String("frame", ev.Data),
				slog.String("error", err.Error()),
			)
			continue
		}

		if chunk.RelatedQuestions != nil {
			questions = chunk.RelatedQuestions
			continue
		}

		if len(chunk.Choices) == 0 {
			continue
		}
		if delta := chunk.Choices[0].Delta.Content; delta != "" {
			if !yield(models.StreamEvent{
				Type:  models.EventTypeDelta,
				Delta: delta,
			}, nil) {
				return
			}
		}
	}

	if len(questions) > 0 {
		yield(models.StreamEvent{
			Type:      models.EventTypeRelatedQuestions,
			Questions: questions,
		}, nil)
	}
}

// documentEvents decodes a whole-body JSON response, as produced for
// stream=false requests and for cache-served answers to streaming requests.
// The full content arrives as a single delta so the caller applies it in one
// step.
func (p Playground) documentEvents(body io.Reader, yield func(models.StreamEvent, error) bool) {
	var res playgroundResponse
	if err := json.NewDecoder(body).Decode(&res); err != nil {
		yield(models.StreamEvent{}, fmt.Errorf("error decoding response: %w", err))
		return
	}

	content := noResponseFallback
	if len(res.Choices) > 0 {
		content = res.Choices[0].Message.Content
	}

	if !yield(models.StreamEvent{
		Type:  models.EventTypeDelta,
		Delta: content,
	}, nil) {
		return
	}

	if res.Cached || res.CacheHit {
		if !yield(models.StreamEvent{
			Type:      models.EventTypeCacheHit,
			CacheType: res.CacheType,
		}, nil) {
			return
		}
	}

	if len(res.RelatedQuestions) > 0 {
		yield(models.StreamEvent{
			Type:      models.EventTypeRelatedQuestions,
			Questions: res.RelatedQuestions,
		}, nil)
	}
}

func isEventStream(resp *http.Response) bool {
	mediaType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "text/event-stream"
}

// apiError derives an error from a non-2xx response, preferring the
// server-supplied message over the bare status line.
func apiError(resp *http.Response, body []byte) error {
	var apiErr playgroundError
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("request failed: %s", apiErr.Error)
	}
	return fmt.Errorf("request failed: %s", resp.Status)
}
