package handlers

import (
	"context"
	"fmt"
	"html/template"
	"iter"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	ragwebui "github.com/stonegrind/rag-web-ui"
	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// LLM represents a chat backend. It accepts a context, a conversation
// transcript, and a model configuration, returning an iterator that yields
// stream events and potential errors. Cancelling the context ends the
// iteration without an error.
type LLM interface {
	Chat(ctx context.Context, messages []models.Message, cfg models.ModelConfig) iter.Seq2[models.StreamEvent, error]
}

// ModelRegistry lists the models a backend offers for selection.
type ModelRegistry interface {
	Models(ctx context.Context) ([]models.ModelInfo, error)
}

// Store defines the interface for managing chat and message persistence. It
// provides methods for creating, reading, updating, and truncating chats and
// their associated messages.
type Store interface {
	Chats(ctx context.Context) ([]models.Chat, error)
	AddChat(ctx context.Context, chat models.Chat) (string, error)
	UpdateChat(ctx context.Context, chat models.Chat) error

	Messages(ctx context.Context, chatID string) ([]models.Message, error)
	AddMessage(ctx context.Context, chatID string, message models.Message) (string, error)
	UpdateMessage(ctx context.Context, chatID string, message models.Message) error
	DeleteMessage(ctx context.Context, chatID string, messageID string) error
	TruncateMessages(ctx context.Context, chatID string, fromID string) error
}

// Notifier reports request outcomes to the user. Exactly one notice is emitted
// per request lifecycle.
type Notifier interface {
	Notify(level NoticeLevel, text string)
}

// NoticeLevel classifies a user notice.
type NoticeLevel string

// Notice levels. Informational notices are not errors; a stopped request is
// reported as NoticeInfo.
const (
	NoticeInfo  NoticeLevel = "info"
	NoticeError NoticeLevel = "error"
)

// UIConfig carries presentation settings injected into the rendering layer.
// The streaming core never reads these.
type UIConfig struct {
	Title        string
	Theme        string
	QuickButtons []string
}

// Config bundles the request-shaping and presentation settings for Main.
type Config struct {
	Model models.ModelConfig
	UI    UIConfig

	// RequestTimeout bounds one whole request lifecycle. Zero means the
	// default of five minutes.
	RequestTimeout time.Duration
}

const defaultRequestTimeout = 5 * time.Minute

// Main handles the core functionality of the playground, managing server-sent
// events, HTML templates, and interactions between the chat backend and the
// Store. All mutation of the message list happens through Main.
type Main struct {
	sseSrv    *sse.Server
	templates *template.Template

	llm      LLM
	registry ModelRegistry
	store    Store
	notifier Notifier

	modelCfg       models.ModelConfig
	ui             UIConfig
	requestTimeout time.Duration

	inflight *inflightRegistry

	logger *slog.Logger
}

// SSE topics and event types for real-time updates.
const (
	chatsSSETopic   = "chats"
	noticesSSETopic = "notices"
)

var (
	chatsSSEType    = sse.Type("chats")
	messagesSSEType = sse.Type("messages")
	noticesSSEType  = sse.Type("notices")
)

const errLoggerKey = "err"

// NewMain creates a new Main instance with the provided backend, registry,
// store, and notifier implementations. It initializes the SSE server and
// parses the HTML templates from the embedded filesystem. A nil notifier
// falls back to publishing notices over the SSE server.
func NewMain(
	llm LLM,
	registry ModelRegistry,
	store Store,
	notifier Notifier,
	cfg Config,
	logger *slog.Logger,
) (Main, error) {
	// We parse templates from three distinct directories to separate layout, pages, and partial views
	tmpl, err := template.ParseFS(
		ragwebui.TemplateFS,
		"templates/layout/*.html",
		"templates/pages/*.html",
		"templates/partials/*.html",
	)
	if err != nil {
		return Main{}, err
	}

	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	sseSrv := &sse.Server{
		OnSession: func(s *sse.Session) (sse.Subscription, bool) {
			// We start with default topics that all clients should subscribe to
			topics := []string{sse.DefaultTopic, chatsSSETopic, noticesSSETopic}

			// We create a message-specific topic if the client requests updates for a particular message
			messageID := s.Req.URL.Query().Get("message_id")
			if messageID != "" {
				topics = append(topics, messageIDTopic(messageID))
			}

			return sse.Subscription{
				Client:      s,
				LastEventID: s.LastEventID,
				Topics:      topics,
			}, true
		},
	}

	if notifier == nil {
		notifier = sseNotifier{
			srv:       sseSrv,
			templates: tmpl,
			logger:    logger.With(slog.String("module", "notifier")),
		}
	}

	return Main{
		sseSrv:         sseSrv,
		templates:      tmpl,
		llm:            llm,
		registry:       registry,
		store:          store,
		notifier:       notifier,
		modelCfg:       cfg.Model,
		ui:             cfg.UI,
		requestTimeout: cfg.RequestTimeout,
		inflight:       newInflightRegistry(),
		logger:         logger.With(slog.String("module", "handlers")),
	}, nil
}

func messageIDTopic(messageID string) string {
	return fmt.Sprintf("message-%s", messageID)
}

// HandleSSE serves the event-stream connection the browser uses to receive
// message and notice updates.
func (m Main) HandleSSE(w http.ResponseWriter, r *http.Request) {
	m.sseSrv.ServeHTTP(w, r)
}

// Shutdown gracefully terminates the Main instance's SSE server. It
// broadcasts a close message to all connected clients and waits up to 5
// seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	e := &sse.Message{Type: sse.Type("closeChat")}
	// We create a close event that complies with SSE spec requiring data
	e.AppendData("bye")

	// We ignore the error here since we're shutting down anyway
	_ = m.sseSrv.Publish(e)

	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.sseSrv.Shutdown(ctx)
}

// sseNotifier publishes user notices as rendered toast partials over the SSE
// server.
type sseNotifier struct {
	srv       *sse.Server
	templates *template.Template
	logger    *slog.Logger
}

func (n sseNotifier) Notify(level NoticeLevel, text string) {
	var sb strings.Builder
	err := n.templates.ExecuteTemplate(&sb, "notice", struct {
		Level string
		Text  string
	}{Level: string(level), Text: text})
	if err != nil {
		n.logger.Error("Failed to render notice",
			slog.String("text", text),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	msg := sse.Message{Type: noticesSSEType}
	msg.AppendData(sb.String())
	if err := n.srv.Publish(&msg, noticesSSETopic); err != nil {
		n.logger.Error("Failed to publish notice",
			slog.String("text", text),
			slog.String(errLoggerKey, err.Error()))
	}
}

// inflightRegistry enforces the single-flight rule: at most one request, and
// hence one streaming placeholder, may be active per chat. Handlers reserve a
// slot before touching the store, arm it with the request's cancel function
// once the context exists, and release it when the request lifecycle ends.
type inflightRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func newInflightRegistry() *inflightRegistry {
	return &inflightRegistry{cancels: make(map[string]context.CancelFunc)}
}

// reserve marks a chat as having a request in flight. It reports false if one
// is already active.
func (r *inflightRegistry) reserve(chatID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.cancels[chatID]; ok {
		return false
	}
	r.cancels[chatID] = nil
	return true
}

// arm attaches the cancel function for a reserved chat.
func (r *inflightRegistry) arm(chatID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cancels[chatID] = cancel
}

// stop severs the transport of the chat's in-flight request. It reports
// whether there was one to stop.
func (r *inflightRegistry) stop(chatID string) bool {
	r.mu.Lock()
	cancel, ok := r.cancels[chatID]
	r.mu.Unlock()
	if !ok || cancel == nil {
		return false
	}
	cancel()
	return true
}

// release frees the chat's slot. It is always called when a request lifecycle
// ends, regardless of outcome.
func (r *inflightRegistry) release(chatID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, chatID)
}
