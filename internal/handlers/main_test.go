package handlers_test

import (
	"context"
	"fmt"
	"iter"
	"net/http"
	"net/http/httptest"
	"net/url"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/stonegrind/rag-web-ui/internal/handlers"
	"github.com/stonegrind/rag-web-ui/internal/models"
)

type mockLLM struct {
	responses []string
	err       error
}

type mockRegistry struct {
	models []models.ModelInfo
	err    error
}

type mockStore struct {
	mu       sync.Mutex
	chats    []models.Chat
	messages map[string][]models.Message
	err      error
}

type mockNotifier struct {
	mu      sync.Mutex
	notices []string
}

func newTestMain(t *testing.T, llm handlers.LLM, store handlers.Store) handlers.Main {
	t.Helper()

	main, err := handlers.NewMain(llm, &mockRegistry{}, store, &mockNotifier{}, handlers.Config{
		UI: handlers.UIConfig{Title: "Playground"},
	}, nil)
	if err != nil {
		t.Fatalf("NewMain() error = %v", err)
	}
	return main
}

func TestNewMain(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, &mockStore{})

	if main.Shutdown(context.Background()) != nil {
		t.Error("Shutdown() should not return error")
	}
}

func TestHandleHome(t *testing.T) {
	store := &mockStore{
		chats: []models.Chat{
			{ID: "1", Title: "Test Chat"},
		},
		messages: map[string][]models.Message{
			"1": {{
				ID:             "1",
				Role:           models.RoleUser,
				Content:        "Hello",
				StreamingState: models.StreamingStateEnded,
			}},
		},
	}

	main := newTestMain(t, &mockLLM{}, store)

	tests := []struct {
		name       string
		url        string
		wantStatus int
		wantBody   string
	}{
		{
			name:       "Home page without chat",
			url:        "/",
			wantStatus: http.StatusOK,
			wantBody:   "Test Chat", // Should contain chat title
		},
		{
			name:       "Home page with chat",
			url:        "/?chat_id=1",
			wantStatus: http.StatusOK,
			wantBody:   "Hello", // Should contain message content
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.url, nil)
			w := httptest.NewRecorder()

			main.HandleHome(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleHome() status = %v, want %v", w.Code, tt.wantStatus)
			}

			if !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleHome() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleChats(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		message    string
		chatID     string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Empty message",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Whitespace-only message",
			method:     http.MethodPost,
			message:    "   \t  ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "New chat",
			method:     http.MethodPost,
			message:    "Hello",
			wantStatus: http.StatusOK,
		},
		{
			name:       "Existing chat",
			method:     http.MethodPost,
			message:    "Hello",
			chatID:     "1",
			wantStatus: http.StatusOK,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockStore{
				chats:    []models.Chat{{ID: "1", Title: "Test Chat"}},
				messages: map[string][]models.Message{},
			}
			main := newTestMain(t, &mockLLM{responses: []string{"AI response"}}, store)

			form := url.Values{"message": {tt.message}, "chat_id": {tt.chatID}}
			req := httptest.NewRequest(tt.method, "/chats", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleChats(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleChats() status = %v, want %v", w.Code, tt.wantStatus)
			}

			// Rejected requests must leave the message list untouched.
			if tt.wantStatus == http.StatusBadRequest && store.messageCount(tt.chatID) != 0 {
				t.Errorf("HandleChats() stored %d messages on a rejected request, want 0",
					store.messageCount(tt.chatID))
			}
		})
	}
}

func TestHandleModels(t *testing.T) {
	tests := []struct {
		name       string
		registry   *mockRegistry
		wantStatus int
		wantBody   string
	}{
		{
			name: "Backend models",
			registry: &mockRegistry{models: []models.ModelInfo{
				{ID: "small"},
				{ID: "large", OwnedBy: "lab"},
			}},
			wantStatus: http.StatusOK,
			wantBody:   "large",
		},
		{
			name:       "Backend failure",
			registry:   &mockRegistry{err: fmt.Errorf("unreachable")},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			main, err := handlers.NewMain(&mockLLM{}, tt.registry, &mockStore{}, &mockNotifier{}, handlers.Config{}, nil)
			if err != nil {
				t.Fatal(err)
			}

			req := httptest.NewRequest(http.MethodGet, "/models", nil)
			w := httptest.NewRecorder()

			main.HandleModels(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleModels() status = %v, want %v", w.Code, tt.wantStatus)
			}
			if tt.wantBody != "" && !strings.Contains(w.Body.String(), tt.wantBody) {
				t.Errorf("HandleModels() body = %v, want to contain %v", w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandleStop(t *testing.T) {
	main := newTestMain(t, &mockLLM{}, &mockStore{messages: map[string][]models.Message{}})

	tests := []struct {
		name       string
		method     string
		chatID     string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			chatID:     "1",
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing chat ID",
			method:     http.MethodPost,
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Nothing in flight",
			method:     http.MethodPost,
			chatID:     "1",
			wantStatus: http.StatusNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"chat_id": {tt.chatID}}
			req := httptest.NewRequest(tt.method, "/chats/stop", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleStop(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleStop() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleRetryValidation(t *testing.T) {
	store := &mockStore{messages: map[string][]models.Message{
		"1": {{ID: "a1", Role: models.RoleAssistant, Content: "orphan"}},
	}}
	main := newTestMain(t, &mockLLM{}, store)

	tests := []struct {
		name       string
		method     string
		chatID     string
		messageID  string
		wantStatus int
	}{
		{
			name:       "Invalid method",
			method:     http.MethodGet,
			wantStatus: http.StatusMethodNotAllowed,
		},
		{
			name:       "Missing parameters",
			method:     http.MethodPost,
			chatID:     "1",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown message",
			method:     http.MethodPost,
			chatID:     "1",
			messageID:  "nope",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "No user message before target",
			method:     http.MethodPost,
			chatID:     "1",
			messageID:  "a1",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"chat_id": {tt.chatID}, "message_id": {tt.messageID}}
			req := httptest.NewRequest(tt.method, "/chats/retry", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleRetry(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleRetry() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func TestHandleEditValidation(t *testing.T) {
	store := &mockStore{messages: map[string][]models.Message{
		"1": {{ID: "a1", Role: models.RoleAssistant, Content: "answer"}},
	}}
	main := newTestMain(t, &mockLLM{}, store)

	tests := []struct {
		name       string
		chatID     string
		messageID  string
		message    string
		wantStatus int
	}{
		{
			name:       "Missing parameters",
			chatID:     "1",
			message:    "hi",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Empty replacement",
			chatID:     "1",
			messageID:  "a1",
			message:    "  ",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "Unknown message",
			chatID:     "1",
			messageID:  "nope",
			message:    "hi",
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "Assistant message",
			chatID:     "1",
			messageID:  "a1",
			message:    "hi",
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			form := url.Values{"chat_id": {tt.chatID}, "message_id": {tt.messageID}, "message": {tt.message}}
			req := httptest.NewRequest(http.MethodPost, "/chats/edit", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
			w := httptest.NewRecorder()

			main.HandleEdit(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("HandleEdit() status = %v, want %v", w.Code, tt.wantStatus)
			}
		})
	}
}

func (m mockLLM) Chat(_ context.Context, _ []models.Message, _ models.ModelConfig) iter.Seq2[models.StreamEvent, error] {
	return func(yield func(models.StreamEvent, error) bool) {
		if m.err != nil {
			yield(models.StreamEvent{}, m.err)
			return
		}
		for _, resp := range m.responses {
			if !yield(models.StreamEvent{Type: models.EventTypeDelta, Delta: resp}, nil) {
				return
			}
		}
	}
}

func (m *mockRegistry) Models(_ context.Context) ([]models.ModelInfo, error) {
	if m.err != nil {
		return nil, m.err
	}
	return m.models, nil
}

func (m *mockNotifier) Notify(_ handlers.NoticeLevel, text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notices = append(m.notices, text)
}

func (m *mockStore) messageCount(chatID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.messages[chatID])
}

func (m *mockStore) Chats(_ context.Context) ([]models.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return m.chats, nil
}

func (m *mockStore) AddChat(_ context.Context, chat models.Chat) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.chats = append(m.chats, chat)
	return chat.ID, nil
}

func (m *mockStore) UpdateChat(_ context.Context, chat models.Chat) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.chats, func(c models.Chat) bool { return c.ID == chat.ID })
	if idx == -1 {
		return fmt.Errorf("chat not found")
	}
	m.chats[idx] = chat
	return m.err
}

func (m *mockStore) Messages(_ context.Context, chatID string) ([]models.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return slices.Clone(m.messages[chatID]), nil
}

func (m *mockStore) AddMessage(_ context.Context, chatID string, msg models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	if m.messages == nil {
		m.messages = map[string][]models.Message{}
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	return msg.ID, nil
}

func (m *mockStore) UpdateMessage(_ context.Context, chatID string, msg models.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.messages[chatID], func(s models.Message) bool { return s.ID == msg.ID })
	if idx != -1 {
		m.messages[chatID][idx] = msg
	}
	return m.err
}

func (m *mockStore) DeleteMessage(_ context.Context, chatID string, messageID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[chatID] = slices.DeleteFunc(m.messages[chatID], func(s models.Message) bool {
		return s.ID == messageID
	})
	return m.err
}

func (m *mockStore) TruncateMessages(_ context.Context, chatID string, fromID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := slices.IndexFunc(m.messages[chatID], func(s models.Message) bool { return s.ID == fromID })
	if idx != -1 {
		m.messages[chatID] = m.messages[chatID][:idx]
	}
	return m.err
}
