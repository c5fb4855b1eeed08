package handlers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/tmaxmax/go-sse"
)

// HandleChats processes chat interactions through HTTP POST requests, managing
// both new chat creation and message handling. It accepts the user's message
// through form data, appends it together with an assistant placeholder, and
// initiates asynchronous consumption of the backend response. The response is
// streamed to the browser through Server-Sent Events.
//
// The handler expects a "message" form field and an optional "chat_id" field.
// If no chat_id is provided, it creates a new chat session titled after the
// message. Empty or whitespace-only messages are rejected before any state is
// touched. While a response for the chat is in flight, further sends are
// rejected with 409; this is an enforced precondition, not a UI nicety.
func (m Main) HandleChats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	msg := strings.TrimSpace(r.FormValue("message"))
	if msg == "" {
		// Rejected locally: no request is built and no message appended.
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	var err error

	chatID := r.FormValue("chat_id")
	// We track if this is a new chat to determine the appropriate template rendering strategy
	isNewChat := false
	if chatID == "" {
		chatID, err = m.newChat(r.Context(), msg)
		if err != nil {
			m.logger.Error("Failed to create new chat", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		isNewChat = true
	}

	if !m.inflight.reserve(chatID) {
		http.Error(w, "A response is already in progress", http.StatusConflict)
		return
	}

	// We create two messages: the user's input and a placeholder for the
	// assistant response. Both exist before any network I/O starts.
	um := models.Message{
		ID:             uuid.New().String(),
		Role:           models.RoleUser,
		Content:        msg,
		Timestamp:      time.Now(),
		StreamingState: models.StreamingStateEnded,
	}
	userMsgID, err := m.store.AddMessage(r.Context(), chatID, um)
	if err != nil {
		m.inflight.release(chatID)
		m.logger.Error("Failed to add user message",
			slog.String("message", fmt.Sprintf("%+v", um)),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	um.ID = userMsgID

	am, err := m.addPlaceholder(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		m.logger.Error("Failed to add assistant placeholder", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		m.logger.Error("Failed to get messages",
			slog.String("chatID", chatID),
			slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	m.startResponse(chatID, messages)

	if isNewChat {
		m.renderChatbox(w, chatID, messages)
		return
	}

	userView, err := m.viewMessage(um)
	if err != nil {
		m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "user_message", userView); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	aiView, err := m.viewMessage(am)
	if err != nil {
		m.logger.Error("Failed to render message", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := m.templates.ExecuteTemplate(w, "ai_message", aiView); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleRetry re-submits an earlier user message. It locates the most recent
// user message at or before the given message, truncates the list to just
// before that point, and resubmits its content as if newly sent. The
// superseded assistant output is discarded entirely.
func (m Main) HandleRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	messageID := r.FormValue("message_id")
	if chatID == "" || messageID == "" {
		http.Error(w, "chat_id and message_id are required", http.StatusBadRequest)
		return
	}

	if !m.inflight.reserve(chatID) {
		http.Error(w, "A response is already in progress", http.StatusConflict)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	idx := slices.IndexFunc(messages, func(msg models.Message) bool { return msg.ID == messageID })
	if idx == -1 {
		m.inflight.release(chatID)
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}

	target := -1
	for i := idx; i >= 0; i-- {
		if messages[i].Role == models.RoleUser {
			target = i
			break
		}
	}
	if target == -1 {
		m.inflight.release(chatID)
		http.Error(w, "No user message to retry", http.StatusBadRequest)
		return
	}

	content := messages[target].Content

	// The truncation point is resolved against the snapshot we just took, not
	// against live state, so a concurrent edit cannot shift the resend point.
	if err := m.store.TruncateMessages(r.Context(), chatID, messages[target].ID); err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	parent := slices.Clone(messages[:target])

	m.resubmit(w, r, chatID, parent, content)
}

// HandleEdit replaces the content of an existing user message, truncates the
// list to include the edited message, and resubmits the conversation from
// there.
func (m Main) HandleEdit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	messageID := r.FormValue("message_id")
	content := strings.TrimSpace(r.FormValue("message"))
	if chatID == "" || messageID == "" {
		http.Error(w, "chat_id and message_id are required", http.StatusBadRequest)
		return
	}
	if content == "" {
		http.Error(w, "Message is required", http.StatusBadRequest)
		return
	}

	if !m.inflight.reserve(chatID) {
		http.Error(w, "A response is already in progress", http.StatusConflict)
		return
	}

	messages, err := m.store.Messages(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	idx := slices.IndexFunc(messages, func(msg models.Message) bool { return msg.ID == messageID })
	if idx == -1 {
		m.inflight.release(chatID)
		http.Error(w, "Message not found", http.StatusNotFound)
		return
	}
	if messages[idx].Role != models.RoleUser {
		m.inflight.release(chatID)
		http.Error(w, "Only user messages can be edited", http.StatusBadRequest)
		return
	}

	edited := messages[idx]
	edited.Content = content
	if err := m.store.UpdateMessage(r.Context(), chatID, edited); err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if idx+1 < len(messages) {
		if err := m.store.TruncateMessages(r.Context(), chatID, messages[idx+1].ID); err != nil {
			m.inflight.release(chatID)
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	parent := append(slices.Clone(messages[:idx]), edited)

	am, err := m.addPlaceholder(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	full := append(parent, am)

	m.startResponse(chatID, full)
	m.renderChatbox(w, chatID, full)
}

// HandleStop cancels the chat's in-flight request. The partially streamed
// content is retained; the user is informed through a notice published by the
// consumer loop, not by this handler.
func (m Main) HandleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.FormValue("chat_id")
	if chatID == "" {
		http.Error(w, "chat_id is required", http.StatusBadRequest)
		return
	}

	if !m.inflight.stop(chatID) {
		http.Error(w, "No response in progress", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// resubmit appends a fresh user message and placeholder on top of the given
// parent snapshot and starts the response. Used by the retry path.
func (m Main) resubmit(w http.ResponseWriter, r *http.Request, chatID string, parent []models.Message, content string) {
	um := models.Message{
		ID:             uuid.New().String(),
		Role:           models.RoleUser,
		Content:        content,
		Timestamp:      time.Now(),
		StreamingState: models.StreamingStateEnded,
	}
	userMsgID, err := m.store.AddMessage(r.Context(), chatID, um)
	if err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	um.ID = userMsgID

	am, err := m.addPlaceholder(r.Context(), chatID)
	if err != nil {
		m.inflight.release(chatID)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	full := append(append(parent, um), am)

	m.startResponse(chatID, full)
	m.renderChatbox(w, chatID, full)
}

// addPlaceholder appends the empty assistant message that the decoder fills
// in. Creating it here, before the request is dispatched, is what upholds the
// "at most one streaming placeholder" invariant together with the in-flight
// reservation.
func (m Main) addPlaceholder(ctx context.Context, chatID string) (models.Message, error) {
	am := models.Message{
		ID:             uuid.New().String(),
		Role:           models.RoleAssistant,
		Timestamp:      time.Now(),
		StreamingState: models.StreamingStateLoading,
	}
	aiMsgID, err := m.store.AddMessage(ctx, chatID, am)
	if err != nil {
		return models.Message{}, fmt.Errorf("failed to add placeholder: %w", err)
	}
	am.ID = aiMsgID
	return am, nil
}

// startResponse arms the request context and launches the asynchronous
// consumer. The last element of messages must be the assistant placeholder.
func (m Main) startResponse(chatID string, messages []models.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), m.requestTimeout)
	m.inflight.arm(chatID, cancel)
	go m.chat(ctx, cancel, chatID, messages)
}

// chat consumes one backend response into the placeholder message. Content
// deltas are applied in arrival order by replacing the placeholder's content
// with the accumulated text so far; related questions and cache-hit signals
// are held back and surfaced exactly once at finalization. All outcomes
// release the in-flight slot.
func (m Main) chat(ctx context.Context, cancel context.CancelFunc, chatID string, messages []models.Message) {
	// Ensure SSE connection cleanup on function exit
	defer func() {
		cancel()
		m.inflight.release(chatID)
		e := &sse.Message{Type: sse.Type("closeMessage")}
		e.AppendData("bye")
		_ = m.sseSrv.Publish(e)
	}()

	aiMsg := messages[len(messages)-1]
	parent := messages[:len(messages)-1]

	var (
		questions []string
		cacheHit  bool
		cacheType string
		chatErr   error
	)

	for ev, err := range m.llm.Chat(ctx, parent, m.modelCfg) {
		if err != nil {
			chatErr = err
			break
		}

		switch ev.Type {
		case models.EventTypeDelta:
			aiMsg.Content += ev.Delta
			aiMsg.StreamingState = models.StreamingStateStreaming
			if err := m.store.UpdateMessage(context.Background(), chatID, aiMsg); err != nil {
				m.logger.Error("Failed to update message",
					slog.String("message", fmt.Sprintf("%+v", aiMsg)),
					slog.String(errLoggerKey, err.Error()))
				return
			}
			m.publishMessage(aiMsg)
		case models.EventTypeRelatedQuestions:
			questions = ev.Questions
		case models.EventTypeCacheHit:
			cacheHit = true
			cacheType = ev.CacheType
		}
	}

	switch {
	case chatErr != nil:
		m.failResponse(chatID, aiMsg, chatErr)
	case ctx.Err() != nil:
		m.stopResponse(chatID, aiMsg, ctx.Err())
	default:
		aiMsg.StreamingState = models.StreamingStateEnded
		aiMsg.RelatedQuestions = questions
		if err := m.store.UpdateMessage(context.Background(), chatID, aiMsg); err != nil {
			m.logger.Error("Failed to finalize message",
				slog.String("message", fmt.Sprintf("%+v", aiMsg)),
				slog.String(errLoggerKey, err.Error()))
			return
		}
		m.publishMessage(aiMsg)

		if cacheHit {
			m.notifier.Notify(NoticeInfo, cacheNoticeText(cacheType))
		}
	}
}

// failResponse handles a genuine request failure. A placeholder that never
// received content is removed; partial content is kept and finalized.
func (m Main) failResponse(chatID string, aiMsg models.Message, chatErr error) {
	m.logger.Error("Error from chat backend", slog.String(errLoggerKey, chatErr.Error()))

	if aiMsg.Content == "" {
		m.removeMessage(chatID, aiMsg.ID)
	} else {
		m.finalizeMessage(chatID, aiMsg)
	}

	m.notifier.Notify(NoticeError, chatErr.Error())
}

// stopResponse handles a cancelled or timed-out request. Whatever content was
// streamed before the cancellation stays as-is; only the streaming flag is
// cleared. Cancellation is informational, not an error.
func (m Main) stopResponse(chatID string, aiMsg models.Message, cause error) {
	if aiMsg.Content == "" {
		m.removeMessage(chatID, aiMsg.ID)
	} else {
		m.finalizeMessage(chatID, aiMsg)
	}

	if errors.Is(cause, context.DeadlineExceeded) {
		m.notifier.Notify(NoticeError, "The request timed out.")
		return
	}
	m.notifier.Notify(NoticeInfo, "Generation stopped.")
}

func (m Main) finalizeMessage(chatID string, aiMsg models.Message) {
	aiMsg.StreamingState = models.StreamingStateEnded
	if err := m.store.UpdateMessage(context.Background(), chatID, aiMsg); err != nil {
		m.logger.Error("Failed to finalize message",
			slog.String("message", fmt.Sprintf("%+v", aiMsg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}
	m.publishMessage(aiMsg)
}

func (m Main) removeMessage(chatID, messageID string) {
	if err := m.store.DeleteMessage(context.Background(), chatID, messageID); err != nil {
		m.logger.Error("Failed to delete placeholder",
			slog.String("messageID", messageID),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := &sse.Message{Type: sse.Type("removeMessage")}
	e.AppendData(messageID)
	_ = m.sseSrv.Publish(e, messageIDTopic(messageID))
}

// publishMessage pushes the message's current rendering to its SSE topic.
func (m Main) publishMessage(msg models.Message) {
	view, err := m.viewMessage(msg)
	if err != nil {
		m.logger.Error("Failed to render message",
			slog.String("message", fmt.Sprintf("%+v", msg)),
			slog.String(errLoggerKey, err.Error()))
		return
	}

	var sb strings.Builder
	if err := m.templates.ExecuteTemplate(&sb, "message_content", view); err != nil {
		m.logger.Error("Failed to execute message template",
			slog.String(errLoggerKey, err.Error()))
		return
	}

	e := sse.Message{Type: messagesSSEType}
	e.AppendData(sb.String())
	if err := m.sseSrv.Publish(&e, messageIDTopic(msg.ID)); err != nil {
		m.logger.Error("Failed to publish message",
			slog.String("messageID", msg.ID),
			slog.String(errLoggerKey, err.Error()))
	}
}

func (m Main) newChat(ctx context.Context, firstMessage string) (string, error) {
	newChat := models.Chat{
		ID:    uuid.New().String(),
		Title: chatTitle(firstMessage),
	}
	newChatID, err := m.store.AddChat(ctx, newChat)
	if err != nil {
		return "", fmt.Errorf("failed to add chat: %w", err)
	}
	newChat.ID = newChatID

	divs, err := m.chatDivs(newChat.ID)
	if err != nil {
		return "", fmt.Errorf("failed to create chat divs: %w", err)
	}

	msg := sse.Message{Type: chatsSSEType}
	msg.AppendData(divs)

	if err := m.sseSrv.Publish(&msg, chatsSSETopic); err != nil {
		return "", fmt.Errorf("failed to publish chats: %w", err)
	}

	return newChat.ID, nil
}

// chatTitle derives a chat title from the first user utterance. The backend
// owns inference, so titling stays local instead of spending a completion.
func chatTitle(message string) string {
	const maxTitleLen = 80
	title := strings.Join(strings.Fields(message), " ")
	if len(title) <= maxTitleLen {
		return title
	}
	cut := strings.LastIndex(title[:maxTitleLen], " ")
	if cut <= 0 {
		cut = maxTitleLen
	}
	return title[:cut] + "…"
}

func cacheNoticeText(cacheType string) string {
	if cacheType == "" {
		return "Answer served from cache."
	}
	return fmt.Sprintf("Answer served from %s cache.", cacheType)
}

func (m Main) chatDivs(activeID string) (string, error) {
	chats, err := m.store.Chats(context.Background())
	if err != nil {
		return "", fmt.Errorf("failed to get chats: %w", err)
	}

	var sb strings.Builder
	for _, ch := range chats {
		err := m.templates.ExecuteTemplate(&sb, "chat_title", chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == activeID,
		})
		if err != nil {
			return "", fmt.Errorf("failed to execute chat_title template: %w", err)
		}
	}
	return sb.String(), nil
}
