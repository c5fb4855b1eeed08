package handlers

import (
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/stonegrind/rag-web-ui/internal/models"
)

type chat struct {
	ID    string
	Title string

	Active bool
}

// message is the view model for one rendered message. Content is the
// markdown-rendered HTML of the stored message content.
type message struct {
	ID        string
	Role      string
	Content   template.HTML
	Timestamp time.Time

	StreamingState   string
	RelatedQuestions []string
}

type homePageData struct {
	Title        string
	Theme        string
	QuickButtons []string

	Chats         []chat
	CurrentChatID string
	Messages      []message
}

// HandleHome renders the playground page: the chat list, the selected chat's
// transcript, and the injected presentation settings (title, theme, quick
// buttons). The streaming core never reads any of the presentation settings.
func (m Main) HandleHome(w http.ResponseWriter, r *http.Request) {
	chats, err := m.store.Chats(r.Context())
	if err != nil {
		m.logger.Error("Failed to get chats", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	currentChatID := r.URL.Query().Get("chat_id")

	var msgs []message
	if currentChatID != "" {
		storedMsgs, err := m.store.Messages(r.Context(), currentChatID)
		if err != nil {
			m.logger.Error("Failed to get messages",
				slog.String("chatID", currentChatID),
				slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		msgs, err = m.viewMessages(storedMsgs)
		if err != nil {
			m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}

	chatViews := make([]chat, len(chats))
	for i, ch := range chats {
		chatViews[i] = chat{
			ID:     ch.ID,
			Title:  ch.Title,
			Active: ch.ID == currentChatID,
		}
	}

	data := homePageData{
		Title:         m.ui.Title,
		Theme:         m.ui.Theme,
		QuickButtons:  m.ui.QuickButtons,
		Chats:         chatViews,
		CurrentChatID: currentChatID,
		Messages:      msgs,
	}

	if err := m.templates.ExecuteTemplate(w, "home.html", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// HandleModels reports the models the configured backend offers, as JSON for
// the model picker.
func (m Main) HandleModels(w http.ResponseWriter, r *http.Request) {
	infos, err := m.registry.Models(r.Context())
	if err != nil {
		m.logger.Error("Failed to list models", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(infos); err != nil {
		m.logger.Error("Failed to encode models", slog.String(errLoggerKey, err.Error()))
	}
}

// renderChatbox writes the full chatbox partial for the given transcript.
func (m Main) renderChatbox(w http.ResponseWriter, chatID string, storedMsgs []models.Message) {
	msgs, err := m.viewMessages(storedMsgs)
	if err != nil {
		m.logger.Error("Failed to render messages", slog.String(errLoggerKey, err.Error()))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	data := homePageData{
		Title:         m.ui.Title,
		Theme:         m.ui.Theme,
		QuickButtons:  m.ui.QuickButtons,
		CurrentChatID: chatID,
		Messages:      msgs,
	}
	if err := m.templates.ExecuteTemplate(w, "chatbox", data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (m Main) viewMessage(msg models.Message) (message, error) {
	content, err := models.RenderHTML(msg.Content)
	if err != nil {
		return message{}, err
	}
	return message{
		ID:               msg.ID,
		Role:             string(msg.Role),
		Content:          content,
		Timestamp:        msg.Timestamp,
		StreamingState:   msg.StreamingState,
		RelatedQuestions: msg.RelatedQuestions,
	}, nil
}

func (m Main) viewMessages(storedMsgs []models.Message) ([]message, error) {
	msgs := make([]message, len(storedMsgs))
	for i, msg := range storedMsgs {
		view, err := m.viewMessage(msg)
		if err != nil {
			return nil, err
		}
		msgs[i] = view
	}
	return msgs, nil
}
