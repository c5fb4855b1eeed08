package services_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/stonegrind/rag-web-ui/internal/services"
)

func newTestDB(t *testing.T) services.BoltDB {
	t.Helper()

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatalf("NewBoltDB() error = %v", err)
	}
	return db
}

func addChat(t *testing.T, db services.BoltDB, title string) string {
	t.Helper()

	id, err := db.AddChat(context.Background(), models.Chat{ID: "chat", Title: title})
	if err != nil {
		t.Fatalf("AddChat() error = %v", err)
	}
	return id
}

func TestBoltDBChats(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	first := addChat(t, db, "First")
	second := addChat(t, db, "Second")

	chats, err := db.Chats(ctx)
	if err != nil {
		t.Fatalf("Chats() error = %v", err)
	}
	if len(chats) != 2 {
		t.Fatalf("Chats() = %d chats, want 2", len(chats))
	}
	// Most recent chat first.
	if chats[0].ID != second || chats[1].ID != first {
		t.Errorf("Chats() order = [%s, %s], want newest first", chats[0].ID, chats[1].ID)
	}

	if err := db.UpdateChat(ctx, models.Chat{ID: first, Title: "Renamed"}); err != nil {
		t.Fatalf("UpdateChat() error = %v", err)
	}
	chats, err = db.Chats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if chats[1].Title != "Renamed" {
		t.Errorf("Title after update = %q, want %q", chats[1].Title, "Renamed")
	}
}

func TestBoltDBMessageOrdering(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	chatID := addChat(t, db, "Ordering")

	// More than ten messages, so lexicographic key ordering would break
	// without zero padding of the sequence numbers.
	const count = 12
	for i := 0; i < count; i++ {
		msg := models.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		}
		if _, err := db.AddMessage(ctx, chatID, msg); err != nil {
			t.Fatalf("AddMessage() error = %v", err)
		}
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatalf("Messages() error = %v", err)
	}
	if len(messages) != count {
		t.Fatalf("Messages() = %d messages, want %d", len(messages), count)
	}
	for i, msg := range messages {
		if want := fmt.Sprintf("message %d", i); msg.Content != want {
			t.Errorf("messages[%d].Content = %q, want %q", i, msg.Content, want)
		}
	}
}

func TestBoltDBUpdateMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	chatID := addChat(t, db, "Update")

	id, err := db.AddMessage(ctx, chatID, models.Message{
		ID:             "a",
		Role:           models.RoleAssistant,
		StreamingState: models.StreamingStateLoading,
	})
	if err != nil {
		t.Fatal(err)
	}

	updated := models.Message{
		ID:               id,
		Role:             models.RoleAssistant,
		Content:          "done",
		StreamingState:   models.StreamingStateEnded,
		RelatedQuestions: []string{"What next?"},
	}
	if err := db.UpdateMessage(ctx, chatID, updated); err != nil {
		t.Fatalf("UpdateMessage() error = %v", err)
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 {
		t.Fatalf("Messages() = %d messages, want 1", len(messages))
	}
	got := messages[0]
	if got.Content != "done" || got.StreamingState != models.StreamingStateEnded {
		t.Errorf("message = %+v, want the updated content and state", got)
	}
	if len(got.RelatedQuestions) != 1 || got.RelatedQuestions[0] != "What next?" {
		t.Errorf("related questions = %v, want them persisted", got.RelatedQuestions)
	}
}

func TestBoltDBDeleteMessage(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	chatID := addChat(t, db, "Delete")

	keepID, err := db.AddMessage(ctx, chatID, models.Message{ID: "u", Role: models.RoleUser, Content: "Hi"})
	if err != nil {
		t.Fatal(err)
	}
	dropID, err := db.AddMessage(ctx, chatID, models.Message{ID: "a", Role: models.RoleAssistant})
	if err != nil {
		t.Fatal(err)
	}

	if err := db.DeleteMessage(ctx, chatID, dropID); err != nil {
		t.Fatalf("DeleteMessage() error = %v", err)
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 1 || messages[0].ID != keepID {
		t.Errorf("Messages() = %+v, want only the user message", messages)
	}

	// Deleting an absent message is a no-op.
	if err := db.DeleteMessage(ctx, chatID, dropID); err != nil {
		t.Errorf("DeleteMessage() on absent message error = %v", err)
	}
}

func TestBoltDBTruncateMessages(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()

	chatID := addChat(t, db, "Truncate")

	var ids []string
	for i := 0; i < 5; i++ {
		id, err := db.AddMessage(ctx, chatID, models.Message{
			ID:      fmt.Sprintf("m%d", i),
			Role:    models.RoleUser,
			Content: fmt.Sprintf("message %d", i),
		})
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, id)
	}

	// Drop the third message and everything after it.
	if err := db.TruncateMessages(ctx, chatID, ids[2]); err != nil {
		t.Fatalf("TruncateMessages() error = %v", err)
	}

	messages, err := db.Messages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 2 {
		t.Fatalf("Messages() = %d messages, want 2", len(messages))
	}
	if messages[0].ID != ids[0] || messages[1].ID != ids[1] {
		t.Errorf("Messages() = %+v, want the first two messages retained", messages)
	}

	// Messages appended after a truncation keep sorting after the survivors.
	id, err := db.AddMessage(ctx, chatID, models.Message{ID: "m5", Role: models.RoleUser, Content: "message 5"})
	if err != nil {
		t.Fatal(err)
	}
	messages, err = db.Messages(ctx, chatID)
	if err != nil {
		t.Fatal(err)
	}
	if len(messages) != 3 || messages[2].ID != id {
		t.Errorf("Messages() after append = %+v, want the new message last", messages)
	}
}
