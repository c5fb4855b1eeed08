// Command chat is a minimal terminal client for the playground backend. It
// exercises the same streaming consumer the web UI uses, which makes it handy
// for smoke-testing a deployment without a browser.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/stonegrind/rag-web-ui/internal/models"
	"github.com/stonegrind/rag-web-ui/internal/services"
)

var (
	serverURL      = flag.String("server", "http://localhost:8000", "Playground backend base URL")
	token          = flag.String("token", "", "Bearer token (defaults to PLAYGROUND_API_TOKEN)")
	modelName      = flag.String("model", "", "Model identifier")
	temperature    = flag.Float64("temp", 0.7, "Sampling temperature")
	maxTokens      = flag.Int("max-tokens", 1024, "Maximum number of tokens to generate")
	stream         = flag.Bool("stream", true, "Stream the response incrementally")
	useRAG         = flag.Bool("rag", true, "Augment answers with indexed knowledge-base content")
	cached         = flag.Bool("cache", true, "Permit cache-served answers")
	cacheThreshold = flag.Float64("cache-threshold", 0.7, "Similarity threshold for cache matching")
	systemPrompt   = flag.String("system", "You are a helpful AI assistant.", "System prompt")
	verbose        = flag.Bool("v", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	apiToken := *token
	if apiToken == "" {
		apiToken = os.Getenv("PLAYGROUND_API_TOKEN")
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	client := services.NewPlayground(*serverURL, apiToken, *systemPrompt, logger)
	cfg := models.ModelConfig{
		Model:          *modelName,
		MaxTokens:      *maxTokens,
		Temperature:    *temperature,
		Stream:         *stream,
		CacheThreshold: *cacheThreshold,
		IsCached:       *cached,
		UseRAG:         *useRAG,
	}

	boldGreen := color.New(color.FgGreen, color.Bold).SprintFunc()
	boldCyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	dim := color.New(color.Faint).SprintFunc()

	fmt.Println(boldGreen("Playground chat"))
	fmt.Printf("Server: %s\n", boldCyan(*serverURL))
	fmt.Println("Type your message and press Enter. Ctrl+C stops the current response; type 'exit' to quit.")
	fmt.Println()

	// SIGINT cancels the in-flight request rather than killing the session.
	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)

	var conversation []models.Message
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print(boldGreen("You: "))
		if !scanner.Scan() {
			break
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if strings.EqualFold(input, "exit") {
			break
		}

		conversation = append(conversation, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleUser,
			Content:   input,
			Timestamp: time.Now(),
		})

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			select {
			case <-interrupts:
				cancel()
			case <-done:
			}
		}()

		fmt.Print(boldCyan("Assistant: "))

		var content strings.Builder
		var questions []string
		var failed bool
		for ev, err := range client.Chat(ctx, conversation, cfg) {
			if err != nil {
				fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
				failed = true
				break
			}
			switch ev.Type {
			case models.EventTypeDelta:
				content.WriteString(ev.Delta)
				fmt.Print(ev.Delta)
			case models.EventTypeRelatedQuestions:
				questions = ev.Questions
			case models.EventTypeCacheHit:
				fmt.Printf("\n%s", yellow(cacheNote(ev.CacheType)))
			}
		}
		close(done)

		stopped := ctx.Err() != nil
		cancel()
		fmt.Println()

		if stopped {
			fmt.Println(dim("(stopped)"))
		}
		for _, q := range questions {
			fmt.Println(dim("  ? " + q))
		}
		fmt.Println()

		if failed && content.Len() == 0 {
			// Failed before the first byte: drop the turn so a corrected
			// resend starts from a clean transcript.
			conversation = conversation[:len(conversation)-1]
			continue
		}

		conversation = append(conversation, models.Message{
			ID:        uuid.New().String(),
			Role:      models.RoleAssistant,
			Content:   content.String(),
			Timestamp: time.Now(),
		})
	}
}

func cacheNote(cacheType string) string {
	if cacheType == "" {
		return "[served from cache]"
	}
	return fmt.Sprintf("[served from %s cache]", cacheType)
}
