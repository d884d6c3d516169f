package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"github.com/user/hatsuka/internal/agent"
	"github.com/user/hatsuka/internal/bootstrap"
	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/pkg/llm"
)

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn})))

	wired, err := bootstrap.Wire(cfg)
	if err != nil {
		return fmt.Errorf("wire components: %w", err)
	}

	renderer, err := glamour.NewTermRenderer(glamour.WithAutoStyle(), glamour.WithWordWrap(100))
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	fmt.Println("hatsuka interactive tester — empty line or Ctrl-D to exit")

	var history []conversation.Message
	reader := bufio.NewReader(os.Stdin)
	ctx := context.Background()

	for {
		line, ok := readLine(reader)
		if !ok {
			return nil
		}
		line = strings.TrimSpace(line)
		if line == "" {
			return nil
		}

		collected, err := wired.Collector.Collect(conversation.Request{
			Content:   line,
			Timestamp: time.Now(),
			History:   history,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "input rejected: %v\n", err)
			continue
		}

		obs := &consoleObserver{renderer: renderer, cli: cfg.Progress.CLI}
		bus := progress.NewBus(progress.BusConfig{
			AutoGenerateMessages: cfg.Progress.CLI.AutoGenerateMessages,
			Templates:            cfg.Progress.CLI.Messages,
		})
		bus.Subscribe(obs, progress.ObserverConfig{
			MinIntervalSeconds: cfg.Progress.CLI.UpdateInterval,
		})

		state := &agent.State{Messages: collected.Messages}
		if err := wired.Graph.Run(ctx, state, bus); err != nil {
			bus.Close()
			fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
			continue
		}
		bus.Close()

		history = append(history,
			conversation.Message{Role: conversation.RoleUser, Content: line, Metadata: conversation.Metadata{Timestamp: time.Now()}},
			conversation.Message{Role: conversation.RoleAssistant, Content: state.FinalAnswer, Metadata: conversation.Metadata{Timestamp: time.Now()}},
		)
	}
}

// consoleObserver prints stage lines and streams chunks to stdout. A final
// answer that arrived without streaming is rendered as terminal markdown.
type consoleObserver struct {
	renderer  *glamour.TermRenderer
	cli       config.ProgressTransportConfig
	streaming bool
}

func (o *consoleObserver) OnProgress(event progress.Event) {
	if event.Stage == progress.StageStreaming || event.Stage == progress.StageCompleted {
		return
	}
	line := fmt.Sprintf("[%s] %s", event.Stage, event.Message)
	if event.ProgressPct >= 0 {
		line = fmt.Sprintf("%s (%d%%)", line, event.ProgressPct)
	}
	fmt.Println(line)
}

func (o *consoleObserver) OnStreamingChunk(chunk progress.Chunk) {
	o.streaming = true
	fmt.Print(chunk.Content)
}

func (o *consoleObserver) OnStreamingComplete() {
	if o.streaming {
		fmt.Println()
	}
}

func (o *consoleObserver) OnCompletion(finalText string, sources []llm.Source) {
	// The streamed text was already printed raw; only render when the
	// answer arrived whole.
	if !o.streaming {
		out, err := o.renderer.Render(finalText)
		if err != nil {
			fmt.Println(finalText)
		} else {
			fmt.Print(out)
		}
	}
	if len(sources) > 0 {
		fmt.Println("來源:")
		for _, src := range sources {
			fmt.Printf("  - %s %s\n", src.Title, src.URL)
		}
	}
}

func (o *consoleObserver) OnError(err error) {
	fmt.Fprintf(os.Stderr, "錯誤: %v\n", err)
}
