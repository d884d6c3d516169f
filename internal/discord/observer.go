// Package discord bridges Discord to the session layer: inbound message
// events, the trend engine hooks, and a progress observer that edits a
// status message in place.
package discord

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/pkg/llm"
)

const maxDiscordMessage = 2000

// ProgressObserver renders progress into a single Discord message that is
// created on the first event and edited thereafter. During streaming the
// accumulating answer replaces the status text.
type ProgressObserver struct {
	session   *discordgo.Session
	channelID string
	replyTo   string
	config    config.ProgressTransportConfig
	logger    *slog.Logger

	mu         sync.Mutex
	statusID   string
	lastEdit   time.Time
	streamText strings.Builder
}

// NewProgressObserver creates an observer bound to one channel.
func NewProgressObserver(session *discordgo.Session, channelID, replyTo string, cfg config.ProgressTransportConfig, logger *slog.Logger) *ProgressObserver {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressObserver{
		session:   session,
		channelID: channelID,
		replyTo:   replyTo,
		config:    cfg,
		logger:    logger,
	}
}

// OnProgress creates or edits the status message. The completed stage is
// skipped: by then the status message already holds the final answer.
func (o *ProgressObserver) OnProgress(event progress.Event) {
	if !o.config.Enabled || event.Stage == progress.StageCompleted {
		return
	}
	text := event.Message
	if event.ProgressPct >= 0 {
		text = fmt.Sprintf("%s (%d%%)", text, event.ProgressPct)
	}
	o.upsertStatus(text)
}

// OnStreamingChunk appends to the visible answer, editing in place.
func (o *ProgressObserver) OnStreamingChunk(chunk progress.Chunk) {
	o.mu.Lock()
	o.streamText.WriteString(chunk.Content)
	text := o.streamText.String()
	o.mu.Unlock()
	if len(text) > maxDiscordMessage {
		text = text[len(text)-maxDiscordMessage:]
	}
	o.upsertStatus(text)
}

func (o *ProgressObserver) OnStreamingComplete() {}

// OnCompletion replaces the status message with the final answer, splitting
// across messages when over the transport limit.
func (o *ProgressObserver) OnCompletion(finalText string, sources []llm.Source) {
	o.mu.Lock()
	statusID := o.statusID
	o.statusID = ""
	o.mu.Unlock()

	chunks := splitMessage(finalText, maxDiscordMessage)
	if len(chunks) == 0 {
		chunks = []string{"（沒有內容）"}
	}

	first := chunks[0]
	if statusID != "" {
		if _, err := o.session.ChannelMessageEdit(o.channelID, statusID, first); err != nil {
			o.logger.Warn("edit final message failed", "error", err)
			o.send(first)
		}
	} else {
		o.send(first)
	}
	for _, c := range chunks[1:] {
		o.send(c)
	}

	if o.config.UseEmbeds && len(sources) > 0 {
		o.sendSources(sources)
	}
}

// OnError replaces the status with a user-visible apology.
func (o *ProgressObserver) OnError(err error) {
	o.logger.Warn("invocation error surfaced to channel", "error", err)
	o.upsertStatus("抱歉，處理您的請求時發生錯誤。")
	o.mu.Lock()
	o.statusID = ""
	o.mu.Unlock()
}

func (o *ProgressObserver) upsertStatus(text string) {
	if text == "" {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()

	interval := time.Duration(o.config.UpdateInterval * float64(time.Second))
	if o.statusID != "" && time.Since(o.lastEdit) < interval {
		return
	}

	if o.statusID == "" {
		msg, err := o.session.ChannelMessageSendReply(o.channelID, text, &discordgo.MessageReference{
			MessageID: o.replyTo,
			ChannelID: o.channelID,
		})
		if err != nil {
			o.logger.Warn("send status message failed", "error", err)
			return
		}
		o.statusID = msg.ID
	} else {
		if _, err := o.session.ChannelMessageEdit(o.channelID, o.statusID, text); err != nil {
			o.logger.Warn("edit status message failed", "error", err)
			return
		}
	}
	o.lastEdit = time.Now()
}

func (o *ProgressObserver) send(text string) {
	if _, err := o.session.ChannelMessageSend(o.channelID, text); err != nil {
		o.logger.Warn("send message failed", "error", err)
	}
}

func (o *ProgressObserver) sendSources(sources []llm.Source) {
	fields := make([]*discordgo.MessageEmbedField, 0, len(sources))
	for i, src := range sources {
		if i >= 5 {
			break
		}
		name := src.Title
		if name == "" {
			name = src.URL
		}
		fields = append(fields, &discordgo.MessageEmbedField{
			Name:  name,
			Value: src.URL,
		})
	}
	_, err := o.session.ChannelMessageSendEmbed(o.channelID, &discordgo.MessageEmbed{
		Title:  "來源",
		Fields: fields,
	})
	if err != nil {
		o.logger.Warn("send sources embed failed", "error", err)
	}
}

// splitMessage cuts text into transport-sized chunks on line boundaries
// where possible.
func splitMessage(text string, limit int) []string {
	var out []string
	for len(text) > limit {
		cut := strings.LastIndex(text[:limit], "\n")
		if cut <= 0 {
			cut = limit
		}
		out = append(out, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" {
		out = append(out, text)
	}
	return out
}
