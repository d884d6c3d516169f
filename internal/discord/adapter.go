package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/user/hatsuka/internal/config"
	"github.com/user/hatsuka/internal/conversation"
	"github.com/user/hatsuka/internal/outputmedia"
	"github.com/user/hatsuka/internal/progress"
	"github.com/user/hatsuka/internal/session"
	"github.com/user/hatsuka/internal/trend"
)

// Adapter bridges Discord gateway events to the session layer.
type Adapter struct {
	bot     *discordgo.Session
	cfg     *config.Config
	session *session.Session
	emoji   *outputmedia.Registry
	logger  *slog.Logger

	ctx context.Context
}

// New creates a Discord adapter. token comes from the environment.
func New(token string, cfg *config.Config, sess *session.Session, emoji *outputmedia.Registry, logger *slog.Logger) (*Adapter, error) {
	bot, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	bot.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMessageReactions |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bot: bot, cfg: cfg, session: sess, emoji: emoji, logger: logger}, nil
}

// Start opens the gateway connection and blocks until ctx is done.
func (a *Adapter) Start(ctx context.Context) error {
	a.ctx = ctx
	a.bot.AddHandler(a.onReady)
	a.bot.AddHandler(a.onMessageCreate)
	a.bot.AddHandler(a.onReactionAdd)

	a.session.Deliver = a.deliver
	if err := a.bot.Open(); err != nil {
		return fmt.Errorf("open gateway: %w", err)
	}

	<-ctx.Done()
	return a.bot.Close()
}

func (a *Adapter) onReady(s *discordgo.Session, _ *discordgo.Ready) {
	if a.cfg.Discord.StatusMessage != "" {
		if err := s.UpdateCustomStatus(a.cfg.Discord.StatusMessage); err != nil {
			a.logger.Warn("set status failed", "error", err)
		}
	}
	for _, guild := range s.State.Guilds {
		emojis, err := s.GuildEmojis(guild.ID)
		if err != nil {
			a.logger.Warn("load guild emojis failed", "guild", guild.ID, "error", err)
			continue
		}
		a.emoji.LoadGuild(guild.ID, emojis)
	}
	a.logger.Info("discord gateway ready")
}

func (a *Adapter) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.ID == s.State.User.ID {
		return
	}

	cached := toCachedMessage(m.Message, s.State.User.ID)
	// The trend engine sees every message; the cache feeds its history.
	claimed := a.session.OfferTrend(a.ctx, m.ChannelID, m.GuildID, cached, func(em trend.Emission) error {
		return a.emit(m.ChannelID, em)
	})
	a.session.CacheMessage(m.ChannelID, cached)
	if claimed {
		return
	}

	if !a.addressed(s, m.Message) {
		return
	}

	content := stripMention(m.Content, s.State.User.ID)
	req := session.Request{
		Content:   content,
		OriginID:  m.ID,
		Timestamp: messageTime(m.Message),
		History:   a.fetchHistory(s, m.ChannelID, m.ID),
		Actor: session.Actor{
			UserID:    m.Author.ID,
			RoleIDs:   memberRoles(m.Member),
			ChannelID: m.ChannelID,
			IsDM:      m.GuildID == "",
		},
		ChannelRef:     m.ChannelID,
		UserRef:        m.Author.ID,
		GuildRef:       m.GuildID,
		GlobalMetadata: fmt.Sprintf("頻道: %s, 用戶: %s", m.ChannelID, m.Author.Username),
		Observer:       NewProgressObserver(s, m.ChannelID, m.ID, a.cfg.Progress.Discord, a.logger),
		ObserverConfig: progress.ObserverConfig{
			MinIntervalSeconds: a.cfg.Progress.Discord.UpdateInterval,
			MaxChunkSize:       1500,
		},
		Notify: func(text string) { a.deliverLogged(m.ChannelID, text) },
	}

	if err := a.session.Handle(a.ctx, req); err != nil {
		switch {
		case errors.Is(err, session.ErrMaintenance):
			a.deliverLogged(m.ChannelID, a.cfg.Discord.Maintenance.Message)
		case errors.Is(err, session.ErrNotPermitted):
			// Silently ignore non-permitted requests.
		default:
			a.logger.Error("handle request failed", "error", err)
			a.deliverLogged(m.ChannelID, "抱歉，處理您的請求時發生錯誤。")
		}
	}
}

func (a *Adapter) onReactionAdd(s *discordgo.Session, r *discordgo.MessageReactionAdd) {
	if r.UserID == s.State.User.ID {
		return
	}
	msg, err := s.ChannelMessage(r.ChannelID, r.MessageID)
	if err != nil {
		return
	}
	var count int
	var botReacted bool
	for _, reaction := range msg.Reactions {
		if reaction.Emoji.Name == r.Emoji.Name {
			count = reaction.Count
			botReacted = reaction.Me
			break
		}
	}
	a.session.OfferReactionTrend(a.ctx, r.ChannelID, count, botReacted, func() error {
		return s.MessageReactionAdd(r.ChannelID, r.MessageID, r.Emoji.APIName())
	})
}

// addressed reports whether the bot should answer: mentions and DMs.
func (a *Adapter) addressed(s *discordgo.Session, m *discordgo.Message) bool {
	if m.GuildID == "" {
		return true
	}
	for _, user := range m.Mentions {
		if user.ID == s.State.User.ID {
			return true
		}
	}
	return false
}

// fetchHistory pulls the recent channel window into conversation messages.
func (a *Adapter) fetchHistory(s *discordgo.Session, channelID, beforeID string) []conversation.Message {
	limit := a.cfg.Discord.Limits.MaxMessages
	msgs, err := s.ChannelMessages(channelID, limit, beforeID, "", "")
	if err != nil {
		a.logger.Warn("fetch history failed", "channel", channelID, "error", err)
		return nil
	}
	out := make([]conversation.Message, 0, len(msgs))
	for i := len(msgs) - 1; i >= 0; i-- {
		m := msgs[i]
		if m.Content == "" || m.Author == nil {
			continue
		}
		role := conversation.RoleUser
		content := m.Content
		if m.Author.ID == s.State.User.ID {
			role = conversation.RoleAssistant
		} else {
			content = m.Author.Username + ": " + content
		}
		out = append(out, conversation.Message{
			Role:    role,
			Content: content,
			Metadata: conversation.Metadata{
				OriginID:  m.ID,
				Timestamp: messageTime(m),
			},
		})
	}
	return out
}

func (a *Adapter) emit(channelID string, em trend.Emission) error {
	switch em.Kind {
	case trend.KindSticker:
		_, err := a.bot.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
			StickerIDs: []string{em.Value},
		})
		return err
	default:
		_, err := a.bot.ChannelMessageSend(channelID, em.Value)
		return err
	}
}

func (a *Adapter) deliver(channelRef, text string) error {
	for _, chunk := range splitMessage(text, maxDiscordMessage) {
		if _, err := a.bot.ChannelMessageSend(channelRef, chunk); err != nil {
			return fmt.Errorf("deliver to %s: %w", channelRef, err)
		}
	}
	return nil
}

func (a *Adapter) deliverLogged(channelRef, text string) {
	if err := a.deliver(channelRef, text); err != nil {
		a.logger.Warn("delivery failed", "channel", channelRef, "error", err)
	}
}

func toCachedMessage(m *discordgo.Message, botID string) trend.CachedMessage {
	isBot := m.Author.Bot || m.Author.ID == botID
	if len(m.StickerItems) > 0 {
		return trend.CachedMessage{
			Kind:     trend.KindSticker,
			Value:    m.StickerItems[0].ID,
			AuthorID: m.Author.ID,
			IsBot:    isBot,
		}
	}
	text := strings.TrimSpace(m.Content)
	cm := trend.CachedMessage{
		Kind:     trend.KindText,
		Value:    text,
		AuthorID: m.Author.ID,
		IsBot:    isBot,
	}
	if text != "" && !isBot {
		cm.Text = m.Author.Username + ": " + text
	} else if text != "" {
		cm.Text = text
	}
	return cm
}

func stripMention(content, botID string) string {
	content = strings.ReplaceAll(content, "<@"+botID+">", "")
	content = strings.ReplaceAll(content, "<@!"+botID+">", "")
	return strings.TrimSpace(content)
}

func memberRoles(m *discordgo.Member) []string {
	if m == nil {
		return nil
	}
	return m.Roles
}

func messageTime(m *discordgo.Message) time.Time {
	return m.Timestamp
}
