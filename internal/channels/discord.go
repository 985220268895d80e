package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/queue"
	"github.com/dotclaw/host/internal/sandbox"
)

// discordChatIDPrefix namespaces Discord channel ids within the shared
// cross-platform chat_id key space; a Discord "channel" maps to a
// chat_id, and a thread (if any) is carried separately as ThreadID.
const discordChatIDPrefix = "discord:"

// DiscordChannel implements Channel against discordgo's gateway session,
// grounded on the same enqueue-on-inbound/deliver-on-outbound shape as
// TelegramChannel, adapted to discordgo's event-handler registration
// model instead of tgbotapi's long-poll loop.
type DiscordChannel struct {
	token          string
	allowedGuildID string // empty means no guild restriction
	group          string
	pipe           *pipeline.Pipeline
	logger         *slog.Logger
	session        *discordgo.Session

	recallCfg      pipeline.RecallConfig
	toolPolicy     map[string]any
	behaviorConfig map[string]any
	maxToolSteps   int
	timeoutMs      int64
}

func NewDiscordChannel(token, allowedGuildID, group string, pipe *pipeline.Pipeline, logger *slog.Logger) *DiscordChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiscordChannel{
		token:          token,
		allowedGuildID: allowedGuildID,
		group:          group,
		pipe:           pipe,
		logger:         logger,
		recallCfg:      pipeline.RecallConfig{MaxResults: 20, MaxTokens: 2000},
		timeoutMs:      120_000,
	}
}

func (d *DiscordChannel) Name() string { return "discord" }

// Start opens the gateway session and blocks until ctx is canceled. On an
// unexpected session close, it reopens with the same exponential backoff
// shape TelegramChannel uses for its long-poll reconnects.
func (d *DiscordChannel) Start(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := d.runSession(ctx); err != nil {
			d.logger.Warn("discord session disconnected, reconnecting", "error", err, "backoff", backoff)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		return nil
	}
}

func (d *DiscordChannel) runSession(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord init failed: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		if d.allowedGuildID != "" && m.GuildID != "" && m.GuildID != d.allowedGuildID {
			return
		}
		d.handleMessage(ctx, m.Message)
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord open failed: %w", err)
	}
	d.session = session
	d.logger.Info("discord bot started", "user", session.State.User.Username)

	<-ctx.Done()
	return session.Close()
}

func (d *DiscordChannel) handleMessage(ctx context.Context, msg *discordgo.Message) {
	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	chatID := discordChatIDPrefix + msg.ChannelID
	senderName := ""
	if msg.Author != nil {
		senderName = msg.Author.Username
	}

	rec := queue.EnqueueRecord{
		ChatID:        chatID,
		PlatformMsgID: msg.ID,
		SenderID:      msg.Author.ID,
		SenderName:    senderName,
		Content:       content,
		ChannelID:     "discord",
		Timestamp:     msg.Timestamp,
	}
	binding := pipeline.ChatBinding{
		Group:          d.group,
		UserID:         msg.Author.ID,
		Provider:       "discord",
		SessionID:      chatID,
		Channel:        sandbox.ChannelMetadata{Platform: "discord", ChatID: chatID},
		MaxToolSteps:   d.maxToolSteps,
		TimeoutMs:      d.timeoutMs,
		ToolPolicy:     d.toolPolicy,
		BehaviorConfig: d.behaviorConfig,
		RecallConfig:   d.recallCfg,
	}

	if _, err := d.pipe.Enqueue(ctx, rec, binding); err != nil {
		d.logger.Warn("discord: failed to enqueue message", "chat_id", chatID, "error", err)
		_, _ = d.session.ChannelMessageSend(msg.ChannelID, fmt.Sprintf("Error: %v", err))
	}
}

// Deliver implements pipeline.DeliverFunc.
func (d *DiscordChannel) Deliver(ctx context.Context, chatID, threadID, text string) error {
	channelID := strings.TrimPrefix(chatID, discordChatIDPrefix)
	_, err := d.session.ChannelMessageSend(channelID, text)
	return err
}

// EditMessage implements ipc.MessageEditor for the edit_message action.
func (d *DiscordChannel) EditMessage(ctx context.Context, chatID, platformMsgID, newText string) error {
	channelID := strings.TrimPrefix(chatID, discordChatIDPrefix)
	_, err := d.session.ChannelMessageEdit(channelID, platformMsgID, newText)
	return err
}

// DeleteMessage implements ipc.MessageEditor for the delete_message action.
func (d *DiscordChannel) DeleteMessage(ctx context.Context, chatID, platformMsgID string) error {
	channelID := strings.TrimPrefix(chatID, discordChatIDPrefix)
	return d.session.ChannelMessageDelete(channelID, platformMsgID)
}
