package channels

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/dotclaw/host/internal/pipeline"
	"github.com/dotclaw/host/internal/queue"
	"github.com/dotclaw/host/internal/sandbox"
)

// chatIDPrefix namespaces this adapter's chat ids within the shared
// queue/groups stores, since chat_id is a cross-platform string key.
const chatIDPrefix = "telegram:"

// TelegramChannel implements Channel against the message pipeline (C7):
// inbound updates become pipeline.Enqueue calls, and outbound delivery and
// edit/delete actions are satisfied via bot.Send/bot.Request.
type TelegramChannel struct {
	token      string
	allowedIDs map[int64]struct{}
	group      string
	pipe       *pipeline.Pipeline
	logger     *slog.Logger
	bot        *tgbotapi.BotAPI

	recallCfg      pipeline.RecallConfig
	toolPolicy     map[string]any
	behaviorConfig map[string]any
	maxToolSteps   int
	timeoutMs      int64
}

// NewTelegramChannel constructs a Telegram adapter bound to group and the
// given pipeline. allowedIDs restricts which Telegram user IDs may submit
// messages; an empty allowlist means no restriction is enforced.
func NewTelegramChannel(token string, allowedIDs []int64, group string, pipe *pipeline.Pipeline, logger *slog.Logger) *TelegramChannel {
	allowed := make(map[int64]struct{})
	for _, id := range allowedIDs {
		allowed[id] = struct{}{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &TelegramChannel{
		token:      token,
		allowedIDs: allowed,
		group:      group,
		pipe:       pipe,
		logger:     logger,
		recallCfg:  pipeline.RecallConfig{MaxResults: 20, MaxTokens: 2000},
		timeoutMs:  120_000,
	}
}

func (t *TelegramChannel) Name() string { return "telegram" }

func (t *TelegramChannel) Start(ctx context.Context) error {
	var err error
	t.bot, err = tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram init failed: %w", err)
	}
	t.logger.Info("telegram bot started", "user", t.bot.Self.UserName)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		u := tgbotapi.NewUpdate(0)
		u.Timeout = 60
		updates := t.bot.GetUpdatesChan(u)

		pollErr := t.pollUpdates(ctx, updates)
		t.bot.StopReceivingUpdates()

		if pollErr != nil {
			t.logger.Warn("telegram poll disconnected, reconnecting", "error", pollErr, "backoff", backoff)
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

// pollUpdates reads from the update channel until ctx is done, the channel
// closes, or no updates arrive within 2.5x the long-poll timeout (stall
// detection — tgbotapi blocks rather than closing the channel on a dead
// connection).
func (t *TelegramChannel) pollUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	const stallTimeout = 150 * time.Second

	timer := time.NewTimer(stallTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case update, ok := <-updates:
			if !ok {
				return fmt.Errorf("update channel closed")
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(stallTimeout)

			if update.Message != nil {
				if len(t.allowedIDs) > 0 {
					if _, ok := t.allowedIDs[update.Message.From.ID]; !ok {
						t.logger.Warn("telegram access denied", "user_id", update.Message.From.ID, "user_name", update.Message.From.UserName)
						continue
					}
				}
				t.handleMessage(ctx, update.Message)
			}

		case <-timer.C:
			return fmt.Errorf("no updates received for %v (possible disconnect)", stallTimeout)
		}
	}
}

func (t *TelegramChannel) handleMessage(ctx context.Context, msg *tgbotapi.Message) {
	content := strings.TrimSpace(msg.Text)
	if content == "" {
		return
	}

	chatID := fmt.Sprintf("%s%d", chatIDPrefix, msg.Chat.ID)
	senderID := strconv.FormatInt(msg.From.ID, 10)

	rec := queue.EnqueueRecord{
		ChatID:        chatID,
		PlatformMsgID: strconv.Itoa(msg.MessageID),
		SenderID:      senderID,
		SenderName:    msg.From.UserName,
		Content:       content,
		ChannelID:     "telegram",
		Timestamp:     msg.Time(),
	}
	binding := pipeline.ChatBinding{
		Group:      t.group,
		UserID:     senderID,
		Provider:   "telegram",
		SessionID:  chatID,
		Channel:    sandbox.ChannelMetadata{Platform: "telegram", ChatID: chatID},
		MaxToolSteps:   t.maxToolSteps,
		TimeoutMs:      t.timeoutMs,
		ToolPolicy:     t.toolPolicy,
		BehaviorConfig: t.behaviorConfig,
		RecallConfig:   t.recallCfg,
	}

	if _, err := t.pipe.Enqueue(ctx, rec, binding); err != nil {
		t.logger.Warn("telegram: failed to enqueue message", "chat_id", chatID, "error", err)
		t.reply(msg.Chat.ID, fmt.Sprintf("Error: %v", err))
	}
}

// Deliver implements pipeline.DeliverFunc.
func (t *TelegramChannel) Deliver(ctx context.Context, chatID, threadID, text string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msg := tgbotapi.NewMessage(id, text)
	_, err = t.bot.Send(msg)
	return err
}

// EditMessage implements ipc.MessageEditor for the edit_message action.
func (t *TelegramChannel) EditMessage(ctx context.Context, chatID, platformMsgID, newText string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(platformMsgID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", platformMsgID, err)
	}
	edit := tgbotapi.NewEditMessageText(id, msgID, newText)
	_, err = t.bot.Send(edit)
	return err
}

// DeleteMessage implements ipc.MessageEditor for the delete_message action.
func (t *TelegramChannel) DeleteMessage(ctx context.Context, chatID, platformMsgID string) error {
	id, err := parseChatID(chatID)
	if err != nil {
		return err
	}
	msgID, err := strconv.Atoi(platformMsgID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q: %w", platformMsgID, err)
	}
	_, err = t.bot.Request(tgbotapi.NewDeleteMessage(id, msgID))
	return err
}

func (t *TelegramChannel) reply(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		t.logger.Error("failed to send telegram reply", "error", err)
	}
}

func parseChatID(chatID string) (int64, error) {
	trimmed := strings.TrimPrefix(chatID, chatIDPrefix)
	id, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q: %w", chatID, err)
	}
	return id, nil
}
