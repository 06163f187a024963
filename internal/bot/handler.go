package bot

import (
	"bytes"
	"context"
	"fmt"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"
)

// SubscriberStore is the slice of the repository the command handlers need.
type SubscriberStore interface {
	Subscribe(ctx context.Context, userID int64) error
	Unsubscribe(ctx context.Context, userID int64) error
}

// Handler wires the Telegram bot: inbound subscribe/unsubscribe commands and
// the outbound sends used by the dispatcher and the crash reporter.
type Handler struct {
	bot   *tgbot.Bot
	store SubscriberStore
	log   logrus.FieldLogger
}

// NewHandler creates the bot instance and registers the command handlers.
func NewHandler(token string, store SubscriberStore, logger logrus.FieldLogger) (*Handler, error) {
	log := logger.WithField("component", "bot")

	b, err := tgbot.New(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	h := &Handler{
		bot:   b,
		store: store,
		log:   log,
	}

	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/start", tgbot.MatchTypeExact, h.startHandler)
	b.RegisterHandler(tgbot.HandlerTypeMessageText, "/stop", tgbot.MatchTypeExact, h.stopHandler)

	log.Info("Telegram bot handler initialized")
	return h, nil
}

// Start begins polling for updates. Blocks until the context is cancelled.
func (h *Handler) Start(ctx context.Context) {
	h.log.Info("Starting Telegram bot polling...")
	h.bot.Start(ctx)
	h.log.Info("Telegram bot polling stopped")
}

// startHandler subscribes the sender to listing updates.
func (h *Handler) startHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	userID := update.Message.From.ID
	log := h.log.WithFields(logrus.Fields{"user_id": userID, "command": "/start"})

	if err := h.store.Subscribe(ctx, userID); err != nil {
		log.WithError(err).Error("Failed to subscribe user")
		return
	}
	h.reply(ctx, update.Message.Chat.ID, "You have subscribed to updates!", log)
}

// stopHandler removes the sender from the subscriber list.
func (h *Handler) stopHandler(ctx context.Context, b *tgbot.Bot, update *models.Update) {
	if update.Message == nil || update.Message.From == nil {
		return
	}
	userID := update.Message.From.ID
	log := h.log.WithFields(logrus.Fields{"user_id": userID, "command": "/stop"})

	if err := h.store.Unsubscribe(ctx, userID); err != nil {
		log.WithError(err).Error("Failed to unsubscribe user")
		return
	}
	h.reply(ctx, update.Message.Chat.ID, "You have unsubscribed from updates.", log)
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, log logrus.FieldLogger) {
	_, err := h.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		log.WithError(err).Error("Failed to send reply")
	}
}

// SendText delivers an HTML-formatted message to one chat.
func (h *Handler) SendText(ctx context.Context, chatID int64, text string) error {
	_, err := h.bot.SendMessage(ctx, &tgbot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		return fmt.Errorf("failed to send message to %d: %w", chatID, err)
	}
	return nil
}

// SendFile uploads data as a document with a caption.
func (h *Handler) SendFile(ctx context.Context, chatID int64, data []byte, filename, caption string) error {
	_, err := h.bot.SendDocument(ctx, &tgbot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: filename,
			Data:     bytes.NewReader(data),
		},
		Caption: caption,
	})
	if err != nil {
		return fmt.Errorf("failed to send document to %d: %w", chatID, err)
	}
	return nil
}
