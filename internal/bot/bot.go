// Package bot is the Telegram entry point: it receives updates, gates them,
// records inbound messages and enqueues the analysis work. No model calls
// happen here; anything slow goes through the queue.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/linecraftx/linecraft-bot/internal/auth"
	"github.com/linecraftx/linecraft-bot/internal/entitlement"
	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/queue"
	"github.com/linecraftx/linecraft-bot/internal/storage"
	"github.com/linecraftx/linecraft-bot/internal/tasks"
	"github.com/linecraftx/linecraft-bot/internal/telegram"
)

const (
	workingText        = "🤔 Working on it..."
	notLinkedText      = "Please run /start first so I can set up your account."
	rateLimitedText    = "🚦 You've hit the usage limit for now. Please try again later."
	actionMenuText     = "What would you like me to do with this photo?"
	contextExpiredText = "⚠️ I've lost the context for this message. Please upload the photo again."
)

// SubscriptionCanceler cancels an account's subscription with the payment
// provider.
type SubscriptionCanceler interface {
	CancelSubscription(ctx context.Context, account *models.Account) error
}

type Deps struct {
	Client  telegram.Client
	Storage storage.Storage
	Gate    *entitlement.Gate
	Queue   queue.Enqueuer
	Tokens  *auth.TokenIssuer
	Billing SubscriptionCanceler
	Logger  *zap.Logger
}

type Bot struct {
	api     *tgbotapi.BotAPI
	tg      telegram.Client
	storage storage.Storage
	gate    *entitlement.Gate
	queue   queue.Enqueuer
	tokens  *auth.TokenIssuer
	billing SubscriptionCanceler
	logger  *zap.Logger

	freeMessages int
	webBaseURL   string
}

func New(api *tgbotapi.BotAPI, deps Deps, freeMessages int, webBaseURL string) *Bot {
	return &Bot{
		api:          api,
		tg:           deps.Client,
		storage:      deps.Storage,
		gate:         deps.Gate,
		queue:        deps.Queue,
		tokens:       deps.Tokens,
		billing:      deps.Billing,
		logger:       deps.Logger,
		freeMessages: freeMessages,
		webBaseURL:   webBaseURL,
	}
}

// Start runs the long-polling loop until ctx is canceled.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			go b.HandleUpdate(context.Background(), update)
		}
	}
}

// HandleUpdate routes one update. Exported so handlers can be exercised
// without a polling loop.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	switch {
	case update.CallbackQuery != nil:
		b.handleCallback(ctx, update.CallbackQuery)
	case update.Message == nil:
		return
	case update.Message.IsCommand():
		b.handleCommand(ctx, update.Message)
	case len(update.Message.Photo) > 0:
		b.handlePhoto(ctx, update.Message)
	case update.Message.Text != "":
		b.handleText(ctx, update.Message)
	}
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(ctx, message)
	case "help":
		b.sendText(message.Chat.ID, helpText)
	case "usage":
		b.handleUsage(ctx, message)
	case "subscription":
		b.handleSubscription(ctx, message)
	case "cancel":
		b.handleCancel(ctx, message)
	case "terms":
		b.sendText(message.Chat.ID, termsText)
	case "privacy":
		b.sendText(message.Chat.ID, privacyText)
	default:
		b.sendText(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(ctx context.Context, message *tgbotapi.Message) {
	acc, err := b.storage.GetOrCreateTelegramAccount(ctx, storage.NewTelegramAccount{
		TelegramUserID:       message.From.ID,
		TelegramFirstName:    message.From.FirstName,
		TelegramLastName:     message.From.LastName,
		TelegramUsername:     message.From.UserName,
		TelegramLanguageCode: message.From.LanguageCode,
		TelegramIsPremium:    message.From.IsPremium,
		FreeMessages:         b.freeMessages,
	})
	if err != nil {
		b.logger.Error("Failed to create account",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	b.sendText(message.Chat.ID, fmt.Sprintf(welcomeText, acc.MessagesRemaining))
}

func (b *Bot) handleUsage(ctx context.Context, message *tgbotapi.Message) {
	acc, err := b.storage.GetAccountByTelegramID(ctx, message.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendText(message.Chat.ID, notLinkedText)
		return
	}
	if err != nil {
		b.logger.Error("Failed to load account",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	if acc.IsSubscriptionActive(time.Now()) {
		b.sendText(message.Chat.ID, "Your subscription is active. Enjoy!")
		return
	}
	b.sendText(message.Chat.ID, fmt.Sprintf("You have %d of %d free messages left.",
		acc.MessagesRemaining, acc.MessagesTotal))
}

func (b *Bot) handleSubscription(ctx context.Context, message *tgbotapi.Message) {
	acc, err := b.storage.GetAccountByTelegramID(ctx, message.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendText(message.Chat.ID, notLinkedText)
		return
	}
	if err != nil {
		b.logger.Error("Failed to load account",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	if acc.IsSubscriptionActive(time.Now()) {
		text := "Your subscription is active"
		if acc.SubscriptionPeriodEnd != nil {
			text += " until " + acc.SubscriptionPeriodEnd.Format("Jan 2, 2006")
		}
		b.sendText(message.Chat.ID, text+". Use /cancel to cancel it.")
		return
	}

	link, err := b.upgradeLink(acc.ID)
	if err != nil {
		b.logger.Error("Failed to build upgrade link",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}
	b.sendText(message.Chat.ID, "Unlock unlimited messages with a subscription:\n"+link)
}

func (b *Bot) handleCancel(ctx context.Context, message *tgbotapi.Message) {
	acc, err := b.storage.GetAccountByTelegramID(ctx, message.From.ID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendText(message.Chat.ID, notLinkedText)
		return
	}
	if err != nil || acc.StripeSubscriptionID == "" {
		b.sendText(message.Chat.ID, "You don't have an active subscription to cancel.")
		return
	}

	if err := b.billing.CancelSubscription(ctx, acc); err != nil {
		b.logger.Error("Failed to cancel subscription",
			zap.Error(err),
			zap.String("account_id", acc.ID))
		b.sendText(message.Chat.ID, "Sorry, the cancellation didn't go through. Please try again.")
		return
	}
	b.sendText(message.Chat.ID, "Your subscription has been canceled. You can keep using it until the end of the paid period.")
}

// handlePhoto records the upload and offers the capability menu. The actual
// work is only enqueued once the user picks an action.
func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	acc, decision, err := b.gate.CheckTelegramUser(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Entitlement check failed",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}
	if !decision.Allowed {
		b.sendDenial(decision, acc, message.Chat.ID)
		return
	}

	// Largest size last per the Bot API.
	fileID := message.Photo[len(message.Photo)-1].FileID

	err = b.storage.CreateMessage(ctx, &models.Message{
		AccountID:         acc.ID,
		ChatID:            message.Chat.ID,
		TelegramMessageID: message.MessageID,
		Role:              models.RoleUser,
		Type:              models.PhotoMessage,
		TelegramFileID:    fileID,
		Text:              message.Caption,
	})
	if errors.Is(err, storage.ErrDuplicateMessage) {
		b.logger.Info("Duplicate photo update ignored",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int("message_id", message.MessageID))
		return
	}
	if err != nil {
		b.logger.Error("Failed to record photo message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	if _, err := b.tg.SendMessage(telegram.Outgoing{
		ChatID:           message.Chat.ID,
		Text:             actionMenuText,
		ReplyToMessageID: message.MessageID,
		ReplyMarkup:      telegram.ActionMenu(),
	}); err != nil {
		b.logger.Error("Failed to send action menu",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}
}

// handleText records the message, posts a placeholder and enqueues solving.
func (b *Bot) handleText(ctx context.Context, message *tgbotapi.Message) {
	acc, decision, err := b.gate.CheckTelegramUser(ctx, message.From.ID)
	if err != nil {
		b.logger.Error("Entitlement check failed",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}
	if !decision.Allowed {
		b.sendDenial(decision, acc, message.Chat.ID)
		return
	}

	err = b.storage.CreateMessage(ctx, &models.Message{
		AccountID:         acc.ID,
		ChatID:            message.Chat.ID,
		TelegramMessageID: message.MessageID,
		Role:              models.RoleUser,
		Type:              models.TextMessage,
		Text:              message.Text,
	})
	if errors.Is(err, storage.ErrDuplicateMessage) {
		b.logger.Info("Duplicate text update ignored",
			zap.Int64("chat_id", message.Chat.ID),
			zap.Int("message_id", message.MessageID))
		return
	}
	if err != nil {
		b.logger.Error("Failed to record text message",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
		return
	}

	statusID, err := b.tg.SendMessage(telegram.Outgoing{
		ChatID:           message.Chat.ID,
		Text:             workingText,
		ReplyToMessageID: message.MessageID,
	})
	if err != nil {
		b.logger.Error("Failed to send placeholder",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
	}

	if err := b.queue.Enqueue(ctx, tasks.AnalyzeTextArgs{
		ChatID:           message.Chat.ID,
		ReplyToMessageID: message.MessageID,
		StatusMessageID:  statusID,
		Text:             message.Text,
	}); err != nil {
		b.logger.Error("Failed to enqueue text analysis",
			zap.Error(err),
			zap.Int64("chat_id", message.Chat.ID))
		b.sendText(message.Chat.ID, "Sorry, something went wrong. Please try again.")
	}
}

func (b *Bot) handleCallback(ctx context.Context, callback *tgbotapi.CallbackQuery) {
	if err := b.tg.AnswerCallback(callback.ID, ""); err != nil {
		b.logger.Warn("Failed to answer callback query",
			zap.Error(err),
			zap.String("callback_id", callback.ID))
	}

	if callback.Message == nil {
		return
	}
	chatID := callback.Message.Chat.ID

	acc, decision, err := b.gate.CheckTelegramUser(ctx, callback.From.ID)
	if err != nil {
		b.logger.Error("Entitlement check failed",
			zap.Error(err),
			zap.Int64("user_id", callback.From.ID))
		b.sendText(chatID, "Sorry, something went wrong. Please try again.")
		return
	}
	if !decision.Allowed {
		b.sendDenial(decision, acc, chatID)
		return
	}

	data := callback.Data
	switch {
	case strings.HasPrefix(data, telegram.ActionCallbackPrefix):
		action := models.Action(strings.TrimPrefix(data, telegram.ActionCallbackPrefix))
		b.handleActionCallback(ctx, callback, action)
	case strings.HasPrefix(data, telegram.RefineCallbackPrefix):
		refine := models.RefineType(strings.TrimPrefix(data, telegram.RefineCallbackPrefix))
		b.handleRefineCallback(ctx, callback, refine)
	default:
		b.logger.Warn("Unknown callback data",
			zap.String("data", data),
			zap.Int64("chat_id", chatID))
	}
}

// handleActionCallback turns a menu choice into an analyzeImage job. The menu
// message doubles as the placeholder.
func (b *Bot) handleActionCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, action models.Action) {
	chatID := callback.Message.Chat.ID
	photoMsg := callback.Message.ReplyToMessage
	if photoMsg == nil {
		b.sendText(chatID, contextExpiredText)
		return
	}

	stored, err := b.storage.GetMessageByChatAndTelegramID(ctx, chatID, photoMsg.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendText(chatID, contextExpiredText)
		return
	}
	if err != nil {
		b.logger.Error("Failed to load photo message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendText(chatID, "Sorry, something went wrong. Please try again.")
		return
	}

	if err := b.tg.EditMessageText(chatID, callback.Message.MessageID, workingText); err != nil {
		b.logger.Warn("Failed to edit menu message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}

	if err := b.queue.Enqueue(ctx, tasks.AnalyzeImageArgs{
		ChatID:           chatID,
		ReplyToMessageID: photoMsg.MessageID,
		StatusMessageID:  callback.Message.MessageID,
		FileID:           stored.TelegramFileID,
		Action:           action,
	}); err != nil {
		b.logger.Error("Failed to enqueue image analysis",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendText(chatID, "Sorry, something went wrong. Please try again.")
	}
}

// handleRefineCallback turns a tweak choice into a refinement job against the
// stored assistant message the button was attached to.
func (b *Bot) handleRefineCallback(ctx context.Context, callback *tgbotapi.CallbackQuery, refine models.RefineType) {
	chatID := callback.Message.Chat.ID

	stored, err := b.storage.GetMessageByChatAndTelegramID(ctx, chatID, callback.Message.MessageID)
	if errors.Is(err, storage.ErrNotFound) {
		b.sendText(chatID, contextExpiredText)
		return
	}
	if err != nil {
		b.logger.Error("Failed to load message to refine",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendText(chatID, "Sorry, something went wrong. Please try again.")
		return
	}

	if err := b.queue.Enqueue(ctx, tasks.RefinementArgs{
		ChatID:            chatID,
		ReplyToMessageID:  callback.Message.MessageID,
		OriginalMessageID: stored.ID,
		RefineType:        refine,
	}); err != nil {
		b.logger.Error("Failed to enqueue refinement",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
		b.sendText(chatID, "Sorry, something went wrong. Please try again.")
	}
}

// sendDenial explains why the gate said no. Paywall denials carry a signed
// one-time link into the web checkout.
func (b *Bot) sendDenial(decision entitlement.Decision, acc *models.Account, chatID int64) {
	switch decision.Reason {
	case entitlement.DenyNotLinked:
		b.sendText(chatID, notLinkedText)
	case entitlement.DenyRateLimited:
		b.sendText(chatID, rateLimitedText)
	case entitlement.DenyPaywall:
		link, err := b.upgradeLink(acc.ID)
		if err != nil {
			b.logger.Error("Failed to build upgrade link",
				zap.Error(err),
				zap.String("account_id", acc.ID))
			b.sendText(chatID, "You're out of free messages.")
			return
		}
		b.sendText(chatID, "You're out of free messages. Unlock unlimited access here:\n"+link)
	}
}

func (b *Bot) upgradeLink(accountID string) (string, error) {
	token, err := b.tokens.Issue(accountID)
	if err != nil {
		return "", err
	}
	return b.webBaseURL + "/subscribe?token=" + token, nil
}

func (b *Bot) sendText(chatID int64, text string) {
	if _, err := b.tg.SendMessage(telegram.Outgoing{ChatID: chatID, Text: text}); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
