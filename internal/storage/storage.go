package storage

import (
	"context"
	"errors"
	"time"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrDuplicateMessage is returned when a message with the same
	// (chat_id, telegram_message_id) already exists. Handlers treat it as
	// "already processed" and stop silently.
	ErrDuplicateMessage = errors.New("duplicate message")
)

// NewTelegramAccount carries the identity fields captured on first contact.
type NewTelegramAccount struct {
	TelegramUserID       int64
	TelegramFirstName    string
	TelegramLastName     string
	TelegramUsername     string
	TelegramLanguageCode string
	TelegramIsPremium    bool
	FreeMessages         int
}

// SubscriptionUpdate is what a billing event writes onto an account.
type SubscriptionUpdate struct {
	Status               models.SubscriptionStatus
	PeriodEnd            *time.Time
	StripeSubscriptionID string
	// ResetQuota, when > 0, resets messages_remaining and messages_total.
	ResetQuota int
}

type Storage interface {
	GetAccountByID(ctx context.Context, id string) (*models.Account, error)
	GetAccountByTelegramID(ctx context.Context, telegramUserID int64) (*models.Account, error)
	GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	GetOrCreateTelegramAccount(ctx context.Context, acc NewTelegramAccount) (*models.Account, error)
	SetStripeCustomerID(ctx context.Context, accountID, customerID string) error
	UpdateSubscription(ctx context.Context, accountID string, upd SubscriptionUpdate) error
	UpdateDefaultTone(ctx context.Context, accountID, tone string) error
	SoftDeleteAccount(ctx context.Context, accountID string) error

	// DecrementMessagesRemaining decrements the quota counter atomically,
	// never below zero.
	DecrementMessagesRemaining(ctx context.Context, accountID string) error

	CreateMessage(ctx context.Context, msg *models.Message) error
	GetMessageByID(ctx context.Context, id string) (*models.Message, error)
	GetMessageByChatAndTelegramID(ctx context.Context, chatID int64, telegramMessageID int) (*models.Message, error)

	CreateTokenUsage(ctx context.Context, usage *models.TokenUsage) error
	SumTokenUsageSince(ctx context.Context, accountID string, since time.Time) (int64, error)

	CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error

	Close() error
}
