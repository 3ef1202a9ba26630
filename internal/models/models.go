package models

import (
	"encoding/json"
	"time"
)

type SubscriptionStatus string

const (
	SubscriptionNone     SubscriptionStatus = "none"
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type MessageType string

const (
	PhotoMessage MessageType = "photo"
	TextMessage  MessageType = "text"
)

// Action names the capability invoked for a message. The values double as
// callback-query suffixes (act_<action>) and must stay stable: they are
// persisted on message rows and carried inside queued job payloads.
type Action string

const (
	ActionAnswerQuestion Action = "answer_question"
	ActionPickupLines    Action = "pickup_lines"
	ActionConvoStarters  Action = "convo_starters"
	ActionConvoReplies   Action = "convo_replies"
	ActionDateIdeas      Action = "date_ideas"
)

// RefineType is the tweak requested by a refine_<type> callback.
type RefineType string

const (
	RefineLonger    RefineType = "longer"
	RefineShorter   RefineType = "shorter"
	RefineMoreSpicy RefineType = "more_spicy"
	RefineLessSpicy RefineType = "less_spicy"
)

// Account represents one end user, reachable through Telegram or through the
// companion web app. Deleted accounts are tombstoned via DeletedAt, never
// removed.
type Account struct {
	ID                    string             `json:"id"`
	TelegramUserID        int64              `json:"telegram_user_id,omitempty"`
	TelegramFirstName     string             `json:"telegram_first_name,omitempty"`
	TelegramLastName      string             `json:"telegram_last_name,omitempty"`
	TelegramUsername      string             `json:"telegram_username,omitempty"`
	TelegramLanguageCode  string             `json:"telegram_language_code,omitempty"`
	TelegramIsPremium     bool               `json:"telegram_is_premium,omitempty"`
	Provider              string             `json:"provider,omitempty"`
	ProviderPK            string             `json:"provider_pk,omitempty"`
	EmailAddress          string             `json:"email_address,omitempty"`
	FullName              string             `json:"full_name,omitempty"`
	MessagesRemaining     int                `json:"messages_remaining"`
	MessagesTotal         int                `json:"messages_total"`
	SubscriptionStatus    SubscriptionStatus `json:"subscription_status"`
	SubscriptionPeriodEnd *time.Time         `json:"subscription_period_end,omitempty"`
	StripeCustomerID      string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID  string             `json:"stripe_subscription_id,omitempty"`
	DefaultTone           string             `json:"default_tone,omitempty"`
	CreatedAt             time.Time          `json:"created_at"`
	DeletedAt             *time.Time         `json:"deleted_at,omitempty"`
}

// Message is one inbound attachment/text or one outbound reply. Rows are
// append-only; (ChatID, TelegramMessageID) is unique per chat and serves as
// the ingestion idempotency key.
type Message struct {
	ID                string          `json:"id"`
	AccountID         string          `json:"account_id"`
	ChatID            int64           `json:"chat_id"`
	TelegramMessageID int             `json:"telegram_message_id"`
	Role              MessageRole     `json:"role"`
	Type              MessageType     `json:"type"`
	TelegramFileID    string          `json:"telegram_file_id,omitempty"`
	Text              string          `json:"text,omitempty"`
	Analysis          json.RawMessage `json:"analysis,omitempty"`
	Action            Action          `json:"action,omitempty"`
	ReplyToID         *string         `json:"reply_to_id,omitempty"`
	RefinementOfID    *string         `json:"refinement_of_id,omitempty"`
	RefineType        RefineType      `json:"refine_type,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

// TokenUsage is an append-only ledger entry, one per capability invocation.
type TokenUsage struct {
	ID           string    `json:"id"`
	AccountID    string    `json:"account_id"`
	Model        string    `json:"model"`
	InputTokens  int       `json:"input_tokens"`
	OutputTokens int       `json:"output_tokens"`
	TotalTokens  int       `json:"total_tokens"`
	CreatedAt    time.Time `json:"created_at"`
}

// BillingEvent records every received billing webhook event verbatim.
type BillingEvent struct {
	ID            string          `json:"id"`
	StripeEventID string          `json:"stripe_event_id"`
	Type          string          `json:"type"`
	Data          json.RawMessage `json:"data"`
	CreatedAt     time.Time       `json:"created_at"`
}

// IsSubscriptionActive reports whether the account holds a currently valid
// subscription. A period end exactly equal to now counts as expired.
func (a *Account) IsSubscriptionActive(now time.Time) bool {
	return a.SubscriptionStatus == SubscriptionActive &&
		a.SubscriptionPeriodEnd != nil &&
		a.SubscriptionPeriodEnd.After(now)
}
