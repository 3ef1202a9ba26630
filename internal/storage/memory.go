package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/linecraftx/linecraft-bot/internal/models"
)

type messageKey struct {
	chatID            int64
	telegramMessageID int
}

// MemoryStorage is an in-memory Storage used for local development and tests.
type MemoryStorage struct {
	mu            sync.RWMutex
	accounts      map[string]*models.Account
	messages      map[string]*models.Message
	messageKeys   map[messageKey]string
	tokenUsage    []*models.TokenUsage
	billingEvents []*models.BillingEvent
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		accounts:    make(map[string]*models.Account),
		messages:    make(map[string]*models.Message),
		messageKeys: make(map[messageKey]string),
	}
}

func (s *MemoryStorage) GetAccountByID(ctx context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	acc, ok := s.accounts[id]
	if !ok || acc.DeletedAt != nil {
		return nil, ErrNotFound
	}
	copied := *acc
	return &copied, nil
}

func (s *MemoryStorage) GetAccountByTelegramID(ctx context.Context, telegramUserID int64) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.TelegramUserID == telegramUserID && acc.DeletedAt == nil {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetAccountByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, acc := range s.accounts {
		if acc.StripeCustomerID == customerID && acc.DeletedAt == nil {
			copied := *acc
			return &copied, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStorage) GetOrCreateTelegramAccount(ctx context.Context, acc NewTelegramAccount) (*models.Account, error) {
	if existing, err := s.GetAccountByTelegramID(ctx, acc.TelegramUserID); err == nil {
		return existing, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	created := &models.Account{
		ID:                   uuid.New().String(),
		TelegramUserID:       acc.TelegramUserID,
		TelegramFirstName:    acc.TelegramFirstName,
		TelegramLastName:     acc.TelegramLastName,
		TelegramUsername:     acc.TelegramUsername,
		TelegramLanguageCode: acc.TelegramLanguageCode,
		TelegramIsPremium:    acc.TelegramIsPremium,
		MessagesRemaining:    acc.FreeMessages,
		MessagesTotal:        acc.FreeMessages,
		SubscriptionStatus:   models.SubscriptionNone,
		CreatedAt:            time.Now(),
	}
	s.accounts[created.ID] = created
	copied := *created
	return &copied, nil
}

// PutAccount seeds an account directly. Test helper.
func (s *MemoryStorage) PutAccount(acc *models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if acc.ID == "" {
		acc.ID = uuid.New().String()
	}
	copied := *acc
	s.accounts[acc.ID] = &copied
}

func (s *MemoryStorage) SetStripeCustomerID(ctx context.Context, accountID, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	acc.StripeCustomerID = customerID
	return nil
}

func (s *MemoryStorage) UpdateSubscription(ctx context.Context, accountID string, upd SubscriptionUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	acc.SubscriptionStatus = upd.Status
	acc.SubscriptionPeriodEnd = upd.PeriodEnd
	if upd.StripeSubscriptionID != "" {
		acc.StripeSubscriptionID = upd.StripeSubscriptionID
	}
	if upd.ResetQuota > 0 {
		acc.MessagesRemaining = upd.ResetQuota
		acc.MessagesTotal = upd.ResetQuota
	}
	return nil
}

func (s *MemoryStorage) UpdateDefaultTone(ctx context.Context, accountID, tone string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	acc.DefaultTone = tone
	return nil
}

func (s *MemoryStorage) SoftDeleteAccount(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now()
	acc.DeletedAt = &now
	return nil
}

func (s *MemoryStorage) DecrementMessagesRemaining(ctx context.Context, accountID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[accountID]
	if !ok {
		return ErrNotFound
	}
	if acc.MessagesRemaining > 0 {
		acc.MessagesRemaining--
	}
	return nil
}

func (s *MemoryStorage) CreateMessage(ctx context.Context, msg *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := messageKey{chatID: msg.ChatID, telegramMessageID: msg.TelegramMessageID}
	if _, exists := s.messageKeys[key]; exists {
		return ErrDuplicateMessage
	}

	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	msg.CreatedAt = time.Now()

	copied := *msg
	s.messages[msg.ID] = &copied
	s.messageKeys[key] = msg.ID
	return nil
}

func (s *MemoryStorage) GetMessageByID(ctx context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *msg
	return &copied, nil
}

func (s *MemoryStorage) GetMessageByChatAndTelegramID(ctx context.Context, chatID int64, telegramMessageID int) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.messageKeys[messageKey{chatID: chatID, telegramMessageID: telegramMessageID}]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.messages[id]
	return &copied, nil
}

func (s *MemoryStorage) CreateTokenUsage(ctx context.Context, usage *models.TokenUsage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if usage.ID == "" {
		usage.ID = uuid.New().String()
	}
	usage.CreatedAt = time.Now()
	copied := *usage
	s.tokenUsage = append(s.tokenUsage, &copied)
	return nil
}

func (s *MemoryStorage) SumTokenUsageSince(ctx context.Context, accountID string, since time.Time) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var total int64
	for _, u := range s.tokenUsage {
		if u.AccountID == accountID && !u.CreatedAt.Before(since) {
			total += int64(u.TotalTokens)
		}
	}
	return total, nil
}

// TokenUsageCount reports how many usage rows exist for an account. Test helper.
func (s *MemoryStorage) TokenUsageCount(accountID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, u := range s.tokenUsage {
		if u.AccountID == accountID {
			count++
		}
	}
	return count
}

// MessageCount reports how many message rows exist. Test helper.
func (s *MemoryStorage) MessageCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *MemoryStorage) CreateBillingEvent(ctx context.Context, event *models.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	event.CreatedAt = time.Now()
	copied := *event
	s.billingEvents = append(s.billingEvents, &copied)
	return nil
}

func (s *MemoryStorage) Close() error {
	return nil
}

var _ Storage = (*MemoryStorage)(nil)
