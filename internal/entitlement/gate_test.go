package entitlement

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
)

var testLimits = Limits{
	TokenWindow:      14 * 24 * time.Hour,
	TokenWindowLimit: 1_000_000,
}

func TestEvaluate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(24 * time.Hour)
	past := now.Add(-24 * time.Hour)

	tests := []struct {
		name           string
		account        *models.Account
		trailingTokens int64
		wantAllowed    bool
		wantReason     DenyReason
	}{
		{
			name:       "nil account is not linked",
			account:    nil,
			wantReason: DenyNotLinked,
		},
		{
			name: "active subscription under token limit",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionActive,
				SubscriptionPeriodEnd: &future,
			},
			trailingTokens: 999_999,
			wantAllowed:    true,
		},
		{
			name: "active subscription at token limit is denied",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionActive,
				SubscriptionPeriodEnd: &future,
			},
			trailingTokens: 1_000_000,
			wantReason:     DenyRateLimited,
		},
		{
			name: "active subscription ignores empty message quota",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionActive,
				SubscriptionPeriodEnd: &future,
				MessagesRemaining:     0,
			},
			wantAllowed: true,
		},
		{
			name: "period end exactly now is not active",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionActive,
				SubscriptionPeriodEnd: &now,
				MessagesRemaining:     0,
			},
			wantReason: DenyPaywall,
		},
		{
			name: "expired subscription falls back to message quota",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionActive,
				SubscriptionPeriodEnd: &past,
				MessagesRemaining:     3,
			},
			wantAllowed: true,
		},
		{
			name: "canceled subscription with quota left",
			account: &models.Account{
				SubscriptionStatus:    models.SubscriptionCanceled,
				SubscriptionPeriodEnd: &future,
				MessagesRemaining:     1,
			},
			wantAllowed: true,
		},
		{
			name: "no subscription and no quota hits paywall",
			account: &models.Account{
				SubscriptionStatus: models.SubscriptionNone,
				MessagesRemaining:  0,
			},
			wantReason: DenyPaywall,
		},
		{
			name: "free tier with one message left",
			account: &models.Account{
				SubscriptionStatus: models.SubscriptionNone,
				MessagesRemaining:  1,
			},
			wantAllowed: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.account, tt.trailingTokens, testLimits, now)
			assert.Equal(t, tt.wantAllowed, got.Allowed)
			if !tt.wantAllowed {
				assert.Equal(t, tt.wantReason, got.Reason)
			}
		})
	}
}

func TestGateCheckSumsUsageForSubscribers(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	gate := NewGate(store, testLimits)

	future := time.Now().Add(30 * 24 * time.Hour)
	acc := &models.Account{
		ID:                    "acc-1",
		SubscriptionStatus:    models.SubscriptionActive,
		SubscriptionPeriodEnd: &future,
	}
	store.PutAccount(acc)

	for i := 0; i < 2; i++ {
		require.NoError(t, store.CreateTokenUsage(ctx, &models.TokenUsage{
			AccountID:   "acc-1",
			Model:       "test-model",
			TotalTokens: 600_000,
		}))
	}

	decision, err := gate.Check(ctx, acc)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyRateLimited, decision.Reason)
}

func TestGateCheckTelegramUserNotLinked(t *testing.T) {
	store := storage.NewMemoryStorage()
	gate := NewGate(store, testLimits)

	acc, decision, err := gate.CheckTelegramUser(context.Background(), 42)
	require.NoError(t, err)
	assert.Nil(t, acc)
	assert.False(t, decision.Allowed)
	assert.Equal(t, DenyNotLinked, decision.Reason)
}
