// Package entitlement decides whether an account may invoke the paid
// capability right now. Both entry points (the Telegram bot and the web API)
// share the same Evaluate function so the thresholds live in exactly one
// place.
package entitlement

import (
	"context"
	"errors"
	"time"

	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
)

type DenyReason string

const (
	// DenyNotLinked: no account resolvable from the inbound identity.
	DenyNotLinked DenyReason = "not_linked"
	// DenyRateLimited: active subscription but too many tokens in the
	// trailing usage window.
	DenyRateLimited DenyReason = "rate_limited"
	// DenyPaywall: free quota exhausted and no active subscription.
	DenyPaywall DenyReason = "paywall"
)

type Decision struct {
	Allowed bool
	Reason  DenyReason
}

var allow = Decision{Allowed: true}

// Limits holds the gate thresholds.
type Limits struct {
	TokenWindow      time.Duration
	TokenWindowLimit int64
}

// Evaluate applies the gate rules to a single account snapshot.
//
// Active subscribers are allowed unless their token usage over the trailing
// window has reached the limit (a reached limit denies, i.e. >= is a deny).
// Everyone else is allowed while messagesRemaining > 0. A nil account is a
// not-linked deny, distinct from a quota deny.
func Evaluate(acc *models.Account, trailingTokens int64, limits Limits, now time.Time) Decision {
	if acc == nil {
		return Decision{Reason: DenyNotLinked}
	}

	if acc.IsSubscriptionActive(now) {
		if trailingTokens >= limits.TokenWindowLimit {
			return Decision{Reason: DenyRateLimited}
		}
		return allow
	}

	if acc.MessagesRemaining > 0 {
		return allow
	}
	return Decision{Reason: DenyPaywall}
}

// Gate binds Evaluate to the storage needed for the usage-window lookup.
type Gate struct {
	storage storage.Storage
	limits  Limits
}

func NewGate(st storage.Storage, limits Limits) *Gate {
	return &Gate{storage: st, limits: limits}
}

// Check resolves trailing usage and evaluates the gate for an account. Only
// active subscribers need the usage sum, so the query is skipped otherwise.
func (g *Gate) Check(ctx context.Context, acc *models.Account) (Decision, error) {
	if acc == nil {
		return Decision{Reason: DenyNotLinked}, nil
	}

	now := time.Now()
	var trailingTokens int64
	if acc.IsSubscriptionActive(now) {
		since := now.Add(-g.limits.TokenWindow)
		sum, err := g.storage.SumTokenUsageSince(ctx, acc.ID, since)
		if err != nil {
			return Decision{}, err
		}
		trailingTokens = sum
	}

	return Evaluate(acc, trailingTokens, g.limits, now), nil
}

// CheckTelegramUser resolves the account for a Telegram identity and runs the
// gate. A missing account yields a not-linked deny, not an error.
func (g *Gate) CheckTelegramUser(ctx context.Context, telegramUserID int64) (*models.Account, Decision, error) {
	acc, err := g.storage.GetAccountByTelegramID(ctx, telegramUserID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Decision{Reason: DenyNotLinked}, nil
	}
	if err != nil {
		return nil, Decision{}, err
	}

	decision, err := g.Check(ctx, acc)
	if err != nil {
		return nil, Decision{}, err
	}
	return acc, decision, nil
}
