// Package billing integrates with Stripe: checkout and portal sessions,
// cancellation, and applying subscription webhook events to accounts.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v78"
	portalsession "github.com/stripe/stripe-go/v78/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v78/checkout/session"
	"github.com/stripe/stripe-go/v78/customer"
	"github.com/stripe/stripe-go/v78/subscription"
	"github.com/stripe/stripe-go/v78/webhook"
	"go.uber.org/zap"

	"github.com/linecraftx/linecraft-bot/internal/models"
	"github.com/linecraftx/linecraft-bot/internal/storage"
)

type Config struct {
	SecretKey     string
	WebhookSecret string
	// PriceID is the Stripe price for the monthly subscription.
	PriceID string
	// SubscriptionQuota is the message quota granted on subscription events.
	SubscriptionQuota int
	// ReturnBaseURL is where checkout and portal sessions send the user back.
	ReturnBaseURL string
}

type Service struct {
	storage storage.Storage
	logger  *zap.Logger
	cfg     Config
}

func NewService(st storage.Storage, cfg Config, logger *zap.Logger) *Service {
	stripe.Key = cfg.SecretKey
	return &Service{storage: st, logger: logger, cfg: cfg}
}

// ensureCustomer returns the account's Stripe customer id, creating the
// customer on first use.
func (s *Service) ensureCustomer(ctx context.Context, acc *models.Account) (string, error) {
	if acc.StripeCustomerID != "" {
		return acc.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Name: stripe.String(acc.TelegramFirstName),
		Metadata: map[string]string{
			"account_id": acc.ID,
		},
	}
	cust, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create customer: %w", err)
	}

	if err := s.storage.SetStripeCustomerID(ctx, acc.ID, cust.ID); err != nil {
		return "", err
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout and returns the URL to
// send the user to.
func (s *Service) CreateCheckoutSession(ctx context.Context, acc *models.Account) (string, error) {
	customerID, err := s.ensureCustomer(ctx, acc)
	if err != nil {
		return "", err
	}

	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		ClientReferenceID: stripe.String(acc.ID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(s.cfg.PriceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(s.cfg.ReturnBaseURL + "/subscribe/success"),
		CancelURL:  stripe.String(s.cfg.ReturnBaseURL + "/subscribe/canceled"),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession opens the Stripe billing portal for an existing
// customer.
func (s *Service) CreatePortalSession(ctx context.Context, acc *models.Account) (string, error) {
	if acc.StripeCustomerID == "" {
		return "", fmt.Errorf("account %s has no billing customer", acc.ID)
	}

	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(acc.StripeCustomerID),
		ReturnURL: stripe.String(s.cfg.ReturnBaseURL),
	}
	sess, err := portalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("failed to create portal session: %w", err)
	}
	return sess.URL, nil
}

// CancelSubscription flags the subscription to end at the period boundary, so
// the user keeps access for the time already paid.
func (s *Service) CancelSubscription(ctx context.Context, acc *models.Account) error {
	if acc.StripeSubscriptionID == "" {
		return fmt.Errorf("account %s has no subscription", acc.ID)
	}

	params := &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	}
	if _, err := subscription.Update(acc.StripeSubscriptionID, params); err != nil {
		return fmt.Errorf("failed to cancel subscription: %w", err)
	}
	return nil
}

// ParseWebhook verifies a webhook payload signature and returns the event.
func (s *Service) ParseWebhook(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.cfg.WebhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("invalid webhook payload: %w", err)
	}
	return event, nil
}

// ApplyEvent records the event and updates the matching account. Unhandled
// event types are recorded and skipped. Events are delivered at least once;
// every update here is a full overwrite of the subscription fields, so a
// replay converges to the same state.
func (s *Service) ApplyEvent(ctx context.Context, event stripe.Event) error {
	if err := s.storage.CreateBillingEvent(ctx, &models.BillingEvent{
		StripeEventID: event.ID,
		Type:          string(event.Type),
		Data:          json.RawMessage(event.Data.Raw),
	}); err != nil {
		return err
	}

	switch event.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		return s.applySubscriptionChange(ctx, event)
	case "customer.subscription.deleted":
		return s.applySubscriptionDeleted(ctx, event)
	default:
		s.logger.Debug("Ignoring billing event",
			zap.String("event_id", event.ID),
			zap.String("type", string(event.Type)))
		return nil
	}
}

func (s *Service) applySubscriptionChange(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription event: %w", err)
	}

	acc, err := s.storage.GetAccountByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return fmt.Errorf("no account for customer %s: %w", sub.Customer.ID, err)
	}

	periodEnd := time.Unix(sub.CurrentPeriodEnd, 0)
	upd := storage.SubscriptionUpdate{
		Status:               mapStatus(sub.Status),
		PeriodEnd:            &periodEnd,
		StripeSubscriptionID: sub.ID,
	}
	if upd.Status == models.SubscriptionActive {
		upd.ResetQuota = s.cfg.SubscriptionQuota
	}

	s.logger.Info("Applying subscription change",
		zap.String("account_id", acc.ID),
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(upd.Status)))
	return s.storage.UpdateSubscription(ctx, acc.ID, upd)
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, event stripe.Event) error {
	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return fmt.Errorf("failed to decode subscription event: %w", err)
	}

	acc, err := s.storage.GetAccountByStripeCustomerID(ctx, sub.Customer.ID)
	if err != nil {
		return fmt.Errorf("no account for customer %s: %w", sub.Customer.ID, err)
	}

	s.logger.Info("Subscription ended",
		zap.String("account_id", acc.ID),
		zap.String("subscription_id", sub.ID))
	return s.storage.UpdateSubscription(ctx, acc.ID, storage.SubscriptionUpdate{
		Status: models.SubscriptionCanceled,
	})
}

func mapStatus(status stripe.SubscriptionStatus) models.SubscriptionStatus {
	switch status {
	case stripe.SubscriptionStatusActive, stripe.SubscriptionStatusTrialing:
		return models.SubscriptionActive
	default:
		return models.SubscriptionCanceled
	}
}
