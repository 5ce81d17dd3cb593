package subscription

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"posterly/internal/logger"
	"posterly/internal/models"
)

var (
	ErrInvalidPromo    = errors.New("unknown promo code")
	ErrNotSubscribed   = errors.New("no subscription on record")
	ErrAlreadyCanceled = errors.New("subscription already canceled")
)

type DBLayer interface {
	GetByEmail(email string) (*models.Subscription, error)
	GetByProviderRef(ref string) (*models.Subscription, error)
	CreateWithAccountUpgrade(sub *models.Subscription) error
	AccountIDByEmail(email string) (string, error)
	SetCancelAtPeriodEnd(subscriptionID string) error
	UpdateFromProvider(ref string, status models.SubscriptionStatus, periodEnd time.Time, cancelAtPeriodEnd bool) error
	DowngradeAccount(email string) error
}

// BillingProvider is the slice of the payment processor the gatekeeper needs:
// collect a payment method up front, start recurring billing once collected.
type BillingProvider interface {
	CreateSetup(email, promoCode string) (ref, clientSecret string, err error)
	ResolveSetup(ref string) (*SetupResult, error)
	StartBilling(customerID, paymentMethodID, couponID string) (providerRef string, periodEnd time.Time, err error)
	StopAtPeriodEnd(providerRef string) error
}

// SetupResult carries what the provider learned during payment-method setup.
type SetupResult struct {
	CustomerID      string
	PaymentMethodID string
	Email           string
	PromoCode       string
}

type KafkaPublisher interface {
	PublishSubscriptionUpdated(email string, status string, cancelAtPeriodEnd bool) error
}

type SubscriptionService struct {
	DB       DBLayer
	Provider BillingProvider
	Kafka    KafkaPublisher
	Logger   *logger.Logger
}

func NewSubscriptionService(db DBLayer, provider BillingProvider, kafka KafkaPublisher, log *logger.Logger) *SubscriptionService {
	return &SubscriptionService{DB: db, Provider: provider, Kafka: kafka, Logger: log}
}

// Start opens a subscription signup: validates the promo code and asks the
// provider for a payment-method setup the client completes. Nothing is
// persisted until Confirm.
func (s *SubscriptionService) Start(req models.CreateSubscriptionRequest) (*models.CreateSubscriptionResponse, error) {
	promo, ok := LookupPromo(req.PromoCode)
	if !ok {
		return nil, ErrInvalidPromo
	}

	ref, clientSecret, err := s.Provider.CreateSetup(req.Email, req.PromoCode)
	if err != nil {
		return nil, fmt.Errorf("provider setup failed for %s: %w", req.Email, err)
	}

	s.Logger.Info("SUBSCRIPTION", fmt.Sprintf("Signup started for %s (promo=%q)", req.Email, req.PromoCode))
	return &models.CreateSubscriptionResponse{
		SetupIntentRef: ref,
		ClientSecret:   clientSecret,
		DiscountPct:    promo.DiscountPct,
	}, nil
}

// Confirm finishes signup after the client attached a payment method: starts
// recurring billing at the provider, then records the subscription and
// upgrades the account tier in one transaction.
func (s *SubscriptionService) Confirm(setupIntentRef string) (*models.Subscription, error) {
	setup, err := s.Provider.ResolveSetup(setupIntentRef)
	if err != nil {
		return nil, fmt.Errorf("setup lookup failed for %s: %w", setupIntentRef, err)
	}

	promo, ok := LookupPromo(setup.PromoCode)
	if !ok {
		// The code was validated at Start; a mismatch here means the
		// allow-list changed mid-signup. Bill without the discount.
		promo = Promo{}
	}

	providerRef, periodEnd, err := s.Provider.StartBilling(setup.CustomerID, setup.PaymentMethodID, promo.CouponID)
	if err != nil {
		return nil, fmt.Errorf("billing start failed for %s: %w", setup.Email, err)
	}

	accountID, err := s.DB.AccountIDByEmail(setup.Email)
	if err != nil {
		return nil, fmt.Errorf("account lookup failed for %s: %w", setup.Email, err)
	}

	sub := &models.Subscription{
		SubscriptionID:   uuid.New().String(),
		AccountID:        accountID,
		Email:            setup.Email,
		ProviderRef:      providerRef,
		Status:           models.SubscriptionActive,
		CurrentPeriodEnd: periodEnd,
		PromoCode:        setup.PromoCode,
		CreatedAt:        time.Now(),
	}
	if err := s.DB.CreateWithAccountUpgrade(sub); err != nil {
		return nil, fmt.Errorf("failed to persist subscription for %s: %w", setup.Email, err)
	}

	s.Logger.Info("SUBSCRIPTION", fmt.Sprintf("Subscription %s active for %s until %s", sub.SubscriptionID, sub.Email, periodEnd.Format(time.RFC3339)))
	if err := s.Kafka.PublishSubscriptionUpdated(sub.Email, string(sub.Status), false); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish subscription event for %s: %v", sub.Email, err))
	}
	return sub, nil
}

// Cancel flags the subscription to lapse at the current period end. The
// status stays active and the entitlement survives until that date.
func (s *SubscriptionService) Cancel(email string) (*models.Subscription, error) {
	sub, err := s.DB.GetByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotSubscribed
	}
	if err != nil {
		return nil, fmt.Errorf("subscription lookup failed for %s: %w", email, err)
	}
	if sub.Status == models.SubscriptionCanceled {
		return nil, ErrAlreadyCanceled
	}
	if sub.CancelAtPeriodEnd {
		return sub, nil
	}

	if err := s.Provider.StopAtPeriodEnd(sub.ProviderRef); err != nil {
		return nil, fmt.Errorf("provider cancel failed for %s: %w", email, err)
	}
	if err := s.DB.SetCancelAtPeriodEnd(sub.SubscriptionID); err != nil {
		return nil, fmt.Errorf("failed to flag cancellation for %s: %w", email, err)
	}
	sub.CancelAtPeriodEnd = true

	s.Logger.Info("SUBSCRIPTION", fmt.Sprintf("Subscription %s for %s will end at %s", sub.SubscriptionID, email, sub.CurrentPeriodEnd.Format(time.RFC3339)))
	if err := s.Kafka.PublishSubscriptionUpdated(email, string(sub.Status), true); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish subscription event for %s: %v", email, err))
	}
	return sub, nil
}

// Current returns the latest subscription for an email, nil when none exists.
func (s *SubscriptionService) Current(email string) (*models.Subscription, error) {
	sub, err := s.DB.GetByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// IsUnlimited is the gate other services consult before metering. Looked up
// fresh on every call so a lapsed subscription stops granting immediately.
func (s *SubscriptionService) IsUnlimited(email string) (bool, error) {
	sub, err := s.DB.GetByEmail(email)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return sub.Unlimited(time.Now()), nil
}

// providerSubscription is the slice of the provider's subscription payload the
// webhook path needs.
type providerSubscription struct {
	ID                string `json:"id"`
	Status            string `json:"status"`
	CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	CurrentPeriodEnd  int64  `json:"current_period_end"`
}

type providerInvoice struct {
	Subscription string `json:"subscription"`
}

// HandleProviderEvent applies billing webhook events to local state. Unknown
// subscriptions are ignored so replayed events from other environments do not
// error the webhook.
func (s *SubscriptionService) HandleProviderEvent(eventType string, data []byte) error {
	switch eventType {
	case "invoice.payment_failed":
		var invoice providerInvoice
		if err := json.Unmarshal(data, &invoice); err != nil {
			return fmt.Errorf("failed to parse invoice event: %w", err)
		}
		if invoice.Subscription == "" {
			return nil
		}
		return s.applyProviderState(invoice.Subscription, models.SubscriptionPastDue, time.Time{}, false)

	case "customer.subscription.updated":
		var ps providerSubscription
		if err := json.Unmarshal(data, &ps); err != nil {
			return fmt.Errorf("failed to parse subscription event: %w", err)
		}
		status := models.SubscriptionActive
		switch ps.Status {
		case "past_due", "unpaid":
			status = models.SubscriptionPastDue
		case "canceled":
			status = models.SubscriptionCanceled
		}
		return s.applyProviderState(ps.ID, status, time.Unix(ps.CurrentPeriodEnd, 0), ps.CancelAtPeriodEnd)

	case "customer.subscription.deleted":
		var ps providerSubscription
		if err := json.Unmarshal(data, &ps); err != nil {
			return fmt.Errorf("failed to parse subscription event: %w", err)
		}
		return s.applyProviderState(ps.ID, models.SubscriptionCanceled, time.Time{}, true)
	}
	return nil
}

func (s *SubscriptionService) applyProviderState(providerRef string, status models.SubscriptionStatus, periodEnd time.Time, cancelAtPeriodEnd bool) error {
	sub, err := s.DB.GetByProviderRef(providerRef)
	if errors.Is(err, sql.ErrNoRows) {
		s.Logger.Warn("SUBSCRIPTION", fmt.Sprintf("Provider event for unknown subscription %s, ignoring", providerRef))
		return nil
	}
	if err != nil {
		return fmt.Errorf("subscription lookup failed for %s: %w", providerRef, err)
	}

	if err := s.DB.UpdateFromProvider(providerRef, status, periodEnd, cancelAtPeriodEnd); err != nil {
		return fmt.Errorf("failed to apply provider state for %s: %w", providerRef, err)
	}
	if status == models.SubscriptionCanceled {
		if err := s.DB.DowngradeAccount(sub.Email); err != nil {
			return fmt.Errorf("failed to downgrade account %s: %w", sub.Email, err)
		}
	}

	s.Logger.Info("SUBSCRIPTION", fmt.Sprintf("Subscription %s now %s (cancel_at_period_end=%t)", providerRef, status, cancelAtPeriodEnd))
	if err := s.Kafka.PublishSubscriptionUpdated(sub.Email, string(status), cancelAtPeriodEnd); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish subscription event for %s: %v", sub.Email, err))
	}
	return nil
}
