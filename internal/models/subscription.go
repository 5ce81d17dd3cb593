package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SubscriptionStatus string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
	SubscriptionCanceled SubscriptionStatus = "canceled"
)

// Subscription mirrors the provider's recurring-billing state. Cancel requests
// set cancel_at_period_end rather than terminating immediately.
type Subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`

	SubscriptionID    string             `bun:"subscription_id,pk" json:"subscription_id"`
	AccountID         string             `bun:"account_id" json:"account_id"`
	Email             string             `bun:"email" json:"email"`
	ProviderRef       string             `bun:"provider_ref,unique" json:"provider_ref"`
	Status            SubscriptionStatus `bun:"status" json:"status"`
	CurrentPeriodEnd  time.Time          `bun:"current_period_end" json:"current_period_end"`
	CancelAtPeriodEnd bool               `bun:"cancel_at_period_end" json:"cancel_at_period_end"`
	PromoCode         string             `bun:"promo_code,nullzero" json:"promo_code,omitempty"`
	CreatedAt         time.Time          `bun:"created_at" json:"created_at"`
}

// Unlimited reports whether the subscription still grants unmetered
// generation. A canceling subscription keeps its entitlement until the period
// end.
func (s *Subscription) Unlimited(now time.Time) bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionActive {
		return false
	}
	if s.CancelAtPeriodEnd && !s.CurrentPeriodEnd.IsZero() && now.After(s.CurrentPeriodEnd) {
		return false
	}
	return true
}

type CreateSubscriptionRequest struct {
	Email     string `json:"email"`
	PromoCode string `json:"promo_code,omitempty"`
}

type CreateSubscriptionResponse struct {
	SetupIntentRef string `json:"setup_intent_ref"`
	ClientSecret   string `json:"client_secret"`
	DiscountPct    int    `json:"discount_pct,omitempty"`
}

type ConfirmSubscriptionRequest struct {
	SetupIntentRef string `json:"setup_intent_ref"`
}
