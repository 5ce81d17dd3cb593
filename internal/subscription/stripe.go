package subscription

import (
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/customer"
	"github.com/stripe/stripe-go/v74/setupintent"
	sub "github.com/stripe/stripe-go/v74/subscription"

	"posterly/internal/logger"
)

// StripeBilling implements BillingProvider against the live Stripe API. The
// promo coupon is attached at subscription creation so the discount is billed
// provider-side.
type StripeBilling struct {
	PriceID string
	Logger  *logger.Logger
}

func NewStripeBilling(priceID string, log *logger.Logger) *StripeBilling {
	return &StripeBilling{PriceID: priceID, Logger: log}
}

func (b *StripeBilling) CreateSetup(email, promoCode string) (string, string, error) {
	cust, err := customer.New(&stripe.CustomerParams{
		Email: stripe.String(email),
	})
	if err != nil {
		b.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create customer for %s: %v", email, err))
		return "", "", err
	}

	params := &stripe.SetupIntentParams{
		Customer:           stripe.String(cust.ID),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.AddMetadata("email", email)
	params.AddMetadata("promo_code", promoCode)

	intent, err := setupintent.New(params)
	if err != nil {
		b.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create setup intent for %s: %v", email, err))
		return "", "", err
	}

	b.Logger.Info("PAYMENT", fmt.Sprintf("Created setup intent %s for %s", intent.ID, email))
	return intent.ID, intent.ClientSecret, nil
}

func (b *StripeBilling) ResolveSetup(ref string) (*SetupResult, error) {
	intent, err := setupintent.Get(ref, nil)
	if err != nil {
		return nil, err
	}
	if intent.Status != stripe.SetupIntentStatusSucceeded {
		return nil, fmt.Errorf("setup intent %s is %s, not succeeded", ref, intent.Status)
	}
	if intent.Customer == nil || intent.PaymentMethod == nil {
		return nil, fmt.Errorf("setup intent %s has no customer or payment method", ref)
	}
	return &SetupResult{
		CustomerID:      intent.Customer.ID,
		PaymentMethodID: intent.PaymentMethod.ID,
		Email:           intent.Metadata["email"],
		PromoCode:       intent.Metadata["promo_code"],
	}, nil
}

func (b *StripeBilling) StartBilling(customerID, paymentMethodID, couponID string) (string, time.Time, error) {
	params := &stripe.SubscriptionParams{
		Customer: stripe.String(customerID),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(b.PriceID)},
		},
		DefaultPaymentMethod: stripe.String(paymentMethodID),
	}
	if couponID != "" {
		params.Coupon = stripe.String(couponID)
	}

	subscription, err := sub.New(params)
	if err != nil {
		b.Logger.Error("PAYMENT", fmt.Sprintf("Failed to start billing for customer %s: %v", customerID, err))
		return "", time.Time{}, err
	}

	periodEnd := time.Unix(subscription.CurrentPeriodEnd, 0)
	b.Logger.Info("PAYMENT", fmt.Sprintf("Started subscription %s for customer %s until %s", subscription.ID, customerID, periodEnd.Format(time.RFC3339)))
	return subscription.ID, periodEnd, nil
}

func (b *StripeBilling) StopAtPeriodEnd(providerRef string) error {
	_, err := sub.Update(providerRef, &stripe.SubscriptionParams{
		CancelAtPeriodEnd: stripe.Bool(true),
	})
	if err != nil {
		return err
	}
	b.Logger.Info("PAYMENT", fmt.Sprintf("Subscription %s set to cancel at period end", providerRef))
	return nil
}
