package checkout

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"

	"posterly/internal/logger"
)

// InitStripe initializes the Stripe API with the secret key
func InitStripe() {
	stripe.Key = os.Getenv("STRIPE_SECRET_KEY")
}

// StripePayments implements PaymentProvider against the live Stripe API.
type StripePayments struct {
	Logger *logger.Logger
}

func NewStripePayments(log *logger.Logger) *StripePayments {
	return &StripePayments{Logger: log}
}

func (p *StripePayments) CreateIntent(amountCents int64, currency, confirmationID string) (string, string, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amountCents),
		Currency: stripe.String(currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.AddMetadata("confirmation_id", confirmationID)

	intent, err := paymentintent.New(params)
	if err != nil {
		p.Logger.Error("PAYMENT", fmt.Sprintf("Failed to create payment intent for %s: %v", confirmationID, err))
		return "", "", err
	}

	p.Logger.Info("PAYMENT", fmt.Sprintf("Created payment intent %s for %s (%d cents)", intent.ID, confirmationID, amountCents))
	return intent.ID, intent.ClientSecret, nil
}

func (p *StripePayments) CancelIntent(ref string) error {
	_, err := paymentintent.Cancel(ref, nil)
	if err != nil {
		return err
	}
	p.Logger.Info("PAYMENT", fmt.Sprintf("Cancelled payment intent %s", ref))
	return nil
}

// WebhookError represents an error that occurred during webhook processing
type WebhookError struct {
	Category      string // "configuration", "validation", "processing"
	StatusCode    int    // HTTP status code
	PublicError   string // Safe to expose to clients
	InternalError string // Detailed error for logs only
	OriginalErr   error  // Underlying error
}

func (e *WebhookError) Error() string {
	return e.InternalError
}

// CreditTopUp receives credit-pack purchases reported by the provider.
type CreditTopUp interface {
	AddPaidCredits(email string, count int) error
}

// SubscriptionEvents receives subscription lifecycle events the checkout
// webhook endpoint is not responsible for.
type SubscriptionEvents interface {
	HandleProviderEvent(eventType string, data []byte) error
}

// WebhookHandler verifies and dispatches Stripe webhook events.
type WebhookHandler struct {
	Checkout      *CheckoutService
	Credits       CreditTopUp
	Subscriptions SubscriptionEvents
	Logger        *logger.Logger
}

// HandleStripeWebhook processes a raw webhook request. Payment intent events
// drive checkout confirmation and abandonment; subscription and invoice
// events are forwarded to the gatekeeper.
func (h *WebhookHandler) HandleStripeWebhook(r *http.Request) error {
	webhookSecret := os.Getenv("STRIPE_WEBHOOK_SECRET")
	if webhookSecret == "" {
		h.Logger.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to read webhook payload: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook payload",
			InternalError: fmt.Sprintf("Failed to read webhook payload: %v", err),
			OriginalErr:   err,
		}
	}

	// Verify signature with API version mismatch tolerance
	opts := webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	}

	event, err := webhook.ConstructEventWithOptions(payload, r.Header.Get("Stripe-Signature"), webhookSecret, opts)
	if err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Webhook signature verification failed: %v", err))
		return &WebhookError{
			Category:      "validation",
			StatusCode:    http.StatusBadRequest,
			PublicError:   "Invalid webhook signature",
			InternalError: fmt.Sprintf("Webhook signature verification failed: %v", err),
			OriginalErr:   err,
		}
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Processing Stripe webhook event: %s", event.Type))

	switch event.Type {
	case "payment_intent.succeeded":
		var paymentIntent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &paymentIntent); err != nil {
			return h.processingError("Failed to unmarshal payment intent", err)
		}
		return h.handleIntentSucceeded(&paymentIntent)

	case "payment_intent.payment_failed":
		var paymentIntent stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &paymentIntent); err != nil {
			return h.processingError("Failed to unmarshal payment intent", err)
		}
		confirmationID, exists := paymentIntent.Metadata["confirmation_id"]
		if !exists {
			// Not one of ours.
			return nil
		}
		if err := h.Checkout.Cancel(confirmationID); err != nil {
			h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to cancel session %s after payment failure: %v", confirmationID, err))
			return h.processingError(fmt.Sprintf("Failed to cancel session %s", confirmationID), err)
		}
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Cancelled session %s due to payment failure", confirmationID))
		return nil

	case "invoice.payment_failed", "customer.subscription.updated", "customer.subscription.deleted":
		if h.Subscriptions == nil {
			return nil
		}
		if err := h.Subscriptions.HandleProviderEvent(string(event.Type), event.Data.Raw); err != nil {
			return h.processingError(fmt.Sprintf("Subscription event %s failed", event.Type), err)
		}
		return nil

	default:
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Unhandled event type: %s", event.Type))
		return nil
	}
}

func (h *WebhookHandler) handleIntentSucceeded(paymentIntent *stripe.PaymentIntent) error {
	// Credit-pack top-ups reuse the payment intent flow with their own
	// metadata kind.
	if paymentIntent.Metadata["kind"] == "credit_pack" {
		email := paymentIntent.Metadata["email"]
		count, _ := strconv.Atoi(paymentIntent.Metadata["credits"])
		if email == "" || count <= 0 {
			return h.processingError("Credit pack intent missing email or credits metadata", nil)
		}
		if err := h.Credits.AddPaidCredits(email, count); err != nil {
			return h.processingError(fmt.Sprintf("Failed to top up credits for %s", email), err)
		}
		h.Logger.Info("WEBHOOK", fmt.Sprintf("Topped up %d credits for %s", count, email))
		return nil
	}

	confirmationID, exists := paymentIntent.Metadata["confirmation_id"]
	if !exists {
		h.Logger.Error("WEBHOOK", "Payment intent has no confirmation_id in metadata")
		return h.processingError("Payment intent has no confirmation_id in metadata", nil)
	}

	if _, err := h.Checkout.OnPaymentConfirmed(confirmationID, paymentIntent.ID, paymentIntent.AmountReceived); err != nil {
		h.Logger.Error("WEBHOOK", fmt.Sprintf("Failed to confirm session %s: %v", confirmationID, err))
		return h.processingError(fmt.Sprintf("Failed to confirm session %s", confirmationID), err)
	}

	h.Logger.Info("WEBHOOK", fmt.Sprintf("Successfully processed payment for session %s", confirmationID))
	return nil
}

func (h *WebhookHandler) processingError(message string, err error) error {
	internal := message
	if err != nil {
		internal = fmt.Sprintf("%s: %v", message, err)
	}
	return &WebhookError{
		Category:      "processing",
		StatusCode:    http.StatusInternalServerError,
		PublicError:   "Failed to process event",
		InternalError: internal,
		OriginalErr:   err,
	}
}
