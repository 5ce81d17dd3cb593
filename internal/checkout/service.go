package checkout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"posterly/internal/inventory"
	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/utils"
)

var (
	ErrInvalidShipping = errors.New("missing or malformed shipping fields")
	ErrEmptyCart       = errors.New("cart is empty")
	ErrPaymentMismatch = errors.New("provider-reported payment does not match session")
	ErrSessionExpired  = errors.New("checkout session expired")
	ErrNotFound        = errors.New("checkout session not found")
)

type DBLayer interface {
	CreateSession(session models.CheckoutSession, items []models.CheckoutItem) error
	GetSession(confirmationID string) (*models.CheckoutSession, error)
	GetSessionItems(confirmationID string) ([]models.CheckoutItem, error)
	TransitionSession(confirmationID string, from, to models.SessionStatus) (bool, error)
	SetPaymentRef(confirmationID, paymentRef string) error
}

// Inventory is the slice of the allocator the orchestrator needs.
type Inventory interface {
	Artifact(artifactID string) (*models.Artifact, error)
	ReserveEdition(artifactID string) (*models.EditionTicket, error)
	ReleaseEdition(ticket *models.EditionTicket) error
	AttachToSession(tickets []*models.EditionTicket, confirmationID string) error
	ReservationsBySession(confirmationID string) ([]models.EditionTicket, error)
}

// PaymentProvider is the external collaborator that moves money. Amounts are
// integer cents on the wire.
type PaymentProvider interface {
	CreateIntent(amountCents int64, currency, confirmationID string) (ref, clientSecret string, err error)
	CancelIntent(ref string) error
}

// Finalizer commits the confirmed session exactly once.
type Finalizer interface {
	Finalize(session *models.CheckoutSession) (*models.Order, error)
	OrderByConfirmation(confirmationID string) (*models.Order, error)
}

// SessionClock arms the per-session abandonment TTL.
type SessionClock interface {
	Arm(confirmationID string, ttl time.Duration) error
	Disarm(confirmationID string) error
}

type KafkaPublisher interface {
	PublishCheckoutAbandoned(session models.CheckoutSession) error
}

type CheckoutService struct {
	DB        DBLayer
	Inventory Inventory
	Payments  PaymentProvider
	Finalizer Finalizer
	Clock     SessionClock
	Kafka     KafkaPublisher
	TTL       time.Duration
	Logger    *logger.Logger
}

func NewCheckoutService(db DBLayer, inv Inventory, payments PaymentProvider, finalizer Finalizer, clock SessionClock, kafka KafkaPublisher, ttl time.Duration, log *logger.Logger) *CheckoutService {
	return &CheckoutService{
		DB:        db,
		Inventory: inv,
		Payments:  payments,
		Finalizer: finalizer,
		Clock:     clock,
		Kafka:     kafka,
		TTL:       ttl,
		Logger:    log,
	}
}

func validateShipping(s models.ShippingInfo) error {
	for _, field := range []string{s.Name, s.Address, s.City, s.Postal, s.Country} {
		if strings.TrimSpace(field) == "" {
			return ErrInvalidShipping
		}
	}
	return nil
}

// StartCheckout validates the cart, snapshots current prices, reserves every
// limited edition all-or-nothing, requests a payment intent for the
// snapshotted total and hands back the confirmation ID. Validation failures
// reject before any reservation is taken; a single sold-out item aborts the
// whole checkout and releases everything already held.
func (s *CheckoutService) StartCheckout(req models.CheckoutRequest) (*models.CheckoutResponse, error) {
	if err := validateShipping(req.Shipping); err != nil {
		return nil, err
	}
	if len(req.Items) == 0 {
		return nil, ErrEmptyCart
	}
	for _, item := range req.Items {
		if item.Quantity < 1 {
			return nil, fmt.Errorf("invalid quantity %d for %s", item.Quantity, item.ArtifactID)
		}
	}

	confirmationID := utils.GenerateConfirmationID()
	s.Logger.LogCheckout("START", confirmationID, fmt.Sprintf("%d cart items for %s", len(req.Items), req.Email))

	var (
		reserved   []*models.EditionTicket
		snapshots  []models.CheckoutItem
		totalPrice float64
	)

	release := func() {
		for _, ticket := range reserved {
			if err := s.Inventory.ReleaseEdition(ticket); err != nil {
				s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to release ticket %s: %v", ticket.TicketID, err))
			}
		}
	}

	for _, item := range req.Items {
		artifact, err := s.Inventory.Artifact(item.ArtifactID)
		if err != nil {
			release()
			return nil, fmt.Errorf("unknown artifact %s: %w", item.ArtifactID, err)
		}

		// Price is snapshotted now; later price changes don't touch an
		// in-flight checkout.
		snapshots = append(snapshots, models.CheckoutItem{
			ConfirmationID: confirmationID,
			ArtifactID:     artifact.ArtifactID,
			Title:          artifact.Title,
			Quantity:       item.Quantity,
			UnitPrice:      artifact.PricePerUnit,
			Limited:        artifact.Limited(),
		})
		totalPrice += artifact.PricePerUnit * float64(item.Quantity)

		if artifact.Limited() {
			for i := 0; i < item.Quantity; i++ {
				ticket, err := s.Inventory.ReserveEdition(artifact.ArtifactID)
				if err != nil {
					release()
					if errors.Is(err, inventory.ErrSoldOut) {
						return nil, inventory.ErrSoldOut
					}
					return nil, fmt.Errorf("reservation failed for %s: %w", artifact.ArtifactID, err)
				}
				reserved = append(reserved, ticket)
			}
		}
	}

	now := time.Now()
	session := models.CheckoutSession{
		ConfirmationID: confirmationID,
		BuyerEmail:     req.Email,
		Status:         models.SessionReserved,
		Amount:         totalPrice,
		ShipName:       req.Shipping.Name,
		ShipAddress:    req.Shipping.Address,
		ShipCity:       req.Shipping.City,
		ShipPostal:     req.Shipping.Postal,
		ShipCountry:    req.Shipping.Country,
		CreatedAt:      now,
		ExpiresAt:      now.Add(s.TTL),
	}

	if err := s.DB.CreateSession(session, snapshots); err != nil {
		release()
		return nil, fmt.Errorf("failed to persist session: %w", err)
	}
	if err := s.Inventory.AttachToSession(reserved, confirmationID); err != nil {
		release()
		return nil, fmt.Errorf("failed to link reservations: %w", err)
	}

	ref, clientSecret, err := s.Payments.CreateIntent(utils.Cents(totalPrice), "usd", confirmationID)
	if err != nil {
		release()
		if _, terr := s.DB.TransitionSession(confirmationID, models.SessionReserved, models.SessionAbandoned); terr != nil {
			s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to abandon session %s: %v", confirmationID, terr))
		}
		return nil, fmt.Errorf("payment intent creation failed: %w", err)
	}

	if err := s.DB.SetPaymentRef(confirmationID, ref); err != nil {
		s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to store payment ref for %s: %v", confirmationID, err))
	}
	if _, err := s.DB.TransitionSession(confirmationID, models.SessionReserved, models.SessionPaymentPending); err != nil {
		return nil, fmt.Errorf("failed to advance session %s: %w", confirmationID, err)
	}

	if err := s.Clock.Arm(confirmationID, s.TTL); err != nil {
		s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to arm TTL for %s: %v", confirmationID, err))
	}

	s.Logger.LogCheckout("RESERVED", confirmationID, fmt.Sprintf("total %.2f, %d editions held", totalPrice, len(reserved)))
	return &models.CheckoutResponse{
		ConfirmationID: confirmationID,
		ClientSecret:   clientSecret,
		Amount:         totalPrice,
		ExpiresAt:      session.ExpiresAt.UTC().Format(time.RFC3339),
	}, nil
}

// OnPaymentConfirmed consumes the provider's success report. Duplicate
// confirmations return the already-finalized order; the transition to
// confirmed happens at most once per session.
func (s *CheckoutService) OnPaymentConfirmed(confirmationID, paymentRef string, amountReceivedCents int64) (*models.Order, error) {
	session, err := s.DB.GetSession(confirmationID)
	if err != nil {
		return nil, ErrNotFound
	}

	switch session.Status {
	case models.SessionConfirmed:
		// Retried webhook or client retry. Not an error.
		s.Logger.LogCheckout("DUPLICATE", confirmationID, "already confirmed, returning existing order")
		return s.Finalizer.OrderByConfirmation(confirmationID)
	case models.SessionAbandoned:
		return nil, ErrSessionExpired
	case models.SessionReserved:
		return nil, fmt.Errorf("session %s has no payment intent yet", confirmationID)
	}

	if session.PaymentRef == "" || session.PaymentRef != paymentRef {
		s.Logger.Error("CHECKOUT", fmt.Sprintf("Payment ref mismatch for %s: got %s", confirmationID, paymentRef))
		return nil, ErrPaymentMismatch
	}
	if amountReceivedCents != utils.Cents(session.Amount) {
		s.Logger.Error("CHECKOUT", fmt.Sprintf("Amount mismatch for %s: expected %d cents, provider reported %d", confirmationID, utils.Cents(session.Amount), amountReceivedCents))
		return nil, ErrPaymentMismatch
	}

	if err := s.Clock.Disarm(confirmationID); err != nil {
		s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to disarm TTL for %s: %v", confirmationID, err))
	}

	order, err := s.Finalizer.Finalize(session)
	if err != nil {
		return nil, fmt.Errorf("finalize failed for %s: %w", confirmationID, err)
	}

	s.Logger.LogCheckout("CONFIRMED", confirmationID, fmt.Sprintf("order %s created", order.OrderID))
	return order, nil
}

// Cancel abandons a session explicitly, releasing everything it holds.
func (s *CheckoutService) Cancel(confirmationID string) error {
	if err := s.Clock.Disarm(confirmationID); err != nil {
		s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to disarm TTL for %s: %v", confirmationID, err))
	}
	return s.abandon(confirmationID, "explicit cancel")
}

// HandleSessionExpiry is invoked by the Redis keyspace-expiry subscriber when
// a session's TTL lapses without confirmation.
func (s *CheckoutService) HandleSessionExpiry(confirmationID string) error {
	return s.abandon(confirmationID, "TTL expiry")
}

func (s *CheckoutService) abandon(confirmationID, reason string) error {
	session, err := s.DB.GetSession(confirmationID)
	if err != nil {
		return ErrNotFound
	}

	if session.Status == models.SessionConfirmed || session.Status == models.SessionAbandoned {
		// Confirmed sessions keep their editions; already-abandoned ones
		// have nothing left to release.
		return nil
	}

	moved, err := s.DB.TransitionSession(confirmationID, session.Status, models.SessionAbandoned)
	if err != nil {
		return fmt.Errorf("failed to abandon session %s: %w", confirmationID, err)
	}
	if !moved {
		// A concurrent confirm or expiry won the race.
		return nil
	}

	tickets, err := s.Inventory.ReservationsBySession(confirmationID)
	if err != nil {
		return fmt.Errorf("failed to list reservations for %s: %w", confirmationID, err)
	}
	for i := range tickets {
		if err := s.Inventory.ReleaseEdition(&tickets[i]); err != nil {
			s.Logger.Error("CHECKOUT", fmt.Sprintf("Failed to release ticket %s: %v", tickets[i].TicketID, err))
		}
	}

	// Best-effort: invalidate the intent so the client cannot pay into a
	// dead session.
	if session.PaymentRef != "" {
		if err := s.Payments.CancelIntent(session.PaymentRef); err != nil {
			s.Logger.Warn("CHECKOUT", fmt.Sprintf("Failed to cancel intent %s: %v", session.PaymentRef, err))
		}
	}

	s.Logger.LogCheckout("ABANDONED", confirmationID, reason)
	if s.Kafka != nil {
		session.Status = models.SessionAbandoned
		if err := s.Kafka.PublishCheckoutAbandoned(*session); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish abandonment for %s: %v", confirmationID, err))
		}
	}
	return nil
}

// Session exposes a session lookup for handlers.
func (s *CheckoutService) Session(confirmationID string) (*models.CheckoutSession, error) {
	session, err := s.DB.GetSession(confirmationID)
	if err != nil {
		return nil, ErrNotFound
	}
	return session, nil
}
