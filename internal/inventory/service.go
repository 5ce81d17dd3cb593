package inventory

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"posterly/internal/logger"
	"posterly/internal/models"
)

var (
	ErrSoldOut          = errors.New("edition sold out")
	ErrInvalidSupply    = errors.New("invalid supply or price")
	ErrAlreadyPublished = errors.New("artifact already published")
	ErrNotFound         = errors.New("artifact not found")
	ErrInvalidCount     = errors.New("sold count out of range")
	ErrTicketReleased   = errors.New("ticket was already released")
)

type DBLayer interface {
	CreateArtifact(artifact models.Artifact) error
	GetArtifact(id string) (*models.Artifact, error)
	MarkPublished(id string, totalSupply int, pricePerUnit float64, review models.ReviewStatus) (bool, error)
	ReserveSlot(id string) (int, error)
	ReleaseSlot(id string) error
	OverrideSoldCount(id string, count int) (bool, error)
	SetReviewStatus(id string, status models.ReviewStatus) error
	CreateReservation(ticket models.EditionTicket) error
	GetReservationsBySession(confirmationID string) ([]models.EditionTicket, error)
	TransitionReservation(ticketID string, from, to models.ReservationStatus) (bool, error)
	AttachReservationsToSession(ticketIDs []string, confirmationID string) error
	CommitReservation(alloc models.EditionAllocation) (models.EditionCommit, error)
	SetAllocationCertificate(ticketID string, qr []byte) error
	GetAllocationsByArtifact(artifactID string) ([]models.EditionAllocation, error)
}

// SubscriptionGate gates the sell-as-public transition: only subscribed
// collective members publish straight to the catalogue, everyone else lands in
// the review queue.
type SubscriptionGate interface {
	IsUnlimited(email string) (bool, error)
}

// Certifier renders the certificate of authenticity attached to a committed
// edition.
type Certifier interface {
	Certificate(artifactID string, editionNumber int) ([]byte, error)
}

type KafkaPublisher interface {
	PublishEditionSold(alloc models.EditionAllocation) error
}

type InventoryService struct {
	DB         DBLayer
	Gate       SubscriptionGate
	Certifier  Certifier
	Kafka      KafkaPublisher
	PriceFloor float64
	MaxSupply  int
	Logger     *logger.Logger
}

func NewInventoryService(db DBLayer, gate SubscriptionGate, certifier Certifier, kafka KafkaPublisher, priceFloor float64, maxSupply int, log *logger.Logger) *InventoryService {
	return &InventoryService{
		DB:         db,
		Gate:       gate,
		Certifier:  certifier,
		Kafka:      kafka,
		PriceFloor: priceFloor,
		MaxSupply:  maxSupply,
		Logger:     log,
	}
}

// Publish fixes the supply and unit price of an artifact exactly once.
// Subsequent publish calls fail instead of overwriting: editions already sold
// must never become invalid.
func (s *InventoryService) Publish(artifactID string, totalSupply int, pricePerUnit float64) (*models.Artifact, error) {
	if totalSupply < 1 || totalSupply > s.MaxSupply || pricePerUnit < s.PriceFloor {
		return nil, ErrInvalidSupply
	}

	artifact, err := s.DB.GetArtifact(artifactID)
	if err != nil {
		return nil, ErrNotFound
	}

	// Subscribed collective members go live immediately; other accounts
	// queue for operator review.
	review := models.ReviewPending
	subscribed, err := s.Gate.IsUnlimited(artifact.OwnerEmail)
	if err != nil {
		return nil, fmt.Errorf("subscription check failed for %s: %w", artifact.OwnerEmail, err)
	}
	if subscribed {
		review = models.ReviewApproved
	}

	published, err := s.DB.MarkPublished(artifactID, totalSupply, pricePerUnit, review)
	if err != nil {
		return nil, fmt.Errorf("publish failed for %s: %w", artifactID, err)
	}
	if !published {
		return nil, ErrAlreadyPublished
	}

	s.Logger.Info("INVENTORY", fmt.Sprintf("Published %s: supply=%d price=%.2f review=%s", artifactID, totalSupply, pricePerUnit, review))
	return s.DB.GetArtifact(artifactID)
}

// ReserveEdition provisionally claims one edition slot. The slot test and the
// increment are one conditional update at the storage layer, so two racing
// buyers can never hold the same edition number or push sold_count past the
// supply.
func (s *InventoryService) ReserveEdition(artifactID string) (*models.EditionTicket, error) {
	soldCount, err := s.DB.ReserveSlot(artifactID)
	if err != nil {
		return nil, fmt.Errorf("reservation failed for %s: %w", artifactID, err)
	}
	if soldCount == 0 {
		return nil, ErrSoldOut
	}

	ticket := models.EditionTicket{
		TicketID:      uuid.NewString(),
		ArtifactID:    artifactID,
		EditionNumber: soldCount - 1,
		Status:        models.ReservationReserved,
		ReservedAt:    time.Now(),
	}
	if err := s.DB.CreateReservation(ticket); err != nil {
		// The slot was claimed but the ticket row failed; give the slot back.
		_ = s.DB.ReleaseSlot(artifactID)
		return nil, fmt.Errorf("failed to persist reservation for %s: %w", artifactID, err)
	}

	s.Logger.Info("INVENTORY", fmt.Sprintf("Reserved edition #%d of %s (ticket %s)", ticket.EditionNumber+1, artifactID, ticket.TicketID))
	return &ticket, nil
}

// CommitEdition turns a reservation into a sales-ledger row. Idempotent on the
// ticket ID: retried commits are no-ops, and a commit that previously died
// between the status flip and the ledger write completes on retry. The final
// edition number is taken from the allocation ledger, not the reservation, so
// committed numbering stays dense even after releases.
func (s *InventoryService) CommitEdition(ticket *models.EditionTicket, buyerEmail string, amountPaid float64) error {
	result, err := s.DB.CommitReservation(models.EditionAllocation{
		TicketID:     ticket.TicketID,
		ArtifactID:   ticket.ArtifactID,
		BuyerEmail:   buyerEmail,
		AmountPaid:   amountPaid,
		PurchaseDate: time.Now(),
	})
	if err != nil {
		return fmt.Errorf("commit failed for ticket %s: %w", ticket.TicketID, err)
	}
	if result.Released {
		return ErrTicketReleased
	}
	alloc := result.Alloc

	if s.Certifier != nil && len(alloc.CertificateQR) == 0 {
		qr, err := s.Certifier.Certificate(alloc.ArtifactID, alloc.EditionNumber)
		if err != nil {
			s.Logger.Warn("INVENTORY", fmt.Sprintf("Certificate generation failed for ticket %s: %v", ticket.TicketID, err))
		} else if err := s.DB.SetAllocationCertificate(alloc.TicketID, qr); err != nil {
			s.Logger.Warn("INVENTORY", fmt.Sprintf("Failed to store certificate for ticket %s: %v", ticket.TicketID, err))
		} else {
			alloc.CertificateQR = qr
		}
	}

	if !result.Created {
		// Retried commit, ledger row already written.
		return nil
	}

	s.Logger.Info("INVENTORY", fmt.Sprintf("Committed edition #%d of %s to %s", alloc.EditionNumber+1, alloc.ArtifactID, buyerEmail))
	if s.Kafka != nil {
		if err := s.Kafka.PublishEditionSold(*alloc); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish edition sold event: %v", err))
		}
	}
	return nil
}

// ReleaseEdition rolls back a reservation that never committed, returning its
// slot to the pool.
func (s *InventoryService) ReleaseEdition(ticket *models.EditionTicket) error {
	moved, err := s.DB.TransitionReservation(ticket.TicketID, models.ReservationReserved, models.ReservationReleased)
	if err != nil {
		return fmt.Errorf("release transition failed for ticket %s: %w", ticket.TicketID, err)
	}
	if !moved {
		// Committed or already released; nothing to give back.
		return nil
	}
	if err := s.DB.ReleaseSlot(ticket.ArtifactID); err != nil {
		return fmt.Errorf("slot release failed for %s: %w", ticket.ArtifactID, err)
	}
	s.Logger.Info("INVENTORY", fmt.Sprintf("Released edition #%d of %s (ticket %s)", ticket.EditionNumber+1, ticket.ArtifactID, ticket.TicketID))
	return nil
}

// AttachToSession links freshly reserved tickets to a checkout session so TTL
// expiry can find and release them.
func (s *InventoryService) AttachToSession(tickets []*models.EditionTicket, confirmationID string) error {
	ids := make([]string, len(tickets))
	for i, t := range tickets {
		ids[i] = t.TicketID
	}
	return s.DB.AttachReservationsToSession(ids, confirmationID)
}

// ReservationsBySession lists tickets held by a checkout session.
func (s *InventoryService) ReservationsBySession(confirmationID string) ([]models.EditionTicket, error) {
	return s.DB.GetReservationsBySession(confirmationID)
}

// SetSoldCount is the admin override. It bypasses reservation but still
// respects the supply bounds.
func (s *InventoryService) SetSoldCount(artifactID string, count int) error {
	if count < 0 {
		return ErrInvalidCount
	}
	ok, err := s.DB.OverrideSoldCount(artifactID, count)
	if err != nil {
		return fmt.Errorf("sold count override failed for %s: %w", artifactID, err)
	}
	if !ok {
		return ErrInvalidCount
	}
	s.Logger.Warn("INVENTORY", fmt.Sprintf("Admin override: sold_count of %s set to %d", artifactID, count))
	return nil
}

// Review resolves a pending public artifact.
func (s *InventoryService) Review(artifactID string, approve bool) error {
	artifact, err := s.DB.GetArtifact(artifactID)
	if err != nil {
		return ErrNotFound
	}
	if !artifact.IsPublic {
		return fmt.Errorf("artifact %s is not public", artifactID)
	}
	status := models.ReviewRejected
	if approve {
		status = models.ReviewApproved
	}
	if err := s.DB.SetReviewStatus(artifactID, status); err != nil {
		return fmt.Errorf("review update failed for %s: %w", artifactID, err)
	}
	s.Logger.Info("INVENTORY", fmt.Sprintf("Artifact %s review resolved: %s", artifactID, status))
	return nil
}

// Artifact exposes a single artifact lookup for callers outside the package.
func (s *InventoryService) Artifact(artifactID string) (*models.Artifact, error) {
	return s.DB.GetArtifact(artifactID)
}

// CreateArtifact records a freshly generated poster.
func (s *InventoryService) CreateArtifact(artifact models.Artifact) error {
	return s.DB.CreateArtifact(artifact)
}
