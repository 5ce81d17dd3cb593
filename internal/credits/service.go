package credits

import (
	"errors"
	"fmt"

	"posterly/internal/logger"
	"posterly/internal/models"
)

var ErrInsufficientCredits = errors.New("insufficient generation credits")

type DBLayer interface {
	EnsureBalance(email string, freeTotal int) error
	GetBalance(email string) (*models.CreditBalance, error)
	ConsumeFree(email string) (bool, error)
	ConsumePaid(email string) (bool, error)
	AddPaidCredits(email string, count int) error
}

// SubscriptionGate answers whether an account currently holds unlimited
// generation. Checked fresh on every consume, never cached here.
type SubscriptionGate interface {
	IsUnlimited(email string) (bool, error)
}

type KafkaPublisher interface {
	PublishCreditConsumed(email string, unlimited bool) error
}

type CreditService struct {
	DB        DBLayer
	Gate      SubscriptionGate
	Kafka     KafkaPublisher
	FreeTotal int
	Logger    *logger.Logger
}

func NewCreditService(db DBLayer, gate SubscriptionGate, kafka KafkaPublisher, freeTotal int, log *logger.Logger) *CreditService {
	return &CreditService{DB: db, Gate: gate, Kafka: kafka, FreeTotal: freeTotal, Logger: log}
}

// CheckBalance reports the remaining credits for an email, lazily creating the
// balance row on first touch.
func (s *CreditService) CheckBalance(email string) (*models.Balance, error) {
	if err := s.DB.EnsureBalance(email, s.FreeTotal); err != nil {
		return nil, fmt.Errorf("failed to ensure balance for %s: %w", email, err)
	}

	balance, err := s.DB.GetBalance(email)
	if err != nil {
		return nil, fmt.Errorf("failed to load balance for %s: %w", email, err)
	}

	unlimited, err := s.Gate.IsUnlimited(email)
	if err != nil {
		return nil, fmt.Errorf("subscription check failed for %s: %w", email, err)
	}

	return &models.Balance{
		FreeRemaining: balance.FreeTotal - balance.FreeUsed,
		PaidCredits:   balance.PaidCredits,
		IsUnlimited:   unlimited,
	}, nil
}

// TryConsume burns exactly one credit: free first, paid as fallback. Unlimited
// accounts consume nothing; the usage is only logged. Fails closed with
// ErrInsufficientCredits and never partially decrements.
func (s *CreditService) TryConsume(email string) error {
	unlimited, err := s.Gate.IsUnlimited(email)
	if err != nil {
		return fmt.Errorf("subscription check failed for %s: %w", email, err)
	}

	if unlimited {
		s.Logger.Info("CREDITS", fmt.Sprintf("Unlimited generation for %s, no credit consumed", email))
		if err := s.Kafka.PublishCreditConsumed(email, true); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish credit event for %s: %v", email, err))
		}
		return nil
	}

	if err := s.DB.EnsureBalance(email, s.FreeTotal); err != nil {
		return fmt.Errorf("failed to ensure balance for %s: %w", email, err)
	}

	consumed, err := s.DB.ConsumeFree(email)
	if err != nil {
		return fmt.Errorf("free credit decrement failed for %s: %w", email, err)
	}
	if !consumed {
		consumed, err = s.DB.ConsumePaid(email)
		if err != nil {
			return fmt.Errorf("paid credit decrement failed for %s: %w", email, err)
		}
	}
	if !consumed {
		return ErrInsufficientCredits
	}

	s.Logger.Info("CREDITS", fmt.Sprintf("Credit consumed for %s", email))
	if err := s.Kafka.PublishCreditConsumed(email, false); err != nil {
		s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish credit event for %s: %v", email, err))
	}
	return nil
}

// AddPaidCredits records a purchased credit pack.
func (s *CreditService) AddPaidCredits(email string, count int) error {
	if count <= 0 {
		return fmt.Errorf("invalid credit pack size: %d", count)
	}
	if err := s.DB.EnsureBalance(email, s.FreeTotal); err != nil {
		return fmt.Errorf("failed to ensure balance for %s: %w", email, err)
	}
	if err := s.DB.AddPaidCredits(email, count); err != nil {
		return fmt.Errorf("failed to add paid credits for %s: %w", email, err)
	}
	s.Logger.Info("CREDITS", fmt.Sprintf("Added %d paid credits for %s", count, email))
	return nil
}
