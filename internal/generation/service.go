package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"posterly/internal/logger"
	"posterly/internal/models"
)

var ErrNoCredits = errors.New("no generation credits remaining")

// CreditMeter is the slice of the credit ledger generation needs. The credit
// is consumed only after a successful transform: a failed generation never
// costs anything.
type CreditMeter interface {
	CheckBalance(email string) (*models.Balance, error)
	TryConsume(email string) error
}

type ArtifactStore interface {
	CreateArtifact(artifact models.Artifact) error
}

type Transformer interface {
	Transform(ctx context.Context, imageURL, stylePrompt string) (string, error)
}

type GenerationService struct {
	Credits     CreditMeter
	Artifacts   ArtifactStore
	Transformer Transformer
	Logger      *logger.Logger
}

func NewGenerationService(credits CreditMeter, artifacts ArtifactStore, transformer Transformer, log *logger.Logger) *GenerationService {
	return &GenerationService{Credits: credits, Artifacts: artifacts, Transformer: transformer, Logger: log}
}

type GenerateRequest struct {
	ImageURL    string `json:"image_url"`
	StylePrompt string `json:"style_prompt"`
	Title       string `json:"title,omitempty"`
}

// Generate runs the metered generation flow: verify the caller can afford a
// generation, transform, record the artifact, then burn the credit. TryConsume
// re-checks atomically, so a balance raced to zero between the check and the
// consume still fails closed.
func (s *GenerationService) Generate(ctx context.Context, email string, req GenerateRequest) (*models.Artifact, error) {
	balance, err := s.Credits.CheckBalance(email)
	if err != nil {
		return nil, fmt.Errorf("balance check failed for %s: %w", email, err)
	}
	if !balance.IsUnlimited && balance.FreeRemaining <= 0 && balance.PaidCredits <= 0 {
		return nil, fmt.Errorf("no credits for %s: %w", email, ErrNoCredits)
	}

	posterURL, err := s.Transformer.Transform(ctx, req.ImageURL, req.StylePrompt)
	if err != nil {
		return nil, fmt.Errorf("transform failed for %s: %w", email, err)
	}

	artifact := models.Artifact{
		ArtifactID:    uuid.New().String(),
		OwnerEmail:    email,
		Title:         req.Title,
		OriginalPath:  req.ImageURL,
		GeneratedPath: posterURL,
		StylePrompt:   req.StylePrompt,
		ReviewStatus:  models.ReviewPending,
		CreatedAt:     time.Now(),
	}
	if err := s.Artifacts.CreateArtifact(artifact); err != nil {
		return nil, fmt.Errorf("failed to record artifact for %s: %w", email, err)
	}

	if err := s.Credits.TryConsume(email); err != nil {
		// The poster exists; surface the metering failure but keep the
		// artifact so the user does not lose work they were charged for.
		s.Logger.Warn("GENERATION", fmt.Sprintf("Credit consume failed after generation for %s: %v", email, err))
		return &artifact, err
	}

	s.Logger.Info("GENERATION", fmt.Sprintf("Generated artifact %s for %s", artifact.ArtifactID, email))
	return &artifact, nil
}
