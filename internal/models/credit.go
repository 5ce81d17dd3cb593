package models

import (
	"time"

	"github.com/uptrace/bun"
)

// CreditBalance meters AI poster generations per account. One row per email,
// created lazily on the first balance check.
type CreditBalance struct {
	bun.BaseModel `bun:"table:credit_balances"`

	Email           string    `bun:"email,pk" json:"email"`
	FreeTotal       int       `bun:"free_total" json:"free_total"`
	FreeUsed        int       `bun:"free_used" json:"free_used"`
	PaidCredits     int       `bun:"paid_credits" json:"paid_credits"`
	LastGeneratedAt time.Time `bun:"last_generated_at,nullzero" json:"last_generated_at,omitempty"`
}

// Balance is the client-facing view of a credit balance.
type Balance struct {
	FreeRemaining int  `json:"free_remaining"`
	PaidCredits   int  `json:"paid_credits"`
	IsUnlimited   bool `json:"is_unlimited"`
}
