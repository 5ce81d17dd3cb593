package models

import (
	"time"

	"github.com/uptrace/bun"
)

type UserType string

const (
	UserTypeNormal             UserType = "normal"
	UserTypeArtisticCollective UserType = "artistic_collective"
)

type Account struct {
	bun.BaseModel `bun:"table:accounts"`

	AccountID      string    `bun:"account_id,pk" json:"account_id"`
	Email          string    `bun:"email,unique" json:"email"`
	Username       string    `bun:"username,nullzero" json:"username,omitempty"`
	UserType       UserType  `bun:"user_type" json:"user_type"`
	SubscriptionID string    `bun:"subscription_id,nullzero" json:"subscription_id,omitempty"`
	Active         bool      `bun:"active" json:"active"`
	CreatedAt      time.Time `bun:"created_at" json:"created_at"`
}
