package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SessionStatus string

const (
	SessionReserved       SessionStatus = "reserved"
	SessionPaymentPending SessionStatus = "payment_pending"
	SessionConfirmed      SessionStatus = "confirmed"
	SessionAbandoned      SessionStatus = "abandoned"
)

// CheckoutSession is the server-held record of an in-progress purchase. The
// client only ever holds the confirmation ID; status lives here.
type CheckoutSession struct {
	bun.BaseModel `bun:"table:checkout_sessions"`

	ConfirmationID string        `bun:"confirmation_id,pk" json:"confirmation_id"`
	BuyerEmail     string        `bun:"buyer_email" json:"buyer_email"`
	Status         SessionStatus `bun:"status" json:"status"`
	Amount         float64       `bun:"amount" json:"amount"`
	PaymentRef     string        `bun:"payment_ref,nullzero" json:"payment_ref,omitempty"`

	ShipName    string `bun:"ship_name" json:"ship_name"`
	ShipAddress string `bun:"ship_address" json:"ship_address"`
	ShipCity    string `bun:"ship_city" json:"ship_city"`
	ShipPostal  string `bun:"ship_postal" json:"ship_postal"`
	ShipCountry string `bun:"ship_country" json:"ship_country"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
	ExpiresAt time.Time `bun:"expires_at" json:"expires_at"`
}

// CheckoutItem is one cart line snapshotted at reservation time. Unit price is
// captured here and never re-read at commit time.
type CheckoutItem struct {
	bun.BaseModel `bun:"table:checkout_items"`

	ID             int64   `bun:"id,pk,autoincrement" json:"id"`
	ConfirmationID string  `bun:"confirmation_id" json:"confirmation_id"`
	ArtifactID     string  `bun:"artifact_id" json:"artifact_id"`
	Title          string  `bun:"title" json:"title"`
	Quantity       int     `bun:"quantity" json:"quantity"`
	UnitPrice      float64 `bun:"unit_price" json:"unit_price"`
	Limited        bool    `bun:"limited" json:"limited"`
}

type ShippingInfo struct {
	Name    string `json:"name"`
	Address string `json:"address"`
	City    string `json:"city"`
	Postal  string `json:"postal"`
	Country string `json:"country"`
}

type CartItem struct {
	ArtifactID string `json:"artifact_id"`
	Quantity   int    `json:"quantity"`
}

type CheckoutRequest struct {
	Email    string       `json:"email"`
	Shipping ShippingInfo `json:"shipping"`
	Items    []CartItem   `json:"items"`
}

type CheckoutResponse struct {
	ConfirmationID string  `json:"confirmation_id"`
	ClientSecret   string  `json:"client_secret"`
	Amount         float64 `json:"amount"`
	ExpiresAt      string  `json:"expires_at"`
}

type CompleteOrderRequest struct {
	ConfirmationID string  `json:"confirmation_id"`
	PaymentRef     string  `json:"payment_ref"`
	AmountReceived float64 `json:"amount_received"`
}
