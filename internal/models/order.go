package models

import (
	"time"

	"github.com/uptrace/bun"
)

type OrderStatus string

const (
	OrderPending    OrderStatus = "pending"
	OrderProcessing OrderStatus = "processing"
	OrderShipped    OrderStatus = "shipped"
	OrderDelivered  OrderStatus = "delivered"
	OrderCancelled  OrderStatus = "cancelled"
)

// Order is created exactly once per confirmed checkout session. Creation is
// append-only and idempotent on confirmation_id; only the status field is
// mutated afterwards, by admin operators.
type Order struct {
	bun.BaseModel `bun:"table:orders"`

	OrderID        string      `bun:"order_id,pk" json:"order_id"`
	ConfirmationID string      `bun:"confirmation_id,unique" json:"confirmation_id"`
	BuyerEmail     string      `bun:"buyer_email" json:"buyer_email"`
	Amount         float64     `bun:"amount" json:"amount"`
	Status         OrderStatus `bun:"status" json:"status"`
	PaymentRef     string      `bun:"payment_ref" json:"payment_ref"`

	ShipName    string `bun:"ship_name" json:"ship_name"`
	ShipAddress string `bun:"ship_address" json:"ship_address"`
	ShipCity    string `bun:"ship_city" json:"ship_city"`
	ShipPostal  string `bun:"ship_postal" json:"ship_postal"`
	ShipCountry string `bun:"ship_country" json:"ship_country"`

	CreatedAt time.Time `bun:"created_at" json:"created_at"`
}

type OrderItem struct {
	bun.BaseModel `bun:"table:order_items"`

	ID         int64   `bun:"id,pk,autoincrement" json:"id"`
	OrderID    string  `bun:"order_id" json:"order_id"`
	ArtifactID string  `bun:"artifact_id" json:"artifact_id"`
	Title      string  `bun:"title" json:"title"`
	Quantity   int     `bun:"quantity" json:"quantity"`
	UnitPrice  float64 `bun:"unit_price" json:"unit_price"`
}

type OrderWithItems struct {
	Order
	Items []OrderItem `json:"items"`
}

type OrderStatusRequest struct {
	Status OrderStatus `json:"status"`
}
