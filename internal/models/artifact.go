package models

import (
	"time"

	"github.com/uptrace/bun"
)

type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// Artifact is a generated poster. Once published with a non-null total supply
// it becomes a limited edition: supply and price are fixed for good and
// sold_count only ever moves through the inventory allocator.
type Artifact struct {
	bun.BaseModel `bun:"table:artifacts"`

	ArtifactID    string       `bun:"artifact_id,pk" json:"artifact_id"`
	OwnerEmail    string       `bun:"owner_email" json:"owner_email"`
	Title         string       `bun:"title" json:"title"`
	OriginalPath  string       `bun:"original_path" json:"original_path"`
	GeneratedPath string       `bun:"generated_path" json:"generated_path"`
	ThumbnailPath string       `bun:"thumbnail_path,nullzero" json:"thumbnail_path,omitempty"`
	StylePrompt   string       `bun:"style_prompt,nullzero" json:"style_prompt,omitempty"`
	IsPublic      bool         `bun:"is_public" json:"is_public"`
	ReviewStatus  ReviewStatus `bun:"review_status" json:"review_status"`
	TotalSupply   int          `bun:"total_supply" json:"total_supply"`
	SoldCount     int          `bun:"sold_count" json:"sold_count"`
	PricePerUnit  float64      `bun:"price_per_unit" json:"price_per_unit"`
	CreatedAt     time.Time    `bun:"created_at" json:"created_at"`
}

// Limited reports whether the artifact sells as a numbered edition.
func (a *Artifact) Limited() bool {
	return a.IsPublic && a.TotalSupply > 0
}

type ReservationStatus string

const (
	ReservationReserved  ReservationStatus = "reserved"
	ReservationCommitted ReservationStatus = "committed"
	ReservationReleased  ReservationStatus = "released"
)

// EditionTicket is a provisional hold on one edition slot. It is durable so an
// expired checkout can be rolled back after a restart. EditionNumber here is
// the slot ordinal at reservation time; the authoritative number is assigned
// on the allocation row at commit.
type EditionTicket struct {
	bun.BaseModel `bun:"table:edition_reservations"`

	TicketID       string            `bun:"ticket_id,pk" json:"ticket_id"`
	ArtifactID     string            `bun:"artifact_id" json:"artifact_id"`
	ConfirmationID string            `bun:"confirmation_id,nullzero" json:"confirmation_id,omitempty"`
	EditionNumber  int               `bun:"edition_number" json:"edition_number"`
	Status         ReservationStatus `bun:"status" json:"status"`
	ReservedAt     time.Time         `bun:"reserved_at" json:"reserved_at"`
}

// EditionAllocation is the append-only sales ledger, one row per committed
// edition. sold_count is derivable from it.
type EditionAllocation struct {
	bun.BaseModel `bun:"table:edition_allocations"`

	TicketID      string    `bun:"ticket_id,pk" json:"ticket_id"`
	ArtifactID    string    `bun:"artifact_id" json:"artifact_id"`
	EditionNumber int       `bun:"edition_number" json:"edition_number"`
	BuyerEmail    string    `bun:"buyer_email" json:"buyer_email"`
	AmountPaid    float64   `bun:"amount_paid" json:"amount_paid"`
	CertificateQR []byte    `bun:"certificate_qr" json:"-"`
	PurchaseDate  time.Time `bun:"purchase_date" json:"purchase_date"`
}

// EditionCommit is the outcome of committing a reservation to the ledger.
type EditionCommit struct {
	Alloc    *EditionAllocation
	Created  bool // the ledger row was written by this call
	Released bool // the ticket was already released, nothing committed
}

type PublishRequest struct {
	TotalSupply  int     `json:"total_supply"`
	PricePerUnit float64 `json:"price_per_unit"`
}
