package db

import (
	"context"
	"database/sql"
	"errors"

	"github.com/uptrace/bun"

	"posterly/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateArtifact(artifact models.Artifact) error {
	_, err := d.Bun.NewInsert().Model(&artifact).Exec(context.Background())
	return err
}

func (d *DB) GetArtifact(id string) (*models.Artifact, error) {
	var artifact models.Artifact
	err := d.Bun.NewSelect().
		Model(&artifact).
		Where("artifact_id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &artifact, nil
}

// MarkPublished flips an artifact to a limited edition exactly once. The
// supply and price land only if the artifact has never been published; a
// second publish matches zero rows.
func (d *DB) MarkPublished(id string, totalSupply int, pricePerUnit float64, review models.ReviewStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Artifact)(nil)).
		Set("is_public = ?", true).
		Set("total_supply = ?", totalSupply).
		Set("price_per_unit = ?", pricePerUnit).
		Set("review_status = ?", review).
		Where("artifact_id = ?", id).
		Where("total_supply = 0").
		Where("is_public = ?", false).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// ReserveSlot is the oversell guard: a single conditional increment that only
// lands while sold_count < total_supply. Returns the post-increment count so
// the caller gets its edition number from the same statement that won the
// slot.
func (d *DB) ReserveSlot(id string) (int, error) {
	var soldCount int
	_, err := d.Bun.NewUpdate().
		Model((*models.Artifact)(nil)).
		Set("sold_count = sold_count + 1").
		Where("artifact_id = ?", id).
		Where("is_public = ?", true).
		Where("review_status = ?", models.ReviewApproved).
		Where("sold_count < total_supply").
		Returning("sold_count").
		Exec(context.Background(), &soldCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}
		return 0, err
	}
	return soldCount, nil
}

// ReleaseSlot undoes a provisional increment for a ticket that never
// committed. This is the only path by which sold_count decreases.
func (d *DB) ReleaseSlot(id string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Artifact)(nil)).
		Set("sold_count = sold_count - 1").
		Where("artifact_id = ?", id).
		Where("sold_count > 0").
		Exec(context.Background())
	return err
}

// OverrideSoldCount is the admin correction path. The bounds check runs in the
// same statement.
func (d *DB) OverrideSoldCount(id string, count int) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Artifact)(nil)).
		Set("sold_count = ?", count).
		Where("artifact_id = ?", id).
		Where("total_supply >= ?", count).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (d *DB) SetReviewStatus(id string, status models.ReviewStatus) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Artifact)(nil)).
		Set("review_status = ?", status).
		Where("artifact_id = ?", id).
		Exec(context.Background())
	return err
}

// ---------------- RESERVATIONS ----------------

func (d *DB) CreateReservation(ticket models.EditionTicket) error {
	_, err := d.Bun.NewInsert().Model(&ticket).Exec(context.Background())
	return err
}

func (d *DB) GetReservation(ticketID string) (*models.EditionTicket, error) {
	var ticket models.EditionTicket
	err := d.Bun.NewSelect().
		Model(&ticket).
		Where("ticket_id = ?", ticketID).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

func (d *DB) GetReservationsBySession(confirmationID string) ([]models.EditionTicket, error) {
	var tickets []models.EditionTicket
	err := d.Bun.NewSelect().
		Model(&tickets).
		Where("confirmation_id = ?", confirmationID).
		Order("edition_number ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return tickets, nil
}

// TransitionReservation moves a ticket from one status to another. The guard
// on the current status makes commit/release idempotent and mutually
// exclusive.
func (d *DB) TransitionReservation(ticketID string, from, to models.ReservationStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.EditionTicket)(nil)).
		Set("status = ?", to).
		Where("ticket_id = ?", ticketID).
		Where("status = ?", from).
		Exec(context.Background())
	if err != nil {
		return false, err
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

func (d *DB) AttachReservationsToSession(ticketIDs []string, confirmationID string) error {
	if len(ticketIDs) == 0 {
		return nil
	}
	_, err := d.Bun.NewUpdate().
		Model((*models.EditionTicket)(nil)).
		Set("confirmation_id = ?", confirmationID).
		Where("ticket_id IN (?)", bun.In(ticketIDs)).
		Exec(context.Background())
	return err
}

// ---------------- ALLOCATIONS ----------------

// CommitReservation flips the ticket to committed and appends its sales-ledger
// row in one transaction, so a failure anywhere rolls the ticket back to
// reserved for the reconciliation sweep to retry. The edition number is
// assigned here from the ledger, not at reservation time: committed numbering
// stays dense because released reservations leave no holes. An
// already-committed ticket falls through to the insert, so a commit that died
// between the transition and the ledger write still completes on retry;
// conflict on the ticket ID returns the existing row unchanged.
func (d *DB) CommitReservation(alloc models.EditionAllocation) (models.EditionCommit, error) {
	var result models.EditionCommit
	err := d.Bun.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*models.EditionTicket)(nil)).
			Set("status = ?", models.ReservationCommitted).
			Where("ticket_id = ? AND status = ?", alloc.TicketID, models.ReservationReserved).
			Exec(ctx)
		if err != nil {
			return err
		}
		moved, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if moved == 0 {
			var ticket models.EditionTicket
			err := tx.NewSelect().
				Model(&ticket).
				Where("ticket_id = ?", alloc.TicketID).
				Limit(1).
				Scan(ctx)
			if err != nil {
				return err
			}
			if ticket.Status != models.ReservationCommitted {
				result.Released = true
				return nil
			}
		}

		var next int
		err = tx.NewSelect().
			ColumnExpr("COALESCE(MAX(edition_number), -1) + 1").
			TableExpr("edition_allocations").
			Where("artifact_id = ?", alloc.ArtifactID).
			Scan(ctx, &next)
		if err != nil {
			return err
		}
		alloc.EditionNumber = next

		ins, err := tx.NewInsert().
			Model(&alloc).
			On("CONFLICT (ticket_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return err
		}
		rows, err := ins.RowsAffected()
		if err != nil {
			return err
		}
		if rows == 0 {
			err := tx.NewSelect().
				Model(&alloc).
				Where("ticket_id = ?", alloc.TicketID).
				Limit(1).
				Scan(ctx)
			if err != nil {
				return err
			}
			result.Alloc = &alloc
			return nil
		}
		result.Alloc = &alloc
		result.Created = true
		return nil
	})
	if err != nil {
		return models.EditionCommit{}, err
	}
	return result, nil
}

// SetAllocationCertificate stores the rendered certificate on the ledger row.
func (d *DB) SetAllocationCertificate(ticketID string, qr []byte) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.EditionAllocation)(nil)).
		Set("certificate_qr = ?", qr).
		Where("ticket_id = ?", ticketID).
		Exec(context.Background())
	return err
}

func (d *DB) GetAllocationsByArtifact(artifactID string) ([]models.EditionAllocation, error) {
	var allocs []models.EditionAllocation
	err := d.Bun.NewSelect().
		Model(&allocs).
		Where("artifact_id = ?", artifactID).
		Order("edition_number ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return allocs, nil
}
