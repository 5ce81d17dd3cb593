package db

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"posterly/internal/models"
)

type DB struct {
	Bun *bun.DB
}

func (d *DB) CreateSession(session models.CheckoutSession, items []models.CheckoutItem) error {
	return d.Bun.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(&session).Exec(ctx); err != nil {
			return err
		}
		if len(items) > 0 {
			if _, err := tx.NewInsert().Model(&items).Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

func (d *DB) GetSession(confirmationID string) (*models.CheckoutSession, error) {
	var session models.CheckoutSession
	err := d.Bun.NewSelect().
		Model(&session).
		Where("confirmation_id = ?", confirmationID).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (d *DB) GetSessionItems(confirmationID string) ([]models.CheckoutItem, error) {
	var items []models.CheckoutItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("confirmation_id = ?", confirmationID).
		Order("id ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return items, nil
}

// TransitionSession advances the state machine. The guard on the current
// status means no transition can skip a state and racing transitions resolve
// to exactly one winner.
func (d *DB) TransitionSession(confirmationID string, from, to models.SessionStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("status = ?", to).
		Where("confirmation_id = ?", confirmationID).
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

func (d *DB) SetPaymentRef(confirmationID, paymentRef string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.CheckoutSession)(nil)).
		Set("payment_ref = ?", paymentRef).
		Where("confirmation_id = ?", confirmationID).
		Exec(context.Background())
	return err
}

// DeleteAbandonedBefore garbage-collects sessions that expired long ago.
func (d *DB) DeleteAbandonedBefore(cutoff time.Time) (int64, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.CheckoutSession)(nil)).
		Where("status = ?", models.SessionAbandoned).
		Where("expires_at < ?", cutoff).
		Exec(context.Background())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
