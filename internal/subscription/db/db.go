package db

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"posterly/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// GetByEmail returns the most recent subscription for an email, or
// sql.ErrNoRows when the account never subscribed.
func (d *DB) GetByEmail(email string) (*models.Subscription, error) {
	var sub models.Subscription
	err := d.Bun.NewSelect().
		Model(&sub).
		Where("email = ?", email).
		Order("created_at DESC").
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// GetByProviderRef looks a subscription up by the billing provider's id.
// Webhook handlers use this since provider events carry no local ids.
func (d *DB) GetByProviderRef(ref string) (*models.Subscription, error) {
	var sub models.Subscription
	err := d.Bun.NewSelect().
		Model(&sub).
		Where("provider_ref = ?", ref).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateWithAccountUpgrade persists a confirmed subscription and promotes the
// owning account to the artistic collective tier in one transaction. The
// account row is created on first contact if registration never ran.
func (d *DB) CreateWithAccountUpgrade(sub *models.Subscription) error {
	return d.Bun.RunInTx(context.Background(), nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(sub).Exec(ctx); err != nil {
			return err
		}
		account := models.Account{
			AccountID:      sub.AccountID,
			Email:          sub.Email,
			UserType:       models.UserTypeArtisticCollective,
			SubscriptionID: sub.SubscriptionID,
			Active:         true,
			CreatedAt:      time.Now(),
		}
		_, err := tx.NewInsert().
			Model(&account).
			On("CONFLICT (email) DO UPDATE").
			Set("user_type = EXCLUDED.user_type").
			Set("subscription_id = EXCLUDED.subscription_id").
			Exec(ctx)
		return err
	})
}

// AccountIDByEmail resolves an account id, minting one for accounts that only
// exist provider-side so far.
func (d *DB) AccountIDByEmail(email string) (string, error) {
	var account models.Account
	err := d.Bun.NewSelect().
		Model(&account).
		Where("email = ?", email).
		Limit(1).
		Scan(context.Background())
	if err == nil {
		return account.AccountID, nil
	}
	return uuid.New().String(), nil
}

// SetCancelAtPeriodEnd flags a subscription as ending after the current
// billing cycle. Status stays active until the provider reports otherwise.
func (d *DB) SetCancelAtPeriodEnd(subscriptionID string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Subscription)(nil)).
		Set("cancel_at_period_end = ?", true).
		Where("subscription_id = ?", subscriptionID).
		Exec(context.Background())
	return err
}

// UpdateFromProvider applies provider-reported state by provider ref.
func (d *DB) UpdateFromProvider(ref string, status models.SubscriptionStatus, periodEnd time.Time, cancelAtPeriodEnd bool) error {
	q := d.Bun.NewUpdate().
		Model((*models.Subscription)(nil)).
		Set("status = ?", status).
		Set("cancel_at_period_end = ?", cancelAtPeriodEnd).
		Where("provider_ref = ?", ref)
	if !periodEnd.IsZero() {
		q = q.Set("current_period_end = ?", periodEnd)
	}
	_, err := q.Exec(context.Background())
	return err
}

// DowngradeAccount reverts an account to the normal tier once its
// subscription ends.
func (d *DB) DowngradeAccount(email string) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.Account)(nil)).
		Set("user_type = ?", models.UserTypeNormal).
		Set("subscription_id = NULL").
		Where("email = ?", email).
		Exec(context.Background())
	return err
}
