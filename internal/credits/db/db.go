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

// EnsureBalance creates the balance row for an email if it does not exist yet.
// First-touch initialization: racing callers both succeed, exactly one insert
// lands.
func (d *DB) EnsureBalance(email string, freeTotal int) error {
	balance := models.CreditBalance{
		Email:     email,
		FreeTotal: freeTotal,
	}
	_, err := d.Bun.NewInsert().
		Model(&balance).
		On("CONFLICT (email) DO NOTHING").
		Exec(context.Background())
	return err
}

// GetBalance fetches the balance row for an email.
func (d *DB) GetBalance(email string) (*models.CreditBalance, error) {
	var balance models.CreditBalance
	err := d.Bun.NewSelect().
		Model(&balance).
		Where("email = ?", email).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &balance, nil
}

// ConsumeFree burns one free credit. The decrement is a single conditional
// update; it reports false when free credits are exhausted and never goes
// past free_total.
func (d *DB) ConsumeFree(email string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CreditBalance)(nil)).
		Set("free_used = free_used + 1").
		Set("last_generated_at = ?", time.Now()).
		Where("email = ?", email).
		Where("free_used < free_total").
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

// ConsumePaid burns one paid credit, guarded the same way against going
// negative.
func (d *DB) ConsumePaid(email string) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.CreditBalance)(nil)).
		Set("paid_credits = paid_credits - 1").
		Set("last_generated_at = ?", time.Now()).
		Where("email = ?", email).
		Where("paid_credits > 0").
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

// AddPaidCredits tops up purchased credits.
func (d *DB) AddPaidCredits(email string, count int) error {
	_, err := d.Bun.NewUpdate().
		Model((*models.CreditBalance)(nil)).
		Set("paid_credits = paid_credits + ?", count).
		Where("email = ?", email).
		Exec(context.Background())
	return err
}
