package db

import (
	"context"

	"github.com/uptrace/bun"

	"posterly/internal/models"
)

type DB struct {
	Bun *bun.DB
}

// InsertOrder appends the order row. The unique constraint on confirmation_id
// makes re-entry safe: a duplicate insert matches the conflict clause and
// reports created=false.
func (d *DB) InsertOrder(order models.Order) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(&order).
		On("CONFLICT (confirmation_id) DO NOTHING").
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

func (d *DB) InsertOrderItems(items []models.OrderItem) error {
	if len(items) == 0 {
		return nil
	}
	_, err := d.Bun.NewInsert().Model(&items).Exec(context.Background())
	return err
}

func (d *DB) GetOrderByID(id string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("order_id = ?", id).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderByConfirmation(confirmationID string) (*models.Order, error) {
	var order models.Order
	err := d.Bun.NewSelect().
		Model(&order).
		Where("confirmation_id = ?", confirmationID).
		Limit(1).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return &order, nil
}

func (d *DB) GetOrderItems(orderID string) ([]models.OrderItem, error) {
	var items []models.OrderItem
	err := d.Bun.NewSelect().
		Model(&items).
		Where("order_id = ?", orderID).
		Order("id ASC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return items, nil
}

// UpdateOrderStatus is the only post-creation mutation an order row sees.
func (d *DB) UpdateOrderStatus(orderID string, status models.OrderStatus) (bool, error) {
	res, err := d.Bun.NewUpdate().
		Model((*models.Order)(nil)).
		Set("status = ?", status).
		Where("order_id = ?", orderID).
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

func (d *DB) ListOrders() ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Order("created_at DESC").
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return orders, nil
}

// ListUnreconciledOrders finds orders whose sessions still hold reservations
// in "reserved" state: a crash landed between order persistence and edition
// commit. The sweep repairs these.
func (d *DB) ListUnreconciledOrders() ([]models.Order, error) {
	var orders []models.Order
	err := d.Bun.NewSelect().
		Model(&orders).
		Distinct().
		Join("JOIN edition_reservations AS r ON r.confirmation_id = \"order\".confirmation_id").
		Where("r.status = ?", models.ReservationReserved).
		Scan(context.Background())
	if err != nil {
		return nil, err
	}
	return orders, nil
}
