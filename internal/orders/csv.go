package orders

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
)

// ExportCSV writes every order as one CSV row, newest first.
func (s *OrderService) ExportCSV(w io.Writer) error {
	orders, err := s.DB.ListOrders()
	if err != nil {
		return fmt.Errorf("failed to list orders for export: %w", err)
	}

	writer := csv.NewWriter(w)
	header := []string{"order_id", "confirmation_id", "buyer_email", "amount", "status", "ship_name", "ship_address", "ship_city", "ship_postal", "ship_country", "created_at"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, order := range orders {
		record := []string{
			order.OrderID,
			order.ConfirmationID,
			order.BuyerEmail,
			strconv.FormatFloat(order.Amount, 'f', 2, 64),
			string(order.Status),
			order.ShipName,
			order.ShipAddress,
			order.ShipCity,
			order.ShipPostal,
			order.ShipCountry,
			order.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}
