package analytics

import (
	"context"
	"time"

	"github.com/uptrace/bun"

	"posterly/internal/models"
)

// Service aggregates sales data out of the edition allocation ledger and the
// order table. Reads only; the ledger is append-only so numbers are stable.
type Service struct {
	db *bun.DB
}

func NewService(db *bun.DB) *Service {
	return &Service{db: db}
}

// ArtifactSales is the seller-facing view of one limited edition.
type ArtifactSales struct {
	ArtifactID   string              `json:"artifact_id"`
	TotalSupply  int                 `json:"total_supply"`
	EditionsSold int                 `json:"editions_sold"`
	TotalRevenue float64             `json:"total_revenue"`
	DailySales   []DailySalesMetrics `json:"daily_sales"`
}

type DailySalesMetrics struct {
	Date         string  `json:"date"`
	Revenue      float64 `json:"revenue"`
	EditionsSold int     `json:"editions_sold"`
}

// StoreSummary is the admin dashboard roll-up.
type StoreSummary struct {
	TotalOrders    int            `json:"total_orders"`
	TotalRevenue   float64        `json:"total_revenue"`
	OrdersByStatus map[string]int `json:"orders_by_status"`
}

// GetArtifactSales returns sales aggregates for one artifact. Only committed
// editions count; reservations in flight are invisible here.
func (s *Service) GetArtifactSales(ctx context.Context, artifactID string) (*ArtifactSales, error) {
	var artifact models.Artifact
	err := s.db.NewSelect().
		Model(&artifact).
		Where("artifact_id = ?", artifactID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}

	type totalsRaw struct {
		EditionsSold int     `bun:"editions_sold"`
		TotalRevenue float64 `bun:"total_revenue"`
	}
	var totals totalsRaw
	err = s.db.NewSelect().
		ColumnExpr("COUNT(*) AS editions_sold").
		ColumnExpr("COALESCE(SUM(amount_paid), 0) AS total_revenue").
		TableExpr("edition_allocations").
		Where("artifact_id = ?", artifactID).
		Scan(ctx, &totals)
	if err != nil {
		return nil, err
	}

	type dailyRaw struct {
		SalesDate    time.Time `bun:"sales_date"`
		DailyRevenue float64   `bun:"daily_revenue"`
		DailyCount   int       `bun:"editions_sold_on_date"`
	}
	var daily []dailyRaw
	err = s.db.NewRaw(`
		SELECT
			DATE(purchase_date) AS sales_date,
			SUM(amount_paid) AS daily_revenue,
			COUNT(ticket_id) AS editions_sold_on_date
		FROM edition_allocations
		WHERE artifact_id = ?
		GROUP BY DATE(purchase_date)
		ORDER BY sales_date
	`, artifactID).Scan(ctx, &daily)
	if err != nil {
		return nil, err
	}

	result := &ArtifactSales{
		ArtifactID:   artifactID,
		TotalSupply:  artifact.TotalSupply,
		EditionsSold: totals.EditionsSold,
		TotalRevenue: totals.TotalRevenue,
		DailySales:   make([]DailySalesMetrics, 0, len(daily)),
	}
	for _, d := range daily {
		result.DailySales = append(result.DailySales, DailySalesMetrics{
			Date:         d.SalesDate.Format("2006-01-02"),
			Revenue:      d.DailyRevenue,
			EditionsSold: d.DailyCount,
		})
	}
	return result, nil
}

// GetStoreSummary rolls up all orders by status.
func (s *Service) GetStoreSummary(ctx context.Context) (*StoreSummary, error) {
	type statusRaw struct {
		Status  string  `bun:"status"`
		Count   int     `bun:"order_count"`
		Revenue float64 `bun:"revenue"`
	}
	var rows []statusRaw
	err := s.db.NewSelect().
		ColumnExpr("status").
		ColumnExpr("COUNT(*) AS order_count").
		ColumnExpr("COALESCE(SUM(amount), 0) AS revenue").
		TableExpr("orders").
		GroupExpr("status").
		Scan(ctx, &rows)
	if err != nil {
		return nil, err
	}

	summary := &StoreSummary{OrdersByStatus: make(map[string]int, len(rows))}
	for _, r := range rows {
		summary.TotalOrders += r.Count
		summary.OrdersByStatus[r.Status] = r.Count
		// Cancelled orders were never collected.
		if r.Status != string(models.OrderCancelled) {
			summary.TotalRevenue += r.Revenue
		}
	}
	return summary, nil
}
