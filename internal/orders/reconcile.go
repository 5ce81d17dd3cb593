package orders

import (
	"fmt"
	"time"
)

// Sweeper periodically repairs orders that crashed between order persistence
// and edition commit: the order row exists but its tickets are still in
// reserved state.
type Sweeper struct {
	Orders   *OrderService
	Interval time.Duration
	stop     chan struct{}
}

func NewSweeper(orders *OrderService, interval time.Duration) *Sweeper {
	return &Sweeper{
		Orders:   orders,
		Interval: interval,
		stop:     make(chan struct{}),
	}
}

// Run blocks until Stop is called. Intended for a dedicated goroutine.
func (s *Sweeper) Run() {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Sweep()
		case <-s.stop:
			return
		}
	}
}

func (s *Sweeper) Stop() {
	close(s.stop)
}

// Sweep runs one reconciliation pass and returns how many orders it touched.
func (s *Sweeper) Sweep() int {
	orders, err := s.Orders.DB.ListUnreconciledOrders()
	if err != nil {
		s.Orders.Logger.Error("RECONCILE", fmt.Sprintf("Sweep query failed: %v", err))
		return 0
	}

	for i := range orders {
		order := &orders[i]
		s.Orders.Logger.LogReconcile(order.OrderID, "re-running edition commits for order with reserved tickets")
		s.Orders.commitReservations(order, order.ConfirmationID)
	}
	return len(orders)
}
