package orders

import (
	"errors"
	"fmt"
	"time"

	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/utils"
)

var (
	ErrOrderNotFound = errors.New("order not found")
	ErrInvalidStatus = errors.New("invalid order status")
)

type DBLayer interface {
	InsertOrder(order models.Order) (bool, error)
	InsertOrderItems(items []models.OrderItem) error
	GetOrderByID(id string) (*models.Order, error)
	GetOrderByConfirmation(confirmationID string) (*models.Order, error)
	GetOrderItems(orderID string) ([]models.OrderItem, error)
	UpdateOrderStatus(orderID string, status models.OrderStatus) (bool, error)
	ListOrders() ([]models.Order, error)
	ListUnreconciledOrders() ([]models.Order, error)
}

// Inventory is the slice of the allocator the finalizer drives.
type Inventory interface {
	CommitEdition(ticket *models.EditionTicket, buyerEmail string, amountPaid float64) error
	ReservationsBySession(confirmationID string) ([]models.EditionTicket, error)
}

// SessionStore is the slice of the checkout store the finalizer reads and
// advances.
type SessionStore interface {
	GetSessionItems(confirmationID string) ([]models.CheckoutItem, error)
	TransitionSession(confirmationID string, from, to models.SessionStatus) (bool, error)
}

type KafkaPublisher interface {
	PublishOrderConfirmed(order models.Order) error
}

type OrderService struct {
	DB        DBLayer
	Inventory Inventory
	Sessions  SessionStore
	Kafka     KafkaPublisher
	Logger    *logger.Logger
}

func NewOrderService(db DBLayer, inv Inventory, sessions SessionStore, kafka KafkaPublisher, log *logger.Logger) *OrderService {
	return &OrderService{DB: db, Inventory: inv, Sessions: sessions, Kafka: kafka, Logger: log}
}

// Finalize turns a confirmed payment into a durable order exactly once.
// Write order first, commit editions second, advance the session last: a
// crash between any two steps leaves a state the reconciliation sweep can
// detect and repair. Once the order row exists, nothing here fails the
// user-visible flow anymore; the money already moved.
func (s *OrderService) Finalize(session *models.CheckoutSession) (*models.Order, error) {
	order := models.Order{
		OrderID:        utils.GenerateOrderID(),
		ConfirmationID: session.ConfirmationID,
		BuyerEmail:     session.BuyerEmail,
		Amount:         session.Amount,
		Status:         models.OrderPending,
		PaymentRef:     session.PaymentRef,
		ShipName:       session.ShipName,
		ShipAddress:    session.ShipAddress,
		ShipCity:       session.ShipCity,
		ShipPostal:     session.ShipPostal,
		ShipCountry:    session.ShipCountry,
		CreatedAt:      time.Now(),
	}

	created, err := s.DB.InsertOrder(order)
	if err != nil {
		return nil, fmt.Errorf("order insert failed for %s: %w", session.ConfirmationID, err)
	}
	if !created {
		// Re-entry: the order already exists, pick it up and fall through
		// so a half-finished first attempt still completes.
		existing, err := s.DB.GetOrderByConfirmation(session.ConfirmationID)
		if err != nil {
			return nil, fmt.Errorf("existing order lookup failed for %s: %w", session.ConfirmationID, err)
		}
		order = *existing
		s.Logger.LogOrder("DUPLICATE", order.OrderID, "order already persisted, re-running commits")
	} else {
		items, err := s.Sessions.GetSessionItems(session.ConfirmationID)
		if err != nil {
			s.Logger.LogReconcile(order.OrderID, fmt.Sprintf("failed to load session items: %v", err))
		} else {
			orderItems := make([]models.OrderItem, 0, len(items))
			for _, item := range items {
				orderItems = append(orderItems, models.OrderItem{
					OrderID:    order.OrderID,
					ArtifactID: item.ArtifactID,
					Title:      item.Title,
					Quantity:   item.Quantity,
					UnitPrice:  item.UnitPrice,
				})
			}
			if err := s.DB.InsertOrderItems(orderItems); err != nil {
				s.Logger.LogReconcile(order.OrderID, fmt.Sprintf("failed to persist order items: %v", err))
			}
		}
		s.Logger.LogOrder("CREATED", order.OrderID, fmt.Sprintf("confirmation %s, amount %.2f", order.ConfirmationID, order.Amount))
	}

	s.commitReservations(&order, session.ConfirmationID)

	if _, err := s.Sessions.TransitionSession(session.ConfirmationID, models.SessionPaymentPending, models.SessionConfirmed); err != nil {
		s.Logger.LogReconcile(order.OrderID, fmt.Sprintf("failed to mark session confirmed: %v", err))
	}

	if s.Kafka != nil {
		if err := s.Kafka.PublishOrderConfirmed(order); err != nil {
			s.Logger.Warn("KAFKA", fmt.Sprintf("Failed to publish order confirmed for %s: %v", order.OrderID, err))
		}
	}
	return &order, nil
}

// commitReservations commits every ticket the session holds. Failures are
// logged for the reconciliation sweep, never surfaced: reversing a successful
// charge is worse than a delayed inventory record.
func (s *OrderService) commitReservations(order *models.Order, confirmationID string) {
	tickets, err := s.Inventory.ReservationsBySession(confirmationID)
	if err != nil {
		s.Logger.LogReconcile(order.OrderID, fmt.Sprintf("failed to list reservations: %v", err))
		return
	}

	prices := map[string]float64{}
	if items, err := s.Sessions.GetSessionItems(confirmationID); err == nil {
		for _, item := range items {
			prices[item.ArtifactID] = item.UnitPrice
		}
	}

	for i := range tickets {
		ticket := &tickets[i]
		if err := s.Inventory.CommitEdition(ticket, order.BuyerEmail, prices[ticket.ArtifactID]); err != nil {
			s.Logger.LogReconcile(order.OrderID, fmt.Sprintf("commit failed for ticket %s: %v", ticket.TicketID, err))
		}
	}
}

// OrderByConfirmation returns the order finalized for a confirmation ID.
func (s *OrderService) OrderByConfirmation(confirmationID string) (*models.Order, error) {
	order, err := s.DB.GetOrderByConfirmation(confirmationID)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	return order, nil
}

// GetOrder returns an order with its item lines.
func (s *OrderService) GetOrder(orderID string) (*models.OrderWithItems, error) {
	order, err := s.DB.GetOrderByID(orderID)
	if err != nil {
		return nil, ErrOrderNotFound
	}
	items, err := s.DB.GetOrderItems(orderID)
	if err != nil {
		return nil, err
	}
	return &models.OrderWithItems{Order: *order, Items: items}, nil
}

// SetStatus is the admin fulfillment path.
func (s *OrderService) SetStatus(orderID string, status models.OrderStatus) error {
	switch status {
	case models.OrderPending, models.OrderProcessing, models.OrderShipped, models.OrderDelivered, models.OrderCancelled:
	default:
		return fmt.Errorf("%w: %s", ErrInvalidStatus, status)
	}
	ok, err := s.DB.UpdateOrderStatus(orderID, status)
	if err != nil {
		return fmt.Errorf("status update failed for %s: %w", orderID, err)
	}
	if !ok {
		return ErrOrderNotFound
	}
	s.Logger.LogOrder("STATUS", orderID, string(status))
	return nil
}

// ListOrders returns all orders, newest first.
func (s *OrderService) ListOrders() ([]models.Order, error) {
	return s.DB.ListOrders()
}
