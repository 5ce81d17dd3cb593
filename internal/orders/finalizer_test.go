package orders_test

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/csv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	checkoutdb "posterly/internal/checkout/db"
	"posterly/internal/inventory"
	inventorydb "posterly/internal/inventory/db"
	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/orders"
	ordersdb "posterly/internal/orders/db"
	"posterly/internal/utils"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{
		(*models.Artifact)(nil),
		(*models.EditionTicket)(nil),
		(*models.EditionAllocation)(nil),
		(*models.CheckoutSession)(nil),
		(*models.CheckoutItem)(nil),
		(*models.Order)(nil),
		(*models.OrderItem)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(context.Background())
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type stubGate struct{}

func (stubGate) IsUnlimited(email string) (bool, error) { return true, nil }

type stubKafka struct{}

func (stubKafka) PublishOrderConfirmed(models.Order) error          { return nil }
func (stubKafka) PublishEditionSold(models.EditionAllocation) error { return nil }

type fixture struct {
	orders    *orders.OrderService
	ordersDB  *ordersdb.DB
	inventory *inventory.InventoryService
	invStore  *inventorydb.DB
	sessions  *checkoutdb.DB
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := newTestDB(t)
	log := logger.NewTestLogger()

	invStore := &inventorydb.DB{Bun: db}
	inventorySvc := inventory.NewInventoryService(invStore, stubGate{}, nil, stubKafka{}, 29.95, 1000, log)
	sessions := &checkoutdb.DB{Bun: db}
	odb := &ordersdb.DB{Bun: db}
	orderSvc := orders.NewOrderService(odb, inventorySvc, sessions, stubKafka{}, log)

	return &fixture{
		orders:    orderSvc,
		ordersDB:  odb,
		inventory: inventorySvc,
		invStore:  invStore,
		sessions:  sessions,
	}
}

// seedSession builds a quantity-one payment_pending session with its edition
// held, the state a session is in when the provider confirms payment.
func (f *fixture) seedSession(t *testing.T, artifactID string, price float64) *models.CheckoutSession {
	t.Helper()
	require.NoError(t, f.invStore.CreateArtifact(models.Artifact{
		ArtifactID:    artifactID,
		OwnerEmail:    "artist@example.com",
		Title:         "Print " + artifactID,
		GeneratedPath: "/posters/" + artifactID + ".png",
		CreatedAt:     time.Now(),
	}))
	_, err := f.inventory.Publish(artifactID, 10, price)
	require.NoError(t, err)

	ticket, err := f.inventory.ReserveEdition(artifactID)
	require.NoError(t, err)

	confirmationID := utils.GenerateConfirmationID()
	now := time.Now()
	session := models.CheckoutSession{
		ConfirmationID: confirmationID,
		BuyerEmail:     "maya@example.com",
		Status:         models.SessionPaymentPending,
		Amount:         price,
		PaymentRef:     "pi_" + confirmationID,
		ShipName:       "Maya Lund",
		ShipAddress:    "14 Harbor Way",
		ShipCity:       "Bergen",
		ShipPostal:     "5003",
		ShipCountry:    "NO",
		CreatedAt:      now,
		ExpiresAt:      now.Add(15 * time.Minute),
	}
	items := []models.CheckoutItem{{
		ConfirmationID: confirmationID,
		ArtifactID:     artifactID,
		Title:          "Print " + artifactID,
		Quantity:       1,
		UnitPrice:      price,
		Limited:        true,
	}}
	require.NoError(t, f.sessions.CreateSession(session, items))
	require.NoError(t, f.inventory.AttachToSession([]*models.EditionTicket{ticket}, confirmationID))
	return &session
}

func TestFinalizeCreatesOrderOnce(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, "art-1", 55.00)

	first, err := f.orders.Finalize(session)
	require.NoError(t, err)
	assert.Equal(t, models.OrderPending, first.Status)
	assert.Equal(t, session.ConfirmationID, first.ConfirmationID)

	// A retried finalize lands on the same order, not a second one.
	second, err := f.orders.Finalize(session)
	require.NoError(t, err)
	assert.Equal(t, first.OrderID, second.OrderID)

	all, err := f.orders.ListOrders()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	full, err := f.orders.GetOrder(first.OrderID)
	require.NoError(t, err)
	require.Len(t, full.Items, 1)
	assert.Equal(t, "art-1", full.Items[0].ArtifactID)

	allocs, err := f.invStore.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.InDelta(t, 55.00, allocs[0].AmountPaid, 0.001)
	assert.Equal(t, "maya@example.com", allocs[0].BuyerEmail)
}

func TestSweepRepairsStrandedCommits(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, "art-1", 55.00)

	// Simulate a crash after the order row landed but before any edition
	// commit ran: the order exists while its ticket is still reserved.
	created, err := f.ordersDB.InsertOrder(models.Order{
		OrderID:        utils.GenerateOrderID(),
		ConfirmationID: session.ConfirmationID,
		BuyerEmail:     session.BuyerEmail,
		Amount:         session.Amount,
		Status:         models.OrderPending,
		PaymentRef:     session.PaymentRef,
		CreatedAt:      time.Now(),
	})
	require.NoError(t, err)
	require.True(t, created)

	sweeper := orders.NewSweeper(f.orders, time.Minute)
	assert.Equal(t, 1, sweeper.Sweep())

	allocs, err := f.invStore.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, session.BuyerEmail, allocs[0].BuyerEmail)

	// Once repaired there is nothing left to touch.
	assert.Equal(t, 0, sweeper.Sweep())
}

func TestSetStatusGuardsInput(t *testing.T) {
	f := newFixture(t)
	session := f.seedSession(t, "art-1", 55.00)
	order, err := f.orders.Finalize(session)
	require.NoError(t, err)

	assert.ErrorIs(t, f.orders.SetStatus(order.OrderID, "teleported"), orders.ErrInvalidStatus)
	assert.ErrorIs(t, f.orders.SetStatus("ord_missing", models.OrderShipped), orders.ErrOrderNotFound)

	require.NoError(t, f.orders.SetStatus(order.OrderID, models.OrderShipped))
	got, err := f.orders.GetOrder(order.OrderID)
	require.NoError(t, err)
	assert.Equal(t, models.OrderShipped, got.Status)
}

func TestExportCSVListsOrdersNewestFirst(t *testing.T) {
	f := newFixture(t)

	for i, conf := range []string{"conf-old", "conf-new"} {
		created, err := f.ordersDB.InsertOrder(models.Order{
			OrderID:        utils.GenerateOrderID(),
			ConfirmationID: conf,
			BuyerEmail:     "maya@example.com",
			Amount:         40.00,
			Status:         models.OrderPending,
			CreatedAt:      time.Now().Add(time.Duration(i) * time.Minute),
		})
		require.NoError(t, err)
		require.True(t, created)
	}

	var buf bytes.Buffer
	require.NoError(t, f.orders.ExportCSV(&buf))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "order_id", records[0][0])
	assert.Equal(t, "conf-new", records[1][1])
	assert.Equal(t, "conf-old", records[2][1])
	assert.Equal(t, "40.00", records[1][3])
}
