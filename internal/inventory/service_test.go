package inventory_test

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"posterly/internal/inventory"
	"posterly/internal/inventory/certificate"
	inventorydb "posterly/internal/inventory/db"
	"posterly/internal/logger"
	"posterly/internal/models"
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
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(context.Background())
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type stubGate struct {
	unlimited bool
}

func (g *stubGate) IsUnlimited(email string) (bool, error) {
	return g.unlimited, nil
}

type recordingKafka struct {
	sold []models.EditionAllocation
}

func (k *recordingKafka) PublishEditionSold(alloc models.EditionAllocation) error {
	k.sold = append(k.sold, alloc)
	return nil
}

func newService(t *testing.T, gate *stubGate) (*inventory.InventoryService, *inventorydb.DB, *recordingKafka) {
	t.Helper()
	store := &inventorydb.DB{Bun: newTestDB(t)}
	kafka := &recordingKafka{}
	svc := inventory.NewInventoryService(
		store,
		gate,
		certificate.NewGenerator("test-secret"),
		kafka,
		29.95,
		1000,
		logger.NewTestLogger(),
	)
	return svc, store, kafka
}

func seedArtifact(t *testing.T, store *inventorydb.DB, id, owner string) {
	t.Helper()
	require.NoError(t, store.CreateArtifact(models.Artifact{
		ArtifactID:    id,
		OwnerEmail:    owner,
		Title:         "Harbor at Dusk",
		GeneratedPath: "/posters/" + id + ".png",
		ReviewStatus:  models.ReviewPending,
		CreatedAt:     time.Now(),
	}))
}

func TestPublishValidatesSupplyAndPrice(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{})
	seedArtifact(t, store, "art-1", "ana@example.com")

	_, err := svc.Publish("art-1", 0, 49.00)
	assert.ErrorIs(t, err, inventory.ErrInvalidSupply)

	_, err = svc.Publish("art-1", 1001, 49.00)
	assert.ErrorIs(t, err, inventory.ErrInvalidSupply)

	_, err = svc.Publish("art-1", 10, 9.99)
	assert.ErrorIs(t, err, inventory.ErrInvalidSupply)

	_, err = svc.Publish("missing", 10, 49.00)
	assert.ErrorIs(t, err, inventory.ErrNotFound)
}

func TestPublishFixesSupplyExactlyOnce(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")

	artifact, err := svc.Publish("art-1", 25, 80.00)
	require.NoError(t, err)
	assert.True(t, artifact.IsPublic)
	assert.Equal(t, 25, artifact.TotalSupply)
	assert.Equal(t, models.ReviewApproved, artifact.ReviewStatus)

	_, err = svc.Publish("art-1", 500, 10.00)
	assert.ErrorIs(t, err, inventory.ErrAlreadyPublished)

	// Nothing was overwritten by the failed second publish.
	artifact, err = svc.Artifact("art-1")
	require.NoError(t, err)
	assert.Equal(t, 25, artifact.TotalSupply)
	assert.Equal(t, 80.00, artifact.PricePerUnit)
}

func TestUnsubscribedOwnerLandsInReviewQueue(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: false})
	seedArtifact(t, store, "art-1", "ana@example.com")

	artifact, err := svc.Publish("art-1", 5, 40.00)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewPending, artifact.ReviewStatus)

	// Pending artifacts are not reservable.
	_, err = svc.ReserveEdition("art-1")
	assert.ErrorIs(t, err, inventory.ErrSoldOut)

	require.NoError(t, svc.Review("art-1", true))
	_, err = svc.ReserveEdition("art-1")
	assert.NoError(t, err)
}

func TestReserveAssignsSequentialEditionsAndNeverOversells(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 3, 50.00)
	require.NoError(t, err)

	var tickets []*models.EditionTicket
	for i := 0; i < 3; i++ {
		ticket, err := svc.ReserveEdition("art-1")
		require.NoError(t, err)
		assert.Equal(t, i, ticket.EditionNumber)
		tickets = append(tickets, ticket)
	}

	_, err = svc.ReserveEdition("art-1")
	assert.ErrorIs(t, err, inventory.ErrSoldOut)

	artifact, err := svc.Artifact("art-1")
	require.NoError(t, err)
	assert.Equal(t, 3, artifact.SoldCount)

	// Releasing the middle ticket frees exactly one slot.
	require.NoError(t, svc.ReleaseEdition(tickets[1]))
	ticket, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)
	require.NotNil(t, ticket)

	_, err = svc.ReserveEdition("art-1")
	assert.ErrorIs(t, err, inventory.ErrSoldOut)
}

func TestCommitIsIdempotentAndWritesLedger(t *testing.T) {
	svc, store, kafka := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 2, 60.00)
	require.NoError(t, err)

	ticket, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)

	require.NoError(t, svc.CommitEdition(ticket, "buyer@example.com", 60.00))
	// Retried commit is a no-op, not a double sale.
	require.NoError(t, svc.CommitEdition(ticket, "buyer@example.com", 60.00))

	allocs, err := store.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, "buyer@example.com", allocs[0].BuyerEmail)
	assert.Equal(t, 0, allocs[0].EditionNumber)
	assert.NotEmpty(t, allocs[0].CertificateQR)
	assert.Len(t, kafka.sold, 1)
}

func TestCommittedNumberingStaysDenseAfterReleases(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 3, 50.00)
	require.NoError(t, err)

	first, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)
	dropped, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)
	third, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)

	// Abandon the middle hold, then sell the freed slot to someone else.
	require.NoError(t, svc.ReleaseEdition(dropped))
	replacement, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)

	require.NoError(t, svc.CommitEdition(first, "a@example.com", 50.00))
	require.NoError(t, svc.CommitEdition(third, "b@example.com", 50.00))
	require.NoError(t, svc.CommitEdition(replacement, "c@example.com", 50.00))

	allocs, err := store.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Len(t, allocs, 3)
	for i, alloc := range allocs {
		assert.Equal(t, i, alloc.EditionNumber)
	}
}

func TestCommitAfterReleaseFails(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 2, 60.00)
	require.NoError(t, err)

	ticket, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)
	require.NoError(t, svc.ReleaseEdition(ticket))

	assert.ErrorIs(t, svc.CommitEdition(ticket, "buyer@example.com", 60.00), inventory.ErrTicketReleased)
}

func TestReleaseAfterCommitKeepsTheSale(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 1, 60.00)
	require.NoError(t, err)

	ticket, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)
	require.NoError(t, svc.CommitEdition(ticket, "buyer@example.com", 60.00))

	// A stale release arriving after commit must not return the slot.
	require.NoError(t, svc.ReleaseEdition(ticket))
	artifact, err := svc.Artifact("art-1")
	require.NoError(t, err)
	assert.Equal(t, 1, artifact.SoldCount)
}

func TestSetSoldCountRespectsSupplyBounds(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 10, 60.00)
	require.NoError(t, err)

	require.NoError(t, svc.SetSoldCount("art-1", 7))
	artifact, err := svc.Artifact("art-1")
	require.NoError(t, err)
	assert.Equal(t, 7, artifact.SoldCount)

	assert.ErrorIs(t, svc.SetSoldCount("art-1", 11), inventory.ErrInvalidCount)
	assert.ErrorIs(t, svc.SetSoldCount("art-1", -1), inventory.ErrInvalidCount)
}

func TestCommitCompletesAfterHalfFinishedAttempt(t *testing.T) {
	svc, store, kafka := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	_, err := svc.Publish("art-1", 2, 60.00)
	require.NoError(t, err)

	ticket, err := svc.ReserveEdition("art-1")
	require.NoError(t, err)

	// A previous commit attempt died after flipping the ticket but before
	// the ledger row landed: the ticket reads committed, the ledger is empty.
	moved, err := store.TransitionReservation(ticket.TicketID, models.ReservationReserved, models.ReservationCommitted)
	require.NoError(t, err)
	require.True(t, moved)

	allocs, err := store.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Empty(t, allocs)

	// The retry must write the missing row, not short-circuit.
	require.NoError(t, svc.CommitEdition(ticket, "buyer@example.com", 60.00))

	allocs, err = store.GetAllocationsByArtifact("art-1")
	require.NoError(t, err)
	require.Len(t, allocs, 1)
	assert.Equal(t, ticket.TicketID, allocs[0].TicketID)
	assert.Equal(t, 0, allocs[0].EditionNumber)
	assert.NotEmpty(t, allocs[0].CertificateQR)
	require.Len(t, kafka.sold, 1)

	current, err := store.GetReservation(ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.ReservationCommitted, current.Status)
}

func TestConcurrentReservationsNeverOversell(t *testing.T) {
	svc, store, _ := newService(t, &stubGate{unlimited: true})
	seedArtifact(t, store, "art-1", "ana@example.com")
	const supply = 5
	_, err := svc.Publish("art-1", supply, 60.00)
	require.NoError(t, err)

	const buyers = supply + 8
	var wg sync.WaitGroup
	tickets := make(chan *models.EditionTicket, buyers)
	soldOut := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ticket, err := svc.ReserveEdition("art-1")
			if err != nil {
				soldOut <- err
				return
			}
			tickets <- ticket
		}()
	}
	wg.Wait()
	close(tickets)
	close(soldOut)

	won := make([]*models.EditionTicket, 0, supply)
	ordinals := map[int]bool{}
	for ticket := range tickets {
		won = append(won, ticket)
		assert.False(t, ordinals[ticket.EditionNumber], "slot ordinal %d handed out twice", ticket.EditionNumber)
		ordinals[ticket.EditionNumber] = true
	}
	assert.Len(t, won, supply)

	losses := 0
	for err := range soldOut {
		assert.ErrorIs(t, err, inventory.ErrSoldOut)
		losses++
	}
	assert.Equal(t, buyers-supply, losses)

	artifact, err := svc.Artifact("art-1")
	require.NoError(t, err)
	assert.Equal(t, supply, artifact.SoldCount)

	_, err = svc.ReserveEdition("art-1")
	assert.ErrorIs(t, err, inventory.ErrSoldOut)
}
