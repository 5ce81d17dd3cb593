package credits_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"posterly/internal/credits"
	creditsdb "posterly/internal/credits/db"
	"posterly/internal/logger"
	"posterly/internal/models"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	_, err = db.NewCreateTable().Model((*models.CreditBalance)(nil)).IfNotExists().Exec(context.Background())
	require.NoError(t, err)
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
	consumed []bool
}

func (k *recordingKafka) PublishCreditConsumed(email string, unlimited bool) error {
	k.consumed = append(k.consumed, unlimited)
	return nil
}

func newService(t *testing.T, gate *stubGate, freeTotal int) (*credits.CreditService, *recordingKafka) {
	t.Helper()
	kafka := &recordingKafka{}
	svc := credits.NewCreditService(&creditsdb.DB{Bun: newTestDB(t)}, gate, kafka, freeTotal, logger.NewTestLogger())
	return svc, kafka
}

func TestCheckBalanceCreatesRowOnFirstTouch(t *testing.T) {
	svc, _ := newService(t, &stubGate{}, 2)

	balance, err := svc.CheckBalance("fresh@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, balance.FreeRemaining)
	assert.Equal(t, 0, balance.PaidCredits)
	assert.False(t, balance.IsUnlimited)
}

func TestFreeCreditsExhaustAfterTwo(t *testing.T) {
	svc, _ := newService(t, &stubGate{}, 2)
	email := "maya@example.com"

	require.NoError(t, svc.TryConsume(email))
	require.NoError(t, svc.TryConsume(email))

	err := svc.TryConsume(email)
	assert.ErrorIs(t, err, credits.ErrInsufficientCredits)

	balance, err := svc.CheckBalance(email)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.FreeRemaining)
	assert.Equal(t, 0, balance.PaidCredits)
}

func TestPaidCreditsAreFallbackAfterFree(t *testing.T) {
	svc, _ := newService(t, &stubGate{}, 1)
	email := "buyer@example.com"

	require.NoError(t, svc.AddPaidCredits(email, 2))

	// One free, then two paid, then nothing.
	require.NoError(t, svc.TryConsume(email))
	require.NoError(t, svc.TryConsume(email))
	require.NoError(t, svc.TryConsume(email))
	assert.ErrorIs(t, svc.TryConsume(email), credits.ErrInsufficientCredits)

	balance, err := svc.CheckBalance(email)
	require.NoError(t, err)
	assert.Equal(t, 0, balance.FreeRemaining)
	assert.Equal(t, 0, balance.PaidCredits)
}

func TestUnlimitedConsumesNothing(t *testing.T) {
	gate := &stubGate{unlimited: true}
	svc, kafka := newService(t, gate, 2)
	email := "collective@example.com"

	for i := 0; i < 5; i++ {
		require.NoError(t, svc.TryConsume(email))
	}

	// The balance row was never even created, let alone decremented.
	gate.unlimited = false
	balance, err := svc.CheckBalance(email)
	require.NoError(t, err)
	assert.Equal(t, 2, balance.FreeRemaining)

	require.Len(t, kafka.consumed, 5)
	for _, unlimited := range kafka.consumed {
		assert.True(t, unlimited)
	}
}

func TestLapsedSubscriptionFallsBackToMetering(t *testing.T) {
	gate := &stubGate{unlimited: true}
	svc, _ := newService(t, gate, 1)
	email := "lapsed@example.com"

	require.NoError(t, svc.TryConsume(email))

	// Subscription lapses; the gate is consulted fresh on the next consume.
	gate.unlimited = false
	require.NoError(t, svc.TryConsume(email))
	assert.ErrorIs(t, svc.TryConsume(email), credits.ErrInsufficientCredits)
}

func TestAddPaidCreditsRejectsNonPositive(t *testing.T) {
	svc, _ := newService(t, &stubGate{}, 2)
	assert.Error(t, svc.AddPaidCredits("x@example.com", 0))
	assert.Error(t, svc.AddPaidCredits("x@example.com", -3))
}
