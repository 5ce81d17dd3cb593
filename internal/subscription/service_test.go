package subscription_test

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"posterly/internal/logger"
	"posterly/internal/models"
	"posterly/internal/subscription"
	subscriptiondb "posterly/internal/subscription/db"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	sqldb.SetMaxOpenConns(1)
	db := bun.NewDB(sqldb, sqlitedialect.New())
	for _, model := range []interface{}{
		(*models.Account)(nil),
		(*models.Subscription)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(context.Background())
		require.NoError(t, err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

type stubBilling struct {
	periodEnd   time.Time
	setups      map[string]subscription.SetupResult
	lastCoupon  string
	billedCount int
	stopped     []string
}

func (b *stubBilling) CreateSetup(email, promoCode string) (string, string, error) {
	if b.setups == nil {
		b.setups = map[string]subscription.SetupResult{}
	}
	ref := fmt.Sprintf("seti_%d", len(b.setups)+1)
	b.setups[ref] = subscription.SetupResult{
		CustomerID:      "cus_" + email,
		PaymentMethodID: "pm_card",
		Email:           email,
		PromoCode:       promoCode,
	}
	return ref, "secret_" + ref, nil
}

func (b *stubBilling) ResolveSetup(ref string) (*subscription.SetupResult, error) {
	setup, ok := b.setups[ref]
	if !ok {
		return nil, fmt.Errorf("unknown setup %s", ref)
	}
	return &setup, nil
}

func (b *stubBilling) StartBilling(customerID, paymentMethodID, couponID string) (string, time.Time, error) {
	b.billedCount++
	b.lastCoupon = couponID
	return fmt.Sprintf("sub_ref_%d", b.billedCount), b.periodEnd, nil
}

func (b *stubBilling) StopAtPeriodEnd(ref string) error {
	b.stopped = append(b.stopped, ref)
	return nil
}

type recordingKafka struct {
	events []string
}

func (k *recordingKafka) PublishSubscriptionUpdated(email, status string, cancelAtPeriodEnd bool) error {
	k.events = append(k.events, fmt.Sprintf("%s:%s:%t", email, status, cancelAtPeriodEnd))
	return nil
}

func newService(t *testing.T) (*subscription.SubscriptionService, *subscriptiondb.DB, *stubBilling, *recordingKafka) {
	t.Helper()
	db := &subscriptiondb.DB{Bun: newTestDB(t)}
	billing := &stubBilling{periodEnd: time.Now().Add(30 * 24 * time.Hour)}
	kafka := &recordingKafka{}
	svc := subscription.NewSubscriptionService(db, billing, kafka, logger.NewTestLogger())
	return svc, db, billing, kafka
}

func signup(t *testing.T, svc *subscription.SubscriptionService, email, promo string) *models.Subscription {
	t.Helper()
	resp, err := svc.Start(models.CreateSubscriptionRequest{Email: email, PromoCode: promo})
	require.NoError(t, err)
	sub, err := svc.Confirm(resp.SetupIntentRef)
	require.NoError(t, err)
	return sub
}

func accountFor(t *testing.T, db *subscriptiondb.DB, email string) *models.Account {
	t.Helper()
	var account models.Account
	err := db.Bun.NewSelect().Model(&account).Where("email = ?", email).Scan(context.Background())
	require.NoError(t, err)
	return &account
}

func TestStartValidatesPromoCode(t *testing.T) {
	svc, _, _, _ := newService(t)

	_, err := svc.Start(models.CreateSubscriptionRequest{Email: "maya@example.com", PromoCode: "FREEFOREVER"})
	assert.ErrorIs(t, err, subscription.ErrInvalidPromo)

	resp, err := svc.Start(models.CreateSubscriptionRequest{Email: "maya@example.com", PromoCode: "COLLECTIVE10"})
	require.NoError(t, err)
	assert.Equal(t, 10, resp.DiscountPct)
	assert.NotEmpty(t, resp.SetupIntentRef)
	assert.NotEmpty(t, resp.ClientSecret)

	// No promo code at all is a plain full-price signup.
	resp, err = svc.Start(models.CreateSubscriptionRequest{Email: "maya@example.com"})
	require.NoError(t, err)
	assert.Zero(t, resp.DiscountPct)
}

func TestConfirmActivatesAndUpgradesAccount(t *testing.T) {
	svc, db, billing, kafka := newService(t)

	sub := signup(t, svc, "maya@example.com", "COLLECTIVE10")
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.Equal(t, "collective-10-once", billing.lastCoupon)

	account := accountFor(t, db, "maya@example.com")
	assert.Equal(t, models.UserTypeArtisticCollective, account.UserType)
	assert.Equal(t, sub.SubscriptionID, account.SubscriptionID)

	unlimited, err := svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.True(t, unlimited)

	require.Len(t, kafka.events, 1)
	assert.Equal(t, "maya@example.com:active:false", kafka.events[0])
}

func TestCancelKeepsEntitlementUntilPeriodEnd(t *testing.T) {
	svc, _, billing, _ := newService(t)
	signup(t, svc, "maya@example.com", "")

	sub, err := svc.Cancel("maya@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Len(t, billing.stopped, 1)

	// Period end is a month out, so the gate still grants.
	unlimited, err := svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.True(t, unlimited)

	// Repeated cancel is a no-op, not a second provider call.
	again, err := svc.Cancel("maya@example.com")
	require.NoError(t, err)
	assert.True(t, again.CancelAtPeriodEnd)
	assert.Len(t, billing.stopped, 1)
}

func TestCancelingSubscriptionLapsesAtPeriodEnd(t *testing.T) {
	svc, _, billing, _ := newService(t)
	billing.periodEnd = time.Now().Add(-time.Hour)
	signup(t, svc, "maya@example.com", "")

	// Active and not canceling: a stale period end alone does not lapse.
	unlimited, err := svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.True(t, unlimited)

	_, err = svc.Cancel("maya@example.com")
	require.NoError(t, err)

	unlimited, err = svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.False(t, unlimited)
}

func TestCancelWithoutSubscription(t *testing.T) {
	svc, _, _, _ := newService(t)
	_, err := svc.Cancel("stranger@example.com")
	assert.ErrorIs(t, err, subscription.ErrNotSubscribed)

	sub, err := svc.Current("stranger@example.com")
	require.NoError(t, err)
	assert.Nil(t, sub)
}

func TestProviderDeleteDowngradesAccount(t *testing.T) {
	svc, db, _, kafka := newService(t)
	sub := signup(t, svc, "maya@example.com", "")

	payload := fmt.Sprintf(`{"id":%q,"status":"canceled"}`, sub.ProviderRef)
	require.NoError(t, svc.HandleProviderEvent("customer.subscription.deleted", []byte(payload)))

	current, err := svc.Current("maya@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCanceled, current.Status)

	account := accountFor(t, db, "maya@example.com")
	assert.Equal(t, models.UserTypeNormal, account.UserType)

	unlimited, err := svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.False(t, unlimited)

	assert.Equal(t, "maya@example.com:canceled:true", kafka.events[len(kafka.events)-1])

	_, err = svc.Cancel("maya@example.com")
	assert.ErrorIs(t, err, subscription.ErrAlreadyCanceled)
}

func TestPaymentFailureSuspendsEntitlement(t *testing.T) {
	svc, _, _, _ := newService(t)
	sub := signup(t, svc, "maya@example.com", "")

	payload := fmt.Sprintf(`{"subscription":%q}`, sub.ProviderRef)
	require.NoError(t, svc.HandleProviderEvent("invoice.payment_failed", []byte(payload)))

	current, err := svc.Current("maya@example.com")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionPastDue, current.Status)

	unlimited, err := svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.False(t, unlimited)

	// A recovered payment reactivates through the same path.
	update := fmt.Sprintf(`{"id":%q,"status":"active","current_period_end":%d}`, sub.ProviderRef, time.Now().Add(30*24*time.Hour).Unix())
	require.NoError(t, svc.HandleProviderEvent("customer.subscription.updated", []byte(update)))

	unlimited, err = svc.IsUnlimited("maya@example.com")
	require.NoError(t, err)
	assert.True(t, unlimited)
}

func TestProviderEventForUnknownRefIsIgnored(t *testing.T) {
	svc, _, _, kafka := newService(t)

	err := svc.HandleProviderEvent("customer.subscription.deleted", []byte(`{"id":"sub_elsewhere","status":"canceled"}`))
	assert.NoError(t, err)
	assert.Empty(t, kafka.events)

	// Unhandled event types pass through silently.
	assert.NoError(t, svc.HandleProviderEvent("charge.refunded", []byte(`{}`)))
}
