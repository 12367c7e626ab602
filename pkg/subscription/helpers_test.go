package subscription_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/printforge/pkg/subscription"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func fixedClock() time.Time { return testNow }

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CancelSubscription(ctx context.Context, subscriptionID string, immediate bool) (*time.Time, error) {
	args := m.Called(ctx, subscriptionID, immediate)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*time.Time), args.Error(1)
}

func (m *mockGateway) FindCharge(ctx context.Context, customerRef string, amount decimal.Decimal, currency string) (*subscription.Charge, error) {
	args := m.Called(ctx, customerRef, amount, currency)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*subscription.Charge), args.Error(1)
}

func (m *mockGateway) Refund(ctx context.Context, chargeID string, amount decimal.Decimal, currency string) (string, error) {
	args := m.Called(ctx, chargeID, amount, currency)
	return args.String(0), args.Error(1)
}

type mockNotifier struct {
	mock.Mock
}

func (m *mockNotifier) NotifyGraceMilestone(ctx context.Context, ms subscription.Milestone) error {
	args := m.Called(ctx, ms)
	return args.Error(0)
}

// fakeObjects behaves like a blob store: deleting an absent object yields ErrObjectNotFound.
type fakeObjects struct {
	mu      sync.Mutex
	objects map[string]bool
	failing map[string]error
	deletes int
}

func newFakeObjects(urls ...string) *fakeObjects {
	f := &fakeObjects{objects: make(map[string]bool), failing: make(map[string]error)}
	for _, u := range urls {
		f.objects[u] = true
	}
	return f
}

func (f *fakeObjects) DeleteObject(_ context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.deletes++
	if err, ok := f.failing[url]; ok {
		return err
	}
	if !f.objects[url] {
		return errors.Join(subscription.ErrObjectNotFound, errors.New(url))
	}
	delete(f.objects, url)
	return nil
}

func (f *fakeObjects) exists(url string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.objects[url]
}

// memoryGuard is a process-local MilestoneGuard.
type memoryGuard struct {
	mu      sync.Mutex
	claimed map[string]bool
}

func newMemoryGuard() *memoryGuard {
	return &memoryGuard{claimed: make(map[string]bool)}
}

func guardKey(m subscription.Milestone) string {
	return fmt.Sprintf("%s/%d/%d", m.UserID, m.GracePeriodEnd.Unix(), m.DaysRemaining)
}

func (g *memoryGuard) Claim(_ context.Context, m subscription.Milestone) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.claimed[guardKey(m)] {
		return false, nil
	}
	g.claimed[guardKey(m)] = true
	return true, nil
}

func (g *memoryGuard) Release(_ context.Context, m subscription.Milestone) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claimed, guardKey(m))
	return nil
}

// failingSaveStore wraps MemoryStore and fails every Save.
type failingSaveStore struct {
	*subscription.MemoryStore
}

func (failingSaveStore) Save(context.Context, *subscription.Record) error {
	return errors.New("connection reset by peer")
}

// failingCreateLedger wraps MemoryStore and fails every CreateInvoice.
type failingCreateLedger struct {
	*subscription.MemoryStore
}

func (failingCreateLedger) CreateInvoice(context.Context, *subscription.Invoice) error {
	return errors.New("connection reset by peer")
}

func admin() subscription.Actor {
	return subscription.Actor{ID: uuid.New(), Admin: true}
}

func seed(t *testing.T, store *subscription.MemoryStore, mutate func(r *subscription.Record)) uuid.UUID {
	t.Helper()
	userID := uuid.New()
	rec := subscription.NewRecord(userID, testNow.Add(-90*day))
	if mutate != nil {
		mutate(rec)
	}
	require.NoError(t, store.Save(context.Background(), rec))
	return userID
}

func load(t *testing.T, store subscription.Store, userID uuid.UUID) *subscription.Record {
	t.Helper()
	rec, err := store.Get(context.Background(), userID)
	require.NoError(t, err)
	return rec
}

func ptr[T any](v T) *T { return &v }

func newTestEngine(store *subscription.MemoryStore, gw subscription.Gateway, objects subscription.ObjectStore) *subscription.Engine {
	deps := subscription.Deps{
		Store:    store,
		Audit:    store,
		Ledger:   store,
		Accounts: store,
		Images:   store,
		Objects:  objects,
	}
	if gw != nil {
		deps.Gateway = gw
	}
	return subscription.NewEngine(deps, subscription.WithClock(fixedClock))
}
