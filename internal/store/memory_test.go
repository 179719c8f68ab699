package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryFailAfter(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	boom := errors.New("boom")
	m.FailAfter("InsertPlan", 1, boom)

	_, err := m.InsertPlan(ctx, "s1", "c1", PlanFields{Name: "Free"})
	require.NoError(t, err)

	_, err = m.InsertPlan(ctx, "s1", "c1", PlanFields{Name: "Pro"})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"InsertPlan", "InsertPlan"}, m.Calls())
}

func TestMemoryClaimSession(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	s, err := m.CreateSession(ctx, "c1")
	require.NoError(t, err)

	ok, err := m.ClaimSession(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := m.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StageFetching, got.Stage)

	ok, err = m.ClaimSession(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok, "second claim loses")

	done, err := m.CreateSession(ctx, "c1")
	require.NoError(t, err)
	require.NoError(t, m.UpdateSessionStatus(ctx, done.ID, models.SessionSuccess, nil))
	ok, err = m.ClaimSession(ctx, done.ID)
	require.NoError(t, err)
	assert.False(t, ok, "finished sessions cannot be claimed")

	ok, err = m.ClaimSession(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryGetCompetitorNotFound(t *testing.T) {
	_, err := NewMemory().GetCompetitor(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySubscribeDeliversCreatedSessions(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	m := NewMemory()
	ch, err := m.Subscribe(ctx)
	require.NoError(t, err)

	created, err := m.CreateSession(ctx, "c1")
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, models.SessionPending, got.Status)
	case <-time.After(time.Second):
		t.Fatal("no session delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		_, open := <-ch
		return !open
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryCurrentPlans(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	id, err := m.InsertPlan(ctx, "s1", "c1", PlanFields{Name: "Pro", Currency: "USD", BillingCycle: models.BillingMonthly})
	require.NoError(t, err)
	require.NoError(t, m.InsertFeatures(ctx, id, []string{"A", "B"}))

	plans, err := m.ListCurrentPlans(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, plans, 1)
	assert.Equal(t, []string{"A", "B"}, plans[0].Features)

	require.NoError(t, m.SetPlansNonCurrent(ctx, []string{id}))
	plans, err = m.ListCurrentPlans(ctx, "c1")
	require.NoError(t, err)
	assert.Empty(t, plans)
	assert.Len(t, m.AllPlans("c1"), 1)
}
