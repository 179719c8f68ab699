//go:build integration

package db

import (
	"context"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/raphaelgruber/pricewatch/internal/models"
	"github.com/raphaelgruber/pricewatch/internal/store"
)

var testDB *Client

// TestMain starts one SurrealDB container for the package.
func TestMain(m *testing.M) {
	// Ryuk breaks in some CI sandboxes; containers are terminated below.
	os.Setenv("TESTCONTAINERS_RYUK_DISABLED", "true")

	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "surrealdb/surrealdb:v3.0.0-beta.1",
			ExposedPorts: []string{"8000/tcp"},
			Cmd:          []string{"start", "--log", "info", "--user", "root", "--pass", "root"},
			WaitingFor:   wait.ForLog("Started web server").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		log.Fatalf("Failed to start SurrealDB container: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		log.Fatalf("Failed to get container host: %v", err)
	}
	if host == "" || host == "null" {
		host = "localhost"
	}
	port, err := container.MappedPort(ctx, "8000")
	if err != nil {
		log.Fatalf("Failed to get mapped port: %v", err)
	}

	testDB, err = NewClient(ctx, Config{
		URL:       fmt.Sprintf("ws://%s:%s/rpc", host, port.Port()),
		Namespace: "test",
		Database:  "test",
		Username:  "root",
		Password:  "root",
		AuthLevel: "root",
	}, nil)
	if err != nil {
		log.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := testDB.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	code := m.Run()

	_ = testDB.Close(ctx)
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func wipe(t *testing.T) {
	t.Helper()
	require.NoError(t, testDB.WipeData(context.Background()))
}

func TestCompetitors(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	_, err := testDB.GetCompetitor(ctx, "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)

	acme, err := testDB.CreateCompetitor(ctx, models.Competitor{ID: "acme", Name: "Acme", PricingPageURL: "https://acme.test/pricing"})
	require.NoError(t, err)
	assert.Equal(t, "acme", acme.ID)

	_, err = testDB.CreateCompetitor(ctx, models.Competitor{Name: "Beta", PricingPageURL: "https://beta.test/pricing"})
	require.NoError(t, err)

	// Upsert replaces the URL.
	_, err = testDB.CreateCompetitor(ctx, models.Competitor{ID: "acme", Name: "Acme", PricingPageURL: "https://acme.test/plans"})
	require.NoError(t, err)

	got, err := testDB.GetCompetitor(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "https://acme.test/plans", got.PricingPageURL)

	all, err := testDB.ListCompetitors(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Acme", all[0].Name)
}

func TestSessionLifecycle(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	s, err := testDB.CreateSession(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, s.Status)
	assert.Equal(t, models.StageQueued, s.Stage)

	pending, err := testDB.ListPendingSessions(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, s.ID, pending[0].ID)

	require.NoError(t, testDB.UpdateSessionStage(ctx, s.ID, models.StageFetching))
	msg := "fetch failed: timeout"
	require.NoError(t, testDB.UpdateSessionStatus(ctx, s.ID, models.SessionFailed, &msg))

	got, err := testDB.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionFailed, got.Status)
	assert.Equal(t, models.StageFetching, got.Stage)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	assert.NotNil(t, got.FinishedAt)

	pending, err = testDB.ListPendingSessions(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)

	err = testDB.UpdateSessionStatus(ctx, "missing", models.SessionSuccess, nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestClaimSessionOnce(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	s, err := testDB.CreateSession(ctx, "acme")
	require.NoError(t, err)

	var wg sync.WaitGroup
	var won atomic.Int32
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := testDB.ClaimSession(ctx, s.ID)
			assert.NoError(t, err)
			if ok {
				won.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), won.Load())

	got, err := testDB.GetSession(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionPending, got.Status)
	assert.Equal(t, models.StageFetching, got.Stage)

	ok, err := testDB.ClaimSession(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPlanGenerations(t *testing.T) {
	wipe(t)
	ctx := context.Background()

	first, err := testDB.InsertPlan(ctx, "s1", "acme", store.PlanFields{
		Name: "Pro", Price: models.Float(29), Currency: "USD", BillingCycle: models.BillingMonthly,
	})
	require.NoError(t, err)
	require.NoError(t, testDB.InsertFeatures(ctx, first, []string{"A", "B"}))

	enterprise, err := testDB.InsertPlan(ctx, "s1", "acme", store.PlanFields{
		Name: "Enterprise", Currency: "USD", BillingCycle: models.BillingAnnually,
	})
	require.NoError(t, err)

	ids, err := testDB.GetCurrentPlanIDs(ctx, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{first, enterprise}, ids)

	plans, err := testDB.ListCurrentPlans(ctx, "acme")
	require.NoError(t, err)
	require.Len(t, plans, 2)
	byName := map[string]models.PricingPlan{}
	for _, p := range plans {
		byName[p.Name] = p
	}
	assert.Equal(t, []string{"A", "B"}, byName["Pro"].Features)
	assert.Nil(t, byName["Enterprise"].Price)

	require.NoError(t, testDB.SetFeaturesNonCurrent(ctx, ids))
	require.NoError(t, testDB.SetPlansNonCurrent(ctx, ids))

	ids, err = testDB.GetCurrentPlanIDs(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, ids)

	plans, err = testDB.ListCurrentPlans(ctx, "acme")
	require.NoError(t, err)
	assert.Empty(t, plans)
}

func TestLiveSessions(t *testing.T) {
	wipe(t)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	src := testDB.LiveSessions()
	defer src.Close(context.Background())

	ch, err := src.Subscribe(ctx)
	require.NoError(t, err)

	created, err := testDB.CreateSession(ctx, "acme")
	require.NoError(t, err)

	// Updates must not be delivered as new jobs.
	require.NoError(t, testDB.UpdateSessionStage(ctx, created.ID, models.StageFetching))

	select {
	case got := <-ch:
		assert.Equal(t, created.ID, got.ID)
		assert.Equal(t, "acme", got.CompetitorID)
		assert.Equal(t, models.SessionPending, got.Status)
	case <-ctx.Done():
		t.Fatal("no live notification received")
	}

	select {
	case got := <-ch:
		t.Fatalf("unexpected notification for %s", got.ID)
	case <-time.After(500 * time.Millisecond):
	}
}
