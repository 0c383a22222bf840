package postgres

import (
	"context"
	"flag"
	"log"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/livealert/internal/adapter/metrics"
	"github.com/pscheid92/livealert/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

var (
	testPool        *pgxpool.Pool
	testDatabaseURL string
	testDBMetrics   *metrics.DBMetrics
)

// TestMain starts one migrated Postgres for the package. Under -short only unit tests run.
func TestMain(m *testing.M) {
	flag.Parse()
	if testing.Short() {
		os.Exit(m.Run())
	}
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	// Postgres logs readiness twice: once for the init server, once for the real one.
	ready := wait.ForLog("database system is ready to accept connections").
		WithOccurrence(2).
		WithStartupTimeout(time.Minute)

	container, err := tcpostgres.Run(ctx, "postgres:17-alpine",
		tcpostgres.WithDatabase("livealert"),
		tcpostgres.WithUsername("livealert"),
		tcpostgres.WithPassword("livealert"),
		testcontainers.WithWaitStrategy(ready),
	)
	if err != nil {
		log.Printf("failed to start postgres container: %v", err)
		return 1
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			log.Printf("failed to terminate postgres container: %v", err)
		}
	}()

	if testDatabaseURL, err = container.ConnectionString(ctx, "sslmode=disable"); err != nil {
		log.Printf("failed to get postgres connection string: %v", err)
		return 1
	}

	testDBMetrics = metrics.NewDBMetrics(prometheus.NewRegistry())
	if testPool, err = Connect(ctx, testDatabaseURL, NewMetricsTracer(testDBMetrics)); err != nil {
		log.Printf("failed to connect to postgres: %v", err)
		return 1
	}
	defer testPool.Close()

	if err := RunMigrationsWithLock(ctx, testPool); err != nil {
		log.Printf("failed to migrate postgres: %v", err)
		return 1
	}
	return m.Run()
}

// setupTestDB returns the shared pool and empties every table once the test ends.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("needs a postgres container")
	}

	t.Cleanup(func() {
		const truncate = "TRUNCATE notifications, subscription_audit, subscription_roles, subscriptions CASCADE"
		if _, err := testPool.Exec(context.Background(), truncate); err != nil {
			t.Logf("truncate: %v", err)
		}
	})
	return testPool
}

// insertSubscription seeds a subscription row plus its roles, filling ID and service when unset.
func insertSubscription(t *testing.T, pool *pgxpool.Pool, sub domain.Subscription) domain.Subscription {
	t.Helper()
	ctx := context.Background()

	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.ServiceType == "" {
		sub.ServiceType = domain.ServiceTwitch
	}

	batch := &pgx.Batch{}
	batch.Queue(`INSERT INTO subscriptions
		(id, service_type, account_id, guild_id, channel_id, message_template, edit_in_place)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		sub.ID, string(sub.ServiceType), sub.AccountID, sub.GuildID, sub.ChannelID, sub.MessageTemplate, sub.EditInPlace)
	for _, roleID := range sub.RoleIDs {
		batch.Queue(`INSERT INTO subscription_roles (subscription_id, role_id) VALUES ($1, $2)`, sub.ID, roleID)
	}
	require.NoError(t, pool.SendBatch(ctx, batch).Close())
	return sub
}

func TestPoolTracer_RecordsNamedQueries(t *testing.T) {
	pool := setupTestDB(t)
	repo := NewSubscriptionRepo(pool)

	_, err := repo.FindByAccount(context.Background(), domain.ServiceTwitch, "nobody")
	require.NoError(t, err)

	assert.Positive(t, testutil.CollectAndCount(testDBMetrics.QueryDuration))
	assert.InDelta(t, 0, testutil.ToFloat64(testDBMetrics.ErrorsTotal.WithLabelValues("SubscriptionsByAccount")), 0)
}
