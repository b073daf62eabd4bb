package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent settlers per transaction")
	flTxCount     = flag.Int("transactions", 10, "number of contested transactions")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func seedRNG(seed int64) { rand.Seed(seed) }

func TestEscrowConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("ESCROW_STRESS_PG_DSN") != "":
		dsn = os.Getenv("ESCROW_STRESS_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool, *flTxCount)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// settlement race: releasers and refunders battling over each
	// in-escrow transaction; at most one terminal can win
	for _, txID := range seedData.txIDs {
		txID := txID
		for i := 0; i < *flConcurrency; i++ {
			g.Go(func() error {
				return actors.Releaser(ctx2, pool, txID, seedData.agentID, stop)
			})
			g.Go(func() error {
				return actors.Refunder(ctx2, pool, txID, seedData.agentID, stop)
			})
		}
		g.Go(func() error {
			return actors.Messenger(ctx2, pool, txID, seedData.buyerID, seedData.sellerID, stop)
		})
		g.Go(func() error {
			return actors.Disputer(ctx2, pool, txID, seedData.buyerID, seedData.staffID, stop)
		})
	}
	g.Go(func() error { return actors.OutboxWorker(ctx2, pool, stop) })

	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	buyerID  string
	sellerID string
	agentID  string
	staffID  string
	txIDs    []string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, txCount int) seedIDs {
	t.Helper()
	var s seedIDs

	newUser := func(role string) string {
		id, err := infra.SeedUser(ctx, pool, role)
		if err != nil {
			t.Fatal(err)
		}
		return id
	}
	s.buyerID = newUser("buyer")
	s.sellerID = newUser("seller")
	s.agentID = newUser("escrow_agent")
	s.staffID = newUser("support")

	for i := 0; i < txCount; i++ {
		listingID, err := infra.SeedSoldListing(ctx, pool, s.sellerID, fmt.Sprintf("stress listing %d", i), 120)
		if err != nil {
			t.Fatal(err)
		}
		txID, err := infra.SeedEscrowedTransaction(ctx, pool, listingID, s.buyerID, s.sellerID, s.agentID, 120, 6, 2.4)
		if err != nil {
			t.Fatal(err)
		}
		s.txIDs = append(s.txIDs, txID)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"transactions", `SELECT id, status, completed_at, updated_at FROM transactions ORDER BY updated_at DESC LIMIT 50`},
		{"transaction_events", `SELECT id, transaction_id, seq, type, created_at FROM transaction_events ORDER BY id DESC LIMIT 50`},
		{"outbox", `SELECT id, topic, status, attempts, created_at FROM outbox ORDER BY created_at DESC LIMIT 50`},
		{"users", `SELECT id, role, balance FROM users ORDER BY updated_at DESC LIMIT 10`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
