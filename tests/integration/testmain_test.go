package integration

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// sharedPGBaseDSN is the base DSN for the shared PostgreSQL container.
// Each suite gets its own schema via acquireSchema().
var sharedPGBaseDSN string

func TestMain(m *testing.M) {
	flag.Parse()

	// В -short режиме контейнер не нужен: все suite пропускаются.
	if testing.Short() || os.Getenv("DB_ADDR") != "" {
		sharedPGBaseDSN = os.Getenv("DB_ADDR")
		os.Exit(m.Run())
	}

	ctx := context.Background()

	// Start shared PostgreSQL container (once for all suites)
	container, err := postgres.Run(ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("worldlink_test"),
		postgres.WithUsername("worldlink"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start postgres container: %v\n", err)
		os.Exit(1)
	}

	sharedPGBaseDSN, err = container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get connection string: %v\n", err)
		os.Exit(1)
	}

	code := m.Run()

	if err := testcontainers.TerminateContainer(container); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate postgres container: %v\n", err)
	}

	os.Exit(code)
}
