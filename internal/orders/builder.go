package orders

import (
	"context"
	"database/sql"
	"log"
	"time"

	ordersdb "storefront/internal/db/orders"
	"storefront/internal/orders/ledger"

	_ "github.com/jackc/pgx/v5/stdlib"
)

// Stores bundles the order store and the finalization ledger.
type Stores struct {
	Orders ledger.OrderStore
	Ledger ledger.Store
}

// BuildStores wires stores from a Postgres DSN. If the DSN is empty or
// initialization fails, it falls back to in-memory stores. The returned
// cleanup closes the database connection.
func BuildStores(ctx context.Context, dsn string, logf func(format string, args ...any)) (Stores, func()) {
	if logf == nil {
		logf = log.Printf
	}

	cleanup := func() {}
	stores := Stores{
		Orders: NewInMemoryOrderStore(),
		Ledger: NewInMemoryLedger(),
	}
	if dsn == "" {
		logf("DATABASE_URL not set, using in-memory order stores")
		return stores, cleanup
	}

	sqlDB, err := sql.Open("pgx", dsn)
	if err != nil {
		logf("postgres open failed, falling back to in-memory order stores: %v", err)
		return stores, cleanup
	}

	setupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	built, err := buildPostgresStores(setupCtx, sqlDB)
	if err != nil {
		logf("postgres init failed, falling back to in-memory order stores: %v", err)
		_ = sqlDB.Close()
		return stores, cleanup
	}

	logf("postgres order stores enabled")
	return built, func() {
		if err := sqlDB.Close(); err != nil {
			logf("close postgres: %v", err)
		}
	}
}

func buildPostgresStores(ctx context.Context, db *sql.DB) (Stores, error) {
	orderStore, err := ordersdb.NewPostgresOrderStoreWithSchema(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	finalizeLedger, err := ordersdb.NewFinalizeLedgerWithSchema(ctx, db)
	if err != nil {
		return Stores{}, err
	}
	return Stores{Orders: orderStore, Ledger: finalizeLedger}, nil
}
