package integration

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dogwalking/auth-service/internal/database"
	pkgauth "github.com/dogwalking/auth-service/pkg/auth"
)

// TestDB manages the PostgreSQL testcontainer and database operations
type TestDB struct {
	Container  testcontainers.Container
	ConnString string
	Pool       *pgxpool.Pool
	DB         *database.DB
}

// SetupTestDatabase creates a PostgreSQL testcontainer, runs migrations, returns TestDB
func SetupTestDatabase(ctx context.Context) (*TestDB, error) {
	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("authsvc"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start postgres container: %w", err)
	}

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if err := runMigrations(ctx, pool); err != nil {
		pool.Close()
		container.Terminate(ctx)
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &TestDB{
		Container:  container,
		ConnString: connStr,
		Pool:       pool,
		DB:         &database.DB{Pool: pool},
	}, nil
}

// runMigrations executes all goose migrations
func runMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	migrationsDir, err := filepath.Abs("../../migrations")
	if err != nil {
		return fmt.Errorf("failed to get migrations path: %w", err)
	}

	goose.SetLogger(goose.NopLogger())

	// Goose needs a database/sql handle; adapt one from the pool config
	sqlDB := stdlib.OpenDB(*pool.Config().ConnConfig)
	defer sqlDB.Close()

	if err := goose.UpContext(ctx, sqlDB, migrationsDir); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	return nil
}

// Teardown stops the container and closes the connection pool
func (db *TestDB) Teardown(ctx context.Context) error {
	if db.Pool != nil {
		db.Pool.Close()
	}
	if db.Container != nil {
		return db.Container.Terminate(ctx)
	}
	return nil
}

// CleanupTables truncates all tables for test isolation
func (db *TestDB) CleanupTables(ctx context.Context) error {
	tables := []string{
		"security_events",
		"refresh_tokens",
		"sessions",
		"mfa_challenges",
		"mfa_enrollments",
		"vault_items",
		"lockouts",
		"credentials",
		"principals",
	}

	for _, table := range tables {
		if _, err := db.Pool.Exec(ctx, fmt.Sprintf("TRUNCATE TABLE %s CASCADE", table)); err != nil {
			return fmt.Errorf("failed to truncate table %s: %w", table, err)
		}
	}

	return nil
}

// SeedPrincipal inserts an account with a hashed password, bypassing the
// registration endpoint
func SeedPrincipal(ctx context.Context, pool *pgxpool.Pool, email, password string) (string, error) {
	hash, err := pkgauth.HashPassword(password)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}

	id := uuid.NewString()

	tx, err := pool.Begin(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO principals (id, email) VALUES ($1, $2)`, id, email); err != nil {
		return "", fmt.Errorf("failed to insert principal: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO credentials (principal_id, current_hash) VALUES ($1, $2)`, id, hash); err != nil {
		return "", fmt.Errorf("failed to insert credential: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", fmt.Errorf("failed to commit seed: %w", err)
	}

	return id, nil
}

// SeedExpiredChallenge inserts a one-time-code challenge whose validity
// window has already closed
func SeedExpiredChallenge(ctx context.Context, pool *pgxpool.Pool, principalID string) (string, error) {
	id := uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO mfa_challenges (id, principal_id, method, code_hash, expires_at)
		VALUES ($1, $2, 'sms', 'expired-hash', NOW() - INTERVAL '1 hour')`,
		id, principalID)
	if err != nil {
		return "", fmt.Errorf("failed to insert expired challenge: %w", err)
	}
	return id, nil
}

// SeedDeadSession inserts a session that expired past the retention window,
// with one refresh token chained to it
func SeedDeadSession(ctx context.Context, pool *pgxpool.Pool, principalID string) (string, error) {
	id := uuid.NewString()
	_, err := pool.Exec(ctx, `
		INSERT INTO sessions (id, principal_id, expires_at, created_at)
		VALUES ($1, $2, NOW() - INTERVAL '30 days', NOW() - INTERVAL '37 days')`,
		id, principalID)
	if err != nil {
		return "", fmt.Errorf("failed to insert dead session: %w", err)
	}

	_, err = pool.Exec(ctx, `
		INSERT INTO refresh_tokens (token_hash, session_id, generation)
		VALUES ($1, $2, 1)`,
		"dead-token-"+id, id)
	if err != nil {
		return "", fmt.Errorf("failed to insert dead refresh token: %w", err)
	}

	return id, nil
}

// CountRows returns the row count of a table
func CountRows(ctx context.Context, pool *pgxpool.Pool, table string) (int, error) {
	var n int
	err := pool.QueryRow(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}

// CountEvents returns how many audit records of the given kind exist for a
// principal
func CountEvents(ctx context.Context, pool *pgxpool.Pool, principalID, kind string) (int, error) {
	var n int
	err := pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM security_events WHERE principal_id = $1 AND kind = $2`,
		principalID, kind).Scan(&n)
	return n, err
}
