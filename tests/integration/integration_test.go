package integration

import (
	"context"
	"fmt"
	"os"
	"testing"
)

var (
	testDB     *TestDB
	testServer *TestServer
	setupErr   error
)

// TestMain starts one PostgreSQL container and one server for the whole
// package. Individual tests truncate tables for isolation.
func TestMain(m *testing.M) {
	ctx := context.Background()

	testDB, setupErr = SetupTestDatabase(ctx)
	if setupErr == nil {
		testServer, setupErr = NewTestServer(testDB.DB)
	}

	code := m.Run()

	if testServer != nil {
		testServer.Close()
	}
	if testDB != nil {
		if err := testDB.Teardown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "teardown failed: %v\n", err)
		}
	}

	os.Exit(code)
}

// requireInfra skips the test when the container could not start, so the
// suite degrades gracefully on machines without Docker.
func requireInfra(t *testing.T) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	if setupErr != nil {
		t.Skipf("integration infrastructure unavailable: %v", setupErr)
	}
}

// resetState truncates all tables and clears captured deliveries
func resetState(t *testing.T) {
	t.Helper()
	requireInfra(t)

	if err := testDB.CleanupTables(context.Background()); err != nil {
		t.Fatalf("failed to reset tables: %v", err)
	}
	testServer.Sender.mu.Lock()
	testServer.Sender.Codes = nil
	testServer.Sender.mu.Unlock()
}
