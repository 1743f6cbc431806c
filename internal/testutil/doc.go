//go:build integration

/*
Package testutil provides testcontainers-backed fixtures for integration
tests that need a real Postgres or Redis rather than an in-memory fake.

# Overview

sqlstore's integration test runs a create-and-claim round trip against a
real Postgres container (see PostgresContainer), and redisqueue's integration
suite runs against a real Redis container (see RedisContainer). Both are
gated behind the "integration" build tag so `go test ./...` stays fast
and Docker-free by default.

# Usage

	func TestMain(m *testing.M) {
		ctx := context.Background()
		pg, err := testutil.StartPostgresContainer(ctx)
		if err != nil {
			log.Fatal(err)
		}
		defer pg.Stop(ctx)
		os.Exit(m.Run())
	}

# Build Tags

Run integration tests with:

	go test -tags=integration ./...
*/
package testutil
