//go:build integration

// Package testutil provides infrastructure for integration tests that need
// a real external service, following the project's hybrid testing strategy:
// unit tests run against memstore/memqueue, integration tests (gated behind
// the `integration` build tag) run the same code against the real thing.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// PostgresPort is the port postgres listens on inside the container.
const PostgresPort = "5432/tcp"

// PostgresContainer holds a running postgres testcontainer and its DSN.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
}

// StartPostgresContainer starts a disposable postgres instance for
// sqlstore integration tests.
func StartPostgresContainer(ctx context.Context) (*PostgresContainer, error) {
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{PostgresPort},
		Env: map[string]string{
			"POSTGRES_USER":     "hub",
			"POSTGRES_PASSWORD": "hub",
			"POSTGRES_DB":       "hub",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).WithStartupTimeout(60 * time.Second),
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, fmt.Errorf("testutil: start postgres container: %w", err)
	}

	mappedPort, err := container.MappedPort(ctx, "5432")
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: mapped port: %w", err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		container.Terminate(ctx)
		return nil, fmt.Errorf("testutil: container host: %w", err)
	}

	dsn := fmt.Sprintf("postgresql://hub:hub@%s:%s/hub?sslmode=disable", host, mappedPort.Port())
	return &PostgresContainer{Container: container, DSN: dsn}, nil
}

// Stop terminates the postgres container.
func (c *PostgresContainer) Stop(ctx context.Context) error {
	if c.Container == nil {
		return nil
	}
	return c.Container.Terminate(ctx)
}
