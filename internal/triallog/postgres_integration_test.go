//go:build integration

package triallog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dyluth/olfacto/internal/trial"
)

// setupPostgres starts a Postgres container and returns its DSN.
func setupPostgres(t *testing.T) (string, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "olfacto",
			"POSTGRES_PASSWORD": "olfacto",
			"POSTGRES_DB":       "olfacto",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}

	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Postgres container: %v", err)
	}

	host, err := pgC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}
	port, err := pgC.MappedPort(ctx, "5432")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://olfacto:olfacto@%s:%s/olfacto?sslmode=disable", host, port.Port())

	cleanup := func() {
		if err := pgC.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Postgres container: %v", err)
		}
	}
	return dsn, cleanup
}

func TestPostgresStore_AppendAndList(t *testing.T) {
	dsn, cleanup := setupPostgres(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := Open(ctx, Config{Driver: "postgres", DSN: dsn})
	require.NoError(t, err)
	defer s.Close()

	first := makeRecord("M17", t0, trial.Hit)
	require.NoError(t, s.Append(ctx, first))
	require.NoError(t, s.Append(ctx, makeRecord("M18", t0.Add(time.Hour), trial.Miss)))

	rows, err := s.List(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, first.ID, rows[0].ID)
	assert.Equal(t, []time.Duration{240 * time.Millisecond, 480 * time.Millisecond}, rows[0].LickTimes)

	rows, err = s.List(ctx, Filter{Subject: "M18"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, trial.Miss, rows[0].Score)

	assert.Error(t, s.Append(ctx, first), "duplicate trial IDs are rejected")
}
