package triallog

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver
)

var postgresDialect = dialect{
	name: "postgres",
	ddl: `CREATE TABLE IF NOT EXISTS trials (
	seq BIGSERIAL PRIMARY KEY,
	id TEXT NOT NULL UNIQUE,
	rig TEXT NOT NULL,
	subject TEXT NOT NULL,
	level TEXT NOT NULL,
	first_stim INTEGER NOT NULL,
	second_stim INTEGER NOT NULL,
	trial_type TEXT NOT NULL,
	start_ms BIGINT NOT NULL,
	end_ms BIGINT NOT NULL,
	licks_time TEXT NOT NULL,
	score TEXT NOT NULL
)`,
	holder: func(n int) string { return "$" + strconv.Itoa(n) },
}

// OpenPostgres connects to dsn through the pgx database/sql driver.
func OpenPostgres(ctx context.Context, dsn string) (*SQLStore, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres trial log: dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return newSQLStore(ctx, db, postgresDialect)
}
