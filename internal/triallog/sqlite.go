package triallog

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // register the pure-Go sqlite driver
)

var sqliteDialect = dialect{
	name: "sqlite",
	ddl: `CREATE TABLE IF NOT EXISTS trials (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	rig TEXT NOT NULL,
	subject TEXT NOT NULL,
	level TEXT NOT NULL,
	first_stim INTEGER NOT NULL,
	second_stim INTEGER NOT NULL,
	trial_type TEXT NOT NULL,
	start_ms INTEGER NOT NULL,
	end_ms INTEGER NOT NULL,
	licks_time TEXT NOT NULL,
	score TEXT NOT NULL
)`,
	holder: func(int) string { return "?" },
}

// OpenSQLite opens (or creates) a sqlite trial log at path.
func OpenSQLite(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite trial log: path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	return newSQLStore(ctx, db, sqliteDialect)
}
