package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// connParams are applied by the driver to every connection it opens.
var connParams = url.Values{
	"_journal_mode": {"WAL"},
	"_synchronous":  {"NORMAL"},
	"_busy_timeout": {"5000"},
	"_foreign_keys": {"on"},
}

// migration upgrades a log whose user_version is below version.
type migration struct {
	version int
	stmt    string
}

// migrations run in order on top of schema.sql. Append only.
var migrations = []migration{
	// one request's lifecycle out of a large run
	{1, `CREATE INDEX IF NOT EXISTS idx_events_run_request ON events(run_id, request_id)`},
}

var currentSchemaVersion = migrations[len(migrations)-1].version

// Log is a SQLite file of recorded runs and their events.
type Log struct {
	db *sql.DB
}

// Open creates or opens the log at path and brings its schema up to date.
// Opening an existing log keeps its runs.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path+"?"+connParams.Encode())
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	// One connection: SQLite has a single writer and recorder writes are
	// serialized anyway.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	l := &Log{db: db}
	if err := l.init(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) init(ctx context.Context) error {
	if err := l.db.PingContext(ctx); err != nil {
		return fmt.Errorf("connect event log: %w", err)
	}
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	version, err := l.SchemaVersion(ctx)
	if err != nil {
		return err
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if err := l.migrate(ctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (l *Log) migrate(ctx context.Context, m migration) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.stmt); err != nil {
		return fmt.Errorf("migrate to v%d: %w", m.version, err)
	}
	if _, err := tx.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
		return fmt.Errorf("migrate to v%d: set user_version: %w", m.version, err)
	}
	return tx.Commit()
}

// Close closes the log. Safe on a nil database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// SchemaVersion returns the last migration applied to the log.
func (l *Log) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := l.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

// pragma reads a connection setting.
func (l *Log) pragma(ctx context.Context, name string) (string, error) {
	var value string
	if err := l.db.QueryRowContext(ctx, "PRAGMA "+name).Scan(&value); err != nil {
		return "", fmt.Errorf("read pragma %s: %w", name, err)
	}
	return value, nil
}
