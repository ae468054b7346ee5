// Package sqlite provides a SQLite-backed queue transport. It needs no
// broker and survives restarts, which makes it a good fit for single-node
// deployments.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/drblury/safetynet/internal/sqlqueue"
	"github.com/drblury/safetynet/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "sqlite"

// DefaultFilePath is used when no file is configured.
const DefaultFilePath = "safetynet_queue.db"

// Dialect is the SQLite flavour of the shared queue.
var Dialect = sqlqueue.Dialect{
	Name: "sqlite",
	Schema: func(table string) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	uuid TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload BLOB NOT NULL,
	metadata TEXT,
	available_at INTEGER NOT NULL,
	locked_until INTEGER,
	deliveries INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_topic ON %[1]s(topic, available_at);`, table)
	},
}

func init() {
	Register()
}

// Register registers the SQLite transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.SQLiteCapabilities)
}

// Build opens the configured database file as a queue serving as publisher
// and subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, Config{FilePath: cfg.GetSQLiteFile()}, logger)
	if err != nil {
		return transport.Transport{}, err
	}
	return transport.Transport{
		Publisher:  q,
		Subscriber: q,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.SQLiteCapabilities
}

// Config holds SQLite settings.
type Config struct {
	// FilePath is the database file. Defaults to DefaultFilePath.
	FilePath     string
	PollInterval time.Duration
	NackDelay    time.Duration
}

// New opens the database in WAL mode with a single connection, which keeps
// writers from contending for the file lock.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	path := cfg.FilePath
	if path == "" {
		path = DefaultFilePath
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("safetynet: open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	q, err := sqlqueue.New(ctx, db, Dialect, sqlqueue.Config{
		PollInterval: cfg.PollInterval,
		NackDelay:    cfg.NackDelay,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}
