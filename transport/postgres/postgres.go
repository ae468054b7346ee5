// Package postgres provides a PostgreSQL-backed queue transport. Several
// consumers may poll the same topic; rows are claimed with SKIP LOCKED.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/drblury/safetynet/internal/sqlqueue"
	"github.com/drblury/safetynet/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "postgres"

const (
	defaultMaxOpenConns = 10
	defaultMaxIdleConns = 5
	connMaxLifetime     = 5 * time.Minute
)

// ErrURLRequired is returned when no connection string is configured.
var ErrURLRequired = errors.New("safetynet: postgres url is required")

// OpenDB allows overriding how the database handle is opened for testing.
var OpenDB = func(dsn string) (*sql.DB, error) {
	return sql.Open("postgres", dsn)
}

// Dialect is the PostgreSQL flavour of the shared queue.
var Dialect = sqlqueue.Dialect{
	Name: "postgres",
	Schema: func(table string) string {
		return fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id BIGSERIAL PRIMARY KEY,
	uuid TEXT NOT NULL,
	topic TEXT NOT NULL,
	payload BYTEA NOT NULL,
	metadata TEXT,
	available_at BIGINT NOT NULL,
	locked_until BIGINT,
	deliveries INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_%[1]s_topic ON %[1]s (topic, available_at);`, table)
	},
	DollarPlaceholders: true,
	LockClause:         "FOR UPDATE SKIP LOCKED",
}

func init() {
	Register()
}

// Register registers the PostgreSQL transport under "postgres" and the
// "postgresql" alias.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.PostgresCapabilities)
	transport.RegisterWithCapabilities("postgresql", Build, transport.PostgresCapabilities)
}

// Build connects to the configured database as a queue serving as publisher
// and subscriber.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	q, err := New(ctx, Config{URL: cfg.GetPostgresURL()}, logger)
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
	return transport.PostgresCapabilities
}

// Config holds PostgreSQL settings.
type Config struct {
	URL          string
	Table        string
	PollInterval time.Duration
	NackDelay    time.Duration
	MaxOpenConns int
	MaxIdleConns int
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns <= 0 {
		c.MaxOpenConns = defaultMaxOpenConns
	}
	if c.MaxIdleConns <= 0 {
		c.MaxIdleConns = defaultMaxIdleConns
	}
	return c
}

// New opens a connection pool, verifies it with a ping and creates the queue
// table when missing.
func New(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (*sqlqueue.Queue, error) {
	if cfg.URL == "" {
		return nil, ErrURLRequired
	}
	cfg = cfg.withDefaults()

	db, err := OpenDB(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("safetynet: open postgres: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("safetynet: connect to postgres: %w", err)
	}

	q, err := sqlqueue.New(ctx, db, Dialect, sqlqueue.Config{
		Table:        cfg.Table,
		PollInterval: cfg.PollInterval,
		NackDelay:    cfg.NackDelay,
	}, logger)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return q, nil
}
