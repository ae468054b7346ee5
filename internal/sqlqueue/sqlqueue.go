// Package sqlqueue is the polling message queue shared by the SQL-backed
// transports. Messages are rows of one table; a subscriber locks the oldest
// available row of its topic, hands it out and deletes it on ack. A nack
// releases the row after a delay so it is picked up again.
package sqlqueue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/safetynet/internal/runtime/jsoncodec"
)

const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultLockTimeout  = 30 * time.Second
	DefaultNackDelay    = time.Second
	DefaultTable        = "safetynet_messages"
)

// ErrClosed is returned by Publish and Subscribe after Close.
var ErrClosed = errors.New("safetynet: sql queue is closed")

// Dialect captures what differs between SQL engines.
type Dialect struct {
	// Name is used in log fields.
	Name string
	// Schema returns the DDL creating table and its indexes.
	Schema func(table string) string
	// DollarPlaceholders selects $1, $2 over ?.
	DollarPlaceholders bool
	// LockClause is appended to the row selection, e.g. FOR UPDATE SKIP LOCKED.
	LockClause string
}

// Rebind rewrites ? placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.DollarPlaceholders {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Config tunes a queue. Zero values take the package defaults.
type Config struct {
	Table        string
	PollInterval time.Duration
	LockTimeout  time.Duration
	NackDelay    time.Duration
}

func (c Config) withDefaults() Config {
	if c.Table == "" {
		c.Table = DefaultTable
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LockTimeout <= 0 {
		c.LockTimeout = DefaultLockTimeout
	}
	if c.NackDelay <= 0 {
		c.NackDelay = DefaultNackDelay
	}
	return c
}

// Queue implements message.Publisher and message.Subscriber over a *sql.DB.
type Queue struct {
	db      *sql.DB
	dialect Dialect
	config  Config
	logger  watermill.LoggerAdapter
	now     func() time.Time

	mu     sync.Mutex
	closed bool
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates the schema when missing and returns a queue owning db.
func New(ctx context.Context, db *sql.DB, dialect Dialect, cfg Config, logger watermill.LoggerAdapter) (*Queue, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	cfg = cfg.withDefaults()
	if _, err := db.ExecContext(ctx, dialect.Schema(cfg.Table)); err != nil {
		return nil, fmt.Errorf("safetynet: create %s schema: %w", dialect.Name, err)
	}
	return &Queue{
		db:      db,
		dialect: dialect,
		config:  cfg,
		logger:  logger.With(watermill.LogFields{"dialect": dialect.Name, "table": cfg.Table}),
		now:     func() time.Time { return time.Now().UTC() },
		done:    make(chan struct{}),
	}, nil
}

// DB exposes the underlying handle.
func (q *Queue) DB() *sql.DB {
	return q.db
}

func (q *Queue) exec(ctx context.Context, tx *sql.Tx, query string, args ...any) error {
	_, err := tx.ExecContext(ctx, q.dialect.Rebind(query), args...)
	return err
}

// Publish inserts all messages in one transaction.
func (q *Queue) Publish(topic string, messages ...*message.Message) error {
	if q.isClosed() {
		return ErrClosed
	}
	ctx := context.Background()
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("safetynet: begin publish: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	insert := fmt.Sprintf(`INSERT INTO %s (uuid, topic, payload, metadata, available_at) VALUES (?, ?, ?, ?, ?)`, q.config.Table)
	now := q.now().UnixMilli()
	for _, msg := range messages {
		metadata, err := jsoncodec.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("safetynet: encode metadata: %w", err)
		}
		payload := msg.Payload
		if payload == nil {
			payload = []byte{}
		}
		if err := q.exec(ctx, tx, insert, msg.UUID, topic, payload, string(metadata), now); err != nil {
			return fmt.Errorf("safetynet: insert message %s: %w", msg.UUID, err)
		}
	}
	return tx.Commit()
}

// Subscribe polls topic until ctx is done or the queue closes. Messages are
// handed out one at a time.
func (q *Queue) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	if q.isClosed() {
		return nil, ErrClosed
	}
	out := make(chan *message.Message)
	q.wg.Add(1)
	go q.poll(ctx, topic, out)
	return out, nil
}

func (q *Queue) poll(ctx context.Context, topic string, out chan<- *message.Message) {
	defer q.wg.Done()
	defer close(out)

	ticker := time.NewTicker(q.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case <-ticker.C:
		}
		for q.deliverNext(ctx, topic, out) {
		}
	}
}

type row struct {
	id       int64
	uuid     string
	payload  []byte
	metadata string
}

// deliverNext hands out one message and reports whether another poll should
// follow immediately.
func (q *Queue) deliverNext(ctx context.Context, topic string, out chan<- *message.Message) bool {
	r, err := q.lockNext(ctx, topic)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) && ctx.Err() == nil {
			q.logger.Error("Failed to fetch message", err, watermill.LogFields{"topic": topic})
		}
		return false
	}

	msg := message.NewMessage(r.uuid, r.payload)
	if r.metadata != "" {
		var md map[string]string
		if err := jsoncodec.Unmarshal([]byte(r.metadata), &md); err != nil {
			q.logger.Error("Dropping unreadable metadata", err, watermill.LogFields{"uuid": r.uuid})
		}
		for k, v := range md {
			msg.Metadata.Set(k, v)
		}
	}

	select {
	case out <- msg:
	case <-ctx.Done():
		q.release(r.id, 0)
		return false
	case <-q.done:
		q.release(r.id, 0)
		return false
	}

	select {
	case <-msg.Acked():
		q.remove(r.id)
		return true
	case <-msg.Nacked():
		q.release(r.id, q.config.NackDelay)
		return true
	case <-ctx.Done():
		q.release(r.id, 0)
	case <-q.done:
		q.release(r.id, 0)
	}
	return false
}

func (q *Queue) lockNext(ctx context.Context, topic string) (row, error) {
	var r row
	tx, err := q.db.BeginTx(ctx, nil)
	if err != nil {
		return r, err
	}
	defer func() { _ = tx.Rollback() }()

	now := q.now().UnixMilli()
	query := fmt.Sprintf(`SELECT id, uuid, payload, metadata FROM %s
		WHERE topic = ? AND available_at <= ? AND (locked_until IS NULL OR locked_until < ?)
		ORDER BY available_at, id LIMIT 1 %s`, q.config.Table, q.dialect.LockClause)
	if err := tx.QueryRowContext(ctx, q.dialect.Rebind(query), topic, now, now).
		Scan(&r.id, &r.uuid, &r.payload, &r.metadata); err != nil {
		return r, err
	}

	lockUntil := now + q.config.LockTimeout.Milliseconds()
	update := fmt.Sprintf(`UPDATE %s SET locked_until = ?, deliveries = deliveries + 1 WHERE id = ?`, q.config.Table)
	if err := q.exec(ctx, tx, update, lockUntil, r.id); err != nil {
		return r, err
	}
	return r, tx.Commit()
}

func (q *Queue) remove(id int64) {
	query := q.dialect.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, q.config.Table))
	if _, err := q.db.Exec(query, id); err != nil {
		q.logger.Error("Failed to remove acked message", err, watermill.LogFields{"id": id})
	}
}

func (q *Queue) release(id int64, delay time.Duration) {
	availableAt := q.now().Add(delay).UnixMilli()
	query := q.dialect.Rebind(fmt.Sprintf(`UPDATE %s SET locked_until = NULL, available_at = ? WHERE id = ?`, q.config.Table))
	if _, err := q.db.Exec(query, availableAt, id); err != nil {
		q.logger.Error("Failed to release message", err, watermill.LogFields{"id": id})
	}
}

// PendingCount returns the number of messages waiting on topic, locked ones
// included.
func (q *Queue) PendingCount(ctx context.Context, topic string) (int64, error) {
	var n int64
	query := q.dialect.Rebind(fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE topic = ?`, q.config.Table))
	err := q.db.QueryRowContext(ctx, query, topic).Scan(&n)
	return n, err
}

// TopicExists is always true; topics are created by the first insert.
func (q *Queue) TopicExists(ctx context.Context, topic string) (bool, error) {
	return true, nil
}

func (q *Queue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close stops subscribers, waits for them and closes the database.
func (q *Queue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.done)
	q.mu.Unlock()

	q.wg.Wait()
	return q.db.Close()
}
