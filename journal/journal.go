// Package journal keeps an optional audit trail of the messages a
// coordinator sees. It plays no part in delivery.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/EelcoLos/iframe-dnd-demo-sub000/relay"
)

// Journal records messages.
type Journal interface {
	Record(ctx context.Context, msg relay.Message) error
	Close()
}

// Nop discards everything.
type Nop struct{}

func (Nop) Record(context.Context, relay.Message) error { return nil }
func (Nop) Close()                                      {}

const schema = `
CREATE TABLE IF NOT EXISTS relay_messages (
	id          BIGSERIAL PRIMARY KEY,
	channel     TEXT        NOT NULL,
	type        TEXT        NOT NULL,
	source      TEXT        NOT NULL,
	target      TEXT,
	data        JSONB,
	sent_at     TIMESTAMPTZ NOT NULL,
	recorded_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`

const insertMessage = `
INSERT INTO relay_messages (channel, type, source, target, data, sent_at)
VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6)`

// Postgres writes messages to the relay_messages table.
type Postgres struct {
	pool    *pgxpool.Pool
	channel string
}

// Connect opens a pool for databaseURL and checks it with a ping.
func Connect(ctx context.Context, databaseURL, channel string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Postgres{pool: pool, channel: channel}, nil
}

// Migrate creates the table if it does not exist.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Record implements Journal.
func (p *Postgres) Record(ctx context.Context, msg relay.Message) error {
	var data []byte
	if len(msg.Data) > 0 {
		data = msg.Data
	}
	_, err := p.pool.Exec(ctx, insertMessage,
		p.channel, string(msg.Type), string(msg.Source), string(msg.Target), data, time.UnixMilli(msg.Timestamp))
	if err != nil {
		return fmt.Errorf("record %s: %w", msg.Type, err)
	}
	return nil
}

// Count returns the number of recorded messages of type t.
func (p *Postgres) Count(ctx context.Context, t relay.MessageType) (int, error) {
	var n int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM relay_messages WHERE channel = $1 AND type = $2`, p.channel, string(t)).Scan(&n)
	return n, err
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}
