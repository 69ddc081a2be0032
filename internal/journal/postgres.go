package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS trade_events (
	id BIGSERIAL PRIMARY KEY,
	time TIMESTAMPTZ NOT NULL,
	type TEXT NOT NULL,
	symbol TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT '',
	data JSONB
);
CREATE INDEX IF NOT EXISTS idx_trade_events_type_time ON trade_events (type, time);
`

// Postgres is a Journaler backed by a Postgres table.
type Postgres struct {
	db *sql.DB
}

// NewPostgres opens the connection and ensures the schema exists.
func NewPostgres(connStr string) (*Postgres, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ensure schema: %w", err)
	}
	return &Postgres{db: db}, nil
}

func (p *Postgres) LogEvent(ctx context.Context, event Event) error {
	data, _ := json.Marshal(event.Data)
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO trade_events (time, type, symbol, description, data) VALUES ($1,$2,$3,$4,$5)`,
		event.Time, event.Type, event.Symbol, event.Description, data)
	if err != nil {
		return fmt.Errorf("failed to log event: %w", err)
	}
	return nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}
