package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"

	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// DefaultNamespace scopes bookmarks when several taps share one table.
const DefaultNamespace = "tap-gainsightpx"

// PostgresStore keeps bookmarks in a Postgres table keyed by namespace and
// stream. Each write bumps the row version.
type PostgresStore struct {
	db        *sql.DB
	namespace string
}

var (
	_ Store                   = (*PostgresStore)(nil)
	_ extract.KeyedStateStore = (*PostgresStore)(nil)
)

// OpenPostgresStore connects with driver ("postgres" for lib/pq, "pgx" for
// the pgx stdlib adapter) and ensures the schema exists.
func OpenPostgresStore(ctx context.Context, driver, dsn, namespace string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("state dsn is required")
	}
	if driver == "" {
		driver = "postgres"
	}
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping state database: %w", err)
	}

	store, err := NewPostgresStoreWithDB(ctx, db, namespace)
	if err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStoreWithDB reuses an existing *sql.DB.
func NewPostgresStoreWithDB(ctx context.Context, db *sql.DB, namespace string) (*PostgresStore, error) {
	if db == nil {
		return nil, errors.New("db is required")
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}
	if err := ensureTable(ctx, db); err != nil {
		return nil, fmt.Errorf("ensure bookmark table: %w", err)
	}
	return &PostgresStore{db: db, namespace: namespace}, nil
}

func ensureTable(ctx context.Context, db *sql.DB) error {
	const ddl = `
CREATE TABLE IF NOT EXISTS tap_bookmarks (
  namespace text NOT NULL,
  stream text NOT NULL,
  value jsonb NOT NULL,
  replication_key text NOT NULL DEFAULT '',
  version bigint NOT NULL DEFAULT 1,
  updated_at timestamptz NOT NULL DEFAULT now(),
  PRIMARY KEY (namespace, stream)
);
ALTER TABLE tap_bookmarks ADD COLUMN IF NOT EXISTS replication_key text NOT NULL DEFAULT '';
`
	_, err := db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) GetBookmark(ctx context.Context, stream string) (any, bool, error) {
	var raw []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM tap_bookmarks WHERE namespace=$1 AND stream=$2`,
		s.namespace, stream).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return nil, false, fmt.Errorf("decode bookmark %s: %w", stream, err)
	}
	if v == nil {
		return nil, false, nil
	}
	return v, true, nil
}

// SetBookmark keeps any replication key name already recorded for stream.
func (s *PostgresStore) SetBookmark(ctx context.Context, stream string, value any) error {
	return s.SetKeyedBookmark(ctx, stream, "", value)
}

func (s *PostgresStore) SetKeyedBookmark(ctx context.Context, stream, key string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode bookmark %s: %w", stream, err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO tap_bookmarks (namespace, stream, value, replication_key) VALUES ($1, $2, $3, $4)
ON CONFLICT (namespace, stream)
DO UPDATE SET value = EXCLUDED.value,
  replication_key = COALESCE(NULLIF(EXCLUDED.replication_key, ''), tap_bookmarks.replication_key),
  version = tap_bookmarks.version + 1, updated_at = now()`,
		s.namespace, stream, string(raw), key)
	return err
}

func (s *PostgresStore) Snapshot(ctx context.Context) (*Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT stream, value, replication_key FROM tap_bookmarks WHERE namespace=$1 ORDER BY stream`, s.namespace)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	doc := NewDocument()
	for rows.Next() {
		var (
			stream, key string
			raw         []byte
		)
		if err := rows.Scan(&stream, &raw, &key); err != nil {
			return nil, err
		}
		v, err := decodeValue(raw)
		if err != nil {
			return nil, fmt.Errorf("decode bookmark %s: %w", stream, err)
		}
		doc.Bookmarks[stream] = Bookmark{ReplicationKey: key, ReplicationKeyValue: v}
	}
	return doc, rows.Err()
}

// Import seeds the table from a Singer state document, typically a
// --state file handed to a run backed by Postgres.
func (s *PostgresStore) Import(ctx context.Context, doc *Document) error {
	if doc == nil {
		return nil
	}
	for _, stream := range doc.Streams() {
		b := doc.Bookmarks[stream]
		if err := s.SetKeyedBookmark(ctx, stream, b.ReplicationKey, b.ReplicationKeyValue); err != nil {
			return fmt.Errorf("import bookmark %s: %w", stream, err)
		}
	}
	return nil
}

// Close closes the database.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
