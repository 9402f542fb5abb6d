// Package store provides the local SQLite cache of CVE records and partition
// metadata.
//
// The database runs in embedded mode through the ncruces/go-sqlite3 driver
// with WAL journaling, so readers see either the state before a partition
// upsert or the fully committed state after it, never a mix.
//
// Layout:
//   - records: id (primary key), description (nullable), payload (raw JSON)
//   - partition_metadata: one fingerprint row per partition name
//
// Every operation opens its own connection and closes it before returning.
// Callers hold a *Store, which is only a validated path.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/mschirtzinger/nvd-cache/internal/cacheerr"
	"github.com/mschirtzinger/nvd-cache/internal/feed"
	"github.com/mschirtzinger/nvd-cache/internal/logging"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// defaultBusyTimeout is how long a connection waits on a locked database.
const defaultBusyTimeout = 5 * time.Second

// Record is one cached CVE.
type Record struct {
	ID string
	// Description is the English description, nil when the feed had none.
	Description *string
	// Payload is the raw JSON of the feed item.
	Payload string
}

// PartitionState pairs a partition name with its stored fingerprint.
// Metadata is nil when the partition has never been synced.
type PartitionState struct {
	Name     string
	Metadata *feed.Metadata
}

// Known reports whether the partition has been synced before.
func (p PartitionState) Known() bool {
	return p.Metadata != nil
}

// Stats summarises the cache contents.
type Stats struct {
	Records    int
	Partitions []PartitionState
	SizeBytes  int64
}

// Store is the local cache database at a fixed path.
type Store struct {
	path        string
	busyTimeout time.Duration
	log         *zap.Logger
}

// Option customises a Store.
type Option func(*Store)

// WithBusyTimeout overrides how long operations wait for a locked database.
func WithBusyTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.busyTimeout = d
		}
	}
}

// WithLogger overrides the module logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// Open prepares a store at path, creating the parent directory if needed.
// No connection is held open.
//
// Example:
//
//	st, err := store.Open(cfg.DB)
//	if err != nil {
//	    return err
//	}
//	if err := st.EnsureSchema(ctx); err != nil {
//	    return err
//	}
func Open(path string, opts ...Option) (*Store, error) {
	if path == "" {
		return nil, cacheerr.Storage("open", errors.New("empty database path"))
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, cacheerr.Storage("open", fmt.Errorf("create database directory: %w", err))
	}

	s := &Store{
		path:        path,
		busyTimeout: defaultBusyTimeout,
		log:         logging.WithModule("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// connect opens a single-connection handle with exclusive write transactions.
func (s *Store) connect(ctx context.Context) (*sql.DB, error) {
	name, err := s.dsn()
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn, err := sql.Open("sqlite3", name)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	pragmas := []string{
		fmt.Sprintf("PRAGMA busy_timeout=%d", s.busyTimeout.Milliseconds()),
		"PRAGMA journal_mode=WAL",
	}
	for _, p := range pragmas {
		if _, err := conn.ExecContext(ctx, p); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s: %w", p, err)
		}
	}

	return conn, nil
}

// dsn builds the file: URI for the database. The path is made absolute and
// escaped so that '?', '#' and '%' in it stay part of the file name.
func (s *Store) dsn() (string, error) {
	abs, err := filepath.Abs(s.path)
	if err != nil {
		return "", err
	}
	u := url.URL{
		Scheme:   "file",
		Path:     filepath.ToSlash(abs),
		RawQuery: "_txlock=exclusive",
	}
	return u.String(), nil
}

// withConn runs fn on a fresh connection and closes it afterwards. Errors not
// already classified are reported as storage failures of op.
func (s *Store) withConn(ctx context.Context, op string, fn func(*sql.DB) error) (err error) {
	conn, err := s.connect(ctx)
	if err != nil {
		return cacheerr.Storage(op, err)
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			err = multierr.Append(err, cacheerr.Storage(op, fmt.Errorf("close database: %w", cerr)))
		}
	}()

	if err := fn(conn); err != nil {
		var ce *cacheerr.Error
		if errors.As(err, &ce) {
			return err
		}
		return cacheerr.Storage(op, err)
	}
	return nil
}

// EnsureSchema creates the records and partition_metadata tables if they do
// not exist. It is idempotent and safe to call on every start.
func (s *Store) EnsureSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS records (
		id TEXT PRIMARY KEY,
		description TEXT,
		payload TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS partition_metadata (
		name TEXT PRIMARY KEY,
		last_modified TEXT NOT NULL,
		uncompressed_size INTEGER NOT NULL,
		archive_size_variant_a INTEGER NOT NULL,
		archive_size_variant_b INTEGER NOT NULL,
		content_hash TEXT NOT NULL
	);
	`

	return s.withConn(ctx, "ensure schema", func(db *sql.DB) error {
		if _, err := db.ExecContext(ctx, schema); err != nil {
			return fmt.Errorf("initialize schema: %w", err)
		}
		return nil
	})
}

// GetPartitionMetadata returns the stored fingerprint for each name, in the
// order given. Names never synced come back with nil Metadata.
func (s *Store) GetPartitionMetadata(ctx context.Context, names []string) ([]PartitionState, error) {
	states := make([]PartitionState, 0, len(names))

	err := s.withConn(ctx, "get partition metadata", func(db *sql.DB) error {
		stmt, err := db.PrepareContext(ctx, `
		SELECT name, last_modified, uncompressed_size, archive_size_variant_a,
		       archive_size_variant_b, content_hash
		FROM partition_metadata
		WHERE name = ?
		`)
		if err != nil {
			return fmt.Errorf("prepare metadata query: %w", err)
		}
		defer stmt.Close()

		for _, name := range names {
			p, err := scanPartition(stmt.QueryRowContext(ctx, name))
			if errors.Is(err, sql.ErrNoRows) {
				states = append(states, PartitionState{Name: name})
				continue
			}
			if err != nil {
				return fmt.Errorf("query metadata for %s: %w", name, err)
			}
			states = append(states, p)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return states, nil
}

// UpsertPartitionMetadata inserts or replaces the fingerprint for name.
func (s *Store) UpsertPartitionMetadata(ctx context.Context, name string, meta *feed.Metadata) error {
	if meta == nil {
		return cacheerr.Storage("upsert partition metadata", fmt.Errorf("nil metadata for %s", name))
	}

	query := `
	INSERT INTO partition_metadata (
		name, last_modified, uncompressed_size,
		archive_size_variant_a, archive_size_variant_b, content_hash
	) VALUES (?, ?, ?, ?, ?, ?)
	ON CONFLICT(name) DO UPDATE SET
		last_modified = excluded.last_modified,
		uncompressed_size = excluded.uncompressed_size,
		archive_size_variant_a = excluded.archive_size_variant_a,
		archive_size_variant_b = excluded.archive_size_variant_b,
		content_hash = excluded.content_hash
	`

	return s.withConn(ctx, "upsert partition metadata", func(db *sql.DB) error {
		_, err := db.ExecContext(ctx, query,
			name,
			meta.FormatLastModified(),
			int64(meta.Size),
			int64(meta.ZipSize),
			int64(meta.GzSize),
			meta.SHA256,
		)
		if err != nil {
			return fmt.Errorf("upsert metadata for %s: %w", name, err)
		}
		return nil
	})
}

// UpsertRecords writes a batch inside one exclusive transaction and returns
// how many records were skipped.
//
// When cutoff is non-nil, records whose own LastModified is strictly after it
// are skipped; a record exactly at the cutoff is written. Records with an
// unknown timestamp are always written. Each written record stores its first
// English description. Any failure rolls the whole batch back.
func (s *Store) UpsertRecords(ctx context.Context, batch *feed.RecordBatch, cutoff *time.Time) (int, error) {
	query := `
	INSERT INTO records (id, description, payload)
	VALUES (?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		description = excluded.description,
		payload = excluded.payload
	`

	skipped := 0
	err := s.withConn(ctx, "upsert records", func(db *sql.DB) error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("prepare upsert: %w", err)
		}
		defer stmt.Close()

		if batch != nil {
			for _, item := range batch.Items {
				if cutoff != nil && !item.LastModified.IsZero() && item.LastModified.After(*cutoff) {
					skipped++
					continue
				}

				desc := feed.EnglishDescription(item.Descriptions)
				if _, err := stmt.ExecContext(ctx, item.ID, toNullString(desc), item.Payload); err != nil {
					return fmt.Errorf("upsert record %s: %w", item.ID, err)
				}
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Debug("upserted records",
		zap.Int("batch", batch.Len()),
		zap.Int("skipped", skipped))
	return skipped, nil
}

// GetRecord returns the record with the given id, or a cacheerr.KindNotFound
// error.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	var rec *Record
	err := s.withConn(ctx, "get record", func(db *sql.DB) error {
		row := db.QueryRowContext(ctx,
			`SELECT id, description, payload FROM records WHERE id = ?`, id)

		r, err := scanRecord(row)
		if errors.Is(err, sql.ErrNoRows) {
			return cacheerr.NotFound("get record", id)
		}
		if err != nil {
			return fmt.Errorf("query record %s: %w", id, err)
		}
		rec = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListAllRecords returns every record ordered by id.
func (s *Store) ListAllRecords(ctx context.Context) ([]*Record, error) {
	var records []*Record
	err := s.withConn(ctx, "list records", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id, description, payload FROM records ORDER BY id ASC`)
		if err != nil {
			return fmt.Errorf("query records: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			r, err := scanRecord(rows)
			if err != nil {
				return fmt.Errorf("scan record: %w", err)
			}
			records = append(records, r)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating records: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SearchDescription returns the ids of records whose description matches
// LIKE '%text%'. The text is not escaped, so '%' and '_' act as wildcards.
func (s *Store) SearchDescription(ctx context.Context, text string) ([]string, error) {
	ids := []string{}
	err := s.withConn(ctx, "search description", func(db *sql.DB) error {
		rows, err := db.QueryContext(ctx,
			`SELECT id FROM records WHERE description LIKE '%' || ? || '%' ORDER BY id ASC`, text)
		if err != nil {
			return fmt.Errorf("query descriptions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("scan id: %w", err)
			}
			ids = append(ids, id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("error iterating ids: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// Stats returns record and partition counts plus the database file size.
func (s *Store) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{}
	err := s.withConn(ctx, "stats", func(db *sql.DB) error {
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM records").Scan(&st.Records); err != nil {
			return fmt.Errorf("count records: %w", err)
		}

		rows, err := db.QueryContext(ctx, `
		SELECT name, last_modified, uncompressed_size, archive_size_variant_a,
		       archive_size_variant_b, content_hash
		FROM partition_metadata
		ORDER BY name ASC
		`)
		if err != nil {
			return fmt.Errorf("query partitions: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			p, err := scanPartition(rows)
			if err != nil {
				return fmt.Errorf("scan partition: %w", err)
			}
			st.Partitions = append(st.Partitions, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}

	if info, err := os.Stat(s.path); err == nil {
		st.SizeBytes = info.Size()
	}
	return st, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPartition(row rowScanner) (PartitionState, error) {
	var (
		name         string
		lastModified string
		size, a, b   int64
		hash         string
	)
	if err := row.Scan(&name, &lastModified, &size, &a, &b, &hash); err != nil {
		return PartitionState{}, err
	}
	return PartitionState{
		Name: name,
		Metadata: &feed.Metadata{
			LastModified: feed.ParseTimestamp(lastModified),
			Size:         uint64(size),
			ZipSize:      uint64(a),
			GzSize:       uint64(b),
			SHA256:       hash,
		},
	}, nil
}

func scanRecord(row rowScanner) (*Record, error) {
	var (
		r    Record
		desc sql.NullString
	)
	if err := row.Scan(&r.ID, &desc, &r.Payload); err != nil {
		return nil, err
	}
	if desc.Valid {
		d := desc.String
		r.Description = &d
	}
	return &r, nil
}

// toNullString converts an optional string to a nullable SQL value.
func toNullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{Valid: false}
	}
	return sql.NullString{String: *s, Valid: true}
}
