package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	"github.com/swimctl/swimctl/internal/flight"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnsupportedDriver is returned by Open for unknown driver names.
var ErrUnsupportedDriver = errors.New("unsupported storage driver")

//go:embed sqlite/schema.sql
var sqliteSchema string

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store persists flight records in the flights table.
type Store struct {
	DB     *sql.DB
	driver string
	logger *log.Logger
}

// Health summarises the flights table for the health endpoint.
type Health struct {
	OK            bool    `json:"ok"`
	RowCount      int64   `json:"rowcount"`
	LastTimestamp *string `json:"last_timestamp"`
	Error         string  `json:"error,omitempty"`
}

// Open connects to the configured backend. target is a Postgres DSN or a
// SQLite file path.
func Open(ctx context.Context, driver, target string, logger *log.Logger) (*Store, error) {
	switch driver {
	case DriverPostgres, "":
		return NewWithDSN(ctx, target, logger)
	case DriverSQLite:
		return NewSQLite(ctx, target, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedDriver, driver)
	}
}

// NewWithDSN constructs the Store using an explicit Postgres DSN. The schema
// is managed by Migrate.
func NewWithDSN(ctx context.Context, dsn string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return New(db, DriverPostgres, logger), nil
}

// NewSQLite opens (and creates if needed) a SQLite database file and applies
// the flights schema.
func NewSQLite(ctx context.Context, path string, logger *log.Logger) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create sqlite dir: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}
	return New(db, DriverSQLite, logger), nil
}

// New wraps an open database handle.
func New(db *sql.DB, driver string, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.New(log.Writer(), "[STORE] ", log.LstdFlags)
	}
	return &Store{DB: db, driver: driver, logger: logger}
}

// Close releases the database handle.
func (s *Store) Close() error {
	return s.DB.Close()
}

const insertFlightSQL = `INSERT INTO flights
  ("timestamp", callsign, computer_id, departure, arrival, latitude, longitude,
   altitude, speed, status, operator, center)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// InsertFlight writes every field of rec in a single row.
func (s *Store) InsertFlight(ctx context.Context, rec *flight.Record) error {
	if rec == nil {
		return fmt.Errorf("nil flight record")
	}
	_, err := s.DB.ExecContext(ctx, s.rebind(insertFlightSQL),
		nullString(rec.Timestamp),
		nullString(rec.Callsign),
		nullString(rec.ComputerID),
		nullString(rec.Departure),
		nullString(rec.Arrival),
		nullFloat(rec.Latitude),
		nullFloat(rec.Longitude),
		nullInt(rec.Altitude),
		nullInt(rec.Speed),
		nullString(rec.Status),
		nullString(rec.Operator),
		nullString(rec.Center),
	)
	if err != nil {
		return fmt.Errorf("insert flight: %w", err)
	}
	return nil
}

// Persist implements the ingestion sink. Errors are logged and reported as
// false.
func (s *Store) Persist(ctx context.Context, rec *flight.Record) bool {
	if err := s.InsertFlight(ctx, rec); err != nil {
		s.logger.Printf("[ERROR] Upload error: %v", err)
		return false
	}
	return true
}

// CountFlights returns the number of stored rows.
func (s *Store) CountFlights(ctx context.Context) (int64, error) {
	var n int64
	if err := s.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM flights`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count flights: %w", err)
	}
	return n, nil
}

// LatestTimestamp returns the greatest message timestamp stored, if any.
func (s *Store) LatestTimestamp(ctx context.Context) (*string, error) {
	var ts sql.NullString
	if err := s.DB.QueryRowContext(ctx, `SELECT MAX("timestamp") FROM flights`).Scan(&ts); err != nil {
		return nil, fmt.Errorf("latest timestamp: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.String, nil
}

// Health reports row count and latest timestamp. Failures are carried in the
// result rather than returned.
func (s *Store) Health(ctx context.Context) Health {
	n, err := s.CountFlights(ctx)
	if err != nil {
		return Health{Error: err.Error()}
	}
	ts, err := s.LatestTimestamp(ctx)
	if err != nil {
		return Health{Error: err.Error()}
	}
	return Health{OK: true, RowCount: n, LastTimestamp: ts}
}

// rebind converts ? placeholders to $n for Postgres.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
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

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullFloat(p *float64) sql.NullFloat64 {
	if p == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *p, Valid: true}
}

func nullInt(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}
