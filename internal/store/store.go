// Package store persists adjudicated claims to the relational reference
// store over database/sql.
//
// The store resolves business keys (member number, pharmacy NPI, drug NDC)
// to surrogate identifiers inside the INSERT itself, so a batch needs no
// preliminary lookups; a key that fails to resolve aborts the whole batch.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	_ "github.com/go-sql-driver/mysql" // claims database driver

	"github.com/rxops/rxsim/internal/claim"
	"github.com/rxops/rxsim/internal/metrics"
)

// DefaultTxTimeout bounds one batch-insert transaction.
const DefaultTxTimeout = 60 * time.Second

// progressInterval is the inserted-row count between progress lines.
const progressInterval = 10_000

// Store is the claim persistence sink. All methods are safe for use from
// the single coordinator goroutine; Store holds no claim state beyond the
// running inserted-row count used for progress lines.
type Store struct {
	db        *sql.DB
	rec       *metrics.Recorder
	txTimeout time.Duration
	inserted  int64
	out       io.Writer
}

// Option configures a Store.
type Option func(*Store)

// WithRecorder attaches a metrics recorder; every store operation is then
// logged with row and byte counts.
func WithRecorder(rec *metrics.Recorder) Option {
	return func(s *Store) { s.rec = rec }
}

// WithTxTimeout overrides the per-batch transaction timeout.
func WithTxTimeout(d time.Duration) Option {
	return func(s *Store) { s.txTimeout = d }
}

// Open connects to the claims database. The initial ping retries with
// exponential backoff for a few seconds so the simulator tolerates racing a
// database that is still starting.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open claims database: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	ping := func() error { return db.PingContext(ctx) }
	bo := backoff.WithContext(backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(15*time.Second)), ctx)
	if err := backoff.Retry(ping, bo); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping claims database: %w", err)
	}

	return newStore(db, opts...), nil
}

// newStore wraps an already-open handle. Split from Open so tests can
// substitute a sqlmock connection.
func newStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, txTimeout: DefaultTxTimeout, out: os.Stdout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close releases the underlying connection pool.
func (s *Store) Close() error { return s.db.Close() }

// referenceTables must all be populated before a simulation run starts.
var referenceTables = []string{"members", "benefit_plans", "pharmacies", "drugs", "enrollments"}

// VerifyReferenceData confirms the collaborator-loaded reference tables are
// present and non-empty. Fatal at startup when they are not.
func (s *Store) VerifyReferenceData(ctx context.Context) error {
	start := time.Now()
	for _, table := range referenceTables {
		var n int64
		// Table names come from the fixed list above, never from input.
		row := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table)
		if err := row.Scan(&n); err != nil {
			return fmt.Errorf("%w: counting %s: %v", ErrReferenceData, table, err)
		}
		if n == 0 {
			return fmt.Errorf("%w: table %s is empty", ErrReferenceData, table)
		}
	}
	s.rec.Record("claim", "verify_reference", time.Since(start), len(referenceTables), 0)
	return nil
}

// CountClaims returns the total number of persisted claims.
func (s *Store) CountClaims(ctx context.Context) (int64, error) {
	return s.countWhere(ctx, "SELECT COUNT(*) FROM claims")
}

// CountClaimsByStatus returns the number of persisted claims with the given
// adjudication status.
func (s *Store) CountClaimsByStatus(ctx context.Context, status claim.Status) (int64, error) {
	return s.countWhere(ctx, "SELECT COUNT(*) FROM claims WHERE status = ?", string(status))
}

func (s *Store) countWhere(ctx context.Context, query string, args ...any) (int64, error) {
	start := time.Now()
	var n int64
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count claims: %w", err)
	}
	s.rec.Record("claim", "count", time.Since(start), 1, 0)
	return n, nil
}
