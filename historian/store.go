package historian

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"github.com/arloliu/go-hwc/hwc"
)

// DefaultBusyTimeout is the default SQLite busy timeout.
const DefaultBusyTimeout = 5 * time.Second

// Option represents a functional option for configuring a Store.
type Option interface {
	apply(s *Store) error
}

type optFunc func(s *Store) error

func (f optFunc) apply(s *Store) error { return f(s) }

// WithBusyTimeout sets how long SQLite waits on a locked database before
// failing. Defaults to 5 seconds.
func WithBusyTimeout(timeout time.Duration) Option {
	return optFunc(func(s *Store) error {
		if timeout <= 0 {
			return fmt.Errorf("historian: busy timeout must be positive")
		}
		s.busyTimeout = timeout

		return nil
	})
}

const schema = `
CREATE TABLE IF NOT EXISTS samples (
	id     INTEGER PRIMARY KEY AUTOINCREMENT,
	signal TEXT    NOT NULL,
	kind   INTEGER NOT NULL,
	value  REAL    NOT NULL,
	at     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_samples_signal_at ON samples(signal, at);
`

// Store records samples in a SQLite database. It implements hwc.Sink.
//
// A Store is safe for concurrent use. The connection pool is capped at one
// connection because SQLite serializes writers anyway.
type Store struct {
	db          *sql.DB
	insert      *sql.Stmt
	busyTimeout time.Duration
	closed      atomic.Bool
}

// Open opens or creates the sample database at path.
//
// The database runs in WAL journal mode with synchronous=NORMAL. Timestamps
// are stored as nanoseconds since the Unix epoch and read back in UTC.
func Open(path string, opts ...Option) (*Store, error) {
	s := &Store{busyTimeout: DefaultBusyTimeout}
	for _, opt := range opts {
		if err := opt.apply(s); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("historian: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout.Milliseconds()),
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("historian: %s: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("historian: create schema: %w", err)
	}

	insert, err := db.Prepare("INSERT INTO samples (signal, kind, value, at) VALUES (?, ?, ?, ?)")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("historian: prepare insert: %w", err)
	}

	s.db = db
	s.insert = insert

	return s, nil
}

// Publish appends one sample. It implements hwc.Sink.
func (s *Store) Publish(ctx context.Context, sample hwc.Sample) error {
	if s.closed.Load() {
		return ErrClosed
	}

	_, err := s.insert.ExecContext(ctx, sample.Signal, uint8(sample.Kind), sample.Value, sample.At.UnixNano())
	if err != nil {
		return fmt.Errorf("historian: insert sample: %w", err)
	}

	return nil
}

// Query returns the samples of one signal within [from, to], oldest first.
func (s *Store) Query(ctx context.Context, signal string, from, to time.Time) ([]hwc.Sample, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT signal, kind, value, at FROM samples WHERE signal = ? AND at >= ? AND at <= ? ORDER BY at, id",
		signal, from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("historian: query samples: %w", err)
	}
	defer rows.Close()

	var samples []hwc.Sample
	for rows.Next() {
		sample, err := scanSample(rows)
		if err != nil {
			return nil, fmt.Errorf("historian: scan sample: %w", err)
		}
		samples = append(samples, sample)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("historian: query samples: %w", err)
	}

	return samples, nil
}

// Latest returns the most recent sample of one signal, or ErrNoSamples when
// the signal was never recorded.
func (s *Store) Latest(ctx context.Context, signal string) (hwc.Sample, error) {
	if s.closed.Load() {
		return hwc.Sample{}, ErrClosed
	}

	row := s.db.QueryRowContext(ctx,
		"SELECT signal, kind, value, at FROM samples WHERE signal = ? ORDER BY at DESC, id DESC LIMIT 1",
		signal)

	sample, err := scanSample(row)
	if errors.Is(err, sql.ErrNoRows) {
		return hwc.Sample{}, ErrNoSamples
	}
	if err != nil {
		return hwc.Sample{}, fmt.Errorf("historian: scan sample: %w", err)
	}

	return sample, nil
}

// Prune deletes the samples of every signal recorded before the given time
// and returns the number of removed rows.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	if s.closed.Load() {
		return 0, ErrClosed
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM samples WHERE at < ?", before.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("historian: prune samples: %w", err)
	}

	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("historian: prune samples: %w", err)
	}

	return removed, nil
}

// Close releases the database. Operations on a closed store return ErrClosed;
// closing twice is a no-op.
func (s *Store) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	s.insert.Close()

	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSample(row rowScanner) (hwc.Sample, error) {
	var (
		sample hwc.Sample
		kind   uint8
		nanos  int64
	)
	if err := row.Scan(&sample.Signal, &kind, &sample.Value, &nanos); err != nil {
		return hwc.Sample{}, err
	}

	sample.Kind = hwc.Kind(kind)
	sample.At = time.Unix(0, nanos).UTC()

	return sample, nil
}
