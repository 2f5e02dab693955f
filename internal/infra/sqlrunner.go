package infra

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// SQLExecutor is the query surface repositories depend on.
type SQLExecutor interface {
	Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, query string, args ...any) pgx.Row
	Query(ctx context.Context, query string, args ...any) (pgx.Rows, error)
}

// SQLObserver receives the outcome of every statement. *metrics.Collector
// satisfies it.
type SQLObserver interface {
	ObserveSQL(marker, op string, d time.Duration, err error)
}

var (
	markerRegexp = regexp.MustCompile(`^--sql ([0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12})$`)

	ErrSQLMarker = errors.New("sql marker missing or invalid")
)

const defaultSlowQuery = 250 * time.Millisecond

// SQLRunner refuses statements without a leading "--sql <uuid>" marker and
// tags logs and metrics with it.
type SQLRunner struct {
	Pool     *pgxpool.Pool
	Logger   zerolog.Logger
	Observer SQLObserver
	// SlowQuery is the duration above which a statement logs at warn.
	SlowQuery time.Duration
}

func NewSQLRunner(pool *pgxpool.Pool, logger zerolog.Logger) *SQLRunner {
	return &SQLRunner{Pool: pool, Logger: logger, SlowQuery: defaultSlowQuery}
}

// WithObserver sets the statement observer and returns r.
func (r *SQLRunner) WithObserver(o SQLObserver) *SQLRunner {
	r.Observer = o
	return r
}

func (r *SQLRunner) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	start := time.Now()
	tag, err := r.Pool.Exec(ctx, trimmed, args...)
	r.done(marker, "exec", start, err, tag.RowsAffected())
	return tag, err
}

func (r *SQLRunner) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return errorRow{err: err}
	}
	return &observedRow{row: r.Pool.QueryRow(ctx, trimmed, args...), runner: r, marker: marker, start: time.Now()}
}

func (r *SQLRunner) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	marker, trimmed, err := extractMarker(query)
	if err != nil {
		return nil, err
	}
	start := time.Now()
	rows, err := r.Pool.Query(ctx, trimmed, args...)
	if err != nil {
		r.done(marker, "query", start, err, -1)
		return nil, err
	}
	return &observedRows{Rows: rows, runner: r, marker: marker, start: start}, nil
}

// done logs and observes a finished statement. rows < 0 means unknown.
func (r *SQLRunner) done(marker, op string, start time.Time, err error, rows int64) {
	d := time.Since(start)
	if r.Observer != nil {
		r.Observer.ObserveSQL(marker, op, d, err)
	}
	var ev *zerolog.Event
	switch {
	case err != nil && !errors.Is(err, pgx.ErrNoRows):
		ev = r.Logger.Error().Err(err)
	case r.SlowQuery > 0 && d > r.SlowQuery:
		ev = r.Logger.Warn()
	default:
		ev = r.Logger.Debug()
	}
	if rows >= 0 {
		ev = ev.Int64("rows", rows)
	}
	ev.Str("marker", marker).Str("op", op).Dur("duration", d).Msg("sql")
}

type observedRow struct {
	row    pgx.Row
	runner *SQLRunner
	marker string
	start  time.Time
}

func (o *observedRow) Scan(dest ...any) error {
	err := o.row.Scan(dest...)
	o.runner.done(o.marker, "query_row", o.start, err, -1)
	return err
}

type observedRows struct {
	pgx.Rows
	runner *SQLRunner
	marker string
	start  time.Time
	closed bool
}

func (o *observedRows) Close() {
	o.Rows.Close()
	if o.closed {
		return
	}
	o.closed = true
	o.runner.done(o.marker, "query", o.start, o.Rows.Err(), o.Rows.CommandTag().RowsAffected())
}

type errorRow struct {
	err error
}

func (e errorRow) Scan(dest ...any) error {
	return e.err
}

// extractMarker splits the marker uuid off query.
func extractMarker(query string) (string, string, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return "", "", errors.New("empty query")
	}
	first, rest, _ := strings.Cut(trimmed, "\n")
	m := markerRegexp.FindStringSubmatch(strings.TrimSpace(first))
	if m == nil {
		return "", "", ErrSQLMarker
	}
	return m[1], strings.TrimSpace(rest), nil
}

var _ SQLExecutor = (*SQLRunner)(nil)
