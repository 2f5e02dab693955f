package repo

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clipgen/internal/domain"
)

type stubExecutor struct {
	rows    [][]any
	err     error
	queries []string
	args    [][]any
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	return pgconn.NewCommandTag("INSERT 0 1"), s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	return nil
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	s.queries = append(s.queries, query)
	s.args = append(s.args, args)
	if s.err != nil {
		return nil, s.err
	}
	return &stubRows{rows: s.rows, idx: -1}, nil
}

type stubRows struct {
	rows [][]any
	idx  int
}

func (r *stubRows) Close()                                       {}
func (r *stubRows) Err() error                                   { return nil }
func (r *stubRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *stubRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *stubRows) Values() ([]any, error)                       { return r.rows[r.idx], nil }
func (r *stubRows) RawValues() [][]byte                          { return nil }
func (r *stubRows) Conn() *pgx.Conn                              { return nil }

func (r *stubRows) Next() bool {
	r.idx++
	return r.idx < len(r.rows)
}

func (r *stubRows) Scan(dest ...any) error {
	row := r.rows[r.idx]
	if len(dest) != len(row) {
		return errors.New("column count mismatch")
	}
	for i := range dest {
		reflect.ValueOf(dest[i]).Elem().Set(reflect.ValueOf(row[i]))
	}
	return nil
}

func fixedRepo(exec *stubExecutor) *GenerationRepository {
	r := NewGenerationRepository(exec)
	r.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestRecordFillsDefaults(t *testing.T) {
	exec := &stubExecutor{}
	r := fixedRepo(exec)
	err := r.Record(context.Background(), domain.GenerationRecord{
		JobID:      "job-1",
		Engine:     "local",
		Status:     domain.RecordSucceeded,
		FrameCount: 121,
		CostUSD:    0.0123,
	})
	if err != nil {
		t.Fatalf("Record error: %v", err)
	}
	if len(exec.args) != 1 || len(exec.args[0]) != 16 {
		t.Fatalf("expected one insert with 16 args, got %v", exec.args)
	}
	args := exec.args[0]
	if id, _ := args[0].(string); len(id) != 36 {
		t.Fatalf("expected generated uuid, got %v", args[0])
	}
	if ts, _ := args[15].(time.Time); !ts.Equal(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected clock timestamp, got %v", args[15])
	}
	if !strings.Contains(exec.queries[0], "insert into generations") {
		t.Fatalf("unexpected query %q", exec.queries[0])
	}
}

func TestRecordWrapsError(t *testing.T) {
	exec := &stubExecutor{err: errors.New("relation does not exist")}
	err := fixedRepo(exec).Record(context.Background(), domain.GenerationRecord{Engine: "local"})
	if err == nil || !strings.Contains(err.Error(), "insert generation") {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

func TestSummaryTotals(t *testing.T) {
	exec := &stubExecutor{rows: [][]any{
		{"byteplus", int64(3), int64(2), int64(1), 0.2, 4800.0},
		{"local", int64(5), int64(5), int64(0), 0.5, 90000.0},
	}}
	s, err := fixedRepo(exec).Summary(context.Background(), 24*time.Hour)
	if err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if s.Total != 8 {
		t.Fatalf("expected 8 total, got %d", s.Total)
	}
	if s.CostUSD < 0.699 || s.CostUSD > 0.701 {
		t.Fatalf("expected cost 0.7, got %v", s.CostUSD)
	}
	if len(s.Engines) != 2 || s.Engines[1].Engine != "local" {
		t.Fatalf("unexpected engines %#v", s.Engines)
	}
	if since, _ := exec.args[0][0].(time.Time); !since.Equal(time.Date(2026, 2, 28, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected window start, got %v", exec.args[0][0])
	}
}

func TestSummaryEmpty(t *testing.T) {
	s, err := fixedRepo(&stubExecutor{}).Summary(context.Background(), time.Hour)
	if err != nil {
		t.Fatalf("Summary error: %v", err)
	}
	if s.Engines == nil || len(s.Engines) != 0 {
		t.Fatalf("expected empty engine list, got %#v", s.Engines)
	}
}

func TestRecentClampsLimit(t *testing.T) {
	created := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	exec := &stubExecutor{rows: [][]any{
		{"id-1", "job-1", "local", "balanced", "failed", "timeout", int64(7), "skipped", "", 0.0, "silent", 0, 24, int64(0), 0.0, created},
	}}
	recs, err := fixedRepo(exec).Recent(context.Background(), 10000)
	if err != nil {
		t.Fatalf("Recent error: %v", err)
	}
	if exec.args[0][0] != 50 {
		t.Fatalf("expected clamped limit 50, got %v", exec.args[0][0])
	}
	if len(recs) != 1 || recs[0].ErrorCode != "timeout" || !recs[0].CreatedAt.Equal(created) {
		t.Fatalf("unexpected records %#v", recs)
	}
}
