package credentials

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"clipgen/internal/domain"
)

type stubExecutor struct {
	token string
	tag   string
	err   error
	exec  struct {
		query string
		args  []any
	}
}

func (s *stubExecutor) Exec(ctx context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	s.exec.query = query
	s.exec.args = args
	return pgconn.NewCommandTag(s.tag), s.err
}

func (s *stubExecutor) QueryRow(ctx context.Context, query string, args ...any) pgx.Row {
	s.exec.query = query
	s.exec.args = args
	return stubRow{token: s.token, err: s.err}
}

func (s *stubExecutor) Query(ctx context.Context, query string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

type stubRow struct {
	token string
	err   error
}

func (r stubRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) == 0 {
		return errors.New("no dest")
	}
	ptr, ok := dest[0].(*string)
	if !ok {
		return errors.New("invalid dest")
	}
	*ptr = r.token
	return nil
}

func TestToken(t *testing.T) {
	exec := &stubExecutor{token: " abc123 "}
	store := NewStore(exec)
	key, err := store.Token(context.Background(), ProviderBytePlus)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "abc123" {
		t.Fatalf("expected abc123, got %q", key)
	}
	if len(exec.exec.args) != 1 || exec.exec.args[0] != ProviderBytePlus {
		t.Fatalf("expected provider argument, got %v", exec.exec.args)
	}
}

func TestToken_NoRows(t *testing.T) {
	store := NewStore(&stubExecutor{err: pgx.ErrNoRows})
	key, err := store.Token(context.Background(), ProviderRunware)
	if err != nil {
		t.Fatalf("Token error: %v", err)
	}
	if key != "" {
		t.Fatalf("expected empty key, got %q", key)
	}
}

func TestToken_Error(t *testing.T) {
	store := NewStore(&stubExecutor{err: errors.New("connection reset")})
	if _, err := store.Token(context.Background(), ProviderEvolink); err == nil {
		t.Fatal("expected error")
	}
}

func TestSetToken(t *testing.T) {
	exec := &stubExecutor{}
	store := NewStore(exec)
	if err := store.SetToken(context.Background(), " Evolink ", " secret "); err != nil {
		t.Fatalf("SetToken error: %v", err)
	}
	if len(exec.exec.args) != 3 {
		t.Fatalf("expected 3 args, got %d", len(exec.exec.args))
	}
	if v, ok := exec.exec.args[0].(string); !ok || v != ProviderEvolink {
		t.Fatalf("expected evolink provider, got %T %v", exec.exec.args[0], exec.exec.args[0])
	}
	if v, ok := exec.exec.args[1].(string); !ok || v != "secret" {
		t.Fatalf("expected secret argument, got %T %v", exec.exec.args[1], exec.exec.args[1])
	}
	if !strings.Contains(exec.exec.query, "integration_tokens") {
		t.Fatalf("unexpected query %q", exec.exec.query)
	}
}

func TestSetTokenRejects(t *testing.T) {
	store := NewStore(&stubExecutor{})
	if err := store.SetToken(context.Background(), ProviderBytePlus, " "); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for empty key, got %v", err)
	}
	if err := store.SetToken(context.Background(), "gemini", "k"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input for unknown provider, got %v", err)
	}
}

func TestDeleteToken(t *testing.T) {
	exec := &stubExecutor{tag: "DELETE 1"}
	store := NewStore(exec)
	if err := store.DeleteToken(context.Background(), "BytePlus"); err != nil {
		t.Fatalf("DeleteToken error: %v", err)
	}
	if v, _ := exec.exec.args[0].(string); v != ProviderBytePlus {
		t.Fatalf("expected byteplus provider, got %v", exec.exec.args[0])
	}
	if !strings.Contains(exec.exec.query, "delete from integration_tokens") {
		t.Fatalf("unexpected query %q", exec.exec.query)
	}
}

func TestDeleteTokenMissing(t *testing.T) {
	store := NewStore(&stubExecutor{tag: "DELETE 0"})
	if err := store.DeleteToken(context.Background(), ProviderRunware); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := store.DeleteToken(context.Background(), "gemini"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
