package infra

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestApplyPoolLimits(t *testing.T) {
	poolCfg, err := pgxpool.ParseConfig("postgres://u:p@localhost:5432/clipgen")
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	applyPoolLimits(poolCfg, &Config{DBMaxConns: 4})
	if poolCfg.MaxConns != 4 {
		t.Fatalf("MaxConns = %d, want 4", poolCfg.MaxConns)
	}
	applyPoolLimits(poolCfg, &Config{})
	if poolCfg.MaxConns != 10 {
		t.Fatalf("MaxConns = %d, want default 10", poolCfg.MaxConns)
	}
}

func TestNewDBPoolRequiresURL(t *testing.T) {
	if _, err := NewDBPool(context.Background(), &Config{}); err == nil {
		t.Fatal("expected error without DATABASE_URL")
	}
}

func TestIsNoRows(t *testing.T) {
	if !IsNoRows(fmt.Errorf("scan: %w", pgx.ErrNoRows)) {
		t.Fatal("wrapped ErrNoRows not detected")
	}
	if IsNoRows(fmt.Errorf("boom")) {
		t.Fatal("unrelated error reported as no rows")
	}
}
