// Package credentials keeps operator-managed vendor API keys in Postgres so
// they can be rotated without a redeploy.
package credentials

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"clipgen/internal/domain"
	"clipgen/internal/infra"
	"clipgen/internal/sqlinline"
)

const (
	ProviderBytePlus = "byteplus"
	ProviderRunware  = "runware"
	ProviderEvolink  = "evolink"
)

// Providers lists every provider a key may be stored for.
var Providers = []string{ProviderBytePlus, ProviderRunware, ProviderEvolink}

func knownProvider(p string) bool {
	for _, v := range Providers {
		if v == p {
			return true
		}
	}
	return false
}

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// Token returns the stored key for provider, or "" when none is stored.
func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectIntegrationToken, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetToken stores or rotates the key for provider.
func (s *Store) SetToken(ctx context.Context, provider, token string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !knownProvider(provider) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, provider)
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return fmt.Errorf("%w: %s api key is required", domain.ErrInvalidInput, provider)
	}
	return s.upsert(ctx, provider, token, map[string]any{"source": "admin"})
}

// DeleteToken removes the stored key for provider. Vendors then fall back to
// their environment key. ErrNotFound means nothing was stored.
func (s *Store) DeleteToken(ctx context.Context, provider string) error {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !knownProvider(provider) {
		return fmt.Errorf("%w: unknown provider %q", domain.ErrInvalidInput, provider)
	}
	tag, err := s.sql.Exec(ctx, sqlinline.QDeleteIntegrationToken, provider)
	if err != nil {
		return fmt.Errorf("credentials: delete %s: %w", provider, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: no stored key for %s", domain.ErrNotFound, provider)
	}
	return nil
}

func (s *Store) upsert(ctx context.Context, provider, token string, props map[string]any) error {
	payload := props
	if payload == nil {
		payload = map[string]any{}
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := s.sql.Exec(ctx, sqlinline.QUpsertIntegrationToken, provider, token, raw); err != nil {
		return fmt.Errorf("credentials: store %s: %w", provider, err)
	}
	return nil
}
