// Package credentials stores third-party API keys in the integration_tokens
// table so they can be rotated without redeploying.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"caricature/internal/infra"
	"caricature/internal/sqlinline"
)

const ProviderRenderer = "segmind"

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// RendererAPIKey returns the stored renderer key, or "" when none is stored.
func (s *Store) RendererAPIKey(ctx context.Context) (string, error) {
	return s.Token(ctx, ProviderRenderer)
}

// ResolveRendererAPIKey prefers a key from the environment and falls back to
// the stored one.
func (s *Store) ResolveRendererAPIKey(ctx context.Context, fromEnv string) (string, error) {
	if key := strings.TrimSpace(fromEnv); key != "" {
		return key, nil
	}
	return s.RendererAPIKey(ctx)
}

func (s *Store) Token(ctx context.Context, provider string) (string, error) {
	row := s.sql.QueryRow(ctx, sqlinline.QSelectCredential, provider)
	var token string
	if err := row.Scan(&token); err != nil {
		if infra.IsNoRows(err) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetRendererAPIKey stores the renderer key together with the workflow it was
// issued for.
func (s *Store) SetRendererAPIKey(ctx context.Context, key, workflowURL string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("renderer api key is required")
	}
	var props map[string]any
	if u := strings.TrimSpace(workflowURL); u != "" {
		props = map[string]any{"workflow_url": u}
	}
	return s.upsert(ctx, ProviderRenderer, key, props)
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
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertCredential, provider, token, raw)
	return err
}
