// Package credentials keeps rendering engine API keys in Postgres so replicas
// can share them without per-host environment files.
package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"renderstudio/internal/infra"
	"renderstudio/internal/sqlinline"
)

type Store struct {
	sql infra.SQLExecutor
}

func NewStore(sql infra.SQLExecutor) *Store {
	return &Store{sql: sql}
}

// EnsureSchema creates the credentials table when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.sql.Exec(ctx, sqlinline.QCredentialsEnsureSchema); err != nil {
		return fmt.Errorf("credentials: ensure schema: %w", err)
	}
	return nil
}

// EngineAPIKey returns the stored key of engine, or "" when none is stored.
func (s *Store) EngineAPIKey(ctx context.Context, engine string) (string, error) {
	engine = normalizeEngine(engine)
	if engine == "" {
		return "", errors.New("engine name is required")
	}
	row := s.sql.QueryRow(ctx, sqlinline.QSelectEngineToken, engine)
	var token string
	if err := row.Scan(&token); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(token), nil
}

// SetEngineAPIKey stores key for engine, replacing any previous one.
func (s *Store) SetEngineAPIKey(ctx context.Context, engine, key string, props map[string]any) error {
	engine = normalizeEngine(engine)
	key = strings.TrimSpace(key)
	if engine == "" {
		return errors.New("engine name is required")
	}
	if key == "" {
		return errors.New("engine api key is required")
	}
	if props == nil {
		props = map[string]any{}
	}
	raw, err := json.Marshal(props)
	if err != nil {
		return err
	}
	_, err = s.sql.Exec(ctx, sqlinline.QUpsertEngineToken, engine, key, raw)
	return err
}

func normalizeEngine(engine string) string {
	return strings.ToLower(strings.TrimSpace(engine))
}
