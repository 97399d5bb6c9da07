// Package postgres records resolve outcomes as audit rows in Postgres.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/shoe-image-service/internal/notify"
	"github.com/JakeFAU/shoe-image-service/internal/retrieval"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

const defaultTable = "shoe_image_resolutions"

// Config controls the Postgres connection pool used for audit rows.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// AuditStore writes one row per finished resolve call.
type AuditStore struct {
	pool  execCloser
	table string
	now   func() time.Time
}

// New creates a Postgres-backed AuditStore using the provided config.
func New(ctx context.Context, cfg Config) (*AuditStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table, err := tableName(cfg.Table)
	if err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &AuditStore{pool: pool, table: table, now: time.Now}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool execCloser, table string) (*AuditStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	name, err := tableName(table)
	if err != nil {
		return nil, err
	}
	return &AuditStore{pool: pool, table: name, now: time.Now}, nil
}

func tableName(table string) (string, error) {
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return "", fmt.Errorf("invalid table name %q", table)
	}
	return table, nil
}

// Close releases the underlying pool resources.
func (s *AuditStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Notify inserts the result as an audit row.
func (s *AuditStore) Notify(ctx context.Context, res retrieval.Result) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("audit store is not configured")
	}
	ev := notify.FromResult(res, s.now())
	keywords, err := json.Marshal(nonNil(ev.Keywords))
	if err != nil {
		return fmt.Errorf("marshal keywords: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	query,
	cache_key,
	outcome,
	success,
	model,
	source,
	artifact_path,
	original_url,
	validation_status,
	brand,
	keywords,
	error,
	attempts,
	duration_ms,
	finished_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)`, s.table)

	args := []any{
		ev.Query,
		ev.Key,
		string(ev.Outcome),
		ev.Success,
		ev.Model,
		ev.Source,
		ev.ArtifactPath,
		ev.OriginalURL,
		string(ev.ValidationStatus),
		ev.Brand,
		keywords,
		ev.Error,
		ev.Attempts,
		ev.DurationMS,
		ev.FinishedAt,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert resolution: %w", err)
	}
	return nil
}

func nonNil(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
