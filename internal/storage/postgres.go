package storage

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/compsweave/taskrt/internal/datamanager"
)

// PostgresConfig configures the relational PSCO backend alternative
// (spec §6 Storage collaborator, "pluggable backend"), selected instead of
// MinIOBackend when the worker's storage.backend is "postgres".
type PostgresConfig struct {
	DSN       string `yaml:"dsn"`
	TableName string `yaml:"table_name"`
}

// PostgresBackend stores PSCOs as rows of (id, version, payload) in a
// single table, one row per version for newVersion's history.
type PostgresBackend struct {
	cfg  PostgresConfig
	pool *pgxpool.Pool
	log  *zap.Logger
}

var _ datamanager.StorageCollaborator = (*PostgresBackend)(nil)

func NewPostgresBackend(cfg PostgresConfig, log *zap.Logger) *PostgresBackend {
	return &PostgresBackend{cfg: cfg, log: log}
}

func (b *PostgresBackend) table() string {
	if b.cfg.TableName == "" {
		return "pscos"
	}
	return b.cfg.TableName
}

func (b *PostgresBackend) Init(cfgPath string) error {
	if b.cfg.DSN == "" {
		return fmt.Errorf("postgres storage: dsn is required")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, b.cfg.DSN)
	if err != nil {
		return fmt.Errorf("postgres storage: connect: %w", err)
	}
	b.pool = pool

	_, err = pool.Exec(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			psco_id TEXT NOT NULL,
			version INT NOT NULL,
			payload BYTEA NOT NULL,
			PRIMARY KEY (psco_id, version)
		)`, b.table()))
	if err != nil {
		return fmt.Errorf("postgres storage: schema init: %w", err)
	}
	b.log.Info("postgres storage backend ready", zap.String("table", b.table()))
	return nil
}

func (b *PostgresBackend) Finish() error {
	if b.pool != nil {
		b.pool.Close()
	}
	return nil
}

func (b *PostgresBackend) GetByID(pscoID string) ([]byte, error) {
	ctx := context.Background()
	var payload []byte
	err := b.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE psco_id = $1 ORDER BY version DESC LIMIT 1`, b.table()),
		pscoID).Scan(&payload)
	if err != nil {
		return nil, fmt.Errorf("postgres storage: getByID %s: %w", pscoID, err)
	}
	return payload, nil
}

func (b *PostgresBackend) NewReplica(pscoID, host string) error {
	// Postgres replication is a deployment concern (streaming replicas),
	// not something this backend drives per object.
	b.log.Info("newReplica no-op on relational storage backend", zap.String("psco_id", pscoID), zap.String("host", host))
	return nil
}

func (b *PostgresBackend) NewVersion(pscoID string) (string, error) {
	ctx := context.Background()
	var next int
	err := b.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(version), 0) + 1 FROM %s WHERE psco_id = $1`, b.table()),
		pscoID).Scan(&next)
	if err != nil {
		return "", fmt.Errorf("postgres storage: newVersion %s: %w", pscoID, err)
	}

	var payload []byte
	_ = b.pool.QueryRow(ctx, fmt.Sprintf(
		`SELECT payload FROM %s WHERE psco_id = $1 ORDER BY version DESC LIMIT 1`, b.table()),
		pscoID).Scan(&payload)

	_, err = b.pool.Exec(ctx, fmt.Sprintf(
		`INSERT INTO %s (psco_id, version, payload) VALUES ($1, $2, $3)`, b.table()),
		pscoID, next, payload)
	if err != nil {
		return "", fmt.Errorf("postgres storage: insert version: %w", err)
	}
	return fmt.Sprintf("%s@%d", pscoID, next), nil
}
