package msgbox

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRepository stores Message streams in a single PostgreSQL table
// keyed by aggregate id and version
type PostgresRepository struct {
	pool       *pgxpool.Pool
	serializer *Serializer
	table      string
}

const pgUniqueViolation = "23505"

// ErrMissingDSN indicates a PostgresConfig without a connection string
var ErrMissingDSN = errors.New("postgres DSN is required")

// NewPostgresRepository opens a connection pool and verifies it. Call Migrate
// to create the table if it doesn't exist yet
func NewPostgresRepository(
	ctx context.Context, cfg PostgresConfig, s *Serializer,
) (*PostgresRepository, error) {
	if cfg.DSN == "" {
		return nil, ErrMissingDSN
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	table := cfg.Table
	if table == "" {
		table = DefaultPostgresTable
	}
	return &PostgresRepository{
		pool:       pool,
		serializer: s,
		table:      pgx.Identifier{table}.Sanitize(),
	}, nil
}

func (r *PostgresRepository) Close() {
	r.pool.Close()
}

// Migrate creates the message table if it doesn't exist
func (r *PostgresRepository) Migrate(ctx context.Context) error {
	_, err := r.pool.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			aggregate_id TEXT NOT NULL,
			version      BIGINT NOT NULL,
			event_id     TEXT NOT NULL DEFAULT '',
			event_type   TEXT NOT NULL,
			message      JSONB NOT NULL,
			PRIMARY KEY (aggregate_id, version)
		)`, r.table,
	))
	return err
}

// Persist appends the Messages to their streams in one transaction. Writers
// of the same aggregate are serialized with an advisory lock
func (r *PostgresRepository) Persist(
	ctx context.Context, msgs ...*Message,
) error {
	batches, err := groupByAggregate(msgs)
	if err != nil {
		return err
	}
	if len(batches) == 0 {
		return nil
	}

	// Lock aggregates in a stable order so that overlapping writers can't
	// deadlock on each other's advisory locks
	slices.SortFunc(batches, func(a, b *aggregateBatch) int {
		return strings.Compare(a.id.String(), b.id.String())
	})

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	for _, b := range batches {
		if err := r.appendBatch(ctx, tx, b); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *PostgresRepository) appendBatch(
	ctx context.Context, tx pgx.Tx, b *aggregateBatch,
) error {
	id := b.id.String()
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`, id,
	); err != nil {
		return err
	}

	var current int64
	err := tx.QueryRow(ctx, fmt.Sprintf(
		`SELECT COALESCE(MAX(version), 0) FROM %s WHERE aggregate_id = $1`,
		r.table,
	), id).Scan(&current)
	if err != nil {
		return err
	}
	if err := b.checkContinues(current); err != nil {
		return err
	}

	insert := fmt.Sprintf(`
		INSERT INTO %s (aggregate_id, version, event_id, event_type, message)
		VALUES ($1, $2, $3, $4, $5)`, r.table,
	)
	for i, msg := range b.msgs {
		data, err := r.serializer.Serialize(msg)
		if err != nil {
			return err
		}
		version := b.first + int64(i)
		_, err = tx.Exec(ctx, insert,
			id, version, msg.EventID(), string(msg.EventType()), string(data),
		)
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return &VersionConflictError{
				AggregateID:     b.id,
				ExpectedVersion: current + 1,
				ActualVersion:   b.first,
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresRepository) RetrieveAll(
	ctx context.Context, id AggregateID,
) ([]*Message, error) {
	return r.RetrieveAllAfterVersion(ctx, id, 0)
}

func (r *PostgresRepository) RetrieveAllAfterVersion(
	ctx context.Context, id AggregateID, version int64,
) ([]*Message, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`
		SELECT message FROM %s
		WHERE aggregate_id = $1 AND version > $2
		ORDER BY version`, r.table,
	), id.String(), version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		msg, err := r.serializer.Unserialize(data)
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
