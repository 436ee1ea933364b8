package db

import (
	"context"
	"fmt"

	"flowtrack/internal/repo"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Pool is the PostgreSQL implementation of repo.Store
type Pool struct {
	*pgxpool.Pool
	*Queries
	log *zap.Logger
}

func NewPool(ctx context.Context, databaseURL string, logger *zap.Logger) (*Pool, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pool{
		Pool:    pool,
		Queries: NewQueries(pool),
		log:     logger,
	}, nil
}

func (p *Pool) Close() {
	p.Pool.Close()
}

// WithinTx runs fn in a read-committed transaction. The transaction is rolled
// back when fn fails or ctx is cancelled before commit.
func (p *Pool) WithinTx(ctx context.Context, fn func(tx repo.Tx) error) error {
	pgxTx, err := p.Pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if rbErr := pgxTx.Rollback(context.Background()); rbErr != nil && rbErr != pgx.ErrTxClosed {
			p.log.Warn("Rollback failed", zap.Error(rbErr))
		}
	}()

	if err := fn(&Tx{Queries: NewQueries(pgxTx)}); err != nil {
		return err
	}
	if err := pgxTx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// Tx binds the queries to one transaction and adds the lock hooks
type Tx struct {
	*Queries
}

func (t *Tx) LockFlowSnapshots(ctx context.Context, originalFlowID string) error {
	return t.advisoryLock(ctx, "snapshot:"+originalFlowID)
}

func (t *Tx) LockAssignmentPair(ctx context.Context, userID, flowID string) error {
	return t.advisoryLock(ctx, "assignment:"+userID+":"+flowID)
}

func (t *Tx) LockSiblings(ctx context.Context, parentID string) error {
	return t.advisoryLock(ctx, "siblings:"+parentID)
}

// LockFlowProgress takes a row lock so aggregation reads a stable set of child rows.
func (t *Tx) LockFlowProgress(ctx context.Context, flowProgressID string) error {
	var id string
	err := t.db.QueryRow(ctx,
		"SELECT id FROM flow_progress WHERE id = $1 FOR UPDATE",
		flowProgressID,
	).Scan(&id)
	return mapError(err, "lock flow progress %s", flowProgressID)
}

func (t *Tx) LockFlow(ctx context.Context, flowID string) error {
	var id string
	err := t.db.QueryRow(ctx,
		"SELECT id FROM flows WHERE id = $1 FOR UPDATE",
		flowID,
	).Scan(&id)
	return mapError(err, "lock flow %s", flowID)
}

func (t *Tx) LockAssignment(ctx context.Context, assignmentID string) error {
	var id string
	err := t.db.QueryRow(ctx,
		"SELECT id FROM assignments WHERE id = $1 FOR UPDATE",
		assignmentID,
	).Scan(&id)
	return mapError(err, "lock assignment %s", assignmentID)
}

func (t *Tx) advisoryLock(ctx context.Context, key string) error {
	_, err := t.db.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtextextended($1, 0))", key)
	if err != nil {
		return fmt.Errorf("failed to acquire lock %s: %w", key, err)
	}
	return nil
}

var (
	_ repo.Store = (*Pool)(nil)
	_ repo.Tx    = (*Tx)(nil)
)
