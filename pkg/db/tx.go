package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"taskhub/pkg/metrics"
	"taskhub/pkg/otel"
	"taskhub/pkg/util"
)

// ErrRetriesExhausted 事务冲突重试次数用尽
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// DBTX 同时被 *pgxpool.Pool 和 pgx.Tx 实现，仓储层只依赖它
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type txKey struct{}

// Conn 返回 context 中的事务；不在事务中时返回连接池
func Conn(ctx context.Context, pool *pgxpool.Pool) DBTX {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return pool
}

// InTx 判断 context 是否已经携带事务
func InTx(ctx context.Context) bool {
	_, ok := ctx.Value(txKey{}).(pgx.Tx)
	return ok
}

// TxManager 以 SERIALIZABLE 隔离级别执行事务，冲突时整体重试
type TxManager struct {
	pool       *pgxpool.Pool
	logger     *zap.Logger
	maxRetries int
	backoff    time.Duration
}

// NewTxManager 创建事务管理器
func NewTxManager(pool *pgxpool.Pool, logger *zap.Logger, maxRetries int, backoff time.Duration) *TxManager {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}
	return &TxManager{
		pool:       pool,
		logger:     logger,
		maxRetries: maxRetries,
		backoff:    backoff,
	}
}

// WithinTx 在事务中执行 fn；fn 可能被执行多次，不能在外部保留中间状态
// 已处于事务中时直接复用外层事务
func (m *TxManager) WithinTx(ctx context.Context, operation string, fn func(ctx context.Context) error) error {
	if InTx(ctx) {
		return fn(ctx)
	}

	var lastErr error
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt) * m.backoff):
			}
		}

		err := m.runOnce(ctx, operation, fn)
		if err == nil {
			return nil
		}

		retryable, reason := util.IsRetryableError(err)
		if !retryable {
			return err
		}

		lastErr = err
		metrics.IncrementTxRetry(operation, reason)
		m.logger.Warn("Transaction conflict, retrying",
			zap.String("operation", operation),
			zap.Int("attempt", attempt+1),
			zap.String("reason", reason),
			zap.Error(err),
		)
	}

	return fmt.Errorf("%w: %s after %d attempts: %v", ErrRetriesExhausted, operation, m.maxRetries+1, lastErr)
}

func (m *TxManager) runOnce(ctx context.Context, operation string, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	ctx, span := otel.TxSpan(ctx, operation)
	defer func() {
		otel.WrapDBError(span, err)
		span.End()
		outcome := "committed"
		if err != nil {
			outcome = "rolled_back"
		}
		metrics.RecordTxDuration(operation, outcome, time.Since(start))
	}()

	tx, err := m.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				m.logger.Error("Failed to rollback transaction",
					zap.String("operation", operation),
					zap.Error(rbErr),
				)
			}
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
