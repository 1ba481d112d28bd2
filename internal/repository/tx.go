package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgreSQLのSQLSTATEコード
const (
	pqUniqueViolation      pq.ErrorCode = "23505"
	pqForeignKeyViolation  pq.ErrorCode = "23503"
	pqSerializationFailure pq.ErrorCode = "40001"
	pqDeadlockDetected     pq.ErrorCode = "40P01"
)

const (
	// maxTxAttempts はトランザクションの最大試行回数。
	maxTxAttempts = 5
	// initialTxBackoff は再試行の初回待機時間。
	initialTxBackoff = 10 * time.Millisecond
	// maxTxBackoff は再試行の最大待機時間。
	maxTxBackoff = 200 * time.Millisecond
)

// pqErrorCode はエラーチェーンからPostgreSQLのエラーコードを取り出す。
func pqErrorCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}

// IsRetryable はシリアライゼーション失敗またはデッドロック検出のような
// 再実行で解消しうる一時的なエラーかどうかを判定する。
func IsRetryable(err error) bool {
	switch pqErrorCode(err) {
	case pqSerializationFailure, pqDeadlockDetected:
		return true
	default:
		return false
	}
}

// CalculateBackoff は試行回数に基づいて指数バックオフの待機時間を計算する。
// 初回10ms、2倍ずつ増加、最大200ms。
func CalculateBackoff(attempt int) time.Duration {
	delay := initialTxBackoff
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay > maxTxBackoff {
			return maxTxBackoff
		}
	}
	return delay
}

// retryTransient はopが一時的なエラーで失敗した場合に指数バックオフで再実行する。
func retryTransient(ctx context.Context, op func() error) error {
	var err error
	for attempt := 0; attempt < maxTxAttempts; attempt++ {
		if attempt > 0 {
			delay := CalculateBackoff(attempt - 1)
			slog.Warn("retrying transaction",
				slog.Int("attempt", attempt+1),
				slog.Duration("delay", delay),
				slog.String("error", err.Error()),
			)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		err = op()
		if err == nil || !IsRetryable(err) {
			return err
		}
	}
	return fmt.Errorf("transaction failed after %d attempts: %w", maxTxAttempts, err)
}

// runInTx はfnをトランザクション内で実行し、一時的なエラーの場合はトランザクション全体を再実行する。
// fnは再実行されても結果が変わらないように書くこと。
func runInTx(ctx context.Context, db TxBeginner, fn func(tx *sql.Tx) error) error {
	return retryTransient(ctx, func() error {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("failed to begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit transaction: %w", err)
		}
		return nil
	})
}
