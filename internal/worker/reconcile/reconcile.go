// Package reconcile は書籍の評価集計値を定期的に修復するジョブを提供する。
// 集計値は評価の書き込みと同一トランザクションで更新されるが、
// 手動のSQL操作などで評価テーブルと食い違った場合にここで修復する。
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Reconciler は食い違った集計値を修復し、修復件数を返すインターフェース。
type Reconciler interface {
	ReconcileAggregates(ctx context.Context) (int64, error)
}

// Job は集計値の修復ジョブ。
// 修復は書籍ごとに行ロックを取って再計算するため、何度実行しても結果は同じになる。
type Job struct {
	reconciler Reconciler
	logger     *slog.Logger
}

// NewJob は新しいJobを生成する。
func NewJob(reconciler Reconciler, logger *slog.Logger) *Job {
	return &Job{
		reconciler: reconciler,
		logger:     logger,
	}
}

// Run は修復を1回実行する。
func (j *Job) Run(ctx context.Context) error {
	start := time.Now()

	repaired, err := j.reconciler.ReconcileAggregates(ctx)
	if err != nil {
		j.logger.Error("集計値の修復ジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("集計値の修復に失敗: %w", err)
	}

	level := slog.LevelInfo
	if repaired > 0 {
		level = slog.LevelWarn
	}
	j.logger.Log(ctx, level, "集計値の修復ジョブが完了しました",
		slog.Int64("repaired_count", repaired),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start は起動直後に1回、その後はinterval間隔で修復を実行する。
// コンテキストがキャンセルされるまで実行を継続する。失敗しても次の周期で再試行する。
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("集計値の修復ジョブを開始しました", slog.Duration("interval", interval))

	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("集計値の修復ジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
