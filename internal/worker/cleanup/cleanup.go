// Package cleanup は期限切れデータの定期削除ジョブを提供する。
// 期限切れのセッションと、有効期間を過ぎたパスワードリセットコードを削除する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/lifetracker/internal/metrics"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ResetCodeClearer は古いパスワードリセットコードを消去する。
type ResetCodeClearer interface {
	ClearStaleResetCodes(ctx context.Context, before time.Time) (int64, error)
}

// CleanupJob は期限切れデータの削除ジョブ。
// 冪等であり、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	sessions   SessionPurger
	resetCodes ResetCodeClearer
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
	now        func() time.Time

	// ResetCodeTTL はリセットコードの有効期間。0以下ならリセットコードは削除しない。
	ResetCodeTTL time.Duration
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(
	sessions SessionPurger,
	resetCodes ResetCodeClearer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	resetCodeTTL time.Duration,
) *CleanupJob {
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:     sessions,
		resetCodes:   resetCodes,
		metrics:      collector,
		logger:       logger,
		now:          time.Now,
		ResetCodeTTL: resetCodeTTL,
	}
}

// Run は期限切れセッションと古いリセットコードを1回削除する。
// 片方が失敗しても残りは実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	now := j.now().UTC()

	var errs []error

	sessions, err := j.sessions.DeleteExpired(ctx, now)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("期限切れセッションの削除に失敗: %w", err))
	} else {
		j.metrics.RecordCleanup("sessions", sessions)
	}

	var codes int64
	if j.ResetCodeTTL > 0 {
		codes, err = j.resetCodes.ClearStaleResetCodes(ctx, now.Add(-j.ResetCodeTTL))
		if err != nil {
			j.logger.Error("リセットコードの削除に失敗しました",
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("リセットコードの削除に失敗: %w", err))
		} else {
			j.metrics.RecordCleanup("reset_codes", codes)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_sessions", sessions),
		slog.Int64("cleared_reset_codes", codes),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// Start はinterval間隔でRunを繰り返す。
// 起動直後に1回実行し、コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
	)

	// 失敗はRun内でログ出力済み
	_ = j.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
