// Package cleanup は期限切れトークンの定期削除ジョブを提供する。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ExpiredDeleter はbefore以前に期限切れとなった行を削除するインターフェース。
// repository.RevocationRepository と repository.RefreshTokenRepository が満たす。
type ExpiredDeleter interface {
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// DeletionRecorder は削除件数の記録先。
type DeletionRecorder interface {
	RecordCleanupDeleted(table string, count int64)
}

type nopRecorder struct{}

func (nopRecorder) RecordCleanupDeleted(string, int64) {}

// Target は削除対象のテーブル名と削除処理の組。
type Target struct {
	Table   string
	Deleter ExpiredDeleter
}

// CleanupJob は失効リストとリフレッシュトークンから期限切れの行を削除する。
// 失効リストの行はトークン自体の期限を過ぎれば照合に使われないため、
// 猶予期間(GracePeriod)を置いてから削除する。
type CleanupJob struct {
	targets     []Target
	logger      *slog.Logger
	recorder    DeletionRecorder
	now         func() time.Time
	GracePeriod time.Duration
}

// NewCleanupJob はCleanupJobの新しいインスタンスを生成する。
// recorderがnilの場合は削除件数を記録しない。
func NewCleanupJob(logger *slog.Logger, recorder DeletionRecorder, targets ...Target) *CleanupJob {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &CleanupJob{
		targets:     targets,
		logger:      logger,
		recorder:    recorder,
		now:         time.Now,
		GracePeriod: time.Hour,
	}
}

// Run は全ての対象から期限切れの行を削除する。
// 1つの対象で失敗しても残りの対象は処理し、エラーはまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()
	before := j.now().Add(-j.GracePeriod)

	j.logger.Info("クリーンアップジョブを開始します",
		slog.Time("before", before),
		slog.Int("target_count", len(j.targets)),
	)

	var errs []error
	var total int64
	for _, t := range j.targets {
		deleted, err := t.Deleter.DeleteExpired(ctx, before)
		if err != nil {
			j.logger.Error("期限切れ行の削除に失敗しました",
				slog.String("table", t.Table),
				slog.String("error", err.Error()),
			)
			errs = append(errs, fmt.Errorf("cleanup %s: %w", t.Table, err))
			continue
		}

		j.recorder.RecordCleanupDeleted(t.Table, deleted)
		total += deleted
		j.logger.Info("期限切れ行を削除しました",
			slog.String("table", t.Table),
			slog.Int64("deleted_count", deleted),
		)
	}

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("deleted_count", total),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(errs...)
}

// Start はinterval間隔でRunを繰り返す。起動直後に1回実行し、
// コンテキストがキャンセルされるまで継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップスケジューラを開始しました",
		slog.Duration("interval", interval),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップスケジューラを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップサイクルの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}
