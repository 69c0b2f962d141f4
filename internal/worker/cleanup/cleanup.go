// Package cleanup は定期的なハウスキーピングジョブを提供する。
// 期限切れセッションの削除と、どの投稿からも参照されない画像ファイルの削除を行う。
package cleanup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/blogman/internal/metrics"
)

// DefaultOrphanGrace はアップロード後に参照されるまで待つ期間の既定値。
const DefaultOrphanGrace = 24 * time.Hour

// メトリクスのkindラベル
const (
	KindSessions = "sessions"
	KindAssets   = "assets"
)

// SessionPurger は期限切れセッションを削除する。
type SessionPurger interface {
	PurgeExpiredSessions(ctx context.Context) (int64, error)
}

// ImageReferences は投稿から参照中のアイキャッチ画像URLを返す。
type ImageReferences interface {
	ListFeaturedImages(ctx context.Context) ([]string, error)
}

// AssetSweeper は保存済みの画像ファイルを列挙・削除する。
type AssetSweeper interface {
	ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	URLToPath(url string) (string, bool)
	Delete(ctx context.Context, path string) error
}

// CleanupJob は定期実行のハウスキーピングジョブ。
// 各処理は冪等で、削除対象がなくてもエラーにならない。
type CleanupJob struct {
	sessions SessionPurger
	refs     ImageReferences
	assets   AssetSweeper
	logger   *slog.Logger
	metrics  metrics.MetricsCollector

	// OrphanGrace より新しい画像は参照がなくても削除しない。
	// アップロードから投稿保存までの間に消さないため。
	OrphanGrace time.Duration

	now func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。
// assetsがnilの場合は画像の削除を行わない。recorderはnilでもよい。
func NewCleanupJob(
	sessions SessionPurger,
	refs ImageReferences,
	assets AssetSweeper,
	logger *slog.Logger,
	recorder metrics.MetricsCollector,
) *CleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &CleanupJob{
		sessions:    sessions,
		refs:        refs,
		assets:      assets,
		logger:      logger,
		metrics:     metrics.OrNop(recorder),
		OrphanGrace: DefaultOrphanGrace,
		now:         time.Now,
	}
}

// Start はintervalごとにRunを実行する。起動直後にも1回実行する。
// コンテキストがキャンセルされるまで実行を継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("クリーンアップジョブを開始しました",
		slog.Duration("interval", interval),
		slog.Duration("orphan_grace", j.OrphanGrace),
	)

	j.runLogged(ctx)

	for {
		select {
		case <-ctx.Done():
			j.logger.Info("クリーンアップジョブを停止しました")
			return
		case <-ticker.C:
			j.runLogged(ctx)
		}
	}
}

func (j *CleanupJob) runLogged(ctx context.Context) {
	if err := j.Run(ctx); err != nil {
		j.logger.Error("クリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}
}

// Run はセッションの削除と画像の削除を順に実行する。
// 片方が失敗してももう片方は実行し、両方のエラーをまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	sessions, sessErr := j.PurgeSessions(ctx)
	assets, assetErr := j.SweepOrphanedAssets(ctx)

	j.logger.Info("クリーンアップジョブが完了しました",
		slog.Int64("sessions_deleted", sessions),
		slog.Int64("assets_deleted", assets),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return errors.Join(sessErr, assetErr)
}

// PurgeSessions は期限切れセッションを削除し、削除件数を返す。
func (j *CleanupJob) PurgeSessions(ctx context.Context) (int64, error) {
	if j.sessions == nil {
		return 0, nil
	}
	n, err := j.sessions.PurgeExpiredSessions(ctx)
	if err != nil {
		j.logger.Error("期限切れセッションの削除に失敗しました",
			slog.String("error", err.Error()),
		)
		return 0, fmt.Errorf("期限切れセッションの削除に失敗: %w", err)
	}
	j.metrics.RecordCleanup(KindSessions, n)
	return n, nil
}

// SweepOrphanedAssets はOrphanGraceより古く、どの投稿からも参照されていない画像を削除する。
// 個々のファイル削除の失敗は記録して続行する。
func (j *CleanupJob) SweepOrphanedAssets(ctx context.Context) (int64, error) {
	if j.assets == nil || j.refs == nil {
		return 0, nil
	}

	// 候補の列挙は参照の取得より先に行う
	candidates, err := j.assets.ListOlderThan(ctx, j.now().Add(-j.OrphanGrace))
	if err != nil {
		return 0, fmt.Errorf("画像ファイルの列挙に失敗: %w", err)
	}
	if len(candidates) == 0 {
		return 0, nil
	}

	urls, err := j.refs.ListFeaturedImages(ctx)
	if err != nil {
		return 0, fmt.Errorf("参照中の画像の取得に失敗: %w", err)
	}
	referenced := make(map[string]bool, len(urls))
	for _, url := range urls {
		if path, ok := j.assets.URLToPath(url); ok {
			referenced[path] = true
		}
	}

	var removed int64
	for _, path := range candidates {
		if referenced[path] {
			continue
		}
		if err := ctx.Err(); err != nil {
			j.metrics.RecordCleanup(KindAssets, removed)
			return removed, err
		}
		if err := j.assets.Delete(ctx, path); err != nil {
			j.metrics.RecordAssetDeleteFailure()
			j.logger.Warn("未参照の画像ファイルの削除に失敗しました",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	j.metrics.RecordCleanup(KindAssets, removed)
	return removed, nil
}
