package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"pan115strm/internal/database"
	"pan115strm/internal/mediaserver"
	"pan115strm/internal/pan115"
	"pan115strm/internal/pathmap"
	"pan115strm/internal/strm"
)

// FullOptions 全量同步初始化选项
type FullOptions struct {
	API    pan115.API
	DB     *database.DB
	Writer *strm.Writer
	Mapper *pathmap.Mapper

	ServerAddress string
	APIToken      string

	// RemoveOrphans 清理网盘中已不存在的 STRM 文件
	RemoveOrphans bool

	// Refresher 同步完成后通知媒体服务器，可为 nil
	Refresher mediaserver.Refresher
}

// FullSyncer 全量同步引擎：遍历网盘目录树，为每个媒体文件生成 STRM
type FullSyncer struct {
	opts *FullOptions
}

// NewFullSyncer 创建全量同步引擎
func NewFullSyncer(opts *FullOptions) *FullSyncer {
	return &FullSyncer{opts: opts}
}

// Run 执行一次全量同步
// 单对路径失败只影响该对 (pair-level isolation)；凭据被拒绝时整体中止
func (s *FullSyncer) Run(ctx context.Context) (Counts, error) {
	var total Counts
	var refreshPaths []string

	for _, rule := range s.opts.Mapper.Rules() {
		counts, generated, err := s.syncPair(ctx, rule)
		total.Add(counts)
		if err != nil {
			if errors.Is(err, pan115.ErrAuth) || ctx.Err() != nil {
				slog.Error("【全量STRM生成】同步中止", "err", err)
				return total, err
			}
			// 其余错误只影响当前路径对
			slog.Error("【全量STRM生成】路径对同步失败",
				"local", rule.LocalRoot, "remote", rule.RemoteRoot, "err", err)
			continue
		}
		refreshPaths = append(refreshPaths, generated...)
	}

	slog.Info("【全量STRM生成】全量生成 STRM 文件完成", "counts", total.String())

	if s.opts.Refresher != nil && len(refreshPaths) > 0 {
		if err := s.opts.Refresher.Refresh(ctx, refreshPaths); err != nil {
			slog.Warn("【全量STRM生成】媒体库刷新失败", "err", err)
		}
	}
	return total, nil
}

// syncPair 同步一对 "本地#网盘" 路径
// 返回该对的统计和本次生成的 STRM 路径列表
func (s *FullSyncer) syncPair(ctx context.Context, rule pathmap.Rule) (Counts, []string, error) {
	var counts Counts
	var generated []string

	parentID, err := s.opts.API.DirID(ctx, rule.RemoteRoot)
	if err != nil {
		return counts, nil, fmt.Errorf("网盘媒体目录 ID 获取失败: %w", err)
	}
	slog.Info("【全量STRM生成】网盘媒体目录 ID 获取成功",
		"remote", rule.RemoteRoot, "id", parentID)

	// 本次确认存在的 STRM 文件集合，清理扫描的比对基准
	seen := make(map[string]bool)

	walkErr := s.opts.API.IterFiles(ctx, parentID, func(f *pan115.File) error {
		mediaPath := filepath.Join(rule.LocalRoot, filepath.FromSlash(f.Path))

		if !s.opts.Writer.Allowed(mediaPath) {
			slog.Warn("【全量STRM生成】跳过网盘路径", "path", f.Path)
			counts.Skipped++
			return nil
		}

		pickcode := f.Pickcode()
		if pickcode == "" {
			slog.Error("【全量STRM生成】不存在 pickcode 值，无法生成 STRM 文件", "name", f.Name)
			counts.Failed++
			return nil
		}
		if !pan115.ValidPickcode(pickcode) {
			slog.Error("【全量STRM生成】错误的 pickcode 值，无法生成 STRM 文件",
				"pickcode", pickcode, "name", f.Name)
			counts.Failed++
			return nil
		}

		url := strm.PickcodeURL(s.opts.ServerAddress, s.opts.APIToken, pickcode)
		target, err := s.opts.Writer.Write(mediaPath, url)
		if err != nil {
			slog.Error("【全量STRM生成】写入失败", "path", mediaPath, "err", err)
			counts.Failed++
			return nil
		}

		counts.Generated++
		generated = append(generated, target)
		seen[target] = true
		if err := s.opts.DB.PutStrm(&database.StrmRecord{
			Path:     target,
			Content:  url,
			Pickcode: pickcode,
		}); err != nil {
			slog.Warn("【全量STRM生成】记录清单失败", "path", target, "err", err)
		}
		slog.Info("【全量STRM生成】生成 STRM 文件成功", "path", target)
		return nil
	})
	if walkErr != nil {
		return counts, nil, fmt.Errorf("遍历网盘目录失败: %w", walkErr)
	}

	// 只有整对完全成功才允许清理，部分失败时保守起见不删
	if s.opts.RemoveOrphans && counts.Failed == 0 {
		counts.Removed = s.sweepOrphans(rule.LocalRoot, seen)
	}
	return counts, generated, nil
}

// sweepOrphans 删除登记过但本次遍历未出现的 STRM 文件
func (s *FullSyncer) sweepOrphans(localRoot string, seen map[string]bool) int {
	records, err := s.opts.DB.ListStrmUnder(localRoot)
	if err != nil {
		slog.Error("【全量STRM生成】读取清单失败，跳过清理", "local", localRoot, "err", err)
		return 0
	}

	removed := 0
	for path := range records {
		if seen[path] {
			continue
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			slog.Error("【全量STRM生成】清理失败", "path", path, "err", err)
			continue
		}
		if err := s.opts.DB.DeleteStrm(path); err != nil {
			slog.Warn("【全量STRM生成】清单移除失败", "path", path, "err", err)
		}
		removed++
		slog.Info("【全量STRM生成】清理失效 STRM 文件", "path", path)
	}
	return removed
}
