package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"pan115strm/internal/database"
	"pan115strm/internal/pan115"
	"pan115strm/internal/pathmap"
	"pan115strm/internal/strm"
)

// ShareOptions 分享同步初始化选项
type ShareOptions struct {
	API    pan115.API
	DB     *database.DB
	Writer *strm.Writer

	ServerAddress string
	APIToken      string

	ShareCode   string
	ReceiveCode string
	// PanPath 分享内要同步的子目录前缀，空则整个分享
	PanPath string
	// LocalPath 本地生成根目录
	LocalPath string

	// ThrottleEvery 每生成 N 个文件暂停一次，0 取默认值 100
	ThrottleEvery int
	// ThrottlePause 暂停时长，0 取默认值 2s
	ThrottlePause time.Duration
}

// ShareSyncer 分享同步引擎：遍历分享目录树生成 STRM
// 分享接口按分钟限流，生成过程中周期性休眠让路
type ShareSyncer struct {
	opts *ShareOptions
}

// NewShareSyncer 创建分享同步引擎
func NewShareSyncer(opts *ShareOptions) *ShareSyncer {
	if opts.ThrottleEvery <= 0 {
		opts.ThrottleEvery = 100
	}
	if opts.ThrottlePause <= 0 {
		opts.ThrottlePause = 2 * time.Second
	}
	return &ShareSyncer{opts: opts}
}

// Run 执行一次分享同步
func (s *ShareSyncer) Run(ctx context.Context) (Counts, error) {
	var counts Counts
	opts := s.opts

	receiveCode := opts.ReceiveCode
	if receiveCode == "" {
		// 无密码分享的接收码也要先取到，后续每个文件写入都依赖它
		fresh, err := opts.API.ShareInfo(ctx, opts.ShareCode)
		if err != nil {
			return counts, fmt.Errorf("获取接收码失败: %w", err)
		}
		receiveCode = fresh
	}

	err := opts.API.ShareIterFiles(ctx, opts.ShareCode, receiveCode, 0, func(f *pan115.ShareFile) error {
		if opts.PanPath != "" && !pathmap.HasPathPrefix(f.Path, opts.PanPath) {
			slog.Debug("【分享STRM生成】此文件不在设置的分享目录下，跳过网盘路径", "path", f.Path)
			counts.Skipped++
			return nil
		}
		rel := pathmap.RelPath(f.Path, opts.PanPath)
		mediaPath := filepath.Join(opts.LocalPath, filepath.FromSlash(rel))

		if !opts.Writer.Allowed(mediaPath) {
			slog.Warn("【分享STRM生成】文件后缀不匹配，跳过网盘路径", "path", f.Path)
			counts.Skipped++
			return nil
		}

		fileID := f.ID.String()
		if fileID == "" || fileID == "0" {
			slog.Error("【分享STRM生成】不存在 id 值，无法生成 STRM 文件", "name", f.Name)
			counts.Failed++
			return nil
		}
		if opts.ShareCode == "" || receiveCode == "" {
			slog.Error("【分享STRM生成】缺少分享凭据，无法生成 STRM 文件",
				"name", f.Name, "share_code", opts.ShareCode)
			counts.Failed++
			return nil
		}

		url := strm.ShareURL(opts.ServerAddress, opts.APIToken, opts.ShareCode, receiveCode, fileID)
		target, err := opts.Writer.Write(mediaPath, url)
		if err != nil {
			slog.Error("【分享STRM生成】写入失败", "path", mediaPath, "err", err)
			counts.Failed++
			return nil
		}

		counts.Generated++
		if err := opts.DB.PutStrm(&database.StrmRecord{Path: target, Content: url}); err != nil {
			slog.Warn("【分享STRM生成】记录清单失败", "path", target, "err", err)
		}
		slog.Info("【分享STRM生成】生成 STRM 文件成功", "path", target)

		if counts.Generated%opts.ThrottleEvery == 0 {
			slog.Info("【分享STRM生成】休眠后继续生成", "pause", opts.ThrottlePause)
			select {
			case <-time.After(opts.ThrottlePause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})
	if err != nil {
		return counts, fmt.Errorf("遍历分享目录失败: %w", err)
	}

	slog.Info("【分享STRM生成】分享生成 STRM 文件完成", "counts", counts.String())
	return counts, nil
}
