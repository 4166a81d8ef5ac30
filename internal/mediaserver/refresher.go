// Package mediaserver 定义媒体服务器刷新能力接口
// 具体的媒体服务器对接由宿主方实现，这里只约定能力形状：
// 按路径刷新或整库刷新，在装配阶段一次性选定，不做逐次探测
package mediaserver

import (
	"context"
	"log/slog"
)

// Refresher 同步完成后刷新媒体库
type Refresher interface {
	// Refresh 通知媒体服务器刷新，paths 为本次生成的 STRM 路径
	Refresh(ctx context.Context, paths []string) error
}

// Noop 不做任何刷新，未接入媒体服务器时的默认实现
type Noop struct{}

func (Noop) Refresh(context.Context, []string) error { return nil }

// LogOnly 只记录刷新意图，便于调试对接
type LogOnly struct {
	// Whole 为 true 表示目标服务器只支持整库刷新
	Whole bool
}

func (l LogOnly) Refresh(_ context.Context, paths []string) error {
	if l.Whole {
		slog.Info("【媒体库刷新】整库刷新", "触发文件数", len(paths))
		return nil
	}
	slog.Info("【媒体库刷新】按路径刷新", "paths", len(paths))
	return nil
}
