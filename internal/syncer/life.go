package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"pan115strm/internal/cache"
	"pan115strm/internal/database"
	"pan115strm/internal/pan115"
	"pan115strm/internal/pathmap"
	"pan115strm/internal/strm"
)

const (
	// idPathCacheSize 目录 ID → 路径缓存容量
	idPathCacheSize = 512
	// idPathCacheTTL 缓存存活时间
	// 目录 ID 一经分配不会变更，过期只是触发一次重新查询，不会返回错数据
	idPathCacheTTL = 10 * time.Minute
)

// LifeOptions 生活事件监控初始化选项
type LifeOptions struct {
	API    pan115.API
	DB     *database.DB
	Writer *strm.Writer
	Mapper *pathmap.Mapper

	ServerAddress string
	APIToken      string

	// Cooldown 事件轮询间隔
	Cooldown time.Duration
}

// LifeMonitor 生活事件监控：消费上传/移动/接收事件，低延迟生成 STRM
// 事件流至少一次送达，写入幂等，重复消费无副作用
type LifeMonitor struct {
	opts    *LifeOptions
	idPaths *cache.Cache[string]
}

// NewLifeMonitor 创建生活事件监控
func NewLifeMonitor(opts *LifeOptions) *LifeMonitor {
	if opts.Cooldown <= 0 {
		opts.Cooldown = 10 * time.Second
	}
	return &LifeMonitor{
		opts:    opts,
		idPaths: cache.New[string](idPathCacheSize, idPathCacheTTL),
	}
}

// Run 监控主循环
// 停止信号 (ctx 取消) 在每轮迭代边界检查，干净退出返回 nil
// 不可恢复错误记录后返回，重启交给外层 Supervise，循环自身不重启
func (m *LifeMonitor) Run(ctx context.Context) error {
	slog.Info("【监控生活事件】上传事件监控启动中...")

	cursor, err := m.opts.DB.LifeCursor()
	if err != nil {
		return fmt.Errorf("读取事件游标失败: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("【监控生活事件】收到停止信号，退出上传事件监控")
			return nil
		default:
		}

		events, err := m.opts.API.LifeEvents(ctx, cursor)
		if err != nil {
			if ctx.Err() != nil {
				slog.Info("【监控生活事件】收到停止信号，退出上传事件监控")
				return nil
			}
			slog.Error("【监控生活事件】上传事件监控运行失败", "err", err)
			return err
		}

		for i := range events {
			event := &events[i]
			if event.Actionable() {
				// 单条事件失败只记录，不中断监控
				m.handleEvent(ctx, event)
			}
			if event.Seq > cursor {
				cursor = event.Seq
			}
		}
		if len(events) > 0 {
			if err := m.opts.DB.SaveLifeCursor(cursor); err != nil {
				slog.Warn("【监控生活事件】保存事件游标失败", "err", err)
			}
		}

		select {
		case <-time.After(m.opts.Cooldown):
		case <-ctx.Done():
			slog.Info("【监控生活事件】收到停止信号，退出上传事件监控")
			return nil
		}
	}
}

// handleEvent 处理单条事件：反查路径 → 路径映射 → 生成 STRM
func (m *LifeMonitor) handleEvent(ctx context.Context, event *pan115.LifeEvent) {
	parentID := event.ParentID.String()

	// 目录路径查询走缓存，未命中才请求网盘
	dirPath, err := m.idPaths.GetOrCompute(parentID, func() (string, error) {
		cid, err := event.ParentID.Int64()
		if err != nil {
			return "", fmt.Errorf("非法的 parent_id: %s", parentID)
		}
		return m.opts.API.DirPath(ctx, cid)
	})
	if err != nil {
		slog.Error("【监控生活事件】目录路径获取失败",
			"parent_id", parentID, "name", event.FileName, "err", err)
		return
	}

	remotePath := dirPath + "/" + event.FileName
	rule, ok := m.opts.Mapper.Resolve(remotePath)
	if !ok {
		return
	}
	slog.Debug("【监控生活事件】匹配到网盘文件夹路径", "remote", rule.RemoteRoot)

	rel := pathmap.RelPath(remotePath, rule.RemoteRoot)
	mediaPath := filepath.Join(rule.LocalRoot, filepath.FromSlash(rel))

	if !m.opts.Writer.Allowed(mediaPath) {
		slog.Warn("【监控生活事件】跳过网盘路径", "path", remotePath)
		return
	}

	pickcode := event.Pickcode
	if pickcode == "" {
		slog.Error("【监控生活事件】不存在 pickcode 值，无法生成 STRM 文件", "name", event.FileName)
		return
	}
	if !pan115.ValidPickcode(pickcode) {
		slog.Error("【监控生活事件】错误的 pickcode 值，无法生成 STRM 文件",
			"pickcode", pickcode, "name", event.FileName)
		return
	}

	url := strm.PickcodeURL(m.opts.ServerAddress, m.opts.APIToken, pickcode)
	target, err := m.opts.Writer.Write(mediaPath, url)
	if err != nil {
		slog.Error("【监控生活事件】写入失败", "path", mediaPath, "err", err)
		return
	}
	if err := m.opts.DB.PutStrm(&database.StrmRecord{
		Path:     target,
		Content:  url,
		Pickcode: pickcode,
	}); err != nil {
		slog.Warn("【监控生活事件】记录清单失败", "path", target, "err", err)
	}
	slog.Info("【监控生活事件】生成 STRM 文件成功", "path", target)
}

// Supervise 带冷却时间的重启包装
// 任务异常返回后等待 cooldown 再拉起，ctx 取消时退出
func Supervise(ctx context.Context, cooldown time.Duration, run func(context.Context) error) {
	for {
		err := run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			slog.Warn("【监控生活事件】监控异常退出，等待重启", "cooldown", cooldown, "err", err)
		} else {
			slog.Warn("【监控生活事件】监控提前退出，等待重启", "cooldown", cooldown)
		}
		select {
		case <-time.After(cooldown):
		case <-ctx.Done():
			return
		}
	}
}
