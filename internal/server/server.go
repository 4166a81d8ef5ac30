package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"pan115strm/internal/cache"
	"pan115strm/internal/pan115"
)

const (
	// respCacheTTL 相同请求的响应缓存窗口
	// 播放器发起重复 range 请求时不再反复打网盘接口
	respCacheTTL = 2 * time.Minute
	// respCacheSize 响应缓存容量上限
	respCacheSize = 128
)

// Options 302 跳转服务初始化选项
type Options struct {
	API pan115.API

	Listen   string
	APIToken string
	// App 默认下载通道，请求里的 app 参数优先
	App string
}

// Server 302 跳转 HTTP 服务
type Server struct {
	opts       *Options
	router     *chi.Mux
	respCache  *cache.Cache[*pan115.DownURL]
	httpServer *http.Server
}

// New 创建跳转服务并注册路由
func New(opts *Options) *Server {
	s := &Server{
		opts:      opts,
		router:    chi.NewRouter(),
		respCache: cache.New[*pan115.DownURL](respCacheSize, respCacheTTL),
	}
	s.router.Get("/redirect_url", s.handleRedirect)
	s.router.Post("/redirect_url", s.handleRedirect)
	return s
}

// Handler 返回路由 (测试用)
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 启动 HTTP 服务，阻塞直到 Shutdown 或出错
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:    s.opts.Listen,
		Handler: s.router,
	}
	slog.Info("【302跳转服务】服务启动", "listen", s.opts.Listen)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop 优雅停止 HTTP 服务
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}

// handleRedirect 把 pickcode 或分享坐标换成直链并发出 302
// 任何失败都返回可读的文本错误，绝不无声地跳转到坏地址
func (s *Server) handleRedirect(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	if query.Get("apikey") != s.opts.APIToken {
		s.fail(w, http.StatusUnauthorized, "无效的 apikey")
		return
	}

	app := query.Get("app")
	if app == "" {
		app = s.opts.App
	}

	var u *pan115.DownURL
	var err error
	if query.Get("share_code") != "" {
		u, err = s.resolveShare(r, query, app)
	} else {
		u, err = s.resolvePickcode(r, query, app)
	}
	if err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, pan115.ErrValidation):
			status = http.StatusBadRequest
		case errors.Is(err, pan115.ErrNotFound):
			status = http.StatusNotFound
		}
		slog.Error("【302跳转服务】获取 115 下载地址失败", "err", err)
		s.fail(w, status, fmt.Sprintf("获取 115 下载地址失败: %v", err))
		return
	}
	slog.Info("【302跳转服务】获取 115 下载地址成功", "url", u.URL)

	w.Header().Set("Location", u.URL)
	w.Header().Set("Content-Disposition",
		fmt.Sprintf(`attachment; filename="%s"`, url.QueryEscape(u.FileName)))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(http.StatusFound)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "redirecting",
		"url":    u.URL,
	})
}

// resolvePickcode pickcode 通道：形状校验在任何网络调用之前
func (s *Server) resolvePickcode(r *http.Request, query url.Values, app string) (*pan115.DownURL, error) {
	pickcode := query.Get("pickcode")
	if pickcode == "" {
		return nil, fmt.Errorf("%w: 缺少 pickcode 参数", pan115.ErrValidation)
	}
	if !pan115.ValidPickcode(pickcode) {
		return nil, fmt.Errorf("%w: 错误的 pickcode 值 %s", pan115.ErrValidation, pickcode)
	}

	userAgent := r.Header.Get("User-Agent")
	slog.Debug("【302跳转服务】获取到客户端UA", "ua", userAgent)

	key := "pc|" + pickcode + "|" + app + "|" + userAgent
	return s.respCache.GetOrCompute(key, func() (*pan115.DownURL, error) {
		return s.opts.API.DownURL(r.Context(), pickcode, userAgent, app)
	})
}

// resolveShare 分享通道：缺接收码先查，缺 id 用文件名搜
func (s *Server) resolveShare(r *http.Request, query url.Values, app string) (*pan115.DownURL, error) {
	shareCode := query.Get("share_code")
	receiveCode := query.Get("receive_code")
	fileID := query.Get("id")
	fileName := query.Get("file_name")

	if receiveCode != "" && len(receiveCode) != 4 {
		return nil, fmt.Errorf("%w: 错误的 receive_code 值 %s", pan115.ErrValidation, receiveCode)
	}

	ctx := r.Context()
	if receiveCode == "" {
		fresh, err := s.opts.API.ShareInfo(ctx, shareCode)
		if err != nil {
			return nil, err
		}
		receiveCode = fresh
	}
	if fileID == "" && fileName != "" {
		id, err := s.opts.API.ShareSearchID(ctx, shareCode, receiveCode, fileName)
		if err != nil {
			return nil, err
		}
		fileID = id
	}
	if fileID == "" {
		return nil, fmt.Errorf("%w: 请指定 id 或 file_name 参数: share_code=%s", pan115.ErrValidation, shareCode)
	}

	key := "sh|" + shareCode + "|" + receiveCode + "|" + fileID + "|" + app
	return s.respCache.GetOrCompute(key, func() (*pan115.DownURL, error) {
		return s.opts.API.ShareDownURL(ctx, shareCode, receiveCode, fileID, app)
	})
}

// fail 以纯文本返回失败信息，不泄漏内部堆栈
func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	w.Write([]byte(msg))
}
