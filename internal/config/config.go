package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMediaExts 默认媒体文件后缀
const DefaultMediaExts = "mp4,mkv,ts,iso,rmvb,avi,mov,mpeg,mpg,wmv,3gp,asf,m4v,flv,m2ts,tp,f4v"

// Config 对应 config.yaml 的根结构
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Pan     PanConfig     `yaml:"pan"`
	Sync    SyncConfig    `yaml:"sync"`
	Share   ShareConfig   `yaml:"share"`
	Monitor MonitorConfig `yaml:"monitor"`
	System  SystemConfig  `yaml:"system"`
}

// ServerConfig 302 跳转服务配置
type ServerConfig struct {
	// Listen HTTP 监听地址
	Listen string `yaml:"listen"`
	// Address 写入 STRM 文件的对外访问地址 (如 http://192.168.1.2:29876)
	Address string `yaml:"address"`
	// APIToken 共享密钥，STRM URL 中的 apikey 参数
	APIToken string `yaml:"api_token"`
}

// PanConfig 115 网盘访问配置
type PanConfig struct {
	// Cookies 账号会话凭据 (UID/CID/SEID)
	Cookies   string `yaml:"cookies"`
	UserAgent string `yaml:"user_agent"`
	// App 取下载链接使用的客户端通道，默认 android
	App string `yaml:"app"`
}

// SyncConfig 全量同步配置
type SyncConfig struct {
	// Paths 路径映射，一行一条 "本地路径#网盘路径"
	Paths string `yaml:"paths"`
	// Interval 定时全量同步间隔，为空则不定时执行
	Interval string `yaml:"interval"`
	// MediaExts 媒体后缀列表，半角或全角逗号分隔
	MediaExts string `yaml:"media_exts"`
	// RemoveOrphans 是否清理网盘中已不存在的 STRM 文件
	RemoveOrphans bool `yaml:"remove_orphans"`
	// RunOnStart 启动时先执行一次全量同步
	RunOnStart bool `yaml:"run_on_start"`

	// 解析后的 duration，不导出到 yaml
	IntervalDuration time.Duration `yaml:"-"`
}

// ShareConfig 分享同步配置
type ShareConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ShareCode   string `yaml:"share_code"`
	ReceiveCode string `yaml:"receive_code"`
	// PanPath 分享内要同步的子目录前缀
	PanPath string `yaml:"pan_path"`
	// LocalPath 本地生成目录
	LocalPath string `yaml:"local_path"`
}

// MonitorConfig 生活事件监控配置
type MonitorConfig struct {
	Enabled bool `yaml:"enabled"`
	// Paths 路径映射，一行一条 "本地路径#网盘路径"
	Paths string `yaml:"paths"`
	// Cooldown 事件轮询间隔
	Cooldown string `yaml:"cooldown"`
	// RestartCooldown 监控异常退出后重启等待时间
	RestartCooldown string `yaml:"restart_cooldown"`

	CooldownDuration        time.Duration `yaml:"-"`
	RestartCooldownDuration time.Duration `yaml:"-"`
}

// SystemConfig 系统配置
type SystemConfig struct {
	DBPath   string `yaml:"db_path"`
	LogLevel string `yaml:"log_level"`
	LogFile  string `yaml:"log_file"`
}

// LoadConfig 读取并解析配置文件
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("解析 YAML 格式错误: %w", err)
	}
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if c.Server.Listen == "" {
		c.Server.Listen = "0.0.0.0:29876"
	}
	if c.Server.Address == "" {
		return fmt.Errorf("缺少 server.address 配置")
	}
	c.Server.Address = strings.TrimRight(c.Server.Address, "/")
	if c.Server.APIToken == "" {
		return fmt.Errorf("缺少 server.api_token 配置")
	}
	if c.Pan.Cookies == "" {
		return fmt.Errorf("缺少 pan.cookies 配置")
	}
	if c.Pan.App == "" {
		c.Pan.App = "android"
	}
	if c.Sync.MediaExts == "" {
		c.Sync.MediaExts = DefaultMediaExts
	}
	if c.Sync.Interval != "" {
		d, err := time.ParseDuration(c.Sync.Interval)
		if err != nil {
			return fmt.Errorf("无效的同步间隔格式 (sync.interval): %v", err)
		}
		c.Sync.IntervalDuration = d
	}
	if c.Monitor.Cooldown == "" {
		c.Monitor.Cooldown = "10s"
	}
	d, err := time.ParseDuration(c.Monitor.Cooldown)
	if err != nil {
		return fmt.Errorf("无效的轮询间隔格式 (monitor.cooldown): %v", err)
	}
	c.Monitor.CooldownDuration = d

	if c.Monitor.RestartCooldown == "" {
		c.Monitor.RestartCooldown = "30s"
	}
	d, err = time.ParseDuration(c.Monitor.RestartCooldown)
	if err != nil {
		return fmt.Errorf("无效的重启等待格式 (monitor.restart_cooldown): %v", err)
	}
	c.Monitor.RestartCooldownDuration = d

	if c.Share.Enabled {
		if c.Share.ShareCode == "" {
			return fmt.Errorf("分享同步已启用但缺少 share.share_code 配置")
		}
		if c.Share.LocalPath == "" {
			return fmt.Errorf("分享同步已启用但缺少 share.local_path 配置")
		}
	}
	if c.System.DBPath == "" {
		c.System.DBPath = "data/pan115strm.db"
	}
	return nil
}
