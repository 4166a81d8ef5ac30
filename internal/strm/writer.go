package strm

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// ParseMediaExts 解析媒体后缀配置
// 半角/全角逗号均可分隔，输入可不带点，内部统一为 ".ext" 形式
func ParseMediaExts(s string) []string {
	s = strings.ReplaceAll(s, "，", ",")
	var exts []string
	for _, e := range strings.Split(s, ",") {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		exts = append(exts, e)
	}
	return exts
}

// Writer 生成 STRM 指针文件
type Writer struct {
	mediaExts map[string]struct{}
}

// NewWriter 创建 Writer，exts 为已规范化的 ".ext" 列表
func NewWriter(exts []string) *Writer {
	w := &Writer{mediaExts: make(map[string]struct{}, len(exts))}
	for _, e := range exts {
		w.mediaExts[e] = struct{}{}
	}
	return w
}

// Allowed 判断媒体文件后缀是否在允许列表内 (区分大小写)
func (w *Writer) Allowed(mediaPath string) bool {
	_, ok := w.mediaExts[filepath.Ext(mediaPath)]
	return ok
}

// StrmPath 把媒体文件的目标路径换为同名 .strm 路径
func StrmPath(mediaPath string) string {
	ext := filepath.Ext(mediaPath)
	return strings.TrimSuffix(mediaPath, ext) + ".strm"
}

// Write 写入 STRM 文件
// mediaPath 为镜像后的本地媒体路径 (带原始后缀)，url 为跳转地址
// 后缀不在允许列表内时跳过 (返回空路径，nil)；文件系统错误交由调用方计数
func (w *Writer) Write(mediaPath string, url string) (string, error) {
	if !w.Allowed(mediaPath) {
		slog.Warn("跳过网盘路径", "path", mediaPath)
		return "", nil
	}
	target := StrmPath(mediaPath)
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return "", fmt.Errorf("创建目录失败: %w", err)
	}
	// O_TRUNC 整体覆盖，重复写入幂等，最近一次写入生效
	if err := os.WriteFile(target, []byte(url), 0644); err != nil {
		return "", fmt.Errorf("写入 STRM 文件失败: %w", err)
	}
	return target, nil
}
