package pathmap

import (
	"strings"
)

// Rule 一条路径映射规则
type Rule struct {
	// LocalRoot 本地生成根目录
	LocalRoot string
	// RemoteRoot 网盘目录前缀
	RemoteRoot string
}

// Mapper 按配置顺序保存映射规则，取第一条前缀命中的规则
type Mapper struct {
	rules []Rule
}

// ParseRules 解析配置文本，一行一条 "本地路径#网盘路径"
// 空行忽略，缺少 "#" 的行静默跳过
func ParseRules(text string) *Mapper {
	m := &Mapper{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		local, remote, ok := strings.Cut(line, "#")
		if !ok {
			continue
		}
		local = strings.TrimRight(strings.TrimSpace(local), "/")
		remote = strings.TrimRight(strings.TrimSpace(remote), "/")
		if remote == "" {
			remote = "/"
		}
		m.rules = append(m.rules, Rule{LocalRoot: local, RemoteRoot: remote})
	}
	return m
}

// Rules 返回所有规则 (按配置顺序)
func (m *Mapper) Rules() []Rule {
	return m.rules
}

// Resolve 返回第一条网盘前缀命中 remotePath 的规则
// 未命中返回 ok=false，由调用方跳过该条目
func (m *Mapper) Resolve(remotePath string) (Rule, bool) {
	for _, r := range m.rules {
		if HasPathPrefix(remotePath, r.RemoteRoot) {
			return r, true
		}
	}
	return Rule{}, false
}

// HasPathPrefix 按路径段判断前缀，"/media" 不命中 "/media2"
func HasPathPrefix(full, prefix string) bool {
	fullParts := splitPath(full)
	prefixParts := splitPath(prefix)
	if len(prefixParts) > len(fullParts) {
		return false
	}
	for i, p := range prefixParts {
		if fullParts[i] != p {
			return false
		}
	}
	return true
}

// RelPath 去掉网盘前缀，返回以 "/" 分隔的相对路径 (不带前导 "/")
func RelPath(full, prefix string) string {
	fullParts := splitPath(full)
	prefixParts := splitPath(prefix)
	if len(prefixParts) > len(fullParts) {
		return ""
	}
	return strings.Join(fullParts[len(prefixParts):], "/")
}

func splitPath(p string) []string {
	var parts []string
	for _, s := range strings.Split(p, "/") {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return parts
}
