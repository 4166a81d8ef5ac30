package database

import "time"

// StrmRecord 一条已生成 STRM 文件的登记信息
// 以本地 STRM 路径为 Key，序列化为 JSON 存入数据库
type StrmRecord struct {
	// Path 本地 STRM 文件绝对路径 (冗余存一份方便反序列化)
	Path string `json:"path"`

	// Content 写入文件的跳转地址
	Content string `json:"content"`

	// Pickcode 文件句柄，分享生成的记录此字段为空
	Pickcode string `json:"pickcode"`

	// SyncedAt 最近一次写入时间 (Unix 秒)
	SyncedAt int64 `json:"synced_at"`
}

// SyncedAtTime 辅助方法：转为 Go Time 对象
func (r *StrmRecord) SyncedAtTime() time.Time {
	return time.Unix(r.SyncedAt, 0)
}
