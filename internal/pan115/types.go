package pan115

import (
	"context"
	"encoding/json"
)

// apiResponse 通用响应外壳
// 部分接口用 errNo 而不是 errno 返回错误码，两者取第一个非零值
type apiResponse struct {
	State  bool   `json:"state"`
	ErrNo  int    `json:"errno"`
	ErrNoN int    `json:"errNo"`
	Msg    string `json:"error"`
}

// Code 返回第一个非零错误码
func (r *apiResponse) Code() int {
	if r.ErrNo != 0 {
		return r.ErrNo
	}
	return r.ErrNoN
}

// IsSuccess 判断请求是否成功
func (r *apiResponse) IsSuccess() bool {
	return r.State
}

// File 账号目录下的文件条目
// 注意：上游接口在不同调用里对同一概念返回过 pickcode 和 pick_code
// 两个字段名，两者互为别名，取值时优先 pickcode
type File struct {
	ID        json.Number `json:"file_id"`
	Name      string      `json:"file_name"`
	Size      int64       `json:"size"`
	IsDir     int         `json:"is_dir"`
	PickcodeA string      `json:"pickcode"`
	PickcodeB string      `json:"pick_code"`

	// Path 遍历过程中拼出的网盘绝对路径
	Path string `json:"-"`
}

// Pickcode 返回文件句柄，pickcode 缺失时回退 pick_code
func (f *File) Pickcode() string {
	if f.PickcodeA != "" {
		return f.PickcodeA
	}
	return f.PickcodeB
}

// ShareFile 分享目录下的文件条目，以 (share_code, receive_code, file_id) 寻址
type ShareFile struct {
	ID    json.Number `json:"id"`
	Name  string      `json:"name"`
	Size  int64       `json:"size"`
	IsDir int         `json:"is_dir"`

	// Path 分享内重建的路径 (以 "/" 开头)
	Path string `json:"-"`
}

// LifeEvent 生活事件 (上传/移动/接收)
type LifeEvent struct {
	Type     int         `json:"type"`
	Pickcode string      `json:"pick_code"`
	FileName string      `json:"file_name"`
	ParentID json.Number `json:"parent_id"`
	// UpdateTime 事件时间戳 (Unix 秒)
	UpdateTime int64 `json:"update_time"`
	// Seq 事件序号，单调递增
	Seq int64 `json:"seq"`
}

// 生活事件类型，仅以下四类触发 STRM 生成
const (
	EventUploadImage  = 1  // upload_image_file
	EventUploadFile   = 2  // upload_file
	EventMoveFile     = 6  // move_file
	EventReceiveFiles = 14 // receive_files
)

// Actionable 判断事件类型是否需要处理
func (e *LifeEvent) Actionable() bool {
	switch e.Type {
	case EventUploadImage, EventUploadFile, EventMoveFile, EventReceiveFiles:
		return true
	}
	return false
}

// DownURL 短时效的直链，携带签名参数，分钟级过期
type DownURL struct {
	URL      string
	FileName string
	FileSize int64
}

// API 网盘能力接口，由 *Client 实现，引擎与跳转服务按需消费
type API interface {
	// DirID 通过网盘路径获取目录 ID
	DirID(ctx context.Context, path string) (int64, error)
	// IterFiles 递归遍历目录下所有文件 (不含目录)，Path 已填充
	IterFiles(ctx context.Context, cid int64, fn func(*File) error) error
	// ShareIterFiles 递归遍历分享内所有文件，Path 已填充
	ShareIterFiles(ctx context.Context, shareCode, receiveCode string, cid int64, fn func(*ShareFile) error) error
	// ShareInfo 获取分享的接收码
	ShareInfo(ctx context.Context, shareCode string) (string, error)
	// ShareSearchID 在分享内按文件名查找文件 ID
	ShareSearchID(ctx context.Context, shareCode, receiveCode, name string) (string, error)
	// DownURL 用 pickcode 换取直链
	DownURL(ctx context.Context, pickcode, userAgent, app string) (*DownURL, error)
	// ShareDownURL 用分享坐标换取直链
	ShareDownURL(ctx context.Context, shareCode, receiveCode, fileID, app string) (*DownURL, error)
	// LifeEvents 拉取 seq 之后的生活事件，按 seq 升序返回
	LifeEvents(ctx context.Context, sinceSeq int64) ([]LifeEvent, error)
	// DirPath 通过目录 ID 反查网盘绝对路径
	DirPath(ctx context.Context, cid int64) (string, error)
}
