package pan115

import "errors"

// 错误分类，同步引擎据此决定单条跳过还是整体中止
var (
	// ErrNotFound 网盘对象不存在，单条跳过
	ErrNotFound = errors.New("对象不存在")
	// ErrValidation 参数形状不合法 (pickcode/receive_code)，单条跳过
	ErrValidation = errors.New("参数校验失败")
	// ErrAuth 凭据被拒绝，整个任务中止，不自动重试
	ErrAuth = errors.New("凭据校验失败")
	// ErrUpstream 网盘接口返回未归类的失败响应，单条跳过
	ErrUpstream = errors.New("网盘接口异常")
)

// ValidPickcode 校验 pickcode 形状：17 位字母数字
func ValidPickcode(pickcode string) bool {
	if len(pickcode) != 17 {
		return false
	}
	for _, c := range pickcode {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return true
}
