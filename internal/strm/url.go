package strm

import (
	"fmt"
	"net/url"
	"strings"
)

// PickcodeURL 构造 pickcode 形式的跳转地址
// <server>/redirect_url?apikey=<token>&pickcode=<p>
func PickcodeURL(serverAddress, apiToken, pickcode string) string {
	return fmt.Sprintf("%s/redirect_url?apikey=%s&pickcode=%s",
		strings.TrimRight(serverAddress, "/"), url.QueryEscape(apiToken), url.QueryEscape(pickcode))
}

// ShareURL 构造分享形式的跳转地址
// <server>/redirect_url?apikey=<token>&share_code=<c>&receive_code=<r>&id=<id>
func ShareURL(serverAddress, apiToken, shareCode, receiveCode, fileID string) string {
	return fmt.Sprintf("%s/redirect_url?apikey=%s&share_code=%s&receive_code=%s&id=%s",
		strings.TrimRight(serverAddress, "/"), url.QueryEscape(apiToken),
		url.QueryEscape(shareCode), url.QueryEscape(receiveCode), url.QueryEscape(fileID))
}
