package pan115

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	// WebAPIBase 网页版 API 地址
	WebAPIBase = "http://web.api.115.com"
	// ProAPIBase 客户端 API 地址 (取直链用)
	ProAPIBase = "http://proapi.115.com"
	// LifeAPIBase 生活事件 API 地址
	LifeAPIBase = "http://life.115.com"

	// listPageSize 目录列表分页大小
	listPageSize = 1000

	// errStaleReceiveCode 接收码已失效
	errStaleReceiveCode = 4100008
	// errSuffixUnsupported 搜索接口不支持 suffix 过滤
	errSuffixUnsupported = 20021
)

// Options 初始化参数
type Options struct {
	// Cookies 账号会话凭据 (UID/CID/SEID)
	Cookies   string
	UserAgent string

	// 以下仅测试时覆盖
	WebAPIBase  string
	ProAPIBase  string
	LifeAPIBase string
}

// Client 115 网盘 HTTP 客户端
type Client struct {
	opts       *Options
	httpClient *http.Client
}

var _ API = (*Client)(nil)

// NewClient 创建客户端
func NewClient(opts *Options) *Client {
	if opts.UserAgent == "" {
		opts.UserAgent = "Mozilla/5.0 115Browser/27.0.5.7"
	}
	if opts.WebAPIBase == "" {
		opts.WebAPIBase = WebAPIBase
	}
	if opts.ProAPIBase == "" {
		opts.ProAPIBase = ProAPIBase
	}
	if opts.LifeAPIBase == "" {
		opts.LifeAPIBase = LifeAPIBase
	}
	return &Client{
		opts: opts,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// request 通用请求封装，自动注入 Cookie 和 UA
// userAgent 非空时覆盖默认 UA (302 跳转要求与播放器一致)
func (c *Client) request(ctx context.Context, method, urlStr string, params, form url.Values, userAgent string) ([]byte, error) {
	if params != nil {
		urlStr = urlStr + "?" + params.Encode()
	}
	var body *strings.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	} else {
		body = strings.NewReader("")
	}

	req, err := http.NewRequestWithContext(ctx, method, urlStr, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Cookie", c.opts.Cookies)
	if userAgent != "" {
		req.Header.Set("User-Agent", userAgent)
	} else {
		req.Header.Set("User-Agent", c.opts.UserAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: http status %d", ErrAuth, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: http status %d", ErrUpstream, resp.StatusCode)
	}

	return io.ReadAll(resp.Body)
}

// DirID 通过网盘路径获取目录 ID
func (c *Client) DirID(ctx context.Context, path string) (int64, error) {
	params := url.Values{}
	params.Set("path", path)

	body, err := c.request(ctx, "GET", c.opts.WebAPIBase+"/files/getid", params, nil, "")
	if err != nil {
		return 0, err
	}

	var resp struct {
		apiResponse
		ID json.Number `json:"id"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0, fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
	}
	id, err := resp.ID.Int64()
	if err != nil || (id == 0 && path != "/") {
		// 接口对不存在的路径返回 id=0
		return 0, fmt.Errorf("%w: 目录不存在: %s", ErrNotFound, path)
	}
	return id, nil
}

// IterFiles 递归遍历目录下所有文件
// Path 为相对遍历起点的路径 (以 "/" 开头)，目录不回调
func (c *Client) IterFiles(ctx context.Context, cid int64, fn func(*File) error) error {
	return c.iterFiles(ctx, cid, "", fn)
}

func (c *Client) iterFiles(ctx context.Context, cid int64, prefix string, fn func(*File) error) error {
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := url.Values{}
		params.Set("aid", "1")
		params.Set("cid", strconv.FormatInt(cid, 10))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(listPageSize))
		params.Set("show_dir", "1")

		body, err := c.request(ctx, "GET", c.opts.WebAPIBase+"/files", params, nil, "")
		if err != nil {
			return err
		}

		var resp struct {
			apiResponse
			Count int    `json:"count"`
			Data  []File `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
		}

		for i := range resp.Data {
			item := &resp.Data[i]
			itemPath := prefix + "/" + item.Name
			if item.IsDir == 1 {
				childID, err := item.ID.Int64()
				if err != nil {
					continue
				}
				if err := c.iterFiles(ctx, childID, itemPath, fn); err != nil {
					return err
				}
				continue
			}
			item.Path = itemPath
			if err := fn(item); err != nil {
				return err
			}
		}

		offset += len(resp.Data)
		if len(resp.Data) == 0 || offset >= resp.Count {
			return nil
		}
	}
}

// ShareIterFiles 递归遍历分享内所有文件
// Path 为分享内路径 (以 "/" 开头)，目录不回调
func (c *Client) ShareIterFiles(ctx context.Context, shareCode, receiveCode string, cid int64, fn func(*ShareFile) error) error {
	return c.shareIterFiles(ctx, shareCode, receiveCode, cid, "", fn)
}

func (c *Client) shareIterFiles(ctx context.Context, shareCode, receiveCode string, cid int64, prefix string, fn func(*ShareFile) error) error {
	for offset := 0; ; {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := url.Values{}
		params.Set("share_code", shareCode)
		params.Set("receive_code", receiveCode)
		params.Set("cid", strconv.FormatInt(cid, 10))
		params.Set("offset", strconv.Itoa(offset))
		params.Set("limit", strconv.Itoa(listPageSize))

		body, err := c.request(ctx, "GET", c.opts.WebAPIBase+"/share/snap", params, nil, "")
		if err != nil {
			return err
		}

		var resp struct {
			apiResponse
			Data struct {
				Count int         `json:"count"`
				List  []ShareFile `json:"list"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
		}
		if !resp.IsSuccess() {
			return fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
		}

		for i := range resp.Data.List {
			item := &resp.Data.List[i]
			itemPath := prefix + "/" + item.Name
			if item.IsDir == 1 {
				childID, err := item.ID.Int64()
				if err != nil {
					continue
				}
				if err := c.shareIterFiles(ctx, shareCode, receiveCode, childID, itemPath, fn); err != nil {
					return err
				}
				continue
			}
			item.Path = itemPath
			if err := fn(item); err != nil {
				return err
			}
		}

		offset += len(resp.Data.List)
		if len(resp.Data.List) == 0 || offset >= resp.Data.Count {
			return nil
		}
	}
}

// ShareInfo 获取分享的接收码
func (c *Client) ShareInfo(ctx context.Context, shareCode string) (string, error) {
	params := url.Values{}
	params.Set("share_code", shareCode)

	body, err := c.request(ctx, "GET", c.opts.WebAPIBase+"/share/shareinfo", params, nil, "")
	if err != nil {
		return "", err
	}

	var resp struct {
		apiResponse
		Data struct {
			ReceiveCode string `json:"receive_code"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return "", fmt.Errorf("%w: 分享不存在: errno=%d %s", ErrNotFound, resp.Code(), resp.Msg)
	}
	return resp.Data.ReceiveCode, nil
}

// ShareSearchID 在分享内按文件名查找文件 ID
// 后缀为纯字母数字时先带 suffix 过滤搜索，接口报 20021 (不支持该过滤) 时
// 去掉 suffix 重试一次；首条结果必须与 name 完全一致，否则视为不存在
func (c *Client) ShareSearchID(ctx context.Context, shareCode, receiveCode, name string) (string, error) {
	params := url.Values{}
	params.Set("share_code", shareCode)
	params.Set("receive_code", receiveCode)
	params.Set("search_value", name)
	params.Set("cid", "0")
	params.Set("limit", "1")
	params.Set("type", "99")
	if i := strings.LastIndex(name, "."); i >= 0 {
		if suffix := name[i+1:]; suffix != "" && isAlnum(suffix) {
			params.Set("suffix", suffix)
		}
	}

	search := func() ([]byte, error) {
		return c.request(ctx, "GET", c.opts.WebAPIBase+"/share/search", params, nil, "")
	}

	body, err := search()
	if err != nil {
		return "", err
	}
	var resp struct {
		apiResponse
		Data struct {
			Count int `json:"count"`
			List  []struct {
				ID   json.Number `json:"fid"`
				Name string      `json:"n"`
			} `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}

	if resp.Code() == errSuffixUnsupported && params.Has("suffix") {
		params.Del("suffix")
		body, err = search()
		if err != nil {
			return "", err
		}
		resp.Data.List = nil
		if err := json.Unmarshal(body, &resp); err != nil {
			return "", fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
		}
	}

	if !resp.IsSuccess() || resp.Data.Count == 0 || len(resp.Data.List) == 0 {
		return "", fmt.Errorf("%w: 分享内未找到文件: %s", ErrNotFound, name)
	}
	if resp.Data.List[0].Name != name {
		// 搜索是模糊匹配，非精确命中视为不存在
		return "", fmt.Errorf("%w: 文件名不匹配: %s", ErrNotFound, name)
	}
	return resp.Data.List[0].ID.String(), nil
}

// DownURL 用 pickcode 换取直链
// 校验发生在任何网络调用之前；app 为 chrome 时走独立的请求/响应外壳
func (c *Client) DownURL(ctx context.Context, pickcode, userAgent, app string) (*DownURL, error) {
	pickcode = strings.ToLower(pickcode)
	if !ValidPickcode(pickcode) {
		return nil, fmt.Errorf("%w: 错误的 pickcode 值 %s", ErrValidation, pickcode)
	}
	if app == "chrome" {
		return c.downURLChrome(ctx, pickcode, userAgent)
	}
	if app == "" {
		app = "android"
	}

	form := url.Values{}
	form.Set("data", fmt.Sprintf(`{"pick_code":"%s"}`, pickcode))

	body, err := c.request(ctx, "POST", c.opts.ProAPIBase+"/"+app+"/2.0/ufile/download", nil, form, userAgent)
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiResponse
		Data struct {
			URL      string      `json:"url"`
			FileSize json.Number `json:"file_size"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
	}
	if resp.Data.URL == "" {
		return nil, fmt.Errorf("%w: pickcode=%s", ErrNotFound, pickcode)
	}
	size, _ := resp.Data.FileSize.Int64()
	return &DownURL{
		URL:      resp.Data.URL,
		FileName: fileNameFromURL(resp.Data.URL),
		FileSize: size,
	}, nil
}

// downURLChrome chrome 通道的响应以文件 ID 为键
func (c *Client) downURLChrome(ctx context.Context, pickcode, userAgent string) (*DownURL, error) {
	form := url.Values{}
	form.Set("data", fmt.Sprintf(`{"pickcode":"%s"}`, pickcode))

	body, err := c.request(ctx, "POST", c.opts.ProAPIBase+"/app/chrome/downurl", nil, form, userAgent)
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiResponse
		Data map[string]struct {
			FileName string      `json:"file_name"`
			FileSize json.Number `json:"file_size"`
			URL      *struct {
				URL string `json:"url"`
			} `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
	}
	for _, info := range resp.Data {
		if info.URL == nil || info.URL.URL == "" {
			return nil, fmt.Errorf("%w: pickcode=%s", ErrNotFound, pickcode)
		}
		size, _ := info.FileSize.Int64()
		name := info.FileName
		if name == "" {
			name = fileNameFromURL(info.URL.URL)
		}
		return &DownURL{URL: info.URL.URL, FileName: name, FileSize: size}, nil
	}
	return nil, fmt.Errorf("%w: pickcode=%s", ErrNotFound, pickcode)
}

// ShareDownURL 用分享坐标换取直链
// 接收码失效 (errno 4100008) 时重新拉取接收码并重试同一请求，仅一次
func (c *Client) ShareDownURL(ctx context.Context, shareCode, receiveCode, fileID, app string) (*DownURL, error) {
	retried := false
	for {
		body, err := c.shareDownURLRequest(ctx, shareCode, receiveCode, fileID, app)
		if err != nil {
			return nil, err
		}

		var resp struct {
			apiResponse
			Data struct {
				FileName string      `json:"fn"`
				FileSize json.Number `json:"fs"`
				URL      *struct {
					URL string `json:"url"`
				} `json:"url"`
			} `json:"data"`
		}
		if err := json.Unmarshal(body, &resp); err != nil {
			return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
		}
		if !resp.IsSuccess() {
			if resp.Code() == errStaleReceiveCode && !retried {
				fresh, err := c.ShareInfo(ctx, shareCode)
				if err != nil {
					return nil, err
				}
				receiveCode = fresh
				retried = true
				continue
			}
			return nil, fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
		}
		if resp.Data.URL == nil || resp.Data.URL.URL == "" {
			return nil, fmt.Errorf("%w: share_code=%s id=%s", ErrNotFound, shareCode, fileID)
		}
		size, _ := resp.Data.FileSize.Int64()
		name := resp.Data.FileName
		if name == "" {
			name = fileNameFromURL(resp.Data.URL.URL)
		}
		return &DownURL{URL: resp.Data.URL.URL, FileName: name, FileSize: size}, nil
	}
}

func (c *Client) shareDownURLRequest(ctx context.Context, shareCode, receiveCode, fileID, app string) ([]byte, error) {
	if app != "" {
		params := url.Values{}
		params.Set("share_code", shareCode)
		params.Set("receive_code", receiveCode)
		params.Set("file_id", fileID)
		return c.request(ctx, "GET", c.opts.ProAPIBase+"/"+app+"/2.0/share/downurl", params, nil, "")
	}
	payload, _ := json.Marshal(map[string]string{
		"share_code":   shareCode,
		"receive_code": receiveCode,
		"file_id":      fileID,
	})
	form := url.Values{}
	form.Set("data", string(payload))
	return c.request(ctx, "POST", c.opts.ProAPIBase+"/app/share/downurl", nil, form, "")
}

// LifeEvents 拉取 seq 之后的生活事件，按 seq 升序返回
func (c *Client) LifeEvents(ctx context.Context, sinceSeq int64) ([]LifeEvent, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(listPageSize))
	params.Set("last_seq", strconv.FormatInt(sinceSeq, 10))

	body, err := c.request(ctx, "GET", c.opts.LifeAPIBase+"/api/1.0/web/1.0/behavior_list", params, nil, "")
	if err != nil {
		return nil, err
	}

	var resp struct {
		apiResponse
		Data struct {
			List []LifeEvent `json:"list"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("%w: errno=%d %s", ErrUpstream, resp.Code(), resp.Msg)
	}

	events := make([]LifeEvent, 0, len(resp.Data.List))
	for _, e := range resp.Data.List {
		if e.Seq > sinceSeq {
			events = append(events, e)
		}
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Seq < events[j].Seq })
	return events, nil
}

// DirPath 通过目录 ID 反查网盘绝对路径
func (c *Client) DirPath(ctx context.Context, cid int64) (string, error) {
	params := url.Values{}
	params.Set("cid", strconv.FormatInt(cid, 10))

	body, err := c.request(ctx, "GET", c.opts.WebAPIBase+"/category/get", params, nil, "")
	if err != nil {
		return "", err
	}

	var resp struct {
		Paths []struct {
			FileID   json.Number `json:"file_id"`
			FileName string      `json:"file_name"`
		} `json:"paths"`
		FileName string `json:"file_name"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: 解析响应失败: %v", ErrUpstream, err)
	}
	if resp.FileName == "" && len(resp.Paths) == 0 {
		return "", fmt.Errorf("%w: 目录不存在: cid=%d", ErrNotFound, cid)
	}

	var sb strings.Builder
	for _, p := range resp.Paths {
		// 根目录节点 file_id=0，不计入路径
		if p.FileID.String() == "0" {
			continue
		}
		sb.WriteString("/")
		sb.WriteString(p.FileName)
	}
	sb.WriteString("/")
	sb.WriteString(resp.FileName)
	return sb.String(), nil
}

func isAlnum(s string) bool {
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'z':
		case c >= 'A' && c <= 'Z':
		default:
			return false
		}
	}
	return s != ""
}

// fileNameFromURL 从直链路径的最后一段恢复文件名
func fileNameFromURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	path := u.Path
	if i := strings.LastIndex(path, "/"); i >= 0 {
		path = path[i+1:]
	}
	if unescaped, err := url.PathUnescape(path); err == nil {
		return unescaped
	}
	return path
}
