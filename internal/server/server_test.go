package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pan115strm/internal/pan115"
)

// fakeAPI 跳转服务只消费直链换取与分享查询这几个方法
type fakeAPI struct {
	downURL      func(pickcode, userAgent, app string) (*pan115.DownURL, error)
	shareDownURL func(shareCode, receiveCode, fileID, app string) (*pan115.DownURL, error)
	shareInfo    func(shareCode string) (string, error)
	shareSearch  func(shareCode, receiveCode, name string) (string, error)
}

var errFakeUnset = errors.New("桩方法未设置")

func (f *fakeAPI) DownURL(_ context.Context, pickcode, userAgent, app string) (*pan115.DownURL, error) {
	if f.downURL == nil {
		return nil, errFakeUnset
	}
	return f.downURL(pickcode, userAgent, app)
}

func (f *fakeAPI) ShareDownURL(_ context.Context, shareCode, receiveCode, fileID, app string) (*pan115.DownURL, error) {
	if f.shareDownURL == nil {
		return nil, errFakeUnset
	}
	return f.shareDownURL(shareCode, receiveCode, fileID, app)
}

func (f *fakeAPI) ShareInfo(_ context.Context, shareCode string) (string, error) {
	if f.shareInfo == nil {
		return "", errFakeUnset
	}
	return f.shareInfo(shareCode)
}

func (f *fakeAPI) ShareSearchID(_ context.Context, shareCode, receiveCode, name string) (string, error) {
	if f.shareSearch == nil {
		return "", errFakeUnset
	}
	return f.shareSearch(shareCode, receiveCode, name)
}

func (f *fakeAPI) DirID(context.Context, string) (int64, error) { return 0, errFakeUnset }
func (f *fakeAPI) IterFiles(context.Context, int64, func(*pan115.File) error) error {
	return errFakeUnset
}
func (f *fakeAPI) ShareIterFiles(context.Context, string, string, int64, func(*pan115.ShareFile) error) error {
	return errFakeUnset
}
func (f *fakeAPI) LifeEvents(context.Context, int64) ([]pan115.LifeEvent, error) {
	return nil, errFakeUnset
}
func (f *fakeAPI) DirPath(context.Context, int64) (string, error) { return "", errFakeUnset }

var _ pan115.API = (*fakeAPI)(nil)

func newTestServer(api *fakeAPI) *Server {
	return New(&Options{API: api, APIToken: "tok"})
}

func doGet(s *Server, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("GET", target, nil)
	req.Header.Set("User-Agent", "TestPlayer/1.0")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRedirectPickcode(t *testing.T) {
	api := &fakeAPI{
		downURL: func(pickcode, userAgent, app string) (*pan115.DownURL, error) {
			assert.Equal(t, "ecjq9ichcb40lzlvx", pickcode)
			assert.Equal(t, "TestPlayer/1.0", userAgent)
			return &pan115.DownURL{URL: "https://cdn.example/A.mkv?sig=x", FileName: "A.mkv"}, nil
		},
	}
	rec := doGet(newTestServer(api), "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvx")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example/A.mkv?sig=x", rec.Header().Get("Location"))
	assert.Equal(t, `attachment; filename="A.mkv"`, rec.Header().Get("Content-Disposition"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{
		"status": "redirecting",
		"url":    "https://cdn.example/A.mkv?sig=x",
	}, body)
}

func TestRedirectRejectsBadAPIKey(t *testing.T) {
	api := &fakeAPI{
		downURL: func(string, string, string) (*pan115.DownURL, error) {
			t.Fatal("apikey 校验失败时不应请求网盘")
			return nil, nil
		},
	}
	rec := doGet(newTestServer(api), "/redirect_url?apikey=wrong&pickcode=ecjq9ichcb40lzlvx")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "无效的 apikey", rec.Body.String())
}

func TestRedirectRejectsBadPickcode(t *testing.T) {
	s := newTestServer(&fakeAPI{
		downURL: func(string, string, string) (*pan115.DownURL, error) {
			t.Fatal("形状校验失败时不应请求网盘")
			return nil, nil
		},
	})

	rec := doGet(s, "/redirect_url?apikey=tok&pickcode=bad!")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "获取 115 下载地址失败")

	rec = doGet(s, "/redirect_url?apikey=tok")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedirectNotFoundAndUpstreamStatus(t *testing.T) {
	s := newTestServer(&fakeAPI{
		downURL: func(pickcode, _, _ string) (*pan115.DownURL, error) {
			if pickcode == "ecjq9ichcb40lzlva" {
				return nil, pan115.ErrNotFound
			}
			return nil, pan115.ErrUpstream
		},
	})

	rec := doGet(s, "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlva")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doGet(s, "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvb")
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRedirectCachesResponse(t *testing.T) {
	var calls atomic.Int32
	s := newTestServer(&fakeAPI{
		downURL: func(string, string, string) (*pan115.DownURL, error) {
			calls.Add(1)
			return &pan115.DownURL{URL: "https://cdn.example/A.mkv", FileName: "A.mkv"}, nil
		},
	})

	for i := 0; i < 3; i++ {
		rec := doGet(s, "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvx")
		assert.Equal(t, http.StatusFound, rec.Code)
	}
	assert.Equal(t, int32(1), calls.Load(), "重复 range 请求命中缓存")

	// UA 不同则缓存键不同 (直链按 UA 签发)
	req := httptest.NewRequest("GET", "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvx", nil)
	req.Header.Set("User-Agent", "OtherPlayer/2.0")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, int32(2), calls.Load())
}

func TestRedirectShare(t *testing.T) {
	api := &fakeAPI{
		shareDownURL: func(shareCode, receiveCode, fileID, app string) (*pan115.DownURL, error) {
			assert.Equal(t, "sc123", shareCode)
			assert.Equal(t, "abcd", receiveCode)
			assert.Equal(t, "100200", fileID)
			return &pan115.DownURL{URL: "https://cdn.example/B.mkv", FileName: "B.mkv"}, nil
		},
	}
	rec := doGet(newTestServer(api), "/redirect_url?apikey=tok&share_code=sc123&receive_code=abcd&id=100200")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "https://cdn.example/B.mkv", rec.Header().Get("Location"))
}

func TestRedirectShareBadReceiveCode(t *testing.T) {
	rec := doGet(newTestServer(&fakeAPI{}),
		"/redirect_url?apikey=tok&share_code=sc123&receive_code=toolong&id=100200")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRedirectShareFetchesReceiveCode(t *testing.T) {
	var infoCalls int
	api := &fakeAPI{
		shareInfo: func(string) (string, error) {
			infoCalls++
			return "wxyz", nil
		},
		shareDownURL: func(_, receiveCode, _, _ string) (*pan115.DownURL, error) {
			assert.Equal(t, "wxyz", receiveCode)
			return &pan115.DownURL{URL: "https://cdn.example/B.mkv", FileName: "B.mkv"}, nil
		},
	}
	rec := doGet(newTestServer(api), "/redirect_url?apikey=tok&share_code=sc123&id=100200")

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, 1, infoCalls)
}

func TestRedirectShareSearchByFileName(t *testing.T) {
	api := &fakeAPI{
		shareSearch: func(_, _ string, name string) (string, error) {
			assert.Equal(t, "B.mkv", name)
			return "100200", nil
		},
		shareDownURL: func(_, _, fileID, _ string) (*pan115.DownURL, error) {
			assert.Equal(t, "100200", fileID)
			return &pan115.DownURL{URL: "https://cdn.example/B.mkv", FileName: "B.mkv"}, nil
		},
	}
	rec := doGet(newTestServer(api),
		"/redirect_url?apikey=tok&share_code=sc123&receive_code=abcd&file_name=B.mkv")
	assert.Equal(t, http.StatusFound, rec.Code)
}

func TestRedirectShareMissingIDAndName(t *testing.T) {
	rec := doGet(newTestServer(&fakeAPI{}),
		"/redirect_url?apikey=tok&share_code=sc123&receive_code=abcd")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "id 或 file_name")
}

func TestRedirectFileNameEscaped(t *testing.T) {
	api := &fakeAPI{
		downURL: func(string, string, string) (*pan115.DownURL, error) {
			return &pan115.DownURL{URL: "https://cdn.example/x", FileName: "电影 A.mkv"}, nil
		},
	}
	rec := doGet(newTestServer(api), "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvx")

	// 非 ASCII 文件名以 URL 转义形式进响应头
	cd := rec.Header().Get("Content-Disposition")
	assert.NotContains(t, cd, "电影")
	assert.Contains(t, cd, ".mkv")
}

func TestRedirectAppForwarded(t *testing.T) {
	var gotApp string
	api := &fakeAPI{
		downURL: func(_, _, app string) (*pan115.DownURL, error) {
			gotApp = app
			return &pan115.DownURL{URL: "https://cdn.example/x", FileName: "A.mkv"}, nil
		},
	}
	s := New(&Options{API: api, APIToken: "tok", App: "android"})

	doGet(s, "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvx")
	assert.Equal(t, "android", gotApp, "缺省取配置的下载通道")

	doGet(s, "/redirect_url?apikey=tok&pickcode=ecjq9ichcb40lzlvy&app=chrome")
	assert.Equal(t, "chrome", gotApp, "请求参数优先")
}
