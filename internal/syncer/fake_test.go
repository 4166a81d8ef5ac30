package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"pan115strm/internal/database"
	"pan115strm/internal/pan115"
	"pan115strm/internal/strm"
)

// fakeAPI 按需替换单个方法的桩实现，未设置的方法直接报错
type fakeAPI struct {
	dirID        func(path string) (int64, error)
	iterFiles    func(cid int64, fn func(*pan115.File) error) error
	shareIter    func(shareCode, receiveCode string, cid int64, fn func(*pan115.ShareFile) error) error
	shareInfo    func(shareCode string) (string, error)
	shareSearch  func(shareCode, receiveCode, name string) (string, error)
	downURL      func(pickcode, userAgent, app string) (*pan115.DownURL, error)
	shareDownURL func(shareCode, receiveCode, fileID, app string) (*pan115.DownURL, error)
	lifeEvents   func(sinceSeq int64) ([]pan115.LifeEvent, error)
	dirPath      func(cid int64) (string, error)
}

var errFakeUnset = errors.New("桩方法未设置")

func (f *fakeAPI) DirID(_ context.Context, path string) (int64, error) {
	if f.dirID == nil {
		return 0, errFakeUnset
	}
	return f.dirID(path)
}

func (f *fakeAPI) IterFiles(_ context.Context, cid int64, fn func(*pan115.File) error) error {
	if f.iterFiles == nil {
		return errFakeUnset
	}
	return f.iterFiles(cid, fn)
}

func (f *fakeAPI) ShareIterFiles(_ context.Context, shareCode, receiveCode string, cid int64, fn func(*pan115.ShareFile) error) error {
	if f.shareIter == nil {
		return errFakeUnset
	}
	return f.shareIter(shareCode, receiveCode, cid, fn)
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

func (f *fakeAPI) LifeEvents(_ context.Context, sinceSeq int64) ([]pan115.LifeEvent, error) {
	if f.lifeEvents == nil {
		return nil, errFakeUnset
	}
	return f.lifeEvents(sinceSeq)
}

func (f *fakeAPI) DirPath(_ context.Context, cid int64) (string, error) {
	if f.dirPath == nil {
		return "", errFakeUnset
	}
	return f.dirPath(cid)
}

var _ pan115.API = (*fakeAPI)(nil)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "strm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func testWriter() *strm.Writer {
	return strm.NewWriter(strm.ParseMediaExts("mp4,mkv"))
}
