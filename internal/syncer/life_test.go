package syncer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pan115strm/internal/pan115"
	"pan115strm/internal/pathmap"
	"pan115strm/internal/strm"
)

func newLifeMonitor(t *testing.T, api *fakeAPI, rules string) *LifeMonitor {
	t.Helper()
	return NewLifeMonitor(&LifeOptions{
		API:           api,
		DB:            openTestDB(t),
		Writer:        testWriter(),
		Mapper:        pathmap.ParseRules(rules),
		ServerAddress: testServer,
		APIToken:      testToken,
		Cooldown:      time.Millisecond,
	})
}

func TestLifeMonitorGeneratesFromEvents(t *testing.T) {
	local := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls atomic.Int32
	api := &fakeAPI{
		dirPath: func(cid int64) (string, error) {
			assert.Equal(t, int64(7), cid)
			return "/Media/Movies", nil
		},
		lifeEvents: func(sinceSeq int64) ([]pan115.LifeEvent, error) {
			if polls.Add(1) > 1 {
				cancel()
				return nil, nil
			}
			assert.Zero(t, sinceSeq)
			return []pan115.LifeEvent{
				{Type: pan115.EventUploadFile, Pickcode: "ecjq9ichcb40lzlva", FileName: "A.mkv", ParentID: "7", Seq: 1},
				// 浏览类事件不触发生成
				{Type: 3, Pickcode: "ecjq9ichcb40lzlvb", FileName: "B.mkv", ParentID: "7", Seq: 2},
				{Type: pan115.EventUploadFile, Pickcode: "ecjq9ichcb40lzlvc", FileName: "字幕.srt", ParentID: "7", Seq: 3},
			}, nil
		},
	}
	m := newLifeMonitor(t, api, local+"#/Media")

	require.NoError(t, m.Run(ctx))

	data, err := os.ReadFile(filepath.Join(local, "Movies", "A.strm"))
	require.NoError(t, err)
	assert.Equal(t, strm.PickcodeURL(testServer, testToken, "ecjq9ichcb40lzlva"), string(data))

	_, err = os.Stat(filepath.Join(local, "Movies", "B.strm"))
	assert.True(t, os.IsNotExist(err))

	// 游标推进到批次内最大 seq 并落库
	cursor, err := m.opts.DB.LifeCursor()
	require.NoError(t, err)
	assert.Equal(t, int64(3), cursor)
}

func TestLifeMonitorResumesFromCursor(t *testing.T) {
	local := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := &fakeAPI{
		lifeEvents: func(sinceSeq int64) ([]pan115.LifeEvent, error) {
			assert.Equal(t, int64(42), sinceSeq)
			cancel()
			return nil, nil
		},
	}
	m := newLifeMonitor(t, api, local+"#/Media")
	require.NoError(t, m.opts.DB.SaveLifeCursor(42))

	require.NoError(t, m.Run(ctx))
}

func TestLifeMonitorCachesDirPath(t *testing.T) {
	local := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var pathCalls atomic.Int32
	var polls atomic.Int32
	api := &fakeAPI{
		dirPath: func(int64) (string, error) {
			pathCalls.Add(1)
			return "/Media/Movies", nil
		},
		lifeEvents: func(int64) ([]pan115.LifeEvent, error) {
			if polls.Add(1) > 1 {
				cancel()
				return nil, nil
			}
			return []pan115.LifeEvent{
				{Type: pan115.EventUploadFile, Pickcode: "ecjq9ichcb40lzlva", FileName: "A.mkv", ParentID: "7", Seq: 1},
				{Type: pan115.EventMoveFile, Pickcode: "ecjq9ichcb40lzlvb", FileName: "B.mkv", ParentID: "7", Seq: 2},
			}, nil
		},
	}
	m := newLifeMonitor(t, api, local+"#/Media")

	require.NoError(t, m.Run(ctx))
	assert.Equal(t, int32(1), pathCalls.Load(), "同一父目录只反查一次")

	for _, name := range []string{"A.strm", "B.strm"} {
		_, err := os.Stat(filepath.Join(local, "Movies", name))
		require.NoError(t, err)
	}
}

func TestLifeMonitorEventOutsideMapping(t *testing.T) {
	local := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var polls atomic.Int32
	api := &fakeAPI{
		dirPath: func(int64) (string, error) { return "/私人文件", nil },
		lifeEvents: func(int64) ([]pan115.LifeEvent, error) {
			if polls.Add(1) > 1 {
				cancel()
				return nil, nil
			}
			return []pan115.LifeEvent{
				{Type: pan115.EventUploadFile, Pickcode: "ecjq9ichcb40lzlva", FileName: "A.mkv", ParentID: "7", Seq: 1},
			}, nil
		},
	}
	m := newLifeMonitor(t, api, local+"#/Media")

	require.NoError(t, m.Run(ctx))

	// 映射外的事件静默忽略，但游标照常推进
	entries, err := os.ReadDir(local)
	require.NoError(t, err)
	assert.Empty(t, entries)
	cursor, err := m.opts.DB.LifeCursor()
	require.NoError(t, err)
	assert.Equal(t, int64(1), cursor)
}

func TestLifeMonitorReturnsPollError(t *testing.T) {
	local := t.TempDir()
	pollErr := errors.New("接口限流")
	api := &fakeAPI{
		lifeEvents: func(int64) ([]pan115.LifeEvent, error) { return nil, pollErr },
	}
	m := newLifeMonitor(t, api, local+"#/Media")

	err := m.Run(context.Background())
	assert.ErrorIs(t, err, pollErr)
}

func TestLifeMonitorStopsOnCancel(t *testing.T) {
	local := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	m := newLifeMonitor(t, &fakeAPI{}, local+"#/Media")
	assert.NoError(t, m.Run(ctx), "收到停止信号属于干净退出")
}

func TestSuperviseRestartsUntilCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs int
	Supervise(ctx, time.Millisecond, func(context.Context) error {
		runs++
		if runs == 3 {
			cancel()
		}
		return errors.New("模拟崩溃")
	})
	assert.Equal(t, 3, runs)
}
