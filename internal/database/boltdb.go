package database

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.etcd.io/bbolt"
)

const (
	// strmBucket 已生成 STRM 文件的清单
	strmBucket = "StrmFiles"
	// cursorBucket 生活事件游标
	cursorBucket = "LifeCursor"

	cursorKey = "last_seq"
)

// DB 封装 BoltDB 实例
type DB struct {
	conn *bbolt.DB
}

// Open 初始化并打开数据库，父目录不存在时自动创建
func Open(dbPath string) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("创建数据目录失败: %w", err)
		}
	}
	// Timeout 防止两个进程同时打开同一个数据库导致死锁
	db, err := bbolt.Open(dbPath, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("打开 BoltDB 失败: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range []string{strmBucket, cursorBucket} {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("创建 Bucket 失败: %w", err)
	}
	return &DB{conn: db}, nil
}

// Close 关闭数据库连接
func (d *DB) Close() error {
	return d.conn.Close()
}

// PutStrm 登记或更新一条 STRM 记录
func (d *DB) PutStrm(rec *StrmRecord) error {
	rec.SyncedAt = time.Now().Unix()
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("序列化失败: %w", err)
	}
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(strmBucket)).Put([]byte(rec.Path), data)
	})
}

// GetStrm 获取单条 STRM 记录，不存在返回 (nil, nil)
func (d *DB) GetStrm(path string) (*StrmRecord, error) {
	var rec *StrmRecord
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(strmBucket)).Get([]byte(path))
		if v == nil {
			return nil
		}
		rec = &StrmRecord{}
		return json.Unmarshal(v, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// DeleteStrm 删除一条 STRM 记录
func (d *DB) DeleteStrm(path string) error {
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(strmBucket)).Delete([]byte(path))
	})
}

// ListStrmUnder 列出某个本地根目录下登记过的全部 STRM 记录
// 全量同步的清理扫描用它构建"上一次生成"的集合
func (d *DB) ListStrmUnder(localRoot string) (map[string]*StrmRecord, error) {
	prefix := strings.TrimRight(localRoot, string(filepath.Separator)) + string(filepath.Separator)
	result := make(map[string]*StrmRecord)

	err := d.conn.View(func(tx *bbolt.Tx) error {
		c := tx.Bucket([]byte(strmBucket)).Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			var rec StrmRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("解析数据失败 key=%s: %w", string(k), err)
			}
			result[string(k)] = &rec
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// LifeCursor 读取生活事件游标，没有记录返回 0
func (d *DB) LifeCursor() (int64, error) {
	var seq int64
	err := d.conn.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(cursorBucket)).Get([]byte(cursorKey))
		if len(v) == 8 {
			seq = int64(binary.BigEndian.Uint64(v))
		}
		return nil
	})
	return seq, err
}

// SaveLifeCursor 保存生活事件游标
func (d *DB) SaveLifeCursor(seq int64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(seq))
	return d.conn.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(cursorBucket)).Put([]byte(cursorKey), buf)
	})
}
