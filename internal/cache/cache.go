// Package cache 提供带容量上限和过期时间的内存缓存
package cache

import (
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type entry[V any] struct {
	value   V
	expires time.Time
}

// Cache 有界 TTL 缓存
// 读取时惰性过期：过期条目按未命中处理，绝不返回过期数据
type Cache[V any] struct {
	capacity int
	ttl      time.Duration

	mu      sync.RWMutex
	entries map[string]entry[V]
	group   singleflight.Group
}

// New 创建缓存，capacity 为最大条目数，ttl 为条目存活时间
func New[V any](capacity int, ttl time.Duration) *Cache[V] {
	return &Cache[V]{
		capacity: capacity,
		ttl:      ttl,
		entries:  make(map[string]entry[V]),
	}
}

// Get 读取缓存，过期或不存在返回 ok=false
func (c *Cache[V]) Get(key string) (V, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expires) {
		var zero V
		return zero, false
	}
	return e.value, true
}

// Set 写入缓存，超出容量时淘汰最早过期的条目
func (c *Cache[V]) Set(key string, value V) {
	c.SetWithTTL(key, value, c.ttl)
}

// SetWithTTL 以指定存活时间写入缓存
func (c *Cache[V]) SetWithTTL(key string, value V, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists {
		for len(c.entries) >= c.capacity {
			if !c.evictSoonest() {
				break
			}
		}
	}
	c.entries[key] = entry[V]{value: value, expires: time.Now().Add(ttl)}
}

// GetOrCompute 命中直接返回，否则计算并写入
// 同一 key 的并发计算合并为一次 (singleflight)
func (c *Cache[V]) GetOrCompute(key string, compute func() (V, error)) (V, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			var zero V
			return zero, err
		}
		c.Set(key, v)
		return v, nil
	})
	if err != nil {
		var zero V
		return zero, err
	}
	return v.(V), nil
}

// Len 当前条目数 (含未清理的过期条目)
func (c *Cache[V]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictSoonest 淘汰最早过期的条目，持锁调用
func (c *Cache[V]) evictSoonest() bool {
	var victim string
	var soonest time.Time
	first := true
	for k, e := range c.entries {
		if first || e.expires.Before(soonest) {
			victim, soonest = k, e.expires
			first = false
		}
	}
	if first {
		return false
	}
	delete(c.entries, victim)
	return true
}
