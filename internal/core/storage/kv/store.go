// Package kv 在存储引擎之上划分键空间
//
// 共享存储里有两类记录，各占一个命名空间：
//
//   - qt/c/<containerId>            容器的 overlay 快照
//   - qt/bc/<containerId>-<ts>-<n>  广播回退记录（带 TTL）
//
// Store 负责拼接与剥离命名空间前缀，调用方只看到容器内的相对键。
package kv

import (
	"time"

	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/pkg/interfaces"
)

// Store 一个命名空间
type Store struct {
	engine engine.InternalEngine
	ns     []byte
}

// New 创建命名空间
func New(eng engine.InternalEngine, ns []byte) *Store {
	return &Store{engine: eng, ns: ns}
}

func (s *Store) full(key []byte) []byte {
	out := make([]byte, 0, len(s.ns)+len(key))
	return append(append(out, s.ns...), key...)
}

func (s *Store) rel(key []byte) []byte {
	if len(key) < len(s.ns) {
		return key
	}
	return key[len(s.ns):]
}

// Get 读取记录，不存在时返回 engine.ErrNotFound
func (s *Store) Get(key []byte) ([]byte, error) {
	return s.engine.Get(s.full(key))
}

// Put 写入记录
func (s *Store) Put(key, value []byte) error {
	return s.engine.Put(s.full(key), value)
}

// PutWithTTL 写入会过期的记录
func (s *Store) PutWithTTL(key, value []byte, ttl time.Duration) error {
	return s.engine.PutWithTTL(s.full(key), value, ttl)
}

// Scan 按键序遍历命名空间，fn 返回 false 时停止
func (s *Store) Scan(fn func(key, value []byte) bool) error {
	return s.engine.Scan(s.ns, func(key, value []byte) bool {
		return fn(s.rel(key), value)
	})
}

// Keys 返回命名空间内全部键的副本
func (s *Store) Keys() ([][]byte, error) {
	var keys [][]byte
	err := s.Scan(func(key, _ []byte) bool {
		keys = append(keys, append([]byte(nil), key...))
		return true
	})
	return keys, err
}

// DeleteKeys 在一个批次内删除多条记录
func (s *Store) DeleteKeys(keys [][]byte) error {
	if len(keys) == 0 {
		return nil
	}
	batch := s.engine.NewBatch()
	for _, k := range keys {
		batch.Delete(s.full(k))
	}
	return batch.Write()
}

// Watch 订阅命名空间内的变更，回调收到相对键
//
// 回调在写入方的 goroutine 中同步执行。
func (s *Store) Watch(fn func(interfaces.StoreChange)) (cancel func()) {
	return s.engine.Watch(s.ns, func(ch interfaces.StoreChange) {
		ch.Key = s.rel(ch.Key)
		fn(ch)
	})
}
