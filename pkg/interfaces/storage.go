package interfaces

import "time"

// Engine 持久化共享键值存储
//
// 所有上下文共享同一个 Engine。写入成功后，Engine 按写入顺序
// 通知所有前缀匹配的 Watch 回调（包括写入者自己的回调），
// 这是 StorageManager 观察存储变更的唯一来源。
//
// 线程安全：实现必须保证所有方法的线程安全性。
type Engine interface {
	// Get 获取指定键的值，键不存在时返回 ErrNotFound
	Get(key []byte) ([]byte, error)

	// Put 设置键值对
	Put(key, value []byte) error

	// PutWithTTL 设置带过期时间的键值对
	PutWithTTL(key, value []byte, ttl time.Duration) error

	// Delete 删除指定键（幂等）
	Delete(key []byte) error

	// Scan 按前缀遍历，回调返回 false 时停止
	Scan(prefix []byte, fn func(key, value []byte) bool) error

	// Watch 订阅前缀下的变更，返回取消函数
	Watch(prefix []byte, fn func(StoreChange)) (cancel func())

	// Close 关闭存储引擎，多次调用是安全的
	Close() error
}

// StoreChange 一次存储变更
type StoreChange struct {
	Key     []byte
	Value   []byte
	Deleted bool
}
