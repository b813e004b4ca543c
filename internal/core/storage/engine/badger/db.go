// Package badger 用 BadgerDB 实现共享存储引擎
//
// 所有上下文共享同一个 Engine，它扮演浏览器扩展的持久化存储：
//   - 每个容器一条 overlay 快照（qt/c/<container>）
//   - 短期存活的广播回退记录（qt/bc/...，依赖 badger TTL 过期）
//
// 提交成功后引擎同步调用前缀匹配的 Watch 回调，其它上下文正是
// 通过这条通知观察到存储变更。
//
//	db, err := badger.New(engine.InMemoryConfig())
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	cancel := db.Watch([]byte("qt/c/"), func(ch interfaces.StoreChange) { ... })
//	defer cancel()
package badger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/dep2p/go-quicktabs/internal/core/storage/engine"
	"github.com/dep2p/go-quicktabs/pkg/interfaces"
	"github.com/dep2p/go-quicktabs/pkg/lib/log"
)

var logger = log.Logger("storage/badger")

// Engine BadgerDB 共享存储
type Engine struct {
	db     *badger.DB
	cfg    engine.Config
	closed atomic.Bool

	watch watchList

	reads   atomic.Int64
	writes  atomic.Int64
	deletes atomic.Int64

	stopGC context.CancelFunc
	gcDone sync.WaitGroup
}

// New 打开引擎
func New(cfg *engine.Config) (*Engine, error) {
	if cfg == nil {
		return nil, engine.ErrInvalidConfig
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.PrepareDir(); err != nil {
		return nil, err
	}

	db, err := badger.Open(options(cfg))
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	logger.Debug("打开共享存储", "dir", cfg.Dir, "inMemory", cfg.InMemory)
	return &Engine{db: db, cfg: *cfg, stopGC: func() {}}, nil
}

func options(cfg *engine.Config) badger.Options {
	opts := badger.DefaultOptions(cfg.Dir).WithSyncWrites(cfg.SyncWrites)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	return opts.
		WithNumVersionsToKeep(1).
		WithMemTableSize(cfg.MemTableSize).
		WithValueLogFileSize(cfg.ValueLogFileSize).
		WithBlockCacheSize(cfg.BlockCacheSize).
		WithLogger(badgerLogger{})
}

// badgerLogger 把 badger 的日志接入 pkg/lib/log，Info 降为 Debug
type badgerLogger struct{}

func (badgerLogger) Errorf(format string, args ...any) {
	logger.Error(fmt.Sprintf(format, args...))
}

func (badgerLogger) Warningf(format string, args ...any) {
	logger.Warn(fmt.Sprintf(format, args...))
}

func (badgerLogger) Infof(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...))
}

func (badgerLogger) Debugf(format string, args ...any) {
	logger.Debug(fmt.Sprintf(format, args...))
}

// Start 启动值日志回收
func (e *Engine) Start() error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if e.cfg.InMemory || e.cfg.GCInterval <= 0 {
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.stopGC = cancel
	e.gcDone.Add(1)
	go func() {
		defer e.gcDone.Done()
		ticker := time.NewTicker(e.cfg.GCInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				e.collect()
			}
		}
	}()
	return nil
}

// collect 回收到没有可回收的值日志文件为止
func (e *Engine) collect() {
	n := 0
	for e.db.RunValueLogGC(e.cfg.GCDiscardRatio) == nil {
		n++
	}
	if n > 0 {
		logger.Debug("值日志回收完成", "files", n)
	}
}

// Close 关闭引擎，重复调用安全
func (e *Engine) Close() error {
	if e.closed.Swap(true) {
		return nil
	}
	e.stopGC()
	e.gcDone.Wait()
	e.watch.clear()
	return e.db.Close()
}

// ============================================================================
//                              读写
// ============================================================================

// Get 读取键值，不存在时返回 engine.ErrNotFound
func (e *Engine) Get(key []byte) ([]byte, error) {
	if err := e.check(key); err != nil {
		return nil, err
	}
	var value []byte
	err := e.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	e.reads.Add(1)
	if err != nil {
		return nil, translate(err)
	}
	return value, nil
}

// Put 写入
func (e *Engine) Put(key, value []byte) error {
	return e.set(key, value, 0)
}

// PutWithTTL 写入会过期的记录（badger TTL 以秒为粒度）
func (e *Engine) PutWithTTL(key, value []byte, ttl time.Duration) error {
	return e.set(key, value, ttl)
}

func (e *Engine) set(key, value []byte, ttl time.Duration) error {
	if err := e.check(key); err != nil {
		return err
	}
	entry := badger.NewEntry(key, value)
	if ttl > 0 {
		entry = entry.WithTTL(ttl)
	}
	if err := e.db.Update(func(txn *badger.Txn) error { return txn.SetEntry(entry) }); err != nil {
		return translate(err)
	}
	e.writes.Add(1)
	e.watch.notify(interfaces.StoreChange{Key: clone(key), Value: clone(value)})
	return nil
}

// Delete 删除，键不存在时也成功
func (e *Engine) Delete(key []byte) error {
	if err := e.check(key); err != nil {
		return err
	}
	if err := e.db.Update(func(txn *badger.Txn) error { return txn.Delete(key) }); err != nil {
		return translate(err)
	}
	e.deletes.Add(1)
	e.watch.notify(interfaces.StoreChange{Key: clone(key), Deleted: true})
	return nil
}

// Scan 在一个只读快照内按键序遍历前缀，fn 返回 false 时停止
func (e *Engine) Scan(prefix []byte, fn func(key, value []byte) bool) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	return translate(e.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 32
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			value, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			e.reads.Add(1)
			if !fn(item.KeyCopy(nil), value) {
				return nil
			}
		}
		return nil
	}))
}

// Watch 订阅前缀下的变更，取消函数可重复调用
func (e *Engine) Watch(prefix []byte, fn func(interfaces.StoreChange)) (cancel func()) {
	return e.watch.add(clone(prefix), fn)
}

// NewBatch 创建批量写入
func (e *Engine) NewBatch() engine.Batch {
	return &writeBatch{e: e}
}

// Stats 计数快照
func (e *Engine) Stats() engine.Stats {
	lsm, vlog := e.db.Size()
	return engine.Stats{
		Reads:     e.reads.Load(),
		Writes:    e.writes.Load(),
		Deletes:   e.deletes.Load(),
		Watchers:  e.watch.len(),
		LSMBytes:  lsm,
		VlogBytes: vlog,
	}
}

func (e *Engine) check(key []byte) error {
	if e.closed.Load() {
		return engine.ErrClosed
	}
	if len(key) == 0 {
		return engine.ErrEmptyKey
	}
	return nil
}

func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return engine.ErrNotFound
	case errors.Is(err, badger.ErrEmptyKey):
		return engine.ErrEmptyKey
	case errors.Is(err, badger.ErrTxnTooBig):
		return engine.ErrTooLarge
	case errors.Is(err, badger.ErrConflict):
		return engine.ErrConflict
	case errors.Is(err, badger.ErrDBClosed):
		return engine.ErrClosed
	default:
		return err
	}
}

func clone(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append([]byte(nil), b...)
}

var _ engine.InternalEngine = (*Engine)(nil)
